package ghost

import (
	"fmt"
	"strings"
)

// SendMask selects which client kinds receive a field.
type SendMask uint8

const (
	SendNone             SendMask = 0
	SendInterpolatedOnly SendMask = 1 << 0
	SendPredictedOnly    SendMask = 1 << 1
	SendAll                       = SendInterpolatedOnly | SendPredictedOnly
)

func (m SendMask) String() string {
	switch m {
	case SendNone:
		return "none"
	case SendInterpolatedOnly:
		return "interpolated"
	case SendPredictedOnly:
		return "predicted"
	case SendAll:
		return "all"
	default:
		return fmt.Sprintf("SendMask(%d)", uint8(m))
	}
}

// ParseSendMask accepts the names String produces.
func ParseSendMask(s string) (SendMask, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "all":
		return SendAll, nil
	case "none":
		return SendNone, nil
	case "interpolated", "interpolated_only":
		return SendInterpolatedOnly, nil
	case "predicted", "predicted_only":
		return SendPredictedOnly, nil
	}
	return SendNone, fmt.Errorf("unknown send mask %q", s)
}

func (m *SendMask) UnmarshalText(b []byte) error {
	v, err := ParseSendMask(string(b))
	if err != nil {
		return err
	}
	*m = v
	return nil
}

func (m SendMask) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// SendToOwner restricts a field by ownership of the receiving connection.
type SendToOwner uint8

const (
	SendToAll SendToOwner = iota
	SendToOwnerOnly
	SendToNonOwnerOnly
)

func (o SendToOwner) String() string {
	switch o {
	case SendToAll:
		return "all"
	case SendToOwnerOnly:
		return "owner"
	case SendToNonOwnerOnly:
		return "non_owner"
	default:
		return fmt.Sprintf("SendToOwner(%d)", uint8(o))
	}
}

func (o *SendToOwner) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "", "all":
		*o = SendToAll
	case "owner", "owner_only":
		*o = SendToOwnerOnly
	case "non_owner", "non_owner_only":
		*o = SendToNonOwnerOnly
	default:
		return fmt.Errorf("unknown send_to_owner %q", string(b))
	}
	return nil
}

func (o SendToOwner) MarshalText() ([]byte, error) { return []byte(o.String()), nil }

// Mode is the default simulation mode of a ghost. ModeOwnerPredicted mixes
// both: predicted for the owning connection, interpolated for everyone else.
type Mode uint8

const (
	ModeInterpolated Mode = iota
	ModePredicted
	ModeOwnerPredicted
)

func (m Mode) String() string {
	switch m {
	case ModeInterpolated:
		return "interpolated"
	case ModePredicted:
		return "predicted"
	case ModeOwnerPredicted:
		return "owner_predicted"
	default:
		return fmt.Sprintf("Mode(%d)", uint8(m))
	}
}

func (m *Mode) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "", "interpolated":
		*m = ModeInterpolated
	case "predicted":
		*m = ModePredicted
	case "owner_predicted", "both":
		*m = ModeOwnerPredicted
	default:
		return fmt.Errorf("unknown ghost mode %q", string(b))
	}
	return nil
}

func (m Mode) MarshalText() ([]byte, error) { return []byte(m.String()), nil }

// SupportedModes limits which client kinds a ghost can ever be simulated as.
type SupportedModes uint8

const (
	SupportAll SupportedModes = iota
	SupportInterpolatedOnly
	SupportPredictedOnly
)

func (s SupportedModes) String() string {
	switch s {
	case SupportAll:
		return "all"
	case SupportInterpolatedOnly:
		return "interpolated"
	case SupportPredictedOnly:
		return "predicted"
	default:
		return fmt.Sprintf("SupportedModes(%d)", uint8(s))
	}
}

// Allows reports whether a ghost restricted to s may default to m.
func (s SupportedModes) Allows(m Mode) bool {
	switch s {
	case SupportInterpolatedOnly:
		return m == ModeInterpolated
	case SupportPredictedOnly:
		return m == ModePredicted
	}
	return true
}

func (s *SupportedModes) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "", "all", "both":
		*s = SupportAll
	case "interpolated":
		*s = SupportInterpolatedOnly
	case "predicted":
		*s = SupportPredictedOnly
	default:
		return fmt.Errorf("unknown supported modes %q", string(b))
	}
	return nil
}

func (s SupportedModes) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// PrefabType says on which worlds a field survives runtime stripping. It
// never changes the snapshot layout: both peers lay out the server list.
type PrefabType uint8

const (
	PrefabAll PrefabType = iota
	PrefabServer
	PrefabClient
	PrefabInterpolatedClient
	PrefabPredictedClient
)

func (p PrefabType) String() string {
	switch p {
	case PrefabAll:
		return "all"
	case PrefabServer:
		return "server"
	case PrefabClient:
		return "client"
	case PrefabInterpolatedClient:
		return "interpolated_client"
	case PrefabPredictedClient:
		return "predicted_client"
	default:
		return fmt.Sprintf("PrefabType(%d)", uint8(p))
	}
}

func (p *PrefabType) UnmarshalText(b []byte) error {
	switch strings.ToLower(strings.TrimSpace(string(b))) {
	case "", "all":
		*p = PrefabAll
	case "server":
		*p = PrefabServer
	case "client":
		*p = PrefabClient
	case "interpolated_client":
		*p = PrefabInterpolatedClient
	case "predicted_client":
		*p = PrefabPredictedClient
	default:
		return fmt.Errorf("unknown prefab type %q", string(b))
	}
	return nil
}

func (p PrefabType) MarshalText() ([]byte, error) { return []byte(p.String()), nil }

// Role is which side of the replication session this process plays.
type Role uint8

const (
	RoleServer Role = iota
	RoleClient
)

func (r Role) String() string {
	if r == RoleClient {
		return "client"
	}
	return "server"
}

// ParseRole accepts "server" or "client".
func ParseRole(s string) (Role, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "server":
		return RoleServer, nil
	case "client":
		return RoleClient, nil
	}
	return RoleServer, fmt.Errorf("unknown role %q", s)
}

// KeepsOn reports whether a field of prefab type p survives stripping on a
// world of role r simulating ghosts as mode m.
func (p PrefabType) KeepsOn(r Role, m Mode) bool {
	switch p {
	case PrefabAll:
		return true
	case PrefabServer:
		return r == RoleServer
	case PrefabClient:
		return r == RoleClient
	case PrefabInterpolatedClient:
		return r == RoleClient && m == ModeInterpolated
	case PrefabPredictedClient:
		return r == RoleClient && m != ModeInterpolated
	}
	return true
}
