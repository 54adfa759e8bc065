package ghost

import "fmt"

// DisconnectReason is carried in the disconnect notice so the far side can
// log why the session ended.
type DisconnectReason uint8

const (
	ReasonNone DisconnectReason = iota
	ReasonClosed
	ReasonTimeout
	// ReasonBadProtocolVersion: handshake version or ghost schema mismatch.
	ReasonBadProtocolVersion
	ReasonQueueFull
)

func (r DisconnectReason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonClosed:
		return "closed"
	case ReasonTimeout:
		return "timeout"
	case ReasonBadProtocolVersion:
		return "bad_protocol_version"
	case ReasonQueueFull:
		return "queue_full"
	}
	return fmt.Sprintf("DisconnectReason(%d)", uint8(r))
}
