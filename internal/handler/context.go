package handler

import (
	"github.com/l1jgo/ghostreg/internal/collection"
	"github.com/l1jgo/ghostreg/internal/core/event"
	"github.com/l1jgo/ghostreg/internal/ghost"
	"github.com/l1jgo/ghostreg/internal/net"
	"github.com/l1jgo/ghostreg/internal/net/packet"
	"go.uber.org/zap"
)

// Deps holds shared dependencies injected into all packet handlers.
type Deps struct {
	Role            ghost.Role
	NodeName        string
	ProtocolVersion int32
	Loop            *collection.Loop
	Bus             *event.Bus
	// Client is set on the client only.
	Client *net.ClientPeers
	Log    *zap.Logger
}

// RegisterAll registers the handlers of deps.Role into the registry.
func RegisterAll(reg *packet.Registry, deps *Deps) {
	anyState := []packet.SessionState{packet.StateHandshake, packet.StateSynced}

	reg.Register(packet.S_OPCODE_DISCONNECT, anyState,
		func(sess any, r *packet.Reader) {
			HandleDisconnect(sess.(*net.Session), r, deps)
		},
	)

	if deps.Role == ghost.RoleServer {
		reg.Register(packet.C_OPCODE_VERSION,
			[]packet.SessionState{packet.StateHandshake},
			func(sess any, r *packet.Reader) {
				HandleVersion(sess.(*net.Session), r, deps)
			},
		)
		reg.Register(packet.C_OPCODE_GHOST_ACK,
			[]packet.SessionState{packet.StateSynced},
			func(sess any, r *packet.Reader) {
				HandleGhostAck(sess.(*net.Session), r, deps)
			},
		)
		return
	}

	reg.Register(packet.S_OPCODE_VERSION,
		[]packet.SessionState{packet.StateHandshake},
		func(sess any, r *packet.Reader) {
			HandleServerVersion(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.S_OPCODE_GHOST_LIST,
		[]packet.SessionState{packet.StateSynced},
		func(sess any, r *packet.Reader) {
			HandleGhostList(sess.(*net.Session), r, deps)
		},
	)
	reg.Register(packet.S_OPCODE_LIST_SYNC,
		[]packet.SessionState{packet.StateSynced},
		func(sess any, r *packet.Reader) {
			HandleListSync(sess.(*net.Session), r, deps)
		},
	)
}
