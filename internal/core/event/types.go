package event

import (
	"github.com/l1jgo/ghostreg/internal/core/handle"
	"github.com/l1jgo/ghostreg/internal/ghost"
)

// GhostTypeActivated is emitted when a schema becomes visible to the wire
// layer. Indices arrive in increasing order.
type GhostTypeActivated struct {
	Index    int
	Type     ghost.Type
	Name     string
	TypeHash uint64
}

// GhostTypeRebound is emitted when a slot moves to another template
// instance of the same ghost type.
type GhostTypeRebound struct {
	Index    int
	Type     ghost.Type
	Template handle.Handle
}

// SchemaFault is emitted once per fatal fault, before the disconnects.
type SchemaFault struct {
	Index    int
	Type     ghost.Type
	Name     string
	Expected uint64
	Got      uint64
	Reason   string
}

// CollectionReset is emitted when the session is left and every binding
// was dropped.
type CollectionReset struct{}

// PeerJoined and PeerLeft track sessions on the transport.
type PeerJoined struct {
	SessionID uint64
	Addr      string
}

type PeerLeft struct {
	SessionID uint64
}
