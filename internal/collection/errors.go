package collection

import (
	"errors"
	"fmt"

	"github.com/l1jgo/ghostreg/internal/ghost"
)

var (
	// ErrHashMismatch: the local schema hash differs from the one the
	// remote peer announced, or could not be computed.
	ErrHashMismatch = errors.New("ghost type hash mismatch")
	// ErrUnresolvedType: an announced ghost type has no local template and
	// the client is no longer loading content.
	ErrUnresolvedType = errors.New("announced ghost type has no template")
	// ErrSchemaDrift: rebinding to another template of the same type
	// produced a different layout than the active one.
	ErrSchemaDrift = errors.New("ghost schema changed on rebinding")
	// ErrAnnouncementOrder: a ghost list entry skipped an index or
	// contradicts an earlier one.
	ErrAnnouncementOrder = errors.New("ghost list out of order")
)

// Fault is a session-ending schema problem for one registry slot.
type Fault struct {
	Index    int
	Type     ghost.Type
	Name     string
	Expected uint64
	Got      uint64
	Err      error
}

func (f *Fault) Error() string {
	return fmt.Sprintf("ghost %q (%s) slot %d: %v (expected %#x, got %#x)",
		f.Name, f.Type, f.Index, f.Err, f.Expected, f.Got)
}

func (f *Fault) Unwrap() error { return f.Err }
