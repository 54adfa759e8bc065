package collection

import (
	"github.com/l1jgo/ghostreg/internal/core/handle"
	"github.com/l1jgo/ghostreg/internal/ghost"
	"github.com/l1jgo/ghostreg/internal/schema"
)

// EntryView is a copy of one registry slot.
type EntryView struct {
	Index        int
	Type         ghost.Type
	Name         string
	State        BindingState
	Template     handle.Handle
	Announced    bool
	ExpectedHash uint64
	Compiles     int
	// Schema is nil until activation. Active schemas are immutable.
	Schema *schema.Schema
}

// View is an immutable copy of the collection published after every tick
// for readers on other goroutines.
type View struct {
	Tick                 uint64
	State                State
	Role                 ghost.Role
	Entries              []EntryView
	Activated            int
	QueueLen             int
	FieldCount           int
	GhostNames           []string
	PredictionErrorNames []string
	PredictionErrorSlots int
}

// Lookup finds the slot of t.
func (v *View) Lookup(t ghost.Type) (EntryView, bool) {
	for _, e := range v.Entries {
		if e.Type == t {
			return e, true
		}
	}
	return EntryView{}, false
}

// Pending counts slots awaiting a remote assignment.
func (v *View) Pending() int {
	n := 0
	for _, e := range v.Entries {
		if e.State == PendingRemoteAssignment {
			n++
		}
	}
	return n
}

func buildView(tick uint64, state State, r *Registry, n *Names) *View {
	v := &View{
		Tick:                 tick,
		State:                state,
		Role:                 r.Role(),
		Entries:              make([]EntryView, r.Len()),
		Activated:            r.Activated(),
		QueueLen:             r.QueueLen(),
		FieldCount:           len(r.fields),
		GhostNames:           append([]string(nil), n.ghosts...),
		PredictionErrorNames: append([]string(nil), n.errors...),
		PredictionErrorSlots: n.errorSlots,
	}
	for i := range v.Entries {
		e := r.At(i)
		v.Entries[i] = EntryView{
			Index:        e.Index,
			Type:         e.Type,
			Name:         e.Name,
			State:        e.State,
			Template:     e.Template,
			Announced:    e.Announced,
			ExpectedHash: e.ExpectedHash,
			Compiles:     e.Compiles,
			Schema:       e.Schema,
		}
	}
	return v
}
