package collection

import (
	"fmt"
	"sort"

	"github.com/l1jgo/ghostreg/internal/core/handle"
	"github.com/l1jgo/ghostreg/internal/ghost"
	"github.com/l1jgo/ghostreg/internal/schema"
	"github.com/l1jgo/ghostreg/internal/template"
	"go.uber.org/zap"
)

// BindingState is where a registry slot stands with respect to templates.
type BindingState uint8

const (
	Unbound BindingState = iota
	PendingRemoteAssignment
	Bound
)

func (s BindingState) String() string {
	switch s {
	case Unbound:
		return "unbound"
	case PendingRemoteAssignment:
		return "pending_remote_assignment"
	case Bound:
		return "bound"
	}
	return fmt.Sprintf("BindingState(%d)", uint8(s))
}

// BindingResult reports what a resolve call did.
type BindingResult uint8

const (
	// NoEntry: the type has no registry slot.
	NoEntry BindingResult = iota
	// Unchanged: already bound to a live candidate; nothing happened.
	Unchanged
	// NewlyBound: a slot without template got one.
	NewlyBound
	// Rebound: an active slot moved to another template; a recompile is queued.
	Rebound
	// Unresolved: no candidate is available.
	Unresolved
)

func (r BindingResult) String() string {
	switch r {
	case NoEntry:
		return "no_entry"
	case Unchanged:
		return "unchanged"
	case NewlyBound:
		return "bound"
	case Rebound:
		return "rebound"
	case Unresolved:
		return "unresolved"
	}
	return fmt.Sprintf("BindingResult(%d)", uint8(r))
}

// Entry is one registry slot. Slots are never removed before a reset. Index
// is stable once the slot is active; a server slot that has not been
// activated yet may move down when an earlier slot loses its template.
type Entry struct {
	Index    int
	Type     ghost.Type
	Name     string
	State    BindingState
	Template handle.Handle
	// Schema is the active schema, nil until the slot is activated.
	Schema *schema.Schema

	// Client side: set from the server's ghost list.
	Announced    bool
	ExpectedHash uint64
	Loading      bool

	Compiles int

	meta   *template.Metadata
	queued bool
}

// Active reports whether the slot's schema is visible to the wire layer.
func (e *Entry) Active() bool { return e.Schema != nil }

// Announcement is one ghost list entry received from the server.
type Announcement struct {
	Index int
	Type  ghost.Type
	Hash  uint64
	Name  string
}

type candidate struct {
	ordinal uint64
	meta    *template.Metadata
}

// Registry maps ghost types to slots, bindings and schemas. It is owned by
// the collection loop and only touched from the tick goroutine.
type Registry struct {
	role     ghost.Role
	compiler *schema.Compiler
	log      *zap.Logger

	entries    []*Entry
	byType     map[ghost.Type]int
	candidates map[ghost.Type]map[handle.Handle]candidate
	pending    map[ghost.Type]int

	// queue holds slots waiting for a compile, in arrival order. Slots
	// [0, activated) are active; a slot is moved to index activated before
	// its first compile, so the field table stays append-only.
	queue     []*Entry
	activated int
	fields    []schema.Field
}

func NewRegistry(role ghost.Role, compiler *schema.Compiler, log *zap.Logger) *Registry {
	r := &Registry{role: role, compiler: compiler, log: log}
	r.Reset()
	return r
}

// Role returns the side this registry serves.
func (r *Registry) Role() ghost.Role { return r.role }

// Reset drops every slot, binding, candidate and queued compile.
func (r *Registry) Reset() {
	r.entries = nil
	r.byType = make(map[ghost.Type]int)
	r.candidates = make(map[ghost.Type]map[handle.Handle]candidate)
	r.pending = make(map[ghost.Type]int)
	r.queue = nil
	r.activated = 0
	r.fields = nil
}

// Len returns the number of slots.
func (r *Registry) Len() int { return len(r.entries) }

// Activated returns the number of slots with an active schema. These are
// always slots [0, Activated).
func (r *Registry) Activated() int { return r.activated }

// QueueLen returns the number of queued compiles.
func (r *Registry) QueueLen() int { return len(r.queue) }

// PendingCount returns the number of slots awaiting a remote assignment.
func (r *Registry) PendingCount() int { return len(r.pending) }

// At returns slot i. The entry must not be mutated.
func (r *Registry) At(i int) *Entry { return r.entries[i] }

// Lookup returns the slot of t.
func (r *Registry) Lookup(t ghost.Type) (*Entry, bool) {
	i, ok := r.byType[t]
	if !ok {
		return nil, false
	}
	return r.entries[i], true
}

// GetSchema returns the active schema of t. A schema is only returned once
// its hash is known and its fields are in the field table.
func (r *Registry) GetSchema(t ghost.Type) (*schema.Schema, bool) {
	e, ok := r.Lookup(t)
	if !ok || e.Schema == nil {
		return nil, false
	}
	return e.Schema, true
}

// GetBinding returns the template instance currently bound to t.
func (r *Registry) GetBinding(t ghost.Type) (handle.Handle, bool) {
	e, ok := r.Lookup(t)
	if !ok || e.State != Bound {
		return 0, false
	}
	return e.Template, true
}

// Fields returns the global field table. Fields of slot i start at
// At(i).Schema.FirstFieldIndex.
func (r *Registry) Fields() []schema.Field {
	return r.fields[:len(r.fields):len(r.fields)]
}

// StripList returns the field indices of t's schema removed from spawned
// instances on this side when simulated as mode m.
func (r *Registry) StripList(t ghost.Type, m ghost.Mode) []int {
	s, ok := r.GetSchema(t)
	if !ok {
		return nil
	}
	return s.Stripped(r.role, m)
}

// Offer records a newly available template instance. On the server the
// first sighting of a type creates its slot; on the client slots come only
// from the ghost list and an instance just waits as a candidate.
func (r *Registry) Offer(inst *template.Instance) BindingResult {
	t := inst.Meta.Type
	set := r.candidates[t]
	if set == nil {
		set = make(map[handle.Handle]candidate)
		r.candidates[t] = set
	}
	set[inst.Handle] = candidate{ordinal: inst.Ordinal, meta: inst.Meta}

	if _, ok := r.byType[t]; !ok {
		if r.role == ghost.RoleClient {
			return Unresolved
		}
		r.appendEntry(&Entry{Type: t, Name: template.CanonicalName(inst.Meta.Name), State: Unbound})
	}
	return r.Resolve(t)
}

// OfferAll offers instances, filling slots awaiting a remote assignment
// first.
func (r *Registry) OfferAll(insts []*template.Instance) {
	sort.SliceStable(insts, func(i, j int) bool {
		_, pi := r.pending[insts[i].Meta.Type]
		_, pj := r.pending[insts[j].Meta.Type]
		return pi && !pj
	})
	for _, inst := range insts {
		r.Offer(inst)
	}
}

// Withdraw forgets a template instance. If it was bound, the slot moves to
// the lowest-ordinal remaining candidate, or is left unbound (server) or
// pending a remote assignment (client).
func (r *Registry) Withdraw(w template.Withdrawal) BindingResult {
	if set := r.candidates[w.Type]; set != nil {
		delete(set, w.Handle)
		if len(set) == 0 {
			delete(r.candidates, w.Type)
		}
	}
	e, ok := r.Lookup(w.Type)
	if !ok {
		return NoEntry
	}
	if e.State != Bound || e.Template != w.Handle {
		return Unchanged
	}
	r.unbind(e)
	return r.Resolve(w.Type)
}

// Resolve binds t's slot to a candidate if it has none. It never compiles;
// activations and recompiles are queued for Next. Calling it again on a
// bound, unchanged slot is a no-op.
func (r *Registry) Resolve(t ghost.Type) BindingResult {
	e, ok := r.Lookup(t)
	if !ok {
		return NoEntry
	}
	if e.State == Bound {
		if _, live := r.candidates[t][e.Template]; live {
			return Unchanged
		}
		r.unbind(e)
	}
	h, c, ok := r.lowestCandidate(t)
	if !ok {
		return Unresolved
	}
	e.Template = h
	e.meta = c.meta
	e.State = Bound
	e.Loading = false
	delete(r.pending, t)
	if e.Name == "" {
		e.Name = template.CanonicalName(c.meta.Name)
	}
	r.enqueue(e)
	if e.Active() {
		return Rebound
	}
	return NewlyBound
}

// Expect records a ghost list entry from the server. Entries must arrive in
// index order; a repeated identical entry is ignored.
func (r *Registry) Expect(a Announcement) error {
	if a.Index < len(r.entries) {
		e := r.entries[a.Index]
		if e.Type == a.Type && e.ExpectedHash == a.Hash {
			return nil
		}
		return fmt.Errorf("%w: slot %d holds %s, announced %s", ErrAnnouncementOrder, a.Index, e.Type, a.Type)
	}
	if a.Index > len(r.entries) {
		return fmt.Errorf("%w: announced slot %d, expected %d", ErrAnnouncementOrder, a.Index, len(r.entries))
	}
	if i, dup := r.byType[a.Type]; dup {
		return fmt.Errorf("%w: %s already in slot %d", ErrAnnouncementOrder, a.Type, i)
	}
	e := &Entry{
		Type:         a.Type,
		Name:         a.Name,
		State:        PendingRemoteAssignment,
		Announced:    true,
		ExpectedHash: a.Hash,
		Loading:      true,
	}
	r.appendEntry(e)
	r.pending[a.Type] = e.Index
	r.Resolve(a.Type)
	return nil
}

// RefreshLoading flags every unbound, not yet active slot as still loading,
// giving its template another tick to arrive.
func (r *Registry) RefreshLoading() {
	for _, e := range r.entries {
		if !e.Active() && e.State != Bound {
			e.Loading = true
		}
	}
}

// StepKind reports what Next did.
type StepKind uint8

const (
	// StepIdle: nothing is queued.
	StepIdle StepKind = iota
	// StepWaiting: the head slot has no template yet; later slots wait too.
	StepWaiting
	// StepActivated: a slot got its first schema.
	StepActivated
	// StepUnchanged: a rebound slot recompiled to the same hash.
	StepUnchanged
	// StepSkipped: the queued slot lost its template again. A server slot
	// that was never activated leaves the queue until a template returns.
	StepSkipped
	// StepFault: a fatal schema fault; see the returned *Fault.
	StepFault
)

// Step is the outcome of one Next call.
type Step struct {
	Kind     StepKind
	Entry    *Entry
	Schema   *schema.Schema // the freshly compiled schema, if any
	Compiled bool
}

// Next processes the head of the compile queue.
func (r *Registry) Next() (Step, *Fault) {
	if len(r.queue) == 0 {
		return Step{Kind: StepIdle}, nil
	}
	e := r.queue[0]
	if !e.Active() {
		return r.activate(e)
	}
	r.pop()
	if e.State != Bound {
		return Step{Kind: StepSkipped, Entry: e}, nil
	}
	s, err := r.compile(e)
	if err != nil {
		return Step{Kind: StepFault, Entry: e, Compiled: true}, r.fault(e, e.Schema.TypeHash, 0, err)
	}
	if s.TypeHash != e.Schema.TypeHash {
		return Step{Kind: StepFault, Entry: e, Schema: s, Compiled: true}, r.fault(e, e.Schema.TypeHash, s.TypeHash, ErrSchemaDrift)
	}
	return Step{Kind: StepUnchanged, Entry: e, Schema: s, Compiled: true}, nil
}

func (r *Registry) activate(e *Entry) (Step, *Fault) {
	if e.State != Bound {
		if e.Loading {
			// One more tick; RefreshLoading re-arms the flag while the
			// session is still streaming content.
			e.Loading = false
			return Step{Kind: StepWaiting, Entry: e}, nil
		}
		if e.Announced {
			r.pop()
			return Step{Kind: StepFault, Entry: e}, r.fault(e, e.ExpectedHash, 0, ErrUnresolvedType)
		}
		// Nobody has seen this slot, so later slots may go first.
		r.pop()
		r.log.Debug("ghost type lost its template before activation",
			zap.Int("index", e.Index), zap.String("ghost", e.Name))
		return Step{Kind: StepSkipped, Entry: e}, nil
	}

	r.pop()
	if e.Index != r.activated {
		r.place(e, r.activated)
	}
	s, err := r.compile(e)
	if err != nil {
		return Step{Kind: StepFault, Entry: e, Compiled: true}, r.fault(e, e.ExpectedHash, 0, err)
	}
	if s.TypeHash == 0 || (e.Announced && s.TypeHash != e.ExpectedHash) {
		return Step{Kind: StepFault, Entry: e, Schema: s, Compiled: true}, r.fault(e, e.ExpectedHash, s.TypeHash, ErrHashMismatch)
	}

	s.FirstFieldIndex = len(r.fields)
	r.fields = append(r.fields, s.Fields...)
	e.Schema = s
	r.activated++
	return Step{Kind: StepActivated, Entry: e, Schema: s, Compiled: true}, nil
}

func (r *Registry) compile(e *Entry) (*schema.Schema, error) {
	e.Compiles++
	return r.compiler.Compile(e.meta)
}

func (r *Registry) fault(e *Entry, expected, got uint64, err error) *Fault {
	return &Fault{Index: e.Index, Type: e.Type, Name: e.Name, Expected: expected, Got: got, Err: err}
}

func (r *Registry) appendEntry(e *Entry) {
	e.Index = len(r.entries)
	r.entries = append(r.entries, e)
	r.byType[e.Type] = e.Index
	r.enqueue(e)
}

// place moves the inactive slot e down to index i, shifting the inactive
// slots in between up by one.
func (r *Registry) place(e *Entry, i int) {
	from := e.Index
	copy(r.entries[i+1:from+1], r.entries[i:from])
	r.entries[i] = e
	for j := i; j <= from; j++ {
		m := r.entries[j]
		m.Index = j
		r.byType[m.Type] = j
	}
}

func (r *Registry) enqueue(e *Entry) {
	if e.queued {
		return
	}
	e.queued = true
	r.queue = append(r.queue, e)
}

func (r *Registry) pop() {
	r.queue[0].queued = false
	r.queue = r.queue[1:]
}

func (r *Registry) unbind(e *Entry) {
	e.Template = 0
	e.meta = nil
	if r.role == ghost.RoleClient {
		e.State = PendingRemoteAssignment
		r.pending[e.Type] = e.Index
		return
	}
	e.State = Unbound
}

// lowestCandidate picks the earliest discovered live instance of t.
func (r *Registry) lowestCandidate(t ghost.Type) (handle.Handle, candidate, bool) {
	var (
		best  handle.Handle
		bestC candidate
		found bool
	)
	for h, c := range r.candidates[t] {
		if !found || c.ordinal < bestC.ordinal {
			best, bestC, found = h, c, true
		}
	}
	return best, bestC, found
}
