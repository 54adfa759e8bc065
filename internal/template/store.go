package template

import (
	"sort"

	"github.com/l1jgo/ghostreg/internal/core/handle"
	"github.com/l1jgo/ghostreg/internal/ghost"
)

// Withdrawal records an instance that left the store. The metadata is kept
// so consumers can still see which ghost type lost an instance.
type Withdrawal struct {
	Handle handle.Handle
	Type   ghost.Type
}

// Store owns the concrete template instances. It is accessed only from the
// tick goroutine; producers on other goroutines hand their changes to a
// system that applies them during the input phase.
type Store struct {
	pool      *handle.Pool
	instances *handle.Store[Instance]
	bySource  map[string]handle.Handle
	ordinal   uint64

	added     []handle.Handle
	withdrawn []Withdrawal
}

func NewStore() *Store {
	return &Store{
		pool:      handle.NewPool(),
		instances: handle.NewStore[Instance](),
		bySource:  make(map[string]handle.Handle),
	}
}

// Add registers a new instance. If source already has an instance, that one
// is withdrawn first, so a rewritten file becomes a swap within one tick.
func (s *Store) Add(meta *Metadata, source string) handle.Handle {
	if source != "" {
		if old, ok := s.bySource[source]; ok {
			s.Remove(old)
		}
	}
	h := s.pool.Create()
	s.ordinal++
	s.instances.Set(h, &Instance{Handle: h, Ordinal: s.ordinal, Source: source, Meta: meta})
	if source != "" {
		s.bySource[source] = h
	}
	s.added = append(s.added, h)
	return h
}

// Remove withdraws an instance. It returns false for stale handles.
func (s *Store) Remove(h handle.Handle) bool {
	inst, ok := s.instances.Get(h)
	if !ok {
		return false
	}
	s.instances.Remove(h)
	if inst.Source != "" && s.bySource[inst.Source] == h {
		delete(s.bySource, inst.Source)
	}
	s.pool.Release(h)
	s.withdrawn = append(s.withdrawn, Withdrawal{Handle: h, Type: inst.Meta.Type})
	return true
}

// RemoveSource withdraws the instance loaded from source, if any.
func (s *Store) RemoveSource(source string) bool {
	h, ok := s.bySource[source]
	if !ok {
		return false
	}
	return s.Remove(h)
}

// Get returns a live instance.
func (s *Store) Get(h handle.Handle) (*Instance, bool) {
	return s.instances.Get(h)
}

// Len returns the number of live instances.
func (s *Store) Len() int { return s.instances.Len() }

// Instances returns every live instance in discovery order.
func (s *Store) Instances() []*Instance {
	out := make([]*Instance, 0, s.instances.Len())
	s.instances.Each(func(_ handle.Handle, inst *Instance) {
		out = append(out, inst)
	})
	sort.Slice(out, func(i, j int) bool { return out[i].Ordinal < out[j].Ordinal })
	return out
}

// DrainChanges returns and clears the instances added and withdrawn since
// the last drain. Added handles that were withdrawn again before the drain
// are reported in both lists; consumers apply withdrawals first.
func (s *Store) DrainChanges() (added []handle.Handle, withdrawn []Withdrawal) {
	added, withdrawn = s.added, s.withdrawn
	s.added, s.withdrawn = nil, nil
	return added, withdrawn
}
