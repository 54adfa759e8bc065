package catalogue

import (
	"errors"
	"fmt"
	"sort"
	"sync"
	"sync/atomic"
)

var (
	// ErrAlreadyFinalized is returned by any mutation after Finalize. It is
	// a programmer error: it would silently invalidate every compiled hash.
	ErrAlreadyFinalized = errors.New("catalogue already finalized")
	// ErrNotFinalized is returned by lookups before Finalize.
	ErrNotFinalized = errors.New("catalogue not finalized")
	// ErrDuplicateSerializer is returned by Finalize when two descriptors
	// share (stable hash, variant hash).
	ErrDuplicateSerializer = errors.New("duplicate serializer")
)

// Resolution describes how a (type, variant) request was satisfied.
type Resolution uint8

const (
	// ResolvedExact: the requested variant exists.
	ResolvedExact Resolution = iota
	// ResolvedDefault: no override was requested; the position default was used.
	ResolvedDefault
	// ResolvedStale: an override names a variant that no longer exists; the
	// position default was used instead.
	ResolvedStale
	// Unknown: the type has no serializer at all (not replicated).
	Unknown
)

type group struct {
	first, last  int
	rootDefault  int
	childDefault int
}

// Table is the field descriptor table. Add may be called from several
// goroutines while loading; after Finalize the table is read-only and safe
// to share without locks.
type Table struct {
	mu        sync.Mutex
	finalized atomic.Bool

	entries []Descriptor
	groups  map[uint64]group

	ownerHash uint64
	hasOwner  bool
}

func NewTable() *Table {
	return &Table{entries: make([]Descriptor, 0, 64)}
}

// Add appends a descriptor. Stable and variant hashes are derived from the
// names when left zero.
func (t *Table) Add(d Descriptor) error {
	if t.finalized.Load() {
		return fmt.Errorf("add %s/%s: %w", d.TypeName, d.VariantName, ErrAlreadyFinalized)
	}
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finalized.Load() {
		return fmt.Errorf("add %s/%s: %w", d.TypeName, d.VariantName, ErrAlreadyFinalized)
	}
	d.normalize()
	t.entries = append(t.entries, d)
	return nil
}

// MustAdd is Add for static catalogues built in code; it panics on error.
func (t *Table) MustAdd(d Descriptor) {
	if err := t.Add(d); err != nil {
		panic(err)
	}
}

// Finalize sorts the descriptors by (stable hash, variant hash), assigns
// their indices and serializer hashes, and freezes the table.
func (t *Table) Finalize() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.finalized.Load() {
		return ErrAlreadyFinalized
	}

	sort.SliceStable(t.entries, func(i, j int) bool {
		a, b := &t.entries[i], &t.entries[j]
		if a.StableHash != b.StableHash {
			return a.StableHash < b.StableHash
		}
		return a.VariantHash < b.VariantHash
	})

	groups := make(map[uint64]group, len(t.entries))
	for i := 0; i < len(t.entries); {
		first := i
		stable := t.entries[i].StableHash
		for i < len(t.entries) && t.entries[i].StableHash == stable {
			if i > first && t.entries[i].VariantHash == t.entries[i-1].VariantHash {
				return fmt.Errorf("%w: %s variant %s", ErrDuplicateSerializer,
					t.entries[i].TypeName, t.entries[i].VariantName)
			}
			i++
		}
		g := group{first: first, last: i - 1, rootDefault: first, childDefault: -1}
		unnamed := VariantHashOf(stable, "")
		for k := first; k < i; k++ {
			if t.entries[k].VariantHash == unnamed {
				g.rootDefault = k
			}
		}
		rootMarked := false
		for k := first; k < i; k++ {
			d := &t.entries[k]
			if d.DefaultForRoot {
				if rootMarked {
					return fmt.Errorf("%s: more than one default root variant", d.TypeName)
				}
				rootMarked = true
				g.rootDefault = k
			}
			if d.DefaultForChild && g.childDefault < 0 {
				g.childDefault = k
			}
		}
		if g.childDefault < 0 {
			g.childDefault = g.rootDefault
		}
		groups[stable] = g
	}

	for i := range t.entries {
		d := &t.entries[i]
		d.Index = i
		d.computeSerializerHash()
		d.parseErrorNames()
		if d.OwnershipMarker {
			if t.hasOwner && t.ownerHash != d.StableHash {
				return fmt.Errorf("%s: a different ownership marker type is already registered", d.TypeName)
			}
			t.ownerHash = d.StableHash
			t.hasOwner = true
		}
	}

	t.groups = groups
	t.finalized.Store(true)
	return nil
}

// Finalized reports whether Finalize has completed.
func (t *Table) Finalized() bool { return t.finalized.Load() }

// Len returns the number of descriptors.
func (t *Table) Len() int {
	if !t.finalized.Load() {
		t.mu.Lock()
		defer t.mu.Unlock()
	}
	return len(t.entries)
}

// At returns the descriptor at index i. The pointer must not be mutated.
func (t *Table) At(i int) *Descriptor {
	return &t.entries[i]
}

// Variants returns the descriptors of one field type in variant order.
func (t *Table) Variants(stableHash uint64) []Descriptor {
	g, ok := t.groups[stableHash]
	if !ok {
		return nil
	}
	return t.entries[g.first : g.last+1]
}

// OwnerStableHash returns the stable hash of the ownership marker type.
func (t *Table) OwnerStableHash() (uint64, bool) {
	return t.ownerHash, t.hasOwner
}

// Resolve picks the descriptor index for a field type at a root or child
// position. A non-zero variant selects that variant if it exists; otherwise
// the position default is used.
func (t *Table) Resolve(stableHash, variantHash uint64, isRoot bool) (int, Resolution, error) {
	if !t.finalized.Load() {
		return -1, Unknown, ErrNotFinalized
	}
	g, ok := t.groups[stableHash]
	if !ok {
		return -1, Unknown, nil
	}
	def := g.rootDefault
	if !isRoot {
		def = g.childDefault
	}
	if variantHash == 0 {
		return def, ResolvedDefault, nil
	}
	for i := g.first; i <= g.last; i++ {
		if t.entries[i].VariantHash == variantHash {
			return i, ResolvedExact, nil
		}
	}
	return def, ResolvedStale, nil
}
