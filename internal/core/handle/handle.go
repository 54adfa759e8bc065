package handle

// Handle encodes a 32-bit index in the lower bits and a 32-bit generation
// in the upper bits. Generation increments on release to invalidate stale refs.
// The zero Handle is never issued.
type Handle uint64

func New(index uint32, generation uint32) Handle {
	return Handle(uint64(generation)<<32 | uint64(index))
}

func (h Handle) Index() uint32      { return uint32(h) }
func (h Handle) Generation() uint32 { return uint32(h >> 32) }
func (h Handle) IsZero() bool       { return h == 0 }

// Pool manages handle allocation with generational indices and a free list.
// Generations start at 1 so that no live handle equals the zero value.
type Pool struct {
	generations []uint32
	freeList    []uint32
	nextIndex   uint32
}

func NewPool() *Pool {
	return &Pool{
		generations: make([]uint32, 0, 256),
		freeList:    make([]uint32, 0, 64),
	}
}

func (p *Pool) Create() Handle {
	if len(p.freeList) > 0 {
		idx := p.freeList[len(p.freeList)-1]
		p.freeList = p.freeList[:len(p.freeList)-1]
		return New(idx, p.generations[idx])
	}
	idx := p.nextIndex
	p.nextIndex++
	if int(idx) >= len(p.generations) {
		p.generations = append(p.generations, 1)
	}
	return New(idx, p.generations[idx])
}

func (p *Pool) Alive(h Handle) bool {
	idx := h.Index()
	if h.IsZero() || idx >= p.nextIndex {
		return false
	}
	return p.generations[idx] == h.Generation()
}

func (p *Pool) Release(h Handle) {
	if !p.Alive(h) {
		return // already released (stale reference)
	}
	idx := h.Index()
	p.generations[idx]++
	p.freeList = append(p.freeList, idx)
}
