package metadata

import (
	"fmt"
	"sync"

	"github.com/chazu/gcore/heap"
)

// Store places side-metadata tables in one anonymous mapping and provides
// bit-level access to them. Bit accessors are not synchronized: callers
// touch a given table either from a single goroutine or while the world is
// stopped.
type Store struct {
	mu        sync.Mutex
	heapStart heap.Address
	coverage  uintptr
	data      []byte
	next      uintptr
	placed    map[string]Spec
}

// NewStore maps enough side-metadata space for tables covering mem. The
// mapping is a quarter of the heap, committed lazily.
func NewStore(mem *heap.Memory) (*Store, error) {
	size := heap.AlignUp(mem.Size()>>2, heap.BytesInPage)
	data, err := heap.MapAnonymous(size)
	if err != nil {
		return nil, err
	}
	return &Store{
		heapStart: mem.Start(),
		coverage:  mem.Size(),
		data:      data,
		placed:    make(map[string]Spec),
	}, nil
}

// Close unmaps the tables.
func (s *Store) Close() error {
	data := s.data
	s.data = nil
	return heap.Unmap(data)
}

// Coverage returns the number of heap bytes every table covers.
func (s *Store) Coverage() uintptr { return s.coverage }

// PlaceGlobal assigns an offset to a plan-wide spec. Placing the same name
// twice returns the first placement.
func (s *Store) PlaceGlobal(spec Spec) (Spec, error) {
	spec.IsGlobal = true
	return s.place("global/"+spec.Name, spec)
}

// PlaceLocal assigns an offset to a spec private to owner.
func (s *Store) PlaceLocal(owner string, spec Spec) (Spec, error) {
	spec.IsGlobal = false
	return s.place(owner+"/"+spec.Name, spec)
}

func (s *Store) place(key string, spec Spec) (Spec, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.placed[key]; ok {
		return prev, nil
	}
	spec.Offset = s.next
	if err := spec.Validate(); err != nil {
		return Spec{}, err
	}
	extent := spec.ExtentFor(s.coverage)
	if spec.Offset+extent > uintptr(len(s.data)) {
		return Spec{}, fmt.Errorf("metadata: no room for %s (%d bytes at %d, capacity %d)", spec.Name, extent, spec.Offset, len(s.data))
	}
	s.next += extent
	s.placed[key] = spec
	return spec, nil
}

// ReservedPages returns the pages occupied by placed tables.
func (s *Store) ReservedPages() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return heap.PagesFor(s.next)
}

func (s *Store) locate(spec Spec, a heap.Address) (int, uint, uint8) {
	idx := uint64(a-s.heapStart) >> spec.LogBytesInRegion
	bit := idx << spec.LogNumOfBits
	byteIdx := int(spec.Offset) + int(bit>>3)
	shift := uint(bit & 7)
	mask := uint8(uint(1)<<(uint(1)<<spec.LogNumOfBits) - 1)
	return byteIdx, shift, mask
}

// LoadBits reads the entry for the region containing a.
func (s *Store) LoadBits(spec Spec, a heap.Address) uint8 {
	i, shift, mask := s.locate(spec, a)
	return (s.data[i] >> shift) & mask
}

// StoreBits overwrites the entry for the region containing a.
func (s *Store) StoreBits(spec Spec, a heap.Address, v uint8) {
	i, shift, mask := s.locate(spec, a)
	s.data[i] = s.data[i]&^(mask<<shift) | (v&mask)<<shift
}

// ClearRegion zeroes every entry covering [start, start+bytes). The range
// must be chunk aligned.
func (s *Store) ClearRegion(spec Spec, start heap.Address, bytes uintptr) {
	lo, _, _ := s.locate(spec, start)
	hi, _, _ := s.locate(spec, start.Add(bytes))
	clear(s.data[lo:hi])
}
