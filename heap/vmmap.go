package heap

import (
	"fmt"
	"sync"
)

// NoOwner marks a chunk that belongs to no space.
const NoOwner = -1

// Region is a run of whole chunks.
type Region struct {
	Start  Address
	Chunks int
}

// End returns the address one past the region.
func (r Region) End() Address {
	return r.Start.Add(uintptr(r.Chunks) << LogBytesInChunk)
}

// Bytes returns the region size.
func (r Region) Bytes() uintptr {
	return uintptr(r.Chunks) << LogBytesInChunk
}

// VMMap records which space owns each chunk of the heap. Contiguous spaces
// reserve their extent once; discontiguous spaces borrow runs of chunks and
// give them back when their pages are released.
type VMMap struct {
	mu    sync.Mutex
	start Address
	owner []int
	names []string
	free  int
}

// NewVMMap covers the given memory with free chunks.
func NewVMMap(mem *Memory) *VMMap {
	n := int(mem.Size() >> LogBytesInChunk)
	owner := make([]int, n)
	for i := range owner {
		owner[i] = NoOwner
	}
	return &VMMap{start: mem.Start(), owner: owner, free: n}
}

// RegisterSpace allocates a descriptor for a named space.
func (m *VMMap) RegisterSpace(name string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.names = append(m.names, name)
	return len(m.names) - 1
}

// SpaceName returns the name registered for a descriptor.
func (m *VMMap) SpaceName(desc int) string {
	m.mu.Lock()
	defer m.mu.Unlock()
	if desc < 0 || desc >= len(m.names) {
		return ""
	}
	return m.names[desc]
}

// TotalChunks returns the number of chunks in the heap.
func (m *VMMap) TotalChunks() int { return len(m.owner) }

// FreeChunks returns the number of unowned chunks.
func (m *VMMap) FreeChunks() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.free
}

// ReserveContiguous hands desc the lowest free run of chunks covering extent.
func (m *VMMap) ReserveContiguous(desc int, extent uintptr) (Region, error) {
	return m.allocate(desc, ChunksFor(extent))
}

// AllocateChunks hands desc a run of n chunks from the shared pool.
func (m *VMMap) AllocateChunks(desc int, n int) (Region, error) {
	return m.allocate(desc, n)
}

func (m *VMMap) allocate(desc int, n int) (Region, error) {
	if n <= 0 {
		return Region{}, fmt.Errorf("heap: invalid chunk count %d", n)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if n > m.free {
		return Region{}, ErrExhausted
	}
	run := 0
	for i := range m.owner {
		if m.owner[i] != NoOwner {
			run = 0
			continue
		}
		run++
		if run == n {
			first := i - n + 1
			for j := first; j <= i; j++ {
				m.owner[j] = desc
			}
			m.free -= n
			return Region{Start: m.chunkAddress(first), Chunks: n}, nil
		}
	}
	return Region{}, ErrExhausted
}

// Release returns a region to the shared pool. Releasing chunks owned by a
// different space is a bookkeeping bug and panics.
func (m *VMMap) Release(desc int, r Region) {
	m.mu.Lock()
	defer m.mu.Unlock()
	first := m.chunkIndex(r.Start)
	for j := first; j < first+r.Chunks; j++ {
		if m.owner[j] != desc {
			panic(fmt.Sprintf("heap: space %d releasing chunk %d owned by %d", desc, j, m.owner[j]))
		}
		m.owner[j] = NoOwner
	}
	m.free += r.Chunks
}

// OwnerOf returns the descriptor owning the chunk containing a, or NoOwner.
func (m *VMMap) OwnerOf(a Address) int {
	if a < m.start {
		return NoOwner
	}
	idx := int((a - m.start) >> LogBytesInChunk)
	m.mu.Lock()
	defer m.mu.Unlock()
	if idx >= len(m.owner) {
		return NoOwner
	}
	return m.owner[idx]
}

func (m *VMMap) chunkAddress(idx int) Address {
	return m.start.Add(uintptr(idx) << LogBytesInChunk)
}

func (m *VMMap) chunkIndex(a Address) int {
	return int((a - m.start) >> LogBytesInChunk)
}
