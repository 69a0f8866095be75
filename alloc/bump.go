package alloc

import (
	"fmt"

	"github.com/chazu/gcore/heap"
	"github.com/chazu/gcore/policy"
	"github.com/chazu/gcore/vm"
)

// BlockSize is how much a bump allocator takes from its space at a time.
const BlockSize = 32 << 10

// BumpAllocator carves objects out of a thread-local block by advancing a
// cursor. When the block runs out it takes another from its space.
type BumpAllocator struct {
	tls    vm.MutatorThread
	space  policy.Space
	cursor heap.Address
	limit  heap.Address
}

// NewBumpAllocator binds a bump allocator to space.
func NewBumpAllocator(tls vm.MutatorThread, space policy.Space) *BumpAllocator {
	return &BumpAllocator{tls: tls, space: space}
}

// Space returns the bound space.
func (b *BumpAllocator) Space() policy.Space { return b.space }

// Thread returns the owning thread.
func (b *BumpAllocator) Thread() vm.MutatorThread { return b.tls }

// Reset forgets the current block.
func (b *BumpAllocator) Reset() {
	b.cursor = 0
	b.limit = 0
}

// Rebind resets the allocator and points it at another space.
func (b *BumpAllocator) Rebind(space policy.Space) {
	b.Reset()
	b.space = space
}

// Alloc implements Allocator.
func (b *BumpAllocator) Alloc(size, align uintptr) (heap.Address, error) {
	if size == 0 {
		return 0, fmt.Errorf("alloc: zero-sized allocation")
	}
	if align < MinAlignment {
		align = MinAlignment
	}
	if align&(align-1) != 0 {
		return 0, fmt.Errorf("alloc: alignment %d is not a power of two", align)
	}
	size = heap.AlignUp(size, heap.BytesInWord)

	if !b.cursor.IsZero() {
		result := b.cursor.AlignUp(align)
		if end := result.Add(size); end <= b.limit {
			b.cursor = end
			return result, nil
		}
	}
	return b.allocSlow(size, align)
}

func (b *BumpAllocator) allocSlow(size, align uintptr) (heap.Address, error) {
	block := heap.AlignUp(max(size+align, BlockSize), heap.BytesInPage)
	pages := heap.PagesFor(block)
	start, err := b.space.Acquire(b.tls, pages)
	if err != nil {
		return 0, err
	}
	b.cursor = start
	b.limit = start.Add(block)

	result := b.cursor.AlignUp(align)
	b.cursor = result.Add(size)
	return result, nil
}

// Cursor returns the next free address in the current block.
func (b *BumpAllocator) Cursor() heap.Address { return b.cursor }
