package alloc

import (
	"github.com/chazu/gcore/heap"
	"github.com/chazu/gcore/policy"
	"github.com/chazu/gcore/vm"
)

// MinAlignment is the alignment every allocation gets at least.
const MinAlignment = heap.BytesInWord

// Allocator services allocation requests from one space for one thread.
type Allocator interface {
	// Alloc returns size bytes aligned to align. A policy.ErrSpaceFull
	// failure means the space needs a collection before it can grow.
	Alloc(size, align uintptr) (heap.Address, error)
	Space() policy.Space
	Thread() vm.MutatorThread
	// Reset drops any thread-local buffer.
	Reset()
}
