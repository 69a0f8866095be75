package alloc

import (
	"fmt"

	"github.com/chazu/gcore/vm"
)

// MaxBumpAllocators bounds the bump allocators one mutator may hold.
const MaxBumpAllocators = 6

// Allocators holds one thread's allocator instances, one per selector in
// its space mapping.
type Allocators struct {
	bump [MaxBumpAllocators]*BumpAllocator
}

// NewAllocators instantiates an allocator for every entry of spaces.
func NewAllocators(tls vm.MutatorThread, spaces []SpaceMapping) (*Allocators, error) {
	a := &Allocators{}
	for _, sm := range spaces {
		switch sm.Selector.Kind {
		case KindBumpPointer:
			if int(sm.Selector.Index) >= MaxBumpAllocators {
				return nil, fmt.Errorf("alloc: %s exceeds %d bump allocators", sm.Selector, MaxBumpAllocators)
			}
			if a.bump[sm.Selector.Index] != nil {
				return nil, fmt.Errorf("alloc: %s bound twice", sm.Selector)
			}
			a.bump[sm.Selector.Index] = NewBumpAllocator(tls, sm.Space)
		default:
			return nil, fmt.Errorf("alloc: cannot instantiate %s", sm.Selector)
		}
	}
	return a, nil
}

// Get returns the allocator for sel, or nil if none was instantiated.
func (a *Allocators) Get(sel AllocatorSelector) Allocator {
	if sel.Kind == KindBumpPointer && int(sel.Index) < MaxBumpAllocators {
		if b := a.bump[sel.Index]; b != nil {
			return b
		}
	}
	return nil
}

// BumpPointer returns the index'th bump allocator.
func (a *Allocators) BumpPointer(index uint8) *BumpAllocator {
	return a.bump[index]
}

// Each calls fn for every instantiated allocator.
func (a *Allocators) Each(fn func(Allocator)) {
	for _, b := range a.bump {
		if b != nil {
			fn(b)
		}
	}
}
