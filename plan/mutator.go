package plan

import (
	"fmt"
	"sync/atomic"

	"github.com/petermattis/goid"

	"github.com/chazu/gcore/alloc"
	"github.com/chazu/gcore/heap"
	"github.com/chazu/gcore/vm"
)

// MutatorFunc is a per-mutator pause hook.
type MutatorFunc func(m *Mutator, tls vm.WorkerThread)

// NoopMutatorFunc is the hook of plans with nothing to do per mutator.
func NoopMutatorFunc(*Mutator, vm.WorkerThread) {}

// MutatorConfig is what a plan type hands every mutator it creates. The
// mappings are shared, read-only, by all mutators of the plan.
type MutatorConfig struct {
	AllocatorMapping *alloc.Mapping
	SpaceMapping     []alloc.SpaceMapping
	PrepareFunc      MutatorFunc
	ReleaseFunc      MutatorFunc
}

// Validate checks that every semantics maps to an allocator and that every
// allocator in use is bound to a space.
func (c *MutatorConfig) Validate() error {
	if err := c.AllocatorMapping.Validate(); err != nil {
		return err
	}
	bound := make(map[alloc.AllocatorSelector]bool, len(c.SpaceMapping))
	for _, sm := range c.SpaceMapping {
		if sm.Space == nil {
			return fmt.Errorf("plan: %s bound to no space", sm.Selector)
		}
		bound[sm.Selector] = true
	}
	for _, sel := range c.AllocatorMapping.Selectors() {
		if !bound[sel] {
			return fmt.Errorf("plan: %s has no space mapping", sel)
		}
	}
	return nil
}

// Mutator is the allocation context of one application thread. Only that
// thread calls Alloc; the collector touches the allocators only while the
// thread is parked.
type Mutator struct {
	tls        vm.MutatorThread
	plan       Plan
	config     *MutatorConfig
	allocators *alloc.Allocators
	busy       atomic.Bool
}

// NewMutator binds tls to plan with the given configuration.
func NewMutator(tls vm.MutatorThread, plan Plan, config *MutatorConfig) (*Mutator, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}
	if config.PrepareFunc == nil || config.ReleaseFunc == nil {
		return nil, fmt.Errorf("plan: mutator config for %s lacks prepare or release func", plan.Name())
	}
	allocators, err := alloc.NewAllocators(tls, config.SpaceMapping)
	if err != nil {
		return nil, err
	}
	return &Mutator{
		tls:        tls,
		plan:       plan,
		config:     config,
		allocators: allocators,
	}, nil
}

// Thread returns the owning thread.
func (m *Mutator) Thread() vm.MutatorThread { return m.tls }

// Plan returns the plan the mutator allocates from.
func (m *Mutator) Plan() Plan { return m.plan }

// Config returns the shared configuration.
func (m *Mutator) Config() *MutatorConfig { return m.config }

// Allocators returns the mutator's allocator instances.
func (m *Mutator) Allocators() *alloc.Allocators { return m.allocators }

// Allocator returns the allocator serving semantics.
func (m *Mutator) Allocator(semantics alloc.AllocationSemantics) alloc.Allocator {
	return m.allocators.Get(m.config.AllocatorMapping.Get(semantics))
}

// Alloc allocates size bytes with the allocator mapped to semantics. A
// policy.ErrSpaceFull failure asks the caller to consider a collection.
func (m *Mutator) Alloc(semantics alloc.AllocationSemantics, size, align uintptr) (heap.Address, error) {
	if semantics < 0 || int(semantics) >= alloc.NumSemantics {
		return 0, fmt.Errorf("%w: %s", alloc.ErrUnmappedSemantics, semantics)
	}
	if !m.busy.CompareAndSwap(false, true) {
		panic(fmt.Sprintf("plan: %s allocating concurrently from goroutine %d", m.tls, goid.Get()))
	}
	defer m.busy.Store(false)
	return m.Allocator(semantics).Alloc(size, align)
}

// Prepare runs the plan's per-mutator prepare hook.
func (m *Mutator) Prepare(tls vm.WorkerThread) { m.config.PrepareFunc(m, tls) }

// Release runs the plan's per-mutator release hook.
func (m *Mutator) Release(tls vm.WorkerThread) { m.config.ReleaseFunc(m, tls) }

// Flush drops every thread-local buffer so the allocators start over.
func (m *Mutator) Flush() {
	m.allocators.Each(func(a alloc.Allocator) { a.Reset() })
}
