package semispace

import (
	"github.com/chazu/gcore/alloc"
	"github.com/chazu/gcore/plan"
	"github.com/chazu/gcore/vm"
)

func newMutatorConfig(p *SemiSpace) *plan.MutatorConfig {
	return &plan.MutatorConfig{
		AllocatorMapping: &allocatorMapping,
		SpaceMapping: []alloc.SpaceMapping{
			// The to-space at construction. Each mutator's default allocator
			// is rebound to the current to-space when it is created and after
			// every pause, so this entry only seeds the allocator.
			{Selector: alloc.BumpPointer(0), Space: p.ToSpace()},
			{Selector: alloc.BumpPointer(1), Space: p.immortal},
			{Selector: alloc.BumpPointer(2), Space: p.los},
			{Selector: alloc.BumpPointer(3), Space: p.base.ROSpace()},
		},
		PrepareFunc: plan.NoopMutatorFunc,
		ReleaseFunc: func(m *plan.Mutator, _ vm.WorkerThread) {
			m.Allocators().BumpPointer(0).Rebind(p.ToSpace())
		},
	}
}

// MutatorConfig returns the configuration shared by every mutator of p.
func (p *SemiSpace) MutatorConfig() *plan.MutatorConfig { return p.mutatorConfig }

// NewMutator creates a mutator for tls allocating from p. Its default
// allocator follows the to-space across pauses.
func NewMutator(tls vm.MutatorThread, p *SemiSpace) (*plan.Mutator, error) {
	m, err := plan.NewMutator(tls, p, p.mutatorConfig)
	if err != nil {
		return nil, err
	}
	m.Allocators().BumpPointer(0).Rebind(p.ToSpace())
	return m, nil
}
