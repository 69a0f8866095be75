package nogc

import (
	"github.com/chazu/gcore/alloc"
	"github.com/chazu/gcore/plan"
	"github.com/chazu/gcore/policy"
	"github.com/chazu/gcore/vm"
)

func newMutatorConfig(p *NoGC) *plan.MutatorConfig {
	var spaces []alloc.SpaceMapping
	if p.multiSpace {
		spaces = []alloc.SpaceMapping{
			{Selector: alloc.BumpPointer(0), Space: p.nogcSpace},
			{Selector: alloc.BumpPointer(1), Space: p.immortal},
			{Selector: alloc.BumpPointer(2), Space: p.los},
			{Selector: alloc.BumpPointer(3), Space: policy.Space(p.base.ROSpace())},
		}
	} else {
		spaces = []alloc.SpaceMapping{
			{Selector: alloc.BumpPointer(0), Space: p.nogcSpace},
		}
	}
	return &plan.MutatorConfig{
		AllocatorMapping: p.mapping,
		SpaceMapping:     spaces,
		PrepareFunc:      plan.NoopMutatorFunc,
		ReleaseFunc:      plan.NoopMutatorFunc,
	}
}

// MutatorConfig returns the configuration shared by every mutator of p.
func (p *NoGC) MutatorConfig() *plan.MutatorConfig { return p.mutatorConfig }

// NewMutator creates a mutator for tls allocating from p.
func NewMutator(tls vm.MutatorThread, p *NoGC) (*plan.Mutator, error) {
	return plan.NewMutator(tls, p, p.mutatorConfig)
}
