// Package nogc is the allocation-only plan: it lays out spaces and routes
// allocation but never reclaims memory. Running out of heap is final.
package nogc

import (
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/gcore/alloc"
	"github.com/chazu/gcore/heap"
	"github.com/chazu/gcore/plan"
	"github.com/chazu/gcore/policy"
	"github.com/chazu/gcore/scheduler"
	"github.com/chazu/gcore/vm"
)

var log = commonlog.GetLogger("gcore.nogc")

// Constraints of the nogc plan.
var Constraints = func() plan.Constraints {
	c := plan.DefaultConstraints
	c.CollectsGarbage = false
	return c
}()

var (
	multiSpaceMapping = func() alloc.Mapping {
		m := alloc.NewMapping()
		m[alloc.Default] = alloc.BumpPointer(0)
		m[alloc.Immortal] = alloc.BumpPointer(1)
		m[alloc.Code] = alloc.BumpPointer(1)
		m[alloc.Los] = alloc.BumpPointer(2)
		m[alloc.ReadOnly] = alloc.BumpPointer(3)
		return m
	}()
	singleSpaceMapping = alloc.Uniform(alloc.BumpPointer(0))
)

// NoGC owns a default space, an immortal space and a large-object space.
// With multi-space off, every semantics is served by the default space.
type NoGC struct {
	base       *plan.BasePlan
	nogcSpace  *policy.ImmortalSpace
	immortal   *policy.ImmortalSpace
	los        *policy.ImmortalSpace
	multiSpace bool
	mapping    *alloc.Mapping

	mutatorConfig *plan.MutatorConfig
}

// New builds the plan and checks its side-metadata layout.
func New(args *plan.CreateGeneralPlanArgs) (*NoGC, error) {
	specific, err := plan.NewSpecificPlanArgs(args, Constraints)
	if err != nil {
		return nil, err
	}
	opts := args.Options

	nogcSpace, err := policy.NewImmortalSpace(specific.SpaceArgs("nogc_space", !opts.Plan.NoZeroing, heap.DiscontiguousRequest()))
	if err != nil {
		return nil, fmt.Errorf("nogc: nogc_space: %w", err)
	}
	immortal, err := policy.NewImmortalSpace(specific.SpaceArgs("immortal", true, heap.DiscontiguousRequest()))
	if err != nil {
		return nil, fmt.Errorf("nogc: immortal: %w", err)
	}
	los, err := policy.NewImmortalSpace(specific.SpaceArgs("los", true, heap.DiscontiguousRequest()))
	if err != nil {
		return nil, fmt.Errorf("nogc: los: %w", err)
	}
	base, err := plan.NewBasePlan(specific)
	if err != nil {
		return nil, err
	}

	p := &NoGC{
		base:       base,
		nogcSpace:  nogcSpace,
		immortal:   immortal,
		los:        los,
		multiSpace: opts.Plan.MultiSpace,
	}
	if p.multiSpace {
		p.mapping = &multiSpaceMapping
	} else {
		p.mapping = &singleSpaceMapping
	}
	p.mutatorConfig = newMutatorConfig(p)
	if err := plan.VerifySideMetadataSanity(args.Metadata.Coverage(), p.Spaces()...); err != nil {
		return nil, err
	}
	specific.Trigger.Attach(p)
	log.Infof("nogc plan: multi-space=%t, zeroing=%t, heap %d pages", p.multiSpace, !opts.Plan.NoZeroing, specific.Trigger.HeapPages())
	return p, nil
}

// Name implements plan.Plan.
func (p *NoGC) Name() string { return "nogc" }

// Constraints implements plan.Plan.
func (p *NoGC) Constraints() plan.Constraints { return Constraints }

// Base implements plan.Plan.
func (p *NoGC) Base() *plan.BasePlan { return p.base }

// MultiSpace reports whether semantics are routed to separate spaces.
func (p *NoGC) MultiSpace() bool { return p.multiSpace }

// NoGCSpace returns the default space.
func (p *NoGC) NoGCSpace() *policy.ImmortalSpace { return p.nogcSpace }

// Immortal returns the immortal space.
func (p *NoGC) Immortal() *policy.ImmortalSpace { return p.immortal }

// LOS returns the large-object space.
func (p *NoGC) LOS() *policy.ImmortalSpace { return p.los }

// Spaces implements plan.Plan.
func (p *NoGC) Spaces() []policy.Space {
	return append([]policy.Space{p.nogcSpace, p.immortal, p.los}, p.base.Spaces()...)
}

// CollectionRequired implements plan.Plan.
func (p *NoGC) CollectionRequired(spaceFull bool, space policy.Space) bool {
	return p.base.CollectionRequired(spaceFull)
}

// Prepare must never run: this plan has no pauses.
func (p *NoGC) Prepare(tls vm.WorkerThread) {
	panic("nogc: prepare called on a plan that does not collect")
}

// Release must never run: this plan has no pauses.
func (p *NoGC) Release(tls vm.WorkerThread) {
	panic("nogc: release called on a plan that does not collect")
}

// ScheduleCollection must never run: this plan has no pauses.
func (p *NoGC) ScheduleCollection(s *scheduler.Scheduler) {
	panic("nogc: schedule_collection called on a plan that does not collect")
}

// AllocatorMapping implements plan.Plan.
func (p *NoGC) AllocatorMapping() *alloc.Mapping { return p.mapping }

// UsedPages implements plan.Plan.
func (p *NoGC) UsedPages() int {
	return p.nogcSpace.ReservedPages() + p.immortal.ReservedPages() + p.los.ReservedPages() + p.base.UsedPages()
}

// CollectionReservedPages is zero: nothing is ever copied.
func (p *NoGC) CollectionReservedPages() int { return 0 }

// HandleUserCollectionRequest logs and ignores the request.
func (p *NoGC) HandleUserCollectionRequest(tls vm.MutatorThread, force, exhaustive bool) {
	log.Warningf("%s: collection requested (force=%t, exhaustive=%t) but the nogc plan does not collect; ignoring", tls, force, exhaustive)
}

var _ plan.Plan = (*NoGC)(nil)
