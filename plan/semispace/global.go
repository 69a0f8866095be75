// Package semispace is a copying plan: mutators allocate into one copy
// space, and each pause evacuates the survivors into the other.
package semispace

import (
	"fmt"
	"sync/atomic"

	"github.com/tliron/commonlog"

	"github.com/chazu/gcore/alloc"
	"github.com/chazu/gcore/heap"
	"github.com/chazu/gcore/plan"
	"github.com/chazu/gcore/policy"
	"github.com/chazu/gcore/scheduler"
	"github.com/chazu/gcore/vm"
)

var log = commonlog.GetLogger("gcore.semispace")

// Constraints of the semispace plan. The two header bits are the
// forwarding state, kept in side metadata.
var Constraints = func() plan.Constraints {
	c := plan.DefaultConstraints
	c.MovesObjects = true
	c.GCHeaderBits = 2
	c.GCHeaderWords = 0
	c.NumSpecializedScans = 1
	return c
}()

var allocatorMapping = func() alloc.Mapping {
	m := alloc.NewMapping()
	m[alloc.Default] = alloc.BumpPointer(0)
	m[alloc.Immortal] = alloc.BumpPointer(1)
	m[alloc.Code] = alloc.BumpPointer(1)
	m[alloc.Los] = alloc.BumpPointer(2)
	m[alloc.ReadOnly] = alloc.BumpPointer(3)
	return m
}()

// SemiSpace owns two copy spaces plus non-moving immortal and large-object
// spaces. hi selects which copy space is the to-space.
type SemiSpace struct {
	base       *plan.BasePlan
	hi         atomic.Bool
	copyspace0 *policy.CopySpace
	copyspace1 *policy.CopySpace
	immortal   *policy.ImmortalSpace
	los        *policy.ImmortalSpace

	mutatorConfig *plan.MutatorConfig
}

// New builds the plan and checks its side-metadata layout.
func New(args *plan.CreateGeneralPlanArgs) (*SemiSpace, error) {
	specific, err := plan.NewSpecificPlanArgs(args, Constraints)
	if err != nil {
		return nil, err
	}
	p := &SemiSpace{}
	if p.copyspace0, err = policy.NewCopySpace(specific.SpaceArgs("copyspace0", true, heap.DiscontiguousRequest()), false); err != nil {
		return nil, fmt.Errorf("semispace: copyspace0: %w", err)
	}
	if p.copyspace1, err = policy.NewCopySpace(specific.SpaceArgs("copyspace1", true, heap.DiscontiguousRequest()), true); err != nil {
		return nil, fmt.Errorf("semispace: copyspace1: %w", err)
	}
	if p.immortal, err = policy.NewImmortalSpace(specific.SpaceArgs("immortal", true, heap.DiscontiguousRequest())); err != nil {
		return nil, fmt.Errorf("semispace: immortal: %w", err)
	}
	if p.los, err = policy.NewImmortalSpace(specific.SpaceArgs("los", true, heap.DiscontiguousRequest())); err != nil {
		return nil, fmt.Errorf("semispace: los: %w", err)
	}
	if p.base, err = plan.NewBasePlan(specific); err != nil {
		return nil, err
	}
	if err := plan.VerifySideMetadataSanity(args.Metadata.Coverage(), p.Spaces()...); err != nil {
		return nil, err
	}
	p.mutatorConfig = newMutatorConfig(p)
	specific.Trigger.Attach(p)
	log.Infof("semispace plan: heap %d pages, %d collector threads", specific.Trigger.HeapPages(), args.Options.Collection.Threads)
	return p, nil
}

// Name implements plan.Plan.
func (p *SemiSpace) Name() string { return "semispace" }

// Constraints implements plan.Plan.
func (p *SemiSpace) Constraints() plan.Constraints { return Constraints }

// Base implements plan.Plan.
func (p *SemiSpace) Base() *plan.BasePlan { return p.base }

// ToSpace returns the copy space mutators allocate into and pauses copy to.
func (p *SemiSpace) ToSpace() *policy.CopySpace {
	if p.hi.Load() {
		return p.copyspace1
	}
	return p.copyspace0
}

// FromSpace returns the copy space the next pause evacuates.
func (p *SemiSpace) FromSpace() *policy.CopySpace {
	if p.hi.Load() {
		return p.copyspace0
	}
	return p.copyspace1
}

// Immortal returns the immortal space.
func (p *SemiSpace) Immortal() *policy.ImmortalSpace { return p.immortal }

// LOS returns the large-object space.
func (p *SemiSpace) LOS() *policy.ImmortalSpace { return p.los }

// Spaces implements plan.Plan.
func (p *SemiSpace) Spaces() []policy.Space {
	return append([]policy.Space{p.copyspace0, p.copyspace1, p.immortal, p.los}, p.base.Spaces()...)
}

// CollectionRequired implements plan.Plan.
func (p *SemiSpace) CollectionRequired(spaceFull bool, space policy.Space) bool {
	return p.base.CollectionRequired(spaceFull)
}

// Prepare flips the copy spaces and clears the mark tables.
func (p *SemiSpace) Prepare(tls vm.WorkerThread) {
	p.base.Prepare(tls)
	hi := !p.hi.Load()
	p.hi.Store(hi)
	p.copyspace0.Prepare(hi)
	p.copyspace1.Prepare(!hi)
	p.immortal.Prepare()
	p.los.Prepare()
}

// Release frees the evacuated from-space.
func (p *SemiSpace) Release(tls vm.WorkerThread) {
	from := p.FromSpace()
	freed := from.ReservedPages()
	from.Release()
	p.base.Release(tls)
	log.Debugf("released %s: %d pages", from.Name(), freed)
}

// AllocatorMapping implements plan.Plan.
func (p *SemiSpace) AllocatorMapping() *alloc.Mapping { return &allocatorMapping }

// ScheduleCollection queues the closure and the shared pause work.
func (p *SemiSpace) ScheduleCollection(s *scheduler.Scheduler) {
	t := newTracer(p)
	s.Add(scheduler.Closure, t)
	plan.ScheduleCommonWork(s, p, t)
}

// UsedPages implements plan.Plan.
func (p *SemiSpace) UsedPages() int {
	return p.copyspace0.ReservedPages() + p.copyspace1.ReservedPages() +
		p.immortal.ReservedPages() + p.los.ReservedPages() + p.base.UsedPages()
}

// CollectionReservedPages is the copy reserve: everything in the to-space
// may have to be copied by the next pause.
func (p *SemiSpace) CollectionReservedPages() int {
	return p.ToSpace().ReservedPages()
}

// HandleUserCollectionRequest implements plan.Plan.
func (p *SemiSpace) HandleUserCollectionRequest(tls vm.MutatorThread, force, exhaustive bool) {
	p.base.HandleUserCollectionRequest(tls, force, exhaustive)
}

var _ plan.Plan = (*SemiSpace)(nil)
