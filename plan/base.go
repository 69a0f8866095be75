package plan

import (
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/chazu/gcore/config"
	"github.com/chazu/gcore/heap"
	"github.com/chazu/gcore/metadata"
	"github.com/chazu/gcore/policy"
	"github.com/chazu/gcore/refproc"
	"github.com/chazu/gcore/vm"
)

// BasePlan is the state every plan embeds: the read-only space, the heap
// trigger, the reference tables and the pause-kind flags.
type BasePlan struct {
	args    *CreateSpecificPlanArgs
	roSpace *policy.ImmortalSpace
	refs    *refproc.Registry

	userTriggered atomic.Bool
	emergency     atomic.Bool
	coord         Coordinator

	mu       sync.Mutex
	lastRefs [3]refproc.Result
}

// NewBasePlan builds the base spaces.
func NewBasePlan(args *CreateSpecificPlanArgs) (*BasePlan, error) {
	ro, err := policy.NewImmortalSpace(args.SpaceArgs("ro_space", true, heap.DiscontiguousRequest()))
	if err != nil {
		return nil, fmt.Errorf("plan: ro_space: %w", err)
	}
	opts := args.Global.Options
	return &BasePlan{
		args:    args,
		roSpace: ro,
		refs:    refproc.NewRegistry(opts.References.MaxEntries, opts.References.Disabled),
	}, nil
}

// Options returns the collector options.
func (b *BasePlan) Options() *config.Config { return b.args.Global.Options }

// Binding returns the runtime binding.
func (b *BasePlan) Binding() vm.Binding { return b.args.Global.Binding }

// Memory returns the heap arena.
func (b *BasePlan) Memory() *heap.Memory { return b.args.Global.Memory }

// VMMap returns the chunk ownership map.
func (b *BasePlan) VMMap() *heap.VMMap { return b.args.Global.VMMap }

// Metadata returns the side-metadata store.
func (b *BasePlan) Metadata() *metadata.Store { return b.args.Global.Metadata }

// Trigger returns the heap trigger.
func (b *BasePlan) Trigger() *GCTrigger { return b.args.Trigger }

// References returns the reference tables.
func (b *BasePlan) References() *refproc.Registry { return b.refs }

// ROSpace returns the space for ReadOnly allocation.
func (b *BasePlan) ROSpace() *policy.ImmortalSpace { return b.roSpace }

// Spaces returns the base plan's spaces.
func (b *BasePlan) Spaces() []policy.Space {
	return []policy.Space{b.roSpace}
}

// OwnUsedPages returns pages the base plan uses outside any space: side
// metadata and reference tables.
func (b *BasePlan) OwnUsedPages() int {
	return b.Metadata().ReservedPages() + b.refs.PagesUsed()
}

// UsedPages returns base space pages plus OwnUsedPages.
func (b *BasePlan) UsedPages() int {
	return SumReservedPages(b.Spaces()) + b.OwnUsedPages()
}

// CollectionRequired is the default policy: collect when a space is full or
// the heap budget is used up.
func (b *BasePlan) CollectionRequired(spaceFull bool) bool {
	return spaceFull || b.Trigger().IsHeapFull()
}

// Prepare resets the base spaces for a pause.
func (b *BasePlan) Prepare(tls vm.WorkerThread) {
	b.roSpace.Prepare()
}

// Release is a no-op: nothing in the base spaces is freed.
func (b *BasePlan) Release(tls vm.WorkerThread) {}

// SetCoordinator connects the plan to the runtime running its pauses.
func (b *BasePlan) SetCoordinator(c Coordinator) { b.coord = c }

// Coordinator returns the runtime side, or nil before one is set.
func (b *BasePlan) Coordinator() Coordinator { return b.coord }

// Mutators returns the mutators bound through the coordinator.
func (b *BasePlan) Mutators() []*Mutator {
	if b.coord == nil {
		return nil
	}
	return b.coord.Mutators()
}

// HandleUserCollectionRequest asks for a pause unless the options say to
// ignore runtime-initiated requests and force is not set. An exhaustive
// request makes the pause an emergency collection.
func (b *BasePlan) HandleUserCollectionRequest(tls vm.MutatorThread, force, exhaustive bool) {
	if !force && b.Options().Collection.IgnoreSystemGC {
		log.Infof("%s: collection request ignored (ignore-system-gc)", tls)
		return
	}
	if b.coord == nil {
		log.Warning("collection requested before a coordinator was attached")
		return
	}
	b.userTriggered.Store(true)
	if exhaustive {
		b.emergency.Store(true)
	}
	b.coord.RequestCollection(tls)
}

// IsUserTriggered reports whether the running pause was requested by the
// runtime.
func (b *BasePlan) IsUserTriggered() bool { return b.userTriggered.Load() }

// IsEmergency reports whether the running pause must reclaim everything it
// can, soft references included.
func (b *BasePlan) IsEmergency() bool { return b.emergency.Load() }

// EndOfGC resets per-pause flags. If the heap is still full the next pause
// is an emergency.
func (b *BasePlan) EndOfGC() {
	b.userTriggered.Store(false)
	full := b.Trigger().IsHeapFull()
	b.emergency.Store(full)
	if full {
		log.Warning("heap still full after collection, next collection is an emergency")
	}
}

func (b *BasePlan) recordReferences(s refproc.Semantics, res refproc.Result) {
	b.mu.Lock()
	b.lastRefs[s] = res
	b.mu.Unlock()
}

// LastReferenceResults returns what the latest pause did to each reference
// kind, indexed by refproc.Semantics.
func (b *BasePlan) LastReferenceResults() [3]refproc.Result {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.lastRefs
}
