// Package gc is the entry point a language runtime embeds: it builds the
// configured plan, binds mutators, allocates with one collection retry,
// runs stop-the-world pauses and registers reference objects.
package gc

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/tliron/commonlog"

	"github.com/chazu/gcore/alloc"
	"github.com/chazu/gcore/config"
	"github.com/chazu/gcore/heap"
	"github.com/chazu/gcore/plan"
	"github.com/chazu/gcore/plan/nogc"
	"github.com/chazu/gcore/plan/semispace"
	"github.com/chazu/gcore/policy"
	"github.com/chazu/gcore/refproc"
	"github.com/chazu/gcore/scheduler"
	"github.com/chazu/gcore/stats"
	"github.com/chazu/gcore/vm"
)

var log = commonlog.GetLogger("gcore.gc")

// planHandle is the configured plan with its concrete type kept, so
// mutators are built by the plan package that knows their layout.
type planHandle struct {
	kind      string
	nogc      *nogc.NoGC
	semispace *semispace.SemiSpace
}

func (h planHandle) plan() plan.Plan {
	switch h.kind {
	case config.NoGC:
		return h.nogc
	case config.SemiSpace:
		return h.semispace
	}
	panic(fmt.Sprintf("gc: unknown plan kind %q", h.kind))
}

func (h planHandle) newMutator(tls vm.MutatorThread) (*plan.Mutator, error) {
	switch h.kind {
	case config.NoGC:
		return nogc.NewMutator(tls, h.nogc)
	case config.SemiSpace:
		return semispace.NewMutator(tls, h.semispace)
	}
	panic(fmt.Sprintf("gc: unknown plan kind %q", h.kind))
}

func newPlan(args *plan.CreateGeneralPlanArgs) (planHandle, error) {
	h := planHandle{kind: args.Options.Plan.Kind}
	var err error
	switch h.kind {
	case config.NoGC:
		h.nogc, err = nogc.New(args)
	case config.SemiSpace:
		h.semispace, err = semispace.New(args)
	default:
		err = fmt.Errorf("gc: unknown plan kind %q", h.kind)
	}
	return h, err
}

// Instance is one collector with its heap. A runtime creates exactly one.
type Instance struct {
	cfg      *config.Config
	binding  vm.Binding
	args     *plan.CreateGeneralPlanArgs
	handle   planHandle
	plan     plan.Plan
	ctrl     *controller
	recorder *stats.Recorder

	// world is held for reading by every mutator operation and for writing
	// by a pause.
	world sync.RWMutex

	mu       sync.Mutex
	mutators map[vm.MutatorThread]*plan.Mutator

	closed atomic.Bool
}

// New maps the heap, builds and checks the configured plan, and starts the
// pause controller. A nil cfg means config.Default().
func New(cfg *config.Config, binding vm.Binding) (*Instance, error) {
	if cfg == nil {
		cfg = config.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("gc: %w", err)
	}
	args, err := plan.NewGeneralPlanArgs(binding, cfg)
	if err != nil {
		return nil, err
	}
	handle, err := newPlan(args)
	if err != nil {
		args.Close()
		return nil, err
	}

	var store *stats.Store
	if path := cfg.DatabasePath(); path != "" {
		if store, err = stats.Open(path); err != nil {
			args.Close()
			return nil, fmt.Errorf("gc: pause history: %w", err)
		}
	}
	interval, _ := cfg.FlushInterval()

	i := &Instance{
		cfg:      cfg,
		binding:  binding,
		args:     args,
		handle:   handle,
		plan:     handle.plan(),
		recorder: stats.NewRecorder(store, interval),
		mutators: make(map[vm.MutatorThread]*plan.Mutator),
	}
	i.plan.Base().SetCoordinator(i)
	i.ctrl = newController(i)
	i.recorder.Start()
	log.Infof("%s plan on a %s heap at %s", i.plan.Name(), cfg.Heap.Size, args.Memory.Start())
	return i, nil
}

// Plan returns the plan.
func (i *Instance) Plan() plan.Plan { return i.plan }

// Config returns the options the instance was built with.
func (i *Instance) Config() *config.Config { return i.cfg }

// Memory returns the heap arena.
func (i *Instance) Memory() *heap.Memory { return i.args.Memory }

// Recorder returns the pause statistics.
func (i *Instance) Recorder() *stats.Recorder { return i.recorder }

// BindMutator creates the mutator for tls.
func (i *Instance) BindMutator(tls vm.MutatorThread) (*plan.Mutator, error) {
	if i.closed.Load() {
		return nil, ErrClosed
	}
	i.world.RLock()
	defer i.world.RUnlock()

	i.mu.Lock()
	defer i.mu.Unlock()
	if _, ok := i.mutators[tls]; ok {
		return nil, fmt.Errorf("gc: %s already has a mutator", tls)
	}
	m, err := i.handle.newMutator(tls)
	if err != nil {
		return nil, err
	}
	i.mutators[tls] = m
	log.Debugf("bound %s", tls)
	return m, nil
}

// DestroyMutator unbinds m. Its thread-local buffers are abandoned.
func (i *Instance) DestroyMutator(m *plan.Mutator) {
	i.world.RLock()
	defer i.world.RUnlock()

	i.mu.Lock()
	delete(i.mutators, m.Thread())
	i.mu.Unlock()
	m.Flush()
	log.Debugf("unbound %s", m.Thread())
}

// Mutators implements plan.Coordinator.
func (i *Instance) Mutators() []*plan.Mutator {
	i.mu.Lock()
	defer i.mu.Unlock()
	out := make([]*plan.Mutator, 0, len(i.mutators))
	for _, m := range i.mutators {
		out = append(out, m)
	}
	return out
}

// RequestCollection implements plan.Coordinator. It blocks until a pause
// has run.
func (i *Instance) RequestCollection(tls vm.MutatorThread) {
	if err := i.ctrl.collect(tls); err != nil {
		log.Warningf("%s: collection request dropped: %s", tls, err)
	}
}

func (i *Instance) allocOnce(m *plan.Mutator, semantics alloc.AllocationSemantics, size, align uintptr) (heap.Address, error) {
	i.world.RLock()
	defer i.world.RUnlock()
	return m.Alloc(semantics, size, align)
}

// Alloc allocates through m. When the space is full and the plan agrees a
// collection is required, it waits for one pause and tries once more. A
// request that still fails is reported to the binding and returned as an
// OutOfMemoryError.
func (i *Instance) Alloc(m *plan.Mutator, semantics alloc.AllocationSemantics, size, align uintptr) (heap.Address, error) {
	addr, err := i.allocOnce(m, semantics, size, align)
	if err == nil {
		return addr, nil
	}
	if !errors.Is(err, policy.ErrSpaceFull) {
		return 0, err
	}

	if i.plan.Constraints().CollectsGarbage && i.plan.CollectionRequired(true, m.Allocator(semantics).Space()) {
		if cerr := i.ctrl.collect(m.Thread()); cerr != nil {
			return 0, cerr
		}
		addr, err = i.allocOnce(m, semantics, size, align)
		if err == nil {
			return addr, nil
		}
	}
	oom := &OutOfMemoryError{Thread: m.Thread(), Request: semantics.String() + " allocation", Size: size, Cause: err}
	log.Warningf("%s", oom)
	i.binding.OutOfMemory(m.Thread(), oom)
	return 0, oom
}

// CollectionRequired asks the plan whether a pause is due.
func (i *Instance) CollectionRequired(spaceFull bool) bool {
	return i.plan.CollectionRequired(spaceFull, nil)
}

// HandleUserCollectionRequest passes a runtime-initiated request to the
// plan. Plans that do not collect log and ignore it.
func (i *Instance) HandleUserCollectionRequest(tls vm.MutatorThread, force, exhaustive bool) {
	i.plan.HandleUserCollectionRequest(tls, force, exhaustive)
}

// UsedPages returns the plan's page usage.
func (i *Instance) UsedPages() int { return i.plan.UsedPages() }

// AddCandidate registers a reference object of the given strength. A table
// that cannot grow is reported like an allocation failure.
func (i *Instance) AddCandidate(tls vm.MutatorThread, semantics refproc.Semantics, ref heap.Address) error {
	err := i.addCandidate(semantics, ref)
	if err == nil {
		return nil
	}
	if !errors.Is(err, refproc.ErrTableFull) {
		return err
	}
	oom := &OutOfMemoryError{Thread: tls, Request: semantics.String() + " reference table", Cause: err}
	log.Warningf("%s", oom)
	i.binding.OutOfMemory(tls, oom)
	return oom
}

func (i *Instance) addCandidate(semantics refproc.Semantics, ref heap.Address) error {
	i.world.RLock()
	defer i.world.RUnlock()
	return i.plan.Base().References().AddCandidate(semantics, ref)
}

// pause runs one stop-the-world collection. Called only by the controller.
func (i *Instance) pause(tls vm.MutatorThread) error {
	i.world.Lock()
	defer i.world.Unlock()

	p := i.plan
	base := p.Base()
	rec := &stats.PauseRecord{
		Seq:             i.recorder.NextSeq(),
		Plan:            p.Name(),
		UserTriggered:   base.IsUserTriggered(),
		Emergency:       base.IsEmergency(),
		Start:           time.Now(),
		UsedPagesBefore: p.UsedPages(),
	}
	log.Infof("pause %d requested by %s: %d pages used", rec.Seq, tls, rec.UsedPagesBefore)

	base.Trigger().SetInPause(true)
	defer base.Trigger().SetInPause(false)

	s := scheduler.New(i.cfg.Collection.Threads)
	p.ScheduleCollection(s)
	if err := s.Run(context.Background()); err != nil {
		return err
	}
	base.EndOfGC()

	refs := base.LastReferenceResults()
	rec.Duration = time.Since(rec.Start)
	rec.UsedPagesAfter = p.UsedPages()
	rec.Packets = s.Executed()
	rec.SoftCleared = refs[refproc.Soft].Cleared
	rec.WeakCleared = refs[refproc.Weak].Cleared
	rec.PhantomCleared = refs[refproc.Phantom].Cleared
	i.recorder.Record(rec)
	log.Infof("pause %d: %d -> %d pages in %s", rec.Seq, rec.UsedPagesBefore, rec.UsedPagesAfter, rec.Duration)
	return nil
}

// Report snapshots heap occupancy.
func (i *Instance) Report() *stats.HeapReport {
	i.world.RLock()
	defer i.world.RUnlock()

	p := i.plan
	rep := &stats.HeapReport{
		Plan:                    p.Name(),
		HeapPages:               p.Base().Trigger().HeapPages(),
		UsedPages:               p.UsedPages(),
		CollectionReservedPages: p.CollectionReservedPages(),
		Pauses:                  i.recorder.Pauses(),
		References:              p.Base().References().Len(),
		Mutators:                len(i.Mutators()),
	}
	for _, s := range p.Spaces() {
		rep.Spaces = append(rep.Spaces, stats.SpaceReport{Name: s.Name(), ReservedPages: s.ReservedPages()})
	}
	return rep
}

// Close stops the controller, flushes pause history and unmaps the heap.
// No mutator may be used afterwards.
func (i *Instance) Close() error {
	if !i.closed.CompareAndSwap(false, true) {
		return nil
	}
	i.ctrl.stop()
	var errs []error
	if err := i.recorder.Stop(); err != nil {
		errs = append(errs, err)
	}
	if s := i.recorder.Store(); s != nil {
		errs = append(errs, s.Close())
	}
	errs = append(errs, i.args.Close())
	return errors.Join(errs...)
}

var _ plan.Coordinator = (*Instance)(nil)
