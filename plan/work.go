package plan

import (
	"context"

	"github.com/chazu/gcore/refproc"
	"github.com/chazu/gcore/scheduler"
)

// ClosureTracer is the trace a plan runs during a pause, seen from the
// reference processor. Drain finishes the transitive closure of whatever
// TraceObject queued.
type ClosureTracer interface {
	refproc.Tracer
	Drain(ctx context.Context) error
}

var refBuckets = [...]scheduler.Bucket{
	refproc.Soft:    scheduler.SoftRefClosure,
	refproc.Weak:    scheduler.WeakRefClosure,
	refproc.Phantom: scheduler.PhantomRefClosure,
}

// ScheduleCommonWork queues the work every collecting plan shares: the
// plan's prepare and release, each mutator's prepare and release, and
// reference processing against tracer once the closure is done.
func ScheduleCommonWork(s *scheduler.Scheduler, p Plan, tracer ClosureTracer) {
	base := p.Base()
	mutators := base.Mutators()

	s.AddFunc(scheduler.Prepare, func(_ context.Context, w *scheduler.Worker) error {
		p.Prepare(w.ID())
		for _, m := range mutators {
			m := m
			w.Scheduler().AddFunc(scheduler.Prepare, func(_ context.Context, w *scheduler.Worker) error {
				m.Prepare(w.ID())
				return nil
			})
		}
		return nil
	})

	if !base.References().Disabled() {
		for _, sem := range refproc.All() {
			sem := sem
			s.AddFunc(refBuckets[sem], func(ctx context.Context, _ *scheduler.Worker) error {
				return processReferences(ctx, base, sem, tracer)
			})
		}
	}

	s.AddFunc(scheduler.Release, func(_ context.Context, w *scheduler.Worker) error {
		p.Release(w.ID())
		for _, m := range mutators {
			m := m
			w.Scheduler().AddFunc(scheduler.Release, func(_ context.Context, w *scheduler.Worker) error {
				m.Release(w.ID())
				return nil
			})
		}
		return nil
	})
}

// processReferences handles one reference kind. Soft referents survive a
// pause that is not an emergency.
func processReferences(ctx context.Context, base *BasePlan, sem refproc.Semantics, tracer ClosureTracer) error {
	proc := base.References().Get(sem)
	if sem == refproc.Soft && !base.IsEmergency() {
		proc.Retain(tracer, base.Binding())
		if err := tracer.Drain(ctx); err != nil {
			return err
		}
	}
	res := proc.Scan(tracer, base.Binding(), false)
	base.recordReferences(sem, res)
	return nil
}
