package semispace

import (
	"context"
	"fmt"

	"github.com/chazu/gcore/alloc"
	"github.com/chazu/gcore/heap"
	"github.com/chazu/gcore/scheduler"
	"github.com/chazu/gcore/vm"
)

// collectorThread is the identity the copy allocator acquires pages under.
const collectorThread vm.MutatorThread = -1

// tracer is the closure of one pause: it evacuates from-space objects
// reachable from the roots into the to-space, Cheney style. It is driven by
// one packet at a time, so its queue needs no locking.
type tracer struct {
	p       *SemiSpace
	binding vm.Binding
	mem     *heap.Memory
	copy    *alloc.BumpAllocator
	queue   []heap.Address
	err     error

	copiedObjects int
	copiedBytes   uintptr
}

func newTracer(p *SemiSpace) *tracer {
	return &tracer{
		p:       p,
		binding: p.base.Binding(),
		mem:     p.base.Memory(),
	}
}

// Do runs the closure from the roots.
func (t *tracer) Do(ctx context.Context, _ *scheduler.Worker) error {
	t.binding.ScanRoots(t.traceSlot)
	if err := t.Drain(ctx); err != nil {
		return err
	}
	log.Debugf("closure: copied %d objects, %d bytes", t.copiedObjects, t.copiedBytes)
	return nil
}

// Enqueue implements policy.ObjectQueue.
func (t *tracer) Enqueue(obj heap.Address) {
	t.queue = append(t.queue, obj)
}

// CopyObject implements policy.Copier.
func (t *tracer) CopyObject(obj heap.Address, size uintptr) (heap.Address, error) {
	if t.copy == nil {
		// Bound on first use: the to-space is only known after Prepare.
		t.copy = alloc.NewBumpAllocator(collectorThread, t.p.ToSpace())
	}
	to, err := t.copy.Alloc(size, heap.BytesInWord)
	if err != nil {
		return 0, fmt.Errorf("semispace: copy %s (%d bytes): %w", obj, size, err)
	}
	t.mem.Copy(to, obj, size)
	t.copiedObjects++
	t.copiedBytes += size
	return to, nil
}

func (t *tracer) trace(obj heap.Address) (heap.Address, error) {
	p := t.p
	switch {
	case p.copyspace0.InSpace(obj):
		return p.copyspace0.TraceObject(t, obj, t.binding, t)
	case p.copyspace1.InSpace(obj):
		return p.copyspace1.TraceObject(t, obj, t.binding, t)
	case p.immortal.InSpace(obj):
		return p.immortal.TraceObject(t, obj), nil
	case p.los.InSpace(obj):
		return p.los.TraceObject(t, obj), nil
	case p.base.ROSpace().InSpace(obj):
		return p.base.ROSpace().TraceObject(t, obj), nil
	}
	return 0, fmt.Errorf("semispace: %s is not in any space", obj)
}

func (t *tracer) traceSlot(slot vm.Slot) {
	obj := slot.Load()
	if obj.IsZero() || t.err != nil {
		return
	}
	to, err := t.trace(obj)
	if err != nil {
		t.err = err
		return
	}
	slot.Store(to)
}

// Drain scans queued objects until the closure is complete.
func (t *tracer) Drain(ctx context.Context) error {
	for len(t.queue) > 0 && t.err == nil {
		if len(t.queue)%1024 == 0 {
			if err := ctx.Err(); err != nil {
				return err
			}
		}
		obj := t.queue[len(t.queue)-1]
		t.queue = t.queue[:len(t.queue)-1]
		t.binding.ScanObject(obj, t.traceSlot)
	}
	return t.err
}

// IsLive implements refproc.Tracer.
func (t *tracer) IsLive(obj heap.Address) bool {
	for _, s := range t.p.Spaces() {
		if s.InSpace(obj) {
			return s.IsLive(obj)
		}
	}
	return false
}

// GetForwardedObject implements refproc.Tracer.
func (t *tracer) GetForwardedObject(obj heap.Address) heap.Address {
	from := t.p.FromSpace()
	if from.InSpace(obj) {
		if to := from.ForwardedObject(obj); !to.IsZero() {
			return to
		}
	}
	return obj
}

// TraceObject implements refproc.Tracer. A failure is reported by the next
// Drain.
func (t *tracer) TraceObject(obj heap.Address) heap.Address {
	if t.err != nil {
		return obj
	}
	to, err := t.trace(obj)
	if err != nil {
		t.err = err
		return obj
	}
	return to
}
