package plan

import (
	"sync/atomic"

	"github.com/chazu/gcore/heap"
)

// GCTrigger holds mutators to a fixed heap budget. Allocation during a
// pause is always admitted so that a collection can copy what it keeps.
type GCTrigger struct {
	heapPages int
	plan      Plan
	inPause   atomic.Bool
}

// NewGCTrigger creates a trigger for a heap of heapBytes.
func NewGCTrigger(heapBytes uintptr) *GCTrigger {
	return &GCTrigger{heapPages: heap.PagesFor(heapBytes)}
}

// Attach connects the trigger to the plan whose usage it polls. Called once
// by the plan constructor.
func (t *GCTrigger) Attach(p Plan) { t.plan = p }

// HeapPages returns the budget.
func (t *GCTrigger) HeapPages() int { return t.heapPages }

// SetInPause marks the start or end of a pause.
func (t *GCTrigger) SetInPause(v bool) { t.inPause.Store(v) }

// InPause reports whether a pause is running.
func (t *GCTrigger) InPause() bool { return t.inPause.Load() }

// Admit implements policy.Poller.
func (t *GCTrigger) Admit(space string, pages int) bool {
	if t.plan == nil || t.inPause.Load() {
		return true
	}
	ok := t.plan.UsedPages()+t.plan.CollectionReservedPages()+pages <= t.heapPages
	if !ok {
		log.Debugf("%s: %d pages refused, heap budget %d pages", space, pages, t.heapPages)
	}
	return ok
}

// IsHeapFull reports whether usage plus the collection reserve exceeds the
// budget.
func (t *GCTrigger) IsHeapFull() bool {
	if t.plan == nil {
		return false
	}
	return t.plan.UsedPages()+t.plan.CollectionReservedPages() > t.heapPages
}
