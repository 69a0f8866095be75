package refproc

import (
	"errors"
	"sync"
	"testing"

	"github.com/chazu/gcore/heap"
)

// fakeHeap is a tracer and reference glue over a map of referents.
type fakeHeap struct {
	live      map[heap.Address]bool
	forward   map[heap.Address]heap.Address
	referents map[heap.Address]heap.Address
	enqueued  []heap.Address
	traced    []heap.Address
}

func newFakeHeap() *fakeHeap {
	return &fakeHeap{
		live:      make(map[heap.Address]bool),
		forward:   make(map[heap.Address]heap.Address),
		referents: make(map[heap.Address]heap.Address),
	}
}

func (h *fakeHeap) IsLive(obj heap.Address) bool { return h.live[obj] }

func (h *fakeHeap) GetForwardedObject(obj heap.Address) heap.Address {
	if to, ok := h.forward[obj]; ok {
		return to
	}
	return obj
}

func (h *fakeHeap) TraceObject(obj heap.Address) heap.Address {
	h.live[obj] = true
	h.traced = append(h.traced, obj)
	return h.GetForwardedObject(obj)
}

func (h *fakeHeap) Referent(ref heap.Address) heap.Address { return h.referents[ref] }

func (h *fakeHeap) SetReferent(ref, referent heap.Address) { h.referents[ref] = referent }

func (h *fakeHeap) EnqueueReferences(refs []heap.Address) {
	h.enqueued = append(h.enqueued, refs...)
}

func TestAddCandidateConcurrent(t *testing.T) {
	const goroutines, perGoroutine = 16, 500
	p := NewProcessor(Weak, 0)

	var wg sync.WaitGroup
	for g := 0; g < goroutines; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < perGoroutine; i++ {
				ref := heap.Address(uint64(g)<<32 | uint64(i+1)<<3)
				if err := p.AddCandidate(ref); err != nil {
					t.Error(err)
					return
				}
			}
		}(g)
	}
	wg.Wait()

	if got, want := p.Len(), goroutines*perGoroutine; got != want {
		t.Fatalf("Len() = %d, want %d", got, want)
	}
	seen := make(map[heap.Address]bool)
	p.mu.Lock()
	for _, r := range p.references {
		seen[r] = true
	}
	p.mu.Unlock()
	if len(seen) != goroutines*perGoroutine {
		t.Errorf("%d distinct entries, want %d", len(seen), goroutines*perGoroutine)
	}
}

func TestTableGrowth(t *testing.T) {
	p := NewProcessor(Soft, 0)
	if got := p.Cap(); got != InitialSize {
		t.Fatalf("initial Cap() = %d, want %d", got, InitialSize)
	}
	for i := 0; i <= InitialSize; i++ {
		if err := p.AddCandidate(heap.Address(i+1) << 3); err != nil {
			t.Fatal(err)
		}
	}
	if got, want := p.Cap(), InitialSize*GrowthFactor; got != want {
		t.Errorf("Cap() after %d adds = %d, want %d", InitialSize+1, got, want)
	}
}

func TestTableFull(t *testing.T) {
	p := NewProcessor(Phantom, 300)
	for i := 0; i < 300; i++ {
		if err := p.AddCandidate(heap.Address(i+1) << 3); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}
	if got := p.Cap(); got != 300 {
		t.Errorf("Cap() = %d, want growth clamped to 300", got)
	}
	if err := p.AddCandidate(0x1000); !errors.Is(err, ErrTableFull) {
		t.Fatalf("err = %v, want ErrTableFull", err)
	}
	if got := p.Len(); got != 300 {
		t.Errorf("Len() = %d after rejected add, want 300", got)
	}
}

func TestTableFullBelowInitialSize(t *testing.T) {
	p := NewProcessor(Weak, 10)
	for i := 0; i < 10; i++ {
		if err := p.AddCandidate(heap.Address(i+1) << 3); err != nil {
			t.Fatalf("add %d: %v", i, err)
		}
	}
	if err := p.AddCandidate(0x1000); !errors.Is(err, ErrTableFull) {
		t.Fatalf("err = %v, want ErrTableFull", err)
	}
	if got := p.Len(); got != 10 {
		t.Errorf("Len() = %d, want 10", got)
	}
	if got := p.Cap(); got != 10 {
		t.Errorf("Cap() = %d, want 10", got)
	}
}

func TestScanClearsForwardsAndDrops(t *testing.T) {
	h := newFakeHeap()
	p := NewProcessor(Weak, 0)

	const (
		liveRef, movedRef, deadRef, clearedRef, deadReferentRef heap.Address = 0x100, 0x200, 0x300, 0x400, 0x500
		liveObj, movedObj, deadObj                              heap.Address = 0x1100, 0x1200, 0x1300
	)
	for _, ref := range []heap.Address{liveRef, movedRef, deadRef, clearedRef, deadReferentRef} {
		if err := p.AddCandidate(ref); err != nil {
			t.Fatal(err)
		}
	}
	h.live[liveRef], h.live[movedRef], h.live[clearedRef], h.live[deadReferentRef] = true, true, true, true
	h.live[liveObj], h.live[movedObj] = true, true
	h.referents[liveRef] = liveObj
	h.referents[movedRef] = movedObj
	h.referents[deadRef] = liveObj
	h.referents[deadReferentRef] = deadObj
	h.forward[movedRef] = 0x2200
	h.referents[0x2200] = movedObj
	h.forward[movedObj] = 0x3200

	res := p.Scan(h, h, true)

	want := Result{Scanned: 5, Kept: 2, Cleared: 1, Dropped: 2}
	if res != want {
		t.Errorf("Scan() = %+v, want %+v", res, want)
	}
	if p.Contains(deadRef) || p.Contains(clearedRef) || p.Contains(deadReferentRef) {
		t.Error("dead or cleared reference left in table")
	}
	if !p.Contains(liveRef) || !p.Contains(0x2200) {
		t.Error("live references not kept at their final addresses")
	}
	if got := h.referents[0x2200]; got != 0x3200 {
		t.Errorf("moved referent = %s, want 0x3200", got)
	}
	if got := h.referents[deadReferentRef]; !got.IsZero() {
		t.Errorf("dead referent not cleared: %s", got)
	}
	if len(h.enqueued) != 1 || h.enqueued[0] != deadReferentRef {
		t.Errorf("enqueued = %v, want [%s]", h.enqueued, deadReferentRef)
	}
	if got := p.NurseryIndex(); got != p.Len() {
		t.Errorf("NurseryIndex() = %d, want table length %d", got, p.Len())
	}
}

func TestNurseryIndexMonotone(t *testing.T) {
	h := newFakeHeap()
	p := NewProcessor(Weak, 0)

	next := heap.Address(0x1000)
	prev := 0
	for round := 0; round < 5; round++ {
		for i := 0; i < 10; i++ {
			ref, obj := next, next+8
			next += 16
			h.live[ref] = true
			h.referents[ref] = obj
			// Every other referent survives.
			h.live[obj] = i%2 == 0
			if err := p.AddCandidate(ref); err != nil {
				t.Fatal(err)
			}
		}
		p.Scan(h, h, true)
		idx := p.NurseryIndex()
		if idx < prev {
			t.Fatalf("round %d: NurseryIndex() = %d, decreased from %d", round, idx, prev)
		}
		if idx > p.Len() {
			t.Fatalf("round %d: NurseryIndex() = %d beyond length %d", round, idx, p.Len())
		}
		prev = idx
	}
	if got, want := p.Len(), 25; got != want {
		t.Errorf("Len() = %d, want %d", got, want)
	}
}

func TestNurseryScanSkipsOldEntries(t *testing.T) {
	h := newFakeHeap()
	p := NewProcessor(Weak, 0)

	h.live[0x100], h.live[0x1100] = true, true
	h.referents[0x100] = 0x1100
	p.AddCandidate(0x100)
	p.Scan(h, h, true)

	// The old referent dies, but a nursery scan does not revisit it.
	h.live[0x1100] = false
	h.live[0x200], h.live[0x1200] = true, true
	h.referents[0x200] = 0x1200
	p.AddCandidate(0x200)
	if res := p.Scan(h, h, true); res.Scanned != 1 {
		t.Errorf("nursery scan visited %d entries, want 1", res.Scanned)
	}
	if !p.Contains(0x100) {
		t.Error("nursery scan dropped an old entry")
	}

	if res := p.Scan(h, h, false); res.Cleared != 1 {
		t.Errorf("full scan cleared %d, want 1", res.Cleared)
	}
	if p.Contains(0x100) {
		t.Error("full scan kept a reference with a dead referent")
	}
}

func TestRetainKeepsReferents(t *testing.T) {
	h := newFakeHeap()
	p := NewProcessor(Soft, 0)

	h.live[0x100] = true
	h.referents[0x100] = 0x1100
	p.AddCandidate(0x100)

	p.Retain(h, h)
	if len(h.traced) != 1 || h.traced[0] != 0x1100 {
		t.Fatalf("traced = %v, want [0x1100]", h.traced)
	}
	res := p.Scan(h, h, false)
	if res.Kept != 1 || res.Cleared != 0 {
		t.Errorf("Scan() after Retain = %+v, want the reference kept", res)
	}
}

func TestRegistry(t *testing.T) {
	r := NewRegistry(0, false)
	for _, s := range All() {
		if err := r.AddCandidate(s, 0x100); err != nil {
			t.Fatal(err)
		}
	}
	if got := r.Len(); got != 3 {
		t.Errorf("Len() = %d, want 3", got)
	}
	if got := r.Get(Weak).Semantics(); got != Weak {
		t.Errorf("Get(Weak).Semantics() = %s", got)
	}
	if r.PagesUsed() < 3 {
		t.Errorf("PagesUsed() = %d, want at least one page per table", r.PagesUsed())
	}

	for _, s := range []Semantics{-1, 3, 7} {
		if err := r.AddCandidate(s, 0x100); !errors.Is(err, ErrUnknownSemantics) {
			t.Errorf("AddCandidate(%s): err = %v, want ErrUnknownSemantics", s, err)
		}
	}
	if got := r.Len(); got != 3 {
		t.Errorf("Len() = %d after rejected adds, want 3", got)
	}

	off := NewRegistry(0, true)
	if err := off.AddCandidate(Weak, 0x100); err != nil {
		t.Fatal(err)
	}
	if off.Len() != 0 {
		t.Error("disabled registry recorded a candidate")
	}
}
