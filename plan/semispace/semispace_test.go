package semispace

import (
	"context"
	"testing"

	"github.com/inhies/go-bytesize"

	"github.com/chazu/gcore/alloc"
	"github.com/chazu/gcore/config"
	"github.com/chazu/gcore/heap"
	"github.com/chazu/gcore/plan"
	"github.com/chazu/gcore/refproc"
	"github.com/chazu/gcore/scheduler"
	"github.com/chazu/gcore/vm"
	"github.com/chazu/gcore/vm/vmtest"
)

// testCoordinator runs pauses inline on the calling goroutine.
type testCoordinator struct {
	t        *testing.T
	p        *SemiSpace
	mutators []*plan.Mutator
}

func (c *testCoordinator) Mutators() []*plan.Mutator { return c.mutators }

func (c *testCoordinator) RequestCollection(vm.MutatorThread) { c.collect() }

func (c *testCoordinator) collect() {
	c.t.Helper()
	trigger := c.p.Base().Trigger()
	trigger.SetInPause(true)
	defer trigger.SetInPause(false)
	s := scheduler.New(2)
	c.p.ScheduleCollection(s)
	if err := s.Run(context.Background()); err != nil {
		c.t.Fatalf("pause failed: %v", err)
	}
	c.p.Base().EndOfGC()
}

type fixture struct {
	p     *SemiSpace
	rt    *vmtest.Runtime
	m     *plan.Mutator
	coord *testCoordinator
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	opts := config.Default()
	opts.Heap.Size = 64 * bytesize.MB
	rt := vmtest.New()
	args, err := plan.NewGeneralPlanArgs(rt, opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { args.Close() })
	p, err := New(args)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	m, err := NewMutator(1, p)
	if err != nil {
		t.Fatal(err)
	}
	coord := &testCoordinator{t: t, p: p, mutators: []*plan.Mutator{m}}
	p.Base().SetCoordinator(coord)
	return &fixture{p: p, rt: rt, m: m, coord: coord}
}

func (f *fixture) newObject(t *testing.T, sem alloc.AllocationSemantics, fields int) heap.Address {
	t.Helper()
	obj, err := f.m.Alloc(sem, vmtest.ObjectBytes(fields), heap.BytesInWord)
	if err != nil {
		t.Fatal(err)
	}
	f.rt.InitObject(obj, fields)
	return obj
}

func (f *fixture) newReference(t *testing.T, referent heap.Address) heap.Address {
	t.Helper()
	ref, err := f.m.Alloc(alloc.Default, vmtest.ObjectBytes(1), heap.BytesInWord)
	if err != nil {
		t.Fatal(err)
	}
	f.rt.InitReference(ref, referent)
	return ref
}

func TestConstraints(t *testing.T) {
	c := Constraints
	if !c.CollectsGarbage || !c.MovesObjects {
		t.Errorf("constraints = %+v, want a moving collector", c)
	}
	if c.GCHeaderBits != 2 || c.GCHeaderWords != 0 || c.NumSpecializedScans != 1 {
		t.Errorf("header layout = %+v", c)
	}
}

func TestCollectionEvacuatesSurvivors(t *testing.T) {
	f := newFixture(t)
	a := f.newObject(t, alloc.Default, 2)
	b := f.newObject(t, alloc.Default, 0)
	f.rt.SetField(a, 0, b)
	f.rt.SetField(a, 1, a)
	for i := 0; i < 100; i++ {
		f.newObject(t, alloc.Default, 3)
	}
	root := f.rt.AddRoot(a)
	from := f.p.ToSpace()

	f.coord.collect()

	if f.p.ToSpace() == from {
		t.Fatal("copy spaces did not flip")
	}
	newA := root.Load()
	if newA == a || !f.p.ToSpace().InSpace(newA) {
		t.Fatalf("root = %s, want an address in %s", newA, f.p.ToSpace().Name())
	}
	newB := f.rt.Field(newA, 0)
	if !f.p.ToSpace().InSpace(newB) {
		t.Errorf("field 0 = %s, not evacuated", newB)
	}
	if got := f.rt.Field(newA, 1); got != newA {
		t.Errorf("self reference = %s, want %s", got, newA)
	}
	if got := from.ReservedPages(); got != 0 {
		t.Errorf("from-space still reserves %d pages", got)
	}
	if got, want := f.p.ToSpace().ReservedPages(), heap.PagesFor(32<<10); got != want {
		t.Errorf("to-space reserves %d pages, want one copy block (%d)", got, want)
	}

	obj := f.newObject(t, alloc.Default, 1)
	if !f.p.ToSpace().InSpace(obj) {
		t.Errorf("allocation after the pause at %s, outside the new to-space", obj)
	}
}

func TestImmortalObjectsStayPut(t *testing.T) {
	f := newFixture(t)
	imm := f.newObject(t, alloc.Immortal, 1)
	young := f.newObject(t, alloc.Default, 0)
	f.rt.SetField(imm, 0, young)
	root := f.rt.AddRoot(imm)

	f.coord.collect()

	if root.Load() != imm {
		t.Errorf("immortal object moved from %s to %s", imm, root.Load())
	}
	if got := f.rt.Field(imm, 0); got == young || !f.p.ToSpace().InSpace(got) {
		t.Errorf("field of immortal object = %s, want the evacuated copy", got)
	}
	if !f.p.Immortal().IsMarked(imm) {
		t.Error("immortal object not marked")
	}
}

func TestWeakReferencesClearedAndForwarded(t *testing.T) {
	f := newFixture(t)
	live := f.newObject(t, alloc.Default, 0)
	dead := f.newObject(t, alloc.Default, 0)
	liveRef := f.newReference(t, live)
	deadRef := f.newReference(t, dead)
	f.rt.AddRoot(live)
	liveRoot := f.rt.AddRoot(liveRef)
	deadRoot := f.rt.AddRoot(deadRef)

	weak := f.p.Base().References().Get(refproc.Weak)
	weak.AddCandidate(liveRef)
	weak.AddCandidate(deadRef)

	f.coord.collect()

	newLiveRef, newDeadRef := liveRoot.Load(), deadRoot.Load()
	if got := f.rt.Referent(newDeadRef); !got.IsZero() {
		t.Errorf("referent of dead reference = %s, want cleared", got)
	}
	if weak.Contains(newDeadRef) || weak.Contains(deadRef) {
		t.Error("cleared reference still registered")
	}
	enq := f.rt.Enqueued()
	if len(enq) != 1 || enq[0] != newDeadRef {
		t.Errorf("enqueued = %v, want [%s]", enq, newDeadRef)
	}
	if got := f.rt.Referent(newLiveRef); got == live || !f.p.ToSpace().InSpace(got) {
		t.Errorf("referent of live reference = %s, want forwarded", got)
	}
	if !weak.Contains(newLiveRef) {
		t.Error("live reference not registered at its new address")
	}
	if got := f.p.Base().LastReferenceResults()[refproc.Weak]; got.Cleared != 1 || got.Kept != 1 {
		t.Errorf("weak results = %+v, want one kept and one cleared", got)
	}
}

func TestSoftReferencesSurviveUnlessEmergency(t *testing.T) {
	f := newFixture(t)
	referent := f.newObject(t, alloc.Default, 0)
	ref := f.newReference(t, referent)
	root := f.rt.AddRoot(ref)
	soft := f.p.Base().References().Get(refproc.Soft)
	soft.AddCandidate(ref)

	f.coord.collect()
	if got := f.rt.Referent(root.Load()); got.IsZero() {
		t.Fatal("soft referent cleared by an ordinary pause")
	}

	f.p.HandleUserCollectionRequest(1, true, true)
	if got := f.rt.Referent(root.Load()); !got.IsZero() {
		t.Errorf("soft referent = %s after an exhaustive collection, want cleared", got)
	}
	if soft.Len() != 0 {
		t.Errorf("soft table holds %d entries, want 0", soft.Len())
	}
	if f.p.Base().IsEmergency() {
		t.Error("emergency flag survived a pause that freed the heap")
	}
}

func TestUsedPagesIsSpacesPlusBase(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 50; i++ {
		f.rt.AddRoot(f.newObject(t, alloc.Default, 4))
		f.newObject(t, alloc.Los, 512)
		f.newObject(t, alloc.ReadOnly, 1)
	}
	check := func(when string) {
		sum := plan.SumReservedPages(f.p.Spaces()) + f.p.Base().OwnUsedPages()
		if got := f.p.UsedPages(); got != sum {
			t.Errorf("%s: UsedPages() = %d, want %d", when, got, sum)
		}
	}
	check("before pause")
	f.coord.collect()
	check("after pause")
	if got, want := f.p.CollectionReservedPages(), f.p.ToSpace().ReservedPages(); got != want {
		t.Errorf("CollectionReservedPages() = %d, want to-space pages %d", got, want)
	}
}

func TestRepeatedCollections(t *testing.T) {
	f := newFixture(t)
	head := f.newObject(t, alloc.Default, 1)
	root := f.rt.AddRoot(head)
	for round := 0; round < 6; round++ {
		for i := 0; i < 200; i++ {
			f.newObject(t, alloc.Default, 2)
		}
		// Grow the list by one node per round.
		node := f.newObject(t, alloc.Default, 1)
		f.rt.SetField(node, 0, root.Load())
		root.Store(node)
		f.coord.collect()
	}
	n := 0
	for obj := root.Load(); !obj.IsZero(); obj = f.rt.Field(obj, 0) {
		if !f.p.ToSpace().InSpace(obj) {
			t.Fatalf("node %d at %s outside the to-space", n, obj)
		}
		n++
	}
	if n != 7 {
		t.Errorf("list has %d nodes, want 7", n)
	}
}
