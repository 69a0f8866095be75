package policy

import (
	"errors"
	"testing"

	"github.com/chazu/gcore/heap"
	"github.com/chazu/gcore/metadata"
)

type testHeap struct {
	mem   *heap.Memory
	vmmap *heap.VMMap
	store *metadata.Store
}

func newTestHeap(t *testing.T) *testHeap {
	t.Helper()
	mem, err := heap.NewMemory(heap.DefaultHeapStart, 8*heap.BytesInChunk)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { mem.Close() })
	store, err := metadata.NewStore(mem)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { store.Close() })
	return &testHeap{mem: mem, vmmap: heap.NewVMMap(mem), store: store}
}

func (h *testHeap) args(name string, poller Poller) Args {
	return Args{
		Name:      name,
		Zeroed:    true,
		VMRequest: heap.DiscontiguousRequest(),
		Memory:    h.mem,
		VMMap:     h.vmmap,
		Metadata:  h.store,
		Poller:    poller,
	}
}

type queue []heap.Address

func (q *queue) Enqueue(obj heap.Address) { *q = append(*q, obj) }

type denyAll struct{ asked int }

func (d *denyAll) Admit(string, int) bool {
	d.asked++
	return false
}

// bumpCopier copies into pages taken from a target space.
type bumpCopier struct {
	t      *testing.T
	mem    *heap.Memory
	target *CopySpace
	cursor heap.Address
}

func (c *bumpCopier) CopyObject(obj heap.Address, size uintptr) (heap.Address, error) {
	if c.cursor.IsZero() {
		start, err := c.target.Acquire(0, 1)
		if err != nil {
			return 0, err
		}
		c.cursor = start
	}
	to := c.cursor
	c.mem.Copy(to, obj, size)
	c.cursor = c.cursor.Add(size)
	return to, nil
}

type fixedSize uintptr

func (s fixedSize) ObjectSize(heap.Address) uintptr { return uintptr(s) }

func TestImmortalTraceMarksOnce(t *testing.T) {
	h := newTestHeap(t)
	s, err := NewImmortalSpace(h.args("immortal", nil))
	if err != nil {
		t.Fatal(err)
	}
	obj, err := s.Acquire(1, 1)
	if err != nil {
		t.Fatal(err)
	}
	if !s.InSpace(obj) {
		t.Fatalf("acquired %s outside the space", obj)
	}

	var q queue
	if got := s.TraceObject(&q, obj); got != obj {
		t.Errorf("TraceObject moved %s to %s", obj, got)
	}
	s.TraceObject(&q, obj)
	if len(q) != 1 {
		t.Errorf("queued %d times, want once", len(q))
	}
	if !s.IsMarked(obj) {
		t.Error("object not marked")
	}

	s.Prepare()
	if s.IsMarked(obj) {
		t.Error("Prepare left the mark set")
	}
	if !s.IsLive(obj) || s.IsMovable() {
		t.Error("immortal space must keep objects live and in place")
	}
}

func TestCopySpaceForwarding(t *testing.T) {
	h := newTestHeap(t)
	from, err := NewCopySpace(h.args("copyspace0", nil), false)
	if err != nil {
		t.Fatal(err)
	}
	to, err := NewCopySpace(h.args("copyspace1", nil), false)
	if err != nil {
		t.Fatal(err)
	}
	obj, err := from.Acquire(1, 1)
	if err != nil {
		t.Fatal(err)
	}
	h.mem.StoreWord(obj, 0xabcd)
	h.mem.StoreWord(obj.Add(heap.BytesInWord), 42)

	var q queue
	copier := &bumpCopier{t: t, mem: h.mem, target: to}
	if got, _ := from.TraceObject(&q, obj, fixedSize(16), copier); got != obj {
		t.Fatalf("TraceObject outside a pause moved the object to %s", got)
	}

	from.Prepare(true)
	if from.IsLive(obj) {
		t.Error("unreached object live in the from-space")
	}
	newObj, err := from.TraceObject(&q, obj, fixedSize(16), copier)
	if err != nil {
		t.Fatal(err)
	}
	if !to.InSpace(newObj) {
		t.Fatalf("copy at %s, not in the to-space", newObj)
	}
	if h.mem.LoadWord(newObj) != 0xabcd || h.mem.LoadWord(newObj.Add(heap.BytesInWord)) != 42 {
		t.Error("copy does not match the original")
	}
	again, _ := from.TraceObject(&q, obj, fixedSize(16), copier)
	if again != newObj || len(q) != 1 {
		t.Errorf("second trace returned %s with %d queued, want %s once", again, len(q), newObj)
	}
	if !from.IsLive(obj) || from.ForwardedObject(obj) != newObj {
		t.Error("forwarding not recorded")
	}

	from.Release()
	if from.ReservedPages() != 0 {
		t.Errorf("from-space reserves %d pages after Release", from.ReservedPages())
	}
	if from.IsFromSpace() {
		t.Error("Release left the from flag set")
	}
	if to.ReservedPages() != 1 {
		t.Errorf("to-space reserves %d pages, want 1", to.ReservedPages())
	}
}

func TestAcquireDeniedByPoller(t *testing.T) {
	h := newTestHeap(t)
	poller := &denyAll{}
	s, err := NewImmortalSpace(h.args("immortal", poller))
	if err != nil {
		t.Fatal(err)
	}
	if _, err := s.Acquire(1, 4); !errors.Is(err, ErrSpaceFull) {
		t.Errorf("err = %v, want ErrSpaceFull", err)
	}
	if poller.asked != 1 {
		t.Errorf("poller asked %d times, want 1", poller.asked)
	}
	if s.ReservedPages() != 0 {
		t.Errorf("denied acquire reserved %d pages", s.ReservedPages())
	}
}

func TestSpacesHaveDisjointMetadata(t *testing.T) {
	h := newTestHeap(t)
	a, err := NewCopySpace(h.args("copyspace0", nil), false)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewImmortalSpace(h.args("immortal", nil))
	if err != nil {
		t.Fatal(err)
	}
	sanity := metadata.NewSanity(h.store.Coverage())
	for _, s := range []Space{a, b} {
		if err := s.VerifySideMetadataSanity(sanity); err != nil {
			t.Errorf("%s: %v", s.Name(), err)
		}
	}
}
