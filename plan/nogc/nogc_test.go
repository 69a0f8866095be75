package nogc

import (
	"errors"
	"testing"

	"github.com/inhies/go-bytesize"

	"github.com/chazu/gcore/alloc"
	"github.com/chazu/gcore/config"
	"github.com/chazu/gcore/heap"
	"github.com/chazu/gcore/metadata"
	"github.com/chazu/gcore/plan"
	"github.com/chazu/gcore/policy"
	"github.com/chazu/gcore/scheduler"
	"github.com/chazu/gcore/vm/vmtest"
)

func newTestPlan(t *testing.T, multiSpace bool) *NoGC {
	t.Helper()
	opts := config.Default()
	opts.Plan.Kind = config.NoGC
	opts.Plan.MultiSpace = multiSpace
	opts.Heap.Size = 32 * bytesize.MB
	args, err := plan.NewGeneralPlanArgs(vmtest.New(), opts)
	if err != nil {
		t.Fatal(err)
	}
	t.Cleanup(func() { args.Close() })
	p, err := New(args)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return p
}

func mustPanic(t *testing.T, name string, fn func()) {
	t.Helper()
	defer func() {
		if recover() == nil {
			t.Errorf("%s returned instead of panicking", name)
		}
	}()
	fn()
}

func TestUnsupportedPauseHooksPanic(t *testing.T) {
	p := newTestPlan(t, false)
	mustPanic(t, "Prepare", func() { p.Prepare(0) })
	mustPanic(t, "Release", func() { p.Release(0) })
	mustPanic(t, "ScheduleCollection", func() { p.ScheduleCollection(scheduler.New(1)) })
}

func TestUserCollectionRequestIgnored(t *testing.T) {
	p := newTestPlan(t, true)
	m, err := NewMutator(1, p)
	if err != nil {
		t.Fatal(err)
	}
	if _, err := m.Alloc(alloc.Default, 128, 8); err != nil {
		t.Fatal(err)
	}

	used := p.UsedPages()
	spaces := p.Spaces()
	for i := 0; i < 10; i++ {
		p.HandleUserCollectionRequest(1, i%2 == 0, i%3 == 0)
	}
	if got := p.UsedPages(); got != used {
		t.Errorf("UsedPages() = %d after requests, want %d", got, used)
	}
	after := p.Spaces()
	if len(after) != len(spaces) {
		t.Fatalf("Spaces() has %d entries after requests, want %d", len(after), len(spaces))
	}
	for i := range spaces {
		if after[i] != spaces[i] {
			t.Errorf("Spaces()[%d] changed from %s to %s", i, spaces[i].Name(), after[i].Name())
		}
	}
}

func TestUsedPagesIsSpacesPlusBase(t *testing.T) {
	for _, multi := range []bool{false, true} {
		p := newTestPlan(t, multi)
		m, err := NewMutator(1, p)
		if err != nil {
			t.Fatal(err)
		}
		for i, sem := range alloc.AllSemantics() {
			for j := 0; j < 20; j++ {
				if _, err := m.Alloc(sem, uintptr(64*(i+1)), 8); err != nil {
					t.Fatalf("multi=%t: alloc %s: %v", multi, sem, err)
				}
			}
		}
		p.Base().References().AddCandidate(0, heap.DefaultHeapStart)

		sum := plan.SumReservedPages(p.Spaces()) + p.Base().OwnUsedPages()
		if got := p.UsedPages(); got != sum {
			t.Errorf("multi=%t: UsedPages() = %d, want spaces+base = %d", multi, got, sum)
		}
		if p.nogcSpace.ReservedPages() == 0 {
			t.Errorf("multi=%t: default space reserved nothing", multi)
		}
	}
}

func TestMappingTotality(t *testing.T) {
	cases := []struct {
		multi bool
		want  map[alloc.AllocationSemantics]func(*NoGC) policy.Space
	}{
		{false, map[alloc.AllocationSemantics]func(*NoGC) policy.Space{
			alloc.Default:  func(p *NoGC) policy.Space { return p.nogcSpace },
			alloc.Immortal: func(p *NoGC) policy.Space { return p.nogcSpace },
			alloc.Los:      func(p *NoGC) policy.Space { return p.nogcSpace },
			alloc.Code:     func(p *NoGC) policy.Space { return p.nogcSpace },
			alloc.ReadOnly: func(p *NoGC) policy.Space { return p.nogcSpace },
		}},
		{true, map[alloc.AllocationSemantics]func(*NoGC) policy.Space{
			alloc.Default:  func(p *NoGC) policy.Space { return p.nogcSpace },
			alloc.Immortal: func(p *NoGC) policy.Space { return p.immortal },
			alloc.Los:      func(p *NoGC) policy.Space { return p.los },
			alloc.Code:     func(p *NoGC) policy.Space { return p.immortal },
			alloc.ReadOnly: func(p *NoGC) policy.Space { return p.base.ROSpace() },
		}},
	}
	for _, tc := range cases {
		p := newTestPlan(t, tc.multi)
		if err := p.AllocatorMapping().Validate(); err != nil {
			t.Fatalf("multi=%t: mapping not total: %v", tc.multi, err)
		}
		cfg := p.MutatorConfig()
		bound := make(map[alloc.AllocatorSelector]bool)
		for _, sm := range cfg.SpaceMapping {
			bound[sm.Selector] = true
		}
		m, err := NewMutator(1, p)
		if err != nil {
			t.Fatal(err)
		}
		for _, sem := range alloc.AllSemantics() {
			sel := p.AllocatorMapping().Get(sem)
			if !bound[sel] {
				t.Errorf("multi=%t: %s maps to %s with no space", tc.multi, sem, sel)
			}
			a := m.Allocator(sem)
			if a == nil {
				t.Fatalf("multi=%t: no allocator for %s", tc.multi, sem)
			}
			if want := tc.want[sem](p); a.Space() != want {
				t.Errorf("multi=%t: %s allocates from %s, want %s", tc.multi, sem, a.Space().Name(), want.Name())
			}
			obj, err := m.Alloc(sem, 32, 8)
			if err != nil {
				t.Fatal(err)
			}
			if !tc.want[sem](p).InSpace(obj) {
				t.Errorf("multi=%t: %s object %s outside %s", tc.multi, sem, obj, tc.want[sem](p).Name())
			}
		}
	}
}

func TestSharedMutatorConfig(t *testing.T) {
	p := newTestPlan(t, true)
	a, err := NewMutator(1, p)
	if err != nil {
		t.Fatal(err)
	}
	b, err := NewMutator(2, p)
	if err != nil {
		t.Fatal(err)
	}
	if a.Config() != b.Config() {
		t.Error("mutators of one plan do not share their configuration")
	}
	if a.Allocator(alloc.Default) == b.Allocator(alloc.Default) {
		t.Error("mutators share an allocator instance")
	}
}

func TestExhaustionReportsSpaceFull(t *testing.T) {
	p := newTestPlan(t, false)
	m, err := NewMutator(1, p)
	if err != nil {
		t.Fatal(err)
	}
	var allocErr error
	for i := 0; i < 10000 && allocErr == nil; i++ {
		_, allocErr = m.Alloc(alloc.Default, 16<<10, 8)
	}
	if !errors.Is(allocErr, policy.ErrSpaceFull) {
		t.Fatalf("err = %v, want ErrSpaceFull", allocErr)
	}
	if !p.CollectionRequired(true, p.nogcSpace) {
		t.Error("CollectionRequired(true) = false")
	}
	if p.Constraints().CollectsGarbage {
		t.Error("nogc claims to collect garbage")
	}
}

func TestSanityRejectsOverlappingSpaces(t *testing.T) {
	p := newTestPlan(t, false)
	base := p.Base()
	specific, err := plan.NewSpecificPlanArgs(&plan.CreateGeneralPlanArgs{
		Binding:  base.Binding(),
		Options:  base.Options(),
		Memory:   base.Memory(),
		VMMap:    base.VMMap(),
		Metadata: base.Metadata(),
	}, Constraints)
	if err != nil {
		t.Fatal(err)
	}
	coverage := base.Metadata().Coverage()
	spec := metadata.Spec{Name: "mark", LogNumOfBits: 0, LogBytesInRegion: heap.LogBytesInWord}

	a, err := policy.NewCommonSpace(specific.SpaceArgs("a", true, heap.DiscontiguousRequest()), spec)
	if err != nil {
		t.Fatal(err)
	}
	overlapping := spec
	overlapping.Offset = heap.BytesInWord
	b, err := policy.NewCommonSpace(specific.SpaceArgs("b", true, heap.DiscontiguousRequest()), overlapping)
	if err != nil {
		t.Fatal(err)
	}
	if err := plan.VerifySideMetadataSanity(coverage, a, b); !errors.Is(err, metadata.ErrOverlap) {
		t.Errorf("overlapping spaces: err = %v, want ErrOverlap", err)
	}

	disjoint := spec
	disjoint.Offset = spec.ExtentFor(coverage)
	c, err := policy.NewCommonSpace(specific.SpaceArgs("c", true, heap.DiscontiguousRequest()), disjoint)
	if err != nil {
		t.Fatal(err)
	}
	if err := plan.VerifySideMetadataSanity(coverage, a, c); err != nil {
		t.Errorf("disjoint spaces rejected: %v", err)
	}
	if err := plan.VerifySideMetadataSanity(coverage, p.Spaces()...); err != nil {
		t.Errorf("constructed plan fails sanity: %v", err)
	}
}
