// Package plan defines the collector plans compose: the Plan contract, the
// shared BasePlan, the two-stage construction arguments and the per-thread
// Mutator.
package plan

import (
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/gcore/alloc"
	"github.com/chazu/gcore/metadata"
	"github.com/chazu/gcore/policy"
	"github.com/chazu/gcore/scheduler"
	"github.com/chazu/gcore/vm"
)

var log = commonlog.GetLogger("gcore.plan")

// Plan is one collector configuration: the spaces it owns and the policy
// for collecting them.
type Plan interface {
	Name() string
	Constraints() Constraints
	Base() *BasePlan

	// Spaces returns every space the plan owns, base spaces included. The
	// set is fixed at construction.
	Spaces() []policy.Space

	// CollectionRequired decides whether a pause should start. spaceFull
	// means an allocator's space could not grow; space is that space, or
	// nil for a generic poll.
	CollectionRequired(spaceFull bool, space policy.Space) bool

	// Prepare and Release bracket the trace of every pause.
	Prepare(tls vm.WorkerThread)
	Release(tls vm.WorkerThread)

	AllocatorMapping() *alloc.Mapping

	// ScheduleCollection queues one pause's work.
	ScheduleCollection(s *scheduler.Scheduler)

	// UsedPages is the reserved pages of every space plus the base plan's
	// own storage.
	UsedPages() int
	// CollectionReservedPages is the headroom a pause needs, e.g. a copy
	// reserve.
	CollectionReservedPages() int

	HandleUserCollectionRequest(tls vm.MutatorThread, force, exhaustive bool)
}

// Coordinator is the runtime side of a plan: it runs pauses and knows the
// bound mutators.
type Coordinator interface {
	RequestCollection(tls vm.MutatorThread)
	Mutators() []*Mutator
}

// SumReservedPages adds up the reserved pages of spaces.
func SumReservedPages(spaces []policy.Space) int {
	n := 0
	for _, s := range spaces {
		n += s.ReservedPages()
	}
	return n
}

// VerifySideMetadataSanity checks that no two of the given spaces lay out
// overlapping side metadata.
func VerifySideMetadataSanity(coverage uintptr, spaces ...policy.Space) error {
	s := metadata.NewSanity(coverage)
	for _, space := range spaces {
		if err := space.VerifySideMetadataSanity(s); err != nil {
			return fmt.Errorf("plan: side metadata sanity: %w", err)
		}
	}
	return nil
}
