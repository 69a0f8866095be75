// Package refproc tracks soft, weak and phantom reference objects and clears
// or forwards them at the end of a pause.
package refproc

import (
	"errors"
	"fmt"
	"sync"

	"github.com/tliron/commonlog"

	"github.com/chazu/gcore/heap"
	"github.com/chazu/gcore/vm"
)

var log = commonlog.GetLogger("gcore.refproc")

var (
	// ErrTableFull indicates a reference table reached its configured bound.
	ErrTableFull = errors.New("refproc: reference table full")

	// ErrUnknownSemantics indicates a reference kind outside Soft, Weak and
	// Phantom.
	ErrUnknownSemantics = errors.New("refproc: unknown reference semantics")
)

const (
	// InitialSize is the capacity a table starts with.
	InitialSize = 256
	// GrowthFactor is applied whenever a table runs out of capacity.
	GrowthFactor = 2
)

// Semantics is the strength of a reference kind.
type Semantics int

const (
	Soft Semantics = iota
	Weak
	Phantom

	numSemantics = int(Phantom) + 1
)

// Valid reports whether s names one of the reference kinds.
func (s Semantics) Valid() bool { return s >= 0 && int(s) < numSemantics }

func (s Semantics) String() string {
	switch s {
	case Soft:
		return "soft"
	case Weak:
		return "weak"
	case Phantom:
		return "phantom"
	}
	return fmt.Sprintf("Semantics(%d)", int(s))
}

// Tracer answers reachability questions once a trace has finished.
type Tracer interface {
	// IsLive reports whether obj was reached.
	IsLive(obj heap.Address) bool
	// GetForwardedObject returns obj's final address, which is obj itself
	// if it did not move.
	GetForwardedObject(obj heap.Address) heap.Address
	// TraceObject keeps obj alive and returns its final address. Objects
	// it reaches are queued for the caller's closure.
	TraceObject(obj heap.Address) heap.Address
}

// Result counts what one scan did.
type Result struct {
	Scanned int
	Kept    int
	Cleared int
	Dropped int
}

// Processor is the candidate table for one reference kind. Mutators append
// to it while running; a pause scans and compacts it.
type Processor struct {
	semantics  Semantics
	maxEntries int

	mu           sync.Mutex
	references   []heap.Address
	nurseryIndex int
}

// NewProcessor creates an empty table. maxEntries <= 0 means unbounded.
func NewProcessor(semantics Semantics, maxEntries int) *Processor {
	size := InitialSize
	if maxEntries > 0 {
		size = min(size, maxEntries)
	}
	return &Processor{
		semantics:  semantics,
		maxEntries: maxEntries,
		references: make([]heap.Address, 0, size),
	}
}

// Semantics returns the reference kind.
func (p *Processor) Semantics() Semantics { return p.semantics }

// AddCandidate registers a reference object. Safe for concurrent use by
// mutators; must not race with Scan.
func (p *Processor) AddCandidate(ref heap.Address) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.maxEntries > 0 && len(p.references) >= p.maxEntries {
		return fmt.Errorf("%w: %s table at %d entries", ErrTableFull, p.semantics, len(p.references))
	}
	if len(p.references) == cap(p.references) {
		if err := p.grow(); err != nil {
			return err
		}
	}
	p.references = append(p.references, ref)
	return nil
}

func (p *Processor) grow() error {
	n := len(p.references)
	if p.maxEntries > 0 && n >= p.maxEntries {
		return fmt.Errorf("%w: %s table at %d entries", ErrTableFull, p.semantics, n)
	}
	newCap := max(cap(p.references)*GrowthFactor, InitialSize)
	if p.maxEntries > 0 {
		newCap = min(newCap, p.maxEntries)
	}
	grown := make([]heap.Address, n, newCap)
	copy(grown, p.references)
	p.references = grown
	return nil
}

// Len returns the number of registered candidates.
func (p *Processor) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.references)
}

// Cap returns the current table capacity.
func (p *Processor) Cap() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return cap(p.references)
}

// NurseryIndex returns the boundary between entries seen by an earlier scan
// and entries registered since.
func (p *Processor) NurseryIndex() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.nurseryIndex
}

// Contains reports whether ref is registered.
func (p *Processor) Contains(ref heap.Address) bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, r := range p.references {
		if r == ref {
			return true
		}
	}
	return false
}

// PagesUsed returns the pages backing the table.
func (p *Processor) PagesUsed() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return heap.PagesFor(uintptr(cap(p.references)) * heap.BytesInWord)
}

// Retain keeps every registered referent alive. Collectors call it for soft
// references when the pause is not an emergency, then finish their closure
// before Scan.
func (p *Processor) Retain(tracer Tracer, glue vm.ReferenceGlue) {
	p.mu.Lock()
	defer p.mu.Unlock()
	for _, ref := range p.references {
		if !tracer.IsLive(ref) {
			continue
		}
		ref = tracer.GetForwardedObject(ref)
		if referent := glue.Referent(ref); !referent.IsZero() {
			glue.SetReferent(ref, tracer.TraceObject(referent))
		}
	}
}

// Scan clears references whose referents died and forwards the rest. Dead
// and already-cleared references leave the table. A nursery scan only looks
// at entries registered since the previous scan. Must only run while
// mutators are parked and the trace has finished.
//
// The nursery index is left at the compacted length. Across nursery scans it
// never decreases; a full scan, which a moving collector needs because every
// reference object may have moved, can lower it.
func (p *Processor) Scan(tracer Tracer, glue vm.ReferenceGlue, nursery bool) Result {
	p.mu.Lock()
	defer p.mu.Unlock()

	from := 0
	if nursery {
		from = p.nurseryIndex
	}
	var (
		res     Result
		cleared []heap.Address
	)
	kept := from
	for _, ref := range p.references[from:] {
		res.Scanned++
		if !tracer.IsLive(ref) {
			res.Dropped++
			continue
		}
		ref = tracer.GetForwardedObject(ref)
		referent := glue.Referent(ref)
		if referent.IsZero() {
			res.Dropped++
			continue
		}
		if tracer.IsLive(referent) {
			glue.SetReferent(ref, tracer.GetForwardedObject(referent))
			p.references[kept] = ref
			kept++
			res.Kept++
			continue
		}
		glue.SetReferent(ref, 0)
		cleared = append(cleared, ref)
		res.Cleared++
	}
	clear(p.references[kept:])
	p.references = p.references[:kept]
	p.nurseryIndex = kept

	if len(cleared) > 0 {
		glue.EnqueueReferences(cleared)
	}
	log.Debugf("%s references: scanned %d, kept %d, cleared %d, dropped %d",
		p.semantics, res.Scanned, res.Kept, res.Cleared, res.Dropped)
	return res
}
