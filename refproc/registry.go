package refproc

import (
	"fmt"

	"github.com/chazu/gcore/heap"
)

// Registry owns one Processor per reference kind. A plan holds exactly one
// and hands it to whoever registers or processes references.
type Registry struct {
	disabled bool
	procs    [numSemantics]*Processor
}

// NewRegistry creates empty tables. With disabled set, candidates are
// accepted and discarded.
func NewRegistry(maxEntries int, disabled bool) *Registry {
	r := &Registry{disabled: disabled}
	for i := range r.procs {
		r.procs[i] = NewProcessor(Semantics(i), maxEntries)
	}
	return r
}

// Disabled reports whether reference processing is turned off.
func (r *Registry) Disabled() bool { return r.disabled }

// Get returns the table for s.
func (r *Registry) Get(s Semantics) *Processor { return r.procs[s] }

// AddCandidate registers ref with the table for s.
func (r *Registry) AddCandidate(s Semantics, ref heap.Address) error {
	if !s.Valid() {
		return fmt.Errorf("%w: %s", ErrUnknownSemantics, s)
	}
	if r.disabled {
		return nil
	}
	return r.procs[s].AddCandidate(ref)
}

// PagesUsed returns the pages backing all tables.
func (r *Registry) PagesUsed() int {
	n := 0
	for _, p := range r.procs {
		n += p.PagesUsed()
	}
	return n
}

// Len returns the total number of registered candidates.
func (r *Registry) Len() int {
	n := 0
	for _, p := range r.procs {
		n += p.Len()
	}
	return n
}

// All lists the kinds in the order a pause processes them.
func All() []Semantics {
	return []Semantics{Soft, Weak, Phantom}
}
