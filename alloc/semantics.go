// Package alloc routes allocation requests to per-thread allocators.
package alloc

import (
	"errors"
	"fmt"

	"github.com/chazu/gcore/policy"
)

// ErrUnmappedSemantics indicates a mapping with a semantics left unassigned.
var ErrUnmappedSemantics = errors.New("alloc: allocation semantics without an allocator")

// AllocationSemantics says why memory is being requested.
type AllocationSemantics int

const (
	Default AllocationSemantics = iota
	Immortal
	Los
	Code
	ReadOnly

	NumSemantics = int(ReadOnly) + 1
)

var semanticsNames = [NumSemantics]string{"default", "immortal", "los", "code", "read-only"}

func (s AllocationSemantics) String() string {
	if s < 0 || int(s) >= NumSemantics {
		return fmt.Sprintf("AllocationSemantics(%d)", int(s))
	}
	return semanticsNames[s]
}

// AllSemantics lists every semantics value.
func AllSemantics() []AllocationSemantics {
	out := make([]AllocationSemantics, NumSemantics)
	for i := range out {
		out[i] = AllocationSemantics(i)
	}
	return out
}

// AllocatorKind names an allocation strategy.
type AllocatorKind uint8

const (
	KindNone AllocatorKind = iota
	KindBumpPointer
)

// AllocatorSelector picks one allocator instance of a mutator.
type AllocatorSelector struct {
	Kind  AllocatorKind
	Index uint8
}

// BumpPointer selects the index'th bump allocator.
func BumpPointer(index uint8) AllocatorSelector {
	return AllocatorSelector{Kind: KindBumpPointer, Index: index}
}

// IsNone reports whether the selector is unassigned.
func (s AllocatorSelector) IsNone() bool { return s.Kind == KindNone }

func (s AllocatorSelector) String() string {
	switch s.Kind {
	case KindBumpPointer:
		return fmt.Sprintf("BumpPointer(%d)", s.Index)
	}
	return "None"
}

// Mapping assigns an allocator selector to every semantics. A plan builds
// one mapping and shares it with all its mutators.
type Mapping [NumSemantics]AllocatorSelector

// NewMapping returns a mapping with every semantics unassigned.
func NewMapping() Mapping { return Mapping{} }

// Uniform maps every semantics to sel.
func Uniform(sel AllocatorSelector) Mapping {
	var m Mapping
	for i := range m {
		m[i] = sel
	}
	return m
}

// Get returns the selector for s.
func (m *Mapping) Get(s AllocationSemantics) AllocatorSelector { return m[s] }

// Validate fails if any semantics is unassigned.
func (m *Mapping) Validate() error {
	for i, sel := range m {
		if sel.IsNone() {
			return fmt.Errorf("%w: %s", ErrUnmappedSemantics, AllocationSemantics(i))
		}
	}
	return nil
}

// Selectors returns the distinct selectors in use, in semantics order.
func (m *Mapping) Selectors() []AllocatorSelector {
	var out []AllocatorSelector
	seen := make(map[AllocatorSelector]bool)
	for _, sel := range m {
		if !sel.IsNone() && !seen[sel] {
			seen[sel] = true
			out = append(out, sel)
		}
	}
	return out
}

// SpaceMapping binds one allocator selector to the space it draws from.
type SpaceMapping struct {
	Selector AllocatorSelector
	Space    policy.Space
}
