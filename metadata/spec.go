// Package metadata describes and stores side metadata: per-object or
// per-region bits kept outside the objects they describe.
package metadata

import (
	"errors"
	"fmt"

	"github.com/chazu/gcore/heap"
)

var (
	// ErrOverlap indicates two side-metadata regions share bytes.
	ErrOverlap = errors.New("metadata: side metadata regions overlap")

	// ErrInvalidSpec indicates a spec breaks the size or alignment rules.
	ErrInvalidSpec = errors.New("metadata: invalid side metadata spec")
)

const (
	// MaxLogNumOfBits caps a single entry at one byte.
	MaxLogNumOfBits = 3
	// MinLogBytesInRegion is word granularity.
	MinLogBytesInRegion = heap.LogBytesInWord
)

// Spec describes one side-metadata table. Offset is the table's byte offset
// in the side-metadata address range; each region of 2^LogBytesInRegion heap
// bytes owns 2^LogNumOfBits bits of the table.
type Spec struct {
	Name             string
	IsGlobal         bool
	Offset           uintptr
	LogNumOfBits     uint
	LogBytesInRegion uint
}

// ExtentFor returns the table size in bytes when covering coverage heap bytes.
func (s Spec) ExtentFor(coverage uintptr) uintptr {
	bits := (coverage >> s.LogBytesInRegion) << s.LogNumOfBits
	return heap.AlignUp((bits+7)/8, heap.BytesInWord)
}

// Validate checks the size and alignment rules.
func (s Spec) Validate() error {
	switch {
	case s.Name == "":
		return fmt.Errorf("%w: unnamed spec", ErrInvalidSpec)
	case s.LogNumOfBits > MaxLogNumOfBits:
		return fmt.Errorf("%w: %s uses 2^%d bits per region (max 2^%d)", ErrInvalidSpec, s.Name, s.LogNumOfBits, MaxLogNumOfBits)
	case s.LogBytesInRegion < MinLogBytesInRegion:
		return fmt.Errorf("%w: %s covers 2^%d bytes per region (min 2^%d)", ErrInvalidSpec, s.Name, s.LogBytesInRegion, MinLogBytesInRegion)
	case s.Offset%heap.BytesInWord != 0:
		return fmt.Errorf("%w: %s offset %d is not word aligned", ErrInvalidSpec, s.Name, s.Offset)
	}
	return nil
}

func (s Spec) String() string {
	scope := "local"
	if s.IsGlobal {
		scope = "global"
	}
	return fmt.Sprintf("%s(%s, offset=%d, bits=2^%d, region=2^%d)", s.Name, scope, s.Offset, s.LogNumOfBits, s.LogBytesInRegion)
}

// Context is the side-metadata layout visible to one space: the plan-wide
// global specs plus the space's own local specs.
type Context struct {
	Global []Spec
	Local  []Spec
}

// NewGlobalSpecs builds a plan's global spec list.
func NewGlobalSpecs(specs ...Spec) []Spec {
	out := make([]Spec, 0, len(specs))
	for _, s := range specs {
		s.IsGlobal = true
		out = append(out, s)
	}
	return out
}

// Specs returns global then local specs.
func (c *Context) Specs() []Spec {
	out := make([]Spec, 0, len(c.Global)+len(c.Local))
	out = append(out, c.Global...)
	return append(out, c.Local...)
}
