// Package policy implements the spaces a plan composes its heap from.
package policy

import (
	"errors"
	"fmt"

	"github.com/tliron/commonlog"

	"github.com/chazu/gcore/heap"
	"github.com/chazu/gcore/metadata"
	"github.com/chazu/gcore/vm"
)

var log = commonlog.GetLogger("gcore.policy")

// ErrSpaceFull indicates a space cannot supply pages without growing past
// its reservation or the heap budget.
var ErrSpaceFull = errors.New("policy: space full")

// Poller decides whether a mutator may take more pages from the heap.
type Poller interface {
	Admit(space string, pages int) bool
}

// ObjectQueue receives objects that still have to be scanned.
type ObjectQueue interface {
	Enqueue(obj heap.Address)
}

// Space is a bounded heap region with its own page accounting and
// side-metadata layout.
type Space interface {
	Name() string
	Common() *CommonSpace
	ReservedPages() int
	Acquire(tls vm.MutatorThread, pages int) (heap.Address, error)
	InSpace(obj heap.Address) bool
	IsLive(obj heap.Address) bool
	IsMovable() bool
	VerifySideMetadataSanity(s *metadata.Sanity) error
}

// Args is everything a space needs at construction. Plans build these with
// plan.CreateSpecificPlanArgs.SpaceArgs.
type Args struct {
	Name                    string
	Zeroed                  bool
	VMRequest               heap.VMRequest
	GlobalSideMetadataSpecs []metadata.Spec

	Memory   *heap.Memory
	VMMap    *heap.VMMap
	Metadata *metadata.Store
	Poller   Poller
}

// CommonSpace carries the bookkeeping shared by every space.
type CommonSpace struct {
	name       string
	descriptor int
	zeroed     bool
	mem        *heap.Memory
	vmmap      *heap.VMMap
	store      *metadata.Store
	pr         *heap.PageResource
	poller     Poller
	meta       metadata.Context
}

// NewCommonSpace registers the space in the VMMap, builds its page resource
// and records its side-metadata layout.
func NewCommonSpace(args Args, local ...metadata.Spec) (*CommonSpace, error) {
	desc := args.VMMap.RegisterSpace(args.Name)
	pr, err := heap.NewPageResource(args.VMMap, desc, args.VMRequest)
	if err != nil {
		return nil, err
	}
	log.Debugf("space %s: descriptor %d, %s", args.Name, desc, args.VMRequest.Kind)
	return &CommonSpace{
		name:       args.Name,
		descriptor: desc,
		zeroed:     args.Zeroed,
		mem:        args.Memory,
		vmmap:      args.VMMap,
		store:      args.Metadata,
		pr:         pr,
		poller:     args.Poller,
		meta: metadata.Context{
			Global: args.GlobalSideMetadataSpecs,
			Local:  local,
		},
	}, nil
}

// Name returns the space name.
func (c *CommonSpace) Name() string { return c.name }

// Common returns c.
func (c *CommonSpace) Common() *CommonSpace { return c }

// Descriptor returns the VMMap descriptor.
func (c *CommonSpace) Descriptor() int { return c.descriptor }

// Zeroed reports whether acquired pages are cleared.
func (c *CommonSpace) Zeroed() bool { return c.zeroed }

// VMRequest returns the reservation policy.
func (c *CommonSpace) VMRequest() heap.VMRequest { return c.pr.Request() }

// Memory returns the heap arena.
func (c *CommonSpace) Memory() *heap.Memory { return c.mem }

// ReservedPages returns pages handed out and not yet released.
func (c *CommonSpace) ReservedPages() int { return c.pr.ReservedPages() }

// Regions returns the chunks this space owns.
func (c *CommonSpace) Regions() []heap.Region { return c.pr.Regions() }

// SideMetadata returns this space's layout.
func (c *CommonSpace) SideMetadata() *metadata.Context { return &c.meta }

// Acquire takes pages for an allocator. The slow path of every allocator
// funnels through here; the page resource serializes concurrent callers.
func (c *CommonSpace) Acquire(tls vm.MutatorThread, pages int) (heap.Address, error) {
	if c.poller != nil && !c.poller.Admit(c.name, pages) {
		return 0, fmt.Errorf("%w: %s: heap budget reached", ErrSpaceFull, c.name)
	}
	addr, err := c.pr.Acquire(pages)
	if err != nil {
		if errors.Is(err, heap.ErrExhausted) {
			return 0, fmt.Errorf("%w: %s: %w", ErrSpaceFull, c.name, err)
		}
		return 0, err
	}
	if c.zeroed {
		c.mem.Zero(addr, heap.PagesToBytes(pages))
	}
	return addr, nil
}

// InSpace reports whether obj lies in a chunk owned by this space.
func (c *CommonSpace) InSpace(obj heap.Address) bool {
	return c.vmmap.OwnerOf(obj) == c.descriptor
}

// IsLive is true by default; policies that free objects override it.
func (c *CommonSpace) IsLive(obj heap.Address) bool { return true }

// IsMovable is false by default.
func (c *CommonSpace) IsMovable() bool { return false }

// VerifySideMetadataSanity feeds this space's layout to the checker.
func (c *CommonSpace) VerifySideMetadataSanity(s *metadata.Sanity) error {
	if err := s.Verify(c.name, &c.meta); err != nil {
		return fmt.Errorf("space %s: %w", c.name, err)
	}
	return nil
}

func (c *CommonSpace) clearMetadata(spec metadata.Spec) {
	for _, r := range c.pr.Regions() {
		c.store.ClearRegion(spec, r.Start, r.Bytes())
	}
}
