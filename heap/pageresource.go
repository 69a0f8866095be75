package heap

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
)

// PageResource hands out pages to one space by bumping a cursor through the
// chunks that space owns. Pages are only returned wholesale by ReleaseAll.
type PageResource struct {
	mu       sync.Mutex
	vmmap    *VMMap
	desc     int
	request  VMRequest
	regions  []Region
	cursor   Address
	sentinel Address

	reserved atomic.Int64
}

// NewPageResource creates the page resource for space desc. Contiguous
// requests reserve their whole extent immediately.
func NewPageResource(vmmap *VMMap, desc int, request VMRequest) (*PageResource, error) {
	pr := &PageResource{vmmap: vmmap, desc: desc, request: request}
	if request.IsDiscontiguous() {
		return pr, nil
	}
	r, err := vmmap.ReserveContiguous(desc, request.Extent)
	if err != nil {
		return nil, fmt.Errorf("heap: reserve %d bytes for %q: %w", request.Extent, vmmap.SpaceName(desc), err)
	}
	pr.regions = []Region{r}
	pr.cursor = r.Start
	pr.sentinel = r.End()
	return pr, nil
}

// Acquire returns the start of pages fresh pages. The memory is not zeroed.
func (pr *PageResource) Acquire(pages int) (Address, error) {
	if pages <= 0 {
		return 0, fmt.Errorf("heap: invalid page count %d", pages)
	}
	bytes := PagesToBytes(pages)

	pr.mu.Lock()
	defer pr.mu.Unlock()

	if pr.cursor.IsZero() || pr.cursor.Add(bytes) > pr.sentinel {
		if !pr.request.IsDiscontiguous() {
			return 0, ErrExhausted
		}
		r, err := pr.vmmap.AllocateChunks(pr.desc, ChunksFor(bytes))
		if err != nil {
			return 0, err
		}
		pr.regions = append(pr.regions, r)
		pr.cursor = r.Start
		pr.sentinel = r.End()
	}
	addr := pr.cursor
	pr.cursor = pr.cursor.Add(bytes)
	pr.reserved.Add(int64(pages))
	return addr, nil
}

// ReservedPages returns the pages handed out since the last ReleaseAll.
func (pr *PageResource) ReservedPages() int {
	return int(pr.reserved.Load())
}

// Regions returns the chunk runs currently owned.
func (pr *PageResource) Regions() []Region {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	return slices.Clone(pr.regions)
}

// ReleaseAll forgets every page handed out. Discontiguous chunks go back to
// the shared pool; a contiguous extent is kept and its cursor rewound.
func (pr *PageResource) ReleaseAll() {
	pr.mu.Lock()
	defer pr.mu.Unlock()
	if pr.request.IsDiscontiguous() {
		for _, r := range pr.regions {
			pr.vmmap.Release(pr.desc, r)
		}
		pr.regions = nil
		pr.cursor = 0
		pr.sentinel = 0
	} else {
		pr.cursor = pr.regions[0].Start
	}
	pr.reserved.Store(0)
}

// Request returns the reservation policy.
func (pr *PageResource) Request() VMRequest { return pr.request }
