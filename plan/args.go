package plan

import (
	"errors"
	"fmt"

	"github.com/chazu/gcore/config"
	"github.com/chazu/gcore/heap"
	"github.com/chazu/gcore/metadata"
	"github.com/chazu/gcore/policy"
	"github.com/chazu/gcore/vm"
)

// CreateGeneralPlanArgs is the state every plan shares with the runtime:
// the binding, the options and the mapped heap.
type CreateGeneralPlanArgs struct {
	Binding  vm.Binding
	Options  *config.Config
	Memory   *heap.Memory
	VMMap    *heap.VMMap
	Metadata *metadata.Store
}

// NewGeneralPlanArgs maps a heap of the configured size at
// heap.DefaultHeapStart along with its side-metadata store.
func NewGeneralPlanArgs(binding vm.Binding, opts *config.Config) (*CreateGeneralPlanArgs, error) {
	mem, err := heap.NewMemory(heap.DefaultHeapStart, opts.HeapBytes())
	if err != nil {
		return nil, fmt.Errorf("plan: map heap: %w", err)
	}
	store, err := metadata.NewStore(mem)
	if err != nil {
		mem.Close()
		return nil, fmt.Errorf("plan: map side metadata: %w", err)
	}
	if a, ok := binding.(vm.HeapAttacher); ok {
		a.AttachHeap(mem)
	}
	return &CreateGeneralPlanArgs{
		Binding:  binding,
		Options:  opts,
		Memory:   mem,
		VMMap:    heap.NewVMMap(mem),
		Metadata: store,
	}, nil
}

// Close unmaps the heap and its side metadata.
func (a *CreateGeneralPlanArgs) Close() error {
	return errors.Join(a.Metadata.Close(), a.Memory.Close())
}

// CreateSpecificPlanArgs combines the general arguments with one plan type's
// constraints and global side-metadata specs.
type CreateSpecificPlanArgs struct {
	Global                  *CreateGeneralPlanArgs
	Constraints             Constraints
	GlobalSideMetadataSpecs []metadata.Spec
	Trigger                 *GCTrigger
}

// NewSpecificPlanArgs places the plan's global specs and creates its
// trigger.
func NewSpecificPlanArgs(global *CreateGeneralPlanArgs, constraints Constraints, globalSpecs ...metadata.Spec) (*CreateSpecificPlanArgs, error) {
	placed := make([]metadata.Spec, 0, len(globalSpecs))
	for _, spec := range globalSpecs {
		p, err := global.Metadata.PlaceGlobal(spec)
		if err != nil {
			return nil, fmt.Errorf("plan: place global spec %s: %w", spec.Name, err)
		}
		placed = append(placed, p)
	}
	return &CreateSpecificPlanArgs{
		Global:                  global,
		Constraints:             constraints,
		GlobalSideMetadataSpecs: placed,
		Trigger:                 NewGCTrigger(global.Options.HeapBytes()),
	}, nil
}

// SpaceArgs returns the arguments for one of the plan's spaces.
func (a *CreateSpecificPlanArgs) SpaceArgs(name string, zeroed bool, req heap.VMRequest) policy.Args {
	return policy.Args{
		Name:                    name,
		Zeroed:                  zeroed,
		VMRequest:               req,
		GlobalSideMetadataSpecs: a.GlobalSideMetadataSpecs,
		Memory:                  a.Global.Memory,
		VMMap:                   a.Global.VMMap,
		Metadata:                a.Global.Metadata,
		Poller:                  a.Trigger,
	}
}
