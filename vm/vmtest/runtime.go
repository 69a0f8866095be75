// Package vmtest is a minimal language runtime for exercising the collector:
// objects are a header word followed by reference fields, and reference
// objects keep their referent in field 0.
package vmtest

import (
	"fmt"
	"slices"
	"sync"
	"sync/atomic"

	"github.com/chazu/gcore/heap"
	"github.com/chazu/gcore/vm"
)

const (
	fieldMask     = 1<<32 - 1
	referenceFlag = 1 << 32
)

// ObjectBytes returns the size of an object with the given field count.
func ObjectBytes(fields int) uintptr {
	return uintptr(fields+1) * heap.BytesInWord
}

// Root is a runtime-held reference, e.g. a local variable or a global.
type Root struct {
	obj atomic.Uint64
}

// Load implements vm.Slot.
func (r *Root) Load() heap.Address { return heap.Address(r.obj.Load()) }

// Store implements vm.Slot.
func (r *Root) Store(a heap.Address) { r.obj.Store(uint64(a)) }

// Runtime implements vm.Binding over a heap it attaches to.
type Runtime struct {
	mem *heap.Memory

	mu       sync.Mutex
	roots    map[*Root]struct{}
	enqueued []heap.Address
	oom      []error
}

// New creates a runtime with no roots.
func New() *Runtime {
	return &Runtime{roots: make(map[*Root]struct{})}
}

// AttachHeap implements vm.HeapAttacher.
func (r *Runtime) AttachHeap(mem *heap.Memory) { r.mem = mem }

// Memory returns the attached heap.
func (r *Runtime) Memory() *heap.Memory { return r.mem }

// InitObject writes the header of a freshly allocated object and nulls its
// fields.
func (r *Runtime) InitObject(obj heap.Address, fields int) {
	r.mem.StoreWord(obj, uint64(fields))
	for i := 0; i < fields; i++ {
		r.SetField(obj, i, 0)
	}
}

// InitReference writes a reference object pointing at referent.
func (r *Runtime) InitReference(ref, referent heap.Address) {
	r.mem.StoreWord(ref, 1|referenceFlag)
	r.SetField(ref, 0, referent)
}

// Fields returns the field count of obj.
func (r *Runtime) Fields(obj heap.Address) int {
	return int(r.mem.LoadWord(obj) & fieldMask)
}

// IsReference reports whether obj is a reference object.
func (r *Runtime) IsReference(obj heap.Address) bool {
	return r.mem.LoadWord(obj)&referenceFlag != 0
}

func (r *Runtime) fieldAddress(obj heap.Address, i int) heap.Address {
	if i < 0 || i >= r.Fields(obj) {
		panic(fmt.Sprintf("vmtest: field %d out of range for %s", i, obj))
	}
	return obj.Add(uintptr(i+1) * heap.BytesInWord)
}

// Field reads field i of obj.
func (r *Runtime) Field(obj heap.Address, i int) heap.Address {
	return r.mem.LoadAddress(r.fieldAddress(obj, i))
}

// SetField writes field i of obj.
func (r *Runtime) SetField(obj heap.Address, i int, v heap.Address) {
	r.mem.StoreAddress(r.fieldAddress(obj, i), v)
}

// AddRoot keeps obj reachable until the root is dropped.
func (r *Runtime) AddRoot(obj heap.Address) *Root {
	root := &Root{}
	root.Store(obj)
	r.mu.Lock()
	r.roots[root] = struct{}{}
	r.mu.Unlock()
	return root
}

// DropRoot forgets a root.
func (r *Runtime) DropRoot(root *Root) {
	r.mu.Lock()
	delete(r.roots, root)
	r.mu.Unlock()
}

// Enqueued returns every reference handed back with a cleared referent.
func (r *Runtime) Enqueued() []heap.Address {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.enqueued)
}

// OutOfMemoryErrors returns the failures reported through OutOfMemory.
func (r *Runtime) OutOfMemoryErrors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return slices.Clone(r.oom)
}

// ObjectSize implements vm.ObjectModel.
func (r *Runtime) ObjectSize(obj heap.Address) uintptr {
	return ObjectBytes(r.Fields(obj))
}

// ScanRoots implements vm.Scanning.
func (r *Runtime) ScanRoots(visit func(vm.Slot)) {
	r.mu.Lock()
	roots := make([]*Root, 0, len(r.roots))
	for root := range r.roots {
		roots = append(roots, root)
	}
	r.mu.Unlock()
	for _, root := range roots {
		visit(root)
	}
}

// ScanObject implements vm.Scanning. The referent of a reference object is
// skipped.
func (r *Runtime) ScanObject(obj heap.Address, visit func(vm.Slot)) {
	if r.IsReference(obj) {
		return
	}
	n := r.Fields(obj)
	for i := 0; i < n; i++ {
		visit(r.mem.Slot(r.fieldAddress(obj, i)))
	}
}

// Referent implements vm.ReferenceGlue.
func (r *Runtime) Referent(ref heap.Address) heap.Address {
	return r.Field(ref, 0)
}

// SetReferent implements vm.ReferenceGlue.
func (r *Runtime) SetReferent(ref, referent heap.Address) {
	r.SetField(ref, 0, referent)
}

// EnqueueReferences implements vm.ReferenceGlue.
func (r *Runtime) EnqueueReferences(refs []heap.Address) {
	r.mu.Lock()
	r.enqueued = append(r.enqueued, refs...)
	r.mu.Unlock()
}

// OutOfMemory implements vm.Collection.
func (r *Runtime) OutOfMemory(tls vm.MutatorThread, err error) {
	r.mu.Lock()
	r.oom = append(r.oom, err)
	r.mu.Unlock()
}

var (
	_ vm.Binding      = (*Runtime)(nil)
	_ vm.HeapAttacher = (*Runtime)(nil)
	_ vm.Slot         = (*Root)(nil)
)
