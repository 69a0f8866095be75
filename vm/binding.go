// Package vm defines what the collector needs from the language runtime it
// is embedded in. The runtime supplies one Binding when the heap is built.
package vm

import "github.com/chazu/gcore/heap"

// Slot is a location holding a reference: a field of a heap object or a
// root kept by the runtime.
type Slot interface {
	Load() heap.Address
	Store(heap.Address)
}

// ObjectModel exposes object layout.
type ObjectModel interface {
	// ObjectSize returns the size in bytes of the object at obj.
	ObjectSize(obj heap.Address) uintptr
}

// Scanning enumerates references.
type Scanning interface {
	// ScanRoots visits every root slot. Called only while mutators are parked.
	ScanRoots(visit func(Slot))
	// ScanObject visits the strong reference slots of obj. The referent slot
	// of a reference object must not be visited.
	ScanObject(obj heap.Address, visit func(Slot))
}

// ReferenceGlue reads and writes the referent field of reference objects.
type ReferenceGlue interface {
	Referent(ref heap.Address) heap.Address
	SetReferent(ref heap.Address, referent heap.Address)
	// EnqueueReferences hands over references whose referents were cleared.
	EnqueueReferences(refs []heap.Address)
}

// Collection carries notifications from the collector to the runtime.
type Collection interface {
	// OutOfMemory is called before an allocation fails for good.
	OutOfMemory(tls MutatorThread, err error)
}

// Binding is everything the runtime provides.
type Binding interface {
	ObjectModel
	Scanning
	ReferenceGlue
	Collection
}

// HeapAttacher is implemented by bindings that read heap memory directly.
// The collector hands over the arena once it is mapped.
type HeapAttacher interface {
	AttachHeap(mem *heap.Memory)
}
