package policy

import (
	"fmt"
	"sync/atomic"

	"github.com/chazu/gcore/heap"
	"github.com/chazu/gcore/metadata"
)

// Forwarding states kept in the side forwarding table.
const (
	forwardingNotTriggered uint8 = iota
	beingForwarded
	forwarded
)

var forwardingSpec = metadata.Spec{
	Name:             "forwarding-bits",
	LogNumOfBits:     1,
	LogBytesInRegion: heap.LogBytesInWord,
}

// Copier evacuates an object and returns its new address.
type Copier interface {
	CopyObject(obj heap.Address, size uintptr) (heap.Address, error)
}

// Sizer reports object sizes.
type Sizer interface {
	ObjectSize(obj heap.Address) uintptr
}

// CopySpace is an evacuating space. While it is the from-space of a pause,
// reached objects are copied out and a forwarding pointer is left in their
// first word.
type CopySpace struct {
	*CommonSpace
	forwarding metadata.Spec
	from       atomic.Bool
}

// NewCopySpace builds a copy space and places its forwarding table.
func NewCopySpace(args Args, from bool) (*CopySpace, error) {
	fwd, err := args.Metadata.PlaceLocal(args.Name, forwardingSpec)
	if err != nil {
		return nil, err
	}
	common, err := NewCommonSpace(args, fwd)
	if err != nil {
		return nil, err
	}
	s := &CopySpace{CommonSpace: common, forwarding: fwd}
	s.from.Store(from)
	return s, nil
}

// IsMovable is true.
func (s *CopySpace) IsMovable() bool { return true }

// IsFromSpace reports whether the space is being evacuated.
func (s *CopySpace) IsFromSpace() bool { return s.from.Load() }

// Prepare marks the space as the from-space (or not) for the coming pause.
func (s *CopySpace) Prepare(from bool) {
	s.from.Store(from)
}

// Release drops every page of an evacuated space.
func (s *CopySpace) Release() {
	if !s.from.Load() {
		return
	}
	s.clearMetadata(s.forwarding)
	s.pr.ReleaseAll()
	s.from.Store(false)
}

// IsLive reports whether obj survived: outside a from-space everything is
// live, inside it only forwarded objects are.
func (s *CopySpace) IsLive(obj heap.Address) bool {
	if !s.from.Load() {
		return true
	}
	return s.store.LoadBits(s.forwarding, obj) == forwarded
}

// ForwardedObject returns obj's new address, or zero if it was not copied.
func (s *CopySpace) ForwardedObject(obj heap.Address) heap.Address {
	if !s.from.Load() || s.store.LoadBits(s.forwarding, obj) != forwarded {
		return 0
	}
	return s.mem.LoadAddress(obj)
}

// TraceObject evacuates obj on first visit and returns its new address.
func (s *CopySpace) TraceObject(q ObjectQueue, obj heap.Address, sizer Sizer, copier Copier) (heap.Address, error) {
	if !s.from.Load() {
		return obj, nil
	}
	switch s.store.LoadBits(s.forwarding, obj) {
	case forwarded:
		return s.mem.LoadAddress(obj), nil
	case beingForwarded:
		return 0, fmt.Errorf("policy: %s: object %s reached while being forwarded", s.name, obj)
	}
	s.store.StoreBits(s.forwarding, obj, beingForwarded)
	newObj, err := copier.CopyObject(obj, sizer.ObjectSize(obj))
	if err != nil {
		return 0, err
	}
	s.mem.StoreAddress(obj, newObj)
	s.store.StoreBits(s.forwarding, obj, forwarded)
	q.Enqueue(newObj)
	return newObj, nil
}
