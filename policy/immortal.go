package policy

import (
	"github.com/chazu/gcore/heap"
	"github.com/chazu/gcore/metadata"
)

var immortalMarkSpec = metadata.Spec{
	Name:             "immortal-mark",
	LogNumOfBits:     0,
	LogBytesInRegion: heap.LogBytesInWord,
}

// ImmortalSpace never frees or moves objects. During a pause it marks the
// objects it reaches so each is scanned once.
type ImmortalSpace struct {
	*CommonSpace
	mark metadata.Spec
}

// NewImmortalSpace builds an immortal space and places its mark table.
func NewImmortalSpace(args Args) (*ImmortalSpace, error) {
	mark, err := args.Metadata.PlaceLocal(args.Name, immortalMarkSpec)
	if err != nil {
		return nil, err
	}
	common, err := NewCommonSpace(args, mark)
	if err != nil {
		return nil, err
	}
	return &ImmortalSpace{CommonSpace: common, mark: mark}, nil
}

// IsLive is always true: nothing in an immortal space dies.
func (s *ImmortalSpace) IsLive(obj heap.Address) bool { return true }

// IsMovable is false.
func (s *ImmortalSpace) IsMovable() bool { return false }

// Prepare clears last pause's marks.
func (s *ImmortalSpace) Prepare() {
	s.clearMetadata(s.mark)
}

// IsMarked reports whether obj was reached in the current pause.
func (s *ImmortalSpace) IsMarked(obj heap.Address) bool {
	return s.store.LoadBits(s.mark, obj) != 0
}

// TraceObject marks obj and queues it for scanning the first time it is
// reached. The object never moves.
func (s *ImmortalSpace) TraceObject(q ObjectQueue, obj heap.Address) heap.Address {
	if s.store.LoadBits(s.mark, obj) == 0 {
		s.store.StoreBits(s.mark, obj, 1)
		q.Enqueue(obj)
	}
	return obj
}
