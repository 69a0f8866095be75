package heap

import "fmt"

// RequestKind says how a space obtains its address range.
type RequestKind int

const (
	// Discontiguous spaces take chunks from the shared pool on demand.
	Discontiguous RequestKind = iota
	// Contiguous spaces reserve a fixed extent at construction.
	Contiguous
)

func (k RequestKind) String() string {
	switch k {
	case Discontiguous:
		return "discontiguous"
	case Contiguous:
		return "contiguous"
	}
	return fmt.Sprintf("RequestKind(%d)", int(k))
}

// VMRequest is a space's reservation policy.
type VMRequest struct {
	Kind   RequestKind
	Extent uintptr // bytes; only for Contiguous
}

// DiscontiguousRequest asks for chunks on demand.
func DiscontiguousRequest() VMRequest {
	return VMRequest{Kind: Discontiguous}
}

// FixedExtent asks for a contiguous range of at least extent bytes.
func FixedExtent(extent uintptr) VMRequest {
	return VMRequest{Kind: Contiguous, Extent: AlignUp(extent, BytesInChunk)}
}

// IsDiscontiguous reports whether the request draws from the shared pool.
func (r VMRequest) IsDiscontiguous() bool { return r.Kind == Discontiguous }
