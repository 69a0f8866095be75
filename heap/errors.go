package heap

import "errors"

var (
	// ErrExhausted indicates the address space has no room for a request.
	ErrExhausted = errors.New("heap: address space exhausted")

	// ErrOverlap indicates a contiguous reservation collided with an owned chunk.
	ErrOverlap = errors.New("heap: reservation overlaps an owned chunk")
)
