// Package heap provides the raw address space the collector manages: the
// mmap-backed arena, chunk ownership, and page resources that spaces draw
// from.
package heap

import "fmt"

// Address is a location in the managed heap. The zero Address is never a
// valid object location and doubles as the null reference.
type Address uint64

const (
	LogBytesInWord = 3
	BytesInWord    = 1 << LogBytesInWord

	LogBytesInPage = 12
	BytesInPage    = 1 << LogBytesInPage

	// Chunks are the unit of ownership in the VMMap.
	LogBytesInChunk = 22
	BytesInChunk    = 1 << LogBytesInChunk
	PagesInChunk    = BytesInChunk / BytesInPage

	// DefaultHeapStart is chunk aligned and far from zero so that small
	// integers are never mistaken for heap addresses.
	DefaultHeapStart Address = 0x1_0000_0000
)

// IsZero reports whether a is the null address.
func (a Address) IsZero() bool { return a == 0 }

// Add returns a advanced by n bytes.
func (a Address) Add(n uintptr) Address { return a + Address(n) }

// Diff returns the number of bytes between b and a (a - b).
func (a Address) Diff(b Address) uintptr { return uintptr(a - b) }

// AlignUp rounds a up to a multiple of align, which must be a power of two.
func (a Address) AlignUp(align uintptr) Address {
	mask := Address(align - 1)
	return (a + mask) &^ mask
}

// IsAligned reports whether a is a multiple of align.
func (a Address) IsAligned(align uintptr) bool {
	return a&Address(align-1) == 0
}

func (a Address) String() string {
	return fmt.Sprintf("0x%x", uint64(a))
}

// AlignUp rounds n up to a multiple of align, which must be a power of two.
func AlignUp(n, align uintptr) uintptr {
	return (n + align - 1) &^ (align - 1)
}

// PagesFor returns the number of pages needed to hold n bytes.
func PagesFor(n uintptr) int {
	return int(AlignUp(n, BytesInPage) >> LogBytesInPage)
}

// ChunksFor returns the number of chunks needed to hold n bytes.
func ChunksFor(n uintptr) int {
	return int(AlignUp(n, BytesInChunk) >> LogBytesInChunk)
}

// PagesToBytes converts a page count to bytes.
func PagesToBytes(pages int) uintptr {
	return uintptr(pages) << LogBytesInPage
}
