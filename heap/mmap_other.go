//go:build !unix

package heap

// MapAnonymous falls back to a Go allocation on platforms without mmap.
func MapAnonymous(size uintptr) ([]byte, error) {
	return make([]byte, size), nil
}

// Unmap is a no-op for Go-allocated memory.
func Unmap(data []byte) error {
	return nil
}
