//go:build unix

package heap

import (
	"fmt"

	"golang.org/x/sys/unix"
)

// MapAnonymous reserves size bytes of zeroed, private memory outside the Go
// heap. Pages are committed lazily by the kernel on first touch.
func MapAnonymous(size uintptr) ([]byte, error) {
	data, err := unix.Mmap(-1, 0, int(size), unix.PROT_READ|unix.PROT_WRITE, unix.MAP_ANON|unix.MAP_PRIVATE)
	if err != nil {
		return nil, fmt.Errorf("heap: mmap %d bytes: %w", size, err)
	}
	return data, nil
}

// Unmap releases memory obtained from MapAnonymous.
func Unmap(data []byte) error {
	if data == nil {
		return nil
	}
	if err := unix.Munmap(data); err != nil {
		return fmt.Errorf("heap: munmap: %w", err)
	}
	return nil
}
