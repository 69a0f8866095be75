package gc

import (
	"errors"
	"fmt"

	"github.com/chazu/gcore/vm"
)

var (
	// ErrOutOfMemory matches every OutOfMemoryError.
	ErrOutOfMemory = errors.New("gc: out of memory")

	// ErrClosed indicates the instance was closed.
	ErrClosed = errors.New("gc: instance closed")
)

// OutOfMemoryError is returned when a request still fails after the one
// collection it is allowed to trigger.
type OutOfMemoryError struct {
	Thread  vm.MutatorThread
	Request string
	Size    uintptr
	Cause   error
}

func (e *OutOfMemoryError) Error() string {
	if e.Size > 0 {
		return fmt.Sprintf("gc: out of memory: %s of %d bytes by %s: %v", e.Request, e.Size, e.Thread, e.Cause)
	}
	return fmt.Sprintf("gc: out of memory: %s by %s: %v", e.Request, e.Thread, e.Cause)
}

// Unwrap exposes both ErrOutOfMemory and the underlying cause.
func (e *OutOfMemoryError) Unwrap() []error {
	return []error{ErrOutOfMemory, e.Cause}
}
