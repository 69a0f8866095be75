package vm

import (
	"fmt"

	"github.com/petermattis/goid"
)

// MutatorThread identifies an application thread that allocates.
type MutatorThread int64

// WorkerThread identifies a collector worker.
type WorkerThread int64

// CurrentMutatorThread derives a mutator identity from the calling goroutine.
// Runtimes with their own thread table may use any other stable value.
func CurrentMutatorThread() MutatorThread {
	return MutatorThread(goid.Get())
}

func (t MutatorThread) String() string { return fmt.Sprintf("mutator#%d", int64(t)) }

func (t WorkerThread) String() string { return fmt.Sprintf("worker#%d", int64(t)) }
