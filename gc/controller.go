package gc

import (
	"fmt"

	"github.com/chazu/gcore/vm"
)

// pauseRequest asks the controller for a collection.
type pauseRequest struct {
	tls  vm.MutatorThread
	done chan error
}

// controller serializes pauses through a single goroutine. Requests that
// queue up while it is idle are all satisfied by the next pause.
type controller struct {
	inst     *Instance
	requests chan pauseRequest
	quit     chan struct{}
	stopped  chan struct{}
}

func newController(inst *Instance) *controller {
	c := &controller{
		inst:     inst,
		requests: make(chan pauseRequest, 64),
		quit:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
	go c.loop()
	return c
}

func (c *controller) loop() {
	defer close(c.stopped)
	for {
		select {
		case req := <-c.requests:
			batch := []pauseRequest{req}
		drain:
			for {
				select {
				case r := <-c.requests:
					batch = append(batch, r)
				default:
					break drain
				}
			}
			c.execute(req.tls)
			for _, r := range batch {
				r.done <- nil
			}
		case <-c.quit:
			return
		}
	}
}

// execute runs one pause. A pause cannot be abandoned halfway, so a failure
// leaves the heap in an unknown state and is fatal.
func (c *controller) execute(tls vm.MutatorThread) {
	if err := c.inst.pause(tls); err != nil {
		log.Criticalf("pause requested by %s failed: %s", tls, err)
		panic(fmt.Sprintf("gc: pause failed: %v", err))
	}
}

// collect requests a pause and blocks until one has completed.
func (c *controller) collect(tls vm.MutatorThread) error {
	req := pauseRequest{tls: tls, done: make(chan error, 1)}
	select {
	case c.requests <- req:
	case <-c.quit:
		return ErrClosed
	}
	select {
	case err := <-req.done:
		return err
	case <-c.stopped:
		return ErrClosed
	}
}

// stop shuts down the controller goroutine.
func (c *controller) stop() {
	close(c.quit)
	<-c.stopped
}
