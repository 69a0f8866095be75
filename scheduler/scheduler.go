// Package scheduler runs a pause's work packets on a pool of collector
// workers. Packets are grouped into buckets that run strictly one after
// another; packets within a bucket run in parallel.
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/tliron/commonlog"
	"golang.org/x/sync/errgroup"

	"github.com/chazu/gcore/vm"
)

var log = commonlog.GetLogger("gcore.scheduler")

// Bucket is a pause phase.
type Bucket int

const (
	Prepare Bucket = iota
	Closure
	SoftRefClosure
	WeakRefClosure
	PhantomRefClosure
	Release
	Final

	numBuckets = int(Final) + 1
)

var bucketNames = [numBuckets]string{"prepare", "closure", "soft-refs", "weak-refs", "phantom-refs", "release", "final"}

func (b Bucket) String() string {
	if b < 0 || int(b) >= numBuckets {
		return fmt.Sprintf("Bucket(%d)", int(b))
	}
	return bucketNames[b]
}

// Work is one packet.
type Work interface {
	Do(ctx context.Context, w *Worker) error
}

// WorkFunc adapts a function to Work.
type WorkFunc func(ctx context.Context, w *Worker) error

// Do implements Work.
func (f WorkFunc) Do(ctx context.Context, w *Worker) error { return f(ctx, w) }

// Worker is the collector thread executing a packet.
type Worker struct {
	id    vm.WorkerThread
	sched *Scheduler
}

// ID returns the worker's thread identity.
func (w *Worker) ID() vm.WorkerThread { return w.id }

// Scheduler returns the scheduler running the packet, so work can spawn
// more work.
func (w *Worker) Scheduler() *Scheduler { return w.sched }

// Scheduler holds the packets of one pause.
type Scheduler struct {
	threads int
	workers chan *Worker

	mu      sync.Mutex
	buckets [numBuckets][]Work
	open    Bucket

	executed atomic.Int64
}

// New creates a scheduler with the given number of workers.
func New(threads int) *Scheduler {
	if threads < 1 {
		threads = 1
	}
	s := &Scheduler{
		threads: threads,
		workers: make(chan *Worker, threads),
	}
	for i := 0; i < threads; i++ {
		s.workers <- &Worker{id: vm.WorkerThread(i), sched: s}
	}
	return s
}

// Threads returns the worker count.
func (s *Scheduler) Threads() int { return s.threads }

// Add queues w in bucket b. Adding to a bucket that already finished is a
// scheduling bug and panics.
func (s *Scheduler) Add(b Bucket, w Work) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if b < s.open {
		panic(fmt.Sprintf("scheduler: %s bucket already finished", b))
	}
	s.buckets[b] = append(s.buckets[b], w)
}

// AddFunc queues fn in bucket b.
func (s *Scheduler) AddFunc(b Bucket, fn func(ctx context.Context, w *Worker) error) {
	s.Add(b, WorkFunc(fn))
}

// Executed returns the number of packets run so far.
func (s *Scheduler) Executed() int { return int(s.executed.Load()) }

// Run drains every bucket in order. A bucket is finished once it is empty
// and none of its packets is still running; packets may refill the current
// bucket or any later one. The first failing packet stops the pause after
// its bucket.
func (s *Scheduler) Run(ctx context.Context) error {
	for b := Prepare; int(b) < numBuckets; b++ {
		s.mu.Lock()
		s.open = b
		s.mu.Unlock()
		for {
			packets := s.take(b)
			if len(packets) == 0 {
				break
			}
			log.Debugf("%s: %d packets", b, len(packets))
			if err := s.runAll(ctx, b, packets); err != nil {
				return err
			}
		}
	}
	s.mu.Lock()
	s.open = Bucket(numBuckets)
	s.mu.Unlock()
	return nil
}

func (s *Scheduler) take(b Bucket) []Work {
	s.mu.Lock()
	defer s.mu.Unlock()
	packets := s.buckets[b]
	s.buckets[b] = nil
	return packets
}

func (s *Scheduler) runAll(ctx context.Context, b Bucket, packets []Work) error {
	g, ctx := errgroup.WithContext(ctx)
	g.SetLimit(s.threads)
	for _, p := range packets {
		p := p
		g.Go(func() error {
			w := <-s.workers
			defer func() { s.workers <- w }()
			if err := s.execute(ctx, w, p); err != nil {
				return fmt.Errorf("scheduler: %s: %w", b, err)
			}
			return nil
		})
	}
	return g.Wait()
}

// execute runs one packet, turning a panic into an error.
func (s *Scheduler) execute(ctx context.Context, w *Worker, p Work) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s: panic: %v", w.id, r)
		}
	}()
	s.executed.Add(1)
	return p.Do(ctx, w)
}
