package stats

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("gcore.stats")

// DefaultFlushInterval is used when a recorder is created with a
// non-positive interval.
const DefaultFlushInterval = 5 * time.Second

// Recorder accumulates pause records and periodically flushes them to a
// Store. Without a store it only keeps counters.
type Recorder struct {
	store    *Store
	interval time.Duration
	stop     chan struct{}
	stopped  chan struct{}
	mu       sync.Mutex // protects start/stop lifecycle and pending

	pending []*PauseRecord

	// Statistics
	pauses     atomic.Uint64
	totalPause atomic.Int64
	reclaimed  atomic.Int64
	flushes    atomic.Uint64
	last       atomic.Pointer[PauseRecord]
}

// NewRecorder creates a recorder flushing to store (which may be nil).
func NewRecorder(store *Store, interval time.Duration) *Recorder {
	if interval <= 0 {
		interval = DefaultFlushInterval
	}
	return &Recorder{store: store, interval: interval}
}

// NextSeq returns the sequence number the next pause should carry.
func (r *Recorder) NextSeq() uint64 { return r.pauses.Load() + 1 }

// Record adds a completed pause.
func (r *Recorder) Record(rec *PauseRecord) {
	r.pauses.Add(1)
	r.totalPause.Add(int64(rec.Duration))
	r.reclaimed.Add(int64(rec.Reclaimed()))
	r.last.Store(rec)
	if r.store == nil {
		return
	}
	r.mu.Lock()
	r.pending = append(r.pending, rec)
	r.mu.Unlock()
}

// Pauses returns the number of recorded pauses.
func (r *Recorder) Pauses() uint64 { return r.pauses.Load() }

// TotalPause returns the summed duration of all pauses.
func (r *Recorder) TotalPause() time.Duration { return time.Duration(r.totalPause.Load()) }

// ReclaimedPages returns the pages all pauses gave back.
func (r *Recorder) ReclaimedPages() int64 { return r.reclaimed.Load() }

// Flushes returns the number of successful flushes.
func (r *Recorder) Flushes() uint64 { return r.flushes.Load() }

// Last returns the latest pause, or nil before the first one.
func (r *Recorder) Last() *PauseRecord { return r.last.Load() }

// Store returns the backing store, or nil.
func (r *Recorder) Store() *Store { return r.store }

// Start begins the periodic flush goroutine. Calling Start again while it
// runs is a no-op.
func (r *Recorder) Start() {
	if r.store == nil {
		return
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.stop != nil {
		return
	}
	r.stop = make(chan struct{})
	r.stopped = make(chan struct{})

	stopCh := r.stop
	stoppedCh := r.stopped
	go r.loop(stopCh, stoppedCh)
}

// Stop halts the flush goroutine, waits for it, and flushes what is left.
func (r *Recorder) Stop() error {
	r.mu.Lock()
	stopCh := r.stop
	stoppedCh := r.stopped
	r.stop = nil
	r.stopped = nil
	r.mu.Unlock()

	if stopCh != nil {
		close(stopCh)
		<-stoppedCh
	}
	return r.FlushNow()
}

// FlushNow writes pending records immediately.
func (r *Recorder) FlushNow() error {
	if r.store == nil {
		return nil
	}
	r.mu.Lock()
	batch := r.pending
	r.pending = nil
	r.mu.Unlock()
	if len(batch) == 0 {
		return nil
	}
	if err := r.store.Save(batch...); err != nil {
		// Keep the batch for the next attempt.
		r.mu.Lock()
		r.pending = append(batch, r.pending...)
		r.mu.Unlock()
		return err
	}
	r.flushes.Add(1)
	return nil
}

func (r *Recorder) loop(stopCh <-chan struct{}, stoppedCh chan struct{}) {
	defer close(stoppedCh)

	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-stopCh:
			return
		case <-ticker.C:
			if err := r.FlushNow(); err != nil {
				log.Errorf("flushing pause history: %s", err)
			}
		}
	}
}
