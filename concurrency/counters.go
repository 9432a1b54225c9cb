package concurrency

import (
	"sync"
	"sync/atomic"
	"time"

	"github.com/HdrHistogram/hdrhistogram-go"
)

// TaskCounters tracks per-pool submission/completion/error counts and a
// latency histogram, matching the Java source's TaskCounters (one instance
// per pool: countersUN, countersTX, countersHR) plus the service-time
// distribution the sampler's EWMA needs. Counts are atomic, per spec.md
// section 5's "Counters use atomic increments"; the histogram is guarded
// by a mutex since hdrhistogram.Histogram isn't safe for concurrent
// Recorded writes.
type TaskCounters struct {
	SubmitCount   int64
	CompleteCount int64
	ErrorCount    int64
	QueueDepth    int64 // refreshed from the owning pool's queue length by Manager.Counters
	Live          int64 // current live worker count, maintained by the pool
	Idle          int64 // current idle worker count, maintained by the pool

	serviceNanos int64 // cumulative, atomic
	completions  int64 // atomic, mirrors CompleteCount but kept separate for sampler deltas

	mu   sync.Mutex
	hist *hdrhistogram.Histogram
}

// NewTaskCounters returns a counter block tracking latencies from 1
// microsecond to 10 minutes with 3 significant figures, generous enough
// for both sub-millisecond lock waits and multi-second commit stalls.
func NewTaskCounters() *TaskCounters {
	return &TaskCounters{
		hist: hdrhistogram.New(1, (10 * time.Minute).Microseconds(), 3),
	}
}

// RecordSubmit increments the submission counter; called by the router at
// admission.
func (c *TaskCounters) RecordSubmit() {
	atomic.AddInt64(&c.SubmitCount, 1)
}

// RecordComplete increments completion/error counters and records service
// latency, called once a task's Future is resolved.
func (c *TaskCounters) RecordComplete(latency time.Duration, err error) {
	atomic.AddInt64(&c.CompleteCount, 1)
	atomic.AddInt64(&c.completions, 1)
	atomic.AddInt64(&c.serviceNanos, latency.Nanoseconds())
	if err != nil {
		atomic.AddInt64(&c.ErrorCount, 1)
	}
	c.mu.Lock()
	_ = c.hist.RecordValue(latency.Microseconds())
	c.mu.Unlock()
}

// Percentile returns the p-th percentile (0-100) service latency observed
// so far.
func (c *TaskCounters) Percentile(p float64) time.Duration {
	c.mu.Lock()
	defer c.mu.Unlock()
	return time.Duration(c.hist.ValueAtPercentile(p)) * time.Microsecond
}

// sampler.Source implementation, so a *TaskCounters paired with a queue
// depth accessor can feed directly into sampler.PoolSampler.

// Arrivals implements sampler.Source.
func (c *TaskCounters) Arrivals() int64 { return atomic.LoadInt64(&c.SubmitCount) }

// Completions implements sampler.Source.
func (c *TaskCounters) Completions() int64 { return atomic.LoadInt64(&c.completions) }

// ServiceNanos implements sampler.Source.
func (c *TaskCounters) ServiceNanos() int64 { return atomic.LoadInt64(&c.serviceNanos) }

// QueueDepthValue returns QueueDepth as last refreshed by Manager.Counters.
// The sampler does not use it; it reads queue depth from the pool itself.
func (c *TaskCounters) QueueDepthValue() int { return int(atomic.LoadInt64(&c.QueueDepth)) }

// Counters is the snapshot returned by Manager.Counters(), one block per
// pool, matching the Java source's getCounters() CounterSet tree
// (ReadService / TXWriteService / writeService + WriteServiceLockManager).
type Counters struct {
	Read  PoolCounters
	Tx    PoolCounters
	Write PoolCounters

	// ElapsedSinceStart mirrors the source's "elapsed" counter: time since
	// the manager was constructed.
	ElapsedSinceStart time.Duration

	// HeldLocks is the write executor's lock manager's current number of
	// held resource locks.
	HeldLocks int
}

// PoolCounters is one pool's public counter snapshot.
type PoolCounters struct {
	SubmitCount   int64
	CompleteCount int64
	ErrorCount    int64
	QueueDepth    int64
	Live, Idle    int
	P50, P99      time.Duration
}

func snapshotPool(c *TaskCounters) PoolCounters {
	return PoolCounters{
		SubmitCount:   atomic.LoadInt64(&c.SubmitCount),
		CompleteCount: atomic.LoadInt64(&c.CompleteCount),
		ErrorCount:    atomic.LoadInt64(&c.ErrorCount),
		QueueDepth:    atomic.LoadInt64(&c.QueueDepth),
		Live:          int(atomic.LoadInt64(&c.Live)),
		Idle:          int(atomic.LoadInt64(&c.Idle)),
		P50:           c.Percentile(50),
		P99:           c.Percentile(99),
	}
}
