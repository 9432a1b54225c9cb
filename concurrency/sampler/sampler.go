// Package sampler implements the once-per-second queue/arrival/service-time
// sampler from spec.md section 4.E: "optional once-per-second sampler
// (exponentially weighted moving averages of queue depth, arrival rate,
// service time)". Grounded on the design notes: "The sampler is a single
// periodic task reading atomic counters and updating EWMAs. Readers of
// counters should read a consistent snapshot (double-buffered or
// lock-guarded per-pool block)."
package sampler

import (
	"sync"
	"time"
)

// DefaultWeight is the EWMA smoothing factor applied per tick, mirroring
// the Java source's QueueStatisticsTask.DEFAULT_WEIGHT convention: a small
// weight makes the average respond slowly to transient spikes.
const DefaultWeight = 0.2

// Source is queried once per tick for the raw instantaneous values this
// sampler turns into moving averages.
type Source interface {
	// QueueDepth returns the current number of queued-but-not-started
	// tasks.
	QueueDepth() int
	// Arrivals returns the cumulative count of tasks submitted so far;
	// the sampler derives a rate from the delta between ticks.
	Arrivals() int64
	// ServiceNanos returns the cumulative nanoseconds spent executing
	// tasks so far; the sampler derives an average service time from the
	// delta between ticks divided by the delta in completions.
	ServiceNanos() int64
	Completions() int64
}

// Snapshot is a consistent, lock-guarded view of one pool's moving
// averages, safe to read concurrently with the next tick.
type Snapshot struct {
	QueueDepthEWMA  float64
	ArrivalRateEWMA float64 // tasks/sec
	ServiceTimeEWMA time.Duration
	Live, Idle      int
}

// PoolSampler tracks one executor pool's moving averages.
type PoolSampler struct {
	name   string
	source Source
	weight float64

	mu       sync.RWMutex
	snap     Snapshot
	lastTick time.Time
	lastArr  int64
	lastSvc  int64
	lastDone int64
	init     bool
}

// NewPoolSampler constructs a sampler for one pool, reading from source.
func NewPoolSampler(name string, source Source, weight float64) *PoolSampler {
	if weight <= 0 {
		weight = DefaultWeight
	}
	return &PoolSampler{name: name, source: source, weight: weight}
}

// Name returns the pool name this sampler was constructed for, used as the
// telemetry tag/stat-name prefix.
func (p *PoolSampler) Name() string { return p.name }

func ewma(prev, sample, weight float64) float64 {
	return prev + weight*(sample-prev)
}

func (p *PoolSampler) tick(now time.Time) {
	depth := float64(p.source.QueueDepth())
	arr := p.source.Arrivals()
	svc := p.source.ServiceNanos()
	done := p.source.Completions()

	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.init {
		p.snap.QueueDepthEWMA = depth
		p.lastTick = now
		p.lastArr, p.lastSvc, p.lastDone = arr, svc, done
		p.init = true
		return
	}

	elapsed := now.Sub(p.lastTick).Seconds()
	if elapsed <= 0 {
		elapsed = 1
	}
	arrRate := float64(arr-p.lastArr) / elapsed

	var avgSvc time.Duration
	if completed := done - p.lastDone; completed > 0 {
		avgSvc = time.Duration((svc - p.lastSvc) / completed)
	}

	p.snap.QueueDepthEWMA = ewma(p.snap.QueueDepthEWMA, depth, p.weight)
	p.snap.ArrivalRateEWMA = ewma(p.snap.ArrivalRateEWMA, arrRate, p.weight)
	p.snap.ServiceTimeEWMA = time.Duration(ewma(float64(p.snap.ServiceTimeEWMA), float64(avgSvc), p.weight))

	p.lastTick = now
	p.lastArr, p.lastSvc, p.lastDone = arr, svc, done
}

// Snapshot returns a consistent copy of the current moving averages.
func (p *PoolSampler) Snapshot() Snapshot {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.snap
}

// Publisher receives a pool's snapshot once per tick, for wiring into a
// stats.StatsClient (gauges per pool) without this package depending on
// the stats package directly.
type Publisher func(poolName string, snap Snapshot)

// Sampler runs a 1Hz ticker over a fixed set of PoolSamplers until Stop is
// called, matching spec.md's "optional once-per-second sampler" and the
// Java source's single sampleService ScheduledExecutorService.
type Sampler struct {
	pools    []*PoolSampler
	interval time.Duration
	publish  Publisher
	stop     chan struct{}
	stopped  chan struct{}
	stopOnce sync.Once
}

// New constructs a Sampler over pools, ticking at interval (spec.md
// documents "once-per-second", so interval is normally time.Second; it's
// configurable for tests).
func New(pools []*PoolSampler, interval time.Duration, publish Publisher) *Sampler {
	if interval <= 0 {
		interval = time.Second
	}
	return &Sampler{
		pools:    pools,
		interval: interval,
		publish:  publish,
		stop:     make(chan struct{}),
		stopped:  make(chan struct{}),
	}
}

// Start runs the sampling loop in a new goroutine.
func (s *Sampler) Start() {
	go s.run()
}

func (s *Sampler) run() {
	defer close(s.stopped)
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stop:
			return
		case now := <-ticker.C:
			for _, p := range s.pools {
				p.tick(now)
				if s.publish != nil {
					s.publish(p.Name(), p.Snapshot())
				}
			}
		}
	}
}

// Stop halts the sampling loop and waits for it to exit.
func (s *Sampler) Stop() {
	s.stopOnce.Do(func() { close(s.stop) })
	<-s.stopped
}
