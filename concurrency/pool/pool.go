// Package pool implements the WorkerPool abstraction the design notes call
// for: one shape unifying the Java source's cached, fixed, and bounded
// ThreadPoolExecutor configurations, expressed as goroutines pulling from a
// channel-backed queue.
//
// This is grounded on the teacher's task.Pool (task/pool.go): a pool that
// tracks live/target worker counts with atomics and a sync.Cond for
// Close() to wait on. That pool assumes an unbounded, implicit work
// supply (a step function called in a loop); WorkerPool generalizes it to
// pull explicit Job values from a capacity-aware queue, supports a minimum
// core size distinct from the target, and supports idle-worker culling via
// a keep-alive timeout, both needed for the write executor's core/max/
// keep-alive pool shape.
package pool

import (
	"context"
	"sync"
	"sync/atomic"
	"time"
)

// Job is one unit of work a WorkerPool runs.
type Job func(ctx context.Context)

// Shape mirrors concurrency.QueueShape without importing the parent
// package (avoiding an import cycle); the three cases are handled
// identically here except for how admission blocks.
type Shape int

const (
	Handoff Shape = iota
	Bounded
	Unbounded
)

// Stats reports a pool's current size, mirroring task.PoolStats in the
// teacher package.
type Stats interface {
	PoolSize(live, idle int)
}

// Config configures a WorkerPool.
type Config struct {
	Shape         Shape
	Core          int // minimum resident workers (ignored for Handoff)
	Max           int // maximum workers (ignored for Handoff: unbounded)
	QueueCapacity int // only meaningful for Bounded
	KeepAlive     time.Duration
	Prestart      bool
	Stats         Stats
}

// WorkerPool runs Jobs with bounded (or unbounded, or handoff) concurrency.
// Submit blocks according to the configured Shape: Handoff blocks until an
// idle worker is available (spawning one if none exists and the pool is
// below its informal system limit), Bounded blocks once both the worker
// pool and its queue are saturated, Unbounded never blocks on admission.
type WorkerPool struct {
	cfg Config

	mu      sync.Mutex
	cond    *sync.Cond
	queue   chan Job
	closing chan struct{}
	closed  bool

	live int32 // workers currently alive (executing or waiting for work)
	idle int32 // workers currently waiting for work

	started  bool
	overflow []Job // unbounded overflow buffer, guarded by mu

	wg sync.WaitGroup
}

// New constructs a WorkerPool per cfg. For Handoff, Core/Max/QueueCapacity
// are ignored: every Submit either hands off to an idle worker or starts a
// fresh one, and workers exit once idle beyond KeepAlive.
func New(cfg Config) *WorkerPool {
	if cfg.KeepAlive <= 0 {
		cfg.KeepAlive = 60 * time.Second
	}
	p := &WorkerPool{
		cfg:     cfg,
		closing: make(chan struct{}),
	}
	p.cond = sync.NewCond(&p.mu)

	switch cfg.Shape {
	case Bounded:
		p.queue = make(chan Job, cfg.QueueCapacity)
	case Unbounded:
		p.queue = make(chan Job, 1) // unblocking send loop below handles true unboundedness
	case Handoff:
		p.queue = make(chan Job) // unbuffered: a send only succeeds if a worker is receiving
	}

	if cfg.Shape != Handoff && cfg.Prestart {
		for i := 0; i < cfg.Core; i++ {
			p.spawn(true)
		}
	}
	return p
}

// QueueLen reports the number of jobs currently buffered (0 for Handoff,
// and only approximate for Unbounded since its internal overflow buffer is
// a plain slice guarded by a mutex described below).
func (p *WorkerPool) QueueLen() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.overflow) + len(p.queue)
}

// QueueCapacity returns the configured bounded capacity, or 0 if the pool
// is not Bounded (Handoff and Unbounded pools have no fixed capacity to
// compare a fill fraction against).
func (p *WorkerPool) QueueCapacity() int {
	if p.cfg.Shape != Bounded {
		return 0
	}
	return p.cfg.QueueCapacity
}

// Submit enqueues job for execution. For Bounded pools at capacity, Submit
// blocks until space frees up or ctx is done. Live worker count grows
// lazily up to Max as load demands.
func (p *WorkerPool) Submit(ctx context.Context, job Job) error {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return ErrClosed
	}
	p.ensureCapacity()
	p.mu.Unlock()

	switch p.cfg.Shape {
	case Handoff:
		select {
		case p.queue <- job:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-p.closing:
			return ErrClosed
		default:
			// No idle worker ready to receive immediately; spawn one and
			// then hand off, blocking only on the channel send.
			p.spawn(false)
			select {
			case p.queue <- job:
				return nil
			case <-ctx.Done():
				return ctx.Err()
			case <-p.closing:
				return ErrClosed
			}
		}
	case Bounded:
		select {
		case p.queue <- job:
			return nil
		default:
			// Queue is momentarily full: grow toward Max before blocking,
			// the same core-then-max escalation a ThreadPoolExecutor uses
			// once its work queue rejects an offer.
			p.mu.Lock()
			if int(atomic.LoadInt32(&p.live)) < p.cfg.Max {
				p.spawnLocked()
			}
			p.mu.Unlock()
		}
		select {
		case p.queue <- job:
			return nil
		case <-ctx.Done():
			return ctx.Err()
		case <-p.closing:
			return ErrClosed
		}
	default: // Unbounded
		p.mu.Lock()
		p.overflow = append(p.overflow, job)
		p.mu.Unlock()
		p.cond.Broadcast()
		return nil
	}
}

// ensureCapacity grows the worker count toward Core (lazily, on first use)
// and spawns the Unbounded dispatcher once.
func (p *WorkerPool) ensureCapacity() {
	if p.cfg.Shape == Handoff {
		return
	}
	if !p.started {
		p.started = true
		if p.cfg.Shape == Unbounded {
			go p.dispatchOverflow()
		}
		n := p.cfg.Core
		if n == 0 {
			n = 1
		}
		for i := 0; i < n; i++ {
			p.spawnLocked()
		}
	}
}

func (p *WorkerPool) dispatchOverflow() {
	for {
		p.mu.Lock()
		for len(p.overflow) == 0 && !p.closed {
			p.cond.Wait()
		}
		if p.closed && len(p.overflow) == 0 {
			p.mu.Unlock()
			return
		}
		job := p.overflow[0]
		p.overflow = p.overflow[1:]
		p.mu.Unlock()

		select {
		case p.queue <- job:
		case <-p.closing:
			return
		}
	}
}

// spawn starts a new worker goroutine, growing live count, respecting Max
// for non-Handoff shapes (callers of Submit already ensured we're under
// Max before calling, for Bounded/Unbounded growth-on-demand; Handoff has
// no Max).
func (p *WorkerPool) spawn(prestart bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.spawnLocked()
}

func (p *WorkerPool) spawnLocked() {
	if p.cfg.Shape != Handoff && p.cfg.Max > 0 && int(p.live) >= p.cfg.Max {
		return
	}
	atomic.AddInt32(&p.live, 1)
	p.wg.Add(1)
	if p.cfg.Stats != nil {
		p.cfg.Stats.PoolSize(int(p.live), int(p.idle))
	}
	go p.work()
}

func (p *WorkerPool) work() {
	defer func() {
		atomic.AddInt32(&p.live, -1)
		p.wg.Done()
		p.mu.Lock()
		if p.cfg.Stats != nil {
			p.cfg.Stats.PoolSize(int(p.live), int(p.idle))
		}
		p.cond.Broadcast()
		p.mu.Unlock()
	}()

	idleTimer := time.NewTimer(p.cfg.KeepAlive)
	defer idleTimer.Stop()

	for {
		atomic.AddInt32(&p.idle, 1)
		var job Job
		var ok bool
		if p.cfg.Shape == Handoff {
			select {
			case job, ok = <-p.queue:
			case <-p.closing:
				atomic.AddInt32(&p.idle, -1)
				return
			case <-time.After(p.cfg.KeepAlive):
				atomic.AddInt32(&p.idle, -1)
				return
			}
		} else {
			if !idleTimer.Stop() {
				select {
				case <-idleTimer.C:
				default:
				}
			}
			idleTimer.Reset(p.cfg.KeepAlive)
			select {
			case job, ok = <-p.queue:
			case <-p.closing:
				atomic.AddInt32(&p.idle, -1)
				return
			case <-idleTimer.C:
				atomic.AddInt32(&p.idle, -1)
				if p.aboveCore() {
					return
				}
				continue
			}
		}
		atomic.AddInt32(&p.idle, -1)
		if !ok {
			return
		}
		job(context.Background())
	}
}

func (p *WorkerPool) aboveCore() bool {
	return int(atomic.LoadInt32(&p.live)) > p.cfg.Core
}

// Close stops accepting new work and waits for all running jobs and
// workers to exit. Queued-but-not-started jobs are abandoned (callers
// should use Shutdown/ShutdownNow semantics at the Manager level to decide
// whether that's acceptable).
func (p *WorkerPool) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return
	}
	p.closed = true
	close(p.closing)
	p.cond.Broadcast()
	p.mu.Unlock()
	p.wg.Wait()
}

// Live returns the current number of live (executing-or-idle) worker
// goroutines.
func (p *WorkerPool) Live() int { return int(atomic.LoadInt32(&p.live)) }

// ErrClosed is returned by Submit once Close has been called.
var ErrClosed = poolClosedError{}

type poolClosedError struct{}

func (poolClosedError) Error() string { return "pool: closed" }
