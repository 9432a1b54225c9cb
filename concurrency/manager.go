package concurrency

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/pkg/errors"

	"github.com/concurrentstore/ccmanager/concurrency/commit"
	"github.com/concurrentstore/ccmanager/concurrency/lockmgr"
	"github.com/concurrentstore/ccmanager/concurrency/pool"
	"github.com/concurrentstore/ccmanager/concurrency/sampler"
	"github.com/concurrentstore/ccmanager/concurrency/txlock"
	"github.com/concurrentstore/ccmanager/logger"
	"github.com/concurrentstore/ccmanager/stats"
)

// CorruptedState wraps a task execution error to signal that the failure
// left live index state corrupted, per spec.md section 4.D: "if the
// exception indicates that live index state is corrupted, the current
// forming group is aborted." Task bodies should return this (via
// errors.Is-compatible wrapping) rather than a plain error when a write
// left a live index in an inconsistent state.
type CorruptedState struct {
	Err error
}

func (c *CorruptedState) Error() string { return "corrupted state: " + c.Err.Error() }
func (c *CorruptedState) Unwrap() error { return c.Err }

type managerState int32

const (
	stateOpen managerState = iota
	stateClosed
)

// Manager is the task-admission, routing, locking, and group-commit
// orchestration subsystem described by this repository's specification.
// It composes the Task Router, the three executor pools, the named-
// resource lock manager, and the group-commit coordinator.
type Manager struct {
	cfg    Config
	log    logger.Logger
	stats  stats.StatsClient
	rm     ResourceManager
	txm    TransactionManager

	readPool  *pool.WorkerPool
	txPool    *pool.WorkerPool
	writePool *pool.WorkerPool

	readCounters  *TaskCounters
	txCounters    *TaskCounters
	writeCounters *TaskCounters

	locks       *lockmgr.Manager
	txLocks     *txlock.Manager
	coordinator *commit.Coordinator

	nextTaskID uint64

	state     int32 // managerState, atomic
	startTime time.Time

	sampler *sampler.Sampler

	closeOnce sync.Once
}

// New constructs a Manager. committer performs the durable commit step for
// each formed group (see concurrency/journal for a reference
// implementation); rm and txm are the resource-manager and transaction-
// manager collaborators described in spec.md section 6.
func New(cfg Config, log logger.Logger, statsClient stats.StatsClient, rm ResourceManager, txm TransactionManager, committer commit.Committer) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, errors.Wrap(err, "validating config")
	}
	if log == nil {
		log = logger.NopLogger
	}
	if statsClient == nil {
		statsClient = stats.NopStatsClient
	}

	m := &Manager{
		cfg:           cfg,
		log:           log,
		stats:         statsClient,
		rm:            rm,
		txm:           txm,
		readCounters:  NewTaskCounters(),
		txCounters:    NewTaskCounters(),
		writeCounters: NewTaskCounters(),
		locks:         lockmgr.New(),
		txLocks:       txlock.New(),
		startTime:     time.Now(),
	}

	m.coordinator = commit.NewCoordinator(time.Duration(cfg.GroupCommitTimeout), committer)

	m.readPool = pool.New(pool.Config{
		Shape: shapeFor(cfg.Read),
		Core:  cfg.Read.CorePoolSize,
		Max:   maxOf(cfg.Read),
		Stats: poolStatsAdapter{m.readCounters},
	})
	m.txPool = pool.New(pool.Config{
		Shape: shapeFor(cfg.Tx),
		Core:  cfg.Tx.CorePoolSize,
		Max:   maxOf(cfg.Tx),
		Stats: poolStatsAdapter{m.txCounters},
	})
	m.writePool = pool.New(pool.Config{
		Shape:         shapeFor(cfg.Write),
		Core:          cfg.Write.CorePoolSize,
		Max:           maxOf(cfg.Write),
		QueueCapacity: cfg.Write.QueueCapacity,
		KeepAlive:     time.Duration(cfg.Write.KeepAlive),
		Prestart:      cfg.Write.PrestartAllCoreThreads,
		Stats:         poolStatsAdapter{m.writeCounters},
	})

	if cfg.CollectQueueStatistics {
		m.sampler = sampler.New([]*sampler.PoolSampler{
			sampler.NewPoolSampler("read-service", poolSource{m.readCounters, m.readPool}, sampler.DefaultWeight),
			sampler.NewPoolSampler("tx-service", poolSource{m.txCounters, m.txPool}, sampler.DefaultWeight),
			sampler.NewPoolSampler("write-service", poolSource{m.writeCounters, m.writePool}, sampler.DefaultWeight),
		}, time.Second, m.publishSample)
		m.sampler.Start()
	}

	return m, nil
}

func shapeFor(p PoolConfig) pool.Shape {
	switch p.Shape() {
	case Handoff:
		return pool.Handoff
	case Unbounded:
		return pool.Unbounded
	default:
		return pool.Bounded
	}
}

func maxOf(p PoolConfig) int {
	if p.MaximumPoolSize > 0 {
		return p.MaximumPoolSize
	}
	return p.CorePoolSize
}

type poolStatsAdapter struct{ c *TaskCounters }

func (a poolStatsAdapter) PoolSize(live, idle int) {
	atomic.StoreInt64(&a.c.Live, int64(live))
	atomic.StoreInt64(&a.c.Idle, int64(idle))
}

type poolSource struct {
	c *TaskCounters
	p *pool.WorkerPool
}

func (s poolSource) QueueDepth() int      { return s.p.QueueLen() }
func (s poolSource) Arrivals() int64      { return s.c.Arrivals() }
func (s poolSource) ServiceNanos() int64  { return s.c.ServiceNanos() }
func (s poolSource) Completions() int64   { return s.c.Completions() }

func (m *Manager) publishSample(poolName string, snap sampler.Snapshot) {
	tags := []string{"pool:" + poolName}
	m.stats.Gauge(poolName+".queue_depth_ewma", snap.QueueDepthEWMA, 1)
	m.stats.Gauge(poolName+".arrival_rate_ewma", snap.ArrivalRateEWMA, 1)
	m.stats.Timing(poolName+".service_time_ewma", snap.ServiceTimeEWMA, 1)
	_ = tags
}

// IsOpen reports whether the manager is still accepting admissions.
func (m *Manager) IsOpen() bool {
	return managerState(atomic.LoadInt32(&m.state)) == stateOpen
}

func (m *Manager) assertOpen() error {
	if !m.IsOpen() {
		return ErrServiceShutDown
	}
	return nil
}

// Submit is the Task Router's entry point (spec.md section 4.A).
func (m *Manager) Submit(ctx context.Context, task *Task) (*Future, error) {
	if err := m.assertOpen(); err != nil {
		return nil, err
	}

	submitTime(task, time.Now())

	readyCtx := ctx
	var cancel context.CancelFunc
	if d := time.Duration(m.cfg.ResourceReadyTimeout); d > 0 {
		readyCtx, cancel = context.WithTimeout(ctx, d)
		defer cancel()
	}
	if m.rm != nil && !m.rm.AwaitRunning(readyCtx) {
		return nil, Rejected("store not available")
	}

	switch task.Classification {
	case ReadOnly:
		return m.submitTo(ctx, task, m.readPool, m.readCounters, m.runRead)
	case ReadWriteTx:
		return m.submitTo(ctx, task, m.txPool, m.txCounters, m.runTx)
	case UnisolatedWrite:
		if len(task.canonicalResources) == 0 {
			return nil, errors.New("concurrency: unisolated write task must declare at least one resource")
		}
		return m.submitTo(ctx, task, m.writePool, m.writeCounters, m.runWrite)
	default:
		return nil, errors.Errorf("concurrency: unknown task classification %v", task.Classification)
	}
}

type runFunc func(ctx context.Context, taskID uint64, task *Task, future *Future)

func (m *Manager) submitTo(ctx context.Context, task *Task, p *pool.WorkerPool, counters *TaskCounters, run runFunc) (*Future, error) {
	counters.RecordSubmit()
	m.applyBackpressure(p)

	future := newFuture()
	taskID := atomic.AddUint64(&m.nextTaskID, 1)

	start := time.Now()
	wrapped := func(jobCtx context.Context) {
		run(future.context(), taskID, task, future)
		_, err := future.result.Value, future.result.Err
		counters.RecordComplete(time.Since(start), err)
	}

	if err := p.Submit(ctx, wrapped); err != nil {
		return nil, Rejected(err.Error())
	}
	return future, nil
}

// applyBackpressure sleeps once if the target pool's bounded queue is at
// or above the configured fill threshold, per spec.md section 4.A step 5.
// Pools using a Handoff or Unbounded queue are exempt, matching the source's
// exclusion of SynchronousQueue-backed cached pools.
func (m *Manager) applyBackpressure(p *pool.WorkerPool) {
	if !m.cfg.Backpressure.Enabled {
		return
	}
	qCap := p.QueueCapacity()
	if qCap <= 0 {
		return
	}
	fill := float64(p.QueueLen()) / float64(qCap)
	if fill >= m.cfg.Backpressure.Threshold {
		time.Sleep(time.Duration(m.cfg.Backpressure.Delay))
	}
}

// SubmitAll submits every task and waits for all to complete, matching the
// Java source's invokeAll(Collection): on early return (e.g. ctx
// cancelled), any not-yet-done futures are cancelled.
func (m *Manager) SubmitAll(ctx context.Context, tasks []*Task) ([]*Future, error) {
	futures := make([]*Future, 0, len(tasks))
	done := false
	defer func() {
		if !done {
			for _, f := range futures {
				if !f.IsDone() {
					f.Cancel()
				}
			}
		}
	}()

	for _, t := range tasks {
		f, err := m.Submit(ctx, t)
		if err != nil {
			return futures, err
		}
		futures = append(futures, f)
	}
	for _, f := range futures {
		if _, err := f.WaitContext(ctx); err != nil {
			return futures, nil
		}
	}
	done = true
	return futures, nil
}

// SubmitAllTimeout submits every task and waits up to timeout for all to
// complete, matching the Java source's invokeAll(Collection, timeout):
// returns the futures accumulated so far once the deadline expires, and
// cancels whichever of those are still unfinished (and any tasks not yet
// submitted are simply never submitted).
func (m *Manager) SubmitAllTimeout(ctx context.Context, tasks []*Task, timeout time.Duration) ([]*Future, error) {
	deadline := time.Now().Add(timeout)
	ctx, cancel := context.WithDeadline(ctx, deadline)
	defer cancel()

	futures := make([]*Future, 0, len(tasks))
	done := false
	defer func() {
		if !done {
			for _, f := range futures {
				if !f.IsDone() {
					f.Cancel()
				}
			}
		}
	}()

	for _, t := range tasks {
		if time.Now().After(deadline) {
			return futures, nil
		}
		f, err := m.Submit(ctx, t)
		if err != nil {
			return futures, err
		}
		futures = append(futures, f)
	}
	for _, f := range futures {
		remaining := time.Until(deadline)
		if remaining <= 0 {
			return futures, nil
		}
		wctx, wcancel := context.WithTimeout(ctx, remaining)
		_, _ = f.WaitContext(wctx)
		wcancel()
	}
	done = true
	return futures, nil
}

// Counters returns a consistent snapshot of per-pool counters.
func (m *Manager) Counters() Counters {
	atomic.StoreInt64(&m.readCounters.QueueDepth, int64(m.readPool.QueueLen()))
	atomic.StoreInt64(&m.txCounters.QueueDepth, int64(m.txPool.QueueLen()))
	atomic.StoreInt64(&m.writeCounters.QueueDepth, int64(m.writePool.QueueLen()))
	return Counters{
		Read:              snapshotPool(m.readCounters),
		Tx:                snapshotPool(m.txCounters),
		Write:             snapshotPool(m.writeCounters),
		ElapsedSinceStart: time.Since(m.startTime),
		HeldLocks:         m.locks.Held(),
	}
}

// Shutdown performs the orderly shutdown sequence from spec.md section
// 4.E: mark closed, then drain tx, read, and write pools in that order,
// each bounded by the remaining slice of an overall shutdownTimeout
// budget (0 means wait forever), then stop the sampler.
func (m *Manager) Shutdown() {
	if !atomic.CompareAndSwapInt32(&m.state, int32(stateOpen), int32(stateClosed)) {
		return
	}
	m.log.Infof("concurrency manager: shutdown begin")
	begin := time.Now()
	budget := time.Duration(m.cfg.ShutdownTimeout)
	unbounded := budget <= 0

	drain := func(name string, p *pool.WorkerPool) {
		elapsed := time.Since(begin)
		remaining := budget - elapsed
		if !unbounded && remaining <= 0 {
			m.log.Warnf("%s termination: timeout", name)
			return
		}
		closed := make(chan struct{})
		go func() { p.Close(); close(closed) }()
		if unbounded {
			<-closed
			return
		}
		select {
		case <-closed:
		case <-time.After(remaining):
			m.log.Warnf("%s termination: timeout", name)
		}
	}

	drain("tx service", m.txPool)
	drain("read service", m.readPool)
	drain("write service", m.writePool)

	if m.sampler != nil {
		m.sampler.Stop()
	}
	m.log.Infof("concurrency manager: shutdown done elapsed=%s", time.Since(begin))
}

// ShutdownNow performs immediate shutdown: it closes all three pools at
// once, with no timeout budget. It does not cancel tasks that are already
// running (each pool's Close waits for its running jobs to return), and
// queued tasks that have not started are abandoned, so their futures are
// never completed.
func (m *Manager) ShutdownNow() {
	if !atomic.CompareAndSwapInt32(&m.state, int32(stateOpen), int32(stateClosed)) {
		return
	}
	m.log.Infof("concurrency manager: shutdown-now begin")
	begin := time.Now()

	var wg sync.WaitGroup
	for _, p := range []*pool.WorkerPool{m.txPool, m.readPool, m.writePool} {
		wg.Add(1)
		go func(p *pool.WorkerPool) { defer wg.Done(); p.Close() }(p)
	}
	wg.Wait()

	if m.sampler != nil {
		m.sampler.Stop()
	}
	m.log.Infof("concurrency manager: shutdown-now done elapsed=%s", time.Since(begin))
}
