package concurrency

import (
	"context"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/concurrentstore/ccmanager/concurrency/commit"
)

// alwaysReady is a trivial ResourceManager used by every scenario test:
// none of them exercise the readiness gate itself (that's covered by
// store's own tests).
type alwaysReady struct{}

func (alwaysReady) AwaitRunning(ctx context.Context) bool { return true }

// countingCommitter records every commit call it receives, letting tests
// assert on fsync amortization (spec.md section 8, scenarios S1 and S4).
type countingCommitter struct {
	mu      sync.Mutex
	commits int
	sizes   []int
	fail    func(members []commit.Member) error
}

func (c *countingCommitter) Commit(members []commit.Member) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.commits++
	c.sizes = append(c.sizes, len(members))
	if c.fail != nil {
		return c.fail(members)
	}
	return nil
}

func (c *countingCommitter) Commits() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.commits
}

func newTestManager(t *testing.T, cfg Config, committer commit.Committer) *Manager {
	t.Helper()
	m, err := New(cfg, nil, nil, alwaysReady{}, nil, committer)
	require.NoError(t, err)
	return m
}

// S1: 100 unisolated tasks on one resource all succeed, and the number of
// fsyncs never exceeds the number of tasks. Each task keeps the resource's
// lock until its group commits, so tasks on one resource commit one by one.
func TestScenarioS1GroupCommitAmortizesFsync(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Write.MaximumPoolSize = 50
	cfg.Write.CorePoolSize = 50
	cfg.GroupCommitTimeout = Duration(100 * time.Millisecond)
	committer := &countingCommitter{}
	m := newTestManager(t, cfg, committer)
	defer m.ShutdownNow()

	var order []int
	var orderMu sync.Mutex

	futures := make([]*Future, 100)
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		i := i
		task := &Task{
			Classification: UnisolatedWrite,
			Resources:      []NamedResource{"idx-A"},
			Run: func(ctx context.Context) (interface{}, error) {
				orderMu.Lock()
				order = append(order, i)
				orderMu.Unlock()
				return nil, nil
			},
		}
		f, err := m.Submit(ctx, task)
		require.NoError(t, err)
		futures[i] = f
	}

	for _, f := range futures {
		_, err := f.Wait()
		require.NoError(t, err)
	}

	require.Len(t, order, 100)
	require.LessOrEqual(t, committer.Commits(), 100)
	require.Greater(t, committer.Commits(), 0)
}

// S2: two independent resource streams all complete, and the lock table
// never grants a resource to more than one holder at once.
func TestScenarioS2OneHolderPerResource(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Write.MaximumPoolSize = 20
	cfg.Write.CorePoolSize = 20
	cfg.GroupCommitTimeout = Duration(20 * time.Millisecond)
	committer := &countingCommitter{}
	m := newTestManager(t, cfg, committer)
	defer m.ShutdownNow()

	var concurrentA, concurrentB int32
	var maxA, maxB int32
	track := func(counter, max *int32) func(ctx context.Context) (interface{}, error) {
		return func(ctx context.Context) (interface{}, error) {
			n := atomic.AddInt32(counter, 1)
			for {
				old := atomic.LoadInt32(max)
				if n <= old || atomic.CompareAndSwapInt32(max, old, n) {
					break
				}
			}
			time.Sleep(time.Millisecond)
			atomic.AddInt32(counter, -1)
			return nil, nil
		}
	}

	ctx := context.Background()
	futures := make([]*Future, 0, 100)
	for i := 0; i < 50; i++ {
		fA, err := m.Submit(ctx, &Task{Classification: UnisolatedWrite, Resources: []NamedResource{"idx-A"}, Run: track(&concurrentA, &maxA)})
		require.NoError(t, err)
		fB, err := m.Submit(ctx, &Task{Classification: UnisolatedWrite, Resources: []NamedResource{"idx-B"}, Run: track(&concurrentB, &maxB)})
		require.NoError(t, err)
		futures = append(futures, fA, fB)
	}
	for _, f := range futures {
		_, err := f.Wait()
		require.NoError(t, err)
	}

	// Each stream is serialized on its own resource's lock: neither ever had
	// more than one task body in flight. Overlap between the two streams is
	// not measured here.
	require.LessOrEqual(t, maxA, int32(1))
	require.LessOrEqual(t, maxB, int32(1))
}

// S4: with group commit disabled (timeout 0), each task commits alone.
func TestScenarioS4ZeroTimeoutCommitsAlone(t *testing.T) {
	cfg := DefaultConfig()
	cfg.GroupCommitTimeout = Duration(0)
	committer := &countingCommitter{}
	m := newTestManager(t, cfg, committer)
	defer m.ShutdownNow()

	ctx := context.Background()
	for i := 0; i < 10; i++ {
		task := &Task{
			Classification: UnisolatedWrite,
			Resources:      []NamedResource{NamedResource(rune('A' + i))},
			Run:            func(ctx context.Context) (interface{}, error) { return nil, nil },
		}
		f, err := m.Submit(ctx, task)
		require.NoError(t, err)
		_, err = f.Wait()
		require.NoError(t, err)
	}

	require.Equal(t, 10, committer.Commits())
	for _, size := range committer.sizes {
		require.Equal(t, 1, size)
	}
}

// S6: while writers are in flight, Shutdown waits for them to finish and
// commit, and subsequent submissions are rejected.
func TestScenarioS6ShutdownDrainsInFlightWriters(t *testing.T) {
	cfg := DefaultConfig()
	cfg.Write.CorePoolSize = 20
	cfg.Write.MaximumPoolSize = 20
	cfg.ShutdownTimeout = Duration(5 * time.Second)
	committer := &countingCommitter{}
	m := newTestManager(t, cfg, committer)

	release := make(chan struct{})
	var started int32
	ctx := context.Background()
	futures := make([]*Future, 20)
	for i := 0; i < 20; i++ {
		i := i
		task := &Task{
			Classification: UnisolatedWrite,
			Resources:      []NamedResource{NamedResource(rune('a' + i))},
			Run: func(ctx context.Context) (interface{}, error) {
				atomic.AddInt32(&started, 1)
				<-release
				return nil, nil
			},
		}
		f, err := m.Submit(ctx, task)
		require.NoError(t, err)
		futures[i] = f
	}

	require.Eventually(t, func() bool { return atomic.LoadInt32(&started) == 20 }, time.Second, time.Millisecond)
	close(release)

	shutdownDone := make(chan struct{})
	go func() { m.Shutdown(); close(shutdownDone) }()

	select {
	case <-shutdownDone:
	case <-time.After(5 * time.Second):
		t.Fatal("shutdown did not complete within its own timeout budget")
	}

	require.False(t, m.IsOpen())
	for _, f := range futures {
		_, err := f.Wait()
		require.NoError(t, err)
	}

	_, err := m.Submit(ctx, &Task{Classification: ReadOnly, Timestamp: CurrentRevision, Run: func(ctx context.Context) (interface{}, error) { return nil, nil }})
	require.ErrorIs(t, err, ErrServiceShutDown)
}

func TestReadOnlyNeverBlocksOnWriteLocks(t *testing.T) {
	cfg := DefaultConfig()
	committer := &countingCommitter{}
	m := newTestManager(t, cfg, committer)
	defer m.ShutdownNow()

	ctx := context.Background()
	writeStarted := make(chan struct{})
	writeRelease := make(chan struct{})
	_, err := m.Submit(ctx, &Task{
		Classification: UnisolatedWrite,
		Resources:      []NamedResource{"idx-A"},
		Run: func(ctx context.Context) (interface{}, error) {
			close(writeStarted)
			<-writeRelease
			return nil, nil
		},
	})
	require.NoError(t, err)
	<-writeStarted

	f, err := m.Submit(ctx, &Task{
		Classification: ReadOnly,
		Timestamp:      CurrentRevision,
		Run:            func(ctx context.Context) (interface{}, error) { return "ok", nil },
	})
	require.NoError(t, err)

	select {
	case <-f.Done():
	case <-time.After(time.Second):
		t.Fatal("read-only task blocked behind a write lock it never declared")
	}
	close(writeRelease)
}
