package sampler

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

type fakeSource struct {
	mu     sync.Mutex
	depth  int
	arr    int64
	svc    int64
	done   int64
}

func (f *fakeSource) QueueDepth() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.depth
}
func (f *fakeSource) Arrivals() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.arr
}
func (f *fakeSource) ServiceNanos() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.svc
}
func (f *fakeSource) Completions() int64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.done
}

func (f *fakeSource) set(depth int, arr, svc, done int64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.depth, f.arr, f.svc, f.done = depth, arr, svc, done
}

func TestFirstTickSeedsWithoutRate(t *testing.T) {
	src := &fakeSource{}
	src.set(5, 10, 1000, 2)
	p := NewPoolSampler("write", src, DefaultWeight)

	now := time.Now()
	p.tick(now)

	snap := p.Snapshot()
	require.Equal(t, 5.0, snap.QueueDepthEWMA)
	require.Equal(t, 0.0, snap.ArrivalRateEWMA)
}

func TestSecondTickComputesRateAndMovesTowardSample(t *testing.T) {
	src := &fakeSource{}
	src.set(5, 10, 1000, 2)
	p := NewPoolSampler("write", src, 0.5)

	now := time.Now()
	p.tick(now)

	src.set(15, 20, 3000, 4)
	p.tick(now.Add(time.Second))

	snap := p.Snapshot()
	// depth moved halfway from 5 toward 15
	require.Equal(t, 10.0, snap.QueueDepthEWMA)
	// arrivals: (20-10)/1s = 10/s, moved halfway from 0
	require.Equal(t, 5.0, snap.ArrivalRateEWMA)
	require.Greater(t, snap.ServiceTimeEWMA, time.Duration(0))
}

func TestSamplerPublishesOnEachTick(t *testing.T) {
	src := &fakeSource{}
	src.set(1, 0, 0, 0)
	p := NewPoolSampler("write", src, DefaultWeight)

	var mu sync.Mutex
	var calls int
	s := New([]*PoolSampler{p}, 5*time.Millisecond, func(name string, snap Snapshot) {
		mu.Lock()
		defer mu.Unlock()
		calls++
	})
	s.Start()
	time.Sleep(30 * time.Millisecond)
	s.Stop()

	mu.Lock()
	defer mu.Unlock()
	require.Greater(t, calls, 0)
}

func TestZeroOrNegativeWeightDefaults(t *testing.T) {
	p := NewPoolSampler("write", &fakeSource{}, -1)
	require.Equal(t, DefaultWeight, p.weight)
}
