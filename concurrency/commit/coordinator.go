package commit

import (
	"sync"
	"time"
)

// Coordinator owns the sequence of Groups: FORMING -> COMMITTING ->
// DONE/ABORTED, then a fresh FORMING group for the next generation. The
// write pool holds one Coordinator per Manager.
type Coordinator struct {
	mu        sync.Mutex
	timeout   time.Duration
	committer Committer
	current   *Group
	running   int // workers currently executing unisolated tasks (could still join current)
	seq       uint64
}

// NewCoordinator constructs a Coordinator whose groups wait up to timeout
// for additional members before committing. timeout == 0 means group
// commit is disabled: every group closes as soon as its one member joins.
func NewCoordinator(timeout time.Duration, committer Committer) *Coordinator {
	c := &Coordinator{timeout: timeout, committer: committer}
	c.current = c.newGroupLocked()
	return c
}

func (c *Coordinator) newGroupLocked() *Group {
	c.seq++
	return newGroup(c.timeout, c.committer, c.running, c.onGroupClosed)
}

func (c *Coordinator) onGroupClosed(g *Group) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.current == g {
		c.current = c.newGroupLocked()
	}
}

// WorkerStarted records that a unisolated worker has begun executing (and
// so could eventually join the current group). Call once the worker holds
// all of its locks, just before it runs the task body; pairs with
// WorkerFinished or WorkerAbandoned.
func (c *Coordinator) WorkerStarted() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running++
}

// WorkerAbandoned records that a worker that had been counted as running
// will never join any group (it was cancelled or failed before finishing,
// without corrupting state). It does not affect any already-formed group's
// membership, only the running-count closing condition.
func (c *Coordinator) WorkerAbandoned() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.running--
	if c.running < 0 {
		c.running = 0
	}
	if c.current != nil {
		c.current.NoMoreArrivals(c.running)
	}
}

// Current returns the group new finishing workers should join.
func (c *Coordinator) Current() *Group {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// WorkerFinished joins a finishing worker's task to whatever the current
// group is at the moment of the call, decrementing the running count. It
// retries against the coordinator's current group if the one it read has
// already closed out from under it (a narrow race between reading Current
// and calling Join).
func (c *Coordinator) WorkerFinished(m Member) *Group {
	c.mu.Lock()
	c.running--
	if c.running < 0 {
		c.running = 0
	}
	c.mu.Unlock()

	for {
		c.mu.Lock()
		g := c.current
		running := c.running
		c.mu.Unlock()

		if g.Join(m, running) {
			return g
		}
		// g closed between reading Current and calling Join; the coordinator
		// has already rotated to a new "current" group by the time
		// onGroupClosed ran, so loop and join that one instead. running was
		// already decremented exactly once above and is never touched again
		// by this retry loop.
	}
}

// QueueDrained tells the coordinator that the write pool's queue is empty
// and no in-flight tasks remain declaring locks -- closing condition (c)
// from spec.md section 4.D. It is advisory: if a fresh task arrives and
// starts running immediately after, it simply joins the next group.
func (c *Coordinator) QueueDrained() {
	c.mu.Lock()
	g := c.current
	c.mu.Unlock()
	g.NoMoreArrivals(0)
}
