// Package lockmgr implements the deadlock-free named-resource lock table
// described in spec.md section 4.D: resources are acquired in a fixed total
// order (lexicographic on name) with all-or-nothing acquire-all semantics,
// so no task ever holds one lock while waiting on another that could complete
// a wait-for cycle.
//
// Grounded on the Java source's use of com.bigdata.concurrent.LockManager,
// generalized per the design notes: "Represent locks as a map resource ->
// Option<owner> with per-resource wait lists. Total order on resource names
// + atomic acquire-all eliminates hold-and-wait over user tasks."
package lockmgr

import (
	"context"
	"sort"
	"sync"
)

// Resource identifies a lockable named index or index partition.
type Resource string

// TaskID identifies the task attempting to acquire a lock set, for
// diagnostics and for releasing exactly the locks that task holds.
type TaskID uint64

// Manager is the aggregate lock table: resource -> owning task (or none),
// with a FIFO wait list per contested resource.
type Manager struct {
	mu      sync.Mutex
	holders map[Resource]TaskID
	waiters map[Resource][]chan struct{}
}

// New returns an empty lock table.
func New() *Manager {
	return &Manager{
		holders: make(map[Resource]TaskID),
		waiters: make(map[Resource][]chan struct{}),
	}
}

// Sorted returns resources in the manager's canonical total order. Callers
// must acquire locks in this order (AcquireAll already does, but tasks that
// release/reacquire manually must follow the same order to preserve the
// no-hold-and-wait invariant).
func Sorted(resources []Resource) []Resource {
	out := make([]Resource, len(resources))
	copy(out, resources)
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// AcquireAll acquires every resource in resources, in canonical total
// order, blocking on each contested resource until it is released. It is
// all-or-nothing only in the sense that the caller gets every lock before
// proceeding; because acquisition always proceeds in the same fixed order
// system-wide, no two callers can deadlock waiting on each other (a waits
// for b's lock only ever if b comes earlier in the order, and b can never
// in turn be waiting on a lock later in the order that a holds).
//
// If ctx is cancelled while waiting, AcquireAll releases any locks it had
// already acquired and returns ctx.Err().
func (m *Manager) AcquireAll(ctx context.Context, id TaskID, resources []Resource) error {
	ordered := Sorted(resources)
	held := make([]Resource, 0, len(ordered))
	for _, r := range ordered {
		if err := m.acquireOne(ctx, id, r); err != nil {
			m.ReleaseAll(id, held)
			return err
		}
		held = append(held, r)
	}
	return nil
}

func (m *Manager) acquireOne(ctx context.Context, id TaskID, r Resource) error {
	for {
		m.mu.Lock()
		owner, held := m.holders[r]
		if !held {
			m.holders[r] = id
			m.mu.Unlock()
			return nil
		}
		if owner == id {
			// Already held by this task (re-entrant no-op); the source
			// never exercises this since tasks declare a deduplicated
			// resource set, but guard against it defensively.
			m.mu.Unlock()
			return nil
		}
		wait := make(chan struct{})
		m.waiters[r] = append(m.waiters[r], wait)
		m.mu.Unlock()

		select {
		case <-wait:
			// Loop back around: re-check ownership, since multiple
			// waiters may race for the now-free resource.
		case <-ctx.Done():
			m.removeWaiter(r, wait)
			return ctx.Err()
		}
	}
}

func (m *Manager) removeWaiter(r Resource, wait chan struct{}) {
	m.mu.Lock()
	defer m.mu.Unlock()
	ws := m.waiters[r]
	for i, w := range ws {
		if w == wait {
			m.waiters[r] = append(ws[:i], ws[i+1:]...)
			break
		}
	}
}

// ReleaseAll releases every resource in resources that id currently holds,
// waking exactly one waiter per released resource (which then re-checks
// ownership, so releases and acquisitions interleave safely under
// concurrent contention).
func (m *Manager) ReleaseAll(id TaskID, resources []Resource) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, r := range resources {
		if m.holders[r] != id {
			continue
		}
		delete(m.holders, r)
		ws := m.waiters[r]
		if len(ws) == 0 {
			continue
		}
		next := ws[0]
		m.waiters[r] = ws[1:]
		close(next)
	}
}

// HolderOf returns the task currently holding r, if any. Intended for
// diagnostics/tests, not for making scheduling decisions (the result is
// stale the instant the lock is released).
func (m *Manager) HolderOf(r Resource) (TaskID, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	id, ok := m.holders[r]
	return id, ok
}

// Held reports how many resources are currently locked, for sampler/
// telemetry use.
func (m *Manager) Held() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.holders)
}
