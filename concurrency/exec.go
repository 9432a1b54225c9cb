package concurrency

import (
	"context"

	"github.com/pkg/errors"

	"github.com/concurrentstore/ccmanager/concurrency/commit"
	"github.com/concurrentstore/ccmanager/concurrency/lockmgr"
	"github.com/concurrentstore/ccmanager/concurrency/txlock"
)

// runRead executes a ReadOnly task with no locking at all: historical and
// read-committed reads never block writers and are never blocked by them,
// per spec.md section 4.B.
func (m *Manager) runRead(ctx context.Context, taskID uint64, task *Task, future *Future) {
	if future.cancelled() {
		future.complete(Result{Err: ErrCancelled})
		return
	}
	v, err := task.Run(ctx)
	future.complete(Result{Value: v, Err: err})
}

// runTx executes the active phase of a read-write transaction: it reads a
// historical snapshot (no locking needed for that) but must serialize
// against other concurrent tasks of the *same* transaction that touch the
// same isolated temp-store index, per spec.md section 4.C.
func (m *Manager) runTx(ctx context.Context, taskID uint64, task *Task, future *Future) {
	if future.cancelled() {
		future.complete(Result{Err: ErrCancelled})
		return
	}

	tx := txlock.TxID(task.Timestamp)
	resources := task.CanonicalResources()
	for _, r := range resources {
		if err := m.txLocks.Acquire(ctx, tx, string(r)); err != nil {
			future.complete(Result{Err: errors.Wrap(err, "acquiring tx-local index lock")})
			return
		}
	}
	defer func() {
		for _, r := range resources {
			m.txLocks.Release(tx, string(r))
		}
	}()

	v, err := task.Run(ctx)
	future.complete(Result{Value: v, Err: err})
}

// runWrite executes an UnisolatedWrite task: acquire every declared
// resource's lock in canonical order, run the body, then join the current
// CommitGroup and wait for it to reach Done or Aborted before completing
// the future and releasing locks. This is spec.md section 4.D end to end.
func (m *Manager) runWrite(ctx context.Context, taskID uint64, task *Task, future *Future) {
	if future.cancelled() {
		// Cancelled before execution: locks never acquired.
		future.complete(Result{Err: ErrCancelled})
		return
	}

	resources := make([]lockmgr.Resource, len(task.CanonicalResources()))
	for i, r := range task.CanonicalResources() {
		resources[i] = lockmgr.Resource(r)
	}

	if err := m.locks.AcquireAll(ctx, lockmgr.TaskID(taskID), resources); err != nil {
		future.complete(Result{Err: errors.Wrap(err, "acquiring resource locks")})
		return
	}

	m.coordinator.WorkerStarted()

	if future.cancelled() {
		// Cancelled after lock acquisition but before the body ran: we
		// still hold locks and must release them; this task never joins
		// a commit group.
		m.locks.ReleaseAll(lockmgr.TaskID(taskID), resources)
		m.coordinator.WorkerAbandoned()
		future.complete(Result{Err: ErrCancelled})
		return
	}

	v, err := task.Run(ctx)
	if err != nil {
		m.locks.ReleaseAll(lockmgr.TaskID(taskID), resources)
		m.coordinator.WorkerAbandoned()

		var corrupted *CorruptedState
		if asCorrupted(err, &corrupted) {
			m.coordinator.Current().Abort(corrupted.Err)
		}
		future.complete(Result{Err: err})
		return
	}

	member := commit.Member{
		ID:         taskID,
		IsTxCommit: task.IsTxCommit,
	}
	for _, r := range task.CanonicalResources() {
		member.Resources = append(member.Resources, string(r))
	}

	group := m.coordinator.WorkerFinished(member)
	outcome := group.Wait()

	m.locks.ReleaseAll(lockmgr.TaskID(taskID), resources)

	switch outcome.State {
	case commit.Done:
		future.complete(Result{Value: v})
	default:
		future.complete(Result{Err: outcome.Err})
	}
}

func asCorrupted(err error, target **CorruptedState) bool {
	for err != nil {
		if c, ok := err.(*CorruptedState); ok {
			*target = c
			return true
		}
		u, ok := err.(interface{ Unwrap() error })
		if !ok {
			return false
		}
		err = u.Unwrap()
	}
	return false
}

