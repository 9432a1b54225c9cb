// Package txmgr is a reference TransactionManager (spec.md section 6):
// issues transaction identifiers and builds the unisolated commit task a
// completed read-write transaction submits to the write executor.
//
// Grounded on the teacher's own idalloc.go monotonic-ID allocation pattern
// for identifier issuance, and on the design notes' resolution that a
// transaction's write-set is whatever set of named resources its active-
// phase tasks declared, accumulated by the caller and handed to CommitTask.
package txmgr

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/pkg/errors"

	"github.com/concurrentstore/ccmanager/concurrency"
	"github.com/concurrentstore/ccmanager/concurrency/store"
)

// ErrUnknownTransaction is returned by CommitTask for a txID that was never
// issued by NewTransaction (or was already committed).
var ErrUnknownTransaction = errors.New("txmgr: unknown transaction")

// Manager issues sequential transaction identifiers and constructs commit
// tasks that apply a transaction's buffered writes to the live store,
// implementing concurrency.TransactionManager.
type Manager struct {
	store *store.Store

	mu   sync.Mutex
	open map[int64]struct{}

	nextID int64
}

// New returns a Manager that applies committed transactions' writes to s.
func New(s *store.Store) *Manager {
	return &Manager{
		store: s,
		open:  make(map[int64]struct{}),
	}
}

// NewTransaction implements concurrency.TransactionManager.
func (m *Manager) NewTransaction(ctx context.Context) (int64, error) {
	id := atomic.AddInt64(&m.nextID, 1)
	m.mu.Lock()
	m.open[id] = struct{}{}
	m.mu.Unlock()
	return id, nil
}

// WriteSet describes one named resource's buffered mutation, accumulated by
// a transaction's active-phase task bodies and handed to CommitTask once
// the caller decides to commit.
type WriteSet struct {
	Resource concurrency.NamedResource
	Add      []uint64
	Remove   []uint64
}

// CommitTask implements concurrency.TransactionManager. The returned Task
// is an ordinary UnisolatedWrite task -- it goes through the same lock
// acquisition and group-commit path as any other write -- marked
// IsTxCommit, which the write executor copies into the task's
// commit.Member, so the group's member list and the journal record mark
// transaction commits apart from standalone writes.
//
// writeSet here is the plain resource-name list Task.Resources expects;
// callers that also need to apply the buffered mutations should use
// CommitTaskWithWrites instead.
func (m *Manager) CommitTask(txID int64, writeSet []concurrency.NamedResource) (*concurrency.Task, error) {
	sets := make([]WriteSet, len(writeSet))
	for i, r := range writeSet {
		sets[i] = WriteSet{Resource: r}
	}
	return m.CommitTaskWithWrites(txID, sets)
}

// CommitTaskWithWrites builds the same commit task as CommitTask but also
// applies each WriteSet's buffered add/remove operations to the live store
// once the task's locks are held, so the transaction's effects actually
// land.
func (m *Manager) CommitTaskWithWrites(txID int64, sets []WriteSet) (*concurrency.Task, error) {
	m.mu.Lock()
	_, ok := m.open[txID]
	m.mu.Unlock()
	if !ok {
		return nil, errors.Wrapf(ErrUnknownTransaction, "tx %d", txID)
	}

	resources := make([]concurrency.NamedResource, len(sets))
	for i, s := range sets {
		resources[i] = s.Resource
	}

	task := &concurrency.Task{
		Classification: concurrency.UnisolatedWrite,
		Timestamp:      concurrency.CurrentRevision,
		Resources:      resources,
		IsTxCommit:     true,
		Run: func(ctx context.Context) (interface{}, error) {
			touched := make([]concurrency.NamedResource, 0, len(sets))
			for _, s := range sets {
				if _, err := m.store.ApplyWrite(s.Resource, s.Add, s.Remove); err != nil {
					return nil, errors.Wrapf(err, "applying tx %d write to %q", txID, s.Resource)
				}
				touched = append(touched, s.Resource)
			}
			rev := m.store.Snapshot(touched)

			m.mu.Lock()
			delete(m.open, txID)
			m.mu.Unlock()

			return rev, nil
		},
	}
	return task, nil
}

// Abort discards a transaction without committing any of its buffered
// writes; per spec.md's active-phase semantics, nothing was ever applied
// to the live store, so there is nothing to undo.
func (m *Manager) Abort(txID int64) {
	m.mu.Lock()
	delete(m.open, txID)
	m.mu.Unlock()
}
