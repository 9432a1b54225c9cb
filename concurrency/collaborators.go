package concurrency

import "context"

// ResourceManager is the readiness-gate collaborator described in spec.md
// section 6: "awaitRunning() -> bool (readiness gate); attaches locked
// index handles and persistence." The manager never looks inside it beyond
// this interface; the concrete store manager (out of scope per spec.md
// section 1) is supplied by the embedding application. See
// concurrency/store for a reference implementation used by the demo; this
// package's own tests use a stub that is always ready.
type ResourceManager interface {
	// AwaitRunning blocks (bounded by ctx) until the underlying store is
	// ready to accept tasks, returning false if readiness wasn't reached
	// before ctx expired.
	AwaitRunning(ctx context.Context) bool
}

// TransactionManager issues transaction identifiers and builds the
// unisolated commit task for a transaction that has requested commit, per
// spec.md section 4.C and section 6's "Transaction manager: issues
// transaction identifiers and commit requests."
type TransactionManager interface {
	// NewTransaction starts a read-write transaction and returns its
	// identifier, used as Task.Timestamp for ReadWriteTx tasks in that
	// transaction.
	NewTransaction(ctx context.Context) (int64, error)

	// CommitTask builds the unisolated commit task for transaction txID,
	// given the write-set index names accumulated during its active
	// phase. The returned Task is submitted to the write executor by the
	// Manager exactly as any other UnisolatedWrite task.
	CommitTask(txID int64, writeSet []NamedResource) (*Task, error)
}
