package txmgr

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/concurrentstore/ccmanager/concurrency"
	"github.com/concurrentstore/ccmanager/concurrency/store"
)

func TestNewTransactionIssuesDistinctIDs(t *testing.T) {
	m := New(store.New())
	ctx := context.Background()

	id1, err := m.NewTransaction(ctx)
	require.NoError(t, err)
	id2, err := m.NewTransaction(ctx)
	require.NoError(t, err)
	require.NotEqual(t, id1, id2)
}

func TestCommitTaskUnknownTransactionFails(t *testing.T) {
	m := New(store.New())
	_, err := m.CommitTask(999, nil)
	require.ErrorIs(t, err, ErrUnknownTransaction)
}

func TestCommitTaskWithWritesAppliesAndSnapshots(t *testing.T) {
	st := store.New()
	st.CreateIndex("idx-A")
	m := New(st)

	txID, err := m.NewTransaction(context.Background())
	require.NoError(t, err)

	task, err := m.CommitTaskWithWrites(txID, []WriteSet{
		{Resource: "idx-A", Add: []uint64{1, 2, 3}},
	})
	require.NoError(t, err)
	require.Equal(t, concurrency.UnisolatedWrite, task.Classification)
	require.True(t, task.IsTxCommit)
	require.Equal(t, []concurrency.NamedResource{"idx-A"}, task.Resources)

	rev, err := task.Run(context.Background())
	require.NoError(t, err)
	require.Greater(t, rev.(uint64), uint64(0))

	bm, err := st.ReadAt("idx-A", concurrency.CurrentRevision)
	require.NoError(t, err)
	require.Equal(t, uint64(3), bm.Count())

	// Committing again with the same txID should now fail: the commit task's
	// body deletes it from the open set once it has run.
	_, err = m.CommitTaskWithWrites(txID, nil)
	require.ErrorIs(t, err, ErrUnknownTransaction)
}

func TestAbortDropsOpenTransaction(t *testing.T) {
	m := New(store.New())
	txID, err := m.NewTransaction(context.Background())
	require.NoError(t, err)

	m.Abort(txID)
	_, err = m.CommitTask(txID, nil)
	require.ErrorIs(t, err, ErrUnknownTransaction)
}
