package txlock

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSameTransactionSerializes(t *testing.T) {
	m := New()
	ctx := context.Background()

	require.NoError(t, m.Acquire(ctx, 1, "index/a"))

	done := make(chan struct{})
	go func() {
		defer close(done)
		require.NoError(t, m.Acquire(ctx, 1, "index/a"))
		m.Release(1, "index/a")
	}()

	select {
	case <-done:
		t.Fatal("second acquire within same tx should have blocked")
	case <-time.After(20 * time.Millisecond):
	}

	m.Release(1, "index/a")
	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("second acquire never completed after release")
	}
}

func TestDifferentTransactionsNeverContend(t *testing.T) {
	m := New()
	ctx := context.Background()

	require.NoError(t, m.Acquire(ctx, 1, "index/a"))
	// A different transaction acquiring the same index name must not block,
	// since each transaction has its own isolated temp-store index.
	done := make(chan struct{})
	go func() {
		defer close(done)
		require.NoError(t, m.Acquire(ctx, 2, "index/a"))
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("distinct transactions should never contend on the same index name")
	}
	m.Release(1, "index/a")
	m.Release(2, "index/a")
}

func TestForgetDropsTable(t *testing.T) {
	m := New()
	require.NoError(t, m.Acquire(context.Background(), 1, "index/a"))
	m.Forget(1)

	// After Forget, the transaction's table is gone; acquiring again starts
	// fresh rather than deadlocking on stale state.
	require.NoError(t, m.Acquire(context.Background(), 1, "index/a"))
}
