package concurrency

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCanonicalizeDedupesAndSorts(t *testing.T) {
	got := canonicalize([]NamedResource{"z", "a", "z", "m"})
	require.Equal(t, []NamedResource{"a", "m", "z"}, got)
}

func TestCanonicalizeEmpty(t *testing.T) {
	require.Nil(t, canonicalize(nil))
}

func TestSubmitTimeStampsTask(t *testing.T) {
	task := &Task{Resources: []NamedResource{"b", "a"}}
	before := time.Now()
	submitTime(task, before)

	require.Equal(t, before.UnixNano(), task.SubmittedAt())
	require.Equal(t, []NamedResource{"a", "b"}, task.CanonicalResources())
}

func TestFutureCompletesOnce(t *testing.T) {
	f := newFuture()
	f.complete(Result{Value: 1})
	f.complete(Result{Value: 2})

	v, err := f.Wait()
	require.NoError(t, err)
	require.Equal(t, 1, v)
}

func TestFutureCancelBeforeCompletion(t *testing.T) {
	f := newFuture()
	f.Cancel()

	_, err := f.Wait()
	require.ErrorIs(t, err, ErrCancelled)
	require.True(t, f.IsDone())
}

func TestFutureWaitContextTimesOut(t *testing.T) {
	f := newFuture()
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	_, err := f.WaitContext(ctx)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestClassificationString(t *testing.T) {
	require.Equal(t, "read-only", ReadOnly.String())
	require.Equal(t, "read-write-tx", ReadWriteTx.String())
	require.Equal(t, "unisolated-write", UnisolatedWrite.String())
}
