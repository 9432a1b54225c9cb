package commit

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

var errBoom = errors.New("boom")

type fakeCommitter struct {
	commits [][]Member
	err     error
}

func (f *fakeCommitter) Commit(members []Member) error {
	f.commits = append(f.commits, members)
	return f.err
}

func TestGroupClosesOnRunningCountZero(t *testing.T) {
	fc := &fakeCommitter{}
	var closedGroup *Group
	g := newGroup(time.Hour, fc, 2, func(closed *Group) { closedGroup = closed })

	require.True(t, g.Join(Member{ID: 1}, 1))
	require.Equal(t, Forming, g.State())

	require.True(t, g.Join(Member{ID: 2}, 0))

	outcome := g.Wait()
	require.Equal(t, Done, outcome.State)
	require.NoError(t, outcome.Err)
	require.Len(t, fc.commits, 1)
	require.Len(t, fc.commits[0], 2)
	require.Same(t, g, closedGroup)
}

func TestGroupClosesOnTimeout(t *testing.T) {
	fc := &fakeCommitter{}
	g := newGroup(10*time.Millisecond, fc, 5, nil)

	require.True(t, g.Join(Member{ID: 1}, 4))

	outcome := g.Wait()
	require.Equal(t, Done, outcome.State)
	require.Len(t, fc.commits[0], 1)
}

func TestGroupAbortsOnCommitError(t *testing.T) {
	fc := &fakeCommitter{err: errBoom}
	g := newGroup(0, fc, 1, nil)

	require.True(t, g.Join(Member{ID: 1}, 0))
	outcome := g.Wait()
	require.Equal(t, Aborted, outcome.State)
	require.ErrorIs(t, outcome.Err, errBoom)
}

func TestGroupJoinAfterClosedReturnsFalse(t *testing.T) {
	fc := &fakeCommitter{}
	g := newGroup(0, fc, 0, nil)
	require.True(t, g.Join(Member{ID: 1}, 0))
	<-g.done

	require.False(t, g.Join(Member{ID: 2}, 0))
}

func TestGroupAbortWithoutCommit(t *testing.T) {
	fc := &fakeCommitter{}
	g := newGroup(time.Hour, fc, 5, nil)
	require.True(t, g.Join(Member{ID: 1}, 5))

	g.Abort(errBoom)
	outcome := g.Wait()
	require.Equal(t, Aborted, outcome.State)
	require.ErrorIs(t, outcome.Err, errBoom)
	require.Empty(t, fc.commits)
}
