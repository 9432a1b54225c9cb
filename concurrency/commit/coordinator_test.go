package commit

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestCoordinatorRotatesGroupsAfterClose(t *testing.T) {
	fc := &fakeCommitter{}
	c := NewCoordinator(0, fc)

	g1 := c.Current()
	c.WorkerStarted()
	group := c.WorkerFinished(Member{ID: 1})
	require.Same(t, g1, group)

	outcome := group.Wait()
	require.Equal(t, Done, outcome.State)

	g2 := c.Current()
	require.NotSame(t, g1, g2)
	require.Equal(t, Forming, g2.State())
}

func TestCoordinatorWorkerAbandonedClosesGroup(t *testing.T) {
	fc := &fakeCommitter{}
	c := NewCoordinator(time.Hour, fc)

	c.WorkerStarted()
	c.WorkerStarted()

	g := c.Current()
	group := c.WorkerFinished(Member{ID: 1})
	require.Equal(t, Forming, group.State())

	// The second worker never finishes normally (e.g. cancelled); once it's
	// abandoned the running count should drop to zero and close the group
	// that member 1 already joined.
	c.WorkerAbandoned()

	outcome := g.Wait()
	require.Equal(t, Done, outcome.State)
}

func TestCoordinatorQueueDrainedClosesGroup(t *testing.T) {
	fc := &fakeCommitter{}
	c := NewCoordinator(time.Hour, fc)

	c.WorkerStarted()
	g := c.Current()
	require.True(t, g.Join(Member{ID: 1}, 1))

	c.QueueDrained()

	outcome := g.Wait()
	require.Equal(t, Done, outcome.State)
}
