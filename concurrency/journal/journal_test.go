package journal

import (
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/concurrentstore/ccmanager/concurrency/commit"
)

func TestCommitWritesOneTransactionPerGroup(t *testing.T) {
	var committed [][]commit.Member
	j, err := Open(Options{
		Path:    filepath.Join(t.TempDir(), "journal.db"),
		Timeout: time.Second,
		OnCommit: func(members []commit.Member) {
			committed = append(committed, members)
		},
	})
	require.NoError(t, err)
	defer j.Close()

	members := []commit.Member{
		{ID: 1, Resources: []string{"idx-A"}},
		{ID: 2, Resources: []string{"idx-A", "idx-B"}, IsTxCommit: true},
	}
	require.NoError(t, j.Commit(members))
	require.Len(t, committed, 1)
	require.Equal(t, members, committed[0])
}

func TestCommitEmptyGroupIsNoop(t *testing.T) {
	called := false
	j, err := Open(Options{
		Path:     filepath.Join(t.TempDir(), "journal.db"),
		Timeout:  time.Second,
		OnCommit: func(members []commit.Member) { called = true },
	})
	require.NoError(t, err)
	defer j.Close()

	require.NoError(t, j.Commit(nil))
	require.False(t, called)
}

func TestReopenSameFilePersistsSequence(t *testing.T) {
	path := filepath.Join(t.TempDir(), "journal.db")

	j1, err := Open(Options{Path: path, Timeout: time.Second})
	require.NoError(t, err)
	require.NoError(t, j1.Commit([]commit.Member{{ID: 1, Resources: []string{"idx-A"}}}))
	require.NoError(t, j1.Close())

	j2, err := Open(Options{Path: path, Timeout: time.Second})
	require.NoError(t, err)
	defer j2.Close()
	require.NoError(t, j2.Commit([]commit.Member{{ID: 2, Resources: []string{"idx-B"}}}))
}

func TestEncodeMemberRoundTripsShape(t *testing.T) {
	m := commit.Member{ID: 7, Resources: []string{"a", "bb"}, IsTxCommit: true}
	buf := encodeMember(m)
	// 4 bytes count + (4+1) + (4+2) + 1 trailing flag byte
	require.Equal(t, 4+(4+1)+(4+2)+1, len(buf))
	require.Equal(t, byte(1), buf[len(buf)-1])
}
