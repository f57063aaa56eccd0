package storage

import (
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danl5/gorcv/pkg/common"
	"github.com/danl5/gorcv/pkg/model"
)

var (
	candidates = []string{"Alice", "Bob", "Charlie"}
	deadline   = time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
)

func replayAll(t *testing.T, j *Journal) []model.Ballot {
	t.Helper()
	var out []model.Ballot
	require.NoError(t, j.Replay(func(b model.Ballot) error {
		out = append(out, b)
		return nil
	}))
	return out
}

func TestJournal_AppendReplay(t *testing.T) {
	dir := t.TempDir()
	castAt := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

	j, err := Open(dir, candidates, deadline, slog.Default())
	require.NoError(t, err)

	want := []model.Ballot{
		{ID: "b1", Voter: "v1", Rankings: []int{0, 1, 2}, CastAt: castAt},
		{ID: "b2", Voter: "v2", Rankings: []int{2}, CastAt: castAt.Add(time.Second)},
	}
	for _, b := range want {
		require.NoError(t, j.Append(b))
	}
	assert.Equal(t, uint64(2), j.Len())
	require.NoError(t, j.Close())

	reopened, err := Open(dir, candidates, deadline, slog.Default())
	require.NoError(t, err)
	defer reopened.Close()

	got := replayAll(t, reopened)
	require.Len(t, got, 2)
	for i := range want {
		assert.Equal(t, want[i].ID, got[i].ID)
		assert.Equal(t, want[i].Voter, got[i].Voter)
		assert.Equal(t, want[i].Rankings, got[i].Rankings)
		assert.True(t, want[i].CastAt.Equal(got[i].CastAt))
	}

	// appends continue after the replayed sequence
	require.NoError(t, reopened.Append(model.Ballot{ID: "b3", Voter: "v3", Rankings: []int{1}}))
	got = replayAll(t, reopened)
	require.Len(t, got, 3)
	assert.Equal(t, "v3", got[2].Voter)
}

func TestJournal_CandidateMismatch(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, candidates, deadline, slog.Default())
	require.NoError(t, err)
	require.NoError(t, j.Close())

	_, err = Open(dir, []string{"Alice", "Bob"}, deadline, slog.Default())
	assert.ErrorIs(t, err, ErrCandidateMismatch)
}

func TestJournal_KeepsDeadline(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, candidates, deadline, slog.Default())
	require.NoError(t, err)
	assert.True(t, j.Deadline().Equal(deadline))
	require.NoError(t, j.Close())

	later := deadline.Add(24 * time.Hour)
	reopened, err := Open(dir, candidates, later, slog.Default())
	require.NoError(t, err)
	defer reopened.Close()
	assert.True(t, reopened.Deadline().Equal(deadline), "got %s", reopened.Deadline())
}

func TestJournal_Actions(t *testing.T) {
	dir := t.TempDir()
	j, err := Open(dir, candidates, deadline, slog.Default())
	require.NoError(t, err)

	want := []common.Action{common.ActionEndElection, common.ActionEliminate, common.ActionFindWinner}
	for _, a := range want {
		require.NoError(t, j.AppendAction(a))
	}
	require.NoError(t, j.Append(model.Ballot{ID: "b1", Voter: "v1", Rankings: []int{0}}))
	require.NoError(t, j.Close())

	reopened, err := Open(dir, candidates, deadline, slog.Default())
	require.NoError(t, err)
	defer reopened.Close()

	var got []common.Action
	require.NoError(t, reopened.ReplayActions(func(a common.Action) error {
		got = append(got, a)
		return nil
	}))
	assert.Equal(t, want, got)
	assert.Len(t, replayAll(t, reopened), 1)

	// appends continue after the replayed sequence
	require.NoError(t, reopened.AppendAction(common.ActionRunToCompletion))
	got = nil
	require.NoError(t, reopened.ReplayActions(func(a common.Action) error {
		got = append(got, a)
		return nil
	}))
	assert.Equal(t, append(want, common.ActionRunToCompletion), got)
}

func TestPrefixUpperBound(t *testing.T) {
	assert.Equal(t, []byte("ballot0"), prefixUpperBound([]byte("ballot/")))
	assert.Equal(t, []byte{0x02, 0x00}, prefixUpperBound([]byte{0x01, 0xff}))
	assert.Nil(t, prefixUpperBound([]byte{0xff, 0xff}))
}
