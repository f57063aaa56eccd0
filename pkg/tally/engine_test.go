package tally

import (
	"fmt"
	"log/slog"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/danl5/gorcv/pkg/ballot"
	"github.com/danl5/gorcv/pkg/config"
	"github.com/danl5/gorcv/pkg/model"
)

var (
	opensAt  = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	closesAt = opensAt.Add(time.Minute)
	afterEnd = closesAt.Add(time.Second)
)

func newTestEngine(t *testing.T, names []string, tieBreak config.TieBreak) *Engine {
	t.Helper()
	store, err := ballot.NewStore(len(names), closesAt, slog.Default())
	require.NoError(t, err)
	e, err := NewEngine(&config.Config{
		Candidates: names,
		Deadline:   closesAt,
		TieBreak:   tieBreak,
	}, store, slog.Default())
	require.NoError(t, err)
	return e
}

func castAll(t *testing.T, e *Engine, ballots ...[]int) {
	t.Helper()
	for i, rankings := range ballots {
		_, err := e.Vote(fmt.Sprintf("voter-%d", i), rankings, opensAt)
		require.NoError(t, err)
	}
}

func names(candidates []model.Candidate) (eliminated []string) {
	for _, c := range candidates {
		if c.Eliminated {
			eliminated = append(eliminated, c.Name)
		}
	}
	return
}

func points(candidates []model.Candidate) []int {
	out := make([]int, 0, len(candidates))
	for _, c := range candidates {
		out = append(out, c.Points)
	}
	return out
}

func TestEngine_TwoBallotScenario(t *testing.T) {
	e := newTestEngine(t, []string{"Alice", "Bob", "Charlie"}, "")
	castAll(t, e, []int{0, 1, 2}, []int{1, 2, 0})

	_, err := e.FindWinner()
	assert.ErrorIs(t, err, model.ErrNotClosed)

	require.NoError(t, e.EndElection(afterEnd))

	_, err = e.FindWinner()
	assert.ErrorIs(t, err, model.ErrNoMajorityYet)
	assert.Equal(t, model.KindTallyIncomplete, model.KindOf(err))
	// a failed evaluation leaves the candidate records alone
	assert.Equal(t, []int{0, 0, 0}, points(e.Candidates()))
	assert.Empty(t, e.Rounds())

	eliminated, round, err := e.EliminateCandidate()
	require.NoError(t, err)
	assert.Equal(t, "Charlie", eliminated.Name)
	assert.Equal(t, 2, round.Eliminated)
	charlie, err := e.Candidate(2)
	require.NoError(t, err)
	assert.True(t, charlie.Eliminated)
	assert.Equal(t, model.StateClosed, e.State())

	assert.Equal(t, []int{1, 1, 0}, points(e.Candidates()))

	// 1-1 after redistribution is not a strict majority
	before := e.Snapshot()
	_, err = e.FindWinner()
	assert.ErrorIs(t, err, model.ErrNoMajorityYet)
	assert.Equal(t, before, e.Snapshot())

	// tied minimum, the lowest index goes
	eliminated, _, err = e.EliminateCandidate()
	require.NoError(t, err)
	assert.Equal(t, "Alice", eliminated.Name)

	winner, err := e.FindWinner()
	require.NoError(t, err)
	assert.Equal(t, "Bob", winner)
	assert.Equal(t, model.StateDecided, e.State())

	bob, _ := e.Candidate(1)
	assert.Equal(t, 2, bob.Points)
}

func TestEngine_HighestIndexTieBreak(t *testing.T) {
	e := newTestEngine(t, []string{"Alice", "Bob", "Charlie"}, config.TieBreakHighestIndex)
	castAll(t, e, []int{0, 1, 2}, []int{1, 2, 0})
	require.NoError(t, e.EndElection(afterEnd))

	outcome, err := e.RunToCompletion()
	require.NoError(t, err)
	assert.Equal(t, "Alice", outcome.Winner)
	assert.Equal(t, 0, outcome.WinnerIndex)
	require.Len(t, outcome.Rounds, 3)
	assert.Equal(t, 2, outcome.Rounds[0].Eliminated)
	assert.Equal(t, 1, outcome.Rounds[1].Eliminated)
	assert.Equal(t, -1, outcome.Rounds[2].Eliminated)
	assert.Equal(t, []int{2, 0, 0}, outcome.Rounds[2].Points)
	assert.NotEmpty(t, outcome.Digest)
}

func TestEngine_ExhaustedBallots(t *testing.T) {
	e := newTestEngine(t, []string{"A", "B", "C"}, "")
	castAll(t, e, []int{2}, []int{2}, []int{0, 1}, []int{1}, []int{0})
	require.NoError(t, e.EndElection(afterEnd))

	outcome, err := e.RunToCompletion()
	require.NoError(t, err)
	assert.Equal(t, "C", outcome.Winner)

	want := []model.Round{
		{Number: 1, Points: []int{2, 1, 2}, Total: 5, Exhausted: 0, Eliminated: 1},
		{Number: 2, Points: []int{2, 0, 2}, Total: 4, Exhausted: 1, Eliminated: 0},
		{Number: 3, Points: []int{0, 0, 2}, Total: 2, Exhausted: 3, Eliminated: -1},
	}
	assert.Equal(t, want, outcome.Rounds)
	assert.Equal(t, want, e.Rounds())
}

func TestEngine_SoleSurvivor(t *testing.T) {
	e := newTestEngine(t, []string{"A", "B"}, "")
	require.NoError(t, e.EndElection(afterEnd))

	_, err := e.FindWinner()
	assert.ErrorIs(t, err, model.ErrNoMajorityYet)

	eliminated, _, err := e.EliminateCandidate()
	require.NoError(t, err)
	assert.Equal(t, "A", eliminated.Name)

	winner, err := e.FindWinner()
	require.NoError(t, err)
	assert.Equal(t, "B", winner)

	_, _, err = e.EliminateCandidate()
	assert.ErrorIs(t, err, model.ErrNotClosed)
}

func TestEngine_SingleCandidate(t *testing.T) {
	e := newTestEngine(t, []string{"Only"}, "")
	require.NoError(t, e.EndElection(afterEnd))

	_, _, err := e.EliminateCandidate()
	assert.ErrorIs(t, err, model.ErrAllEliminated)
	c, _ := e.Candidate(0)
	assert.False(t, c.Eliminated)

	winner, err := e.FindWinner()
	require.NoError(t, err)
	assert.Equal(t, "Only", winner)
}

func TestEngine_FirstRoundMajority(t *testing.T) {
	e := newTestEngine(t, []string{"A", "B", "C"}, "")
	castAll(t, e, []int{1}, []int{1, 0}, []int{0, 1, 2})
	require.NoError(t, e.EndElection(afterEnd))

	winner, err := e.FindWinner()
	require.NoError(t, err)
	assert.Equal(t, "B", winner)
	assert.Empty(t, names(e.Candidates()))
}

func TestEngine_FindWinnerIsIdempotent(t *testing.T) {
	e := newTestEngine(t, []string{"A", "B"}, "")
	castAll(t, e, []int{0}, []int{0, 1}, []int{1})
	require.NoError(t, e.EndElection(afterEnd))

	for i := 0; i < 3; i++ {
		winner, err := e.FindWinner()
		require.NoError(t, err)
		assert.Equal(t, "A", winner)
	}
	assert.Len(t, e.Rounds(), 1)

	w, ok := e.Winner()
	assert.True(t, ok)
	assert.Equal(t, "A", w)
}

func TestEngine_Lifecycle(t *testing.T) {
	e := newTestEngine(t, []string{"A", "B"}, "")

	// voting past the deadline fails before the election is formally closed
	_, err := e.Vote("late", []int{0}, afterEnd)
	assert.ErrorIs(t, err, model.ErrVotingClosed)
	assert.Equal(t, model.KindLifecycle, model.KindOf(err))
	assert.Equal(t, model.StateOpen, e.State())

	err = e.EndElection(opensAt)
	assert.ErrorIs(t, err, model.ErrElectionStillOpen)
	assert.Equal(t, model.StateOpen, e.State())

	_, _, err = e.EliminateCandidate()
	assert.ErrorIs(t, err, model.ErrNotClosed)
	assert.Empty(t, names(e.Candidates()))

	_, err = e.RunToCompletion()
	assert.ErrorIs(t, err, model.ErrNotClosed)

	require.NoError(t, e.EndElection(closesAt))
	assert.Equal(t, model.StateClosed, e.State())

	err = e.EndElection(afterEnd)
	assert.ErrorIs(t, err, model.ErrElectionStillOpen)
	assert.Equal(t, model.KindLifecycle, model.KindOf(err))
	assert.Contains(t, err.Error(), "already closed")
	assert.Equal(t, model.StateClosed, e.State())

	// the store is sealed, even a time before the deadline is refused
	_, err = e.Vote("early-clock", []int{0}, opensAt)
	assert.ErrorIs(t, err, model.ErrVotingClosed)
	assert.False(t, e.Voter("early-clock").HasVoted)
}

func TestEngine_Transitions(t *testing.T) {
	e := newTestEngine(t, []string{"A", "B"}, "")
	castAll(t, e, []int{1})
	require.NoError(t, e.EndElection(afterEnd))
	_, err := e.FindWinner()
	require.NoError(t, err)

	want := []model.StateTransition{
		{State: model.StateOpen, SrcState: model.StateClosed, Type: model.TransitionTypeLeave},
		{State: model.StateClosed, SrcState: model.StateOpen, Type: model.TransitionTypeEnter},
		{State: model.StateClosed, SrcState: model.StateDecided, Type: model.TransitionTypeLeave},
		{State: model.StateDecided, SrcState: model.StateClosed, Type: model.TransitionTypeEnter},
	}
	for _, w := range want {
		select {
		case got := <-e.Transitions():
			assert.Equal(t, w, got)
		default:
			t.Fatalf("missing transition %+v", w)
		}
	}
}

func TestEngine_Queries(t *testing.T) {
	e := newTestEngine(t, []string{"A", "B"}, "")
	b, err := e.Vote("alice", []int{1, 0}, opensAt)
	require.NoError(t, err)

	voter := e.Voter("alice")
	assert.True(t, voter.HasVoted)
	assert.Equal(t, b.ID, voter.BallotID)
	assert.False(t, e.Voter("bob").HasVoted)

	_, err = e.Candidate(2)
	assert.ErrorIs(t, err, model.ErrUnknownCandidate)
	_, err = e.Candidate(-1)
	assert.ErrorIs(t, err, model.ErrUnknownCandidate)

	snap := e.Snapshot()
	assert.Equal(t, model.StateOpen, snap.State)
	assert.Equal(t, 1, snap.Ballots)
	assert.Equal(t, closesAt, snap.Deadline)
	assert.Equal(t, closesAt, e.Deadline())
	assert.Len(t, snap.Candidates, 2)

	graph := e.Visualize()
	assert.Contains(t, graph, model.StateDecided.String())
	assert.Contains(t, graph, model.EventEndElection.String())
}

func TestEngine_TallyProperties(t *testing.T) {
	rnd := rand.New(rand.NewSource(7))
	for trial := 0; trial < 50; trial++ {
		count := 2 + rnd.Intn(5)
		candidates := make([]string, count)
		for i := range candidates {
			candidates[i] = fmt.Sprintf("c%d", i)
		}
		e := newTestEngine(t, candidates, "")

		voters := rnd.Intn(40)
		for v := 0; v < voters; v++ {
			perm := rnd.Perm(count)
			_, err := e.Vote(fmt.Sprintf("v%d", v), perm[:1+rnd.Intn(count)], opensAt)
			require.NoError(t, err)
		}
		require.NoError(t, e.EndElection(afterEnd))

		outcome, err := e.RunToCompletion()
		require.NoError(t, err)

		eliminated := map[int]bool{}
		for i, round := range outcome.Rounds {
			sum := 0
			for idx, p := range round.Points {
				if eliminated[idx] {
					assert.Zero(t, p, "eliminated candidate holds points")
				}
				sum += p
			}
			assert.Equal(t, round.Total, sum)
			assert.Equal(t, voters, round.Total+round.Exhausted)

			if i < len(outcome.Rounds)-1 {
				require.GreaterOrEqual(t, round.Eliminated, 0)
				assert.False(t, eliminated[round.Eliminated], "candidate eliminated twice")
				eliminated[round.Eliminated] = true
			}
		}
		assert.Len(t, names(e.Candidates()), len(outcome.Rounds)-1)

		last := outcome.Rounds[len(outcome.Rounds)-1]
		majority := last.Points[outcome.WinnerIndex]*2 > last.Total
		sole := len(eliminated) == count-1
		assert.True(t, majority || sole, "winner %s has neither majority nor is the last candidate", outcome.Winner)
	}
}

func TestEngine_ConcurrentVotes(t *testing.T) {
	e := newTestEngine(t, []string{"A", "B", "C"}, "")

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			// every voter tries twice, only one ballot may land
			_, _ = e.Vote(fmt.Sprintf("v%d", i%10), []int{i % 3}, opensAt)
		}(i)
	}
	wg.Wait()

	assert.Equal(t, 10, e.Snapshot().Ballots)
}

func TestNewEngine(t *testing.T) {
	store, err := ballot.NewStore(2, closesAt, slog.Default())
	require.NoError(t, err)

	tests := []struct {
		name   string
		cfg    *config.Config
		store  *ballot.Store
		logger *slog.Logger
	}{
		{name: "nil_config", cfg: nil, store: store, logger: slog.Default()},
		{name: "nil_store", cfg: &config.Config{Candidates: []string{"A", "B"}, Deadline: closesAt}, logger: slog.Default()},
		{name: "nil_logger", cfg: &config.Config{Candidates: []string{"A", "B"}, Deadline: closesAt}, store: store},
		{name: "duplicate_names", cfg: &config.Config{Candidates: []string{"A", "A"}, Deadline: closesAt}, store: store, logger: slog.Default()},
		{name: "store_mismatch", cfg: &config.Config{Candidates: []string{"A", "B", "C"}, Deadline: closesAt}, store: store, logger: slog.Default()},
		{name: "bad_tie_break", cfg: &config.Config{Candidates: []string{"A", "B"}, Deadline: closesAt, TieBreak: "coin"}, store: store, logger: slog.Default()},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewEngine(tt.cfg, tt.store, tt.logger)
			assert.Error(t, err)
		})
	}
}
