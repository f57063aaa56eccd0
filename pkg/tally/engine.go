package tally

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/looplab/fsm"

	"github.com/danl5/gorcv/pkg/ballot"
	"github.com/danl5/gorcv/pkg/config"
	"github.com/danl5/gorcv/pkg/model"
)

// transitionBuffer holds every transition an election can make
// (leave open, enter closed, leave closed, enter decided), so sends never block.
const transitionBuffer = 4

func NewEngine(cfg *config.Config, store *ballot.Store, logger *slog.Logger) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("new engine, config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if store == nil {
		return nil, fmt.Errorf("new engine, store is nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("new engine, logger is nil")
	}

	candidates, err := model.NewCandidates(cfg.Candidates)
	if err != nil {
		return nil, err
	}
	if store.CandidateCount() != len(candidates) {
		return nil, fmt.Errorf("new engine, store expects %d candidates, config has %d",
			store.CandidateCount(), len(candidates))
	}

	tieBreak := cfg.TieBreak
	if tieBreak == "" {
		tieBreak = config.TieBreakLowestIndex
	}

	e := &Engine{
		logger:      logger.With("component", "tally"),
		store:       store,
		candidates:  candidates,
		tieBreak:    tieBreak,
		winnerIndex: -1,
		stateChan:   make(chan model.StateTransition, transitionBuffer),
	}
	// initialize the election FSM
	e.initializeFsm()
	return e, nil
}

// Engine runs the instant-runoff tally of one election. Every exported
// method is atomic with respect to the others.
type Engine struct {
	mu sync.Mutex

	logger *slog.Logger

	// store holds the ballots, sealed when the election closes
	store *ballot.Store
	// candidates in index order, elimination flags and points are written here
	candidates []model.Candidate
	// tieBreak selects the eliminated candidate among tied minimums
	tieBreak config.TieBreak
	// fsm is the lifecycle state machine of the election
	fsm *fsm.FSM

	winner      string
	winnerIndex int
	// rounds are the evaluated rounds, one per elimination plus the deciding one
	rounds []model.Round

	// stateChan is used to transmit lifecycle transitions
	stateChan chan model.StateTransition
}

// Transitions returns the lifecycle transitions in the order they happened.
func (e *Engine) Transitions() <-chan model.StateTransition {
	return e.stateChan
}

// Vote records a ballot for voter.
func (e *Engine) Vote(voter string, rankings []int, now time.Time) (model.Ballot, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if state := e.currentState(); state != model.StateOpen {
		return model.Ballot{}, fmt.Errorf("%w: election is %s", model.ErrVotingClosed, state)
	}
	return e.store.AddBallot(voter, rankings, now)
}

// EndElection closes voting once the deadline has passed. It fails with
// ErrElectionStillOpen before the deadline and once the election is closed.
func (e *Engine) EndElection(now time.Time) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if state := e.currentState(); state != model.StateOpen {
		return fmt.Errorf("%w: election is already %s", model.ErrElectionStillOpen, state)
	}
	if now.Before(e.store.Deadline()) {
		return fmt.Errorf("%w: deadline is %s", model.ErrElectionStillOpen, e.store.Deadline().Format(time.RFC3339))
	}
	return e.fire(model.EventEndElection)
}

// EliminateCandidate runs one round and eliminates the candidate with the
// fewest points. The election stays closed.
func (e *Engine) EliminateCandidate() (model.Candidate, model.Round, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.eliminate()
}

// FindWinner declares a winner when one candidate holds a strict majority of
// the ballots with a surviving choice, or only one candidate remains. Once
// decided the cached winner is returned.
func (e *Engine) FindWinner() (string, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.findWinner()
}

// RunToCompletion alternates FindWinner and EliminateCandidate until the
// election is decided.
func (e *Engine) RunToCompletion() (model.Outcome, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	for {
		_, err := e.findWinner()
		if err == nil {
			break
		}
		if !isNoMajority(err) {
			return model.Outcome{}, err
		}
		if _, _, err := e.eliminate(); err != nil {
			return model.Outcome{}, err
		}
	}

	return model.Outcome{
		Winner:      e.winner,
		WinnerIndex: e.winnerIndex,
		Rounds:      cloneRounds(e.rounds),
		Digest:      e.store.Digest(),
	}, nil
}

// Candidate returns the candidate record at index.
func (e *Engine) Candidate(index int) (model.Candidate, error) {
	e.mu.Lock()
	defer e.mu.Unlock()

	if index < 0 || index >= len(e.candidates) {
		return model.Candidate{}, fmt.Errorf("%w: index %d", model.ErrUnknownCandidate, index)
	}
	return e.candidates[index], nil
}

// Candidates returns a copy of every candidate record.
func (e *Engine) Candidates() []model.Candidate {
	e.mu.Lock()
	defer e.mu.Unlock()
	return slices.Clone(e.candidates)
}

// Voter reports whether voter has cast a ballot.
func (e *Engine) Voter(voter string) model.VoterResponse {
	e.mu.Lock()
	defer e.mu.Unlock()

	resp := model.VoterResponse{Voter: voter}
	if b, ok := e.store.Ballot(voter); ok {
		resp.HasVoted = true
		resp.BallotID = b.ID
	}
	return resp
}

// State returns the current lifecycle state.
func (e *Engine) State() model.ElectionState {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.currentState()
}

// Winner returns the declared winner.
func (e *Engine) Winner() (string, bool) {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.winner, e.currentState() == model.StateDecided
}

// Deadline returns the instant voting ends.
func (e *Engine) Deadline() time.Time {
	return e.store.Deadline()
}

// Rounds returns the evaluated rounds.
func (e *Engine) Rounds() []model.Round {
	e.mu.Lock()
	defer e.mu.Unlock()
	return cloneRounds(e.rounds)
}

// Snapshot returns a read-only view of the election.
func (e *Engine) Snapshot() model.Snapshot {
	e.mu.Lock()
	defer e.mu.Unlock()

	return model.Snapshot{
		State:      e.currentState(),
		Winner:     e.winner,
		Deadline:   e.store.Deadline(),
		Candidates: slices.Clone(e.candidates),
		Ballots:    e.store.Len(),
		Digest:     e.store.Digest(),
	}
}

// Visualize returns a visualization of the election state machine in Graphviz format.
func (e *Engine) Visualize() string {
	return fsm.Visualize(e.fsm)
}

func (e *Engine) eliminate() (model.Candidate, model.Round, error) {
	if state := e.currentState(); state != model.StateClosed {
		return model.Candidate{}, model.Round{}, fmt.Errorf("%w: election is %s", model.ErrNotClosed, state)
	}
	if remaining := e.remaining(); remaining < 2 {
		return model.Candidate{}, model.Round{}, fmt.Errorf("%w: %d remaining", model.ErrAllEliminated, remaining)
	}

	round := e.evaluate()
	victim := weakest(round.Points, e.isEliminated, e.tieBreak)
	e.commit(round)
	e.candidates[victim].Eliminated = true
	e.candidates[victim].Points = 0
	round.Eliminated = victim
	e.rounds = append(e.rounds, round)

	e.logger.Info("candidate eliminated",
		"round", round.Number,
		"candidate", e.candidates[victim].Name,
		"points", round.Points[victim],
		"total", round.Total,
		"exhausted", round.Exhausted)
	return e.candidates[victim], cloneRound(round), nil
}

func (e *Engine) findWinner() (string, error) {
	switch state := e.currentState(); state {
	case model.StateDecided:
		return e.winner, nil
	case model.StateClosed:
	default:
		return "", fmt.Errorf("%w: election is %s", model.ErrNotClosed, state)
	}

	round := e.evaluate()

	var event model.ElectionEvent
	winner := -1
	for i, points := range round.Points {
		if !e.candidates[i].Eliminated && points*2 > round.Total {
			winner, event = i, model.EventMajorityFound
			break
		}
	}
	if winner < 0 && e.remaining() == 1 {
		for i := range e.candidates {
			if !e.candidates[i].Eliminated {
				winner, event = i, model.EventLastStanding
			}
		}
	}
	if winner < 0 {
		e.logger.Debug("no majority", "round", round.Number, "points", round.Points, "total", round.Total)
		return "", fmt.Errorf("%w: round %d, %d ballots counted", model.ErrNoMajorityYet, round.Number, round.Total)
	}

	e.winner = e.candidates[winner].Name
	e.winnerIndex = winner
	e.rounds = append(e.rounds, round)
	if err := e.fire(event); err != nil {
		e.winner, e.winnerIndex = "", -1
		e.rounds = e.rounds[:len(e.rounds)-1]
		return "", err
	}
	e.commit(round)

	e.logger.Info("winner declared",
		"winner", e.winner,
		"reason", event.String(),
		"points", round.Points[winner],
		"total", round.Total,
		"rounds", len(e.rounds))
	return e.winner, nil
}

func (e *Engine) currentState() model.ElectionState {
	return model.ElectionState(e.fsm.Current())
}

func (e *Engine) isEliminated(index int) bool {
	return e.candidates[index].Eliminated
}

func (e *Engine) remaining() (count int) {
	for i := range e.candidates {
		if !e.candidates[i].Eliminated {
			count++
		}
	}
	return
}

func (e *Engine) fire(ev model.ElectionEvent) error {
	// check if the event is legal
	if !e.fsm.Can(ev.String()) {
		e.logger.Error("wrong event", "current state", e.fsm.Current(), "event", ev.String())
		return fmt.Errorf("event %s is not allowed in state %s", ev, e.fsm.Current())
	}
	if err := e.fsm.Event(context.Background(), ev.String()); err != nil {
		e.logger.Error("error state transition", "current state", e.fsm.Current(), "event", ev.String(), "error", err.Error())
		return fmt.Errorf("state transition %s: %w", ev, err)
	}
	return nil
}

func (e *Engine) sendStateTransition(state, srcState model.ElectionState, transType model.TransitionType) {
	select {
	case e.stateChan <- model.StateTransition{State: state, SrcState: srcState, Type: transType}:
	default:
		e.logger.Warn("state transition dropped", "state", state, "type", transType.String())
	}
}

func (e *Engine) leaveState(_ context.Context, ev *fsm.Event) {
	e.sendStateTransition(model.ElectionState(ev.Src), model.ElectionState(ev.Dst), model.TransitionTypeLeave)
}

func (e *Engine) enterState(_ context.Context, ev *fsm.Event) {
	e.logger.Info("election state changed", "from", ev.Src, "to", ev.Dst, "event", ev.Event)
	e.sendStateTransition(model.ElectionState(ev.Dst), model.ElectionState(ev.Src), model.TransitionTypeEnter)
}

func (e *Engine) enterClosed(_ context.Context, _ *fsm.Event) {
	e.store.Seal()
	e.logger.Info("voting closed", "ballots", e.store.Len(), "digest", e.store.Digest())
}

// initializeFsm initializes the lifecycle state machine of the election
func (e *Engine) initializeFsm() {
	e.fsm = fsm.NewFSM(
		model.StateOpen.String(),
		fsm.Events{
			{
				Name: model.EventEndElection.String(),
				Src:  []string{model.StateOpen.String()},
				Dst:  model.StateClosed.String(),
			},
			{
				Name: model.EventMajorityFound.String(),
				Src:  []string{model.StateClosed.String()},
				Dst:  model.StateDecided.String(),
			},
			{
				Name: model.EventLastStanding.String(),
				Src:  []string{model.StateClosed.String()},
				Dst:  model.StateDecided.String(),
			},
		},
		fsm.Callbacks{
			"enter_" + model.StateClosed.String(): e.enterClosed,
			"leave_state":                         e.leaveState,
			"enter_state":                         e.enterState,
		},
	)
}

func isNoMajority(err error) bool {
	return model.CodeOf(err) == model.ErrNoMajorityYet.Code
}

func cloneRound(r model.Round) model.Round {
	r.Points = slices.Clone(r.Points)
	return r
}

func cloneRounds(rounds []model.Round) []model.Round {
	out := make([]model.Round, len(rounds))
	for i := range rounds {
		out[i] = cloneRound(rounds[i])
	}
	return out
}
