package gorcv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/danl5/gorcv/pkg/ballot"
	"github.com/danl5/gorcv/pkg/common"
	"github.com/danl5/gorcv/pkg/config"
	"github.com/danl5/gorcv/pkg/model"
	"github.com/danl5/gorcv/pkg/storage"
	"github.com/danl5/gorcv/pkg/tally"
	"github.com/danl5/gorcv/pkg/transport/rpc"
)

const (
	// callback timeout
	defaultCallBackTimeout = 5 * time.Second
)

type Option func(*Election)

// WithClock replaces the wall clock used for deadline checks.
func WithClock(c Clock) Option {
	return func(e *Election) {
		e.clock = c
	}
}

// WithAuthorizer gates the administrative operations.
func WithAuthorizer(a Authorizer) Option {
	return func(e *Election) {
		e.authorizer = a
	}
}

// WithCallBacks registers lifecycle callbacks.
func WithCallBacks(cb *StateCallBacks) Option {
	return func(e *Election) {
		e.callBacks = cb
	}
}

// WithJournal persists ballots to j instead of the directory in the config.
// When j is also an ActionJournal the lifecycle is persisted with it.
func WithJournal(j ballot.Journal) Option {
	return func(e *Election) {
		e.journal = j
		if aj, ok := j.(ActionJournal); ok {
			e.actions = aj
		}
	}
}

// ActionJournal records the administrative actions that changed an election,
// so that a restarted election returns to the same lifecycle state.
type ActionJournal interface {
	AppendAction(action common.Action) error
	ReplayActions(fn func(action common.Action) error) error
}

// NewElection creates an election for the configured candidates. With a
// journal, ballots and lifecycle actions recorded earlier are restored.
func NewElection(cfg *config.Config, logger *slog.Logger, opts ...Option) (*Election, error) {
	if cfg == nil {
		return nil, fmt.Errorf("new election, config is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		return nil, fmt.Errorf("new election, logger is nil")
	}

	e := &Election{
		cfg:        cfg,
		logger:     logger.With("component", "election"),
		clock:      SystemClock{},
		authorizer: AllowAll{},
		decoder:    decodeFunc(rpc.Decode),
		errChan:    make(chan error, 10),
		done:       make(chan struct{}),
	}
	if len(cfg.Admins) > 0 {
		e.authorizer = NewAdminList(cfg.Admins...)
	}
	for _, opt := range opts {
		opt(e)
	}

	e.callBackTimeout = cfg.CallBackTimeout
	if e.callBackTimeout == 0 {
		e.callBackTimeout = defaultCallBackTimeout
	}

	if e.journal == nil && cfg.DataDir != "" {
		j, err := storage.Open(cfg.DataDir, cfg.Candidates, cfg.Deadline, logger)
		if err != nil {
			return nil, err
		}
		e.journal = j
		e.actions = j
		e.closeJournal = j.Close

		// the journalled deadline holds across restarts
		if !j.Deadline().Equal(cfg.Deadline) {
			adopted := *cfg
			adopted.Deadline = j.Deadline()
			cfg = &adopted
			e.cfg = cfg
		}
	}

	var storeOpts []ballot.Option
	if e.journal != nil {
		storeOpts = append(storeOpts, ballot.WithJournal(e.journal))
	}
	store, err := ballot.NewStore(len(cfg.Candidates), cfg.Deadline, logger.With("component", "ballot"), storeOpts...)
	if err != nil {
		_ = e.release()
		return nil, err
	}
	e.engine, err = tally.NewEngine(cfg, store, logger)
	if err != nil {
		_ = e.release()
		return nil, err
	}
	if err := e.restoreLifecycle(); err != nil {
		_ = e.release()
		return nil, err
	}

	// handle state transitions in a separate goroutine
	e.wg.Add(1)
	go e.handleStateTransition(e.engine.Transitions())

	e.logger.Info("election created", "candidates", len(cfg.Candidates), "deadline", cfg.Deadline, "ballots", store.Len())
	return e, nil
}

// Election is a ranked-choice election with its collaborators: the clock,
// the authorizer and the lifecycle callbacks.
type Election struct {
	// engine runs the tally and owns the ballot store
	engine *tally.Engine
	// clock supplies the time compared against the deadline
	clock Clock
	// authorizer gates the administrative operations
	authorizer Authorizer
	// journal persists ballots, may be nil
	journal      ballot.Journal
	closeJournal func() error
	// actions persists lifecycle changes, may be nil
	actions ActionJournal
	// adminMu keeps journalled actions in execution order
	adminMu sync.Mutex
	// server is the transport serving requests, may be nil
	server model.Server
	// decoder decodes transport payloads
	decoder interface{ Decode(raw, target any) error }

	// callBacks stores the callbacks to be triggered when the state changes
	callBacks *StateCallBacks
	// callBackTimeout is the timeout for the callbacks
	callBackTimeout time.Duration
	// errChan is a channel for errors
	errChan chan error

	done      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once

	// cfg is the configuration for the election
	cfg *config.Config
	// logger is used for logging
	logger *slog.Logger
}

// Vote records voter's ranking of candidate indices, most preferred first.
func (e *Election) Vote(_ context.Context, voter string, rankings []int) (model.Ballot, error) {
	b, err := e.engine.Vote(voter, rankings, e.clock.Now())
	if err != nil {
		e.logger.Debug("ballot rejected", "voter", voter, "error", err.Error())
		return model.Ballot{}, err
	}
	return b, nil
}

// EndElection closes voting. The deadline must have passed.
func (e *Election) EndElection(ctx context.Context, caller string) error {
	if err := e.authorize(ctx, caller, common.ActionEndElection); err != nil {
		return err
	}

	e.adminMu.Lock()
	defer e.adminMu.Unlock()
	if err := e.engine.EndElection(e.clock.Now()); err != nil {
		return err
	}
	return e.record(common.ActionEndElection)
}

// EliminateCandidate runs a single elimination round.
func (e *Election) EliminateCandidate(ctx context.Context, caller string) (model.Candidate, model.Round, error) {
	if err := e.authorize(ctx, caller, common.ActionEliminate); err != nil {
		return model.Candidate{}, model.Round{}, err
	}

	e.adminMu.Lock()
	defer e.adminMu.Unlock()
	c, round, err := e.engine.EliminateCandidate()
	if err != nil {
		return model.Candidate{}, model.Round{}, err
	}
	return c, round, e.record(common.ActionEliminate)
}

// FindWinner returns the winner, or ErrNoMajorityYet when another
// elimination round is needed.
func (e *Election) FindWinner(ctx context.Context, caller string) (string, error) {
	if err := e.authorize(ctx, caller, common.ActionFindWinner); err != nil {
		return "", err
	}

	e.adminMu.Lock()
	defer e.adminMu.Unlock()
	before := e.engine.State()
	winner, err := e.engine.FindWinner()
	if err != nil {
		return "", err
	}
	if before != model.StateDecided {
		return winner, e.record(common.ActionFindWinner)
	}
	return winner, nil
}

// RunToCompletion eliminates candidates until a winner is found.
func (e *Election) RunToCompletion(ctx context.Context, caller string) (model.Outcome, error) {
	if err := e.authorize(ctx, caller, common.ActionRunToCompletion); err != nil {
		return model.Outcome{}, err
	}

	e.adminMu.Lock()
	defer e.adminMu.Unlock()
	before := e.engine.State()
	outcome, err := e.engine.RunToCompletion()
	if err != nil {
		return model.Outcome{}, err
	}
	if before != model.StateDecided {
		return outcome, e.record(common.ActionRunToCompletion)
	}
	return outcome, nil
}

// Candidate returns the candidate record at index.
func (e *Election) Candidate(index int) (model.Candidate, error) {
	return e.engine.Candidate(index)
}

// Voter reports whether voter has cast a ballot.
func (e *Election) Voter(voter string) model.VoterResponse {
	return e.engine.Voter(voter)
}

// CurrentState returns the lifecycle state.
func (e *Election) CurrentState() model.ElectionState {
	return e.engine.State()
}

// Snapshot returns a read-only view of the election.
func (e *Election) Snapshot() model.Snapshot {
	return e.engine.Snapshot()
}

// Visualize returns the lifecycle state machine in Graphviz format.
func (e *Election) Visualize() string {
	return e.engine.Visualize()
}

// Errors returns a receive-only channel of callback errors
func (e *Election) Errors() <-chan error {
	return e.errChan
}

// Close stops the transport, the callback loop and the journal.
func (e *Election) Close() error {
	var err error
	e.closeOnce.Do(func() {
		if e.server != nil {
			err = errors.Join(err, e.server.Stop())
		}
		close(e.done)
		e.wg.Wait()
		err = errors.Join(err, e.release())
		e.logger.Info("election closed")
	})
	return err
}

func (e *Election) release() error {
	if e.closeJournal == nil {
		return nil
	}
	return e.closeJournal()
}

// record journals an action that changed the election.
func (e *Election) record(action common.Action) error {
	if e.actions == nil {
		return nil
	}
	if err := e.actions.AppendAction(action); err != nil {
		e.logger.Error("failed to journal action", "action", action.String(), "error", err.Error())
		return fmt.Errorf("journal %s: %w", action, err)
	}
	return nil
}

// restoreLifecycle replays the journalled actions against the engine. The
// tally is deterministic, so the same rounds and winner come back. The
// transitions of the replay are not delivered to callbacks.
func (e *Election) restoreLifecycle() error {
	if e.actions == nil {
		return nil
	}

	replayed := 0
	err := e.actions.ReplayActions(func(action common.Action) error {
		var err error
		switch action {
		case common.ActionEndElection:
			err = e.engine.EndElection(e.engine.Deadline())
		case common.ActionEliminate:
			_, _, err = e.engine.EliminateCandidate()
		case common.ActionFindWinner:
			_, err = e.engine.FindWinner()
		case common.ActionRunToCompletion:
			_, err = e.engine.RunToCompletion()
		default:
			err = fmt.Errorf("unknown action %q", action)
		}
		if err != nil {
			return fmt.Errorf("replay %s: %w", action, err)
		}
		replayed++
		return nil
	})
	if err != nil {
		e.logger.Error("failed to restore election", "error", err.Error())
		return err
	}

	for drained := false; !drained; {
		select {
		case <-e.engine.Transitions():
		default:
			drained = true
		}
	}
	if replayed > 0 {
		e.logger.Info("election restored", "actions", replayed, "state", e.engine.State())
	}
	return nil
}

func (e *Election) authorize(ctx context.Context, caller string, action common.Action) error {
	if err := e.authorizer.Authorize(ctx, caller, action); err != nil {
		e.logger.Warn("unauthorized call", "caller", caller, "action", action.String(), "error", err.Error())
		return err
	}
	return nil
}

func (e *Election) sendError(err error) {
	select {
	case e.errChan <- err:
	default:
	}
}

func (e *Election) handleStateTransition(stateChan <-chan model.StateTransition) {
	defer e.wg.Done()
	for {
		select {
		case <-e.done:
			return
		case st := <-stateChan:
			e.logger.Debug("election state transition", "type", st.Type.String(), "state", st.State, "src", st.SrcState)
			if e.callBacks == nil {
				continue
			}

			var handler StateHandler
			switch {
			case st.Type == model.TransitionTypeLeave && st.State == model.StateOpen:
				handler = e.callBacks.LeaveOpen
			case st.Type == model.TransitionTypeEnter && st.State == model.StateClosed:
				handler = e.callBacks.EnterClosed
			case st.Type == model.TransitionTypeLeave && st.State == model.StateClosed:
				handler = e.callBacks.LeaveClosed
			case st.Type == model.TransitionTypeEnter && st.State == model.StateDecided:
				handler = e.callBacks.EnterDecided
			}
			if err := e.execStateHandler(handler, st); err != nil {
				e.sendError(err)
			}
		}
	}
}

func (e *Election) execStateHandler(sh StateHandler, st model.StateTransition) error {
	if sh == nil {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.Background(), e.callBackTimeout)
	defer cancel()

	if err := sh(ctx, st); err != nil {
		e.logger.Error("state callback failed", "state", st.State, "type", st.Type.String(), "error", err.Error())
		return err
	}
	return nil
}

// StateHandler is called on a lifecycle transition.
type StateHandler func(ctx context.Context, st model.StateTransition) error

// StateCallBacks is a struct to hold state callbacks
type StateCallBacks struct {
	// LeaveOpen is called when voting stops
	LeaveOpen StateHandler
	// EnterClosed is called once the ballot store is sealed
	EnterClosed StateHandler
	// LeaveClosed is called when a winner is about to be declared
	LeaveClosed StateHandler
	// EnterDecided is called after the winner is declared
	EnterDecided StateHandler
}
