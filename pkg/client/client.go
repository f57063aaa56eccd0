package client

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"

	"github.com/danl5/gorcv/pkg/model"
)

const (
	// defaultBatchLimit bounds the in-flight requests of VoteBatch
	defaultBatchLimit = 8
)

type Option func(*Client)

// WithCaller sets the identity sent in every request header.
func WithCaller(caller string) Option {
	return func(c *Client) {
		c.caller = caller
	}
}

// WithBatchLimit bounds the concurrent requests of VoteBatch.
func WithBatchLimit(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.batchLimit = n
		}
	}
}

// New connects trans to endpoint and returns a client for the election
// served there.
func New(trans model.Transport, endpoint *model.Endpoint, transConfig model.TransportConfig, logger *slog.Logger, opts ...Option) (*Client, error) {
	if trans == nil {
		return nil, fmt.Errorf("new client, transport is nil")
	}
	if endpoint == nil {
		return nil, fmt.Errorf("new client, endpoint is nil")
	}
	if logger == nil {
		return nil, fmt.Errorf("new client, logger is nil")
	}

	c := &Client{
		trans:      trans,
		endpointID: endpoint.ID,
		batchLimit: defaultBatchLimit,
		logger:     logger.With("component", "client", "endpoint", endpoint.ID),
	}
	for _, opt := range opts {
		opt(c)
	}

	if err := trans.InitConnections([]*model.Endpoint{endpoint}, transConfig); err != nil {
		return nil, err
	}
	return c, nil
}

// Client issues election commands to a remote tally server.
type Client struct {
	trans      model.Transport
	endpointID string
	caller     string
	batchLimit int

	logger *slog.Logger
}

// VoteResult is the outcome of one ballot of a batch.
type VoteResult struct {
	Voter    string
	BallotID string
	// Err is the classified rejection of the ballot, nil when accepted
	Err error
}

// Vote casts a ballot and returns its id.
func (c *Client) Vote(ctx context.Context, voter string, rankings []int) (string, error) {
	resp := &model.VoteResponse{}
	err := c.call(ctx, model.CommandVote, &model.VoteRequest{Voter: voter, Rankings: rankings}, resp)
	if err != nil {
		return "", err
	}
	return resp.BallotID, nil
}

// VoteBatch casts the ballots concurrently. Rejected ballots are reported in
// the results; the returned error is a transport failure, which cancels the
// ballots not yet sent.
func (c *Client) VoteBatch(ctx context.Context, ballots []model.VoteRequest) ([]VoteResult, error) {
	results := make([]VoteResult, len(ballots))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(c.batchLimit)
	for i, b := range ballots {
		g.Go(func() error {
			id, err := c.Vote(gctx, b.Voter, b.Rankings)
			if err != nil && model.KindOf(err) == model.KindUnknown {
				return err
			}
			results[i] = VoteResult{Voter: b.Voter, BallotID: id, Err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		c.logger.Error("batch vote failed", "ballots", len(ballots), "error", err.Error())
		return results, err
	}
	return results, nil
}

// EndElection closes voting and returns the resulting snapshot.
func (c *Client) EndElection(ctx context.Context) (model.Snapshot, error) {
	snap := model.Snapshot{}
	err := c.call(ctx, model.CommandEndElection, nil, &snap)
	return snap, err
}

// EliminateCandidate runs one elimination round.
func (c *Client) EliminateCandidate(ctx context.Context) (model.Candidate, model.Round, error) {
	resp := &model.EliminateResponse{}
	if err := c.call(ctx, model.CommandEliminate, nil, resp); err != nil {
		return model.Candidate{}, model.Round{}, err
	}
	return resp.Eliminated, resp.Round, nil
}

// FindWinner returns the winner or ErrNoMajorityYet.
func (c *Client) FindWinner(ctx context.Context) (string, error) {
	resp := &model.FindWinnerResponse{}
	if err := c.call(ctx, model.CommandFindWinner, nil, resp); err != nil {
		return "", err
	}
	return resp.Winner, nil
}

// RunToCompletion tallies until a winner is declared.
func (c *Client) RunToCompletion(ctx context.Context) (model.Outcome, error) {
	outcome := model.Outcome{}
	if err := c.call(ctx, model.CommandRunToCompletion, nil, &outcome); err != nil {
		return model.Outcome{}, err
	}
	return outcome, nil
}

// Candidate returns the candidate record at index.
func (c *Client) Candidate(ctx context.Context, index int) (model.Candidate, error) {
	candidate := model.Candidate{}
	if err := c.call(ctx, model.CommandCandidate, &model.CandidateRequest{Index: index}, &candidate); err != nil {
		return model.Candidate{}, err
	}
	return candidate, nil
}

// Voter reports whether voter has cast a ballot.
func (c *Client) Voter(ctx context.Context, voter string) (model.VoterResponse, error) {
	resp := model.VoterResponse{}
	if err := c.call(ctx, model.CommandVoter, &model.VoterRequest{Voter: voter}, &resp); err != nil {
		return model.VoterResponse{}, err
	}
	return resp, nil
}

// State returns a snapshot of the remote election.
func (c *Client) State(ctx context.Context) (model.Snapshot, error) {
	snap := model.Snapshot{}
	if err := c.call(ctx, model.CommandState, nil, &snap); err != nil {
		return model.Snapshot{}, err
	}
	return snap, nil
}

// call sends one request and decodes the response payload into target.
// A classified election error carried by the response is returned as is.
func (c *Client) call(ctx context.Context, code model.CommandCode, command any, target any) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	request := &model.Request{
		Header:      model.Header{Caller: c.caller},
		CommandCode: code,
		Command:     command,
	}
	response := &model.Response{}
	if err := c.trans.SendRequest(c.endpointID, request, response); err != nil {
		c.logger.Error("failed to send request", "command", code.String(), "error", err.Error())
		return err
	}

	if target != nil && response.CommandResponse != nil {
		if err := c.trans.Decode(response.CommandResponse, target); err != nil {
			return fmt.Errorf("decode %s response: %w", code.String(), err)
		}
	}
	return response.Err()
}
