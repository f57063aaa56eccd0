package gorcv

import (
	"context"
	"fmt"

	"github.com/danl5/gorcv/pkg/common"
	"github.com/danl5/gorcv/pkg/model"
)

type decodeFunc func(raw any, target any) error

func (f decodeFunc) Decode(raw any, target any) error {
	return f(raw, target)
}

// Serve starts trans on listenAddress with the election as request handler.
func (e *Election) Serve(trans model.Transport, listenAddress string, transConfig model.TransportConfig) error {
	if trans == nil {
		return fmt.Errorf("serve, transport is nil")
	}
	e.decoder = trans
	if err := trans.Start(listenAddress, e.HandleRequest, transConfig); err != nil {
		e.logger.Error("failed to start transport server", "error", err.Error())
		return err
	}
	e.server = trans

	e.logger.Info("election serving", "address", listenAddress)
	return nil
}

// HandleRequest dispatches a transport request to the election. Classified
// election errors are returned in the response, not as a transport error.
func (e *Election) HandleRequest(request *model.Request, response *model.Response) error {
	response.Header = model.Header{Caller: request.Caller}
	ctx := context.Background()

	var (
		result any
		err    error
	)
	switch request.CommandCode {
	case model.CommandVote:
		req := &model.VoteRequest{}
		if err := e.decode(request, req); err != nil {
			return err
		}
		var b model.Ballot
		b, err = e.Vote(ctx, req.Voter, req.Rankings)
		if err == nil {
			result = &model.VoteResponse{BallotID: b.ID, Message: common.VoteOk.String()}
		} else {
			result = &model.VoteResponse{Message: common.VoteRejected.String()}
		}
	case model.CommandEndElection:
		err = e.EndElection(ctx, request.Caller)
		snap := e.Snapshot()
		result = &snap
	case model.CommandEliminate:
		var (
			c     model.Candidate
			round model.Round
		)
		c, round, err = e.EliminateCandidate(ctx, request.Caller)
		result = &model.EliminateResponse{Eliminated: c, Round: round}
	case model.CommandFindWinner:
		var winner string
		winner, err = e.FindWinner(ctx, request.Caller)
		result = &model.FindWinnerResponse{Winner: winner}
	case model.CommandRunToCompletion:
		var outcome model.Outcome
		outcome, err = e.RunToCompletion(ctx, request.Caller)
		result = &outcome
	case model.CommandCandidate:
		req := &model.CandidateRequest{}
		if err := e.decode(request, req); err != nil {
			return err
		}
		var c model.Candidate
		c, err = e.Candidate(req.Index)
		result = &c
	case model.CommandVoter:
		req := &model.VoterRequest{}
		if err := e.decode(request, req); err != nil {
			return err
		}
		v := e.Voter(req.Voter)
		result = &v
	case model.CommandState:
		snap := e.Snapshot()
		result = &snap
	default:
		e.logger.Warn("unknown command", "code", uint(request.CommandCode), "caller", request.Caller)
		response.SetErr(model.ErrBadCommand)
		return nil
	}

	e.logger.Debug("request handled", "command", request.CommandCode.String(), "caller", request.Caller)
	response.CommandResponse = result
	response.SetErr(err)
	return nil
}

func (e *Election) decode(request *model.Request, target any) error {
	if err := e.decoder.Decode(request.Command, target); err != nil {
		e.logger.Error("failed to decode request", "command", request.CommandCode.String(), "error", err.Error())
		return fmt.Errorf("%w: %s", model.ErrBadCommand, err.Error())
	}
	return nil
}
