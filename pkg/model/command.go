package model

import "time"

// CommandCode identifies the operation carried by a Request.
type CommandCode uint

const (
	CommandVote CommandCode = iota + 1
	CommandEndElection
	CommandEliminate
	CommandFindWinner
	CommandRunToCompletion
	CommandCandidate
	CommandVoter
	CommandState
)

func (c CommandCode) String() string {
	switch c {
	case CommandVote:
		return "vote"
	case CommandEndElection:
		return "end_election"
	case CommandEliminate:
		return "eliminate_candidate"
	case CommandFindWinner:
		return "find_winner"
	case CommandRunToCompletion:
		return "run_to_completion"
	case CommandCandidate:
		return "candidate"
	case CommandVoter:
		return "voter"
	case CommandState:
		return "state"
	default:
		return "unknown"
	}
}

// VoteRequest is the ballot submission request
type VoteRequest struct {
	Voter    string `json:"voter"`
	Rankings []int  `json:"rankings"`
}

// VoteResponse is the ballot submission response
type VoteResponse struct {
	BallotID string `json:"ballot_id"`
	Message  string `json:"message,omitempty"`
}

// EliminateResponse reports the candidate removed by one round
type EliminateResponse struct {
	Eliminated Candidate `json:"eliminated"`
	Round      Round     `json:"round"`
}

// FindWinnerResponse carries the declared winner
type FindWinnerResponse struct {
	Winner string `json:"winner"`
}

// CandidateRequest asks for a candidate record by index
type CandidateRequest struct {
	Index int `json:"index"`
}

// VoterRequest asks whether an identity has voted
type VoterRequest struct {
	Voter string `json:"voter"`
}

// VoterResponse is the ballot presence of a voter identity
type VoterResponse struct {
	Voter    string `json:"voter"`
	HasVoted bool   `json:"has_voted"`
	BallotID string `json:"ballot_id,omitempty"`
}

// Snapshot is a read-only view of the whole election.
type Snapshot struct {
	State      ElectionState `json:"state"`
	Winner     string        `json:"winner,omitempty"`
	Deadline   time.Time     `json:"deadline"`
	Candidates []Candidate   `json:"candidates"`
	Ballots    int           `json:"ballots"`
	Digest     string        `json:"digest"`
}

// Round is the result of evaluating the ballots against the current
// elimination flags.
type Round struct {
	// Number starts at 1
	Number int `json:"number"`
	// Points per candidate index; eliminated candidates hold 0
	Points []int `json:"points"`
	// Total is the number of ballots with an effective top choice
	Total int `json:"total"`
	// Exhausted is the number of ballots with no surviving choice
	Exhausted int `json:"exhausted"`
	// Eliminated is the index removed after this round, or -1
	Eliminated int `json:"eliminated"`
}

// Outcome is the terminal result of a tally.
type Outcome struct {
	Winner      string  `json:"winner"`
	WinnerIndex int     `json:"winner_index"`
	Rounds      []Round `json:"rounds"`
	Digest      string  `json:"digest"`
}
