package common

// VoteResponseMessage is the message used to indicate the result of a ballot submission
type VoteResponseMessage string

const (
	// VoteOk represents an accepted ballot
	VoteOk VoteResponseMessage = `ok`
	// VoteRejected represents a ballot refused by the store, see the response error
	VoteRejected VoteResponseMessage = `rejected`
)

func (v VoteResponseMessage) String() string {
	return string(v)
}

// Action names an administrative operation checked by an authorizer.
type Action string

const (
	// ActionEndElection closes voting
	ActionEndElection Action = `end_election`
	// ActionEliminate runs one elimination round
	ActionEliminate Action = `eliminate_candidate`
	// ActionFindWinner evaluates the winner
	ActionFindWinner Action = `find_winner`
	// ActionRunToCompletion tallies until a winner is found
	ActionRunToCompletion Action = `run_to_completion`
)

func (a Action) String() string {
	return string(a)
}
