package model

// ElectionEvent represents the events in the lifecycle of an election,
// used to drive the election Finite State Machine (FSM)
type ElectionEvent string

const (
	// EventEndElection represents the administrative end of voting
	EventEndElection ElectionEvent = "end_election"
	// EventMajorityFound represents a candidate holding a strict majority
	EventMajorityFound ElectionEvent = "majority_found"
	// EventLastStanding represents a single candidate surviving elimination
	EventLastStanding ElectionEvent = "last_standing"
)

func (e ElectionEvent) String() string {
	return string(e)
}
