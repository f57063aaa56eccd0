package model

// ElectionState represents the lifecycle phase of an election.
type ElectionState string

const (
	// StateOpen ballots are accepted
	StateOpen ElectionState = "open"
	// StateClosed voting has ended, rounds may be evaluated
	StateClosed ElectionState = "closed"
	// StateDecided a winner has been declared, terminal
	StateDecided ElectionState = "decided"
)

func (s ElectionState) String() string {
	return string(s)
}

type TransitionType int

const (
	TransitionTypeEnter TransitionType = iota
	TransitionTypeLeave
)

func (t TransitionType) String() string {
	switch t {
	case TransitionTypeEnter:
		return "enter"
	case TransitionTypeLeave:
		return "leave"
	default:
		return "unknown"
	}
}

// StateTransition represents a transition from one state to another
type StateTransition struct {
	// State is the state being entered or left
	State ElectionState
	// SrcState is the other end of the transition
	SrcState ElectionState
	// Type is the type of the transition
	Type TransitionType
}
