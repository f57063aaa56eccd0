package model

import (
	"fmt"
	"strings"
)

// Candidate is a contender in the election.
type Candidate struct {
	// Index is the position in the configured candidate list
	Index int `json:"index"`
	// Name is the display name
	Name string `json:"name"`
	// Eliminated is set once by the tally and never reset
	Eliminated bool `json:"eliminated"`
	// Points is the total of the most recently evaluated round
	Points int `json:"points"`
}

// NewCandidates builds the candidate list for an election. Names must be
// non-empty and unique.
func NewCandidates(names []string) ([]Candidate, error) {
	if len(names) == 0 {
		return nil, fmt.Errorf("%w: no candidates", ErrInvalidCandidates)
	}

	seen := make(map[string]struct{}, len(names))
	candidates := make([]Candidate, 0, len(names))
	for i, name := range names {
		if strings.TrimSpace(name) == "" {
			return nil, fmt.Errorf("%w: candidate %d has an empty name", ErrInvalidCandidates, i)
		}
		if _, ok := seen[name]; ok {
			return nil, fmt.Errorf("%w: duplicate name %q", ErrInvalidCandidates, name)
		}
		seen[name] = struct{}{}
		candidates = append(candidates, Candidate{Index: i, Name: name})
	}
	return candidates, nil
}
