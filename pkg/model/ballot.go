package model

import (
	"fmt"
	"slices"
	"time"
)

// Ballot is one voter's ranking, most preferred first.
type Ballot struct {
	ID       string    `json:"id" codec:"id"`
	Voter    string    `json:"voter" codec:"voter"`
	Rankings []int     `json:"rankings" codec:"rankings"`
	CastAt   time.Time `json:"cast_at" codec:"cast_at"`
}

// TopChoice returns the first ranked candidate that is not eliminated.
// ok is false when the ballot is exhausted.
func (b *Ballot) TopChoice(eliminated func(index int) bool) (index int, ok bool) {
	for _, idx := range b.Rankings {
		if !eliminated(idx) {
			return idx, true
		}
	}
	return -1, false
}

// Clone returns a copy that shares no memory with b.
func (b Ballot) Clone() Ballot {
	b.Rankings = slices.Clone(b.Rankings)
	return b
}

// ValidateRankings checks that rankings is a non-empty list of distinct
// indices in [0, candidateCount).
func ValidateRankings(rankings []int, candidateCount int) error {
	if len(rankings) == 0 {
		return fmt.Errorf("%w: empty ranking", ErrInvalidRanking)
	}
	seen := make([]bool, candidateCount)
	for pos, idx := range rankings {
		if idx < 0 || idx >= candidateCount {
			return fmt.Errorf("%w: index %d at position %d is out of range", ErrInvalidRanking, idx, pos)
		}
		if seen[idx] {
			return fmt.Errorf("%w: index %d is ranked twice", ErrInvalidRanking, idx)
		}
		seen[idx] = true
	}
	return nil
}
