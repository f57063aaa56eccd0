package tally

import (
	"github.com/danl5/gorcv/pkg/config"
	"github.com/danl5/gorcv/pkg/model"
)

// evaluate counts every ballot for its effective top choice. Candidate
// records are not touched, see commit.
func (e *Engine) evaluate() model.Round {
	round := model.Round{
		Number:     len(e.rounds) + 1,
		Points:     make([]int, len(e.candidates)),
		Eliminated: -1,
	}

	for i := range e.candidates {
		if e.candidates[i].Eliminated {
			continue
		}
		for range e.store.BallotsFor(i, e.isEliminated) {
			round.Points[i]++
		}
		round.Total += round.Points[i]
	}
	round.Exhausted = e.store.Len() - round.Total
	return round
}

// commit writes the totals of an accepted round to the candidate records.
func (e *Engine) commit(round model.Round) {
	for i := range e.candidates {
		e.candidates[i].Points = round.Points[i]
	}
}

// weakest returns the surviving candidate with the fewest points. Ties go to
// the lowest index, or the highest under TieBreakHighestIndex.
func weakest(points []int, eliminated func(index int) bool, tieBreak config.TieBreak) int {
	victim := -1
	for i, p := range points {
		if eliminated(i) {
			continue
		}
		switch {
		case victim < 0, p < points[victim]:
			victim = i
		case p == points[victim] && tieBreak == config.TieBreakHighestIndex:
			victim = i
		}
	}
	return victim
}
