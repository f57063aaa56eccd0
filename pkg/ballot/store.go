package ballot

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"iter"
	"time"

	"github.com/google/uuid"
	"github.com/zeebo/blake3"

	"github.com/danl5/gorcv/pkg/log"
	"github.com/danl5/gorcv/pkg/model"
)

// Journal persists accepted ballots so a store can be rebuilt after a restart.
type Journal interface {
	// Append durably records an accepted ballot.
	Append(b model.Ballot) error
	// Replay calls fn for every recorded ballot in insertion order.
	Replay(fn func(b model.Ballot) error) error
}

type Option func(*Store)

// WithJournal attaches a journal; its ballots are replayed by NewStore.
func WithJournal(j Journal) Option {
	return func(s *Store) {
		s.journal = j
	}
}

// WithIDGenerator overrides the ballot ID source.
func WithIDGenerator(f func() string) Option {
	return func(s *Store) {
		s.newID = f
	}
}

// Store holds the append-only ballot set of one election.
// It is not safe for concurrent use; the tally engine serializes access.
type Store struct {
	candidateCount int
	deadline       time.Time
	sealed         bool

	ballots []model.Ballot
	// voter -> position in ballots
	byVoter map[string]int

	journal Journal
	newID   func() string
	logger  log.Logger
}

func NewStore(candidateCount int, deadline time.Time, logger log.Logger, opts ...Option) (*Store, error) {
	if candidateCount <= 0 {
		return nil, fmt.Errorf("new store, %w: no candidates", model.ErrInvalidCandidates)
	}
	if logger == nil {
		return nil, fmt.Errorf("new store, logger is nil")
	}

	s := &Store{
		candidateCount: candidateCount,
		deadline:       deadline,
		byVoter:        make(map[string]int),
		newID:          uuid.NewString,
		logger:         logger,
	}
	for _, opt := range opts {
		opt(s)
	}

	if s.journal != nil {
		if err := s.restore(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// AddBallot records voter's ranking. It fails with ErrVotingClosed once the
// store is sealed or now has reached the deadline, ErrInvalidRanking for a
// malformed ranking and ErrDuplicateVoter for a second ballot.
func (s *Store) AddBallot(voter string, rankings []int, now time.Time) (model.Ballot, error) {
	if s.sealed {
		return model.Ballot{}, fmt.Errorf("%w: election is not open", model.ErrVotingClosed)
	}
	if !now.Before(s.deadline) {
		return model.Ballot{}, fmt.Errorf("%w: deadline %s reached", model.ErrVotingClosed, s.deadline.Format(time.RFC3339))
	}
	if err := model.ValidateRankings(rankings, s.candidateCount); err != nil {
		return model.Ballot{}, err
	}
	if s.HasVoted(voter) {
		return model.Ballot{}, fmt.Errorf("%w: %s", model.ErrDuplicateVoter, voter)
	}

	b := model.Ballot{
		ID:       s.newID(),
		Voter:    voter,
		Rankings: append([]int(nil), rankings...),
		CastAt:   now,
	}
	if s.journal != nil {
		if err := s.journal.Append(b); err != nil {
			s.logger.Error("failed to journal ballot", "voter", voter, "error", err.Error())
			return model.Ballot{}, fmt.Errorf("journal ballot: %w", err)
		}
	}
	s.insert(b)

	s.logger.Debug("ballot recorded", "voter", voter, "ballot", b.ID, "count", len(s.ballots))
	return b.Clone(), nil
}

// HasVoted reports whether voter has a recorded ballot.
func (s *Store) HasVoted(voter string) bool {
	_, ok := s.byVoter[voter]
	return ok
}

// Ballot returns voter's ballot.
func (s *Store) Ballot(voter string) (model.Ballot, bool) {
	pos, ok := s.byVoter[voter]
	if !ok {
		return model.Ballot{}, false
	}
	return s.ballots[pos].Clone(), true
}

// Len returns the number of recorded ballots.
func (s *Store) Len() int {
	return len(s.ballots)
}

// CandidateCount returns the size of the candidate list rankings refer to.
func (s *Store) CandidateCount() int {
	return s.candidateCount
}

// Deadline returns the instant voting ends.
func (s *Store) Deadline() time.Time {
	return s.deadline
}

// Seal stops the store from accepting ballots.
func (s *Store) Seal() {
	s.sealed = true
}

// Sealed reports whether Seal has been called.
func (s *Store) Sealed() bool {
	return s.sealed
}

// All yields every ballot in insertion order.
func (s *Store) All() iter.Seq[model.Ballot] {
	return func(yield func(model.Ballot) bool) {
		for i := range s.ballots {
			if !yield(s.ballots[i].Clone()) {
				return
			}
		}
	}
}

// BallotsFor yields the ballots whose effective top choice is candidate.
// The sequence is evaluated lazily against eliminated on every iteration.
func (s *Store) BallotsFor(candidate int, eliminated func(index int) bool) iter.Seq[model.Ballot] {
	return func(yield func(model.Ballot) bool) {
		for i := range s.ballots {
			top, ok := s.ballots[i].TopChoice(eliminated)
			if !ok || top != candidate {
				continue
			}
			if !yield(s.ballots[i].Clone()) {
				return
			}
		}
	}
}

// Digest returns a blake3 hash of the voters and rankings in insertion order.
func (s *Store) Digest() string {
	h := blake3.New()
	var buf [4]byte
	for i := range s.ballots {
		b := &s.ballots[i]
		binary.BigEndian.PutUint32(buf[:], uint32(len(b.Voter)))
		_, _ = h.Write(buf[:])
		_, _ = h.Write([]byte(b.Voter))
		binary.BigEndian.PutUint32(buf[:], uint32(len(b.Rankings)))
		_, _ = h.Write(buf[:])
		for _, idx := range b.Rankings {
			binary.BigEndian.PutUint32(buf[:], uint32(idx))
			_, _ = h.Write(buf[:])
		}
	}
	return hex.EncodeToString(h.Sum(nil))
}

func (s *Store) insert(b model.Ballot) {
	s.byVoter[b.Voter] = len(s.ballots)
	s.ballots = append(s.ballots, b)
}

func (s *Store) restore() error {
	err := s.journal.Replay(func(b model.Ballot) error {
		if err := model.ValidateRankings(b.Rankings, s.candidateCount); err != nil {
			return fmt.Errorf("replay ballot %s: %w", b.ID, err)
		}
		if s.HasVoted(b.Voter) {
			return fmt.Errorf("replay ballot %s: %w: %s", b.ID, model.ErrDuplicateVoter, b.Voter)
		}
		s.insert(b.Clone())
		return nil
	})
	if err != nil {
		s.logger.Error("failed to replay ballot journal", "error", err.Error())
		return err
	}
	if len(s.ballots) > 0 {
		s.logger.Info("ballot journal replayed", "ballots", len(s.ballots))
	}
	return nil
}
