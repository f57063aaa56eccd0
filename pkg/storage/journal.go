package storage

import (
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"
	"github.com/ugorji/go/codec"

	"github.com/danl5/gorcv/pkg/common"
	"github.com/danl5/gorcv/pkg/model"
)

var (
	// ballotPrefix is followed by a big-endian sequence number so that keys
	// iterate in insertion order
	ballotPrefix = []byte("ballot/")
	// actionPrefix is followed by a big-endian sequence number, one key per
	// administrative action that changed the election
	actionPrefix = []byte("action/")
	// candidatesKey holds the candidate list the journal was created for
	candidatesKey = []byte("meta/candidates")
	// deadlineKey holds the deadline the journal was created with
	deadlineKey = []byte("meta/deadline")

	msgpackHandle = &codec.MsgpackHandle{WriteExt: true}
)

// ErrCandidateMismatch is returned when a journal directory belongs to an
// election with a different candidate list.
var ErrCandidateMismatch = errors.New("journal candidate list mismatch")

// Journal is a ballot log backed by Pebble. Every append is synced before
// it returns, a ballot is never acknowledged before it is durable.
type Journal struct {
	mu        sync.Mutex
	db        *pebble.DB
	seq       uint64
	actionSeq uint64
	deadline  time.Time
	logger    *slog.Logger
}

// Open opens or creates the journal at dir for the given candidate list and
// deadline. A journal created earlier keeps its own deadline, see Deadline.
func Open(dir string, candidates []string, deadline time.Time, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		return nil, fmt.Errorf("open journal, logger is nil")
	}

	opts := &pebble.Options{
		Cache:        pebble.NewCache(8 << 20), // 8 MB cache
		MemTableSize: 4 << 20,                  // 4 MB memtable
	}
	db, err := pebble.Open(dir, opts)
	if err != nil {
		return nil, fmt.Errorf("open journal: %w", err)
	}

	j := &Journal{
		db:     db,
		logger: logger.With("component", "journal"),
	}
	if err := j.bindElection(candidates, deadline); err != nil {
		_ = db.Close()
		return nil, err
	}
	if err := j.loadSeq(); err != nil {
		_ = db.Close()
		return nil, err
	}

	j.logger.Info("journal opened", "dir", dir, "ballots", j.seq, "actions", j.actionSeq, "deadline", j.deadline)
	return j, nil
}

// Deadline returns the deadline bound to the journal when it was created.
func (j *Journal) Deadline() time.Time {
	return j.deadline
}

// AppendAction durably records an administrative action that changed the
// election.
func (j *Journal) AppendAction(action common.Action) error {
	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.db.Set(sequenceKey(actionPrefix, j.actionSeq), []byte(action), pebble.Sync); err != nil {
		return fmt.Errorf("write action: %w", err)
	}
	j.actionSeq++
	return nil
}

// ReplayActions calls fn for each action in the order it was appended.
func (j *Journal) ReplayActions(fn func(action common.Action) error) error {
	return j.iteratePrefix(actionPrefix, func(_, value []byte) error {
		return fn(common.Action(value))
	})
}

// Append durably records b.
func (j *Journal) Append(b model.Ballot) error {
	var raw []byte
	if err := codec.NewEncoderBytes(&raw, msgpackHandle).Encode(&b); err != nil {
		return fmt.Errorf("encode ballot: %w", err)
	}

	j.mu.Lock()
	defer j.mu.Unlock()

	if err := j.db.Set(sequenceKey(ballotPrefix, j.seq), raw, pebble.Sync); err != nil {
		return fmt.Errorf("write ballot: %w", err)
	}
	j.seq++
	return nil
}

// Replay calls fn for each ballot in the order it was appended.
// If fn returns an error, iteration stops and the error is returned.
func (j *Journal) Replay(fn func(b model.Ballot) error) error {
	return j.iteratePrefix(ballotPrefix, func(_, value []byte) error {
		var b model.Ballot
		if err := codec.NewDecoderBytes(value, msgpackHandle).Decode(&b); err != nil {
			return fmt.Errorf("decode ballot: %w", err)
		}
		return fn(b)
	})
}

// Len returns the number of journalled ballots.
func (j *Journal) Len() uint64 {
	j.mu.Lock()
	defer j.mu.Unlock()
	return j.seq
}

// Close closes the database.
func (j *Journal) Close() error {
	return j.db.Close()
}

// bindElection stores the candidate list and the deadline of a new journal.
// An existing journal must hold the same candidates; its stored deadline
// wins over the given one so that a restart cannot reopen voting.
func (j *Journal) bindElection(candidates []string, deadline time.Time) error {
	var stored []string
	found, err := j.getMeta(candidatesKey, &stored)
	if err != nil {
		return err
	}
	if !found {
		if err := j.setMeta(candidatesKey, candidates); err != nil {
			return err
		}
		j.deadline = deadline
		return j.setMeta(deadlineKey, deadline)
	}
	if !slices.Equal(stored, candidates) {
		return fmt.Errorf("%w: journal has %v, election has %v", ErrCandidateMismatch, stored, candidates)
	}

	if _, err := j.getMeta(deadlineKey, &j.deadline); err != nil {
		return err
	}
	if !j.deadline.Equal(deadline) {
		j.logger.Warn("keeping journalled deadline", "journal", j.deadline, "requested", deadline)
	}
	return nil
}

func (j *Journal) getMeta(key []byte, target any) (bool, error) {
	value, closer, err := j.db.Get(key)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	defer closer.Close()

	if err := codec.NewDecoderBytes(value, msgpackHandle).Decode(target); err != nil {
		return false, fmt.Errorf("decode %s: %w", key, err)
	}
	return true, nil
}

func (j *Journal) setMeta(key []byte, value any) error {
	var raw []byte
	if err := codec.NewEncoderBytes(&raw, msgpackHandle).Encode(value); err != nil {
		return fmt.Errorf("encode %s: %w", key, err)
	}
	return j.db.Set(key, raw, pebble.Sync)
}

func (j *Journal) loadSeq() error {
	err := j.iteratePrefix(ballotPrefix, func(key, _ []byte) error {
		j.seq = binary.BigEndian.Uint64(key[len(ballotPrefix):]) + 1
		return nil
	})
	if err != nil {
		return err
	}
	return j.iteratePrefix(actionPrefix, func(key, _ []byte) error {
		j.actionSeq = binary.BigEndian.Uint64(key[len(actionPrefix):]) + 1
		return nil
	})
}

// iteratePrefix calls fn for each key-value pair with the given prefix,
// in key order.
func (j *Journal) iteratePrefix(prefix []byte, fn func(key, value []byte) error) error {
	iter, err := j.db.NewIter(&pebble.IterOptions{
		LowerBound: prefix,
		UpperBound: prefixUpperBound(prefix),
	})
	if err != nil {
		return err
	}
	defer iter.Close()

	for iter.First(); iter.Valid(); iter.Next() {
		value, err := iter.ValueAndErr()
		if err != nil {
			return err
		}
		if err := fn(iter.Key(), value); err != nil {
			return err
		}
	}
	return iter.Error()
}

func sequenceKey(prefix []byte, seq uint64) []byte {
	key := make([]byte, len(prefix)+8)
	copy(key, prefix)
	binary.BigEndian.PutUint64(key[len(prefix):], seq)
	return key
}

// prefixUpperBound computes the exclusive upper bound for a prefix scan.
func prefixUpperBound(prefix []byte) []byte {
	upper := slices.Clone(prefix)
	for i := len(upper) - 1; i >= 0; i-- {
		upper[i]++
		if upper[i] != 0 {
			return upper
		}
	}
	return nil
}
