package model

import "errors"

// ErrorKind groups errors by the part of the election contract they violate.
type ErrorKind string

const (
	KindValidation      ErrorKind = "validation"
	KindLifecycle       ErrorKind = "lifecycle"
	KindTallyIncomplete ErrorKind = "tally_incomplete"
	KindAuthorization   ErrorKind = "authorization"
	KindUnknown         ErrorKind = "unknown"
)

func (k ErrorKind) String() string {
	return string(k)
}

// Error is a classified election error. Two errors match under errors.Is
// when their codes are equal, so details added with %w do not break matching
// and errors rebuilt from the wire still compare equal to the sentinels.
type Error struct {
	Kind    ErrorKind
	Code    string
	Message string
}

func (e *Error) Error() string {
	return e.Message
}

func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return e.Code == t.Code
}

var (
	ErrInvalidRanking    = &Error{Kind: KindValidation, Code: "invalid_ranking", Message: "invalid ranking"}
	ErrDuplicateVoter    = &Error{Kind: KindValidation, Code: "duplicate_voter", Message: "voter has already voted"}
	ErrUnknownCandidate  = &Error{Kind: KindValidation, Code: "unknown_candidate", Message: "unknown candidate"}
	ErrInvalidCandidates = &Error{Kind: KindValidation, Code: "invalid_candidates", Message: "invalid candidate list"}

	ErrVotingClosed      = &Error{Kind: KindLifecycle, Code: "voting_closed", Message: "voting period has ended"}
	ErrElectionStillOpen = &Error{Kind: KindLifecycle, Code: "election_still_open", Message: "election is still open"}
	ErrNotClosed         = &Error{Kind: KindLifecycle, Code: "not_closed", Message: "election is not closed"}

	ErrNoMajorityYet = &Error{Kind: KindTallyIncomplete, Code: "no_majority_yet", Message: "no candidate holds a majority yet"}
	ErrAllEliminated = &Error{Kind: KindTallyIncomplete, Code: "all_eliminated", Message: "fewer than two candidates remain"}

	ErrForbidden = &Error{Kind: KindAuthorization, Code: "forbidden", Message: "caller is not authorized"}

	// ErrBadCommand is returned when a transport payload cannot be decoded
	ErrBadCommand = errors.New("bad command")
)

var sentinels = []*Error{
	ErrInvalidRanking, ErrDuplicateVoter, ErrUnknownCandidate, ErrInvalidCandidates,
	ErrVotingClosed, ErrElectionStillOpen, ErrNotClosed,
	ErrNoMajorityYet, ErrAllEliminated, ErrForbidden,
}

// KindOf returns the kind of the first *Error in err's chain.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnknown
}

// CodeOf returns the code of the first *Error in err's chain, or "".
func CodeOf(err error) string {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// ErrorFromCode rebuilds an error received over a transport. The returned
// error matches the sentinel for code and keeps msg as its text.
func ErrorFromCode(code, msg string) error {
	for _, s := range sentinels {
		if s.Code == code {
			return &Error{Kind: s.Kind, Code: s.Code, Message: msg}
		}
	}
	return errors.New(msg)
}
