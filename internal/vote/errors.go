package vote

import (
	"errors"
	"fmt"
)

type Kind int

const (
	KindInvalidCandidate Kind = iota + 1
	KindDuplicateVote
	KindRateLimited
	KindStorageUnavailable
)

func (k Kind) String() string {
	switch k {
	case KindInvalidCandidate:
		return "invalid_candidate"
	case KindDuplicateVote:
		return "duplicate_vote"
	case KindRateLimited:
		return "rate_limited"
	case KindStorageUnavailable:
		return "storage_unavailable"
	}
	return "unknown"
}

// RejectError is returned for every refused submission. Message is safe to
// show to the voter; the underlying cause, if any, is only for logs.
type RejectError struct {
	Kind    Kind
	Message string
	cause   error
}

func (e *RejectError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.cause)
	}
	return e.Message
}

func (e *RejectError) Unwrap() error { return e.cause }

// Is matches sentinels by kind and message so wrapped copies still compare.
func (e *RejectError) Is(target error) bool {
	t, ok := target.(*RejectError)
	if !ok {
		return false
	}
	return e.Kind == t.Kind && e.Message == t.Message
}

var (
	ErrInvalidCandidate   = &RejectError{Kind: KindInvalidCandidate, Message: "invalid candidate"}
	ErrDuplicateVote      = &RejectError{Kind: KindDuplicateVote, Message: "you have already voted"}
	ErrAddressLocked      = &RejectError{Kind: KindDuplicateVote, Message: "you already voted from this connection"}
	ErrRateLimited        = &RejectError{Kind: KindRateLimited, Message: "too much traffic, try again in a minute"}
	ErrStorageUnavailable = &RejectError{Kind: KindStorageUnavailable, Message: "failed to submit vote"}
)

func storageFailure(err error) error {
	return &RejectError{Kind: ErrStorageUnavailable.Kind, Message: ErrStorageUnavailable.Message, cause: err}
}

// KindOf reports the rejection kind of err, or 0 when err is not a rejection.
func KindOf(err error) Kind {
	var re *RejectError
	if errors.As(err, &re) {
		return re.Kind
	}
	return 0
}
