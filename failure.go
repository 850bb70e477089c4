package notify

import (
	"fmt"

	"github.com/pkg/errors"
)

// StoreError is an infrastructure failure in a storage backend. It matches
// StoreUnavailableErr under errors.Is while keeping the driver error as cause.
type StoreError struct {
	Op  string
	Err error
}

func (e *StoreError) Error() string {
	return fmt.Sprintf("%s: %s: %v", StoreUnavailableErr, e.Op, e.Err)
}

func (e *StoreError) Unwrap() error { return e.Err }

func (e *StoreError) Is(target error) bool {
	return target == StoreUnavailableErr
}

// WrapStoreErr marks a driver error as a store failure. Domain sentinels pass
// through untouched so callers can still tell a missing job from a dead database.
func WrapStoreErr(op string, err error) error {
	if err == nil {
		return nil
	}

	for _, sentinel := range []error{
		JobNotFoundErr,
		InvalidTransitionErr,
		RecipientNotFoundErr,
		TemplateNotFoundErr,
		ValidationErr,
	} {
		if errors.Is(err, sentinel) {
			return err
		}
	}

	if errors.Is(err, StoreUnavailableErr) {
		return err
	}

	return &StoreError{Op: op, Err: err}
}

type FailureKind int

const (
	FailureTransient FailureKind = iota
	FailurePermanent
)

func (k FailureKind) String() string {
	if k == FailurePermanent {
		return "permanent"
	}

	return "transient"
}

// ClassifyFailure decides whether a per-job error may succeed on a later attempt.
// Only a missing channel implementation is known never to recover.
func ClassifyFailure(err error) FailureKind {
	if errors.Is(err, NotImplementedErr) {
		return FailurePermanent
	}

	return FailureTransient
}
