package plan

import (
	"context"
	"errors"
)

var (
	// ErrInvalidInput marks a request missing modules, priorities or a count
	ErrInvalidInput = errors.New("invalid input")
	// ErrNoMatchingModules is reported when no requested module resolves
	ErrNoMatchingModules = errors.New("no matching modules")
	// ErrDataFetch wraps candidate repository failures
	ErrDataFetch = errors.New("data fetch failed")
	// ErrReasoning wraps reasoning service failures and unusable output
	ErrReasoning = errors.New("reasoning service failed")
	// ErrNothingToModify is returned when a session has no generated plan
	ErrNothingToModify = errors.New("no existing test plan found to modify")
	// ErrEmptyPlan is returned when committing a plan without test cases
	ErrEmptyPlan = errors.New("no test cases found to save")
	// ErrPersistence wraps version store failures
	ErrPersistence = errors.New("version persistence failed")
)

// Retryable reports whether err is an upstream-dependency failure the caller
// may retry. Validation and integrity errors are never retryable.
func Retryable(err error) bool {
	if err == nil {
		return false
	}
	return errors.Is(err, ErrDataFetch) ||
		errors.Is(err, ErrReasoning) ||
		errors.Is(err, ErrPersistence) ||
		errors.Is(err, context.DeadlineExceeded)
}
