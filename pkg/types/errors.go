package types

import (
	"errors"
	"fmt"
)

// Engine errors
var (
	ErrMalformedInput   = errors.New("malformed input")
	ErrTaskFailure      = errors.New("task failure")
	ErrFoldFailure      = errors.New("fold failure")
	ErrProbeUnavailable = errors.New("resource probe unavailable")
	ErrCancelled        = errors.New("cancelled before dispatch")
	ErrTaskTimeout      = errors.New("task timed out")
	ErrStrategyOutput   = errors.New("invalid strategy output")
)

// Malformed returns an error wrapping ErrMalformedInput.
func Malformed(format string, args ...interface{}) error {
	return fmt.Errorf("%w: %s", ErrMalformedInput, fmt.Sprintf(format, args...))
}

// TaskError wraps a failure raised inside a dispatched task
type TaskError struct {
	Key TaskKey
	Err error
}

func (e *TaskError) Error() string {
	return fmt.Sprintf("task %s: %v", e.Key, e.Err)
}

func (e *TaskError) Unwrap() []error { return []error{ErrTaskFailure, e.Err} }

// FoldError wraps a failure in one cross-validation fold
type FoldError struct {
	Fold Fold
	Err  error
}

func (e *FoldError) Error() string {
	return fmt.Sprintf("fold %d [%d:%d]: %v", e.Fold.Index, e.Fold.Start, e.Fold.End, e.Err)
}

func (e *FoldError) Unwrap() []error { return []error{ErrFoldFailure, e.Err} }
