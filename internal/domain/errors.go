package domain

import (
	"context"
	"errors"
	"fmt"
)

// ErrCancelled marks a task aborted by an explicit cancellation request.
var ErrCancelled = errors.New("task cancelled")

type ErrorKind string

const (
	KindClassification       ErrorKind = "classification_error"
	KindFetch                ErrorKind = "fetch_error"
	KindInsufficientEvidence ErrorKind = "insufficient_evidence"
	KindCompletion           ErrorKind = "completion_error"
	KindStage                ErrorKind = "stage_error"
	KindCancelled            ErrorKind = "cancelled"
	KindInternal             ErrorKind = "internal_error"
)

// FetchError marks a single-source retrieval failure. The aggregator absorbs
// it as a soft failure rather than failing the gather call.
type FetchError struct {
	Source Source
	Err    error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch from %s: %v", e.Source, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

func (e *FetchError) Retryable() bool { return true }

// InsufficientEvidenceError ends the retrieval stage when merging leaves
// nothing usable. The counters explain where candidates went.
type InsufficientEvidenceError struct {
	SoftFailures      int
	DuplicatesDropped int
	RetractedDropped  int
}

func (e *InsufficientEvidenceError) Error() string {
	return fmt.Sprintf("insufficient evidence: %d source failures, %d duplicates dropped, %d retracted dropped",
		e.SoftFailures, e.DuplicatesDropped, e.RetractedDropped)
}

func (e *InsufficientEvidenceError) Retryable() bool { return false }

// ClassificationError marks an unusable classifier reply, typically output
// that does not parse into a classification.
type ClassificationError struct {
	Err error
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classification: %v", e.Err)
}

func (e *ClassificationError) Unwrap() error { return e.Err }

func (e *ClassificationError) Retryable() bool { return false }

// CompletionError marks a failed text-completion call. Temporary is set for
// transport faults and rate limits worth retrying, clear for rejected
// requests.
type CompletionError struct {
	Err       error
	Temporary bool
}

func (e *CompletionError) Error() string {
	return fmt.Sprintf("completion: %v", e.Err)
}

func (e *CompletionError) Unwrap() error { return e.Err }

func (e *CompletionError) Retryable() bool { return e.Temporary }

// StageError is surfaced after a stage exhausts its retry policy; it ends
// the task.
type StageError struct {
	Stage    Stage
	Attempts int
	Err      error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s failed after %d attempts: %v", e.Stage, e.Attempts, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }

func (e *StageError) Retryable() bool { return false }

type retryable interface {
	Retryable() bool
}

// IsRetryable reports whether the stage executor may retry after err.
// Retryability is a property of the error itself: typed errors declare it,
// deadline expiry counts as retryable, context cancellation does not.
// Unclassified errors are not retried.
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, ErrCancelled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var r retryable
	if errors.As(err, &r) {
		return r.Retryable()
	}
	return false
}

// KindOf maps an error to its stable persisted kind, preferring the most
// specific classification in the chain over the enclosing StageError.
func KindOf(err error) ErrorKind {
	if err == nil {
		return KindInternal
	}
	if errors.Is(err, ErrCancelled) || errors.Is(err, context.Canceled) {
		return KindCancelled
	}
	var insufficient *InsufficientEvidenceError
	if errors.As(err, &insufficient) {
		return KindInsufficientEvidence
	}
	var classification *ClassificationError
	if errors.As(err, &classification) {
		return KindClassification
	}
	var completion *CompletionError
	if errors.As(err, &completion) {
		return KindCompletion
	}
	var fetch *FetchError
	if errors.As(err, &fetch) {
		return KindFetch
	}
	var stage *StageError
	if errors.As(err, &stage) {
		return KindStage
	}
	return KindInternal
}
