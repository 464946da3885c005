package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors for pipeline and index failures.
var (
	// ErrConfiguration marks an invalid or inconsistent configuration,
	// such as a query embedding whose dimension does not match the index.
	// Fatal, never retried.
	ErrConfiguration = errors.New("invalid configuration")
	// ErrIndexCorrupt marks a persisted index that failed its consistency
	// check on load. The remedy is a full rebuild, not a retry.
	ErrIndexCorrupt = errors.New("index corrupt")
	// ErrRetrieval marks an infrastructure failure inside the
	// evidence-gathering path. Propagated to the caller as a request-level
	// failure; never downgraded to an abstention.
	ErrRetrieval = errors.New("retrieval failed")

	ErrQueryEmpty          = errors.New("query is empty")
	ErrQueryTooLong        = errors.New("query too long")
	ErrConversationUnknown = errors.New("conversation not found")
)

// RetrievalError wraps ErrRetrieval with the pipeline stage that failed.
type RetrievalError struct {
	Stage   string
	Wrapped error
}

func (e *RetrievalError) Error() string {
	return fmt.Sprintf("retrieval: %s: %v", e.Stage, e.Wrapped)
}

func (e *RetrievalError) Unwrap() error { return e.Wrapped }

func (e *RetrievalError) Is(target error) bool { return target == ErrRetrieval }

// NewRetrievalError creates a RetrievalError for a named stage.
func NewRetrievalError(stage string, wrapped error) *RetrievalError {
	return &RetrievalError{Stage: stage, Wrapped: wrapped}
}

// IndexError wraps ErrIndexCorrupt with the artifact that failed verification.
type IndexError struct {
	Artifact string
	Wrapped  error
}

func (e *IndexError) Error() string {
	if e.Wrapped != nil {
		return fmt.Sprintf("index: %s: %v", e.Artifact, e.Wrapped)
	}
	return fmt.Sprintf("index: %s", e.Artifact)
}

func (e *IndexError) Unwrap() error { return e.Wrapped }

func (e *IndexError) Is(target error) bool { return target == ErrIndexCorrupt }
