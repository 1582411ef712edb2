package engine

import (
	"errors"
	"fmt"
)

// ErrMissingFeedback is returned when a session awaiting feedback is
// advanced without any.
var ErrMissingFeedback = errors.New("feedback required to continue this session")

// ErrInvalidState is returned when a stored session state cannot be
// interpreted. Not retryable.
var ErrInvalidState = errors.New("invalid session state")

// StageError wraps a collaborator failure inside a research stage. The
// session state is not advanced on a StageError, so retrying the call
// resumes the same stage.
type StageError struct {
	Stage int
	Step  string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("stage %d failed at %s: %v", e.Stage, e.Step, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}
