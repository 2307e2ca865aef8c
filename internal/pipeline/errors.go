package pipeline

import (
	"errors"
	"fmt"
)

// ErrUnknownResult is reported when a stage returns a Result other than
// Continue or Halt.
var ErrUnknownResult = errors.New("unknown stage result")

// StageError is returned by Run when a stage fails. It unwraps to the stage's
// own error so callers can match it with errors.Is and errors.As.
type StageError struct {
	Stage string
	Err   error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("pipeline stage %s error: %v", e.Stage, e.Err)
}

func (e *StageError) Unwrap() error {
	return e.Err
}

// IsStageError returns true if err is a pipeline stage failure.
func IsStageError(err error) bool {
	var se *StageError
	return errors.As(err, &se)
}
