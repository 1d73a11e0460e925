package workflow

import (
	"errors"
	"fmt"
)

// ErrBusy is returned when a stage is started while another stage of the
// same session is in flight. The new stage is rejected, not queued.
var ErrBusy = errors.New("workflow: another stage is in flight")

// PreconditionError rejects a stage before any network call is made.
// Reason is meant to be shown to the analyst as is.
type PreconditionError struct {
	Step   Step
	Reason string
}

func (e *PreconditionError) Error() string {
	return fmt.Sprintf("%s: %s", e.Step, e.Reason)
}

// StageError is a primary pipeline failure naming the proximate step.
type StageError struct {
	Step Step
	Err  error
}

func (e *StageError) Error() string {
	return fmt.Sprintf("%s: %v", e.Step, e.Err)
}

func (e *StageError) Unwrap() error { return e.Err }
