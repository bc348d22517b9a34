package pipeline

import (
	"errors"
	"fmt"

	"splat-orchestrator/core/models"
)

var (
	// ErrJobInProgress is returned when the room already has a running job
	ErrJobInProgress = errors.New("a training job is already running for this project")
	// ErrCancelled is the cancellation cause of a job stopped through Cancel
	ErrCancelled = errors.New("training cancelled")
	// ErrNoJob is returned by Cancel when nothing runs in the room
	ErrNoJob = errors.New("no training job running for this project")
)

// StepError reports the step at which a job aborted
type StepError struct {
	Step models.Step
	Err  error
}

func (e *StepError) Error() string {
	return fmt.Sprintf("step %s: %v", e.Step, e.Err)
}

func (e *StepError) Unwrap() error { return e.Err }
