package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a lookup misses. Callers render it as a placeholder view.
	ErrNotFound = errors.New("not found")

	// ErrEmptyWorkflow indicates an operation on a workflow without steps.
	ErrEmptyWorkflow = errors.New("workflow has no steps")

	// ErrNoDocketItems indicates a recommendation was requested from an empty docket.
	ErrNoDocketItems = errors.New("no docket items")

	// ErrInvalidStepState indicates an operation whose step-status precondition does not hold.
	ErrInvalidStepState = errors.New("invalid step state")

	// ErrValidationFailed indicates rejected user input; the caller should re-prompt.
	ErrValidationFailed = errors.New("validation failed")
)

// StepError wraps a failed step operation with the workflow and step it targeted.
type StepError struct {
	Op         string
	WorkflowID string
	StepID     string
	Err        error
}

func (e *StepError) Error() string {
	if e.StepID == "" {
		return fmt.Sprintf("%s workflow %s: %v", e.Op, e.WorkflowID, e.Err)
	}
	return fmt.Sprintf("%s step %s in workflow %s: %v", e.Op, e.StepID, e.WorkflowID, e.Err)
}

func (e *StepError) Unwrap() error {
	return e.Err
}

func (e *StepError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsPrecondition reports errors that signal a consumer bug rather than bad user input.
func IsPrecondition(err error) bool {
	return errors.Is(err, ErrInvalidStepState) ||
		errors.Is(err, ErrEmptyWorkflow) ||
		errors.Is(err, ErrNoDocketItems)
}

func IsValidation(err error) bool {
	return errors.Is(err, ErrValidationFailed)
}
