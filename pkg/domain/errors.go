package domain

import (
	"errors"
	"fmt"
)

var (
	// Not found errors.
	ErrDefinitionNotFound = errors.New("workflow definition not found")
	ErrExecutionNotFound  = errors.New("workflow execution not found")

	// ErrDefinitionInactive is returned when a disabled definition is asked to run.
	// No execution record exists for such an attempt.
	ErrDefinitionInactive = errors.New("workflow definition is not active")

	// ErrInvalidTransition is returned when a status change is not reachable
	// from the current status, including a lost compare-and-swap race.
	ErrInvalidTransition = errors.New("invalid status transition")

	// ErrStepExecutionFailed marks a failure raised by the step engine.
	// The execution record is already durably FAILED when it surfaces.
	ErrStepExecutionFailed = errors.New("step execution failed")

	// ErrStatusConflict is returned by stores when a compare-and-swap finds a
	// status other than the expected one.
	ErrStatusConflict = errors.New("execution status changed concurrently")

	// ErrOverloaded is returned when the worker pool cannot accept more work.
	ErrOverloaded = errors.New("execution capacity exhausted")

	// Definition store errors.
	ErrDuplicateDefinition = errors.New("workflow definition already exists")

	// ErrInvalidRequest wraps request validation failures.
	ErrInvalidRequest = errors.New("invalid request")
)

// ExecutionError wraps an error with the operation and execution it concerns
type ExecutionError struct {
	Op          string // Operation being performed (e.g. "execute", "cancel")
	ExecutionID string
	Err         error
}

func (e *ExecutionError) Error() string {
	if e.ExecutionID == "" {
		return fmt.Sprintf("%s: %v", e.Op, e.Err)
	}
	return fmt.Sprintf("%s execution %s: %v", e.Op, e.ExecutionID, e.Err)
}

func (e *ExecutionError) Unwrap() error {
	return e.Err
}

// NewExecutionError creates a new execution error with context
func NewExecutionError(op, executionID string, err error) *ExecutionError {
	return &ExecutionError{Op: op, ExecutionID: executionID, Err: err}
}

// StepExecutionError is raised by the step engine and re-surfaced by the
// orchestrator after the FAILED status is persisted
type StepExecutionError struct {
	Step  string
	Cause error
}

func (e *StepExecutionError) Error() string {
	if e.Step == "" {
		return fmt.Sprintf("%v: %v", ErrStepExecutionFailed, e.Cause)
	}
	return fmt.Sprintf("%v: step %s: %v", ErrStepExecutionFailed, e.Step, e.Cause)
}

func (e *StepExecutionError) Unwrap() error {
	return e.Cause
}

// Is makes errors.Is(err, ErrStepExecutionFailed) hold for every StepExecutionError
func (e *StepExecutionError) Is(target error) bool {
	return target == ErrStepExecutionFailed
}

// NewStepExecutionError wraps cause as a step failure
func NewStepExecutionError(step string, cause error) *StepExecutionError {
	return &StepExecutionError{Step: step, Cause: cause}
}

// Error codes used by API and batch callers to tell failures apart
const (
	CodeDefinitionNotFound  = "DEFINITION_NOT_FOUND"
	CodeExecutionNotFound   = "EXECUTION_NOT_FOUND"
	CodeDefinitionInactive  = "DEFINITION_INACTIVE"
	CodeInvalidTransition   = "INVALID_TRANSITION"
	CodeStepExecutionFailed = "STEP_EXECUTION_FAILED"
	CodeOverloaded          = "OVERLOADED"
	CodeDuplicateDefinition = "DUPLICATE_DEFINITION"
	CodeInvalidRequest      = "INVALID_REQUEST"
	CodeInternal            = "INTERNAL_ERROR"
)

// ErrorCode maps err onto the taxonomy above. It returns "" for nil.
func ErrorCode(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrDefinitionNotFound):
		return CodeDefinitionNotFound
	case errors.Is(err, ErrExecutionNotFound):
		return CodeExecutionNotFound
	case errors.Is(err, ErrDefinitionInactive):
		return CodeDefinitionInactive
	case errors.Is(err, ErrInvalidTransition), errors.Is(err, ErrStatusConflict):
		return CodeInvalidTransition
	case errors.Is(err, ErrStepExecutionFailed):
		return CodeStepExecutionFailed
	case errors.Is(err, ErrOverloaded):
		return CodeOverloaded
	case errors.Is(err, ErrDuplicateDefinition):
		return CodeDuplicateDefinition
	case errors.Is(err, ErrInvalidRequest):
		return CodeInvalidRequest
	default:
		return CodeInternal
	}
}
