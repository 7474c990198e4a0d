// Package persistence provides standardized error types for persistence operations.
package persistence

import (
	"errors"
	"fmt"
)

// Standard persistence error types that all implementations should use.
var (
	// ErrProjectNotFound indicates a project was not found by the given identifier.
	ErrProjectNotFound = errors.New("project not found")

	// ErrTaskNotFound indicates a task was not found by the given identifier.
	ErrTaskNotFound = errors.New("task not found")

	// ErrArtifactNotFound indicates a context artifact was not found.
	ErrArtifactNotFound = errors.New("artifact not found")

	// ErrArtifactImmutable indicates an attempt to overwrite an existing artifact id.
	ErrArtifactImmutable = errors.New("artifact is immutable")

	// ErrApprovalNotFound indicates an approval request was not found.
	ErrApprovalNotFound = errors.New("approval request not found")

	// ErrBudgetNotFound indicates no budget control exists for the scope.
	ErrBudgetNotFound = errors.New("budget control not found")

	// ErrCounterNotFound indicates no auto-approve counter exists for the scope.
	ErrCounterNotFound = errors.New("auto-approve counter not found")

	// ErrStopNotFound indicates an emergency stop was not found.
	ErrStopNotFound = errors.New("emergency stop not found")

	// ErrExecutionNotFound indicates a workflow execution state was not found.
	ErrExecutionNotFound = errors.New("execution state not found")

	// ErrWorkflowNotFound indicates a workflow definition was not found.
	ErrWorkflowNotFound = errors.New("workflow definition not found")
)

// StoreError wraps persistence errors with operation context.
type StoreError struct {
	Op       string // Operation being performed (e.g., "SaveTask", "ProjectByID")
	EntityID string // Identifier of the entity if applicable
	Err      error  // Underlying error
}

func (e *StoreError) Error() string {
	if e.EntityID != "" {
		return fmt.Sprintf("%s operation failed for %s: %v", e.Op, e.EntityID, e.Err)
	}

	return fmt.Sprintf("%s operation failed: %v", e.Op, e.Err)
}

func (e *StoreError) Unwrap() error {
	return e.Err
}

// Is implements error comparison for store errors.
func (e *StoreError) Is(target error) bool {
	return errors.Is(e.Err, target)
}

// NewStoreError creates a new store error with context.
func NewStoreError(op, entityID string, err error) *StoreError {
	return &StoreError{
		Op:       op,
		EntityID: entityID,
		Err:      err,
	}
}

// IsNotFound checks whether an error indicates any missing entity.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrProjectNotFound) ||
		errors.Is(err, ErrTaskNotFound) ||
		errors.Is(err, ErrArtifactNotFound) ||
		errors.Is(err, ErrApprovalNotFound) ||
		errors.Is(err, ErrBudgetNotFound) ||
		errors.Is(err, ErrCounterNotFound) ||
		errors.Is(err, ErrStopNotFound) ||
		errors.Is(err, ErrExecutionNotFound) ||
		errors.Is(err, ErrWorkflowNotFound)
}
