// Package recorder persists workflow executions and their per-step records.
// Every state change of a run goes through a Store so that a crashed or
// restarted engine can pick an execution back up from the last durable state.
package recorder

import (
	"context"
	"errors"

	"github.com/google/uuid"

	"github.com/openprovision/provd/internal/workflow/model"
)

var (
	// ErrExecutionNotFound is returned when the requested execution does not exist.
	ErrExecutionNotFound = errors.New("execution not found")

	// ErrStepNotFound is returned when the requested execution step does not exist.
	ErrStepNotFound = errors.New("execution step not found")

	// ErrStepFinalized is returned when a write would rewrite a step that has
	// already reached a terminal status.
	ErrStepFinalized = errors.New("execution step already finalized")

	// ErrInvalidTransition is returned when an execution status update is not
	// permitted by the state machine.
	ErrInvalidTransition = errors.New("invalid execution status transition")
)

// ListFilter narrows ListExecutions results.
type ListFilter struct {
	WorkflowID *uuid.UUID
	Status     *model.ExecutionStatus
	Offset     int
	Limit      int
}

// Store records executions and steps. Implementations must keep step records
// append-only once terminal and must reject execution status transitions the
// state machine forbids.
type Store interface {
	// CreateExecution persists a new execution record.
	CreateExecution(ctx context.Context, exec *model.Execution) error

	// UpdateExecution persists the mutable fields of an execution. The status
	// change is validated against the previously stored status.
	UpdateExecution(ctx context.Context, exec *model.Execution) error

	// GetExecution retrieves an execution with its steps ordered by step order.
	GetExecution(ctx context.Context, id uuid.UUID) (*model.Execution, error)

	// ListExecutions retrieves executions matching the filter, newest first,
	// along with the total count before pagination.
	ListExecutions(ctx context.Context, filter ListFilter) ([]model.Execution, int64, error)

	// AppendStep persists a new step record for an execution.
	AppendStep(ctx context.Context, step *model.ExecutionStep) error

	// UpdateStep persists the mutable fields of a step. Writes against a step
	// already in a terminal status fail with ErrStepFinalized.
	UpdateStep(ctx context.Context, step *model.ExecutionStep) error
}
