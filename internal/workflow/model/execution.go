package model

import (
	"time"

	"github.com/google/uuid"

	"github.com/openprovision/provd/internal/catalog"
)

// ExecutionStatus represents the lifecycle state of a workflow execution.
type ExecutionStatus string

const (
	ExecutionStatusPending          ExecutionStatus = "pending"           // Execution recorded but not yet started
	ExecutionStatusRunning          ExecutionStatus = "running"           // Steps are being processed
	ExecutionStatusAwaitingApproval ExecutionStatus = "awaiting_approval" // Paused at an approval step
	ExecutionStatusCompleted        ExecutionStatus = "completed"         // All steps finished
	ExecutionStatusFailed           ExecutionStatus = "failed"            // A step failed with a stop or skip_remaining policy
	ExecutionStatusCancelled        ExecutionStatus = "cancelled"         // Cancelled by an operator or rejected approval
)

// Terminal reports whether the status admits no further transitions.
func (s ExecutionStatus) Terminal() bool {
	switch s {
	case ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
		return true
	}
	return false
}

// CanTransitionTo checks whether the execution state machine permits moving
// from s to next. Terminal states are frozen; awaiting_approval only resumes
// to running or resolves to cancelled.
func (s ExecutionStatus) CanTransitionTo(next ExecutionStatus) bool {
	if s.Terminal() {
		return false
	}
	switch s {
	case ExecutionStatusPending:
		return next == ExecutionStatusRunning || next == ExecutionStatusCancelled
	case ExecutionStatusRunning:
		switch next {
		case ExecutionStatusAwaitingApproval, ExecutionStatusCompleted, ExecutionStatusFailed, ExecutionStatusCancelled:
			return true
		}
		return false
	case ExecutionStatusAwaitingApproval:
		return next == ExecutionStatusRunning || next == ExecutionStatusCancelled || next == ExecutionStatusFailed
	}
	return false
}

// StepStatus represents the lifecycle state of a single execution step.
type StepStatus string

const (
	StepStatusPending   StepStatus = "pending"
	StepStatusRunning   StepStatus = "running"
	StepStatusCompleted StepStatus = "completed"
	StepStatusFailed    StepStatus = "failed"
	StepStatusSkipped   StepStatus = "skipped"
)

// Terminal reports whether the step status admits no further transitions.
func (s StepStatus) Terminal() bool {
	switch s {
	case StepStatusCompleted, StepStatusFailed, StepStatusSkipped:
		return true
	}
	return false
}

// Execution is one run of a workflow against a target device.
type Execution struct {
	BaseModel
	WorkflowID   uuid.UUID                `gorm:"type:uuid;column:workflow_id;index;not null" json:"workflowId"`
	Status       ExecutionStatus          `gorm:"type:varchar(24);column:status;not null" json:"status"`
	TargetDevice catalog.DeviceDescriptor `gorm:"type:jsonb;column:target_device;serializer:json" json:"targetDevice"`
	Inputs       map[string]any           `gorm:"type:jsonb;column:inputs;serializer:json" json:"inputs"`
	Context      map[string]any           `gorm:"type:jsonb;column:context;serializer:json" json:"context"`
	ErrorMessage *string                  `gorm:"type:text;column:error_message" json:"errorMessage,omitempty"`
	ApprovedBy   *string                  `gorm:"type:varchar(150);column:approved_by" json:"approvedBy,omitempty"`
	RequestedBy  string                   `gorm:"type:varchar(150);column:requested_by" json:"requestedBy"`
	StartedAt    *time.Time               `gorm:"type:timestamptz;column:started_at" json:"startedAt,omitempty"`
	FinishedAt   *time.Time               `gorm:"type:timestamptz;column:finished_at" json:"finishedAt,omitempty"`

	// Relationships
	Workflow *Workflow       `gorm:"foreignKey:WorkflowID;references:ID" json:"-"`
	Steps    []ExecutionStep `gorm:"foreignKey:ExecutionID;references:ID" json:"steps,omitempty"`
}

func (e *Execution) TableName() string {
	return "executions"
}

// ExecutionStep is the recorded outcome of one workflow step within a run.
type ExecutionStep struct {
	BaseModel
	ExecutionID   uuid.UUID      `gorm:"type:uuid;column:execution_id;index;not null" json:"executionId"`
	Order         int            `gorm:"column:step_order;not null" json:"order"`
	Name          string         `gorm:"type:varchar(150);column:name;not null" json:"name"`
	Type          StepType       `gorm:"type:varchar(24);column:type;not null" json:"type"`
	Status        StepStatus     `gorm:"type:varchar(24);column:status;not null" json:"status"`
	Inputs        map[string]any `gorm:"type:jsonb;column:inputs;serializer:json" json:"inputs,omitempty"`
	Outputs       map[string]any `gorm:"type:jsonb;column:outputs;serializer:json" json:"outputs,omitempty"`
	Artifact      *string        `gorm:"type:text;column:artifact" json:"artifact,omitempty"`
	ErrorMessage  *string        `gorm:"type:text;column:error_message" json:"errorMessage,omitempty"`
	WaitDeadline  *time.Time     `gorm:"type:timestamptz;column:wait_deadline" json:"waitDeadline,omitempty"`
	CallbackToken *string        `gorm:"type:varchar(150);column:callback_token" json:"callbackToken,omitempty"`
	StartedAt     *time.Time     `gorm:"type:timestamptz;column:started_at" json:"startedAt,omitempty"`
	FinishedAt    *time.Time     `gorm:"type:timestamptz;column:finished_at" json:"finishedAt,omitempty"`
}

func (es *ExecutionStep) TableName() string {
	return "execution_steps"
}

// StartExecutionDTO is used to start a new workflow execution.
type StartExecutionDTO struct {
	WorkflowSlug string                   `json:"workflowSlug" validate:"required"` // Slug of the workflow to run
	Device       catalog.DeviceDescriptor `json:"device" validate:"required"`       // Target device descriptor
	Inputs       map[string]any           `json:"inputs"`                           // Operator-supplied inputs
	RequestedBy  string                   `json:"requestedBy"`                      // Identity of the requester
}

// ResumeExecutionDTO is used to resume a suspended execution.
type ResumeExecutionDTO struct {
	Decision      string  `json:"decision"`                // "approve" or "reject" for approval steps
	ApprovedBy    *string `json:"approvedBy,omitempty"`    // Identity of the approver
	CallbackToken *string `json:"callbackToken,omitempty"` // Token presented to release a wait step
	Comment       *string `json:"comment,omitempty"`       // Optional free-form note
}

// RenderTaskDTO is used to render a task artifact without persisting anything.
type RenderTaskDTO struct {
	TaskSlug  string                   `json:"taskSlug" validate:"required"` // Slug of the task definition
	Device    catalog.DeviceDescriptor `json:"device" validate:"required"`   // Target device descriptor
	Inputs    map[string]any           `json:"inputs"`                       // Ad-hoc input overrides
	Overrides map[string]any           `json:"overrides"`                    // Context override layer
}

// RenderTaskResponseDTO carries a rendered artifact and how it was produced.
type RenderTaskResponseDTO struct {
	TaskID             uuid.UUID         `json:"taskId"`
	ImplementationID   uuid.UUID         `json:"implementationId"`
	ImplementationName string            `json:"implementationName"`
	Artifact           string            `json:"artifact"`
	Context            map[string]any    `json:"context"`
	Provenance         map[string]string `json:"provenance"`
}

// ExecutionResponseDTO represents an execution with its recorded steps.
type ExecutionResponseDTO struct {
	ID           uuid.UUID                  `json:"id"`
	WorkflowID   uuid.UUID                  `json:"workflowId"`
	WorkflowName string                     `json:"workflowName"`
	Status       ExecutionStatus            `json:"status"`
	TargetDevice catalog.DeviceDescriptor   `json:"targetDevice"`
	Inputs       map[string]any             `json:"inputs"`
	Context      map[string]any             `json:"context"`
	ErrorMessage *string                    `json:"errorMessage,omitempty"`
	ApprovedBy   *string                    `json:"approvedBy,omitempty"`
	RequestedBy  string                     `json:"requestedBy"`
	CreatedAt    string                     `json:"createdAt"`
	StartedAt    *string                    `json:"startedAt,omitempty"`
	FinishedAt   *string                    `json:"finishedAt,omitempty"`
	Steps        []ExecutionStepResponseDTO `json:"steps"`
}

// ExecutionStepResponseDTO represents one recorded step in the response.
type ExecutionStepResponseDTO struct {
	ID           uuid.UUID      `json:"id"`
	Order        int            `json:"order"`
	Name         string         `json:"name"`
	Type         StepType       `json:"type"`
	Status       StepStatus     `json:"status"`
	Outputs      map[string]any `json:"outputs,omitempty"`
	Artifact     *string        `json:"artifact,omitempty"`
	ErrorMessage *string        `json:"errorMessage,omitempty"`
	WaitDeadline *string        `json:"waitDeadline,omitempty"`
	StartedAt    *string        `json:"startedAt,omitempty"`
	FinishedAt   *string        `json:"finishedAt,omitempty"`
}

// ExecutionListResult represents the result of querying executions with pagination.
type ExecutionListResult struct {
	TotalCount int64                  `json:"totalCount"`
	Executions []ExecutionResponseDTO `json:"executions"`
	Offset     int                    `json:"offset"`
	Limit      int                    `json:"limit"`
}
