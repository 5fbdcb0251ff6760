package model

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"

	catalogmodel "github.com/openprovision/provd/internal/catalog/model"
)

// StepType tags the behavior of a workflow step. The engine dispatches over
// this closed set; adding a type means extending the engine switch.
type StepType string

const (
	StepTypeTask         StepType = "task"         // resolve and render a task implementation
	StepTypeValidation   StepType = "validation"   // assert an expression over the context
	StepTypeApproval     StepType = "approval"     // pause until an external approve/reject
	StepTypeNotification StepType = "notification" // best-effort webhook, never fails the run
	StepTypeCondition    StepType = "condition"    // branch: skips a range of later steps
	StepTypeWait         StepType = "wait"         // pause for a deadline or callback token
)

// Valid reports whether t is one of the known step types.
func (t StepType) Valid() bool {
	switch t {
	case StepTypeTask, StepTypeValidation, StepTypeApproval,
		StepTypeNotification, StepTypeCondition, StepTypeWait:
		return true
	}
	return false
}

// FailurePolicy controls what a failed step does to the rest of the run.
type FailurePolicy string

const (
	FailureStop          FailurePolicy = "stop"
	FailureContinue      FailurePolicy = "continue"
	FailureSkipRemaining FailurePolicy = "skip_remaining"
)

// Valid reports whether p is one of the known failure policies.
func (p FailurePolicy) Valid() bool {
	switch p {
	case FailureStop, FailureContinue, FailureSkipRemaining:
		return true
	}
	return false
}

// Workflow is an ordered list of steps executed against a target device.
// Steps are loaded eagerly and ordered by step_order.
type Workflow struct {
	BaseModel
	Name             string                   `gorm:"type:varchar(150);column:name;not null" json:"name"`
	Slug             string                   `gorm:"type:varchar(160);column:slug;uniqueIndex;not null" json:"slug"`
	Description      string                   `gorm:"type:text;column:description" json:"description"`
	Version          string                   `gorm:"type:varchar(50);column:version" json:"version"`
	Enabled          bool                     `gorm:"column:enabled;not null;default:true" json:"enabled"`
	ApprovalRequired bool                     `gorm:"column:approval_required;not null;default:false" json:"approvalRequired"`
	InputSchema      []catalogmodel.InputSpec `gorm:"type:jsonb;column:input_schema;serializer:json" json:"inputSchema"`
	DefaultInputs    map[string]any           `gorm:"type:jsonb;column:default_inputs;serializer:json" json:"defaultInputs"`

	// Relationships
	Steps []WorkflowStep `gorm:"foreignKey:WorkflowID;references:ID" json:"steps,omitempty"`
}

func (w *Workflow) TableName() string {
	return "workflows"
}

// WorkflowStep is one ordered element of a workflow.
type WorkflowStep struct {
	BaseModel
	WorkflowID    uuid.UUID         `gorm:"type:uuid;column:workflow_id;index;not null" json:"workflowId"`
	Order         int               `gorm:"column:step_order;not null" json:"order"`
	Name          string            `gorm:"type:varchar(150);column:name;not null" json:"name"`
	Type          StepType          `gorm:"type:varchar(24);column:type;not null" json:"type"`
	TaskID        *uuid.UUID        `gorm:"type:uuid;column:task_id" json:"taskId,omitempty"`
	InputMapping  map[string]string `gorm:"type:jsonb;column:input_mapping;serializer:json" json:"inputMapping,omitempty"`
	OutputMapping map[string]string `gorm:"type:jsonb;column:output_mapping;serializer:json" json:"outputMapping,omitempty"`
	Condition     string            `gorm:"type:text;column:condition" json:"condition,omitempty"`
	OnFailure     FailurePolicy     `gorm:"type:varchar(24);column:on_failure;not null;default:stop" json:"onFailure"`
	Config        json.RawMessage   `gorm:"type:jsonb;column:config" json:"config,omitempty"`
}

func (ws *WorkflowStep) TableName() string {
	return "workflow_steps"
}

// ConditionConfig is the Config payload of a condition step: when the step's
// expression evaluates false, every later step up to and including
// SkipThroughOrder is marked skipped.
type ConditionConfig struct {
	SkipThroughOrder int `json:"skipThroughOrder"`
}

// WaitConfig is the Config payload of a wait step. Exactly one field is
// expected: a relative duration, an absolute wall-clock time, or a callback
// token an external system presents to resume.
type WaitConfig struct {
	DurationSeconds int        `json:"durationSeconds,omitempty"`
	Until           *time.Time `json:"until,omitempty"`
	CallbackToken   string     `json:"callbackToken,omitempty"`
}

// NotificationConfig is the Config payload of a notification step.
type NotificationConfig struct {
	WebhookURL string `json:"webhookUrl"`
	Message    string `json:"message,omitempty"`
}

// ValidationConfig is the Config payload of a validation step.
type ValidationConfig struct {
	Expression string `json:"expression"`
	Message    string `json:"message,omitempty"`
}

// UpsertWorkflowDTO creates or replaces a workflow definition keyed by slug.
// A nil Enabled means enabled.
type UpsertWorkflowDTO struct {
	Name             string                   `json:"name" validate:"required"`
	Slug             string                   `json:"slug" validate:"required"`
	Description      string                   `json:"description"`
	Version          string                   `json:"version"`
	Enabled          *bool                    `json:"enabled"`
	ApprovalRequired bool                     `json:"approvalRequired"`
	InputSchema      []catalogmodel.InputSpec `json:"inputSchema"`
	DefaultInputs    map[string]any           `json:"defaultInputs"`
	Steps            []WorkflowStepDTO        `json:"steps" validate:"required"`
}

// WorkflowStepDTO is one step of an UpsertWorkflowDTO. A zero Order means
// "position in the list".
type WorkflowStepDTO struct {
	Order         int               `json:"order"`
	Name          string            `json:"name" validate:"required"`
	Type          StepType          `json:"type" validate:"required"`
	TaskID        *uuid.UUID        `json:"taskId,omitempty"`
	InputMapping  map[string]string `json:"inputMapping,omitempty"`
	OutputMapping map[string]string `json:"outputMapping,omitempty"`
	Condition     string            `json:"condition,omitempty"`
	OnFailure     FailurePolicy     `json:"onFailure,omitempty"`
	Config        json.RawMessage   `json:"config,omitempty"`
}
