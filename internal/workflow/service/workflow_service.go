package service

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/openprovision/provd/internal/catalog"
	"github.com/openprovision/provd/internal/workflow/model"
)

// WorkflowService manages workflow definitions: this is the ingestion path
// operators use to publish a workflow before any execution can start.
type WorkflowService struct {
	workflows *WorkflowRepository
	catalog   catalog.Store
}

// NewWorkflowService creates a WorkflowService.
func NewWorkflowService(workflows *WorkflowRepository, cat catalog.Store) *WorkflowService {
	return &WorkflowService{workflows: workflows, catalog: cat}
}

// UpsertWorkflow validates the definition and saves it keyed by slug,
// replacing any previous step list. Task steps must reference an existing
// enabled task definition.
func (s *WorkflowService) UpsertWorkflow(ctx context.Context, dto *model.UpsertWorkflowDTO) (*model.Workflow, error) {
	if dto == nil || dto.Slug == "" {
		return nil, &ValidationError{Detail: "slug is required"}
	}
	if dto.Name == "" {
		return nil, &ValidationError{Detail: "name is required"}
	}
	if len(dto.Steps) == 0 {
		return nil, &ValidationError{Detail: "workflow must declare at least one step"}
	}

	steps := make([]model.WorkflowStep, 0, len(dto.Steps))
	seenOrders := make(map[int]bool, len(dto.Steps))
	for i, stepDTO := range dto.Steps {
		step, err := s.buildStep(ctx, i, stepDTO)
		if err != nil {
			return nil, err
		}
		if seenOrders[step.Order] {
			return nil, &ValidationError{Detail: fmt.Sprintf("step %q: duplicate order %d", step.Name, step.Order)}
		}
		seenOrders[step.Order] = true
		steps = append(steps, *step)
	}

	wf := &model.Workflow{
		Name:             dto.Name,
		Slug:             dto.Slug,
		Description:      dto.Description,
		Version:          dto.Version,
		Enabled:          dto.Enabled == nil || *dto.Enabled,
		ApprovalRequired: dto.ApprovalRequired,
		InputSchema:      dto.InputSchema,
		DefaultInputs:    dto.DefaultInputs,
		Steps:            steps,
	}
	if err := s.workflows.Upsert(ctx, wf); err != nil {
		return nil, err
	}
	return s.workflows.GetBySlug(ctx, wf.Slug)
}

// ListWorkflows retrieves all workflow definitions without their steps.
func (s *WorkflowService) ListWorkflows(ctx context.Context) ([]model.Workflow, error) {
	return s.workflows.List(ctx)
}

// GetWorkflow retrieves a workflow definition with its ordered steps.
func (s *WorkflowService) GetWorkflow(ctx context.Context, slug string) (*model.Workflow, error) {
	if slug == "" {
		return nil, &ValidationError{Detail: "slug is required"}
	}
	return s.workflows.GetBySlug(ctx, slug)
}

func (s *WorkflowService) buildStep(ctx context.Context, index int, dto model.WorkflowStepDTO) (*model.WorkflowStep, error) {
	if dto.Name == "" {
		return nil, &ValidationError{Detail: fmt.Sprintf("step %d: name is required", index+1)}
	}
	if !dto.Type.Valid() {
		return nil, &ValidationError{Detail: fmt.Sprintf("step %q: unknown type %q", dto.Name, dto.Type)}
	}

	onFailure := dto.OnFailure
	if onFailure == "" {
		onFailure = model.FailureStop
	}
	if !onFailure.Valid() {
		return nil, &ValidationError{Detail: fmt.Sprintf("step %q: unknown failure policy %q", dto.Name, dto.OnFailure)}
	}

	order := dto.Order
	if order == 0 {
		order = index + 1
	}

	if dto.Type == model.StepTypeTask {
		if dto.TaskID == nil {
			return nil, &ValidationError{Detail: fmt.Sprintf("step %q: task steps require taskId", dto.Name)}
		}
		task, err := s.catalog.GetTaskByID(ctx, *dto.TaskID)
		if err != nil {
			return nil, err
		}
		if !task.Enabled {
			return nil, &ValidationError{Detail: fmt.Sprintf("step %q: task %q is disabled", dto.Name, task.Slug)}
		}
	} else if dto.TaskID != nil {
		return nil, &ValidationError{Detail: fmt.Sprintf("step %q: only task steps reference a task", dto.Name)}
	}

	if err := checkStepConfig(dto); err != nil {
		return nil, err
	}

	return &model.WorkflowStep{
		Order:         order,
		Name:          dto.Name,
		Type:          dto.Type,
		TaskID:        dto.TaskID,
		InputMapping:  dto.InputMapping,
		OutputMapping: dto.OutputMapping,
		Condition:     dto.Condition,
		OnFailure:     onFailure,
		Config:        dto.Config,
	}, nil
}

// checkStepConfig rejects config payloads the engine would choke on at run
// time, so a bad definition fails at publish instead of mid-execution.
func checkStepConfig(dto model.WorkflowStepDTO) error {
	switch dto.Type {
	case model.StepTypeWait:
		var cfg model.WaitConfig
		if err := decodeStepConfig(dto, &cfg); err != nil {
			return err
		}
		set := 0
		if cfg.DurationSeconds > 0 {
			set++
		}
		if cfg.Until != nil {
			set++
		}
		if cfg.CallbackToken != "" {
			set++
		}
		if set != 1 {
			return &ValidationError{Detail: fmt.Sprintf("step %q: wait steps need exactly one of durationSeconds, until, callbackToken", dto.Name)}
		}
	case model.StepTypeNotification:
		var cfg model.NotificationConfig
		if err := decodeStepConfig(dto, &cfg); err != nil {
			return err
		}
		if cfg.WebhookURL == "" {
			return &ValidationError{Detail: fmt.Sprintf("step %q: notification steps require webhookUrl", dto.Name)}
		}
	case model.StepTypeValidation:
		var cfg model.ValidationConfig
		if err := decodeStepConfig(dto, &cfg); err != nil {
			return err
		}
		if cfg.Expression == "" && dto.Condition == "" {
			return &ValidationError{Detail: fmt.Sprintf("step %q: validation steps require an expression", dto.Name)}
		}
	case model.StepTypeCondition:
		if dto.Condition == "" {
			return &ValidationError{Detail: fmt.Sprintf("step %q: condition steps require a condition expression", dto.Name)}
		}
		var cfg model.ConditionConfig
		if err := decodeStepConfig(dto, &cfg); err != nil {
			return err
		}
	}
	return nil
}

func decodeStepConfig(dto model.WorkflowStepDTO, out any) error {
	if len(dto.Config) == 0 {
		return nil
	}
	if err := json.Unmarshal(dto.Config, out); err != nil {
		return &ValidationError{Detail: fmt.Sprintf("step %q: invalid config: %v", dto.Name, err)}
	}
	return nil
}
