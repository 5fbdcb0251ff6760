package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/openprovision/provd/internal/catalog"
	catalogmodel "github.com/openprovision/provd/internal/catalog/model"
	"github.com/openprovision/provd/internal/intent"
	"github.com/openprovision/provd/internal/render"
	"github.com/openprovision/provd/internal/workflow/engine"
	"github.com/openprovision/provd/internal/workflow/model"
	"github.com/openprovision/provd/internal/workflow/recorder"
	"github.com/openprovision/provd/utils"
)

// ValidationError reports a request that failed input validation.
type ValidationError struct {
	Detail string
}

func (e *ValidationError) Error() string {
	return e.Detail
}

// ExecutionService exposes the operational surface of the workflow system:
// ad-hoc task rendering and the execution lifecycle.
type ExecutionService struct {
	workflows *WorkflowRepository
	catalog   catalog.Store
	engine    *engine.Engine
	recorder  recorder.Store
	renderer  *render.Renderer
}

// NewExecutionService creates an ExecutionService.
func NewExecutionService(workflows *WorkflowRepository, cat catalog.Store, eng *engine.Engine, rec recorder.Store, renderer *render.Renderer) *ExecutionService {
	return &ExecutionService{
		workflows: workflows,
		catalog:   cat,
		engine:    eng,
		recorder:  rec,
		renderer:  renderer,
	}
}

// RenderTask resolves the task implementation for the device, builds the
// render context, and renders the artifact. Nothing is persisted; this is
// the dry-run path operators use to preview configuration.
func (s *ExecutionService) RenderTask(ctx context.Context, dto *model.RenderTaskDTO) (*model.RenderTaskResponseDTO, error) {
	if dto == nil || dto.TaskSlug == "" {
		return nil, &ValidationError{Detail: "taskSlug is required"}
	}
	if dto.Device.Manufacturer == "" {
		return nil, &ValidationError{Detail: "device.manufacturer is required"}
	}

	task, err := s.catalog.GetTaskBySlug(ctx, dto.TaskSlug)
	if err != nil {
		return nil, err
	}
	if !task.Enabled {
		return nil, &ValidationError{Detail: fmt.Sprintf("task %q is disabled", dto.TaskSlug)}
	}

	inputs, err := validateInputs(task.InputSchema, dto.Inputs)
	if err != nil {
		return nil, err
	}

	candidates, err := s.catalog.ListImplementations(ctx, task.ID)
	if err != nil {
		return nil, err
	}
	impl, err := catalog.Select(task.ID, dto.Device, candidates)
	if err != nil {
		return nil, err
	}

	renderCtx, err := intent.Build(dto.Device, dto.Overrides, inputs)
	if err != nil {
		return nil, err
	}

	artifact, err := s.renderer.Render(impl.TemplateBody, renderCtx.AsMap())
	if err != nil {
		return nil, err
	}

	return &model.RenderTaskResponseDTO{
		TaskID:             task.ID,
		ImplementationID:   impl.ID,
		ImplementationName: impl.Name,
		Artifact:           artifact.Content,
		Context:            renderCtx.AsMap(),
		Provenance:         renderCtx.Provenance(),
	}, nil
}

// StartExecution validates the request against the workflow input schema and
// hands the run to the engine.
func (s *ExecutionService) StartExecution(ctx context.Context, dto *model.StartExecutionDTO) (*model.ExecutionResponseDTO, error) {
	if dto == nil || dto.WorkflowSlug == "" {
		return nil, &ValidationError{Detail: "workflowSlug is required"}
	}
	if dto.Device.Manufacturer == "" {
		return nil, &ValidationError{Detail: "device.manufacturer is required"}
	}

	wf, err := s.workflows.GetBySlug(ctx, dto.WorkflowSlug)
	if err != nil {
		return nil, err
	}
	if !wf.Enabled {
		return nil, &ValidationError{Detail: fmt.Sprintf("workflow %q is disabled", dto.WorkflowSlug)}
	}
	if len(wf.Steps) == 0 {
		return nil, &ValidationError{Detail: fmt.Sprintf("workflow %q has no steps", dto.WorkflowSlug)}
	}

	inputs, err := validateInputs(wf.InputSchema, dto.Inputs)
	if err != nil {
		return nil, err
	}

	exec, err := s.engine.Start(ctx, wf, dto.Device, inputs, dto.RequestedBy)
	if err != nil {
		return nil, err
	}
	return toExecutionResponse(exec, wf), nil
}

// ResumeExecution continues a suspended execution.
func (s *ExecutionService) ResumeExecution(ctx context.Context, execID uuid.UUID, dto *model.ResumeExecutionDTO) (*model.ExecutionResponseDTO, error) {
	if dto == nil {
		return nil, &ValidationError{Detail: "resume request body is required"}
	}

	current, err := s.recorder.GetExecution(ctx, execID)
	if err != nil {
		return nil, err
	}
	wf, err := s.workflows.GetByID(ctx, current.WorkflowID)
	if err != nil {
		return nil, err
	}

	exec, err := s.engine.Resume(ctx, wf, execID, *dto)
	if err != nil {
		return nil, err
	}
	return toExecutionResponse(exec, wf), nil
}

// GetExecution retrieves an execution with its recorded steps.
func (s *ExecutionService) GetExecution(ctx context.Context, execID uuid.UUID) (*model.ExecutionResponseDTO, error) {
	exec, err := s.recorder.GetExecution(ctx, execID)
	if err != nil {
		return nil, err
	}
	wf, err := s.workflows.GetByID(ctx, exec.WorkflowID)
	if err != nil {
		return nil, err
	}
	return toExecutionResponse(exec, wf), nil
}

// CancelExecution cancels a non-terminal execution.
func (s *ExecutionService) CancelExecution(ctx context.Context, execID uuid.UUID) (*model.ExecutionResponseDTO, error) {
	exec, err := s.engine.Cancel(ctx, execID)
	if err != nil {
		return nil, err
	}
	wf, err := s.workflows.GetByID(ctx, exec.WorkflowID)
	if err != nil {
		return nil, err
	}
	return toExecutionResponse(exec, wf), nil
}

// ListExecutions retrieves executions, optionally filtered by workflow slug
// and status, newest first.
func (s *ExecutionService) ListExecutions(ctx context.Context, workflowSlug *string, status *string, offset, limit *int) (*model.ExecutionListResult, error) {
	finalOffset, finalLimit := utils.GetPaginationParams(offset, limit)
	filter := recorder.ListFilter{Offset: finalOffset, Limit: finalLimit}

	var workflowsByID map[uuid.UUID]*model.Workflow
	if workflowSlug != nil && *workflowSlug != "" {
		wf, err := s.workflows.GetBySlug(ctx, *workflowSlug)
		if err != nil {
			return nil, err
		}
		filter.WorkflowID = &wf.ID
		workflowsByID = map[uuid.UUID]*model.Workflow{wf.ID: wf}
	}
	if status != nil && *status != "" {
		st := model.ExecutionStatus(*status)
		switch st {
		case model.ExecutionStatusPending, model.ExecutionStatusRunning, model.ExecutionStatusAwaitingApproval,
			model.ExecutionStatusCompleted, model.ExecutionStatusFailed, model.ExecutionStatusCancelled:
		default:
			return nil, &ValidationError{Detail: fmt.Sprintf("unknown status %q", *status)}
		}
		filter.Status = &st
	}

	executions, total, err := s.recorder.ListExecutions(ctx, filter)
	if err != nil {
		return nil, err
	}

	if workflowsByID == nil {
		workflowsByID = make(map[uuid.UUID]*model.Workflow)
	}
	items := make([]model.ExecutionResponseDTO, 0, len(executions))
	for i := range executions {
		wf, ok := workflowsByID[executions[i].WorkflowID]
		if !ok {
			wf, err = s.workflows.GetByID(ctx, executions[i].WorkflowID)
			if err != nil && !errors.Is(err, ErrWorkflowNotFound) {
				return nil, err
			}
			workflowsByID[executions[i].WorkflowID] = wf
		}
		items = append(items, *toExecutionResponse(&executions[i], wf))
	}

	return &model.ExecutionListResult{
		TotalCount: total,
		Executions: items,
		Offset:     finalOffset,
		Limit:      finalLimit,
	}, nil
}

// validateInputs checks operator inputs against the declared schema, applies
// defaults, and rejects unknown or ill-typed values.
func validateInputs(schema []catalogmodel.InputSpec, inputs map[string]any) (map[string]any, error) {
	result := make(map[string]any, len(inputs))
	for k, v := range inputs {
		result[k] = v
	}

	if len(schema) == 0 {
		return result, nil
	}

	known := make(map[string]catalogmodel.InputSpec, len(schema))
	for _, spec := range schema {
		known[spec.Name] = spec
		if _, ok := result[spec.Name]; !ok {
			if spec.Default != nil {
				result[spec.Name] = spec.Default
			} else if spec.Required {
				return nil, &ValidationError{Detail: fmt.Sprintf("input %q is required", spec.Name)}
			}
		}
	}

	for name, value := range result {
		spec, ok := known[name]
		if !ok {
			return nil, &ValidationError{Detail: fmt.Sprintf("unknown input %q", name)}
		}
		if err := checkInputType(spec, value); err != nil {
			return nil, err
		}
	}
	return result, nil
}

func checkInputType(spec catalogmodel.InputSpec, value any) error {
	if spec.Type == "" || value == nil {
		return nil
	}
	ok := true
	switch spec.Type {
	case "string":
		_, ok = value.(string)
	case "boolean":
		_, ok = value.(bool)
	case "integer", "number":
		switch value.(type) {
		case int, int32, int64, float32, float64:
		default:
			ok = false
		}
	case "object":
		_, ok = value.(map[string]any)
	case "array":
		_, ok = value.([]any)
	}
	if !ok {
		return &ValidationError{Detail: fmt.Sprintf("input %q must be of type %s", spec.Name, spec.Type)}
	}
	return nil
}

func formatTime(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := t.Format(time.RFC3339)
	return &s
}

func toExecutionResponse(exec *model.Execution, wf *model.Workflow) *model.ExecutionResponseDTO {
	resp := &model.ExecutionResponseDTO{
		ID:           exec.ID,
		WorkflowID:   exec.WorkflowID,
		Status:       exec.Status,
		TargetDevice: exec.TargetDevice,
		Inputs:       exec.Inputs,
		Context:      exec.Context,
		ErrorMessage: exec.ErrorMessage,
		ApprovedBy:   exec.ApprovedBy,
		RequestedBy:  exec.RequestedBy,
		CreatedAt:    exec.CreatedAt.Format(time.RFC3339),
		StartedAt:    formatTime(exec.StartedAt),
		FinishedAt:   formatTime(exec.FinishedAt),
	}
	if wf != nil {
		resp.WorkflowName = wf.Name
	}
	resp.Steps = make([]model.ExecutionStepResponseDTO, 0, len(exec.Steps))
	for _, step := range exec.Steps {
		resp.Steps = append(resp.Steps, model.ExecutionStepResponseDTO{
			ID:           step.ID,
			Order:        step.Order,
			Name:         step.Name,
			Type:         step.Type,
			Status:       step.Status,
			Outputs:      step.Outputs,
			Artifact:     step.Artifact,
			ErrorMessage: step.ErrorMessage,
			WaitDeadline: formatTime(step.WaitDeadline),
			StartedAt:    formatTime(step.StartedAt),
			FinishedAt:   formatTime(step.FinishedAt),
		})
	}
	return resp
}
