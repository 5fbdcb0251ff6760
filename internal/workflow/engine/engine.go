// Package engine drives workflow executions step by step. The engine is
// deliberately synchronous: a call to Start or Resume advances the execution
// as far as it can go and returns when the run finishes or suspends at an
// approval or wait step. All state lives in the recorder, so a resumed run
// replays the step list and skips everything already finalized.
package engine

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/openprovision/provd/internal/catalog"
	"github.com/openprovision/provd/internal/intent"
	"github.com/openprovision/provd/internal/render"
	"github.com/openprovision/provd/internal/workflow/model"
	"github.com/openprovision/provd/internal/workflow/recorder"
)

var (
	// ErrExecutionFinished is returned when an operation targets an execution
	// that has already reached a terminal status.
	ErrExecutionFinished = errors.New("execution already finished")

	// ErrNotSuspended is returned when a resume is requested for an execution
	// that is not waiting on an approval or wait step.
	ErrNotSuspended = errors.New("execution is not suspended")

	// ErrBadDecision is returned when a resume decision is neither approve nor reject.
	ErrBadDecision = errors.New("decision must be approve or reject")

	// ErrTokenMismatch is returned when a wait step callback token does not match.
	ErrTokenMismatch = errors.New("callback token does not match")

	// ErrWaitNotElapsed is returned when a wait step deadline has not passed yet.
	ErrWaitNotElapsed = errors.New("wait deadline has not elapsed")
)

// StepFailure wraps the error a step produced together with the step identity.
type StepFailure struct {
	StepName string
	Order    int
	Err      error
}

func (f *StepFailure) Error() string {
	return fmt.Sprintf("step %d (%s) failed: %v", f.Order, f.StepName, f.Err)
}

func (f *StepFailure) Unwrap() error {
	return f.Err
}

// Notifier delivers workflow notifications to external systems.
type Notifier interface {
	Notify(ctx context.Context, url string, payload map[string]any) error
}

// Engine runs workflow executions against the catalog and the recorder.
type Engine struct {
	recorder  recorder.Store
	catalog   catalog.Store
	renderer  *render.Renderer
	evaluator Evaluator
	notifier  Notifier
	now       func() time.Time
}

// Option configures an Engine.
type Option func(*Engine)

// WithNotifier sets the notifier used by notification steps.
func WithNotifier(n Notifier) Option {
	return func(e *Engine) { e.notifier = n }
}

// WithClock overrides the engine clock, used by wait step tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) { e.now = now }
}

// New creates an Engine.
func New(rec recorder.Store, cat catalog.Store, renderer *render.Renderer, evaluator Evaluator, opts ...Option) *Engine {
	e := &Engine{
		recorder:  rec,
		catalog:   cat,
		renderer:  renderer,
		evaluator: evaluator,
		now:       func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Start creates an execution for the workflow and advances it until it
// finishes or suspends. The initial context layers the workflow defaults
// under the operator inputs on top of the device facts.
func (e *Engine) Start(ctx context.Context, wf *model.Workflow, device catalog.DeviceDescriptor, inputs map[string]any, requestedBy string) (*model.Execution, error) {
	renderCtx, err := intent.Build(device, inputs, wf.DefaultInputs)
	if err != nil {
		return nil, err
	}

	exec := &model.Execution{
		WorkflowID:   wf.ID,
		Status:       model.ExecutionStatusPending,
		TargetDevice: device,
		Inputs:       inputs,
		Context:      renderCtx.AsMap(),
		RequestedBy:  requestedBy,
	}
	if err := e.recorder.CreateExecution(ctx, exec); err != nil {
		return nil, err
	}

	startedAt := e.now()
	exec.Status = model.ExecutionStatusRunning
	exec.StartedAt = &startedAt
	if err := e.recorder.UpdateExecution(ctx, exec); err != nil {
		return nil, err
	}

	if err := e.advance(ctx, exec, wf); err != nil {
		return nil, err
	}
	return e.recorder.GetExecution(ctx, exec.ID)
}

// Resume continues a suspended execution. For an approval suspension the
// decision resolves the pending approval step; for a wait suspension the
// callback token or elapsed deadline releases the wait step. Resuming is
// idempotent: steps already finalized are never re-run.
func (e *Engine) Resume(ctx context.Context, wf *model.Workflow, execID uuid.UUID, dto model.ResumeExecutionDTO) (*model.Execution, error) {
	exec, err := e.recorder.GetExecution(ctx, execID)
	if err != nil {
		return nil, err
	}
	if exec.Status.Terminal() {
		return nil, fmt.Errorf("%w: id=%s status=%s", ErrExecutionFinished, execID, exec.Status)
	}

	suspended := pendingStep(exec)
	if suspended == nil {
		return nil, fmt.Errorf("%w: id=%s", ErrNotSuspended, execID)
	}

	switch suspended.Type {
	case model.StepTypeApproval:
		if err := e.resolveApproval(ctx, exec, suspended, dto); err != nil {
			return nil, err
		}
	case model.StepTypeWait:
		if err := e.releaseWait(ctx, exec, suspended, dto); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("%w: id=%s", ErrNotSuspended, execID)
	}

	if exec.Status.Terminal() {
		return e.recorder.GetExecution(ctx, execID)
	}
	if err := e.advance(ctx, exec, wf); err != nil {
		return nil, err
	}
	return e.recorder.GetExecution(ctx, execID)
}

// Cancel moves a non-terminal execution to cancelled and marks every step
// that has not finished as skipped. Already-applied steps are not undone.
func (e *Engine) Cancel(ctx context.Context, execID uuid.UUID) (*model.Execution, error) {
	exec, err := e.recorder.GetExecution(ctx, execID)
	if err != nil {
		return nil, err
	}
	if exec.Status.Terminal() {
		return nil, fmt.Errorf("%w: id=%s status=%s", ErrExecutionFinished, execID, exec.Status)
	}

	for i := range exec.Steps {
		step := &exec.Steps[i]
		if step.Status.Terminal() {
			continue
		}
		step.Status = model.StepStatusSkipped
		finishedAt := e.now()
		step.FinishedAt = &finishedAt
		if err := e.recorder.UpdateStep(ctx, step); err != nil {
			return nil, err
		}
	}

	exec.Status = model.ExecutionStatusCancelled
	finishedAt := e.now()
	exec.FinishedAt = &finishedAt
	if err := e.recorder.UpdateExecution(ctx, exec); err != nil {
		return nil, err
	}
	return e.recorder.GetExecution(ctx, execID)
}

// pendingStep returns the first step that is not finalized, or nil.
func pendingStep(exec *model.Execution) *model.ExecutionStep {
	for i := range exec.Steps {
		if !exec.Steps[i].Status.Terminal() {
			return &exec.Steps[i]
		}
	}
	return nil
}

// advance walks the workflow step list in order, skipping steps already
// finalized, and stops when the run finishes, fails, or suspends.
func (e *Engine) advance(ctx context.Context, exec *model.Execution, wf *model.Workflow) error {
	recorded := make(map[int]*model.ExecutionStep)
	current, err := e.recorder.GetExecution(ctx, exec.ID)
	if err != nil {
		return err
	}
	for i := range current.Steps {
		recorded[current.Steps[i].Order] = &current.Steps[i]
	}

	for _, def := range wf.Steps {
		if step, ok := recorded[def.Order]; ok && step.Status.Terminal() {
			continue
		}

		step := recorded[def.Order]
		if step == nil {
			step = &model.ExecutionStep{
				ExecutionID: exec.ID,
				Order:       def.Order,
				Name:        def.Name,
				Type:        def.Type,
				Status:      model.StepStatusPending,
			}
			if err := e.recorder.AppendStep(ctx, step); err != nil {
				return err
			}
			recorded[def.Order] = step
		}

		// per-step guard condition
		if def.Condition != "" && def.Type != model.StepTypeCondition {
			matched, err := e.evaluator.EvaluateBool(def.Condition, exec.Context)
			if err != nil {
				if halted, ferr := e.handleFailure(ctx, exec, wf, &def, step, err, recorded); halted || ferr != nil {
					return ferr
				}
				continue
			}
			if !matched {
				if err := e.finalizeStep(ctx, step, model.StepStatusSkipped, nil); err != nil {
					return err
				}
				continue
			}
		}

		startedAt := e.now()
		step.Status = model.StepStatusRunning
		step.StartedAt = &startedAt
		if err := e.recorder.UpdateStep(ctx, step); err != nil {
			return err
		}

		suspend, stepErr := e.runStep(ctx, exec, &def, step)
		if suspend {
			return nil
		}
		if stepErr != nil {
			if halted, ferr := e.handleFailure(ctx, exec, wf, &def, step, stepErr, recorded); halted || ferr != nil {
				return ferr
			}
			continue
		}

		if err := e.finalizeStep(ctx, step, model.StepStatusCompleted, nil); err != nil {
			return err
		}
		if err := e.applyOutputs(ctx, exec, &def, step); err != nil {
			return err
		}

		// condition steps skip a range of later steps when unmatched
		if def.Type == model.StepTypeCondition {
			if err := e.applyConditionSkip(ctx, exec, wf, &def, step, recorded); err != nil {
				return err
			}
		}
	}

	exec.Status = model.ExecutionStatusCompleted
	finishedAt := e.now()
	exec.FinishedAt = &finishedAt
	return e.recorder.UpdateExecution(ctx, exec)
}

// runStep dispatches on the step type. It returns suspend=true when the
// execution must stop and wait for external input.
func (e *Engine) runStep(ctx context.Context, exec *model.Execution, def *model.WorkflowStep, step *model.ExecutionStep) (suspend bool, err error) {
	switch def.Type {
	case model.StepTypeTask:
		return false, e.runTaskStep(ctx, exec, def, step)
	case model.StepTypeValidation:
		return false, e.runValidationStep(exec, def, step)
	case model.StepTypeApproval:
		return true, e.suspendForApproval(ctx, exec, step)
	case model.StepTypeNotification:
		return false, e.runNotificationStep(ctx, exec, def, step)
	case model.StepTypeCondition:
		return false, e.runConditionStep(exec, def, step)
	case model.StepTypeWait:
		return e.runWaitStep(ctx, exec, def, step)
	default:
		return false, fmt.Errorf("unknown step type %q", def.Type)
	}
}

// runTaskStep resolves the task implementation for the target device,
// evaluates the input mapping, and renders the artifact.
func (e *Engine) runTaskStep(ctx context.Context, exec *model.Execution, def *model.WorkflowStep, step *model.ExecutionStep) error {
	if def.TaskID == nil {
		return errors.New("task step has no task reference")
	}

	candidates, err := e.catalog.ListImplementations(ctx, *def.TaskID)
	if err != nil {
		return err
	}
	impl, err := catalog.Select(*def.TaskID, exec.TargetDevice, candidates)
	if err != nil {
		return err
	}

	stepInputs, err := e.mapInputs(def.InputMapping, exec.Context)
	if err != nil {
		return err
	}
	step.Inputs = stepInputs

	renderContext := exec.Context
	if len(stepInputs) > 0 {
		merged := make(map[string]any, len(renderContext)+len(stepInputs))
		for k, v := range renderContext {
			merged[k] = v
		}
		for k, v := range stepInputs {
			merged[k] = v
		}
		renderContext = merged
	}

	artifact, err := e.renderer.Render(impl.TemplateBody, renderContext)
	if err != nil {
		return err
	}

	step.Artifact = &artifact.Content
	step.Outputs = map[string]any{
		"artifact":          artifact.Content,
		"implementation_id": impl.ID.String(),
		"implementation":    impl.Name,
		"platform_specific": impl.PlatformSpecific(),
	}
	return nil
}

// runValidationStep asserts an expression over the execution context.
func (e *Engine) runValidationStep(exec *model.Execution, def *model.WorkflowStep, step *model.ExecutionStep) error {
	var cfg model.ValidationConfig
	if err := unmarshalConfig(def.Config, &cfg); err != nil {
		return err
	}
	expression := cfg.Expression
	if expression == "" {
		expression = def.Condition
	}
	if expression == "" {
		return errors.New("validation step has no expression")
	}

	ok, err := e.evaluator.EvaluateBool(expression, exec.Context)
	if err != nil {
		return err
	}
	if !ok {
		msg := cfg.Message
		if msg == "" {
			msg = fmt.Sprintf("validation %q failed", expression)
		}
		return errors.New(msg)
	}
	step.Outputs = map[string]any{"validated": true}
	return nil
}

// suspendForApproval parks the execution at the approval step.
func (e *Engine) suspendForApproval(ctx context.Context, exec *model.Execution, step *model.ExecutionStep) error {
	if err := e.recorder.UpdateStep(ctx, step); err != nil {
		return err
	}
	exec.Status = model.ExecutionStatusAwaitingApproval
	return e.recorder.UpdateExecution(ctx, exec)
}

// resolveApproval applies an approve or reject decision to a suspended run.
func (e *Engine) resolveApproval(ctx context.Context, exec *model.Execution, step *model.ExecutionStep, dto model.ResumeExecutionDTO) error {
	switch dto.Decision {
	case "approve":
		outputs := map[string]any{"approved": true}
		if dto.ApprovedBy != nil {
			outputs["approved_by"] = *dto.ApprovedBy
			exec.ApprovedBy = dto.ApprovedBy
		}
		if dto.Comment != nil {
			outputs["comment"] = *dto.Comment
		}
		step.Outputs = outputs
		if err := e.finalizeStep(ctx, step, model.StepStatusCompleted, nil); err != nil {
			return err
		}
		exec.Status = model.ExecutionStatusRunning
		return e.recorder.UpdateExecution(ctx, exec)
	case "reject":
		msg := "approval rejected"
		if dto.Comment != nil {
			msg = fmt.Sprintf("approval rejected: %s", *dto.Comment)
		}
		if err := e.finalizeStep(ctx, step, model.StepStatusFailed, &msg); err != nil {
			return err
		}
		exec.Status = model.ExecutionStatusCancelled
		exec.ErrorMessage = &msg
		finishedAt := e.now()
		exec.FinishedAt = &finishedAt
		return e.recorder.UpdateExecution(ctx, exec)
	default:
		return fmt.Errorf("%w: got %q", ErrBadDecision, dto.Decision)
	}
}

// runNotificationStep posts a webhook and never fails the run. Delivery
// problems are recorded in the step outputs and logged.
func (e *Engine) runNotificationStep(ctx context.Context, exec *model.Execution, def *model.WorkflowStep, step *model.ExecutionStep) error {
	var cfg model.NotificationConfig
	if err := unmarshalConfig(def.Config, &cfg); err != nil {
		return err
	}
	if cfg.WebhookURL == "" || e.notifier == nil {
		step.Outputs = map[string]any{"delivered": false, "reason": "no webhook configured"}
		return nil
	}

	payload := map[string]any{
		"execution_id": exec.ID.String(),
		"workflow_id":  exec.WorkflowID.String(),
		"step":         def.Name,
		"status":       string(exec.Status),
	}
	if cfg.Message != "" {
		payload["message"] = cfg.Message
	}

	if err := e.notifier.Notify(ctx, cfg.WebhookURL, payload); err != nil {
		slog.Warn("notification delivery failed", "execution_id", exec.ID, "step", def.Name, "error", err)
		step.Outputs = map[string]any{"delivered": false, "reason": err.Error()}
		return nil
	}
	step.Outputs = map[string]any{"delivered": true}
	return nil
}

// runConditionStep evaluates the branch expression and records the outcome.
// The actual skipping happens in applyConditionSkip after finalization.
func (e *Engine) runConditionStep(exec *model.Execution, def *model.WorkflowStep, step *model.ExecutionStep) error {
	if def.Condition == "" {
		return errors.New("condition step has no expression")
	}
	matched, err := e.evaluator.EvaluateBool(def.Condition, exec.Context)
	if err != nil {
		return err
	}
	step.Outputs = map[string]any{"matched": matched}
	return nil
}

// applyConditionSkip marks the configured range of later steps skipped when
// the condition step did not match.
func (e *Engine) applyConditionSkip(ctx context.Context, exec *model.Execution, wf *model.Workflow, def *model.WorkflowStep, step *model.ExecutionStep, recorded map[int]*model.ExecutionStep) error {
	matched, _ := step.Outputs["matched"].(bool)
	if matched {
		return nil
	}

	var cfg model.ConditionConfig
	if err := unmarshalConfig(def.Config, &cfg); err != nil {
		return err
	}
	through := cfg.SkipThroughOrder
	if through <= def.Order {
		return nil
	}

	for _, later := range wf.Steps {
		if later.Order <= def.Order || later.Order > through {
			continue
		}
		skipped := recorded[later.Order]
		if skipped == nil {
			skipped = &model.ExecutionStep{
				ExecutionID: exec.ID,
				Order:       later.Order,
				Name:        later.Name,
				Type:        later.Type,
				Status:      model.StepStatusPending,
			}
			if err := e.recorder.AppendStep(ctx, skipped); err != nil {
				return err
			}
			recorded[later.Order] = skipped
		}
		if skipped.Status.Terminal() {
			continue
		}
		if err := e.finalizeStep(ctx, skipped, model.StepStatusSkipped, nil); err != nil {
			return err
		}
	}
	return nil
}

// runWaitStep suspends the run until a deadline passes or a callback token
// is presented. A deadline already in the past completes immediately.
func (e *Engine) runWaitStep(ctx context.Context, exec *model.Execution, def *model.WorkflowStep, step *model.ExecutionStep) (suspend bool, err error) {
	var cfg model.WaitConfig
	if err := unmarshalConfig(def.Config, &cfg); err != nil {
		return false, err
	}

	if cfg.CallbackToken != "" {
		step.CallbackToken = &cfg.CallbackToken
		if err := e.recorder.UpdateStep(ctx, step); err != nil {
			return false, err
		}
		return true, nil
	}

	var deadline time.Time
	switch {
	case cfg.Until != nil:
		deadline = *cfg.Until
	case cfg.DurationSeconds > 0:
		deadline = e.now().Add(time.Duration(cfg.DurationSeconds) * time.Second)
	default:
		return false, errors.New("wait step has no duration, deadline, or callback token")
	}

	if !e.now().Before(deadline) {
		step.Outputs = map[string]any{"waited_until": deadline.Format(time.RFC3339)}
		return false, nil
	}

	step.WaitDeadline = &deadline
	if err := e.recorder.UpdateStep(ctx, step); err != nil {
		return false, err
	}
	return true, nil
}

// releaseWait completes a suspended wait step on token match or elapsed deadline.
func (e *Engine) releaseWait(ctx context.Context, exec *model.Execution, step *model.ExecutionStep, dto model.ResumeExecutionDTO) error {
	if step.CallbackToken != nil {
		if dto.CallbackToken == nil || *dto.CallbackToken != *step.CallbackToken {
			return ErrTokenMismatch
		}
		step.Outputs = map[string]any{"released_by": "callback"}
		return e.finalizeStep(ctx, step, model.StepStatusCompleted, nil)
	}
	if step.WaitDeadline != nil {
		if e.now().Before(*step.WaitDeadline) {
			return fmt.Errorf("%w: deadline=%s", ErrWaitNotElapsed, step.WaitDeadline.Format(time.RFC3339))
		}
		step.Outputs = map[string]any{"released_by": "deadline"}
		return e.finalizeStep(ctx, step, model.StepStatusCompleted, nil)
	}
	return ErrNotSuspended
}

// handleFailure applies the step's failure policy. halted reports whether the
// run stopped; err carries recorder failures only.
func (e *Engine) handleFailure(ctx context.Context, exec *model.Execution, wf *model.Workflow, def *model.WorkflowStep, step *model.ExecutionStep, stepErr error, recorded map[int]*model.ExecutionStep) (halted bool, err error) {
	failure := &StepFailure{StepName: def.Name, Order: def.Order, Err: stepErr}
	msg := failure.Error()
	if err := e.finalizeStep(ctx, step, model.StepStatusFailed, &msg); err != nil {
		return true, err
	}

	policy := def.OnFailure
	if policy == "" {
		policy = model.FailureStop
	}

	switch policy {
	case model.FailureContinue:
		slog.Warn("step failed, continuing", "execution_id", exec.ID, "step", def.Name, "error", stepErr)
		return false, nil
	case model.FailureSkipRemaining:
		for _, later := range wf.Steps {
			if later.Order <= def.Order {
				continue
			}
			skipped := recorded[later.Order]
			if skipped == nil {
				skipped = &model.ExecutionStep{
					ExecutionID: exec.ID,
					Order:       later.Order,
					Name:        later.Name,
					Type:        later.Type,
					Status:      model.StepStatusPending,
				}
				if err := e.recorder.AppendStep(ctx, skipped); err != nil {
					return true, err
				}
				recorded[later.Order] = skipped
			}
			if skipped.Status.Terminal() {
				continue
			}
			if err := e.finalizeStep(ctx, skipped, model.StepStatusSkipped, nil); err != nil {
				return true, err
			}
		}
		fallthrough
	default: // stop
		exec.Status = model.ExecutionStatusFailed
		exec.ErrorMessage = &msg
		finishedAt := e.now()
		exec.FinishedAt = &finishedAt
		return true, e.recorder.UpdateExecution(ctx, exec)
	}
}

// applyOutputs merges a completed step's outputs into the execution context
// according to the output mapping, then persists the context.
func (e *Engine) applyOutputs(ctx context.Context, exec *model.Execution, def *model.WorkflowStep, step *model.ExecutionStep) error {
	if len(def.OutputMapping) == 0 || len(step.Outputs) == 0 {
		return nil
	}
	for outputKey, contextKey := range def.OutputMapping {
		value, ok := step.Outputs[outputKey]
		if !ok {
			continue
		}
		if exec.Context == nil {
			exec.Context = make(map[string]any)
		}
		exec.Context[contextKey] = value
	}
	return e.recorder.UpdateExecution(ctx, exec)
}

// mapInputs evaluates each input mapping expression against the context.
func (e *Engine) mapInputs(mapping map[string]string, context map[string]any) (map[string]any, error) {
	if len(mapping) == 0 {
		return nil, nil
	}
	inputs := make(map[string]any, len(mapping))
	for name, expression := range mapping {
		value, err := e.evaluator.EvaluateValue(expression, context)
		if err != nil {
			return nil, fmt.Errorf("input %q: %w", name, err)
		}
		inputs[name] = value
	}
	return inputs, nil
}

// finalizeStep writes a terminal status and timestamps in one update.
func (e *Engine) finalizeStep(ctx context.Context, step *model.ExecutionStep, status model.StepStatus, errMsg *string) error {
	step.Status = status
	step.ErrorMessage = errMsg
	finishedAt := e.now()
	step.FinishedAt = &finishedAt
	if step.StartedAt == nil && status != model.StepStatusSkipped {
		step.StartedAt = &finishedAt
	}
	return e.recorder.UpdateStep(ctx, step)
}

func unmarshalConfig(raw json.RawMessage, out any) error {
	if len(raw) == 0 {
		return nil
	}
	return json.Unmarshal(raw, out)
}
