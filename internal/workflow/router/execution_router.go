package router

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"

	"github.com/google/uuid"

	"github.com/openprovision/provd/internal/catalog"
	"github.com/openprovision/provd/internal/render"
	"github.com/openprovision/provd/internal/workflow/engine"
	"github.com/openprovision/provd/internal/workflow/model"
	"github.com/openprovision/provd/internal/workflow/recorder"
	"github.com/openprovision/provd/internal/workflow/service"
)

// ExecutionRouter exposes task rendering and the execution lifecycle over HTTP.
type ExecutionRouter struct {
	es      *service.ExecutionService
	catalog catalog.Store
}

// NewExecutionRouter creates an ExecutionRouter.
func NewExecutionRouter(es *service.ExecutionService, cat catalog.Store) *ExecutionRouter {
	return &ExecutionRouter{es: es, catalog: cat}
}

// Register attaches all routes to the mux.
func (er *ExecutionRouter) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/render", er.HandleRenderTask)
	mux.HandleFunc("GET /api/v1/tasks", er.HandleListTasks)
	mux.HandleFunc("POST /api/v1/executions", er.HandleStartExecution)
	mux.HandleFunc("GET /api/v1/executions", er.HandleListExecutions)
	mux.HandleFunc("GET /api/v1/executions/{executionID}", er.HandleGetExecution)
	mux.HandleFunc("POST /api/v1/executions/{executionID}/resume", er.HandleResumeExecution)
	mux.HandleFunc("POST /api/v1/executions/{executionID}/cancel", er.HandleCancelExecution)
}

// HandleRenderTask handles POST /api/v1/render requests.
func (er *ExecutionRouter) HandleRenderTask(w http.ResponseWriter, r *http.Request) {
	var dto model.RenderTaskDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	resp, err := er.es.RenderTask(r.Context(), &dto)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to render task: %v", err), statusForError(err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleListTasks handles GET /api/v1/tasks requests.
func (er *ExecutionRouter) HandleListTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := er.catalog.ListTasks(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to list tasks: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

// HandleStartExecution handles POST /api/v1/executions requests.
func (er *ExecutionRouter) HandleStartExecution(w http.ResponseWriter, r *http.Request) {
	var dto model.StartExecutionDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	resp, err := er.es.StartExecution(r.Context(), &dto)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to start execution: %v", err), statusForError(err))
		return
	}
	writeJSON(w, http.StatusCreated, resp)
}

// HandleListExecutions handles GET /api/v1/executions requests.
// Optional query filters: workflow, status, offset, limit.
func (er *ExecutionRouter) HandleListExecutions(w http.ResponseWriter, r *http.Request) {
	var workflowSlug, status *string
	if v := r.URL.Query().Get("workflow"); v != "" {
		workflowSlug = &v
	}
	if v := r.URL.Query().Get("status"); v != "" {
		status = &v
	}

	var offset, limit *int
	if offsetStr := r.URL.Query().Get("offset"); offsetStr != "" {
		v, err := strconv.Atoi(offsetStr)
		if err != nil {
			http.Error(w, "invalid 'offset' query parameter, must be an integer", http.StatusBadRequest)
			return
		}
		offset = &v
	}
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		v, err := strconv.Atoi(limitStr)
		if err != nil {
			http.Error(w, "invalid 'limit' query parameter, must be an integer", http.StatusBadRequest)
			return
		}
		limit = &v
	}

	result, err := er.es.ListExecutions(r.Context(), workflowSlug, status, offset, limit)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to list executions: %v", err), statusForError(err))
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// HandleGetExecution handles GET /api/v1/executions/{executionID} requests.
func (er *ExecutionRouter) HandleGetExecution(w http.ResponseWriter, r *http.Request) {
	execID, ok := parseExecutionID(w, r)
	if !ok {
		return
	}

	resp, err := er.es.GetExecution(r.Context(), execID)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to get execution: %v", err), statusForError(err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleResumeExecution handles POST /api/v1/executions/{executionID}/resume requests.
func (er *ExecutionRouter) HandleResumeExecution(w http.ResponseWriter, r *http.Request) {
	execID, ok := parseExecutionID(w, r)
	if !ok {
		return
	}

	var dto model.ResumeExecutionDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	resp, err := er.es.ResumeExecution(r.Context(), execID, &dto)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to resume execution: %v", err), statusForError(err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

// HandleCancelExecution handles POST /api/v1/executions/{executionID}/cancel requests.
func (er *ExecutionRouter) HandleCancelExecution(w http.ResponseWriter, r *http.Request) {
	execID, ok := parseExecutionID(w, r)
	if !ok {
		return
	}

	resp, err := er.es.CancelExecution(r.Context(), execID)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to cancel execution: %v", err), statusForError(err))
		return
	}
	writeJSON(w, http.StatusOK, resp)
}

func parseExecutionID(w http.ResponseWriter, r *http.Request) (uuid.UUID, bool) {
	idStr := r.PathValue("executionID")
	execID, err := uuid.Parse(idStr)
	if err != nil {
		http.Error(w, fmt.Sprintf("invalid execution ID %q", idStr), http.StatusBadRequest)
		return uuid.Nil, false
	}
	return execID, true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		http.Error(w, fmt.Sprintf("failed to encode response: %v", err), http.StatusInternalServerError)
	}
}

// statusForError maps domain errors to HTTP status codes.
func statusForError(err error) int {
	var validationErr *service.ValidationError
	var syntaxErr *render.SyntaxError
	var undefinedErr *render.UndefinedReferenceError
	var runtimeErr *render.RuntimeError
	var ambiguousErr *catalog.AmbiguousMatchError

	switch {
	case errors.As(err, &validationErr), errors.Is(err, engine.ErrBadDecision):
		return http.StatusBadRequest
	case errors.Is(err, catalog.ErrTaskNotFound),
		errors.Is(err, service.ErrWorkflowNotFound),
		errors.Is(err, recorder.ErrExecutionNotFound):
		return http.StatusNotFound
	case errors.Is(err, engine.ErrTokenMismatch):
		return http.StatusForbidden
	case errors.Is(err, engine.ErrExecutionFinished),
		errors.Is(err, engine.ErrNotSuspended),
		errors.Is(err, engine.ErrWaitNotElapsed),
		errors.Is(err, recorder.ErrInvalidTransition):
		return http.StatusConflict
	case errors.Is(err, catalog.ErrNoMatch),
		errors.As(err, &ambiguousErr),
		errors.As(err, &syntaxErr),
		errors.As(err, &undefinedErr),
		errors.As(err, &runtimeErr):
		return http.StatusUnprocessableEntity
	default:
		return http.StatusInternalServerError
	}
}
