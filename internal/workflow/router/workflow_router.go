package router

import (
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/openprovision/provd/internal/workflow/model"
	"github.com/openprovision/provd/internal/workflow/service"
)

// WorkflowRouter exposes workflow definition management over HTTP.
type WorkflowRouter struct {
	ws *service.WorkflowService
}

// NewWorkflowRouter creates a WorkflowRouter.
func NewWorkflowRouter(ws *service.WorkflowService) *WorkflowRouter {
	return &WorkflowRouter{ws: ws}
}

// Register attaches all routes to the mux.
func (wr *WorkflowRouter) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /api/v1/workflows", wr.HandleUpsertWorkflow)
	mux.HandleFunc("GET /api/v1/workflows", wr.HandleListWorkflows)
	mux.HandleFunc("GET /api/v1/workflows/{workflowSlug}", wr.HandleGetWorkflow)
}

// HandleUpsertWorkflow handles POST /api/v1/workflows requests.
func (wr *WorkflowRouter) HandleUpsertWorkflow(w http.ResponseWriter, r *http.Request) {
	var dto model.UpsertWorkflowDTO
	if err := json.NewDecoder(r.Body).Decode(&dto); err != nil {
		http.Error(w, fmt.Sprintf("invalid request body: %v", err), http.StatusBadRequest)
		return
	}

	wf, err := wr.ws.UpsertWorkflow(r.Context(), &dto)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to save workflow: %v", err), statusForError(err))
		return
	}
	writeJSON(w, http.StatusCreated, wf)
}

// HandleListWorkflows handles GET /api/v1/workflows requests.
func (wr *WorkflowRouter) HandleListWorkflows(w http.ResponseWriter, r *http.Request) {
	workflows, err := wr.ws.ListWorkflows(r.Context())
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to list workflows: %v", err), http.StatusInternalServerError)
		return
	}
	writeJSON(w, http.StatusOK, workflows)
}

// HandleGetWorkflow handles GET /api/v1/workflows/{workflowSlug} requests.
func (wr *WorkflowRouter) HandleGetWorkflow(w http.ResponseWriter, r *http.Request) {
	slug := r.PathValue("workflowSlug")

	wf, err := wr.ws.GetWorkflow(r.Context(), slug)
	if err != nil {
		http.Error(w, fmt.Sprintf("failed to get workflow: %v", err), statusForError(err))
		return
	}
	writeJSON(w, http.StatusOK, wf)
}
