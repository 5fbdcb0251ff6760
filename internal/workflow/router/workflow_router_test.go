package router

import (
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openprovision/provd/internal/catalog"
	"github.com/openprovision/provd/internal/workflow/model"
)

func TestWorkflowUpsertThenExecute(t *testing.T) {
	server, store, _ := newTestServer(t)
	task := seedCatalog(t, store)

	resp := postJSON(t, server.URL+"/api/v1/workflows", model.UpsertWorkflowDTO{
		Name:        "Provision VLAN",
		Slug:        "provision-vlan",
		InputSchema: task.InputSchema,
		Steps: []model.WorkflowStepDTO{
			{Name: "render", Type: model.StepTypeTask, TaskID: &task.ID},
		},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	wf := decodeBody[model.Workflow](t, resp)
	assert.Equal(t, "provision-vlan", wf.Slug)
	require.Len(t, wf.Steps, 1)

	resp = postJSON(t, server.URL+"/api/v1/executions", model.StartExecutionDTO{
		WorkflowSlug: "provision-vlan",
		Device:       catalog.DeviceDescriptor{Manufacturer: "cisco"},
		Inputs:       map[string]any{"vlan": 300},
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)

	exec := decodeBody[model.ExecutionResponseDTO](t, resp)
	assert.Equal(t, model.ExecutionStatusCompleted, exec.Status)
}

func TestWorkflowUpsertRejectsInvalidDefinition(t *testing.T) {
	server, _, _ := newTestServer(t)

	resp := postJSON(t, server.URL+"/api/v1/workflows", model.UpsertWorkflowDTO{
		Name: "No Steps",
		Slug: "no-steps",
	})
	require.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()
}

func TestWorkflowGetAndList(t *testing.T) {
	server, store, repo := newTestServer(t)
	task := seedCatalog(t, store)
	seedWorkflow(t, repo, task)

	resp, err := http.Get(server.URL + "/api/v1/workflows")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	workflows := decodeBody[[]model.Workflow](t, resp)
	require.Len(t, workflows, 1)
	assert.Equal(t, "provision-vlan", workflows[0].Slug)

	resp, err = http.Get(server.URL + "/api/v1/workflows/provision-vlan")
	require.NoError(t, err)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	wf := decodeBody[model.Workflow](t, resp)
	require.Len(t, wf.Steps, 1)
	assert.Equal(t, model.StepTypeTask, wf.Steps[0].Type)

	resp, err = http.Get(server.URL + "/api/v1/workflows/no-such-workflow")
	require.NoError(t, err)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}
