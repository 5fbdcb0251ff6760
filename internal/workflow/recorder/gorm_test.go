package recorder

import (
	"context"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/openprovision/provd/internal/catalog"
	"github.com/openprovision/provd/internal/workflow/model"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.Execution{}, &model.ExecutionStep{}))
	return db
}

func TestGormStoreExecutionRoundTrip(t *testing.T) {
	store := NewGormStore(newTestDB(t))
	ctx := context.Background()

	wfID, err := uuid.NewRandom()
	require.NoError(t, err)
	exec := &model.Execution{
		WorkflowID: wfID,
		Status:     model.ExecutionStatusPending,
		TargetDevice: catalog.DeviceDescriptor{
			Manufacturer:    "cisco",
			Platform:        "ios-xe",
			SoftwareVersion: "17.3.5",
		},
		Inputs: map[string]any{"vlan": float64(100)},
	}
	require.NoError(t, store.CreateExecution(ctx, exec))
	require.NotEqual(t, uuid.Nil, exec.ID)

	got, err := store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	assert.Equal(t, model.ExecutionStatusPending, got.Status)
	assert.Equal(t, "cisco", got.TargetDevice.Manufacturer)
	assert.Equal(t, float64(100), got.Inputs["vlan"])
}

func TestGormStoreEnforcesTransitions(t *testing.T) {
	store := NewGormStore(newTestDB(t))
	ctx := context.Background()

	wfID, err := uuid.NewRandom()
	require.NoError(t, err)
	exec := &model.Execution{WorkflowID: wfID, Status: model.ExecutionStatusPending}
	require.NoError(t, store.CreateExecution(ctx, exec))

	exec.Status = model.ExecutionStatusAwaitingApproval
	assert.ErrorIs(t, store.UpdateExecution(ctx, exec), ErrInvalidTransition)

	exec.Status = model.ExecutionStatusRunning
	require.NoError(t, store.UpdateExecution(ctx, exec))
	exec.Status = model.ExecutionStatusAwaitingApproval
	require.NoError(t, store.UpdateExecution(ctx, exec))
	exec.Status = model.ExecutionStatusRunning
	require.NoError(t, store.UpdateExecution(ctx, exec))
	exec.Status = model.ExecutionStatusCompleted
	require.NoError(t, store.UpdateExecution(ctx, exec))

	exec.Status = model.ExecutionStatusRunning
	assert.ErrorIs(t, store.UpdateExecution(ctx, exec), ErrInvalidTransition)
}

func TestGormStoreStepOrderingAndFinalization(t *testing.T) {
	store := NewGormStore(newTestDB(t))
	ctx := context.Background()

	wfID, err := uuid.NewRandom()
	require.NoError(t, err)
	exec := &model.Execution{WorkflowID: wfID, Status: model.ExecutionStatusRunning}
	require.NoError(t, store.CreateExecution(ctx, exec))

	stepB := &model.ExecutionStep{ExecutionID: exec.ID, Order: 2, Name: "verify", Type: model.StepTypeValidation, Status: model.StepStatusPending}
	stepA := &model.ExecutionStep{ExecutionID: exec.ID, Order: 1, Name: "render", Type: model.StepTypeTask, Status: model.StepStatusCompleted}
	require.NoError(t, store.AppendStep(ctx, stepB))
	require.NoError(t, store.AppendStep(ctx, stepA))

	got, err := store.GetExecution(ctx, exec.ID)
	require.NoError(t, err)
	require.Len(t, got.Steps, 2)
	assert.Equal(t, "render", got.Steps[0].Name)
	assert.Equal(t, "verify", got.Steps[1].Name)

	stepA.Status = model.StepStatusFailed
	assert.ErrorIs(t, store.UpdateStep(ctx, stepA), ErrStepFinalized)

	stepB.Status = model.StepStatusCompleted
	require.NoError(t, store.UpdateStep(ctx, stepB))
}

func TestGormStoreListExecutionsPagination(t *testing.T) {
	store := NewGormStore(newTestDB(t))
	ctx := context.Background()

	wfID, err := uuid.NewRandom()
	require.NoError(t, err)
	for i := 0; i < 5; i++ {
		exec := &model.Execution{WorkflowID: wfID, Status: model.ExecutionStatusPending}
		require.NoError(t, store.CreateExecution(ctx, exec))
	}

	executions, total, err := store.ListExecutions(ctx, ListFilter{WorkflowID: &wfID, Offset: 0, Limit: 3})
	require.NoError(t, err)
	assert.EqualValues(t, 5, total)
	assert.Len(t, executions, 3)

	executions, _, err = store.ListExecutions(ctx, ListFilter{WorkflowID: &wfID, Offset: 3, Limit: 3})
	require.NoError(t, err)
	assert.Len(t, executions, 2)
}
