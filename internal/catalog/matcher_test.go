package catalog

import (
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openprovision/provd/internal/catalog/model"
)

func strPtr(s string) *string { return &s }

func newImpl(taskID uuid.UUID, manufacturer string, platform *string, priority int) model.TaskImplementation {
	return model.TaskImplementation{
		BaseModel:    model.BaseModel{ID: uuid.New()},
		TaskID:       taskID,
		Manufacturer: manufacturer,
		Platform:     platform,
		Priority:     priority,
		Kind:         model.KindTemplateRender,
		Enabled:      true,
	}
}

func TestSelectPlatformSpecificBeatsPriority(t *testing.T) {
	taskID := uuid.New()
	generic := newImpl(taskID, "cisco", nil, 50)
	specific := newImpl(taskID, "cisco", strPtr("ios-xe"), 10)

	device := DeviceDescriptor{Manufacturer: "cisco", Platform: "ios-xe"}

	selected, err := Select(taskID, device, []model.TaskImplementation{generic, specific})
	require.NoError(t, err)
	assert.Equal(t, specific.ID, selected.ID, "platform-specific match must win despite lower priority")
}

func TestSelectNoMatch(t *testing.T) {
	taskID := uuid.New()
	juniper := newImpl(taskID, "juniper", nil, 100)

	device := DeviceDescriptor{Manufacturer: "cisco", Platform: "ios-xe"}

	_, err := Select(taskID, device, []model.TaskImplementation{juniper})
	require.ErrorIs(t, err, ErrNoMatch)
}

func TestSelectExcludesDisabledAndForeignTasks(t *testing.T) {
	taskID := uuid.New()
	disabled := newImpl(taskID, "cisco", nil, 200)
	disabled.Enabled = false
	otherTask := newImpl(uuid.New(), "cisco", nil, 300)
	eligible := newImpl(taskID, "cisco", nil, 10)

	device := DeviceDescriptor{Manufacturer: "cisco"}

	selected, err := Select(taskID, device, []model.TaskImplementation{disabled, otherTask, eligible})
	require.NoError(t, err)
	assert.Equal(t, eligible.ID, selected.ID)
}

func TestSelectPriorityWithinTier(t *testing.T) {
	taskID := uuid.New()
	low := newImpl(taskID, "cisco", strPtr("nx-os"), 10)
	high := newImpl(taskID, "cisco", strPtr("nx-os"), 90)

	device := DeviceDescriptor{Manufacturer: "cisco", Platform: "nx-os"}

	selected, err := Select(taskID, device, []model.TaskImplementation{low, high})
	require.NoError(t, err)
	assert.Equal(t, high.ID, selected.ID)
}

func TestSelectWrongPlatformExcluded(t *testing.T) {
	taskID := uuid.New()
	iosOnly := newImpl(taskID, "cisco", strPtr("ios"), 100)

	device := DeviceDescriptor{Manufacturer: "cisco", Platform: "nx-os"}

	_, err := Select(taskID, device, []model.TaskImplementation{iosOnly})
	require.ErrorIs(t, err, ErrNoMatch)
}

func TestSelectVersionConstraints(t *testing.T) {
	taskID := uuid.New()
	device := DeviceDescriptor{Manufacturer: "cisco", Platform: "ios-xe", SoftwareVersion: "17.6.1"}

	t.Run("range satisfied", func(t *testing.T) {
		ranged := newImpl(taskID, "cisco", strPtr("ios-xe"), 50)
		ranged.VersionConstraint = ">= 17.3, < 18.0"
		selected, err := Select(taskID, device, []model.TaskImplementation{ranged})
		require.NoError(t, err)
		assert.Equal(t, ranged.ID, selected.ID)
	})

	t.Run("range excluded", func(t *testing.T) {
		ranged := newImpl(taskID, "cisco", strPtr("ios-xe"), 50)
		ranged.VersionConstraint = ">= 18.0"
		_, err := Select(taskID, device, []model.TaskImplementation{ranged})
		require.ErrorIs(t, err, ErrNoMatch)
	})

	t.Run("regex constraint", func(t *testing.T) {
		vendor := DeviceDescriptor{Manufacturer: "cisco", Platform: "ios", SoftwareVersion: "15.2(7)E3"}
		patterned := newImpl(taskID, "cisco", strPtr("ios"), 50)
		patterned.VersionConstraint = `^15\.2\(`
		selected, err := Select(taskID, vendor, []model.TaskImplementation{patterned})
		require.NoError(t, err)
		assert.Equal(t, patterned.ID, selected.ID)
	})

	t.Run("constrained impl rejects versionless device", func(t *testing.T) {
		ranged := newImpl(taskID, "cisco", strPtr("ios-xe"), 50)
		ranged.VersionConstraint = ">= 17.0"
		bare := DeviceDescriptor{Manufacturer: "cisco", Platform: "ios-xe"}
		_, err := Select(taskID, bare, []model.TaskImplementation{ranged})
		require.ErrorIs(t, err, ErrNoMatch)
	})
}

func TestSelectDeterministicTieBreak(t *testing.T) {
	taskID := uuid.New()
	a := newImpl(taskID, "cisco", nil, 50)
	b := newImpl(taskID, "cisco", nil, 50)

	device := DeviceDescriptor{Manufacturer: "cisco"}
	candidates := []model.TaskImplementation{a, b}

	first, err := Select(taskID, device, candidates)
	require.NoError(t, err)

	// Same inputs, repeated calls and reordered slices: same winner.
	for range 5 {
		again, err := Select(taskID, device, []model.TaskImplementation{b, a})
		require.NoError(t, err)
		assert.Equal(t, first.ID, again.ID)
	}
}

func TestCheckUniqueFlagsTies(t *testing.T) {
	taskID := uuid.New()
	a := newImpl(taskID, "cisco", strPtr("ios-xe"), 50)
	b := newImpl(taskID, "cisco", strPtr("ios-xe"), 50)

	err := CheckUnique(taskID, []model.TaskImplementation{a, b})
	var ambiguous *AmbiguousMatchError
	require.True(t, errors.As(err, &ambiguous))
	assert.Equal(t, 50, ambiguous.Priority)

	// Different platforms at the same priority are not ambiguous.
	c := newImpl(taskID, "cisco", strPtr("nx-os"), 50)
	assert.NoError(t, CheckUnique(taskID, []model.TaskImplementation{a, c}))
}
