package catalog

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"

	"github.com/openprovision/provd/internal/catalog/model"
)

func newLibraryStore(t *testing.T) Store {
	t.Helper()
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&model.TaskDefinition{}, &model.TaskImplementation{}))
	return NewStore(db)
}

func writeLibraryFile(t *testing.T, dir, name, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte(content), 0o644))
}

const ntpTaskYAML = `name: Configure NTP
slug: configure-ntp
category: time
inputs:
  - name: servers
    type: array
    required: true
implementations:
  - name: cisco-ios-xe
    manufacturer: cisco
    platform: ios-xe
    version_constraint: ">= 16.0.0"
    priority: 10
    template: |
      {{ range .servers }}ntp server {{ . }}
      {{ end }}
  - name: cisco-generic
    manufacturer: cisco
    template: |
      ntp server {{ index .servers 0 }}
`

func TestLoadLibrary(t *testing.T) {
	dir := t.TempDir()
	writeLibraryFile(t, dir, "ntp.yaml", ntpTaskYAML)
	writeLibraryFile(t, dir, "notes.txt", "not a task file")

	store := newLibraryStore(t)
	result, err := LoadLibrary(context.Background(), store, dir)
	require.NoError(t, err)

	assert.Equal(t, 1, result.TasksLoaded)
	assert.Equal(t, 2, result.ImplementationsLoaded)
	assert.Empty(t, result.Errors)

	task, err := store.GetTaskBySlug(context.Background(), "configure-ntp")
	require.NoError(t, err)
	assert.Equal(t, "Configure NTP", task.Name)
	require.Len(t, task.InputSchema, 1)
	assert.Equal(t, "servers", task.InputSchema[0].Name)
	assert.True(t, task.InputSchema[0].Required)

	impls, err := store.ListImplementations(context.Background(), task.ID)
	require.NoError(t, err)
	require.Len(t, impls, 2)

	byName := make(map[string]model.TaskImplementation, len(impls))
	for _, impl := range impls {
		byName[impl.Name] = impl
	}
	specific := byName["cisco-ios-xe"]
	require.NotNil(t, specific.Platform)
	assert.Equal(t, "ios-xe", *specific.Platform)
	assert.Equal(t, 10, specific.Priority)
	assert.Equal(t, ">= 16.0.0", specific.VersionConstraint)

	generic := byName["cisco-generic"]
	assert.Nil(t, generic.Platform)
	assert.Equal(t, 100, generic.Priority) // default priority
}

func TestLoadLibraryIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	writeLibraryFile(t, dir, "ntp.yaml", ntpTaskYAML)

	store := newLibraryStore(t)
	_, err := LoadLibrary(context.Background(), store, dir)
	require.NoError(t, err)
	_, err = LoadLibrary(context.Background(), store, dir)
	require.NoError(t, err)

	tasks, err := store.ListTasks(context.Background())
	require.NoError(t, err)
	assert.Len(t, tasks, 1)

	impls, err := store.ListImplementations(context.Background(), tasks[0].ID)
	require.NoError(t, err)
	assert.Len(t, impls, 2)
}

func TestLoadLibraryRecordsBadFiles(t *testing.T) {
	dir := t.TempDir()
	writeLibraryFile(t, dir, "good.yaml", ntpTaskYAML)
	writeLibraryFile(t, dir, "no-slug.yaml", "name: Nameless Task\n")
	writeLibraryFile(t, dir, "garbled.yaml", "slug: [broken\nimplementations: {{")

	store := newLibraryStore(t)
	result, err := LoadLibrary(context.Background(), store, dir)
	require.NoError(t, err)

	assert.Equal(t, 1, result.TasksLoaded)
	assert.Len(t, result.Errors, 2)

	_, err = store.GetTaskBySlug(context.Background(), "configure-ntp")
	assert.NoError(t, err)
}

func TestStoreUpsertTaskUpdatesBySlug(t *testing.T) {
	store := newLibraryStore(t)
	ctx := context.Background()

	task := &model.TaskDefinition{Name: "First", Slug: "thing", Enabled: true}
	require.NoError(t, store.UpsertTask(ctx, task))

	update := &model.TaskDefinition{Name: "Second", Slug: "thing", Category: "misc", Enabled: true}
	require.NoError(t, store.UpsertTask(ctx, update))

	got, err := store.GetTaskBySlug(ctx, "thing")
	require.NoError(t, err)
	assert.Equal(t, "Second", got.Name)
	assert.Equal(t, "misc", got.Category)

	tasks, err := store.ListTasks(ctx)
	require.NoError(t, err)
	assert.Len(t, tasks, 1)
}

func TestStoreGetTaskNotFound(t *testing.T) {
	store := newLibraryStore(t)

	_, err := store.GetTaskBySlug(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrTaskNotFound)
}
