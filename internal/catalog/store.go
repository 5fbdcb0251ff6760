package catalog

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/openprovision/provd/internal/catalog/model"
)

// ErrTaskNotFound is returned when a task definition cannot be located.
var ErrTaskNotFound = errors.New("task definition not found")

// Store is the catalog query surface the engine and service layers consume.
// Implementations snapshot reads: a running execution resolves against
// whatever the store returned at the step, never a live view.
type Store interface {
	GetTaskByID(ctx context.Context, id uuid.UUID) (*model.TaskDefinition, error)
	GetTaskBySlug(ctx context.Context, slug string) (*model.TaskDefinition, error)
	ListTasks(ctx context.Context) ([]model.TaskDefinition, error)
	ListImplementations(ctx context.Context, taskID uuid.UUID) ([]model.TaskImplementation, error)
	UpsertTask(ctx context.Context, task *model.TaskDefinition) error
	UpsertImplementation(ctx context.Context, impl *model.TaskImplementation) error
}

type gormStore struct {
	db *gorm.DB
}

// NewStore creates a gorm-backed catalog store.
func NewStore(db *gorm.DB) Store {
	return &gormStore{db: db}
}

func (s *gormStore) GetTaskByID(ctx context.Context, id uuid.UUID) (*model.TaskDefinition, error) {
	var task model.TaskDefinition
	if err := s.db.WithContext(ctx).First(&task, "id = ?", id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: id %s", ErrTaskNotFound, id)
		}
		return nil, fmt.Errorf("failed to get task definition %s: %w", id, err)
	}
	return &task, nil
}

func (s *gormStore) GetTaskBySlug(ctx context.Context, slug string) (*model.TaskDefinition, error) {
	var task model.TaskDefinition
	if err := s.db.WithContext(ctx).First(&task, "slug = ?", slug).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: slug %q", ErrTaskNotFound, slug)
		}
		return nil, fmt.Errorf("failed to get task definition %q: %w", slug, err)
	}
	return &task, nil
}

func (s *gormStore) ListTasks(ctx context.Context) ([]model.TaskDefinition, error) {
	var tasks []model.TaskDefinition
	if err := s.db.WithContext(ctx).Order("category, name").Find(&tasks).Error; err != nil {
		return nil, fmt.Errorf("failed to list task definitions: %w", err)
	}
	return tasks, nil
}

func (s *gormStore) ListImplementations(ctx context.Context, taskID uuid.UUID) ([]model.TaskImplementation, error) {
	var impls []model.TaskImplementation
	if err := s.db.WithContext(ctx).
		Where("task_id = ?", taskID).
		Order("priority DESC, id").
		Find(&impls).Error; err != nil {
		return nil, fmt.Errorf("failed to list implementations for task %s: %w", taskID, err)
	}
	return impls, nil
}

func (s *gormStore) UpsertTask(ctx context.Context, task *model.TaskDefinition) error {
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "slug"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "category", "description", "input_schema", "output_schema", "enabled", "updated_at"}),
	}).Create(task).Error; err != nil {
		return fmt.Errorf("failed to upsert task definition %q: %w", task.Slug, err)
	}
	return nil
}

func (s *gormStore) UpsertImplementation(ctx context.Context, impl *model.TaskImplementation) error {
	if err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "task_id"}, {Name: "name"}},
		DoUpdates: clause.AssignmentColumns([]string{"manufacturer", "platform", "version_constraint", "priority", "kind", "template_body", "enabled", "updated_at"}),
	}).Create(impl).Error; err != nil {
		return fmt.Errorf("failed to upsert implementation %q: %w", impl.Name, err)
	}
	return nil
}
