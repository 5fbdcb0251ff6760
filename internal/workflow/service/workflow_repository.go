package service

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/openprovision/provd/internal/workflow/model"
)

// ErrWorkflowNotFound is returned when a workflow definition cannot be located.
var ErrWorkflowNotFound = errors.New("workflow not found")

// WorkflowRepository loads and stores workflow definitions.
type WorkflowRepository struct {
	db *gorm.DB
}

// NewWorkflowRepository creates a WorkflowRepository.
func NewWorkflowRepository(db *gorm.DB) *WorkflowRepository {
	return &WorkflowRepository{db: db}
}

// GetByID retrieves a workflow with its steps ordered by step order.
func (r *WorkflowRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Workflow, error) {
	var wf model.Workflow
	err := r.db.WithContext(ctx).
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("step_order ASC")
		}).
		First(&wf, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: id %s", ErrWorkflowNotFound, id)
		}
		return nil, fmt.Errorf("failed to get workflow %s: %w", id, err)
	}
	return &wf, nil
}

// GetBySlug retrieves a workflow with its steps ordered by step order.
func (r *WorkflowRepository) GetBySlug(ctx context.Context, slug string) (*model.Workflow, error) {
	var wf model.Workflow
	err := r.db.WithContext(ctx).
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("step_order ASC")
		}).
		First(&wf, "slug = ?", slug).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: slug %q", ErrWorkflowNotFound, slug)
		}
		return nil, fmt.Errorf("failed to get workflow %q: %w", slug, err)
	}
	return &wf, nil
}

// List retrieves all workflows without their steps.
func (r *WorkflowRepository) List(ctx context.Context) ([]model.Workflow, error) {
	var workflows []model.Workflow
	if err := r.db.WithContext(ctx).Order("name").Find(&workflows).Error; err != nil {
		return nil, fmt.Errorf("failed to list workflows: %w", err)
	}
	return workflows, nil
}

// Upsert saves a workflow keyed by slug and replaces its step list.
func (r *WorkflowRepository) Upsert(ctx context.Context, wf *model.Workflow) error {
	return r.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		steps := wf.Steps
		wf.Steps = nil
		if err := tx.Clauses(clause.OnConflict{
			Columns:   []clause.Column{{Name: "slug"}},
			DoUpdates: clause.AssignmentColumns([]string{"name", "description", "version", "enabled", "approval_required", "input_schema", "default_inputs", "updated_at"}),
		}).Create(wf).Error; err != nil {
			return fmt.Errorf("failed to upsert workflow %q: %w", wf.Slug, err)
		}

		var persisted model.Workflow
		if err := tx.First(&persisted, "slug = ?", wf.Slug).Error; err != nil {
			return fmt.Errorf("failed to reload workflow %q: %w", wf.Slug, err)
		}
		wf.ID = persisted.ID

		if err := tx.Where("workflow_id = ?", wf.ID).Delete(&model.WorkflowStep{}).Error; err != nil {
			return fmt.Errorf("failed to clear steps for workflow %q: %w", wf.Slug, err)
		}
		for i := range steps {
			steps[i].WorkflowID = wf.ID
			steps[i].ID = uuid.Nil
			if err := tx.Create(&steps[i]).Error; err != nil {
				return fmt.Errorf("failed to save step %q of workflow %q: %w", steps[i].Name, wf.Slug, err)
			}
		}
		wf.Steps = steps
		return nil
	})
}
