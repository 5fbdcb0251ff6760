package recorder

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/openprovision/provd/internal/workflow/model"
)

// GormStore is the database-backed Store implementation.
type GormStore struct {
	db *gorm.DB
}

// NewGormStore creates a Store backed by the given database handle.
func NewGormStore(db *gorm.DB) *GormStore {
	return &GormStore{db: db}
}

// CreateExecution persists a new execution record.
func (s *GormStore) CreateExecution(ctx context.Context, exec *model.Execution) error {
	if exec.Status == "" {
		exec.Status = model.ExecutionStatusPending
	}
	return s.db.WithContext(ctx).Create(exec).Error
}

// UpdateExecution persists an execution after validating the status change
// against the stored record inside a transaction.
func (s *GormStore) UpdateExecution(ctx context.Context, exec *model.Execution) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current model.Execution
		if err := tx.Select("status").First(&current, "id = ?", exec.ID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: id=%s", ErrExecutionNotFound, exec.ID)
			}
			return err
		}
		if current.Status != exec.Status && !current.Status.CanTransitionTo(exec.Status) {
			return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, exec.Status)
		}
		return tx.Omit("Steps", "Workflow").Save(exec).Error
	})
}

// GetExecution retrieves an execution with its steps ordered by step order.
func (s *GormStore) GetExecution(ctx context.Context, id uuid.UUID) (*model.Execution, error) {
	var exec model.Execution
	err := s.db.WithContext(ctx).
		Preload("Steps", func(db *gorm.DB) *gorm.DB {
			return db.Order("step_order ASC")
		}).
		First(&exec, "id = ?", id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: id=%s", ErrExecutionNotFound, id)
		}
		return nil, err
	}
	return &exec, nil
}

// ListExecutions retrieves executions matching the filter, newest first.
func (s *GormStore) ListExecutions(ctx context.Context, filter ListFilter) ([]model.Execution, int64, error) {
	query := s.db.WithContext(ctx).Model(&model.Execution{})
	if filter.WorkflowID != nil {
		query = query.Where("workflow_id = ?", *filter.WorkflowID)
	}
	if filter.Status != nil {
		query = query.Where("status = ?", *filter.Status)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return nil, 0, err
	}

	var executions []model.Execution
	err := query.
		Order("created_at DESC").
		Offset(filter.Offset).
		Limit(filter.Limit).
		Find(&executions).Error
	if err != nil {
		return nil, 0, err
	}
	return executions, total, nil
}

// AppendStep persists a new step record for an execution.
func (s *GormStore) AppendStep(ctx context.Context, step *model.ExecutionStep) error {
	if step.Status == "" {
		step.Status = model.StepStatusPending
	}
	return s.db.WithContext(ctx).Create(step).Error
}

// UpdateStep persists a step record, refusing to rewrite a finalized step.
func (s *GormStore) UpdateStep(ctx context.Context, step *model.ExecutionStep) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var current model.ExecutionStep
		if err := tx.Select("status").First(&current, "id = ?", step.ID).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("%w: id=%s", ErrStepNotFound, step.ID)
			}
			return err
		}
		if current.Status.Terminal() {
			return fmt.Errorf("%w: id=%s status=%s", ErrStepFinalized, step.ID, current.Status)
		}
		return tx.Save(step).Error
	})
}
