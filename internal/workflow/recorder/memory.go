package recorder

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/openprovision/provd/internal/workflow/model"
)

// MemoryStore is an in-memory implementation of the Store interface. It is
// used in tests and in single-process deployments that do not need durability.
type MemoryStore struct {
	executions map[uuid.UUID]model.Execution
	steps      map[uuid.UUID]model.ExecutionStep
	mu         sync.RWMutex
}

// NewMemoryStore creates a new MemoryStore instance.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		executions: make(map[uuid.UUID]model.Execution),
		steps:      make(map[uuid.UUID]model.ExecutionStep),
	}
}

// withContext short-circuits on an already-cancelled context.
func withContext[T any](ctx context.Context, fn func() (T, error)) (T, error) {
	var zero T
	select {
	case <-ctx.Done():
		return zero, ctx.Err()
	default:
		return fn()
	}
}

// CreateExecution persists a new execution record in memory.
func (s *MemoryStore) CreateExecution(ctx context.Context, exec *model.Execution) error {
	_, err := withContext(ctx, func() (struct{}, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if exec.ID == uuid.Nil {
			id, err := uuid.NewRandom()
			if err != nil {
				return struct{}{}, err
			}
			exec.ID = id
		}
		if exec.Status == "" {
			exec.Status = model.ExecutionStatusPending
		}
		if exec.CreatedAt.IsZero() {
			exec.CreatedAt = time.Now().UTC()
			exec.UpdatedAt = exec.CreatedAt
		}
		s.executions[exec.ID] = *exec
		return struct{}{}, nil
	})
	return err
}

// UpdateExecution persists an execution after validating the status change.
func (s *MemoryStore) UpdateExecution(ctx context.Context, exec *model.Execution) error {
	_, err := withContext(ctx, func() (struct{}, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		current, ok := s.executions[exec.ID]
		if !ok {
			return struct{}{}, fmt.Errorf("%w: id=%s", ErrExecutionNotFound, exec.ID)
		}
		if current.Status != exec.Status && !current.Status.CanTransitionTo(exec.Status) {
			return struct{}{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, exec.Status)
		}
		stored := *exec
		stored.Steps = nil
		s.executions[exec.ID] = stored
		return struct{}{}, nil
	})
	return err
}

// GetExecution retrieves an execution with its steps ordered by step order.
func (s *MemoryStore) GetExecution(ctx context.Context, id uuid.UUID) (*model.Execution, error) {
	return withContext(ctx, func() (*model.Execution, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		exec, ok := s.executions[id]
		if !ok {
			return nil, fmt.Errorf("%w: id=%s", ErrExecutionNotFound, id)
		}
		for _, step := range s.steps {
			if step.ExecutionID == id {
				exec.Steps = append(exec.Steps, step)
			}
		}
		sort.Slice(exec.Steps, func(i, j int) bool {
			return exec.Steps[i].Order < exec.Steps[j].Order
		})
		return &exec, nil
	})
}

// ListExecutions retrieves executions matching the filter, newest first.
func (s *MemoryStore) ListExecutions(ctx context.Context, filter ListFilter) ([]model.Execution, int64, error) {
	type result struct {
		executions []model.Execution
		total      int64
	}
	res, err := withContext(ctx, func() (result, error) {
		s.mu.RLock()
		defer s.mu.RUnlock()
		var matched []model.Execution
		for _, exec := range s.executions {
			if filter.WorkflowID != nil && exec.WorkflowID != *filter.WorkflowID {
				continue
			}
			if filter.Status != nil && exec.Status != *filter.Status {
				continue
			}
			matched = append(matched, exec)
		}
		sort.Slice(matched, func(i, j int) bool {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		})
		total := int64(len(matched))
		if filter.Offset >= len(matched) {
			return result{total: total}, nil
		}
		matched = matched[filter.Offset:]
		if filter.Limit > 0 && filter.Limit < len(matched) {
			matched = matched[:filter.Limit]
		}
		return result{executions: matched, total: total}, nil
	})
	return res.executions, res.total, err
}

// AppendStep persists a new step record in memory.
func (s *MemoryStore) AppendStep(ctx context.Context, step *model.ExecutionStep) error {
	_, err := withContext(ctx, func() (struct{}, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		if step.ID == uuid.Nil {
			id, err := uuid.NewRandom()
			if err != nil {
				return struct{}{}, err
			}
			step.ID = id
		}
		if step.Status == "" {
			step.Status = model.StepStatusPending
		}
		s.steps[step.ID] = *step
		return struct{}{}, nil
	})
	return err
}

// UpdateStep persists a step record, refusing to rewrite a finalized step.
func (s *MemoryStore) UpdateStep(ctx context.Context, step *model.ExecutionStep) error {
	_, err := withContext(ctx, func() (struct{}, error) {
		s.mu.Lock()
		defer s.mu.Unlock()
		current, ok := s.steps[step.ID]
		if !ok {
			return struct{}{}, fmt.Errorf("%w: id=%s", ErrStepNotFound, step.ID)
		}
		if current.Status.Terminal() {
			return struct{}{}, fmt.Errorf("%w: id=%s status=%s", ErrStepFinalized, step.ID, current.Status)
		}
		s.steps[step.ID] = *step
		return struct{}{}, nil
	})
	return err
}
