package recorder

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/go-redis/redis/v8"
	"github.com/google/uuid"

	"github.com/openprovision/provd/internal/workflow/model"
)

const (
	executionPrefix     = "execution:"
	stepPrefix          = "execution_step:"
	executionStepsIndex = "execution_steps:" // set of step IDs per execution
)

// RedisStore is a Redis-backed implementation of the Store interface. It is
// intended for ephemeral deployments where execution history may expire; set
// TTL to zero to keep records indefinitely.
type RedisStore struct {
	client *redis.Client
	ttl    time.Duration
}

// RedisOptions configures the Redis connection for a RedisStore.
type RedisOptions struct {
	Addr     string
	Password string
	DB       int
	PoolSize int
	TTL      time.Duration
}

// NewRedisStore creates a RedisStore and verifies connectivity.
func NewRedisStore(opts RedisOptions) (*RedisStore, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     opts.Addr,
		Password: opts.Password,
		DB:       opts.DB,
		PoolSize: opts.PoolSize,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if _, err := client.Ping(ctx).Result(); err != nil {
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	return &RedisStore{client: client, ttl: opts.TTL}, nil
}

func (s *RedisStore) setJSON(ctx context.Context, key string, value any) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("failed to marshal %s: %w", key, err)
	}
	if err := s.client.Set(ctx, key, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("failed to set %s in Redis: %w", key, err)
	}
	return nil
}

func getJSON[T any](ctx context.Context, client *redis.Client, key string, notFound error) (T, error) {
	var zero T
	data, err := client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return zero, fmt.Errorf("%w: key=%s", notFound, key)
	} else if err != nil {
		return zero, fmt.Errorf("failed to get %s from Redis: %w", key, err)
	}
	var result T
	if err := json.Unmarshal(data, &result); err != nil {
		return zero, fmt.Errorf("failed to unmarshal %s: %w", key, err)
	}
	return result, nil
}

// CreateExecution persists a new execution record.
func (s *RedisStore) CreateExecution(ctx context.Context, exec *model.Execution) error {
	if exec.ID == uuid.Nil {
		id, err := uuid.NewRandom()
		if err != nil {
			return err
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
	stored := *exec
	stored.Steps = nil
	return s.setJSON(ctx, executionPrefix+exec.ID.String(), stored)
}

// UpdateExecution persists an execution after validating the status change.
func (s *RedisStore) UpdateExecution(ctx context.Context, exec *model.Execution) error {
	current, err := getJSON[model.Execution](ctx, s.client, executionPrefix+exec.ID.String(), ErrExecutionNotFound)
	if err != nil {
		return err
	}
	if current.Status != exec.Status && !current.Status.CanTransitionTo(exec.Status) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, current.Status, exec.Status)
	}
	exec.UpdatedAt = time.Now().UTC()
	stored := *exec
	stored.Steps = nil
	return s.setJSON(ctx, executionPrefix+exec.ID.String(), stored)
}

// GetExecution retrieves an execution with its steps ordered by step order.
func (s *RedisStore) GetExecution(ctx context.Context, id uuid.UUID) (*model.Execution, error) {
	exec, err := getJSON[model.Execution](ctx, s.client, executionPrefix+id.String(), ErrExecutionNotFound)
	if err != nil {
		return nil, err
	}

	stepIDs, err := s.client.SMembers(ctx, executionStepsIndex+id.String()).Result()
	if err != nil {
		return nil, fmt.Errorf("failed to list step index for %s: %w", id, err)
	}
	for _, stepID := range stepIDs {
		step, err := getJSON[model.ExecutionStep](ctx, s.client, stepPrefix+stepID, ErrStepNotFound)
		if errors.Is(err, ErrStepNotFound) {
			continue // expired step record
		} else if err != nil {
			return nil, err
		}
		exec.Steps = append(exec.Steps, step)
	}
	sort.Slice(exec.Steps, func(i, j int) bool {
		return exec.Steps[i].Order < exec.Steps[j].Order
	})
	return &exec, nil
}

// ListExecutions retrieves executions matching the filter, newest first.
func (s *RedisStore) ListExecutions(ctx context.Context, filter ListFilter) ([]model.Execution, int64, error) {
	keys, err := s.client.Keys(ctx, executionPrefix+"*").Result()
	if err != nil {
		return nil, 0, fmt.Errorf("failed to scan execution keys: %w", err)
	}

	var matched []model.Execution
	for _, key := range keys {
		exec, err := getJSON[model.Execution](ctx, s.client, key, ErrExecutionNotFound)
		if errors.Is(err, ErrExecutionNotFound) {
			continue
		} else if err != nil {
			return nil, 0, err
		}
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
		return nil, total, nil
	}
	matched = matched[filter.Offset:]
	if filter.Limit > 0 && filter.Limit < len(matched) {
		matched = matched[:filter.Limit]
	}
	return matched, total, nil
}

// AppendStep persists a new step record and indexes it under its execution.
func (s *RedisStore) AppendStep(ctx context.Context, step *model.ExecutionStep) error {
	if step.ID == uuid.Nil {
		id, err := uuid.NewRandom()
		if err != nil {
			return err
		}
		step.ID = id
	}
	if step.Status == "" {
		step.Status = model.StepStatusPending
	}
	if err := s.setJSON(ctx, stepPrefix+step.ID.String(), step); err != nil {
		return err
	}
	indexKey := executionStepsIndex + step.ExecutionID.String()
	if err := s.client.SAdd(ctx, indexKey, step.ID.String()).Err(); err != nil {
		return fmt.Errorf("failed to index step %s: %w", step.ID, err)
	}
	if s.ttl > 0 {
		s.client.Expire(ctx, indexKey, s.ttl)
	}
	return nil
}

// UpdateStep persists a step record, refusing to rewrite a finalized step.
func (s *RedisStore) UpdateStep(ctx context.Context, step *model.ExecutionStep) error {
	current, err := getJSON[model.ExecutionStep](ctx, s.client, stepPrefix+step.ID.String(), ErrStepNotFound)
	if err != nil {
		return err
	}
	if current.Status.Terminal() {
		return fmt.Errorf("%w: id=%s status=%s", ErrStepFinalized, step.ID, current.Status)
	}
	return s.setJSON(ctx, stepPrefix+step.ID.String(), step)
}

// Close closes the Redis client connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
