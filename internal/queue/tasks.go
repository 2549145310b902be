// Package queue carries batch tasks over Redis with asynq.
package queue

import (
	"encoding/json"
	"fmt"

	"github.com/hibiken/asynq"

	"batchzip/internal/models"
)

const TypeArchiveBatch = "archive:batch"

// NewArchiveTask encodes a batch as an asynq task. The cache key doubles as
// the task ID so the same batch cannot be queued twice while it is pending.
func NewArchiveTask(task models.BatchTask, opts ...asynq.Option) (*asynq.Task, error) {
	if err := task.Validate(); err != nil {
		return nil, fmt.Errorf("invalid batch task: %w", err)
	}

	data, err := json.Marshal(task)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal batch task: %w", err)
	}

	opts = append([]asynq.Option{asynq.TaskID(task.CacheKey)}, opts...)
	return asynq.NewTask(TypeArchiveBatch, data, opts...), nil
}

func decodeArchiveTask(t *asynq.Task) (models.BatchTask, error) {
	var task models.BatchTask
	if err := json.Unmarshal(t.Payload(), &task); err != nil {
		return task, fmt.Errorf("failed to unmarshal batch task: %w", err)
	}
	if err := task.Validate(); err != nil {
		return task, fmt.Errorf("invalid batch task: %w", err)
	}
	return task, nil
}
