// Package status records batch progress and terminal results under the
// batch's cache key. Every write replaces the whole entry.
package status

import (
	"context"
	"errors"

	"batchzip/internal/models"
)

var ErrNotFound = errors.New("status not found")

// Store receives updates from the orchestrator. Writes are fire-and-forget:
// implementations log their own failures.
type Store interface {
	SetProgress(ctx context.Context, cacheKey string, state models.TaskState, done, total int, message string)
	SetCompleted(ctx context.Context, cacheKey string, result models.BatchResult)
	SetFailed(ctx context.Context, cacheKey string, message string)
}

type Reader interface {
	Get(ctx context.Context, cacheKey string) (*models.TaskStatus, error)
}

func completedStatus(cacheKey string, result models.BatchResult) models.TaskStatus {
	return models.TaskStatus{
		CacheKey: cacheKey,
		State:    models.StateCompleted,
		Message:  "completed",
		Result:   &result,
	}
}

func failedStatus(cacheKey, message string) models.TaskStatus {
	result := models.Failure(message)
	return models.TaskStatus{
		CacheKey: cacheKey,
		State:    models.StateFailed,
		Message:  message,
		Result:   &result,
	}
}
