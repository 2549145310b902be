package queue

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/hibiken/asynq"

	"batchzip/internal/models"
)

// Runner executes one batch to completion.
type Runner interface {
	Run(ctx context.Context, task models.BatchTask) models.BatchResult
}

type Handler struct {
	runner      Runner
	taskTimeout time.Duration
	logger      *slog.Logger
}

type HandlerOption func(*Handler)

// WithTaskTimeout bounds a single batch. Zero leaves it to the server.
func WithTaskTimeout(timeout time.Duration) HandlerOption {
	return func(h *Handler) {
		h.taskTimeout = timeout
	}
}

func WithLogger(logger *slog.Logger) HandlerOption {
	return func(h *Handler) {
		h.logger = logger
	}
}

func NewHandler(runner Runner, opts ...HandlerOption) *Handler {
	h := &Handler{
		runner: runner,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(h)
	}
	return h
}

// ProcessTask runs the batch carried by the task. A failed batch is a final
// outcome already recorded in the status store, so it is not retried; only a
// payload that cannot be decoded is reported back to asynq.
func (h *Handler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	if t.Type() != TypeArchiveBatch {
		return fmt.Errorf("unknown task type %s: %w", t.Type(), asynq.SkipRetry)
	}

	task, err := decodeArchiveTask(t)
	if err != nil {
		return fmt.Errorf("%v: %w", err, asynq.SkipRetry)
	}

	if h.taskTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, h.taskTimeout)
		defer cancel()
	}

	result := h.runner.Run(ctx, task)
	h.logger.Info("batch task processed",
		"cache_key", task.CacheKey,
		"success", result.Success,
		"files", result.FileCount,
	)

	if w := t.ResultWriter(); w != nil {
		data, err := json.Marshal(result)
		if err != nil {
			h.logger.Warn("failed to encode batch result", "cache_key", task.CacheKey, "error", err)
			return nil
		}
		if _, err := w.Write(data); err != nil {
			h.logger.Warn("failed to write batch result", "cache_key", task.CacheKey, "error", err)
		}
	}
	return nil
}
