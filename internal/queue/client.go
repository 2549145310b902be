package queue

import (
	"context"
	"fmt"
	"time"

	"github.com/hibiken/asynq"

	"batchzip/internal/models"
)

// Client enqueues batch tasks.
type Client struct {
	client    *asynq.Client
	queue     string
	retention time.Duration
}

func NewClient(redisOpt asynq.RedisConnOpt, queue string, retention time.Duration) *Client {
	if queue == "" {
		queue = "default"
	}
	return &Client{
		client:    asynq.NewClient(redisOpt),
		queue:     queue,
		retention: retention,
	}
}

// Enqueue submits the batch. Retention keeps the completed task, and the
// result the handler wrote, inspectable for that long.
func (c *Client) Enqueue(ctx context.Context, task models.BatchTask) (*asynq.TaskInfo, error) {
	opts := []asynq.Option{asynq.Queue(c.queue), asynq.MaxRetry(0)}
	if c.retention > 0 {
		opts = append(opts, asynq.Retention(c.retention))
	}

	t, err := NewArchiveTask(task, opts...)
	if err != nil {
		return nil, err
	}

	info, err := c.client.EnqueueContext(ctx, t)
	if err != nil {
		return nil, fmt.Errorf("failed to enqueue task: %w", err)
	}
	return info, nil
}

func (c *Client) Close() error {
	if err := c.client.Close(); err != nil {
		return fmt.Errorf("failed to close queue client: %w", err)
	}
	return nil
}
