package queue

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hibiken/asynq"
)

type Server struct {
	server *asynq.Server
}

// NewServer builds a worker pool consuming a single queue. Each worker runs
// one batch at a time.
func NewServer(redisOpt asynq.RedisConnOpt, concurrency int, queue string, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	if queue == "" {
		queue = "default"
	}

	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: concurrency,
		Queues:      map[string]int{queue: 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			logger.Error("task failed", "type", task.Type(), "error", err)
		}),
	})
	return &Server{server: srv}
}

// Run processes tasks until the process receives SIGTERM or SIGINT.
func (s *Server) Run(h *Handler) error {
	if err := s.server.Run(newMux(h)); err != nil {
		return fmt.Errorf("queue server stopped: %w", err)
	}
	return nil
}

func newMux(h *Handler) *asynq.ServeMux {
	mux := asynq.NewServeMux()
	mux.Handle(TypeArchiveBatch, h)
	return mux
}
