package cmd

import (
	"time"

	"github.com/spf13/cobra"

	"batchzip/internal/queue"
	"batchzip/internal/status"
	"batchzip/pkg/utils"
)

var workerCmd = &cobra.Command{
	Use:   "worker",
	Short: "Process queued batches",
	Long: `Start a worker pool that consumes batch tasks from the Redis queue.
Each worker runs one batch at a time and writes its progress to Redis.
The worker stops gracefully on SIGINT or SIGTERM.`,
	Example: `  # Start with the configured concurrency
  batchzip worker

  # Four concurrent batches, each limited to 30 minutes
  batchzip worker --concurrency 4 --task-timeout 1800`,
	Run: func(cmd *cobra.Command, args []string) {
		runWorker(cmd)
	},
}

func runWorker(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	c := effectiveConfig(cmd)
	logger := newLogger(cmd)

	concurrency, _ := cmd.Flags().GetInt("concurrency")
	if concurrency <= 0 {
		concurrency = c.WorkerConcurrency
	}
	taskTimeout, _ := cmd.Flags().GetInt("task-timeout")

	redisClient := newRedisClient(c)
	defer redisClient.Close()
	store := status.NewRedisStore(redisClient, c.StatusTTL, status.WithLogger(logger))

	orch, err := newOrchestrator(c, store, logger)
	if err != nil {
		utils.PrintError(out, err, "worker")
		return
	}

	handler := queue.NewHandler(orch,
		queue.WithTaskTimeout(time.Duration(taskTimeout)*time.Second),
		queue.WithLogger(logger),
	)
	server := queue.NewServer(redisConnOpt(c), concurrency, c.QueueName, logger)

	logger.Info("worker starting", "queue", c.QueueName, "concurrency", concurrency)
	if err := server.Run(handler); err != nil {
		utils.PrintError(out, err, "worker")
	}
}

func init() {
	workerCmd.Flags().Int("concurrency", 0, "Number of batches processed at once (default: WORKER_CONCURRENCY)")
	workerCmd.Flags().Int("task-timeout", 3600, "Timeout in seconds for a single batch")
}
