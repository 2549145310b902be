package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"batchzip/internal/queue"
	"batchzip/pkg/utils"
)

var enqueueCmd = &cobra.Command{
	Use:   "enqueue <task.json>",
	Short: "Queue a batch for a worker",
	Long: `Submit a batch task to the Redis queue. A running "batchzip worker" picks it up.
The cache key is used as the task id, so a batch that is still queued cannot be
submitted twice. A cache key is generated when the task has none.`,
	Example: `  # Queue a batch
  batchzip enqueue task.json

  # Read the task from stdin
  cat task.json | batchzip enqueue -`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runEnqueue(cmd, args[0])
	},
}

type enqueueResult struct {
	CacheKey string `json:"cache_key"`
	TaskID   string `json:"task_id"`
	Queue    string `json:"queue"`
	Files    int    `json:"files"`
}

func runEnqueue(cmd *cobra.Command, taskPath string) {
	out := cmd.OutOrStdout()

	task, err := loadTask(taskPath, cmd.InOrStdin())
	if err != nil {
		utils.PrintError(out, err, "enqueue")
		return
	}

	c := effectiveConfig(cmd)
	client := queue.NewClient(redisConnOpt(c), c.QueueName, c.StatusTTL)
	defer client.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	info, err := client.Enqueue(ctx, task)
	if err != nil {
		utils.PrintError(out, err, "enqueue")
		return
	}

	if err := utils.PrintJSON(out, enqueueResult{
		CacheKey: task.CacheKey,
		TaskID:   info.ID,
		Queue:    info.Queue,
		Files:    len(task.Files),
	}); err != nil {
		utils.PrintError(out, err, "enqueue")
	}
}
