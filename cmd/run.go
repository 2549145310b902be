package cmd

import (
	"context"
	"time"

	"github.com/spf13/cobra"

	"batchzip/internal/batch"
	"batchzip/internal/status"
	"batchzip/pkg/utils"
)

var runCmd = &cobra.Command{
	Use:   "run <task.json>",
	Short: "Run one batch in this process",
	Long: `Run a batch task described by a JSON file (or "-" for stdin) and print its result.

The task lists the files to archive, either as an array of
{"id", "storageKey", "displayName"} objects or as an object keyed by file id:

  {
    "cacheKey": "report-42",
    "organizationCode": "acme",
    "workdir": "acme/projects/q3",
    "files": {
      "f1": {"storageKey": "acme/projects/q3/summary.pdf"},
      "f2": {"storageKey": "acme/projects/q3/data/raw.csv"}
    }
  }

Progress is kept in memory unless --redis-status is set, in which case it is
written to Redis and can be read with "batchzip status".`,
	Example: `  # Run a batch
  batchzip run task.json

  # Show the archive layout without touching storage
  batchzip run task.json --dry-run

  # Record progress in Redis
  batchzip run task.json --redis-status --verbose`,
	Args: cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runBatch(cmd, args[0])
	},
}

func runBatch(cmd *cobra.Command, taskPath string) {
	out := cmd.OutOrStdout()
	dryRun, _ := cmd.Flags().GetBool("dry-run")
	redisStatus, _ := cmd.Flags().GetBool("redis-status")
	timeout, _ := cmd.Flags().GetInt("timeout")

	task, err := loadTask(taskPath, cmd.InOrStdin())
	if err != nil {
		utils.PrintError(out, err, "run")
		return
	}

	c := effectiveConfig(cmd)
	if dryRun {
		if err := utils.PrintJSON(out, batch.Plan(task, c.ArchivePrefix, time.Now())); err != nil {
			utils.PrintError(out, err, "run")
		}
		return
	}

	logger := newLogger(cmd)

	var store status.Store = status.NewMemoryStore()
	if redisStatus {
		client := newRedisClient(c)
		defer client.Close()
		store = status.NewRedisStore(client, c.StatusTTL, status.WithLogger(logger))
	}

	orch, err := newOrchestrator(c, store, logger)
	if err != nil {
		utils.PrintError(out, err, "run")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	defer cancel()

	if isVerbose(cmd) {
		cmd.PrintErrf("Running batch %s with %d files\n", task.CacheKey, len(task.Files))
	}

	result := orch.Run(ctx, task)
	if err := utils.PrintJSON(out, result); err != nil {
		utils.PrintError(out, err, "run")
	}
}

func init() {
	runCmd.Flags().Bool("dry-run", false, "Print entry paths and destination key without downloading anything")
	runCmd.Flags().Bool("redis-status", false, "Write progress to Redis instead of memory")
	runCmd.Flags().Int("timeout", 3600, "Timeout in seconds for the batch (default: 1 hour)")
}
