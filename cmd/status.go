package cmd

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"batchzip/internal/status"
	"batchzip/pkg/utils"
)

var statusCmd = &cobra.Command{
	Use:   "status <cache-key>",
	Short: "Show the progress of a batch",
	Long: `Print the last recorded status of a batch: its state, progress counters and,
once finished, the full result. Statuses expire after STATUS_TTL.`,
	Example: `  batchzip status report-42`,
	Args:    cobra.ExactArgs(1),
	Run: func(cmd *cobra.Command, args []string) {
		runStatus(cmd, args[0])
	},
}

func runStatus(cmd *cobra.Command, cacheKey string) {
	out := cmd.OutOrStdout()
	c := effectiveConfig(cmd)

	client := newRedisClient(c)
	defer client.Close()
	reader := status.NewRedisStore(client, c.StatusTTL, status.WithLogger(newLogger(cmd)))

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	st, err := reader.Get(ctx, cacheKey)
	if errors.Is(err, status.ErrNotFound) {
		err = fmt.Errorf("no status recorded for %s", cacheKey)
	}
	if err != nil {
		utils.PrintError(out, err, "status")
		return
	}

	if err := utils.PrintJSON(out, st); err != nil {
		utils.PrintError(out, err, "status")
	}
}
