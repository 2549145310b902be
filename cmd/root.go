package cmd

import (
	"log/slog"

	"github.com/spf13/cobra"

	"batchzip/config"
)

var (
	cfg *config.Config
)

var rootCmd = &cobra.Command{
	Use:   "batchzip",
	Short: "Batch archiver for remotely stored files",
	Long: `batchzip collects a batch of stored files into a single zip archive,
uploads the archive back to storage and publishes a time-limited download link.

Batches run in-process with "run" or through a Redis-backed queue with
"enqueue" and "worker". Progress is readable with "status".
Configuration is loaded from .env file or environment variables`,
}

func Execute(config *config.Config) error {
	cfg = config
	return rootCmd.Execute()
}

func init() {
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(enqueueCmd)
	rootCmd.AddCommand(workerCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(pruneCmd)

	rootCmd.PersistentFlags().StringP("bucket", "b", "", "Override bucket name from config")
	rootCmd.PersistentFlags().BoolP("verbose", "v", false, "Enable verbose output")
}

func getBucketName(cmd *cobra.Command) string {
	bucket, _ := cmd.Flags().GetString("bucket")
	if bucket != "" {
		return bucket
	}
	return cfg.BucketName
}

func isVerbose(cmd *cobra.Command) bool {
	verbose, _ := cmd.Flags().GetBool("verbose")
	return verbose
}

// newLogger writes text logs to stderr so stdout stays valid JSON.
func newLogger(cmd *cobra.Command) *slog.Logger {
	level := slog.LevelInfo
	if isVerbose(cmd) {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewTextHandler(cmd.ErrOrStderr(), &slog.HandlerOptions{Level: level}))
}
