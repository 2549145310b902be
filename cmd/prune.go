package cmd

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"batchzip/internal/s3client"
	"batchzip/pkg/utils"
)

var pruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete uploaded archives older than specified days",
	Long: `Delete archives under the archive prefix that are older than the specified number of days.

The command will:
- List all objects under the prefix (ARCHIVE_PREFIX unless --prefix is given)
- Filter objects older than the cutoff date
- Delete matching objects in batches of 1000

WARNING: This operation is irreversible. Deleted archives cannot be recovered.`,
	Example: `  # Delete archives older than 7 days
  batchzip prune --days 7

  # Only one organization, without prompting
  batchzip prune --days 30 --prefix "archives/acme" --confirm

  # See what would be deleted
  batchzip prune --days 30 --dry-run`,
	Run: func(cmd *cobra.Command, args []string) {
		runPrune(cmd)
	},
}

func runPrune(cmd *cobra.Command) {
	out := cmd.OutOrStdout()
	days, _ := cmd.Flags().GetInt("days")
	prefix, _ := cmd.Flags().GetString("prefix")
	confirm, _ := cmd.Flags().GetBool("confirm")
	dryRun, _ := cmd.Flags().GetBool("dry-run")

	if days <= 0 {
		utils.PrintError(out, fmt.Errorf("days must be greater than 0"), "prune")
		return
	}

	c := effectiveConfig(cmd)
	if prefix == "" {
		prefix = c.ArchivePrefix
	}

	if !confirm && !dryRun {
		cutoffDate := time.Now().AddDate(0, 0, -days)
		fmt.Fprintf(out, "WARNING: This will permanently delete archives older than %d days (%s) under '%s' in bucket '%s'\n",
			days, cutoffDate.Format("2006-01-02"), prefix, c.BucketName)
		fmt.Fprint(out, "Are you sure? (yes/no): ")

		var response string
		fmt.Fscanln(cmd.InOrStdin(), &response)
		if response != "yes" && response != "y" && response != "YES" {
			fmt.Fprintln(out, "Operation cancelled.")
			return
		}
	}

	client, err := s3client.New(c, newLogger(cmd))
	if err != nil {
		utils.PrintError(out, err, "prune")
		return
	}

	timeout, _ := cmd.Flags().GetInt("timeout")
	ctx, cancel := context.WithTimeout(context.Background(), time.Duration(timeout)*time.Second)
	defer cancel()

	if isVerbose(cmd) {
		cmd.PrintErrf("Pruning archives older than %d days under %s in bucket %s\n", days, prefix, c.BucketName)
		if dryRun {
			cmd.PrintErrln("DRY RUN MODE: No archives will actually be deleted")
		}
	}

	result, err := client.PruneArchives(ctx, prefix, days, dryRun)
	if err != nil {
		utils.PrintError(out, err, "prune")
		return
	}

	if err := utils.PrintJSON(out, result); err != nil {
		utils.PrintError(out, err, "prune")
		return
	}

	if isVerbose(cmd) {
		cmd.PrintErrln("Prune completed successfully")
	}
}

func init() {
	pruneCmd.Flags().IntP("days", "d", 0, "Delete archives older than this many days (required)")
	if err := pruneCmd.MarkFlagRequired("days"); err != nil {
		panic(err)
	}

	pruneCmd.Flags().StringP("prefix", "p", "", "Prefix to prune (default: ARCHIVE_PREFIX)")
	pruneCmd.Flags().Bool("confirm", false, "Skip confirmation prompt")
	pruneCmd.Flags().Bool("dry-run", false, "Show what would be deleted without actually deleting")
	pruneCmd.Flags().Int("timeout", 1800, "Timeout in seconds for the operation (default: 30 minutes)")
}
