package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/dustin/go-humanize"
	"github.com/harun/concierge/internal/daemon"
	"github.com/harun/concierge/pkg/knowledge"
	"github.com/spf13/cobra"
)

var indexCmd = &cobra.Command{
	Use:   "index",
	Short: "Build the knowledge index and print its stats",
	Long: `Sync the knowledge index with its source files. Unchanged files are
skipped, deleted files are pruned.`,
	Args: cobra.NoArgs,
	RunE: runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	d, log, err := openDaemon(cmd, true)
	if err != nil {
		return err
	}
	defer closeDaemon(d, log)

	stats, err := d.Sync(commandContext(cmd))
	if errors.Is(err, daemon.ErrIndexDisabled) {
		return fmt.Errorf("%w: set knowledge.index to true to build it", err)
	}
	if err != nil {
		return err
	}

	status, err := d.IndexStatus()
	if err != nil {
		return err
	}

	printIndexReport(cmd, d.Config().Knowledge.DBPath, stats, status)
	return nil
}

func printIndexReport(cmd *cobra.Command, dbPath string, stats knowledge.SyncStats, status knowledge.Status) {
	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Indexed: %d, skipped: %d, failed: %d, pruned: %d\n",
		stats.Indexed, stats.Skipped, stats.Failed, stats.Pruned)
	fmt.Fprintf(out, "Files: %d\n", status.Files)
	fmt.Fprintf(out, "Passages: %s\n", humanize.Comma(int64(status.Passages)))

	search := "keyword"
	if status.Vectors {
		search = "hybrid (vector + keyword)"
	}
	fmt.Fprintf(out, "Search: %s\n", search)

	if info, err := os.Stat(dbPath); err == nil {
		fmt.Fprintf(out, "Database: %s (%s)\n", dbPath, humanize.Bytes(uint64(info.Size())))
	}
	if status.LastSync != nil {
		fmt.Fprintf(out, "Last sync: %s\n", humanize.Time(*status.LastSync))
	}
}
