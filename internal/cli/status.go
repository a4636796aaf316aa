package cli

import (
	"fmt"
	"os"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/harun/concierge/internal/daemon"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show whether concierge serve is running",
	Long:  `Show the status of a "concierge serve" process using its PID file.`,
	Args:  cobra.NoArgs,
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func lifecycleManager() (*daemon.LifecycleManager, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	return daemon.NewLifecycleManager(cfg.DataDir, zerolog.Nop()), nil
}

func runStatus(cmd *cobra.Command, args []string) error {
	lm, err := lifecycleManager()
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()

	if !lm.IsRunning() {
		fmt.Fprintln(out, "Status: stopped")
		return nil
	}

	pid, err := lm.GetPID()
	if err != nil {
		return fmt.Errorf("failed to read PID file: %w", err)
	}

	fmt.Fprintf(out, "Status: running\n")
	fmt.Fprintf(out, "PID: %d\n", pid)

	// The PID file is written at startup, so its mtime is the start time.
	if info, err := os.Stat(lm.PIDFile()); err == nil {
		started := info.ModTime()
		fmt.Fprintf(out, "Uptime: %s (started %s)\n", formatDuration(time.Since(started)), humanize.Time(started))
	}

	return nil
}

func formatDuration(d time.Duration) string {
	d = d.Round(time.Second)
	h := d / time.Hour
	d -= h * time.Hour
	m := d / time.Minute
	d -= m * time.Minute
	s := d / time.Second

	if h > 0 {
		return fmt.Sprintf("%dh%dm%ds", h, m, s)
	}
	if m > 0 {
		return fmt.Sprintf("%dm%ds", m, s)
	}
	return fmt.Sprintf("%ds", s)
}
