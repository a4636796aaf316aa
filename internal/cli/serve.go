package cli

import (
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the HTTP, websocket and Telegram adapters",
	Long: `Run the concierge in the foreground with every adapter enabled in the
config. SIGINT or SIGTERM shuts it down gracefully; "concierge stop" sends
SIGTERM using the PID file.`,
	Args: cobra.NoArgs,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	d, log, err := openDaemon(cmd, false)
	if err != nil {
		return err
	}
	defer closeDaemon(d, log)

	return d.Serve(commandContext(cmd))
}
