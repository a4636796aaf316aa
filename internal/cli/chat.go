package cli

import (
	"github.com/spf13/cobra"
)

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the concierge in the terminal",
	Long: `Start an interactive session on stdin/stdout.
Type a question per line; quit, exit or q ends the session.`,
	Args: cobra.NoArgs,
	RunE: runChat,
}

func init() {
	rootCmd.AddCommand(chatCmd)
}

func runChat(cmd *cobra.Command, args []string) error {
	d, log, err := openDaemon(cmd, true)
	if err != nil {
		return err
	}
	defer closeDaemon(d, log)

	return d.Chat(commandContext(cmd), cmd.InOrStdin(), cmd.OutOrStdout())
}
