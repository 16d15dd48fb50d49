package cmd

import (
	"log/slog"
	"os"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/nfrund/namefeed/internal/logging"
)

var rootCmd = &cobra.Command{
	Use:   "namefeed",
	Short: "Receive names from a line-oriented device feed",
	Long: `namefeed connects to a device that sends newline-delimited names over TCP
or WebSocket, greets and stores every name it receives.

Available commands:
  listen    Connect to the device and print incoming names
  mock      Run a mock device that plays back a list of names
  names     List the names in a names file

Configuration is read from the environment and an optional .env file.

Use "namefeed [command] --help" for more information about a specific command.`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		// .env may carry LOG_FORMAT and LOG_LEVEL, so load it first.
		envErr := godotenv.Load()
		logging.New()
		if envErr != nil {
			slog.Debug("No .env file found, relying on environment variables")
		}
	},
}

// Execute executes the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
