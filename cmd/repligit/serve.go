package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/repligit/repligit/internal/server"
)

var (
	servePort int
	serveMode string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the mirror service",
	Long: `Start the long-running mirror service: a webhook endpoint that reacts
to GitHub events, a reconciliation pass over the configured selection on a
fixed interval, and the worker pool that performs the git transfers.

Examples:
  repligit serve                       # Use the configured port
  repligit serve --port 9000           # Override the port
  repligit serve --mode production     # Quiet router, JSON-friendly

Environment variables:
  REPLIGIT_SERVER_PORT      Server port (default: 8470)
  REPLIGIT_DATABASE_DRIVER  Database driver: sqlite, postgres
  REPLIGIT_DATABASE_DSN     Database connection string
  REPLIGIT_GITHUB_TOKEN     GitHub API token used for fetching
  REPLIGIT_WEBHOOK_SECRET   Shared secret for webhook deliveries`,
	Args: cobra.NoArgs,
	Run:  runServe,
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 0, "Port to run server on (overrides config)")
	serveCmd.Flags().StringVarP(&serveMode, "mode", "m", "", "Run mode: development or production (overrides config)")
}

func runServe(cmd *cobra.Command, args []string) {
	cfg := server.Config{
		ConfigPath: configPath,
		Port:       servePort,
		Mode:       serveMode,
		Version:    Version,
	}

	if err := server.RunWithSignalHandling(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}
