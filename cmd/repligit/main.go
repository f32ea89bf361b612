package main

import (
	"os"

	"github.com/spf13/cobra"
)

// Version is set via ldflags at build time
var Version = "dev"

var configPath string

var rootCmd = &cobra.Command{
	Use:   "repligit",
	Short: "Maintain local mirrors of GitHub repositories",
	Long: `Repligit keeps bare git mirrors of GitHub repositories on local disk.

  * mirror arbitrary GitHub repositories
  * mirror every repository under an owner with owner/* patterns
  * serve a webhook endpoint that keeps mirrors current automatically`,
	Example: `  # Run the mirror service: webhook intake plus periodic reconciliation
  repligit serve

  # Mirror a repository and a whole organization once
  repligit fetch torvalds/linux acme-org/*

  # Update mirrors that have not been fetched for a day
  repligit freshen --older-than 24h

  # Show the state of every known mirror
  repligit status`,
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "",
		"Path to config file (default: ./config.yaml, then /etc/repligit/config.yaml)")

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(fetchCmd)
	rootCmd.AddCommand(syncCmd)
	rootCmd.AddCommand(freshenCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
