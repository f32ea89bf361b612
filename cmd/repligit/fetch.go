package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/repligit/repligit/internal/identifier"
)

var fetchWorkers int

var fetchCmd = &cobra.Command{
	Use:   "fetch PATTERN...",
	Short: "Fetch repositories into the mirror",
	Long: `Create or update local mirrors for every repository matching the given
patterns, then exit. A pattern is either a full repository name
(owner/name) or an owner wildcard (owner/*) expanded through the GitHub
API.

Examples:
  repligit fetch torvalds/linux
  repligit fetch acme-org/*
  repligit fetch acme-org/* other-org/tool --workers 8`,
	Args: cobra.MinimumNArgs(1),
	RunE: runFetch,
}

func init() {
	fetchCmd.Flags().IntVarP(&fetchWorkers, "workers", "j", 0, "Number of git subprocesses to use (overrides config)")
}

func runFetch(cmd *cobra.Command, args []string) error {
	patterns, err := identifier.ParsePatterns(args)
	if err != nil {
		return err
	}

	st, err := buildStack(fetchWorkers)
	if err != nil {
		return err
	}

	ctx := cmd.Context()
	ids, err := st.resolve(ctx, patterns)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		st.pool.Shutdown()
		fmt.Println("No repositories matched.")
		return nil
	}

	st.reviveRemoved(ids)
	if err := st.submitAll(ctx, ids, false); err != nil {
		return err
	}
	return st.drainAndReport(ids)
}
