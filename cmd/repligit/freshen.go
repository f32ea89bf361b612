package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"
)

var (
	freshenWorkers   int
	freshenOlderThan time.Duration
)

var freshenCmd = &cobra.Command{
	Use:   "freshen",
	Short: "Update the oldest mirrors",
	Long: `Fetch every local mirror whose last fetch is older than the cutoff.
A mirror that has never been fetched counts as infinitely old.

Examples:
  repligit freshen                    # Mirrors untouched for a day
  repligit freshen --older-than 1h    # Mirrors untouched for an hour`,
	Args: cobra.NoArgs,
	RunE: runFreshen,
}

func init() {
	freshenCmd.Flags().IntVarP(&freshenWorkers, "workers", "j", 0, "Number of git subprocesses to use (overrides config)")
	freshenCmd.Flags().DurationVar(&freshenOlderThan, "older-than", 24*time.Hour, "Cut off age")
}

func runFreshen(cmd *cobra.Command, args []string) error {
	st, err := buildStack(freshenWorkers)
	if err != nil {
		return err
	}

	ids, err := st.store.OlderThan(freshenOlderThan)
	if err != nil {
		return err
	}
	if len(ids) == 0 {
		st.pool.Shutdown()
		fmt.Println("All mirrors are fresh.")
		return nil
	}

	if err := st.submitAll(cmd.Context(), ids, false); err != nil {
		return err
	}
	return st.drainAndReport(ids)
}
