package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/repligit/repligit/internal/identifier"
)

var syncWorkers int

var syncCmd = &cobra.Command{
	Use:   "sync [PATTERN...]",
	Short: "Reconcile local mirrors with GitHub",
	Long: `Fetch every repository matching the given patterns and, for owner
wildcards, delete local mirrors whose repository no longer exists
remotely. Literal patterns never delete anything. With no arguments the
configured selection is reconciled.

Examples:
  repligit sync                 # Reconcile the configured selection
  repligit sync acme-org/*      # Reconcile one organization`,
	RunE: runSync,
}

func init() {
	syncCmd.Flags().IntVarP(&syncWorkers, "workers", "j", 0, "Number of git subprocesses to use (overrides config)")
}

func runSync(cmd *cobra.Command, args []string) error {
	st, err := buildStack(syncWorkers)
	if err != nil {
		return err
	}

	var patterns []identifier.Pattern
	if len(args) > 0 {
		patterns, err = identifier.ParsePatterns(args)
	} else {
		patterns, err = st.cfg.Patterns()
	}
	if err != nil {
		return err
	}
	if len(patterns) == 0 {
		st.pool.Shutdown()
		fmt.Println("Nothing selected; pass patterns or configure a selection.")
		return nil
	}

	ctx := cmd.Context()
	ids, err := st.resolve(ctx, patterns)
	if err != nil {
		return err
	}

	// A local mirror under a wildcard owner with no remote counterpart
	// has been deleted or renamed upstream.
	remote := make(map[string]bool, len(ids))
	for _, id := range ids {
		remote[id.String()] = true
	}
	var stale []identifier.Identifier
	seen := make(map[string]bool)
	for _, p := range patterns {
		if !p.Wildcard() {
			continue
		}
		local, err := st.store.List(p)
		if err != nil {
			return err
		}
		for _, id := range local {
			if !remote[id.String()] && !seen[id.String()] {
				seen[id.String()] = true
				stale = append(stale, id)
			}
		}
	}
	identifier.Sort(stale)

	all := make([]identifier.Identifier, 0, len(ids)+len(stale))
	all = append(all, ids...)
	all = append(all, stale...)
	if len(all) == 0 {
		st.pool.Shutdown()
		fmt.Println("No repositories matched.")
		return nil
	}

	st.reviveRemoved(all)
	if err := st.submitAll(ctx, ids, false); err != nil {
		return err
	}
	if err := st.submitAll(ctx, stale, true); err != nil {
		return err
	}
	return st.drainAndReport(all)
}
