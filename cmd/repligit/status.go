package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/repligit/repligit/internal/config"
	"github.com/repligit/repligit/internal/db"
	"github.com/repligit/repligit/internal/identifier"
	"github.com/repligit/repligit/internal/logger"
	"github.com/repligit/repligit/internal/mirror"
	"github.com/repligit/repligit/internal/models"
	"github.com/repligit/repligit/internal/registry"
)

var statusOutput string

var statusCmd = &cobra.Command{
	Use:   "status [PATTERN]",
	Short: "Show the state of known mirrors",
	Long: `Show every known mirror with its lifecycle state and timestamps.
Mirrors found on disk without a record are listed as unknown. Reads the
database directly; the server does not need to be running.

Examples:
  repligit status
  repligit status acme-org/*
  repligit status --output json`,
	Args: cobra.MaximumNArgs(1),
	RunE: runStatus,
}

func init() {
	statusCmd.Flags().StringVarP(&statusOutput, "output", "o", "table", "Output format: table, json, or yaml")
}

type statusRow struct {
	Identifier    string     `json:"identifier" yaml:"identifier"`
	State         string     `json:"state" yaml:"state"`
	LastAttemptAt *time.Time `json:"last_attempt_at,omitempty" yaml:"last_attempt_at,omitempty"`
	LastSuccessAt *time.Time `json:"last_success_at,omitempty" yaml:"last_success_at,omitempty"`
	FetchedAt     *time.Time `json:"fetched_at,omitempty" yaml:"fetched_at,omitempty"`
	LastError     string     `json:"last_error,omitempty" yaml:"last_error,omitempty"`
	OnDisk        bool       `json:"on_disk" yaml:"on_disk"`
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Init(cfg.Log.Format, cfg.Log.Level)

	var pat *identifier.Pattern
	if len(args) == 1 {
		p, err := identifier.ParsePattern(args[0])
		if err != nil {
			return err
		}
		pat = &p
	}

	database, err := db.New(cfg.Database)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	if err := db.Migrate(database); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	reg := registry.New(database, slog.Default())
	if err := reg.Load(); err != nil {
		return fmt.Errorf("failed to load mirror records: %w", err)
	}

	store, err := mirror.NewStore(mirror.Options{
		Root:     cfg.Mirror.Root,
		CloneURL: cfg.Mirror.CloneURL,
		User:     cfg.GitHub.User,
		Token:    cfg.GitHub.Token,
		Logger:   slog.Default(),
	})
	if err != nil {
		return fmt.Errorf("failed to initialize mirror store: %w", err)
	}

	rows := []statusRow{}
	known := make(map[string]bool)
	for _, rec := range reg.Snapshot() {
		if pat != nil && !pat.Match(rec.Identifier) {
			continue
		}
		known[rec.Identifier.String()] = true
		row := statusRow{
			Identifier:    rec.Identifier.String(),
			State:         string(rec.State),
			LastAttemptAt: rec.LastAttemptAt,
			LastSuccessAt: rec.LastSuccessAt,
			LastError:     rec.LastError,
			OnDisk:        store.Exists(rec.Identifier),
		}
		if t := store.FetchedAt(rec.Identifier); !t.IsZero() {
			row.FetchedAt = &t
		}
		rows = append(rows, row)
	}

	// Mirrors on disk that no record accounts for.
	var pats []identifier.Pattern
	if pat != nil {
		pats = append(pats, *pat)
	}
	onDisk, err := store.List(pats...)
	if err != nil {
		return err
	}
	for _, id := range onDisk {
		if known[id.String()] {
			continue
		}
		row := statusRow{
			Identifier: id.String(),
			State:      string(models.MirrorStateUnknown),
			OnDisk:     true,
		}
		if t := store.FetchedAt(id); !t.IsZero() {
			row.FetchedAt = &t
		}
		rows = append(rows, row)
	}

	sort.Slice(rows, func(i, j int) bool { return rows[i].Identifier < rows[j].Identifier })

	switch statusOutput {
	case "table":
		if len(rows) == 0 {
			fmt.Println("No mirrors found.")
			return nil
		}
		w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
		fmt.Fprintln(w, "MIRROR\tSTATE\tON DISK\tLAST SUCCESS\tLAST ERROR")
		for _, row := range rows {
			fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\n",
				row.Identifier,
				row.State,
				yesNo(row.OnDisk),
				formatTime(row.LastSuccessAt),
				row.LastError,
			)
		}
		w.Flush()
	case "json":
		data, err := json.MarshalIndent(rows, "", "  ")
		if err != nil {
			return fmt.Errorf("failed to marshal status: %w", err)
		}
		fmt.Println(string(data))
	case "yaml":
		data, err := yaml.Marshal(rows)
		if err != nil {
			return fmt.Errorf("failed to marshal status: %w", err)
		}
		fmt.Print(string(data))
	default:
		return fmt.Errorf("unknown output format %q (supported: table, json, yaml)", statusOutput)
	}
	return nil
}

func yesNo(b bool) string {
	if b {
		return "yes"
	}
	return "no"
}

func formatTime(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.Local().Format("2006-01-02 15:04:05")
}
