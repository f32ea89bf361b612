// Package resolver expands selection patterns into the concrete set of
// mirror identifiers they currently denote.
package resolver

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/repligit/repligit/internal/identifier"
)

// RepoLister lists the repositories that currently exist under an owner.
type RepoLister interface {
	ListOwnerRepos(ctx context.Context, owner string) ([]string, error)
}

// Resolver turns a selection into identifiers. Literal patterns pass
// through without a remote check; a literal that does not exist upstream
// simply fails its sync later. Wildcard patterns expand through the
// lister.
type Resolver struct {
	lister   RepoLister
	patterns []identifier.Pattern
	logger   *slog.Logger
}

// New creates a Resolver over the given patterns.
func New(lister RepoLister, patterns []identifier.Pattern, logger *slog.Logger) *Resolver {
	if logger == nil {
		logger = slog.Default()
	}
	return &Resolver{lister: lister, patterns: patterns, logger: logger}
}

// Patterns returns the selection this resolver expands.
func (r *Resolver) Patterns() []identifier.Pattern {
	return r.patterns
}

// Resolve returns the deduplicated, sorted identifier set for the
// selection. Any listing failure aborts the whole resolution: a partial
// result would silently shrink the target set. Repository names from the
// remote that do not fit the identifier grammar are skipped with a
// warning rather than failing the pass.
func (r *Resolver) Resolve(ctx context.Context) ([]identifier.Identifier, error) {
	seen := make(map[string]identifier.Identifier)

	for _, p := range r.patterns {
		if !p.Wildcard() {
			id := identifier.Identifier{Owner: p.Owner, Name: p.Name}
			seen[id.String()] = id
			continue
		}

		names, err := r.lister.ListOwnerRepos(ctx, p.Owner)
		if err != nil {
			return nil, fmt.Errorf("expanding %s: %w", p, err)
		}
		for _, name := range names {
			id, err := identifier.Parse(p.Owner + "/" + name)
			if err != nil {
				r.logger.Warn("skipping repository with unexpected name",
					"owner", p.Owner, "name", name)
				continue
			}
			seen[id.String()] = id
		}
	}

	ids := make([]identifier.Identifier, 0, len(seen))
	for _, id := range seen {
		ids = append(ids, id)
	}
	identifier.Sort(ids)
	return ids, nil
}
