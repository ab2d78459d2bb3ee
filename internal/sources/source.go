// Package sources produces ingestion items from the artifacts living
// alongside the code: VCS history, ownership declarations, and test
// layout. Each source emits items for the ingestion transaction; it
// never writes to storage itself.
package sources

import (
	"context"

	"github.com/fyrsmithlabs/indexd/internal/ingest"
)

// Source collects ingestion items from one workspace artifact. Sources
// whose artifact is absent (no VCS, no CODEOWNERS) return no items and
// no error.
type Source interface {
	// Name identifies the source in logs and run reports.
	Name() string

	// Collect gathers items from the workspace rooted at root.
	Collect(ctx context.Context, root string) ([]ingest.Item, error)
}

// Config tunes the built-in sources.
type Config struct {
	// MaxCommits caps how much history the git source reads.
	// Default 200.
	MaxCommits int
}

// All returns the built-in sources in their collection order.
func All(cfg Config) []Source {
	return []Source{
		NewGitHistorySource(cfg.MaxCommits),
		NewOwnershipSource(),
		NewTestMappingSource(),
	}
}
