// Package providers defines the external collaborator contracts the
// bootstrap phases call into: entity extraction, summary embedding, and
// summary synthesis. Failures are tagged so the orchestrator can report
// a provider outage differently from bad provider output.
package providers

import (
	"context"
	"fmt"

	"github.com/fyrsmithlabs/indexd/internal/faults"
	"github.com/fyrsmithlabs/indexd/internal/storage"
)

// Extraction is the result of extracting one source file.
type Extraction struct {
	Entities []storage.Entity
	Edges    []storage.Edge

	// Tokens is the approximate token cost of the extraction, charged
	// against the governor's token budget.
	Tokens int
}

// Extractor turns source file contents into entities and edges.
type Extractor interface {
	// Extract parses one file. Path is workspace-relative.
	Extract(ctx context.Context, path string, content []byte) (Extraction, error)

	// Name identifies the extractor in logs and run reports.
	Name() string
}

// Embedder produces vectors for entity summaries.
type Embedder interface {
	// EmbedDocuments embeds a batch of texts, one vector per text.
	EmbedDocuments(ctx context.Context, texts []string) ([][]float32, error)

	// Dimension returns the embedding dimension.
	Dimension() int
}

// Synthesizer generates a natural-language summary for an entity.
type Synthesizer interface {
	// Summarize produces a one-paragraph summary of the entity.
	Summarize(ctx context.Context, entity storage.Entity) (string, error)

	// Available reports whether the synthesizer can produce summaries.
	// Unavailable synthesizers degrade the run instead of failing it.
	Available() bool
}

// Config selects provider implementations.
type Config struct {
	// Extractor is the extractor type. Only "heuristic" is built in.
	Extractor string

	// Embedder is the embedder type: "static" (offline, deterministic)
	// or "disabled".
	Embedder string

	// EmbedderDimension overrides the static embedder's vector size.
	EmbedderDimension int

	// EmbedderRateLimit caps embedding calls per second. Zero disables
	// throttling.
	EmbedderRateLimit float64

	// Synthesizer is the synthesizer type: "heuristic" or "disabled".
	Synthesizer string
}

// NewExtractor creates an extractor from configuration.
func NewExtractor(cfg Config) (Extractor, error) {
	switch cfg.Extractor {
	case "heuristic", "":
		return NewHeuristicExtractor(), nil
	default:
		return nil, fmt.Errorf("unknown extractor %q", cfg.Extractor)
	}
}

// NewEmbedder creates an embedder from configuration. A disabled
// embedder returns nil; callers skip embedding work entirely.
func NewEmbedder(cfg Config) (Embedder, error) {
	var embedder Embedder
	switch cfg.Embedder {
	case "static", "":
		embedder = NewStaticEmbedder(cfg.EmbedderDimension)
	case "disabled":
		return nil, nil
	default:
		return nil, fmt.Errorf("unknown embedder %q", cfg.Embedder)
	}
	if cfg.EmbedderRateLimit > 0 {
		embedder = NewRateLimitedEmbedder(embedder, cfg.EmbedderRateLimit)
	}
	return embedder, nil
}

// NewSynthesizer creates a synthesizer from configuration.
func NewSynthesizer(cfg Config) (Synthesizer, error) {
	switch cfg.Synthesizer {
	case "heuristic", "":
		return &HeuristicSynthesizer{}, nil
	case "disabled":
		return &NoOpSynthesizer{}, nil
	default:
		return nil, fmt.Errorf("unknown synthesizer %q", cfg.Synthesizer)
	}
}

// NoOpSynthesizer produces no summaries. Used when synthesis is
// disabled; the synthesis phase records the degradation and moves on.
type NoOpSynthesizer struct{}

func (n *NoOpSynthesizer) Summarize(_ context.Context, _ storage.Entity) (string, error) {
	return "", nil
}

func (n *NoOpSynthesizer) Available() bool { return false }

// checkEmbeddings validates a provider's embedding output against the
// request. Wrong counts or dimensions are tagged as invalid output.
func checkEmbeddings(vectors [][]float32, texts []string, dimension int) error {
	if len(vectors) != len(texts) {
		return faults.New(faults.KindProviderInvalidOutput,
			"embedder returned %d vectors for %d texts", len(vectors), len(texts))
	}
	for i, vec := range vectors {
		if len(vec) != dimension {
			return faults.New(faults.KindProviderInvalidOutput,
				"embedding %d has %d dimensions, want %d", i, len(vec), dimension)
		}
	}
	return nil
}

var _ Synthesizer = (*NoOpSynthesizer)(nil)
