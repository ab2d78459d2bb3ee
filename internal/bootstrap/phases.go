package bootstrap

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/fyrsmithlabs/indexd/internal/fingerprint"
	"github.com/fyrsmithlabs/indexd/internal/governor"
	"github.com/fyrsmithlabs/indexd/internal/ingest"
	"github.com/fyrsmithlabs/indexd/internal/providers"
	"github.com/fyrsmithlabs/indexd/internal/recovery"
	"github.com/fyrsmithlabs/indexd/internal/sources"
	"github.com/fyrsmithlabs/indexd/internal/storage"
	"github.com/fyrsmithlabs/indexd/internal/vectorstore"
)

// Phase names, in pipeline order.
const (
	PhaseDiscovery     = "discovery"
	PhaseExtraction    = "extraction"
	PhaseRelationships = "relationships"
	PhaseEnrichment    = "enrichment"
	PhaseSynthesis     = "synthesis"
)

// DefaultIndexVersion is the current pipeline layout version. A stored
// checkpoint from a different version never resumes.
const DefaultIndexVersion = "v1"

// PhaseNames returns the canonical phase order for an index version.
func PhaseNames(indexVersion string) []string {
	// Only one layout exists so far; the version gate still matters for
	// resume validity when the list changes.
	return []string{
		PhaseDiscovery,
		PhaseExtraction,
		PhaseRelationships,
		PhaseEnrichment,
		PhaseSynthesis,
	}
}

// phaseResult is what one phase reports back to the engine.
type phaseResult struct {
	// Items is the phase's unit count: files for discovery and
	// extraction, edges for relationships, ingestion items for
	// enrichment, summaries for synthesis.
	Items int

	Warnings []string
}

// phase is one pipeline stage. Phases run strictly in order; a later
// phase may rely on the pipeline state earlier phases populated.
type phase interface {
	Name() string
	Run(ctx context.Context, env *phaseEnv) (phaseResult, error)
}

// pipeline is the cross-phase accumulator. Later phases consume what
// earlier phases staged; a failed run never erases previously committed
// storage, only this in-memory staging is lost.
type pipeline struct {
	mu       sync.Mutex
	files    []string
	entities []storage.Entity
	edges    []storage.Edge
}

// phaseEnv is everything a phase body gets from the engine. The governor
// is fresh for every phase invocation.
type phaseEnv struct {
	workspace  string
	logger     *zap.Logger
	store      storage.Store
	vectors    *vectorstore.SemanticStore
	extractor  providers.Extractor
	embedder   providers.Embedder
	synth      providers.Synthesizer
	sources    []sources.Source
	gov        *governor.Governor
	checkpoint *recovery.CheckpointWriter
	phaseIndex int
	phaseName  string
	template   recovery.State
	state      *pipeline
}

// report pushes granular progress to the checkpoint writer. Throttling
// lives in the writer, so phases report every item.
func (env *phaseEnv) report(phaseName string, total, completed int, current string) {
	if env.checkpoint == nil {
		return
	}
	if err := env.checkpoint.Update(recovery.Position{
		PhaseIndex: env.phaseIndex,
		PhaseName:  phaseName,
		Progress: recovery.PhaseProgress{
			Total:       total,
			Completed:   completed,
			CurrentItem: current,
		},
	}); err != nil {
		env.logger.Warn("checkpoint update failed", zap.Error(err))
	}
}

// defaultPhases builds the standard pipeline.
func defaultPhases(fpOpts fingerprint.Options) []phase {
	return []phase{
		&discoveryPhase{opts: fpOpts},
		&extractionPhase{},
		&relationshipsPhase{},
		&enrichmentPhase{},
		&synthesisPhase{},
	}
}

// discoveryPhase enumerates the workspace files every later phase works
// from, using the same filters the fingerprint saw.
type discoveryPhase struct {
	opts fingerprint.Options
}

func (p *discoveryPhase) Name() string { return PhaseDiscovery }

func (p *discoveryPhase) Run(ctx context.Context, env *phaseEnv) (phaseResult, error) {
	if err := env.gov.CheckBudget(); err != nil {
		return phaseResult{}, err
	}
	files, err := fingerprint.ListFiles(env.workspace, p.opts)
	if err != nil {
		return phaseResult{}, fmt.Errorf("listing workspace files: %w", err)
	}
	for i, f := range files {
		if err := env.gov.EnterFile(f); err != nil {
			return phaseResult{}, err
		}
		env.report(PhaseDiscovery, len(files), i+1, f)
	}

	env.state.mu.Lock()
	env.state.files = files
	env.state.mu.Unlock()

	env.logger.Info("discovery complete", zap.Int("files", len(files)))
	return phaseResult{Items: len(files)}, nil
}

// extractionPhase extracts entities from every discovered file over a
// worker pool bounded by the governor, commits entities, and stages
// edges for the relationships phase. Workers finish in any order; the
// merged slices are sorted before commit so the result is
// order-independent.
type extractionPhase struct{}

func (p *extractionPhase) Name() string { return PhaseExtraction }

func (p *extractionPhase) Run(ctx context.Context, env *phaseEnv) (phaseResult, error) {
	env.state.mu.Lock()
	files := env.state.files
	env.state.mu.Unlock()

	var (
		mu        sync.Mutex
		entities  []storage.Entity
		edges     []storage.Edge
		warnings  []string
		completed int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(env.gov.Workers())
	for _, file := range files {
		g.Go(func() error {
			if err := env.gov.CheckBudget(); err != nil {
				return err
			}
			content, err := os.ReadFile(filepath.Join(env.workspace, filepath.FromSlash(file)))
			if err != nil {
				// Files can vanish between discovery and extraction.
				mu.Lock()
				warnings = append(warnings, fmt.Sprintf("skipped unreadable file %s: %v", file, err))
				completed++
				mu.Unlock()
				return nil
			}
			if err := env.gov.EnterFile(file); err != nil {
				return err
			}
			extraction, err := env.extractor.Extract(gctx, file, content)
			if err != nil {
				return fmt.Errorf("extracting %s: %w", file, err)
			}
			if err := env.gov.AddTokens(int64(extraction.Tokens)); err != nil {
				return err
			}

			mu.Lock()
			entities = append(entities, extraction.Entities...)
			edges = append(edges, extraction.Edges...)
			completed++
			done := completed
			mu.Unlock()
			env.report(PhaseExtraction, len(files), done, file)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return phaseResult{}, err
	}

	sort.Slice(entities, func(i, j int) bool { return entities[i].ID < entities[j].ID })
	if err := env.store.UpsertEntities(ctx, entities); err != nil {
		return phaseResult{}, fmt.Errorf("committing entities: %w", err)
	}
	// Edges go to the durable staging area so a run resumed before the
	// relationships commit can reload them.
	if err := env.store.StageEdges(ctx, edges); err != nil {
		return phaseResult{}, fmt.Errorf("staging edges: %w", err)
	}

	env.state.mu.Lock()
	env.state.entities = entities
	env.state.edges = edges
	env.state.mu.Unlock()

	env.logger.Info("extraction complete",
		zap.Int("files", len(files)),
		zap.Int("entities", len(entities)),
		zap.Int("staged_edges", len(edges)))
	return phaseResult{Items: len(files), Warnings: warnings}, nil
}

// relationshipsPhase commits the edges extraction staged.
type relationshipsPhase struct{}

func (p *relationshipsPhase) Name() string { return PhaseRelationships }

func (p *relationshipsPhase) Run(ctx context.Context, env *phaseEnv) (phaseResult, error) {
	if err := env.gov.CheckBudget(); err != nil {
		return phaseResult{}, err
	}

	env.state.mu.Lock()
	edges := env.state.edges
	env.state.mu.Unlock()

	sort.Slice(edges, func(i, j int) bool {
		a, b := edges[i], edges[j]
		if a.FromID != b.FromID {
			return a.FromID < b.FromID
		}
		if a.ToID != b.ToID {
			return a.ToID < b.ToID
		}
		return a.EdgeType < b.EdgeType
	})
	if err := env.store.UpsertEdges(ctx, edges); err != nil {
		return phaseResult{}, fmt.Errorf("committing edges: %w", err)
	}
	env.report(PhaseRelationships, len(edges), len(edges), "")

	env.logger.Info("relationships complete", zap.Int("edges", len(edges)))
	return phaseResult{Items: len(edges)}, nil
}

// enrichmentPhase runs every ingestion source through the transactional
// ingest path. A source rejecting its batch fails the phase; sources
// with nothing to offer are skipped.
type enrichmentPhase struct{}

func (p *enrichmentPhase) Name() string { return PhaseEnrichment }

func (p *enrichmentPhase) Run(ctx context.Context, env *phaseEnv) (phaseResult, error) {
	tx := ingest.NewTransaction(env.store, env.logger)

	stored := 0
	var warnings []string
	for i, src := range env.sources {
		if err := env.gov.CheckBudget(); err != nil {
			return phaseResult{}, err
		}
		items, err := src.Collect(ctx, env.workspace)
		if err != nil {
			return phaseResult{}, fmt.Errorf("collecting from %s: %w", src.Name(), err)
		}
		if len(items) == 0 {
			warnings = append(warnings, fmt.Sprintf("source %s produced no items", src.Name()))
			continue
		}
		result, err := tx.ApplyBatch(ctx, items)
		if err != nil {
			return phaseResult{}, err
		}
		stored += result.StoredCount
		env.report(PhaseEnrichment, len(env.sources), i+1, src.Name())
	}

	env.logger.Info("enrichment complete", zap.Int("items", stored))
	return phaseResult{Items: stored, Warnings: warnings}, nil
}

// synthesisPhase generates entity summaries and stores their embeddings
// for semantic lookup. Missing collaborators degrade the phase with a
// warning instead of failing the run.
type synthesisPhase struct{}

func (p *synthesisPhase) Name() string { return PhaseSynthesis }

func (p *synthesisPhase) Run(ctx context.Context, env *phaseEnv) (phaseResult, error) {
	if env.synth == nil || !env.synth.Available() {
		return phaseResult{Warnings: []string{"synthesizer unavailable, summaries skipped"}}, nil
	}

	env.state.mu.Lock()
	entities := env.state.entities
	env.state.mu.Unlock()

	var (
		summarized int
		warnings   []string
		docs       []vectorstore.Document
		texts      []string
	)
	for i, entity := range entities {
		if err := env.gov.CheckBudget(); err != nil {
			return phaseResult{}, err
		}
		summary, err := env.synth.Summarize(ctx, entity)
		if err != nil {
			return phaseResult{}, fmt.Errorf("summarizing %s: %w", entity.ID, err)
		}
		if summary == "" {
			continue
		}
		if err := env.gov.AddTokens(int64(len(summary) / 4)); err != nil {
			return phaseResult{}, err
		}
		if err := env.store.UpdateEntitySummary(ctx, entity.ID, summary); err != nil {
			return phaseResult{}, fmt.Errorf("storing summary for %s: %w", entity.ID, err)
		}
		summarized++
		docs = append(docs, vectorstore.Document{
			ID:      entity.ID,
			Content: summary,
			Metadata: map[string]string{
				"kind": entity.Kind,
				"path": entity.Path,
			},
		})
		texts = append(texts, summary)
		env.report(PhaseSynthesis, len(entities), i+1, entity.ID)
	}

	switch {
	case env.embedder == nil || env.vectors == nil:
		warnings = append(warnings, "embedder unavailable, semantic search disabled")
	case len(docs) > 0:
		vectors, err := env.embedder.EmbedDocuments(ctx, texts)
		if err != nil {
			return phaseResult{}, err
		}
		for i := range docs {
			docs[i].Embedding = vectors[i]
		}
		if err := env.vectors.Put(ctx, docs); err != nil {
			return phaseResult{}, fmt.Errorf("storing embeddings: %w", err)
		}
	}

	env.logger.Info("synthesis complete",
		zap.Int("summaries", summarized),
		zap.Int("embedded", len(docs)))
	return phaseResult{Items: summarized, Warnings: warnings}, nil
}
