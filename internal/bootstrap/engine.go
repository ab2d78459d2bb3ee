// Package bootstrap runs the indexing pipeline: a fixed phase order with
// fail-fast gates, budget governance, durable recovery checkpoints, and
// a persisted run report.
package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/indexd/internal/faults"
	"github.com/fyrsmithlabs/indexd/internal/fingerprint"
	"github.com/fyrsmithlabs/indexd/internal/governor"
	"github.com/fyrsmithlabs/indexd/internal/providers"
	"github.com/fyrsmithlabs/indexd/internal/recovery"
	"github.com/fyrsmithlabs/indexd/internal/sources"
	"github.com/fyrsmithlabs/indexd/internal/storage"
	"github.com/fyrsmithlabs/indexd/internal/vectorstore"
)

const (
	// reportsDirName holds per-phase governance usage reports.
	reportsDirName = "reports"

	indexFileName  = "index.db"
	vectorsDirName = "vectors"
)

// Options configures one bootstrap invocation.
type Options struct {
	// Workspace is the directory to index.
	Workspace string

	// IndexVersion pins the pipeline layout. Defaults to
	// DefaultIndexVersion.
	IndexVersion string

	// ForceResume resumes from a checkpoint even when the workspace
	// fingerprint drifted since it was written.
	ForceResume bool

	// Limits is the per-phase budget. The zero value is unlimited.
	Limits governor.Limits

	// Fingerprint filters which files count toward the workspace
	// fingerprint and discovery.
	Fingerprint fingerprint.Options

	// Checkpoint tunes durable-write throttling during long phases.
	Checkpoint recovery.WriterConfig

	// Providers selects extractor, embedder, and synthesizer.
	Providers providers.Config

	// Sources tunes the built-in ingestion sources.
	Sources sources.Config
}

// Engine executes bootstrap runs. One engine serves many workspaces;
// per-workspace exclusion comes from the registry and the lock.
type Engine struct {
	logger   *zap.Logger
	tracer   trace.Tracer
	registry *Registry
	recStore *recovery.Store
	gates    map[string]gateSet

	now      func() time.Time
	newRunID func() string

	// buildPhases is swapped in tests to run mock phases.
	buildPhases func(opts Options) []phase

	// openStore is swapped in tests to observe storage failures.
	openStore func(path string) (storage.Store, error)
}

// NewEngine creates a bootstrap engine.
func NewEngine(logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		logger:   logger.Named("bootstrap"),
		tracer:   otel.Tracer("indexd/bootstrap"),
		registry: NewRegistry(),
		recStore: recovery.NewStore(),
		gates:    defaultGates(),
		now:      time.Now,
		newRunID: func() string { return uuid.NewString() },
		buildPhases: func(opts Options) []phase {
			return defaultPhases(opts.Fingerprint)
		},
		openStore: func(path string) (storage.Store, error) {
			return storage.OpenSQLite(path)
		},
	}
}

// Registry exposes the engine's run registry for "is a bootstrap in
// progress" queries.
func (e *Engine) Registry() *Registry { return e.registry }

// Bootstrap runs the pipeline to completion or first failure. The
// returned report is non-nil whenever the run got far enough to start;
// on failure it is persisted alongside a recovery checkpoint pointing at
// the phase to resume.
func (e *Engine) Bootstrap(ctx context.Context, opts Options) (*RunReport, error) {
	ctx, span := e.tracer.Start(ctx, "bootstrap.Run")
	defer span.End()

	workspace, err := filepath.Abs(opts.Workspace)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace path: %w", err)
	}
	opts.Workspace = workspace
	if opts.IndexVersion == "" {
		opts.IndexVersion = DefaultIndexVersion
	}
	if info, err := os.Stat(workspace); err != nil || !info.IsDir() {
		return nil, fmt.Errorf("workspace %s is not an accessible directory", workspace)
	}

	runID := e.newRunID()
	logger := e.logger.With(zap.String("workspace", workspace), zap.String("run_id", runID))
	span.SetAttributes(attribute.String("bootstrap.workspace", workspace))

	if err := e.registry.Begin(RunInfo{RunID: runID, Workspace: workspace, StartedAt: e.now()}); err != nil {
		return nil, err
	}
	defer e.registry.End(workspace)

	lock, err := acquireLock(workspace, runID, logger)
	if err != nil {
		return nil, err
	}
	defer lock.release()

	store, err := e.openStore(filepath.Join(workspace, recovery.IndexDirName, indexFileName))
	if err != nil {
		return nil, fmt.Errorf("opening index storage: %w", err)
	}
	defer store.Close()

	fp, err := fingerprint.Compute(workspace, opts.Fingerprint)
	if err != nil {
		return nil, fmt.Errorf("fingerprinting workspace: %w", err)
	}

	phases := e.buildPhases(opts)
	report := &RunReport{
		RunID:        runID,
		Workspace:    workspace,
		IndexVersion: opts.IndexVersion,
		StartedAt:    e.now(),
	}

	start, resumeWarnings := e.resumePoint(workspace, opts, fp, len(phases))
	report.Resumed = start > 0
	report.Warnings = append(report.Warnings, resumeWarnings...)
	for i := 0; i < start; i++ {
		report.Phases = append(report.Phases, PhaseReport{
			Name:   phases[i].Name(),
			Status: PhaseStatusSkipped,
		})
	}

	env := &phaseEnv{
		workspace: workspace,
		logger:    logger,
		store:     store,
		state:     &pipeline{},
	}
	if err := e.wireProviders(env, opts, logger); err != nil {
		return nil, err
	}

	template := recovery.State{
		Workspace:    workspace,
		IndexVersion: opts.IndexVersion,
		TotalPhases:  len(phases),
		StartedAt:    report.StartedAt,
		Fingerprint:  &fp,
	}
	env.template = template
	checkpoint := recovery.NewCheckpointWriter(e.recStore, template, opts.Checkpoint)
	env.checkpoint = checkpoint

	usage := &governor.RunUsage{}
	logger.Info("bootstrap starting",
		zap.Int("phases", len(phases)),
		zap.Int("start_phase", start),
		zap.Bool("resumed", report.Resumed))

	if start > 0 {
		env.phaseIndex = start
		env.phaseName = phases[start].Name()
		if err := e.rehydratePipeline(ctx, report, env, opts, phases[:start]); err != nil {
			return e.fail(ctx, report, env, usage, fmt.Errorf("rehydrating pipeline state: %w", err))
		}
	}

	for i := start; i < len(phases); i++ {
		p := phases[i]
		env.phaseIndex = i
		env.phaseName = p.Name()

		if err := e.writeRecovery(workspace, template, i, p.Name(), ""); err != nil {
			return e.fail(ctx, report, env, usage, fmt.Errorf("persisting recovery state: %w", err))
		}

		if err := e.runPhase(ctx, report, env, usage, i, p, opts.Limits, runID); err != nil {
			return e.fail(ctx, report, env, usage, err)
		}

		if i+1 < len(phases) {
			if err := e.writeRecovery(workspace, template, i+1, phases[i+1].Name(), ""); err != nil {
				return e.fail(ctx, report, env, usage, fmt.Errorf("persisting recovery state: %w", err))
			}
		}
	}

	if err := e.recStore.Clear(workspace); err != nil {
		return e.fail(ctx, report, env, usage, fmt.Errorf("clearing recovery state: %w", err))
	}
	// The staged edges were committed by the relationships phase; a
	// leftover staging area would only be dead weight.
	if err := store.ClearStagedEdges(ctx); err != nil {
		logger.Warn("clearing staged edges failed", zap.Error(err))
	}

	e.finishReport(ctx, report, env, usage)
	report.Success = true

	fpJSON, err := json.Marshal(fp)
	if err != nil {
		return e.fail(ctx, report, env, usage, fmt.Errorf("encoding fingerprint: %w", err))
	}
	if err := store.PutMetadata(ctx, storage.Metadata{
		Workspace:       workspace,
		IndexVersion:    opts.IndexVersion,
		Fingerprint:     fpJSON,
		LastBootstrapAt: e.now(),
	}); err != nil {
		return e.fail(ctx, report, env, usage, fmt.Errorf("persisting index metadata: %w", err))
	}
	e.persistReport(ctx, env.store, report, logger)

	logger.Info("bootstrap complete",
		zap.Int("files", report.TotalFilesProcessed),
		zap.Duration("elapsed", report.FinishedAt.Sub(report.StartedAt)))
	return report, nil
}

// runPhase executes one phase between its gates under a fresh governor.
func (e *Engine) runPhase(ctx context.Context, report *RunReport, env *phaseEnv,
	usage *governor.RunUsage, index int, p phase, limits governor.Limits, runID string) (err error) {

	ctx, span := e.tracer.Start(ctx, "bootstrap.phase",
		trace.WithAttributes(attribute.String("phase.name", p.Name())))
	defer span.End()

	gates := e.gates[p.Name()]
	fatal, warns := checkGates(ctx, gates.pre, env)
	report.Warnings = append(report.Warnings, findingMessages(warns)...)
	if len(fatal) > 0 {
		return gateFailure(p.Name(), fatal)
	}

	gov := governor.New(limits)
	env.gov = gov
	started := e.now()

	// The usage report is written whatever the outcome; it is the audit
	// trail for budget tuning.
	defer func() {
		snap := gov.Snapshot()
		usage.Add(snap.Used)
		outcome := PhaseStatusCompleted
		if err != nil {
			outcome = string(faults.KindOf(err))
			if outcome == "" {
				outcome = PhaseStatusFailed
			}
		}
		e.writeUsageReport(env.workspace, usageReport{
			RunID:      runID,
			Workspace:  env.workspace,
			PhaseIndex: index,
			PhaseName:  p.Name(),
			Outcome:    outcome,
			Snapshot:   snap,
			WrittenAt:  e.now(),
		}, env.logger)
	}()

	result, err := p.Run(ctx, env)
	if err != nil {
		report.Phases = append(report.Phases, PhaseReport{
			Name:     p.Name(),
			Status:   PhaseStatusFailed,
			Duration: e.now().Sub(started),
		})
		return err
	}

	fatal, warns = checkGates(ctx, gates.post, env)
	report.Warnings = append(report.Warnings, findingMessages(warns)...)
	if len(fatal) > 0 {
		report.Phases = append(report.Phases, PhaseReport{
			Name:     p.Name(),
			Status:   PhaseStatusFailed,
			Items:    result.Items,
			Duration: e.now().Sub(started),
		})
		return gateFailure(p.Name(), fatal)
	}

	if err := env.checkpoint.Flush(); err != nil {
		env.logger.Warn("checkpoint flush failed", zap.Error(err))
	}

	report.Phases = append(report.Phases, PhaseReport{
		Name:     p.Name(),
		Status:   PhaseStatusCompleted,
		Items:    result.Items,
		Duration: e.now().Sub(started),
		Warnings: result.Warnings,
	})
	report.Warnings = append(report.Warnings, result.Warnings...)
	if p.Name() == PhaseExtraction {
		report.TotalFilesProcessed = result.Items
	}
	return nil
}

// resumePoint decides where the run starts. Invalid or drifted
// checkpoints are cleared; only a fingerprint-matching checkpoint (or an
// explicit force) resumes.
func (e *Engine) resumePoint(workspace string, opts Options, fp fingerprint.Fingerprint, totalPhases int) (int, []string) {
	state, err := e.recStore.Read(workspace)
	if err != nil || state == nil {
		return 0, nil
	}

	stale := func(reason string) (int, []string) {
		e.logger.Warn("discarding stale recovery state",
			zap.String("workspace", workspace), zap.String("reason", reason))
		if err := e.recStore.Clear(workspace); err != nil {
			e.logger.Warn("clearing stale recovery state failed", zap.Error(err))
		}
		return 0, []string{fmt.Sprintf("%s: %s, starting fresh", faults.KindRecoveryStale, reason)}
	}

	switch {
	case state.Workspace != workspace:
		return stale("checkpoint belongs to a different workspace")
	case state.IndexVersion != opts.IndexVersion:
		return stale(fmt.Sprintf("checkpoint index version %s, want %s", state.IndexVersion, opts.IndexVersion))
	case state.TotalPhases != totalPhases:
		return stale(fmt.Sprintf("checkpoint has %d phases, pipeline has %d", state.TotalPhases, totalPhases))
	case state.PhaseIndex < 0 || state.PhaseIndex >= totalPhases:
		return stale(fmt.Sprintf("checkpoint phase index %d out of range", state.PhaseIndex))
	}

	if state.Fingerprint == nil || !fingerprint.Match(*state.Fingerprint, fp) {
		if !opts.ForceResume {
			return stale("workspace changed since checkpoint")
		}
		e.logger.Warn("resuming despite workspace drift",
			zap.String("workspace", workspace), zap.Int("phase", state.PhaseIndex))
		return state.PhaseIndex, []string{"resume forced with drifted fingerprint, index may miss recent changes"}
	}

	return state.PhaseIndex, nil
}

// wireProviders builds the phase collaborators from options.
func (e *Engine) wireProviders(env *phaseEnv, opts Options, logger *zap.Logger) error {
	extractor, err := providers.NewExtractor(opts.Providers)
	if err != nil {
		return err
	}
	embedder, err := providers.NewEmbedder(opts.Providers)
	if err != nil {
		return err
	}
	synth, err := providers.NewSynthesizer(opts.Providers)
	if err != nil {
		return err
	}

	env.extractor = extractor
	env.embedder = embedder
	env.synth = synth
	env.sources = sources.All(opts.Sources)

	if embedder != nil {
		vectors, err := vectorstore.NewSemanticStore(vectorstore.Config{
			Path:       filepath.Join(opts.Workspace, recovery.IndexDirName, vectorsDirName),
			VectorSize: embedder.Dimension(),
		}, logger)
		if err != nil {
			return fmt.Errorf("opening vector store: %w", err)
		}
		env.vectors = vectors
	}
	return nil
}

// rehydratePipeline rebuilds the in-memory cross-phase state a resumed
// run never produced. The discovery listing is recomputed, which is
// cheap and consistent with the matched fingerprint; entities and staged
// edges come back from storage when extraction already ran.
func (e *Engine) rehydratePipeline(ctx context.Context, report *RunReport, env *phaseEnv,
	opts Options, completed []phase) error {

	files, err := fingerprint.ListFiles(env.workspace, opts.Fingerprint)
	if err != nil {
		return fmt.Errorf("relisting workspace files: %w", err)
	}

	var (
		entities []storage.Entity
		edges    []storage.Edge
	)
	for _, p := range completed {
		if p.Name() != PhaseExtraction {
			continue
		}
		if entities, err = env.store.ListEntities(ctx); err != nil {
			return fmt.Errorf("reloading entities: %w", err)
		}
		if edges, err = env.store.ListStagedEdges(ctx); err != nil {
			return fmt.Errorf("reloading staged edges: %w", err)
		}
		report.TotalFilesProcessed = len(files)
	}

	env.state.mu.Lock()
	env.state.files = files
	env.state.entities = entities
	env.state.edges = edges
	env.state.mu.Unlock()

	env.logger.Info("pipeline state rehydrated",
		zap.Int("files", len(files)),
		zap.Int("entities", len(entities)),
		zap.Int("staged_edges", len(edges)))
	return nil
}

// fail is the single failure exit: flush the checkpoint, persist a
// recovery state carrying the error, persist the failed report, and
// return the tagged error.
func (e *Engine) fail(ctx context.Context, report *RunReport, env *phaseEnv,
	usage *governor.RunUsage, cause error) (*RunReport, error) {

	if err := env.checkpoint.Flush(); err != nil {
		env.logger.Warn("checkpoint flush failed during failure handling", zap.Error(err))
	}

	state := env.template
	state.PhaseIndex = env.phaseIndex
	state.PhaseName = env.phaseName
	state.LastError = cause.Error()
	if pos := env.checkpoint.Snapshot(); pos.PhaseName != "" && pos.PhaseIndex == env.phaseIndex {
		state.PhaseName = pos.PhaseName
		state.Progress = &pos.Progress
	}
	if err := e.writeRecoveryState(report.Workspace, &state); err != nil {
		env.logger.Error("persisting failure recovery state failed", zap.Error(err))
	}

	e.finishReport(ctx, report, env, usage)
	report.Success = false
	report.FailureKind = faults.KindOf(cause)
	report.Error = cause.Error()
	e.persistReport(ctx, env.store, report, env.logger)

	env.logger.Error("bootstrap failed",
		zap.String("kind", string(report.FailureKind)),
		zap.Error(cause))
	return report, cause
}

// finishReport stamps timing, usage, capabilities, and next steps.
func (e *Engine) finishReport(ctx context.Context, report *RunReport, env *phaseEnv, usage *governor.RunUsage) {
	report.FinishedAt = e.now()
	report.Usage = usage.Total()
	report.Capabilities = e.capabilities(ctx, env)

	if !report.Capabilities.SemanticSearch {
		report.NextSteps = append(report.NextSteps, "configure an embedder to enable semantic search")
	}
	if !report.Capabilities.History {
		report.NextSteps = append(report.NextSteps, "run inside a version-controlled workspace to index commit history")
	}
}

// capabilities claims only what the stored data actually backs.
func (e *Engine) capabilities(ctx context.Context, env *phaseEnv) Capabilities {
	caps := Capabilities{}
	counts, err := env.store.GetCounts(ctx)
	if err != nil {
		env.logger.Warn("reading index counts failed", zap.Error(err))
		return caps
	}
	caps.RelationshipGraph = counts.Edges > 0
	caps.Summaries = counts.Summaries > 0
	caps.History = counts.Commits > 0
	if env.vectors != nil {
		if n, err := env.vectors.Count(); err == nil && n > 0 {
			caps.SemanticSearch = true
		}
	}
	return caps
}

// persistReport stores the run report; report persistence failures are
// logged, not fatal, so the caller still gets the in-memory report.
func (e *Engine) persistReport(ctx context.Context, store storage.Store, report *RunReport, logger *zap.Logger) {
	data, err := json.Marshal(report)
	if err != nil {
		logger.Error("encoding run report failed", zap.Error(err))
		return
	}
	if err := store.PutRunReport(ctx, data); err != nil {
		logger.Error("persisting run report failed", zap.Error(err))
	}
}

// writeRecovery persists a phase-transition checkpoint.
func (e *Engine) writeRecovery(workspace string, template recovery.State, phaseIndex int, phaseName, lastError string) error {
	state := template
	state.PhaseIndex = phaseIndex
	state.PhaseName = phaseName
	state.UpdatedAt = e.now()
	state.LastError = lastError
	return e.writeRecoveryState(workspace, &state)
}

func (e *Engine) writeRecoveryState(workspace string, state *recovery.State) error {
	return e.recStore.Write(workspace, state)
}

// writeUsageReport writes the per-phase governance audit file.
func (e *Engine) writeUsageReport(workspace string, rep usageReport, logger *zap.Logger) {
	dir := filepath.Join(workspace, recovery.IndexDirName, reportsDirName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		logger.Warn("creating reports directory failed", zap.Error(err))
		return
	}
	data, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		logger.Warn("encoding usage report failed", zap.Error(err))
		return
	}
	name := fmt.Sprintf("%s-%02d-%s.json", rep.RunID, rep.PhaseIndex, rep.PhaseName)
	if err := os.WriteFile(filepath.Join(dir, name), data, 0o600); err != nil {
		logger.Warn("writing usage report failed", zap.Error(err))
	}
}

func findingMessages(findings []Finding) []string {
	msgs := make([]string, len(findings))
	for i, f := range findings {
		msgs[i] = fmt.Sprintf("%s: %s", f.Gate, f.Message)
	}
	return msgs
}
