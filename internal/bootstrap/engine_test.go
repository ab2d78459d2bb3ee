package bootstrap

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/indexd/internal/faults"
	"github.com/fyrsmithlabs/indexd/internal/fingerprint"
	"github.com/fyrsmithlabs/indexd/internal/governor"
	"github.com/fyrsmithlabs/indexd/internal/recovery"
)

// mockPhase counts its invocations. Phases run sequentially, so a plain
// int is safe.
type mockPhase struct {
	name  string
	calls int
	err   error
	items int
}

func (m *mockPhase) Name() string { return m.name }

func (m *mockPhase) Run(_ context.Context, _ *phaseEnv) (phaseResult, error) {
	m.calls++
	return phaseResult{Items: m.items}, m.err
}

// fatalGate always reports a fatal finding.
type fatalGate struct{}

func (fatalGate) Name() string { return "always-fatal" }

func (fatalGate) Check(_ context.Context, _ *phaseEnv) []Finding {
	return []Finding{{Gate: "always-fatal", Fatal: true, Message: "postcondition not met"}}
}

func newMockEngine(t *testing.T, phases []*mockPhase) *Engine {
	t.Helper()
	e := NewEngine(zaptest.NewLogger(t))
	e.gates = map[string]gateSet{}
	e.buildPhases = func(Options) []phase {
		built := make([]phase, len(phases))
		for i, p := range phases {
			built[i] = p
		}
		return built
	}
	return e
}

func fiveMockPhases() []*mockPhase {
	names := PhaseNames(DefaultIndexVersion)
	phases := make([]*mockPhase, len(names))
	for i, name := range names {
		phases[i] = &mockPhase{name: name}
	}
	return phases
}

func writeWorkspaceFile(t *testing.T, root, rel, content string) {
	t.Helper()
	path := filepath.Join(root, rel)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func newWorkspace(t *testing.T) string {
	t.Helper()
	root := t.TempDir()
	writeWorkspaceFile(t, root, "main.go", "package main\n\nfunc main() {}\n")
	writeWorkspaceFile(t, root, "util.go", "package main\n\nfunc helper() int { return 1 }\n")
	writeWorkspaceFile(t, root, "util_test.go", "package main\n\nfunc TestHelper(t *testing.T) {}\n")
	return root
}

func TestBootstrap_ResumesFromCheckpointedPhase(t *testing.T) {
	root := newWorkspace(t)
	fp, err := fingerprint.Compute(root, fingerprint.Options{})
	require.NoError(t, err)

	require.NoError(t, recovery.NewStore().Write(root, &recovery.State{
		IndexVersion: DefaultIndexVersion,
		PhaseIndex:   2,
		PhaseName:    PhaseRelationships,
		TotalPhases:  5,
		StartedAt:    time.Now().Add(-time.Hour),
		Fingerprint:  &fp,
	}))

	phases := fiveMockPhases()
	e := newMockEngine(t, phases)

	report, err := e.Bootstrap(context.Background(), Options{Workspace: root})
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.True(t, report.Resumed)

	assert.Equal(t, 0, phases[0].calls)
	assert.Equal(t, 0, phases[1].calls)
	assert.Equal(t, 1, phases[2].calls)
	assert.Equal(t, 1, phases[3].calls)
	assert.Equal(t, 1, phases[4].calls)

	assert.Equal(t, PhaseStatusSkipped, report.Phases[0].Status)
	assert.Equal(t, PhaseStatusCompleted, report.Phases[2].Status)
}

func TestBootstrap_DriftedFingerprintStartsFresh(t *testing.T) {
	root := newWorkspace(t)
	stale := fingerprint.Fingerprint{FileListHash: "deadbeef", FileCount: 99, LatestMtime: 1}

	require.NoError(t, recovery.NewStore().Write(root, &recovery.State{
		IndexVersion: DefaultIndexVersion,
		PhaseIndex:   2,
		TotalPhases:  5,
		Fingerprint:  &stale,
	}))

	phases := fiveMockPhases()
	e := newMockEngine(t, phases)

	report, err := e.Bootstrap(context.Background(), Options{Workspace: root})
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.False(t, report.Resumed)

	for _, p := range phases {
		assert.Equal(t, 1, p.calls, "phase %s", p.name)
	}
	require.NotEmpty(t, report.Warnings)
	assert.Contains(t, report.Warnings[0], string(faults.KindRecoveryStale))
}

func TestBootstrap_ForceResumeOverridesDrift(t *testing.T) {
	root := newWorkspace(t)
	stale := fingerprint.Fingerprint{FileListHash: "deadbeef", FileCount: 99, LatestMtime: 1}

	require.NoError(t, recovery.NewStore().Write(root, &recovery.State{
		IndexVersion: DefaultIndexVersion,
		PhaseIndex:   3,
		TotalPhases:  5,
		Fingerprint:  &stale,
	}))

	phases := fiveMockPhases()
	e := newMockEngine(t, phases)

	report, err := e.Bootstrap(context.Background(), Options{Workspace: root, ForceResume: true})
	require.NoError(t, err)
	assert.True(t, report.Resumed)
	assert.Equal(t, 0, phases[0].calls)
	assert.Equal(t, 0, phases[2].calls)
	assert.Equal(t, 1, phases[3].calls)
	require.NotEmpty(t, report.Warnings)
	assert.Contains(t, report.Warnings[0], "forced")
}

func TestBootstrap_FatalPostconditionStopsPipeline(t *testing.T) {
	root := newWorkspace(t)
	phases := fiveMockPhases()
	e := newMockEngine(t, phases)
	e.gates[PhaseExtraction] = gateSet{post: []gate{fatalGate{}}}

	report, err := e.Bootstrap(context.Background(), Options{Workspace: root})
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindPhaseFatal))
	require.NotNil(t, report)
	assert.False(t, report.Success)
	assert.Equal(t, faults.KindPhaseFatal, report.FailureKind)

	// The pipeline must stop dead: later phases never execute.
	assert.Equal(t, 1, phases[0].calls)
	assert.Equal(t, 1, phases[1].calls)
	assert.Equal(t, 0, phases[2].calls)
	assert.Equal(t, 0, phases[3].calls)
	assert.Equal(t, 0, phases[4].calls)

	// The checkpoint points at the failed phase for the next invocation.
	state, readErr := recovery.NewStore().Read(root)
	require.NoError(t, readErr)
	require.NotNil(t, state)
	assert.Equal(t, 1, state.PhaseIndex)
	assert.Equal(t, PhaseExtraction, state.PhaseName)
	assert.NotEmpty(t, state.LastError)
	require.NotNil(t, state.Fingerprint)
}

func TestBootstrap_PhaseErrorPersistsRecoveryAndReport(t *testing.T) {
	root := newWorkspace(t)
	phases := fiveMockPhases()
	phases[2].err = faults.New(faults.KindProviderUnavailable, "embedding service down")
	e := newMockEngine(t, phases)

	report, err := e.Bootstrap(context.Background(), Options{Workspace: root})
	require.Error(t, err)
	assert.Equal(t, faults.KindProviderUnavailable, report.FailureKind)
	assert.Equal(t, 0, phases[3].calls)

	state, readErr := recovery.NewStore().Read(root)
	require.NoError(t, readErr)
	require.NotNil(t, state)
	assert.Equal(t, 2, state.PhaseIndex)
	assert.Equal(t, PhaseRelationships, state.PhaseName)
	assert.Contains(t, state.LastError, "embedding service down")
}

func TestBootstrap_ResumeAtExtractionRebuildsFileListing(t *testing.T) {
	root := newWorkspace(t)
	fp, err := fingerprint.Compute(root, fingerprint.Options{})
	require.NoError(t, err)

	// A checkpoint pointing at extraction, as left behind by a crash
	// after discovery completed. No in-memory listing survives a crash,
	// so the resumed run must rebuild it.
	require.NoError(t, recovery.NewStore().Write(root, &recovery.State{
		IndexVersion: DefaultIndexVersion,
		PhaseIndex:   1,
		PhaseName:    PhaseExtraction,
		TotalPhases:  5,
		Fingerprint:  &fp,
	}))

	report, err := NewEngine(zaptest.NewLogger(t)).Bootstrap(context.Background(), Options{Workspace: root})
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.True(t, report.Resumed)
	assert.Equal(t, 3, report.TotalFilesProcessed)
	assert.True(t, report.Capabilities.RelationshipGraph)
	assert.True(t, report.Capabilities.Summaries)
}

func TestBootstrap_ResumeAfterExtractionKeepsStagedResults(t *testing.T) {
	root := newWorkspace(t)
	ctx := context.Background()

	// Baseline full run on an identical workspace.
	baseline, err := NewEngine(zaptest.NewLogger(t)).Bootstrap(ctx, Options{Workspace: newWorkspace(t)})
	require.NoError(t, err)
	require.Positive(t, baseline.Phases[2].Items)
	require.Positive(t, baseline.Phases[4].Items)

	// The first attempt runs real discovery and extraction, then dies at
	// relationships, leaving committed entities and staged edges behind.
	failing := NewEngine(zaptest.NewLogger(t))
	failing.buildPhases = func(opts Options) []phase {
		phases := defaultPhases(opts.Fingerprint)
		phases[2] = &mockPhase{name: PhaseRelationships,
			err: faults.New(faults.KindProviderUnavailable, "graph backend down")}
		return phases
	}
	_, err = failing.Bootstrap(ctx, Options{Workspace: root})
	require.Error(t, err)

	state, err := recovery.NewStore().Read(root)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, 2, state.PhaseIndex)
	assert.Equal(t, PhaseRelationships, state.PhaseName)

	// The resumed run must produce the same index a fresh run would.
	report, err := NewEngine(zaptest.NewLogger(t)).Bootstrap(ctx, Options{Workspace: root})
	require.NoError(t, err)
	assert.True(t, report.Resumed)
	assert.Equal(t, PhaseStatusSkipped, report.Phases[0].Status)
	assert.Equal(t, PhaseStatusSkipped, report.Phases[1].Status)
	assert.Equal(t, baseline.TotalFilesProcessed, report.TotalFilesProcessed)
	assert.Equal(t, baseline.Capabilities, report.Capabilities)

	relationships := report.Phases[2]
	assert.Equal(t, PhaseStatusCompleted, relationships.Status)
	assert.Equal(t, baseline.Phases[2].Items, relationships.Items)

	synthesis := report.Phases[4]
	assert.Equal(t, PhaseStatusCompleted, synthesis.Status)
	assert.Equal(t, baseline.Phases[4].Items, synthesis.Items)
}

func TestBootstrap_BudgetExhaustionTagsRun(t *testing.T) {
	root := newWorkspace(t)
	e := NewEngine(zaptest.NewLogger(t))

	report, err := e.Bootstrap(context.Background(), Options{
		Workspace: root,
		Limits:    governor.Limits{MaxFilesPerPhase: 1},
	})
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindBudgetExhausted))
	require.NotNil(t, report)
	assert.Equal(t, faults.KindBudgetExhausted, report.FailureKind)
}

func TestBootstrap_EndToEnd(t *testing.T) {
	root := newWorkspace(t)
	e := NewEngine(zaptest.NewLogger(t))
	ctx := context.Background()

	before, err := e.IsBootstrapRequired(ctx, Options{Workspace: root})
	require.NoError(t, err)
	assert.True(t, before.Required)

	report, err := e.Bootstrap(ctx, Options{Workspace: root})
	require.NoError(t, err)
	assert.True(t, report.Success)
	assert.Equal(t, 3, report.TotalFilesProcessed)
	assert.False(t, report.Resumed)
	assert.Empty(t, report.Error)

	// Success clears the recovery checkpoint.
	state, err := recovery.NewStore().Read(root)
	require.NoError(t, err)
	assert.Nil(t, state)

	// The heuristic pipeline backs graph, summaries, and semantic search
	// for this workspace; there is no VCS history.
	assert.True(t, report.Capabilities.RelationshipGraph)
	assert.True(t, report.Capabilities.Summaries)
	assert.True(t, report.Capabilities.SemanticSearch)
	assert.False(t, report.Capabilities.History)

	// Governance usage reports were written for every phase.
	entries, err := os.ReadDir(filepath.Join(root, recovery.IndexDirName, reportsDirName))
	require.NoError(t, err)
	assert.Len(t, entries, 5)

	after, err := e.IsBootstrapRequired(ctx, Options{Workspace: root})
	require.NoError(t, err)
	assert.False(t, after.Required)

	status, err := e.Status(ctx, Options{Workspace: root})
	require.NoError(t, err)
	assert.Nil(t, status.Pending)
	require.NotNil(t, status.LastReport)
	assert.Equal(t, report.RunID, status.LastReport.RunID)
}

func TestBootstrap_RequiredAgainAfterWorkspaceChange(t *testing.T) {
	root := newWorkspace(t)
	e := NewEngine(zaptest.NewLogger(t))
	ctx := context.Background()

	_, err := e.Bootstrap(ctx, Options{Workspace: root})
	require.NoError(t, err)

	writeWorkspaceFile(t, root, "new.go", "package main\n")

	req, err := e.IsBootstrapRequired(ctx, Options{Workspace: root})
	require.NoError(t, err)
	assert.True(t, req.Required)
	assert.Contains(t, req.Reason, "changed")
}

func TestRegistry_RejectsConcurrentRuns(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Begin(RunInfo{RunID: "a", Workspace: "/ws"}))
	require.Error(t, r.Begin(RunInfo{RunID: "b", Workspace: "/ws"}))

	info, ok := r.Active("/ws")
	require.True(t, ok)
	assert.Equal(t, "a", info.RunID)

	r.End("/ws")
	_, ok = r.Active("/ws")
	assert.False(t, ok)
	require.NoError(t, r.Begin(RunInfo{RunID: "b", Workspace: "/ws"}))
}

func TestWorkspaceLock_ExcludesSecondHolder(t *testing.T) {
	root := t.TempDir()
	logger := zaptest.NewLogger(t)

	lock, err := acquireLock(root, "run-1", logger)
	require.NoError(t, err)

	_, err = acquireLock(root, "run-2", logger)
	require.ErrorIs(t, err, ErrWorkspaceLocked)

	lock.release()
	lock2, err := acquireLock(root, "run-3", logger)
	require.NoError(t, err)
	lock2.release()
}

func TestWorkspaceLock_ReclaimsDeadHolder(t *testing.T) {
	root := t.TempDir()
	logger := zaptest.NewLogger(t)

	// A pid above the kernel's pid ceiling can never be alive.
	path := filepath.Join(root, recovery.IndexDirName, lockFileName)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte(`{"pid": 999999999, "run_id": "ghost"}`), 0o600))

	lock, err := acquireLock(root, "run-1", logger)
	require.NoError(t, err)
	lock.release()
}

func TestGatesDefaultWiring(t *testing.T) {
	gates := defaultGates()
	assert.NotEmpty(t, gates[PhaseDiscovery].pre)
	assert.NotEmpty(t, gates[PhaseDiscovery].post)
	assert.NotEmpty(t, gates[PhaseExtraction].post)
}
