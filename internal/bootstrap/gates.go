package bootstrap

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/fyrsmithlabs/indexd/internal/faults"
)

// Finding is one gate verdict. Fatal findings abort the run; the rest
// land in the run report's warnings.
type Finding struct {
	Gate    string
	Fatal   bool
	Message string
}

// gate is a pre- or postcondition check around a phase. Gates inspect
// the environment and pipeline state; they never mutate either.
type gate interface {
	Name() string
	Check(ctx context.Context, env *phaseEnv) []Finding
}

// gateSet holds the checks run around one phase.
type gateSet struct {
	pre  []gate
	post []gate
}

// defaultGates wires the standard checks per phase name.
func defaultGates() map[string]gateSet {
	return map[string]gateSet{
		PhaseDiscovery: {
			pre:  []gate{workspaceReadableGate{}},
			post: []gate{filesDiscoveredGate{}},
		},
		PhaseExtraction: {
			pre:  []gate{filesDiscoveredGate{}},
			post: []gate{entitiesExtractedGate{}},
		},
		PhaseRelationships: {
			post: []gate{edgesPresentGate{}},
		},
		PhaseSynthesis: {
			pre: []gate{synthesizerAvailableGate{}},
		},
	}
}

// checkGates runs a gate list and splits the findings.
func checkGates(ctx context.Context, gates []gate, env *phaseEnv) (fatal, warnings []Finding) {
	for _, g := range gates {
		for _, f := range g.Check(ctx, env) {
			if f.Fatal {
				fatal = append(fatal, f)
			} else {
				warnings = append(warnings, f)
			}
		}
	}
	return fatal, warnings
}

// gateFailure aggregates fatal findings into one tagged error.
func gateFailure(phaseName string, findings []Finding) error {
	msgs := make([]string, len(findings))
	for i, f := range findings {
		msgs[i] = fmt.Sprintf("[%s] %s", f.Gate, f.Message)
	}
	return faults.New(faults.KindPhaseFatal, "phase %s gate failure: %s",
		phaseName, strings.Join(msgs, "; ")).WithDetails(msgs)
}

// workspaceReadableGate verifies the workspace is an accessible
// directory before anything tries to walk it.
type workspaceReadableGate struct{}

func (workspaceReadableGate) Name() string { return "workspace-readable" }

func (g workspaceReadableGate) Check(_ context.Context, env *phaseEnv) []Finding {
	info, err := os.Stat(env.workspace)
	switch {
	case err != nil:
		return []Finding{{Gate: g.Name(), Fatal: true,
			Message: fmt.Sprintf("workspace not accessible: %v", err)}}
	case !info.IsDir():
		return []Finding{{Gate: g.Name(), Fatal: true,
			Message: fmt.Sprintf("workspace %s is not a directory", env.workspace)}}
	}
	return nil
}

// filesDiscoveredGate requires a non-empty file listing. An index built
// from nothing would be served as if it were complete.
type filesDiscoveredGate struct{}

func (filesDiscoveredGate) Name() string { return "files-discovered" }

func (g filesDiscoveredGate) Check(_ context.Context, env *phaseEnv) []Finding {
	env.state.mu.Lock()
	n := len(env.state.files)
	env.state.mu.Unlock()
	if n == 0 {
		return []Finding{{Gate: g.Name(), Fatal: true,
			Message: "no indexable files discovered"}}
	}
	return nil
}

// entitiesExtractedGate requires extraction to have produced entities
// for a non-empty file set.
type entitiesExtractedGate struct{}

func (entitiesExtractedGate) Name() string { return "entities-extracted" }

func (g entitiesExtractedGate) Check(_ context.Context, env *phaseEnv) []Finding {
	env.state.mu.Lock()
	files, entities := len(env.state.files), len(env.state.entities)
	env.state.mu.Unlock()
	if files > 0 && entities == 0 {
		return []Finding{{Gate: g.Name(), Fatal: true,
			Message: fmt.Sprintf("%d files discovered but no entities extracted", files)}}
	}
	return nil
}

// edgesPresentGate warns when the graph came out empty. Single-file
// workspaces legitimately have no edges, so this is never fatal.
type edgesPresentGate struct{}

func (edgesPresentGate) Name() string { return "edges-present" }

func (g edgesPresentGate) Check(_ context.Context, env *phaseEnv) []Finding {
	env.state.mu.Lock()
	n := len(env.state.edges)
	env.state.mu.Unlock()
	if n == 0 {
		return []Finding{{Gate: g.Name(),
			Message: "no relationships extracted, graph queries will be empty"}}
	}
	return nil
}

// synthesizerAvailableGate warns when summaries will be skipped.
type synthesizerAvailableGate struct{}

func (synthesizerAvailableGate) Name() string { return "synthesizer-available" }

func (g synthesizerAvailableGate) Check(_ context.Context, env *phaseEnv) []Finding {
	if env.synth == nil || !env.synth.Available() {
		return []Finding{{Gate: g.Name(),
			Message: "synthesizer unavailable, summaries will be skipped"}}
	}
	return nil
}
