package bootstrap

import (
	"time"

	"github.com/fyrsmithlabs/indexd/internal/faults"
	"github.com/fyrsmithlabs/indexd/internal/governor"
)

// Capabilities reports which query features the finished index actually
// backs with data. A capability is claimed only when its table is
// non-empty.
type Capabilities struct {
	SemanticSearch    bool `json:"semantic_search"`
	RelationshipGraph bool `json:"relationship_graph"`
	Summaries         bool `json:"summaries"`
	History           bool `json:"history"`
}

// PhaseReport is one phase's slice of the run report.
type PhaseReport struct {
	Name     string        `json:"name"`
	Status   string        `json:"status"`
	Items    int           `json:"items"`
	Duration time.Duration `json:"duration_ms"`
	Warnings []string      `json:"warnings,omitempty"`
}

// Phase statuses used in run reports.
const (
	PhaseStatusCompleted = "completed"
	PhaseStatusFailed    = "failed"
	PhaseStatusSkipped   = "skipped"
)

// RunReport summarizes one bootstrap invocation. Persisted to storage on
// both success and failure; the previous report is replaced.
type RunReport struct {
	RunID        string `json:"run_id"`
	Workspace    string `json:"workspace"`
	IndexVersion string `json:"index_version"`

	Success     bool        `json:"success"`
	Resumed     bool        `json:"resumed"`
	FailureKind faults.Kind `json:"failure_kind,omitempty"`
	Error       string      `json:"error,omitempty"`

	StartedAt  time.Time `json:"started_at"`
	FinishedAt time.Time `json:"finished_at"`

	Phases              []PhaseReport  `json:"phases"`
	TotalFilesProcessed int            `json:"total_files_processed"`
	Usage               governor.Usage `json:"usage"`

	Capabilities Capabilities `json:"capabilities"`
	Warnings     []string     `json:"warnings,omitempty"`
	NextSteps    []string     `json:"next_steps,omitempty"`
}

// usageReport is the per-phase governance audit record written under
// .indexd/reports/.
type usageReport struct {
	RunID      string            `json:"run_id"`
	Workspace  string            `json:"workspace"`
	PhaseIndex int               `json:"phase_index"`
	PhaseName  string            `json:"phase_name"`
	Outcome    string            `json:"outcome"`
	Snapshot   governor.Snapshot `json:"snapshot"`
	WrittenAt  time.Time         `json:"written_at"`
}
