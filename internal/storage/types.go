// Package storage defines the index storage contract and its embedded
// SQLite implementation. The orchestrator and the ingestion transaction
// talk to the Store interface only; the query surface consumed by agents
// lives elsewhere.
package storage

import (
	"encoding/json"
	"time"
)

// Entity is an indexed code entity (function, module, file).
type Entity struct {
	ID        string    `json:"id"`
	Kind      string    `json:"kind"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	StartLine int       `json:"start_line,omitempty"`
	EndLine   int       `json:"end_line,omitempty"`
	Summary   string    `json:"summary,omitempty"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Edge is a directed relationship between two indexed entities. Upserts
// are idempotent on (FromID, ToID, EdgeType, SourceFile).
type Edge struct {
	FromID     string    `json:"from_id"`
	FromType   string    `json:"from_type"`
	ToID       string    `json:"to_id"`
	ToType     string    `json:"to_type"`
	EdgeType   string    `json:"edge_type"`
	SourceFile string    `json:"source_file"`
	SourceLine int       `json:"source_line,omitempty"`
	Confidence float64   `json:"confidence"`
	ComputedAt time.Time `json:"computed_at"`
}

// IngestionRecord is the persisted form of a validated ingestion item.
type IngestionRecord struct {
	ID            string          `json:"id"`
	SourceType    string          `json:"source_type"`
	SourceVersion string          `json:"source_version"`
	IngestedAt    time.Time       `json:"ingested_at"`
	Payload       json.RawMessage `json:"payload"`
	Metadata      json.RawMessage `json:"metadata,omitempty"`
}

// TestMapping is a materialized test-to-source relationship.
type TestMapping struct {
	TestPath   string  `json:"test_path"`
	SourcePath string  `json:"source_path"`
	Confidence float64 `json:"confidence"`
}

// CommitRecord is a materialized VCS commit with a classified category.
type CommitRecord struct {
	Hash        string    `json:"hash"`
	Author      string    `json:"author"`
	Message     string    `json:"message"`
	Category    string    `json:"category"`
	CommittedAt time.Time `json:"committed_at"`
}

// OwnershipScore is a materialized ownership fact for a path.
type OwnershipScore struct {
	Path  string  `json:"path"`
	Owner string  `json:"owner"`
	Score float64 `json:"score"`
}

// Metadata is the per-workspace index metadata record.
type Metadata struct {
	Workspace       string          `json:"workspace"`
	IndexVersion    string          `json:"index_version"`
	Fingerprint     json.RawMessage `json:"fingerprint,omitempty"`
	LastBootstrapAt time.Time       `json:"last_bootstrap_at"`
}

// Batch groups heterogeneous records for a single transactional apply.
// Either every record in the batch is persisted or none are.
type Batch struct {
	Entities   []Entity
	Edges      []Edge
	Ingestions []IngestionRecord
	Tests      []TestMapping
	Commits    []CommitRecord
	Ownership  []OwnershipScore
}

// Size returns the number of records in the batch.
func (b Batch) Size() int {
	return len(b.Entities) + len(b.Edges) + len(b.Ingestions) +
		len(b.Tests) + len(b.Commits) + len(b.Ownership)
}

// Counts summarizes stored volumes, used for the capabilities summary.
type Counts struct {
	Entities   int `json:"entities"`
	Edges      int `json:"edges"`
	Ingestions int `json:"ingestions"`
	Tests      int `json:"tests"`
	Commits    int `json:"commits"`
	Ownership  int `json:"ownership"`
	Summaries  int `json:"summaries"`
}
