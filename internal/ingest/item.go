// Package ingest validates and atomically commits batches of
// heterogeneous, externally-sourced facts into index storage.
//
// Items are untrusted input. Every item is validated structurally before
// any write; a single bad item rejects the whole batch.
package ingest

import "time"

// Well-known source types with materialization support. Other source
// types are stored generically.
const (
	SourceTypeTest      = "test"
	SourceTypeCommit    = "commit"
	SourceTypeOwnership = "ownership"
)

// Item is one externally-sourced fact: a test-to-source mapping, a commit
// record, an ownership score.
type Item struct {
	ID            string         `json:"id"`
	SourceType    string         `json:"source_type"`
	SourceVersion string         `json:"source_version"`
	IngestedAt    time.Time      `json:"ingested_at"`
	Payload       map[string]any `json:"payload"`
	Metadata      map[string]any `json:"metadata,omitempty"`
}

// testPayload is the expected payload shape for SourceTypeTest items.
type testPayload struct {
	Mappings []struct {
		TestPath   string  `json:"test_path"`
		SourcePath string  `json:"source_path"`
		Confidence float64 `json:"confidence"`
	} `json:"mappings"`
}

// commitPayload is the expected payload shape for SourceTypeCommit items.
type commitPayload struct {
	Hash        string    `json:"hash"`
	Author      string    `json:"author"`
	Message     string    `json:"message"`
	CommittedAt time.Time `json:"committed_at"`
}

// ownershipPayload is the expected payload shape for SourceTypeOwnership
// items.
type ownershipPayload struct {
	Scores []struct {
		Path  string  `json:"path"`
		Owner string  `json:"owner"`
		Score float64 `json:"score"`
	} `json:"scores"`
}
