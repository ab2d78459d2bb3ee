// Package recovery persists bootstrap progress so an interrupted run can
// resume at the phase it reached instead of starting over.
package recovery

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/fyrsmithlabs/indexd/internal/fingerprint"
)

// schemaVersion guards against reading checkpoints written by an
// incompatible indexd build. A mismatch degrades to "no recovery state".
const schemaVersion = 1

const (
	// IndexDirName is the reserved directory for all indexd state inside
	// a workspace.
	IndexDirName = ".indexd"

	recoveryFileName = "recovery.json"
)

// PhaseProgress tracks granular progress inside one phase.
type PhaseProgress struct {
	Total       int    `json:"total"`
	Completed   int    `json:"completed"`
	CurrentItem string `json:"current_item,omitempty"`
}

// State records where the last run got to. Created when a run begins,
// updated after every phase transition and periodically during long
// phases, deleted on successful completion.
type State struct {
	SchemaVersion int    `json:"schema_version"`
	Workspace     string `json:"workspace"`
	IndexVersion  string `json:"index_version"`

	PhaseIndex  int    `json:"phase_index"`
	PhaseName   string `json:"phase_name"`
	TotalPhases int    `json:"total_phases"`

	StartedAt time.Time `json:"started_at"`
	UpdatedAt time.Time `json:"updated_at"`

	Fingerprint *fingerprint.Fingerprint `json:"fingerprint,omitempty"`
	Progress    *PhaseProgress           `json:"phase_progress,omitempty"`
	LastError   string                   `json:"last_error,omitempty"`
}

// Store reads and writes the per-workspace recovery checkpoint.
type Store struct{}

// NewStore creates a recovery store.
func NewStore() *Store {
	return &Store{}
}

// Path returns the checkpoint location for a workspace.
func (s *Store) Path(workspace string) string {
	return filepath.Join(workspace, IndexDirName, recoveryFileName)
}

// Read loads the recovery state for a workspace. A missing, malformed, or
// schema-incompatible file returns (nil, nil): a corrupted checkpoint
// forces a fresh run, never an error.
func (s *Store) Read(workspace string) (*State, error) {
	data, err := os.ReadFile(s.Path(workspace))
	if err != nil {
		return nil, nil
	}

	var state State
	if err := json.Unmarshal(data, &state); err != nil {
		return nil, nil
	}
	if state.SchemaVersion != schemaVersion {
		return nil, nil
	}
	return &state, nil
}

// Write atomically persists the recovery state: serialize to a temp file
// in the same directory, then rename over the canonical path. A reader
// never observes a half-written file.
func (s *Store) Write(workspace string, state *State) error {
	state.SchemaVersion = schemaVersion
	state.Workspace = workspace
	state.UpdatedAt = time.Now().UTC()

	data, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling recovery state: %w", err)
	}

	path := s.Path(workspace)
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return fmt.Errorf("creating index directory: %w", err)
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, data, 0o600); err != nil {
		return fmt.Errorf("writing recovery state: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("renaming recovery state: %w", err)
	}
	return nil
}

// Clear removes the recovery checkpoint. Missing files are fine.
func (s *Store) Clear(workspace string) error {
	err := os.Remove(s.Path(workspace))
	if err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("clearing recovery state: %w", err)
	}
	return nil
}
