package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fyrsmithlabs/indexd/internal/recovery"
)

// Status is a point-in-time view of a workspace's index.
type Status struct {
	Workspace string `json:"workspace"`

	// Pending is the recovery checkpoint of an interrupted run, nil when
	// the last run finished cleanly.
	Pending *recovery.State `json:"pending,omitempty"`

	Requirement Requirement `json:"requirement"`

	// LastReport is the most recent persisted run report, nil before the
	// first completed run.
	LastReport *RunReport `json:"last_report,omitempty"`
}

// Status inspects a workspace without mutating anything.
func (e *Engine) Status(ctx context.Context, opts Options) (*Status, error) {
	workspace, err := filepath.Abs(opts.Workspace)
	if err != nil {
		return nil, fmt.Errorf("resolving workspace path: %w", err)
	}
	opts.Workspace = workspace

	status := &Status{Workspace: workspace}

	status.Pending, err = e.recStore.Read(workspace)
	if err != nil {
		return nil, fmt.Errorf("reading recovery state: %w", err)
	}

	status.Requirement, err = e.IsBootstrapRequired(ctx, opts)
	if err != nil {
		return nil, err
	}

	dbPath := filepath.Join(workspace, recovery.IndexDirName, indexFileName)
	if _, err := os.Stat(dbPath); err == nil {
		store, err := e.openStore(dbPath)
		if err != nil {
			return nil, fmt.Errorf("opening index storage: %w", err)
		}
		defer store.Close()

		data, err := store.GetRunReport(ctx)
		if err != nil {
			return nil, fmt.Errorf("reading run report: %w", err)
		}
		if len(data) > 0 {
			var report RunReport
			if err := json.Unmarshal(data, &report); err == nil {
				status.LastReport = &report
			}
		}
	}
	return status, nil
}
