package bootstrap

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"github.com/fyrsmithlabs/indexd/internal/fingerprint"
	"github.com/fyrsmithlabs/indexd/internal/recovery"
)

// Requirement is the answer to "does this workspace need a bootstrap".
type Requirement struct {
	Required bool   `json:"required"`
	Reason   string `json:"reason"`
}

// IsBootstrapRequired compares the stored index metadata against a fresh
// workspace fingerprint. A missing index, an index built by a different
// pipeline version, or any fingerprint drift all require a run.
func (e *Engine) IsBootstrapRequired(ctx context.Context, opts Options) (Requirement, error) {
	workspace, err := filepath.Abs(opts.Workspace)
	if err != nil {
		return Requirement{}, fmt.Errorf("resolving workspace path: %w", err)
	}
	if opts.IndexVersion == "" {
		opts.IndexVersion = DefaultIndexVersion
	}

	dbPath := filepath.Join(workspace, recovery.IndexDirName, indexFileName)
	if _, err := os.Stat(dbPath); os.IsNotExist(err) {
		return Requirement{Required: true, Reason: "workspace has never been indexed"}, nil
	}

	store, err := e.openStore(dbPath)
	if err != nil {
		return Requirement{}, fmt.Errorf("opening index storage: %w", err)
	}
	defer store.Close()

	meta, err := store.GetMetadata(ctx)
	if err != nil {
		return Requirement{}, fmt.Errorf("reading index metadata: %w", err)
	}
	if meta == nil {
		return Requirement{Required: true, Reason: "index has no metadata, previous run never completed"}, nil
	}
	if meta.IndexVersion != opts.IndexVersion {
		return Requirement{Required: true,
			Reason: fmt.Sprintf("index built with version %s, current is %s", meta.IndexVersion, opts.IndexVersion)}, nil
	}

	var stored fingerprint.Fingerprint
	if err := json.Unmarshal(meta.Fingerprint, &stored); err != nil || stored.IsZero() {
		return Requirement{Required: true, Reason: "stored fingerprint is unreadable"}, nil
	}

	current, err := fingerprint.Compute(workspace, opts.Fingerprint)
	if err != nil {
		return Requirement{}, fmt.Errorf("fingerprinting workspace: %w", err)
	}
	if !fingerprint.Match(stored, current) {
		return Requirement{Required: true, Reason: "workspace changed since last bootstrap"}, nil
	}

	return Requirement{Required: false, Reason: "index is current"}, nil
}
