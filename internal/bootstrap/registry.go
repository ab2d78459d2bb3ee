package bootstrap

import (
	"fmt"
	"sync"
	"time"
)

// RunInfo describes an in-progress bootstrap.
type RunInfo struct {
	RunID     string
	Workspace string
	StartedAt time.Time
}

// Registry tracks which workspaces have a bootstrap in progress within
// this process. It exists so callers can ask "is a run active" without
// ambient globals; cross-process exclusion is the lock's job.
type Registry struct {
	mu   sync.Mutex
	runs map[string]RunInfo
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{runs: make(map[string]RunInfo)}
}

// Begin registers a run for a workspace. Fails when one is already
// active there.
func (r *Registry) Begin(info RunInfo) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if existing, ok := r.runs[info.Workspace]; ok {
		return fmt.Errorf("bootstrap %s already running for %s since %s",
			existing.RunID, info.Workspace, existing.StartedAt.Format(time.RFC3339))
	}
	r.runs[info.Workspace] = info
	return nil
}

// End clears the workspace's active run. Safe to call when none is
// registered.
func (r *Registry) End(workspace string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.runs, workspace)
}

// Active returns the in-progress run for a workspace, if any.
func (r *Registry) Active(workspace string) (RunInfo, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	info, ok := r.runs[workspace]
	return info, ok
}
