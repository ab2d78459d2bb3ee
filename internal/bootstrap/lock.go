package bootstrap

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/indexd/internal/recovery"
)

const lockFileName = "lock"

// ErrWorkspaceLocked means another process holds the workspace lock.
var ErrWorkspaceLocked = errors.New("workspace is locked by another bootstrap")

// lockRecord is the lock file's contents, kept for diagnostics and stale
// detection.
type lockRecord struct {
	PID        int       `json:"pid"`
	RunID      string    `json:"run_id"`
	AcquiredAt time.Time `json:"acquired_at"`
}

// workspaceLock is an advisory cross-process lock under .indexd/. It
// enforces the single-writer-per-workspace invariant the recovery store
// and index storage assume.
type workspaceLock struct {
	path   string
	logger *zap.Logger
}

// acquireLock takes the workspace lock, reclaiming it when the recorded
// holder process no longer exists.
func acquireLock(workspace, runID string, logger *zap.Logger) (*workspaceLock, error) {
	dir := filepath.Join(workspace, recovery.IndexDirName)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("creating index directory: %w", err)
	}
	lock := &workspaceLock{path: filepath.Join(dir, lockFileName), logger: logger}

	if err := lock.tryCreate(runID); err == nil {
		return lock, nil
	} else if !errors.Is(err, os.ErrExist) {
		return nil, err
	}

	holder, readErr := lock.readHolder()
	if readErr == nil && holder.PID > 0 && processAlive(holder.PID) {
		return nil, fmt.Errorf("%w: held by pid %d since %s",
			ErrWorkspaceLocked, holder.PID, holder.AcquiredAt.Format(time.RFC3339))
	}

	// Unreadable lock or dead holder: reclaim.
	logger.Warn("reclaiming stale workspace lock", zap.String("path", lock.path))
	if err := os.Remove(lock.path); err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("removing stale lock: %w", err)
	}
	if err := lock.tryCreate(runID); err != nil {
		if errors.Is(err, os.ErrExist) {
			return nil, ErrWorkspaceLocked
		}
		return nil, err
	}
	return lock, nil
}

// tryCreate creates the lock file exclusively.
func (l *workspaceLock) tryCreate(runID string) error {
	f, err := os.OpenFile(l.path, os.O_CREATE|os.O_EXCL|os.O_WRONLY, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()

	return json.NewEncoder(f).Encode(lockRecord{
		PID:        os.Getpid(),
		RunID:      runID,
		AcquiredAt: time.Now().UTC(),
	})
}

func (l *workspaceLock) readHolder() (lockRecord, error) {
	var rec lockRecord
	data, err := os.ReadFile(l.path)
	if err != nil {
		return rec, err
	}
	err = json.Unmarshal(data, &rec)
	return rec, err
}

// release removes the lock file.
func (l *workspaceLock) release() {
	if err := os.Remove(l.path); err != nil && !os.IsNotExist(err) {
		l.logger.Warn("releasing workspace lock failed", zap.Error(err))
	}
}

// processAlive reports whether a pid refers to a live process. Signal 0
// probes without affecting the target.
func processAlive(pid int) bool {
	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}
	err = proc.Signal(syscall.Signal(0))
	return err == nil || errors.Is(err, syscall.EPERM)
}
