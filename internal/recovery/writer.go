package recovery

import (
	"sync"
	"time"
)

// Default throttle thresholds for durable checkpoint writes.
const (
	DefaultFileInterval = 100
	DefaultTimeInterval = 5 * time.Minute
)

// Position is the progress a phase reports to the checkpoint writer.
type Position struct {
	PhaseIndex int
	PhaseName  string
	Progress   PhaseProgress
}

// CheckpointWriter throttles durable recovery writes during a long phase.
// It always keeps the latest progress in memory; it persists only when
// enough items completed or enough wall time passed since the last
// durable write, so the durable state never lags the in-memory state by
// more than one throttle window.
//
// Progress may be reported from any worker; a mutex gives the writer
// single-writer semantics.
type CheckpointWriter struct {
	store    *Store
	template State

	// fileInterval of 0 means every update is durable.
	fileInterval int
	timeInterval time.Duration

	now func() time.Time

	mu            sync.Mutex
	latest        Position
	lastWrite     time.Time
	lastCompleted int
	dirty         bool
}

// WriterConfig tunes checkpoint throttling.
type WriterConfig struct {
	// FileInterval is the completed-item count between durable writes.
	// 0 means write on every update; negative values fall back to the
	// default.
	FileInterval int

	// TimeInterval is the wall-clock gap between durable writes.
	TimeInterval time.Duration
}

// NewCheckpointWriter creates a writer that persists through store using
// template for the run-constant fields (workspace, index version, total
// phases, started-at, fingerprint).
func NewCheckpointWriter(store *Store, template State, cfg WriterConfig) *CheckpointWriter {
	fileInterval := cfg.FileInterval
	if fileInterval < 0 {
		fileInterval = DefaultFileInterval
	}
	timeInterval := cfg.TimeInterval
	if timeInterval <= 0 {
		timeInterval = DefaultTimeInterval
	}

	w := &CheckpointWriter{
		store:        store,
		template:     template,
		fileInterval: fileInterval,
		timeInterval: timeInterval,
		now:          time.Now,
	}
	w.lastWrite = w.now()
	return w
}

// Update records the latest progress and persists it when a throttle
// threshold is crossed. Both thresholds reset whenever the phase index or
// name changes.
func (w *CheckpointWriter) Update(pos Position) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if pos.PhaseIndex != w.latest.PhaseIndex || pos.PhaseName != w.latest.PhaseName {
		w.lastWrite = w.now()
		w.lastCompleted = pos.Progress.Completed
	}

	w.latest = pos
	w.dirty = true

	if w.shouldWriteLocked() {
		return w.writeLocked()
	}
	return nil
}

// Flush bypasses throttling and persists the latest progress. Called at
// phase boundaries and at run termination.
func (w *CheckpointWriter) Flush() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if !w.dirty {
		return nil
	}
	return w.writeLocked()
}

// Snapshot returns the last reported position.
func (w *CheckpointWriter) Snapshot() Position {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.latest
}

func (w *CheckpointWriter) shouldWriteLocked() bool {
	if w.fileInterval == 0 {
		return true
	}
	if w.latest.Progress.Completed-w.lastCompleted >= w.fileInterval {
		return true
	}
	return w.now().Sub(w.lastWrite) >= w.timeInterval
}

func (w *CheckpointWriter) writeLocked() error {
	state := w.template
	state.PhaseIndex = w.latest.PhaseIndex
	state.PhaseName = w.latest.PhaseName
	progress := w.latest.Progress
	state.Progress = &progress

	if err := w.store.Write(state.Workspace, &state); err != nil {
		return err
	}
	w.lastWrite = w.now()
	w.lastCompleted = w.latest.Progress.Completed
	w.dirty = false
	return nil
}
