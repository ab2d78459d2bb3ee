// Package governor enforces per-phase resource budgets: wall time, file
// count, token count, and retries.
//
// Budgets are advisory checkpoints, not preemptive interrupts. Phase code
// must call CheckBudget at natural boundaries (before starting a new
// file, before issuing a provider call) for a limit to take effect; a
// phase that never checks can overrun. Callers that need hard preemption
// must additionally apply a context deadline to the whole phase.
package governor

import (
	"runtime"
	"sync"
	"time"

	"github.com/fyrsmithlabs/indexd/internal/faults"
)

// Limits configures one phase scope. A zero value means unlimited,
// except MaxConcurrentWorkers where zero means "auto-detect from
// available system resources".
// Durations marshal as nanoseconds, the encoding/json default for
// time.Duration.
type Limits struct {
	MaxWallTime          time.Duration `json:"max_wall_time"`
	MaxFilesPerPhase     int           `json:"max_files_per_phase"`
	MaxTokensPerPhase    int64         `json:"max_tokens_per_phase"`
	MaxRetries           int           `json:"max_retries"`
	MaxConcurrentWorkers int           `json:"max_concurrent_workers"`
}

// Usage is the consumption recorded so far.
type Usage struct {
	WallTime time.Duration `json:"wall_time"`
	Files    int           `json:"files"`
	Tokens   int64         `json:"tokens"`
	Retries  int           `json:"retries"`
}

// Snapshot pairs limits with usage for audit reports.
type Snapshot struct {
	Limits Limits `json:"limits"`
	Used   Usage  `json:"used"`
}

// Governor tracks consumption against limits for a single phase
// invocation. Discarded when the phase ends.
type Governor struct {
	limits  Limits
	started time.Time
	now     func() time.Time

	mu      sync.Mutex
	files   int
	tokens  int64
	retries int

	// lastFile is kept for budget-exhausted diagnostics.
	lastFile string
}

// New creates a governor scope. The wall-time clock starts immediately.
func New(limits Limits) *Governor {
	g := &Governor{
		limits: limits,
		now:    time.Now,
	}
	g.started = g.now()
	return g
}

// CheckBudget returns a budget_exhausted fault when any tracked usage
// exceeds its configured limit, nil otherwise.
func (g *Governor) CheckBudget() error {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.checkLocked()
}

// EnterFile records that work on a file is starting and checks the file
// and wall-time budgets.
func (g *Governor) EnterFile(path string) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.files++
	g.lastFile = path
	return g.checkLocked()
}

// AddTokens accounts provider token usage and checks the budget.
func (g *Governor) AddTokens(n int64) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.tokens += n
	return g.checkLocked()
}

// AddRetry accounts one retry against an external dependency and checks
// the budget.
func (g *Governor) AddRetry() error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.retries++
	return g.checkLocked()
}

// Workers resolves the concurrency limit for this phase. Zero auto-detects
// from the machine; any positive value is used as-is.
func (g *Governor) Workers() int {
	if g.limits.MaxConcurrentWorkers > 0 {
		return g.limits.MaxConcurrentWorkers
	}
	return runtime.NumCPU()
}

// Snapshot returns the current limits and usage.
func (g *Governor) Snapshot() Snapshot {
	g.mu.Lock()
	defer g.mu.Unlock()

	return Snapshot{
		Limits: g.limits,
		Used: Usage{
			WallTime: g.now().Sub(g.started),
			Files:    g.files,
			Tokens:   g.tokens,
			Retries:  g.retries,
		},
	}
}

func (g *Governor) checkLocked() error {
	if g.limits.MaxWallTime > 0 {
		if elapsed := g.now().Sub(g.started); elapsed > g.limits.MaxWallTime {
			return faults.New(faults.KindBudgetExhausted,
				"wall time %s exceeds limit %s", elapsed.Round(time.Millisecond), g.limits.MaxWallTime)
		}
	}
	if g.limits.MaxFilesPerPhase > 0 && g.files > g.limits.MaxFilesPerPhase {
		return faults.New(faults.KindBudgetExhausted,
			"file count %d exceeds limit %d (at %s)", g.files, g.limits.MaxFilesPerPhase, g.lastFile)
	}
	if g.limits.MaxTokensPerPhase > 0 && g.tokens > g.limits.MaxTokensPerPhase {
		return faults.New(faults.KindBudgetExhausted,
			"token count %d exceeds limit %d", g.tokens, g.limits.MaxTokensPerPhase)
	}
	if g.limits.MaxRetries > 0 && g.retries > g.limits.MaxRetries {
		return faults.New(faults.KindBudgetExhausted,
			"retry count %d exceeds limit %d", g.retries, g.limits.MaxRetries)
	}
	return nil
}

// RunUsage accumulates cross-phase totals for run-level reporting.
type RunUsage struct {
	mu    sync.Mutex
	total Usage
}

// Add merges one phase's usage into the running totals.
func (r *RunUsage) Add(u Usage) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.total.WallTime += u.WallTime
	r.total.Files += u.Files
	r.total.Tokens += u.Tokens
	r.total.Retries += u.Retries
}

// Total returns the accumulated usage.
func (r *RunUsage) Total() Usage {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}
