package governor

import (
	"encoding/json"
	"runtime"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/indexd/internal/faults"
)

func TestGovernor_UnlimitedByDefault(t *testing.T) {
	g := New(Limits{})

	for i := 0; i < 1000; i++ {
		require.NoError(t, g.EnterFile("f.go"))
	}
	require.NoError(t, g.AddTokens(1 << 30))
	require.NoError(t, g.AddRetry())
	require.NoError(t, g.CheckBudget())
}

func TestGovernor_FileLimit(t *testing.T) {
	g := New(Limits{MaxFilesPerPhase: 3})

	require.NoError(t, g.EnterFile("a.go"))
	require.NoError(t, g.EnterFile("b.go"))
	require.NoError(t, g.EnterFile("c.go"))

	err := g.EnterFile("d.go")
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindBudgetExhausted))
	assert.Contains(t, err.Error(), "d.go")
}

func TestGovernor_TokenLimit(t *testing.T) {
	g := New(Limits{MaxTokensPerPhase: 100})

	require.NoError(t, g.AddTokens(100))
	err := g.AddTokens(1)
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindBudgetExhausted))
}

func TestGovernor_RetryLimit(t *testing.T) {
	g := New(Limits{MaxRetries: 2})

	require.NoError(t, g.AddRetry())
	require.NoError(t, g.AddRetry())
	err := g.AddRetry()
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindBudgetExhausted))
}

func TestGovernor_WallTimeLimit(t *testing.T) {
	g := New(Limits{MaxWallTime: 10 * time.Minute})

	clock := g.started
	g.now = func() time.Time { return clock.Add(11 * time.Minute) }

	err := g.CheckBudget()
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindBudgetExhausted))
}

func TestGovernor_Workers(t *testing.T) {
	assert.Equal(t, 4, New(Limits{MaxConcurrentWorkers: 4}).Workers())
	assert.Equal(t, runtime.NumCPU(), New(Limits{}).Workers())
}

func TestGovernor_Snapshot(t *testing.T) {
	g := New(Limits{MaxFilesPerPhase: 10})
	require.NoError(t, g.EnterFile("a.go"))
	require.NoError(t, g.AddTokens(42))

	snap := g.Snapshot()
	assert.Equal(t, 1, snap.Used.Files)
	assert.Equal(t, int64(42), snap.Used.Tokens)
	assert.Equal(t, 10, snap.Limits.MaxFilesPerPhase)
}

func TestSnapshot_JSONDurationsCarryNoUnitSuffix(t *testing.T) {
	snap := Snapshot{
		Limits: Limits{MaxWallTime: time.Second},
		Used:   Usage{WallTime: time.Second},
	}
	data, err := json.Marshal(snap)
	require.NoError(t, err)

	// time.Duration marshals as nanoseconds; the field names must not
	// claim another unit.
	assert.Contains(t, string(data), `"max_wall_time":1000000000`)
	assert.Contains(t, string(data), `"wall_time":1000000000`)
	assert.NotContains(t, string(data), "_ms")
}

func TestRunUsage_Accumulates(t *testing.T) {
	var r RunUsage
	r.Add(Usage{Files: 3, Tokens: 10, WallTime: time.Second})
	r.Add(Usage{Files: 2, Retries: 1, WallTime: time.Second})

	total := r.Total()
	assert.Equal(t, 5, total.Files)
	assert.Equal(t, int64(10), total.Tokens)
	assert.Equal(t, 1, total.Retries)
	assert.Equal(t, 2*time.Second, total.WallTime)
}
