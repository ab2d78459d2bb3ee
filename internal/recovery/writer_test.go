package recovery

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeClock advances a fixed step on every reading.
type fakeClock struct {
	now  time.Time
	step time.Duration
}

func (c *fakeClock) Now() time.Time {
	c.now = c.now.Add(c.step)
	return c.now
}

func newTestWriter(t *testing.T, cfg WriterConfig, clock *fakeClock) (*CheckpointWriter, *Store, string) {
	t.Helper()
	workspace := t.TempDir()
	store := NewStore()
	w := NewCheckpointWriter(store, State{
		Workspace:    workspace,
		IndexVersion: "v1",
		TotalPhases:  5,
		StartedAt:    clock.now,
	}, cfg)
	w.now = clock.Now
	w.lastWrite = clock.now
	return w, store, workspace
}

func TestCheckpointWriter_ThrottlesBelowThresholds(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0), step: time.Millisecond}
	w, store, workspace := newTestWriter(t, WriterConfig{
		FileInterval: 100,
		TimeInterval: 300000 * time.Millisecond,
	}, clock)

	for i := 1; i <= 50; i++ {
		require.NoError(t, w.Update(Position{
			PhaseIndex: 1,
			PhaseName:  "extraction",
			Progress:   PhaseProgress{Total: 500, Completed: i},
		}))
	}

	state, err := store.Read(workspace)
	require.NoError(t, err)
	assert.Nil(t, state, "50 updates in 50ms must not trigger a durable write")
}

func TestCheckpointWriter_WritesPastFileInterval(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0), step: time.Millisecond}
	w, store, workspace := newTestWriter(t, WriterConfig{
		FileInterval: 100,
		TimeInterval: 300000 * time.Millisecond,
	}, clock)

	for i := 1; i <= 150; i++ {
		require.NoError(t, w.Update(Position{
			PhaseIndex: 1,
			PhaseName:  "extraction",
			Progress:   PhaseProgress{Total: 500, Completed: i},
		}))
	}

	state, err := store.Read(workspace)
	require.NoError(t, err)
	require.NotNil(t, state, "150 updates must trigger at least one durable write")
	assert.Equal(t, "extraction", state.PhaseName)
	require.NotNil(t, state.Progress)
	assert.GreaterOrEqual(t, state.Progress.Completed, 100)
}

func TestCheckpointWriter_WritesPastTimeInterval(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0), step: 3 * time.Minute}
	w, store, workspace := newTestWriter(t, WriterConfig{
		FileInterval: 100,
		TimeInterval: 5 * time.Minute,
	}, clock)

	require.NoError(t, w.Update(Position{
		PhaseIndex: 1, PhaseName: "extraction",
		Progress: PhaseProgress{Total: 10, Completed: 1},
	}))
	// Clock has advanced well past the interval by the next update.
	require.NoError(t, w.Update(Position{
		PhaseIndex: 1, PhaseName: "extraction",
		Progress: PhaseProgress{Total: 10, Completed: 2},
	}))

	state, err := store.Read(workspace)
	require.NoError(t, err)
	require.NotNil(t, state)
}

func TestCheckpointWriter_ZeroFileIntervalWritesEveryUpdate(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0), step: time.Millisecond}
	w, store, workspace := newTestWriter(t, WriterConfig{
		FileInterval: 0,
		TimeInterval: time.Hour,
	}, clock)

	require.NoError(t, w.Update(Position{
		PhaseIndex: 0, PhaseName: "discovery",
		Progress: PhaseProgress{Total: 3, Completed: 1},
	}))

	state, err := store.Read(workspace)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, 1, state.Progress.Completed)
}

func TestCheckpointWriter_ThresholdsResetOnPhaseChange(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0), step: time.Millisecond}
	w, store, workspace := newTestWriter(t, WriterConfig{
		FileInterval: 10,
		TimeInterval: time.Hour,
	}, clock)

	for i := 1; i <= 9; i++ {
		require.NoError(t, w.Update(Position{
			PhaseIndex: 1, PhaseName: "extraction",
			Progress: PhaseProgress{Total: 100, Completed: i},
		}))
	}
	// New phase arrives with a high completed count; the counter baseline
	// must reset instead of treating the jump as 9 -> 90 progress.
	require.NoError(t, w.Update(Position{
		PhaseIndex: 2, PhaseName: "relationships",
		Progress: PhaseProgress{Total: 100, Completed: 90},
	}))

	state, err := store.Read(workspace)
	require.NoError(t, err)
	assert.Nil(t, state, "phase change must reset the item counter")
}

func TestCheckpointWriter_FlushBypassesThrottle(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0), step: time.Millisecond}
	w, store, workspace := newTestWriter(t, WriterConfig{
		FileInterval: 100,
		TimeInterval: time.Hour,
	}, clock)

	require.NoError(t, w.Update(Position{
		PhaseIndex: 1, PhaseName: "extraction",
		Progress: PhaseProgress{Total: 10, Completed: 1},
	}))
	require.NoError(t, w.Flush())

	state, err := store.Read(workspace)
	require.NoError(t, err)
	require.NotNil(t, state)
	assert.Equal(t, 1, state.Progress.Completed)

	snap := w.Snapshot()
	assert.Equal(t, "extraction", snap.PhaseName)
}

func TestCheckpointWriter_FlushWithoutUpdatesIsNoop(t *testing.T) {
	clock := &fakeClock{now: time.Unix(1700000000, 0), step: time.Millisecond}
	w, store, workspace := newTestWriter(t, WriterConfig{}, clock)

	require.NoError(t, w.Flush())

	state, err := store.Read(workspace)
	require.NoError(t, err)
	assert.Nil(t, state)
}
