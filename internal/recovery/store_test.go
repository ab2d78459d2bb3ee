package recovery

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/indexd/internal/fingerprint"
)

func TestStore_WriteReadClear(t *testing.T) {
	workspace := t.TempDir()
	store := NewStore()

	state := &State{
		IndexVersion: "v1",
		PhaseIndex:   2,
		PhaseName:    "relationships",
		TotalPhases:  5,
		StartedAt:    time.Now().UTC(),
		Fingerprint:  &fingerprint.Fingerprint{FileListHash: "abc", FileCount: 3},
	}
	require.NoError(t, store.Write(workspace, state))

	loaded, err := store.Read(workspace)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, workspace, loaded.Workspace)
	assert.Equal(t, 2, loaded.PhaseIndex)
	assert.Equal(t, "relationships", loaded.PhaseName)
	assert.Equal(t, 5, loaded.TotalPhases)
	require.NotNil(t, loaded.Fingerprint)
	assert.Equal(t, "abc", loaded.Fingerprint.FileListHash)
	assert.False(t, loaded.UpdatedAt.IsZero())

	require.NoError(t, store.Clear(workspace))
	loaded, err = store.Read(workspace)
	require.NoError(t, err)
	assert.Nil(t, loaded)
}

func TestStore_ReadMissingIsNotError(t *testing.T) {
	store := NewStore()
	state, err := store.Read(t.TempDir())
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestStore_ReadCorruptIsNotError(t *testing.T) {
	workspace := t.TempDir()
	store := NewStore()

	path := store.Path(workspace)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte(`{"phase_index": tru`), 0o600))

	state, err := store.Read(workspace)
	require.NoError(t, err)
	assert.Nil(t, state)
}

func TestStore_ReadSchemaMismatchIsNotError(t *testing.T) {
	workspace := t.TempDir()
	store := NewStore()

	path := store.Path(workspace)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o700))
	require.NoError(t, os.WriteFile(path, []byte(`{"schema_version": 99}`), 0o600))

	state, err := store.Read(workspace)
	require.NoError(t, err)
	assert.Nil(t, state)
}

// A crash between temp-write and rename must leave the previous valid
// state readable: the canonical file is only ever replaced whole.
func TestStore_InterruptedWriteKeepsPreviousState(t *testing.T) {
	workspace := t.TempDir()
	store := NewStore()

	require.NoError(t, store.Write(workspace, &State{
		IndexVersion: "v1",
		PhaseIndex:   1,
		PhaseName:    "extraction",
		TotalPhases:  5,
	}))

	// Simulate a write that died before rename: a stale temp file beside
	// the canonical one.
	tmp := store.Path(workspace) + ".tmp"
	require.NoError(t, os.WriteFile(tmp, []byte(`{"phase_ind`), 0o600))

	loaded, err := store.Read(workspace)
	require.NoError(t, err)
	require.NotNil(t, loaded)
	assert.Equal(t, 1, loaded.PhaseIndex)
}

func TestStore_ClearMissingIsFine(t *testing.T) {
	store := NewStore()
	assert.NoError(t, store.Clear(t.TempDir()))
}
