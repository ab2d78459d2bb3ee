package ingest

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	"github.com/fyrsmithlabs/indexd/internal/faults"
	"github.com/fyrsmithlabs/indexd/internal/storage"
)

func newTestTransaction(t *testing.T) (*Transaction, *storage.SQLiteStore) {
	t.Helper()
	store, err := storage.OpenSQLite(filepath.Join(t.TempDir(), ".indexd", "index.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return NewTransaction(store, zaptest.NewLogger(t)), store
}

func commitItem(id, message string) Item {
	return Item{
		ID:            id,
		SourceType:    SourceTypeCommit,
		SourceVersion: "git-log-v1",
		IngestedAt:    time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
		Payload: map[string]any{
			"hash":         "hash-" + id,
			"author":       "dev@example.com",
			"message":      message,
			"committed_at": "2025-05-30T09:00:00Z",
		},
	}
}

func TestTransaction_CommitsValidBatch(t *testing.T) {
	tx, store := newTestTransaction(t)
	ctx := context.Background()

	items := []Item{
		commitItem("c1", "fix: resume after crash"),
		commitItem("c2", "add semantic search"),
		{
			ID:            "t1",
			SourceType:    SourceTypeTest,
			SourceVersion: "scan-v1",
			IngestedAt:    time.Now(),
			Payload: map[string]any{
				"mappings": []any{
					map[string]any{"test_path": "pkg/a_test.go", "source_path": "pkg/a.go", "confidence": 0.9},
					map[string]any{"test_path": "pkg/b_test.go", "source_path": "pkg/b.go", "confidence": 0.8},
				},
			},
		},
		{
			ID:            "o1",
			SourceType:    SourceTypeOwnership,
			SourceVersion: "codeowners-v1",
			IngestedAt:    time.Now(),
			Payload: map[string]any{
				"scores": []any{
					map[string]any{"path": "pkg/", "owner": "core-team", "score": 1.0},
				},
			},
		},
	}

	res, err := tx.ApplyBatch(ctx, items)
	require.NoError(t, err)
	assert.Equal(t, 4, res.StoredCount)
	assert.Equal(t, 2, res.Materialized.Tests)
	assert.Equal(t, 2, res.Materialized.Commits)
	assert.Equal(t, 1, res.Materialized.Ownership)

	counts, err := store.GetCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 4, counts.Ingestions)
	assert.Equal(t, 2, counts.Tests)
	assert.Equal(t, 2, counts.Commits)
	assert.Equal(t, 1, counts.Ownership)

	commits, err := store.GetCommits(ctx)
	require.NoError(t, err)
	require.Len(t, commits, 2)
	categories := map[string]string{}
	for _, c := range commits {
		categories[c.Hash] = c.Category
	}
	assert.Equal(t, CategoryBugfix, categories["hash-c1"])
	assert.Equal(t, CategoryFeature, categories["hash-c2"])
}

func TestTransaction_OneBadItemRejectsWholeBatch(t *testing.T) {
	tx, store := newTestTransaction(t)
	ctx := context.Background()

	items := make([]Item, 0, 6)
	for i := 0; i < 5; i++ {
		items = append(items, commitItem(fmt.Sprintf("good-%d", i), "fix stuff"))
	}
	bad := commitItem("bad-1", "looks fine")
	bad.Payload["__proto__"] = map[string]any{"polluted": true}
	items = append(items, bad)

	res, err := tx.ApplyBatch(ctx, items)
	require.Error(t, err)
	assert.Nil(t, res)
	assert.True(t, faults.IsKind(err, faults.KindIngestionFailed))

	var fe *faults.Error
	require.True(t, errors.As(err, &fe))
	require.Len(t, fe.Details, 1)
	assert.Contains(t, fe.Details[0], "bad-1")
	assert.Contains(t, fe.Details[0], "__proto__")

	counts, err := store.GetCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Ingestions)
	assert.Equal(t, 0, counts.Commits)
}

func TestTransaction_MaterializationFailureRejectsBatch(t *testing.T) {
	tx, store := newTestTransaction(t)
	ctx := context.Background()

	items := []Item{
		commitItem("c1", "fix stuff"),
		{
			ID:            "o-bad",
			SourceType:    SourceTypeOwnership,
			SourceVersion: "codeowners-v1",
			IngestedAt:    time.Now(),
			Payload: map[string]any{
				"scores": []any{
					map[string]any{"path": "pkg/", "owner": "core-team", "score": 1.5},
				},
			},
		},
	}

	_, err := tx.ApplyBatch(ctx, items)
	require.Error(t, err)
	assert.True(t, faults.IsKind(err, faults.KindIngestionFailed))

	var fe *faults.Error
	require.True(t, errors.As(err, &fe))
	require.Len(t, fe.Details, 1)
	assert.Contains(t, fe.Details[0], "o-bad")

	counts, err := store.GetCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, counts.Ingestions)
}

func TestTransaction_UnknownSourceTypeStoredGenerically(t *testing.T) {
	tx, store := newTestTransaction(t)
	ctx := context.Background()

	item := Item{
		ID:            "x1",
		SourceType:    "build-log",
		SourceVersion: "v1",
		IngestedAt:    time.Now(),
		Payload:       map[string]any{"status": "green"},
	}
	res, err := tx.ApplyBatch(ctx, []Item{item})
	require.NoError(t, err)
	assert.Equal(t, 1, res.StoredCount)
	assert.Equal(t, 0, res.Materialized.Commits)

	counts, err := store.GetCounts(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, counts.Ingestions)
	assert.Equal(t, 0, counts.Tests+counts.Commits+counts.Ownership)
}

func TestTransaction_EmptyBatchIsANoOp(t *testing.T) {
	tx, _ := newTestTransaction(t)
	res, err := tx.ApplyBatch(context.Background(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, res.StoredCount)
}

func TestTransaction_ItemWithoutIDReferencedByIndex(t *testing.T) {
	tx, _ := newTestTransaction(t)
	item := commitItem("", "fix stuff")

	_, err := tx.ApplyBatch(context.Background(), []Item{item})
	require.Error(t, err)

	var fe *faults.Error
	require.True(t, errors.As(err, &fe))
	require.Len(t, fe.Details, 1)
	assert.Contains(t, fe.Details[0], "index 0")
}
