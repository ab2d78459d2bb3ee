package storage

import "context"

// Store is the storage backend consumed by the bootstrap engine.
//
// All upserts are idempotent: replaying a phase after resume must not
// duplicate rows. ApplyBatch is the transactional primitive used by the
// ingestion transaction.
type Store interface {
	// UpsertEntities writes entities keyed by ID.
	UpsertEntities(ctx context.Context, entities []Entity) error

	// UpsertEdges writes edges keyed by (from, to, edge type, source file).
	UpsertEdges(ctx context.Context, edges []Edge) error

	// StageEdges replaces the durable staging area for edges extracted
	// but not yet committed. A resumed run reloads them from here.
	StageEdges(ctx context.Context, edges []Edge) error

	// ListStagedEdges returns the staged edge set, sorted by key.
	ListStagedEdges(ctx context.Context) ([]Edge, error)

	// ClearStagedEdges drops the staging area.
	ClearStagedEdges(ctx context.Context) error

	// ListEntities returns all stored entities, sorted by ID.
	ListEntities(ctx context.Context) ([]Entity, error)

	// UpdateEntitySummary attaches a generated summary to an entity.
	UpdateEntitySummary(ctx context.Context, entityID, summary string) error

	// ApplyBatch persists every record in the batch inside one
	// transaction, or none of them.
	ApplyBatch(ctx context.Context, batch Batch) error

	// PutMetadata replaces the workspace metadata record.
	PutMetadata(ctx context.Context, meta Metadata) error

	// GetMetadata returns the metadata record, or nil when none exists.
	GetMetadata(ctx context.Context) (*Metadata, error)

	// PutRunReport replaces the last-run-report slot.
	PutRunReport(ctx context.Context, report []byte) error

	// GetRunReport returns the last run report, or nil when none exists.
	GetRunReport(ctx context.Context) ([]byte, error)

	// GetCounts returns stored volumes per record type.
	GetCounts(ctx context.Context) (Counts, error)

	// Close releases the underlying database.
	Close() error
}
