package ingest

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/indexd/internal/faults"
	"github.com/fyrsmithlabs/indexd/internal/storage"
)

// Transaction validates and commits ingestion batches. All items in a
// batch are validated and materialized before a single write happens;
// any failure rejects the batch with zero items persisted.
type Transaction struct {
	store  storage.Store
	logger *zap.Logger
	tracer trace.Tracer
}

// Result describes a committed batch.
type Result struct {
	// StoredCount is the number of ingestion items persisted.
	StoredCount int

	// Materialized counts derived records written alongside the raw
	// items.
	Materialized struct {
		Tests     int
		Commits   int
		Ownership int
	}
}

// NewTransaction creates an ingestion transaction over the given store.
func NewTransaction(store storage.Store, logger *zap.Logger) *Transaction {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Transaction{
		store:  store,
		logger: logger.Named("ingest"),
		tracer: otel.Tracer("indexd/ingest"),
	}
}

// ApplyBatch validates every item, materializes derived records, and
// persists everything in one storage transaction. On any validation or
// materialization failure it returns a faults.KindIngestionFailed error
// carrying one detail line per offending item, and writes nothing.
func (t *Transaction) ApplyBatch(ctx context.Context, items []Item) (*Result, error) {
	ctx, span := t.tracer.Start(ctx, "ingest.ApplyBatch",
		trace.WithAttributes(attribute.Int("ingest.batch_size", len(items))))
	defer span.End()

	if len(items) == 0 {
		return &Result{}, nil
	}

	var problems []string
	for i, item := range items {
		if err := ValidateItem(item); err != nil {
			problems = append(problems, itemProblem(i, item, err))
		}
	}
	if len(problems) > 0 {
		t.logger.Warn("ingestion batch rejected during validation",
			zap.Int("batch_size", len(items)),
			zap.Int("invalid_items", len(problems)))
		return nil, faults.New(faults.KindIngestionFailed,
			"%d of %d items failed validation", len(problems), len(items)).
			WithDetails(problems)
	}

	batch := storage.Batch{}
	for i, item := range items {
		record, err := toRecord(item)
		if err != nil {
			problems = append(problems, itemProblem(i, item, err))
			continue
		}
		batch.Ingestions = append(batch.Ingestions, record)

		if err := materialize(item, &batch); err != nil {
			problems = append(problems, itemProblem(i, item, err))
		}
	}
	if len(problems) > 0 {
		t.logger.Warn("ingestion batch rejected during materialization",
			zap.Int("batch_size", len(items)),
			zap.Int("bad_items", len(problems)))
		return nil, faults.New(faults.KindIngestionFailed,
			"%d of %d items failed materialization", len(problems), len(items)).
			WithDetails(problems)
	}

	if err := t.store.ApplyBatch(ctx, batch); err != nil {
		return nil, faults.Wrap(faults.KindIngestionFailed, err,
			"persisting batch of %d items", len(items))
	}

	res := &Result{StoredCount: len(items)}
	res.Materialized.Tests = len(batch.Tests)
	res.Materialized.Commits = len(batch.Commits)
	res.Materialized.Ownership = len(batch.Ownership)

	t.logger.Info("ingestion batch committed",
		zap.Int("items", res.StoredCount),
		zap.Int("tests", res.Materialized.Tests),
		zap.Int("commits", res.Materialized.Commits),
		zap.Int("ownership", res.Materialized.Ownership))
	return res, nil
}

// itemProblem formats one detail line. Items without an ID are referenced
// by batch position.
func itemProblem(index int, item Item, err error) string {
	if item.ID == "" {
		return fmt.Sprintf("item at index %d: %v", index, err)
	}
	return fmt.Sprintf("item %s: %v", item.ID, err)
}

// toRecord converts a validated item into its persisted form. The payload
// was already size-checked during validation, so marshal failures here
// mean an unsupported value slipped through and reject the batch.
func toRecord(item Item) (storage.IngestionRecord, error) {
	payload, err := json.Marshal(item.Payload)
	if err != nil {
		return storage.IngestionRecord{}, fmt.Errorf("encoding payload: %w", err)
	}
	var metadata json.RawMessage
	if len(item.Metadata) > 0 {
		metadata, err = json.Marshal(item.Metadata)
		if err != nil {
			return storage.IngestionRecord{}, fmt.Errorf("encoding metadata: %w", err)
		}
	}
	return storage.IngestionRecord{
		ID:            item.ID,
		SourceType:    item.SourceType,
		SourceVersion: item.SourceVersion,
		IngestedAt:    item.IngestedAt,
		Payload:       payload,
		Metadata:      metadata,
	}, nil
}

// materialize appends typed records derived from well-known source types.
// Unknown source types are stored generically with no derived rows.
func materialize(item Item, batch *storage.Batch) error {
	switch item.SourceType {
	case SourceTypeTest:
		var p testPayload
		if err := decodePayload(item.Payload, &p); err != nil {
			return err
		}
		if len(p.Mappings) == 0 {
			return fmt.Errorf("test payload has no mappings")
		}
		for _, m := range p.Mappings {
			if m.TestPath == "" || m.SourcePath == "" {
				return fmt.Errorf("test mapping missing test_path or source_path")
			}
			batch.Tests = append(batch.Tests, storage.TestMapping{
				TestPath:   m.TestPath,
				SourcePath: m.SourcePath,
				Confidence: m.Confidence,
			})
		}
	case SourceTypeCommit:
		var p commitPayload
		if err := decodePayload(item.Payload, &p); err != nil {
			return err
		}
		if p.Hash == "" {
			return fmt.Errorf("commit payload missing hash")
		}
		batch.Commits = append(batch.Commits, storage.CommitRecord{
			Hash:        p.Hash,
			Author:      p.Author,
			Message:     p.Message,
			Category:    ClassifyCommitMessage(p.Message),
			CommittedAt: p.CommittedAt,
		})
	case SourceTypeOwnership:
		var p ownershipPayload
		if err := decodePayload(item.Payload, &p); err != nil {
			return err
		}
		if len(p.Scores) == 0 {
			return fmt.Errorf("ownership payload has no scores")
		}
		for _, s := range p.Scores {
			if s.Path == "" || s.Owner == "" {
				return fmt.Errorf("ownership score missing path or owner")
			}
			if s.Score < 0 || s.Score > 1 {
				return fmt.Errorf("ownership score %.3f for %s out of [0,1]", s.Score, s.Path)
			}
			batch.Ownership = append(batch.Ownership, storage.OwnershipScore{
				Path:  s.Path,
				Owner: s.Owner,
				Score: s.Score,
			})
		}
	}
	return nil
}

// decodePayload re-marshals a generic payload into a typed shape.
func decodePayload(payload map[string]any, out any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encoding payload: %w", err)
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("decoding payload: %w", err)
	}
	return nil
}
