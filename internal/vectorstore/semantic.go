// Package vectorstore persists entity summaries with their embeddings
// for semantic lookup. It backs the semantic-search capability reported
// after a successful bootstrap.
package vectorstore

import (
	"context"
	"errors"
	"fmt"
	"os"

	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
)

var (
	// ErrInvalidConfig is returned for unusable configuration.
	ErrInvalidConfig = errors.New("invalid vectorstore config")

	// ErrEmptyBatch is returned when Put is called with no documents.
	ErrEmptyBatch = errors.New("no documents to store")

	// ErrDimensionMismatch is returned when an embedding does not match
	// the configured vector size.
	ErrDimensionMismatch = errors.New("embedding dimension mismatch")
)

// Document is one summarized entity ready for semantic lookup. The
// embedding is computed upstream by the enrichment phase, so batches
// carry their vectors instead of an embedding callback.
type Document struct {
	ID        string
	Content   string
	Metadata  map[string]string
	Embedding []float32
}

// Result is one semantic-search hit.
type Result struct {
	ID         string
	Content    string
	Metadata   map[string]string
	Similarity float32
}

// Config holds settings for the embedded vector database.
type Config struct {
	// Path is the directory for persistent storage, normally
	// <workspace>/.indexd/vectors.
	Path string

	// Collection is the collection name. Default "entity_summaries".
	Collection string

	// VectorSize is the expected embedding dimension. Default 256.
	VectorSize int

	// Compress enables gzip compression of persisted segments.
	Compress bool
}

// ApplyDefaults sets defaults for unset fields.
func (c *Config) ApplyDefaults() {
	if c.Collection == "" {
		c.Collection = "entity_summaries"
	}
	if c.VectorSize == 0 {
		c.VectorSize = 256
	}
}

// Validate checks the configuration.
func (c *Config) Validate() error {
	if c.Path == "" {
		return fmt.Errorf("%w: path is required", ErrInvalidConfig)
	}
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	return nil
}

// SemanticStore is a chromem-go backed store for entity summaries.
type SemanticStore struct {
	db     *chromem.DB
	config Config
	logger *zap.Logger
	tracer trace.Tracer
}

// NewSemanticStore opens or creates the persistent vector database.
func NewSemanticStore(config Config, logger *zap.Logger) (*SemanticStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, err
	}

	if err := os.MkdirAll(config.Path, 0o700); err != nil {
		return nil, fmt.Errorf("creating vectorstore directory: %w", err)
	}
	db, err := chromem.NewPersistentDB(config.Path, config.Compress)
	if err != nil {
		return nil, fmt.Errorf("opening vector database: %w", err)
	}

	logger.Debug("semantic store opened",
		zap.String("path", config.Path),
		zap.String("collection", config.Collection),
		zap.Int("vector_size", config.VectorSize))

	return &SemanticStore{
		db:     db,
		config: config,
		logger: logger.Named("vectorstore"),
		tracer: otel.Tracer("indexd/vectorstore"),
	}, nil
}

// collection returns the configured collection, creating it on first use.
// The nil embedding func is intentional: every document arrives with a
// precomputed vector.
func (s *SemanticStore) collection() (*chromem.Collection, error) {
	col, err := s.db.GetOrCreateCollection(s.config.Collection, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("opening collection %s: %w", s.config.Collection, err)
	}
	return col, nil
}

// Put stores a batch of documents. Writing the same ID again replaces
// the previous document, so replaying a phase after resume is safe.
func (s *SemanticStore) Put(ctx context.Context, docs []Document) error {
	ctx, span := s.tracer.Start(ctx, "vectorstore.Put",
		trace.WithAttributes(attribute.Int("document_count", len(docs))))
	defer span.End()

	if len(docs) == 0 {
		return ErrEmptyBatch
	}

	chromemDocs := make([]chromem.Document, len(docs))
	for i, doc := range docs {
		if doc.ID == "" {
			return fmt.Errorf("document at index %d has no id", i)
		}
		if len(doc.Embedding) != s.config.VectorSize {
			return fmt.Errorf("%w: document %s has %d dimensions, want %d",
				ErrDimensionMismatch, doc.ID, len(doc.Embedding), s.config.VectorSize)
		}
		chromemDocs[i] = chromem.Document{
			ID:        doc.ID,
			Content:   doc.Content,
			Metadata:  doc.Metadata,
			Embedding: doc.Embedding,
		}
	}

	col, err := s.collection()
	if err != nil {
		return err
	}
	if err := col.AddDocuments(ctx, chromemDocs, 1); err != nil {
		return fmt.Errorf("storing documents: %w", err)
	}

	s.logger.Debug("stored summary embeddings", zap.Int("count", len(docs)))
	return nil
}

// Search returns the nResults nearest documents to the query embedding.
func (s *SemanticStore) Search(ctx context.Context, embedding []float32, nResults int) ([]Result, error) {
	ctx, span := s.tracer.Start(ctx, "vectorstore.Search")
	defer span.End()

	if len(embedding) != s.config.VectorSize {
		return nil, fmt.Errorf("%w: query has %d dimensions, want %d",
			ErrDimensionMismatch, len(embedding), s.config.VectorSize)
	}

	col, err := s.collection()
	if err != nil {
		return nil, err
	}
	if count := col.Count(); nResults > count {
		nResults = count
	}
	if nResults <= 0 {
		return nil, nil
	}

	hits, err := col.QueryEmbedding(ctx, embedding, nResults, nil, nil)
	if err != nil {
		return nil, fmt.Errorf("querying collection: %w", err)
	}

	results := make([]Result, len(hits))
	for i, hit := range hits {
		results[i] = Result{
			ID:         hit.ID,
			Content:    hit.Content,
			Metadata:   hit.Metadata,
			Similarity: hit.Similarity,
		}
	}
	return results, nil
}

// Count returns the number of stored documents.
func (s *SemanticStore) Count() (int, error) {
	col, err := s.collection()
	if err != nil {
		return 0, err
	}
	return col.Count(), nil
}
