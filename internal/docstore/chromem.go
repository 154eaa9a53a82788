package docstore

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/gofrs/flock"
	chromem "github.com/philippgille/chromem-go"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/refmerge/internal/document"
)

var chromemTracer = otel.Tracer("refmerge.docstore.chromem")

const providerChromem = "chromem"

// ChromemConfig holds configuration for the embedded chromem-go store.
type ChromemConfig struct {
	// Path is the directory for persistent storage.
	// Default: "~/.config/refmerge/store"
	Path string

	// Compress enables gzip compression for stored data.
	Compress bool

	// Collection is the collection holding all documents.
	// Default: "refmerge_documents"
	Collection string

	// VectorSize is the HashEmbedder dimension. Default: 64
	VectorSize int

	// IDField names the document field used as the stored id. Default: "id"
	IDField string
}

// ApplyDefaults sets default values for unset fields.
func (c *ChromemConfig) ApplyDefaults() {
	if c.Path == "" {
		c.Path = "~/.config/refmerge/store"
	}
	if c.Collection == "" {
		c.Collection = DefaultCollection
	}
	if c.VectorSize == 0 {
		c.VectorSize = DefaultVectorSize
	}
	if c.IDField == "" {
		c.IDField = DefaultIDField
	}
}

// Validate validates the configuration.
func (c *ChromemConfig) Validate() error {
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	return ValidateCollectionName(c.Collection)
}

// ChromemStore implements Store on an embedded chromem-go database.
//
// The store directory is locked for the lifetime of the store so two
// processes never write the same gob files.
type ChromemStore struct {
	db         *chromem.DB
	collection *chromem.Collection
	embedder   *HashEmbedder
	config     ChromemConfig
	lock       *flock.Flock
	logger     *zap.Logger

	mu     sync.RWMutex
	closed bool
}

// NewChromemStore opens (or creates) the store at config.Path.
func NewChromemStore(config ChromemConfig, logger *zap.Logger) (*ChromemStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	path, err := expandPath(config.Path)
	if err != nil {
		return nil, fmt.Errorf("expanding path: %w", err)
	}
	if err := os.MkdirAll(path, 0o700); err != nil {
		return nil, fmt.Errorf("creating directory %s: %w", path, err)
	}

	lock := flock.New(filepath.Join(path, ".lock"))
	locked, err := lock.TryLock()
	if err != nil {
		return nil, fmt.Errorf("locking %s: %w", path, err)
	}
	if !locked {
		return nil, fmt.Errorf("%w: %s", ErrLocked, path)
	}

	db, err := openChromemDB(path, config.Compress, logger)
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("creating chromem DB: %w", err)
	}

	embedder := NewHashEmbedder(config.VectorSize)
	collection, err := db.GetOrCreateCollection(config.Collection, nil, embedder.EmbedFunc())
	if err != nil {
		_ = lock.Unlock()
		return nil, fmt.Errorf("getting/creating collection %s: %w", config.Collection, err)
	}

	logger.Info("chromem document store initialized",
		zap.String("path", path),
		zap.Bool("compress", config.Compress),
		zap.String("collection", config.Collection),
		zap.Int("documents", collection.Count()),
	)

	return &ChromemStore{
		db:         db,
		collection: collection,
		embedder:   embedder,
		config:     config,
		lock:       lock,
		logger:     logger,
	}, nil
}

// expandPath expands ~ to the home directory.
func expandPath(path string) (string, error) {
	if strings.HasPrefix(path, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", err
		}
		return filepath.Join(home, path[1:]), nil
	}
	return path, nil
}

func (s *ChromemStore) checkOpen() error {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return fmt.Errorf("%w: store closed", ErrUnavailable)
	}
	return nil
}

// LookupByField returns the first document where any value of field equals
// value.
func (s *ChromemStore) LookupByField(ctx context.Context, field, value string) (doc *document.Document, err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.LookupByField")
	defer span.End()
	defer func(start time.Time) { observe(providerChromem, "lookup", start, err) }(time.Now())

	span.SetAttributes(
		attribute.String("field", field),
		attribute.String("value", value),
	)

	if err = s.checkOpen(); err != nil {
		return nil, err
	}
	if err = ctx.Err(); err != nil {
		return nil, err
	}
	if field == "" {
		return nil, fmt.Errorf("%w: lookup field required", ErrInvalidConfig)
	}

	// chromem requires nResults <= document count.
	if s.collection.Count() == 0 {
		return nil, nil
	}

	results, err := s.collection.QueryEmbedding(ctx, s.embedder.Embed(value), 1, map[string]string{memberKey(field, value): "1"}, nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, fmt.Errorf("querying collection %s: %w", s.config.Collection, err)
	}
	if len(results) == 0 {
		span.SetAttributes(attribute.Bool("found", false))
		return nil, nil
	}

	doc, err = decodeSource(results[0].Content)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Bool("found", true))
	span.SetStatus(codes.Ok, "success")
	return doc, nil
}

// Index stores documents keyed by their id field.
func (s *ChromemStore) Index(ctx context.Context, docs ...*document.Document) (err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Index")
	defer span.End()
	defer func(start time.Time) { observe(providerChromem, "index", start, err) }(time.Now())

	span.SetAttributes(attribute.Int("document_count", len(docs)))

	if err = s.checkOpen(); err != nil {
		return err
	}
	if len(docs) == 0 {
		return ErrEmptyDocuments
	}

	chromemDocs := make([]chromem.Document, len(docs))
	for i, doc := range docs {
		id := doc.ID(s.config.IDField)
		if id == "" {
			return fmt.Errorf("%w: document %d lacks %q", ErrMissingID, i, s.config.IDField)
		}
		content, encErr := encodeSource(doc)
		if encErr != nil {
			return encErr
		}
		chromemDocs[i] = chromem.Document{
			ID:        id,
			Content:   content,
			Metadata:  lookupMetadata(doc),
			Embedding: s.embedder.Embed(id),
		}
	}

	// Embeddings are precomputed so one worker is enough.
	if err = s.collection.AddDocuments(ctx, chromemDocs, 1); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("adding documents: %w", err)
	}

	span.SetStatus(codes.Ok, "success")
	s.logger.Debug("indexed documents",
		zap.String("collection", s.config.Collection),
		zap.Int("count", len(docs)),
	)
	return nil
}

// Get returns the document stored under id.
func (s *ChromemStore) Get(ctx context.Context, id string) (doc *document.Document, err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Get")
	defer span.End()
	defer func(start time.Time) { observe(providerChromem, "get", start, err) }(time.Now())

	span.SetAttributes(attribute.String("id", id))

	if err = s.checkOpen(); err != nil {
		return nil, err
	}

	stored, getErr := s.collection.GetByID(ctx, id)
	if getErr != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return nil, ctxErr
		}
		// chromem reports unknown ids as a plain error.
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return decodeSource(stored.Content)
}

// Delete removes documents by id.
func (s *ChromemStore) Delete(ctx context.Context, ids ...string) (err error) {
	ctx, span := chromemTracer.Start(ctx, "ChromemStore.Delete")
	defer span.End()
	defer func(start time.Time) { observe(providerChromem, "delete", start, err) }(time.Now())

	span.SetAttributes(attribute.Int("id_count", len(ids)))

	if err = s.checkOpen(); err != nil {
		return err
	}
	known := make([]string, 0, len(ids))
	for _, id := range ids {
		if _, getErr := s.collection.GetByID(ctx, id); getErr == nil {
			known = append(known, id)
		}
	}
	if len(known) == 0 {
		return nil
	}
	if err = s.collection.Delete(ctx, nil, nil, known...); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("deleting documents: %w", err)
	}
	return nil
}

// Count returns the number of stored documents.
func (s *ChromemStore) Count(_ context.Context) (int, error) {
	if err := s.checkOpen(); err != nil {
		return 0, err
	}
	return s.collection.Count(), nil
}

// Health reports an error once the store is closed.
func (s *ChromemStore) Health(_ context.Context) error {
	err := s.checkOpen()
	RecordHealthCheckResult(err)
	return err
}

// Close releases the directory lock. Data is persisted on every write.
func (s *ChromemStore) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	return s.lock.Unlock()
}

// Ensure ChromemStore implements Store interface.
var _ Store = (*ChromemStore)(nil)
