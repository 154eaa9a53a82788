// Package docstore persists documents and looks them up by exact field value.
//
// Two implementations are provided:
//   - ChromemStore: embedded chromem-go database on local disk (default)
//   - QdrantStore: external Qdrant server over gRPC
//
// Both store the full ordered document alongside a flattened payload used for
// exact-match filtering. Vectors are derived from the document id with a
// deterministic HashEmbedder because lookups never rank by similarity.
package docstore

import (
	"context"
	"errors"

	"github.com/fyrsmithlabs/refmerge/internal/document"
)

// Sentinel errors for document store operations.
var (
	// ErrInvalidConfig indicates invalid configuration.
	ErrInvalidConfig = errors.New("invalid configuration")

	// ErrUnavailable indicates the store could not be reached. Lookups that
	// fail with this error are connectivity failures, not misses.
	ErrUnavailable = errors.New("document store unavailable")

	// ErrNotFound is returned by Get when no document has the given id.
	ErrNotFound = errors.New("document not found")

	// ErrMissingID is returned when indexing a document without an id.
	ErrMissingID = errors.New("document has no id")

	// ErrEmptyDocuments indicates an empty batch.
	ErrEmptyDocuments = errors.New("empty or nil documents")

	// ErrInvalidCollectionName indicates collection name validation failure.
	ErrInvalidCollectionName = errors.New("invalid collection name")

	// ErrLocked is returned when another process holds the store directory.
	ErrLocked = errors.New("document store is locked by another process")
)

// sourceKey is the payload key holding the serialized document.
const sourceKey = "_source"

// Store is the document store used by the resolver and the indexer.
type Store interface {
	// LookupByField returns the first document in which some value of field
	// equals value exactly. A multi-valued field matches on any of its
	// values. Non-string values compare in their decimal string form
	// (int64 42 matches "42"). A miss returns (nil, nil).
	LookupByField(ctx context.Context, field, value string) (*document.Document, error)

	// Index stores documents, replacing any with the same id.
	Index(ctx context.Context, docs ...*document.Document) error

	// Get returns the document with the given id or ErrNotFound.
	Get(ctx context.Context, id string) (*document.Document, error)

	// Delete removes documents by id. Unknown ids are ignored.
	Delete(ctx context.Context, ids ...string) error

	// Count returns the number of stored documents.
	Count(ctx context.Context) (int, error)

	// Health reports whether the store is reachable.
	Health(ctx context.Context) error

	// Close releases the store's resources.
	Close() error
}
