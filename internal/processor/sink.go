package processor

import (
	"context"

	"github.com/fyrsmithlabs/refmerge/internal/document"
)

// Indexer writes documents to a store. docstore.Store satisfies it.
type Indexer interface {
	Index(ctx context.Context, docs ...*document.Document) error
}

// IndexSink writes every processed document to the store, so documents
// become lookup targets for the references of later documents.
type IndexSink struct {
	store Indexer
}

// NewIndexSink creates an IndexSink over store.
func NewIndexSink(store Indexer) *IndexSink {
	return &IndexSink{store: store}
}

// Handle indexes the processed document.
func (s *IndexSink) Handle(ctx context.Context, res *Result) error {
	return s.store.Index(ctx, res.Document)
}

// Name implements Named.
func (s *IndexSink) Name() string { return "index" }
