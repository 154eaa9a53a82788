// Package processor runs reference resolution on incoming documents and
// hands the results to downstream sinks (the store indexer, the event
// publisher).
//
// A document takes part in resolution only if it carries the reference
// field and, when a guard is configured, passes the guard itself. Every
// other document passes through unchanged.
package processor

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/fyrsmithlabs/refmerge/internal/config"
	"github.com/fyrsmithlabs/refmerge/internal/document"
	"github.com/fyrsmithlabs/refmerge/internal/logging"
	"github.com/fyrsmithlabs/refmerge/internal/resolver"
)

// ErrNilDocument is returned when Process is given no document.
var ErrNilDocument = errors.New("document is nil")

// Skip reasons reported in Result.Skipped.
const (
	SkipNoReference = "no_reference"
	SkipGuard       = "guard"
)

// Sink receives every processed document, resolved or passed through.
type Sink interface {
	Handle(ctx context.Context, res *Result) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, res *Result) error

// Handle calls f.
func (f SinkFunc) Handle(ctx context.Context, res *Result) error {
	return f(ctx, res)
}

// Result is the outcome of processing one document.
type Result struct {
	// Document is the processed document. Process mutates and returns the
	// caller's document; Resolve returns a copy.
	Document *document.Document `json:"document"`

	// Resolved is true when reference resolution ran.
	Resolved bool `json:"resolved"`

	// Skipped names why resolution did not run.
	Skipped string `json:"skipped,omitempty"`

	Report resolver.Report `json:"report"`

	// Error is set by Pool for documents that failed.
	Error string `json:"error,omitempty"`
}

// SettingsFromConfig converts the merge section into resolver settings.
func SettingsFromConfig(m config.MergeConfig, lookupTimeout time.Duration) (resolver.Settings, error) {
	guard, err := resolver.NewGuard(m.RequiredFieldKey, m.RequiredFieldValue)
	if err != nil {
		return resolver.Settings{}, fmt.Errorf("%w: %v", resolver.ErrInvalidSettings, err)
	}

	mappings := make([]resolver.FieldMapping, len(m.FieldMappings))
	for i, fm := range m.FieldMappings {
		mappings[i] = resolver.FieldMapping{Source: fm.Source, Dest: fm.Dest}
	}

	return resolver.Settings{
		ReferenceField:  m.LocalIDField,
		ForeignIDField:  m.ForeignIDField,
		Delimiter:       m.Delimiter,
		Mappings:        mappings,
		Guard:           guard,
		IDField:         m.IDField,
		ResolvedIDField: m.ResolvedIDField,
		MaxDepth:        m.MaxDepth,
		LookupTimeout:   lookupTimeout,
	}, nil
}

// Processor resolves documents and forwards them to its sinks. It is safe
// for concurrent use; Reconfigure swaps settings without disturbing
// resolutions already running.
type Processor struct {
	store  resolver.Lookuper
	logger *logging.Logger
	sinks  []Sink

	mu       sync.RWMutex
	resolver *resolver.Resolver
}

// New creates a Processor. Sinks run in the given order after each
// document is processed.
func New(store resolver.Lookuper, settings resolver.Settings, logger *logging.Logger, sinks ...Sink) (*Processor, error) {
	if logger == nil {
		logger = logging.NewNop()
	}
	p := &Processor{
		store:  store,
		logger: logger,
		sinks:  sinks,
	}
	if err := p.Reconfigure(settings); err != nil {
		return nil, err
	}
	return p, nil
}

// Reconfigure replaces the resolution settings. Invalid settings are
// rejected and the current ones kept.
func (p *Processor) Reconfigure(settings resolver.Settings) error {
	r, err := resolver.New(p.store, settings, p.logger.Underlying().Named("resolver"))
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.resolver = r
	p.mu.Unlock()
	return nil
}

// Settings returns the active resolution settings.
func (p *Processor) Settings() resolver.Settings {
	return p.current().Settings()
}

func (p *Processor) current() *resolver.Resolver {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.resolver
}

// Process resolves doc in place and hands it to every sink.
//
// The returned error is non-nil only for a nil document, a cancelled
// context or a failing sink; branch failures during resolution are logged
// and reported in Result.Report.
func (p *Processor) Process(ctx context.Context, doc *document.Document) (*Result, error) {
	res, err := p.resolve(ctx, doc)
	if err != nil {
		DocumentsProcessed.WithLabelValues("error").Inc()
		return res, err
	}

	for _, sink := range p.sinks {
		if err := sink.Handle(ctx, res); err != nil {
			DocumentsProcessed.WithLabelValues("error").Inc()
			SinkFailures.WithLabelValues(sinkName(sink)).Inc()
			p.logger.Error(ctx, "sink failed", zap.String("sink", sinkName(sink)), zap.Error(err))
			return res, fmt.Errorf("sink %s: %w", sinkName(sink), err)
		}
	}

	DocumentsProcessed.WithLabelValues(outcome(res)).Inc()
	return res, nil
}

// Resolve runs resolution on a copy of doc without calling any sink.
func (p *Processor) Resolve(ctx context.Context, doc *document.Document) (*Result, error) {
	if doc == nil {
		return nil, ErrNilDocument
	}
	return p.resolve(ctx, doc.Clone())
}

func (p *Processor) resolve(ctx context.Context, doc *document.Document) (*Result, error) {
	if doc == nil {
		return nil, ErrNilDocument
	}

	r := p.current()
	settings := r.Settings()
	ctx = logging.WithDocumentID(ctx, doc.ID(settings.IDField))
	res := &Result{Document: doc}

	if !doc.Has(settings.ReferenceField) {
		p.logger.Debug(ctx, "document has no reference field, passing through",
			zap.String("field", settings.ReferenceField))
		res.Skipped = SkipNoReference
		return res, nil
	}

	if !settings.Guard.Allows(doc) {
		p.logger.Debug(ctx, "document fails required field guard, passing through",
			zap.String("field", settings.Guard.Key()))
		res.Skipped = SkipGuard
		return res, nil
	}

	report, err := r.ResolveWithReport(ctx, doc, doc)
	res.Report = report
	if err != nil {
		p.logger.Warn(ctx, "resolution aborted", zap.Error(err))
		return res, err
	}
	res.Resolved = true

	p.logger.Debug(ctx, "document resolved",
		zap.Int("terminals", report.Terminals),
		zap.Int("lookups", report.Lookups),
		zap.Int("misses", report.Misses),
		zap.Int("failures", report.Failures),
	)
	return res, nil
}

func outcome(res *Result) string {
	if res.Skipped != "" {
		return res.Skipped
	}
	return "resolved"
}

// Named is implemented by sinks that want a readable label in logs and
// metrics.
type Named interface {
	Name() string
}

func sinkName(s Sink) string {
	if n, ok := s.(Named); ok {
		return n.Name()
	}
	return fmt.Sprintf("%T", s)
}
