// Package resolver follows reference chains between documents and merges
// fields from the terminal documents back into the originating document.
//
// Traversal is depth-first: the whole subtree under one foreign key,
// including its merges, completes before the next sibling key is looked up.
// When several terminals map to the same destination field the terminal
// visited last wins. A single resolution is strictly sequential; callers that
// need throughput run unrelated resolutions in parallel instead.
package resolver

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/refmerge/internal/document"
)

var tracer = otel.Tracer("refmerge.resolver")

// Sentinel errors for resolver construction and use.
var (
	// ErrNoMappings is returned when the field mapping table is empty.
	ErrNoMappings = errors.New("at least one source to destination field mapping must be defined")

	// ErrInvalidSettings indicates a required setting is missing.
	ErrInvalidSettings = errors.New("invalid resolver settings")

	// ErrNilDocument is returned when Resolve is called without documents.
	ErrNilDocument = errors.New("result and root documents are required")
)

const (
	// DefaultMaxDepth bounds how many reference hops a branch may take.
	DefaultMaxDepth = 64

	// DefaultLookupTimeout bounds a single store lookup.
	DefaultLookupTimeout = 5 * time.Second
)

// Lookuper finds a stored document by exact field value.
//
// A miss is reported as (nil, nil). Connectivity failures are returned as
// errors so they can be told apart from misses.
type Lookuper interface {
	LookupByField(ctx context.Context, field, value string) (*document.Document, error)
}

// Settings configures a Resolver.
type Settings struct {
	// ReferenceField holds the delimited foreign keys on each document.
	ReferenceField string

	// ForeignIDField is matched against each foreign key in the store.
	ForeignIDField string

	// Delimiter separates foreign keys. Default: ";"
	Delimiter string

	// Mappings is the ordered source to destination copy table. Required.
	Mappings []FieldMapping

	// Guard stops traversal at documents lacking the required field value.
	Guard Guard

	// IDField is read from terminals into ResolvedIDField. Default: "id"
	IDField string

	// ResolvedIDField receives the last terminal's id. Default: "foreignId_s"
	ResolvedIDField string

	// MaxDepth abandons branches deeper than this many hops. 0 means
	// DefaultMaxDepth, negative disables the bound.
	MaxDepth int

	// LookupTimeout bounds each store lookup. 0 means DefaultLookupTimeout,
	// negative disables the bound.
	LookupTimeout time.Duration
}

// ApplyDefaults sets default values for unset fields.
func (s *Settings) ApplyDefaults() {
	if s.Delimiter == "" {
		s.Delimiter = DefaultDelimiter
	}
	if s.IDField == "" {
		s.IDField = DefaultIDField
	}
	if s.ResolvedIDField == "" {
		s.ResolvedIDField = DefaultResolvedIDField
	}
	if s.MaxDepth == 0 {
		s.MaxDepth = DefaultMaxDepth
	}
	if s.LookupTimeout == 0 {
		s.LookupTimeout = DefaultLookupTimeout
	}
}

// Validate validates the settings.
func (s *Settings) Validate() error {
	if s.ReferenceField == "" {
		return fmt.Errorf("%w: reference field required", ErrInvalidSettings)
	}
	if s.ForeignIDField == "" {
		return fmt.Errorf("%w: foreign id field required", ErrInvalidSettings)
	}
	if len(s.Mappings) == 0 {
		return ErrNoMappings
	}
	for i, m := range s.Mappings {
		if m.Source == "" || m.Dest == "" {
			return fmt.Errorf("%w: mapping %d needs both source and dest", ErrInvalidSettings, i)
		}
	}
	return nil
}

// Report summarizes one top-level resolution.
type Report struct {
	Terminals     int `json:"terminals"`
	Lookups       int `json:"lookups"`
	Misses        int `json:"misses"`
	Failures      int `json:"failures"`
	DeadEnds      int `json:"dead_ends"`
	CyclesSkipped int `json:"cycles_skipped"`
	DepthExceeded int `json:"depth_exceeded"`
}

// Resolver walks reference chains through a Lookuper. It holds no
// per-resolution state and is safe for concurrent use as long as the
// Lookuper is.
type Resolver struct {
	store    Lookuper
	settings Settings
	merger   *Merger
	logger   *zap.Logger
}

// New creates a Resolver. The caller owns the Lookuper and must keep it
// open for as long as the Resolver is used.
func New(store Lookuper, settings Settings, logger *zap.Logger) (*Resolver, error) {
	if store == nil {
		return nil, fmt.Errorf("%w: store is required", ErrInvalidSettings)
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	settings.ApplyDefaults()
	if err := settings.Validate(); err != nil {
		return nil, err
	}

	return &Resolver{
		store:    store,
		settings: settings,
		merger:   NewMerger(settings.Mappings, settings.IDField, settings.ResolvedIDField),
		logger:   logger,
	}, nil
}

// Settings returns a copy of the resolver settings with defaults applied.
func (r *Resolver) Settings() Settings {
	s := r.settings
	s.Mappings = append([]FieldMapping(nil), r.settings.Mappings...)
	return s
}

// Resolve resolves root's reference chain and merges terminal fields into
// result. result and root may be the same document.
func (r *Resolver) Resolve(ctx context.Context, result, root *document.Document) error {
	_, err := r.ResolveWithReport(ctx, result, root)
	return err
}

// ResolveWithReport is Resolve returning a summary of the traversal.
//
// Branch failures (misses, unreachable store, cycles, depth) never abort the
// traversal; the only errors returned are nil documents and a cancelled ctx.
func (r *Resolver) ResolveWithReport(ctx context.Context, result, root *document.Document) (Report, error) {
	if result == nil || root == nil {
		return Report{}, ErrNilDocument
	}

	ctx, span := tracer.Start(ctx, "Resolver.Resolve")
	defer span.End()
	start := time.Now()

	w := &walk{
		Resolver: r,
		result:   result,
		path:     make(map[string]bool),
	}
	if id := root.ID(r.settings.ForeignIDField); id != "" {
		w.path[id] = true
	}

	err := w.visit(ctx, root, 0)

	w.report.record()
	ResolutionDuration.Observe(time.Since(start).Seconds())
	span.SetAttributes(
		attribute.Int("terminals", w.report.Terminals),
		attribute.Int("lookups", w.report.Lookups),
		attribute.Int("misses", w.report.Misses),
		attribute.Int("failures", w.report.Failures),
	)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return w.report, err
	}
	span.SetStatus(codes.Ok, "resolved")
	return w.report, nil
}

// walk carries the state of one top-level resolution.
type walk struct {
	*Resolver
	result *document.Document

	// path holds the foreign keys on the current branch, root first.
	path   map[string]bool
	report Report
}

func (w *walk) visit(ctx context.Context, current *document.Document, depth int) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	s := w.settings
	if !current.Has(s.ReferenceField) || !s.Guard.Allows(current) {
		w.merger.Merge(w.result, current)
		w.report.Terminals++
		w.logger.Debug("merged terminal document",
			zap.String("terminal_id", current.ID(s.IDField)),
			zap.Int("depth", depth),
		)
		return nil
	}

	keys := referenceKeys(current.Values(s.ReferenceField), s.Delimiter)
	if len(keys) == 0 {
		w.report.DeadEnds++
		w.logger.Debug("empty reference field, nothing to resolve",
			zap.String("document_id", current.ID(s.IDField)),
			zap.String("reference_field", s.ReferenceField),
		)
		return nil
	}

	if s.MaxDepth > 0 && depth >= s.MaxDepth {
		w.report.DepthExceeded++
		w.logger.Error("reference chain exceeds max depth, abandoning branch",
			zap.String("document_id", current.ID(s.IDField)),
			zap.Int("max_depth", s.MaxDepth),
		)
		return nil
	}

	for _, key := range keys {
		if w.path[key] {
			w.report.CyclesSkipped++
			w.logger.Warn("reference cycle detected, skipping key",
				zap.String("field", s.ForeignIDField),
				zap.String("key", key),
				zap.Int("depth", depth),
			)
			continue
		}

		child, err := w.lookup(ctx, key)
		if err != nil {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return ctxErr
			}
			w.report.Failures++
			w.logger.Error("document store not reachable, abandoning branch",
				zap.String("field", s.ForeignIDField),
				zap.String("key", key),
				zap.Error(err),
			)
			continue
		}
		if child == nil {
			w.report.Misses++
			w.logger.Info("referenced document does not exist",
				zap.String("field", s.ForeignIDField),
				zap.String("key", key),
			)
			continue
		}

		w.path[key] = true
		err = w.visit(ctx, child, depth+1)
		delete(w.path, key)
		if err != nil {
			return err
		}
	}
	return nil
}

func (w *walk) lookup(ctx context.Context, key string) (*document.Document, error) {
	w.report.Lookups++

	// Waiting on the barrier is not part of the lookup timeout.
	if wait := barrierFrom(ctx); wait != nil {
		if err := wait(ctx, key); err != nil {
			return nil, err
		}
	}

	ctx, span := tracer.Start(ctx, "Resolver.Lookup")
	defer span.End()
	span.SetAttributes(
		attribute.String("field", w.settings.ForeignIDField),
		attribute.String("key", key),
	)

	if w.settings.LookupTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, w.settings.LookupTimeout)
		defer cancel()
	}

	doc, err := w.store.LookupByField(ctx, w.settings.ForeignIDField, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Bool("found", doc != nil))
	return doc, nil
}
