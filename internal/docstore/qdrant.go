package docstore

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/qdrant/go-client/qdrant"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	grpccodes "google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/refmerge/internal/document"
)

var qdrantTracer = otel.Tracer("refmerge.docstore.qdrant")

const providerQdrant = "qdrant"

// pointNamespace derives deterministic point ids from document ids so that
// re-indexing a document replaces its point.
var pointNamespace = uuid.MustParse("5b0f3f0e-8a5e-4d55-9a39-5a8f3c1d7e21")

// QdrantConfig holds configuration for the Qdrant gRPC client.
type QdrantConfig struct {
	// Host is the Qdrant server hostname. Default: "localhost"
	Host string

	// Port is the Qdrant gRPC port (not the REST port). Default: 6334
	Port int

	// APIKey authenticates against Qdrant Cloud. Optional.
	APIKey string

	// UseTLS enables TLS for the gRPC connection.
	UseTLS bool

	// Collection is the collection holding all documents.
	// Default: "refmerge_documents"
	Collection string

	// VectorSize is the HashEmbedder dimension. Default: 64
	VectorSize int

	// IDField names the document field used as the stored id. Default: "id"
	IDField string

	// MaxRetries is the maximum number of retries for transient failures.
	// Default: 3
	MaxRetries int

	// RetryBackoff is the initial backoff, doubled on each retry.
	// Default: 200ms
	RetryBackoff time.Duration

	// CircuitBreakerThreshold is the number of failures before the circuit
	// opens. Default: 5
	CircuitBreakerThreshold int
}

// ParseQdrantURL splits a "host:port" endpoint.
func ParseQdrantURL(endpoint string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(endpoint)
	if err != nil {
		return "", 0, fmt.Errorf("%w: qdrant url %q: %v", ErrInvalidConfig, endpoint, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, fmt.Errorf("%w: qdrant port %q: %v", ErrInvalidConfig, portStr, err)
	}
	return host, port, nil
}

// ApplyDefaults sets default values for unset fields.
func (c *QdrantConfig) ApplyDefaults() {
	if c.Host == "" {
		c.Host = "localhost"
	}
	if c.Port == 0 {
		c.Port = 6334
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
	if c.MaxRetries == 0 {
		c.MaxRetries = 3
	}
	if c.RetryBackoff == 0 {
		c.RetryBackoff = 200 * time.Millisecond
	}
	if c.CircuitBreakerThreshold == 0 {
		c.CircuitBreakerThreshold = 5
	}
}

// Validate validates the configuration.
func (c QdrantConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: host required", ErrInvalidConfig)
	}
	if c.Port <= 0 || c.Port > 65535 {
		return fmt.Errorf("%w: invalid port: %d", ErrInvalidConfig, c.Port)
	}
	if c.VectorSize <= 0 {
		return fmt.Errorf("%w: vector size must be positive", ErrInvalidConfig)
	}
	if c.MaxRetries < 0 {
		return fmt.Errorf("%w: max retries cannot be negative", ErrInvalidConfig)
	}
	return ValidateCollectionName(c.Collection)
}

// IsTransientError reports whether err is worth retrying.
func IsTransientError(err error) bool {
	if err == nil {
		return false
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Aborted, grpccodes.ResourceExhausted:
		return true
	default:
		return false
	}
}

// isConnectivityError reports whether err means Qdrant could not be reached.
func isConnectivityError(err error) bool {
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	st, ok := status.FromError(err)
	if !ok {
		return false
	}
	switch st.Code() {
	case grpccodes.Unavailable, grpccodes.DeadlineExceeded, grpccodes.Unauthenticated, grpccodes.PermissionDenied:
		return true
	default:
		return false
	}
}

// QdrantStore implements Store on a Qdrant server over gRPC.
//
// Each document becomes one point. Its payload holds every single- and
// multi-valued scalar field (so keyword filters match any element of a
// multi-valued field) plus the serialized document under "_source".
type QdrantStore struct {
	client   *qdrant.Client
	embedder *HashEmbedder
	config   QdrantConfig
	logger   *zap.Logger

	circuitBreaker struct {
		failures int
		lastFail time.Time
		mu       sync.Mutex
	}
}

// NewQdrantStore connects to Qdrant, checks health and ensures the
// collection exists.
func NewQdrantStore(ctx context.Context, config QdrantConfig, logger *zap.Logger) (*QdrantStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	config.ApplyDefaults()
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	if !config.UseTLS {
		logger.Warn("qdrant gRPC using plaintext (TLS disabled)",
			zap.String("host", config.Host),
			zap.Int("port", config.Port),
		)
	}

	client, err := qdrant.NewClient(&qdrant.Config{
		Host:   config.Host,
		Port:   config.Port,
		APIKey: config.APIKey,
		UseTLS: config.UseTLS,
		GrpcOptions: []grpc.DialOption{
			grpc.WithDefaultCallOptions(
				grpc.MaxCallRecvMsgSize(16*1024*1024),
				grpc.MaxCallSendMsgSize(16*1024*1024),
			),
		},
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}

	store := &QdrantStore{
		client:   client,
		embedder: NewHashEmbedder(config.VectorSize),
		config:   config,
		logger:   logger,
	}

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	if err := store.Health(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}
	if err := store.ensureCollection(ctx); err != nil {
		_ = client.Close()
		return nil, err
	}

	logger.Info("qdrant document store initialized",
		zap.String("host", config.Host),
		zap.Int("port", config.Port),
		zap.String("collection", config.Collection),
	)
	return store, nil
}

func (s *QdrantStore) ensureCollection(ctx context.Context) error {
	var exists bool
	err := s.retryOperation(ctx, "collection_exists", func() error {
		var err error
		exists, err = s.client.CollectionExists(ctx, s.config.Collection)
		return err
	})
	if err != nil {
		return s.wrap(fmt.Errorf("checking collection %s: %w", s.config.Collection, err))
	}
	if exists {
		return nil
	}

	err = s.retryOperation(ctx, "create_collection", func() error {
		return s.client.CreateCollection(ctx, &qdrant.CreateCollection{
			CollectionName: s.config.Collection,
			VectorsConfig: qdrant.NewVectorsConfig(&qdrant.VectorParams{
				Size:     uint64(s.config.VectorSize),
				Distance: qdrant.Distance_Cosine,
			}),
		})
	})
	if err != nil {
		return s.wrap(fmt.Errorf("creating collection %s: %w", s.config.Collection, err))
	}
	s.logger.Info("created qdrant collection", zap.String("collection", s.config.Collection))
	return nil
}

// wrap marks connectivity failures with ErrUnavailable.
func (s *QdrantStore) wrap(err error) error {
	if err == nil || errors.Is(err, ErrUnavailable) {
		return err
	}
	if isConnectivityError(err) {
		return fmt.Errorf("%w: %w", ErrUnavailable, err)
	}
	return err
}

// retryOperation retries an operation with exponential backoff.
func (s *QdrantStore) retryOperation(ctx context.Context, operationName string, operation func() error) error {
	if s.isCircuitOpen() {
		return fmt.Errorf("%w: %s: circuit breaker open", ErrUnavailable, operationName)
	}

	backoff := s.config.RetryBackoff
	for attempt := 0; attempt <= s.config.MaxRetries; attempt++ {
		err := operation()
		if err == nil {
			s.resetCircuitBreaker()
			return nil
		}
		if !IsTransientError(err) {
			return fmt.Errorf("%s failed (permanent): %w", operationName, err)
		}

		s.recordFailure()
		if s.isCircuitOpen() {
			return fmt.Errorf("%w: %s: circuit breaker open: %w", ErrUnavailable, operationName, err)
		}
		if attempt == s.config.MaxRetries {
			return fmt.Errorf("%s failed after %d retries: %w", operationName, s.config.MaxRetries, err)
		}

		select {
		case <-ctx.Done():
			return fmt.Errorf("%s canceled: %w", operationName, ctx.Err())
		case <-time.After(backoff):
			backoff *= 2
		}
	}
	return nil
}

func (s *QdrantStore) recordFailure() {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()
	s.circuitBreaker.failures++
	s.circuitBreaker.lastFail = time.Now()
}

func (s *QdrantStore) resetCircuitBreaker() {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()
	s.circuitBreaker.failures = 0
}

func (s *QdrantStore) isCircuitOpen() bool {
	s.circuitBreaker.mu.Lock()
	defer s.circuitBreaker.mu.Unlock()

	if s.circuitBreaker.failures >= s.config.CircuitBreakerThreshold {
		// Half-open after 30 seconds.
		if time.Since(s.circuitBreaker.lastFail) > 30*time.Second {
			s.circuitBreaker.failures = 0
			return false
		}
		return true
	}
	return false
}

// pointID returns the deterministic point id for a document id.
func pointID(id string) *qdrant.PointId {
	return qdrant.NewIDUUID(uuid.NewSHA1(pointNamespace, []byte(id)).String())
}

// LookupByField scrolls for the first point whose payload field matches
// value as a keyword.
func (s *QdrantStore) LookupByField(ctx context.Context, field, value string) (doc *document.Document, err error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.LookupByField")
	defer span.End()
	defer func(start time.Time) { observe(providerQdrant, "lookup", start, err) }(time.Now())

	span.SetAttributes(
		attribute.String("field", field),
		attribute.String("value", value),
	)

	if field == "" {
		return nil, fmt.Errorf("%w: lookup field required", ErrInvalidConfig)
	}

	var points []*qdrant.RetrievedPoint
	err = s.retryOperation(ctx, "scroll", func() error {
		res, err := s.client.Scroll(ctx, &qdrant.ScrollPoints{
			CollectionName: s.config.Collection,
			Filter: &qdrant.Filter{
				Must: []*qdrant.Condition{keywordCondition(field, value)},
			},
			Limit:       qdrant.PtrOf(uint32(1)),
			WithPayload: qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, s.wrap(fmt.Errorf("looking up %s=%s: %w", field, value, err))
	}

	if len(points) == 0 {
		span.SetAttributes(attribute.Bool("found", false))
		return nil, nil
	}

	doc, err = pointDocument(points[0].GetPayload())
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	span.SetAttributes(attribute.Bool("found", true))
	span.SetStatus(codes.Ok, "success")
	return doc, nil
}

func keywordCondition(field, value string) *qdrant.Condition {
	return &qdrant.Condition{
		ConditionOneOf: &qdrant.Condition_Field{
			Field: &qdrant.FieldCondition{
				Key: field,
				Match: &qdrant.Match{
					MatchValue: &qdrant.Match_Keyword{Keyword: value},
				},
			},
		},
	}
}

// Index upserts documents as points.
func (s *QdrantStore) Index(ctx context.Context, docs ...*document.Document) (err error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Index")
	defer span.End()
	defer func(start time.Time) { observe(providerQdrant, "index", start, err) }(time.Now())

	span.SetAttributes(attribute.Int("document_count", len(docs)))

	if len(docs) == 0 {
		return ErrEmptyDocuments
	}

	points := make([]*qdrant.PointStruct, len(docs))
	for i, doc := range docs {
		id := doc.ID(s.config.IDField)
		if id == "" {
			return fmt.Errorf("%w: document %d lacks %q", ErrMissingID, i, s.config.IDField)
		}
		payload, payloadErr := documentPayload(doc)
		if payloadErr != nil {
			return payloadErr
		}
		points[i] = &qdrant.PointStruct{
			Id:      pointID(id),
			Vectors: qdrant.NewVectors(s.embedder.Embed(id)...),
			Payload: payload,
		}
	}

	err = s.retryOperation(ctx, "upsert", func() error {
		_, err := s.client.Upsert(ctx, &qdrant.UpsertPoints{
			CollectionName: s.config.Collection,
			Wait:           qdrant.PtrOf(true),
			Points:         points,
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return s.wrap(fmt.Errorf("upserting points to collection %s: %w", s.config.Collection, err))
	}

	span.SetStatus(codes.Ok, "success")
	return nil
}

// Get returns the document stored under id.
func (s *QdrantStore) Get(ctx context.Context, id string) (doc *document.Document, err error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Get")
	defer span.End()
	defer func(start time.Time) { observe(providerQdrant, "get", start, err) }(time.Now())

	span.SetAttributes(attribute.String("id", id))

	var points []*qdrant.RetrievedPoint
	err = s.retryOperation(ctx, "get", func() error {
		res, err := s.client.Get(ctx, &qdrant.GetPoints{
			CollectionName: s.config.Collection,
			Ids:            []*qdrant.PointId{pointID(id)},
			WithPayload:    qdrant.NewWithPayload(true),
		})
		if err != nil {
			return err
		}
		points = res
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, s.wrap(fmt.Errorf("getting %s: %w", id, err))
	}
	if len(points) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return pointDocument(points[0].GetPayload())
}

// Delete removes documents by id.
func (s *QdrantStore) Delete(ctx context.Context, ids ...string) (err error) {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Delete")
	defer span.End()
	defer func(start time.Time) { observe(providerQdrant, "delete", start, err) }(time.Now())

	span.SetAttributes(attribute.Int("id_count", len(ids)))

	if len(ids) == 0 {
		return nil
	}
	pointIDs := make([]*qdrant.PointId, len(ids))
	for i, id := range ids {
		pointIDs[i] = pointID(id)
	}

	err = s.retryOperation(ctx, "delete", func() error {
		_, err := s.client.Delete(ctx, &qdrant.DeletePoints{
			CollectionName: s.config.Collection,
			Wait:           qdrant.PtrOf(true),
			Points: &qdrant.PointsSelector{
				PointsSelectorOneOf: &qdrant.PointsSelector_Points{
					Points: &qdrant.PointsIdsList{Ids: pointIDs},
				},
			},
		})
		return err
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return s.wrap(fmt.Errorf("deleting points: %w", err))
	}
	return nil
}

// Count returns the exact number of points in the collection.
func (s *QdrantStore) Count(ctx context.Context) (int, error) {
	var n uint64
	err := s.retryOperation(ctx, "count", func() error {
		var err error
		n, err = s.client.Count(ctx, &qdrant.CountPoints{
			CollectionName: s.config.Collection,
			Exact:          qdrant.PtrOf(true),
		})
		return err
	})
	if err != nil {
		return 0, s.wrap(fmt.Errorf("counting points: %w", err))
	}
	return int(n), nil
}

// Health checks the Qdrant connection.
func (s *QdrantStore) Health(ctx context.Context) error {
	ctx, span := qdrantTracer.Start(ctx, "QdrantStore.Health")
	defer span.End()

	_, err := s.client.HealthCheck(ctx)
	RecordHealthCheckResult(err)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return fmt.Errorf("%w: health check failed: %w", ErrUnavailable, err)
	}
	span.SetStatus(codes.Ok, "healthy")
	return nil
}

// Close closes the gRPC connection.
func (s *QdrantStore) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

// documentPayload converts a document into a Qdrant payload.
func documentPayload(doc *document.Document) (map[string]*qdrant.Value, error) {
	src, err := encodeSource(doc)
	if err != nil {
		return nil, err
	}
	payload := make(map[string]*qdrant.Value, doc.Len()+1)
	for _, name := range doc.Fields() {
		vals := doc.Values(name)
		switch len(vals) {
		case 0:
			continue
		case 1:
			if v := scalarValue(vals[0]); v != nil {
				payload[name] = v
			}
		default:
			list := make([]*qdrant.Value, 0, len(vals))
			for _, val := range vals {
				if v := scalarValue(val); v != nil {
					list = append(list, v)
				}
			}
			payload[name] = &qdrant.Value{Kind: &qdrant.Value_ListValue{ListValue: &qdrant.ListValue{Values: list}}}
		}
	}
	payload[sourceKey] = &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: src}}
	return payload, nil
}

// scalarValue stores every scalar as a keyword string so that lookups by
// the string form of a reference key match numeric ids too.
func scalarValue(v any) *qdrant.Value {
	s, ok := keyString(v)
	if !ok {
		return nil
	}
	return &qdrant.Value{Kind: &qdrant.Value_StringValue{StringValue: s}}
}

func pointDocument(payload map[string]*qdrant.Value) (*document.Document, error) {
	src, ok := payload[sourceKey]
	if !ok {
		return nil, fmt.Errorf("point payload lacks %q", sourceKey)
	}
	return decodeSource(src.GetStringValue())
}

// Ensure QdrantStore implements Store interface.
var _ Store = (*QdrantStore)(nil)
