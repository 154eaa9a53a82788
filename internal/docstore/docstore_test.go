package docstore

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/fyrsmithlabs/refmerge/internal/document"
)

func TestHashEmbedder(t *testing.T) {
	e := NewHashEmbedder(32)
	a := e.Embed("doc-a")
	b := e.Embed("doc-b")

	assert.Len(t, a, 32)
	assert.Equal(t, a, e.Embed("doc-a"), "embedding is deterministic")
	assert.NotEqual(t, a, b)

	var sumSq float64
	for _, v := range a {
		sumSq += float64(v) * float64(v)
	}
	assert.InDelta(t, 1.0, math.Sqrt(sumSq), 1e-5)

	assert.Equal(t, DefaultVectorSize, NewHashEmbedder(0).Size())
}

func TestLookupMetadata(t *testing.T) {
	d := document.New()
	d.Set("id", "A")
	d.Set("n", int64(7))
	d.Set("f", 1.5)
	d.Set("ok", true)
	d.Set("multi", "x", "y")
	d.Set("empty")
	d.Set("nested", map[string]any{"a": 1})

	assert.Equal(t, map[string]string{
		memberKey("id", "A"):    "1",
		memberKey("n", "7"):     "1",
		memberKey("f", "1.5"):   "1",
		memberKey("ok", "true"): "1",
		memberKey("multi", "x"): "1",
		memberKey("multi", "y"): "1",
	}, lookupMetadata(d))
}

func TestValidateCollectionName(t *testing.T) {
	assert.NoError(t, ValidateCollectionName("refmerge_documents"))
	assert.ErrorIs(t, ValidateCollectionName(""), ErrInvalidCollectionName)
	assert.ErrorIs(t, ValidateCollectionName("../etc"), ErrInvalidCollectionName)
	assert.ErrorIs(t, ValidateCollectionName("Upper"), ErrInvalidCollectionName)
}

func TestParseQdrantURL(t *testing.T) {
	host, port, err := ParseQdrantURL("qdrant.internal:6334")
	require.NoError(t, err)
	assert.Equal(t, "qdrant.internal", host)
	assert.Equal(t, 6334, port)

	_, _, err = ParseQdrantURL("no-port")
	assert.ErrorIs(t, err, ErrInvalidConfig)
	_, _, err = ParseQdrantURL("host:abc")
	assert.ErrorIs(t, err, ErrInvalidConfig)
}

func TestIsTransientError(t *testing.T) {
	assert.True(t, IsTransientError(status.Error(codes.Unavailable, "down")))
	assert.True(t, IsTransientError(status.Error(codes.DeadlineExceeded, "slow")))
	assert.False(t, IsTransientError(status.Error(codes.InvalidArgument, "bad")))
	assert.False(t, IsTransientError(errors.New("plain")))
	assert.False(t, IsTransientError(nil))
}

func TestQdrantStore_RetryAndCircuitBreaker(t *testing.T) {
	s := &QdrantStore{config: QdrantConfig{
		MaxRetries:              2,
		RetryBackoff:            time.Millisecond,
		CircuitBreakerThreshold: 5,
	}}

	calls := 0
	err := s.retryOperation(context.Background(), "op", func() error {
		calls++
		if calls < 3 {
			return status.Error(codes.Unavailable, "down")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)

	calls = 0
	err = s.retryOperation(context.Background(), "op", func() error {
		calls++
		return status.Error(codes.InvalidArgument, "bad")
	})
	require.Error(t, err)
	assert.Equal(t, 1, calls, "permanent errors are not retried")

	for i := 0; i < 5; i++ {
		s.recordFailure()
	}
	err = s.retryOperation(context.Background(), "op", func() error { return nil })
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestQdrantStore_WrapConnectivity(t *testing.T) {
	s := &QdrantStore{}
	assert.ErrorIs(t, s.wrap(status.Error(codes.Unavailable, "down")), ErrUnavailable)
	assert.NotErrorIs(t, s.wrap(status.Error(codes.InvalidArgument, "bad")), ErrUnavailable)
	assert.NoError(t, s.wrap(nil))
}

func TestDocumentPayloadRoundTrip(t *testing.T) {
	d := document.New()
	d.Set("id", "A")
	d.Set("fid_s", int64(9))
	d.Set("tags", "x", "y")

	payload, err := documentPayload(d)
	require.NoError(t, err)

	assert.Equal(t, "9", payload["fid_s"].GetStringValue())
	assert.Len(t, payload["tags"].GetListValue().GetValues(), 2)

	got, err := pointDocument(payload)
	require.NoError(t, err)
	assert.Equal(t, d.Fields(), got.Fields())
	assert.Equal(t, []any{"x", "y"}, got.Values("tags"))

	_, err = pointDocument(nil)
	assert.Error(t, err)
}

func TestPointIDIsDeterministic(t *testing.T) {
	assert.Equal(t, pointID("A").GetUuid(), pointID("A").GetUuid())
	assert.NotEqual(t, pointID("A").GetUuid(), pointID("B").GetUuid())
}

// countingStore records lookups for rate limiter tests.
type countingStore struct {
	Store
	lookups int
}

func (c *countingStore) LookupByField(context.Context, string, string) (*document.Document, error) {
	c.lookups++
	return nil, nil
}

func TestRateLimited(t *testing.T) {
	inner := &countingStore{}
	limited := NewRateLimited(inner, 1, 1)

	_, err := limited.LookupByField(context.Background(), "f", "v")
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, err = limited.LookupByField(ctx, "f", "v")
	assert.Error(t, err, "second lookup cannot get a token before the deadline")
	assert.Equal(t, 1, inner.lookups)
	assert.Same(t, Store(inner), limited.Unwrap())
}
