package docstore_test

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/refmerge/internal/docstore"
)

// newTestQdrantStore connects to the Qdrant named by REFMERGE_TEST_QDRANT_URL
// and skips the test when it is unset or unreachable.
func newTestQdrantStore(t *testing.T) *docstore.QdrantStore {
	t.Helper()

	endpoint := os.Getenv("REFMERGE_TEST_QDRANT_URL")
	if endpoint == "" {
		t.Skip("REFMERGE_TEST_QDRANT_URL not set")
	}
	host, port, err := docstore.ParseQdrantURL(endpoint)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	store, err := docstore.NewQdrantStore(ctx, docstore.QdrantConfig{
		Host:       host,
		Port:       port,
		Collection: "refmerge_test_" + uuid.NewString()[:8],
		MaxRetries: 1,
	}, zap.NewNop())
	if err != nil {
		t.Skipf("qdrant not reachable at %s: %v", endpoint, err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestQdrantStore_LookupByField(t *testing.T) {
	store := newTestQdrantStore(t)
	ctx := context.Background()

	multi := testDoc("id", "M", "title", "Multi")
	multi.Set("fid_s", "m1", "m2")

	require.NoError(t, store.Index(ctx,
		testDoc("id", "B", "fid_s", "b", "title", "Beta"),
		testDoc("id", "N", "fid_s", int64(42), "title", "Numeric"),
		multi,
	))

	got, err := store.LookupByField(ctx, "fid_s", "b")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Beta", got.Get("title"))

	got, err = store.LookupByField(ctx, "fid_s", "42")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Numeric", got.Get("title"))

	got, err = store.LookupByField(ctx, "fid_s", "m2")
	require.NoError(t, err)
	require.NotNil(t, got, "keyword match hits any element of a multi-valued field")
	assert.Equal(t, "Multi", got.Get("title"))

	got, err = store.LookupByField(ctx, "fid_s", "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestQdrantStore_GetDeleteCount(t *testing.T) {
	store := newTestQdrantStore(t)
	ctx := context.Background()

	require.NoError(t, store.Index(ctx, testDoc("id", "A", "title", "old")))
	require.NoError(t, store.Index(ctx, testDoc("id", "A", "title", "new")))

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.Get(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "new", got.Get("title"))

	require.NoError(t, store.Delete(ctx, "A"))
	_, err = store.Get(ctx, "A")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}
