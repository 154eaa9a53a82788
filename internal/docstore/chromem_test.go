package docstore_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/refmerge/internal/config"
	"github.com/fyrsmithlabs/refmerge/internal/docstore"
	"github.com/fyrsmithlabs/refmerge/internal/document"
	"github.com/fyrsmithlabs/refmerge/internal/telemetry"
)

func newTestChromemStore(t *testing.T) (*docstore.ChromemStore, string) {
	t.Helper()

	dir := t.TempDir()
	store, err := docstore.NewChromemStore(docstore.ChromemConfig{
		Path:       dir,
		Collection: "test_documents",
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store, dir
}

func testDoc(pairs ...any) *document.Document {
	d := document.New()
	for i := 0; i+1 < len(pairs); i += 2 {
		d.Set(pairs[i].(string), pairs[i+1])
	}
	return d
}

func TestChromemStore_LookupByField(t *testing.T) {
	store, _ := newTestChromemStore(t)
	ctx := context.Background()

	require.NoError(t, store.Index(ctx,
		testDoc("id", "B", "fid_s", "b", "title", "Beta", "parent_ss", "c"),
		testDoc("id", "C", "fid_s", "c", "title", "Gamma"),
		testDoc("id", "N", "fid_s", int64(42), "title", "Numeric"),
	))

	got, err := store.LookupByField(ctx, "fid_s", "c")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Gamma", got.Get("title"))
	assert.Equal(t, []string{"id", "fid_s", "title"}, got.Fields())

	got, err = store.LookupByField(ctx, "fid_s", "42")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Numeric", got.Get("title"))

	got, err = store.LookupByField(ctx, "fid_s", "missing")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestChromemStore_LookupMultiValued(t *testing.T) {
	store, _ := newTestChromemStore(t)
	ctx := context.Background()

	multi := testDoc("id", "M", "title", "Multi")
	multi.Set("fid_s", "m1", "m2")
	require.NoError(t, store.Index(ctx, multi))

	for _, key := range []string{"m1", "m2"} {
		got, err := store.LookupByField(ctx, "fid_s", key)
		require.NoError(t, err)
		require.NotNil(t, got, "any value of a multi-valued field matches")
		assert.Equal(t, "Multi", got.Get("title"))
	}

	got, err := store.LookupByField(ctx, "fid_s", "m1;m2")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestChromemStore_LookupEmptyStore(t *testing.T) {
	store, _ := newTestChromemStore(t)
	got, err := store.LookupByField(context.Background(), "fid_s", "a")
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestChromemStore_IndexReplacesByID(t *testing.T) {
	store, _ := newTestChromemStore(t)
	ctx := context.Background()

	require.NoError(t, store.Index(ctx, testDoc("id", "A", "title", "old")))
	require.NoError(t, store.Index(ctx, testDoc("id", "A", "title", "new")))

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	got, err := store.Get(ctx, "A")
	require.NoError(t, err)
	assert.Equal(t, "new", got.Get("title"))
}

func TestChromemStore_IndexErrors(t *testing.T) {
	store, _ := newTestChromemStore(t)
	ctx := context.Background()

	assert.ErrorIs(t, store.Index(ctx), docstore.ErrEmptyDocuments)
	assert.ErrorIs(t, store.Index(ctx, testDoc("title", "no id")), docstore.ErrMissingID)
}

func TestChromemStore_GetAndDelete(t *testing.T) {
	store, _ := newTestChromemStore(t)
	ctx := context.Background()

	require.NoError(t, store.Index(ctx, testDoc("id", "A"), testDoc("id", "B")))

	_, err := store.Get(ctx, "Z")
	assert.ErrorIs(t, err, docstore.ErrNotFound)

	require.NoError(t, store.Delete(ctx, "A", "unknown"))
	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	_, err = store.Get(ctx, "A")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestChromemStore_Persistence(t *testing.T) {
	dir := t.TempDir()
	cfg := docstore.ChromemConfig{Path: dir, Collection: "persist"}

	store, err := docstore.NewChromemStore(cfg, nil)
	require.NoError(t, err)
	require.NoError(t, store.Index(context.Background(), testDoc("id", "A", "fid_s", "a", "title", "Alpha")))
	require.NoError(t, store.Close())

	reopened, err := docstore.NewChromemStore(cfg, nil)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.LookupByField(context.Background(), "fid_s", "a")
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, "Alpha", got.Get("title"))
}

func TestChromemStore_DirectoryLock(t *testing.T) {
	_, dir := newTestChromemStore(t)

	_, err := docstore.NewChromemStore(docstore.ChromemConfig{Path: dir, Collection: "test_documents"}, nil)
	assert.ErrorIs(t, err, docstore.ErrLocked)
}

func TestChromemStore_ClosedIsUnavailable(t *testing.T) {
	store, _ := newTestChromemStore(t)
	require.NoError(t, store.Close())

	_, err := store.LookupByField(context.Background(), "fid_s", "a")
	assert.ErrorIs(t, err, docstore.ErrUnavailable)
	assert.ErrorIs(t, store.Health(context.Background()), docstore.ErrUnavailable)
}

func TestChromemConfig_Validate(t *testing.T) {
	_, err := docstore.NewChromemStore(docstore.ChromemConfig{Path: t.TempDir(), Collection: "Bad-Name"}, nil)
	assert.ErrorIs(t, err, docstore.ErrInvalidCollectionName)
}

func TestNewStore(t *testing.T) {
	cfg := config.Default()
	cfg.Store.Path = t.TempDir()
	cfg.Store.LookupRate = 100

	store, err := docstore.NewStore(context.Background(), cfg, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	limited, ok := store.(*docstore.RateLimited)
	require.True(t, ok, "positive lookup rate wraps the store")
	_, ok = limited.Unwrap().(*docstore.ChromemStore)
	assert.True(t, ok)

	cfg.Store.Provider = "solr"
	_, err = docstore.NewStore(context.Background(), cfg, nil)
	assert.ErrorIs(t, err, docstore.ErrInvalidConfig)
}

func TestChromemStore_Spans(t *testing.T) {
	tel := telemetry.NewTestTelemetry()
	tel.Install(t)

	store, _ := newTestChromemStore(t)
	ctx := context.Background()
	require.NoError(t, store.Index(ctx, testDoc("id", "B", "fid_s", "b")))

	_, err := store.LookupByField(ctx, "fid_s", "b")
	require.NoError(t, err)

	tel.AssertSpanAttribute(t, "ChromemStore.Index", "document_count", int64(1))
	tel.AssertSpanAttribute(t, "ChromemStore.LookupByField", "field", "fid_s")
	tel.AssertSpanAttribute(t, "ChromemStore.LookupByField", "found", true)
}
