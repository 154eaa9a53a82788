package http

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/refmerge/internal/config"
	"github.com/fyrsmithlabs/refmerge/internal/docstore"
	"github.com/fyrsmithlabs/refmerge/internal/document"
	"github.com/fyrsmithlabs/refmerge/internal/logging"
	"github.com/fyrsmithlabs/refmerge/internal/processor"
)

type testServer struct {
	*Server
	store *docstore.ChromemStore
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()

	store, err := docstore.NewChromemStore(docstore.ChromemConfig{
		Path:       t.TempDir(),
		Collection: "http_test",
	}, zap.NewNop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })

	settings, err := processor.SettingsFromConfig(config.MergeConfig{
		LocalIDField:   "parent_ss",
		ForeignIDField: "fid_s",
		FieldMappings: []config.FieldMapping{
			{Source: "title", Dest: "title_s"},
		},
	}, time.Second)
	require.NoError(t, err)

	proc, err := processor.New(store, settings, logging.NewNop(), processor.NewIndexSink(store))
	require.NoError(t, err)

	srv, err := NewServer(store, proc, processor.NewPool(proc, 2), zap.NewNop(), nil)
	require.NoError(t, err)
	return &testServer{Server: srv, store: store}
}

func (s *testServer) do(t *testing.T, method, target, contentType, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, target, strings.NewReader(body))
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

type resultBody struct {
	Document map[string]any `json:"document"`
	Resolved bool           `json:"resolved"`
	Skipped  string         `json:"skipped"`
	Error    string         `json:"error"`
}

func TestNewServer_Validation(t *testing.T) {
	_, err := NewServer(nil, nil, nil, zap.NewNop(), nil)
	assert.Error(t, err)

	ts := newTestServer(t)
	_, err = NewServer(ts.store, ts.proc, nil, nil, nil)
	assert.Error(t, err, "logger is required")
}

func TestServer_Health(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	var resp HealthResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Equal(t, "ok", resp.Status)
	assert.Equal(t, 0, resp.Documents)

	require.NoError(t, ts.store.Close())
	rec = ts.do(t, http.MethodGet, "/health", "", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
}

func TestServer_IngestSingleAndGet(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/documents", "application/json",
		`{"id":"C","fid_s":"c","title":"Leaf"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res resultBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.False(t, res.Resolved)
	assert.Equal(t, processor.SkipNoReference, res.Skipped)

	rec = ts.do(t, http.MethodPost, "/api/v1/documents", "application/json",
		`{"id":"A","parent_ss":"c"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.True(t, res.Resolved)
	assert.Equal(t, "Leaf", res.Document["title_s"])
	assert.Equal(t, "C", res.Document["foreignId_s"])

	rec = ts.do(t, http.MethodGet, "/api/v1/documents/A", "", "")
	require.Equal(t, http.StatusOK, rec.Code)
	var stored map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &stored))
	assert.Equal(t, "Leaf", stored["title_s"])

	rec = ts.do(t, http.MethodGet, "/api/v1/documents/missing", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestServer_IngestBatch(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/documents", "application/json",
		`[{"id":"B","fid_s":"b","title":"Beta"},{"title":"no id"}]`)
	require.Equal(t, http.StatusMultiStatus, rec.Code, rec.Body.String())

	var resp struct {
		Results []resultBody `json:"results"`
		Failed  int          `json:"failed"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)
	assert.Equal(t, 1, resp.Failed)
	assert.Empty(t, resp.Results[0].Error)
	assert.Contains(t, resp.Results[1].Error, "sink index")
}

func TestServer_IngestBatchReferencingEarlierMember(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/documents", "application/json",
		`[{"id":"L","fid_s":"l","title":"Leaf"},{"id":"R","fid_s":"r","parent_ss":"l"}]`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp struct {
		Results []resultBody `json:"results"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.Len(t, resp.Results, 2)
	assert.Equal(t, "Leaf", resp.Results[1].Document["title_s"])

	got, err := ts.store.Get(context.Background(), "R")
	require.NoError(t, err)
	assert.Equal(t, "Leaf", got.Get("title_s"))
}

func TestServer_IngestYAML(t *testing.T) {
	ts := newTestServer(t)

	body := "- id: B\n  fid_s: b\n  title: Beta\n"
	rec := ts.do(t, http.MethodPost, "/api/v1/documents", "application/yaml", body)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp BatchResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Len(t, resp.Results, 1, "a YAML sequence is a batch even with one entry")
}

func TestServer_ResolveDoesNotIndex(t *testing.T) {
	ts := newTestServer(t)
	d := document.New()
	d.Set("id", "B")
	d.Set("fid_s", "b")
	d.Set("title", "Beta")
	require.NoError(t, ts.store.Index(context.Background(), d))

	rec := ts.do(t, http.MethodPost, "/api/v1/resolve", "application/json", `{"id":"X","parent_ss":"b"}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var res resultBody
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &res))
	assert.Equal(t, "Beta", res.Document["title_s"])

	_, err := ts.store.Get(context.Background(), "X")
	assert.ErrorIs(t, err, docstore.ErrNotFound)
}

func TestServer_BadBodies(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/v1/documents", "application/json", `{"id":`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/v1/documents", "application/json", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestServer_LookupAndDelete(t *testing.T) {
	ts := newTestServer(t)
	d := document.New()
	d.Set("id", "B")
	d.Set("fid_s", "b")
	require.NoError(t, ts.store.Index(context.Background(), d))

	rec := ts.do(t, http.MethodGet, "/api/v1/lookup?field=fid_s&value=b", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/lookup?field=fid_s&value=z", "", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/v1/lookup?field=fid_s", "", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/v1/documents/B", "", "")
	require.Equal(t, http.StatusOK, rec.Code)

	n, err := ts.store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestServer_RequestIDReachesContext(t *testing.T) {
	ts := newTestServer(t)

	var seen string
	ts.echo.GET("/probe", func(c echo.Context) error {
		seen = logging.RequestIDFromContext(c.Request().Context())
		return c.NoContent(http.StatusNoContent)
	})

	req := httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("X-Request-ID", "req-123")
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	assert.Equal(t, "req-123", seen)
	assert.Equal(t, "req-123", rec.Header().Get("X-Request-ID"))

	req = httptest.NewRequest(http.MethodGet, "/probe", nil)
	req.Header.Set("X-Request-ID", "bad id!")
	ts.Handler().ServeHTTP(httptest.NewRecorder(), req)
	assert.Empty(t, seen, "invalid client ids are not propagated")
}
