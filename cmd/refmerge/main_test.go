package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/fyrsmithlabs/refmerge/internal/config"
	"github.com/fyrsmithlabs/refmerge/internal/docstore"
)

// execute runs the root command with args and returns stdout.
func execute(t *testing.T, stdin string, args ...string) (string, error) {
	t.Helper()
	var out bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(io.Discard)
	rootCmd.SetIn(strings.NewReader(stdin))
	rootCmd.SetArgs(args)
	t.Cleanup(func() {
		rootCmd.SetOut(nil)
		rootCmd.SetErr(nil)
		rootCmd.SetIn(nil)
		inputFormat = ""
	})
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

type recorded struct {
	method      string
	path        string
	contentType string
	body        string
}

func fakeServer(t *testing.T, status int, response string) (*httptest.Server, *recorded) {
	t.Helper()
	rec := &recorded{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		*rec = recorded{
			method:      r.Method,
			path:        r.URL.RequestURI(),
			contentType: r.Header.Get("Content-Type"),
			body:        string(body),
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)
	return srv, rec
}

func TestCommandsRegistered(t *testing.T) {
	names := make(map[string]bool)
	for _, cmd := range rootCmd.Commands() {
		names[cmd.Name()] = true
		assert.NotEmpty(t, cmd.Short, "%s has a short description", cmd.Name())
	}
	for _, want := range []string{"ingest", "resolve", "lookup", "get", "delete", "health", "seed", "events", "version"} {
		assert.True(t, names[want], "missing command %s", want)
	}
}

func TestHealth(t *testing.T) {
	srv, rec := fakeServer(t, http.StatusOK, `{"status":"ok","documents":3}`)

	out, err := execute(t, "", "health", "--server", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "/health", rec.path)
	assert.Contains(t, out, "Server Status: ok")
	assert.Contains(t, out, "Documents: 3")
}

func TestHealth_Unavailable(t *testing.T) {
	srv, _ := fakeServer(t, http.StatusServiceUnavailable, `{"status":"unavailable","error":"closed"}`)

	out, err := execute(t, "", "health", "--server", srv.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "closed")
	assert.Contains(t, out, "Server Status: unavailable")
}

func TestIngest_YAMLFile(t *testing.T) {
	srv, rec := fakeServer(t, http.StatusOK, `{"results":[],"failed":0}`)

	path := filepath.Join(t.TempDir(), "docs.yaml")
	require.NoError(t, os.WriteFile(path, []byte("- id: A\n"), 0o600))

	_, err := execute(t, "", "ingest", "--server", srv.URL, path)
	require.NoError(t, err)
	assert.Equal(t, http.MethodPost, rec.method)
	assert.Equal(t, "/api/v1/documents", rec.path)
	assert.Equal(t, "application/yaml", rec.contentType)
	assert.Equal(t, "- id: A\n", rec.body)
}

func TestResolve_Stdin(t *testing.T) {
	srv, rec := fakeServer(t, http.StatusOK, `{"document":{"id":"A","title_s":"Leaf"},"resolved":true}`)

	out, err := execute(t, `{"id":"A","parent_ss":"c"}`, "resolve", "--server", srv.URL)
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/resolve", rec.path)
	assert.Equal(t, "application/json", rec.contentType)

	var got map[string]any
	require.NoError(t, json.Unmarshal([]byte(out), &got))
	assert.Equal(t, true, got["resolved"])
}

func TestIngest_PartialFailure(t *testing.T) {
	srv, _ := fakeServer(t, http.StatusMultiStatus, `{"results":[{},{"error":"sink index: no id"}],"failed":1}`)

	_, err := execute(t, `[{"id":"A"},{}]`, "ingest", "--server", srv.URL, "-")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "1 of 2 documents failed")
}

func TestIngest_Empty(t *testing.T) {
	_, err := execute(t, "  \n", "ingest", "--server", "http://127.0.0.1:1")
	assert.ErrorContains(t, err, "no documents")
}

func TestLookupAndGet(t *testing.T) {
	srv, rec := fakeServer(t, http.StatusOK, `{"id":"B"}`)

	_, err := execute(t, "", "lookup", "--server", srv.URL, "--field", "fid_s", "--value", "a b")
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/lookup?field=fid_s&value=a+b", rec.path)

	_, err = execute(t, "", "get", "--server", srv.URL, "doc/1")
	require.NoError(t, err)
	assert.Equal(t, "/api/v1/documents/doc%2F1", rec.path)

	_, err = execute(t, "", "delete", "--server", srv.URL, "B")
	require.NoError(t, err)
	assert.Equal(t, http.MethodDelete, rec.method)
}

func TestGet_NotFound(t *testing.T) {
	srv, _ := fakeServer(t, http.StatusNotFound, `{"message":"document not found"}`)

	_, err := execute(t, "", "get", "--server", srv.URL, "missing")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "404")
}

func TestContentTypeFor(t *testing.T) {
	assert.Equal(t, "application/yaml", contentTypeFor("a.yml", ""))
	assert.Equal(t, "application/yaml", contentTypeFor("-", "yaml"))
	assert.Equal(t, "application/json", contentTypeFor("a.yaml", "json"))
	assert.Equal(t, "application/json", contentTypeFor("a.jsonl", ""))
}

func writeSeedConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	storePath := filepath.Join(dir, "store")
	path := filepath.Join(dir, "config.toml")
	body := fmt.Sprintf(`[store]
path = %q

[merge]
local_id_field = "parent_ss"
foreign_id_field = "fid_s"

[[merge.field_mappings]]
source = "title"
dest = "title_s"
`, storePath)
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path, storePath
}

func TestSeed_Resolve(t *testing.T) {
	cfgPath, storePath := writeSeedConfig(t)
	t.Cleanup(func() { seedResolve = false; seedConfig = "" })

	input := `{"id":"C","fid_s":"c","title":"Leaf"}
{"id":"A","parent_ss":"c"}`
	out, err := execute(t, input, "seed", "--config", cfgPath, "--resolve", "--workers", "1", "-")
	require.NoError(t, err)
	assert.Contains(t, out, "Seeded 2 document(s), 1 resolved, 0 failed")

	store, err := docstore.NewChromemStore(docstore.ChromemConfig{
		Path:       storePath,
		Collection: config.DefaultCollection,
	}, zap.NewNop())
	require.NoError(t, err)
	defer store.Close()

	got, err := store.Get(context.Background(), "A")
	require.NoError(t, err)
	assert.Equal(t, "Leaf", got.Get("title_s"))
}
