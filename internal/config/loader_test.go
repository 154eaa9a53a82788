package config

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"
)

const testYAML = `server:
  http_port: 8181
store:
  provider: qdrant
  url: qdrant.internal:6334
  api_key: s3cret
  lookup_timeout: 2s
merge:
  local_id_field: parent_ss
  foreign_id_field: fid_s
  delimiter: "|"
  required_field_key: level
  required_field_value: 3
  field_mappings:
    - source: title
      dest: title_s
    - source: author
      dest: author_s
logging:
  level: debug
`

func writeConfig(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), name)
	if err := os.WriteFile(path, []byte(content), 0o600); err != nil {
		t.Fatalf("writing config: %v", err)
	}
	return path
}

func TestLoadWithFile_YAML(t *testing.T) {
	path := writeConfig(t, "config.yaml", testYAML)

	cfg, err := LoadWithFile(path)
	if err != nil {
		t.Fatalf("LoadWithFile() error = %v", err)
	}

	if cfg.Server.Port != 8181 {
		t.Errorf("Server.Port = %d, want 8181", cfg.Server.Port)
	}
	if cfg.Store.Provider != "qdrant" || cfg.Store.URL != "qdrant.internal:6334" {
		t.Errorf("Store = %+v, want qdrant at qdrant.internal:6334", cfg.Store)
	}
	if cfg.Store.APIKey.Value() != "s3cret" {
		t.Errorf("Store.APIKey not loaded")
	}
	if cfg.Store.LookupTimeout.Duration() != 2*time.Second {
		t.Errorf("Store.LookupTimeout = %v, want 2s", cfg.Store.LookupTimeout.Duration())
	}
	if cfg.Merge.Delimiter != "|" {
		t.Errorf("Merge.Delimiter = %q, want |", cfg.Merge.Delimiter)
	}
	if len(cfg.Merge.FieldMappings) != 2 || cfg.Merge.FieldMappings[1] != (FieldMapping{Source: "author", Dest: "author_s"}) {
		t.Errorf("Merge.FieldMappings = %+v", cfg.Merge.FieldMappings)
	}
	if cfg.Merge.RequiredFieldValue != 3 {
		t.Errorf("Merge.RequiredFieldValue = %#v, want int 3", cfg.Merge.RequiredFieldValue)
	}
	if cfg.Merge.ResolvedIDField != "foreignId_s" {
		t.Errorf("Merge.ResolvedIDField default not applied: %q", cfg.Merge.ResolvedIDField)
	}
	if cfg.Path() != path {
		t.Errorf("Path() = %q, want %q", cfg.Path(), path)
	}
}

func TestLoadWithFile_TOML(t *testing.T) {
	path := writeConfig(t, "config.toml", `
[server]
http_port = 8282

[merge]
local_id_field = "parent_ss"
foreign_id_field = "fid_s"

[[merge.field_mappings]]
source = "title"
dest = "title_s"
`)

	cfg, err := LoadWithFile(path)
	if err != nil {
		t.Fatalf("LoadWithFile() error = %v", err)
	}
	if cfg.Server.Port != 8282 {
		t.Errorf("Server.Port = %d, want 8282", cfg.Server.Port)
	}
	if len(cfg.Merge.FieldMappings) != 1 || cfg.Merge.FieldMappings[0].Dest != "title_s" {
		t.Errorf("Merge.FieldMappings = %+v", cfg.Merge.FieldMappings)
	}
}

func TestLoadWithFile_EnvOverrides(t *testing.T) {
	path := writeConfig(t, "config.yaml", testYAML)
	t.Setenv("REFMERGE_SERVER_HTTP_PORT", "9393")
	t.Setenv("REFMERGE_MERGE_DELIMITER", ",")
	t.Setenv("REFMERGE_STORE_PROVIDER", "chromem")

	cfg, err := LoadWithFile(path)
	if err != nil {
		t.Fatalf("LoadWithFile() error = %v", err)
	}
	if cfg.Server.Port != 9393 {
		t.Errorf("Server.Port = %d, want 9393", cfg.Server.Port)
	}
	if cfg.Merge.Delimiter != "," {
		t.Errorf("Merge.Delimiter = %q, want ,", cfg.Merge.Delimiter)
	}
	if cfg.Store.Provider != "chromem" {
		t.Errorf("Store.Provider = %q, want chromem", cfg.Store.Provider)
	}
}

func TestLoadWithFile_EnvGuardValueTyped(t *testing.T) {
	tests := []struct {
		env  string
		want any
	}{
		{"3", int64(3)},
		{"2.5", 2.5},
		{"true", true},
		{"book", "book"},
	}
	for _, tt := range tests {
		t.Run(tt.env, func(t *testing.T) {
			path := writeConfig(t, "config.yaml", testYAML)
			t.Setenv("REFMERGE_MERGE_REQUIRED_FIELD_KEY", "status_i")
			t.Setenv("REFMERGE_MERGE_REQUIRED_FIELD_VALUE", tt.env)

			cfg, err := LoadWithFile(path)
			if err != nil {
				t.Fatalf("LoadWithFile() error = %v", err)
			}
			if cfg.Merge.RequiredFieldValue != tt.want {
				t.Errorf("RequiredFieldValue = %#v, want %#v", cfg.Merge.RequiredFieldValue, tt.want)
			}
		})
	}
}

func TestScalarFromText(t *testing.T) {
	tests := map[string]any{
		"3":     int64(3),
		"-7":    int64(-7),
		"1e3":   1000.0,
		"false": false,
		"NaN":   "NaN",
		"True":  "True",
		"":      "",
	}
	for in, want := range tests {
		if got := scalarFromText(in); got != want {
			t.Errorf("scalarFromText(%q) = %#v, want %#v", in, got, want)
		}
	}
}

func TestLoadWithFile_RejectsInvalid(t *testing.T) {
	path := writeConfig(t, "config.yaml", `
merge:
  local_id_field: parent_ss
  foreign_id_field: fid_s
  required_field_key: status
  field_mappings:
    - source: title
      dest: title_s
`)
	_, err := LoadWithFile(path)
	if err == nil || !strings.Contains(err.Error(), "must be set together") {
		t.Fatalf("LoadWithFile() error = %v, want one-sided guard error", err)
	}
}

func TestLoadWithFile_MissingExplicitPath(t *testing.T) {
	_, err := LoadWithFile(filepath.Join(t.TempDir(), "nope.yaml"))
	if err == nil {
		t.Fatal("LoadWithFile() error = nil, want missing file error")
	}
}

func TestLoadWithFile_InsecurePermissions(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("permission model differs on windows")
	}
	path := writeConfig(t, "config.yaml", testYAML)
	if err := os.Chmod(path, 0o644); err != nil {
		t.Fatal(err)
	}
	_, err := LoadWithFile(path)
	if err == nil || !strings.Contains(err.Error(), "insecure config file permissions") {
		t.Fatalf("LoadWithFile() error = %v, want permission error", err)
	}
}

func TestLoadWithFile_TooLarge(t *testing.T) {
	path := writeConfig(t, "config.yaml", "# "+strings.Repeat("x", maxConfigFileSize+10))
	_, err := LoadWithFile(path)
	if err == nil || !strings.Contains(err.Error(), "too large") {
		t.Fatalf("LoadWithFile() error = %v, want size error", err)
	}
}

func TestConfig_Section(t *testing.T) {
	path := writeConfig(t, "config.yaml", testYAML)
	cfg, err := LoadWithFile(path)
	if err != nil {
		t.Fatal(err)
	}

	var logging struct {
		Level  string `koanf:"level"`
		Format string `koanf:"format"`
	}
	logging.Format = "json"
	if err := cfg.Section("logging", &logging); err != nil {
		t.Fatalf("Section() error = %v", err)
	}
	if logging.Level != "debug" {
		t.Errorf("Level = %q, want debug", logging.Level)
	}
	if logging.Format != "json" {
		t.Errorf("Format = %q, want prefilled json kept", logging.Format)
	}

	var missing struct{ Enabled bool }
	if err := cfg.Section("telemetry", &missing); err != nil {
		t.Errorf("Section() on missing key error = %v", err)
	}
}

func TestWatch_ReloadsOnChange(t *testing.T) {
	path := writeConfig(t, "config.yaml", testYAML)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	changes := make(chan *Config, 4)
	done := make(chan error, 1)
	go func() {
		done <- Watch(ctx, path, nil, func(c *Config) { changes <- c })
	}()

	// Give the watcher time to register.
	time.Sleep(100 * time.Millisecond)

	// An invalid edit is rejected.
	if err := os.WriteFile(path, []byte("merge:\n  local_id_field: x\n"), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-changes:
		t.Fatalf("invalid config delivered: %+v", c.Merge)
	case <-time.After(600 * time.Millisecond):
	}

	updated := strings.Replace(testYAML, `delimiter: "|"`, `delimiter: "#"`, 1)
	if err := os.WriteFile(path, []byte(updated), 0o600); err != nil {
		t.Fatal(err)
	}
	select {
	case c := <-changes:
		if c.Merge.Delimiter != "#" {
			t.Errorf("reloaded Delimiter = %q, want #", c.Merge.Delimiter)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no reload after valid edit")
	}

	cancel()
	if err := <-done; err != nil {
		t.Errorf("Watch() error = %v", err)
	}
}
