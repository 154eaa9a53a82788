package config

import (
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/rawbytes"
	"github.com/knadh/koanf/v2"
)

const (
	// EnvPrefix prefixes every environment override.
	EnvPrefix = "REFMERGE_"

	maxConfigFileSize = 1024 * 1024 // 1MB
)

// DefaultPath returns ~/.config/refmerge/config.yaml.
func DefaultPath() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("failed to get home directory: %w", err)
	}
	return filepath.Join(home, ".config", "refmerge", "config.yaml"), nil
}

// LoadWithFile loads configuration from a YAML or TOML file, then overrides
// it with environment variables.
//
// Configuration precedence (highest to lowest):
//  1. Environment variables (REFMERGE_SERVER_HTTP_PORT, REFMERGE_MERGE_DELIMITER, ...)
//  2. Config file
//  3. Defaults
//
// With an empty configPath the default path is used and a missing file is
// not an error. An explicit path must exist. The parser is chosen by file
// extension: .toml uses TOML, anything else YAML.
//
// The file must be readable by its owner only (0600 or 0400) and at most 1MB,
// since it may carry the store API key.
//
// Environment variables drop the prefix and split on the first underscore:
//
//	REFMERGE_SERVER_HTTP_PORT     -> server.http_port
//	REFMERGE_MERGE_LOCAL_ID_FIELD -> merge.local_id_field
//	REFMERGE_STORE_API_KEY        -> store.api_key
//
// merge.field_mappings is a list and can only be set in the file.
func LoadWithFile(configPath string) (*Config, error) {
	optional := configPath == ""
	if optional {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		configPath = p
	}

	k := koanf.New(".")
	if err := loadFile(k, configPath, optional); err != nil {
		return nil, err
	}
	if err := loadEnv(k); err != nil {
		return nil, err
	}

	cfg := &Config{k: k, path: configPath}
	if err := k.Unmarshal("", cfg); err != nil {
		return nil, fmt.Errorf("failed to unmarshal config: %w", err)
	}
	applyDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("config validation failed: %w", err)
	}
	return cfg, nil
}

func loadFile(k *koanf.Koanf, path string, optional bool) error {
	// Open once and validate through the descriptor to avoid a TOCTOU race.
	f, err := os.Open(path)
	if err != nil {
		if optional && errors.Is(err, os.ErrNotExist) {
			return nil
		}
		return fmt.Errorf("failed to open config file: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("failed to stat config file: %w", err)
	}
	if err := validateConfigFileProperties(info); err != nil {
		return fmt.Errorf("config file validation failed: %w", err)
	}

	content, err := io.ReadAll(io.LimitReader(f, maxConfigFileSize+1))
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	if err := k.Load(rawbytes.Provider(content), parserFor(path)); err != nil {
		return fmt.Errorf("failed to load config file %s: %w", path, err)
	}
	return nil
}

func parserFor(path string) koanf.Parser {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".toml":
		return TOML()
	default:
		return yaml.Parser()
	}
}

func loadEnv(k *koanf.Koanf) error {
	err := k.Load(env.ProviderWithValue(EnvPrefix, ".", envValue), nil)
	if err != nil {
		return fmt.Errorf("failed to load environment variables: %w", err)
	}
	return nil
}

// envKey maps REFMERGE_SECTION_FIELD_NAME to section.field_name.
func envKey(s string) string {
	lower := strings.ToLower(strings.TrimPrefix(s, EnvPrefix))
	parts := strings.SplitN(lower, "_", 2)
	if len(parts) == 1 {
		return lower
	}
	return parts[0] + "." + parts[1]
}

// envValue maps the variable name with envKey. The guard value is typed
// from its text, so REFMERGE_MERGE_REQUIRED_FIELD_VALUE=3 compares equal to
// a numeric 3 in a document, as it would when written in the file.
func envValue(name, value string) (string, any) {
	key := envKey(name)
	if key == "merge.required_field_value" {
		return key, scalarFromText(value)
	}
	return key, value
}

// scalarFromText returns value as an int64, float64 or bool when it reads
// as one, and as the string otherwise.
func scalarFromText(value string) any {
	if i, err := strconv.ParseInt(value, 10, 64); err == nil {
		return i
	}
	if f, err := strconv.ParseFloat(value, 64); err == nil && !math.IsNaN(f) && !math.IsInf(f, 0) {
		return f
	}
	switch value {
	case "true":
		return true
	case "false":
		return false
	}
	return value
}

// validateConfigFileProperties checks file permissions and size.
func validateConfigFileProperties(info os.FileInfo) error {
	if info.IsDir() {
		return fmt.Errorf("%s is a directory", info.Name())
	}

	// Windows has a different permission model.
	if runtime.GOOS != "windows" {
		perm := info.Mode().Perm()
		if perm != 0o600 && perm != 0o400 {
			return fmt.Errorf("insecure config file permissions: %v (expected 0600 or 0400)", perm)
		}
	}

	if info.Size() > maxConfigFileSize {
		return fmt.Errorf("config file too large: %d bytes (max %d)", info.Size(), maxConfigFileSize)
	}
	return nil
}

// Path returns the file the configuration was loaded from.
func (c *Config) Path() string {
	return c.path
}

// Section decodes the raw configuration under key into out. out keeps its
// current values for anything the section does not set, so callers pass a
// struct prefilled with defaults.
func (c *Config) Section(key string, out any) error {
	if c.k == nil || !c.k.Exists(key) {
		return nil
	}
	if err := c.k.Unmarshal(key, out); err != nil {
		return fmt.Errorf("decoding %s section: %w", key, err)
	}
	return nil
}

// EnsureConfigDir creates ~/.config/refmerge with 0700 permissions.
func EnsureConfigDir() error {
	p, err := DefaultPath()
	if err != nil {
		return err
	}
	dir := filepath.Dir(p)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return fmt.Errorf("failed to create config directory %s: %w", dir, err)
	}
	return nil
}
