// Package config provides configuration loading for refmerge.
//
// Configuration is read from a YAML or TOML file and overridden by
// REFMERGE_-prefixed environment variables. Sections that belong to other
// packages (logging, telemetry) are decoded on demand with Config.Section.
package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/knadh/koanf/v2"
)

// Defaults shared by the loader and the packages that consume the config.
const (
	DefaultHTTPPort        = 9090
	DefaultShutdownTimeout = 10 * time.Second
	DefaultDelimiter       = ";"
	DefaultIDField         = "id"
	DefaultResolvedIDField = "foreignId_s"
	DefaultMaxDepth        = 64
	DefaultStoreProvider   = "chromem"
	DefaultStoreURL        = "localhost:6334"
	DefaultCollection      = "refmerge_documents"
	DefaultStorePath       = "~/.config/refmerge/store"
	DefaultVectorSize      = 64
	DefaultLookupTimeout   = 5 * time.Second
	DefaultEventsURL       = "nats://127.0.0.1:4222"
	DefaultEventsSubject   = "refmerge.merged"
)

// ErrInvalid is wrapped by every validation error.
var ErrInvalid = errors.New("invalid configuration")

// Config holds the complete refmerge configuration.
type Config struct {
	Server  ServerConfig  `koanf:"server"`
	Store   StoreConfig   `koanf:"store"`
	Merge   MergeConfig   `koanf:"merge"`
	Workers WorkersConfig `koanf:"workers"`
	Events  EventsConfig  `koanf:"events"`

	k    *koanf.Koanf
	path string
}

// ServerConfig holds HTTP server configuration.
type ServerConfig struct {
	Port            int      `koanf:"http_port"`
	ShutdownTimeout Duration `koanf:"shutdown_timeout"`
}

// StoreConfig selects and configures the document store.
type StoreConfig struct {
	Provider      string   `koanf:"provider"` // chromem (default) or qdrant
	URL           string   `koanf:"url"`      // qdrant gRPC endpoint, host:port
	APIKey        Secret   `koanf:"api_key"`
	UseTLS        bool     `koanf:"use_tls"`
	Collection    string   `koanf:"collection"`
	Path          string   `koanf:"path"` // chromem directory
	Compress      bool     `koanf:"compress"`
	VectorSize    int      `koanf:"vector_size"`
	LookupTimeout Duration `koanf:"lookup_timeout"`
	LookupRate    float64  `koanf:"lookup_rate"` // lookups per second, 0 = unlimited
	LookupBurst   int      `koanf:"lookup_burst"`
	MaxRetries    int      `koanf:"max_retries"`
}

// FieldMapping copies Source on a terminal document to Dest on the result.
type FieldMapping struct {
	Source string `koanf:"source"`
	Dest   string `koanf:"dest"`
}

// MergeConfig configures reference resolution and field merging.
type MergeConfig struct {
	// LocalIDField is the reference field. Documents without it pass
	// through unchanged.
	LocalIDField string `koanf:"local_id_field"`

	// ForeignIDField is matched against each foreign key in the store.
	ForeignIDField string `koanf:"foreign_id_field"`

	// FieldMappings is the ordered source to destination table. Required.
	FieldMappings []FieldMapping `koanf:"field_mappings"`

	Delimiter string `koanf:"delimiter"`

	// RequiredFieldKey and RequiredFieldValue form the optional guard.
	// Both or neither must be set. The value keeps its type from the file
	// (3 is a number, "3" a string). From the environment, text that reads
	// as an integer, float or true/false is typed accordingly, so a string
	// guard value that looks numeric can only be set in the file.
	RequiredFieldKey   string `koanf:"required_field_key"`
	RequiredFieldValue any    `koanf:"required_field_value"`

	IDField         string `koanf:"id_field"`
	ResolvedIDField string `koanf:"resolved_id_field"`
	MaxDepth        int    `koanf:"max_depth"`
}

// GuardSet reports whether each side of the guard pair is configured.
func (m MergeConfig) GuardSet() (keySet, valueSet bool) {
	keySet = m.RequiredFieldKey != ""
	valueSet = m.RequiredFieldValue != nil
	if s, ok := m.RequiredFieldValue.(string); ok && s == "" {
		valueSet = false
	}
	return keySet, valueSet
}

// WorkersConfig sizes the batch processing pool.
type WorkersConfig struct {
	Count int `koanf:"count"`
}

// EventsConfig configures the optional NATS merge event publisher.
type EventsConfig struct {
	Enabled bool   `koanf:"enabled"`
	URL     string `koanf:"url"`
	Subject string `koanf:"subject"`
}

// Default returns a configuration with every default applied. Merge settings
// that have no sensible default (fields and mappings) are left empty.
func Default() *Config {
	cfg := &Config{}
	applyDefaults(cfg)
	return cfg
}

// applyDefaults sets default values for missing configuration fields.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = DefaultHTTPPort
	}
	if cfg.Server.ShutdownTimeout == 0 {
		cfg.Server.ShutdownTimeout = Duration(DefaultShutdownTimeout)
	}

	if cfg.Store.Provider == "" {
		cfg.Store.Provider = DefaultStoreProvider
	}
	if cfg.Store.URL == "" {
		cfg.Store.URL = DefaultStoreURL
	}
	if cfg.Store.Collection == "" {
		cfg.Store.Collection = DefaultCollection
	}
	if cfg.Store.Path == "" {
		cfg.Store.Path = DefaultStorePath
	}
	if cfg.Store.VectorSize == 0 {
		cfg.Store.VectorSize = DefaultVectorSize
	}
	if cfg.Store.LookupTimeout == 0 {
		cfg.Store.LookupTimeout = Duration(DefaultLookupTimeout)
	}
	if cfg.Store.LookupRate > 0 && cfg.Store.LookupBurst == 0 {
		cfg.Store.LookupBurst = 1
	}

	if cfg.Merge.Delimiter == "" {
		cfg.Merge.Delimiter = DefaultDelimiter
	}
	if cfg.Merge.IDField == "" {
		cfg.Merge.IDField = DefaultIDField
	}
	if cfg.Merge.ResolvedIDField == "" {
		cfg.Merge.ResolvedIDField = DefaultResolvedIDField
	}
	if cfg.Merge.MaxDepth == 0 {
		cfg.Merge.MaxDepth = DefaultMaxDepth
	}

	if cfg.Workers.Count == 0 {
		cfg.Workers.Count = 4
	}

	if cfg.Events.URL == "" {
		cfg.Events.URL = DefaultEventsURL
	}
	if cfg.Events.Subject == "" {
		cfg.Events.Subject = DefaultEventsSubject
	}
}

// Validate validates the configuration and reports every problem found.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if c.Server.Port < 1 || c.Server.Port > 65535 {
		add("invalid server port: %d (must be 1-65535)", c.Server.Port)
	}
	if c.Server.ShutdownTimeout <= 0 {
		add("shutdown timeout must be positive")
	}

	switch c.Store.Provider {
	case "chromem", "qdrant":
	default:
		add("unsupported store provider %q (supported: chromem, qdrant)", c.Store.Provider)
	}
	if c.Store.VectorSize <= 0 {
		add("store vector size must be positive")
	}
	if c.Store.LookupRate < 0 {
		add("store lookup rate cannot be negative")
	}
	if c.Store.MaxRetries < 0 {
		add("store max retries cannot be negative")
	}

	errs = append(errs, c.Merge.validate()...)

	if c.Workers.Count < 1 {
		add("workers count must be at least 1")
	}
	if c.Events.Enabled && c.Events.Subject == "" {
		add("events subject required when events are enabled")
	}

	return errors.Join(errs...)
}

// ValidateMerge validates only the merge section. Used on hot reload.
func (c *Config) ValidateMerge() error {
	return errors.Join(c.Merge.validate()...)
}

func (m MergeConfig) validate() []error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if m.LocalIDField == "" {
		add("merge.local_id_field is required")
	}
	if m.ForeignIDField == "" {
		add("merge.foreign_id_field is required")
	}
	if len(m.FieldMappings) == 0 {
		add("merge.field_mappings must define at least one source to destination mapping")
	}
	for i, fm := range m.FieldMappings {
		if fm.Source == "" || fm.Dest == "" {
			add("merge.field_mappings[%d] needs both source and dest", i)
		}
	}
	if keySet, valueSet := m.GuardSet(); keySet != valueSet {
		add("merge.required_field_key and merge.required_field_value must be set together")
	}
	if m.MaxDepth < 0 {
		add("merge.max_depth cannot be negative")
	}
	return errs
}
