package logging

import (
	"errors"
	"fmt"
	"sort"
	"time"

	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/refmerge/internal/config"
)

// ServiceName is the default value of the constant "service" field.
const ServiceName = "refmerged"

// Config is the "logging" section of the refmerge config file:
//
//	logging:
//	  level: debug          # trace, debug, info, warn, error
//	  format: console       # json or console
//	  output: {stdout: true, otel: false}
//	  sampling:
//	    enabled: true
//	    tick: 1s
//	    levels:
//	      info: {initial: 100, thereafter: 10}
//	  fields: {env: staging}
type Config struct {
	Level      Level             `koanf:"level"`
	Format     string            `koanf:"format"`
	Output     OutputConfig      `koanf:"output"`
	Sampling   SamplingConfig    `koanf:"sampling"`
	Caller     CallerConfig      `koanf:"caller"`
	Stacktrace StacktraceConfig  `koanf:"stacktrace"`
	Fields     map[string]string `koanf:"fields"`
	Redaction  RedactionConfig   `koanf:"redaction"`
}

// OutputConfig selects the sinks. OTEL output needs telemetry enabled.
type OutputConfig struct {
	Stdout bool `koanf:"stdout"`
	OTEL   bool `koanf:"otel"`
}

// SamplingConfig thins out repetitive entries. A large ingest logs one miss
// per unresolved key, so each level below Error can get its own budget per
// tick. Levels are keyed by name; unlisted levels are never sampled.
type SamplingConfig struct {
	Enabled bool                           `koanf:"enabled"`
	Tick    config.Duration                `koanf:"tick"`
	Levels  map[string]LevelSamplingConfig `koanf:"levels"`
}

// LevelSamplingConfig keeps the first Initial entries with the same message
// per tick, then every Thereafter-th. Thereafter 0 drops the rest.
type LevelSamplingConfig struct {
	Initial    int `koanf:"initial"`
	Thereafter int `koanf:"thereafter"`
}

type CallerConfig struct {
	Enabled bool `koanf:"enabled"`
	Skip    int  `koanf:"skip"`
}

// StacktraceConfig attaches stacks at Level and above.
type StacktraceConfig struct {
	Level Level `koanf:"level"`
}

// RedactionConfig masks field values by key name and by pattern.
type RedactionConfig struct {
	Enabled  bool     `koanf:"enabled"`
	Fields   []string `koanf:"fields"`
	Patterns []string `koanf:"patterns"`
}

// NewDefaultConfig returns the configuration used when the file has no
// logging section.
func NewDefaultConfig() *Config {
	return &Config{
		Level:  Level(zapcore.InfoLevel),
		Format: "json",
		Output: OutputConfig{Stdout: true},
		Sampling: SamplingConfig{
			Enabled: true,
			Tick:    config.Duration(time.Second),
			Levels:  DefaultLevelSamplingConfig(),
		},
		Caller:     CallerConfig{Enabled: true, Skip: 1},
		Stacktrace: StacktraceConfig{Level: Level(zapcore.ErrorLevel)},
		Fields:     map[string]string{"service": ServiceName},
		Redaction: RedactionConfig{
			Enabled: true,
			Fields: []string{
				"password", "secret", "token", "api_key", "apikey",
				"authorization", "bearer", "credential",
			},
			Patterns: []string{
				`(?i)bearer\s+\S+`,
				`(?i)api[_-]?key[=:]\s*\S+`,
			},
		},
	}
}

// DefaultLevelSamplingConfig samples the chatty levels and leaves warnings
// nearly untouched.
func DefaultLevelSamplingConfig() map[string]LevelSamplingConfig {
	return map[string]LevelSamplingConfig{
		"trace": {Initial: 1, Thereafter: 0},
		"debug": {Initial: 10, Thereafter: 0},
		"info":  {Initial: 100, Thereafter: 10},
		"warn":  {Initial: 100, Thereafter: 100},
	}
}

// sampledLevels parses the level names in s.Levels, sorted by level.
func (s SamplingConfig) sampledLevels() ([]zapcore.Level, map[zapcore.Level]LevelSamplingConfig, error) {
	byLevel := make(map[zapcore.Level]LevelSamplingConfig, len(s.Levels))
	var errs []error
	for name, budget := range s.Levels {
		lvl, err := LevelFromString(name)
		if err != nil {
			errs = append(errs, fmt.Errorf("sampling: unknown level %q", name))
			continue
		}
		if lvl >= zapcore.ErrorLevel {
			errs = append(errs, fmt.Errorf("sampling: level %s cannot be sampled", Level(lvl)))
			continue
		}
		if budget.Initial < 0 || budget.Thereafter < 0 {
			errs = append(errs, fmt.Errorf("sampling: %s initial and thereafter must be >= 0", Level(lvl)))
			continue
		}
		byLevel[lvl] = budget
	}

	levels := make([]zapcore.Level, 0, len(byLevel))
	for lvl := range byLevel {
		levels = append(levels, lvl)
	}
	sort.Slice(levels, func(i, j int) bool { return levels[i] < levels[j] })
	return levels, byLevel, errors.Join(errs...)
}

// Validate reports every problem at once.
func (c *Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf(format, args...))
	}

	if c.Format != "json" && c.Format != "console" {
		add("format must be 'json' or 'console', got %q", c.Format)
	}
	if !c.Output.Stdout && !c.Output.OTEL {
		add("at least one output must be enabled (stdout or otel)")
	}
	if c.Sampling.Enabled {
		if c.Sampling.Tick.Duration() <= 0 {
			add("sampling tick must be > 0 when sampling enabled")
		}
		if _, _, err := c.Sampling.sampledLevels(); err != nil {
			errs = append(errs, err)
		}
	}
	if c.Caller.Enabled && c.Caller.Skip < 0 {
		add("caller skip must be >= 0, got %d", c.Caller.Skip)
	}
	if _, err := compileRedaction(c.Redaction); err != nil {
		errs = append(errs, err)
	}
	for k, v := range c.Fields {
		switch {
		case k == "":
			add("field key cannot be empty")
		case v == "":
			add("field %q has empty value", k)
		}
	}
	return errors.Join(errs...)
}
