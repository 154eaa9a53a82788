package logging

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/refmerge/internal/config"
)

// maxPatternLen bounds redaction regexes.
const maxPatternLen = 200

const redacted = "[REDACTED]"

// Secret logs a config.Secret, such as the Qdrant API key, as its length
// only.
func Secret(key string, val config.Secret) zap.Field {
	return RedactedString(key, val.Value())
}

// RedactedString logs val as its length only.
func RedactedString(key, val string) zap.Field {
	return zap.String(key, "[REDACTED:"+strconv.Itoa(len(val))+"]")
}

// redactionRules is the compiled form of RedactionConfig.
type redactionRules struct {
	keys     map[string]struct{}
	patterns []*regexp.Regexp
}

// compileRedaction builds rules from cfg, or returns nil when redaction is
// off. All bad patterns are reported together.
func compileRedaction(cfg RedactionConfig) (*redactionRules, error) {
	if !cfg.Enabled {
		return nil, nil
	}
	r := &redactionRules{keys: make(map[string]struct{}, len(cfg.Fields))}
	for _, f := range cfg.Fields {
		r.keys[strings.ToLower(f)] = struct{}{}
	}

	var errs []error
	for _, p := range cfg.Patterns {
		if len(p) > maxPatternLen {
			errs = append(errs, fmt.Errorf("redaction pattern too long (max %d chars): %q", maxPatternLen, p))
			continue
		}
		re, err := regexp.Compile(p)
		if err != nil {
			errs = append(errs, fmt.Errorf("invalid redaction pattern %q: %w", p, err))
			continue
		}
		r.patterns = append(r.patterns, re)
	}
	if err := errors.Join(errs...); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *redactionRules) sensitiveKey(key string) bool {
	if r == nil {
		return false
	}
	_, ok := r.keys[strings.ToLower(key)]
	return ok
}

// scrub replaces every pattern match inside val. Merged documents can
// carry free text, so only the matching part is masked.
func (r *redactionRules) scrub(val string) string {
	if r == nil {
		return val
	}
	for _, re := range r.patterns {
		val = re.ReplaceAllLiteralString(val, redacted)
	}
	return val
}

// RedactingEncoder masks fields whose key is configured as sensitive and
// scrubs pattern matches out of string values.
type RedactingEncoder struct {
	zapcore.Encoder
	rules *redactionRules
}

// NewRedactingEncoder wraps base. With redaction disabled the wrapper
// passes everything through.
func NewRedactingEncoder(base zapcore.Encoder, cfg RedactionConfig) (*RedactingEncoder, error) {
	rules, err := compileRedaction(cfg)
	if err != nil {
		return nil, err
	}
	return &RedactingEncoder{Encoder: base, rules: rules}, nil
}

// mask writes the placeholder and reports true when key is sensitive.
func (e *RedactingEncoder) mask(key string) bool {
	if !e.rules.sensitiveKey(key) {
		return false
	}
	e.Encoder.AddString(key, redacted)
	return true
}

func (e *RedactingEncoder) AddString(key, val string) {
	if !e.mask(key) {
		e.Encoder.AddString(key, e.rules.scrub(val))
	}
}

func (e *RedactingEncoder) AddByteString(key string, val []byte) {
	if !e.mask(key) {
		e.Encoder.AddByteString(key, val)
	}
}

func (e *RedactingEncoder) AddBinary(key string, val []byte) {
	if !e.mask(key) {
		e.Encoder.AddBinary(key, val)
	}
}

func (e *RedactingEncoder) AddReflected(key string, val any) error {
	if e.mask(key) {
		return nil
	}
	return e.Encoder.AddReflected(key, val)
}

func (e *RedactingEncoder) AddArray(key string, arr zapcore.ArrayMarshaler) error {
	if e.mask(key) {
		return nil
	}
	return e.Encoder.AddArray(key, arr)
}

func (e *RedactingEncoder) AddObject(key string, obj zapcore.ObjectMarshaler) error {
	if e.mask(key) {
		return nil
	}
	return e.Encoder.AddObject(key, obj)
}

func (e *RedactingEncoder) Clone() zapcore.Encoder {
	return &RedactingEncoder{Encoder: e.Encoder.Clone(), rules: e.rules}
}
