package config

import (
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Duration is a time.Duration decoded from text. Go duration syntax ("750ms",
// "5s") is accepted, and a bare number is read as seconds so env overrides
// such as REFMERGE_STORE_LOOKUP_TIMEOUT=5 work.
type Duration time.Duration

// UnmarshalText implements encoding.TextUnmarshaler.
func (d *Duration) UnmarshalText(text []byte) error {
	s := strings.TrimSpace(string(text))

	var parsed time.Duration
	if secs, err := strconv.ParseFloat(s, 64); err == nil {
		parsed = time.Duration(secs * float64(time.Second))
	} else {
		parsed, err = time.ParseDuration(s)
		if err != nil {
			return fmt.Errorf("invalid duration %q: %w", s, err)
		}
	}
	if parsed < 0 {
		return fmt.Errorf("duration cannot be negative: %s", s)
	}
	*d = Duration(parsed)
	return nil
}

// MarshalText implements encoding.TextMarshaler.
func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration().String()), nil
}

// Duration returns the underlying time.Duration.
func (d Duration) Duration() time.Duration {
	return time.Duration(d)
}

// secretFilePrefix marks a secret whose value lives in a file, typically a
// mounted container secret: api_key: "file:/run/secrets/qdrant".
const secretFilePrefix = "file:"

// Secret holds a credential such as the qdrant API key. It prints and
// serializes as [REDACTED]; Value returns the real string.
type Secret string

func (s Secret) String() string {
	if s == "" {
		return ""
	}
	return "[REDACTED]"
}

// GoString keeps %#v from leaking the value.
func (s Secret) GoString() string {
	return "config.Secret(" + s.String() + ")"
}

// Value returns the secret itself.
func (s Secret) Value() string {
	return string(s)
}

// IsSet reports whether a value was configured.
func (s Secret) IsSet() bool {
	return s != ""
}

func (s Secret) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.String())
}

// UnmarshalText reads the value, following a file: reference when present.
// Trailing newlines in secret files are dropped.
func (s *Secret) UnmarshalText(text []byte) error {
	raw := string(text)
	path, ok := strings.CutPrefix(raw, secretFilePrefix)
	if !ok {
		*s = Secret(raw)
		return nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading secret file: %w", err)
	}
	*s = Secret(strings.TrimRight(string(data), "\r\n"))
	return nil
}
