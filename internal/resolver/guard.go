package resolver

import (
	"errors"

	"github.com/fyrsmithlabs/refmerge/internal/document"
)

// ErrGuardIncomplete is returned when only one side of the required field
// pair is configured.
var ErrGuardIncomplete = errors.New("required field key and required field value must be set together")

// Guard decides whether traversal may continue past a document.
//
// The zero Guard is unconfigured and allows every document.
type Guard struct {
	key   string
	value any
}

// NewGuard builds a guard from the optional required field pair. An empty
// key and a nil or empty-string value both count as unset.
func NewGuard(key string, value any) (Guard, error) {
	keySet := key != ""
	valueSet := value != nil
	if s, ok := value.(string); ok && s == "" {
		valueSet = false
	}

	switch {
	case !keySet && !valueSet:
		return Guard{}, nil
	case keySet && valueSet:
		return Guard{key: key, value: value}, nil
	default:
		return Guard{}, ErrGuardIncomplete
	}
}

// Enabled reports whether a required field pair is configured.
func (g Guard) Enabled() bool {
	return g.key != ""
}

// Key returns the required field name, or "" when unconfigured.
func (g Guard) Key() string {
	return g.key
}

// Allows reports whether traversal may continue past doc: always when the
// guard is unconfigured, otherwise only if doc holds the required field
// with a value equal to the required value.
func (g Guard) Allows(doc *document.Document) bool {
	if !g.Enabled() {
		return true
	}
	got, ok := doc.Value(g.key)
	if !ok {
		return false
	}
	return document.ValuesEqual(got, g.value)
}
