package docstore

import (
	"encoding/json"
	"fmt"
	"regexp"

	"github.com/fyrsmithlabs/refmerge/internal/document"
)

// collectionNamePattern validates collection names.
var collectionNamePattern = regexp.MustCompile(`^[a-z0-9_]{1,64}$`)

// ValidateCollectionName validates a collection name.
// Pattern: ^[a-z0-9_]{1,64}$
func ValidateCollectionName(name string) error {
	if name == "" {
		return fmt.Errorf("%w: collection name cannot be empty", ErrInvalidCollectionName)
	}
	if !collectionNamePattern.MatchString(name) {
		return fmt.Errorf("%w: collection name must match pattern ^[a-z0-9_]{1,64}$, got %q", ErrInvalidCollectionName, name)
	}
	return nil
}

// keyString formats a scalar the way reference keys are formatted, so a
// numeric foreign id matches the key split out of a reference field.
func keyString(v any) (string, bool) {
	switch vv := v.(type) {
	case nil:
		return "", false
	case string:
		return vv, true
	case bool, int, int32, int64, uint, uint32, uint64, float32, float64, json.Number:
		return fmt.Sprint(vv), true
	default:
		return "", false
	}
}

// memberKey names the chromem metadata entry recording that field holds
// value. chromem filters on exact metadata equality only, so every value of
// a field, single or multi-valued, gets an entry of its own.
func memberKey(field, value string) string {
	return field + "\x1f" + value
}

// lookupMetadata returns one memberKey entry per scalar value of doc.
// Non-scalar values cannot be looked up and are left out.
func lookupMetadata(doc *document.Document) map[string]string {
	out := make(map[string]string, doc.Len())
	for _, name := range doc.Fields() {
		for _, v := range doc.Values(name) {
			if s, ok := keyString(v); ok {
				out[memberKey(name, s)] = "1"
			}
		}
	}
	return out
}

func encodeSource(doc *document.Document) (string, error) {
	data, err := json.Marshal(doc)
	if err != nil {
		return "", fmt.Errorf("encoding document: %w", err)
	}
	return string(data), nil
}

func decodeSource(src string) (*document.Document, error) {
	doc := document.New()
	if err := json.Unmarshal([]byte(src), doc); err != nil {
		return nil, fmt.Errorf("decoding stored document: %w", err)
	}
	return doc, nil
}
