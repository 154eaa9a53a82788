package resolver

import (
	"fmt"
	"strings"
)

// DefaultDelimiter separates foreign keys inside a reference field.
const DefaultDelimiter = ";"

// Split splits a raw reference value on the exact delimiter string.
//
// An empty raw value yields no keys. Tokens are neither trimmed nor
// de-duplicated, and their order is preserved. An empty delimiter returns
// the raw value as the only key.
func Split(raw, delimiter string) []string {
	if raw == "" {
		return []string{}
	}
	if delimiter == "" {
		return []string{raw}
	}
	return strings.Split(raw, delimiter)
}

// referenceKeys splits every value of a reference field and concatenates the
// keys in value order.
func referenceKeys(values []any, delimiter string) []string {
	var keys []string
	for _, v := range values {
		var raw string
		switch vv := v.(type) {
		case nil:
			continue
		case string:
			raw = vv
		default:
			raw = fmt.Sprint(vv)
		}
		keys = append(keys, Split(raw, delimiter)...)
	}
	return keys
}
