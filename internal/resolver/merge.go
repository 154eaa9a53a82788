package resolver

import (
	"github.com/fyrsmithlabs/refmerge/internal/document"
)

const (
	// DefaultIDField is the id field read from terminal documents.
	DefaultIDField = "id"

	// DefaultResolvedIDField receives the id of the last terminal merged.
	DefaultResolvedIDField = "foreignId_s"
)

// FieldMapping copies Source from a terminal document into Dest on the
// result document.
type FieldMapping struct {
	Source string `json:"source" koanf:"source"`
	Dest   string `json:"dest" koanf:"dest"`
}

// Merger copies mapped fields from terminal documents into a result
// document. Every call overwrites what earlier calls wrote, so the last
// terminal merged wins.
type Merger struct {
	mappings        []FieldMapping
	idField         string
	resolvedIDField string
}

// NewMerger returns a Merger for the ordered mapping table.
func NewMerger(mappings []FieldMapping, idField, resolvedIDField string) *Merger {
	if idField == "" {
		idField = DefaultIDField
	}
	if resolvedIDField == "" {
		resolvedIDField = DefaultResolvedIDField
	}
	m := make([]FieldMapping, len(mappings))
	copy(m, mappings)
	return &Merger{
		mappings:        m,
		idField:         idField,
		resolvedIDField: resolvedIDField,
	}
}

// Merge applies the mapping table from terminal onto result and records
// terminal's id in the resolved id field. Only the first value of a source
// field is copied. If terminal has no id the resolved id field is removed.
func (m *Merger) Merge(result, terminal *document.Document) *document.Document {
	for _, fm := range m.mappings {
		if !terminal.Has(fm.Source) {
			continue
		}
		values := terminal.Values(fm.Source)
		if len(values) == 0 {
			result.Set(fm.Dest)
			continue
		}
		result.Set(fm.Dest, values[0])
	}

	if terminal.Has(m.idField) {
		result.Set(m.resolvedIDField, terminal.Get(m.idField))
	} else {
		result.Delete(m.resolvedIDField)
	}
	return result
}
