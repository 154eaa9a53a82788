package resolver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fyrsmithlabs/refmerge/internal/document"
)

func TestSplit(t *testing.T) {
	tests := []struct {
		name      string
		raw       string
		delimiter string
		want      []string
	}{
		{"empty", "", ";", []string{}},
		{"single", "1", ";", []string{"1"}},
		{"ordered", "1;2;3", ";", []string{"1", "2", "3"}},
		{"no trimming", " 1 ; 2", ";", []string{" 1 ", " 2"}},
		{"no dedup", "1;1", ";", []string{"1", "1"}},
		{"empty tokens kept", "1;;2", ";", []string{"1", "", "2"}},
		{"multi char delimiter", "a::b:c", "::", []string{"a", "b:c"}},
		{"regex chars are literal", "a.b", ".", []string{"a", "b"}},
		{"empty delimiter", "a;b", "", []string{"a;b"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Split(tt.raw, tt.delimiter))
		})
	}
}

func TestReferenceKeys(t *testing.T) {
	keys := referenceKeys([]any{"a;b", nil, int64(7), ""}, ";")
	assert.Equal(t, []string{"a", "b", "7"}, keys)
	assert.Empty(t, referenceKeys(nil, ";"))
}

func TestNewGuard(t *testing.T) {
	g, err := NewGuard("", nil)
	require.NoError(t, err)
	assert.False(t, g.Enabled())

	g, err = NewGuard("", "")
	require.NoError(t, err)
	assert.False(t, g.Enabled())

	g, err = NewGuard("status", "published")
	require.NoError(t, err)
	assert.True(t, g.Enabled())
	assert.Equal(t, "status", g.Key())

	_, err = NewGuard("status", nil)
	assert.ErrorIs(t, err, ErrGuardIncomplete)

	_, err = NewGuard("", "published")
	assert.ErrorIs(t, err, ErrGuardIncomplete)
}

func TestGuard_Allows(t *testing.T) {
	published, err := NewGuard("status", "published")
	require.NoError(t, err)
	numeric, err := NewGuard("level", 2)
	require.NoError(t, err)
	multi, err := NewGuard("tags", []any{"a", "b"})
	require.NoError(t, err)

	tests := []struct {
		name  string
		guard Guard
		doc   *document.Document
		want  bool
	}{
		{"unconfigured", Guard{}, document.New(), true},
		{"match", published, doc("status", "published"), true},
		{"mismatch", published, doc("status", "draft"), false},
		{"absent", published, doc("other", "published"), false},
		{"numeric native equality", numeric, doc("level", float64(2)), true},
		{"string never equals number", numeric, doc("level", "2"), false},
		{"multi valued", multi, func() *document.Document {
			d := document.New()
			d.Set("tags", "a", "b")
			return d
		}(), true},
		{"multi valued order matters", multi, func() *document.Document {
			d := document.New()
			d.Set("tags", "b", "a")
			return d
		}(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.guard.Allows(tt.doc))
		})
	}
}

func TestMerger_CopiesFirstValueInOrder(t *testing.T) {
	m := NewMerger([]FieldMapping{
		{Source: "title", Dest: "out"},
		{Source: "author", Dest: "out"},
		{Source: "missing", Dest: "kept"},
	}, "", "")

	terminal := document.New()
	terminal.Set("id", "T")
	terminal.Set("title", "first", "second")
	terminal.Set("author", "ann")

	result := doc("kept", "before", "out", "before")
	m.Merge(result, terminal)

	assert.Equal(t, []any{"ann"}, result.Values("out"), "later duplicate destination wins")
	assert.Equal(t, "before", result.Get("kept"))
	assert.Equal(t, "T", result.Get("foreignId_s"))
	assert.Equal(t, []string{"kept", "out", "foreignId_s"}, result.Fields())
}

func TestMerger_EmptyMappingsOnlySetsResolvedID(t *testing.T) {
	m := NewMerger(nil, "id", "foreignId_s")

	result := doc("title", "Alpha")
	before := result.Clone()
	m.Merge(result, doc("id", "T", "title", "Other"))

	assert.Equal(t, "T", result.Get("foreignId_s"))
	result.Delete("foreignId_s")
	assert.Equal(t, before.Map(), result.Map())
}

func TestMerger_TerminalWithoutIDClearsResolvedID(t *testing.T) {
	m := NewMerger([]FieldMapping{{Source: "title", Dest: "title_s"}}, "id", "resolved")

	result := doc("resolved", "old")
	m.Merge(result, doc("title", "Alpha"))

	assert.Equal(t, "Alpha", result.Get("title_s"))
	assert.False(t, result.Has("resolved"))
}

func TestMerger_EmptySourceFieldWritesEmptyDest(t *testing.T) {
	m := NewMerger([]FieldMapping{{Source: "title", Dest: "title_s"}}, "", "")

	terminal := document.New()
	terminal.Set("title")
	result := doc("title_s", "old")
	m.Merge(result, terminal)

	assert.True(t, result.Has("title_s"))
	assert.Nil(t, result.Get("title_s"))
}
