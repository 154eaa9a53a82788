package document

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

// MarshalJSON encodes the document as a JSON object in field order.
// Single-valued fields encode as the bare value, multi-valued fields as an
// array.
func (d *Document) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, f := range d.fieldsOrEmpty() {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(f.name)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')

		var val any
		switch len(f.values) {
		case 0:
			val = []any{}
		case 1:
			val = f.values[0]
		default:
			val = f.values
		}
		raw, err := json.Marshal(val)
		if err != nil {
			return nil, fmt.Errorf("encoding field %q: %w", f.name, err)
		}
		buf.Write(raw)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON decodes a JSON object, keeping the field order of the input.
// Arrays become multi-valued fields. Integral numbers decode as int64,
// other numbers as float64.
func (d *Document) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()

	tok, err := dec.Token()
	if err != nil {
		return err
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return fmt.Errorf("document must be a JSON object, got %v", tok)
	}

	out := New()
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return err
		}
		name, ok := tok.(string)
		if !ok {
			return fmt.Errorf("unexpected token %v", tok)
		}
		var raw any
		if err := dec.Decode(&raw); err != nil {
			return fmt.Errorf("decoding field %q: %w", name, err)
		}
		out.Set(name, normalizeJSON(expand(raw))...)
	}
	if _, err := dec.Token(); err != nil {
		return err
	}
	*d = *out
	return nil
}

// DecodeJSON reads documents from r. The input may be a JSON array of
// objects or a stream of objects (JSON lines).
func DecodeJSON(r io.Reader) ([]*Document, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, err
	}
	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil, nil
	}

	if data[0] == '[' {
		var raws []json.RawMessage
		if err := json.Unmarshal(data, &raws); err != nil {
			return nil, err
		}
		docs := make([]*Document, 0, len(raws))
		for i, raw := range raws {
			d := New()
			if err := d.UnmarshalJSON(raw); err != nil {
				return nil, fmt.Errorf("document %d: %w", i, err)
			}
			docs = append(docs, d)
		}
		return docs, nil
	}

	var docs []*Document
	dec := json.NewDecoder(bytes.NewReader(data))
	for {
		d := New()
		if err := dec.Decode(d); err != nil {
			if errors.Is(err, io.EOF) {
				return docs, nil
			}
			return nil, fmt.Errorf("document %d: %w", len(docs), err)
		}
		docs = append(docs, d)
	}
}

// DecodeYAML reads documents from r. The input may be a YAML sequence of
// mappings or a multi-document stream of mappings. Field order follows the
// YAML source.
func DecodeYAML(r io.Reader) ([]*Document, error) {
	dec := yaml.NewDecoder(r)
	var docs []*Document
	for {
		var root yaml.Node
		if err := dec.Decode(&root); err != nil {
			if errors.Is(err, io.EOF) {
				return docs, nil
			}
			return nil, err
		}
		node := &root
		if node.Kind == yaml.DocumentNode && len(node.Content) > 0 {
			node = node.Content[0]
		}
		switch node.Kind {
		case yaml.SequenceNode:
			for _, item := range node.Content {
				d, err := fromYAMLMapping(item)
				if err != nil {
					return nil, fmt.Errorf("document %d: %w", len(docs), err)
				}
				docs = append(docs, d)
			}
		case yaml.MappingNode:
			d, err := fromYAMLMapping(node)
			if err != nil {
				return nil, fmt.Errorf("document %d: %w", len(docs), err)
			}
			docs = append(docs, d)
		default:
			return nil, fmt.Errorf("line %d: expected a mapping or a sequence of mappings", node.Line)
		}
	}
}

func fromYAMLMapping(node *yaml.Node) (*Document, error) {
	if node.Kind != yaml.MappingNode {
		return nil, fmt.Errorf("line %d: expected a mapping", node.Line)
	}
	d := New()
	for i := 0; i+1 < len(node.Content); i += 2 {
		key, val := node.Content[i], node.Content[i+1]
		if val.Kind == yaml.SequenceNode {
			values := make([]any, 0, len(val.Content))
			for _, item := range val.Content {
				var v any
				if err := item.Decode(&v); err != nil {
					return nil, fmt.Errorf("field %q: %w", key.Value, err)
				}
				values = append(values, v)
			}
			d.Set(key.Value, values...)
			continue
		}
		var v any
		if err := val.Decode(&v); err != nil {
			return nil, fmt.Errorf("field %q: %w", key.Value, err)
		}
		d.Set(key.Value, expand(v)...)
	}
	return d, nil
}

func normalizeJSON(values []any) []any {
	for i, v := range values {
		n, ok := v.(json.Number)
		if !ok {
			continue
		}
		if iv, err := n.Int64(); err == nil {
			values[i] = iv
		} else if fv, err := n.Float64(); err == nil {
			values[i] = fv
		} else {
			values[i] = n.String()
		}
	}
	return values
}

func (d *Document) fieldsOrEmpty() []field {
	if d == nil {
		return nil
	}
	return d.fields
}
