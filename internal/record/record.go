// Package record defines the card record handed to the generation
// pipeline and the JSON/JSONL files records are exchanged in.
package record

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Record is one card: a note type plus named string fields. Order keeps
// the note type's field order so output stays stable.
type Record struct {
	ID       string
	NoteType string
	Fields   map[string]string
	Order    []string
}

// New returns an empty record of noteType.
func New(id, noteType string) *Record {
	return &Record{ID: id, NoteType: noteType, Fields: map[string]string{}}
}

// Get returns the value of field name, "" when absent.
func (r *Record) Get(name string) string {
	return r.Fields[name]
}

// Set writes a field value, appending unseen names to Order.
func (r *Record) Set(name, value string) {
	if r.Fields == nil {
		r.Fields = map[string]string{}
	}
	if _, ok := r.Fields[name]; !ok && !r.inOrder(name) {
		r.Order = append(r.Order, name)
	}
	r.Fields[name] = value
}

func (r *Record) inOrder(name string) bool {
	for _, n := range r.Order {
		if n == name {
			return true
		}
	}
	return false
}

// Snapshot returns a copy of the field map.
func (r *Record) Snapshot() map[string]string {
	out := make(map[string]string, len(r.Fields))
	for k, v := range r.Fields {
		out[k] = v
	}
	return out
}

// FieldNames returns the field names in Order, followed by any fields
// missing from Order in sorted order.
func (r *Record) FieldNames() []string {
	names := make([]string, 0, len(r.Fields))
	seen := make(map[string]bool, len(r.Fields))
	for _, n := range r.Order {
		if _, ok := r.Fields[n]; ok && !seen[n] {
			names = append(names, n)
			seen[n] = true
		}
	}
	var rest []string
	for n := range r.Fields {
		if !seen[n] {
			rest = append(rest, n)
		}
	}
	sort.Strings(rest)
	return append(names, rest...)
}

// wire form: fields is an object whose key order follows FieldNames.
type wireRecord struct {
	ID       string          `json:"id,omitempty"`
	NoteType string          `json:"note_type"`
	Fields   json.RawMessage `json:"fields"`
}

// MarshalJSON writes fields in field order.
func (r *Record) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, name := range r.FieldNames() {
		if i > 0 {
			buf.WriteByte(',')
		}
		k, err := json.Marshal(name)
		if err != nil {
			return nil, err
		}
		v, err := json.Marshal(r.Fields[name])
		if err != nil {
			return nil, err
		}
		buf.Write(k)
		buf.WriteByte(':')
		buf.Write(v)
	}
	buf.WriteByte('}')

	return json.Marshal(wireRecord{ID: r.ID, NoteType: r.NoteType, Fields: buf.Bytes()})
}

// UnmarshalJSON reads a record, taking Order from the fields object's key
// order.
func (r *Record) UnmarshalJSON(data []byte) error {
	var w wireRecord
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	r.ID = w.ID
	r.NoteType = w.NoteType
	r.Fields = map[string]string{}
	r.Order = nil
	if len(w.Fields) == 0 || string(w.Fields) == "null" {
		return nil
	}

	dec := json.NewDecoder(bytes.NewReader(w.Fields))
	tok, err := dec.Token()
	if err != nil {
		return fmt.Errorf("fields: %w", err)
	}
	if d, ok := tok.(json.Delim); !ok || d != '{' {
		return fmt.Errorf("fields: expected object")
	}
	for dec.More() {
		tok, err := dec.Token()
		if err != nil {
			return fmt.Errorf("fields: %w", err)
		}
		name, _ := tok.(string)
		var value string
		if err := dec.Decode(&value); err != nil {
			return fmt.Errorf("field %q: %w", name, err)
		}
		r.Set(name, value)
	}
	return nil
}
