package schemas

import (
	"bytes"
	"fmt"

	json "github.com/json-iterator/go"
)

// Synthetic marker fields carried by rows the extractor generated itself.
const (
	FieldSynthetic = "_synthetic"
	FieldNote      = "_note"

	SyntheticPlaceholder = "placeholder"
	SyntheticError       = "error"
)

// Row is one harvested record: an ordered mapping of column name to value.
// The zero value is ready to use.
type Row struct {
	keys   []string
	values map[string]string
}

// NewRow builds a row from alternating key/value pairs.
func NewRow(kv ...string) Row {
	var r Row
	for i := 0; i+1 < len(kv); i += 2 {
		r.Set(kv[i], kv[i+1])
	}
	return r
}

// Set assigns a value, appending the column if it is new.
func (r *Row) Set(key, value string) {
	if r.values == nil {
		r.values = make(map[string]string)
	}
	if _, ok := r.values[key]; !ok {
		r.keys = append(r.keys, key)
	}
	r.values[key] = value
}

// Get returns the value stored under key.
func (r Row) Get(key string) (string, bool) {
	v, ok := r.values[key]
	return v, ok
}

// Has reports whether the column exists.
func (r Row) Has(key string) bool {
	_, ok := r.values[key]
	return ok
}

// Keys returns the columns in insertion order.
func (r Row) Keys() []string {
	out := make([]string, len(r.keys))
	copy(out, r.keys)
	return out
}

// Len is the number of columns.
func (r Row) Len() int { return len(r.keys) }

// Map returns an unordered copy of the row.
func (r Row) Map() map[string]string {
	out := make(map[string]string, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// IsSynthetic reports whether the row was generated rather than harvested.
func (r Row) IsSynthetic() bool {
	return r.Has(FieldSynthetic)
}

// MarshalJSON writes the row as an object, preserving column order.
func (r Row) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range r.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		vb, err := json.Marshal(r.values[k])
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads a flat object of strings, keeping the document's key order.
func (r *Row) UnmarshalJSON(data []byte) error {
	*r = Row{}
	iter := json.ParseBytes(json.ConfigDefault, data)
	iter.ReadObjectCB(func(it *json.Iterator, key string) bool {
		if it.WhatIsNext() != json.StringValue {
			it.ReportError("read row", fmt.Sprintf("column %q is not a string", key))
			return false
		}
		r.Set(key, it.ReadString())
		return true
	})
	return iter.Error
}
