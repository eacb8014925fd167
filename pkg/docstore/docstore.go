// Package docstore defines the contract of the remote collection store the
// dashboard reads from, and its implementations.
package docstore

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

var (
	// ErrNotFound is returned when a document does not exist.
	ErrNotFound = errors.New("document not found")
	// ErrInvalidCursor is returned when a cursor cannot be resolved.
	ErrInvalidCursor = errors.New("invalid cursor")
)

// Direction is a sort direction.
type Direction string

// Sort directions.
const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Op is a comparison operator in a where condition.
type Op string

// Supported operators.
const (
	Eq  Op = "=="
	Ne  Op = "!="
	Lt  Op = "<"
	Lte Op = "<="
	Gt  Op = ">"
	Gte Op = ">="
)

// Condition filters documents on one field. Field may be a dotted path into
// nested maps. Documents missing the field never match.
type Condition struct {
	Value any
	Field string
	Op    Op
}

// Where builds a condition.
func Where(field string, op Op, value any) Condition {
	return Condition{Field: field, Op: op, Value: value}
}

// Cursor is an opaque position in an ordered query. The zero value means
// "from the start".
type Cursor string

// Query describes an ordered, optionally filtered and limited read.
type Query struct {
	OrderBy    string // Field to order by; documents without it are excluded. Empty = by id.
	Direction  Direction
	StartAfter Cursor
	Where      []Condition
	Limit      int // Zero = no limit
}

// Result is one query response. Next is positioned at the last returned
// record and is empty when nothing was returned.
type Result struct {
	Next    Cursor
	Records []Record
}

// Store is the remote collection store.
type Store interface {
	Query(ctx context.Context, collection string, q Query) (Result, error)
	// Count returns the number of documents matching where, without
	// transferring them.
	Count(ctx context.Context, collection string, where ...Condition) (int, error)
	Get(ctx context.Context, collection, id string) (Record, error)
	// Add creates a document with a store-assigned id.
	Add(ctx context.Context, collection string, fields Record) (string, error)
	// Set creates or replaces the document with the given id.
	Set(ctx context.Context, collection, id string, fields Record) error
	// Update merges fields into an existing document.
	Update(ctx context.Context, collection, id string, fields Record) error
}

type serverTimestamp struct{}

// ServerTimestamp, used as a field value on write, is replaced by the store's
// own clock.
var ServerTimestamp = serverTimestamp{}

// resolve copies fields, replacing ServerTimestamp values with now.
func resolve(fields Record, now time.Time) Record {
	out := make(Record, len(fields))
	for k, v := range fields {
		if _, ok := v.(serverTimestamp); ok {
			out[k] = now
			continue
		}
		out[k] = v
	}
	return out
}

// Record is one document: field name to value, always carrying "id".
type Record map[string]any

// ID returns the document id.
func (r Record) ID() string {
	id, _ := r["id"].(string)
	return id
}

// Clone returns a shallow copy of r.
func (r Record) Clone() Record {
	out := make(Record, len(r))
	for k, v := range r {
		out[k] = v
	}
	return out
}

// Value returns the value at a dotted path.
func (r Record) Value(path string) (any, bool) {
	var cur any = map[string]any(r)
	for _, part := range strings.Split(path, ".") {
		var m map[string]any
		switch t := cur.(type) {
		case map[string]any:
			m = t
		case Record:
			m = t
		default:
			return nil, false
		}
		v, ok := m[part]
		if !ok || v == nil {
			return nil, false
		}
		cur = v
	}
	return cur, true
}

// String returns a non-empty string field.
func (r Record) String(path string) (string, bool) {
	v, ok := r.Value(path)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// Float returns a numeric field as float64.
func (r Record) Float(path string) (float64, bool) {
	v, ok := r.Value(path)
	if !ok {
		return 0, false
	}
	return toFloat(v)
}

// Bool returns a boolean field.
func (r Record) Bool(path string) (bool, bool) {
	v, ok := r.Value(path)
	if !ok {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Time returns a timestamp field stored either as a time.Time or as an
// RFC 3339 string (the form timestamps take after a JSON round trip).
func (r Record) Time(path string) (time.Time, bool) {
	v, ok := r.Value(path)
	if !ok {
		return time.Time{}, false
	}
	return toTime(v)
}

// Strings returns a list-of-strings field, skipping non-string elements.
func (r Record) Strings(path string) ([]string, bool) {
	v, ok := r.Value(path)
	if !ok {
		return nil, false
	}
	switch t := v.(type) {
	case []string:
		return t, true
	case []any:
		out := make([]string, 0, len(t))
		for _, e := range t {
			if s, ok := e.(string); ok {
				out = append(out, s)
			}
		}
		return out, true
	}
	return nil, false
}

// Map returns a nested document field.
func (r Record) Map(path string) (Record, bool) {
	v, ok := r.Value(path)
	if !ok {
		return nil, false
	}
	switch t := v.(type) {
	case map[string]any:
		return Record(t), true
	case Record:
		return t, true
	}
	return nil, false
}

func toFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case float64:
		return n, true
	case float32:
		return float64(n), true
	case int:
		return float64(n), true
	case int32:
		return float64(n), true
	case int64:
		return float64(n), true
	case uint:
		return float64(n), true
	case uint32:
		return float64(n), true
	case uint64:
		return float64(n), true
	case json.Number:
		f, err := n.Float64()
		return f, err == nil
	}
	return 0, false
}

func toTime(v any) (time.Time, bool) {
	switch t := v.(type) {
	case time.Time:
		return t, !t.IsZero()
	case *time.Time:
		if t == nil || t.IsZero() {
			return time.Time{}, false
		}
		return *t, true
	case string:
		parsed, err := time.Parse(time.RFC3339Nano, t)
		return parsed, err == nil
	}
	return time.Time{}, false
}
