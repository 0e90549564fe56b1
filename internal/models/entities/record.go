package entities

import (
	"encoding/json"
	"fmt"
	"reflect"
	"strings"
	"time"

	"infinite-experiment/tourdesk/internal/constants"
)

// Kind identifies one of the entity types served by the data source
type Kind string

const (
	KindOrder     Kind = "order"
	KindTour      Kind = "tour"
	KindPassenger Kind = "passenger"
)

// Kinds lists every entity kind in load order
var Kinds = []Kind{KindTour, KindOrder, KindPassenger}

func (k Kind) String() string { return string(k) }

// Table returns the remote table backing the kind
func (k Kind) Table() string {
	switch k {
	case KindOrder:
		return constants.TableOrders
	case KindTour:
		return constants.TableTours
	case KindPassenger:
		return constants.TablePassengers
	}
	return ""
}

// KindForTable maps a table name back to its kind
func KindForTable(table string) (Kind, bool) {
	for _, k := range Kinds {
		if k.Table() == table {
			return k, true
		}
	}
	return "", false
}

// Patch is a set of field updates keyed by column name
type Patch map[string]any

// Record is a remote row with a stable id and a version timestamp.
// Field values are JSON-shaped: string, float64, bool, nil, map[string]any or []any.
type Record struct {
	ID        string         `json:"id"`
	Kind      Kind           `json:"kind"`
	Fields    map[string]any `json:"fields"`
	UpdatedAt time.Time      `json:"updated_at"`
}

// Clone deep-copies the record so callers never share field maps
func (r Record) Clone() Record {
	out := r
	out.Fields = cloneMap(r.Fields)
	return out
}

// Get returns a field value
func (r Record) Get(field string) (any, bool) {
	if r.Fields == nil {
		return nil, false
	}
	v, ok := r.Fields[field]
	return v, ok
}

// String returns a string field or "" when missing or not a string
func (r Record) String(field string) string {
	v, ok := r.Get(field)
	if !ok || v == nil {
		return ""
	}
	if s, ok := v.(string); ok {
		return s
	}
	return fmt.Sprint(v)
}

// Bool returns a boolean field; ok is false when missing or not a bool
func (r Record) Bool(field string) (value bool, ok bool) {
	v, found := r.Get(field)
	if !found {
		return false, false
	}
	b, ok := v.(bool)
	return b, ok
}

// Equal compares id, kind, version and fields
func (r Record) Equal(other Record) bool {
	if r.ID != other.ID || r.Kind != other.Kind || !r.UpdatedAt.Equal(other.UpdatedAt) {
		return false
	}
	if len(r.Fields) == 0 && len(other.Fields) == 0 {
		return true
	}
	return reflect.DeepEqual(r.Fields, other.Fields)
}

// Row flattens the record into a single column map
func (r Record) Row() map[string]any {
	row := cloneMap(r.Fields)
	if row == nil {
		row = map[string]any{}
	}
	row["id"] = r.ID
	if !r.UpdatedAt.IsZero() {
		row[constants.ColumnUpdatedAt] = r.UpdatedAt.UTC().Format(time.RFC3339Nano)
	}
	return row
}

// RecordFromRow builds a record from a flat row as produced by JSON change payloads
func RecordFromRow(kind Kind, row map[string]any) (Record, error) {
	rec := Record{Kind: kind, Fields: make(map[string]any, len(row))}
	for k, v := range row {
		switch k {
		case "id":
			id, ok := v.(string)
			if !ok {
				id = strings.TrimSpace(fmt.Sprint(v))
			}
			rec.ID = id
		case constants.ColumnUpdatedAt:
			ts, err := ParseTimestamp(v)
			if err != nil {
				return Record{}, fmt.Errorf("invalid updated_at: %w", err)
			}
			rec.UpdatedAt = ts
		default:
			rec.Fields[k] = normalizeValue(v)
		}
	}
	if rec.ID == "" {
		return Record{}, fmt.Errorf("row for %s has no id", kind)
	}
	return rec, nil
}

// ToRecord converts a typed entity into a record through its JSON tags
func ToRecord(kind Kind, v any) (Record, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Record{}, fmt.Errorf("failed to marshal %s: %w", kind, err)
	}
	var row map[string]any
	if err := json.Unmarshal(data, &row); err != nil {
		return Record{}, fmt.Errorf("failed to unmarshal %s row: %w", kind, err)
	}
	return RecordFromRow(kind, row)
}

// FromRecord decodes a record into a typed entity
func FromRecord(rec Record, out any) error {
	data, err := json.Marshal(rec.Row())
	if err != nil {
		return fmt.Errorf("failed to marshal record %s: %w", rec.ID, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to decode record %s: %w", rec.ID, err)
	}
	return nil
}

var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp accepts time values and the string layouts emitted by Postgres and SQLite
func ParseTimestamp(v any) (time.Time, error) {
	switch t := v.(type) {
	case nil:
		return time.Time{}, nil
	case time.Time:
		return t.UTC(), nil
	case string:
		s := strings.TrimSpace(t)
		if s == "" {
			return time.Time{}, nil
		}
		for _, layout := range timestampLayouts {
			if ts, err := time.Parse(layout, s); err == nil {
				return ts.UTC(), nil
			}
		}
		return time.Time{}, fmt.Errorf("unrecognised timestamp %q", s)
	}
	return time.Time{}, fmt.Errorf("unsupported timestamp type %T", v)
}

// normalizeValue coerces Go values into their JSON-decoded shape
func normalizeValue(v any) any {
	switch t := v.(type) {
	case nil, string, bool, float64:
		return t
	case int:
		return float64(t)
	case int32:
		return float64(t)
	case int64:
		return float64(t)
	case float32:
		return float64(t)
	case time.Time:
		return t.UTC().Format(time.RFC3339Nano)
	case map[string]any:
		return cloneMap(t)
	case []any:
		out := make([]any, len(t))
		for i := range t {
			out[i] = normalizeValue(t[i])
		}
		return out
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprint(v)
	}
	var out any
	if err := json.Unmarshal(data, &out); err != nil {
		return fmt.Sprint(v)
	}
	return out
}

// NormalizePatch coerces patch values the same way rows are normalized
func NormalizePatch(p Patch) Patch {
	out := make(Patch, len(p))
	for k, v := range p {
		out[k] = normalizeValue(v)
	}
	return out
}

func cloneMap(m map[string]any) map[string]any {
	if m == nil {
		return nil
	}
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = normalizeValue(v)
	}
	return out
}
