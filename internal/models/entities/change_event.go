package entities

import (
	"encoding/json"
	"fmt"
	"time"
)

// ChangeKind is the operation carried by a change event
type ChangeKind string

const (
	ChangeInsert ChangeKind = "insert"
	ChangeUpdate ChangeKind = "update"
	ChangeDelete ChangeKind = "delete"
)

// ChangeEvent is a single notification from a remote change stream
type ChangeEvent struct {
	Table      string
	Kind       ChangeKind
	Previous   *Record
	Current    *Record
	CommitTime time.Time
}

// EntityID returns the id of the row the event is about
func (e ChangeEvent) EntityID() string {
	if e.Current != nil {
		return e.Current.ID
	}
	if e.Previous != nil {
		return e.Previous.ID
	}
	return ""
}

// changePayload is the wire shape shared by the Postgres trigger and Redis streams
type changePayload struct {
	Table      string         `json:"table"`
	Kind       ChangeKind     `json:"kind"`
	Previous   map[string]any `json:"previous"`
	Current    map[string]any `json:"current"`
	CommitTime string         `json:"commit_time,omitempty"`
}

// EncodeChangeEvent serializes an event into its wire payload
func EncodeChangeEvent(ev ChangeEvent) ([]byte, error) {
	p := changePayload{Table: ev.Table, Kind: ev.Kind}
	if ev.Previous != nil {
		p.Previous = ev.Previous.Row()
	}
	if ev.Current != nil {
		p.Current = ev.Current.Row()
	}
	if !ev.CommitTime.IsZero() {
		p.CommitTime = ev.CommitTime.UTC().Format(time.RFC3339Nano)
	}
	return json.Marshal(p)
}

// DecodeChangeEvent parses a wire payload into an event
func DecodeChangeEvent(data []byte) (ChangeEvent, error) {
	var p changePayload
	if err := json.Unmarshal(data, &p); err != nil {
		return ChangeEvent{}, fmt.Errorf("failed to decode change payload: %w", err)
	}

	kind, ok := KindForTable(p.Table)
	if !ok {
		return ChangeEvent{}, fmt.Errorf("change payload for unknown table %q", p.Table)
	}

	ev := ChangeEvent{Table: p.Table, Kind: p.Kind}
	switch p.Kind {
	case ChangeInsert, ChangeUpdate, ChangeDelete:
	default:
		return ChangeEvent{}, fmt.Errorf("change payload with unknown kind %q", p.Kind)
	}

	if p.Previous != nil {
		rec, err := RecordFromRow(kind, p.Previous)
		if err != nil {
			return ChangeEvent{}, fmt.Errorf("invalid previous row: %w", err)
		}
		ev.Previous = &rec
	}
	if p.Current != nil {
		rec, err := RecordFromRow(kind, p.Current)
		if err != nil {
			return ChangeEvent{}, fmt.Errorf("invalid current row: %w", err)
		}
		ev.Current = &rec
	}
	if ev.EntityID() == "" {
		return ChangeEvent{}, fmt.Errorf("change payload without a row")
	}
	if p.CommitTime != "" {
		ts, err := ParseTimestamp(p.CommitTime)
		if err == nil {
			ev.CommitTime = ts
		}
	}
	return ev, nil
}
