package providers

import (
	"context"
	"fmt"
	"strings"
	"time"

	"infinite-experiment/tourdesk/internal/models/entities"
)

// DataSource is the remote store the reconciled collections mirror
type DataSource interface {
	// Fetch returns every record of kind matching the filter
	Fetch(ctx context.Context, kind entities.Kind, filter FetchFilter) ([]entities.Record, error)

	// Get returns one record or ErrNotFound
	Get(ctx context.Context, kind entities.Kind, id string) (entities.Record, error)

	// Update writes patch when the stored version equals expected.
	// A zero expected skips the version check.
	Update(ctx context.Context, kind entities.Kind, id string, patch entities.Patch, expected time.Time) (entities.Record, error)

	// Insert creates rec and returns the stored row
	Insert(ctx context.Context, rec entities.Record) (entities.Record, error)

	// Delete removes the record or returns ErrNotFound
	Delete(ctx context.Context, kind entities.Kind, id string) error
}

// FetchFilter narrows a bulk fetch
type FetchFilter struct {
	Statuses       []string
	StatusField    string
	RequireVisible bool
	VisibleField   string
}

// Publisher receives change events for writes made through a DataSource
type Publisher interface {
	Publish(ctx context.Context, ev entities.ChangeEvent) error
}

// ChangeStream opens subscriptions to a table's change events
type ChangeStream interface {
	Subscribe(ctx context.Context, table string, filter Filter) (Subscription, error)
}

// Subscription is a live feed of change events. Events is closed when the
// subscription ends; Err then reports why (nil after Close or ctx cancel).
// Close must be called on every exit path.
type Subscription interface {
	Events() <-chan entities.ChangeEvent
	Err() error
	Close() error
}

// Filter restricts a subscription to rows where Column equals Value.
// The zero Filter matches every row.
type Filter struct {
	Column string
	Value  string
}

// ParseFilter reads "column=value"; an empty string yields the zero Filter
func ParseFilter(expr string) (Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Filter{}, nil
	}
	column, value, ok := strings.Cut(expr, "=")
	column = strings.TrimSpace(column)
	if !ok || column == "" {
		return Filter{}, fmt.Errorf("invalid filter %q, expected column=value", expr)
	}
	return Filter{Column: column, Value: strings.TrimSpace(value)}, nil
}

func (f Filter) String() string {
	if f.Column == "" {
		return ""
	}
	return f.Column + "=" + f.Value
}

// Matches checks the current row, or the previous row for deletes
func (f Filter) Matches(ev entities.ChangeEvent) bool {
	if f.Column == "" {
		return true
	}
	rec := ev.Current
	if rec == nil {
		rec = ev.Previous
	}
	if rec == nil {
		return false
	}
	if f.Column == "id" {
		return rec.ID == f.Value
	}
	return rec.String(f.Column) == f.Value
}
