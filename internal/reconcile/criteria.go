package reconcile

import (
	"infinite-experiment/tourdesk/internal/constants"
	"infinite-experiment/tourdesk/internal/models/entities"
)

// Criteria decides which records belong in a reconciled collection
type Criteria struct {
	// Statuses restricts the status field to a set; empty accepts any status
	Statuses    []string
	StatusField string

	// RequireVisible hides records whose visibility field is explicitly false.
	// Only enabled when the deployment has the column.
	RequireVisible bool
	VisibleField   string
}

// MatchAll accepts every record
func MatchAll() Criteria { return Criteria{} }

// Matches reports whether rec satisfies the criteria
func (c Criteria) Matches(rec entities.Record) bool {
	if len(c.Statuses) > 0 {
		field := c.StatusField
		if field == "" {
			field = constants.ColumnStatus
		}
		status := rec.String(field)
		found := false
		for _, s := range c.Statuses {
			if s == status {
				found = true
				break
			}
		}
		if !found {
			return false
		}
	}

	if c.RequireVisible {
		field := c.VisibleField
		if field == "" {
			field = constants.ColumnVisible
		}
		// A missing or null flag counts as visible, only an explicit false hides
		if visible, ok := rec.Bool(field); ok && !visible {
			return false
		}
	}

	return true
}
