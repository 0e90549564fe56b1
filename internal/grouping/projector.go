// Package grouping buckets reconciled records into display groups keyed by
// departure date and title.
package grouping

import (
	"sort"
	"strings"

	"infinite-experiment/tourdesk/internal/models/entities"
)

// Tab selects which groups a view shows
type Tab string

const (
	TabActive    Tab = "active"
	TabCompleted Tab = "completed"
	TabAll       Tab = "all"
)

// ParseTab maps query values to a tab, defaulting to active
func ParseTab(s string) Tab {
	switch Tab(strings.ToLower(strings.TrimSpace(s))) {
	case TabCompleted:
		return TabCompleted
	case TabAll:
		return TabAll
	}
	return TabActive
}

// Row is one record prepared for grouping
type Row struct {
	Date    string
	Title   string
	OrderID string

	// Status is the member's own status; ParentStatus is the owning order's
	Status       string
	ParentStatus string

	Search []string
	Record entities.Record
}

// Params are the user-selected view filters
type Params struct {
	Search string
	Date   string
	Tab    Tab
}

// Options configure how groups are keyed and classified
type Options struct {
	// ByOrder adds the order id to the key
	ByOrder              bool
	TerminalStatuses     []string
	CancellationStatuses []string
}

// Group is one bucket of rows sharing a key
type Group struct {
	Key       string `json:"key"`
	Date      string `json:"date"`
	Title     string `json:"title"`
	OrderID   string `json:"order_id,omitempty"`
	Completed bool   `json:"completed"`
	Members   []Row  `json:"-"`
}

// Project filters rows and returns the sorted groups. Groups are rebuilt on
// every call.
func Project(rows []Row, params Params, opts Options) []Group {
	search := strings.ToLower(strings.TrimSpace(params.Search))
	day := ""
	if strings.TrimSpace(params.Date) != "" {
		day = NormalizeDate(params.Date)
	}

	type bucketKey struct{ date, title, orderID string }
	buckets := make(map[bucketKey]*Group)
	for _, row := range rows {
		date := NormalizeDate(row.Date)
		if day != "" && date != day {
			continue
		}
		if search != "" && !matchesSearch(row, search) {
			continue
		}

		title := NormalizeTitle(row.Title)
		orderID := ""
		if opts.ByOrder {
			orderID = row.OrderID
		}
		bk := bucketKey{date, title, orderID}

		g, ok := buckets[bk]
		if !ok {
			g = &Group{Key: Key(date, title, orderID), Date: date, Title: title, OrderID: orderID}
			buckets[bk] = g
		}
		g.Members = append(g.Members, row)
	}

	terminal := toSet(opts.TerminalStatuses)
	cancelled := toSet(opts.CancellationStatuses)

	var active, completed []Group
	for _, g := range buckets {
		sort.Slice(g.Members, func(i, j int) bool { return g.Members[i].Record.ID < g.Members[j].Record.ID })
		g.Completed = isCompleted(g.Members, terminal, cancelled)
		if g.Completed {
			completed = append(completed, *g)
		} else {
			active = append(active, *g)
		}
	}

	sortGroups(active, true)
	sortGroups(completed, false)

	switch params.Tab {
	case TabCompleted:
		return completed
	case TabAll:
		return append(active, completed...)
	}
	return active
}

func matchesSearch(row Row, search string) bool {
	for _, s := range row.Search {
		if strings.Contains(strings.ToLower(s), search) {
			return true
		}
	}
	return strings.Contains(strings.ToLower(row.Title), search)
}

func isCompleted(members []Row, terminal, cancelled map[string]bool) bool {
	if len(members) == 0 {
		return false
	}
	for _, m := range members {
		if terminal[m.Status] || cancelled[m.ParentStatus] {
			continue
		}
		return false
	}
	return true
}

// sortGroups orders by date (ascending or descending) with no-date last,
// then title, then order id
func sortGroups(groups []Group, ascending bool) {
	sort.SliceStable(groups, func(i, j int) bool {
		a, b := groups[i], groups[j]
		if a.Date != b.Date {
			if a.Date == NoDate {
				return false
			}
			if b.Date == NoDate {
				return true
			}
			if ascending {
				return a.Date < b.Date
			}
			return a.Date > b.Date
		}
		if a.Title != b.Title {
			return a.Title < b.Title
		}
		return a.OrderID < b.OrderID
	})
}

func toSet(values []string) map[string]bool {
	out := make(map[string]bool, len(values))
	for _, v := range values {
		out[v] = true
	}
	return out
}
