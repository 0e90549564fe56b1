package grouping

import (
	"strings"
	"time"
)

const (
	NoDate       = "no-date"
	UnknownTitle = "unknown"
	keySeparator = "|"
	dayLayout    = "2006-01-02"
)

var dateLayouts = []string{
	time.RFC3339Nano,
	time.RFC3339,
	"2006-01-02 15:04:05.999999999-07:00",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02T15:04:05.999999999",
	dayLayout,
}

// NormalizeDate reduces a raw date or timestamp to its calendar day.
// The day is taken in the timestamp's own offset so "2024-05-01T23:30:00-05:00"
// stays on May 1st. Unparseable values are returned trimmed.
func NormalizeDate(raw string) string {
	s := strings.TrimSpace(raw)
	if s == "" {
		return NoDate
	}
	for _, layout := range dateLayouts {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.Format(dayLayout)
		}
	}
	return s
}

// NormalizeTitle trims and collapses whitespace
func NormalizeTitle(raw string) string {
	s := strings.Join(strings.Fields(raw), " ")
	if s == "" {
		return UnknownTitle
	}
	return s
}

var keyEscaper = strings.NewReplacer(`\`, `\\`, keySeparator, `\`+keySeparator)

// Key builds the composite group key from already normalized parts. A
// separator inside a part is escaped so distinct parts never share a key.
func Key(date, title string, orderID ...string) string {
	parts := []string{keyEscaper.Replace(date), keyEscaper.Replace(title)}
	for _, id := range orderID {
		if id != "" {
			parts = append(parts, keyEscaper.Replace(id))
		}
	}
	return strings.Join(parts, keySeparator)
}
