package entities

import (
	"fmt"
	"strings"
)

var requiredFields = map[Kind][]string{
	KindOrder:     {"tour_id", "customer_name", "status"},
	KindTour:      {"provider_id", "title"},
	KindPassenger: {"order_id", "full_name", "status"},
}

// RequiredFields lists the fields a record of kind must carry
func RequiredFields(kind Kind) []string {
	return append([]string(nil), requiredFields[kind]...)
}

// ValidateRecord checks that every required field is present and not blank
func ValidateRecord(rec Record) error {
	if _, ok := requiredFields[rec.Kind]; !ok {
		return fmt.Errorf("unknown kind %q", rec.Kind)
	}
	var missing []string
	for _, field := range requiredFields[rec.Kind] {
		if isBlank(rec.Fields[field]) {
			missing = append(missing, field)
		}
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required fields: %s", strings.Join(missing, ", "))
	}
	return nil
}

// ValidatePatch rejects patches that would blank a required field
func ValidatePatch(kind Kind, patch Patch) error {
	if len(patch) == 0 {
		return fmt.Errorf("patch has no fields")
	}
	for _, field := range requiredFields[kind] {
		if v, ok := patch[field]; ok && isBlank(v) {
			return fmt.Errorf("field %s cannot be empty", field)
		}
	}
	return nil
}

func isBlank(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return strings.TrimSpace(t) == ""
	}
	return false
}
