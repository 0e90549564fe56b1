package entities

import (
	"testing"
	"time"
)

func TestToRecord_RoundTripsThroughTypedOrder(t *testing.T) {
	visible := true
	order := Order{
		ID:           "order-1",
		TourID:       "tour-1",
		CustomerName: "Ana",
		Status:       "pending",
		PaxCount:     2,
		TotalPrice:   199.5,
		IsVisible:    &visible,
		UpdatedAt:    time.Date(2024, 5, 1, 10, 0, 0, 0, time.UTC),
	}

	rec, err := ToRecord(KindOrder, order)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}

	if rec.ID != "order-1" {
		t.Errorf("Expected id order-1, got %s", rec.ID)
	}
	if _, ok := rec.Fields["id"]; ok {
		t.Error("Expected id to be lifted out of fields")
	}
	if rec.Fields["pax_count"] != float64(2) {
		t.Errorf("Expected pax_count 2 as float64, got %#v", rec.Fields["pax_count"])
	}
	if !rec.UpdatedAt.Equal(order.UpdatedAt) {
		t.Errorf("Expected updated_at %s, got %s", order.UpdatedAt, rec.UpdatedAt)
	}

	var back Order
	if err := FromRecord(rec, &back); err != nil {
		t.Fatalf("Expected no error decoding, got %v", err)
	}
	if back.CustomerName != "Ana" || back.PaxCount != 2 || back.IsVisible == nil || !*back.IsVisible {
		t.Errorf("Unexpected decoded order: %+v", back)
	}
}

func TestRecord_CloneDoesNotShareFields(t *testing.T) {
	rec := Record{ID: "a", Fields: map[string]any{"meta": map[string]any{"k": "v"}}}
	cp := rec.Clone()
	cp.Fields["meta"].(map[string]any)["k"] = "changed"

	if rec.Fields["meta"].(map[string]any)["k"] != "v" {
		t.Error("Expected clone to deep-copy nested maps")
	}
}

func TestParseTimestamp_Layouts(t *testing.T) {
	want := time.Date(2024, 5, 1, 10, 0, 0, 123000000, time.UTC)
	inputs := []string{
		"2024-05-01T10:00:00.123Z",
		"2024-05-01T10:00:00.123+00:00",
		"2024-05-01T10:00:00.123",
		"2024-05-01 10:00:00.123+00:00",
	}
	for _, in := range inputs {
		got, err := ParseTimestamp(in)
		if err != nil {
			t.Errorf("ParseTimestamp(%q) error: %v", in, err)
			continue
		}
		if !got.Equal(want) {
			t.Errorf("ParseTimestamp(%q) = %s, want %s", in, got, want)
		}
	}
}

func TestDecodeChangeEvent_TriggerPayload(t *testing.T) {
	payload := []byte(`{"table":"orders","kind":"update",
		"previous":{"id":"order-1","status":"pending","updated_at":"2024-05-01T10:00:00+00:00"},
		"current":{"id":"order-1","status":"cancelled","updated_at":"2024-05-01T10:05:00+00:00"}}`)

	ev, err := DecodeChangeEvent(payload)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if ev.Kind != ChangeUpdate {
		t.Errorf("Expected update, got %s", ev.Kind)
	}
	if ev.EntityID() != "order-1" {
		t.Errorf("Expected order-1, got %s", ev.EntityID())
	}
	if ev.Current.String("status") != "cancelled" {
		t.Errorf("Expected cancelled, got %s", ev.Current.String("status"))
	}
	if ev.Current.Kind != KindOrder {
		t.Errorf("Expected order kind, got %s", ev.Current.Kind)
	}
}

func TestDecodeChangeEvent_RejectsUnknownTable(t *testing.T) {
	if _, err := DecodeChangeEvent([]byte(`{"table":"users","kind":"insert","current":{"id":"x"}}`)); err == nil {
		t.Error("Expected error for unknown table")
	}
}

func TestEncodeChangeEvent_RoundTrip(t *testing.T) {
	cur := Record{ID: "tour-1", Kind: KindTour, Fields: map[string]any{"title": "Lakes"}, UpdatedAt: time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)}
	data, err := EncodeChangeEvent(ChangeEvent{Table: "tours", Kind: ChangeInsert, Current: &cur})
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	ev, err := DecodeChangeEvent(data)
	if err != nil {
		t.Fatalf("Expected no error, got %v", err)
	}
	if !ev.Current.Equal(cur) {
		t.Errorf("Expected %+v, got %+v", cur, *ev.Current)
	}
}

func TestValidateRecord(t *testing.T) {
	rec := Record{ID: "o-1", Kind: KindOrder, Fields: map[string]any{"tour_id": "t-1", "customer_name": " ", "status": "pending"}}
	if err := ValidateRecord(rec); err == nil {
		t.Error("Expected blank customer_name to fail validation")
	}

	rec.Fields["customer_name"] = "Ana"
	if err := ValidateRecord(rec); err != nil {
		t.Errorf("Expected valid record, got %v", err)
	}
}

func TestValidatePatch(t *testing.T) {
	if err := ValidatePatch(KindPassenger, Patch{"full_name": ""}); err == nil {
		t.Error("Expected blanking full_name to fail")
	}
	if err := ValidatePatch(KindPassenger, Patch{"phone": ""}); err != nil {
		t.Errorf("Expected optional field to be clearable, got %v", err)
	}
	if err := ValidatePatch(KindPassenger, Patch{}); err == nil {
		t.Error("Expected empty patch to fail")
	}
}
