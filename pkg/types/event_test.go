package types

import (
	"encoding/json"
	"errors"
	"testing"
	"time"
)

func validEvent() Event {
	return Event{
		EventID:   "5f0c6f0e-8a43-4a54-9f3e-6b7f2b1c9d10",
		EventType: EventPurchase,
		UserID:    42,
		Price:     19.99,
		Currency:  CurrencyUSD,
		Ts:        "2026-10-01T12:30:00+00:00",
		Source:    SourceWeb,
	}
}

func TestEvent_ValidateAccepts(t *testing.T) {
	e := validEvent()
	if err := e.Validate(); err != nil {
		t.Fatalf("expected valid event, got %v", err)
	}

	e.EventType = EventView
	e.Price = 0
	if err := e.Validate(); err != nil {
		t.Fatalf("expected unpriced view to be valid, got %v", err)
	}
}

func TestEvent_ValidateRejects(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*Event)
		want   error
	}{
		{"missing id", func(e *Event) { e.EventID = "" }, ErrMissingEventID},
		{"unknown type", func(e *Event) { e.EventType = "signup" }, ErrUnknownEventType},
		{"user zero", func(e *Event) { e.UserID = 0 }, ErrUserIDOutOfRange},
		{"user too large", func(e *Event) { e.UserID = MaxUserID + 1 }, ErrUserIDOutOfRange},
		{"priced view", func(e *Event) { e.EventType = EventClick }, ErrPriceMismatch},
		{"free purchase", func(e *Event) { e.Price = 0 }, ErrPriceMismatch},
		{"price above max", func(e *Event) { e.Price = 500.01 }, ErrPriceMismatch},
		{"three decimals", func(e *Event) { e.Price = 10.005 }, ErrPriceMismatch},
		{"bad currency", func(e *Event) { e.Currency = "GBP" }, ErrUnknownCurrency},
		{"bad source", func(e *Event) { e.Source = "email" }, ErrUnknownSource},
		{"bad ts", func(e *Event) { e.Ts = "yesterday" }, ErrInvalidTimestamp},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			e := validEvent()
			tt.mutate(&e)
			err := e.Validate()
			if !errors.Is(err, tt.want) {
				t.Errorf("got %v, want %v", err, tt.want)
			}
		})
	}
}

func TestEvent_TimeAcceptsZuluAndOffset(t *testing.T) {
	want := time.Date(2026, 10, 1, 12, 30, 0, 0, time.UTC)
	for _, ts := range []string{"2026-10-01T12:30:00+00:00", "2026-10-01T12:30:00Z", "2026-10-01T14:30:00+02:00"} {
		e := Event{Ts: ts}
		got, err := e.Time()
		if err != nil {
			t.Fatalf("Time(%q) failed: %v", ts, err)
		}
		if !got.Equal(want) {
			t.Errorf("Time(%q) = %v, want %v", ts, got, want)
		}
	}
}

func TestFormatTimestamp_UsesUTCOffset(t *testing.T) {
	loc := time.FixedZone("CEST", 2*60*60)
	got := FormatTimestamp(time.Date(2026, 10, 1, 14, 30, 0, 0, loc))
	if got != "2026-10-01T12:30:00+00:00" {
		t.Errorf("got %q", got)
	}
}

func TestEvent_JSONFieldNames(t *testing.T) {
	data, err := json.Marshal(validEvent())
	if err != nil {
		t.Fatalf("marshal failed: %v", err)
	}

	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		t.Fatalf("unmarshal failed: %v", err)
	}
	for _, name := range []string{"event_id", "event_type", "user_id", "price", "currency", "ts", "source"} {
		if _, ok := fields[name]; !ok {
			t.Errorf("missing field %s in %s", name, data)
		}
	}
	if len(fields) != 7 {
		t.Errorf("expected 7 fields, got %d", len(fields))
	}
}

func TestEventTypeWeights_SumToOne(t *testing.T) {
	if len(EventTypeWeights) != len(EventTypes) {
		t.Fatalf("weights and types misaligned")
	}
	var sum float64
	for _, w := range EventTypeWeights {
		sum += w
	}
	if sum < 0.999999 || sum > 1.000001 {
		t.Errorf("weights sum to %v", sum)
	}
}
