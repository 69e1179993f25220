// Package types provides the core record type shared by the generator and the batch pipeline.
package types

import (
	"fmt"
	"math"
	"time"
)

// EventType categorizes an event.
type EventType string

const (
	EventView     EventType = "view"
	EventClick    EventType = "click"
	EventPurchase EventType = "purchase"
	EventRefund   EventType = "refund"
)

// EventTypes lists every known event type in weight order.
var EventTypes = []EventType{EventView, EventClick, EventPurchase, EventRefund}

// EventTypeWeights are the generation weights for EventTypes, index aligned.
var EventTypeWeights = []float64{0.60, 0.25, 0.13, 0.02}

// Valid reports whether t is a known event type.
func (t EventType) Valid() bool {
	switch t {
	case EventView, EventClick, EventPurchase, EventRefund:
		return true
	}
	return false
}

// Priced reports whether events of this type carry a non-zero price.
func (t EventType) Priced() bool {
	return t == EventPurchase || t == EventRefund
}

// Currency is the ISO code of the event price.
type Currency string

const (
	CurrencyUSD Currency = "USD"
	CurrencyEUR Currency = "EUR"
)

// Currencies lists the supported currencies.
var Currencies = []Currency{CurrencyUSD, CurrencyEUR}

// Valid reports whether c is a supported currency.
func (c Currency) Valid() bool {
	return c == CurrencyUSD || c == CurrencyEUR
}

// Source identifies the channel an event arrived from.
type Source string

const (
	SourceWeb    Source = "web"
	SourceMobile Source = "mobile"
	SourceAPI    Source = "api"
)

// Sources lists the supported sources.
var Sources = []Source{SourceWeb, SourceMobile, SourceAPI}

// Valid reports whether s is a supported source.
func (s Source) Valid() bool {
	switch s {
	case SourceWeb, SourceMobile, SourceAPI:
		return true
	}
	return false
}

// Value bounds for generated events.
const (
	MinUserID = 1
	MaxUserID = 50_000

	MinPrice = 5.00
	MaxPrice = 500.00
)

// TimestampLayout is the ISO-8601 layout written to the ts field.
// Timestamps are always UTC, so the offset renders as +00:00.
const TimestampLayout = "2006-01-02T15:04:05-07:00"

// Event is a single record of the line-delimited event log.
type Event struct {
	// EventID is a random UUID, unique per record
	EventID string `json:"event_id"`

	// EventType is one of view, click, purchase, refund
	EventType EventType `json:"event_type"`

	// UserID identifies the user who triggered the event
	UserID int64 `json:"user_id"`

	// Price is zero unless EventType is priced; two decimal places
	Price float64 `json:"price"`

	Currency Currency `json:"currency"`

	// Ts is the event time in TimestampLayout
	Ts string `json:"ts"`

	Source Source `json:"source"`
}

// FormatTimestamp renders t in TimestampLayout, converted to UTC.
func FormatTimestamp(t time.Time) string {
	return t.UTC().Format(TimestampLayout)
}

// Time parses the ts field. Any RFC 3339 timestamp is accepted.
func (e Event) Time() (time.Time, error) {
	ts, err := time.Parse(time.RFC3339, e.Ts)
	if err != nil {
		return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidTimestamp, e.Ts)
	}
	return ts.UTC(), nil
}

// Validate checks the record against the event log schema.
func (e Event) Validate() error {
	if e.EventID == "" {
		return ErrMissingEventID
	}
	if !e.EventType.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownEventType, e.EventType)
	}
	if e.UserID < MinUserID || e.UserID > MaxUserID {
		return fmt.Errorf("%w: %d", ErrUserIDOutOfRange, e.UserID)
	}
	if e.EventType.Priced() {
		if e.Price < MinPrice || e.Price > MaxPrice || !twoDecimals(e.Price) {
			return fmt.Errorf("%w: %s priced %v", ErrPriceMismatch, e.EventType, e.Price)
		}
	} else if e.Price != 0 {
		return fmt.Errorf("%w: %s priced %v", ErrPriceMismatch, e.EventType, e.Price)
	}
	if !e.Currency.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownCurrency, e.Currency)
	}
	if !e.Source.Valid() {
		return fmt.Errorf("%w: %q", ErrUnknownSource, e.Source)
	}
	if _, err := e.Time(); err != nil {
		return err
	}
	return nil
}

func twoDecimals(v float64) bool {
	cents := v * 100
	return math.Abs(cents-math.Round(cents)) < 1e-6
}
