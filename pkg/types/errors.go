package types

import "errors"

// Event validation errors
var (
	// ErrMissingEventID is returned when a record carries no event_id
	ErrMissingEventID = errors.New("missing event_id")

	// ErrUnknownEventType is returned for an event_type outside the known set
	ErrUnknownEventType = errors.New("unknown event_type")

	// ErrUnknownCurrency is returned for a currency other than USD or EUR
	ErrUnknownCurrency = errors.New("unknown currency")

	// ErrUnknownSource is returned for a source other than web, mobile or api
	ErrUnknownSource = errors.New("unknown source")

	// ErrUserIDOutOfRange is returned when user_id falls outside [MinUserID, MaxUserID]
	ErrUserIDOutOfRange = errors.New("user_id out of range")

	// ErrPriceMismatch is returned when price is non-zero for an unpriced event
	// type or outside [MinPrice, MaxPrice] for a priced one
	ErrPriceMismatch = errors.New("price does not match event_type")

	// ErrInvalidTimestamp is returned when ts is not an ISO-8601 timestamp
	ErrInvalidTimestamp = errors.New("invalid ts")
)
