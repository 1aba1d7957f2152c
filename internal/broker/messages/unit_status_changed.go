package messages

import "time"

// UnitStatusChanged is the incremental hot-path event: one shipment's
// status moved upstream. Consumed by the api binary and applied as a
// debounced single-unit upsert.
type UnitStatusChanged struct {
	ShipmentID    int64   `json:"shipment_id"`
	CodeGen       *string `json:"code_gen,omitempty"`
	CurrentStatus int     `json:"current_status"`
	Category      string  `json:"category"`

	// Nil means the consumer resolves timer state from the store.
	HasActiveTimer *bool `json:"has_active_timer,omitempty"`

	OccurredAt time.Time `json:"occurred_at"`
}
