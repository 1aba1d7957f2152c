package models

import "time"

// TimerRecord is one running timer. TimerID is chosen by the caller and
// opaque to us; StartedAt is frozen at creation (re-starting the same id
// must not reset elapsed time).
type TimerRecord struct {
	TimerID     string    `json:"timerId"`
	CodeGen     *string   `json:"codeGen,omitempty"`
	ShipmentID  *int64    `json:"shipmentId,omitempty"`
	Category    string    `json:"category"`
	Subcategory *string   `json:"subcategory,omitempty"`
	StartedAt   time.Time `json:"startedAt"`
	CreatedAt   time.Time `json:"createdAt"`
}

type TimerStartInput struct {
	TimerID     string
	CodeGen     *string
	ShipmentID  *int64
	Category    string
	Subcategory *string
}

type TimerStats struct {
	TotalActive     int            `json:"totalActive"`
	ByCategory      map[string]int `json:"byCategory"`
	BySubcategory   map[string]int `json:"bySubcategory"`
	OldestStartedAt *time.Time     `json:"oldestStartedAt,omitempty"`
}
