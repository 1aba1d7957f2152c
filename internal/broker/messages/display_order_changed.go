package messages

import "time"

// DisplayOrderChanged is the snapshot published after a successful full
// reconciliation pass. Units come pre-sorted by rank.
type DisplayOrderChanged struct {
	Category     string        `json:"category"`
	ReconciledAt time.Time     `json:"reconciled_at"`
	Units        []OrderedUnit `json:"units,omitempty"`
}

type OrderedUnit struct {
	ShipmentID    int64   `json:"shipment_id"`
	Rank          int     `json:"rank"`
	PriorityBand  int     `json:"priority_band"`
	CurrentStatus int     `json:"current_status"`
	CodeGen       *string `json:"code_gen,omitempty"`
}
