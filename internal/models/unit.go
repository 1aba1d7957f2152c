package models

import "time"

// Tracked product families. Timers and display order are partitioned
// per category and never mix.
const (
	CategoryAzucar = "azucar"
	CategoryMelaza = "melaza"
)

func ValidCategory(c string) bool {
	return c == CategoryAzucar || c == CategoryMelaza
}

// UnitStatus is the upstream shipment status code (can be extended).
type UnitStatus int

const (
	StatusReceived         UnitStatus = 2
	StatusNeedsTemperature UnitStatus = 7
	StatusReadyToStart     UnitStatus = 8
	StatusFinalized        UnitStatus = 12
)

// Priority bands encoded into the persisted rank. Lower rank sorts first.
const (
	BandActiveTimer      = 1 // rank [0, 1000)
	BandReadyToStart     = 2 // rank [1000, 2000)
	BandNeedsTemperature = 3 // rank [2000, 3000)
	BandOther            = 4 // rank [3000, ...)
)

const bandWidth = 1000

// BandBase returns the lowest rank belonging to a band.
func BandBase(band int) int {
	return (band - 1) * bandWidth
}

// BandOfRank projects a persisted rank back onto its priority band.
func BandOfRank(rank int) int {
	if rank < 0 {
		return BandActiveTimer
	}
	b := rank/bandWidth + 1
	if b > BandOther {
		b = BandOther
	}
	return b
}

// Unit is the upstream snapshot of one in-progress shipment. Rank and
// PriorityBand are zero on input and filled in by reconciliation.
type Unit struct {
	ShipmentID    int64      `json:"shipmentId"`
	CurrentStatus UnitStatus `json:"currentStatus"`
	CodeGen       *string    `json:"codeGen,omitempty"`
	PrecheckAt    *time.Time `json:"precheckAt,omitempty"`

	Rank         int `json:"rank"`
	PriorityBand int `json:"priorityBand"`
}

// DisplayOrderRecord is the persisted rank of one shipment within one
// category. Unique on (shipment_id, category).
type DisplayOrderRecord struct {
	ID            int64
	ShipmentID    int64
	Category      string
	Rank          int
	CurrentStatus int
	CodeGen       *string
	CreatedAt     time.Time
	UpdatedAt     time.Time
}
