package yardapi

import (
	"context"

	"github.com/agroyard/piletas/internal/models"
)

// Client reads the authoritative list of in-progress units from the
// upstream yard/weighbridge API. The core never persists these snapshots;
// they are consumed and discarded each reconciliation pass.
type Client interface {
	GetInProgressUnits(ctx context.Context, category string) ([]models.Unit, error)
}
