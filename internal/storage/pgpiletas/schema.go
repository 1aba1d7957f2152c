package pgpiletas

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS timer_records (
  timer_id TEXT PRIMARY KEY,
  code_gen TEXT NULL,
  shipment_id BIGINT NULL,
  category TEXT NOT NULL,
  subcategory TEXT NULL,
  started_at TIMESTAMPTZ NOT NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_timer_records_category_created_at ON timer_records(category, created_at)`,
		`CREATE INDEX IF NOT EXISTS idx_timer_records_shipment_id ON timer_records(shipment_id)`,
		`
CREATE TABLE IF NOT EXISTS display_order_records (
  id BIGSERIAL PRIMARY KEY,
  shipment_id BIGINT NOT NULL,
  category TEXT NOT NULL,
  rank INT NOT NULL,
  current_status INT NOT NULL,
  code_gen TEXT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		// Remove existing duplicates (so we can create unique index).
		`
WITH ranked AS (
  SELECT id,
         ROW_NUMBER() OVER (
           PARTITION BY shipment_id, category
           ORDER BY updated_at DESC, id DESC
         ) AS rn
  FROM display_order_records
)
DELETE FROM display_order_records
WHERE id IN (SELECT id FROM ranked WHERE rn > 1)
`,
		// One display rank per shipment within a category.
		`CREATE UNIQUE INDEX IF NOT EXISTS uq_display_order_shipment_category ON display_order_records(shipment_id, category)`,
		`CREATE INDEX IF NOT EXISTS idx_display_order_category_rank ON display_order_records(category, rank)`,
		`CREATE INDEX IF NOT EXISTS idx_display_order_category_status_rank ON display_order_records(category, current_status, rank)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
