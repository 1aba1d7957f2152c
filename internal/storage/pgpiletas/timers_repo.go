package pgpiletas

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/agroyard/piletas/internal/models"
)

func (s *Storage) GetTimer(ctx context.Context, timerID string) (*models.TimerRecord, error) {
	row := s.db.QueryRow(ctx, `
SELECT timer_id, code_gen, shipment_id, category, subcategory, started_at, created_at
FROM timer_records
WHERE timer_id = $1
`, timerID)

	var t models.TimerRecord
	err := row.Scan(&t.TimerID, &t.CodeGen, &t.ShipmentID, &t.Category, &t.Subcategory, &t.StartedAt, &t.CreatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select timer")
	}
	return &t, nil
}

func (s *Storage) InsertTimer(ctx context.Context, t *models.TimerRecord) error {
	_, err := s.db.Exec(ctx, `
INSERT INTO timer_records (timer_id, code_gen, shipment_id, category, subcategory, started_at, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
`, t.TimerID, t.CodeGen, t.ShipmentID, t.Category, t.Subcategory, t.StartedAt, t.CreatedAt)
	return errors.Wrap(err, "insert timer")
}

// UpdateTimerAssignment rewrites only the mutable fields; started_at stays
// frozen so a re-started timer keeps its elapsed time.
func (s *Storage) UpdateTimerAssignment(ctx context.Context, timerID string, codeGen *string, shipmentID *int64) error {
	_, err := s.db.Exec(ctx, `
UPDATE timer_records SET code_gen = $2, shipment_id = $3 WHERE timer_id = $1
`, timerID, codeGen, shipmentID)
	return errors.Wrap(err, "update timer assignment")
}

func (s *Storage) DeleteTimer(ctx context.Context, timerID string) (bool, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM timer_records WHERE timer_id = $1`, timerID)
	if err != nil {
		return false, errors.Wrap(err, "delete timer")
	}
	return tag.RowsAffected() > 0, nil
}

func (s *Storage) DeleteTimersByShipment(ctx context.Context, shipmentID int64) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM timer_records WHERE shipment_id = $1`, shipmentID)
	if err != nil {
		return 0, errors.Wrap(err, "delete timers by shipment")
	}
	return tag.RowsAffected(), nil
}

func (s *Storage) DeleteTimersByShipmentCategory(ctx context.Context, shipmentID int64, category string) (int64, error) {
	tag, err := s.db.Exec(ctx, `
DELETE FROM timer_records WHERE shipment_id = $1 AND category = $2
`, shipmentID, category)
	if err != nil {
		return 0, errors.Wrap(err, "delete timers by shipment+category")
	}
	return tag.RowsAffected(), nil
}

// DeleteOtherTimersForShipment removes every timer holding the shipment in
// the given category except keepTimerID.
func (s *Storage) DeleteOtherTimersForShipment(ctx context.Context, shipmentID int64, category, keepTimerID string) (int64, error) {
	tag, err := s.db.Exec(ctx, `
DELETE FROM timer_records WHERE shipment_id = $1 AND category = $2 AND timer_id <> $3
`, shipmentID, category, keepTimerID)
	if err != nil {
		return 0, errors.Wrap(err, "delete other timers for shipment")
	}
	return tag.RowsAffected(), nil
}

// ListTimersByCategory returns timers oldest-created first (fairness for
// display).
func (s *Storage) ListTimersByCategory(ctx context.Context, category string) ([]*models.TimerRecord, error) {
	rows, err := s.db.Query(ctx, `
SELECT timer_id, code_gen, shipment_id, category, subcategory, started_at, created_at
FROM timer_records
WHERE category = $1
ORDER BY created_at ASC
`, category)
	if err != nil {
		return nil, errors.Wrap(err, "select timers")
	}
	defer rows.Close()

	var out []*models.TimerRecord
	for rows.Next() {
		var t models.TimerRecord
		if err := rows.Scan(&t.TimerID, &t.CodeGen, &t.ShipmentID, &t.Category, &t.Subcategory, &t.StartedAt, &t.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan timer")
		}
		out = append(out, &t)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (s *Storage) HasTimerForShipment(ctx context.Context, shipmentID int64, category string) (bool, error) {
	var exists bool
	err := s.db.QueryRow(ctx, `
SELECT EXISTS (SELECT 1 FROM timer_records WHERE shipment_id = $1 AND category = $2)
`, shipmentID, category).Scan(&exists)
	if err != nil {
		return false, errors.Wrap(err, "select timer exists")
	}
	return exists, nil
}

func (s *Storage) TimerStats(ctx context.Context) (models.TimerStats, error) {
	st := models.TimerStats{
		ByCategory:    map[string]int{},
		BySubcategory: map[string]int{},
	}

	rows, err := s.db.Query(ctx, `
SELECT category, COALESCE(subcategory, ''), started_at FROM timer_records
`)
	if err != nil {
		return st, errors.Wrap(err, "select timer stats")
	}
	defer rows.Close()

	var oldest *time.Time
	for rows.Next() {
		var cat, sub string
		var startedAt time.Time
		if err := rows.Scan(&cat, &sub, &startedAt); err != nil {
			return st, errors.Wrap(err, "scan timer stats")
		}
		st.TotalActive++
		st.ByCategory[cat]++
		if sub != "" {
			st.BySubcategory[sub]++
		}
		if oldest == nil || startedAt.Before(*oldest) {
			t := startedAt
			oldest = &t
		}
	}
	if rows.Err() != nil {
		return st, errors.Wrap(rows.Err(), "rows")
	}
	st.OldestStartedAt = oldest
	return st, nil
}
