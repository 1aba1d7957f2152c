package pgpiletas

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"

	"github.com/agroyard/piletas/internal/models"
)

func (s *Storage) GetOrderRecord(ctx context.Context, shipmentID int64, category string) (*models.DisplayOrderRecord, error) {
	row := s.db.QueryRow(ctx, `
SELECT id, shipment_id, category, rank, current_status, code_gen, created_at, updated_at
FROM display_order_records
WHERE shipment_id = $1 AND category = $2
ORDER BY updated_at DESC, id DESC
LIMIT 1
`, shipmentID, category)

	var r models.DisplayOrderRecord
	err := row.Scan(&r.ID, &r.ShipmentID, &r.Category, &r.Rank, &r.CurrentStatus, &r.CodeGen, &r.CreatedAt, &r.UpdatedAt)
	if err == pgx.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, errors.Wrap(err, "select order record")
	}
	return &r, nil
}

// InsertOrderRecord is a plain insert: a unique violation surfaces to the
// caller, which retries as an update (see IsUniqueViolation).
func (s *Storage) InsertOrderRecord(ctx context.Context, r *models.DisplayOrderRecord) error {
	err := s.db.QueryRow(ctx, `
INSERT INTO display_order_records (shipment_id, category, rank, current_status, code_gen, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
RETURNING id
`, r.ShipmentID, r.Category, r.Rank, r.CurrentStatus, r.CodeGen, r.CreatedAt, r.UpdatedAt).Scan(&r.ID)
	return errors.Wrap(err, "insert order record")
}

func (s *Storage) UpdateOrderRecord(ctx context.Context, shipmentID int64, category string, rank int, currentStatus int, codeGen *string, updatedAt time.Time) error {
	_, err := s.db.Exec(ctx, `
UPDATE display_order_records
SET rank = $3, current_status = $4, code_gen = $5, updated_at = $6
WHERE shipment_id = $1 AND category = $2
`, shipmentID, category, rank, currentStatus, codeGen, updatedAt)
	return errors.Wrap(err, "update order record")
}

func (s *Storage) DeleteOrderByShipment(ctx context.Context, shipmentID int64) (int64, error) {
	tag, err := s.db.Exec(ctx, `DELETE FROM display_order_records WHERE shipment_id = $1`, shipmentID)
	if err != nil {
		return 0, errors.Wrap(err, "delete order by shipment")
	}
	return tag.RowsAffected(), nil
}

// MaxOrderRank returns the highest rank inside [lo, hi] for a category, or
// ok=false when the band is empty.
func (s *Storage) MaxOrderRank(ctx context.Context, category string, lo, hi int) (int, bool, error) {
	var max *int
	err := s.db.QueryRow(ctx, `
SELECT MAX(rank) FROM display_order_records
WHERE category = $1 AND rank >= $2 AND rank <= $3
`, category, lo, hi).Scan(&max)
	if err != nil {
		return 0, false, errors.Wrap(err, "select max rank")
	}
	if max == nil {
		return 0, false, nil
	}
	return *max, true, nil
}

// ReconcileTx is the transaction handle a reconciliation pass runs inside.
// Cleanup, dedup and rank assignment all commit or roll back together.
type ReconcileTx interface {
	ListOrderRecords(ctx context.Context, category string) ([]*models.DisplayOrderRecord, error)
	FlushCategory(ctx context.Context, category string) error
	DeleteAbsentShipments(ctx context.Context, category string, keep []int64) error
	DeleteOrderRecordsByID(ctx context.Context, ids []int64) error
	ActiveTimerShipments(ctx context.Context, category string) (map[int64]struct{}, error)
	InsertOrderRecord(ctx context.Context, r *models.DisplayOrderRecord) error
	UpdateOrderRank(ctx context.Context, id int64, rank int, currentStatus int, codeGen *string, updatedAt time.Time) error
	Commit(ctx context.Context) error
	Rollback(ctx context.Context) error
}

func (s *Storage) BeginReconcile(ctx context.Context) (ReconcileTx, error) {
	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{IsoLevel: pgx.ReadCommitted})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	return &reconcileTx{tx: tx}, nil
}

type reconcileTx struct {
	tx pgx.Tx
}

func (t *reconcileTx) ListOrderRecords(ctx context.Context, category string) ([]*models.DisplayOrderRecord, error) {
	rows, err := t.tx.Query(ctx, `
SELECT id, shipment_id, category, rank, current_status, code_gen, created_at, updated_at
FROM display_order_records
WHERE category = $1
ORDER BY rank ASC, id ASC
`, category)
	if err != nil {
		return nil, errors.Wrap(err, "select order records")
	}
	defer rows.Close()

	var out []*models.DisplayOrderRecord
	for rows.Next() {
		var r models.DisplayOrderRecord
		if err := rows.Scan(&r.ID, &r.ShipmentID, &r.Category, &r.Rank, &r.CurrentStatus, &r.CodeGen, &r.CreatedAt, &r.UpdatedAt); err != nil {
			return nil, errors.Wrap(err, "scan order record")
		}
		out = append(out, &r)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// FlushCategory drops every order and timer row of a category. Used when
// the authoritative list drains to zero.
func (t *reconcileTx) FlushCategory(ctx context.Context, category string) error {
	if _, err := t.tx.Exec(ctx, `DELETE FROM display_order_records WHERE category = $1`, category); err != nil {
		return errors.Wrap(err, "flush order records")
	}
	if _, err := t.tx.Exec(ctx, `DELETE FROM timer_records WHERE category = $1`, category); err != nil {
		return errors.Wrap(err, "flush timer records")
	}
	return nil
}

// DeleteAbsentShipments garbage-collects rows whose shipment left the
// authoritative list, in both tables.
func (t *reconcileTx) DeleteAbsentShipments(ctx context.Context, category string, keep []int64) error {
	if _, err := t.tx.Exec(ctx, `
DELETE FROM display_order_records WHERE category = $1 AND shipment_id <> ALL($2)
`, category, keep); err != nil {
		return errors.Wrap(err, "delete absent order records")
	}
	if _, err := t.tx.Exec(ctx, `
DELETE FROM timer_records WHERE category = $1 AND shipment_id IS NOT NULL AND shipment_id <> ALL($2)
`, category, keep); err != nil {
		return errors.Wrap(err, "delete absent timer records")
	}
	return nil
}

func (t *reconcileTx) DeleteOrderRecordsByID(ctx context.Context, ids []int64) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := t.tx.Exec(ctx, `DELETE FROM display_order_records WHERE id = ANY($1)`, ids)
	return errors.Wrap(err, "delete order records by id")
}

func (t *reconcileTx) ActiveTimerShipments(ctx context.Context, category string) (map[int64]struct{}, error) {
	rows, err := t.tx.Query(ctx, `
SELECT shipment_id FROM timer_records WHERE category = $1 AND shipment_id IS NOT NULL
`, category)
	if err != nil {
		return nil, errors.Wrap(err, "select timer shipments")
	}
	defer rows.Close()

	out := map[int64]struct{}{}
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, errors.Wrap(err, "scan timer shipment")
		}
		out[id] = struct{}{}
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

func (t *reconcileTx) InsertOrderRecord(ctx context.Context, r *models.DisplayOrderRecord) error {
	err := t.tx.QueryRow(ctx, `
INSERT INTO display_order_records (shipment_id, category, rank, current_status, code_gen, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7)
RETURNING id
`, r.ShipmentID, r.Category, r.Rank, r.CurrentStatus, r.CodeGen, r.CreatedAt, r.UpdatedAt).Scan(&r.ID)
	return errors.Wrap(err, "insert order record")
}

func (t *reconcileTx) UpdateOrderRank(ctx context.Context, id int64, rank int, currentStatus int, codeGen *string, updatedAt time.Time) error {
	_, err := t.tx.Exec(ctx, `
UPDATE display_order_records
SET rank = $2, current_status = $3, code_gen = $4, updated_at = $5
WHERE id = $1
`, id, rank, currentStatus, codeGen, updatedAt)
	return errors.Wrap(err, "update order rank")
}

func (t *reconcileTx) Commit(ctx context.Context) error {
	return errors.Wrap(t.tx.Commit(ctx), "commit tx")
}

func (t *reconcileTx) Rollback(ctx context.Context) error {
	return t.tx.Rollback(ctx)
}
