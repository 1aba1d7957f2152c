package pileorder

import (
	"context"
	"time"

	"github.com/agroyard/piletas/internal/models"
	"github.com/agroyard/piletas/internal/storage/pgpiletas"
)

// memStore implements Repository plus the reconcile transaction handle
// in memory. No real transactionality: the error knobs below simulate
// store failures instead.
type memStore struct {
	orders map[int64]*models.DisplayOrderRecord // by record id
	nextID int64
	timers map[string]timerRow // by timer id

	beginErr  error
	listErr   error
	commitErr error
	insertErr error // returned once, then cleared

	updates     int
	inserts     int
	rankUpdates int

	committed  bool
	rolledBack bool
}

type timerRow struct {
	shipmentID int64
	category   string
}

func newMemStore() *memStore {
	return &memStore{
		orders: map[int64]*models.DisplayOrderRecord{},
		timers: map[string]timerRow{},
	}
}

func (m *memStore) addTimer(timerID string, shipmentID int64, category string) {
	m.timers[timerID] = timerRow{shipmentID: shipmentID, category: category}
}

func (m *memStore) seedOrder(shipmentID int64, category string, rank int, status int, updatedAt time.Time) *models.DisplayOrderRecord {
	m.nextID++
	r := &models.DisplayOrderRecord{
		ID:            m.nextID,
		ShipmentID:    shipmentID,
		Category:      category,
		Rank:          rank,
		CurrentStatus: status,
		CreatedAt:     updatedAt,
		UpdatedAt:     updatedAt,
	}
	m.orders[r.ID] = r
	return r
}

func (m *memStore) orderFor(shipmentID int64, category string) *models.DisplayOrderRecord {
	var best *models.DisplayOrderRecord
	for _, r := range m.orders {
		if r.ShipmentID != shipmentID || r.Category != category {
			continue
		}
		if best == nil || r.UpdatedAt.After(best.UpdatedAt) || (r.UpdatedAt.Equal(best.UpdatedAt) && r.ID > best.ID) {
			best = r
		}
	}
	return best
}

// Repository.

func (m *memStore) BeginReconcile(ctx context.Context) (pgpiletas.ReconcileTx, error) {
	if m.beginErr != nil {
		return nil, m.beginErr
	}
	return &memTx{m: m}, nil
}

func (m *memStore) GetOrderRecord(ctx context.Context, shipmentID int64, category string) (*models.DisplayOrderRecord, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	r := m.orderFor(shipmentID, category)
	if r == nil {
		return nil, nil
	}
	cp := *r
	return &cp, nil
}

func (m *memStore) InsertOrderRecord(ctx context.Context, r *models.DisplayOrderRecord) error {
	if m.insertErr != nil {
		err := m.insertErr
		m.insertErr = nil
		return err
	}
	m.inserts++
	m.nextID++
	r.ID = m.nextID
	cp := *r
	m.orders[r.ID] = &cp
	return nil
}

func (m *memStore) UpdateOrderRecord(ctx context.Context, shipmentID int64, category string, rank int, currentStatus int, codeGen *string, updatedAt time.Time) error {
	m.updates++
	if r := m.orderFor(shipmentID, category); r != nil {
		r.Rank = rank
		r.CurrentStatus = currentStatus
		r.CodeGen = codeGen
		r.UpdatedAt = updatedAt
	}
	return nil
}

func (m *memStore) DeleteOrderByShipment(ctx context.Context, shipmentID int64) (int64, error) {
	var n int64
	for id, r := range m.orders {
		if r.ShipmentID == shipmentID {
			delete(m.orders, id)
			n++
		}
	}
	return n, nil
}

func (m *memStore) MaxOrderRank(ctx context.Context, category string, lo, hi int) (int, bool, error) {
	max, ok := 0, false
	for _, r := range m.orders {
		if r.Category == category && r.Rank >= lo && r.Rank <= hi && (!ok || r.Rank > max) {
			max, ok = r.Rank, true
		}
	}
	return max, ok, nil
}

func (m *memStore) HasTimerForShipment(ctx context.Context, shipmentID int64, category string) (bool, error) {
	for _, t := range m.timers {
		if t.shipmentID == shipmentID && t.category == category {
			return true, nil
		}
	}
	return false, nil
}

func (m *memStore) DeleteTimersByShipment(ctx context.Context, shipmentID int64) (int64, error) {
	var n int64
	for id, t := range m.timers {
		if t.shipmentID == shipmentID {
			delete(m.timers, id)
			n++
		}
	}
	return n, nil
}

// Reconcile transaction handle.

type memTx struct {
	m *memStore
}

func (t *memTx) ListOrderRecords(ctx context.Context, category string) ([]*models.DisplayOrderRecord, error) {
	if t.m.listErr != nil {
		return nil, t.m.listErr
	}
	var out []*models.DisplayOrderRecord
	for _, r := range t.m.orders {
		if r.Category == category {
			cp := *r
			out = append(out, &cp)
		}
	}
	return out, nil
}

func (t *memTx) FlushCategory(ctx context.Context, category string) error {
	for id, r := range t.m.orders {
		if r.Category == category {
			delete(t.m.orders, id)
		}
	}
	for id, tr := range t.m.timers {
		if tr.category == category {
			delete(t.m.timers, id)
		}
	}
	return nil
}

func (t *memTx) DeleteAbsentShipments(ctx context.Context, category string, keep []int64) error {
	keepSet := map[int64]struct{}{}
	for _, id := range keep {
		keepSet[id] = struct{}{}
	}
	for id, r := range t.m.orders {
		if r.Category != category {
			continue
		}
		if _, ok := keepSet[r.ShipmentID]; !ok {
			delete(t.m.orders, id)
		}
	}
	for id, tr := range t.m.timers {
		if tr.category != category {
			continue
		}
		if _, ok := keepSet[tr.shipmentID]; !ok {
			delete(t.m.timers, id)
		}
	}
	return nil
}

func (t *memTx) DeleteOrderRecordsByID(ctx context.Context, ids []int64) error {
	for _, id := range ids {
		delete(t.m.orders, id)
	}
	return nil
}

func (t *memTx) ActiveTimerShipments(ctx context.Context, category string) (map[int64]struct{}, error) {
	out := map[int64]struct{}{}
	for _, tr := range t.m.timers {
		if tr.category == category {
			out[tr.shipmentID] = struct{}{}
		}
	}
	return out, nil
}

func (t *memTx) InsertOrderRecord(ctx context.Context, r *models.DisplayOrderRecord) error {
	return t.m.InsertOrderRecord(ctx, r)
}

func (t *memTx) UpdateOrderRank(ctx context.Context, id int64, rank int, currentStatus int, codeGen *string, updatedAt time.Time) error {
	t.m.rankUpdates++
	if r, ok := t.m.orders[id]; ok {
		r.Rank = rank
		r.CurrentStatus = currentStatus
		r.CodeGen = codeGen
		r.UpdatedAt = updatedAt
	}
	return nil
}

func (t *memTx) Commit(ctx context.Context) error {
	if t.m.commitErr != nil {
		return t.m.commitErr
	}
	t.m.committed = true
	return nil
}

func (t *memTx) Rollback(ctx context.Context) error {
	t.m.rolledBack = true
	return nil
}
