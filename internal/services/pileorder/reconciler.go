package pileorder

import (
	"context"
	"sort"
	"time"

	"github.com/pkg/errors"

	"github.com/agroyard/piletas/internal/models"
	"github.com/agroyard/piletas/internal/storage/pgpiletas"
)

// Reconcile refreshes the persisted display order of one category against
// the authoritative unit list and returns the list re-sorted by rank, each
// unit annotated with its priority band. Cleanup, dedup and rank
// assignment run in that order inside a single transaction; on any store
// failure the transaction rolls back and the input list comes back
// unchanged (fail-open: the caller still gets *a* list to render).
func (s *Service) Reconcile(ctx context.Context, units []models.Unit, category string) ([]models.Unit, error) {
	if !models.ValidCategory(category) {
		return units, errors.Errorf("unknown category %q", category)
	}

	tx, err := s.repo.BeginReconcile(ctx)
	if err != nil {
		return units, errors.Wrap(err, "begin reconcile")
	}

	out, err := s.reconcileInTx(ctx, tx, units, category)
	if err != nil {
		_ = tx.Rollback(ctx)
		return units, err
	}
	if err := tx.Commit(ctx); err != nil {
		return units, err
	}
	return out, nil
}

func (s *Service) reconcileInTx(ctx context.Context, tx pgpiletas.ReconcileTx, units []models.Unit, category string) ([]models.Unit, error) {
	// Queue drained to zero: flush everything so stale rows cannot pile up.
	if len(units) == 0 {
		if err := tx.FlushCategory(ctx, category); err != nil {
			return nil, err
		}
		return []models.Unit{}, nil
	}

	active := make(map[int64]struct{}, len(units))
	keep := make([]int64, 0, len(units))
	for _, u := range units {
		active[u.ShipmentID] = struct{}{}
		keep = append(keep, u.ShipmentID)
	}

	// Step 1: cleanup. A shipment that left the authoritative list is
	// gone; free its order row and timer.
	if err := tx.DeleteAbsentShipments(ctx, category, keep); err != nil {
		return nil, err
	}

	records, err := tx.ListOrderRecords(ctx, category)
	if err != nil {
		return nil, err
	}

	// Step 2: dedup. The unique index should prevent duplicates, but a
	// race can slip one in; keep the freshest row (ties: highest id).
	byShipment := make(map[int64]*models.DisplayOrderRecord, len(records))
	var dupIDs []int64
	for _, r := range records {
		if _, gone := active[r.ShipmentID]; !gone {
			continue
		}
		cur, ok := byShipment[r.ShipmentID]
		if !ok {
			byShipment[r.ShipmentID] = r
			continue
		}
		if r.UpdatedAt.After(cur.UpdatedAt) || (r.UpdatedAt.Equal(cur.UpdatedAt) && r.ID > cur.ID) {
			dupIDs = append(dupIDs, cur.ID)
			byShipment[r.ShipmentID] = r
		} else {
			dupIDs = append(dupIDs, r.ID)
		}
	}
	if err := tx.DeleteOrderRecordsByID(ctx, dupIDs); err != nil {
		return nil, err
	}

	// Step 3: who holds a running timer right now.
	timerShipments, err := tx.ActiveTimerShipments(ctx, category)
	if err != nil {
		return nil, err
	}

	// Step 4: assign or refresh ranks.
	now := s.clk.Now()
	maxTimerRank := maxRankInBand(byShipment, models.BandActiveTimer)

	out := make([]models.Unit, len(units))
	copy(out, units)
	for i := range out {
		u := &out[i]
		_, hasTimer := timerShipments[u.ShipmentID]
		band := expectedBand(hasTimer, u.CurrentStatus)

		rec := byShipment[u.ShipmentID]
		if rec == nil {
			rank := s.assignRank(band, nil, &maxTimerRank, now)
			ins := &models.DisplayOrderRecord{
				ShipmentID:    u.ShipmentID,
				Category:      category,
				Rank:          rank,
				CurrentStatus: int(u.CurrentStatus),
				CodeGen:       u.CodeGen,
				CreatedAt:     now,
				UpdatedAt:     now,
			}
			if err := tx.InsertOrderRecord(ctx, ins); err != nil {
				return nil, err
			}
			u.Rank = rank
		} else if models.BandOfRank(rec.Rank) != band || rec.CurrentStatus != int(u.CurrentStatus) {
			rank := s.assignRank(band, rec, &maxTimerRank, now)
			if err := tx.UpdateOrderRank(ctx, rec.ID, rank, int(u.CurrentStatus), u.CodeGen, now); err != nil {
				return nil, err
			}
			u.Rank = rank
		} else {
			// Unchanged; avoid the needless write.
			u.Rank = rec.Rank
		}
		u.PriorityBand = models.BandOfRank(u.Rank)
	}

	sortUnitsByRank(out)
	return out, nil
}

// expectedBand projects timer state and status onto a priority band:
// active timer beats ready-to-start beats needs-temperature beats the
// rest.
func expectedBand(hasTimer bool, status models.UnitStatus) int {
	if hasTimer {
		return models.BandActiveTimer
	}
	switch status {
	case models.StatusReadyToStart:
		return models.BandReadyToStart
	case models.StatusNeedsTemperature:
		return models.BandNeedsTemperature
	default:
		return models.BandOther
	}
}

// assignRank computes a fresh rank for a unit entering (or moving within)
// a band. Active-timer ranks are arrival-ordered and stable: a shipment
// already holding one keeps it while its timer runs; newcomers append
// after the current maximum. Other bands take a coarse recency component.
func (s *Service) assignRank(band int, rec *models.DisplayOrderRecord, maxTimerRank *int, now time.Time) int {
	if band != models.BandActiveTimer {
		return looseRank(band, now)
	}
	if rec != nil && models.BandOfRank(rec.Rank) == models.BandActiveTimer {
		return rec.Rank
	}
	*maxTimerRank++
	return *maxTimerRank
}

// looseRank folds the Unix clock (mod band width) into the band base.
// Not strictly monotonic near wraparound; the band boundary already
// carries the priority, so incidental ties are acceptable.
func looseRank(band int, now time.Time) int {
	return models.BandBase(band) + int(now.Unix()%1000)
}

func maxRankInBand(byShipment map[int64]*models.DisplayOrderRecord, band int) int {
	max := models.BandBase(band) - 1
	for _, r := range byShipment {
		if models.BandOfRank(r.Rank) == band && r.Rank > max {
			max = r.Rank
		}
	}
	return max
}

// sortUnitsByRank orders by rank ascending, ties broken by precheck
// timestamp ascending (earliest physically-arrived first; units without
// one go last).
func sortUnitsByRank(units []models.Unit) {
	sort.SliceStable(units, func(i, j int) bool {
		if units[i].Rank != units[j].Rank {
			return units[i].Rank < units[j].Rank
		}
		pi, pj := units[i].PrecheckAt, units[j].PrecheckAt
		switch {
		case pi == nil:
			return false
		case pj == nil:
			return true
		default:
			return pi.Before(*pj)
		}
	})
}
