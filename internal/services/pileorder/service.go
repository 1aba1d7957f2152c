package pileorder

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/pkg/errors"

	"github.com/agroyard/piletas/internal/cache"
	"github.com/agroyard/piletas/internal/clock"
	"github.com/agroyard/piletas/internal/integrations/yardapi"
	"github.com/agroyard/piletas/internal/models"
	"github.com/agroyard/piletas/internal/storage/pgpiletas"
)

// ErrSourceUnavailable marks an upstream yard API failure. A full
// reconcile cannot proceed without the authoritative list; no partial or
// stale reconciliation is attempted.
var ErrSourceUnavailable = errors.New("unit source unavailable")

type Repository interface {
	BeginReconcile(ctx context.Context) (pgpiletas.ReconcileTx, error)

	GetOrderRecord(ctx context.Context, shipmentID int64, category string) (*models.DisplayOrderRecord, error)
	InsertOrderRecord(ctx context.Context, r *models.DisplayOrderRecord) error
	UpdateOrderRecord(ctx context.Context, shipmentID int64, category string, rank int, currentStatus int, codeGen *string, updatedAt time.Time) error
	DeleteOrderByShipment(ctx context.Context, shipmentID int64) (int64, error)
	MaxOrderRank(ctx context.Context, category string, lo, hi int) (int, bool, error)

	HasTimerForShipment(ctx context.Context, shipmentID int64, category string) (bool, error)
	DeleteTimersByShipment(ctx context.Context, shipmentID int64) (int64, error)
}

// Service is the display-order reconciler plus its driver: the full
// reconciliation pass, the debounced single-unit hot path and explicit
// release. The mutex serializes only the single-unit read-check-write; the
// full pass is guarded by the store transaction instead, and the upstream
// fetch always happens outside any lock.
type Service struct {
	repo   Repository
	source yardapi.Client
	cache  cache.BytesCache
	clk    clock.Clock

	debounce     time.Duration
	lastOrderTTL time.Duration

	mu sync.Mutex
}

func New(repo Repository, source yardapi.Client, c cache.BytesCache, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.New("")
	}
	return &Service{
		repo:         repo,
		source:       source,
		cache:        c,
		clk:          clk,
		debounce:     5 * time.Second,
		lastOrderTTL: 10 * time.Minute,
	}
}

func (s *Service) WithDebounce(d time.Duration) *Service {
	if d > 0 {
		s.debounce = d
	}
	return s
}

func (s *Service) WithLastOrderTTL(ttl time.Duration) *Service {
	if ttl > 0 {
		s.lastOrderTTL = ttl
	}
	return s
}

// FullReconcile fetches the authoritative in-progress list and runs one
// reconciliation pass. Expensive; meant for periodic or on-demand refresh,
// not per-event. On reconcile failure the returned list is the unordered
// upstream snapshot (fail-open) together with the error.
func (s *Service) FullReconcile(ctx context.Context, category string) ([]models.Unit, error) {
	if !models.ValidCategory(category) {
		return nil, errors.Errorf("unknown category %q", category)
	}

	units, err := s.source.GetInProgressUnits(ctx, category)
	if err != nil {
		return nil, errors.Wrapf(ErrSourceUnavailable, "fetch in-progress units for %s: %v", category, err)
	}

	out, err := s.Reconcile(ctx, units, category)
	if err != nil {
		slog.Error("reconcile failed, serving unordered list", "category", category, "error", err.Error())
		return out, err
	}

	s.storeLastOrder(ctx, category, out)
	return out, nil
}

type UnitUpdate struct {
	ShipmentID    int64
	CodeGen       *string
	CurrentStatus models.UnitStatus
	Category      string
	// Nil means "ask the timer store".
	HasActiveTimer *bool
}

// UpdateSingleUnit is the incremental hot path for one status-change
// event. Updates within the debounce window are dropped; a lost insert
// race falls back to an update exactly once.
func (s *Service) UpdateSingleUnit(ctx context.Context, upd UnitUpdate) error {
	if upd.ShipmentID == 0 {
		return errors.New("shipmentId is required")
	}
	if !models.ValidCategory(upd.Category) {
		return errors.Errorf("unknown category %q", upd.Category)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	rec, err := s.repo.GetOrderRecord(ctx, upd.ShipmentID, upd.Category)
	if err != nil {
		return errors.Wrapf(err, "load order record for shipment %d", upd.ShipmentID)
	}

	now := s.clk.Now()
	if rec != nil && now.Sub(rec.UpdatedAt) < s.debounce {
		// Rapid duplicate notification; the last write is recent enough.
		return nil
	}

	hasTimer := false
	if upd.HasActiveTimer != nil {
		hasTimer = *upd.HasActiveTimer
	} else {
		hasTimer, err = s.repo.HasTimerForShipment(ctx, upd.ShipmentID, upd.Category)
		if err != nil {
			return errors.Wrapf(err, "resolve timer for shipment %d", upd.ShipmentID)
		}
	}

	band := expectedBand(hasTimer, upd.CurrentStatus)

	if rec != nil {
		if models.BandOfRank(rec.Rank) == band && rec.CurrentStatus == int(upd.CurrentStatus) {
			return nil
		}
		rank, err := s.singleRank(ctx, upd.Category, band, rec, now)
		if err != nil {
			return err
		}
		if err := s.repo.UpdateOrderRecord(ctx, upd.ShipmentID, upd.Category, rank, int(upd.CurrentStatus), upd.CodeGen, now); err != nil {
			return errors.Wrapf(err, "update order record for shipment %d", upd.ShipmentID)
		}
		return nil
	}

	rank, err := s.singleRank(ctx, upd.Category, band, nil, now)
	if err != nil {
		return err
	}
	ins := &models.DisplayOrderRecord{
		ShipmentID:    upd.ShipmentID,
		Category:      upd.Category,
		Rank:          rank,
		CurrentStatus: int(upd.CurrentStatus),
		CodeGen:       upd.CodeGen,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	err = s.repo.InsertOrderRecord(ctx, ins)
	if err == nil {
		return nil
	}
	if !pgpiletas.IsUniqueViolation(err) {
		return errors.Wrapf(err, "insert order record for shipment %d", upd.ShipmentID)
	}

	// Lost the insert race against a concurrent upsert: retry as update.
	slog.Warn("order insert lost race, retrying as update", "shipment_id", upd.ShipmentID, "category", upd.Category)
	if err := s.repo.UpdateOrderRecord(ctx, upd.ShipmentID, upd.Category, rank, int(upd.CurrentStatus), upd.CodeGen, now); err != nil {
		return errors.Wrapf(err, "update-after-conflict for shipment %d", upd.ShipmentID)
	}
	return nil
}

// singleRank computes a rank for the single-unit path, outside the full
// reconciliation transaction.
func (s *Service) singleRank(ctx context.Context, category string, band int, rec *models.DisplayOrderRecord, now time.Time) (int, error) {
	if band != models.BandActiveTimer {
		return looseRank(band, now), nil
	}
	if rec != nil && models.BandOfRank(rec.Rank) == models.BandActiveTimer {
		// Stable position while the timer runs.
		return rec.Rank, nil
	}
	max, ok, err := s.repo.MaxOrderRank(ctx, category, models.BandBase(models.BandActiveTimer), models.BandBase(models.BandReadyToStart)-1)
	if err != nil {
		return 0, errors.Wrap(err, "max active-timer rank")
	}
	if !ok {
		return models.BandBase(models.BandActiveTimer), nil
	}
	return max + 1, nil
}

// ReleaseUnit frees a shipment entirely: its timer (any id) and its
// display-order row. Returns whether a timer was found.
func (s *Service) ReleaseUnit(ctx context.Context, shipmentID int64) (bool, error) {
	nTimers, err := s.repo.DeleteTimersByShipment(ctx, shipmentID)
	if err != nil {
		return false, errors.Wrapf(err, "release timers for shipment %d", shipmentID)
	}
	if _, err := s.repo.DeleteOrderByShipment(ctx, shipmentID); err != nil {
		return nTimers > 0, errors.Wrapf(err, "release order record for shipment %d", shipmentID)
	}
	return nTimers > 0, nil
}

// LastKnownOrder serves the last successfully reconciled order from cache.
// The UI layer renders this when a reconcile fails, instead of failing the
// page.
func (s *Service) LastKnownOrder(ctx context.Context, category string) ([]models.Unit, bool) {
	if s.cache == nil {
		return nil, false
	}
	b, ok, err := s.cache.Get(ctx, lastOrderKey(category))
	if err != nil || !ok {
		return nil, false
	}
	var units []models.Unit
	if json.Unmarshal(b, &units) != nil {
		return nil, false
	}
	return units, true
}

func (s *Service) storeLastOrder(ctx context.Context, category string, units []models.Unit) {
	if s.cache == nil {
		return
	}
	b, err := json.Marshal(units)
	if err != nil {
		return
	}
	// Best effort; the cache is not required for correctness.
	if err := s.cache.Set(ctx, lastOrderKey(category), b, s.lastOrderTTL); err != nil {
		slog.Warn("cache last order", "category", category, "error", err.Error())
	}
}

func lastOrderKey(category string) string {
	return fmt.Sprintf("pileorder:%s:last", category)
}
