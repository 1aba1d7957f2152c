package timers

import (
	"context"
	"fmt"
	"log/slog"
	"sync"

	"github.com/pkg/errors"

	"github.com/agroyard/piletas/internal/clock"
	"github.com/agroyard/piletas/internal/models"
)

type Repository interface {
	GetTimer(ctx context.Context, timerID string) (*models.TimerRecord, error)
	InsertTimer(ctx context.Context, t *models.TimerRecord) error
	UpdateTimerAssignment(ctx context.Context, timerID string, codeGen *string, shipmentID *int64) error
	DeleteTimer(ctx context.Context, timerID string) (bool, error)
	DeleteTimersByShipment(ctx context.Context, shipmentID int64) (int64, error)
	DeleteTimersByShipmentCategory(ctx context.Context, shipmentID int64, category string) (int64, error)
	DeleteOtherTimersForShipment(ctx context.Context, shipmentID int64, category, keepTimerID string) (int64, error)
	ListTimersByCategory(ctx context.Context, category string) ([]*models.TimerRecord, error)
	TimerStats(ctx context.Context) (models.TimerStats, error)
}

// OpError marks a store failure during a timer operation. Transient;
// callers retry once, then surface it.
type OpError struct {
	TimerID string
	Err     error
}

func (e *OpError) Error() string {
	return fmt.Sprintf("timer operation failed (timer %q): %v", e.TimerID, e.Err)
}

func (e *OpError) Unwrap() error { return e.Err }

func opErr(timerID string, err error) error {
	if err == nil {
		return nil
	}
	return &OpError{TimerID: timerID, Err: err}
}

// Service is the timer lifecycle manager. The mutex serializes the
// read-check-write sequences so concurrent starts with the same id cannot
// double-insert.
type Service struct {
	repo Repository
	clk  clock.Clock

	mu sync.Mutex
}

func New(repo Repository, clk clock.Clock) *Service {
	if clk == nil {
		clk = clock.New("")
	}
	return &Service{repo: repo, clk: clk}
}

// StartTimer is idempotent: restarting an existing timer id updates only
// codeGen/shipmentId and keeps the original started_at, so a flaky client
// re-sending start cannot reset elapsed time.
func (s *Service) StartTimer(ctx context.Context, in models.TimerStartInput) (*models.TimerRecord, error) {
	if in.TimerID == "" {
		return nil, errors.New("timerId is required")
	}
	if !models.ValidCategory(in.Category) {
		return nil, errors.Errorf("unknown category %q", in.Category)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	existing, err := s.repo.GetTimer(ctx, in.TimerID)
	if err != nil {
		return nil, opErr(in.TimerID, err)
	}
	if existing != nil {
		// A restart may repoint the timer at a shipment another timer
		// currently holds; that timer loses, keeping at most one timer
		// per (shipment, category).
		if in.ShipmentID != nil {
			n, err := s.repo.DeleteOtherTimersForShipment(ctx, *in.ShipmentID, existing.Category, in.TimerID)
			if err != nil {
				return nil, opErr(in.TimerID, err)
			}
			if n > 0 {
				slog.Info("replaced timer for shipment", "shipment_id", *in.ShipmentID, "category", existing.Category, "timer_id", in.TimerID)
			}
		}
		if err := s.repo.UpdateTimerAssignment(ctx, in.TimerID, in.CodeGen, in.ShipmentID); err != nil {
			return nil, opErr(in.TimerID, err)
		}
		existing.CodeGen = in.CodeGen
		existing.ShipmentID = in.ShipmentID
		return existing, nil
	}

	// At most one timer per (shipment, category): a new timer id for an
	// already-timed shipment replaces the old timer.
	if in.ShipmentID != nil {
		n, err := s.repo.DeleteTimersByShipmentCategory(ctx, *in.ShipmentID, in.Category)
		if err != nil {
			return nil, opErr(in.TimerID, err)
		}
		if n > 0 {
			slog.Info("replaced timer for shipment", "shipment_id", *in.ShipmentID, "category", in.Category, "timer_id", in.TimerID)
		}
	}

	now := s.clk.Now()
	rec := &models.TimerRecord{
		TimerID:     in.TimerID,
		CodeGen:     in.CodeGen,
		ShipmentID:  in.ShipmentID,
		Category:    in.Category,
		Subcategory: in.Subcategory,
		StartedAt:   now,
		CreatedAt:   now,
	}
	if err := s.repo.InsertTimer(ctx, rec); err != nil {
		return nil, opErr(in.TimerID, err)
	}
	return rec, nil
}

// StopTimer deletes the timer if present. Stopping an unknown timer is not
// an error, only logged.
func (s *Service) StopTimer(ctx context.Context, timerID string) (bool, error) {
	if timerID == "" {
		return false, errors.New("timerId is required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	found, err := s.repo.DeleteTimer(ctx, timerID)
	if err != nil {
		return false, opErr(timerID, err)
	}
	if !found {
		slog.Info("stop for unknown timer", "timer_id", timerID)
	}
	return found, nil
}

func (s *Service) GetActiveTimers(ctx context.Context, category string) ([]*models.TimerRecord, error) {
	if !models.ValidCategory(category) {
		return nil, errors.Errorf("unknown category %q", category)
	}
	out, err := s.repo.ListTimersByCategory(ctx, category)
	if err != nil {
		return nil, opErr("", err)
	}
	return out, nil
}

func (s *Service) IsTimerActive(ctx context.Context, timerID string) (bool, error) {
	t, err := s.repo.GetTimer(ctx, timerID)
	if err != nil {
		return false, opErr(timerID, err)
	}
	return t != nil, nil
}

// ReleaseTimerByShipment frees any timer referencing the shipment,
// whatever its timer id. Used when a status transition makes the timer
// moot.
func (s *Service) ReleaseTimerByShipment(ctx context.Context, shipmentID int64) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	n, err := s.repo.DeleteTimersByShipment(ctx, shipmentID)
	if err != nil {
		return false, opErr("", err)
	}
	return n > 0, nil
}

func (s *Service) GetStats(ctx context.Context) (models.TimerStats, error) {
	st, err := s.repo.TimerStats(ctx)
	if err != nil {
		return st, opErr("", err)
	}
	return st, nil
}
