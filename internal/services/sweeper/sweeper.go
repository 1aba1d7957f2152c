package sweeper

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/agroyard/piletas/internal/broker/messages"
	"github.com/agroyard/piletas/internal/models"
)

type Driver interface {
	FullReconcile(ctx context.Context, category string) ([]models.Unit, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

// Sweeper runs periodic full reconciliation passes over every configured
// category and publishes the resulting order downstream. A pass can also
// be forced with Trigger (best-effort, non-blocking).
type Sweeper struct {
	driver   Driver
	producer Producer
	rl       RateLimiter

	topic      string
	categories []string

	sweepInterval    time.Duration
	concurrency      int
	fetchLimitPerMin int64

	triggerCh chan struct{}

	startedAtUnixNano   int64
	lastCycleUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalCycles         atomic.Int64
	totalReconciled     atomic.Int64
	totalRateLimited    atomic.Int64
	totalErrors         atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(driver Driver, producer Producer, rl RateLimiter, topic string, categories []string) *Sweeper {
	if len(categories) == 0 {
		categories = []string{models.CategoryAzucar, models.CategoryMelaza}
	}
	return &Sweeper{
		driver:            driver,
		producer:          producer,
		rl:                rl,
		topic:             topic,
		categories:        categories,
		sweepInterval:     30 * time.Second,
		concurrency:       2,
		fetchLimitPerMin:  30,
		triggerCh:         make(chan struct{}, 1),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (s *Sweeper) WithSettings(interval time.Duration, concurrency int, fetchLimitPerMin int64) *Sweeper {
	if interval > 0 {
		s.sweepInterval = interval
	}
	if concurrency > 0 {
		s.concurrency = concurrency
	}
	if fetchLimitPerMin > 0 {
		s.fetchLimitPerMin = fetchLimitPerMin
	}
	return s
}

// Trigger forces an immediate sweep cycle (best-effort, non-blocking).
func (s *Sweeper) Trigger() {
	s.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt        time.Time  `json:"startedAt"`
	LastCycleAt      *time.Time `json:"lastCycleAt,omitempty"`
	LastTriggerAt    *time.Time `json:"lastTriggerAt,omitempty"`
	TotalCycles      int64      `json:"totalCycles"`
	TotalReconciled  int64      `json:"totalReconciled"`
	TotalRateLimited int64      `json:"totalRateLimited"`
	TotalErrors      int64      `json:"totalErrors"`
	LastError        string     `json:"lastError,omitempty"`
}

func (s *Sweeper) Stats() Stats {
	st := Stats{
		StartedAt:        time.Unix(0, s.startedAtUnixNano).UTC(),
		TotalCycles:      s.totalCycles.Load(),
		TotalReconciled:  s.totalReconciled.Load(),
		TotalRateLimited: s.totalRateLimited.Load(),
		TotalErrors:      s.totalErrors.Load(),
	}
	if n := s.lastCycleUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastCycleAt = &t
	}
	if n := s.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	s.lastErrorMu.Lock()
	st.LastError = s.lastError
	s.lastErrorMu.Unlock()
	return st
}

func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.sweepInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.runOnce(ctx)
		case <-s.triggerCh:
			s.runOnce(ctx)
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	now := time.Now().UTC()
	s.lastCycleUnixNano.Store(now.UnixNano())
	s.totalCycles.Add(1)

	sem := make(chan struct{}, s.concurrency)
	var wg sync.WaitGroup
	for _, cat := range s.categories {
		sem <- struct{}{}
		wg.Add(1)
		category := cat
		go func() {
			defer func() {
				<-sem
				wg.Done()
			}()
			if err := s.sweepCategory(ctx, category, now); err != nil {
				s.totalErrors.Add(1)
				s.lastErrorMu.Lock()
				s.lastError = err.Error()
				s.lastErrorMu.Unlock()
				slog.Error("sweep category", "category", category, "error", err.Error())
			}
		}()
	}
	wg.Wait()
}

func (s *Sweeper) sweepCategory(ctx context.Context, category string, now time.Time) error {
	if s.rl != nil && s.fetchLimitPerMin > 0 {
		minuteKey := fmt.Sprintf("rl:yard:%s:%s", category, now.Format("200601021504"))
		allowed, n, err := s.rl.Allow(ctx, minuteKey, s.fetchLimitPerMin, 70*time.Second)
		if err != nil {
			return err
		}
		if !allowed {
			// The upstream yard API is fragile; skip this pass rather
			// than pile on.
			s.totalRateLimited.Add(1)
			slog.Warn("yard fetch rate limit exceeded, skipping sweep", "category", category, "count", n)
			return nil
		}
	}

	units, err := s.driver.FullReconcile(ctx, category)
	if err != nil {
		return err
	}
	s.totalReconciled.Add(int64(len(units)))

	if s.producer == nil || s.topic == "" {
		return nil
	}
	msg := messages.DisplayOrderChanged{
		Category:     category,
		ReconciledAt: now,
	}
	for _, u := range units {
		msg.Units = append(msg.Units, messages.OrderedUnit{
			ShipmentID:    u.ShipmentID,
			Rank:          u.Rank,
			PriorityBand:  u.PriorityBand,
			CurrentStatus: int(u.CurrentStatus),
			CodeGen:       u.CodeGen,
		})
	}
	b, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return s.producer.Publish(ctx, s.topic, []byte(category), b)
}
