package pileorder

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agroyard/piletas/internal/clock"
	"github.com/agroyard/piletas/internal/models"
)

var reconcileAt = time.Date(2025, 5, 1, 10, 0, 0, 0, time.UTC)

func newTestService(m *memStore) *Service {
	return New(m, nil, nil, clock.Fixed(reconcileAt))
}

func unit(id int64, status models.UnitStatus) models.Unit {
	return models.Unit{ShipmentID: id, CurrentStatus: status}
}

func shipmentOrder(units []models.Unit) []int64 {
	out := make([]int64, len(units))
	for i, u := range units {
		out[i] = u.ShipmentID
	}
	return out
}

func TestReconcile_ScenarioTimerReadyNeedsTemp(t *testing.T) {
	m := newMemStore()
	m.addTimer("T1", 10, models.CategoryMelaza)
	s := newTestService(m)

	in := []models.Unit{
		unit(10, models.StatusReceived),
		unit(11, models.StatusReadyToStart),
		unit(12, models.StatusNeedsTemperature),
	}
	out, err := s.Reconcile(context.Background(), in, models.CategoryMelaza)
	require.NoError(t, err)
	require.True(t, m.committed)

	require.Equal(t, []int64{10, 11, 12}, shipmentOrder(out))
	require.Equal(t, models.BandActiveTimer, out[0].PriorityBand)
	require.Equal(t, models.BandReadyToStart, out[1].PriorityBand)
	require.Equal(t, models.BandNeedsTemperature, out[2].PriorityBand)
}

func TestReconcile_IsPermutationOfInput(t *testing.T) {
	m := newMemStore()
	s := newTestService(m)

	in := []models.Unit{
		unit(3, models.StatusReceived),
		unit(1, models.StatusNeedsTemperature),
		unit(2, models.StatusReadyToStart),
	}
	out, err := s.Reconcile(context.Background(), in, models.CategoryAzucar)
	require.NoError(t, err)
	require.Len(t, out, len(in))

	seen := map[int64]bool{}
	for _, u := range out {
		require.False(t, seen[u.ShipmentID])
		seen[u.ShipmentID] = true
		require.GreaterOrEqual(t, u.PriorityBand, models.BandActiveTimer)
		require.LessOrEqual(t, u.PriorityBand, models.BandOther)
	}
	for _, u := range in {
		require.True(t, seen[u.ShipmentID])
	}
}

func TestReconcile_ActiveTimerAlwaysFirst(t *testing.T) {
	m := newMemStore()
	// Shipment 5 has "other" status but a running timer; 6 is ready to
	// start. The timer wins.
	m.addTimer("T9", 5, models.CategoryAzucar)
	s := newTestService(m)

	out, err := s.Reconcile(context.Background(), []models.Unit{
		unit(6, models.StatusReadyToStart),
		unit(5, models.StatusReceived),
	}, models.CategoryAzucar)
	require.NoError(t, err)
	require.Equal(t, []int64{5, 6}, shipmentOrder(out))
}

func TestReconcile_CleanupRemovesAbsentShipments(t *testing.T) {
	m := newMemStore()
	now := reconcileAt.Add(-time.Hour)
	m.seedOrder(1, models.CategoryAzucar, 3000, int(models.StatusReceived), now)
	m.seedOrder(2, models.CategoryAzucar, 3001, int(models.StatusReceived), now)
	m.seedOrder(3, models.CategoryAzucar, 3002, int(models.StatusReceived), now)
	m.addTimer("T2", 2, models.CategoryAzucar)
	s := newTestService(m)

	_, err := s.Reconcile(context.Background(), []models.Unit{
		unit(1, models.StatusReceived),
		unit(3, models.StatusReceived),
	}, models.CategoryAzucar)
	require.NoError(t, err)

	require.Nil(t, m.orderFor(2, models.CategoryAzucar))
	has, _ := m.HasTimerForShipment(context.Background(), 2, models.CategoryAzucar)
	require.False(t, has)
	require.NotNil(t, m.orderFor(1, models.CategoryAzucar))
	require.NotNil(t, m.orderFor(3, models.CategoryAzucar))
}

func TestReconcile_EmptyInputFlushesCategory(t *testing.T) {
	m := newMemStore()
	now := reconcileAt.Add(-time.Hour)
	m.seedOrder(1, models.CategoryMelaza, 1000, int(models.StatusReadyToStart), now)
	m.seedOrder(9, models.CategoryAzucar, 1000, int(models.StatusReadyToStart), now)
	m.addTimer("T1", 1, models.CategoryMelaza)
	s := newTestService(m)

	out, err := s.Reconcile(context.Background(), nil, models.CategoryMelaza)
	require.NoError(t, err)
	require.Empty(t, out)

	require.Nil(t, m.orderFor(1, models.CategoryMelaza))
	require.Empty(t, m.timers)
	// Other category untouched.
	require.NotNil(t, m.orderFor(9, models.CategoryAzucar))
}

func TestReconcile_Band1RankStableWhileTimerRuns(t *testing.T) {
	m := newMemStore()
	m.addTimer("T1", 10, models.CategoryMelaza)
	s := newTestService(m)

	in := []models.Unit{unit(10, models.StatusReceived)}
	out1, err := s.Reconcile(context.Background(), in, models.CategoryMelaza)
	require.NoError(t, err)

	// Second pass with a later clock: the running timer keeps its rank.
	s.clk = clock.Fixed(reconcileAt.Add(7 * time.Minute))
	out2, err := s.Reconcile(context.Background(), in, models.CategoryMelaza)
	require.NoError(t, err)
	require.Equal(t, out1[0].Rank, out2[0].Rank)
}

func TestReconcile_Band1ArrivalOrder(t *testing.T) {
	m := newMemStore()
	m.addTimer("T1", 1, models.CategoryAzucar)
	s := newTestService(m)

	in := []models.Unit{unit(1, models.StatusReceived)}
	_, err := s.Reconcile(context.Background(), in, models.CategoryAzucar)
	require.NoError(t, err)

	// A second timer arrives later; it must rank after the first.
	m.addTimer("T2", 2, models.CategoryAzucar)
	in = append(in, unit(2, models.StatusReceived))
	out, err := s.Reconcile(context.Background(), in, models.CategoryAzucar)
	require.NoError(t, err)
	require.Equal(t, []int64{1, 2}, shipmentOrder(out))
	require.Less(t, out[0].Rank, out[1].Rank)
}

func TestReconcile_UnchangedRowNotRewritten(t *testing.T) {
	m := newMemStore()
	seeded := reconcileAt.Add(-time.Hour)
	m.seedOrder(4, models.CategoryAzucar, 1000+17, int(models.StatusReadyToStart), seeded)
	s := newTestService(m)

	_, err := s.Reconcile(context.Background(), []models.Unit{
		unit(4, models.StatusReadyToStart),
	}, models.CategoryAzucar)
	require.NoError(t, err)

	rec := m.orderFor(4, models.CategoryAzucar)
	require.Equal(t, seeded, rec.UpdatedAt)
	require.Zero(t, m.rankUpdates)
}

func TestReconcile_DeduplicatesKeepingFreshest(t *testing.T) {
	m := newMemStore()
	old := m.seedOrder(8, models.CategoryAzucar, 3000, int(models.StatusReceived), reconcileAt.Add(-time.Hour))
	fresh := m.seedOrder(8, models.CategoryAzucar, 3001, int(models.StatusReceived), reconcileAt.Add(-time.Minute))
	s := newTestService(m)

	_, err := s.Reconcile(context.Background(), []models.Unit{
		unit(8, models.StatusReceived),
	}, models.CategoryAzucar)
	require.NoError(t, err)

	_, oldExists := m.orders[old.ID]
	require.False(t, oldExists)
	_, freshExists := m.orders[fresh.ID]
	require.True(t, freshExists)
}

func TestReconcile_TieBreakByPrecheck(t *testing.T) {
	m := newMemStore()
	s := newTestService(m)

	early := reconcileAt.Add(-2 * time.Hour)
	late := reconcileAt.Add(-time.Hour)
	in := []models.Unit{
		{ShipmentID: 1, CurrentStatus: models.StatusReadyToStart, PrecheckAt: &late},
		{ShipmentID: 2, CurrentStatus: models.StatusReadyToStart, PrecheckAt: &early},
	}
	// Same band, same clock second: identical ranks; precheck decides.
	out, err := s.Reconcile(context.Background(), in, models.CategoryMelaza)
	require.NoError(t, err)
	require.Equal(t, []int64{2, 1}, shipmentOrder(out))
}

func TestReconcile_FailOpenReturnsInputUnchanged(t *testing.T) {
	m := newMemStore()
	m.listErr = errors.New("pg down")
	s := newTestService(m)

	in := []models.Unit{
		unit(2, models.StatusReceived),
		unit(1, models.StatusReadyToStart),
	}
	out, err := s.Reconcile(context.Background(), in, models.CategoryAzucar)
	require.Error(t, err)
	require.True(t, m.rolledBack)
	// Input order and annotations untouched.
	require.Equal(t, []int64{2, 1}, shipmentOrder(out))
	require.Zero(t, out[0].PriorityBand)
}

func TestReconcile_UnknownCategory(t *testing.T) {
	s := newTestService(newMemStore())
	_, err := s.Reconcile(context.Background(), []models.Unit{unit(1, models.StatusReceived)}, "miel")
	require.Error(t, err)
}
