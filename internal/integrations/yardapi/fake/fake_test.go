package fake

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/agroyard/piletas/internal/models"
)

func TestFakeClient_Deterministic(t *testing.T) {
	f := New()

	a, err := f.GetInProgressUnits(context.Background(), models.CategoryAzucar)
	require.NoError(t, err)
	require.NotEmpty(t, a)

	b, err := f.GetInProgressUnits(context.Background(), models.CategoryAzucar)
	require.NoError(t, err)
	require.Len(t, b, len(a))
	for i := range a {
		require.Equal(t, a[i].ShipmentID, b[i].ShipmentID)
		require.Equal(t, a[i].CurrentStatus, b[i].CurrentStatus)
	}
}

func TestFakeClient_CategoriesDoNotOverlap(t *testing.T) {
	f := New()

	az, err := f.GetInProgressUnits(context.Background(), models.CategoryAzucar)
	require.NoError(t, err)
	me, err := f.GetInProgressUnits(context.Background(), models.CategoryMelaza)
	require.NoError(t, err)

	seen := map[int64]struct{}{}
	for _, u := range az {
		seen[u.ShipmentID] = struct{}{}
	}
	for _, u := range me {
		_, dup := seen[u.ShipmentID]
		require.False(t, dup, "shipment %d in both categories", u.ShipmentID)
	}
}
