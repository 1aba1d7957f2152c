package yardhttp

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/agroyard/piletas/internal/models"
)

func TestClient_GetInProgressUnits_OK(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/envios/en-proceso", r.URL.Path)
		require.Equal(t, "demo", r.URL.Query().Get("apiKey"))
		require.Equal(t, "melaza", r.URL.Query().Get("tipoUnidad"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{
  "data": [
    {"idEnvio": 10, "estadoActual": 8, "codigoGeneracion": "GEN-10", "fechaPrechequeo": "2025-05-01T07:30:00"},
    {"idEnvio": 11, "estadoActual": 7}
  ]
}`))
	}))
	defer srv.Close()

	c := New(srv.URL, "demo")
	units, err := c.GetInProgressUnits(context.Background(), "melaza")
	require.NoError(t, err)
	require.Len(t, units, 2)

	require.Equal(t, int64(10), units[0].ShipmentID)
	require.Equal(t, models.StatusReadyToStart, units[0].CurrentStatus)
	require.Equal(t, "GEN-10", *units[0].CodeGen)
	require.NotNil(t, units[0].PrecheckAt)
	require.WithinDuration(t, time.Date(2025, 5, 1, 7, 30, 0, 0, time.UTC), *units[0].PrecheckAt, time.Second)

	require.Equal(t, models.StatusNeedsTemperature, units[1].CurrentStatus)
	require.Nil(t, units[1].PrecheckAt)
}

func TestClient_GetInProgressUnits_HTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := New(srv.URL, "demo")
	_, err := c.GetInProgressUnits(context.Background(), "azucar")
	require.Error(t, err)
}
