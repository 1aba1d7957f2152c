package yardhttp

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"time"

	"github.com/pkg/errors"

	"github.com/agroyard/piletas/internal/models"
)

type Client struct {
	baseURL string
	apiKey  string
	httpc   *http.Client
}

func New(baseURL, apiKey string) *Client {
	if baseURL == "" {
		baseURL = "http://localhost:9000"
	}
	return &Client{
		baseURL: baseURL,
		apiKey:  apiKey,
		httpc: &http.Client{
			Timeout: 10 * time.Second,
		},
	}
}

type unitsResp struct {
	Data []struct {
		IDEnvio      int64   `json:"idEnvio"`
		EstadoActual int     `json:"estadoActual"`
		CodigoGen    *string `json:"codigoGeneracion"`
		FechaPrechek *string `json:"fechaPrechequeo"`
	} `json:"data"`
}

func (c *Client) GetInProgressUnits(ctx context.Context, category string) ([]models.Unit, error) {
	u, err := url.Parse(c.baseURL)
	if err != nil {
		return nil, errors.Wrap(err, "parse base url")
	}
	u.Path = "/api/envios/en-proceso"

	q := u.Query()
	q.Set("apiKey", c.apiKey)
	q.Set("tipoUnidad", category)
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, errors.Wrap(err, "new request")
	}

	resp, err := c.httpc.Do(req)
	if err != nil {
		return nil, errors.Wrap(err, "do request")
	}
	defer resp.Body.Close()

	if resp.StatusCode/100 != 2 {
		return nil, fmt.Errorf("yard api http %d", resp.StatusCode)
	}

	var r unitsResp
	if err := json.NewDecoder(resp.Body).Decode(&r); err != nil {
		return nil, errors.Wrap(err, "decode")
	}

	out := make([]models.Unit, 0, len(r.Data))
	for _, d := range r.Data {
		unit := models.Unit{
			ShipmentID:    d.IDEnvio,
			CurrentStatus: models.UnitStatus(d.EstadoActual),
			CodeGen:       d.CodigoGen,
		}
		// Upstream format: "2006-01-02T15:04:05" without offset, local yard time.
		if d.FechaPrechek != nil && *d.FechaPrechek != "" {
			if t, err := time.ParseInLocation("2006-01-02T15:04:05", *d.FechaPrechek, time.UTC); err == nil {
				tt := t.UTC()
				unit.PrecheckAt = &tt
			}
		}
		out = append(out, unit)
	}
	return out, nil
}
