package fake

import (
	"context"
	"hash/fnv"
	"strconv"
	"time"

	"github.com/agroyard/piletas/internal/models"
)

// FakeClient serves a deterministic unit list per category so the service
// can run without the upstream yard API. Statuses derive from a hash of
// (category, position).
type FakeClient struct {
	perCategory int
}

func New() *FakeClient { return &FakeClient{perCategory: 6} }

func (f *FakeClient) GetInProgressUnits(ctx context.Context, category string) ([]models.Unit, error) {
	now := time.Now().UTC()

	base := int64(100)
	if category == models.CategoryMelaza {
		base = 200
	}

	out := make([]models.Unit, 0, f.perCategory)
	for i := 0; i < f.perCategory; i++ {
		id := base + int64(i)

		h := fnv.New32a()
		_, _ = h.Write([]byte(category))
		_, _ = h.Write([]byte{byte(i)})
		v := h.Sum32()

		status := models.StatusReceived
		switch v % 3 {
		case 0:
			status = models.StatusReadyToStart
		case 1:
			status = models.StatusNeedsTemperature
		}

		precheck := now.Add(-time.Duration(i) * 10 * time.Minute)
		code := codeFor(category, id)
		out = append(out, models.Unit{
			ShipmentID:    id,
			CurrentStatus: status,
			CodeGen:       &code,
			PrecheckAt:    &precheck,
		})
	}
	return out, nil
}

func codeFor(category string, id int64) string {
	return "GEN-" + category + "-" + strconv.FormatInt(id, 10)
}
