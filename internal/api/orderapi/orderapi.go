package orderapi

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/pkg/errors"

	"github.com/agroyard/piletas/internal/models"
	"github.com/agroyard/piletas/internal/services/pileorder"
	"github.com/agroyard/piletas/internal/services/timers"
)

type TimerService interface {
	StartTimer(ctx context.Context, in models.TimerStartInput) (*models.TimerRecord, error)
	StopTimer(ctx context.Context, timerID string) (bool, error)
	GetActiveTimers(ctx context.Context, category string) ([]*models.TimerRecord, error)
	IsTimerActive(ctx context.Context, timerID string) (bool, error)
	ReleaseTimerByShipment(ctx context.Context, shipmentID int64) (bool, error)
	GetStats(ctx context.Context) (models.TimerStats, error)
}

type OrderService interface {
	FullReconcile(ctx context.Context, category string) ([]models.Unit, error)
	UpdateSingleUnit(ctx context.Context, upd pileorder.UnitUpdate) error
	ReleaseUnit(ctx context.Context, shipmentID int64) (bool, error)
	LastKnownOrder(ctx context.Context, category string) ([]models.Unit, bool)
}

type API struct {
	timers TimerService
	order  OrderService
}

func New(timers TimerService, order OrderService) *API {
	return &API{timers: timers, order: order}
}

func (a *API) Routes(r chi.Router) {
	r.Route("/v1/timers", func(r chi.Router) {
		r.Post("/start", a.startTimer)
		r.Post("/stop", a.stopTimer)
		r.Get("/", a.listTimers)
		r.Get("/stats", a.timerStats)
		r.Get("/{timerID}/active", a.timerActive)
		r.Delete("/shipments/{shipmentID}", a.releaseTimer)
	})
	r.Route("/v1/order", func(r chi.Router) {
		r.Get("/", a.getOrder)
		r.Post("/units", a.updateUnit)
		r.Delete("/units/{shipmentID}", a.releaseUnit)
	})
}

type startTimerRequest struct {
	TimerID     string  `json:"timerId"`
	CodeGen     *string `json:"codeGen,omitempty"`
	ShipmentID  *int64  `json:"shipmentId,omitempty"`
	Category    string  `json:"category"`
	Subcategory *string `json:"subcategory,omitempty"`
}

func (a *API) startTimer(w http.ResponseWriter, r *http.Request) {
	var req startTimerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	rec, err := a.timers.StartTimer(r.Context(), models.TimerStartInput{
		TimerID:     req.TimerID,
		CodeGen:     req.CodeGen,
		ShipmentID:  req.ShipmentID,
		Category:    req.Category,
		Subcategory: req.Subcategory,
	})
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, rec)
}

type stopTimerRequest struct {
	TimerID string `json:"timerId"`
}

func (a *API) stopTimer(w http.ResponseWriter, r *http.Request) {
	var req stopTimerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	found, err := a.timers.StopTimer(r.Context(), req.TimerID)
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"found": found})
}

func (a *API) listTimers(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	list, err := a.timers.GetActiveTimers(r.Context(), category)
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	if list == nil {
		list = []*models.TimerRecord{}
	}
	writeJSON(w, http.StatusOK, list)
}

func (a *API) timerStats(w http.ResponseWriter, r *http.Request) {
	st, err := a.timers.GetStats(r.Context())
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, st)
}

func (a *API) timerActive(w http.ResponseWriter, r *http.Request) {
	active, err := a.timers.IsTimerActive(r.Context(), chi.URLParam(r, "timerID"))
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"active": active})
}

func (a *API) releaseTimer(w http.ResponseWriter, r *http.Request) {
	shipmentID, err := strconv.ParseInt(chi.URLParam(r, "shipmentID"), 10, 64)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	released, err := a.timers.ReleaseTimerByShipment(r.Context(), shipmentID)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"released": released})
}

type orderResponse struct {
	Units []models.Unit `json:"units"`
	// Stale marks a fallback to the last successfully reconciled order.
	Stale bool `json:"stale,omitempty"`
}

// getOrder runs a full reconcile and returns the ordered list. On any
// core failure it renders the last successful order instead of failing
// the page.
func (a *API) getOrder(w http.ResponseWriter, r *http.Request) {
	category := r.URL.Query().Get("category")
	if !models.ValidCategory(category) {
		writeErr(w, http.StatusBadRequest, errors.Errorf("unknown category %q", category))
		return
	}

	units, err := a.order.FullReconcile(r.Context(), category)
	if err != nil {
		if cached, ok := a.order.LastKnownOrder(r.Context(), category); ok {
			writeJSON(w, http.StatusOK, orderResponse{Units: cached, Stale: true})
			return
		}
		if errors.Is(err, pileorder.ErrSourceUnavailable) {
			writeErr(w, http.StatusBadGateway, err)
			return
		}
		// Reconcile failed but fail-open still yielded a list.
		if units != nil {
			writeJSON(w, http.StatusOK, orderResponse{Units: units, Stale: true})
			return
		}
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	if units == nil {
		units = []models.Unit{}
	}
	writeJSON(w, http.StatusOK, orderResponse{Units: units})
}

type updateUnitRequest struct {
	ShipmentID     int64   `json:"shipmentId"`
	CodeGen        *string `json:"codeGen,omitempty"`
	CurrentStatus  int     `json:"currentStatus"`
	Category       string  `json:"category"`
	HasActiveTimer *bool   `json:"hasActiveTimer,omitempty"`
}

func (a *API) updateUnit(w http.ResponseWriter, r *http.Request) {
	var req updateUnitRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	err := a.order.UpdateSingleUnit(r.Context(), pileorder.UnitUpdate{
		ShipmentID:     req.ShipmentID,
		CodeGen:        req.CodeGen,
		CurrentStatus:  models.UnitStatus(req.CurrentStatus),
		Category:       req.Category,
		HasActiveTimer: req.HasActiveTimer,
	})
	if err != nil {
		writeErr(w, statusFor(err), err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (a *API) releaseUnit(w http.ResponseWriter, r *http.Request) {
	shipmentID, err := strconv.ParseInt(chi.URLParam(r, "shipmentID"), 10, 64)
	if err != nil {
		writeErr(w, http.StatusBadRequest, err)
		return
	}
	released, err := a.order.ReleaseUnit(r.Context(), shipmentID)
	if err != nil {
		writeErr(w, http.StatusInternalServerError, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]bool{"released": released})
}

// statusFor maps validation-style errors to 400 and everything else to
// 500. Validation errors are the ones raised before touching the store;
// they carry no operation error and no wrapped cause.
func statusFor(err error) int {
	var op *timers.OpError
	if errors.As(err, &op) {
		return http.StatusInternalServerError
	}
	if errors.Cause(err) != err {
		return http.StatusInternalServerError
	}
	return http.StatusBadRequest
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeErr(w http.ResponseWriter, status int, err error) {
	writeJSON(w, status, map[string]string{"error": err.Error()})
}
