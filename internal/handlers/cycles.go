package handlers

import (
	"context"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fuel-cycle/internal/autonomy"
	"github.com/ukydev/fuel-cycle/internal/cycle"
	"github.com/ukydev/fuel-cycle/internal/models"
	"github.com/ukydev/fuel-cycle/internal/trip"
)

// CycleService is the part of cycle.Service the HTTP layer uses.
type CycleService interface {
	CreateCycle(ctx context.Context, userID string, in cycle.CreateCycleInput) (*cycle.View, error)
	ListCycles(ctx context.Context, userID string) ([]models.Cycle, error)
	GetCycle(ctx context.Context, userID, cycleID string) (*cycle.View, error)
	AddCheckpoint(ctx context.Context, userID, cycleID string, in cycle.CheckpointInput) (*cycle.View, error)
	AddRefuel(ctx context.Context, userID, cycleID string, in cycle.RefuelInput) (*cycle.View, error)
	AddConsumption(ctx context.Context, userID, cycleID string, in cycle.ConsumptionInput) (*cycle.View, error)
	AddRoute(ctx context.Context, userID, cycleID string, p trip.Payload) (*cycle.View, error)
	FinishCycle(ctx context.Context, userID, cycleID string) (*cycle.View, error)
	EditEvent(ctx context.Context, userID, cycleID, eventID string, edit cycle.EventEdit) (*cycle.View, error)
	DeleteEvent(ctx context.Context, userID, cycleID, eventID string) (*cycle.View, error)
	DeleteCycle(ctx context.Context, userID, cycleID string) error
	RecomputeAggregate(ctx context.Context, userID, cycleID string) (*cycle.View, error)
	Report(ctx context.Context, userID, cycleID string) (*autonomy.Report, error)
}

// CycleHandler serves the cycle REST endpoints.
type CycleHandler struct {
	cycles CycleService
	log    *log.Entry
}

// NewCycleHandler creates a new cycle handler
func NewCycleHandler(cycles CycleService, logger *log.Entry) *CycleHandler {
	if logger == nil {
		logger = log.WithField("component", "cycle_handler")
	}
	return &CycleHandler{cycles: cycles, log: logger}
}

// Register adds the cycle routes to mux.
func (h *CycleHandler) Register(mux *http.ServeMux) {
	mux.Handle("GET /api/cycles", authorized(h.List))
	mux.Handle("POST /api/cycles", authorized(h.Create))
	mux.Handle("GET /api/cycles/{id}", authorized(h.Get))
	mux.Handle("DELETE /api/cycles/{id}", authorized(h.Delete))
	mux.Handle("POST /api/cycles/{id}/checkpoints", authorized(h.AddCheckpoint))
	mux.Handle("POST /api/cycles/{id}/refuels", authorized(h.AddRefuel))
	mux.Handle("POST /api/cycles/{id}/consumptions", authorized(h.AddConsumption))
	mux.Handle("POST /api/cycles/{id}/routes", authorized(h.AddRoute))
	mux.Handle("POST /api/cycles/{id}/finish", authorized(h.Finish))
	mux.Handle("POST /api/cycles/{id}/recompute", authorized(h.Recompute))
	mux.Handle("GET /api/cycles/{id}/report", authorized(h.Report))
	mux.Handle("PATCH /api/cycles/{id}/events/{eventId}", authorized(h.EditEvent))
	mux.Handle("DELETE /api/cycles/{id}/events/{eventId}", authorized(h.DeleteEvent))
}

// List returns the caller's cycles, newest first.
func (h *CycleHandler) List(w http.ResponseWriter, r *http.Request, claims *models.Claims) {
	cycles, err := h.cycles.ListCycles(r.Context(), claims.UserID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if cycles == nil {
		cycles = []models.Cycle{}
	}
	writeJSON(w, http.StatusOK, cycles)
}

// Create starts a cycle.
func (h *CycleHandler) Create(w http.ResponseWriter, r *http.Request, claims *models.Claims) {
	var in cycle.CreateCycleInput
	if err := decodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	view, err := h.cycles.CreateCycle(r.Context(), claims.UserID, in)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	h.log.WithFields(log.Fields{"user_id": claims.UserID, "cycle_id": view.Cycle.ID}).Info("Cycle created")
	writeJSON(w, http.StatusCreated, view)
}

func (h *CycleHandler) Get(w http.ResponseWriter, r *http.Request, claims *models.Claims) {
	h.respond(w, r)(h.cycles.GetCycle(r.Context(), claims.UserID, r.PathValue("id")))
}

func (h *CycleHandler) Delete(w http.ResponseWriter, r *http.Request, claims *models.Claims) {
	if err := h.cycles.DeleteCycle(r.Context(), claims.UserID, r.PathValue("id")); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *CycleHandler) AddCheckpoint(w http.ResponseWriter, r *http.Request, claims *models.Claims) {
	var in cycle.CheckpointInput
	if err := decodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondCreated(w, r)(h.cycles.AddCheckpoint(r.Context(), claims.UserID, r.PathValue("id"), in))
}

func (h *CycleHandler) AddRefuel(w http.ResponseWriter, r *http.Request, claims *models.Claims) {
	var in cycle.RefuelInput
	if err := decodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondCreated(w, r)(h.cycles.AddRefuel(r.Context(), claims.UserID, r.PathValue("id"), in))
}

func (h *CycleHandler) AddConsumption(w http.ResponseWriter, r *http.Request, claims *models.Claims) {
	var in cycle.ConsumptionInput
	if err := decodeJSON(r, &in); err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondCreated(w, r)(h.cycles.AddConsumption(r.Context(), claims.UserID, r.PathValue("id"), in))
}

// AddRoute records a finished trip that was not driven through a live
// session.
func (h *CycleHandler) AddRoute(w http.ResponseWriter, r *http.Request, claims *models.Claims) {
	var p trip.Payload
	if err := decodeJSON(r, &p); err != nil {
		h.fail(w, r, err)
		return
	}
	h.respondCreated(w, r)(h.cycles.AddRoute(r.Context(), claims.UserID, r.PathValue("id"), p))
}

func (h *CycleHandler) Finish(w http.ResponseWriter, r *http.Request, claims *models.Claims) {
	h.respond(w, r)(h.cycles.FinishCycle(r.Context(), claims.UserID, r.PathValue("id")))
}

// Recompute rebuilds the cycle's derived fields from its history.
func (h *CycleHandler) Recompute(w http.ResponseWriter, r *http.Request, claims *models.Claims) {
	h.respond(w, r)(h.cycles.RecomputeAggregate(r.Context(), claims.UserID, r.PathValue("id")))
}

func (h *CycleHandler) Report(w http.ResponseWriter, r *http.Request, claims *models.Claims) {
	report, err := h.cycles.Report(r.Context(), claims.UserID, r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, report)
}

func (h *CycleHandler) EditEvent(w http.ResponseWriter, r *http.Request, claims *models.Claims) {
	var edit cycle.EventEdit
	if err := decodeJSON(r, &edit); err != nil {
		h.fail(w, r, err)
		return
	}
	h.respond(w, r)(h.cycles.EditEvent(r.Context(), claims.UserID, r.PathValue("id"), r.PathValue("eventId"), edit))
}

func (h *CycleHandler) DeleteEvent(w http.ResponseWriter, r *http.Request, claims *models.Claims) {
	h.respond(w, r)(h.cycles.DeleteEvent(r.Context(), claims.UserID, r.PathValue("id"), r.PathValue("eventId")))
}

func (h *CycleHandler) respond(w http.ResponseWriter, r *http.Request) func(*cycle.View, error) {
	return h.respondWith(w, r, http.StatusOK)
}

func (h *CycleHandler) respondCreated(w http.ResponseWriter, r *http.Request) func(*cycle.View, error) {
	return h.respondWith(w, r, http.StatusCreated)
}

func (h *CycleHandler) respondWith(w http.ResponseWriter, r *http.Request, status int) func(*cycle.View, error) {
	return func(view *cycle.View, err error) {
		if err != nil {
			h.fail(w, r, err)
			return
		}
		writeJSON(w, status, view)
	}
}

func (h *CycleHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, _ := errorResponse(err)
	entry := h.log.WithError(err).WithFields(log.Fields{"path": r.URL.Path, "status": status})
	if status >= http.StatusInternalServerError {
		entry.Error("Cycle request failed")
	} else {
		entry.Debug("Cycle request rejected")
	}
	writeError(w, err)
}
