package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"strings"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fuel-cycle/internal/cycle"
	"github.com/ukydev/fuel-cycle/internal/models"
	"github.com/ukydev/fuel-cycle/internal/routing"
)

// SessionService is the part of live.Service the HTTP layer uses.
type SessionService interface {
	Start(ctx context.Context, driverID, cycleID string) (*models.LiveSession, error)
	Get(ctx context.Context, sessionID string) (*models.LiveSession, error)
	UpdatePosition(ctx context.Context, sessionID, driverID string, upd models.PositionUpdate, source string) (*models.LiveSession, error)
	PlanRoute(ctx context.Context, sessionID, driverID string, origin, destination models.Place) (*models.LiveSession, error)
	Complete(ctx context.Context, sessionID, driverID, cycleID string, destination *models.Place) (*cycle.View, error)
	End(ctx context.Context, sessionID, driverID string) error
}

// StartSessionRequest opens a live session, optionally bound to a cycle.
type StartSessionRequest struct {
	CycleID string `json:"cycle_id,omitempty"`
}

// PlanRouteRequest asks for a route between two places.
type PlanRouteRequest struct {
	Origin      models.Place `json:"origin"`
	Destination models.Place `json:"destination"`
}

// CompleteSessionRequest finishes a trip. CycleID overrides the session's.
type CompleteSessionRequest struct {
	CycleID     string        `json:"cycle_id,omitempty"`
	Destination *models.Place `json:"destination,omitempty"`
}

// SessionHandler serves live sessions and the routing lookups they need.
type SessionHandler struct {
	sessions SessionService
	routes   routing.Provider
	log      *log.Entry
}

// NewSessionHandler creates a new session handler
func NewSessionHandler(sessions SessionService, routes routing.Provider, logger *log.Entry) *SessionHandler {
	if logger == nil {
		logger = log.WithField("component", "session_handler")
	}
	return &SessionHandler{sessions: sessions, routes: routes, log: logger}
}

// Register adds the session and routing routes to mux.
func (h *SessionHandler) Register(mux *http.ServeMux) {
	mux.Handle("POST /api/sessions", authorized(h.Start))
	mux.Handle("GET /api/sessions/{id}", authorized(h.Get))
	mux.Handle("PUT /api/sessions/{id}/position", authorized(h.UpdatePosition))
	mux.Handle("PUT /api/sessions/{id}/route", authorized(h.PlanRoute))
	mux.Handle("POST /api/sessions/{id}/complete", authorized(h.Complete))
	mux.Handle("DELETE /api/sessions/{id}", authorized(h.End))
	mux.Handle("GET /api/routes", authorized(h.Route))
	mux.Handle("GET /api/geocode", authorized(h.Geocode))
}

func (h *SessionHandler) Start(w http.ResponseWriter, r *http.Request, claims *models.Claims) {
	var req StartSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	session, err := h.sessions.Start(r.Context(), claims.UserID, req.CycleID)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, session)
}

// Get is open to any authenticated user holding the session id.
func (h *SessionHandler) Get(w http.ResponseWriter, r *http.Request, _ *models.Claims) {
	session, err := h.sessions.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *SessionHandler) UpdatePosition(w http.ResponseWriter, r *http.Request, claims *models.Claims) {
	var upd models.PositionUpdate
	if err := decodeJSON(r, &upd); err != nil {
		h.fail(w, r, err)
		return
	}
	session, err := h.sessions.UpdatePosition(r.Context(), r.PathValue("id"), claims.UserID, upd, "http")
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

func (h *SessionHandler) PlanRoute(w http.ResponseWriter, r *http.Request, claims *models.Claims) {
	var req PlanRouteRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	session, err := h.sessions.PlanRoute(r.Context(), r.PathValue("id"), claims.UserID, req.Origin, req.Destination)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, session)
}

// Complete ends the session and records the trip in a cycle.
func (h *SessionHandler) Complete(w http.ResponseWriter, r *http.Request, claims *models.Claims) {
	var req CompleteSessionRequest
	if err := decodeJSON(r, &req); err != nil {
		h.fail(w, r, err)
		return
	}
	view, err := h.sessions.Complete(r.Context(), r.PathValue("id"), claims.UserID, req.CycleID, req.Destination)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

// End drops the session without recording a trip.
func (h *SessionHandler) End(w http.ResponseWriter, r *http.Request, claims *models.Claims) {
	if err := h.sessions.End(r.Context(), r.PathValue("id"), claims.UserID); err != nil {
		h.fail(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// Route plans a route between two coordinates given as from=lat,lng and
// to=lat,lng.
func (h *SessionHandler) Route(w http.ResponseWriter, r *http.Request, _ *models.Claims) {
	from, err := parseLatLng(r.URL.Query().Get("from"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	to, err := parseLatLng(r.URL.Query().Get("to"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	route, err := h.routes.Route(r.Context(), from, to)
	if err != nil {
		h.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, route)
}

func (h *SessionHandler) Geocode(w http.ResponseWriter, r *http.Request, _ *models.Claims) {
	places, err := h.routes.Geocode(r.Context(), r.URL.Query().Get("q"))
	if err != nil {
		h.fail(w, r, err)
		return
	}
	if places == nil {
		places = []models.Place{}
	}
	writeJSON(w, http.StatusOK, places)
}

func (h *SessionHandler) fail(w http.ResponseWriter, r *http.Request, err error) {
	status, _ := errorResponse(err)
	entry := h.log.WithError(err).WithFields(log.Fields{"path": r.URL.Path, "status": status})
	if status >= http.StatusInternalServerError {
		entry.Error("Session request failed")
	} else {
		entry.Debug("Session request rejected")
	}
	writeError(w, err)
}

var errBadCoordinates = errors.New("coordinates must be lat,lng")

func parseLatLng(s string) (models.LatLng, error) {
	parts := strings.Split(s, ",")
	if len(parts) != 2 {
		return models.LatLng{}, errors.Join(errBadRequest, errBadCoordinates)
	}
	lat, err := strconv.ParseFloat(strings.TrimSpace(parts[0]), 64)
	if err != nil || !(lat >= -90 && lat <= 90) {
		return models.LatLng{}, errors.Join(errBadRequest, errBadCoordinates)
	}
	lng, err := strconv.ParseFloat(strings.TrimSpace(parts[1]), 64)
	if err != nil || !(lng >= -180 && lng <= 180) {
		return models.LatLng{}, errors.Join(errBadRequest, errBadCoordinates)
	}
	return models.LatLng{Lat: lat, Lng: lng}, nil
}
