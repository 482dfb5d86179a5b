package handlers

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fuel-cycle/internal/cycle"
	"github.com/ukydev/fuel-cycle/internal/db"
	"github.com/ukydev/fuel-cycle/internal/live"
	"github.com/ukydev/fuel-cycle/internal/middleware"
	"github.com/ukydev/fuel-cycle/internal/models"
	"github.com/ukydev/fuel-cycle/internal/routing"
)

const maxBodyBytes = 1 << 20

// ErrorResponse is the JSON body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`
	Code  string `json:"code"`
	Field string `json:"field,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v == nil {
		return
	}
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.WithError(err).Warn("Failed to encode response")
	}
}

func writeError(w http.ResponseWriter, err error) {
	status, body := errorResponse(err)
	writeJSON(w, status, body)
}

func errorResponse(err error) (int, ErrorResponse) {
	var verr *cycle.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest, ErrorResponse{Error: verr.Message, Code: "validation", Field: verr.Field}
	case errors.Is(err, cycle.ErrStaleAggregate):
		return http.StatusInternalServerError, ErrorResponse{Error: err.Error(), Code: "stale_aggregate"}
	case errors.Is(err, db.ErrNotFound), errors.Is(err, live.ErrSessionNotFound), errors.Is(err, routing.ErrNoRoute):
		return http.StatusNotFound, ErrorResponse{Error: err.Error(), Code: "not_found"}
	case errors.Is(err, db.ErrPermissionDenied), errors.Is(err, live.ErrNotSessionDriver):
		return http.StatusForbidden, ErrorResponse{Error: err.Error(), Code: "permission"}
	case errors.Is(err, cycle.ErrCycleFinished), errors.Is(err, cycle.ErrEventNotEditable), errors.Is(err, cycle.ErrEventNotDeletable):
		return http.StatusConflict, ErrorResponse{Error: err.Error(), Code: "conflict"}
	case errors.Is(err, db.ErrInvalidID), errors.Is(err, live.ErrInvalidPosition), errors.Is(err, live.ErrNoCycle),
		errors.Is(err, live.ErrMissingRoutePoint), errors.Is(err, routing.ErrEmptyQuery), errors.Is(err, errBadRequest):
		return http.StatusBadRequest, ErrorResponse{Error: err.Error(), Code: "bad_request"}
	case errors.Is(err, routing.ErrUnavailable):
		return http.StatusBadGateway, ErrorResponse{Error: err.Error(), Code: "upstream"}
	default:
		return http.StatusInternalServerError, ErrorResponse{Error: "internal error", Code: "internal"}
	}
}

var errBadRequest = errors.New("bad request")

// decodeJSON reads a JSON body into v. An empty body leaves v untouched.
func decodeJSON(r *http.Request, v any) error {
	body, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return errors.Join(errBadRequest, err)
	}
	if len(body) == 0 {
		return nil
	}
	if err := json.Unmarshal(body, v); err != nil {
		return errors.Join(errBadRequest, err)
	}
	return nil
}

func claimsFrom(r *http.Request) (*models.Claims, bool) {
	claims, ok := middleware.GetUserFromContext(r.Context())
	if !ok || claims.UserID == "" {
		return nil, false
	}
	return claims, true
}

// authorized wraps a handler that needs the caller's identity.
func authorized(fn func(w http.ResponseWriter, r *http.Request, claims *models.Claims)) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := claimsFrom(r)
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		fn(w, r, claims)
	}
}
