// Package live runs trips in progress: the driver's live session document,
// the recorder that measures the trip and the feed co-pilots watch.
package live

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fuel-cycle/internal/cycle"
	"github.com/ukydev/fuel-cycle/internal/db"
	"github.com/ukydev/fuel-cycle/internal/metrics"
	"github.com/ukydev/fuel-cycle/internal/models"
	"github.com/ukydev/fuel-cycle/internal/routing"
	"github.com/ukydev/fuel-cycle/internal/trip"
)

var (
	ErrSessionNotFound   = errors.New("live session not found")
	ErrNotSessionDriver  = errors.New("only the driver can change a live session")
	ErrNoCycle           = errors.New("no cycle to record the trip in")
	ErrInvalidPosition   = errors.New("invalid position")
	ErrMissingRoutePoint = errors.New("route needs an origin and a destination position")
)

// RouteRecorder adds a finished trip to a cycle.
type RouteRecorder interface {
	AddRoute(ctx context.Context, userID, cycleID string, p trip.Payload) (*cycle.View, error)
}

// Service manages live sessions.
type Service struct {
	sessions db.LiveSessionCollection
	routes   routing.Provider
	cycles   RouteRecorder
	pub      Publisher
	log      *log.Entry
	now      func() time.Time
}

// NewService creates a live session service. routes may be nil when no
// routing provider is configured.
func NewService(sessions db.LiveSessionCollection, routes routing.Provider, cycles RouteRecorder, pub Publisher, logger *log.Entry) *Service {
	if logger == nil {
		logger = log.WithField("component", "live")
	}
	return &Service{
		sessions: sessions,
		routes:   routes,
		cycles:   cycles,
		pub:      pub,
		log:      logger,
		now:      func() time.Time { return time.Now().UTC() },
	}
}

// Start opens a live session for driverID. cycleID is the cycle the trip
// will be recorded in and may be chosen later.
func (s *Service) Start(ctx context.Context, driverID, cycleID string) (*models.LiveSession, error) {
	now := s.now()
	session := models.LiveSession{
		ID:        uuid.NewString(),
		DriverID:  driverID,
		CycleID:   cycleID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	if err := s.sessions.InsertSession(ctx, session); err != nil {
		return nil, fmt.Errorf("insert live session: %w", err)
	}
	metrics.LiveSessions.WithLabelValues("started").Inc()
	s.log.WithFields(log.Fields{"session_id": session.ID, "driver_id": driverID}).Info("Started live session")
	return &session, nil
}

// Get returns a session. Any signed-in user can watch a session by id.
func (s *Service) Get(ctx context.Context, sessionID string) (*models.LiveSession, error) {
	session, err := s.sessions.FindSessionByID(ctx, sessionID)
	if errors.Is(err, db.ErrNotFound) {
		return nil, ErrSessionNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("find live session: %w", err)
	}
	return session, nil
}

// UpdatePosition records a fix from the driver and pushes it to co-pilots.
// The heading is derived from the previous fix when the device sends none.
// The fix counts towards the trip only once the store accepted it.
func (s *Service) UpdatePosition(ctx context.Context, sessionID, driverID string, upd models.PositionUpdate, source string) (*models.LiveSession, error) {
	if !validPosition(upd.Position) {
		return nil, ErrInvalidPosition
	}
	session, err := s.owned(ctx, sessionID, driverID)
	if err != nil {
		return nil, err
	}

	rec := recorderFor(*session)
	heading, ok := rec.Add(upd.Position)
	if upd.Heading == nil && ok {
		upd.Heading = &heading
	}
	if upd.At.IsZero() {
		upd.At = s.now()
	}
	legKm := rec.DistanceKm() - session.DistanceKm
	if err := s.sessions.UpdatePosition(ctx, sessionID, upd, legKm); err != nil {
		return nil, fmt.Errorf("update position: %w", err)
	}
	metrics.PositionUpdates.WithLabelValues(source).Inc()

	pos := upd.Position
	session.Position = &pos
	session.Path = append(session.Path, pos)
	session.DistanceKm += legKm
	if upd.Heading != nil {
		session.Heading = upd.Heading
	}
	if upd.CurrentStepIndex != nil {
		session.CurrentStepIndex = upd.CurrentStepIndex
	}
	session.UpdatedAt = upd.At
	s.publish(SessionTopic(sessionID), MsgSessionUpdate, session)
	return session, nil
}

// PlanRoute asks the routing provider for a route and stores it on the
// session. A missing origin position defaults to the driver's last fix and a
// destination given only by label is geocoded.
func (s *Service) PlanRoute(ctx context.Context, sessionID, driverID string, origin, destination models.Place) (*models.LiveSession, error) {
	if s.routes == nil {
		return nil, routing.ErrUnavailable
	}
	session, err := s.owned(ctx, sessionID, driverID)
	if err != nil {
		return nil, err
	}
	if origin.Position == nil {
		origin.Position = session.Position
	}
	if destination.Position == nil && destination.Label != "" {
		places, err := s.routes.Geocode(ctx, destination.Label)
		if err != nil {
			return nil, fmt.Errorf("geocode destination: %w", err)
		}
		if len(places) == 0 {
			return nil, routing.ErrNoRoute
		}
		destination.Position = places[0].Position
	}
	if origin.Position == nil || destination.Position == nil {
		return nil, ErrMissingRoutePoint
	}

	route, err := s.routes.Route(ctx, *origin.Position, *destination.Position)
	if err != nil {
		return nil, fmt.Errorf("plan route: %w", err)
	}
	route.Origin = origin
	route.Destination = destination
	if err := s.sessions.UpdateRoute(ctx, sessionID, *route); err != nil {
		return nil, fmt.Errorf("store route: %w", err)
	}

	step := 0
	session.RouteData = route
	session.CurrentStepIndex = &step
	session.UpdatedAt = s.now()
	s.publish(SessionTopic(sessionID), MsgSessionUpdate, session)
	s.log.WithFields(log.Fields{"session_id": sessionID, "distance_km": route.DistanceKm}).Info("Planned route")
	return session, nil
}

// Complete ends the trip and records it as a route event of the cycle. The
// session stays open when the cycle rejects the trip so the driver can
// retry.
func (s *Service) Complete(ctx context.Context, sessionID, driverID, cycleID string, destination *models.Place) (*cycle.View, error) {
	session, err := s.owned(ctx, sessionID, driverID)
	if err != nil {
		return nil, err
	}
	if cycleID == "" {
		cycleID = session.CycleID
	}
	if cycleID == "" {
		return nil, ErrNoCycle
	}
	if destination == nil && session.RouteData != nil {
		dest := session.RouteData.Destination
		destination = &dest
	}

	payload := recorderFor(*session).Finish(destination, s.now())
	view, err := s.cycles.AddRoute(ctx, driverID, cycleID, payload)
	if err != nil && !errors.Is(err, cycle.ErrStaleAggregate) {
		return nil, fmt.Errorf("record trip: %w", err)
	}

	if endErr := s.end(ctx, sessionID); endErr != nil {
		s.log.WithError(endErr).WithField("session_id", sessionID).Warn("Failed to close completed live session")
	}
	s.log.WithFields(log.Fields{
		"session_id":  sessionID,
		"cycle_id":    cycleID,
		"distance_km": payload.DistanceTraveledKm,
	}).Info("Completed trip")
	return view, err
}

// End closes a session without recording the trip. Ending a session that is
// already gone succeeds.
func (s *Service) End(ctx context.Context, sessionID, driverID string) error {
	_, err := s.owned(ctx, sessionID, driverID)
	if errors.Is(err, ErrSessionNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	return s.end(ctx, sessionID)
}

// SweepStale deletes sessions not updated within maxAge, such as those left
// behind by a driver who closed the app mid-trip.
func (s *Service) SweepStale(ctx context.Context, maxAge time.Duration) (int, error) {
	ids, err := s.sessions.DeleteStaleSessions(ctx, s.now().Add(-maxAge))
	if err != nil {
		return 0, fmt.Errorf("delete stale sessions: %w", err)
	}
	metrics.LiveSessions.WithLabelValues("swept").Add(float64(len(ids)))
	for _, id := range ids {
		s.publish(SessionTopic(id), MsgSessionEnded, map[string]string{"session_id": id, "reason": "stale"})
	}
	if len(ids) > 0 {
		s.log.WithField("sessions", len(ids)).Info("Swept stale live sessions")
	}
	return len(ids), nil
}

// RunSweeper calls SweepStale every interval until ctx is done.
func (s *Service) RunSweeper(ctx context.Context, interval, maxAge time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if _, err := s.SweepStale(ctx, maxAge); err != nil {
				s.log.WithError(err).Error("Live session sweep failed")
			}
		}
	}
}

func (s *Service) end(ctx context.Context, sessionID string) error {
	err := s.sessions.DeleteSession(ctx, sessionID)
	switch {
	case err == nil:
		metrics.LiveSessions.WithLabelValues("closed").Inc()
	case !errors.Is(err, db.ErrNotFound):
		return fmt.Errorf("delete live session: %w", err)
	}
	s.publish(SessionTopic(sessionID), MsgSessionEnded, map[string]string{"session_id": sessionID, "reason": "ended"})
	s.log.WithField("session_id", sessionID).Info("Ended live session")
	return nil
}

func (s *Service) owned(ctx context.Context, sessionID, driverID string) (*models.LiveSession, error) {
	session, err := s.Get(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.DriverID != driverID {
		return nil, ErrNotSessionDriver
	}
	return session, nil
}

// recorderFor picks up the trip recorded on session.
func recorderFor(session models.LiveSession) *trip.Recorder {
	return trip.ResumeRecorder(session.CreatedAt, session.Path, session.DistanceKm)
}

func (s *Service) publish(topic, msgType string, data any) {
	if s.pub != nil {
		s.pub.Publish(topic, msgType, data)
	}
}

func validPosition(p models.LatLng) bool {
	return !math.IsNaN(p.Lat) && !math.IsNaN(p.Lng) &&
		math.Abs(p.Lat) <= 90 && math.Abs(p.Lng) <= 180
}
