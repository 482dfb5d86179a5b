package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"sync/atomic"

	"github.com/gorilla/websocket"
	log "github.com/sirupsen/logrus"
	"go.mongodb.org/mongo-driver/bson/primitive"

	"github.com/ukydev/fuel-cycle/internal/cycle"
	"github.com/ukydev/fuel-cycle/internal/db"
	"github.com/ukydev/fuel-cycle/internal/history"
	"github.com/ukydev/fuel-cycle/internal/live"
	"github.com/ukydev/fuel-cycle/internal/metrics"
	"github.com/ukydev/fuel-cycle/internal/models"
	"github.com/ukydev/fuel-cycle/internal/reconcile"
	"github.com/ukydev/fuel-cycle/internal/view"
)

// StreamMessage is the payload of an error pushed over a websocket.
type StreamMessage struct {
	Error      string           `json:"error"`
	Code       string           `json:"code"`
	Collection models.EventKind `json:"collection,omitempty"`
}

// CycleSnapshot is pushed on every change of the viewed cycle. Complete is
// false while some of the backing collections have not reported yet.
type CycleSnapshot struct {
	*cycle.View
	Complete bool `json:"complete"`
}

// StreamHandler serves the websocket endpoints.
type StreamHandler struct {
	watcher  db.Watcher
	sessions SessionService
	hub      *live.Hub
	upgrader websocket.Upgrader
	log      *log.Entry
}

// NewStreamHandler creates a new websocket handler
func NewStreamHandler(watcher db.Watcher, sessions SessionService, hub *live.Hub, logger *log.Entry) *StreamHandler {
	if logger == nil {
		logger = log.WithField("component", "stream_handler")
	}
	return &StreamHandler{
		watcher:  watcher,
		sessions: sessions,
		hub:      hub,
		upgrader: websocket.Upgrader{
			// Browsers authenticate with the token query parameter instead.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		log: logger,
	}
}

// Register adds the websocket routes to mux.
func (h *StreamHandler) Register(mux *http.ServeMux) {
	mux.Handle("GET /ws/cycles", authorized(h.Cycles))
	mux.Handle("GET /ws/sessions/{id}", authorized(h.Session))
}

// Cycles drives one client's screen mode. Commands come in as view.Command
// frames; the active mode and, while a cycle is open, its merged history are
// pushed back.
func (h *StreamHandler) Cycles(w http.ResponseWriter, r *http.Request, claims *models.Claims) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.log.WithError(err).Warn("Websocket upgrade failed")
		return
	}
	gauge := metrics.WebsocketClients.WithLabelValues("cycles")
	gauge.Inc()
	defer gauge.Dec()

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()

	client := live.NewClient(nil, conn, "")
	sub := &cycleWatch{
		watcher: h.watcher,
		userID:  claims.UserID,
		client:  client,
		log:     h.log.WithField("user_id", claims.UserID),
	}
	defer sub.stop()

	machine := view.NewMachine(func(from, to view.Mode) {
		client.Send(live.MsgMode, to)
		switch to.Kind {
		case view.Viewing, view.Report:
			sub.open(ctx, to.CycleID)
		case view.Creating, view.Home:
			sub.stop()
		}
	})

	go client.WritePump()
	client.Send(live.MsgMode, machine.Mode())
	client.ReadPump(func(data []byte) {
		var cmd view.Command
		if err := json.Unmarshal(data, &cmd); err != nil {
			client.Send(live.MsgError, StreamMessage{Error: "malformed command", Code: "bad_request"})
			return
		}
		if _, err := machine.Apply(ctx, cmd); err != nil {
			client.Send(live.MsgError, StreamMessage{Error: err.Error(), Code: "invalid_transition"})
		}
	})
}

// Session follows a live session for a co-pilot. A session that no longer
// exists is reported as ended right away.
func (h *StreamHandler) Session(w http.ResponseWriter, r *http.Request, _ *models.Claims) {
	sessionID := r.PathValue("id")
	session, err := h.sessions.Get(r.Context(), sessionID)
	if err != nil && !errors.Is(err, live.ErrSessionNotFound) {
		h.log.WithError(err).WithField("session_id", sessionID).Error("Failed to load live session")
		writeError(w, err)
		return
	}

	conn, upErr := h.upgrader.Upgrade(w, r, nil)
	if upErr != nil {
		h.log.WithError(upErr).Warn("Websocket upgrade failed")
		return
	}
	gauge := metrics.WebsocketClients.WithLabelValues("sessions")
	gauge.Inc()
	defer gauge.Dec()

	if session == nil {
		client := live.NewClient(nil, conn, live.SessionTopic(sessionID))
		client.Send(live.MsgSessionEnded, map[string]string{"session_id": sessionID})
		go client.WritePump()
		client.Unregister()
		return
	}

	client := live.NewClient(h.hub, conn, live.SessionTopic(sessionID))
	client.Register()
	client.Send(live.MsgSnapshot, session)
	go client.WritePump()
	client.ReadPump(nil)
}

// cycleWatch is the subscription of one client to the cycle it is viewing.
type cycleWatch struct {
	watcher db.Watcher
	userID  string
	client  *live.Client
	log     *log.Entry

	mu      sync.Mutex
	cycleID string
	cancel  context.CancelFunc
}

// open subscribes to cycleID, tearing down any previous subscription.
// Re-opening the cycle already watched is a no-op.
func (s *cycleWatch) open(parent context.Context, cycleID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil && s.cycleID == cycleID {
		return
	}
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}

	objectID, err := primitive.ObjectIDFromHex(cycleID)
	if err != nil {
		s.client.Send(live.MsgError, StreamMessage{Error: "invalid cycle id", Code: "bad_request"})
		return
	}

	ctx, cancel := context.WithCancel(parent)
	s.cycleID = cycleID
	s.cancel = cancel

	var loaded atomic.Bool
	merger := history.NewMerger(models.Cycle{ID: objectID}, func(snap history.Snapshot) {
		if !loaded.Load() || ctx.Err() != nil {
			return
		}
		s.client.Send(live.MsgSnapshot, newCycleSnapshot(snap))
	})

	// Event streams carry no owner, so they open only once the cycle read
	// has proven the caller may see it.
	var streams sync.Once
	go s.run(ctx, "cycle", func() error {
		return s.watcher.WatchCycle(ctx, s.userID, cycleID, func(c *models.Cycle, err error) {
			if err != nil {
				s.report(err, "")
				return
			}
			loaded.Store(true)
			merger.SetCycle(*c)
			streams.Do(func() { s.watchEvents(ctx, cycleID, merger) })
		})
	})
}

func (s *cycleWatch) watchEvents(ctx context.Context, cycleID string, merger *history.Merger) {
	for _, kind := range models.EventKinds {
		go s.run(ctx, string(kind), func() error {
			return s.watcher.WatchEvents(ctx, kind, cycleID, func(records []models.EventRecord, err error) {
				if err != nil {
					s.report(err, kind)
					if errors.Is(err, db.ErrPermissionDenied) {
						merger.Update(kind, nil)
					}
					return
				}
				events, errs := history.FromRecords(records)
				for _, e := range errs {
					s.log.WithError(e).WithField("cycle_id", cycleID).Warn("Skipping unreadable event")
				}
				merger.Update(kind, events)
			})
		})
	}
}

func (s *cycleWatch) run(ctx context.Context, stream string, watch func() error) {
	err := watch()
	if err == nil || ctx.Err() != nil {
		return
	}
	s.log.WithError(err).WithField("stream", stream).Warn("Cycle stream stopped")
	s.client.Send(live.MsgError, StreamMessage{Error: err.Error(), Code: "stream_closed"})
}

func (s *cycleWatch) report(err error, kind models.EventKind) {
	msg := StreamMessage{Error: err.Error(), Collection: kind}
	switch {
	case errors.Is(err, db.ErrPermissionDenied):
		msg.Code = "permission"
	case errors.Is(err, db.ErrNotFound):
		msg.Code = "not_found"
	default:
		msg.Code = "unavailable"
	}
	s.log.WithError(err).WithField("collection", kind).Warn("Cycle stream error")
	s.client.Send(live.MsgError, msg)
}

func (s *cycleWatch) stop() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		s.cancel()
		s.cancel = nil
	}
	s.cycleID = ""
}

func newCycleSnapshot(snap history.Snapshot) CycleSnapshot {
	v := cycle.NewView(snap.Cycle, snap.History)
	complete := snap.Complete()
	if complete {
		v.AggregateStale = reconcile.Cycle(snap.Cycle, snap.History).Aggregate() != snap.Cycle.Aggregate()
	}
	return CycleSnapshot{View: v, Complete: complete}
}
