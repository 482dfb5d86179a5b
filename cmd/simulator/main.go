package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	log "github.com/sirupsen/logrus"

	"github.com/ukydev/fuel-cycle/internal/auth"
	"github.com/ukydev/fuel-cycle/internal/cycle"
	"github.com/ukydev/fuel-cycle/internal/handlers"
	"github.com/ukydev/fuel-cycle/internal/live"
	"github.com/ukydev/fuel-cycle/internal/models"
	"github.com/ukydev/fuel-cycle/internal/trip"
)

// Cities for realistic routes
var cities = []models.LatLng{
	{Lat: 51.5074, Lng: -0.1278},  // London
	{Lat: 40.7128, Lng: -74.0060}, // New York
	{Lat: 40.4168, Lng: -3.7038},  // Madrid
	{Lat: 35.1856, Lng: 33.3823},  // Nicosia
	{Lat: 4.7110, Lng: -74.0721},  // Bogotá
	{Lat: 48.8566, Lng: 2.3522},   // Paris
	{Lat: 41.0082, Lng: 28.9784},  // Istanbul
	{Lat: 51.4816, Lng: -3.1791},  // Cardiff
	{Lat: 34.0522, Lng: -118.2437}, // Los Angeles
	{Lat: 52.5200, Lng: 13.4050},   // Berlin
	{Lat: 35.6762, Lng: 139.6503},  // Tokyo
	{Lat: -33.8688, Lng: 151.2093}, // Sydney
	{Lat: -23.5505, Lng: -46.6333}, // São Paulo
	{Lat: 43.6532, Lng: -79.3832},  // Toronto
}

func jitterLocation(base models.LatLng, meters float64) models.LatLng {
	latMetersPerDeg := 111320.0
	lonMetersPerDeg := 111320.0 * math.Cos(base.Lat*math.Pi/180)
	dLat := (rand.Float64()*2 - 1) * (meters / latMetersPerDeg)
	dLon := (rand.Float64()*2 - 1) * (meters / lonMetersPerDeg)
	return models.LatLng{Lat: base.Lat + dLat, Lng: base.Lng + dLon}
}

func randomLocation() models.LatLng {
	base := cities[rand.Intn(len(cities))]
	return jitterLocation(base, 500) // start close to roads
}

// --- API client ---

type apiClient struct {
	baseURL string
	token   string
	http    *http.Client
}

func newAPIClient(baseURL, token string) *apiClient {
	return &apiClient{
		baseURL: strings.TrimRight(baseURL, "/"),
		token:   token,
		http:    &http.Client{Timeout: 10 * time.Second},
	}
}

// do sends body as JSON and decodes a 2xx response into out, which may be nil.
func (c *apiClient) do(ctx context.Context, method, path string, body, out any) error {
	var reader io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal request: %w", err)
		}
		reader = bytes.NewReader(data)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		var apiErr handlers.ErrorResponse
		if json.NewDecoder(resp.Body).Decode(&apiErr) == nil && apiErr.Error != "" {
			return fmt.Errorf("%s %s: status %d: %s", method, path, resp.StatusCode, apiErr.Error)
		}
		return fmt.Errorf("%s %s: status %d", method, path, resp.StatusCode)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode %s response: %w", path, err)
	}
	return nil
}

// createCycle starts a cycle with a full tank and a known consumption so the
// autonomy numbers are meaningful right away.
func (c *apiClient) createCycle(ctx context.Context) (string, error) {
	var view cycle.View
	err := c.do(ctx, http.MethodPost, "/cycles", cycle.CreateCycleInput{
		Name:           fmt.Sprintf("Simulated %s", time.Now().Format("2006-01-02 15:04")),
		InitialMileage: math.Round(10000 + rand.Float64()*90000),
		InitialFuel:    40 + math.Round(rand.Float64()*15),
	}, &view)
	if err != nil {
		return "", err
	}
	cycleID := view.Cycle.ID.Hex()
	rate := 11 + math.Round(rand.Float64()*60)/10
	if err := c.do(ctx, http.MethodPost, "/cycles/"+cycleID+"/consumptions", cycle.ConsumptionInput{Rate: rate}, nil); err != nil {
		return "", err
	}
	log.WithFields(log.Fields{"cycle_id": cycleID, "consumption": rate}).Info("Created cycle")
	return cycleID, nil
}

// --- Position delivery ---

type positionSender interface {
	Send(ctx context.Context, session models.LiveSession, upd models.PositionUpdate) error
}

type httpSender struct {
	api *apiClient
}

func (s httpSender) Send(ctx context.Context, session models.LiveSession, upd models.PositionUpdate) error {
	return s.api.do(ctx, http.MethodPut, "/sessions/"+session.ID+"/position", upd, nil)
}

type mqttSender struct {
	client mqtt.Client
	prefix string
}

func (s mqttSender) Send(ctx context.Context, session models.LiveSession, upd models.PositionUpdate) error {
	payload, err := json.Marshal(live.PositionMessage{DriverID: session.DriverID, PositionUpdate: upd})
	if err != nil {
		return err
	}
	token := s.client.Publish(live.PositionTopic(s.prefix, session.ID), 1, false, payload)
	if !token.WaitTimeout(5 * time.Second) {
		return errors.New("mqtt publish timeout")
	}
	return token.Error()
}

// --- Routing & movement ---

type route struct {
	Points    []models.LatLng
	SegIndex  int
	SegOffset float64 // km along current segment
}

func (r *route) done() bool {
	return r.SegIndex >= len(r.Points)-1
}

func lerp(a, b models.LatLng, t float64) models.LatLng {
	return models.LatLng{Lat: a.Lat + (b.Lat-a.Lat)*t, Lng: a.Lng + (b.Lng-a.Lng)*t}
}

// stepAlongRoute advances km along r and returns the new position.
func stepAlongRoute(r *route, pos models.LatLng, km float64) models.LatLng {
	for km > 0 && !r.done() {
		a := r.Points[r.SegIndex]
		b := r.Points[r.SegIndex+1]
		segLen := trip.HaversineKm(a, b)
		leftOnSeg := segLen - r.SegOffset
		if km >= leftOnSeg {
			// advance to next segment
			pos = b
			r.SegIndex++
			r.SegOffset = 0
			km -= leftOnSeg
			continue
		}
		t := (r.SegOffset + km) / segLen
		pos = lerp(a, b, math.Min(math.Max(t, 0), 1))
		r.SegOffset += km
		km = 0
	}
	return pos
}

// --- Trips ---

type simulator struct {
	api       *apiClient
	sender    positionSender
	interval  time.Duration
	timeScale float64 // simulated seconds per real second
	tripKm    float64
}

// planRoute asks the server for a route through the session, which stores it
// for co-pilots. A straight line is used when routing is unavailable.
func (s *simulator) planRoute(ctx context.Context, session models.LiveSession, start, end models.LatLng) *route {
	var planned models.LiveSession
	err := s.api.do(ctx, http.MethodPut, "/sessions/"+session.ID+"/route", handlers.PlanRouteRequest{
		Origin:      models.Place{Position: &start},
		Destination: models.Place{Label: "Simulated destination", Position: &end},
	}, &planned)
	if err != nil || planned.RouteData == nil || len(planned.RouteData.Geometry) < 2 {
		log.WithError(err).WithField("session_id", session.ID).Warn("Routing unavailable, driving in a straight line")
		return &route{Points: []models.LatLng{start, end}}
	}
	log.WithFields(log.Fields{
		"session_id":  session.ID,
		"distance_km": planned.RouteData.DistanceKm,
		"steps":       len(planned.RouteData.Steps),
	}).Info("Route planned")
	return &route{Points: planned.RouteData.Geometry}
}

// runTrip drives one trip from start through a live session and records it
// in cycleID.
func (s *simulator) runTrip(ctx context.Context, cycleID string, start models.LatLng) (*cycle.View, error) {
	var session models.LiveSession
	if err := s.api.do(ctx, http.MethodPost, "/sessions", handlers.StartSessionRequest{CycleID: cycleID}, &session); err != nil {
		return nil, fmt.Errorf("start session: %w", err)
	}
	log.WithFields(log.Fields{"session_id": session.ID, "cycle_id": cycleID}).Info("Started live session")

	end := jitterLocation(start, s.tripKm*1000)
	r := s.planRoute(ctx, session, start, end)

	pos := start
	speedKmh := 30 + rand.Float64()*30
	tick := time.NewTicker(s.interval)
	defer tick.Stop()
	for !r.done() {
		select {
		case <-ctx.Done():
			// Leave no session behind when interrupted.
			endCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			err := s.api.do(endCtx, http.MethodDelete, "/sessions/"+session.ID, nil, nil)
			cancel()
			if err != nil {
				log.WithError(err).Warn("Failed to end session")
			}
			return nil, ctx.Err()
		case <-tick.C:
		}

		// small speed noise
		speedKmh += (rand.Float64()*2 - 1) * 1.5
		speedKmh = math.Min(math.Max(speedKmh, 15), 90)
		km := speedKmh * (s.interval.Seconds() * s.timeScale / 3600.0)
		pos = stepAlongRoute(r, pos, km)

		upd := models.PositionUpdate{Position: pos, At: time.Now().UTC()}
		if err := s.sender.Send(ctx, session, upd); err != nil {
			log.WithError(err).WithField("session_id", session.ID).Error("Failed to send position")
			continue
		}
		log.WithFields(log.Fields{"session_id": session.ID, "lat": pos.Lat, "lng": pos.Lng}).Debug("Sent position")
	}

	var view cycle.View
	err := s.api.do(ctx, http.MethodPost, "/sessions/"+session.ID+"/complete", handlers.CompleteSessionRequest{
		CycleID:     cycleID,
		Destination: &models.Place{Label: "Simulated destination", Position: &end},
	}, &view)
	if err != nil {
		return nil, fmt.Errorf("complete session: %w", err)
	}
	log.WithFields(log.Fields{
		"session_id":      session.ID,
		"current_mileage": view.Cycle.CurrentMileage,
		"remaining_range": view.Autonomy.RemainingRange,
	}).Info("Trip recorded")
	return &view, nil
}

func getEnv(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func getEnvFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f > 0 {
			return f
		}
	}
	return fallback
}

// resolveToken uses SIM_AUTH_TOKEN, or mints one with JWT_SECRET for
// SIM_USER_ID when the simulator shares the server's secret.
func resolveToken() (string, error) {
	if token := os.Getenv("SIM_AUTH_TOKEN"); token != "" {
		return token, nil
	}
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		return "", errors.New("set SIM_AUTH_TOKEN or JWT_SECRET")
	}
	userID := getEnv("SIM_USER_ID", "simulator")
	return auth.NewService(secret, 24*time.Hour).GenerateToken(userID, userID)
}

func main() {
	token, err := resolveToken()
	if err != nil {
		log.WithError(err).Fatal("No credentials for the API")
	}
	api := newAPIClient(getEnv("API_BASE_URL", "http://localhost:8080/api"), token)

	interval := 2 * time.Second
	if v := os.Getenv("SIM_TICK_SECONDS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			interval = time.Duration(n) * time.Second
		}
	}
	trips := 1
	if v := os.Getenv("SIM_TRIPS"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n >= 1 {
			trips = n
		}
	}

	sim := &simulator{
		api:       api,
		sender:    httpSender{api: api},
		interval:  interval,
		timeScale: getEnvFloat("SIM_TIME_SCALE", 30),
		tripKm:    getEnvFloat("SIM_TRIP_KM", 8),
	}

	if broker := os.Getenv("MQTT_BROKER"); broker != "" {
		mqttLog := log.WithField("component", "mqtt")
		client, err := live.ConnectMQTT(broker, getEnv("SIM_MQTT_CLIENT_ID", "fuel-cycle-simulator"), mqttLog)
		if err != nil {
			log.WithError(err).Fatal("Failed to connect to MQTT broker")
		}
		defer client.Disconnect(250)
		sim.sender = mqttSender{client: client, prefix: getEnv("MQTT_TOPIC_PREFIX", "fuelcycle")}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cycleID := os.Getenv("SIM_CYCLE_ID")
	if cycleID == "" {
		if cycleID, err = api.createCycle(ctx); err != nil {
			log.WithError(err).Fatal("Failed to create cycle")
		}
	}

	log.WithFields(log.Fields{
		"api_url":  api.baseURL,
		"cycle_id": cycleID,
		"trips":    trips,
		"interval": interval,
		"mqtt":     os.Getenv("MQTT_BROKER") != "",
	}).Info("Starting trip simulation")

	pos := randomLocation()
	for i := 0; i < trips; i++ {
		view, err := sim.runTrip(ctx, cycleID, pos)
		if err != nil {
			log.WithError(err).Error("Trip failed")
			return
		}
		if n := len(view.History); n > 0 && view.History[n-1].Destination != nil && view.History[n-1].Destination.Position != nil {
			pos = *view.History[n-1].Destination.Position
		}
	}
	log.Info("Simulation finished")
}
