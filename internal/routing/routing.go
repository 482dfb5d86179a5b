// Package routing talks to the location and routing providers used by live
// sessions: OSRM for driving routes and Nominatim for forward geocoding.
package routing

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/patrickmn/go-cache"
	log "github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/ukydev/fuel-cycle/internal/metrics"
	"github.com/ukydev/fuel-cycle/internal/models"
)

const (
	DefaultOSRMURL      = "https://router.project-osrm.org"
	DefaultNominatimURL = "https://nominatim.openstreetmap.org"
	userAgent           = "fuel-cycle/1.0 (trip planner)"
)

var (
	ErrNoRoute     = errors.New("no route found")
	ErrEmptyQuery  = errors.New("empty geocode query")
	ErrUnavailable = errors.New("routing provider unavailable")
)

// Provider plans driving routes and resolves place names.
type Provider interface {
	Route(ctx context.Context, from, to models.LatLng) (*models.RouteData, error)
	Geocode(ctx context.Context, query string) ([]models.Place, error)
}

// Options configures a Client. Zero values pick the public endpoints and a
// ten minute cache.
type Options struct {
	OSRMURL      string
	NominatimURL string
	CacheTTL     time.Duration
	HTTPClient   *http.Client
	Logger       *log.Entry
}

// Client is a Provider backed by OSRM and Nominatim with an in-memory cache.
type Client struct {
	osrmURL      string
	nominatimURL string
	httpClient   *http.Client
	cache        *cache.Cache
	// Nominatim's usage policy allows one request per second.
	nominatim *rate.Limiter
	log       *log.Entry
}

// NewClient creates a routing client.
func NewClient(opts Options) *Client {
	if opts.OSRMURL == "" {
		opts.OSRMURL = DefaultOSRMURL
	}
	if opts.NominatimURL == "" {
		opts.NominatimURL = DefaultNominatimURL
	}
	if opts.CacheTTL <= 0 {
		opts.CacheTTL = 10 * time.Minute
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 10 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = log.WithField("component", "routing")
	}
	return &Client{
		osrmURL:      strings.TrimRight(opts.OSRMURL, "/"),
		nominatimURL: strings.TrimRight(opts.NominatimURL, "/"),
		httpClient:   opts.HTTPClient,
		cache:        cache.New(opts.CacheTTL, 2*opts.CacheTTL),
		nominatim:    rate.NewLimiter(rate.Every(time.Second), 1),
		log:          opts.Logger,
	}
}

type osrmResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Routes  []struct {
		Distance float64 `json:"distance"` // meters
		Duration float64 `json:"duration"` // seconds
		Geometry struct {
			Coordinates [][]float64 `json:"coordinates"`
		} `json:"geometry"`
		Legs []struct {
			Steps []osrmStep `json:"steps"`
		} `json:"legs"`
	} `json:"routes"`
}

type osrmStep struct {
	Distance float64 `json:"distance"`
	Name     string  `json:"name"`
	Maneuver struct {
		Type     string    `json:"type"`
		Modifier string    `json:"modifier"`
		Location []float64 `json:"location"`
	} `json:"maneuver"`
}

// Route returns the driving route between two points.
func (c *Client) Route(ctx context.Context, from, to models.LatLng) (*models.RouteData, error) {
	key := fmt.Sprintf("route:%.4f,%.4f;%.4f,%.4f", from.Lat, from.Lng, to.Lat, to.Lng)
	if cached, ok := c.cache.Get(key); ok {
		metrics.RoutingRequests.WithLabelValues("route", "hit").Inc()
		route := cached.(models.RouteData)
		return &route, nil
	}
	metrics.RoutingRequests.WithLabelValues("route", "miss").Inc()

	// OSRM takes lon,lat pairs.
	apiURL := fmt.Sprintf("%s/route/v1/driving/%.6f,%.6f;%.6f,%.6f?overview=full&geometries=geojson&steps=true",
		c.osrmURL, from.Lng, from.Lat, to.Lng, to.Lat)

	var obj osrmResponse
	if err := c.getJSON(ctx, apiURL, &obj); err != nil {
		return nil, fmt.Errorf("osrm route: %w", err)
	}
	if obj.Code != "" && obj.Code != "Ok" {
		if obj.Code == "NoRoute" {
			return nil, ErrNoRoute
		}
		return nil, fmt.Errorf("osrm route: %s: %s: %w", obj.Code, obj.Message, ErrUnavailable)
	}
	if len(obj.Routes) == 0 || len(obj.Routes[0].Geometry.Coordinates) < 2 {
		return nil, ErrNoRoute
	}

	best := obj.Routes[0]
	route := models.RouteData{
		Origin:      models.Place{Position: &from},
		Destination: models.Place{Position: &to},
		DistanceKm:  best.Distance / 1000,
		DurationMin: best.Duration / 60,
		Geometry:    make([]models.LatLng, 0, len(best.Geometry.Coordinates)),
	}
	for _, coord := range best.Geometry.Coordinates {
		if len(coord) < 2 {
			continue
		}
		route.Geometry = append(route.Geometry, models.LatLng{Lat: coord[1], Lng: coord[0]})
	}
	for _, leg := range best.Legs {
		for _, step := range leg.Steps {
			rs := models.RouteStep{
				Instruction: instruction(step),
				DistanceKm:  step.Distance / 1000,
			}
			if len(step.Maneuver.Location) >= 2 {
				rs.Location = models.LatLng{Lat: step.Maneuver.Location[1], Lng: step.Maneuver.Location[0]}
			}
			route.Steps = append(route.Steps, rs)
		}
	}

	c.cache.SetDefault(key, route)
	c.log.WithFields(log.Fields{
		"distance_km": route.DistanceKm,
		"steps":       len(route.Steps),
	}).Debug("Planned route via OSRM")
	return &route, nil
}

// instruction renders an OSRM maneuver as a short sentence.
func instruction(s osrmStep) string {
	var b strings.Builder
	switch s.Maneuver.Type {
	case "depart":
		b.WriteString("Head out")
	case "arrive":
		return "Arrive at destination"
	case "roundabout", "rotary":
		b.WriteString("Take the roundabout")
	default:
		t := s.Maneuver.Type
		if t == "" {
			t = "continue"
		}
		b.WriteString(strings.ToUpper(t[:1]) + t[1:])
		if s.Maneuver.Modifier != "" {
			b.WriteString(" " + s.Maneuver.Modifier)
		}
	}
	if s.Name != "" {
		b.WriteString(" onto " + s.Name)
	}
	return b.String()
}

type nominatimResult struct {
	DisplayName string `json:"display_name"`
	Lat         string `json:"lat"`
	Lon         string `json:"lon"`
}

// Geocode resolves a free-text query into up to five places.
func (c *Client) Geocode(ctx context.Context, query string) ([]models.Place, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	key := "geocode:" + strings.ToLower(query)
	if cached, ok := c.cache.Get(key); ok {
		metrics.RoutingRequests.WithLabelValues("geocode", "hit").Inc()
		return cached.([]models.Place), nil
	}
	metrics.RoutingRequests.WithLabelValues("geocode", "miss").Inc()

	if err := c.nominatim.Wait(ctx); err != nil {
		return nil, fmt.Errorf("nominatim throttle: %w", err)
	}

	params := url.Values{}
	params.Set("q", query)
	params.Set("format", "json")
	params.Set("limit", "5")
	apiURL := c.nominatimURL + "/search?" + params.Encode()

	var results []nominatimResult
	if err := c.getJSON(ctx, apiURL, &results); err != nil {
		return nil, fmt.Errorf("nominatim search: %w", err)
	}

	places := make([]models.Place, 0, len(results))
	for _, r := range results {
		lat, err := strconv.ParseFloat(r.Lat, 64)
		if err != nil {
			continue
		}
		lng, err := strconv.ParseFloat(r.Lon, 64)
		if err != nil {
			continue
		}
		places = append(places, models.Place{Label: r.DisplayName, Position: &models.LatLng{Lat: lat, Lng: lng}})
	}

	c.cache.SetDefault(key, places)
	c.log.WithFields(log.Fields{"query": query, "results": len(places)}).Debug("Geocoded via Nominatim")
	return places, nil
}

func (c *Client) getJSON(ctx context.Context, apiURL string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, apiURL, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("send request: %w", errors.Join(ErrUnavailable, err))
	}
	defer resp.Body.Close()

	// OSRM reports NoRoute with a 400 and a JSON body.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusBadRequest {
		return fmt.Errorf("status %d: %w", resp.StatusCode, ErrUnavailable)
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode response: %w", err)
	}
	return nil
}
