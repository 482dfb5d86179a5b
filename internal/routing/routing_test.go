package routing

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ukydev/fuel-cycle/internal/models"
)

const osrmBody = `{
  "code": "Ok",
  "routes": [{
    "distance": 12500.0,
    "duration": 900.0,
    "geometry": {"coordinates": [[-43.2, -22.9], [-43.1, -22.8], [-43.0, -22.7]]},
    "legs": [{"steps": [
      {"distance": 500, "name": "Rua A", "maneuver": {"type": "depart", "location": [-43.2, -22.9]}},
      {"distance": 12000, "name": "Avenida B", "maneuver": {"type": "turn", "modifier": "left", "location": [-43.1, -22.8]}},
      {"distance": 0, "name": "", "maneuver": {"type": "arrive", "location": [-43.0, -22.7]}}
    ]}]
  }]
}`

func TestClient_Route(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.True(t, strings.HasPrefix(r.URL.Path, "/route/v1/driving/-43.200000,-22.900000;-43.000000,-22.700000"))
		assert.Equal(t, "true", r.URL.Query().Get("steps"))
		assert.NotEmpty(t, r.Header.Get("User-Agent"))
		w.Write([]byte(osrmBody))
	}))
	defer server.Close()

	client := NewClient(Options{OSRMURL: server.URL})
	from := models.LatLng{Lat: -22.9, Lng: -43.2}
	to := models.LatLng{Lat: -22.7, Lng: -43.0}

	route, err := client.Route(context.Background(), from, to)
	require.NoError(t, err)
	assert.InDelta(t, 12.5, route.DistanceKm, 1e-9)
	assert.InDelta(t, 15.0, route.DurationMin, 1e-9)
	require.Len(t, route.Geometry, 3)
	assert.Equal(t, models.LatLng{Lat: -22.9, Lng: -43.2}, route.Geometry[0])
	require.Len(t, route.Steps, 3)
	assert.Equal(t, "Head out onto Rua A", route.Steps[0].Instruction)
	assert.Equal(t, "Turn left onto Avenida B", route.Steps[1].Instruction)
	assert.Equal(t, "Arrive at destination", route.Steps[2].Instruction)
	assert.Equal(t, models.LatLng{Lat: -22.8, Lng: -43.1}, route.Steps[1].Location)

	_, err = client.Route(context.Background(), from, to)
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load(), "second lookup is served from cache")
}

func TestClient_Route_Errors(t *testing.T) {
	tests := []struct {
		name     string
		status   int
		body     string
		expected error
	}{
		{"no route", http.StatusBadRequest, `{"code":"NoRoute","message":"Impossible route"}`, ErrNoRoute},
		{"empty routes", http.StatusOK, `{"code":"Ok","routes":[]}`, ErrNoRoute},
		{"server error", http.StatusBadGateway, `oops`, ErrUnavailable},
		{"invalid query", http.StatusBadRequest, `{"code":"InvalidQuery","message":"bad"}`, ErrUnavailable},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer server.Close()

			client := NewClient(Options{OSRMURL: server.URL})
			_, err := client.Route(context.Background(), models.LatLng{Lat: 1, Lng: 1}, models.LatLng{Lat: 2, Lng: 2})
			assert.ErrorIs(t, err, tt.expected)
		})
	}
}

func TestClient_Geocode(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		assert.Equal(t, "/search", r.URL.Path)
		assert.Equal(t, "Copacabana", r.URL.Query().Get("q"))
		assert.Equal(t, "json", r.URL.Query().Get("format"))
		w.Write([]byte(`[
			{"display_name": "Copacabana, Rio de Janeiro", "lat": "-22.971", "lon": "-43.182"},
			{"display_name": "broken", "lat": "x", "lon": "1"}
		]`))
	}))
	defer server.Close()

	client := NewClient(Options{NominatimURL: server.URL, CacheTTL: time.Minute})

	places, err := client.Geocode(context.Background(), "  Copacabana ")
	require.NoError(t, err)
	require.Len(t, places, 1)
	assert.Equal(t, "Copacabana, Rio de Janeiro", places[0].Label)
	assert.InDelta(t, -22.971, places[0].Position.Lat, 1e-9)

	_, err = client.Geocode(context.Background(), "copacabana")
	require.NoError(t, err)
	assert.Equal(t, int32(1), calls.Load(), "queries are cached case-insensitively")

	_, err = client.Geocode(context.Background(), "   ")
	assert.ErrorIs(t, err, ErrEmptyQuery)
}

func TestClient_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	server.Close()

	client := NewClient(Options{OSRMURL: server.URL})
	_, err := client.Route(context.Background(), models.LatLng{}, models.LatLng{Lat: 1, Lng: 1})
	assert.ErrorIs(t, err, ErrUnavailable)
}
