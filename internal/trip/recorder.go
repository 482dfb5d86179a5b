// Package trip records a driven path from a live position feed and hands it
// to a cycle as a single route payload.
package trip

import (
	"math"
	"sync"
	"time"

	"github.com/ukydev/fuel-cycle/internal/models"
)

const earthRadiusKm = 6371.0

// Payload is what a finished trip contributes to a cycle. The distance is
// trusted as-is by the cycle.
type Payload struct {
	DistanceTraveledKm float64         `json:"distance_traveled_km"`
	CompletionDate     time.Time       `json:"completion_date"`
	Origin             *models.Place   `json:"origin,omitempty"`
	Destination        *models.Place   `json:"destination,omitempty"`
	Path               []models.LatLng `json:"path,omitempty"`
}

// Recorder accumulates the positions of one trip.
type Recorder struct {
	mu         sync.Mutex
	startedAt  time.Time
	path       []models.LatLng
	distanceKm float64
}

// NewRecorder starts an empty recording.
func NewRecorder(startedAt time.Time) *Recorder {
	return &Recorder{startedAt: startedAt}
}

// ResumeRecorder continues a recording persisted elsewhere. distanceKm is
// taken as-is rather than recomputed from path.
func ResumeRecorder(startedAt time.Time, path []models.LatLng, distanceKm float64) *Recorder {
	return &Recorder{
		startedAt:  startedAt,
		path:       append([]models.LatLng(nil), path...),
		distanceKm: distanceKm,
	}
}

// Add appends a position and returns the heading from the previous one, or
// false for the first fix.
func (r *Recorder) Add(p models.LatLng) (float64, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if len(r.path) == 0 {
		r.path = append(r.path, p)
		return 0, false
	}
	last := r.path[len(r.path)-1]
	r.path = append(r.path, p)
	r.distanceKm += HaversineKm(last, p)
	return Bearing(last, p), true
}

// DistanceKm returns the distance recorded so far.
func (r *Recorder) DistanceKm() float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.distanceKm
}

// StartedAt returns when the recording began.
func (r *Recorder) StartedAt() time.Time {
	return r.startedAt
}

// Finish closes the recording into a payload. The origin is the first
// recorded position.
func (r *Recorder) Finish(destination *models.Place, at time.Time) Payload {
	r.mu.Lock()
	defer r.mu.Unlock()

	p := Payload{
		DistanceTraveledKm: r.distanceKm,
		CompletionDate:     at,
		Destination:        destination,
		Path:               append([]models.LatLng(nil), r.path...),
	}
	if len(r.path) > 0 {
		first := r.path[0]
		p.Origin = &models.Place{Position: &first}
	}
	return p
}

// HaversineKm returns the great-circle distance between a and b.
func HaversineKm(a, b models.LatLng) float64 {
	dLat := (b.Lat - a.Lat) * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	s := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1)*math.Cos(lat2)*math.Sin(dLng/2)*math.Sin(dLng/2)
	c := 2 * math.Atan2(math.Sqrt(s), math.Sqrt(1-s))
	return earthRadiusKm * c
}

// Bearing returns the initial heading from a to b in degrees clockwise from
// north, in [0, 360).
func Bearing(a, b models.LatLng) float64 {
	lat1 := a.Lat * math.Pi / 180
	lat2 := b.Lat * math.Pi / 180
	dLng := (b.Lng - a.Lng) * math.Pi / 180
	y := math.Sin(dLng) * math.Cos(lat2)
	x := math.Cos(lat1)*math.Sin(lat2) - math.Sin(lat1)*math.Cos(lat2)*math.Cos(dLng)
	deg := math.Atan2(y, x) * 180 / math.Pi
	return math.Mod(deg+360, 360)
}

// PathDistanceKm sums the haversine distance along path.
func PathDistanceKm(path []models.LatLng) float64 {
	var total float64
	for i := 1; i < len(path); i++ {
		total += HaversineKm(path[i-1], path[i])
	}
	return total
}
