package geo

import (
	"context"
	"math"
	"sync"
	"time"

	"github.com/example/ride-lifecycle/internal/models"
)

// Locator stores the last position reported by each driver. Positions are
// advisory and only used to order offers.
type Locator interface {
	Update(ctx context.Context, driverID string, c models.Coord) error
	Position(ctx context.Context, driverID string) (Fix, bool, error)
}

// Fix is a reported position and when it was received.
type Fix struct {
	Coord     models.Coord
	UpdatedAt time.Time
}

// Stale reports whether the fix is older than maxAge at now. A zero maxAge
// never expires a fix.
func (f Fix) Stale(now time.Time, maxAge time.Duration) bool {
	return maxAge > 0 && now.Sub(f.UpdatedAt) > maxAge
}

type Index struct {
	mu      sync.RWMutex
	drivers map[string]Fix
	now     func() time.Time
}

func NewIndex() *Index {
	return &Index{drivers: make(map[string]Fix), now: time.Now}
}

func (g *Index) Update(_ context.Context, driverID string, c models.Coord) error {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.drivers[driverID] = Fix{Coord: c, UpdatedAt: g.now().UTC()}
	return nil
}

func (g *Index) Position(_ context.Context, driverID string) (Fix, bool, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()
	f, ok := g.drivers[driverID]
	return f, ok, nil
}

// Haversine distance in meters
func Haversine(lat1, lon1, lat2, lon2 float64) float64 {
	const R = 6371000.0
	dLat := (lat2 - lat1) * math.Pi / 180
	dLon := (lon2 - lon1) * math.Pi / 180
	a := math.Sin(dLat/2)*math.Sin(dLat/2) + math.Cos(lat1*math.Pi/180)*math.Cos(lat2*math.Pi/180)*math.Sin(dLon/2)*math.Sin(dLon/2)
	c := 2 * math.Atan2(math.Sqrt(a), math.Sqrt(1-a))
	return R * c
}

// Distance is Haversine over two coordinates.
func Distance(a, b models.Coord) float64 {
	return Haversine(a.Lat, a.Lon, b.Lat, b.Lon)
}

// ValidCoord reports whether c is a real latitude/longitude pair.
func ValidCoord(c models.Coord) bool {
	return c.Lat >= -90 && c.Lat <= 90 && c.Lon >= -180 && c.Lon <= 180
}
