// Package cache holds read-through ride list caches. Entries are a stale view
// of the ride store and are invalidated after every mutation.
package cache

import (
	"context"
	"sync"
	"time"

	"github.com/example/ride-lifecycle/internal/models"
)

// RideCache is the interface used by the views and the lifecycle engine.
//
// Every Invalidate bumps the key's generation. Readers take Version before
// loading from the store and hand it to Set, which drops the write when the
// key was invalidated in between.
type RideCache interface {
	Get(ctx context.Context, key string) ([]*models.Ride, bool)
	Version(ctx context.Context, key string) (uint64, error)
	Set(ctx context.Context, key string, version uint64, rides []*models.Ride)
	Invalidate(ctx context.Context, keys ...string) error
}

func RiderKey(id string) string  { return "rides:rider:" + id }
func DriverKey(id string) string { return "rides:driver:" + id }

// KeysFor returns the cache keys holding lists that include a ride with the
// given parties.
func KeysFor(riderID, driverID string) []string {
	keys := []string{RiderKey(riderID)}
	if driverID != "" {
		keys = append(keys, DriverKey(driverID))
	}
	return keys
}

// Memory is a tiny in-process cache with a fixed TTL.
type Memory struct {
	mu    sync.RWMutex
	store map[string]cacheEntry
	gens  map[string]uint64
	ttl   time.Duration
}

type cacheEntry struct {
	v  []*models.Ride
	ts time.Time
}

// NewMemory creates a cache with the provided TTL.
func NewMemory(ttl time.Duration) *Memory {
	return &Memory{store: make(map[string]cacheEntry), gens: make(map[string]uint64), ttl: ttl}
}

// Get returns a copy of the cached list and true if present and not expired.
func (c *Memory) Get(_ context.Context, key string) ([]*models.Ride, bool) {
	c.mu.RLock()
	e, ok := c.store[key]
	c.mu.RUnlock()
	if !ok {
		return nil, false
	}
	if time.Since(e.ts) > c.ttl {
		c.mu.Lock()
		delete(c.store, key)
		c.mu.Unlock()
		return nil, false
	}
	return cloneAll(e.v), true
}

func (c *Memory) Version(_ context.Context, key string) (uint64, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.gens[key], nil
}

// Set stores a copy of rides under key unless key was invalidated after
// version was read.
func (c *Memory) Set(_ context.Context, key string, version uint64, rides []*models.Ride) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.gens[key] != version {
		return
	}
	c.store[key] = cacheEntry{v: cloneAll(rides), ts: time.Now()}
}

func (c *Memory) Invalidate(_ context.Context, keys ...string) error {
	c.mu.Lock()
	for _, k := range keys {
		delete(c.store, k)
		c.gens[k]++
	}
	c.mu.Unlock()
	return nil
}

func cloneAll(in []*models.Ride) []*models.Ride {
	out := make([]*models.Ride, len(in))
	for i, r := range in {
		out[i] = r.Clone()
	}
	return out
}

// Nop never caches.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]*models.Ride, bool)  { return nil, false }
func (Nop) Version(context.Context, string) (uint64, error)     { return 0, nil }
func (Nop) Set(context.Context, string, uint64, []*models.Ride) {}
func (Nop) Invalidate(context.Context, ...string) error         { return nil }
