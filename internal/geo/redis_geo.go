package geo

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-lifecycle/internal/models"
)

// RedisGeo implements Locator using Redis GEO commands.
type RedisGeo struct {
	client *redis.Client
	key    string
}

func NewRedisGeo(client *redis.Client, key string) *RedisGeo {
	return &RedisGeo{client: client, key: key}
}

func (r *RedisGeo) Update(ctx context.Context, driverID string, c models.Coord) error {
	if err := r.client.GeoAdd(ctx, r.key, &redis.GeoLocation{Longitude: c.Lon, Latitude: c.Lat, Name: driverID}).Err(); err != nil {
		return err
	}
	return r.client.HSet(ctx, metaKey(driverID), "location_updated", time.Now().UTC().Format(time.RFC3339)).Err()
}

// Position returns the GEO member and its location_updated stamp. A member
// without a stamp comes back with a zero UpdatedAt, which any age limit
// treats as stale.
func (r *RedisGeo) Position(ctx context.Context, driverID string) (Fix, bool, error) {
	res, err := r.client.GeoPos(ctx, r.key, driverID).Result()
	if err != nil {
		return Fix{}, false, err
	}
	if len(res) == 0 || res[0] == nil {
		return Fix{}, false, nil
	}
	f := Fix{Coord: models.Coord{Lat: res[0].Latitude, Lon: res[0].Longitude}}
	stamp, err := r.client.HGet(ctx, metaKey(driverID), "location_updated").Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return Fix{}, false, err
	}
	f.UpdatedAt = parseStamp(stamp)
	return f, true, nil
}

func parseStamp(v string) time.Time {
	ts, err := time.Parse(time.RFC3339, v)
	if err != nil {
		return time.Time{}
	}
	return ts
}

func metaKey(id string) string { return "driver:meta:" + id }
