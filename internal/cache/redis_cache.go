package cache

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-lifecycle/internal/models"
)

var errStaleVersion = errors.New("cache key invalidated since read")

// Redis shares cached ride lists across API instances. Each list key has a
// companion generation counter that Invalidate increments.
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewRedis(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Redis {
	if logger == nil {
		logger = slog.Default()
	}
	return &Redis{client: client, ttl: ttl, logger: logger}
}

func genKey(key string) string { return key + ":gen" }

func (r *Redis) Get(ctx context.Context, key string) ([]*models.Ride, bool) {
	b, err := r.client.Get(ctx, key).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			r.logger.Warn("cache_get_failed", "key", key, "error", err)
		}
		return nil, false
	}
	rides, err := decodeRides(b)
	if err != nil {
		r.logger.Warn("cache_decode_failed", "key", key, "error", err)
		return nil, false
	}
	return rides, true
}

func (r *Redis) Version(ctx context.Context, key string) (uint64, error) {
	return readGen(ctx, r.client, key)
}

// Set writes rides under WATCH of the generation key, so an Invalidate that
// lands between Version and Set wins.
func (r *Redis) Set(ctx context.Context, key string, version uint64, rides []*models.Ride) {
	b, err := json.Marshal(rides)
	if err != nil {
		return
	}
	err = r.client.Watch(ctx, func(tx *redis.Tx) error {
		cur, err := readGen(ctx, tx, key)
		if err != nil {
			return err
		}
		if cur != version {
			return errStaleVersion
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key, b, r.ttl)
			return nil
		})
		return err
	}, genKey(key))
	if err := classifySetErr(err); err != nil {
		r.logger.Warn("cache_set_failed", "key", key, "error", err)
	}
}

func (r *Redis) Invalidate(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	_, err := r.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Del(ctx, keys...)
		for _, k := range keys {
			pipe.Incr(ctx, genKey(k))
		}
		return nil
	})
	return err
}

type getter interface {
	Get(ctx context.Context, key string) *redis.StringCmd
}

func readGen(ctx context.Context, g getter, key string) (uint64, error) {
	v, err := g.Get(ctx, genKey(key)).Uint64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

// classifySetErr drops the outcomes where skipping the write is correct: the
// key moved on, or a concurrent writer touched it during the transaction.
func classifySetErr(err error) error {
	if errors.Is(err, errStaleVersion) || errors.Is(err, redis.TxFailedErr) {
		return nil
	}
	return err
}

func decodeRides(b []byte) ([]*models.Ride, error) {
	var rides []*models.Ride
	if err := json.Unmarshal(b, &rides); err != nil {
		return nil, err
	}
	return rides, nil
}
