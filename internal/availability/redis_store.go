package availability

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/example/ride-lifecycle/internal/models"
)

const (
	eligibleSetKey = "drivers:eligible"
	maxTxAttempts  = 5
)

var errContention = errors.New("too much contention")

// RedisStore keeps each record in a hash and mirrors eligibility into a set
// so the eligible pool can be read without scanning.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func availabilityKey(id string) string { return "driver:availability:" + id }

func (r *RedisStore) Get(ctx context.Context, driverID string) (models.DriverAvailability, error) {
	m, err := r.client.HGetAll(ctx, availabilityKey(driverID)).Result()
	if err != nil {
		return models.DriverAvailability{}, err
	}
	return decodeRecord(driverID, m)
}

func (r *RedisStore) Create(ctx context.Context, rec models.DriverAvailability) (models.DriverAvailability, error) {
	key := availabilityKey(rec.DriverID)
	out := rec
	err := r.withRetry(ctx, key, func(tx *redis.Tx) error {
		m, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		if len(m) > 0 {
			out, err = decodeRecord(rec.DriverID, m)
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			write(ctx, pipe, rec)
			return nil
		})
		return err
	})
	return out, err
}

func (r *RedisStore) Update(ctx context.Context, driverID string, fn func(*models.DriverAvailability) error) (models.DriverAvailability, error) {
	key := availabilityKey(driverID)
	var out models.DriverAvailability
	err := r.withRetry(ctx, key, func(tx *redis.Tx) error {
		m, err := tx.HGetAll(ctx, key).Result()
		if err != nil {
			return err
		}
		cur, err := decodeRecord(driverID, m)
		if err != nil {
			return err
		}
		out = cur
		next := cur
		if err := fn(&next); err != nil {
			return err
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			write(ctx, pipe, next)
			return nil
		})
		if err == nil {
			out = next
		}
		return err
	})
	return out, err
}

func (r *RedisStore) EligibleDrivers(ctx context.Context) ([]string, error) {
	ids, err := r.client.SMembers(ctx, eligibleSetKey).Result()
	if err != nil {
		return nil, err
	}
	sort.Strings(ids)
	return ids, nil
}

// withRetry runs fn under WATCH and retries when another writer got in first.
func (r *RedisStore) withRetry(ctx context.Context, key string, fn func(tx *redis.Tx) error) error {
	return retryOnTxFailed(key, func() error { return r.client.Watch(ctx, fn, key) })
}

func retryOnTxFailed(key string, attempt func() error) error {
	for i := 0; i < maxTxAttempts; i++ {
		err := attempt()
		if errors.Is(err, redis.TxFailedErr) {
			continue
		}
		return err
	}
	return fmt.Errorf("update %s: %w", key, errContention)
}

func write(ctx context.Context, pipe redis.Pipeliner, rec models.DriverAvailability) {
	pipe.HSet(ctx, availabilityKey(rec.DriverID), map[string]interface{}{
		"is_available":    strconv.FormatBool(rec.IsAvailable),
		"approval_status": string(rec.ApprovalStatus),
		"updated_at":      rec.UpdatedAt.Format(time.RFC3339Nano),
	})
	if rec.Eligible() {
		pipe.SAdd(ctx, eligibleSetKey, rec.DriverID)
	} else {
		pipe.SRem(ctx, eligibleSetKey, rec.DriverID)
	}
}

func decodeRecord(driverID string, m map[string]string) (models.DriverAvailability, error) {
	if len(m) == 0 {
		return models.DriverAvailability{}, models.ErrDriverNotFound
	}
	approval, err := models.ParseApproval(m["approval_status"])
	if err != nil {
		return models.DriverAvailability{}, fmt.Errorf("driver %s: %w", driverID, err)
	}
	rec := models.DriverAvailability{
		DriverID:       driverID,
		IsAvailable:    m["is_available"] == "true",
		ApprovalStatus: approval,
	}
	if v, ok := m["updated_at"]; ok {
		if ts, err := time.Parse(time.RFC3339Nano, v); err == nil {
			rec.UpdatedAt = ts
		}
	}
	return rec, nil
}
