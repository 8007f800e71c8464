package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fenilmodi00/vin-backend/models"
	"github.com/fenilmodi00/vin-backend/shared"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
)

const (
	redisEnrollmentCacheTag = "RedisEnrollmentCache"
	invalidateScanCount     = 500
)

type statusEntry struct {
	Status models.EnrollmentStatus `json:"status"`
}

// RedisEnrollmentCache stores enrollment statuses and vehicle records as JSON
// strings with a TTL.
type RedisEnrollmentCache struct {
	client redis.UniversalClient
	keys   Keys
}

// NewRedisClient parses url, applies it and pings the server.
func NewRedisClient(ctx context.Context, url string) (*redis.Client, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parse redis URL: %w", err)
	}

	client := redis.NewClient(opts)
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("redis ping failed: %w", err)
	}

	logrus.WithFields(logrus.Fields{
		"component": redisEnrollmentCacheTag,
		"addr":      opts.Addr,
		"db":        opts.DB,
	}).Info("Connected to Redis")

	return client, nil
}

func NewRedisEnrollmentCache(client redis.UniversalClient, keyPrefix string) *RedisEnrollmentCache {
	return &RedisEnrollmentCache{
		client: client,
		keys:   Keys{Prefix: keyPrefix},
	}
}

func (c *RedisEnrollmentCache) GetByVIN(ctx context.Context, vin string) (*models.VehicleRecord, error) {
	var record models.VehicleRecord
	found, err := c.getJSON(ctx, "GetByVIN", c.keys.Vehicle(vin), &record)
	if err != nil || !found {
		return nil, err
	}
	return &record, nil
}

func (c *RedisEnrollmentCache) GetStatus(ctx context.Context, id uuid.UUID) (models.EnrollmentStatus, bool, error) {
	var entry statusEntry
	found, err := c.getJSON(ctx, "GetStatus", c.keys.Enrollment(id), &entry)
	if err != nil || !found {
		return "", false, err
	}
	if !entry.Status.Valid() {
		return "", false, nil
	}
	return entry.Status, true, nil
}

func (c *RedisEnrollmentCache) PutVehicle(ctx context.Context, record *models.VehicleRecord, ttl time.Duration) error {
	return c.setJSON(ctx, "PutVehicle", c.keys.Vehicle(record.VIN), record, ttl)
}

func (c *RedisEnrollmentCache) PutStatus(ctx context.Context, id uuid.UUID, status models.EnrollmentStatus, ttl time.Duration) error {
	return c.setJSON(ctx, "PutStatus", c.keys.Enrollment(id), statusEntry{Status: status}, ttl)
}

// InvalidateAll deletes every key in the enrollment namespace, scanning in
// batches so the server is never blocked by a KEYS call.
func (c *RedisEnrollmentCache) InvalidateAll(ctx context.Context) error {
	var cursor uint64
	removed := 0

	for {
		keys, next, err := c.client.Scan(ctx, cursor, c.keys.EnrollmentPattern(), invalidateScanCount).Result()
		if err != nil {
			return shared.CacheUnavailable(redisEnrollmentCacheTag, "InvalidateAll", err)
		}

		if len(keys) > 0 {
			pipe := c.client.Pipeline()
			for _, key := range keys {
				pipe.Del(ctx, key)
			}
			if _, err := pipe.Exec(ctx); err != nil {
				return shared.CacheUnavailable(redisEnrollmentCacheTag, "InvalidateAll", err)
			}
			removed += len(keys)
		}

		cursor = next
		if cursor == 0 {
			break
		}
	}

	logrus.WithFields(logrus.Fields{
		"component": redisEnrollmentCacheTag,
		"removed":   removed,
	}).Debug("Invalidated enrollment namespace")
	return nil
}

func (c *RedisEnrollmentCache) Ping(ctx context.Context) error {
	if err := c.client.Ping(ctx).Err(); err != nil {
		return shared.CacheUnavailable(redisEnrollmentCacheTag, "Ping", err)
	}
	return nil
}

func (c *RedisEnrollmentCache) getJSON(ctx context.Context, operation, key string, out interface{}) (bool, error) {
	raw, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return false, nil
	}
	if err != nil {
		return false, shared.CacheUnavailable(redisEnrollmentCacheTag, operation, err)
	}

	if err := json.Unmarshal(raw, out); err != nil {
		// A corrupt entry is treated as a miss and removed.
		logrus.WithFields(logrus.Fields{
			"component": redisEnrollmentCacheTag,
			"key":       key,
		}).WithError(err).Warn("Dropping undecodable cache entry")
		c.client.Del(ctx, key)
		return false, nil
	}
	return true, nil
}

func (c *RedisEnrollmentCache) setJSON(ctx context.Context, operation, key string, value interface{}, ttl time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return shared.CacheUnavailable(redisEnrollmentCacheTag, operation, err)
	}
	if err := c.client.Set(ctx, key, raw, ttl).Err(); err != nil {
		return shared.CacheUnavailable(redisEnrollmentCacheTag, operation, err)
	}
	return nil
}
