package cache

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/fenilmodi00/vin-backend/models"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// CacheEntry represents a cached item with expiration
type CacheEntry struct {
	Data      interface{}
	ExpiresAt time.Time
}

// IsExpiredAt checks if the cache entry has expired at the given time
func (ce *CacheEntry) IsExpiredAt(now time.Time) bool {
	return !now.Before(ce.ExpiresAt)
}

// MemoryEnrollmentCache is an in-process cache with per-entry TTL and a size
// bound. When full, the entry closest to expiry is evicted.
type MemoryEnrollmentCache struct {
	cache   map[string]*CacheEntry
	mutex   sync.RWMutex
	maxSize int
	keys    Keys
	now     func() time.Time
}

func NewMemoryEnrollmentCache(maxSize int, keyPrefix string) *MemoryEnrollmentCache {
	if maxSize <= 0 {
		maxSize = 10000
	}
	return &MemoryEnrollmentCache{
		cache:   make(map[string]*CacheEntry),
		maxSize: maxSize,
		keys:    Keys{Prefix: keyPrefix},
		now:     time.Now,
	}
}

func (c *MemoryEnrollmentCache) GetByVIN(ctx context.Context, vin string) (*models.VehicleRecord, error) {
	data, ok := c.get(c.keys.Vehicle(vin))
	if !ok {
		return nil, nil
	}
	record := data.(models.VehicleRecord)
	record.DecodedDetails = record.DecodedDetails.Clone()
	return &record, nil
}

func (c *MemoryEnrollmentCache) GetStatus(ctx context.Context, id uuid.UUID) (models.EnrollmentStatus, bool, error) {
	data, ok := c.get(c.keys.Enrollment(id))
	if !ok {
		return "", false, nil
	}
	return data.(models.EnrollmentStatus), true, nil
}

func (c *MemoryEnrollmentCache) PutVehicle(ctx context.Context, record *models.VehicleRecord, ttl time.Duration) error {
	stored := *record
	stored.DecodedDetails = record.DecodedDetails.Clone()
	c.set(c.keys.Vehicle(record.VIN), stored, ttl)
	return nil
}

func (c *MemoryEnrollmentCache) PutStatus(ctx context.Context, id uuid.UUID, status models.EnrollmentStatus, ttl time.Duration) error {
	c.set(c.keys.Enrollment(id), status, ttl)
	return nil
}

// InvalidateAll drops every enrollment status entry.
func (c *MemoryEnrollmentCache) InvalidateAll(ctx context.Context) error {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	namespace := c.keys.EnrollmentNamespace()
	removed := 0
	for key := range c.cache {
		if strings.HasPrefix(key, namespace) {
			delete(c.cache, key)
			removed++
		}
	}

	logrus.WithFields(logrus.Fields{
		"component": "MemoryEnrollmentCache",
		"removed":   removed,
	}).Debug("Invalidated enrollment namespace")
	return nil
}

func (c *MemoryEnrollmentCache) Ping(ctx context.Context) error {
	return nil
}

// Size returns the number of items in cache
func (c *MemoryEnrollmentCache) Size() int {
	c.mutex.RLock()
	defer c.mutex.RUnlock()
	return len(c.cache)
}

// StartJanitor removes expired entries every interval until ctx is done.
func (c *MemoryEnrollmentCache) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	ticker := time.NewTicker(interval)

	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				c.cleanupExpired()
			}
		}
	}()
}

func (c *MemoryEnrollmentCache) cleanupExpired() {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	now := c.now()
	for key, entry := range c.cache {
		if entry.IsExpiredAt(now) {
			delete(c.cache, key)
		}
	}
}

func (c *MemoryEnrollmentCache) get(key string) (interface{}, bool) {
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	entry, exists := c.cache[key]
	if !exists || entry.IsExpiredAt(c.now()) {
		return nil, false
	}
	return entry.Data, true
}

func (c *MemoryEnrollmentCache) set(key string, value interface{}, ttl time.Duration) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if _, exists := c.cache[key]; !exists && len(c.cache) >= c.maxSize {
		c.evictOldest()
	}

	c.cache[key] = &CacheEntry{
		Data:      value,
		ExpiresAt: c.now().Add(ttl),
	}
}

// evictOldest removes the entry that expires first. Caller holds the lock.
func (c *MemoryEnrollmentCache) evictOldest() {
	var oldestKey string
	var oldestTime time.Time

	for key, entry := range c.cache {
		if oldestKey == "" || entry.ExpiresAt.Before(oldestTime) {
			oldestKey = key
			oldestTime = entry.ExpiresAt
		}
	}

	if oldestKey != "" {
		delete(c.cache, oldestKey)
	}
}
