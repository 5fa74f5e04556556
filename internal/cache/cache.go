package cache

import (
	"context"
	"sync"
	"time"

	"github.com/evcharge/estimator-service/internal/models"
)

// Cache stores solar day data keyed by location id and date.
// Get returns fresh entries only; GetStale also returns expired entries up
// to maxStaleAge old, for serving during upstream outages.
type Cache interface {
	Get(ctx context.Context, key string) (models.SolarDay, bool, error)
	GetStale(ctx context.Context, key string, maxStaleAge time.Duration) (models.SolarDay, bool, error)
	Set(ctx context.Context, key string, value models.SolarDay, ttl time.Duration) error
}

// Key builds the cache key for a location id and date.
func Key(locationID, date string) string {
	return locationID + "|" + date
}

// InMemoryCache implements Cache with a mutex-guarded map and TTL expiry.
// Expired entries are kept until they exceed the stale window requested by
// the last GetStale call, then dropped on access.
type InMemoryCache struct {
	mu   sync.Mutex
	data map[string]cacheEntry
}

type cacheEntry struct {
	value     models.SolarDay
	expiresAt time.Time
}

// NewInMemoryCache creates a new in-memory cache instance.
func NewInMemoryCache() *InMemoryCache {
	return &InMemoryCache{
		data: make(map[string]cacheEntry),
	}
}

// Get retrieves a fresh entry. Returns (data, true, nil) on hit,
// (zero, false, nil) on miss or expiry.
func (c *InMemoryCache) Get(ctx context.Context, key string) (models.SolarDay, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return models.SolarDay{}, false, nil
	}
	if time.Now().After(entry.expiresAt) {
		// Expired entries stay for stale reads; GetStale prunes them.
		return models.SolarDay{}, false, nil
	}
	return entry.value, true, nil
}

// GetStale retrieves an entry even if expired, as long as it was stored no
// longer than maxStaleAge ago. Entries older than that are removed.
func (c *InMemoryCache) GetStale(ctx context.Context, key string, maxStaleAge time.Duration) (models.SolarDay, bool, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, ok := c.data[key]
	if !ok {
		return models.SolarDay{}, false, nil
	}
	if time.Since(entry.value.Timestamp) > maxStaleAge {
		delete(c.data, key)
		return models.SolarDay{}, false, nil
	}
	return entry.value, true, nil
}

// Set stores an entry with the given TTL.
func (c *InMemoryCache) Set(ctx context.Context, key string, value models.SolarDay, ttl time.Duration) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.data[key] = cacheEntry{
		value:     value,
		expiresAt: time.Now().Add(ttl),
	}
	return nil
}
