package cache

import (
	"context"
	"encoding/json"
	"strings"
	"time"

	"github.com/bradfitz/gomemcache/memcache"

	"github.com/evcharge/estimator-service/internal/models"
)

const keyPrefix = "solar:"

// MemcachedCache implements Cache using memcached. Stale reads work because
// entries are written with a TTL extended by the stale window; freshness is
// decided from the entry timestamp on read.
type MemcachedCache struct {
	client        *memcache.Client
	staleCacheTTL time.Duration
}

// NewMemcachedCache creates a MemcachedCache. addrs is a comma-separated list
// (e.g. "localhost:11211" or "host1:11211,host2:11211"). timeout and maxIdleConns
// configure the client; both use package defaults if zero. staleCacheTTL
// extends stored entry lifetimes to keep expired data available for
// GetStale (0 disables stale reads).
func NewMemcachedCache(addrs string, timeout time.Duration, maxIdleConns int, staleCacheTTL time.Duration) (*MemcachedCache, error) {
	servers := parseAddrs(addrs)
	if len(servers) == 0 {
		servers = []string{"localhost:11211"}
	}
	client := memcache.New(servers...)
	if timeout > 0 {
		client.Timeout = timeout
	}
	if maxIdleConns > 0 {
		client.MaxIdleConns = maxIdleConns
	}
	return &MemcachedCache{client: client, staleCacheTTL: staleCacheTTL}, nil
}

func parseAddrs(s string) []string {
	var out []string
	for _, a := range strings.Split(s, ",") {
		a = strings.TrimSpace(a)
		if a != "" {
			out = append(out, a)
		}
	}
	return out
}

func (c *MemcachedCache) key(k string) string {
	return keyPrefix + k
}

// storedEntry wraps a SolarDay with its freshness deadline.
type storedEntry struct {
	Value     models.SolarDay `json:"value"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

// Get implements Cache.Get. Returns false, nil on cache miss; false, err on error.
func (c *MemcachedCache) Get(ctx context.Context, key string) (models.SolarDay, bool, error) {
	entry, ok, err := c.fetch(ctx, key)
	if err != nil || !ok {
		return models.SolarDay{}, false, err
	}
	if time.Now().After(entry.ExpiresAt) {
		return models.SolarDay{}, false, nil
	}
	return entry.Value, true, nil
}

// GetStale implements Cache.GetStale.
func (c *MemcachedCache) GetStale(ctx context.Context, key string, maxStaleAge time.Duration) (models.SolarDay, bool, error) {
	entry, ok, err := c.fetch(ctx, key)
	if err != nil || !ok {
		return models.SolarDay{}, false, err
	}
	if time.Since(entry.Value.Timestamp) > maxStaleAge {
		return models.SolarDay{}, false, nil
	}
	return entry.Value, true, nil
}

func (c *MemcachedCache) fetch(ctx context.Context, key string) (storedEntry, bool, error) {
	if ctx.Err() != nil {
		return storedEntry{}, false, ctx.Err()
	}
	item, err := c.client.Get(c.key(key))
	if err != nil {
		if err == memcache.ErrCacheMiss {
			return storedEntry{}, false, nil
		}
		return storedEntry{}, false, err
	}
	var entry storedEntry
	if err := json.Unmarshal(item.Value, &entry); err != nil {
		return storedEntry{}, false, err
	}
	return entry, true, nil
}

// Set implements Cache.Set.
func (c *MemcachedCache) Set(ctx context.Context, key string, value models.SolarDay, ttl time.Duration) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	raw, err := json.Marshal(storedEntry{
		Value:     value,
		ExpiresAt: time.Now().Add(ttl),
	})
	if err != nil {
		return err
	}
	expSec := int32((ttl + c.staleCacheTTL).Seconds())
	const maxRelativeExp = 30 * 24 * 60 * 60 // 30 days
	if expSec <= 0 || expSec > maxRelativeExp {
		expSec = 3600 // fallback 1h if invalid
	}
	return c.client.Set(&memcache.Item{
		Key:        c.key(key),
		Value:      raw,
		Expiration: expSec,
	})
}

// Ping checks if memcached is reachable. Used for health checks.
func (c *MemcachedCache) Ping() error {
	return c.client.Ping()
}

// Close closes the memcached client connections. Call during shutdown.
func (c *MemcachedCache) Close() error {
	return c.client.Close()
}
