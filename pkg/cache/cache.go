// Package cache provides a namespaced TTL cache for remote query results,
// persisted through a pluggable key/value Storage.
package cache

import (
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/balaan/admindash/pkg/metrics"
)

// DefaultPrefix namespaces cache entries from other persisted state.
const DefaultPrefix = "balaan_admin_"

// Recommended TTLs for different data types.
const (
	// DefaultTTL is used by SetDefault and for non-positive TTLs.
	DefaultTTL = 5 * time.Minute

	// TTLStats is for dashboard summary statistics.
	TTLStats = 3 * time.Minute

	// TTLSalons is for salon listings.
	TTLSalons = 2 * time.Minute

	// TTLUsers is for user listings (change less often than salons).
	TTLUsers = 5 * time.Minute

	// TTLKYC is for verification-status data, the most sensitive to staleness.
	TTLKYC = 1 * time.Minute

	// TTLPage is for one page of a paginated collection.
	TTLPage = 2 * time.Minute

	// TTLCount is for collection total counts.
	TTLCount = 1 * time.Minute
)

// entry is the serialized form of a cached value.
type entry struct {
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"` // unix millis at Set
	TTL       int64           `json:"ttl"`       // millis
}

// Config holds configuration for creating a cache.
type Config struct {
	Storage    Storage         // Backing storage (nil = in-memory)
	Clock      clockwork.Clock // Time source (nil = real clock)
	Prefix     string          // Key namespace (empty = DefaultPrefix)
	DefaultTTL time.Duration   // TTL for SetDefault (zero = DefaultTTL)
}

// Cache is a TTL cache over a Storage. It is safe to drop at any time:
// every failure degrades to a miss.
type Cache struct {
	storage    Storage
	clock      clockwork.Clock
	prefix     string
	defaultTTL time.Duration
}

// New creates a cache from cfg.
func New(cfg Config) *Cache {
	c := &Cache{
		storage:    cfg.Storage,
		clock:      cfg.Clock,
		prefix:     cfg.Prefix,
		defaultTTL: cfg.DefaultTTL,
	}
	if c.storage == nil {
		c.storage = NewMemoryStorage(0)
	}
	if c.clock == nil {
		c.clock = clockwork.NewRealClock()
	}
	if c.prefix == "" {
		c.prefix = DefaultPrefix
	}
	if c.defaultTTL <= 0 {
		c.defaultTTL = DefaultTTL
	}
	return c
}

// Init prepares the cache for a new process by clearing any entries left
// over from a previous run.
func (c *Cache) Init() {
	c.Clear()
}

// Teardown clears the namespace and releases the storage.
func (c *Cache) Teardown() error {
	c.Clear()
	return c.storage.Close()
}

// SetDefault stores data with the default TTL.
func (c *Cache) SetDefault(key string, data any) {
	c.Set(key, data, c.defaultTTL)
}

// Set stores data under key for ttl. Failures are logged and leave no entry.
func (c *Cache) Set(key string, data any, ttl time.Duration) {
	if ttl <= 0 {
		ttl = c.defaultTTL
	}

	raw, err := json.Marshal(data)
	if err != nil {
		slog.Warn("Cache set failed: value not serializable", "component", "cache", "key", key, "error", err)
		metrics.IncCache(metrics.CacheWriteError)
		return
	}

	payload, err := json.Marshal(entry{
		Data:      raw,
		Timestamp: c.clock.Now().UnixMilli(),
		TTL:       ttl.Milliseconds(),
	})
	if err != nil {
		slog.Warn("Cache set failed: entry not serializable", "component", "cache", "key", key, "error", err)
		metrics.IncCache(metrics.CacheWriteError)
		return
	}

	if err := c.storage.SetItem(c.prefix+key, string(payload)); err != nil {
		slog.Warn("Cache set failed", "component", "cache", "key", key, "error", err)
		metrics.IncCache(metrics.CacheWriteError)
		// A failed overwrite must not leave the previous value visible.
		c.remove(key)
		return
	}

	slog.Debug("Cache set", "component", "cache", "key", key, "ttl", ttl)
}

// Get returns the raw JSON stored under key if present and unexpired.
// Expired and malformed entries are evicted.
func (c *Cache) Get(key string) (json.RawMessage, bool) {
	raw, found, err := c.storage.GetItem(c.prefix + key)
	if err != nil {
		slog.Warn("Cache get failed", "component", "cache", "key", key, "error", err)
		metrics.IncCache(metrics.CacheMiss)
		return nil, false
	}
	if !found {
		metrics.IncCache(metrics.CacheMiss)
		return nil, false
	}

	var e entry
	if err := json.Unmarshal([]byte(raw), &e); err != nil || len(e.Data) == 0 || e.TTL <= 0 {
		slog.Warn("Cache entry corrupt, evicting", "component", "cache", "key", key, "error", err)
		metrics.IncCache(metrics.CacheCorrupt)
		c.remove(key)
		return nil, false
	}

	if c.clock.Now().UnixMilli()-e.Timestamp >= e.TTL {
		slog.Debug("Cache entry expired", "component", "cache", "key", key)
		metrics.IncCache(metrics.CacheExpired)
		c.remove(key)
		return nil, false
	}

	metrics.IncCache(metrics.CacheHit)
	slog.Debug("Cache hit", "component", "cache", "key", key)
	return e.Data, true
}

// Lookup decodes the value stored under key into v. It reports false on a
// miss or when the stored value does not decode into v (the entry is evicted).
func (c *Cache) Lookup(key string, v any) bool {
	raw, ok := c.Get(key)
	if !ok {
		return false
	}
	if err := json.Unmarshal(raw, v); err != nil {
		slog.Warn("Cache entry does not match requested type, evicting", "component", "cache", "key", key, "error", err)
		metrics.IncCache(metrics.CacheCorrupt)
		c.remove(key)
		return false
	}
	return true
}

// Delete removes one entry. Deleting an absent key is a no-op.
func (c *Cache) Delete(key string) {
	c.remove(key)
	slog.Debug("Cache delete", "component", "cache", "key", key)
}

// Clear removes every entry in this cache's namespace.
func (c *Cache) Clear() {
	n := c.removeMatching(func(string) bool { return true })
	slog.Debug("Cache cleared", "component", "cache", "removed", n)
}

// InvalidatePattern removes every entry whose key contains substr.
func (c *Cache) InvalidatePattern(substr string) {
	n := c.removeMatching(func(key string) bool { return strings.Contains(key, substr) })
	slog.Debug("Cache invalidated pattern", "component", "cache", "pattern", substr, "removed", n)
}

// Keys lists the keys currently stored in this namespace, expired or not.
func (c *Cache) Keys() []string {
	all, err := c.storage.Keys()
	if err != nil {
		slog.Warn("Cache key enumeration failed", "component", "cache", "error", err)
		return nil
	}
	var keys []string
	for _, k := range all {
		if strings.HasPrefix(k, c.prefix) {
			keys = append(keys, strings.TrimPrefix(k, c.prefix))
		}
	}
	return keys
}

// OnSalonUpdate drops everything derived from salon documents.
func (c *Cache) OnSalonUpdate() {
	c.InvalidatePattern("salons")
	c.InvalidatePattern("stats")
	c.InvalidatePattern("kyc")
}

// OnKYCUpdate drops verification-derived entries.
func (c *Cache) OnKYCUpdate() {
	c.InvalidatePattern("kyc")
	c.InvalidatePattern("stats")
}

// OnUserUpdate drops user-derived entries.
func (c *Cache) OnUserUpdate() {
	c.InvalidatePattern("users")
	c.InvalidatePattern("stats")
}

func (c *Cache) remove(key string) {
	if err := c.storage.RemoveItem(c.prefix + key); err != nil {
		slog.Warn("Cache remove failed", "component", "cache", "key", key, "error", err)
	}
}

func (c *Cache) removeMatching(match func(key string) bool) int {
	removed := 0
	for _, key := range c.Keys() {
		if !match(key) {
			continue
		}
		c.remove(key)
		removed++
	}
	return removed
}
