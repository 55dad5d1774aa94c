package subsync

import (
	"context"
	"slices"
	"strconv"
	"strings"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/mihaimyh/gosubsync/pkg/cachetag"
)

// CacheConfig configures a TagCache.
type CacheConfig struct {
	// Registry provides the current tag versions (required).
	Registry Registry

	// MaxEntries bounds the number of cached results. Default: 10000
	MaxEntries int

	// TTL is an upper bound on the age of a cached result, independent of invalidation.
	// Default: 5m
	TTL time.Duration

	Logger  Logger
	Metrics Metrics
}

// CacheStats holds cache performance statistics
type CacheStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	// Bypasses counts reads served without the cache because the registry failed.
	Bypasses int64
	Size     int
}

// cacheEntry wraps a cached value with the tag versions it was computed under
type cacheEntry struct {
	value      any
	versions   []uint64
	expiration time.Time
	accessTime time.Time // For LRU eviction
	sequence   int64     // For tiebreaking when access times are equal
}

// TagCache is an in-process LRU cache of read results keyed by a caller-chosen key and
// validated against the versions of the result's tags. Cached values are shared between
// callers and must be treated as read-only.
type TagCache struct {
	registry Registry
	ttl      time.Duration
	max      int
	logger   Logger
	metrics  Metrics
	now      func() time.Time

	mu        sync.Mutex
	entries   map[string]*cacheEntry
	sequence  int64
	hits      int64
	misses    int64
	evictions int64
	bypasses  int64

	group singleflight.Group
}

// NewTagCache creates a tag-validated result cache.
func NewTagCache(config CacheConfig) (*TagCache, error) {
	if config.Registry == nil {
		return nil, ErrRegistryRequired
	}
	if config.MaxEntries <= 0 {
		config.MaxEntries = 10000
	}
	if config.TTL <= 0 {
		config.TTL = 5 * time.Minute
	}
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	return &TagCache{
		registry: config.Registry,
		ttl:      config.TTL,
		max:      config.MaxEntries,
		logger:   config.Logger,
		metrics:  config.Metrics,
		now:      time.Now,
		entries:  make(map[string]*cacheEntry, config.MaxEntries),
	}, nil
}

// Fetch returns the cached result for key when every tag still has the version the result
// was computed under, and otherwise calls load. Versions are captured before load runs, so
// an invalidation that races the load leaves the new entry stale instead of hiding the write.
// A nil cache calls load directly.
func Fetch[T any](ctx context.Context, c *TagCache, read, key string, tags []cachetag.Tag,
	load func(ctx context.Context) (T, error)) (T, error) {
	if c == nil {
		return load(ctx)
	}

	// Results under invalid tags are never cached.
	for _, tag := range tags {
		if !tag.Valid() {
			c.logger.Warn("invalid cache tag, bypassing cache",
				Field{"read", read},
				Field{"tag", tag.String()},
			)
			c.bypass()
			return load(ctx)
		}
	}

	versions, err := c.registry.Versions(ctx, tags)
	if err != nil {
		c.logger.Warn("tag registry unavailable, bypassing cache",
			Field{"read", read},
			Field{"error", err.Error()},
		)
		c.bypass()
		return load(ctx)
	}

	value, found := c.lookup(key, versions)
	if typed, ok := value.(T); found && ok {
		c.count(&c.hits)
		c.metrics.RecordCacheHit(read)
		return typed, nil
	}
	c.count(&c.misses)
	c.metrics.RecordCacheMiss(read)

	v, err, _ := c.group.Do(flightKey(key, versions), func() (any, error) {
		value, err := load(ctx)
		if err != nil {
			return nil, err
		}
		c.store(key, versions, value)
		return value, nil
	})
	if err != nil {
		var zero T
		return zero, err
	}
	return v.(T), nil
}

func (c *TagCache) lookup(key string, versions []uint64) (any, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entry, exists := c.entries[key]
	now := c.now()
	if !exists || now.After(entry.expiration) || !slices.Equal(entry.versions, versions) {
		return nil, false
	}

	// Update access time for LRU
	entry.accessTime = now
	return entry.value, true
}

func (c *TagCache) count(counter *int64) {
	c.mu.Lock()
	*counter++
	c.mu.Unlock()
}

func (c *TagCache) bypass() {
	c.count(&c.bypasses)
}

func (c *TagCache) store(key string, versions []uint64, value any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := c.now()
	_, exists := c.entries[key]

	// Evict if at capacity and entry doesn't exist
	if len(c.entries) >= c.max && !exists {
		var oldestKey string
		var oldestTime time.Time
		var oldestSeq int64
		first := true
		for k, entry := range c.entries {
			if first || entry.accessTime.Before(oldestTime) ||
				(entry.accessTime.Equal(oldestTime) && entry.sequence < oldestSeq) {
				oldestKey = k
				oldestTime = entry.accessTime
				oldestSeq = entry.sequence
				first = false
			}
		}
		if !first {
			delete(c.entries, oldestKey)
			c.evictions++
		}
	}

	seq := c.sequence
	c.sequence++
	c.entries[key] = &cacheEntry{
		value:      value,
		versions:   versions,
		expiration: now.Add(c.ttl),
		accessTime: now,
		sequence:   seq,
	}
}

// Clear removes all entries from the cache
func (c *TagCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.entries = make(map[string]*cacheEntry, c.max)
}

// Stats returns cache statistics
func (c *TagCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	return CacheStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Bypasses:  c.bypasses,
		Size:      len(c.entries),
	}
}

func flightKey(key string, versions []uint64) string {
	var b strings.Builder
	b.WriteString(key)
	for _, v := range versions {
		b.WriteByte('@')
		b.WriteString(strconv.FormatUint(v, 10))
	}
	return b.String()
}
