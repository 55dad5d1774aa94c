// Package redis provides a Redis implementation of the subsync.Registry interface, so that
// cache tag versions are shared by every process that reads through a subsync.TagCache.
package redis

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/mihaimyh/gosubsync/pkg/cachetag"
)

// Registry implements subsync.Registry using Redis counters
type Registry struct {
	client redis.UniversalClient
	config Config
}

// Config holds Redis registry configuration
type Config struct {
	// KeyPrefix is prepended to all Redis keys (default: "subsync:tag:")
	KeyPrefix string

	// VersionTTL is the TTL refreshed on a tag key whenever it is bumped (0 = no expiration).
	// An expired key reads as version 0, so it must exceed the cache TTL of every reader.
	VersionTTL time.Duration
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		KeyPrefix:  "subsync:tag:",
		VersionTTL: 0,
	}
}

// New creates a new Redis registry
// The client can be *redis.Client, *redis.ClusterClient, or *redis.Ring
func New(client redis.UniversalClient, config Config) (*Registry, error) {
	if client == nil {
		return nil, fmt.Errorf("redis client is required")
	}
	if config.KeyPrefix == "" {
		config.KeyPrefix = "subsync:tag:"
	}
	return &Registry{client: client, config: config}, nil
}

func (r *Registry) key(tag cachetag.Tag) string {
	return r.config.KeyPrefix + tag.String()
}

// Versions implements subsync.Registry. Commands are pipelined per key so that tags hashing
// to different cluster slots can be read together.
func (r *Registry) Versions(ctx context.Context, tags []cachetag.Tag) ([]uint64, error) {
	if len(tags) == 0 {
		return nil, nil
	}

	cmds := make([]*redis.StringCmd, len(tags))
	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for i, tag := range tags {
			cmds[i] = pipe.Get(ctx, r.key(tag))
		}
		return nil
	})
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("failed to read tag versions: %w", err)
	}

	out := make([]uint64, len(tags))
	for i, cmd := range cmds {
		val, err := cmd.Result()
		if errors.Is(err, redis.Nil) {
			continue
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read version of %s: %w", tags[i], err)
		}
		v, err := strconv.ParseUint(val, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid version %q for %s: %w", val, tags[i], err)
		}
		out[i] = v
	}
	return out, nil
}

// Bump implements subsync.Registry
func (r *Registry) Bump(ctx context.Context, tags []cachetag.Tag) error {
	if len(tags) == 0 {
		return nil
	}

	_, err := r.client.Pipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, tag := range tags {
			key := r.key(tag)
			pipe.Incr(ctx, key)
			if r.config.VersionTTL > 0 {
				pipe.Expire(ctx, key, r.config.VersionTTL)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to bump tag versions: %w", err)
	}
	return nil
}

// Close closes the Redis client connection
func (r *Registry) Close() error {
	return r.client.Close()
}

// Ping checks the Redis connection
func (r *Registry) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
