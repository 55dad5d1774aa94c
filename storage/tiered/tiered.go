// Package tiered provides a Hot/Cold tiered subsync.Registry that combines a process-local
// registry (Hot) with a shared one (Cold, e.g. Redis).
//
// The version of a tag is the sum of its Hot and Cold versions. Both only grow, so a bump in
// either tier changes the sum and stales every cached result that depends on the tag. A bump
// is applied to Hot synchronously, which keeps the writing process's own reads consistent
// even when the Cold bump is deferred to the async worker or fails.
package tiered

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mihaimyh/gosubsync/pkg/cachetag"
	"github.com/mihaimyh/gosubsync/pkg/subsync"
)

// ErrSyncQueueFull is reported when an async Cold bump is dropped
var ErrSyncQueueFull = errors.New("tiered registry: sync queue full")

// Config configures the tiered registry behavior
type Config struct {
	// Hot is the process-local registry (e.g. subsync.MemoryRegistry)
	Hot subsync.Registry

	// Cold is the registry shared by every process (e.g. Redis)
	Cold subsync.Registry

	// AsyncColdBump hands Cold bumps to a background worker. Other processes observe the
	// bump once the worker has applied it. If false, Bump waits for Cold.
	AsyncColdBump bool

	// SyncBufferSize is the size of the buffered channel for async bumps.
	// Default: 1000
	SyncBufferSize int

	// SyncTimeout bounds a single async Cold bump. Default: 2s
	SyncTimeout time.Duration

	// AsyncErrorHandler is called when an async bump fails or is dropped.
	AsyncErrorHandler func(error)
}

// Registry implements a Hot/Cold tiered subsync.Registry
type Registry struct {
	hot  subsync.Registry
	cold subsync.Registry
	conf Config

	// Channel for async synchronization
	syncQueue chan []cachetag.Tag
	shutdown  chan struct{}
	closeMu   sync.RWMutex
	closed    bool
	wg        sync.WaitGroup
}

// New creates a new tiered registry.
func New(config Config) (*Registry, error) {
	if config.Hot == nil || config.Cold == nil {
		return nil, errors.New("tiered registry: both hot and cold registries are required")
	}
	if config.SyncBufferSize <= 0 {
		config.SyncBufferSize = 1000
	}
	if config.SyncTimeout <= 0 {
		config.SyncTimeout = 2 * time.Second
	}

	r := &Registry{
		hot:  config.Hot,
		cold: config.Cold,
		conf: config,
	}
	if config.AsyncColdBump {
		r.syncQueue = make(chan []cachetag.Tag, config.SyncBufferSize)
		r.shutdown = make(chan struct{})
		r.startWorker()
	}
	return r, nil
}

// Close drains pending Cold bumps and stops the async worker (if enabled).
func (r *Registry) Close() error {
	if !r.conf.AsyncColdBump {
		return nil
	}
	r.closeMu.Lock()
	if r.closed {
		r.closeMu.Unlock()
		return nil
	}
	r.closed = true
	close(r.shutdown)
	r.closeMu.Unlock()

	r.wg.Wait()
	return nil
}

// startWorker runs the background synchronization loop.
// Bumps are applied sequentially in submission order.
func (r *Registry) startWorker() {
	r.wg.Add(1)
	go func() {
		defer r.wg.Done()
		for {
			select {
			case tags := <-r.syncQueue:
				r.bumpCold(tags)
			case <-r.shutdown:
				// Drain queue on shutdown
				for {
					select {
					case tags := <-r.syncQueue:
						r.bumpCold(tags)
					default:
						return
					}
				}
			}
		}
	}()
}

func (r *Registry) bumpCold(tags []cachetag.Tag) {
	ctx, cancel := context.WithTimeout(context.Background(), r.conf.SyncTimeout)
	defer cancel()
	if err := r.cold.Bump(ctx, tags); err != nil {
		r.reportAsync(fmt.Errorf("tiered sync failed: %w", err))
	}
}

func (r *Registry) reportAsync(err error) {
	if r.conf.AsyncErrorHandler != nil {
		r.conf.AsyncErrorHandler(err)
	}
}

// Versions implements subsync.Registry. A Cold failure is returned so that readers bypass
// their cache instead of trusting Hot alone.
func (r *Registry) Versions(ctx context.Context, tags []cachetag.Tag) ([]uint64, error) {
	hot, err := r.hot.Versions(ctx, tags)
	if err != nil {
		return nil, fmt.Errorf("hot registry: %w", err)
	}
	cold, err := r.cold.Versions(ctx, tags)
	if err != nil {
		return nil, fmt.Errorf("cold registry: %w", err)
	}
	if len(hot) != len(tags) || len(cold) != len(tags) {
		return nil, fmt.Errorf("tiered registry: expected %d versions, got hot=%d cold=%d", len(tags), len(hot), len(cold))
	}

	out := make([]uint64, len(tags))
	for i := range tags {
		out[i] = hot[i] + cold[i]
	}
	return out, nil
}

// Bump implements subsync.Registry.
func (r *Registry) Bump(ctx context.Context, tags []cachetag.Tag) error {
	if len(tags) == 0 {
		return nil
	}
	if err := r.hot.Bump(ctx, tags); err != nil {
		return fmt.Errorf("hot registry: %w", err)
	}

	if !r.conf.AsyncColdBump {
		if err := r.cold.Bump(ctx, tags); err != nil {
			return fmt.Errorf("cold registry: %w", err)
		}
		return nil
	}

	r.closeMu.RLock()
	defer r.closeMu.RUnlock()
	if r.closed {
		return r.cold.Bump(ctx, tags)
	}
	select {
	case r.syncQueue <- append([]cachetag.Tag(nil), tags...):
	default:
		r.reportAsync(ErrSyncQueueFull)
	}
	return nil
}
