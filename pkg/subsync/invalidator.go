package subsync

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mihaimyh/gosubsync/pkg/cachetag"
)

// ErrInvalidationQueueFull is reported when the async invalidation queue cannot accept more work.
var ErrInvalidationQueueFull = errors.New("invalidation queue full")

// Invalidator marks cache tags stale. It is fire-and-forget: failures never reach the
// caller because the write that triggered the invalidation has already committed.
type Invalidator interface {
	Invalidate(ctx context.Context, tags ...cachetag.Tag)
}

// NoopInvalidator discards every invalidation. Used when caching is disabled.
type NoopInvalidator struct{}

func (NoopInvalidator) Invalidate(_ context.Context, _ ...cachetag.Tag) {}

// InvalidatorConfig configures a TagInvalidator.
type InvalidatorConfig struct {
	// Registry receives the version bumps (required).
	Registry Registry

	// Timeout bounds a single registry call so a slow cache layer cannot stall writers.
	// Default: 2s
	Timeout time.Duration

	// Async hands invalidations to a background worker instead of calling the registry
	// inline. Reads issued right after Invalidate returns may still see the old version
	// until the worker catches up.
	Async bool

	// QueueSize is the buffer of the async queue. Default: 1000
	QueueSize int

	// CircuitBreaker guards registry calls. Default: 5 failures, 30s reset.
	CircuitBreaker CircuitBreaker

	// OnError is called for every failed invalidation, after logging.
	OnError func(error)

	Logger  Logger
	Metrics Metrics
}

// TagInvalidator is the Registry-backed Invalidator.
type TagInvalidator struct {
	registry Registry
	timeout  time.Duration
	breaker  CircuitBreaker
	onError  func(error)
	logger   Logger
	metrics  Metrics

	async    bool
	queue    chan []cachetag.Tag
	shutdown chan struct{}
	closeMu  sync.RWMutex
	closed   bool
	wg       sync.WaitGroup
}

// NewTagInvalidator creates an invalidator over config.Registry.
func NewTagInvalidator(config InvalidatorConfig) (*TagInvalidator, error) {
	if config.Registry == nil {
		return nil, ErrRegistryRequired
	}
	if config.Timeout <= 0 {
		config.Timeout = 2 * time.Second
	}
	if config.QueueSize <= 0 {
		config.QueueSize = 1000
	}
	if config.Logger == nil {
		config.Logger = &NoopLogger{}
	}
	if config.Metrics == nil {
		config.Metrics = &NoopMetrics{}
	}
	if config.CircuitBreaker == nil {
		metrics := config.Metrics
		config.CircuitBreaker = NewDefaultCircuitBreaker(5, 30*time.Second, func(s CircuitBreakerState) {
			metrics.RecordCircuitBreakerStateChange(string(s))
		})
	}

	inv := &TagInvalidator{
		registry: config.Registry,
		timeout:  config.Timeout,
		breaker:  config.CircuitBreaker,
		onError:  config.OnError,
		logger:   config.Logger,
		metrics:  config.Metrics,
		async:    config.Async,
	}

	if config.Async {
		inv.queue = make(chan []cachetag.Tag, config.QueueSize)
		inv.shutdown = make(chan struct{})
		inv.startWorker()
	}

	return inv, nil
}

// Invalidate bumps the version of every valid, distinct tag. Invalid tags are skipped with
// a warning.
func (i *TagInvalidator) Invalidate(ctx context.Context, tags ...cachetag.Tag) {
	valid := make([]cachetag.Tag, 0, len(tags))
	for _, tag := range tags {
		if !tag.Valid() {
			i.logger.Warn("skipping invalid cache tag", Field{"tag", tag.String()})
			continue
		}
		valid = append(valid, tag)
	}
	unique := cachetag.Dedupe(valid)
	if dropped := len(valid) - len(unique); dropped > 0 {
		i.logger.Debug("skipping duplicate cache tags", Field{"dropped", dropped})
	}
	if len(unique) == 0 {
		return
	}

	if !i.async {
		i.bump(ctx, unique)
		return
	}

	i.closeMu.RLock()
	if i.closed {
		i.closeMu.RUnlock()
		i.bump(ctx, unique)
		return
	}
	select {
	case i.queue <- unique:
		i.closeMu.RUnlock()
	default:
		i.closeMu.RUnlock()
		i.fail(unique, ErrInvalidationQueueFull)
	}
}

// Close stops the async worker after draining queued invalidations.
func (i *TagInvalidator) Close() error {
	if !i.async {
		return nil
	}
	i.closeMu.Lock()
	if i.closed {
		i.closeMu.Unlock()
		return nil
	}
	i.closed = true
	i.closeMu.Unlock()

	close(i.shutdown)
	i.wg.Wait()
	return nil
}

func (i *TagInvalidator) startWorker() {
	i.wg.Add(1)
	go func() {
		defer i.wg.Done()
		for {
			select {
			case tags := <-i.queue:
				i.bump(context.Background(), tags)
			case <-i.shutdown:
				for {
					select {
					case tags := <-i.queue:
						i.bump(context.Background(), tags)
					default:
						return
					}
				}
			}
		}
	}()
}

func (i *TagInvalidator) bump(ctx context.Context, tags []cachetag.Tag) {
	// The triggering write has committed; a cancelled request must not skip invalidation.
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), i.timeout)
	defer cancel()

	err := i.breaker.Execute(ctx, func(ctx context.Context) error {
		return i.registry.Bump(ctx, tags)
	})
	i.metrics.RecordInvalidation(len(tags), err)
	if err != nil {
		i.fail(tags, err)
		return
	}
	i.logger.Debug("cache tags invalidated", Field{"tags", tagStrings(tags)})
}

func (i *TagInvalidator) fail(tags []cachetag.Tag, err error) {
	i.logger.Error("cache invalidation failed; cached reads may be stale until expiry",
		Field{"tags", tagStrings(tags)},
		Field{"error", err.Error()},
	)
	if i.onError != nil {
		i.onError(fmt.Errorf("invalidate %d tags: %w", len(tags), err))
	}
}

func tagStrings(tags []cachetag.Tag) []string {
	out := make([]string, len(tags))
	for i, t := range tags {
		out[i] = t.String()
	}
	return out
}
