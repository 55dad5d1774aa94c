package tiered

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/gosubsync/pkg/cachetag"
	"github.com/mihaimyh/gosubsync/pkg/subsync"
)

var errCold = errors.New("cold unavailable")

// failingRegistry fails every call while fail is set
type failingRegistry struct {
	*subsync.MemoryRegistry
	mu   sync.Mutex
	fail bool
}

func (f *failingRegistry) setFail(fail bool) {
	f.mu.Lock()
	f.fail = fail
	f.mu.Unlock()
}

func (f *failingRegistry) Versions(ctx context.Context, tags []cachetag.Tag) ([]uint64, error) {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return nil, errCold
	}
	return f.MemoryRegistry.Versions(ctx, tags)
}

func (f *failingRegistry) Bump(ctx context.Context, tags []cachetag.Tag) error {
	f.mu.Lock()
	fail := f.fail
	f.mu.Unlock()
	if fail {
		return errCold
	}
	return f.MemoryRegistry.Bump(ctx, tags)
}

// blockingRegistry holds every Bump until release is closed
type blockingRegistry struct {
	*subsync.MemoryRegistry
	release chan struct{}
}

func (b *blockingRegistry) Bump(ctx context.Context, tags []cachetag.Tag) error {
	<-b.release
	return b.MemoryRegistry.Bump(ctx, tags)
}

var testTag = cachetag.ForOrganization(cachetag.Subscriptions, "org_1")

func TestNew(t *testing.T) {
	t.Run("success", func(t *testing.T) {
		registry, err := New(Config{Hot: subsync.NewMemoryRegistry(), Cold: subsync.NewMemoryRegistry()})
		assert.NoError(t, err)
		assert.NotNil(t, registry)
		assert.NoError(t, registry.Close())
	})

	t.Run("nil hot registry", func(t *testing.T) {
		registry, err := New(Config{Cold: subsync.NewMemoryRegistry()})
		assert.Error(t, err)
		assert.Nil(t, registry)
		assert.Contains(t, err.Error(), "hot and cold registries are required")
	})

	t.Run("nil cold registry", func(t *testing.T) {
		registry, err := New(Config{Hot: subsync.NewMemoryRegistry()})
		assert.Error(t, err)
		assert.Nil(t, registry)
	})
}

func TestRegistry_SumOfTiers(t *testing.T) {
	ctx := context.Background()
	cold := subsync.NewMemoryRegistry()
	registry, err := New(Config{Hot: subsync.NewMemoryRegistry(), Cold: cold})
	require.NoError(t, err)

	require.NoError(t, registry.Bump(ctx, []cachetag.Tag{testTag}))
	versions, err := registry.Versions(ctx, []cachetag.Tag{testTag})
	require.NoError(t, err)
	assert.Equal(t, []uint64{2}, versions)

	// A bump from another process only reaches Cold
	require.NoError(t, cold.Bump(ctx, []cachetag.Tag{testTag}))
	versions, err = registry.Versions(ctx, []cachetag.Tag{testTag})
	require.NoError(t, err)
	assert.Equal(t, []uint64{3}, versions)
}

func TestRegistry_ColdFailure(t *testing.T) {
	ctx := context.Background()
	cold := &failingRegistry{MemoryRegistry: subsync.NewMemoryRegistry()}
	registry, err := New(Config{Hot: subsync.NewMemoryRegistry(), Cold: cold})
	require.NoError(t, err)

	cold.setFail(true)
	assert.ErrorIs(t, registry.Bump(ctx, []cachetag.Tag{testTag}), errCold)
	_, err = registry.Versions(ctx, []cachetag.Tag{testTag})
	assert.ErrorIs(t, err, errCold)
}

func TestRegistry_AsyncColdBump(t *testing.T) {
	ctx := context.Background()
	cold := &blockingRegistry{MemoryRegistry: subsync.NewMemoryRegistry(), release: make(chan struct{})}
	registry, err := New(Config{Hot: subsync.NewMemoryRegistry(), Cold: cold, AsyncColdBump: true})
	require.NoError(t, err)

	require.NoError(t, registry.Bump(ctx, []cachetag.Tag{testTag}))

	// Visible locally before Cold has been bumped
	versions, err := registry.Versions(ctx, []cachetag.Tag{testTag})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, versions)

	close(cold.release)
	require.NoError(t, registry.Close())

	coldVersions, err := cold.Versions(ctx, []cachetag.Tag{testTag})
	require.NoError(t, err)
	assert.Equal(t, []uint64{1}, coldVersions, "Close must drain pending bumps")

	// After Close bumps go to Cold synchronously
	require.NoError(t, registry.Bump(ctx, []cachetag.Tag{testTag}))
	coldVersions, err = cold.Versions(ctx, []cachetag.Tag{testTag})
	require.NoError(t, err)
	assert.Equal(t, []uint64{2}, coldVersions)
}

func TestRegistry_AsyncErrors(t *testing.T) {
	ctx := context.Background()
	cold := &failingRegistry{MemoryRegistry: subsync.NewMemoryRegistry(), fail: true}

	errs := make(chan error, 1)
	registry, err := New(Config{
		Hot:               subsync.NewMemoryRegistry(),
		Cold:              cold,
		AsyncColdBump:     true,
		AsyncErrorHandler: func(err error) { errs <- err },
	})
	require.NoError(t, err)
	defer registry.Close()

	require.NoError(t, registry.Bump(ctx, []cachetag.Tag{testTag}))
	select {
	case err := <-errs:
		assert.ErrorIs(t, err, errCold)
	case <-time.After(time.Second):
		t.Fatal("expected async error")
	}
}

func TestRegistry_QueueFull(t *testing.T) {
	ctx := context.Background()
	cold := &blockingRegistry{MemoryRegistry: subsync.NewMemoryRegistry(), release: make(chan struct{})}

	var mu sync.Mutex
	var dropped int
	registry, err := New(Config{
		Hot:            subsync.NewMemoryRegistry(),
		Cold:           cold,
		AsyncColdBump:  true,
		SyncBufferSize: 1,
		AsyncErrorHandler: func(err error) {
			if errors.Is(err, ErrSyncQueueFull) {
				mu.Lock()
				dropped++
				mu.Unlock()
			}
		},
	})
	require.NoError(t, err)

	// The worker holds one bump, the queue one more; the rest are dropped
	for i := 0; i < 5; i++ {
		require.NoError(t, registry.Bump(ctx, []cachetag.Tag{testTag}))
	}
	close(cold.release)
	require.NoError(t, registry.Close())

	mu.Lock()
	defer mu.Unlock()
	assert.GreaterOrEqual(t, dropped, 3)
}

// A tiered registry keeps a TagCache consistent for the writing process even when the
// shared bump is still queued.
func TestRegistry_WithTagCache(t *testing.T) {
	ctx := context.Background()
	cold := &blockingRegistry{MemoryRegistry: subsync.NewMemoryRegistry(), release: make(chan struct{})}
	registry, err := New(Config{Hot: subsync.NewMemoryRegistry(), Cold: cold, AsyncColdBump: true})
	require.NoError(t, err)
	defer func() {
		close(cold.release)
		_ = registry.Close()
	}()

	cache, err := subsync.NewTagCache(subsync.CacheConfig{Registry: registry})
	require.NoError(t, err)

	loads := 0
	load := func(context.Context) (int, error) {
		loads++
		return loads, nil
	}
	tags := []cachetag.Tag{testTag}

	v, err := subsync.Fetch(ctx, cache, "test", "k", tags, load)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	require.NoError(t, registry.Bump(ctx, tags))
	v, err = subsync.Fetch(ctx, cache, "test", "k", tags, load)
	require.NoError(t, err)
	assert.Equal(t, 2, v)
}
