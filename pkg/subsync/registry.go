package subsync

import (
	"context"
	"sync"

	"github.com/mihaimyh/gosubsync/pkg/cachetag"
)

// Registry stores a monotonically increasing version per cache tag. It is the only
// persistent state of the caching contract: cached results remember the versions of
// their tags and are reusable only while those versions are unchanged.
type Registry interface {
	// Versions returns the current version of each tag, in order. Tags never bumped
	// have version 0.
	Versions(ctx context.Context, tags []cachetag.Tag) ([]uint64, error)

	// Bump increments the version of every tag, marking results that depend on them stale.
	Bump(ctx context.Context, tags []cachetag.Tag) error
}

// MemoryRegistry is an in-process Registry for single-instance deployments and tests.
type MemoryRegistry struct {
	mu       sync.RWMutex
	versions map[cachetag.Tag]uint64
}

// NewMemoryRegistry creates an empty in-memory registry.
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{versions: make(map[cachetag.Tag]uint64)}
}

func (r *MemoryRegistry) Versions(_ context.Context, tags []cachetag.Tag) ([]uint64, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]uint64, len(tags))
	for i, t := range tags {
		out[i] = r.versions[t]
	}
	return out, nil
}

func (r *MemoryRegistry) Bump(_ context.Context, tags []cachetag.Tag) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	for _, t := range tags {
		r.versions[t]++
	}
	return nil
}
