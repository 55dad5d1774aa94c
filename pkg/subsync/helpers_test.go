package subsync_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/gosubsync/pkg/cachetag"
	"github.com/mihaimyh/gosubsync/pkg/subsync"
	"github.com/mihaimyh/gosubsync/storage/memory"
)

const (
	testOrgID      = "org_1"
	testCustomerID = "cus_1"
)

var errBoom = errors.New("boom")

// newTestStore returns a memory store seeded with one organization.
func newTestStore(t *testing.T) *memory.Storage {
	t.Helper()
	store := memory.New()
	require.NoError(t, store.CreateOrganization(context.Background(), &subsync.Organization{
		ID:                testOrgID,
		Name:              "Acme",
		Slug:              "acme",
		BillingCustomerID: testCustomerID,
	}))
	return store
}

func testSnapshot(itemIDs ...string) *subsync.SubscriptionSnapshot {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := &subsync.SubscriptionSnapshot{
		SubscriptionID: "sub_1",
		CustomerID:     testCustomerID,
		Status:         subsync.StatusActive,
		Active:         true,
		Provider:       "stripe",
		Currency:       "USD",
		PeriodStartsAt: now,
		PeriodEndsAt:   now.AddDate(0, 1, 0),
	}
	for _, id := range itemIDs {
		snap.Items = append(snap.Items, subsync.SubscriptionItemSnapshot{
			ItemID:        id,
			Quantity:      1,
			ProductID:     "prod_" + id,
			VariantID:     "price_" + id,
			PriceAmount:   1000,
			Interval:      subsync.IntervalMonth,
			IntervalCount: 1,
			Type:          subsync.PriceTypeRecurring,
			Model:         subsync.PriceModelFlat,
		})
	}
	return snap
}

// recordingInvalidator captures invalidations and optionally runs a hook on each call.
type recordingInvalidator struct {
	mu    sync.Mutex
	calls [][]cachetag.Tag
	hook  func(tags []cachetag.Tag)
}

func (r *recordingInvalidator) Invalidate(_ context.Context, tags ...cachetag.Tag) {
	r.mu.Lock()
	r.calls = append(r.calls, tags)
	hook := r.hook
	r.mu.Unlock()
	if hook != nil {
		hook(tags)
	}
}

func (r *recordingInvalidator) Calls() [][]cachetag.Tag {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.calls
}

// failingStore wraps a memory store and fails the named transactional operation.
type failingStore struct {
	*memory.Storage
	failOn string
}

func (s *failingStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx subsync.Tx) error) error {
	return s.Storage.WithinTx(ctx, func(ctx context.Context, tx subsync.Tx) error {
		return fn(ctx, &failingTx{Tx: tx, failOn: s.failOn})
	})
}

type failingTx struct {
	subsync.Tx
	failOn string
}

func (t *failingTx) UpsertSubscription(ctx context.Context, sub *subsync.Subscription) (string, error) {
	if t.failOn == "upsert_subscription" {
		return "", errBoom
	}
	return t.Tx.UpsertSubscription(ctx, sub)
}

func (t *failingTx) DeleteSubscriptionItemsExcept(ctx context.Context, subscriptionID string, keep []string) (int, error) {
	if t.failOn == "delete_items" {
		return 0, errBoom
	}
	return t.Tx.DeleteSubscriptionItemsExcept(ctx, subscriptionID, keep)
}

func (t *failingTx) UpsertSubscriptionItem(ctx context.Context, item *subsync.SubscriptionItem) (*subsync.ItemParent, error) {
	if t.failOn == "upsert_item" {
		return nil, errBoom
	}
	return t.Tx.UpsertSubscriptionItem(ctx, item)
}

func (t *failingTx) SetMembershipOwner(ctx context.Context, organizationID, userID string, isOwner bool) error {
	if t.failOn == "set_owner" && isOwner {
		return errBoom
	}
	return t.Tx.SetMembershipOwner(ctx, organizationID, userID, isOwner)
}

// failingRegistry fails every call.
type failingRegistry struct{}

func (failingRegistry) Versions(_ context.Context, _ []cachetag.Tag) ([]uint64, error) {
	return nil, errBoom
}

func (failingRegistry) Bump(_ context.Context, _ []cachetag.Tag) error {
	return errBoom
}

// recordingLogger captures warning messages.
type recordingLogger struct {
	subsync.NoopLogger
	mu    sync.Mutex
	warns []string
}

func (l *recordingLogger) Warn(msg string, _ ...subsync.Field) {
	l.mu.Lock()
	l.warns = append(l.warns, msg)
	l.mu.Unlock()
}

func (l *recordingLogger) Warnings() []string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.warns
}

// cacheMetrics counts cache hits and misses.
type cacheMetrics struct {
	subsync.NoopMetrics
	mu           sync.Mutex
	hits, misses int
}

func (m *cacheMetrics) RecordCacheHit(string) {
	m.mu.Lock()
	m.hits++
	m.mu.Unlock()
}

func (m *cacheMetrics) RecordCacheMiss(string) {
	m.mu.Lock()
	m.misses++
	m.mu.Unlock()
}
