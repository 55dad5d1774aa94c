package firestore

import (
	"context"
	"errors"
	"fmt"
	"os"
	"testing"
	"time"

	"cloud.google.com/go/firestore"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/gosubsync/pkg/subsync"
)

const testProjectID = "test-project"

func setupFirestoreClient(t *testing.T) *firestore.Client {
	t.Helper()

	if os.Getenv("FIRESTORE_EMULATOR_HOST") == "" {
		t.Skip("FIRESTORE_EMULATOR_HOST not set")
	}

	client, err := firestore.NewClient(context.Background(), testProjectID)
	if err != nil {
		t.Fatalf("Failed to create Firestore client: %v", err)
	}
	t.Cleanup(func() { _ = client.Close() })
	return client
}

// setupStorage returns storage on collections unique to the test run, seeded with org1 (cus_1) and org2.
func setupStorage(t *testing.T) *Storage {
	t.Helper()
	client := setupFirestoreClient(t)
	suffix := fmt.Sprintf("%s_%d", t.Name(), time.Now().UnixNano())

	storage, err := New(client, Config{
		OrganizationsCollection:     "orgs_" + suffix,
		MembersCollection:           "members_" + suffix,
		SubscriptionsCollection:     "subs_" + suffix,
		SubscriptionItemsCollection: "sub_items_" + suffix,
		OrdersCollection:            "orders_" + suffix,
		OrderItemsCollection:        "order_items_" + suffix,
	})
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, storage.CreateOrganization(ctx, &subsync.Organization{ID: "org1", Name: "Acme", BillingCustomerID: "cus_1"}))
	require.NoError(t, storage.CreateOrganization(ctx, &subsync.Organization{ID: "org2", Name: "Other"}))
	return storage
}

func snapshot(items ...string) *subsync.SubscriptionSnapshot {
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	snap := &subsync.SubscriptionSnapshot{
		SubscriptionID: "sub1",
		CustomerID:     "cus_1",
		Status:         subsync.StatusActive,
		Active:         true,
		Provider:       "stripe",
		Currency:       "USD",
		PeriodStartsAt: start,
		PeriodEndsAt:   start.AddDate(0, 1, 0),
	}
	for _, id := range items {
		snap.Items = append(snap.Items, subsync.SubscriptionItemSnapshot{
			ItemID: id, Quantity: 1, ProductID: "prod", VariantID: "price_" + id, PriceAmount: 999,
			Interval: subsync.IntervalMonth, IntervalCount: 1,
			Type: subsync.PriceTypeRecurring, Model: subsync.PriceModelFlat,
		})
	}
	return snap
}

func TestNew_RequiresClient(t *testing.T) {
	_, err := New(nil, Config{})
	assert.Error(t, err)
}

func TestFirestore_ResolveOrganization(t *testing.T) {
	storage := setupStorage(t)
	ctx := context.Background()

	orgID, err := storage.ResolveOrganization(ctx, "cus_1")
	require.NoError(t, err)
	assert.Equal(t, "org1", orgID)

	_, err = storage.ResolveOrganization(ctx, "cus_unknown")
	assert.ErrorIs(t, err, subsync.ErrOrganizationNotFound)
}

func TestFirestore_Reconcile(t *testing.T) {
	storage := setupStorage(t)
	ctx := context.Background()
	r, err := subsync.NewReconciler(storage, nil)
	require.NoError(t, err)

	require.NoError(t, r.Reconcile(ctx, snapshot("a", "b", "c")))

	next := snapshot("b", "d")
	next.Status = subsync.StatusCanceled
	require.NoError(t, r.Reconcile(ctx, next))

	subs, err := storage.ListSubscriptions(ctx, "org1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, subsync.StatusCanceled, subs[0].Status)
	assert.Nil(t, subs[0].TrialEndsAt)

	items, err := storage.ListSubscriptionItems(ctx, "sub1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "b", items[0].ID)
	assert.Equal(t, "d", items[1].ID)

	require.NoError(t, r.Reconcile(ctx, snapshot()))
	items, err = storage.ListSubscriptionItems(ctx, "sub1")
	require.NoError(t, err)
	assert.Empty(t, items)
}

func TestFirestore_OrganizationImmutable(t *testing.T) {
	storage := setupStorage(t)
	ctx := context.Background()
	start := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

	err := storage.WithinTx(ctx, func(ctx context.Context, tx subsync.Tx) error {
		orgID, err := tx.UpsertSubscription(ctx, &subsync.Subscription{
			ID: "sub1", OrganizationID: "org1", Status: subsync.StatusActive, PeriodStartsAt: start, PeriodEndsAt: start,
		})
		if err != nil {
			return err
		}
		assert.Equal(t, "org1", orgID)
		orgID, err = tx.UpsertSubscription(ctx, &subsync.Subscription{
			ID: "sub1", OrganizationID: "org2", Status: subsync.StatusPaused, PeriodStartsAt: start, PeriodEndsAt: start,
		})
		if err != nil {
			return err
		}
		assert.Equal(t, "org1", orgID)
		return nil
	})
	require.NoError(t, err)

	subs, err := storage.ListSubscriptions(ctx, "org1")
	require.NoError(t, err)
	require.Len(t, subs, 1)
	assert.Equal(t, subsync.StatusPaused, subs[0].Status)

	subs, err = storage.ListSubscriptions(ctx, "org2")
	require.NoError(t, err)
	assert.Empty(t, subs)
}

func TestFirestore_WithinTx_Rollback(t *testing.T) {
	storage := setupStorage(t)
	ctx := context.Background()
	r, err := subsync.NewReconciler(storage, nil)
	require.NoError(t, err)
	require.NoError(t, r.Reconcile(ctx, snapshot("a")))

	boom := errors.New("boom")
	err = storage.WithinTx(ctx, func(ctx context.Context, tx subsync.Tx) error {
		if _, err := tx.DeleteSubscriptionItemsExcept(ctx, "sub1", nil); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)

	items, err := storage.ListSubscriptionItems(ctx, "sub1")
	require.NoError(t, err)
	assert.Len(t, items, 1)
}

func TestFirestore_Orders(t *testing.T) {
	storage := setupStorage(t)
	ctx := context.Background()
	r, err := subsync.NewReconciler(storage, nil)
	require.NoError(t, err)

	order := &subsync.OrderSnapshot{
		OrderID: "ord1", OrganizationID: "org2", Status: subsync.OrderStatusSucceeded,
		Provider: "stripe", Currency: "EUR", TotalAmount: 1500,
		Items: []subsync.OrderItemSnapshot{
			{ItemID: "oi1", Quantity: 1, ProductID: "p1", PriceAmount: 1000, Type: subsync.PriceTypeOneTime, Model: subsync.PriceModelFlat},
			{ItemID: "oi2", Quantity: 1, ProductID: "p2", PriceAmount: 500, Type: subsync.PriceTypeOneTime, Model: subsync.PriceModelFlat},
		},
	}
	require.NoError(t, r.ReconcileOrder(ctx, order))
	order.Items = order.Items[1:]
	require.NoError(t, r.ReconcileOrder(ctx, order))

	orders, err := storage.ListOrders(ctx, "org2")
	require.NoError(t, err)
	require.Len(t, orders, 1)
	assert.Equal(t, int64(1500), orders[0].TotalAmount)

	items, err := storage.ListOrderItems(ctx, "ord1")
	require.NoError(t, err)
	require.Len(t, items, 1)
	assert.Equal(t, "oi2", items[0].ID)
}

func TestFirestore_TransferOwnership(t *testing.T) {
	storage := setupStorage(t)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Millisecond)

	require.NoError(t, storage.AddMembership(ctx, &subsync.Membership{OrganizationID: "org1", UserID: "u1", Role: subsync.RoleAdmin, IsOwner: true, CreatedAt: now}))
	require.NoError(t, storage.AddMembership(ctx, &subsync.Membership{OrganizationID: "org1", UserID: "u2", Role: subsync.RoleAdmin, CreatedAt: now.Add(time.Second)}))

	svc := subsync.NewMembershipService(storage, nil, nil)
	require.NoError(t, svc.TransferOwnership(ctx, "org1", "u1", "u2"))

	members, err := storage.ListMembers(ctx, "org1")
	require.NoError(t, err)
	require.Len(t, members, 2)
	assert.False(t, members[0].IsOwner)
	assert.True(t, members[1].IsOwner)

	memberships, err := storage.ListUserMemberships(ctx, "u2")
	require.NoError(t, err)
	require.Len(t, memberships, 1)
	assert.Equal(t, "org1", memberships[0].OrganizationID)

	assert.ErrorIs(t, svc.TransferOwnership(ctx, "org1", "u1", "u2"), subsync.ErrNotOwner)
}
