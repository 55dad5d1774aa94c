// Package firestore provides a Firestore implementation of the subsync.Store interface.
//
// Firestore transactions require every read to happen before the first write, while a
// reconciliation interleaves them. Writes made through the transaction are therefore
// buffered and applied when the callback returns; reads observe the documents as of the
// transaction plus subscription, order and membership writes buffered earlier in it.
package firestore

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/mihaimyh/gosubsync/pkg/subsync"
)

// Storage implements subsync.Store using Google Cloud Firestore
type Storage struct {
	client                      *firestore.Client
	organizationsCollection     string
	membersCollection           string
	subscriptionsCollection     string
	subscriptionItemsCollection string
	ordersCollection            string
	orderItemsCollection        string
}

// Config holds Firestore storage configuration
type Config struct {
	// OrganizationsCollection is the collection of organizations
	// Default: "organizations"
	OrganizationsCollection string

	// MembersCollection is the name of the member subcollection under each organization.
	// It is queried as a collection group, so it must not be reused elsewhere.
	// Default: "members"
	MembersCollection string

	// SubscriptionsCollection is the collection of subscriptions
	// Default: "billing_subscriptions"
	SubscriptionsCollection string

	// SubscriptionItemsCollection is the collection of subscription items
	// Default: "billing_subscription_items"
	SubscriptionItemsCollection string

	// OrdersCollection is the collection of orders
	// Default: "billing_orders"
	OrdersCollection string

	// OrderItemsCollection is the collection of order items
	// Default: "billing_order_items"
	OrderItemsCollection string
}

// New creates a new Firestore storage adapter
func New(client *firestore.Client, config Config) (*Storage, error) {
	if client == nil {
		return nil, fmt.Errorf("firestore client is required")
	}

	if config.OrganizationsCollection == "" {
		config.OrganizationsCollection = "organizations"
	}
	if config.MembersCollection == "" {
		config.MembersCollection = "members"
	}
	if config.SubscriptionsCollection == "" {
		config.SubscriptionsCollection = "billing_subscriptions"
	}
	if config.SubscriptionItemsCollection == "" {
		config.SubscriptionItemsCollection = "billing_subscription_items"
	}
	if config.OrdersCollection == "" {
		config.OrdersCollection = "billing_orders"
	}
	if config.OrderItemsCollection == "" {
		config.OrderItemsCollection = "billing_order_items"
	}

	return &Storage{
		client:                      client,
		organizationsCollection:     config.OrganizationsCollection,
		membersCollection:           config.MembersCollection,
		subscriptionsCollection:     config.SubscriptionsCollection,
		subscriptionItemsCollection: config.SubscriptionItemsCollection,
		ordersCollection:            config.OrdersCollection,
		orderItemsCollection:        config.OrderItemsCollection,
	}, nil
}

type organizationDoc struct {
	Name              string `firestore:"name"`
	Slug              string `firestore:"slug"`
	BillingCustomerID string `firestore:"billingCustomerId"`
}

type membershipDoc struct {
	OrganizationID string    `firestore:"organizationId"`
	UserID         string    `firestore:"userId"`
	Role           string    `firestore:"role"`
	IsOwner        bool      `firestore:"isOwner"`
	CreatedAt      time.Time `firestore:"createdAt"`
}

type subscriptionDoc struct {
	OrganizationID    string     `firestore:"organizationId"`
	Status            string     `firestore:"status"`
	Active            bool       `firestore:"active"`
	Provider          string     `firestore:"provider"`
	CancelAtPeriodEnd bool       `firestore:"cancelAtPeriodEnd"`
	Currency          string     `firestore:"currency"`
	PeriodStartsAt    time.Time  `firestore:"periodStartsAt"`
	PeriodEndsAt      time.Time  `firestore:"periodEndsAt"`
	TrialStartsAt     *time.Time `firestore:"trialStartsAt"`
	TrialEndsAt       *time.Time `firestore:"trialEndsAt"`
	UpdatedAt         time.Time  `firestore:"updatedAt"`
}

type subscriptionItemDoc struct {
	SubscriptionID string    `firestore:"subscriptionId"`
	Quantity       int       `firestore:"quantity"`
	ProductID      string    `firestore:"productId"`
	VariantID      string    `firestore:"variantId"`
	PriceAmount    int64     `firestore:"priceAmount"`
	Interval       string    `firestore:"interval"`
	IntervalCount  int       `firestore:"intervalCount"`
	Type           string    `firestore:"type"`
	Model          string    `firestore:"model"`
	UpdatedAt      time.Time `firestore:"updatedAt"`
}

type orderDoc struct {
	OrganizationID string    `firestore:"organizationId"`
	Status         string    `firestore:"status"`
	Provider       string    `firestore:"provider"`
	Currency       string    `firestore:"currency"`
	TotalAmount    int64     `firestore:"totalAmount"`
	UpdatedAt      time.Time `firestore:"updatedAt"`
}

type orderItemDoc struct {
	OrderID     string    `firestore:"orderId"`
	Quantity    int       `firestore:"quantity"`
	ProductID   string    `firestore:"productId"`
	VariantID   string    `firestore:"variantId"`
	PriceAmount int64     `firestore:"priceAmount"`
	Type        string    `firestore:"type"`
	Model       string    `firestore:"model"`
	UpdatedAt   time.Time `firestore:"updatedAt"`
}

func (s *Storage) memberDoc(organizationID, userID string) *firestore.DocumentRef {
	return s.client.Collection(s.organizationsCollection).Doc(organizationID).
		Collection(s.membersCollection).Doc(userID)
}

// CreateOrganization stores an organization.
func (s *Storage) CreateOrganization(ctx context.Context, org *subsync.Organization) error {
	if org == nil || org.ID == "" {
		return fmt.Errorf("invalid organization")
	}
	_, err := s.client.Collection(s.organizationsCollection).Doc(org.ID).Set(ctx, organizationDoc{
		Name:              org.Name,
		Slug:              org.Slug,
		BillingCustomerID: org.BillingCustomerID,
	})
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}
	return nil
}

// AddMembership stores a membership.
func (s *Storage) AddMembership(ctx context.Context, m *subsync.Membership) error {
	if m == nil || m.OrganizationID == "" || m.UserID == "" {
		return fmt.Errorf("invalid membership")
	}
	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.memberDoc(m.OrganizationID, m.UserID).Set(ctx, membershipDoc{
		OrganizationID: m.OrganizationID,
		UserID:         m.UserID,
		Role:           string(m.Role),
		IsOwner:        m.IsOwner,
		CreatedAt:      createdAt,
	})
	if err != nil {
		return fmt.Errorf("failed to add membership: %w", err)
	}
	return nil
}

// ResolveOrganization implements subsync.Store
func (s *Storage) ResolveOrganization(ctx context.Context, customerID string) (string, error) {
	iter := s.client.Collection(s.organizationsCollection).
		Where("billingCustomerId", "==", customerID).Limit(1).Documents(ctx)
	defer iter.Stop()

	snap, err := iter.Next()
	if errors.Is(err, iterator.Done) {
		return "", subsync.ErrOrganizationNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve organization: %w", err)
	}
	return snap.Ref.ID, nil
}

// WithinTx implements subsync.Store. Firestore retries fn on contention.
func (s *Storage) WithinTx(ctx context.Context, fn func(ctx context.Context, tx subsync.Tx) error) error {
	return s.client.RunTransaction(ctx, func(ctx context.Context, ftx *firestore.Transaction) error {
		t := &fsTx{
			s:             s,
			tx:            ftx,
			subscriptions: make(map[string]string),
			orders:        make(map[string]string),
			members:       make(map[string]*subsync.Membership),
		}
		if err := fn(ctx, t); err != nil {
			return err
		}
		return t.flush()
	})
}

// ListSubscriptions implements subsync.Store
func (s *Storage) ListSubscriptions(ctx context.Context, organizationID string) ([]*subsync.Subscription, error) {
	snaps, err := s.client.Collection(s.subscriptionsCollection).
		Where("organizationId", "==", organizationID).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	out := make([]*subsync.Subscription, 0, len(snaps))
	for _, snap := range snaps {
		var doc subscriptionDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode subscription %s: %w", snap.Ref.ID, err)
		}
		out = append(out, &subsync.Subscription{
			ID:                snap.Ref.ID,
			OrganizationID:    doc.OrganizationID,
			Status:            subsync.SubscriptionStatus(doc.Status),
			Active:            doc.Active,
			Provider:          doc.Provider,
			CancelAtPeriodEnd: doc.CancelAtPeriodEnd,
			Currency:          doc.Currency,
			PeriodStartsAt:    doc.PeriodStartsAt,
			PeriodEndsAt:      doc.PeriodEndsAt,
			TrialStartsAt:     doc.TrialStartsAt,
			TrialEndsAt:       doc.TrialEndsAt,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListSubscriptionItems implements subsync.Store
func (s *Storage) ListSubscriptionItems(ctx context.Context, subscriptionID string) ([]*subsync.SubscriptionItem, error) {
	snaps, err := s.client.Collection(s.subscriptionItemsCollection).
		Where("subscriptionId", "==", subscriptionID).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query subscription items: %w", err)
	}
	out := make([]*subsync.SubscriptionItem, 0, len(snaps))
	for _, snap := range snaps {
		var doc subscriptionItemDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode subscription item %s: %w", snap.Ref.ID, err)
		}
		out = append(out, &subsync.SubscriptionItem{
			ID:             snap.Ref.ID,
			SubscriptionID: doc.SubscriptionID,
			Quantity:       doc.Quantity,
			ProductID:      doc.ProductID,
			VariantID:      doc.VariantID,
			PriceAmount:    doc.PriceAmount,
			Interval:       subsync.PriceInterval(doc.Interval),
			IntervalCount:  doc.IntervalCount,
			Type:           subsync.PriceType(doc.Type),
			Model:          subsync.PriceModel(doc.Model),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListOrders implements subsync.Store
func (s *Storage) ListOrders(ctx context.Context, organizationID string) ([]*subsync.Order, error) {
	snaps, err := s.client.Collection(s.ordersCollection).
		Where("organizationId", "==", organizationID).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	out := make([]*subsync.Order, 0, len(snaps))
	for _, snap := range snaps {
		var doc orderDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode order %s: %w", snap.Ref.ID, err)
		}
		out = append(out, &subsync.Order{
			ID:             snap.Ref.ID,
			OrganizationID: doc.OrganizationID,
			Status:         subsync.OrderStatus(doc.Status),
			Provider:       doc.Provider,
			Currency:       doc.Currency,
			TotalAmount:    doc.TotalAmount,
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListOrderItems implements subsync.Store
func (s *Storage) ListOrderItems(ctx context.Context, orderID string) ([]*subsync.OrderItem, error) {
	snaps, err := s.client.Collection(s.orderItemsCollection).
		Where("orderId", "==", orderID).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	out := make([]*subsync.OrderItem, 0, len(snaps))
	for _, snap := range snaps {
		var doc orderItemDoc
		if err := snap.DataTo(&doc); err != nil {
			return nil, fmt.Errorf("failed to decode order item %s: %w", snap.Ref.ID, err)
		}
		out = append(out, &subsync.OrderItem{
			ID:          snap.Ref.ID,
			OrderID:     doc.OrderID,
			Quantity:    doc.Quantity,
			ProductID:   doc.ProductID,
			VariantID:   doc.VariantID,
			PriceAmount: doc.PriceAmount,
			Type:        subsync.PriceType(doc.Type),
			Model:       subsync.PriceModel(doc.Model),
		})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListMembers implements subsync.Store
func (s *Storage) ListMembers(ctx context.Context, organizationID string) ([]*subsync.Membership, error) {
	snaps, err := s.client.Collection(s.organizationsCollection).Doc(organizationID).
		Collection(s.membersCollection).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query members: %w", err)
	}
	return decodeMemberships(snaps)
}

// ListUserMemberships implements subsync.Store
func (s *Storage) ListUserMemberships(ctx context.Context, userID string) ([]*subsync.Membership, error) {
	snaps, err := s.client.CollectionGroup(s.membersCollection).
		Where("userId", "==", userID).Documents(ctx).GetAll()
	if err != nil {
		return nil, fmt.Errorf("failed to query user memberships: %w", err)
	}
	return decodeMemberships(snaps)
}

func decodeMemberships(snaps []*firestore.DocumentSnapshot) ([]*subsync.Membership, error) {
	out := make([]*subsync.Membership, 0, len(snaps))
	for _, snap := range snaps {
		m, err := decodeMembership(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].OrganizationID+out[i].UserID < out[j].OrganizationID+out[j].UserID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out, nil
}

func decodeMembership(snap *firestore.DocumentSnapshot) (*subsync.Membership, error) {
	var doc membershipDoc
	if err := snap.DataTo(&doc); err != nil {
		return nil, fmt.Errorf("failed to decode membership %s: %w", snap.Ref.Path, err)
	}
	return &subsync.Membership{
		OrganizationID: doc.OrganizationID,
		UserID:         doc.UserID,
		Role:           subsync.MemberRole(doc.Role),
		IsOwner:        doc.IsOwner,
		CreatedAt:      doc.CreatedAt,
	}, nil
}

// fsTx implements subsync.Tx on a Firestore transaction with buffered writes.
type fsTx struct {
	s      *Storage
	tx     *firestore.Transaction
	writes []func(tx *firestore.Transaction) error

	// organization id per subscription and order id upserted in this transaction
	subscriptions map[string]string
	orders        map[string]string
	// memberships read or written in this transaction, keyed by document path
	members map[string]*subsync.Membership
}

func (t *fsTx) flush() error {
	for _, write := range t.writes {
		if err := write(t.tx); err != nil {
			return err
		}
	}
	return nil
}

func (t *fsTx) buffer(write func(tx *firestore.Transaction) error) {
	t.writes = append(t.writes, write)
}

// storedOrganization returns the organization id stored on doc, or "" if it does not exist.
func (t *fsTx) storedOrganization(doc *firestore.DocumentRef) (string, error) {
	snap, err := t.tx.Get(doc)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return "", nil
		}
		return "", err
	}
	if !snap.Exists() {
		return "", nil
	}
	orgID, _ := snap.Data()["organizationId"].(string)
	return orgID, nil
}

func (t *fsTx) UpsertSubscription(_ context.Context, sub *subsync.Subscription) (string, error) {
	orgID, seen := t.subscriptions[sub.ID]
	doc := t.s.client.Collection(t.s.subscriptionsCollection).Doc(sub.ID)
	if !seen {
		stored, err := t.storedOrganization(doc)
		if err != nil {
			return "", fmt.Errorf("failed to get subscription: %w", err)
		}
		orgID = stored
	}
	if orgID == "" {
		orgID = sub.OrganizationID
	}
	t.subscriptions[sub.ID] = orgID

	data := subscriptionDoc{
		OrganizationID:    orgID,
		Status:            string(sub.Status),
		Active:            sub.Active,
		Provider:          sub.Provider,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		Currency:          sub.Currency,
		PeriodStartsAt:    sub.PeriodStartsAt,
		PeriodEndsAt:      sub.PeriodEndsAt,
		TrialStartsAt:     sub.TrialStartsAt,
		TrialEndsAt:       sub.TrialEndsAt,
		UpdatedAt:         time.Now().UTC(),
	}
	t.buffer(func(tx *firestore.Transaction) error { return tx.Set(doc, data) })
	return orgID, nil
}

// staleDocs returns the documents of coll whose field equals parentID and whose id is not in keep.
func (t *fsTx) staleDocs(coll, field, parentID string, keep []string) ([]*firestore.DocumentRef, error) {
	iter := t.tx.Documents(t.s.client.Collection(coll).Where(field, "==", parentID))
	defer iter.Stop()

	var stale []*firestore.DocumentRef
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			return stale, nil
		}
		if err != nil {
			return nil, err
		}
		if !slices.Contains(keep, snap.Ref.ID) {
			stale = append(stale, snap.Ref)
		}
	}
}

func (t *fsTx) DeleteSubscriptionItemsExcept(_ context.Context, subscriptionID string, keep []string) (int, error) {
	stale, err := t.staleDocs(t.s.subscriptionItemsCollection, "subscriptionId", subscriptionID, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to query subscription items: %w", err)
	}
	for _, doc := range stale {
		t.buffer(func(tx *firestore.Transaction) error { return tx.Delete(doc) })
	}
	return len(stale), nil
}

// previousParent reads the item document and returns its parent when it is not parentID.
// parentOrgs holds the parents already upserted in this transaction.
func (t *fsTx) previousParent(doc *firestore.DocumentRef, parentField, parentID, parentCollection string,
	parentOrgs map[string]string) (*subsync.ItemParent, error) {
	snap, err := t.tx.Get(doc)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, nil
		}
		return nil, err
	}
	if !snap.Exists() {
		return nil, nil
	}
	previousID, _ := snap.Data()[parentField].(string)
	if previousID == "" || previousID == parentID {
		return nil, nil
	}

	previous := &subsync.ItemParent{ID: previousID}
	if orgID, ok := parentOrgs[previousID]; ok {
		previous.OrganizationID = orgID
		return previous, nil
	}
	orgID, err := t.storedOrganization(t.s.client.Collection(parentCollection).Doc(previousID))
	if err != nil {
		return nil, err
	}
	previous.OrganizationID = orgID
	return previous, nil
}

func (t *fsTx) UpsertSubscriptionItem(_ context.Context, item *subsync.SubscriptionItem) (*subsync.ItemParent, error) {
	doc := t.s.client.Collection(t.s.subscriptionItemsCollection).Doc(item.ID)
	previous, err := t.previousParent(doc, "subscriptionId", item.SubscriptionID,
		t.s.subscriptionsCollection, t.subscriptions)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription item: %w", err)
	}
	data := subscriptionItemDoc{
		SubscriptionID: item.SubscriptionID,
		Quantity:       item.Quantity,
		ProductID:      item.ProductID,
		VariantID:      item.VariantID,
		PriceAmount:    item.PriceAmount,
		Interval:       string(item.Interval),
		IntervalCount:  item.IntervalCount,
		Type:           string(item.Type),
		Model:          string(item.Model),
		UpdatedAt:      time.Now().UTC(),
	}
	t.buffer(func(tx *firestore.Transaction) error { return tx.Set(doc, data) })
	return previous, nil
}

func (t *fsTx) UpsertOrder(_ context.Context, order *subsync.Order) (string, error) {
	orgID, seen := t.orders[order.ID]
	doc := t.s.client.Collection(t.s.ordersCollection).Doc(order.ID)
	if !seen {
		stored, err := t.storedOrganization(doc)
		if err != nil {
			return "", fmt.Errorf("failed to get order: %w", err)
		}
		orgID = stored
	}
	if orgID == "" {
		orgID = order.OrganizationID
	}
	t.orders[order.ID] = orgID

	data := orderDoc{
		OrganizationID: orgID,
		Status:         string(order.Status),
		Provider:       order.Provider,
		Currency:       order.Currency,
		TotalAmount:    order.TotalAmount,
		UpdatedAt:      time.Now().UTC(),
	}
	t.buffer(func(tx *firestore.Transaction) error { return tx.Set(doc, data) })
	return orgID, nil
}

func (t *fsTx) DeleteOrderItemsExcept(_ context.Context, orderID string, keep []string) (int, error) {
	stale, err := t.staleDocs(t.s.orderItemsCollection, "orderId", orderID, keep)
	if err != nil {
		return 0, fmt.Errorf("failed to query order items: %w", err)
	}
	for _, doc := range stale {
		t.buffer(func(tx *firestore.Transaction) error { return tx.Delete(doc) })
	}
	return len(stale), nil
}

func (t *fsTx) UpsertOrderItem(_ context.Context, item *subsync.OrderItem) (*subsync.ItemParent, error) {
	doc := t.s.client.Collection(t.s.orderItemsCollection).Doc(item.ID)
	previous, err := t.previousParent(doc, "orderId", item.OrderID, t.s.ordersCollection, t.orders)
	if err != nil {
		return nil, fmt.Errorf("failed to get order item: %w", err)
	}
	data := orderItemDoc{
		OrderID:     item.OrderID,
		Quantity:    item.Quantity,
		ProductID:   item.ProductID,
		VariantID:   item.VariantID,
		PriceAmount: item.PriceAmount,
		Type:        string(item.Type),
		Model:       string(item.Model),
		UpdatedAt:   time.Now().UTC(),
	}
	t.buffer(func(tx *firestore.Transaction) error { return tx.Set(doc, data) })
	return previous, nil
}

func (t *fsTx) GetMembership(_ context.Context, organizationID, userID string) (*subsync.Membership, error) {
	doc := t.s.memberDoc(organizationID, userID)
	if m, ok := t.members[doc.Path]; ok {
		mCopy := *m
		return &mCopy, nil
	}

	snap, err := t.tx.Get(doc)
	if err != nil {
		if status.Code(err) == codes.NotFound {
			return nil, subsync.ErrMembershipNotFound
		}
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	if !snap.Exists() {
		return nil, subsync.ErrMembershipNotFound
	}
	m, err := decodeMembership(snap)
	if err != nil {
		return nil, err
	}
	t.members[doc.Path] = m
	mCopy := *m
	return &mCopy, nil
}

func (t *fsTx) SetMembershipOwner(ctx context.Context, organizationID, userID string, isOwner bool) error {
	m, err := t.GetMembership(ctx, organizationID, userID)
	if err != nil {
		return err
	}
	m.IsOwner = isOwner
	doc := t.s.memberDoc(organizationID, userID)
	t.members[doc.Path] = m

	t.buffer(func(tx *firestore.Transaction) error {
		return tx.Update(doc, []firestore.Update{{Path: "isOwner", Value: isOwner}})
	})
	return nil
}
