// Package memory provides an in-memory implementation of the subsync.Store interface.
// This implementation is primarily intended for testing and development.
package memory

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/mihaimyh/gosubsync/pkg/subsync"
)

type membershipKey struct {
	organizationID string
	userID         string
}

// state is one consistent version of the data set. Transactions work on a private clone
// and publish it on commit.
type state struct {
	organizations     map[string]*subsync.Organization
	memberships       map[membershipKey]*subsync.Membership
	subscriptions     map[string]*subsync.Subscription
	subscriptionItems map[string]*subsync.SubscriptionItem
	orders            map[string]*subsync.Order
	orderItems        map[string]*subsync.OrderItem
}

func newState() *state {
	return &state{
		organizations:     make(map[string]*subsync.Organization),
		memberships:       make(map[membershipKey]*subsync.Membership),
		subscriptions:     make(map[string]*subsync.Subscription),
		subscriptionItems: make(map[string]*subsync.SubscriptionItem),
		orders:            make(map[string]*subsync.Order),
		orderItems:        make(map[string]*subsync.OrderItem),
	}
}

// clone copies the maps; rows are never mutated in place, so sharing pointers is safe.
func (s *state) clone() *state {
	return &state{
		organizations:     maps.Clone(s.organizations),
		memberships:       maps.Clone(s.memberships),
		subscriptions:     maps.Clone(s.subscriptions),
		subscriptionItems: maps.Clone(s.subscriptionItems),
		orders:            maps.Clone(s.orders),
		orderItems:        maps.Clone(s.orderItems),
	}
}

// Storage implements subsync.Store using in-memory maps.
// Transactions are serialized by a single lock.
type Storage struct {
	mu    sync.RWMutex
	state *state
}

// New creates a new in-memory storage adapter
func New() *Storage {
	return &Storage{state: newState()}
}

// CreateOrganization stores an organization. Billing customer ids must be unique.
func (s *Storage) CreateOrganization(_ context.Context, org *subsync.Organization) error {
	if org == nil || org.ID == "" {
		return fmt.Errorf("invalid organization")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if org.BillingCustomerID != "" {
		for _, existing := range s.state.organizations {
			if existing.ID != org.ID && existing.BillingCustomerID == org.BillingCustomerID {
				return fmt.Errorf("billing customer %s already belongs to organization %s",
					org.BillingCustomerID, existing.ID)
			}
		}
	}
	orgCopy := *org
	s.state.organizations[org.ID] = &orgCopy
	return nil
}

// AddMembership stores a membership.
func (s *Storage) AddMembership(_ context.Context, m *subsync.Membership) error {
	if m == nil || m.OrganizationID == "" || m.UserID == "" {
		return fmt.Errorf("invalid membership")
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	mCopy := *m
	if mCopy.CreatedAt.IsZero() {
		mCopy.CreatedAt = time.Now().UTC()
	}
	s.state.memberships[membershipKey{m.OrganizationID, m.UserID}] = &mCopy
	return nil
}

// ResolveOrganization implements subsync.Store
func (s *Storage) ResolveOrganization(_ context.Context, customerID string) (string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, org := range s.state.organizations {
		if org.BillingCustomerID == customerID {
			return org.ID, nil
		}
	}
	return "", subsync.ErrOrganizationNotFound
}

// WithinTx implements subsync.Store. fn runs against a private copy of the data that
// replaces the shared one only when fn succeeds.
func (s *Storage) WithinTx(ctx context.Context, fn func(ctx context.Context, tx subsync.Tx) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := ctx.Err(); err != nil {
		return err
	}

	working := s.state.clone()
	if err := fn(ctx, &tx{state: working}); err != nil {
		return err
	}
	s.state = working
	return nil
}

// ListSubscriptions implements subsync.Store
func (s *Storage) ListSubscriptions(_ context.Context, organizationID string) ([]*subsync.Subscription, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*subsync.Subscription
	for _, sub := range s.state.subscriptions {
		if sub.OrganizationID == organizationID {
			subCopy := *sub
			out = append(out, &subCopy)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListSubscriptionItems implements subsync.Store
func (s *Storage) ListSubscriptionItems(_ context.Context, subscriptionID string) ([]*subsync.SubscriptionItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*subsync.SubscriptionItem
	for _, item := range s.state.subscriptionItems {
		if item.SubscriptionID == subscriptionID {
			itemCopy := *item
			out = append(out, &itemCopy)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListOrders implements subsync.Store
func (s *Storage) ListOrders(_ context.Context, organizationID string) ([]*subsync.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*subsync.Order
	for _, order := range s.state.orders {
		if order.OrganizationID == organizationID {
			orderCopy := *order
			out = append(out, &orderCopy)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListOrderItems implements subsync.Store
func (s *Storage) ListOrderItems(_ context.Context, orderID string) ([]*subsync.OrderItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*subsync.OrderItem
	for _, item := range s.state.orderItems {
		if item.OrderID == orderID {
			itemCopy := *item
			out = append(out, &itemCopy)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

// ListMembers implements subsync.Store
func (s *Storage) ListMembers(_ context.Context, organizationID string) ([]*subsync.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.memberships(func(m *subsync.Membership) bool { return m.OrganizationID == organizationID }), nil
}

// ListUserMemberships implements subsync.Store
func (s *Storage) ListUserMemberships(_ context.Context, userID string) ([]*subsync.Membership, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	return s.memberships(func(m *subsync.Membership) bool { return m.UserID == userID }), nil
}

func (s *Storage) memberships(match func(*subsync.Membership) bool) []*subsync.Membership {
	var out []*subsync.Membership
	for _, m := range s.state.memberships {
		if match(m) {
			mCopy := *m
			out = append(out, &mCopy)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].UserID < out[j].UserID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// tx implements subsync.Tx over a private state clone.
type tx struct {
	state *state
}

func (t *tx) UpsertSubscription(_ context.Context, sub *subsync.Subscription) (string, error) {
	if sub == nil || sub.ID == "" {
		return "", fmt.Errorf("invalid subscription")
	}
	subCopy := *sub
	if existing, ok := t.state.subscriptions[sub.ID]; ok {
		subCopy.OrganizationID = existing.OrganizationID
	}
	t.state.subscriptions[sub.ID] = &subCopy
	return subCopy.OrganizationID, nil
}

func (t *tx) DeleteSubscriptionItemsExcept(_ context.Context, subscriptionID string, keep []string) (int, error) {
	deleted := 0
	for id, item := range t.state.subscriptionItems {
		if item.SubscriptionID == subscriptionID && !slices.Contains(keep, id) {
			delete(t.state.subscriptionItems, id)
			deleted++
		}
	}
	return deleted, nil
}

func (t *tx) UpsertSubscriptionItem(_ context.Context, item *subsync.SubscriptionItem) (*subsync.ItemParent, error) {
	if item == nil || item.ID == "" {
		return nil, fmt.Errorf("invalid subscription item")
	}
	var previous *subsync.ItemParent
	if existing, ok := t.state.subscriptionItems[item.ID]; ok && existing.SubscriptionID != item.SubscriptionID {
		previous = &subsync.ItemParent{ID: existing.SubscriptionID}
		if sub, ok := t.state.subscriptions[existing.SubscriptionID]; ok {
			previous.OrganizationID = sub.OrganizationID
		}
	}
	itemCopy := *item
	t.state.subscriptionItems[item.ID] = &itemCopy
	return previous, nil
}

func (t *tx) UpsertOrder(_ context.Context, order *subsync.Order) (string, error) {
	if order == nil || order.ID == "" {
		return "", fmt.Errorf("invalid order")
	}
	orderCopy := *order
	if existing, ok := t.state.orders[order.ID]; ok {
		orderCopy.OrganizationID = existing.OrganizationID
	}
	t.state.orders[order.ID] = &orderCopy
	return orderCopy.OrganizationID, nil
}

func (t *tx) DeleteOrderItemsExcept(_ context.Context, orderID string, keep []string) (int, error) {
	deleted := 0
	for id, item := range t.state.orderItems {
		if item.OrderID == orderID && !slices.Contains(keep, id) {
			delete(t.state.orderItems, id)
			deleted++
		}
	}
	return deleted, nil
}

func (t *tx) UpsertOrderItem(_ context.Context, item *subsync.OrderItem) (*subsync.ItemParent, error) {
	if item == nil || item.ID == "" {
		return nil, fmt.Errorf("invalid order item")
	}
	var previous *subsync.ItemParent
	if existing, ok := t.state.orderItems[item.ID]; ok && existing.OrderID != item.OrderID {
		previous = &subsync.ItemParent{ID: existing.OrderID}
		if order, ok := t.state.orders[existing.OrderID]; ok {
			previous.OrganizationID = order.OrganizationID
		}
	}
	itemCopy := *item
	t.state.orderItems[item.ID] = &itemCopy
	return previous, nil
}

func (t *tx) GetMembership(_ context.Context, organizationID, userID string) (*subsync.Membership, error) {
	m, ok := t.state.memberships[membershipKey{organizationID, userID}]
	if !ok {
		return nil, subsync.ErrMembershipNotFound
	}
	mCopy := *m
	return &mCopy, nil
}

func (t *tx) SetMembershipOwner(_ context.Context, organizationID, userID string, isOwner bool) error {
	key := membershipKey{organizationID, userID}
	m, ok := t.state.memberships[key]
	if !ok {
		return subsync.ErrMembershipNotFound
	}
	mCopy := *m
	mCopy.IsOwner = isOwner
	t.state.memberships[key] = &mCopy
	return nil
}
