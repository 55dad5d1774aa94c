package subsync

import (
	"context"
	"fmt"

	"github.com/mihaimyh/gosubsync/pkg/cachetag"
)

// Reader serves the cached read paths. Every result is tagged with the same tags the
// mutations declare, so a committed write is visible to the next read.
type Reader struct {
	store Store
	cache *TagCache
}

// NewReader creates a reader. A nil cache reads straight from the store.
func NewReader(store Store, cache *TagCache) *Reader {
	return &Reader{store: store, cache: cache}
}

// OrganizationSubscriptions returns every subscription of the organization with its items.
func (r *Reader) OrganizationSubscriptions(ctx context.Context, organizationID string) ([]*SubscriptionDetail, error) {
	if r.store == nil {
		return nil, ErrStoreUnavailable
	}
	tags := []cachetag.Tag{cachetag.ForOrganization(cachetag.Subscriptions, organizationID)}

	return Fetch(ctx, r.cache, "organization_subscriptions",
		cachetag.Key("organization_subscriptions", organizationID), tags,
		func(ctx context.Context) ([]*SubscriptionDetail, error) {
			subs, err := r.store.ListSubscriptions(ctx, organizationID)
			if err != nil {
				return nil, fmt.Errorf("failed to list subscriptions: %w", err)
			}
			out := make([]*SubscriptionDetail, 0, len(subs))
			for _, sub := range subs {
				items, err := r.store.ListSubscriptionItems(ctx, sub.ID)
				if err != nil {
					return nil, fmt.Errorf("failed to list items of subscription %s: %w", sub.ID, err)
				}
				out = append(out, &SubscriptionDetail{Subscription: sub, Items: items})
			}
			return out, nil
		})
}

// Subscription returns one subscription of the organization with its items, or
// ErrSubscriptionNotFound.
func (r *Reader) Subscription(ctx context.Context, organizationID, subscriptionID string) (*SubscriptionDetail, error) {
	if r.store == nil {
		return nil, ErrStoreUnavailable
	}
	tags := []cachetag.Tag{cachetag.ForOrganization(cachetag.Subscriptions, organizationID, subscriptionID)}

	return Fetch(ctx, r.cache, "subscription",
		cachetag.Key("subscription", organizationID, subscriptionID), tags,
		func(ctx context.Context) (*SubscriptionDetail, error) {
			subs, err := r.store.ListSubscriptions(ctx, organizationID)
			if err != nil {
				return nil, fmt.Errorf("failed to list subscriptions: %w", err)
			}
			for _, sub := range subs {
				if sub.ID != subscriptionID {
					continue
				}
				items, err := r.store.ListSubscriptionItems(ctx, sub.ID)
				if err != nil {
					return nil, fmt.Errorf("failed to list items of subscription %s: %w", sub.ID, err)
				}
				return &SubscriptionDetail{Subscription: sub, Items: items}, nil
			}
			return nil, ErrSubscriptionNotFound
		})
}

// OrganizationOrders returns every order of the organization with its items.
func (r *Reader) OrganizationOrders(ctx context.Context, organizationID string) ([]*OrderDetail, error) {
	if r.store == nil {
		return nil, ErrStoreUnavailable
	}
	tags := []cachetag.Tag{cachetag.ForOrganization(cachetag.Orders, organizationID)}

	return Fetch(ctx, r.cache, "organization_orders",
		cachetag.Key("organization_orders", organizationID), tags,
		func(ctx context.Context) ([]*OrderDetail, error) {
			orders, err := r.store.ListOrders(ctx, organizationID)
			if err != nil {
				return nil, fmt.Errorf("failed to list orders: %w", err)
			}
			out := make([]*OrderDetail, 0, len(orders))
			for _, order := range orders {
				items, err := r.store.ListOrderItems(ctx, order.ID)
				if err != nil {
					return nil, fmt.Errorf("failed to list items of order %s: %w", order.ID, err)
				}
				out = append(out, &OrderDetail{Order: order, Items: items})
			}
			return out, nil
		})
}

// Members returns the memberships of the organization.
func (r *Reader) Members(ctx context.Context, organizationID string) ([]*Membership, error) {
	if r.store == nil {
		return nil, ErrStoreUnavailable
	}
	tags := []cachetag.Tag{cachetag.ForOrganization(cachetag.Members, organizationID)}

	return Fetch(ctx, r.cache, "organization_members",
		cachetag.Key("organization_members", organizationID), tags,
		func(ctx context.Context) ([]*Membership, error) {
			members, err := r.store.ListMembers(ctx, organizationID)
			if err != nil {
				return nil, fmt.Errorf("failed to list members: %w", err)
			}
			return members, nil
		})
}

// UserOrganizations returns the memberships of the user across organizations.
func (r *Reader) UserOrganizations(ctx context.Context, userID string) ([]*Membership, error) {
	if r.store == nil {
		return nil, ErrStoreUnavailable
	}
	tags := []cachetag.Tag{cachetag.ForUser(cachetag.Organizations, userID)}

	return Fetch(ctx, r.cache, "user_organizations",
		cachetag.Key("user_organizations", userID), tags,
		func(ctx context.Context) ([]*Membership, error) {
			memberships, err := r.store.ListUserMemberships(ctx, userID)
			if err != nil {
				return nil, fmt.Errorf("failed to list user memberships: %w", err)
			}
			return memberships, nil
		})
}

// HasActiveSubscription reports whether any subscription of the organization is active.
// It is served from the same cached result as OrganizationSubscriptions.
func (r *Reader) HasActiveSubscription(ctx context.Context, organizationID string) (bool, error) {
	subs, err := r.OrganizationSubscriptions(ctx, organizationID)
	if err != nil {
		return false, err
	}
	for _, sub := range subs {
		if sub.Subscription.Active {
			return true, nil
		}
	}
	return false, nil
}
