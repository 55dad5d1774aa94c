package subsync

import "context"

// Store is the durable storage used by the reconcilers, the membership service and the
// cached read paths. It is injected explicitly; implementations live under storage/.
type Store interface {
	// ResolveOrganization returns the id of the organization whose billing customer id
	// matches customerID, or ErrOrganizationNotFound.
	ResolveOrganization(ctx context.Context, customerID string) (string, error)

	// WithinTx runs fn inside a single transaction. The transaction commits only if fn
	// returns nil; any error rolls back every write made through tx.
	// Implementations may invoke fn more than once when the backend retries conflicts.
	WithinTx(ctx context.Context, fn func(ctx context.Context, tx Tx) error) error

	// ListSubscriptions returns the organization's subscriptions ordered by id.
	ListSubscriptions(ctx context.Context, organizationID string) ([]*Subscription, error)

	// ListSubscriptionItems returns the items of a subscription ordered by id.
	ListSubscriptionItems(ctx context.Context, subscriptionID string) ([]*SubscriptionItem, error)

	// ListOrders returns the organization's orders ordered by id.
	ListOrders(ctx context.Context, organizationID string) ([]*Order, error)

	// ListOrderItems returns the items of an order ordered by id.
	ListOrderItems(ctx context.Context, orderID string) ([]*OrderItem, error)

	// ListMembers returns the memberships of an organization ordered by creation time.
	ListMembers(ctx context.Context, organizationID string) ([]*Membership, error)

	// ListUserMemberships returns the memberships of a user ordered by creation time.
	ListUserMemberships(ctx context.Context, userID string) ([]*Membership, error)
}

// Tx is the set of writes (and reads under lock) available inside a transaction.
type Tx interface {
	// UpsertSubscription creates the subscription or overwrites every field of the existing
	// row except its organization id, which is immutable once set. It returns the
	// organization id stored on the row after the write.
	UpsertSubscription(ctx context.Context, sub *Subscription) (string, error)

	// DeleteSubscriptionItemsExcept deletes the items of subscriptionID whose id is not in
	// keep and returns how many were removed. An empty keep deletes every item.
	DeleteSubscriptionItemsExcept(ctx context.Context, subscriptionID string, keep []string) (int, error)

	// UpsertSubscriptionItem creates the item or overwrites every field of the existing row,
	// including its subscription id. When the item was attached to another subscription
	// before the write, that subscription is returned; otherwise the result is nil.
	UpsertSubscriptionItem(ctx context.Context, item *SubscriptionItem) (*ItemParent, error)

	// UpsertOrder behaves like UpsertSubscription for orders.
	UpsertOrder(ctx context.Context, order *Order) (string, error)

	// DeleteOrderItemsExcept behaves like DeleteSubscriptionItemsExcept for orders.
	DeleteOrderItemsExcept(ctx context.Context, orderID string, keep []string) (int, error)

	// UpsertOrderItem behaves like UpsertSubscriptionItem for orders.
	UpsertOrderItem(ctx context.Context, item *OrderItem) (*ItemParent, error)

	// GetMembership returns the membership, or ErrMembershipNotFound.
	GetMembership(ctx context.Context, organizationID, userID string) (*Membership, error)

	// SetMembershipOwner updates the owner flag of a membership.
	SetMembershipOwner(ctx context.Context, organizationID, userID string, isOwner bool) error
}

// ItemParent is the subscription or order an item was attached to before an upsert moved it.
// OrganizationID is empty when the previous parent no longer exists.
type ItemParent struct {
	ID             string
	OrganizationID string
}
