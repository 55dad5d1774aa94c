package subsync

import (
	"fmt"
	"time"
)

// SubscriptionStatus is the provider-reported lifecycle state of a subscription.
type SubscriptionStatus string

const (
	StatusTrialing          SubscriptionStatus = "trialing"
	StatusActive            SubscriptionStatus = "active"
	StatusPastDue           SubscriptionStatus = "past_due"
	StatusCanceled          SubscriptionStatus = "canceled"
	StatusIncomplete        SubscriptionStatus = "incomplete"
	StatusIncompleteExpired SubscriptionStatus = "incomplete_expired"
	StatusUnpaid            SubscriptionStatus = "unpaid"
	StatusPaused            SubscriptionStatus = "paused"
)

// OrderStatus is the provider-reported state of a one-off order.
type OrderStatus string

const (
	OrderStatusPending   OrderStatus = "pending"
	OrderStatusSucceeded OrderStatus = "succeeded"
	OrderStatusFailed    OrderStatus = "failed"
	OrderStatusRefunded  OrderStatus = "refunded"
)

// PriceInterval is the billing interval of a recurring price.
type PriceInterval string

const (
	IntervalDay   PriceInterval = "day"
	IntervalWeek  PriceInterval = "week"
	IntervalMonth PriceInterval = "month"
	IntervalYear  PriceInterval = "year"
)

// PriceType distinguishes recurring prices from one-time charges.
type PriceType string

const (
	PriceTypeRecurring PriceType = "recurring"
	PriceTypeOneTime   PriceType = "one-time"
)

// PriceModel is how a price is computed from quantity.
type PriceModel string

const (
	PriceModelFlat    PriceModel = "flat"
	PriceModelPerSeat PriceModel = "per_seat"
	PriceModelMetered PriceModel = "metered"
)

// MemberRole is a user's role inside an organization.
type MemberRole string

const (
	RoleAdmin  MemberRole = "admin"
	RoleMember MemberRole = "member"
)

// Organization is a tenant.
type Organization struct {
	ID                string
	Name              string
	Slug              string
	BillingCustomerID string
}

// Membership links a user to an organization.
type Membership struct {
	OrganizationID string
	UserID         string
	Role           MemberRole
	IsOwner        bool
	CreatedAt      time.Time
}

// Subscription is the stored billing relationship of an organization with a provider.
type Subscription struct {
	ID                string
	OrganizationID    string
	Status            SubscriptionStatus
	Active            bool
	Provider          string
	CancelAtPeriodEnd bool
	Currency          string
	PeriodStartsAt    time.Time
	PeriodEndsAt      time.Time
	TrialStartsAt     *time.Time
	TrialEndsAt       *time.Time
}

// SubscriptionItem is one priced line of a subscription.
// PriceAmount is expressed in the smallest currency unit.
type SubscriptionItem struct {
	ID             string
	SubscriptionID string
	Quantity       int
	ProductID      string
	VariantID      string
	PriceAmount    int64
	Interval       PriceInterval
	IntervalCount  int
	Type           PriceType
	Model          PriceModel
}

// Order is a stored one-off purchase.
type Order struct {
	ID             string
	OrganizationID string
	Status         OrderStatus
	Provider       string
	Currency       string
	TotalAmount    int64
}

// OrderItem is one priced line of an order.
type OrderItem struct {
	ID          string
	OrderID     string
	Quantity    int
	ProductID   string
	VariantID   string
	PriceAmount int64
	Type        PriceType
	Model       PriceModel
}

// SubscriptionDetail is a subscription together with its items.
type SubscriptionDetail struct {
	Subscription *Subscription
	Items        []*SubscriptionItem
}

// OrderDetail is an order together with its items.
type OrderDetail struct {
	Order *Order
	Items []*OrderItem
}

// SubscriptionSnapshot is the normalized, complete provider view of a subscription.
// OrganizationID may be empty, in which case CustomerID is used to resolve it.
type SubscriptionSnapshot struct {
	SubscriptionID    string                     `json:"subscriptionId"`
	OrganizationID    string                     `json:"organizationId,omitempty"`
	CustomerID        string                     `json:"customerId,omitempty"`
	Status            SubscriptionStatus         `json:"status"`
	Active            bool                       `json:"active"`
	Provider          string                     `json:"provider"`
	CancelAtPeriodEnd bool                       `json:"cancelAtPeriodEnd"`
	Currency          string                     `json:"currency"`
	PeriodStartsAt    time.Time                  `json:"periodStartsAt"`
	PeriodEndsAt      time.Time                  `json:"periodEndsAt"`
	TrialStartsAt     *time.Time                 `json:"trialStartsAt,omitempty"`
	TrialEndsAt       *time.Time                 `json:"trialEndsAt,omitempty"`
	Items             []SubscriptionItemSnapshot `json:"items"`
}

// SubscriptionItemSnapshot is the provider view of one subscription item.
type SubscriptionItemSnapshot struct {
	ItemID        string        `json:"itemId"`
	Quantity      int           `json:"quantity"`
	ProductID     string        `json:"productId"`
	VariantID     string        `json:"variantId,omitempty"`
	PriceAmount   int64         `json:"priceAmount"`
	Interval      PriceInterval `json:"interval"`
	IntervalCount int           `json:"intervalCount"`
	Type          PriceType     `json:"type"`
	Model         PriceModel    `json:"model"`
}

// OrderSnapshot is the normalized provider view of a one-off order.
type OrderSnapshot struct {
	OrderID        string              `json:"orderId"`
	OrganizationID string              `json:"organizationId,omitempty"`
	CustomerID     string              `json:"customerId,omitempty"`
	Status         OrderStatus         `json:"status"`
	Provider       string              `json:"provider"`
	Currency       string              `json:"currency"`
	TotalAmount    int64               `json:"totalAmount"`
	Items          []OrderItemSnapshot `json:"items"`
}

// OrderItemSnapshot is the provider view of one order item.
type OrderItemSnapshot struct {
	ItemID      string     `json:"itemId"`
	Quantity    int        `json:"quantity"`
	ProductID   string     `json:"productId"`
	VariantID   string     `json:"variantId,omitempty"`
	PriceAmount int64      `json:"priceAmount"`
	Type        PriceType  `json:"type"`
	Model       PriceModel `json:"model"`
}

// Validate checks the structural invariants of the snapshot.
func (s *SubscriptionSnapshot) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: snapshot is nil", ErrInvalidSnapshot)
	}
	if s.SubscriptionID == "" {
		return fmt.Errorf("%w: subscription id is required", ErrInvalidSnapshot)
	}
	if s.Status == "" {
		return fmt.Errorf("%w: status is required", ErrInvalidSnapshot)
	}

	seen := make(map[string]struct{}, len(s.Items))
	for i, item := range s.Items {
		if item.ItemID == "" {
			return fmt.Errorf("%w: item %d has no id", ErrInvalidSnapshot, i)
		}
		if _, dup := seen[item.ItemID]; dup {
			return fmt.Errorf("%w: duplicate item id %s", ErrInvalidSnapshot, item.ItemID)
		}
		seen[item.ItemID] = struct{}{}
		if item.Quantity < 0 || item.IntervalCount < 0 {
			return fmt.Errorf("%w: item %s has a negative quantity or interval count", ErrInvalidSnapshot, item.ItemID)
		}
	}
	return nil
}

// Validate checks the structural invariants of the snapshot.
func (s *OrderSnapshot) Validate() error {
	if s == nil {
		return fmt.Errorf("%w: snapshot is nil", ErrInvalidSnapshot)
	}
	if s.OrderID == "" {
		return fmt.Errorf("%w: order id is required", ErrInvalidSnapshot)
	}
	if s.Status == "" {
		return fmt.Errorf("%w: status is required", ErrInvalidSnapshot)
	}

	seen := make(map[string]struct{}, len(s.Items))
	for i, item := range s.Items {
		if item.ItemID == "" {
			return fmt.Errorf("%w: item %d has no id", ErrInvalidSnapshot, i)
		}
		if _, dup := seen[item.ItemID]; dup {
			return fmt.Errorf("%w: duplicate item id %s", ErrInvalidSnapshot, item.ItemID)
		}
		seen[item.ItemID] = struct{}{}
		if item.Quantity < 0 {
			return fmt.Errorf("%w: item %s has a negative quantity", ErrInvalidSnapshot, item.ItemID)
		}
	}
	return nil
}

// subscription converts the snapshot into the row stored for orgID.
func (s *SubscriptionSnapshot) subscription(orgID string) *Subscription {
	return &Subscription{
		ID:                s.SubscriptionID,
		OrganizationID:    orgID,
		Status:            s.Status,
		Active:            s.Active,
		Provider:          s.Provider,
		CancelAtPeriodEnd: s.CancelAtPeriodEnd,
		Currency:          s.Currency,
		PeriodStartsAt:    s.PeriodStartsAt,
		PeriodEndsAt:      s.PeriodEndsAt,
		TrialStartsAt:     s.TrialStartsAt,
		TrialEndsAt:       s.TrialEndsAt,
	}
}

func (s *SubscriptionSnapshot) itemIDs() []string {
	ids := make([]string, len(s.Items))
	for i, item := range s.Items {
		ids[i] = item.ItemID
	}
	return ids
}

func (i SubscriptionItemSnapshot) item(subscriptionID string) *SubscriptionItem {
	return &SubscriptionItem{
		ID:             i.ItemID,
		SubscriptionID: subscriptionID,
		Quantity:       i.Quantity,
		ProductID:      i.ProductID,
		VariantID:      i.VariantID,
		PriceAmount:    i.PriceAmount,
		Interval:       i.Interval,
		IntervalCount:  i.IntervalCount,
		Type:           i.Type,
		Model:          i.Model,
	}
}

func (s *OrderSnapshot) order(orgID string) *Order {
	return &Order{
		ID:             s.OrderID,
		OrganizationID: orgID,
		Status:         s.Status,
		Provider:       s.Provider,
		Currency:       s.Currency,
		TotalAmount:    s.TotalAmount,
	}
}

func (s *OrderSnapshot) itemIDs() []string {
	ids := make([]string, len(s.Items))
	for i, item := range s.Items {
		ids[i] = item.ItemID
	}
	return ids
}

func (i OrderItemSnapshot) item(orderID string) *OrderItem {
	return &OrderItem{
		ID:          i.ItemID,
		OrderID:     orderID,
		Quantity:    i.Quantity,
		ProductID:   i.ProductID,
		VariantID:   i.VariantID,
		PriceAmount: i.PriceAmount,
		Type:        i.Type,
		Model:       i.Model,
	}
}
