// Package stripe maps Stripe subscription objects and webhook events to subsync snapshots.
package stripe

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v83"

	"github.com/mihaimyh/gosubsync/pkg/subsync"
)

const (
	providerName               = "stripe"
	defaultOrganizationKey     = "organization_id"
	priceModelMetadataKey      = "model"
	subscriptionStatusActive   = "active"
	subscriptionStatusTrialing = "trialing"
)

// ErrUnsupportedEvent is returned for events that carry no subscription state.
var ErrUnsupportedEvent = errors.New("unsupported stripe event")

// Config holds mapper options
type Config struct {
	// OrganizationMetadataKey is the subscription metadata key holding the organization id.
	// When absent from a subscription, the snapshot is resolved by customer id instead.
	// Default: "organization_id"
	OrganizationMetadataKey string
}

// Mapper converts Stripe objects into subsync snapshots.
type Mapper struct {
	organizationKey string
}

// NewMapper creates a mapper
func NewMapper(config Config) *Mapper {
	if config.OrganizationMetadataKey == "" {
		config.OrganizationMetadataKey = defaultOrganizationKey
	}
	return &Mapper{organizationKey: config.OrganizationMetadataKey}
}

// Event extracts the subscription carried by a customer.subscription.* event.
func (m *Mapper) Event(event stripe.Event) (*subsync.SubscriptionSnapshot, error) {
	switch event.Type {
	case "customer.subscription.created",
		"customer.subscription.updated",
		"customer.subscription.deleted",
		"customer.subscription.paused",
		"customer.subscription.resumed",
		"customer.subscription.trial_will_end":
	default:
		return nil, fmt.Errorf("%w: %s", ErrUnsupportedEvent, event.Type)
	}
	if event.Data == nil {
		return nil, fmt.Errorf("%w: event %s has no data", subsync.ErrInvalidSnapshot, event.ID)
	}

	var sub stripe.Subscription
	if err := json.Unmarshal(event.Data.Raw, &sub); err != nil {
		return nil, fmt.Errorf("failed to unmarshal subscription: %w", err)
	}
	return m.Subscription(&sub)
}

// Subscription maps a Stripe subscription. The period covers every item's current period.
func (m *Mapper) Subscription(sub *stripe.Subscription) (*subsync.SubscriptionSnapshot, error) {
	if sub == nil || sub.ID == "" {
		return nil, fmt.Errorf("%w: subscription id is required", subsync.ErrInvalidSnapshot)
	}

	snap := &subsync.SubscriptionSnapshot{
		SubscriptionID:    sub.ID,
		Status:            subsync.SubscriptionStatus(sub.Status),
		Active:            sub.Status == subscriptionStatusActive || sub.Status == subscriptionStatusTrialing,
		Provider:          providerName,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		Currency:          strings.ToUpper(string(sub.Currency)),
		TrialStartsAt:     unixPtr(sub.TrialStart),
		TrialEndsAt:       unixPtr(sub.TrialEnd),
	}
	if sub.Metadata != nil {
		snap.OrganizationID = sub.Metadata[m.organizationKey]
	}
	if sub.Customer != nil {
		snap.CustomerID = sub.Customer.ID
	}

	if sub.Items == nil {
		return snap, nil
	}
	for _, item := range sub.Items.Data {
		if item == nil {
			continue
		}
		mapped, err := mapItem(item)
		if err != nil {
			return nil, err
		}
		snap.Items = append(snap.Items, mapped)

		if item.CurrentPeriodStart > 0 {
			start := time.Unix(item.CurrentPeriodStart, 0).UTC()
			if snap.PeriodStartsAt.IsZero() || start.Before(snap.PeriodStartsAt) {
				snap.PeriodStartsAt = start
			}
		}
		if item.CurrentPeriodEnd > 0 {
			end := time.Unix(item.CurrentPeriodEnd, 0).UTC()
			if end.After(snap.PeriodEndsAt) {
				snap.PeriodEndsAt = end
			}
		}
	}
	return snap, nil
}

func mapItem(item *stripe.SubscriptionItem) (subsync.SubscriptionItemSnapshot, error) {
	price := item.Price
	if price == nil {
		return subsync.SubscriptionItemSnapshot{}, fmt.Errorf("%w: item %s has no price", subsync.ErrInvalidSnapshot, item.ID)
	}

	out := subsync.SubscriptionItemSnapshot{
		ItemID:      item.ID,
		Quantity:    int(item.Quantity),
		VariantID:   price.ID,
		PriceAmount: price.UnitAmount,
		Type:        subsync.PriceTypeRecurring,
		Model:       subsync.PriceModelFlat,
	}
	if price.Product != nil {
		out.ProductID = price.Product.ID
	}
	if price.Type == stripe.PriceTypeOneTime {
		out.Type = subsync.PriceTypeOneTime
	}
	if rec := price.Recurring; rec != nil {
		out.Interval = subsync.PriceInterval(rec.Interval)
		out.IntervalCount = int(rec.IntervalCount)
		if rec.UsageType == stripe.PriceRecurringUsageTypeMetered {
			out.Model = subsync.PriceModelMetered
		}
	}
	if model := price.Metadata[priceModelMetadataKey]; model != "" {
		out.Model = subsync.PriceModel(model)
	}
	return out, nil
}

func unixPtr(sec int64) *time.Time {
	if sec <= 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}
