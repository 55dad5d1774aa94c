package api

import (
	"time"

	"github.com/mihaimyh/gosubsync/pkg/subsync"
)

// ReconcileResponse acknowledges an applied snapshot
type ReconcileResponse struct {
	ID     string `json:"id"`
	Status string `json:"status"` // always "reconciled"
}

// SubscriptionsResponse lists the subscriptions of an organization
type SubscriptionsResponse struct {
	OrganizationID string                 `json:"organizationId"`
	Subscriptions  []SubscriptionResponse `json:"subscriptions"`
}

// SubscriptionResponse is a stored subscription with its items
type SubscriptionResponse struct {
	ID                string                     `json:"id"`
	Status            subsync.SubscriptionStatus `json:"status"`
	Active            bool                       `json:"active"`
	Provider          string                     `json:"provider"`
	CancelAtPeriodEnd bool                       `json:"cancelAtPeriodEnd"`
	Currency          string                     `json:"currency"`
	PeriodStartsAt    time.Time                  `json:"periodStartsAt"`
	PeriodEndsAt      time.Time                  `json:"periodEndsAt"`
	TrialStartsAt     *time.Time                 `json:"trialStartsAt,omitempty"`
	TrialEndsAt       *time.Time                 `json:"trialEndsAt,omitempty"`
	Items             []SubscriptionItemResponse `json:"items"`
}

// SubscriptionItemResponse is one priced line of a subscription
type SubscriptionItemResponse struct {
	ID            string                `json:"id"`
	Quantity      int                   `json:"quantity"`
	ProductID     string                `json:"productId"`
	VariantID     string                `json:"variantId,omitempty"`
	PriceAmount   int64                 `json:"priceAmount"` // smallest currency unit
	Interval      subsync.PriceInterval `json:"interval,omitempty"`
	IntervalCount int                   `json:"intervalCount"`
	Type          subsync.PriceType     `json:"type"`
	Model         subsync.PriceModel    `json:"model"`
}

// NewSubscriptionsResponse converts cached read results to the wire form.
func NewSubscriptionsResponse(organizationID string, details []*subsync.SubscriptionDetail) SubscriptionsResponse {
	out := SubscriptionsResponse{
		OrganizationID: organizationID,
		Subscriptions:  make([]SubscriptionResponse, 0, len(details)),
	}
	for _, d := range details {
		sub := d.Subscription
		resp := SubscriptionResponse{
			ID:                sub.ID,
			Status:            sub.Status,
			Active:            sub.Active,
			Provider:          sub.Provider,
			CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
			Currency:          sub.Currency,
			PeriodStartsAt:    sub.PeriodStartsAt,
			PeriodEndsAt:      sub.PeriodEndsAt,
			TrialStartsAt:     sub.TrialStartsAt,
			TrialEndsAt:       sub.TrialEndsAt,
			Items:             make([]SubscriptionItemResponse, 0, len(d.Items)),
		}
		for _, item := range d.Items {
			resp.Items = append(resp.Items, SubscriptionItemResponse{
				ID:            item.ID,
				Quantity:      item.Quantity,
				ProductID:     item.ProductID,
				VariantID:     item.VariantID,
				PriceAmount:   item.PriceAmount,
				Interval:      item.Interval,
				IntervalCount: item.IntervalCount,
				Type:          item.Type,
				Model:         item.Model,
			})
		}
		out.Subscriptions = append(out.Subscriptions, resp)
	}
	return out
}
