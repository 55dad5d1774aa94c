package gormdb

import (
	"time"

	"github.com/mihaimyh/gosubsync/pkg/subsync"
)

type organizationModel struct {
	ID                string  `gorm:"primaryKey"`
	Name              string  `gorm:"not null;default:''"`
	Slug              string  `gorm:"not null;default:''"`
	BillingCustomerID *string `gorm:"uniqueIndex"`
	CreatedAt         time.Time
}

func (organizationModel) TableName() string { return "organizations" }

type membershipModel struct {
	OrganizationID string `gorm:"primaryKey"`
	UserID         string `gorm:"primaryKey;index"`
	Role           string `gorm:"not null"`
	IsOwner        bool   `gorm:"not null;default:false"`
	CreatedAt      time.Time
}

func (membershipModel) TableName() string { return "memberships" }

func (m *membershipModel) toDomain() *subsync.Membership {
	return &subsync.Membership{
		OrganizationID: m.OrganizationID,
		UserID:         m.UserID,
		Role:           subsync.MemberRole(m.Role),
		IsOwner:        m.IsOwner,
		CreatedAt:      m.CreatedAt,
	}
}

type subscriptionModel struct {
	ID                string `gorm:"primaryKey"`
	OrganizationID    string `gorm:"not null;index"`
	Status            string `gorm:"not null"`
	Active            bool
	Provider          string
	CancelAtPeriodEnd bool
	Currency          string
	PeriodStartsAt    time.Time
	PeriodEndsAt      time.Time
	TrialStartsAt     *time.Time
	TrialEndsAt       *time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

func (subscriptionModel) TableName() string { return "subscriptions" }

func subscriptionFromDomain(s *subsync.Subscription) *subscriptionModel {
	return &subscriptionModel{
		ID:                s.ID,
		OrganizationID:    s.OrganizationID,
		Status:            string(s.Status),
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

func (m *subscriptionModel) toDomain() *subsync.Subscription {
	return &subsync.Subscription{
		ID:                m.ID,
		OrganizationID:    m.OrganizationID,
		Status:            subsync.SubscriptionStatus(m.Status),
		Active:            m.Active,
		Provider:          m.Provider,
		CancelAtPeriodEnd: m.CancelAtPeriodEnd,
		Currency:          m.Currency,
		PeriodStartsAt:    m.PeriodStartsAt,
		PeriodEndsAt:      m.PeriodEndsAt,
		TrialStartsAt:     m.TrialStartsAt,
		TrialEndsAt:       m.TrialEndsAt,
	}
}

type subscriptionItemModel struct {
	ID              string `gorm:"primaryKey"`
	SubscriptionID  string `gorm:"not null;index"`
	Quantity        int
	ProductID       string
	VariantID       string
	PriceAmount     int64
	BillingInterval string
	IntervalCount   int
	Type            string
	Model           string
	UpdatedAt       time.Time
}

func (subscriptionItemModel) TableName() string { return "subscription_items" }

func subscriptionItemFromDomain(i *subsync.SubscriptionItem) *subscriptionItemModel {
	return &subscriptionItemModel{
		ID:              i.ID,
		SubscriptionID:  i.SubscriptionID,
		Quantity:        i.Quantity,
		ProductID:       i.ProductID,
		VariantID:       i.VariantID,
		PriceAmount:     i.PriceAmount,
		BillingInterval: string(i.Interval),
		IntervalCount:   i.IntervalCount,
		Type:            string(i.Type),
		Model:           string(i.Model),
	}
}

func (m *subscriptionItemModel) toDomain() *subsync.SubscriptionItem {
	return &subsync.SubscriptionItem{
		ID:             m.ID,
		SubscriptionID: m.SubscriptionID,
		Quantity:       m.Quantity,
		ProductID:      m.ProductID,
		VariantID:      m.VariantID,
		PriceAmount:    m.PriceAmount,
		Interval:       subsync.PriceInterval(m.BillingInterval),
		IntervalCount:  m.IntervalCount,
		Type:           subsync.PriceType(m.Type),
		Model:          subsync.PriceModel(m.Model),
	}
}

type orderModel struct {
	ID             string `gorm:"primaryKey"`
	OrganizationID string `gorm:"not null;index"`
	Status         string `gorm:"not null"`
	Provider       string
	Currency       string
	TotalAmount    int64
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

func (orderModel) TableName() string { return "orders" }

func (m *orderModel) toDomain() *subsync.Order {
	return &subsync.Order{
		ID:             m.ID,
		OrganizationID: m.OrganizationID,
		Status:         subsync.OrderStatus(m.Status),
		Provider:       m.Provider,
		Currency:       m.Currency,
		TotalAmount:    m.TotalAmount,
	}
}

type orderItemModel struct {
	ID          string `gorm:"primaryKey"`
	OrderID     string `gorm:"not null;index"`
	Quantity    int
	ProductID   string
	VariantID   string
	PriceAmount int64
	Type        string
	Model       string
	UpdatedAt   time.Time
}

func (orderItemModel) TableName() string { return "order_items" }

func (m *orderItemModel) toDomain() *subsync.OrderItem {
	return &subsync.OrderItem{
		ID:          m.ID,
		OrderID:     m.OrderID,
		Quantity:    m.Quantity,
		ProductID:   m.ProductID,
		VariantID:   m.VariantID,
		PriceAmount: m.PriceAmount,
		Type:        subsync.PriceType(m.Type),
		Model:       subsync.PriceModel(m.Model),
	}
}
