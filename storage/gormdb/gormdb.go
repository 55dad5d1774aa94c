// Package gormdb provides a subsync.Store on top of GORM. It runs against any GORM
// dialect; production deployments use PostgreSQL and tests use an in-memory SQLite database.
package gormdb

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mihaimyh/gosubsync/pkg/subsync"
)

// Config holds GORM storage configuration
type Config struct {
	// AutoMigrate creates or updates the tables in New.
	AutoMigrate bool
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{AutoMigrate: true}
}

// Storage implements subsync.Store using GORM
type Storage struct {
	db *gorm.DB
}

// New wraps an open GORM handle.
func New(db *gorm.DB, config Config) (*Storage, error) {
	if db == nil {
		return nil, fmt.Errorf("gorm database handle is required")
	}
	s := &Storage{db: db}
	if config.AutoMigrate {
		if err := s.Migrate(); err != nil {
			return nil, err
		}
	}
	return s, nil
}

// OpenPostgres opens a PostgreSQL database through the GORM postgres driver.
func OpenPostgres(dsn string, config Config) (*Storage, error) {
	db, err := gorm.Open(postgres.Open(dsn), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	return New(db, config)
}

// Migrate creates or updates the tables.
func (s *Storage) Migrate() error {
	err := s.db.AutoMigrate(
		&organizationModel{},
		&membershipModel{},
		&subscriptionModel{},
		&subscriptionItemModel{},
		&orderModel{},
		&orderItemModel{},
	)
	if err != nil {
		return fmt.Errorf("failed to migrate: %w", err)
	}
	return nil
}

// CreateOrganization inserts or updates an organization.
func (s *Storage) CreateOrganization(ctx context.Context, org *subsync.Organization) error {
	if org == nil || org.ID == "" {
		return fmt.Errorf("invalid organization")
	}
	m := organizationModel{ID: org.ID, Name: org.Name, Slug: org.Slug}
	if org.BillingCustomerID != "" {
		customerID := org.BillingCustomerID
		m.BillingCustomerID = &customerID
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"name", "slug", "billing_customer_id"}),
	}).Create(&m).Error
	if err != nil {
		return fmt.Errorf("failed to create organization: %w", err)
	}
	return nil
}

// AddMembership inserts or updates a membership.
func (s *Storage) AddMembership(ctx context.Context, m *subsync.Membership) error {
	if m == nil || m.OrganizationID == "" || m.UserID == "" {
		return fmt.Errorf("invalid membership")
	}
	row := membershipModel{
		OrganizationID: m.OrganizationID,
		UserID:         m.UserID,
		Role:           string(m.Role),
		IsOwner:        m.IsOwner,
		CreatedAt:      m.CreatedAt,
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "organization_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns([]string{"role", "is_owner"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to add membership: %w", err)
	}
	return nil
}

// ResolveOrganization implements subsync.Store
func (s *Storage) ResolveOrganization(ctx context.Context, customerID string) (string, error) {
	var org organizationModel
	err := s.db.WithContext(ctx).Select("id").
		Where("billing_customer_id = ?", customerID).
		Take(&org).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", subsync.ErrOrganizationNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve organization: %w", err)
	}
	return org.ID, nil
}

// WithinTx implements subsync.Store
func (s *Storage) WithinTx(ctx context.Context, fn func(ctx context.Context, tx subsync.Tx) error) error {
	return s.db.WithContext(ctx).Transaction(func(db *gorm.DB) error {
		return fn(ctx, &gormTx{db: db})
	})
}

// ListSubscriptions implements subsync.Store
func (s *Storage) ListSubscriptions(ctx context.Context, organizationID string) ([]*subsync.Subscription, error) {
	var rows []subscriptionModel
	if err := s.db.WithContext(ctx).Where("organization_id = ?", organizationID).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	out := make([]*subsync.Subscription, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

// ListSubscriptionItems implements subsync.Store
func (s *Storage) ListSubscriptionItems(ctx context.Context, subscriptionID string) ([]*subsync.SubscriptionItem, error) {
	var rows []subscriptionItemModel
	if err := s.db.WithContext(ctx).Where("subscription_id = ?", subscriptionID).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query subscription items: %w", err)
	}
	out := make([]*subsync.SubscriptionItem, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

// ListOrders implements subsync.Store
func (s *Storage) ListOrders(ctx context.Context, organizationID string) ([]*subsync.Order, error) {
	var rows []orderModel
	if err := s.db.WithContext(ctx).Where("organization_id = ?", organizationID).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	out := make([]*subsync.Order, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

// ListOrderItems implements subsync.Store
func (s *Storage) ListOrderItems(ctx context.Context, orderID string) ([]*subsync.OrderItem, error) {
	var rows []orderItemModel
	if err := s.db.WithContext(ctx).Where("order_id = ?", orderID).Order("id").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	out := make([]*subsync.OrderItem, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

// ListMembers implements subsync.Store
func (s *Storage) ListMembers(ctx context.Context, organizationID string) ([]*subsync.Membership, error) {
	return s.memberships(s.db.WithContext(ctx).Where("organization_id = ?", organizationID).Order("created_at, user_id"))
}

// ListUserMemberships implements subsync.Store
func (s *Storage) ListUserMemberships(ctx context.Context, userID string) ([]*subsync.Membership, error) {
	return s.memberships(s.db.WithContext(ctx).Where("user_id = ?", userID).Order("created_at, organization_id"))
}

func (s *Storage) memberships(q *gorm.DB) ([]*subsync.Membership, error) {
	var rows []membershipModel
	if err := q.Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to query memberships: %w", err)
	}
	out := make([]*subsync.Membership, len(rows))
	for i := range rows {
		out[i] = rows[i].toDomain()
	}
	return out, nil
}

// gormTx implements subsync.Tx on a GORM transaction handle.
type gormTx struct {
	db *gorm.DB
}

func (t *gormTx) UpsertSubscription(_ context.Context, sub *subsync.Subscription) (string, error) {
	row := subscriptionFromDomain(sub)
	// organization_id is intentionally absent from the update list.
	err := t.db.Clauses(clause.OnConflict{
		Columns: []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{
			"status", "active", "provider", "cancel_at_period_end", "currency",
			"period_starts_at", "period_ends_at", "trial_starts_at", "trial_ends_at", "updated_at",
		}),
	}).Create(row).Error
	if err != nil {
		return "", fmt.Errorf("failed to upsert subscription: %w", err)
	}

	var stored subscriptionModel
	if err := t.db.Select("organization_id").Where("id = ?", sub.ID).Take(&stored).Error; err != nil {
		return "", fmt.Errorf("failed to read subscription organization: %w", err)
	}
	return stored.OrganizationID, nil
}

func (t *gormTx) DeleteSubscriptionItemsExcept(_ context.Context, subscriptionID string, keep []string) (int, error) {
	q := t.db.Where("subscription_id = ?", subscriptionID)
	if len(keep) > 0 {
		q = q.Where("id NOT IN ?", keep)
	}
	res := q.Delete(&subscriptionItemModel{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete subscription items: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

// previousParent returns the parent of the item when it is not parentID.
// parentColumn is the item's parent key and parentTable the table it references.
func (t *gormTx) previousParent(itemTable, parentColumn, parentTable, itemID, parentID string) (*subsync.ItemParent, error) {
	var rows []subsync.ItemParent
	err := t.db.Table(itemTable+" AS i").
		Select("i."+parentColumn+" AS id, COALESCE(p.organization_id, '') AS organization_id").
		Joins("LEFT JOIN "+parentTable+" AS p ON p.id = i."+parentColumn).
		Where("i.id = ?", itemID).
		Limit(1).
		Scan(&rows).Error
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 || rows[0].ID == parentID {
		return nil, nil
	}
	return &rows[0], nil
}

func (t *gormTx) UpsertSubscriptionItem(_ context.Context, item *subsync.SubscriptionItem) (*subsync.ItemParent, error) {
	previous, err := t.previousParent("subscription_items", "subscription_id", "subscriptions", item.ID, item.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription item: %w", err)
	}

	err = t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(subscriptionItemFromDomain(item)).Error
	if err != nil {
		return nil, fmt.Errorf("failed to upsert subscription item: %w", err)
	}
	return previous, nil
}

func (t *gormTx) UpsertOrder(_ context.Context, order *subsync.Order) (string, error) {
	row := &orderModel{
		ID:             order.ID,
		OrganizationID: order.OrganizationID,
		Status:         string(order.Status),
		Provider:       order.Provider,
		Currency:       order.Currency,
		TotalAmount:    order.TotalAmount,
	}
	err := t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		DoUpdates: clause.AssignmentColumns([]string{"status", "provider", "currency", "total_amount", "updated_at"}),
	}).Create(row).Error
	if err != nil {
		return "", fmt.Errorf("failed to upsert order: %w", err)
	}

	var stored orderModel
	if err := t.db.Select("organization_id").Where("id = ?", order.ID).Take(&stored).Error; err != nil {
		return "", fmt.Errorf("failed to read order organization: %w", err)
	}
	return stored.OrganizationID, nil
}

func (t *gormTx) DeleteOrderItemsExcept(_ context.Context, orderID string, keep []string) (int, error) {
	q := t.db.Where("order_id = ?", orderID)
	if len(keep) > 0 {
		q = q.Where("id NOT IN ?", keep)
	}
	res := q.Delete(&orderItemModel{})
	if res.Error != nil {
		return 0, fmt.Errorf("failed to delete order items: %w", res.Error)
	}
	return int(res.RowsAffected), nil
}

func (t *gormTx) UpsertOrderItem(_ context.Context, item *subsync.OrderItem) (*subsync.ItemParent, error) {
	previous, err := t.previousParent("order_items", "order_id", "orders", item.ID, item.OrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order item: %w", err)
	}

	row := &orderItemModel{
		ID:          item.ID,
		OrderID:     item.OrderID,
		Quantity:    item.Quantity,
		ProductID:   item.ProductID,
		VariantID:   item.VariantID,
		PriceAmount: item.PriceAmount,
		Type:        string(item.Type),
		Model:       string(item.Model),
	}
	err = t.db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Create(row).Error
	if err != nil {
		return nil, fmt.Errorf("failed to upsert order item: %w", err)
	}
	return previous, nil
}

func (t *gormTx) GetMembership(_ context.Context, organizationID, userID string) (*subsync.Membership, error) {
	q := t.db
	// SQLite has no row locks; its transactions already serialize writers.
	if strings.EqualFold(t.db.Dialector.Name(), "postgres") {
		q = q.Clauses(clause.Locking{Strength: "UPDATE"})
	}
	var row membershipModel
	err := q.Where("organization_id = ? AND user_id = ?", organizationID, userID).Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, subsync.ErrMembershipNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return row.toDomain(), nil
}

func (t *gormTx) SetMembershipOwner(_ context.Context, organizationID, userID string, isOwner bool) error {
	res := t.db.Model(&membershipModel{}).
		Where("organization_id = ? AND user_id = ?", organizationID, userID).
		Update("is_owner", isOwner)
	if res.Error != nil {
		return fmt.Errorf("failed to update membership: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return subsync.ErrMembershipNotFound
	}
	return nil
}
