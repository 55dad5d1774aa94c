// Package postgres provides a PostgreSQL implementation of the subsync.Store interface.
// Reconciliations run in a single SQL transaction; upserts use INSERT ... ON CONFLICT so
// concurrent snapshots for the same subscription serialize on the row lock.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/mihaimyh/gosubsync/pkg/subsync"
)

// Storage implements subsync.Store using PostgreSQL
type Storage struct {
	pool   *pgxpool.Pool
	config Config
}

// Config holds PostgreSQL storage configuration
type Config struct {
	// ConnectionString is the PostgreSQL connection string
	ConnectionString string

	// Pool configuration
	MaxConns        int32
	MinConns        int32
	MaxConnLifetime time.Duration
	MaxConnIdleTime time.Duration

	// AutoMigrate applies the embedded schema migrations in New.
	AutoMigrate bool
}

// DefaultConfig returns a Config with sensible defaults
func DefaultConfig() Config {
	return Config{
		MaxConns:        10,
		MinConns:        2,
		MaxConnLifetime: time.Hour,
		MaxConnIdleTime: 30 * time.Minute,
		AutoMigrate:     true,
	}
}

// New creates a new PostgreSQL storage adapter
func New(ctx context.Context, config Config) (*Storage, error) {
	if config.ConnectionString == "" {
		return nil, fmt.Errorf("connection string is required")
	}

	poolConfig, err := pgxpool.ParseConfig(config.ConnectionString)
	if err != nil {
		return nil, fmt.Errorf("failed to parse connection string: %w", err)
	}

	if config.MaxConns > 0 {
		poolConfig.MaxConns = config.MaxConns
	}
	if config.MinConns > 0 {
		poolConfig.MinConns = config.MinConns
	}
	if config.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = config.MaxConnLifetime
	}
	if config.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = config.MaxConnIdleTime
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	s := &Storage{pool: pool, config: config}

	if config.AutoMigrate {
		if err := s.Migrate(); err != nil {
			pool.Close()
			return nil, err
		}
	}

	return s, nil
}

// NewWithPool wraps an existing pool. Migrations are not applied.
func NewWithPool(pool *pgxpool.Pool) *Storage {
	return &Storage{pool: pool}
}

// Close closes the PostgreSQL connection pool
func (s *Storage) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

// Ping checks the PostgreSQL connection
func (s *Storage) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// CreateOrganization inserts or updates an organization.
func (s *Storage) CreateOrganization(ctx context.Context, org *subsync.Organization) error {
	if org == nil || org.ID == "" {
		return fmt.Errorf("invalid organization")
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO organizations (id, name, slug, billing_customer_id)
		VALUES ($1, $2, $3, NULLIF($4, ''))
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			slug = EXCLUDED.slug,
			billing_customer_id = EXCLUDED.billing_customer_id`,
		org.ID, org.Name, org.Slug, org.BillingCustomerID)
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
	createdAt := m.CreatedAt
	if createdAt.IsZero() {
		createdAt = time.Now().UTC()
	}
	_, err := s.pool.Exec(ctx, `
		INSERT INTO memberships (organization_id, user_id, role, is_owner, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (organization_id, user_id) DO UPDATE SET
			role = EXCLUDED.role,
			is_owner = EXCLUDED.is_owner`,
		m.OrganizationID, m.UserID, string(m.Role), m.IsOwner, createdAt)
	if err != nil {
		return fmt.Errorf("failed to add membership: %w", err)
	}
	return nil
}

// ResolveOrganization implements subsync.Store
func (s *Storage) ResolveOrganization(ctx context.Context, customerID string) (string, error) {
	var orgID string
	err := s.pool.QueryRow(ctx,
		`SELECT id FROM organizations WHERE billing_customer_id = $1`, customerID).Scan(&orgID)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", subsync.ErrOrganizationNotFound
	}
	if err != nil {
		return "", fmt.Errorf("failed to resolve organization: %w", err)
	}
	return orgID, nil
}

// WithinTx implements subsync.Store
func (s *Storage) WithinTx(ctx context.Context, fn func(ctx context.Context, tx subsync.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		//nolint:errcheck // Rollback error is safe to ignore if transaction was committed
		_ = tx.Rollback(ctx)
	}()

	if err := fn(ctx, &pgTx{tx: tx}); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	return nil
}

// ListSubscriptions implements subsync.Store
func (s *Storage) ListSubscriptions(ctx context.Context, organizationID string) ([]*subsync.Subscription, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, organization_id, status, active, provider, cancel_at_period_end, currency,
			period_starts_at, period_ends_at, trial_starts_at, trial_ends_at
		FROM subscriptions WHERE organization_id = $1 ORDER BY id`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscriptions: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*subsync.Subscription, error) {
		var sub subsync.Subscription
		var status string
		err := row.Scan(&sub.ID, &sub.OrganizationID, &status, &sub.Active, &sub.Provider,
			&sub.CancelAtPeriodEnd, &sub.Currency, &sub.PeriodStartsAt, &sub.PeriodEndsAt,
			&sub.TrialStartsAt, &sub.TrialEndsAt)
		sub.Status = subsync.SubscriptionStatus(status)
		return &sub, err
	})
}

// ListSubscriptionItems implements subsync.Store
func (s *Storage) ListSubscriptionItems(ctx context.Context, subscriptionID string) ([]*subsync.SubscriptionItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, subscription_id, quantity, product_id, variant_id, price_amount,
			billing_interval, interval_count, type, model
		FROM subscription_items WHERE subscription_id = $1 ORDER BY id`, subscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to query subscription items: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*subsync.SubscriptionItem, error) {
		var item subsync.SubscriptionItem
		var interval, priceType, model string
		err := row.Scan(&item.ID, &item.SubscriptionID, &item.Quantity, &item.ProductID, &item.VariantID,
			&item.PriceAmount, &interval, &item.IntervalCount, &priceType, &model)
		item.Interval = subsync.PriceInterval(interval)
		item.Type = subsync.PriceType(priceType)
		item.Model = subsync.PriceModel(model)
		return &item, err
	})
}

// ListOrders implements subsync.Store
func (s *Storage) ListOrders(ctx context.Context, organizationID string) ([]*subsync.Order, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, organization_id, status, provider, currency, total_amount
		FROM orders WHERE organization_id = $1 ORDER BY id`, organizationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query orders: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*subsync.Order, error) {
		var order subsync.Order
		var status string
		err := row.Scan(&order.ID, &order.OrganizationID, &status, &order.Provider, &order.Currency, &order.TotalAmount)
		order.Status = subsync.OrderStatus(status)
		return &order, err
	})
}

// ListOrderItems implements subsync.Store
func (s *Storage) ListOrderItems(ctx context.Context, orderID string) ([]*subsync.OrderItem, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, order_id, quantity, product_id, variant_id, price_amount, type, model
		FROM order_items WHERE order_id = $1 ORDER BY id`, orderID)
	if err != nil {
		return nil, fmt.Errorf("failed to query order items: %w", err)
	}
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (*subsync.OrderItem, error) {
		var item subsync.OrderItem
		var priceType, model string
		err := row.Scan(&item.ID, &item.OrderID, &item.Quantity, &item.ProductID, &item.VariantID,
			&item.PriceAmount, &priceType, &model)
		item.Type = subsync.PriceType(priceType)
		item.Model = subsync.PriceModel(model)
		return &item, err
	})
}

// ListMembers implements subsync.Store
func (s *Storage) ListMembers(ctx context.Context, organizationID string) ([]*subsync.Membership, error) {
	return s.queryMemberships(ctx, `
		SELECT organization_id, user_id, role, is_owner, created_at
		FROM memberships WHERE organization_id = $1 ORDER BY created_at, user_id`, organizationID)
}

// ListUserMemberships implements subsync.Store
func (s *Storage) ListUserMemberships(ctx context.Context, userID string) ([]*subsync.Membership, error) {
	return s.queryMemberships(ctx, `
		SELECT organization_id, user_id, role, is_owner, created_at
		FROM memberships WHERE user_id = $1 ORDER BY created_at, organization_id`, userID)
}

func (s *Storage) queryMemberships(ctx context.Context, query string, arg string) ([]*subsync.Membership, error) {
	rows, err := s.pool.Query(ctx, query, arg)
	if err != nil {
		return nil, fmt.Errorf("failed to query memberships: %w", err)
	}
	return pgx.CollectRows(rows, scanMembership)
}

func scanMembership(row pgx.CollectableRow) (*subsync.Membership, error) {
	var m subsync.Membership
	var role string
	err := row.Scan(&m.OrganizationID, &m.UserID, &role, &m.IsOwner, &m.CreatedAt)
	m.Role = subsync.MemberRole(role)
	return &m, err
}

// pgTx implements subsync.Tx on a pgx transaction.
type pgTx struct {
	tx pgx.Tx
}

func (t *pgTx) UpsertSubscription(ctx context.Context, sub *subsync.Subscription) (string, error) {
	var orgID string
	// organization_id is intentionally absent from the update list.
	err := t.tx.QueryRow(ctx, `
		INSERT INTO subscriptions (id, organization_id, status, active, provider, cancel_at_period_end,
			currency, period_starts_at, period_ends_at, trial_starts_at, trial_ends_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, NOW())
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			active = EXCLUDED.active,
			provider = EXCLUDED.provider,
			cancel_at_period_end = EXCLUDED.cancel_at_period_end,
			currency = EXCLUDED.currency,
			period_starts_at = EXCLUDED.period_starts_at,
			period_ends_at = EXCLUDED.period_ends_at,
			trial_starts_at = EXCLUDED.trial_starts_at,
			trial_ends_at = EXCLUDED.trial_ends_at,
			updated_at = NOW()
		RETURNING organization_id`,
		sub.ID, sub.OrganizationID, string(sub.Status), sub.Active, sub.Provider, sub.CancelAtPeriodEnd,
		sub.Currency, sub.PeriodStartsAt, sub.PeriodEndsAt, sub.TrialStartsAt, sub.TrialEndsAt,
	).Scan(&orgID)
	if err != nil {
		return "", fmt.Errorf("failed to upsert subscription: %w", err)
	}
	return orgID, nil
}

func (t *pgTx) DeleteSubscriptionItemsExcept(ctx context.Context, subscriptionID string, keep []string) (int, error) {
	tag, err := t.tx.Exec(ctx,
		`DELETE FROM subscription_items WHERE subscription_id = $1 AND NOT (id = ANY($2))`,
		subscriptionID, nonNil(keep))
	if err != nil {
		return 0, fmt.Errorf("failed to delete subscription items: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// previousParent locks the item row selected by query and returns its parent when it is not parentID.
func (t *pgTx) previousParent(ctx context.Context, query, itemID, parentID string) (*subsync.ItemParent, error) {
	var previous subsync.ItemParent
	err := t.tx.QueryRow(ctx, query, itemID).Scan(&previous.ID, &previous.OrganizationID)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	if previous.ID == parentID {
		return nil, nil
	}
	return &previous, nil
}

func (t *pgTx) UpsertSubscriptionItem(ctx context.Context, item *subsync.SubscriptionItem) (*subsync.ItemParent, error) {
	previous, err := t.previousParent(ctx, `
		SELECT i.subscription_id, s.organization_id
		FROM subscription_items i JOIN subscriptions s ON s.id = i.subscription_id
		WHERE i.id = $1
		FOR UPDATE OF i`, item.ID, item.SubscriptionID)
	if err != nil {
		return nil, fmt.Errorf("failed to get subscription item: %w", err)
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO subscription_items (id, subscription_id, quantity, product_id, variant_id, price_amount,
			billing_interval, interval_count, type, model, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, NOW())
		ON CONFLICT (id) DO UPDATE SET
			subscription_id = EXCLUDED.subscription_id,
			quantity = EXCLUDED.quantity,
			product_id = EXCLUDED.product_id,
			variant_id = EXCLUDED.variant_id,
			price_amount = EXCLUDED.price_amount,
			billing_interval = EXCLUDED.billing_interval,
			interval_count = EXCLUDED.interval_count,
			type = EXCLUDED.type,
			model = EXCLUDED.model,
			updated_at = NOW()`,
		item.ID, item.SubscriptionID, item.Quantity, item.ProductID, item.VariantID, item.PriceAmount,
		string(item.Interval), item.IntervalCount, string(item.Type), string(item.Model))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert subscription item: %w", err)
	}
	return previous, nil
}

func (t *pgTx) UpsertOrder(ctx context.Context, order *subsync.Order) (string, error) {
	var orgID string
	err := t.tx.QueryRow(ctx, `
		INSERT INTO orders (id, organization_id, status, provider, currency, total_amount, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, NOW())
		ON CONFLICT (id) DO UPDATE SET
			status = EXCLUDED.status,
			provider = EXCLUDED.provider,
			currency = EXCLUDED.currency,
			total_amount = EXCLUDED.total_amount,
			updated_at = NOW()
		RETURNING organization_id`,
		order.ID, order.OrganizationID, string(order.Status), order.Provider, order.Currency, order.TotalAmount,
	).Scan(&orgID)
	if err != nil {
		return "", fmt.Errorf("failed to upsert order: %w", err)
	}
	return orgID, nil
}

func (t *pgTx) DeleteOrderItemsExcept(ctx context.Context, orderID string, keep []string) (int, error) {
	tag, err := t.tx.Exec(ctx,
		`DELETE FROM order_items WHERE order_id = $1 AND NOT (id = ANY($2))`,
		orderID, nonNil(keep))
	if err != nil {
		return 0, fmt.Errorf("failed to delete order items: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

func (t *pgTx) UpsertOrderItem(ctx context.Context, item *subsync.OrderItem) (*subsync.ItemParent, error) {
	previous, err := t.previousParent(ctx, `
		SELECT i.order_id, o.organization_id
		FROM order_items i JOIN orders o ON o.id = i.order_id
		WHERE i.id = $1
		FOR UPDATE OF i`, item.ID, item.OrderID)
	if err != nil {
		return nil, fmt.Errorf("failed to get order item: %w", err)
	}

	_, err = t.tx.Exec(ctx, `
		INSERT INTO order_items (id, order_id, quantity, product_id, variant_id, price_amount, type, model, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		ON CONFLICT (id) DO UPDATE SET
			order_id = EXCLUDED.order_id,
			quantity = EXCLUDED.quantity,
			product_id = EXCLUDED.product_id,
			variant_id = EXCLUDED.variant_id,
			price_amount = EXCLUDED.price_amount,
			type = EXCLUDED.type,
			model = EXCLUDED.model,
			updated_at = NOW()`,
		item.ID, item.OrderID, item.Quantity, item.ProductID, item.VariantID, item.PriceAmount,
		string(item.Type), string(item.Model))
	if err != nil {
		return nil, fmt.Errorf("failed to upsert order item: %w", err)
	}
	return previous, nil
}

func (t *pgTx) GetMembership(ctx context.Context, organizationID, userID string) (*subsync.Membership, error) {
	rows, err := t.tx.Query(ctx, `
		SELECT organization_id, user_id, role, is_owner, created_at
		FROM memberships WHERE organization_id = $1 AND user_id = $2
		FOR UPDATE`, organizationID, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	m, err := pgx.CollectExactlyOneRow(rows, scanMembership)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, subsync.ErrMembershipNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}

func (t *pgTx) SetMembershipOwner(ctx context.Context, organizationID, userID string, isOwner bool) error {
	tag, err := t.tx.Exec(ctx,
		`UPDATE memberships SET is_owner = $3 WHERE organization_id = $1 AND user_id = $2`,
		organizationID, userID, isOwner)
	if err != nil {
		return fmt.Errorf("failed to update membership: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return subsync.ErrMembershipNotFound
	}
	return nil
}

// nonNil keeps an empty keep list encoded as '{}' rather than NULL, which would match nothing.
func nonNil(ids []string) []string {
	if ids == nil {
		return []string{}
	}
	return ids
}
