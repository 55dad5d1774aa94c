package subsync

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/mihaimyh/gosubsync/pkg/cachetag"
)

// Config holds the dependencies of a Reconciler.
type Config struct {
	// Invalidator receives the tags of every committed reconciliation.
	// Default: NoopInvalidator
	Invalidator Invalidator

	Logger  Logger
	Metrics Metrics
}

// DefaultConfig returns a configuration without caching, logging or metrics.
func DefaultConfig() Config {
	return Config{
		Invalidator: NoopInvalidator{},
		Logger:      &NoopLogger{},
		Metrics:     &NoopMetrics{},
	}
}

// Reconciler merges provider snapshots into the store. Each snapshot is applied in a single
// transaction: the stored subscription (or order) and its item set end up equal to the
// snapshot, and dependent cache tags are invalidated only after the commit.
type Reconciler struct {
	uow      *UnitOfWork
	resolver *Resolver
	logger   Logger
	metrics  Metrics
}

// NewReconciler creates a reconciler over store.
func NewReconciler(store Store, config *Config) (*Reconciler, error) {
	if store == nil {
		return nil, ErrStoreUnavailable
	}
	if config == nil {
		c := DefaultConfig()
		config = &c
	}
	logger := config.Logger
	if logger == nil {
		logger = &NoopLogger{}
	}
	metrics := config.Metrics
	if metrics == nil {
		metrics = &NoopMetrics{}
	}

	return &Reconciler{
		uow:      NewUnitOfWork(store, config.Invalidator),
		resolver: NewResolver(store),
		logger:   logger,
		metrics:  metrics,
	}, nil
}

// Reconcile makes the stored subscription and its items equal to snapshot.
//
// Items stored for the subscription but absent from the snapshot are deleted; an empty
// snapshot deletes every item. The organization is resolved from the billing customer id
// when the snapshot carries none, before any write. Any error leaves storage untouched and
// the caller may retry the whole snapshot.
func (r *Reconciler) Reconcile(ctx context.Context, snapshot *SubscriptionSnapshot) error {
	start := time.Now()
	if err := snapshot.Validate(); err != nil {
		r.record("subscription", "", err, start)
		return err
	}

	log := []Field{
		{"reconciliation_id", uuid.NewString()},
		{"subscription_id", snapshot.SubscriptionID},
		{"provider", snapshot.Provider},
	}

	orgID, err := r.resolver.Resolve(ctx, snapshot.OrganizationID, snapshot.CustomerID)
	if err != nil {
		r.logger.Error("failed to resolve organization for subscription",
			append(log, Field{"customer_id", snapshot.CustomerID}, Field{"error", err.Error()})...)
		r.record("subscription", snapshot.Provider, err, start)
		return err
	}
	log = append(log, Field{"organization_id", orgID})
	r.logger.Info("reconciling subscription", append(log, Field{"items", len(snapshot.Items)})...)

	var deleted int
	err = r.uow.Run(ctx, func(ctx context.Context, w *Work) error {
		storedOrgID, err := w.UpsertSubscription(ctx, snapshot.subscription(orgID))
		if err != nil {
			return fmt.Errorf("failed to upsert subscription: %w", err)
		}
		if storedOrgID != orgID {
			r.logger.Warn("subscription belongs to another organization; keeping stored organization",
				append(log, Field{"stored_organization_id", storedOrgID})...)
		}

		deleted, err = w.DeleteSubscriptionItemsExcept(ctx, snapshot.SubscriptionID, snapshot.itemIDs())
		if err != nil {
			return fmt.Errorf("failed to delete stale subscription items: %w", err)
		}

		for _, item := range snapshot.Items {
			previous, err := w.UpsertSubscriptionItem(ctx, item.item(snapshot.SubscriptionID))
			if err != nil {
				return fmt.Errorf("failed to upsert subscription item %s: %w", item.ItemID, err)
			}
			if previous != nil {
				r.logger.Info("subscription item moved from another subscription",
					append(log, Field{"item_id", item.ItemID}, Field{"previous_subscription_id", previous.ID})...)
				w.Invalidate(previousSubscriptionTags(previous)...)
			}
		}

		w.Invalidate(
			cachetag.ForOrganization(cachetag.Subscriptions, storedOrgID),
			cachetag.ForOrganization(cachetag.Subscriptions, storedOrgID, snapshot.SubscriptionID),
		)
		return nil
	})
	if err != nil {
		r.logger.Error("subscription reconciliation failed", append(log, Field{"error", err.Error()})...)
		r.record("subscription", snapshot.Provider, err, start)
		return err
	}

	r.metrics.RecordItemsDeleted("subscription", deleted)
	r.record("subscription", snapshot.Provider, nil, start)
	r.logger.Info("subscription reconciled", append(log, Field{"items_deleted", deleted})...)
	return nil
}

// ReconcileOrder makes the stored order and its items equal to snapshot, with the same
// transactional and invalidation guarantees as Reconcile.
func (r *Reconciler) ReconcileOrder(ctx context.Context, snapshot *OrderSnapshot) error {
	start := time.Now()
	if err := snapshot.Validate(); err != nil {
		r.record("order", "", err, start)
		return err
	}

	log := []Field{
		{"reconciliation_id", uuid.NewString()},
		{"order_id", snapshot.OrderID},
		{"provider", snapshot.Provider},
	}

	orgID, err := r.resolver.Resolve(ctx, snapshot.OrganizationID, snapshot.CustomerID)
	if err != nil {
		r.logger.Error("failed to resolve organization for order",
			append(log, Field{"customer_id", snapshot.CustomerID}, Field{"error", err.Error()})...)
		r.record("order", snapshot.Provider, err, start)
		return err
	}
	log = append(log, Field{"organization_id", orgID})

	var deleted int
	err = r.uow.Run(ctx, func(ctx context.Context, w *Work) error {
		storedOrgID, err := w.UpsertOrder(ctx, snapshot.order(orgID))
		if err != nil {
			return fmt.Errorf("failed to upsert order: %w", err)
		}
		if storedOrgID != orgID {
			r.logger.Warn("order belongs to another organization; keeping stored organization",
				append(log, Field{"stored_organization_id", storedOrgID})...)
		}

		deleted, err = w.DeleteOrderItemsExcept(ctx, snapshot.OrderID, snapshot.itemIDs())
		if err != nil {
			return fmt.Errorf("failed to delete stale order items: %w", err)
		}

		for _, item := range snapshot.Items {
			previous, err := w.UpsertOrderItem(ctx, item.item(snapshot.OrderID))
			if err != nil {
				return fmt.Errorf("failed to upsert order item %s: %w", item.ItemID, err)
			}
			if previous != nil {
				r.logger.Info("order item moved from another order",
					append(log, Field{"item_id", item.ItemID}, Field{"previous_order_id", previous.ID})...)
				if previous.OrganizationID != "" {
					w.Invalidate(cachetag.ForOrganization(cachetag.Orders, previous.OrganizationID))
				}
			}
		}

		w.Invalidate(cachetag.ForOrganization(cachetag.Orders, storedOrgID))
		return nil
	})
	if err != nil {
		r.logger.Error("order reconciliation failed", append(log, Field{"error", err.Error()})...)
		r.record("order", snapshot.Provider, err, start)
		return err
	}

	r.metrics.RecordItemsDeleted("order", deleted)
	r.record("order", snapshot.Provider, nil, start)
	r.logger.Info("order reconciled", append(log, Field{"items_deleted", deleted})...)
	return nil
}

// previousSubscriptionTags are the tags of the subscription an item was moved away from.
func previousSubscriptionTags(previous *ItemParent) []cachetag.Tag {
	if previous.OrganizationID == "" {
		return nil
	}
	return []cachetag.Tag{
		cachetag.ForOrganization(cachetag.Subscriptions, previous.OrganizationID),
		cachetag.ForOrganization(cachetag.Subscriptions, previous.OrganizationID, previous.ID),
	}
}

func (r *Reconciler) record(kind, provider string, err error, start time.Time) {
	if provider == "" {
		provider = "unknown"
	}
	status := "success"
	switch {
	case err == nil:
	case errors.Is(err, ErrInvalidSnapshot):
		status = "invalid"
	case errors.Is(err, ErrOrganizationNotFound), errors.Is(err, ErrMissingCustomerID):
		status = "unresolved"
	default:
		status = "error"
	}
	r.metrics.RecordReconciliation(kind, provider, status, time.Since(start))
}
