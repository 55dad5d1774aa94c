package subsync

import (
	"context"

	"github.com/mihaimyh/gosubsync/pkg/cachetag"
)

// Work is the transactional handle passed to a UnitOfWork callback. Writes go through the
// embedded Tx; tags declared with Invalidate are flushed only after the transaction commits.
type Work struct {
	Tx
	tags []cachetag.Tag
}

// Invalidate declares tags made stale by this unit of work.
func (w *Work) Invalidate(tags ...cachetag.Tag) {
	w.tags = append(w.tags, tags...)
}

// Tags returns the tags declared so far.
func (w *Work) Tags() []cachetag.Tag {
	return w.tags
}

// UnitOfWork couples a store transaction with post-commit cache invalidation.
// A rollback discards the declared tags, so no cache entry is invalidated for writes that
// never became durable, and no cached read can observe data older than a committed write
// once Run returns.
type UnitOfWork struct {
	store       Store
	invalidator Invalidator
}

// NewUnitOfWork creates a unit of work. A nil invalidator disables invalidation.
func NewUnitOfWork(store Store, invalidator Invalidator) *UnitOfWork {
	if invalidator == nil {
		invalidator = NoopInvalidator{}
	}
	return &UnitOfWork{store: store, invalidator: invalidator}
}

// Run executes fn in a transaction and invalidates the tags fn declared once the
// transaction has committed. Errors from fn or from the commit are returned unchanged.
func (u *UnitOfWork) Run(ctx context.Context, fn func(ctx context.Context, w *Work) error) error {
	if u.store == nil {
		return ErrStoreUnavailable
	}

	var committed *Work
	err := u.store.WithinTx(ctx, func(ctx context.Context, tx Tx) error {
		// Stores may retry fn; only the last attempt's declarations count.
		w := &Work{Tx: tx}
		if err := fn(ctx, w); err != nil {
			return err
		}
		committed = w
		return nil
	})
	if err != nil {
		return err
	}

	if committed != nil && len(committed.tags) > 0 {
		u.invalidator.Invalidate(ctx, committed.tags...)
	}
	return nil
}
