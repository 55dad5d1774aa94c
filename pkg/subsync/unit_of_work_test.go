package subsync_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mihaimyh/gosubsync/pkg/cachetag"
	"github.com/mihaimyh/gosubsync/pkg/subsync"
)

// retryingStore runs every transaction twice, discarding the first attempt, the way an
// optimistic backend retries on contention.
type retryingStore struct {
	subsync.Store
	attempts int
}

func (s *retryingStore) WithinTx(ctx context.Context, fn func(ctx context.Context, tx subsync.Tx) error) error {
	return s.Store.WithinTx(ctx, func(ctx context.Context, tx subsync.Tx) error {
		s.attempts++
		_ = fn(ctx, tx)
		s.attempts++
		return fn(ctx, tx)
	})
}

func TestUnitOfWork_InvalidatesOnCommit(t *testing.T) {
	inv := &recordingInvalidator{}
	uow := subsync.NewUnitOfWork(newTestStore(t), inv)

	tag := cachetag.ForOrganization(cachetag.Members, testOrgID)
	err := uow.Run(context.Background(), func(ctx context.Context, w *subsync.Work) error {
		w.Invalidate(tag)
		assert.Equal(t, []cachetag.Tag{tag}, w.Tags())
		assert.Empty(t, inv.Calls(), "tags must not flush before commit")
		return nil
	})
	require.NoError(t, err)

	assert.Equal(t, [][]cachetag.Tag{{tag}}, inv.Calls())
}

func TestUnitOfWork_RollbackDiscardsTags(t *testing.T) {
	inv := &recordingInvalidator{}
	uow := subsync.NewUnitOfWork(newTestStore(t), inv)

	err := uow.Run(context.Background(), func(ctx context.Context, w *subsync.Work) error {
		w.Invalidate(cachetag.ForOrganization(cachetag.Members, testOrgID))
		return errBoom
	})
	assert.ErrorIs(t, err, errBoom)
	assert.Empty(t, inv.Calls())
}

func TestUnitOfWork_NoTagsNoInvalidation(t *testing.T) {
	inv := &recordingInvalidator{}
	uow := subsync.NewUnitOfWork(newTestStore(t), inv)

	require.NoError(t, uow.Run(context.Background(), func(ctx context.Context, w *subsync.Work) error {
		return nil
	}))
	assert.Empty(t, inv.Calls())
}

func TestUnitOfWork_RetriedAttemptsDoNotAccumulate(t *testing.T) {
	inv := &recordingInvalidator{}
	store := &retryingStore{Store: newTestStore(t)}
	uow := subsync.NewUnitOfWork(store, inv)

	tag := cachetag.ForOrganization(cachetag.Members, testOrgID)
	require.NoError(t, uow.Run(context.Background(), func(ctx context.Context, w *subsync.Work) error {
		w.Invalidate(tag)
		return nil
	}))

	assert.Equal(t, 2, store.attempts)
	assert.Equal(t, [][]cachetag.Tag{{tag}}, inv.Calls())
}

func TestUnitOfWork_NilStore(t *testing.T) {
	uow := subsync.NewUnitOfWork(nil, nil)
	err := uow.Run(context.Background(), func(ctx context.Context, w *subsync.Work) error { return nil })
	assert.ErrorIs(t, err, subsync.ErrStoreUnavailable)
}
