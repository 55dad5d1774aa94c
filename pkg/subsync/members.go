package subsync

import (
	"context"
	"fmt"

	"github.com/mihaimyh/gosubsync/pkg/cachetag"
)

// MembershipService performs membership mutations.
type MembershipService struct {
	uow    *UnitOfWork
	logger Logger
}

// NewMembershipService creates a membership service. A nil invalidator disables
// invalidation and a nil logger disables logging.
func NewMembershipService(store Store, invalidator Invalidator, logger Logger) *MembershipService {
	if logger == nil {
		logger = &NoopLogger{}
	}
	return &MembershipService{uow: NewUnitOfWork(store, invalidator), logger: logger}
}

// TransferOwnership moves ownership of the organization from currentUserID to
// targetUserID. The current user must be an owner and the target an admin.
func (s *MembershipService) TransferOwnership(ctx context.Context, organizationID, currentUserID, targetUserID string) error {
	if currentUserID == targetUserID {
		return ErrSelfTransfer
	}

	err := s.uow.Run(ctx, func(ctx context.Context, w *Work) error {
		current, err := w.GetMembership(ctx, organizationID, currentUserID)
		if err != nil {
			return err
		}
		if !current.IsOwner {
			return ErrNotOwner
		}

		target, err := w.GetMembership(ctx, organizationID, targetUserID)
		if err != nil {
			return err
		}
		if target.Role != RoleAdmin {
			return ErrTargetNotAdmin
		}

		if err := w.SetMembershipOwner(ctx, organizationID, currentUserID, false); err != nil {
			return fmt.Errorf("failed to clear current owner: %w", err)
		}
		if err := w.SetMembershipOwner(ctx, organizationID, targetUserID, true); err != nil {
			return fmt.Errorf("failed to set new owner: %w", err)
		}

		w.Invalidate(
			cachetag.ForUser(cachetag.Profile, currentUserID),
			cachetag.ForUser(cachetag.Profile, targetUserID),
			cachetag.ForUser(cachetag.Organizations, currentUserID),
			cachetag.ForUser(cachetag.Organizations, targetUserID),
			cachetag.ForOrganization(cachetag.Members, organizationID),
			cachetag.ForUser(cachetag.PersonalDetails, targetUserID),
		)
		return nil
	})
	if err != nil {
		return err
	}

	s.logger.Info("organization ownership transferred",
		Field{"organization_id", organizationID},
		Field{"from_user_id", currentUserID},
		Field{"to_user_id", targetUserID},
	)
	return nil
}
