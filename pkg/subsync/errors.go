package subsync

import (
	"errors"
	"fmt"
)

var (
	// ErrInvalidSnapshot is returned when a snapshot violates its structural invariants
	ErrInvalidSnapshot = errors.New("invalid snapshot")

	// ErrMissingCustomerID is returned when a snapshot has neither organization id nor customer id
	ErrMissingCustomerID = errors.New("billing customer id is required when organization id is absent")

	// ErrOrganizationNotFound is returned when no organization owns the billing customer id
	ErrOrganizationNotFound = errors.New("billing customer not found")

	// ErrStoreUnavailable is returned when no store is configured
	ErrStoreUnavailable = errors.New("store unavailable")

	// ErrMembershipNotFound is returned when a user is not a member of the organization
	ErrMembershipNotFound = errors.New("membership not found")

	// ErrSelfTransfer is returned when a user tries to transfer ownership to themselves
	ErrSelfTransfer = errors.New("cannot transfer ownership to yourself")

	// ErrNotOwner is returned when a non-owner tries to transfer ownership
	ErrNotOwner = errors.New("only owners can transfer ownership")

	// ErrTargetNotAdmin is returned when the ownership target is not an admin
	ErrTargetNotAdmin = errors.New("only admins can become owners")

	// ErrSubscriptionNotFound is returned when a subscription does not belong to the organization
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrRegistryRequired is returned when a cache or invalidator is built without a tag registry
	ErrRegistryRequired = errors.New("tag registry is required")
)

// ResolutionError reports a billing customer id that matches no organization.
// It unwraps to ErrOrganizationNotFound.
type ResolutionError struct {
	CustomerID string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("billing customer not found for customerId: %s", e.CustomerID)
}

func (e *ResolutionError) Unwrap() error {
	return ErrOrganizationNotFound
}
