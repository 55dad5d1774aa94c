package subsync

import (
	"context"
	"errors"
	"fmt"
)

// Resolver maps a snapshot to the organization that owns it.
type Resolver struct {
	store Store
}

// NewResolver creates a resolver backed by store.
func NewResolver(store Store) *Resolver {
	return &Resolver{store: store}
}

// Resolve returns organizationID when it is set and otherwise looks up the organization
// by billing customer id. It never writes.
func (r *Resolver) Resolve(ctx context.Context, organizationID, customerID string) (string, error) {
	if organizationID != "" {
		return organizationID, nil
	}
	if customerID == "" {
		return "", ErrMissingCustomerID
	}
	if r.store == nil {
		return "", ErrStoreUnavailable
	}

	orgID, err := r.store.ResolveOrganization(ctx, customerID)
	if err != nil {
		if errors.Is(err, ErrOrganizationNotFound) {
			return "", &ResolutionError{CustomerID: customerID}
		}
		return "", fmt.Errorf("failed to resolve organization: %w", err)
	}
	return orgID, nil
}
