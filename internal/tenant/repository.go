package tenant

import (
	"context"
	"errors"
)

var (
	ErrTenantNotFound = errors.New("tenant not found")
	ErrMemberNotFound = errors.New("tenant member not found")
)

// Repository defines the interface for tenant storage
type Repository interface {
	Create(ctx context.Context, tenant *Tenant) error
	GetByID(ctx context.Context, id string) (*Tenant, error)
	ListIDs(ctx context.Context) ([]string, error)
}

// MemberRepository defines the interface for tenant membership storage
type MemberRepository interface {
	Get(ctx context.Context, tenantID, userID string) (*Member, error)
	List(ctx context.Context, tenantID string) ([]*Member, error)
	Add(ctx context.Context, member *Member) error
	Remove(ctx context.Context, tenantID, userID string) error
}

// Ownership answers the single question the authorization core asks about
// tenants: is this user the tenant's owner? Ownership bypasses every role
// and hierarchy check and cannot be revoked by editing or deleting roles.
type Ownership interface {
	IsOwner(ctx context.Context, userID, tenantID string) (bool, error)
}
