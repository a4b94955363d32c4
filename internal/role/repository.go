package role

import (
	"context"
)

// Repository defines the interface for role persistence. Implementations
// must make the position-shifting operations (create at an explicit
// position, delete, reorder) atomic: the positions map they receive is the
// complete post-mutation ordering of the tenant and must be applied in one
// transaction.
type Repository interface {
	// Graph loads the tenant's full role graph, overrides included,
	// ordered by position.
	Graph(ctx context.Context, tenantID string) (*Graph, error)

	// GetByID retrieves a single role with its overrides.
	GetByID(ctx context.Context, tenantID, roleID string) (*Role, error)

	// Create inserts a role and applies the renumbered positions of any
	// roles the insertion displaced.
	Create(ctx context.Context, r *Role, positions map[string]int) error

	// Update persists mutable role fields and the override set.
	Update(ctx context.Context, r *Role) error

	// Delete removes a role, cascades the removal to every member
	// assignment holding it, and applies the gap-closing positions.
	Delete(ctx context.Context, tenantID, roleID string, positions map[string]int) error

	// SaveOrder applies a reordered position mapping transactionally.
	SaveOrder(ctx context.Context, tenantID string, positions map[string]int) error
}

// AssignmentReader is the slice of the assignment store the role service
// needs: the role ids an actor currently holds, to rank them in the
// hierarchy.
type AssignmentReader interface {
	RoleIDsFor(ctx context.Context, tenantID, userID string) ([]string, error)
}

// GraphInvalidator is notified after any mutation of a tenant's role
// graph so cached snapshots are dropped.
type GraphInvalidator interface {
	Invalidate(tenantID string)
}
