package tenant

import (
	"time"
)

// Tenant represents an isolated chat server whose roles, channels, and
// members are independent of every other tenant.
type Tenant struct {
	ID        string    `json:"id"`
	Name      string    `json:"name"`
	OwnerID   string    `json:"owner_id"`
	Status    string    `json:"status"`
	CreatedAt time.Time `json:"created_at"`
	UpdatedAt time.Time `json:"updated_at"`
}

// Status constants
const (
	StatusActive   = "active"
	StatusInactive = "inactive"
)

// Member records a user's membership in a tenant. JoinedAt is the
// reference timestamp for elapsed-time auto-assignment rules.
type Member struct {
	TenantID string    `json:"tenant_id"`
	UserID   string    `json:"user_id"`
	JoinedAt time.Time `json:"joined_at"`
}
