package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/chorus-chat/chorus/internal/tenant"
)

// TenantRepository implements tenant.Repository and tenant.Ownership
type TenantRepository struct {
	db *DB
}

// NewTenantRepository creates a new tenant repository
func NewTenantRepository(db *DB) *TenantRepository {
	return &TenantRepository{db: db}
}

// Create inserts a new tenant
func (r *TenantRepository) Create(ctx context.Context, t *tenant.Tenant) error {
	now := time.Now()
	t.CreatedAt = now
	t.UpdatedAt = now
	if t.Status == "" {
		t.Status = tenant.StatusActive
	}

	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO tenants (id, name, owner_id, status, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, t.ID, t.Name, t.OwnerID, t.Status, t.CreatedAt, t.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create tenant: %w", err)
	}
	return nil
}

// GetByID retrieves a tenant by ID
func (r *TenantRepository) GetByID(ctx context.Context, id string) (*tenant.Tenant, error) {
	var t tenant.Tenant
	err := r.db.pool.QueryRow(ctx, `
		SELECT id, name, owner_id, status, created_at, updated_at
		FROM tenants
		WHERE id = $1
	`, id).Scan(&t.ID, &t.Name, &t.OwnerID, &t.Status, &t.CreatedAt, &t.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tenant.ErrTenantNotFound
		}
		return nil, fmt.Errorf("failed to get tenant: %w", err)
	}
	return &t, nil
}

// ListIDs returns the ids of every active tenant, for the sweep.
func (r *TenantRepository) ListIDs(ctx context.Context) ([]string, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT id FROM tenants WHERE status = $1 ORDER BY created_at
	`, tenant.StatusActive)
	if err != nil {
		return nil, fmt.Errorf("failed to list tenants: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan tenant id: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// IsOwner reports whether the user is the tenant's owner.
func (r *TenantRepository) IsOwner(ctx context.Context, userID, tenantID string) (bool, error) {
	var ownerID string
	err := r.db.pool.QueryRow(ctx, `
		SELECT owner_id FROM tenants WHERE id = $1
	`, tenantID).Scan(&ownerID)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return false, tenant.ErrTenantNotFound
		}
		return false, fmt.Errorf("failed to get tenant owner: %w", err)
	}
	return ownerID == userID, nil
}

// MemberRepository implements tenant.MemberRepository
type MemberRepository struct {
	db *DB
}

// NewMemberRepository creates a new tenant member repository
func NewMemberRepository(db *DB) *MemberRepository {
	return &MemberRepository{db: db}
}

// Get retrieves a single membership row.
func (r *MemberRepository) Get(ctx context.Context, tenantID, userID string) (*tenant.Member, error) {
	var m tenant.Member
	err := r.db.pool.QueryRow(ctx, `
		SELECT tenant_id, user_id, joined_at
		FROM tenant_members
		WHERE tenant_id = $1 AND user_id = $2
	`, tenantID, userID).Scan(&m.TenantID, &m.UserID, &m.JoinedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, tenant.ErrMemberNotFound
		}
		return nil, fmt.Errorf("failed to get member: %w", err)
	}
	return &m, nil
}

// List returns every member of a tenant.
func (r *MemberRepository) List(ctx context.Context, tenantID string) ([]*tenant.Member, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT tenant_id, user_id, joined_at
		FROM tenant_members
		WHERE tenant_id = $1
		ORDER BY joined_at
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to list members: %w", err)
	}
	defer rows.Close()

	var members []*tenant.Member
	for rows.Next() {
		var m tenant.Member
		if err := rows.Scan(&m.TenantID, &m.UserID, &m.JoinedAt); err != nil {
			return nil, fmt.Errorf("failed to scan member: %w", err)
		}
		members = append(members, &m)
	}
	return members, rows.Err()
}

// Add inserts a membership row.
func (r *MemberRepository) Add(ctx context.Context, m *tenant.Member) error {
	if m.JoinedAt.IsZero() {
		m.JoinedAt = time.Now()
	}
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO tenant_members (tenant_id, user_id, joined_at)
		VALUES ($1, $2, $3)
		ON CONFLICT (tenant_id, user_id) DO NOTHING
	`, m.TenantID, m.UserID, m.JoinedAt)
	if err != nil {
		return fmt.Errorf("failed to add member: %w", err)
	}
	return nil
}

// Remove deletes a membership row.
func (r *MemberRepository) Remove(ctx context.Context, tenantID, userID string) error {
	result, err := r.db.pool.Exec(ctx, `
		DELETE FROM tenant_members
		WHERE tenant_id = $1 AND user_id = $2
	`, tenantID, userID)
	if err != nil {
		return fmt.Errorf("failed to remove member: %w", err)
	}
	if result.RowsAffected() == 0 {
		return tenant.ErrMemberNotFound
	}
	return nil
}
