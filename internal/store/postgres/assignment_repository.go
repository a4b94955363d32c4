package postgres

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/chorus-chat/chorus/internal/member"
)

// AssignmentRepository implements member.Repository
type AssignmentRepository struct {
	db *DB
}

// NewAssignmentRepository creates a new assignment repository
func NewAssignmentRepository(db *DB) *AssignmentRepository {
	return &AssignmentRepository{db: db}
}

// ListForUser returns the user's role assignments in a tenant.
func (r *AssignmentRepository) ListForUser(ctx context.Context, tenantID, userID string) ([]*member.Assignment, error) {
	return r.list(ctx, `
		SELECT id, tenant_id, user_id, role_id, assigned_at, assigned_by, expires_at, source
		FROM member_role_assignments
		WHERE tenant_id = $1 AND user_id = $2
	`, tenantID, userID)
}

// ListForTenant returns every assignment in a tenant.
func (r *AssignmentRepository) ListForTenant(ctx context.Context, tenantID string) ([]*member.Assignment, error) {
	return r.list(ctx, `
		SELECT id, tenant_id, user_id, role_id, assigned_at, assigned_by, expires_at, source
		FROM member_role_assignments
		WHERE tenant_id = $1
	`, tenantID)
}

// Assign inserts an assignment row. A duplicate (tenant, user, role) maps
// to member.ErrAlreadyAssigned.
func (r *AssignmentRepository) Assign(ctx context.Context, a *member.Assignment) error {
	var expiresAt sql.NullTime
	if a.ExpiresAt != nil {
		expiresAt = sql.NullTime{Time: *a.ExpiresAt, Valid: true}
	}

	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO member_role_assignments (id, tenant_id, user_id, role_id, assigned_at, assigned_by, expires_at, source)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, a.ID, a.TenantID, a.UserID, a.RoleID, a.AssignedAt, a.AssignedBy, expiresAt, string(a.Source))
	if err != nil {
		if isUniqueViolation(err) {
			return member.ErrAlreadyAssigned
		}
		return fmt.Errorf("failed to insert assignment: %w", err)
	}
	return nil
}

// Remove deletes an assignment row.
func (r *AssignmentRepository) Remove(ctx context.Context, tenantID, userID, roleID string) error {
	result, err := r.db.pool.Exec(ctx, `
		DELETE FROM member_role_assignments
		WHERE tenant_id = $1 AND user_id = $2 AND role_id = $3
	`, tenantID, userID, roleID)
	if err != nil {
		return fmt.Errorf("failed to delete assignment: %w", err)
	}
	if result.RowsAffected() == 0 {
		return member.ErrNotAssigned
	}
	return nil
}

// RemoveAllForUser deletes every assignment row a user holds in a
// tenant. Called when a membership is removed; zero rows is fine.
func (r *AssignmentRepository) RemoveAllForUser(ctx context.Context, tenantID, userID string) error {
	_, err := r.db.pool.Exec(ctx, `
		DELETE FROM member_role_assignments
		WHERE tenant_id = $1 AND user_id = $2
	`, tenantID, userID)
	if err != nil {
		return fmt.Errorf("failed to delete assignments: %w", err)
	}
	return nil
}

func (r *AssignmentRepository) list(ctx context.Context, query string, args ...any) ([]*member.Assignment, error) {
	rows, err := r.db.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer rows.Close()

	var assignments []*member.Assignment
	for rows.Next() {
		var a member.Assignment
		var expiresAt sql.NullTime
		var source string
		if err := rows.Scan(&a.ID, &a.TenantID, &a.UserID, &a.RoleID,
			&a.AssignedAt, &a.AssignedBy, &expiresAt, &source); err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		if expiresAt.Valid {
			t := expiresAt.Time.UTC()
			a.ExpiresAt = &t
		}
		a.Source = member.Source(source)
		assignments = append(assignments, &a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read assignments: %w", err)
	}
	return assignments, nil
}
