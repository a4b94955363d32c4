package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/chorus-chat/chorus/internal/permission"
	"github.com/chorus-chat/chorus/internal/role"
	"github.com/chorus-chat/chorus/internal/tenant"
)

const uniqueViolation = "23505"

// RoleRepository implements role.Repository
type RoleRepository struct {
	db *DB
}

// NewRoleRepository creates a new role repository
func NewRoleRepository(db *DB) *RoleRepository {
	return &RoleRepository{db: db}
}

const roleColumns = `id, tenant_id, name, color, icon, position, permissions,
	is_default, mentionable, hoist,
	auto_assign_trigger, auto_assign_after_seconds, auto_assign_activity_threshold,
	temporary_duration_seconds, temporary_auto_remove,
	created_at, updated_at`

// Graph loads a tenant's complete role graph ordered by position.
func (r *RoleRepository) Graph(ctx context.Context, tenantID string) (*role.Graph, error) {
	rows, err := r.db.pool.Query(ctx, `
		SELECT `+roleColumns+`
		FROM roles
		WHERE tenant_id = $1
		ORDER BY position
	`, tenantID)
	if err != nil {
		return nil, fmt.Errorf("failed to query roles: %w", err)
	}
	defer rows.Close()

	var roles []*role.Role
	byID := make(map[string]*role.Role)
	for rows.Next() {
		rl, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, rl)
		byID[rl.ID] = rl
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read roles: %w", err)
	}

	if len(roles) == 0 {
		// Zero rows is either a tenant that does not exist or one that
		// lost its default role. The two must not be conflated: the
		// former is a not-found, the latter a configuration error.
		var exists bool
		err := r.db.pool.QueryRow(ctx, `
			SELECT EXISTS (SELECT 1 FROM tenants WHERE id = $1)
		`, tenantID).Scan(&exists)
		if err != nil {
			return nil, fmt.Errorf("failed to check tenant: %w", err)
		}
		if !exists {
			return nil, fmt.Errorf("tenant %s: %w", tenantID, tenant.ErrTenantNotFound)
		}
	}

	if err := r.loadOverrides(ctx, tenantID, byID); err != nil {
		return nil, err
	}

	return role.NewGraph(tenantID, roles)
}

// GetByID retrieves a single role with its channel overrides.
func (r *RoleRepository) GetByID(ctx context.Context, tenantID, roleID string) (*role.Role, error) {
	row := r.db.pool.QueryRow(ctx, `
		SELECT `+roleColumns+`
		FROM roles
		WHERE tenant_id = $1 AND id = $2
	`, tenantID, roleID)

	rl, err := scanRole(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, role.ErrRoleNotFound
		}
		return nil, err
	}

	if err := r.loadOverrides(ctx, tenantID, map[string]*role.Role{rl.ID: rl}); err != nil {
		return nil, err
	}
	return rl, nil
}

// Create inserts a role and applies the displaced positions in one
// transaction. The positions unique constraint is deferred, so the order
// of the shifts inside the transaction does not matter.
func (r *RoleRepository) Create(ctx context.Context, rl *role.Role, positions map[string]int) error {
	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := insertRole(ctx, tx, rl); err != nil {
		return err
	}
	if err := applyPositions(ctx, tx, rl.TenantID, positions); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit role create: %w", err)
	}
	return nil
}

// Update persists mutable role fields and replaces the override set.
func (r *RoleRepository) Update(ctx context.Context, rl *role.Role) error {
	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	trigger, after, threshold := autoAssignColumns(rl.AutoAssign)
	tmpDuration, tmpAutoRemove := temporaryColumns(rl.Temporary)

	result, err := tx.Exec(ctx, `
		UPDATE roles
		SET name = $3, color = $4, icon = $5, permissions = $6,
		    mentionable = $7, hoist = $8,
		    auto_assign_trigger = $9, auto_assign_after_seconds = $10,
		    auto_assign_activity_threshold = $11,
		    temporary_duration_seconds = $12, temporary_auto_remove = $13,
		    updated_at = $14
		WHERE tenant_id = $1 AND id = $2
	`, rl.TenantID, rl.ID, rl.Name, rl.Color, rl.Icon, int64(rl.Permissions),
		rl.Mentionable, rl.Hoist, trigger, after, threshold,
		tmpDuration, tmpAutoRemove, time.Now())
	if err != nil {
		if isUniqueViolation(err) {
			return role.ErrDuplicateName
		}
		return fmt.Errorf("failed to update role: %w", err)
	}
	if result.RowsAffected() == 0 {
		return role.ErrRoleNotFound
	}

	if _, err := tx.Exec(ctx, `
		DELETE FROM role_channel_overrides WHERE role_id = $1
	`, rl.ID); err != nil {
		return fmt.Errorf("failed to clear overrides: %w", err)
	}
	for _, o := range rl.ChannelOverrides {
		if _, err := tx.Exec(ctx, `
			INSERT INTO role_channel_overrides (role_id, channel_id, allow_mask, deny_mask)
			VALUES ($1, $2, $3, $4)
		`, rl.ID, o.ChannelID, int64(o.Allow), int64(o.Deny)); err != nil {
			return fmt.Errorf("failed to save override: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit role update: %w", err)
	}
	return nil
}

// Delete removes a role and applies the gap-closing positions. Overrides
// and member assignments referencing the role are removed by cascade.
func (r *RoleRepository) Delete(ctx context.Context, tenantID, roleID string, positions map[string]int) error {
	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	result, err := tx.Exec(ctx, `
		DELETE FROM roles WHERE tenant_id = $1 AND id = $2
	`, tenantID, roleID)
	if err != nil {
		return fmt.Errorf("failed to delete role: %w", err)
	}
	if result.RowsAffected() == 0 {
		return role.ErrRoleNotFound
	}

	if err := applyPositions(ctx, tx, tenantID, positions); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit role delete: %w", err)
	}
	return nil
}

// SaveOrder applies a reordered position mapping transactionally.
func (r *RoleRepository) SaveOrder(ctx context.Context, tenantID string, positions map[string]int) error {
	tx, err := r.db.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := applyPositions(ctx, tx, tenantID, positions); err != nil {
		return err
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit role order: %w", err)
	}
	return nil
}

func (r *RoleRepository) loadOverrides(ctx context.Context, tenantID string, byID map[string]*role.Role) error {
	if len(byID) == 0 {
		return nil
	}

	rows, err := r.db.pool.Query(ctx, `
		SELECT o.role_id, o.channel_id, o.allow_mask, o.deny_mask
		FROM role_channel_overrides o
		JOIN roles r ON r.id = o.role_id
		WHERE r.tenant_id = $1
	`, tenantID)
	if err != nil {
		return fmt.Errorf("failed to query overrides: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var roleID, channelID string
		var allow, deny int64
		if err := rows.Scan(&roleID, &channelID, &allow, &deny); err != nil {
			return fmt.Errorf("failed to scan override: %w", err)
		}
		rl, ok := byID[roleID]
		if !ok {
			continue
		}
		rl.ChannelOverrides = append(rl.ChannelOverrides, role.ChannelOverride{
			ChannelID: channelID,
			Allow:     permission.Set(allow),
			Deny:      permission.Set(deny),
		})
	}
	return rows.Err()
}

func insertRole(ctx context.Context, tx pgx.Tx, rl *role.Role) error {
	trigger, after, threshold := autoAssignColumns(rl.AutoAssign)
	tmpDuration, tmpAutoRemove := temporaryColumns(rl.Temporary)

	_, err := tx.Exec(ctx, `
		INSERT INTO roles (id, tenant_id, name, color, icon, position, permissions,
			is_default, mentionable, hoist,
			auto_assign_trigger, auto_assign_after_seconds, auto_assign_activity_threshold,
			temporary_duration_seconds, temporary_auto_remove,
			created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`, rl.ID, rl.TenantID, rl.Name, rl.Color, rl.Icon, rl.Position, int64(rl.Permissions),
		rl.IsDefault, rl.Mentionable, rl.Hoist,
		trigger, after, threshold, tmpDuration, tmpAutoRemove,
		rl.CreatedAt, rl.UpdatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return role.ErrDuplicateName
		}
		return fmt.Errorf("failed to insert role: %w", err)
	}
	return nil
}

func applyPositions(ctx context.Context, tx pgx.Tx, tenantID string, positions map[string]int) error {
	for id, pos := range positions {
		if _, err := tx.Exec(ctx, `
			UPDATE roles SET position = $3 WHERE tenant_id = $1 AND id = $2
		`, tenantID, id, pos); err != nil {
			return fmt.Errorf("failed to renumber role %s: %w", id, err)
		}
	}
	return nil
}

func scanRole(row pgx.Row) (*role.Role, error) {
	var rl role.Role
	var perms int64
	var trigger sql.NullString
	var after, threshold, tmpDuration sql.NullInt64
	var tmpAutoRemove sql.NullBool

	err := row.Scan(&rl.ID, &rl.TenantID, &rl.Name, &rl.Color, &rl.Icon,
		&rl.Position, &perms, &rl.IsDefault, &rl.Mentionable, &rl.Hoist,
		&trigger, &after, &threshold, &tmpDuration, &tmpAutoRemove,
		&rl.CreatedAt, &rl.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan role: %w", err)
	}

	rl.Permissions = permission.Set(perms)
	if trigger.Valid {
		rl.AutoAssign = &role.AutoAssignRule{
			Trigger:           role.AutoAssignTrigger(trigger.String),
			After:             time.Duration(after.Int64) * time.Second,
			ActivityThreshold: threshold.Int64,
		}
	}
	if tmpDuration.Valid {
		rl.Temporary = &role.TemporaryGrant{
			Duration:   time.Duration(tmpDuration.Int64) * time.Second,
			AutoRemove: tmpAutoRemove.Bool,
		}
	}
	return &rl, nil
}

func autoAssignColumns(rule *role.AutoAssignRule) (sql.NullString, sql.NullInt64, sql.NullInt64) {
	if rule == nil {
		return sql.NullString{}, sql.NullInt64{}, sql.NullInt64{}
	}
	return sql.NullString{String: string(rule.Trigger), Valid: true},
		sql.NullInt64{Int64: int64(rule.After / time.Second), Valid: true},
		sql.NullInt64{Int64: rule.ActivityThreshold, Valid: true}
}

func temporaryColumns(t *role.TemporaryGrant) (sql.NullInt64, sql.NullBool) {
	if t == nil {
		return sql.NullInt64{}, sql.NullBool{}
	}
	return sql.NullInt64{Int64: int64(t.Duration / time.Second), Valid: true},
		sql.NullBool{Bool: t.AutoRemove, Valid: true}
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}
