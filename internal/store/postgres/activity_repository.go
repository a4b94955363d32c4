package postgres

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
)

// ActivityRepository reads and updates the per-member activity counters
// that activity-threshold rules evaluate against. Implements
// sweeper.ActivityMetrics.
type ActivityRepository struct {
	db *DB
}

// NewActivityRepository creates a new activity repository
func NewActivityRepository(db *DB) *ActivityRepository {
	return &ActivityRepository{db: db}
}

// CounterFor returns a user's activity counter in a tenant. Absent rows
// count as zero.
func (r *ActivityRepository) CounterFor(ctx context.Context, userID, tenantID string) (int64, error) {
	var count int64
	err := r.db.pool.QueryRow(ctx, `
		SELECT message_count FROM member_activity
		WHERE tenant_id = $1 AND user_id = $2
	`, tenantID, userID).Scan(&count)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return 0, nil
		}
		return 0, fmt.Errorf("failed to read activity counter: %w", err)
	}
	return count, nil
}

// Record adds delta to a user's activity counter, creating the row on
// first activity.
func (r *ActivityRepository) Record(ctx context.Context, tenantID, userID string, delta int64) error {
	_, err := r.db.pool.Exec(ctx, `
		INSERT INTO member_activity (tenant_id, user_id, message_count, updated_at)
		VALUES ($1, $2, $3, now())
		ON CONFLICT (tenant_id, user_id)
		DO UPDATE SET message_count = member_activity.message_count + $3, updated_at = now()
	`, tenantID, userID, delta)
	if err != nil {
		return fmt.Errorf("failed to record activity: %w", err)
	}
	return nil
}
