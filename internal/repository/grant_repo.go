package repository

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
)

// GrantRepository manages the user → instance access grants.
type GrantRepository struct {
	pool *pgxpool.Pool
}

func NewGrantRepository(pool *pgxpool.Pool) *GrantRepository {
	return &GrantRepository{pool: pool}
}

// ListInstanceIDs returns the instance IDs granted to a user
func (r *GrantRepository) ListInstanceIDs(ctx context.Context, userID string) ([]string, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT instance_id FROM user_instances WHERE user_id = $1 ORDER BY created_at`, userID)
	if err != nil {
		return nil, fmt.Errorf("query grants: %w", err)
	}
	defer rows.Close()

	ids := []string{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan grant row: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Replace swaps a user's whole grant set for the given instance IDs in one
// transaction.
func (r *GrantRepository) Replace(ctx context.Context, userID string, instanceIDs []string) error {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM user_instances WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("clear grants: %w", err)
	}

	for _, instanceID := range instanceIDs {
		_, err := tx.Exec(ctx,
			`INSERT INTO user_instances (id, user_id, instance_id) VALUES ($1, $2, $3)`,
			uuid.New().String(), userID, instanceID,
		)
		if err != nil {
			return fmt.Errorf("insert grant: %w", err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Revoke removes a single grant
func (r *GrantRepository) Revoke(ctx context.Context, userID, instanceID string) error {
	tag, err := r.pool.Exec(ctx,
		`DELETE FROM user_instances WHERE user_id = $1 AND instance_id = $2`, userID, instanceID)
	if err != nil {
		return fmt.Errorf("revoke grant: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// CountExisting returns how many of the given instance IDs exist.
func (r *GrantRepository) CountExisting(ctx context.Context, instanceIDs []string) (int, error) {
	var count int
	err := r.pool.QueryRow(ctx,
		`SELECT count(*) FROM instances WHERE id = ANY($1)`, instanceIDs).Scan(&count)
	if err != nil {
		return 0, fmt.Errorf("count instances: %w", err)
	}
	return count, nil
}
