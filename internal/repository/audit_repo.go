package repository

import (
	"context"
	"fmt"
	"log"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nerolab/alas-console/internal/models"
)

// AuditRepository records the lifecycle trail of each instance.
type AuditRepository struct {
	pool *pgxpool.Pool
}

func NewAuditRepository(pool *pgxpool.Pool) *AuditRepository {
	return &AuditRepository{pool: pool}
}

// LogAction appends an entry to an instance's trail. Best-effort: a failed
// write is logged and swallowed, it must never fail the operation it
// describes.
func (r *AuditRepository) LogAction(ctx context.Context, instanceID, action, status, message string) {
	_, err := r.pool.Exec(ctx,
		`INSERT INTO instance_audit_log (id, instance_id, action, status, message) VALUES ($1, $2, $3, $4, $5)`,
		uuid.New().String(), instanceID, action, status, message,
	)
	if err != nil {
		log.Printf("[audit] Failed to record %s for instance %s: %v", action, instanceID, err)
	}
}

// ListByInstance returns an instance's trail, newest first
func (r *AuditRepository) ListByInstance(ctx context.Context, instanceID string, limit int) ([]*models.AuditEntry, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, instance_id, action, status, message, created_at
		FROM instance_audit_log
		WHERE instance_id = $1
		ORDER BY created_at DESC
		LIMIT $2
	`, instanceID, limit)
	if err != nil {
		return nil, fmt.Errorf("query audit log: %w", err)
	}
	defer rows.Close()

	var entries []*models.AuditEntry
	for rows.Next() {
		e := &models.AuditEntry{}
		if err := rows.Scan(&e.ID, &e.InstanceID, &e.Action, &e.Status, &e.Message, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan audit row: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
