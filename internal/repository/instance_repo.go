package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/nerolab/alas-console/internal/models"
)

type InstanceRepository struct {
	pool *pgxpool.Pool
}

func NewInstanceRepository(pool *pgxpool.Pool) *InstanceRepository {
	return &InstanceRepository{pool: pool}
}

const instanceColumns = `id, name, url, description, container_id, container_name,
	config_path, host_port, container_status, health_status, last_health_check,
	created_at, updated_at`

// Create creates a new instance
func (r *InstanceRepository) Create(ctx context.Context, inst *models.Instance) error {
	query := `
		INSERT INTO instances (id, name, url, description, container_status, health_status)
		VALUES ($1, $2, $3, $4, $5, $6)
	`
	_, err := r.pool.Exec(ctx, query,
		inst.ID, inst.Name, inst.URL, inst.Description,
		models.ContainerStatusCreated, models.HealthUnknown,
	)
	if err != nil {
		return fmt.Errorf("insert instance: %w", err)
	}
	return nil
}

// GetByID retrieves an instance by ID
func (r *InstanceRepository) GetByID(ctx context.Context, id string) (*models.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM instances WHERE id = $1`
	return r.scanInstance(r.pool.QueryRow(ctx, query, id))
}

// List retrieves instances ordered by creation time
func (r *InstanceRepository) List(ctx context.Context, offset, limit int) ([]*models.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM instances ORDER BY created_at OFFSET $1 LIMIT $2`

	rows, err := r.pool.Query(ctx, query, offset, limit)
	if err != nil {
		return nil, fmt.Errorf("query instances: %w", err)
	}
	defer rows.Close()

	return r.scanInstances(rows)
}

// ListByUser retrieves the instances granted to a user
func (r *InstanceRepository) ListByUser(ctx context.Context, userID string) ([]*models.Instance, error) {
	query := `
		SELECT i.id, i.name, i.url, i.description, i.container_id, i.container_name,
			i.config_path, i.host_port, i.container_status, i.health_status,
			i.last_health_check, i.created_at, i.updated_at
		FROM instances i
		JOIN user_instances ui ON ui.instance_id = i.id
		WHERE ui.user_id = $1
		ORDER BY i.created_at
	`

	rows, err := r.pool.Query(ctx, query, userID)
	if err != nil {
		return nil, fmt.Errorf("query user instances: %w", err)
	}
	defer rows.Close()

	return r.scanInstances(rows)
}

// ListWithURL retrieves every instance whose URL is set; these are the
// health sweep's targets.
func (r *InstanceRepository) ListWithURL(ctx context.Context) ([]*models.Instance, error) {
	query := `SELECT ` + instanceColumns + ` FROM instances WHERE url IS NOT NULL AND url != ''`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("query instances with url: %w", err)
	}
	defer rows.Close()

	return r.scanInstances(rows)
}

// Update persists name, url and description
func (r *InstanceRepository) Update(ctx context.Context, inst *models.Instance) error {
	query := `
		UPDATE instances SET name = $1, url = $2, description = $3, updated_at = now()
		WHERE id = $4
	`
	tag, err := r.pool.Exec(ctx, query, inst.Name, inst.URL, inst.Description, inst.ID)
	if err != nil {
		return fmt.Errorf("update instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes an instance; grants cascade
func (r *InstanceRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM instances WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete instance: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// SetContainer writes the four container fields and the status in one
// statement, keeping the co-nullity invariant.
func (r *InstanceRepository) SetContainer(ctx context.Context, id string, info *models.ContainerInfo) error {
	query := `
		UPDATE instances SET
			container_id = $1, container_name = $2, config_path = $3,
			host_port = $4, container_status = $5, updated_at = now()
		WHERE id = $6
	`
	tag, err := r.pool.Exec(ctx, query,
		info.ContainerID, info.ContainerName, info.ConfigPath,
		info.HostPort, info.Status, id,
	)
	if err != nil {
		return fmt.Errorf("set container: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// ClearContainer nulls the four container fields together and marks the
// container removed.
func (r *InstanceRepository) ClearContainer(ctx context.Context, id string) error {
	query := `
		UPDATE instances SET
			container_id = NULL, container_name = NULL, config_path = NULL,
			host_port = NULL, container_status = $1, updated_at = now()
		WHERE id = $2
	`
	tag, err := r.pool.Exec(ctx, query, models.ContainerStatusRemoved, id)
	if err != nil {
		return fmt.Errorf("clear container: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// UpdateContainerStatus updates only the container status
func (r *InstanceRepository) UpdateContainerStatus(ctx context.Context, id, status string) error {
	query := `UPDATE instances SET container_status = $1, updated_at = now() WHERE id = $2`
	_, err := r.pool.Exec(ctx, query, status, id)
	if err != nil {
		return fmt.Errorf("update container status: %w", err)
	}
	return nil
}

// UpdateURL updates only the public URL
func (r *InstanceRepository) UpdateURL(ctx context.Context, id, url string) error {
	query := `UPDATE instances SET url = $1, updated_at = now() WHERE id = $2`
	_, err := r.pool.Exec(ctx, query, url, id)
	if err != nil {
		return fmt.Errorf("update url: %w", err)
	}
	return nil
}

// UpdateHealthBatch commits one sweep's verdicts in a single batch, so the
// sweep is atomic from storage's point of view.
func (r *InstanceRepository) UpdateHealthBatch(ctx context.Context, results []models.HealthResult) error {
	if len(results) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	for _, res := range results {
		batch.Queue(
			`UPDATE instances SET health_status = $1, last_health_check = $2 WHERE id = $3`,
			res.Status, res.CheckedAt, res.InstanceID,
		)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range results {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch health update: %w", err)
		}
	}
	return nil
}

func (r *InstanceRepository) scanInstance(row pgx.Row) (*models.Instance, error) {
	inst := &models.Instance{}
	err := row.Scan(
		&inst.ID, &inst.Name, &inst.URL, &inst.Description,
		&inst.ContainerID, &inst.ContainerName, &inst.ConfigPath, &inst.HostPort,
		&inst.ContainerStatus, &inst.HealthStatus, &inst.LastHealthCheck,
		&inst.CreatedAt, &inst.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan instance: %w", err)
	}
	return inst, nil
}

func (r *InstanceRepository) scanInstances(rows pgx.Rows) ([]*models.Instance, error) {
	var instances []*models.Instance
	for rows.Next() {
		inst := &models.Instance{}
		err := rows.Scan(
			&inst.ID, &inst.Name, &inst.URL, &inst.Description,
			&inst.ContainerID, &inst.ContainerName, &inst.ConfigPath, &inst.HostPort,
			&inst.ContainerStatus, &inst.HealthStatus, &inst.LastHealthCheck,
			&inst.CreatedAt, &inst.UpdatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan instance row: %w", err)
		}
		instances = append(instances, inst)
	}
	return instances, rows.Err()
}
