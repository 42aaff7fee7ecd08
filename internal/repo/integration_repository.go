package repo

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type integrationRepository struct {
	db *pgxpool.Pool
}

// NewIntegrationRepository creates a new integration repository
func NewIntegrationRepository(db *pgxpool.Pool) IntegrationRepository {
	return &integrationRepository{db: db}
}

const integrationColumns = `id, tenant_id, type, name, enabled, config, sync_interval_minutes, last_sync_at, created_at, updated_at`

func scanIntegration(row pgx.Row) (Integration, error) {
	var integration Integration
	var configJSON []byte
	err := row.Scan(
		&integration.ID,
		&integration.TenantID,
		&integration.Type,
		&integration.Name,
		&integration.Enabled,
		&configJSON,
		&integration.SyncIntervalMinutes,
		&integration.LastSyncAt,
		&integration.CreatedAt,
		&integration.UpdatedAt,
	)
	if err != nil {
		return Integration{}, err
	}
	if len(configJSON) > 0 {
		if err := json.Unmarshal(configJSON, &integration.Config); err != nil {
			return Integration{}, fmt.Errorf("failed to decode integration config: %w", err)
		}
	}
	return integration, nil
}

func (r *integrationRepository) FindByID(ctx context.Context, id uuid.UUID) (Integration, error) {
	query := `SELECT ` + integrationColumns + ` FROM integrations WHERE id = $1`

	integration, err := scanIntegration(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return Integration{}, fmt.Errorf("failed to get integration: %w", mapError(err))
	}
	return integration, nil
}

func (r *integrationRepository) FindAllForTenant(ctx context.Context, tenantID int64) ([]Integration, error) {
	query := `SELECT ` + integrationColumns + ` FROM integrations WHERE tenant_id = $1 ORDER BY created_at DESC`
	return r.list(ctx, query, tenantID)
}

func (r *integrationRepository) FindDue(ctx context.Context, now time.Time) ([]Integration, error) {
	query := `
		SELECT ` + integrationColumns + `
		FROM integrations
		WHERE enabled
		  AND sync_interval_minutes IS NOT NULL
		  AND (last_sync_at IS NULL OR last_sync_at + make_interval(mins => sync_interval_minutes) <= $1)
		ORDER BY last_sync_at ASC NULLS FIRST`
	return r.list(ctx, query, now)
}

func (r *integrationRepository) list(ctx context.Context, query string, args ...any) ([]Integration, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list integrations: %w", err)
	}
	defer rows.Close()

	var integrations []Integration
	for rows.Next() {
		integration, err := scanIntegration(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan integration: %w", err)
		}
		integrations = append(integrations, integration)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return integrations, nil
}

func (r *integrationRepository) Create(ctx context.Context, params CreateIntegrationParams) (Integration, error) {
	configJSON, err := json.Marshal(params.Config)
	if err != nil {
		return Integration{}, fmt.Errorf("failed to encode integration config: %w", err)
	}

	query := `
		INSERT INTO integrations (id, tenant_id, type, name, enabled, config, sync_interval_minutes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING ` + integrationColumns

	integration, err := scanIntegration(r.db.QueryRow(ctx, query,
		uuid.New(),
		params.TenantID,
		params.Type,
		params.Name,
		params.Enabled,
		configJSON,
		params.SyncIntervalMinutes,
	))
	if err != nil {
		return Integration{}, fmt.Errorf("failed to create integration: %w", mapError(err))
	}
	return integration, nil
}

func (r *integrationRepository) Update(ctx context.Context, params UpdateIntegrationParams) (Integration, error) {
	configJSON, err := json.Marshal(params.Config)
	if err != nil {
		return Integration{}, fmt.Errorf("failed to encode integration config: %w", err)
	}

	query := `
		UPDATE integrations
		SET name = $2, enabled = $3, config = $4, sync_interval_minutes = $5, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + integrationColumns

	integration, err := scanIntegration(r.db.QueryRow(ctx, query,
		params.ID,
		params.Name,
		params.Enabled,
		configJSON,
		params.SyncIntervalMinutes,
	))
	if err != nil {
		return Integration{}, fmt.Errorf("failed to update integration: %w", mapError(err))
	}
	return integration, nil
}

func (r *integrationRepository) UpdateLastSyncAt(ctx context.Context, id uuid.UUID, at time.Time) error {
	query := `UPDATE integrations SET last_sync_at = $2, updated_at = NOW() WHERE id = $1`

	result, err := r.db.Exec(ctx, query, id, at)
	if err != nil {
		return fmt.Errorf("failed to update last sync time: %w", err)
	}

	if result.RowsAffected() == 0 {
		return fmt.Errorf("integration %s: %w", id, ErrNotFound)
	}

	return nil
}

// Delete removes the integration together with its mappings and sync logs
func (r *integrationRepository) Delete(ctx context.Context, id uuid.UUID) error {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `DELETE FROM integration_mappings WHERE integration_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete integration mappings: %w", err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM integration_sync_logs WHERE integration_id = $1`, id); err != nil {
		return fmt.Errorf("failed to delete integration sync logs: %w", err)
	}

	result, err := tx.Exec(ctx, `DELETE FROM integrations WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete integration: %w", err)
	}
	if result.RowsAffected() == 0 {
		return fmt.Errorf("integration %s: %w", id, ErrNotFound)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("failed to commit integration delete: %w", err)
	}
	return nil
}
