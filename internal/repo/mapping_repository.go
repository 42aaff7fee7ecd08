package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type mappingRepository struct {
	db *pgxpool.Pool
}

// NewIntegrationMappingRepository creates a new mapping repository
func NewIntegrationMappingRepository(db *pgxpool.Pool) IntegrationMappingRepository {
	return &mappingRepository{db: db}
}

const mappingColumns = `id, integration_id, local_type, local_id, remote_id, remote_url, sync_status, origin_direction, last_sync_at, last_error, created_at, updated_at`

func scanMapping(row pgx.Row) (IntegrationMapping, error) {
	var mapping IntegrationMapping
	err := row.Scan(
		&mapping.ID,
		&mapping.IntegrationID,
		&mapping.LocalType,
		&mapping.LocalID,
		&mapping.RemoteID,
		&mapping.RemoteURL,
		&mapping.SyncStatus,
		&mapping.OriginDirection,
		&mapping.LastSyncAt,
		&mapping.LastError,
		&mapping.CreatedAt,
		&mapping.UpdatedAt,
	)
	return mapping, err
}

func (r *mappingRepository) FindByID(ctx context.Context, id uuid.UUID) (IntegrationMapping, error) {
	query := `SELECT ` + mappingColumns + ` FROM integration_mappings WHERE id = $1`

	mapping, err := scanMapping(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return IntegrationMapping{}, fmt.Errorf("failed to get mapping: %w", mapError(err))
	}
	return mapping, nil
}

func (r *mappingRepository) FindByLocalEntity(ctx context.Context, integrationID uuid.UUID, localType string, localID int64) (IntegrationMapping, error) {
	query := `
		SELECT ` + mappingColumns + `
		FROM integration_mappings
		WHERE integration_id = $1 AND local_type = $2 AND local_id = $3`

	mapping, err := scanMapping(r.db.QueryRow(ctx, query, integrationID, localType, localID))
	if err != nil {
		return IntegrationMapping{}, fmt.Errorf("failed to get mapping by local entity: %w", mapError(err))
	}
	return mapping, nil
}

func (r *mappingRepository) FindByRemoteID(ctx context.Context, integrationID uuid.UUID, remoteID string) (IntegrationMapping, error) {
	query := `
		SELECT ` + mappingColumns + `
		FROM integration_mappings
		WHERE integration_id = $1 AND remote_id = $2`

	mapping, err := scanMapping(r.db.QueryRow(ctx, query, integrationID, remoteID))
	if err != nil {
		return IntegrationMapping{}, fmt.Errorf("failed to get mapping by remote id: %w", mapError(err))
	}
	return mapping, nil
}

func (r *mappingRepository) FindInboundPostIDsForIntegration(ctx context.Context, integrationID uuid.UUID) ([]int64, error) {
	query := `
		SELECT local_id
		FROM integration_mappings
		WHERE integration_id = $1 AND local_type = 'post' AND origin_direction = 'inbound'
		ORDER BY local_id`

	rows, err := r.db.Query(ctx, query, integrationID)
	if err != nil {
		return nil, fmt.Errorf("failed to query inbound post ids: %w", err)
	}
	defer rows.Close()

	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan post id: %w", err)
		}
		ids = append(ids, id)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return ids, nil
}

func (r *mappingRepository) FindByStatus(ctx context.Context, integrationID uuid.UUID, status string) ([]IntegrationMapping, error) {
	query := `
		SELECT ` + mappingColumns + `
		FROM integration_mappings
		WHERE integration_id = $1 AND sync_status = $2
		ORDER BY updated_at DESC`

	rows, err := r.db.Query(ctx, query, integrationID, status)
	if err != nil {
		return nil, fmt.Errorf("failed to query mappings by status: %w", err)
	}
	defer rows.Close()

	var mappings []IntegrationMapping
	for rows.Next() {
		mapping, err := scanMapping(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan mapping: %w", err)
		}
		mappings = append(mappings, mapping)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return mappings, nil
}

func (r *mappingRepository) Create(ctx context.Context, params CreateMappingParams) (IntegrationMapping, error) {
	query := `
		INSERT INTO integration_mappings (
			id, integration_id, local_type, local_id, remote_id, remote_url,
			sync_status, origin_direction, last_sync_at, last_error
		) VALUES (
			$1, $2, $3, $4, $5, $6, $7, $8, $9, $10
		)
		RETURNING ` + mappingColumns

	mapping, err := scanMapping(r.db.QueryRow(ctx, query,
		uuid.New(),
		params.IntegrationID,
		params.LocalType,
		params.LocalID,
		params.RemoteID,
		params.RemoteURL,
		params.SyncStatus,
		params.OriginDirection,
		params.LastSyncAt,
		params.LastError,
	))
	if err != nil {
		return IntegrationMapping{}, fmt.Errorf("failed to create mapping: %w", mapError(err))
	}
	return mapping, nil
}

func (r *mappingRepository) Update(ctx context.Context, params UpdateMappingParams) (IntegrationMapping, error) {
	query := `
		UPDATE integration_mappings
		SET remote_id = $2, remote_url = $3, sync_status = $4, last_sync_at = $5, last_error = $6, updated_at = NOW()
		WHERE id = $1
		RETURNING ` + mappingColumns

	mapping, err := scanMapping(r.db.QueryRow(ctx, query,
		params.ID,
		params.RemoteID,
		params.RemoteURL,
		params.SyncStatus,
		params.LastSyncAt,
		params.LastError,
	))
	if err != nil {
		return IntegrationMapping{}, fmt.Errorf("failed to update mapping: %w", mapError(err))
	}
	return mapping, nil
}
