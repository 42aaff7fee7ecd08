package repo

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

type syncLogRepository struct {
	db *pgxpool.Pool
}

// NewSyncLogRepository creates a new sync log repository
func NewSyncLogRepository(db *pgxpool.Pool) SyncLogRepository {
	return &syncLogRepository{db: db}
}

const syncLogColumns = `id, integration_id, run_id, kind, direction, status, local_id, remote_id, message, created_at`

func scanSyncLog(row pgx.Row) (SyncLogEntry, error) {
	var entry SyncLogEntry
	err := row.Scan(
		&entry.ID,
		&entry.IntegrationID,
		&entry.RunID,
		&entry.Kind,
		&entry.Direction,
		&entry.Status,
		&entry.LocalID,
		&entry.RemoteID,
		&entry.Message,
		&entry.CreatedAt,
	)
	return entry, err
}

func (r *syncLogRepository) Create(ctx context.Context, params CreateSyncLogParams) (SyncLogEntry, error) {
	query := `
		INSERT INTO integration_sync_logs (id, integration_id, run_id, kind, direction, status, local_id, remote_id, message)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING ` + syncLogColumns

	entry, err := scanSyncLog(r.db.QueryRow(ctx, query,
		uuid.New(),
		params.IntegrationID,
		params.RunID,
		params.Kind,
		params.Direction,
		params.Status,
		params.LocalID,
		params.RemoteID,
		params.Message,
	))
	if err != nil {
		return SyncLogEntry{}, fmt.Errorf("failed to create sync log entry: %w", mapError(err))
	}
	return entry, nil
}

func (r *syncLogRepository) FindRecentForIntegration(ctx context.Context, integrationID uuid.UUID, limit int32) ([]SyncLogEntry, error) {
	query := `
		SELECT ` + syncLogColumns + `
		FROM integration_sync_logs
		WHERE integration_id = $1
		ORDER BY created_at DESC
		LIMIT $2`
	return r.list(ctx, query, integrationID, limit)
}

func (r *syncLogRepository) FindSyncRuns(ctx context.Context, integrationID uuid.UUID, limit int32) ([]SyncLogEntry, error) {
	query := `
		SELECT ` + syncLogColumns + `
		FROM integration_sync_logs
		WHERE integration_id = $1 AND kind = 'run'
		ORDER BY created_at DESC
		LIMIT $2`
	return r.list(ctx, query, integrationID, limit)
}

func (r *syncLogRepository) list(ctx context.Context, query string, args ...any) ([]SyncLogEntry, error) {
	rows, err := r.db.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query sync logs: %w", err)
	}
	defer rows.Close()

	var entries []SyncLogEntry
	for rows.Next() {
		entry, err := scanSyncLog(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan sync log entry: %w", err)
		}
		entries = append(entries, entry)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("rows error: %w", err)
	}

	return entries, nil
}
