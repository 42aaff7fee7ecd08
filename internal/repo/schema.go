package repo

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const uniqueViolationCode = "23505"

// schemaStatements create the engine-owned tables. The posts table belongs to the board
// store and is only created here so a standalone deployment has something to sync.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS posts (
		id              BIGSERIAL PRIMARY KEY,
		tenant_id       BIGINT NOT NULL,
		board_id        BIGINT NOT NULL,
		post_status_id  BIGINT,
		title           TEXT NOT NULL,
		description     TEXT NOT NULL DEFAULT '',
		tags            TEXT[] NOT NULL DEFAULT '{}',
		approval_status TEXT NOT NULL DEFAULT 'PENDING',
		comment_count   INTEGER NOT NULL DEFAULT 0,
		like_count      INTEGER NOT NULL DEFAULT 0,
		created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS posts_tenant_board_idx ON posts (tenant_id, board_id)`,
	`CREATE TABLE IF NOT EXISTS integrations (
		id                    UUID PRIMARY KEY,
		tenant_id             BIGINT NOT NULL,
		type                  TEXT NOT NULL,
		name                  TEXT NOT NULL,
		enabled               BOOLEAN NOT NULL DEFAULT TRUE,
		config                JSONB NOT NULL DEFAULT '{}',
		sync_interval_minutes INTEGER,
		last_sync_at          TIMESTAMPTZ,
		created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at            TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS integrations_tenant_idx ON integrations (tenant_id)`,
	`CREATE TABLE IF NOT EXISTS integration_mappings (
		id               UUID PRIMARY KEY,
		integration_id   UUID NOT NULL REFERENCES integrations (id) ON DELETE CASCADE,
		local_type       TEXT NOT NULL,
		local_id         BIGINT NOT NULL,
		remote_id        TEXT NOT NULL,
		remote_url       TEXT,
		sync_status      TEXT NOT NULL,
		origin_direction TEXT NOT NULL,
		last_sync_at     TIMESTAMPTZ,
		last_error       TEXT,
		created_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS integration_mappings_local_uidx
		ON integration_mappings (integration_id, local_type, local_id)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS integration_mappings_remote_uidx
		ON integration_mappings (integration_id, remote_id)`,
	`CREATE TABLE IF NOT EXISTS integration_sync_logs (
		id             UUID PRIMARY KEY,
		integration_id UUID NOT NULL REFERENCES integrations (id) ON DELETE CASCADE,
		run_id         UUID NOT NULL,
		kind           TEXT NOT NULL,
		direction      TEXT NOT NULL,
		status         TEXT NOT NULL,
		local_id       BIGINT,
		remote_id      TEXT,
		message        TEXT,
		created_at     TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS integration_sync_logs_recent_idx
		ON integration_sync_logs (integration_id, created_at DESC)`,
}

// Migrate creates the tables and indexes the repositories rely on
func Migrate(ctx context.Context, db *pgxpool.Pool) error {
	for _, stmt := range schemaStatements {
		if _, err := db.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("failed to apply schema: %w", err)
		}
	}
	return nil
}

// mapError translates driver errors into the package sentinels
func mapError(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == uniqueViolationCode {
		return fmt.Errorf("%w: %s", ErrUniqueViolation, pgErr.ConstraintName)
	}
	return err
}
