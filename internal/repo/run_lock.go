package repo

import (
	"context"
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// advisoryLocker holds a session-level Postgres advisory lock per integration.
// The lock lives on a dedicated pool connection until unlock is called.
type advisoryLocker struct {
	db     *pgxpool.Pool
	logger *zap.Logger
}

// NewAdvisoryRunLocker creates a run locker backed by pg_try_advisory_lock
func NewAdvisoryRunLocker(db *pgxpool.Pool, logger *zap.Logger) RunLocker {
	return &advisoryLocker{db: db, logger: logger}
}

func advisoryKey(id uuid.UUID) int64 {
	return int64(binary.BigEndian.Uint64(id[:8]) ^ binary.BigEndian.Uint64(id[8:]))
}

// lockSession is the pooled connection holding an advisory lock
type lockSession interface {
	Exec(ctx context.Context, sql string, arguments ...any) (pgconn.CommandTag, error)
	Release()
	Close(ctx context.Context) error
}

type poolSession struct {
	*pgxpool.Conn
}

func (s poolSession) Close(ctx context.Context) error {
	return s.Conn.Conn().Close(ctx)
}

func (l *advisoryLocker) TryLock(ctx context.Context, integrationID uuid.UUID) (func(), bool, error) {
	conn, err := l.db.Acquire(ctx)
	if err != nil {
		return nil, false, fmt.Errorf("failed to acquire connection for run lock: %w", err)
	}

	key := advisoryKey(integrationID)
	var acquired bool
	if err := conn.QueryRow(ctx, `SELECT pg_try_advisory_lock($1)`, key).Scan(&acquired); err != nil {
		conn.Release()
		return nil, false, fmt.Errorf("failed to take run lock: %w", err)
	}
	if !acquired {
		conn.Release()
		return nil, false, nil
	}

	session := poolSession{Conn: conn}
	unlock := func() {
		// The run context may already be cancelled; unlocking must still reach the server.
		releaseAdvisoryLock(context.Background(), session, key, l.logger.With(zap.String("integration_id", integrationID.String())))
	}
	return unlock, true, nil
}

// releaseAdvisoryLock unlocks and returns the session to the pool. When the unlock
// fails the connection is closed so the server drops the session lock with it.
func releaseAdvisoryLock(ctx context.Context, session lockSession, key int64, logger *zap.Logger) {
	defer session.Release()
	if _, err := session.Exec(ctx, `SELECT pg_advisory_unlock($1)`, key); err != nil {
		logger.Error("Failed to release run lock, closing connection", zap.Error(err))
		if closeErr := session.Close(ctx); closeErr != nil {
			logger.Warn("Failed to close run lock connection", zap.Error(closeErr))
		}
	}
}
