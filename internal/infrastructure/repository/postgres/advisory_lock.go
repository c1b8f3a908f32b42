package postgres

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"log/slog"
	"time"

	"github.com/kirillkom/maintenance-supervisor/internal/core/domain"
	"github.com/kirillkom/maintenance-supervisor/internal/core/ports"
)

// lockNamespace keeps email locks apart from other advisory locks in the
// same database, including the schema lock taken by EnsureSchema.
const lockNamespace int32 = 4711

const unlockTimeout = 2 * time.Second

// AdvisoryLocker serializes work on one email id across every process that
// shares the database. The session lock lives on a pinned connection, so one
// connection is held per locked email.
type AdvisoryLocker struct {
	db     *sql.DB
	local  ports.EmailLocker
	logger *slog.Logger
}

// NewAdvisoryLocker takes local first so goroutines of one process queue in
// memory instead of each pinning a connection.
func NewAdvisoryLocker(db *sql.DB, local ports.EmailLocker, logger *slog.Logger) *AdvisoryLocker {
	if logger == nil {
		logger = slog.Default()
	}
	return &AdvisoryLocker{db: db, local: local, logger: logger}
}

func (l *AdvisoryLocker) Lock(ctx context.Context, emailID string) (func(), error) {
	unlockLocal := func() {}
	if l.local != nil {
		unlock, err := l.local.Lock(ctx, emailID)
		if err != nil {
			return nil, err
		}
		unlockLocal = unlock
	}

	conn, err := l.db.Conn(ctx)
	if err != nil {
		unlockLocal()
		return nil, domain.WrapError(domain.ErrTemporary, "advisory lock connect", err)
	}
	if _, err := conn.ExecContext(ctx, `SELECT pg_advisory_lock($1, hashtext($2))`, lockNamespace, emailID); err != nil {
		_ = conn.Close()
		unlockLocal()
		if ctx.Err() != nil {
			return nil, fmt.Errorf("advisory lock email_id=%s: %w", emailID, ctx.Err())
		}
		return nil, domain.WrapError(domain.ErrTemporary, "advisory lock acquire", err)
	}

	return func() {
		defer unlockLocal()
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), unlockTimeout)
		defer cancel()
		if _, err := conn.ExecContext(releaseCtx, `SELECT pg_advisory_unlock($1, hashtext($2))`, lockNamespace, emailID); err != nil {
			l.logger.Warn("email_lock_release_failed", "email_id", emailID, "error", err)
			// Drop the connection so the session lock dies with it instead of
			// going back to the pool.
			_ = conn.Raw(func(any) error { return driver.ErrBadConn })
		}
		_ = conn.Close()
	}, nil
}
