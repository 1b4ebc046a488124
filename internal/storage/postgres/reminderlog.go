package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

// ReminderLog is the persisted reminder de-duplication ledger. A row per
// (prescription, scheduled time, calendar day) key survives process
// restarts, so a redeployed scanner does not re-send the morning's
// reminders.
type ReminderLog struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewReminderLog creates the ledger.
func NewReminderLog(pool *pgxpool.Pool, logger *zap.Logger) *ReminderLog {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ReminderLog{pool: pool, logger: logger}
}

// Claim inserts the key, returning true only for the first caller. The
// ON CONFLICT DO NOTHING insert makes the claim race-free across scanner
// replicas.
func (l *ReminderLog) Claim(ctx context.Context, key string) (bool, error) {
	tag, err := l.pool.Exec(ctx, `
		INSERT INTO reminder_log (dedup_key)
		VALUES ($1)
		ON CONFLICT (dedup_key) DO NOTHING
	`, key)
	if err != nil {
		return false, fmt.Errorf("claim reminder: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

// Cleanup removes entries older than the retention period and returns
// how many were deleted. Keys are day-scoped, so anything past two days
// can never be claimed again.
func (l *ReminderLog) Cleanup(ctx context.Context, olderThan time.Duration) (int64, error) {
	tag, err := l.pool.Exec(ctx, `
		DELETE FROM reminder_log
		WHERE claimed_at < NOW() - $1::interval
	`, olderThan.String())
	if err != nil {
		return 0, fmt.Errorf("cleanup reminder log: %w", err)
	}

	if tag.RowsAffected() > 0 {
		l.logger.Info("reminder log cleanup completed",
			zap.Int64("deleted", tag.RowsAffected()))
	}
	return tag.RowsAffected(), nil
}
