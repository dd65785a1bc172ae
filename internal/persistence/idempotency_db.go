package persistence

import (
	"context"
	"database/sql"
	"errors"
	"time"
)

// dedupQueryTimeout bounds the tier-2 lookup so a slow database cannot stall
// the processor. A timeout fails open.
const dedupQueryTimeout = 500 * time.Millisecond

// PostgresIdempotencyChecker looks a command up in the persisted log.
type PostgresIdempotencyChecker struct {
	db *sql.DB
}

func NewPostgresIdempotencyChecker(db *sql.DB) *PostgresIdempotencyChecker {
	return &PostgresIdempotencyChecker{db: db}
}

// IsDuplicate reports whether (commandType, key) is already in the log.
func (pic *PostgresIdempotencyChecker) IsDuplicate(ctx context.Context, commandType string, idempotencyKey string) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, dedupQueryTimeout)
	defer cancel()

	var exists int
	err := pic.db.QueryRowContext(ctx, `
		SELECT 1
		FROM event_log.commands
		WHERE command_type = $1 AND idempotency_key = $2
		LIMIT 1
	`, commandType, idempotencyKey).Scan(&exists)

	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}
