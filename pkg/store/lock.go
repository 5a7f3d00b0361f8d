package store

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"

	vterrors "github.com/vantage6/vantage6-sub004/pkg/errors"
)

// lockPollInterval is how often AcquireLock retries the insert while
// waiting for a contended lock to free up.
const lockPollInterval = 100 * time.Millisecond

// lockTTL bounds how long a held lock survives without being explicitly
// released, so a crashed holder cannot wedge a name forever.
const lockTTL = 30 * time.Second

// AcquireLock implements the DatabaseLock primitive from :
// deletes every expired lock row, then repeatedly tries to insert
// (name, processID) until it succeeds or timeout elapses.
func (s *PostgresStore) AcquireLock(ctx context.Context, name, processID string, timeout time.Duration) (bool, error) {
	deadline := time.Now().Add(timeout)

	for {
		if _, err := s.db.ExecContext(ctx, `DELETE FROM database_locks WHERE expires_at < now()`); err != nil {
			return false, err
		}

		_, err := s.db.ExecContext(ctx, `
			INSERT INTO database_locks (name, process_id, acquired_at, expires_at)
			VALUES ($1, $2, now(), now() + $3::interval)
			ON CONFLICT (name) DO NOTHING
		`, name, processID, lockTTL.String())
		if err != nil && !isUniqueViolation(err) {
			return false, err
		}
		if err == nil {
			var holder string
			if err := s.db.GetContext(ctx, &holder, `SELECT process_id FROM database_locks WHERE name = $1`, name); err != nil {
				return false, err
			}
			if holder == processID {
				return true, nil
			}
		}

		if time.Now().After(deadline) {
			return false, vterrors.ErrLockTimeout
		}

		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(lockPollInterval):
		}
	}
}

// ReleaseLock deletes this process's row for name, leaving no trace once
// released").
func (s *PostgresStore) ReleaseLock(ctx context.Context, name, processID string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM database_locks WHERE name = $1 AND process_id = $2`, name, processID)
	return err
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
