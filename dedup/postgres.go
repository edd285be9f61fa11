package dedup

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/liamcoop/automations/internal/logger"
)

// PostgresStore backs dedup with a shared table so suppression holds
// across replicas. The claim is a single upsert: the insert wins the
// key, and the conflict branch only fires when the existing claim has
// expired.
type PostgresStore struct {
	db   *sql.DB
	stop chan struct{}
	done chan struct{}
}

// NewPostgresStore creates a database-backed store and starts its
// sweeper.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	s := &PostgresStore{
		db:   db,
		stop: make(chan struct{}),
		done: make(chan struct{}),
	}
	go s.sweep()
	return s
}

func (s *PostgresStore) Check(ctx context.Context, key string, ttl time.Duration) (Result, error) {
	ttl = clampTTL(ttl)
	query := `
		INSERT INTO webhook_dedup (key, expires_at)
		VALUES ($1, now() + $2 * interval '1 second')
		ON CONFLICT (key) DO UPDATE
		SET expires_at = EXCLUDED.expires_at
		WHERE webhook_dedup.expires_at <= now()`

	result, err := s.db.ExecContext(ctx, query, key, ttl.Seconds())
	if err != nil {
		return Unique, fmt.Errorf("failed to claim dedup key: %w", err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return Unique, fmt.Errorf("failed to read dedup claim result: %w", err)
	}
	if rows == 0 {
		return Duplicate, nil
	}
	return Unique, nil
}

func (s *PostgresStore) Close() error {
	close(s.stop)
	<-s.done
	return nil
}

func (s *PostgresStore) sweep() {
	defer close(s.done)
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			if _, err := s.db.ExecContext(ctx, `DELETE FROM webhook_dedup WHERE expires_at <= now()`); err != nil {
				logger.Warn("failed to purge expired dedup keys", "error", err)
			}
			cancel()
		case <-s.stop:
			return
		}
	}
}
