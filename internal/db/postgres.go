package db

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"

	"infinite-experiment/tourdesk/internal/logging"
)

// InitPostgres opens the sqlx pool used for schema probes and health checks.
// The database may still be starting, so connecting is retried a few times.
func InitPostgres(ctx context.Context, dsn string) (*sqlx.DB, error) {
	var lastErr error
	for i := 0; i < 10; i++ {
		conn, err := sqlx.ConnectContext(ctx, "postgres", dsn)
		if err == nil {
			conn.SetMaxOpenConns(10)
			conn.SetConnMaxIdleTime(5 * time.Minute)
			return conn, nil
		}
		lastErr = err
		logging.Warn("Postgres not ready, retrying", "attempt", i+1, "error", err.Error())

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(500 * time.Millisecond):
		}
	}
	return nil, fmt.Errorf("failed to connect to postgres: %w", lastErr)
}
