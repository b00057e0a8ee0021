package dbpool

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/bookingcal/project/internal/platform/env"
	"github.com/jackc/pgx/v5/pgxpool"
)

const (
	defaultMinConns        = 1
	defaultMaxConns        = 10
	defaultMaxConnLifetime = 30 * time.Minute
	defaultMaxConnIdleTime = 5 * time.Minute
	defaultHealthCheck     = 30 * time.Second

	schemaAttemptTimeout = 3 * time.Second
	schemaRetryInterval  = 500 * time.Millisecond
	pingTimeout          = 1500 * time.Millisecond
)

// New opens a pool sized from DB_* environment variables. The calendar API is
// read-heavy with short queries, so the defaults stay small.
func New(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	cfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database config: %w", err)
	}

	minConns := env.Int("DB_MIN_CONNS", defaultMinConns)
	maxConns := env.Int("DB_MAX_CONNS", defaultMaxConns)
	if minConns < 0 {
		minConns = defaultMinConns
	}
	if maxConns <= 0 {
		maxConns = defaultMaxConns
	}
	if minConns > maxConns {
		minConns = maxConns
	}

	cfg.MinConns = int32(minConns)
	cfg.MaxConns = int32(maxConns)
	cfg.MaxConnLifetime = env.Duration("DB_MAX_CONN_LIFETIME", defaultMaxConnLifetime)
	cfg.MaxConnIdleTime = env.Duration("DB_MAX_CONN_IDLE_TIME", defaultMaxConnIdleTime)
	cfg.HealthCheckPeriod = env.Duration("DB_HEALTH_CHECK_PERIOD", defaultHealthCheck)

	return pgxpool.NewWithConfig(ctx, cfg)
}

// Schema is a repository that can create its own tables.
type Schema interface {
	EnsureSchema(ctx context.Context) error
}

// WaitForSchemas retries EnsureSchema on each repository in order until it
// succeeds or timeout elapses. Postgres usually starts slower than the API
// under docker compose.
func WaitForSchemas(ctx context.Context, timeout time.Duration, schemas ...Schema) error {
	deadline := time.Now().Add(timeout)
	for _, s := range schemas {
		var lastErr error
		for {
			attemptCtx, cancel := context.WithTimeout(ctx, schemaAttemptTimeout)
			lastErr = s.EnsureSchema(attemptCtx)
			cancel()
			if lastErr == nil {
				break
			}
			if !time.Now().Before(deadline) {
				return fmt.Errorf("schema not ready after %s: %w", timeout, lastErr)
			}
			log.Printf("waiting for schema readiness: %v", lastErr)
			select {
			case <-ctx.Done():
				return errors.Join(ctx.Err(), lastErr)
			case <-time.After(schemaRetryInterval):
			}
		}
	}
	return nil
}

// Pinger is satisfied by *pgxpool.Pool.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Ping checks the database with a short timeout for the readiness endpoint.
func Ping(ctx context.Context, p Pinger) error {
	if p == nil {
		return errors.New("database pool is nil")
	}
	checkCtx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := p.Ping(checkCtx); err != nil {
		return fmt.Errorf("postgres ping failed: %w", err)
	}
	return nil
}
