// Package store implements Postgres persistence for runs, monitor results,
// monitor status, and derived performance rows.
package store

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/supercheck-io/fleet/log"
)

// connectTimeout bounds the initial pool establishment.
const connectTimeout = 10 * time.Second

// DB is a handle on the fleet database.
type DB struct {
	pool   *pgxpool.Pool
	logger *log.Logger
}

// Open connects a pool and verifies connectivity.
func Open(ctx context.Context, databaseURL string, logger *log.Logger) (*DB, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}
	if logger == nil {
		logger = log.NewLogger("")
	}

	ctx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()

	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("create database pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}
	return &DB{pool: pool, logger: logger}, nil
}

// Close releases the pool.
func (d *DB) Close() {
	d.pool.Close()
}
