// Package db is the persistent store for usage records and plan limits,
// backed by PostgreSQL through pgx.
package db

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Client wraps a PostgreSQL connection pool and provides the store
// operations the quota tracker and API depend on.
type Client struct {
	pool *pgxpool.Pool
}

// New creates a database client for the given connection URL. The pool is
// pinged before returning so a misconfigured URL fails at startup, not on
// the first request.
func New(ctx context.Context, databaseURL string) (*Client, error) {
	if databaseURL == "" {
		return nil, fmt.Errorf("database URL is required")
	}

	config, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("failed to parse database URL: %w", err)
	}

	config.MaxConns = 10
	config.MinConns = 2

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}

	return &Client{pool: pool}, nil
}

// Close closes the connection pool and releases all resources.
func (c *Client) Close() {
	if c.pool != nil {
		c.pool.Close()
	}
}

// Health checks connectivity by executing a trivial query.
func (c *Client) Health(ctx context.Context) error {
	if c.pool == nil {
		return fmt.Errorf("database client not initialized")
	}

	var result int
	if err := c.pool.QueryRow(ctx, "SELECT 1").Scan(&result); err != nil {
		return fmt.Errorf("health check failed: %w", err)
	}
	if result != 1 {
		return fmt.Errorf("health check returned unexpected value: %d", result)
	}
	return nil
}
