// Package postgres persists room documents and their version log in
// PostgreSQL using pgx v5.
package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/cory-johannsen/stylesync/internal/config"
)

// Pool owns the pgx connection pool shared by the repositories.
type Pool struct {
	pool *pgxpool.Pool
}

// NewPool connects to the database described by cfg and verifies it answers.
//
// Precondition: cfg must pass Validate.
// Postcondition: Returns a connected Pool or a non-nil error; nothing is leaked on error.
func NewPool(ctx context.Context, cfg config.DatabaseConfig) (*Pool, error) {
	return NewPoolFromDSN(ctx, cfg.DSN(), func(pc *pgxpool.Config) {
		pc.MaxConns = cfg.MaxConns
		pc.MinConns = cfg.MinConns
		pc.MaxConnLifetime = cfg.MaxConnLifetime
	})
}

// NewPoolFromDSN connects using a raw connection string. tune, when non-nil,
// adjusts the parsed pool settings before connecting.
func NewPoolFromDSN(ctx context.Context, dsn string, tune func(*pgxpool.Config)) (*Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, fmt.Errorf("parsing database config: %w", err)
	}
	if tune != nil {
		tune(poolCfg)
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}
	return &Pool{pool: pool}, nil
}

// Health pings the database, giving up after timeout.
func (p *Pool) Health(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	return p.pool.Ping(ctx)
}

// Close releases all pool resources.
func (p *Pool) Close() {
	p.pool.Close()
}

// DB returns the underlying pgxpool.Pool for use by repositories.
func (p *Pool) DB() *pgxpool.Pool {
	return p.pool
}
