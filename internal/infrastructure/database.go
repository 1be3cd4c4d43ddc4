// Package infrastructure provides the optional PostgreSQL connection pool
// backing the provisioning audit trail.
package infrastructure

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"nexaauth.io/provisioner/internal/config"
	"nexaauth.io/provisioner/internal/pkg/logger"
)

// schema is applied in order by AutoMigrate. Every statement is idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS provisioning_audit (
		id            TEXT PRIMARY KEY,
		action        TEXT NOT NULL,
		resource_type TEXT NOT NULL,
		resource_id   TEXT NOT NULL,
		actor         TEXT NOT NULL,
		details       JSONB NOT NULL DEFAULT '{}'::jsonb,
		created_at    TIMESTAMPTZ NOT NULL DEFAULT now()
	)`,
	`CREATE INDEX IF NOT EXISTS provisioning_audit_actor_idx ON provisioning_audit (actor, created_at DESC)`,
	`CREATE INDEX IF NOT EXISTS provisioning_audit_resource_idx ON provisioning_audit (resource_type, resource_id)`,
}

// Database wraps the shared connection pool.
type Database struct {
	Pool *pgxpool.Pool
}

// NewDatabase opens and verifies the pool described by cfg.
func NewDatabase(ctx context.Context, cfg config.DatabaseConfig) (*Database, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse pool config: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	if cfg.MinConns > 0 {
		poolConfig.MinConns = cfg.MinConns
	}
	if cfg.MaxConnLifetime > 0 {
		poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	}
	if cfg.MaxConnIdleTime > 0 {
		poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime
	}
	poolConfig.HealthCheckPeriod = time.Minute

	poolConfig.AfterConnect = func(ctx context.Context, conn *pgx.Conn) error {
		_, err := conn.Exec(ctx, "SET timezone = 'UTC'")
		return err
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("Database connection pool created",
		zap.Int32("max_conns", poolConfig.MaxConns),
		zap.Int32("min_conns", poolConfig.MinConns),
	)
	return &Database{Pool: pool}, nil
}

// AutoMigrate creates the audit table and its indexes.
func (d *Database) AutoMigrate(ctx context.Context) error {
	return Migrate(ctx, d.Pool)
}

// Migrate applies the schema on pool.
func Migrate(ctx context.Context, pool *pgxpool.Pool) error {
	for i, stmt := range schema {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("apply schema statement %d: %w", i, err)
		}
	}
	logger.Info("Database schema up to date", zap.Int("statements", len(schema)))
	return nil
}

// Ping checks connectivity.
func (d *Database) Ping(ctx context.Context) error {
	return d.Pool.Ping(ctx)
}

// Close closes the pool.
func (d *Database) Close() {
	if d != nil && d.Pool != nil {
		d.Pool.Close()
	}
}
