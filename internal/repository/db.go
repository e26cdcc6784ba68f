// Package repository implements the Postgres-backed stores.
package repository

import (
	"context"
	"errors"
	"fmt"

	"github.com/cardarena/arena-server-go/internal/config"
	"github.com/cardarena/arena-server-go/internal/ports"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"
)

const uniqueViolation = "23505"

// Schema creates the tables used by the stores.
const Schema = `
CREATE TABLE IF NOT EXISTS players (
	id         TEXT PRIMARY KEY,
	rating     INTEGER NOT NULL DEFAULT 1000,
	deck       TEXT[] NOT NULL DEFAULT '{}',
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS queue_entries (
	mode           TEXT NOT NULL,
	player_id      TEXT NOT NULL,
	connection_ref TEXT NOT NULL DEFAULT '',
	rating         INTEGER NOT NULL,
	enqueued_at    TIMESTAMPTZ NOT NULL,
	PRIMARY KEY (mode, player_id)
);
CREATE INDEX IF NOT EXISTS queue_entries_fifo ON queue_entries (mode, enqueued_at);

CREATE TABLE IF NOT EXISTS match_results (
	match_id   TEXT PRIMARY KEY,
	mode       TEXT NOT NULL,
	status     TEXT NOT NULL,
	reason     TEXT NOT NULL DEFAULT '',
	arena_id   TEXT NOT NULL DEFAULT '',
	seed       BIGINT NOT NULL,
	turns      INTEGER NOT NULL,
	checksum   TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	started_at TIMESTAMPTZ,
	ended_at   TIMESTAMPTZ NOT NULL
);

CREATE TABLE IF NOT EXISTS match_participants (
	match_id     TEXT NOT NULL REFERENCES match_results (match_id),
	player_id    TEXT NOT NULL,
	team         INTEGER NOT NULL,
	result       TEXT NOT NULL,
	rating_delta INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (match_id, player_id)
);
`

// DB wraps the connection pool shared by the repositories.
type DB struct {
	Pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewDB connects to Postgres and verifies the connection.
func NewDB(ctx context.Context, cfg config.DatabaseConfig, logger *zap.Logger) (*DB, error) {
	poolCfg, err := pgxpool.ParseConfig(cfg.URL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}
	if cfg.MaxConns > 0 {
		poolCfg.MaxConns = cfg.MaxConns
	}
	poolCfg.MinConns = cfg.MinConns
	if cfg.ConnTimeout > 0 {
		poolCfg.ConnConfig.ConnectTimeout = cfg.ConnTimeout
	}

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("create pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping database: %w", err)
	}

	logger.Info("database connected",
		zap.String("host", poolCfg.ConnConfig.Host),
		zap.String("database", poolCfg.ConnConfig.Database),
		zap.Int32("max_conns", poolCfg.MaxConns),
	)
	return &DB{Pool: pool, logger: logger}, nil
}

// Migrate creates missing tables.
func (db *DB) Migrate(ctx context.Context) error {
	if _, err := db.Pool.Exec(ctx, Schema); err != nil {
		return fmt.Errorf("apply schema: %w", err)
	}
	return nil
}

// Stats returns pool statistics.
func (db *DB) Stats() *pgxpool.Stat {
	return db.Pool.Stat()
}

// Close releases every connection.
func (db *DB) Close() {
	db.Pool.Close()
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == uniqueViolation
}

// lookupErr maps a missing row to ports.ErrNotFound and anything else to
// ports.ErrUnavailable.
func lookupErr(op string, err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return fmt.Errorf("%s: %w", op, ports.ErrNotFound)
	}
	return fmt.Errorf("%s: %w: %v", op, ports.ErrUnavailable, err)
}
