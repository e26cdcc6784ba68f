// Package cache keeps the latest spectator snapshot of each match in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/cardarena/arena-server-go/internal/config"
	"github.com/cardarena/arena-server-go/internal/game"
	"github.com/cardarena/arena-server-go/internal/ports"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// SnapshotCache stores snapshots under match:<id>:snapshot with a TTL, so
// entries of abandoned matches expire on their own.
type SnapshotCache struct {
	rdb    redis.UniversalClient
	ttl    time.Duration
	logger *zap.Logger
}

// New wraps an existing client.
func New(rdb redis.UniversalClient, ttl time.Duration, logger *zap.Logger) *SnapshotCache {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &SnapshotCache{rdb: rdb, ttl: ttl, logger: logger}
}

// Dial connects to the configured Redis server.
func Dial(ctx context.Context, cfg config.RedisConfig, logger *zap.Logger) (*SnapshotCache, error) {
	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("ping redis %s: %w", cfg.Addr, err)
	}
	logger.Info("redis connected", zap.String("addr", cfg.Addr), zap.Duration("snapshot_ttl", cfg.SnapshotTTL))
	return New(rdb, cfg.SnapshotTTL, logger), nil
}

func key(matchID string) string {
	return "match:" + matchID + ":snapshot"
}

// Store replaces the match's snapshot.
func (c *SnapshotCache) Store(ctx context.Context, matchID string, snap *game.Snapshot) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("encode snapshot: %w", err)
	}
	if err := c.rdb.SetEx(ctx, key(matchID), data, c.ttl).Err(); err != nil {
		return fmt.Errorf("%w: store snapshot: %v", ports.ErrUnavailable, err)
	}
	return nil
}

// Load returns the cached snapshot or ports.ErrNotFound.
func (c *SnapshotCache) Load(ctx context.Context, matchID string) (*game.Snapshot, error) {
	data, err := c.rdb.Get(ctx, key(matchID)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, fmt.Errorf("snapshot of %s: %w", matchID, ports.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load snapshot: %v", ports.ErrUnavailable, err)
	}
	var snap game.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return nil, fmt.Errorf("decode snapshot: %w", err)
	}
	return &snap, nil
}

// Close closes the client.
func (c *SnapshotCache) Close() error {
	return c.rdb.Close()
}

var _ game.SnapshotCache = (*SnapshotCache)(nil)
