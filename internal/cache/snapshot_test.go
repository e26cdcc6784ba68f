package cache

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/cardarena/arena-server-go/internal/config"
	"github.com/cardarena/arena-server-go/internal/game"
	"github.com/cardarena/arena-server-go/internal/ports"
	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestKey(t *testing.T) {
	if got := key("m1"); got != "match:m1:snapshot" {
		t.Fatalf("key = %q", got)
	}
}

func TestUnreachableRedisIsUnavailable(t *testing.T) {
	rdb := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond, MaxRetries: -1})
	c := New(rdb, time.Minute, nil)
	t.Cleanup(func() { _ = c.Close() })

	err := c.Store(context.Background(), "m1", &game.Snapshot{MatchID: "m1"})
	assert.ErrorIs(t, err, ports.ErrUnavailable)
	_, err = c.Load(context.Background(), "m1")
	assert.ErrorIs(t, err, ports.ErrUnavailable)
}

func TestSnapshotCacheRedis(t *testing.T) {
	addr := os.Getenv("ARENA_TEST_REDIS_ADDR")
	if addr == "" {
		t.Skip("ARENA_TEST_REDIS_ADDR not set")
	}
	ctx := context.Background()
	c, err := Dial(ctx, config.RedisConfig{Addr: addr, SnapshotTTL: time.Minute}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(func() { _ = c.Close() })

	id := uuid.NewString()
	_, err = c.Load(ctx, id)
	assert.ErrorIs(t, err, ports.ErrNotFound)

	snap := &game.Snapshot{MatchID: id, Mode: "1v1", Turn: 3, Phase: "main", Viewer: game.Spectator, Checksum: "abc"}
	require.NoError(t, c.Store(ctx, id, snap))

	got, err := c.Load(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, snap.Turn, got.Turn)
	assert.Equal(t, snap.Checksum, got.Checksum)

	ttl, err := c.rdb.TTL(ctx, key(id)).Result()
	require.NoError(t, err)
	assert.Greater(t, ttl, time.Duration(0))
}
