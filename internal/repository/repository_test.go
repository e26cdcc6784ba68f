package repository

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/cardarena/arena-server-go/internal/config"
	"github.com/cardarena/arena-server-go/internal/matchmaking"
	"github.com/cardarena/arena-server-go/internal/ports"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// testDB connects to ARENA_TEST_DATABASE_URL or skips.
func testDB(t *testing.T) *DB {
	t.Helper()
	url := os.Getenv("ARENA_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("ARENA_TEST_DATABASE_URL not set")
	}
	ctx := context.Background()
	db, err := NewDB(ctx, config.DatabaseConfig{URL: url, MaxConns: 4, ConnTimeout: 5 * time.Second}, zaptest.NewLogger(t))
	require.NoError(t, err)
	t.Cleanup(db.Close)
	require.NoError(t, db.Migrate(ctx))
	return db
}

func TestQueueStorePostgres(t *testing.T) {
	db := testDB(t)
	store := NewQueueStore(db)
	ctx := context.Background()
	mode := "test-" + uuid.NewString()
	now := time.Now().UTC().Truncate(time.Microsecond)

	require.NoError(t, store.Insert(ctx, matchmaking.Entry{Mode: mode, PlayerID: "b", Rating: 1000, EnqueuedAt: now.Add(time.Second)}))
	require.NoError(t, store.Insert(ctx, matchmaking.Entry{Mode: mode, PlayerID: "a", Rating: 1100, EnqueuedAt: now}))
	assert.ErrorIs(t, store.Insert(ctx, matchmaking.Entry{Mode: mode, PlayerID: "a", EnqueuedAt: now}), matchmaking.ErrAlreadyQueued)

	entries, err := store.List(ctx, mode)
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, "a", entries[0].PlayerID)
	assert.Equal(t, now, entries[0].EnqueuedAt)

	ok, err := store.RemoveGroup(ctx, mode, []string{"a", "missing"})
	require.NoError(t, err)
	assert.False(t, ok, "partial groups are not removed")
	entries, err = store.List(ctx, mode)
	require.NoError(t, err)
	assert.Len(t, entries, 2, "the rollback keeps a")

	ok, err = store.RemoveGroup(ctx, mode, []string{"a", "b"})
	require.NoError(t, err)
	assert.True(t, ok)

	removed, err := store.Delete(ctx, mode, "a")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestPlayerRepositoryPostgres(t *testing.T) {
	db := testDB(t)
	repo := NewPlayerRepository(db)
	ctx := context.Background()
	id := "player-" + uuid.NewString()

	_, err := repo.GetPlayerRating(ctx, id)
	assert.ErrorIs(t, err, ports.ErrNotFound)
	assert.ErrorIs(t, repo.UpdatePlayerRating(ctx, id, 5), ports.ErrNotFound)

	require.NoError(t, repo.UpsertPlayer(ctx, id, 1200, []string{"ember-imp", "fireball"}))
	require.NoError(t, repo.UpdatePlayerRating(ctx, id, -16))

	rating, err := repo.GetPlayerRating(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, 1184, rating)
	deck, err := repo.GetPlayerDeck(ctx, id)
	require.NoError(t, err)
	assert.Equal(t, []string{"ember-imp", "fireball"}, deck)
}

func TestResultRepositoryIsIdempotent(t *testing.T) {
	db := testDB(t)
	repo := NewResultRepository(db)
	ctx := context.Background()

	now := time.Now().UTC().Truncate(time.Microsecond)
	summary := ports.MatchSummary{
		MatchID:   uuid.NewString(),
		Mode:      "1v1",
		Status:    "finished",
		Reason:    "elimination",
		ArenaID:   "volcano",
		Seed:      42,
		Turns:     7,
		Checksum:  "abc",
		CreatedAt: now,
		StartedAt: now,
		EndedAt:   now.Add(time.Minute),
		Participants: []ports.ParticipantSummary{
			{PlayerID: "alice", Team: 0, Result: "win", RatingDelta: 16},
			{PlayerID: "bob", Team: 1, Result: "loss", RatingDelta: -16},
		},
	}
	require.NoError(t, repo.PersistMatchResult(ctx, summary))
	require.NoError(t, repo.PersistMatchResult(ctx, summary))

	got, err := repo.GetMatchResult(ctx, summary.MatchID)
	require.NoError(t, err)
	assert.Equal(t, summary.Participants, got.Participants)
	assert.Equal(t, summary.Checksum, got.Checksum)
	assert.True(t, summary.StartedAt.Equal(got.StartedAt))
}

func TestMemoryPlayers(t *testing.T) {
	players := NewMemoryPlayers([]string{"grunt"}, 1000)
	ctx := context.Background()

	rating, err := players.GetPlayerRating(ctx, "new")
	require.NoError(t, err)
	assert.Equal(t, 1000, rating)

	deck, err := players.GetPlayerDeck(ctx, "new")
	require.NoError(t, err)
	deck[0] = "mutated"
	deck, _ = players.GetPlayerDeck(ctx, "new")
	assert.Equal(t, []string{"grunt"}, deck, "callers get a copy")

	require.NoError(t, players.UpdatePlayerRating(ctx, "new", -20))
	rating, _ = players.GetPlayerRating(ctx, "new")
	assert.Equal(t, 980, rating)

	players.SetPlayer("pro", 1800, []string{"bolt"})
	rating, _ = players.GetPlayerRating(ctx, "pro")
	assert.Equal(t, 1800, rating)
}

func TestMemoryResults(t *testing.T) {
	results := NewMemoryResults()
	ctx := context.Background()

	first := ports.MatchSummary{MatchID: "m1", Status: "finished"}
	require.NoError(t, results.PersistMatchResult(ctx, first))
	require.NoError(t, results.PersistMatchResult(ctx, ports.MatchSummary{MatchID: "m1", Status: "cancelled"}))

	got, err := results.GetMatchResult(ctx, "m1")
	require.NoError(t, err)
	assert.Equal(t, "finished", got.Status, "the first write wins")

	_, err = results.GetMatchResult(ctx, "m2")
	assert.ErrorIs(t, err, ports.ErrNotFound)
}
