package persistence

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/cardarena/arena-server-go/internal/ports"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

type flakyStore struct {
	mu        sync.Mutex
	failures  int
	persisted map[string]int
	calls     int
}

func (s *flakyStore) PersistMatchResult(_ context.Context, summary ports.MatchSummary) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.failures > 0 {
		s.failures--
		return fmt.Errorf("%w: database down", ports.ErrUnavailable)
	}
	if s.persisted == nil {
		s.persisted = make(map[string]int)
	}
	s.persisted[summary.MatchID]++
	return nil
}

type ratingBook struct {
	mu      sync.Mutex
	fail    map[string]int
	applied map[string]int
}

func (b *ratingBook) GetPlayerDeck(context.Context, string) ([]string, error) { return nil, nil }

func (b *ratingBook) GetPlayerRating(context.Context, string) (int, error) { return 1000, nil }

func (b *ratingBook) UpdatePlayerRating(_ context.Context, playerID string, delta int) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if playerID == "ghost" {
		return ports.ErrNotFound
	}
	if b.fail[playerID] > 0 {
		b.fail[playerID]--
		return errors.New("timeout")
	}
	if b.applied == nil {
		b.applied = make(map[string]int)
	}
	b.applied[playerID] += delta
	return nil
}

func summary(id string) ports.MatchSummary {
	return ports.MatchSummary{
		MatchID: id,
		Status:  "finished",
		Participants: []ports.ParticipantSummary{
			{PlayerID: "alice", Team: 0, Result: "win", RatingDelta: 16},
			{PlayerID: "bob", Team: 1, Result: "loss", RatingDelta: -16},
		},
	}
}

func newTestOutbox(t *testing.T, store *flakyStore, book *ratingBook, logger *zap.Logger) (*Outbox, *clockwork.FakeClock) {
	t.Helper()
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	o, err := NewOutbox(Config{
		Results:       store,
		Players:       book,
		RetryBase:     time.Second,
		RetryMax:      8 * time.Second,
		MaxAttempts:   3,
		SweepInterval: time.Second,
		Clock:         clock,
		Logger:        logger,
	})
	require.NoError(t, err)
	return o, clock
}

func TestOutboxDeliversOnce(t *testing.T) {
	store := &flakyStore{}
	book := &ratingBook{}
	o, _ := newTestOutbox(t, store, book, zap.NewNop())

	o.Submit(summary("m1"))
	assert.Equal(t, 1, o.Pending())
	assert.Equal(t, 0, o.Flush(context.Background(), false))

	assert.Equal(t, 1, store.persisted["m1"])
	assert.Equal(t, 16, book.applied["alice"])
	assert.Equal(t, -16, book.applied["bob"])
}

func TestOutboxSkipsZeroRatingDeltas(t *testing.T) {
	book := &ratingBook{}
	o, _ := newTestOutbox(t, &flakyStore{}, book, zap.NewNop())

	s := summary("m1")
	s.Status = "cancelled"
	for i := range s.Participants {
		s.Participants[i].RatingDelta = 0
	}
	o.Submit(s)
	assert.Equal(t, 0, o.Flush(context.Background(), false))
	assert.Empty(t, book.applied)
}

func TestOutboxBacksOffAndEscalates(t *testing.T) {
	core, logs := observer.New(zap.WarnLevel)
	store := &flakyStore{failures: 4}
	o, clock := newTestOutbox(t, store, &ratingBook{}, zap.New(core))
	ctx := context.Background()

	o.Submit(summary("m1"))
	require.Equal(t, 1, o.Flush(ctx, false))
	require.Equal(t, 1, o.Flush(ctx, false), "not due before the backoff elapsed")
	assert.Equal(t, 1, store.calls)

	clock.Advance(time.Second)
	require.Equal(t, 1, o.Flush(ctx, false))
	clock.Advance(2 * time.Second)
	require.Equal(t, 1, o.Flush(ctx, false))
	assert.Equal(t, 3, store.calls)
	assert.Equal(t, 1, logs.FilterMessageSnippet("operator alert").Len())

	clock.Advance(4 * time.Second)
	require.Equal(t, 1, o.Flush(ctx, false), "escalated items keep retrying")
	clock.Advance(8 * time.Second)
	assert.Equal(t, 0, o.Flush(ctx, false))
	assert.Equal(t, 1, store.persisted["m1"])
	assert.Equal(t, 1, logs.FilterMessageSnippet("operator alert").Len(), "escalation is logged once")
}

func TestOutboxRetriesOnlyFailedRatingSteps(t *testing.T) {
	store := &flakyStore{}
	book := &ratingBook{fail: map[string]int{"bob": 1}}
	o, clock := newTestOutbox(t, store, book, zap.NewNop())
	ctx := context.Background()

	o.Submit(summary("m1"))
	require.Equal(t, 1, o.Flush(ctx, false))
	clock.Advance(time.Second)
	require.Equal(t, 0, o.Flush(ctx, false))

	assert.Equal(t, 1, store.persisted["m1"], "the result row is written once")
	assert.Equal(t, 16, book.applied["alice"], "alice is not rated twice")
	assert.Equal(t, -16, book.applied["bob"])
}

func TestOutboxDropsRatingOfUnknownPlayer(t *testing.T) {
	book := &ratingBook{}
	o, _ := newTestOutbox(t, &flakyStore{}, book, zap.NewNop())

	s := summary("m1")
	s.Participants[1].PlayerID = "ghost"
	o.Submit(s)
	assert.Equal(t, 0, o.Flush(context.Background(), false))
	assert.Equal(t, 16, book.applied["alice"])
}

func TestOutboxStopForcesDelivery(t *testing.T) {
	store := &flakyStore{failures: 1}
	o, _ := newTestOutbox(t, store, &ratingBook{}, zap.NewNop())
	ctx := context.Background()

	o.Submit(summary("m1"))
	require.Equal(t, 1, o.Flush(ctx, false))
	require.NoError(t, o.Stop(ctx))
	assert.Equal(t, 1, store.persisted["m1"])

	store.failures = 1
	o.Submit(summary("m2"))
	assert.Error(t, o.Stop(ctx))
}

func TestOutboxSweepRuns(t *testing.T) {
	store := &flakyStore{}
	o, clock := newTestOutbox(t, store, &ratingBook{}, zap.NewNop())
	require.NoError(t, o.Start())
	t.Cleanup(func() { _ = o.Stop(context.Background()) })

	o.Submit(summary("m1"))
	require.Eventually(t, func() bool {
		clock.Advance(time.Second)
		return o.Pending() == 0
	}, 5*time.Second, 10*time.Millisecond)
}

func TestBackoff(t *testing.T) {
	o := &Outbox{base: time.Second, max: 5 * time.Second}
	want := []time.Duration{time.Second, 2 * time.Second, 4 * time.Second, 5 * time.Second, 5 * time.Second}
	for i, w := range want {
		if got := o.backoff(i + 1); got != w {
			t.Fatalf("backoff(%d) = %s, want %s", i+1, got, w)
		}
	}
}
