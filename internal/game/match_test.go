package game

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/cardarena/arena-server-go/internal/game/effects"
	"github.com/cardarena/arena-server-go/internal/ports"
	"github.com/cardarena/arena-server-go/internal/protocol"
	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

const waitFor = 2 * time.Second

type recorder struct {
	mu     sync.Mutex
	msgs   map[string][]protocol.Message
	closed []string
}

func newRecorder() *recorder {
	return &recorder{msgs: make(map[string][]protocol.Message)}
}

func (r *recorder) SendToPlayer(playerID string, msg protocol.Message) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.msgs[playerID] = append(r.msgs[playerID], msg)
}

func (r *recorder) MatchClosed(matchID string, playerIDs []string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, matchID)
}

func (r *recorder) of(playerID string) []protocol.Message {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]protocol.Message(nil), r.msgs[playerID]...)
}

func lastOf[T protocol.Message](r *recorder, playerID string) (T, bool) {
	msgs := r.of(playerID)
	for i := len(msgs) - 1; i >= 0; i-- {
		if m, ok := msgs[i].(T); ok {
			return m, true
		}
	}
	var zero T
	return zero, false
}

type staticPlayers struct {
	decks map[string][]string
}

func (p *staticPlayers) GetPlayerDeck(_ context.Context, playerID string) ([]string, error) {
	deck, ok := p.decks[playerID]
	if !ok {
		return nil, ports.ErrUnavailable
	}
	return deck, nil
}

func (p *staticPlayers) GetPlayerRating(context.Context, string) (int, error) { return 1000, nil }

func (p *staticPlayers) UpdatePlayerRating(context.Context, string, int) error { return nil }

type resultChan chan ports.MatchSummary

func (c resultChan) Submit(s ports.MatchSummary) { c <- s }

type memArchive struct {
	mu   sync.Mutex
	logs []*ReplayLog
}

func (a *memArchive) Save(_ context.Context, log *ReplayLog) error {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.logs = append(a.logs, log)
	return nil
}

type memCache struct {
	mu   sync.Mutex
	last *Snapshot
}

func (c *memCache) Store(_ context.Context, _ string, snap *Snapshot) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = snap
	return nil
}

func (c *memCache) latest() *Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.last
}

type matchHarness struct {
	match   *Match
	clock   *clockwork.FakeClock
	notes   *recorder
	results resultChan
	archive *memArchive
	cache   *memCache
}

func newMatchHarness(t *testing.T, decks map[string][]string) *matchHarness {
	t.Helper()
	h := &matchHarness{
		clock:   clockwork.NewFakeClockAt(t0),
		notes:   newRecorder(),
		results: make(resultChan, 1),
		archive: &memArchive{},
		cache:   &memCache{},
	}
	m := newQueuedMachine(t, duelSeats(), nil)
	h.match = NewMatch(m, MatchDeps{
		Clock:    h.clock,
		Players:  &staticPlayers{decks: decks},
		Notifier: h.notes,
		Results:  h.results,
		Cache:    h.cache,
		Archive:  h.archive,
		Logger:   zaptest.NewLogger(t),
	})
	h.match.Run()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), waitFor)
		defer cancel()
		_ = h.match.Cancel(ctx, ReasonShutdown)
		select {
		case <-h.match.Done():
		case <-ctx.Done():
			t.Errorf("match did not close")
		}
	})
	return h
}

func gruntDecks() map[string][]string {
	return map[string][]string{"alice": repeat("grunt", 10), "bob": repeat("grunt", 10)}
}

func (h *matchHarness) start(t *testing.T) {
	t.Helper()
	ctx := context.Background()
	require.NoError(t, h.match.Ready(ctx, "alice"))
	require.NoError(t, h.match.Ready(ctx, "bob"))
	info, err := h.match.Info(ctx)
	require.NoError(t, err)
	require.Equal(t, StatusActive, info.Status)
}

func (h *matchHarness) info(t *testing.T) MatchInfo {
	t.Helper()
	info, err := h.match.Info(context.Background())
	require.NoError(t, err)
	return info
}

func (h *matchHarness) waitDone(t *testing.T) ports.MatchSummary {
	t.Helper()
	select {
	case <-h.match.Done():
	case <-time.After(waitFor):
		t.Fatalf("match did not close")
	}
	select {
	case s := <-h.results:
		return s
	default:
		t.Fatalf("no result submitted")
	}
	return ports.MatchSummary{}
}

func TestMatchAnnouncesAndStarts(t *testing.T) {
	h := newMatchHarness(t, gruntDecks())

	require.Eventually(t, func() bool {
		_, ok := lastOf[*protocol.MatchFound](h.notes, "bob")
		return ok
	}, waitFor, 10*time.Millisecond)
	found, _ := lastOf[*protocol.MatchFound](h.notes, "bob")
	assert.Equal(t, 1, found.YourTeam)
	assert.Equal(t, "alice", found.Opponent.PlayerID)
	assert.Equal(t, t0.Add(30*time.Second).UnixMilli(), found.ReadyDeadline)

	h.start(t)

	start, ok := lastOf[*protocol.MatchStart](h.notes, "alice")
	require.True(t, ok)
	assert.Equal(t, 0, start.YourTeam)
	assert.Equal(t, uint64(3), start.Sequence, "two ready broadcasts precede the start")

	update, ok := lastOf[*protocol.StateUpdate](h.notes, "bob")
	require.True(t, ok)
	assert.Equal(t, uint64(4), update.Sequence)
	for _, ch := range update.Delta.(effects.Delta).Changes {
		if ch.Kind == effects.ChangeDraw && ch.Team == 0 {
			assert.Empty(t, ch.Card, "bob must not see alice's draws")
		}
	}

	assert.Eventually(t, func() bool {
		snap := h.cache.latest()
		return snap != nil && snap.Status == StatusActive
	}, waitFor, 10*time.Millisecond)
}

func TestMatchRoutesPlayerInput(t *testing.T) {
	h := newMatchHarness(t, gruntDecks())
	h.start(t)
	ctx := context.Background()

	assert.ErrorIs(t, h.match.Advance(ctx, "bob", ""), ErrNotYourTurn)
	assert.ErrorIs(t, h.match.Advance(ctx, "alice", "main"), ErrInvalidPhase, "stale phase")
	assert.ErrorIs(t, h.match.Advance(ctx, "carol", ""), ErrNotParticipant)

	require.NoError(t, h.match.Advance(ctx, "alice", "draw"))
	require.NoError(t, h.match.Play(ctx, "alice", CardActivation{CardID: "grunt", Action: ActionSummon}))
	ack, ok := lastOf[*protocol.CardPlayAck](h.notes, "alice")
	require.True(t, ok)
	assert.Equal(t, "grunt", ack.CardID)

	err := h.match.Play(ctx, "bob", CardActivation{CardID: "grunt", Action: ActionSummon})
	assert.ErrorIs(t, err, ErrNotYourTurn)

	h.clock.Advance(time.Second)
	require.NoError(t, h.match.CancelCard(ctx, "alice", "grunt"))
	snap, ok := lastOf[*protocol.SyncSnapshot](h.notes, "bob")
	require.True(t, ok)
	assert.Empty(t, snap.State.(*Snapshot).Combatants[0].Board)

	require.NoError(t, h.match.Sync(ctx, "alice"))
	snap, _ = lastOf[*protocol.SyncSnapshot](h.notes, "alice")
	assert.Len(t, snap.State.(*Snapshot).Combatants[0].Hand, 4)
}

func TestMatchAutoPassesExpiredPhases(t *testing.T) {
	h := newMatchHarness(t, gruntDecks())
	h.start(t)

	steps := []struct {
		wait  time.Duration
		phase string
		turn  int
		team  int
	}{
		{15 * time.Second, "main", 1, 0},
		{60 * time.Second, "combat", 1, 0},
		{30 * time.Second, "end", 1, 0},
		{10 * time.Second, "draw", 2, 1},
	}
	for _, step := range steps {
		h.clock.Advance(step.wait)
		require.Eventually(t, func() bool {
			info := h.info(t)
			return info.Phase == step.phase && info.Turn == step.turn && info.CurrentTeam == step.team
		}, waitFor, 10*time.Millisecond, "waiting for %s of turn %d", step.phase, step.turn)
	}

	info := h.info(t)
	assert.Equal(t, 15*time.Second, info.TimeLeft)
}

func TestMatchBroadcastsTimerTicks(t *testing.T) {
	h := newMatchHarness(t, gruntDecks())
	h.start(t)

	h.clock.Advance(time.Second)
	require.Eventually(t, func() bool {
		tick, ok := lastOf[*protocol.TimerTick](h.notes, "bob")
		return ok && tick.RemainingMs == 14000 && tick.Phase == "draw"
	}, waitFor, 10*time.Millisecond)
}

func TestMatchReconnectAndAbandon(t *testing.T) {
	h := newMatchHarness(t, gruntDecks())
	h.start(t)

	h.match.Disconnected("bob")
	require.Eventually(t, func() bool {
		return !h.info(t).Participants[1].Connected
	}, waitFor, 10*time.Millisecond)
	update, ok := lastOf[*protocol.StateUpdate](h.notes, "alice")
	require.True(t, ok)
	conn, ok := findChange(update.Delta.(effects.Delta), effects.ChangeConnection)
	require.True(t, ok)
	assert.Equal(t, 1, conn.Team)
	assert.Equal(t, 0, conn.Value)

	h.match.Reconnected("bob")
	require.Eventually(t, func() bool {
		snap, ok := lastOf[*protocol.SyncSnapshot](h.notes, "bob")
		return ok && snap.State.(*Snapshot).Viewer == 1
	}, waitFor, 10*time.Millisecond)
	assert.True(t, h.info(t).Participants[1].Connected)

	h.match.Disconnected("bob")
	require.Eventually(t, func() bool {
		return !h.info(t).Participants[1].Connected
	}, waitFor, 10*time.Millisecond)

	h.clock.Advance(60 * time.Second)
	require.Eventually(t, func() bool {
		return h.info(t).Participants[1].Abandoned
	}, waitFor, 10*time.Millisecond)
	assert.Equal(t, StatusActive, h.info(t).Status, "an abandoned player is auto-passed, not cancelled")
}

func TestMatchReadyTimeout(t *testing.T) {
	h := newMatchHarness(t, gruntDecks())
	require.NoError(t, h.match.Ready(context.Background(), "alice"))

	h.clock.Advance(30 * time.Second)
	summary := h.waitDone(t)
	assert.Equal(t, "cancelled", summary.Status)
	assert.Equal(t, ReasonReadyTimeout, summary.Reason)
	assert.Equal(t, "win", summary.Participants[0].Result)
	assert.Equal(t, "loss", summary.Participants[1].Result)

	end, ok := lastOf[*protocol.MatchEnd](h.notes, "bob")
	require.True(t, ok)
	assert.Equal(t, ReasonReadyTimeout, end.Reason)

	h.notes.mu.Lock()
	assert.Equal(t, []string{h.match.ID()}, h.notes.closed)
	h.notes.mu.Unlock()
}

func TestMatchDeckUnavailable(t *testing.T) {
	h := newMatchHarness(t, map[string][]string{"alice": repeat("grunt", 10)})
	ctx := context.Background()
	require.NoError(t, h.match.Ready(ctx, "alice"))
	require.NoError(t, h.match.Ready(ctx, "bob"))

	summary := h.waitDone(t)
	assert.Equal(t, "cancelled", summary.Status)
	assert.Equal(t, ReasonDeckUnavailable, summary.Reason)

	err := h.match.Play(ctx, "alice", CardActivation{CardID: "grunt", Action: ActionSummon})
	assert.True(t, errors.Is(err, ErrMatchClosed), "got %v", err)
}

func TestMatchConcedeArchivesReplay(t *testing.T) {
	h := newMatchHarness(t, gruntDecks())
	h.start(t)

	require.NoError(t, h.match.Concede(context.Background(), "bob"))
	summary := h.waitDone(t)
	assert.Equal(t, "finished", summary.Status)
	assert.Equal(t, ReasonConcede, summary.Reason)
	assert.Equal(t, 16, summary.Participants[0].RatingDelta)

	h.archive.mu.Lock()
	require.Len(t, h.archive.logs, 1)
	log := h.archive.logs[0]
	h.archive.mu.Unlock()
	assert.Equal(t, summary.Checksum, log.Checksum)

	replayed, err := Reproduce(log, testCatalog(t), zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, StatusFinished, replayed.Status())

	assert.Eventually(t, func() bool {
		snap := h.cache.latest()
		return snap != nil && snap.Status == StatusFinished
	}, waitFor, 10*time.Millisecond)
}

func TestMatchAdminControls(t *testing.T) {
	h := newMatchHarness(t, gruntDecks())
	h.start(t)
	ctx := context.Background()

	require.NoError(t, h.match.ForceAdvance(ctx))
	assert.Equal(t, "main", h.info(t).Phase)

	require.NoError(t, h.match.Cancel(ctx, ReasonAdmin))
	summary := h.waitDone(t)
	assert.Equal(t, "cancelled", summary.Status)
	assert.Equal(t, ReasonAdmin, summary.Reason)
	assert.ErrorIs(t, h.match.Cancel(ctx, ReasonAdmin), ErrMatchClosed)
}
