package matchmaking

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/cardarena/arena-server-go/internal/ports"
	"github.com/go-co-op/gocron/v2"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// MatchFactory creates a queued match for a paired group.
type MatchFactory interface {
	CreateMatch(ctx context.Context, mode string, seats []ports.Seat) (string, error)
}

// Join and leave outcomes.
const (
	StatusQueued   = "queued"
	StatusPaired   = "paired"
	StatusLeft     = "left"
	StatusNotFound = "not_found"
)

// JoinResult reports where a join left the player.
type JoinResult struct {
	Status   string
	MatchID  string
	Position int
}

// LeaveResult reports whether an entry was removed.
type LeaveResult struct {
	Status string
}

// StatusResult is the player's place in a mode's queue.
type StatusResult struct {
	InQueue  bool
	Position int
	Wait     time.Duration
}

// ModeStats summarizes one mode's queue.
type ModeStats struct {
	Mode       string
	Players    int
	Waiting    int
	OldestWait time.Duration
	Paired     uint64
}

// Config configures a Manager.
type Config struct {
	// Modes maps a mode name to its participant count.
	Modes        map[string]int
	Policy       Policy
	TickInterval time.Duration
	Store        Store
	Factory      MatchFactory
	Clock        clockwork.Clock
	Logger       *zap.Logger
}

// Manager owns one queue actor per mode.
type Manager struct {
	policy   Policy
	interval time.Duration
	store    Store
	factory  MatchFactory
	clock    clockwork.Clock
	logger   *zap.Logger

	queues    map[string]*modeQueue
	scheduler gocron.Scheduler

	// claimed holds players some mode is currently seating. A player is
	// seated by at most one mode at a time.
	claimMu sync.Mutex
	claimed map[string]string

	ctx       context.Context
	cancel    context.CancelFunc
}

// modeQueue serializes every operation of one mode on its goroutine.
type modeQueue struct {
	mode   string
	size   int
	cmds   chan func()
	paired uint64
}

// NewManager validates cfg and starts the per-mode actors.
func NewManager(cfg Config) (*Manager, error) {
	if len(cfg.Modes) == 0 {
		return nil, fmt.Errorf("at least one mode is required")
	}
	if cfg.Store == nil || cfg.Factory == nil {
		return nil, fmt.Errorf("store and match factory are required")
	}
	if err := cfg.Policy.Validate(); err != nil {
		return nil, fmt.Errorf("invalid tolerance policy: %w", err)
	}
	if cfg.TickInterval <= 0 {
		return nil, fmt.Errorf("tick interval must be positive")
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	clock := cfg.Clock
	if clock == nil {
		clock = clockwork.NewRealClock()
	}

	ctx, cancel := context.WithCancel(context.Background())
	m := &Manager{
		policy:   cfg.Policy,
		interval: cfg.TickInterval,
		store:    cfg.Store,
		factory:  cfg.Factory,
		clock:    clock,
		logger:   logger,
		queues:   make(map[string]*modeQueue, len(cfg.Modes)),
		claimed:  make(map[string]string),
		ctx:      ctx,
		cancel:   cancel,
	}
	for mode, size := range cfg.Modes {
		if size < 2 {
			cancel()
			return nil, fmt.Errorf("mode %q needs at least 2 players, got %d", mode, size)
		}
		q := &modeQueue{mode: mode, size: size, cmds: make(chan func(), 64)}
		m.queues[mode] = q
		go m.run(q)
	}
	return m, nil
}

func (m *Manager) run(q *modeQueue) {
	for {
		select {
		case cmd := <-q.cmds:
			cmd()
		case <-m.ctx.Done():
			return
		}
	}
}

func (m *Manager) do(ctx context.Context, q *modeQueue, fn func()) error {
	done := make(chan struct{})
	select {
	case q.cmds <- func() { fn(); close(done) }:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.ctx.Done():
		return ErrQueueUnavailable
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	case <-m.ctx.Done():
		return ErrQueueUnavailable
	}
}

func (m *Manager) queue(mode string) (*modeQueue, error) {
	q, ok := m.queues[mode]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrUnknownMode, mode)
	}
	return q, nil
}

// Modes returns the configured modes in name order.
func (m *Manager) Modes() []string {
	modes := make([]string, 0, len(m.queues))
	for mode := range m.queues {
		modes = append(modes, mode)
	}
	sort.Strings(modes)
	return modes
}

// Start schedules the periodic pairing pass of every mode.
func (m *Manager) Start() error {
	s, err := gocron.NewScheduler(gocron.WithClock(m.clock))
	if err != nil {
		return fmt.Errorf("failed to create scheduler: %w", err)
	}
	for _, mode := range m.Modes() {
		_, err := s.NewJob(
			gocron.DurationJob(m.interval),
			gocron.NewTask(m.tickMode, mode),
			gocron.WithName("matchmaking:"+mode),
			gocron.WithSingletonMode(gocron.LimitModeReschedule),
		)
		if err != nil {
			_ = s.Shutdown()
			return fmt.Errorf("failed to schedule pairing for %s: %w", mode, err)
		}
	}
	s.Start()
	m.scheduler = s
	m.logger.Info("matchmaking started",
		zap.Strings("modes", m.Modes()),
		zap.Duration("tick", m.interval),
	)
	return nil
}

// Stop halts the scheduler and the queue actors.
func (m *Manager) Stop() error {
	var err error
	if m.scheduler != nil {
		err = m.scheduler.Shutdown()
	}
	m.cancel()
	return err
}

// Join enqueues the player and runs a pairing pass.
func (m *Manager) Join(ctx context.Context, mode, playerID, connRef string, rating int) (JoinResult, error) {
	q, err := m.queue(mode)
	if err != nil {
		return JoinResult{}, err
	}
	var res JoinResult
	var opErr error
	err = m.do(ctx, q, func() {
		entry := Entry{Mode: mode, PlayerID: playerID, ConnectionRef: connRef, Rating: rating, EnqueuedAt: m.clock.Now()}
		if err := m.store.Insert(m.ctx, entry); err != nil {
			if errors.Is(err, ErrAlreadyQueued) {
				opErr = err
				return
			}
			opErr = fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
			return
		}
		m.logger.Debug("player queued",
			zap.String("mode", mode),
			zap.String("player_id", playerID),
			zap.Int("rating", rating),
		)

		matches := m.pair(q)
		if id, ok := matches[playerID]; ok {
			res = JoinResult{Status: StatusPaired, MatchID: id}
			return
		}
		pos, _, err := m.position(mode, playerID)
		if err != nil {
			opErr = err
			return
		}
		res = JoinResult{Status: StatusQueued, Position: pos}
	})
	if err != nil {
		return JoinResult{}, err
	}
	return res, opErr
}

// Leave removes the player's entry.
func (m *Manager) Leave(ctx context.Context, mode, playerID string) (LeaveResult, error) {
	q, err := m.queue(mode)
	if err != nil {
		return LeaveResult{}, err
	}
	var res LeaveResult
	var opErr error
	err = m.do(ctx, q, func() {
		removed, err := m.store.Delete(m.ctx, mode, playerID)
		if err != nil {
			opErr = fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
			return
		}
		if !removed {
			res = LeaveResult{Status: StatusNotFound}
			return
		}
		m.logger.Debug("player left queue", zap.String("mode", mode), zap.String("player_id", playerID))
		res = LeaveResult{Status: StatusLeft}
	})
	if err != nil {
		return LeaveResult{}, err
	}
	return res, opErr
}

// Status reports the player's queue position, 1-based.
func (m *Manager) Status(ctx context.Context, mode, playerID string) (StatusResult, error) {
	q, err := m.queue(mode)
	if err != nil {
		return StatusResult{}, err
	}
	var res StatusResult
	var opErr error
	err = m.do(ctx, q, func() {
		pos, wait, err := m.position(mode, playerID)
		if err != nil {
			opErr = err
			return
		}
		res = StatusResult{InQueue: pos > 0, Position: pos, Wait: wait}
	})
	if err != nil {
		return StatusResult{}, err
	}
	return res, opErr
}

func (m *Manager) position(mode, playerID string) (int, time.Duration, error) {
	entries, err := m.store.List(m.ctx, mode)
	if err != nil {
		return 0, 0, fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
	}
	for i, e := range entries {
		if e.PlayerID == playerID {
			return i + 1, m.clock.Now().Sub(e.EnqueuedAt), nil
		}
	}
	return 0, 0, nil
}

// Tick runs a pairing pass in every mode.
func (m *Manager) Tick(ctx context.Context) error {
	for _, mode := range m.Modes() {
		q := m.queues[mode]
		if err := m.do(ctx, q, func() { m.pair(q) }); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) tickMode(mode string) {
	q := m.queues[mode]
	ctx, cancel := context.WithTimeout(m.ctx, m.interval)
	defer cancel()
	if err := m.do(ctx, q, func() { m.pair(q) }); err != nil && !errors.Is(err, context.DeadlineExceeded) {
		m.logger.Debug("pairing tick skipped", zap.String("mode", mode), zap.Error(err))
	}
}

// Stats summarizes every mode's queue.
func (m *Manager) Stats(ctx context.Context) ([]ModeStats, error) {
	var out []ModeStats
	for _, mode := range m.Modes() {
		q := m.queues[mode]
		var st ModeStats
		var opErr error
		err := m.do(ctx, q, func() {
			entries, err := m.store.List(m.ctx, mode)
			if err != nil {
				opErr = fmt.Errorf("%w: %v", ErrQueueUnavailable, err)
				return
			}
			st = ModeStats{Mode: mode, Players: q.size, Waiting: len(entries), Paired: q.paired}
			if len(entries) > 0 {
				st.OldestWait = m.clock.Now().Sub(entries[0].EnqueuedAt)
			}
		})
		if err != nil {
			return nil, err
		}
		if opErr != nil {
			return nil, opErr
		}
		out = append(out, st)
	}
	return out, nil
}

// pair forms as many groups as the queue allows and returns the match id
// of every paired player. A group whose removal fails is left queued and
// ends the pass.
func (m *Manager) pair(q *modeQueue) map[string]string {
	paired := make(map[string]string)
	entries, err := m.store.List(m.ctx, q.mode)
	if err != nil {
		m.logger.Warn("failed to list queue", zap.String("mode", q.mode), zap.Error(err))
		return paired
	}
	now := m.clock.Now()
	for {
		group := nextGroup(entries, q.size, now, m.policy)
		if group == nil {
			return paired
		}
		ids := make([]string, len(group))
		for i, e := range group {
			ids[i] = e.PlayerID
		}
		if !m.claim(q.mode, ids) {
			m.logger.Debug("pairing deferred, a player is being seated in another mode",
				zap.String("mode", q.mode),
				zap.Strings("players", ids),
			)
			return paired
		}
		removed, err := m.store.RemoveGroup(m.ctx, q.mode, ids)
		if err != nil || !removed {
			m.release(ids)
			m.logger.Info("pairing aborted",
				zap.String("mode", q.mode),
				zap.Strings("players", ids),
				zap.Error(err),
			)
			return paired
		}

		matchID, err := m.createMatch(q.mode, group)
		if err != nil {
			m.logger.Error("failed to create match, requeueing group",
				zap.String("mode", q.mode),
				zap.Strings("players", ids),
				zap.Error(err),
			)
			m.requeue(group)
			m.release(ids)
			return paired
		}
		m.leaveOtherModes(q.mode, ids)
		m.release(ids)
		q.paired++
		for _, id := range ids {
			paired[id] = matchID
		}
		m.logger.Info("players paired",
			zap.String("mode", q.mode),
			zap.String("match_id", matchID),
			zap.Strings("players", ids),
		)
		entries = without(entries, ids)
	}
}

// claim reserves ids for mode. It fails without reserving anything when
// another mode is already seating one of them.
func (m *Manager) claim(mode string, ids []string) bool {
	m.claimMu.Lock()
	defer m.claimMu.Unlock()
	for _, id := range ids {
		if other, ok := m.claimed[id]; ok && other != mode {
			return false
		}
	}
	for _, id := range ids {
		m.claimed[id] = mode
	}
	return true
}

func (m *Manager) release(ids []string) {
	m.claimMu.Lock()
	defer m.claimMu.Unlock()
	for _, id := range ids {
		delete(m.claimed, id)
	}
}

// leaveOtherModes drops the entries a seated player still holds in other
// modes. It runs while the players are claimed, so no other mode can pair
// them in between.
func (m *Manager) leaveOtherModes(mode string, ids []string) {
	for other := range m.queues {
		if other == mode {
			continue
		}
		for _, id := range ids {
			removed, err := m.store.Delete(m.ctx, other, id)
			if err != nil {
				m.logger.Error("failed to drop seated player from queue",
					zap.String("mode", other),
					zap.String("player_id", id),
					zap.Error(err),
				)
				continue
			}
			if removed {
				m.logger.Debug("seated player left queue",
					zap.String("mode", other),
					zap.String("player_id", id),
				)
			}
		}
	}
}

func (m *Manager) createMatch(mode string, group []Entry) (string, error) {
	seats := make([]ports.Seat, len(group))
	for i, e := range group {
		seats[i] = ports.Seat{PlayerID: e.PlayerID, Rating: e.Rating, ConnectionRef: e.ConnectionRef}
	}
	return m.factory.CreateMatch(m.ctx, mode, seats)
}

func (m *Manager) requeue(group []Entry) {
	for _, e := range group {
		if err := m.store.Insert(m.ctx, e); err != nil && !errors.Is(err, ErrAlreadyQueued) {
			m.logger.Error("failed to requeue player",
				zap.String("player_id", e.PlayerID),
				zap.Error(err),
			)
		}
	}
}

func without(entries []Entry, ids []string) []Entry {
	drop := make(map[string]bool, len(ids))
	for _, id := range ids {
		drop[id] = true
	}
	out := entries[:0:0]
	for _, e := range entries {
		if !drop[e.PlayerID] {
			out = append(out, e)
		}
	}
	return out
}
