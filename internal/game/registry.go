package game

import (
	"context"
	"fmt"
	"math/rand"
	"sort"
	"sync"

	"github.com/cardarena/arena-server-go/internal/catalog"
	"github.com/cardarena/arena-server-go/internal/ports"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// RegistryConfig configures a Registry.
type RegistryConfig struct {
	Rules   Rules
	Catalog *catalog.Catalog
	Deps    MatchDeps
	Logger  *zap.Logger
}

// Registry owns the live matches. It creates them for the matchmaking
// queue and forgets them once they close.
type Registry struct {
	rules   Rules
	catalog *catalog.Catalog
	deps    MatchDeps
	logger  *zap.Logger

	mu       sync.RWMutex
	matches  map[string]*Match
	byPlayer map[string]string
	closed   bool
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg RegistryConfig) (*Registry, error) {
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if cfg.Deps.Players == nil {
		return nil, fmt.Errorf("player directory is required")
	}
	if err := cfg.Rules.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rules: %w", err)
	}
	for _, id := range cfg.Rules.Arenas {
		if _, ok := cfg.Catalog.Arena(id); !ok {
			return nil, fmt.Errorf("unknown arena %q", id)
		}
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	deps := cfg.Deps
	if deps.Logger == nil {
		deps.Logger = logger
	}
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	return &Registry{
		rules:    cfg.Rules,
		catalog:  cfg.Catalog,
		deps:     deps,
		logger:   logger,
		matches:  make(map[string]*Match),
		byPlayer: make(map[string]string),
	}, nil
}

// CreateMatch starts a queued match for the seats and returns its id.
func (r *Registry) CreateMatch(ctx context.Context, mode string, seats []ports.Seat) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r.mu.RLock()
	closed := r.closed
	r.mu.RUnlock()
	if closed {
		return "", ErrMatchClosed
	}
	id := uuid.NewString()
	m, err := NewMachine(MachineConfig{
		MatchID:   id,
		Mode:      mode,
		ArenaID:   r.pickArena(id),
		Seats:     seats,
		Rules:     r.rules,
		Catalog:   r.catalog,
		CreatedAt: r.deps.Clock.Now(),
		Logger:    r.deps.Logger,
	})
	if err != nil {
		return "", fmt.Errorf("failed to create match: %w", err)
	}
	match := NewMatch(m, r.deps)

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return "", ErrMatchClosed
	}
	r.matches[id] = match
	for _, s := range seats {
		r.byPlayer[s.PlayerID] = id
	}
	r.mu.Unlock()

	match.Run()
	go r.forget(match)
	return id, nil
}

// pickArena chooses an arena deterministically from the match id.
func (r *Registry) pickArena(matchID string) string {
	arenas := r.rules.Arenas
	if len(arenas) == 0 {
		arenas = r.catalog.ArenaIDs()
	}
	rng := rand.New(rand.NewSource(SeedFor(matchID)))
	return arenas[rng.Intn(len(arenas))]
}

func (r *Registry) forget(match *Match) {
	<-match.Done()
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.matches, match.ID())
	for _, pid := range match.PlayerIDs() {
		if r.byPlayer[pid] == match.ID() {
			delete(r.byPlayer, pid)
		}
	}
}

// Get returns a live match.
func (r *Registry) Get(matchID string) (*Match, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	m, ok := r.matches[matchID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrMatchNotFound, matchID)
	}
	return m, nil
}

// MatchFor returns the live match the player is seated in.
func (r *Registry) MatchFor(playerID string) (*Match, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byPlayer[playerID]
	if !ok {
		return nil, false
	}
	m, ok := r.matches[id]
	return m, ok
}

// List returns the live matches ordered by id.
func (r *Registry) List() []*Match {
	r.mu.RLock()
	out := make([]*Match, 0, len(r.matches))
	for _, m := range r.matches {
		out = append(out, m)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

// Count returns the number of live matches.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.matches)
}

// Shutdown cancels every live match and waits for them to close.
func (r *Registry) Shutdown(ctx context.Context) error {
	r.mu.Lock()
	r.closed = true
	r.mu.Unlock()

	matches := r.List()
	r.logger.Info("shutting down matches", zap.Int("count", len(matches)))
	for _, m := range matches {
		if err := m.Cancel(ctx, ReasonShutdown); err != nil && ctx.Err() != nil {
			return ctx.Err()
		}
	}
	for _, m := range matches {
		select {
		case <-m.Done():
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}
