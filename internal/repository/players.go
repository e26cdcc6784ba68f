package repository

import (
	"context"
	"fmt"
	"sync"

	"github.com/cardarena/arena-server-go/internal/ports"
)

// PlayerRepository reads decks and ratings from the players table.
type PlayerRepository struct {
	db *DB
}

func NewPlayerRepository(db *DB) *PlayerRepository {
	return &PlayerRepository{db: db}
}

func (r *PlayerRepository) GetPlayerDeck(ctx context.Context, playerID string) ([]string, error) {
	var deck []string
	err := r.db.Pool.QueryRow(ctx, `SELECT deck FROM players WHERE id = $1`, playerID).Scan(&deck)
	if err != nil {
		return nil, lookupErr("get deck", err)
	}
	return deck, nil
}

func (r *PlayerRepository) GetPlayerRating(ctx context.Context, playerID string) (int, error) {
	var rating int
	err := r.db.Pool.QueryRow(ctx, `SELECT rating FROM players WHERE id = $1`, playerID).Scan(&rating)
	if err != nil {
		return 0, lookupErr("get rating", err)
	}
	return rating, nil
}

func (r *PlayerRepository) UpdatePlayerRating(ctx context.Context, playerID string, delta int) error {
	tag, err := r.db.Pool.Exec(ctx, `
		UPDATE players SET rating = rating + $2, updated_at = now()
		WHERE id = $1`, playerID, delta)
	if err != nil {
		return fmt.Errorf("update rating: %w: %v", ports.ErrUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update rating of %s: %w", playerID, ports.ErrNotFound)
	}
	return nil
}

// UpsertPlayer creates the player or replaces their rating and deck.
func (r *PlayerRepository) UpsertPlayer(ctx context.Context, playerID string, rating int, deck []string) error {
	_, err := r.db.Pool.Exec(ctx, `
		INSERT INTO players (id, rating, deck) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET rating = EXCLUDED.rating, deck = EXCLUDED.deck, updated_at = now()`,
		playerID, rating, deck)
	if err != nil {
		return fmt.Errorf("upsert player: %w", err)
	}
	return nil
}

// MemoryPlayers is a PlayerDirectory for servers without a database. Unknown
// players are created on first lookup with the default deck and rating.
type MemoryPlayers struct {
	mu            sync.Mutex
	defaultDeck   []string
	defaultRating int
	decks         map[string][]string
	ratings       map[string]int
}

func NewMemoryPlayers(defaultDeck []string, defaultRating int) *MemoryPlayers {
	return &MemoryPlayers{
		defaultDeck:   append([]string(nil), defaultDeck...),
		defaultRating: defaultRating,
		decks:         make(map[string][]string),
		ratings:       make(map[string]int),
	}
}

func (p *MemoryPlayers) ensure(playerID string) {
	if _, ok := p.ratings[playerID]; !ok {
		p.ratings[playerID] = p.defaultRating
		p.decks[playerID] = append([]string(nil), p.defaultDeck...)
	}
}

func (p *MemoryPlayers) GetPlayerDeck(_ context.Context, playerID string) ([]string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensure(playerID)
	return append([]string(nil), p.decks[playerID]...), nil
}

func (p *MemoryPlayers) GetPlayerRating(_ context.Context, playerID string) (int, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensure(playerID)
	return p.ratings[playerID], nil
}

func (p *MemoryPlayers) UpdatePlayerRating(_ context.Context, playerID string, delta int) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ensure(playerID)
	p.ratings[playerID] += delta
	return nil
}

// SetPlayer overrides the player's rating and deck.
func (p *MemoryPlayers) SetPlayer(playerID string, rating int, deck []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.ratings[playerID] = rating
	p.decks[playerID] = append([]string(nil), deck...)
}

var (
	_ ports.PlayerDirectory = (*PlayerRepository)(nil)
	_ ports.PlayerDirectory = (*MemoryPlayers)(nil)
)
