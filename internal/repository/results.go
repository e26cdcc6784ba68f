package repository

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/cardarena/arena-server-go/internal/ports"
	"go.uber.org/zap"
)

// ResultRepository writes finished matches. A summary is written once;
// repeating it is a no-op.
type ResultRepository struct {
	db *DB
}

func NewResultRepository(db *DB) *ResultRepository {
	return &ResultRepository{db: db}
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func (r *ResultRepository) PersistMatchResult(ctx context.Context, s ports.MatchSummary) error {
	tx, err := r.db.Pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w: %v", ports.ErrUnavailable, err)
	}
	defer tx.Rollback(ctx)

	tag, err := tx.Exec(ctx, `
		INSERT INTO match_results (match_id, mode, status, reason, arena_id, seed, turns, checksum, created_at, started_at, ended_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		ON CONFLICT (match_id) DO NOTHING`,
		s.MatchID, s.Mode, s.Status, s.Reason, s.ArenaID, s.Seed, s.Turns, s.Checksum,
		s.CreatedAt, nullTime(s.StartedAt), s.EndedAt,
	)
	if err != nil {
		return fmt.Errorf("insert match result: %w: %v", ports.ErrUnavailable, err)
	}
	if tag.RowsAffected() == 0 {
		// Already written by an earlier attempt.
		return nil
	}
	for _, p := range s.Participants {
		if _, err := tx.Exec(ctx, `
			INSERT INTO match_participants (match_id, player_id, team, result, rating_delta)
			VALUES ($1, $2, $3, $4, $5)`,
			s.MatchID, p.PlayerID, p.Team, p.Result, p.RatingDelta,
		); err != nil {
			return fmt.Errorf("insert participant %s: %w: %v", p.PlayerID, ports.ErrUnavailable, err)
		}
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit match result: %w: %v", ports.ErrUnavailable, err)
	}
	r.db.logger.Debug("match result stored", zap.String("match_id", s.MatchID))
	return nil
}

// GetMatchResult reads a stored summary.
func (r *ResultRepository) GetMatchResult(ctx context.Context, matchID string) (ports.MatchSummary, error) {
	var s ports.MatchSummary
	var started *time.Time
	err := r.db.Pool.QueryRow(ctx, `
		SELECT match_id, mode, status, reason, arena_id, seed, turns, checksum, created_at, started_at, ended_at
		FROM match_results WHERE match_id = $1`, matchID,
	).Scan(&s.MatchID, &s.Mode, &s.Status, &s.Reason, &s.ArenaID, &s.Seed, &s.Turns, &s.Checksum,
		&s.CreatedAt, &started, &s.EndedAt)
	if err != nil {
		return s, lookupErr("get match result", err)
	}
	if started != nil {
		s.StartedAt = *started
	}

	rows, err := r.db.Pool.Query(ctx, `
		SELECT player_id, team, result, rating_delta
		FROM match_participants WHERE match_id = $1 ORDER BY team, player_id`, matchID)
	if err != nil {
		return s, lookupErr("get participants", err)
	}
	defer rows.Close()
	for rows.Next() {
		var p ports.ParticipantSummary
		if err := rows.Scan(&p.PlayerID, &p.Team, &p.Result, &p.RatingDelta); err != nil {
			return s, fmt.Errorf("scan participant: %w", err)
		}
		s.Participants = append(s.Participants, p)
	}
	return s, rows.Err()
}

// MemoryResults keeps summaries in process, for servers without a database.
type MemoryResults struct {
	mu      sync.Mutex
	results map[string]ports.MatchSummary
}

func NewMemoryResults() *MemoryResults {
	return &MemoryResults{results: make(map[string]ports.MatchSummary)}
}

func (m *MemoryResults) PersistMatchResult(_ context.Context, s ports.MatchSummary) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.results[s.MatchID]; !ok {
		m.results[s.MatchID] = s
	}
	return nil
}

func (m *MemoryResults) GetMatchResult(_ context.Context, matchID string) (ports.MatchSummary, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.results[matchID]
	if !ok {
		return s, fmt.Errorf("get match result: %w", ports.ErrNotFound)
	}
	return s, nil
}

var (
	_ ports.ResultStore = (*ResultRepository)(nil)
	_ ports.ResultStore = (*MemoryResults)(nil)
)
