package repository

import (
	"context"
	"fmt"

	"github.com/cardarena/arena-server-go/internal/matchmaking"
	"github.com/jackc/pgx/v5"
)

// QueueStore keeps matchmaking entries in the queue_entries table so a
// restart does not drop waiting players.
type QueueStore struct {
	db *DB
}

func NewQueueStore(db *DB) *QueueStore {
	return &QueueStore{db: db}
}

func (s *QueueStore) Insert(ctx context.Context, e matchmaking.Entry) error {
	_, err := s.db.Pool.Exec(ctx, `
		INSERT INTO queue_entries (mode, player_id, connection_ref, rating, enqueued_at)
		VALUES ($1, $2, $3, $4, $5)`,
		e.Mode, e.PlayerID, e.ConnectionRef, e.Rating, e.EnqueuedAt,
	)
	if isUniqueViolation(err) {
		return matchmaking.ErrAlreadyQueued
	}
	if err != nil {
		return fmt.Errorf("insert queue entry: %w", err)
	}
	return nil
}

func (s *QueueStore) Delete(ctx context.Context, mode, playerID string) (bool, error) {
	tag, err := s.db.Pool.Exec(ctx, `DELETE FROM queue_entries WHERE mode = $1 AND player_id = $2`, mode, playerID)
	if err != nil {
		return false, fmt.Errorf("delete queue entry: %w", err)
	}
	return tag.RowsAffected() == 1, nil
}

func (s *QueueStore) List(ctx context.Context, mode string) ([]matchmaking.Entry, error) {
	rows, err := s.db.Pool.Query(ctx, `
		SELECT mode, player_id, connection_ref, rating, enqueued_at
		FROM queue_entries
		WHERE mode = $1
		ORDER BY enqueued_at, player_id`, mode)
	if err != nil {
		return nil, fmt.Errorf("list queue entries: %w", err)
	}
	entries, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (matchmaking.Entry, error) {
		var e matchmaking.Entry
		err := row.Scan(&e.Mode, &e.PlayerID, &e.ConnectionRef, &e.Rating, &e.EnqueuedAt)
		e.EnqueuedAt = e.EnqueuedAt.UTC()
		return e, err
	})
	if err != nil {
		return nil, fmt.Errorf("scan queue entries: %w", err)
	}
	return entries, nil
}

// RemoveGroup deletes the players in one transaction and rolls back unless
// every one of them was still queued.
func (s *QueueStore) RemoveGroup(ctx context.Context, mode string, playerIDs []string) (bool, error) {
	tx, err := s.db.Pool.Begin(ctx)
	if err != nil {
		return false, fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	rows, err := tx.Query(ctx, `
		DELETE FROM queue_entries
		WHERE mode = $1 AND player_id = ANY($2)
		RETURNING player_id`, mode, playerIDs)
	if err != nil {
		return false, fmt.Errorf("remove queue group: %w", err)
	}
	removed, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return false, fmt.Errorf("remove queue group: %w", err)
	}
	if len(removed) != len(playerIDs) {
		return false, nil
	}
	if err := tx.Commit(ctx); err != nil {
		return false, fmt.Errorf("commit queue removal: %w", err)
	}
	return true, nil
}

var _ matchmaking.Store = (*QueueStore)(nil)
