// Package ports declares the collaborators the match core consumes.
package ports

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrUnavailable marks a transient collaborator failure. Callers retry.
	ErrUnavailable = errors.New("dependency unavailable")
	// ErrNotFound means the collaborator has no record for the key.
	ErrNotFound = errors.New("not found")
)

// PlayerDirectory reads decks and ratings.
type PlayerDirectory interface {
	GetPlayerDeck(ctx context.Context, playerID string) ([]string, error)
	GetPlayerRating(ctx context.Context, playerID string) (int, error)
	UpdatePlayerRating(ctx context.Context, playerID string, delta int) error
}

// ResultStore persists finished matches. PersistMatchResult must be
// idempotent on MatchID.
type ResultStore interface {
	PersistMatchResult(ctx context.Context, summary MatchSummary) error
}

// Seat is a paired player handed from the queue to the match factory.
type Seat struct {
	PlayerID      string
	Rating        int
	ConnectionRef string
}

// MatchSummary is the durable record of a terminal match.
type MatchSummary struct {
	MatchID      string               `json:"match_id"`
	Mode         string               `json:"mode"`
	Status       string               `json:"status"`
	Reason       string               `json:"reason"`
	ArenaID      string               `json:"arena_id"`
	Seed         int64                `json:"seed"`
	Turns        int                  `json:"turns"`
	Checksum     string               `json:"checksum"`
	CreatedAt    time.Time            `json:"created_at"`
	StartedAt    time.Time            `json:"started_at"`
	EndedAt      time.Time            `json:"ended_at"`
	Participants []ParticipantSummary `json:"participants"`
}

// ParticipantSummary is one participant's final outcome.
type ParticipantSummary struct {
	PlayerID    string `json:"player_id"`
	Team        int    `json:"team"`
	Result      string `json:"result"`
	RatingDelta int    `json:"rating_delta"`
}
