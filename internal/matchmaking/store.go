// Package matchmaking pairs queued players into matches.
package matchmaking

import (
	"context"
	"errors"
	"sort"
	"sync"
	"time"
)

var (
	// ErrAlreadyQueued is returned when the player already waits in the mode.
	ErrAlreadyQueued = errors.New("already queued")
	// ErrQueueUnavailable marks a transient storage failure.
	ErrQueueUnavailable = errors.New("queue unavailable")
	// ErrUnknownMode is returned for modes the server does not offer.
	ErrUnknownMode = errors.New("unknown mode")
)

// Entry is one waiting player.
type Entry struct {
	Mode          string
	PlayerID      string
	ConnectionRef string
	Rating        int
	EnqueuedAt    time.Time
}

// Store keeps queue entries. List returns entries in FIFO order.
// RemoveGroup deletes every listed player or none of them and reports
// whether the group was removed.
type Store interface {
	Insert(ctx context.Context, e Entry) error
	Delete(ctx context.Context, mode, playerID string) (bool, error)
	List(ctx context.Context, mode string) ([]Entry, error)
	RemoveGroup(ctx context.Context, mode string, playerIDs []string) (bool, error)
}

// MemoryStore is an in-process Store.
type MemoryStore struct {
	mu      sync.Mutex
	entries map[string][]Entry
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entries: make(map[string][]Entry)}
}

func (s *MemoryStore) Insert(_ context.Context, e Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, existing := range s.entries[e.Mode] {
		if existing.PlayerID == e.PlayerID {
			return ErrAlreadyQueued
		}
	}
	s.entries[e.Mode] = append(s.entries[e.Mode], e)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, mode, playerID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entries := s.entries[mode]
	for i, e := range entries {
		if e.PlayerID == playerID {
			s.entries[mode] = append(entries[:i], entries[i+1:]...)
			return true, nil
		}
	}
	return false, nil
}

func (s *MemoryStore) List(_ context.Context, mode string) ([]Entry, error) {
	s.mu.Lock()
	out := append([]Entry(nil), s.entries[mode]...)
	s.mu.Unlock()
	sort.SliceStable(out, func(i, j int) bool { return out[i].EnqueuedAt.Before(out[j].EnqueuedAt) })
	return out, nil
}

func (s *MemoryStore) RemoveGroup(_ context.Context, mode string, playerIDs []string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	want := make(map[string]bool, len(playerIDs))
	for _, id := range playerIDs {
		want[id] = true
	}
	kept := make([]Entry, 0, len(s.entries[mode]))
	found := 0
	for _, e := range s.entries[mode] {
		if want[e.PlayerID] {
			found++
			continue
		}
		kept = append(kept, e)
	}
	if found != len(want) {
		return false, nil
	}
	s.entries[mode] = kept
	return true, nil
}
