package effects

import (
	"github.com/cardarena/arena-server-go/internal/catalog"
	"github.com/cardarena/arena-server-go/internal/game/mana"
)

// StatusEffect is an active effect on a combatant. Effects are kept in the
// order they were applied; ticks resolve in that order.
type StatusEffect struct {
	ID         int                `json:"id"`
	Kind       catalog.StatusKind `json:"kind"`
	Magnitude  int                `json:"magnitude,omitempty"`
	Remaining  int                `json:"remaining,omitempty"`
	Permanent  bool               `json:"permanent,omitempty"`
	SourceTeam int                `json:"source_team"`
	Color      mana.Color         `json:"color,omitempty"`
	Hidden     bool               `json:"hidden,omitempty"`
	// AppliedTurn is the turn the effect was applied or last refreshed in.
	// The owner's end of turn skips the decrement for that turn.
	AppliedTurn int `json:"applied_turn"`
}

// Enqueue adds s to statuses, honoring the per-kind cap. At the cap the
// oldest entry of the kind is refreshed in place with the stronger
// magnitude and longer duration, so FIFO order is preserved. The returned
// index is the slot that now holds s.
func Enqueue(statuses []StatusEffect, s StatusEffect) ([]StatusEffect, int) {
	count := 0
	oldest := -1
	for i, existing := range statuses {
		if existing.Kind != s.Kind {
			continue
		}
		if oldest < 0 {
			oldest = i
		}
		count++
	}
	if count < s.Kind.Cap() || oldest < 0 {
		return append(statuses, s), len(statuses)
	}

	refreshed := statuses[oldest]
	if s.Magnitude > refreshed.Magnitude {
		refreshed.Magnitude = s.Magnitude
	}
	if s.Permanent {
		refreshed.Permanent = true
		refreshed.Remaining = 0
	} else if !refreshed.Permanent && s.Remaining > refreshed.Remaining {
		refreshed.Remaining = s.Remaining
	}
	refreshed.SourceTeam = s.SourceTeam
	refreshed.Color = s.Color
	refreshed.Hidden = s.Hidden
	refreshed.AppliedTurn = s.AppliedTurn
	statuses[oldest] = refreshed
	return statuses, oldest
}

// Has reports whether any status of kind is active.
func Has(statuses []StatusEffect, kind catalog.StatusKind) bool {
	for _, s := range statuses {
		if s.Kind == kind {
			return true
		}
	}
	return false
}

// Sum totals the magnitude of every status of kind.
func Sum(statuses []StatusEffect, kind catalog.StatusKind) int {
	total := 0
	for _, s := range statuses {
		if s.Kind == kind {
			total += s.Magnitude
		}
	}
	return total
}

// First returns the oldest status of kind.
func First(statuses []StatusEffect, kind catalog.StatusKind) (StatusEffect, bool) {
	for _, s := range statuses {
		if s.Kind == kind {
			return s, true
		}
	}
	return StatusEffect{}, false
}
