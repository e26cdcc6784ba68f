package game

import (
	"time"

	"github.com/cardarena/arena-server-go/internal/game/effects"
	"github.com/cardarena/arena-server-go/internal/game/mana"
)

// Spectator is the viewer index that sees no private information.
const Spectator = -1

// Snapshot is the full match state as one viewer may see it.
type Snapshot struct {
	MatchID      string          `json:"match_id"`
	Mode         string          `json:"mode"`
	Status       Status          `json:"status"`
	Reason       string          `json:"reason,omitempty"`
	ArenaID      string          `json:"arena_id"`
	Turn         int             `json:"turn"`
	Phase        string          `json:"phase"`
	CurrentTeam  int             `json:"current_team"`
	Deadline     int64           `json:"deadline,omitempty"`
	WindowCloses int64           `json:"window_closes,omitempty"`
	Viewer       int             `json:"viewer"`
	Participants []Participant   `json:"participants"`
	Combatants   []CombatantView `json:"combatants"`
	Checksum     string          `json:"checksum"`
}

// CombatantView is one combatant as seen by a viewer. Hand is only set for
// the viewer's own team; everyone else sees HandSize.
type CombatantView struct {
	Team       int                    `json:"team"`
	Health     int                    `json:"health"`
	MaxHealth  int                    `json:"max_health"`
	Energy     int                    `json:"energy"`
	Mana       map[mana.Color]int     `json:"mana"`
	Hand       []CardInstance         `json:"hand,omitempty"`
	HandSize   int                    `json:"hand_size"`
	DeckSize   int                    `json:"deck_size"`
	Board      []Unit                 `json:"board"`
	Discard    []string               `json:"discard"`
	Statuses   []effects.StatusEffect `json:"statuses"`
	Eliminated bool                   `json:"eliminated"`
}

func statusVisible(owner int, s effects.StatusEffect, viewer int) bool {
	return !s.Hidden || viewer == owner || viewer == s.SourceTeam
}

// Snapshot renders the state for viewer, a team index or Spectator.
func (m *Machine) Snapshot(viewer int) *Snapshot {
	clock := m.Clock()
	snap := &Snapshot{
		MatchID:      m.id,
		Mode:         m.mode,
		Status:       m.status,
		Reason:       m.reason,
		ArenaID:      m.arena.ID,
		Turn:         clock.Turn,
		Phase:        clock.Phase.String(),
		CurrentTeam:  clock.CurrentTeam,
		Viewer:       viewer,
		Participants: m.Participants(),
		Checksum:     m.Checksum(),
	}
	if !clock.Deadline.IsZero() {
		snap.Deadline = clock.Deadline.UnixMilli()
	}
	if w := m.st.window; w != nil {
		snap.WindowCloses = w.ClosesAt.UnixMilli()
	}

	for _, c := range m.st.combatants {
		view := CombatantView{
			Team:       c.Team,
			Health:     c.Health,
			MaxHealth:  c.MaxHealth,
			Energy:     c.Energy,
			Mana:       c.Mana.Amounts(),
			HandSize:   len(c.Hand),
			DeckSize:   len(c.Deck),
			Board:      make([]Unit, 0, len(c.Board)),
			Discard:    append([]string{}, c.Discard...),
			Statuses:   []effects.StatusEffect{},
			Eliminated: c.Eliminated,
		}
		if viewer == c.Team {
			view.Hand = append([]CardInstance(nil), c.Hand...)
		}
		for _, u := range c.Board {
			view.Board = append(view.Board, *u.clone())
		}
		for _, s := range c.Statuses {
			if statusVisible(c.Team, s, viewer) {
				view.Statuses = append(view.Statuses, s)
			}
		}
		snap.Combatants = append(snap.Combatants, view)
	}
	return snap
}

// DeltaFor redacts a delta for viewer. Private changes of other teams keep
// their kind but lose the card identity; changes to hidden statuses the
// viewer cannot see are dropped.
func DeltaFor(d effects.Delta, viewer int) effects.Delta {
	out := effects.Delta{Changes: make([]effects.Change, 0, len(d.Changes))}
	for _, ch := range d.Changes {
		if ch.Status != nil && !statusVisible(ch.Team, *ch.Status, viewer) {
			continue
		}
		if ch.Private && ch.Team != viewer {
			ch.Card = ""
			ch.Unit = ""
		}
		out.Changes = append(out.Changes, ch)
	}
	return out
}

// TimeLeft returns the time until the current phase deadline.
func (m *Machine) TimeLeft(now time.Time) time.Duration {
	deadline := m.Clock().Deadline
	if deadline.IsZero() || now.After(deadline) {
		return 0
	}
	return deadline.Sub(now)
}
