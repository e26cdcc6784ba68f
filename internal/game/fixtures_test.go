package game

import (
	"testing"
	"time"

	"github.com/cardarena/arena-server-go/internal/catalog"
	"github.com/cardarena/arena-server-go/internal/game/effects"
	"github.com/cardarena/arena-server-go/internal/game/mana"
	"github.com/cardarena/arena-server-go/internal/game/rules"
	"github.com/cardarena/arena-server-go/internal/ports"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var t0 = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func enemyAny() catalog.TargetRule {
	return catalog.TargetRule{Side: catalog.TargetEnemy, Scope: catalog.ScopeAny}
}

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	cards := []catalog.CardDefinition{
		{ID: "grunt", Name: "Grunt", Kind: catalog.CardUnit, Color: mana.ColorRed, EnergyCost: 2, Attack: 2, Health: 3},
		{ID: "brute", Name: "Brute", Kind: catalog.CardUnit, Color: mana.ColorBlack, EnergyCost: 1, Attack: 3, Health: 2},
		{ID: "zap", Name: "Zap", Kind: catalog.CardSpell, Color: mana.ColorRed, EnergyCost: 1,
			Abilities: []catalog.AbilityDefinition{{ID: "zap", Kind: catalog.AbilityDamage, DamageType: catalog.DamageFire, Magnitude: 1, Target: enemyAny()}}},
		{ID: "bolt", Name: "Bolt", Kind: catalog.CardSpell, Color: mana.ColorBlue, Speed: catalog.SpeedFast, EnergyCost: 1,
			Abilities: []catalog.AbilityDefinition{{ID: "bolt", Kind: catalog.AbilityDamage, DamageType: catalog.DamageFrost, Magnitude: 2, Target: enemyAny()}}},
		{ID: "ember", Name: "Ember", Kind: catalog.CardSpell, Color: mana.ColorRed, EnergyCost: 1, ManaCost: mana.Cost{mana.ColorRed: 2},
			Abilities: []catalog.AbilityDefinition{{ID: "ember", Kind: catalog.AbilityDamage, DamageType: catalog.DamageFire, Magnitude: 3, Target: enemyAny()}}},
		{ID: "veil", Name: "Veil", Kind: catalog.CardSpell, Color: mana.ColorBlack, EnergyCost: 1,
			Abilities: []catalog.AbilityDefinition{{ID: "veil", Kind: catalog.AbilityStatus, Status: catalog.StatusPoison, Magnitude: 1, Duration: 2, Hidden: true,
				Target: catalog.TargetRule{Side: catalog.TargetEnemy, Scope: catalog.ScopeCombatant}}}},
		{ID: "daze", Name: "Daze", Kind: catalog.CardSpell, Color: mana.ColorWhite, EnergyCost: 1,
			Abilities: []catalog.AbilityDefinition{{ID: "daze", Kind: catalog.AbilityStatus, Status: catalog.StatusStun, Duration: 1,
				Target: catalog.TargetRule{Side: catalog.TargetEnemy, Scope: catalog.ScopeCombatant}}}},
		{ID: "sage", Name: "Sage", Kind: catalog.CardUnit, Color: mana.ColorWhite, EnergyCost: 2, Attack: 1, Health: 2,
			Ultimate: &catalog.AbilityDefinition{ID: "nova", Kind: catalog.AbilityDamage, DamageType: catalog.DamageHoly, Magnitude: 4, ChargeCost: 1, Cooldown: 2,
				Target: catalog.TargetRule{Side: catalog.TargetEnemy, Scope: catalog.ScopeCombatant}}},
	}
	arenas := []catalog.ArenaDefinition{{ID: "plain", Name: "Plain"}}
	cat, err := catalog.New(cards, arenas)
	require.NoError(t, err)
	return cat
}

func repeat(card string, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = card
	}
	return out
}

func duelSeats() []ports.Seat {
	return []ports.Seat{{PlayerID: "alice", Rating: 1000}, {PlayerID: "bob", Rating: 1000}}
}

func newQueuedMachine(t *testing.T, seats []ports.Seat, mutate func(*Rules)) *Machine {
	t.Helper()
	r := DefaultRules()
	if mutate != nil {
		mutate(&r)
	}
	m, err := NewMachine(MachineConfig{
		MatchID:   "match-1",
		Mode:      "1v1",
		ArenaID:   "plain",
		Seats:     seats,
		Rules:     r,
		Catalog:   testCatalog(t),
		CreatedAt: t0,
		Logger:    zap.NewNop(),
	})
	require.NoError(t, err)
	return m
}

// startedMachine returns an active duel at turn 1, draw phase, team 0 to act.
func startedMachine(t *testing.T, decks [][]string, mutate func(*Rules)) *Machine {
	t.Helper()
	m := newQueuedMachine(t, duelSeats(), mutate)
	for team := range decks {
		_, err := m.MarkReady(team, t0)
		require.NoError(t, err)
	}
	_, err := m.Start(decks, t0)
	require.NoError(t, err)
	return m
}

// advanceTo moves the current team's turn forward to phase with explicit
// advances one second apart. It returns the time of the last advance.
func advanceTo(t *testing.T, m *Machine, phase rules.Phase, now time.Time) time.Time {
	t.Helper()
	for m.Clock().Phase != phase {
		now = now.Add(time.Second)
		_, err := m.AdvancePhase(TriggerExplicit, m.Clock().CurrentTeam, now)
		require.NoError(t, err)
	}
	return now
}

// passTurn ends the current turn and returns the time of the last advance.
func passTurn(t *testing.T, m *Machine, now time.Time) time.Time {
	t.Helper()
	turn := m.Clock().Turn
	for m.Clock().Turn == turn && m.Status() == StatusActive {
		now = now.Add(time.Second)
		_, err := m.AdvancePhase(TriggerExplicit, m.Clock().CurrentTeam, now)
		require.NoError(t, err)
	}
	return now
}

func findChange(d effects.Delta, kind effects.ChangeKind) (effects.Change, bool) {
	for _, ch := range d.Changes {
		if ch.Kind == kind {
			return ch, true
		}
	}
	return effects.Change{}, false
}

func combatant(m *Machine, team int) *CombatantState {
	return m.st.combatants[team]
}
