package game

import (
	"math/rand"
	"testing"
	"time"

	"github.com/cardarena/arena-server-go/internal/game/targeting"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

var mixedDeck = []string{"grunt", "brute", "zap", "bolt", "ember", "veil", "daze", "sage", "grunt", "zap", "bolt", "sage"}

// randomPlay drives m with pseudo-random input derived from seed. Most
// input is illegal and must be rejected without touching the state.
func randomPlay(t *testing.T, m *Machine, seed int64, steps int) {
	t.Helper()
	r := rand.New(rand.NewSource(seed))
	now := t0
	for i := 0; i < steps && m.Status() == StatusActive; i++ {
		now = now.Add(time.Duration(r.Intn(4000)) * time.Millisecond)
		team := r.Intn(2)
		c := m.st.combatants[team]

		before := m.Checksum()
		var err error
		switch r.Intn(6) {
		case 0, 1:
			_, err = m.AdvancePhase(TriggerExplicit, team, now)
		case 2:
			if len(c.Hand) == 0 {
				continue
			}
			card := c.Hand[r.Intn(len(c.Hand))]
			action := ActionSummon
			if r.Intn(2) == 0 {
				action = ActionActivateAbility
			}
			_, err = m.ApplyAction(team, CardActivation{CardID: card.InstanceID, Action: action, Target: randomTarget(r, m)}, now)
		case 3:
			if len(c.Board) == 0 {
				continue
			}
			unit := c.Board[r.Intn(len(c.Board))]
			action := ActionAttack
			if r.Intn(2) == 0 {
				action = ActionUltimate
			}
			_, err = m.ApplyAction(team, CardActivation{CardID: unit.InstanceID, Action: action, Target: randomTarget(r, m)}, now)
		case 4:
			_, err = m.Cancel(team, "", now)
		case 5:
			_, err = m.AdvancePhase(TriggerTimeout, -1, now)
		}

		if err != nil {
			var serr *StateError
			require.NotErrorAs(t, err, &serr, "step %d", i)
			require.Equal(t, before, m.Checksum(), "rejected input changed state at step %d: %v", i, err)
		}
		require.NoError(t, m.checkInvariants(), "step %d", i)
		for _, cs := range m.st.combatants {
			require.GreaterOrEqual(t, cs.Energy, 0)
			require.GreaterOrEqual(t, cs.Health, 0)
			require.LessOrEqual(t, len(cs.Hand), m.rules.MaxHand)
		}
	}
}

func randomTarget(r *rand.Rand, m *Machine) string {
	options := []string{"", targeting.TeamRef(0), targeting.TeamRef(1)}
	for _, c := range m.st.combatants {
		for _, u := range c.Board {
			options = append(options, u.InstanceID)
		}
	}
	return options[r.Intn(len(options))]
}

func TestRandomPlayKeepsInvariants(t *testing.T) {
	for seed := int64(1); seed <= 20; seed++ {
		m := startedMachine(t, [][]string{mixedDeck, mixedDeck}, nil)
		randomPlay(t, m, seed, 400)
		require.NotEqual(t, ReasonStateError, m.Reason(), "seed %d", seed)
	}
}

func TestSameInputSameState(t *testing.T) {
	for seed := int64(1); seed <= 10; seed++ {
		a := startedMachine(t, [][]string{mixedDeck, mixedDeck}, nil)
		b := startedMachine(t, [][]string{mixedDeck, mixedDeck}, nil)
		randomPlay(t, a, seed, 300)
		randomPlay(t, b, seed, 300)
		if a.Checksum() != b.Checksum() {
			t.Fatalf("seed %d: checksums differ: %s vs %s", seed, a.Checksum(), b.Checksum())
		}

		replayed, err := Reproduce(a.ReplayLog(), testCatalog(t), zap.NewNop())
		require.NoError(t, err, "seed %d", seed)
		require.Equal(t, a.Checksum(), replayed.Checksum())
	}
}

func TestShuffleDependsOnMatchID(t *testing.T) {
	deck := []string{"grunt", "brute", "zap", "bolt", "ember", "veil", "daze", "sage"}
	order := func(id string) []string {
		m, err := NewMachine(MachineConfig{
			MatchID: id, Mode: "1v1", ArenaID: "plain", Seats: duelSeats(),
			Rules: DefaultRules(), Catalog: testCatalog(t), CreatedAt: t0,
		})
		require.NoError(t, err)
		_, err = m.Start([][]string{deck, deck}, t0)
		require.NoError(t, err)
		c := m.st.combatants[0]
		var ids []string
		for _, card := range append(append([]CardInstance{}, c.Hand...), c.Deck...) {
			ids = append(ids, card.CardID+"/"+card.InstanceID)
		}
		return ids
	}
	require.Equal(t, order("same"), order("same"))
	require.NotEqual(t, order("one"), order("two"))
}
