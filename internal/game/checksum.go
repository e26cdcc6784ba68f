package game

import (
	"bytes"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"

	"github.com/cardarena/arena-server-go/internal/game/mana"
)

// Checksum is a SHA-256 over a canonical rendering of the match state.
// Two machines that applied the same operations produce the same checksum.
// Phase deadlines are wall-clock derived and excluded.
func (m *Machine) Checksum() string {
	sum := sha256.Sum256([]byte(m.canonical()))
	return hex.EncodeToString(sum[:])
}

// canonical renders the state independent of map iteration order.
func (m *Machine) canonical() string {
	var buf bytes.Buffer

	clock := m.Clock()
	fmt.Fprintf(&buf, "MATCH:%s|%s|%d|%s|%s|%s\n", m.id, m.mode, m.seed, m.status, m.reason, m.arena.ID)
	fmt.Fprintf(&buf, "CLOCK:%d|%s|%d\n", clock.Turn, clock.Phase, clock.CurrentTeam)

	for _, p := range m.participants {
		fmt.Fprintf(&buf, "SEAT:%d|%s|%d|%s|%d|%t|%t\n",
			p.Team, p.PlayerID, p.Rating, p.Result, p.RatingDelta, p.Ready, p.Abandoned)
	}

	for _, c := range m.st.combatants {
		fmt.Fprintf(&buf, "TEAM:%d|%d/%d|%d|%t|%d\n", c.Team, c.Health, c.MaxHealth, c.Energy, c.Eliminated, c.idleTurns)

		amounts := c.Mana.Amounts()
		colors := make([]string, 0, len(amounts))
		for color := range amounts {
			colors = append(colors, string(color))
		}
		sort.Strings(colors)
		for _, color := range colors {
			fmt.Fprintf(&buf, "  MANA:%s=%d\n", color, amounts[mana.Color(color)])
		}

		// Deck, hand and status order is part of the state.
		buf.WriteString("  DECK:" + instanceList(c.Deck) + "\n")
		buf.WriteString("  HAND:" + instanceList(c.Hand) + "\n")
		buf.WriteString("  DISCARD:" + strings.Join(c.Discard, ",") + "\n")

		for _, s := range c.Statuses {
			fmt.Fprintf(&buf, "  STATUS:%d|%s|%d|%d|%t|%d|%s|%t|%d\n",
				s.ID, s.Kind, s.Magnitude, s.Remaining, s.Permanent, s.SourceTeam, s.Color, s.Hidden, s.AppliedTurn)
		}
		for _, u := range c.Board {
			fmt.Fprintf(&buf, "  UNIT:%s|%s|%d|%d/%d|%d|%d|%d|%d\n",
				u.InstanceID, u.CardID, u.Attack, u.Health, u.MaxHealth, u.SummonedTurn, u.AttackedTurn, u.Charge, u.Cooldown)
			for _, mod := range u.Modifiers {
				fmt.Fprintf(&buf, "    MOD:%s|%d|%d|%t|%d\n", mod.Stat, mod.Amount, mod.Remaining, mod.Permanent, mod.AppliedTurn)
			}
		}
	}
	return buf.String()
}

func instanceList(cards []CardInstance) string {
	parts := make([]string, len(cards))
	for i, c := range cards {
		parts[i] = c.InstanceID + "=" + c.CardID
	}
	return strings.Join(parts, ",")
}
