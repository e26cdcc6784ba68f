package effects

import (
	"github.com/cardarena/arena-server-go/internal/catalog"
	"github.com/cardarena/arena-server-go/internal/game/mana"
)

// ChangeKind names one entry of a delta.
type ChangeKind string

// Changes produced by the resolver.
const (
	ChangeDamage         ChangeKind = "damage"
	ChangeHeal           ChangeKind = "heal"
	ChangeEnergy         ChangeKind = "energy"
	ChangeMana           ChangeKind = "mana"
	ChangeStatusAdded    ChangeKind = "status_added"
	ChangeStatusExpired  ChangeKind = "status_expired"
	ChangeStatusConsumed ChangeKind = "status_consumed"
	ChangeModifier       ChangeKind = "modifier"
	ChangeReturnToHand   ChangeKind = "return_to_hand"
	ChangeImmune         ChangeKind = "immune"
)

// Changes produced by the match state machine around resolution.
const (
	ChangeSummon        ChangeKind = "summon"
	ChangeCardPlayed    ChangeKind = "card_played"
	ChangeUnitDestroyed ChangeKind = "unit_destroyed"
	ChangeDraw          ChangeKind = "draw"
	ChangeBurned        ChangeKind = "burned"
	ChangeCharge        ChangeKind = "charge"
	ChangePhase         ChangeKind = "phase"
	ChangeTurn          ChangeKind = "turn"
	ChangeCancelled     ChangeKind = "action_cancelled"
	ChangeConnection    ChangeKind = "connection"
)

// Change is one atomic state change. Value is filled in when the change is
// applied and holds the resulting absolute value (health, energy, mana).
type Change struct {
	Kind       ChangeKind         `json:"kind"`
	Team       int                `json:"team"`
	Unit       string             `json:"unit,omitempty"`
	Card       string             `json:"card,omitempty"`
	Amount     int                `json:"amount,omitempty"`
	Value      int                `json:"value"`
	DamageType catalog.DamageType `json:"damage_type,omitempty"`
	Color      mana.Color         `json:"color,omitempty"`
	Status     *StatusEffect      `json:"status,omitempty"`
	Modifier   *Modifier          `json:"modifier,omitempty"`
	Detail     string             `json:"detail,omitempty"`
	// Private changes are only shown to Team.
	Private bool `json:"-"`
}

// Delta is an ordered list of changes.
type Delta struct {
	Changes []Change `json:"changes"`
}

// Add appends changes.
func (d *Delta) Add(changes ...Change) {
	d.Changes = append(d.Changes, changes...)
}

// Merge appends all changes of other.
func (d *Delta) Merge(other Delta) {
	d.Changes = append(d.Changes, other.Changes...)
}

// Empty reports whether the delta has no changes.
func (d Delta) Empty() bool {
	return len(d.Changes) == 0
}

// Modifier is a stat change on a unit.
type Modifier struct {
	Stat        catalog.Stat `json:"stat"`
	Amount      int          `json:"amount"`
	Remaining   int          `json:"remaining,omitempty"`
	Permanent   bool         `json:"permanent,omitempty"`
	AppliedTurn int          `json:"applied_turn"`
}

// ModifierSum totals the modifiers for one stat.
func ModifierSum(mods []Modifier, stat catalog.Stat) int {
	total := 0
	for _, m := range mods {
		if m.Stat == stat {
			total += m.Amount
		}
	}
	return total
}
