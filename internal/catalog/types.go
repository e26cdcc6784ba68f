package catalog

import "github.com/cardarena/arena-server-go/internal/game/mana"

// CardKind separates cards that stay on the board from one-shot spells.
type CardKind string

const (
	CardUnit  CardKind = "unit"
	CardSpell CardKind = "spell"
)

// Speed controls whether a card may be played as an out-of-turn response.
type Speed string

const (
	SpeedNormal Speed = "normal"
	SpeedFast   Speed = "fast"
)

// DamageType is the element of damage or healing an arena can modify.
type DamageType string

const (
	DamagePhysical DamageType = "physical"
	DamageFire     DamageType = "fire"
	DamageFrost    DamageType = "frost"
	DamagePoison   DamageType = "poison"
	DamageArcane   DamageType = "arcane"
	DamageHoly     DamageType = "holy"
)

var damageTypes = map[DamageType]bool{
	DamagePhysical: true,
	DamageFire:     true,
	DamageFrost:    true,
	DamagePoison:   true,
	DamageArcane:   true,
	DamageHoly:     true,
}

// AbilityKind is the closed set of ability behaviors the resolver knows.
type AbilityKind string

const (
	AbilityDamage    AbilityKind = "damage"
	AbilityHeal      AbilityKind = "heal"
	AbilityBuff      AbilityKind = "buff"
	AbilityDebuff    AbilityKind = "debuff"
	AbilityStatus    AbilityKind = "status"
	AbilityResource  AbilityKind = "resource"
	AbilityTeleport  AbilityKind = "teleport"
	AbilityReflect   AbilityKind = "reflect"
	AbilityImmunity  AbilityKind = "immunity"
	AbilityLifesteal AbilityKind = "lifesteal"
)

// AbilityKinds lists every kind in a stable order.
var AbilityKinds = []AbilityKind{
	AbilityDamage, AbilityHeal, AbilityBuff, AbilityDebuff, AbilityStatus,
	AbilityResource, AbilityTeleport, AbilityReflect, AbilityImmunity, AbilityLifesteal,
}

// StatusKind is a persistent effect on a combatant.
type StatusKind string

const (
	StatusBurn          StatusKind = "burn"
	StatusPoison        StatusKind = "poison"
	StatusFreeze        StatusKind = "freeze"
	StatusStun          StatusKind = "stun"
	StatusAttackBuff    StatusKind = "attack_buff"
	StatusAttackDebuff  StatusKind = "attack_debuff"
	StatusDefenseBuff   StatusKind = "defense_buff"
	StatusDefenseDebuff StatusKind = "defense_debuff"
	StatusReflect       StatusKind = "reflect"
	StatusImmunity      StatusKind = "immunity"
)

type statusRule struct {
	cap      int
	negative bool
	damage   DamageType
}

var statusRules = map[StatusKind]statusRule{
	StatusBurn:          {cap: 3, negative: true, damage: DamageFire},
	StatusPoison:        {cap: 5, negative: true, damage: DamagePoison},
	StatusFreeze:        {cap: 1, negative: true},
	StatusStun:          {cap: 1, negative: true},
	StatusAttackBuff:    {cap: 3},
	StatusAttackDebuff:  {cap: 3, negative: true},
	StatusDefenseBuff:   {cap: 3},
	StatusDefenseDebuff: {cap: 3, negative: true},
	StatusReflect:       {cap: 1},
	StatusImmunity:      {cap: 1},
}

// Valid reports whether k is a known status kind.
func (k StatusKind) Valid() bool {
	_, ok := statusRules[k]
	return ok
}

// Cap is the maximum number of concurrent entries of this kind on one combatant.
func (k StatusKind) Cap() int {
	return statusRules[k].cap
}

// Negative reports whether immunity blocks this kind.
func (k StatusKind) Negative() bool {
	return statusRules[k].negative
}

// TickDamage returns the damage type dealt each turn, if any.
func (k StatusKind) TickDamage() (DamageType, bool) {
	dt := statusRules[k].damage
	return dt, dt != ""
}

// Stat is a unit or combatant statistic a buff can change.
type Stat string

const (
	StatAttack  Stat = "attack"
	StatDefense Stat = "defense"
)

// TargetSide restricts whose things an ability may target.
type TargetSide string

const (
	TargetNone     TargetSide = "none"
	TargetSelf     TargetSide = "self"
	TargetFriendly TargetSide = "friendly"
	TargetEnemy    TargetSide = "enemy"
	TargetAny      TargetSide = "any"
)

// TargetScope restricts what kind of thing an ability may target.
type TargetScope string

const (
	ScopeCombatant TargetScope = "combatant"
	ScopeUnit      TargetScope = "unit"
	ScopeAny       TargetScope = "any"
)

// TargetRule is the targeting declaration of an ability.
type TargetRule struct {
	Side  TargetSide  `json:"side"`
	Scope TargetScope `json:"scope"`
}

// AbilityDefinition is the static data of one ability.
type AbilityDefinition struct {
	ID         string      `json:"id"`
	Kind       AbilityKind `json:"kind"`
	DamageType DamageType  `json:"damage_type,omitempty"`
	Magnitude  int         `json:"magnitude"`
	// Duration in owner turns. Zero makes buffs permanent.
	Duration   int        `json:"duration,omitempty"`
	Status     StatusKind `json:"status,omitempty"`
	Stat       Stat       `json:"stat,omitempty"`
	Color      mana.Color `json:"color,omitempty"`
	Target     TargetRule `json:"target"`
	EnergyCost int        `json:"energy_cost,omitempty"`
	ManaCost   mana.Cost  `json:"mana_cost,omitempty"`
	ChargeCost int        `json:"charge_cost,omitempty"`
	Cooldown   int        `json:"cooldown,omitempty"`
	Hidden     bool       `json:"hidden,omitempty"`
}

// CardDefinition is the static data of one card.
type CardDefinition struct {
	ID         string              `json:"id"`
	Name       string              `json:"name"`
	Kind       CardKind            `json:"kind"`
	Color      mana.Color          `json:"color"`
	Speed      Speed               `json:"speed"`
	EnergyCost int                 `json:"energy_cost"`
	ManaCost   mana.Cost           `json:"mana_cost,omitempty"`
	Attack     int                 `json:"attack,omitempty"`
	Health     int                 `json:"health,omitempty"`
	Abilities  []AbilityDefinition `json:"abilities,omitempty"`
	Ultimate   *AbilityDefinition  `json:"ultimate,omitempty"`
}

// Ability returns the ability with the given id, or the first ability when id is empty.
func (c *CardDefinition) Ability(id string) (*AbilityDefinition, bool) {
	if len(c.Abilities) == 0 {
		return nil, false
	}
	if id == "" {
		return &c.Abilities[0], true
	}
	for i := range c.Abilities {
		if c.Abilities[i].ID == id {
			return &c.Abilities[i], true
		}
	}
	return nil, false
}

// EffectClass is what an arena modifier applies to.
type EffectClass string

const (
	EffectDamage EffectClass = "damage"
	EffectHeal   EffectClass = "heal"
)

// ArenaModifier adds Additive and then scales by Percent. An empty
// DamageType or Color matches everything.
type ArenaModifier struct {
	Effect     EffectClass `json:"effect"`
	DamageType DamageType  `json:"damage_type,omitempty"`
	Color      mana.Color  `json:"color,omitempty"`
	Additive   int         `json:"additive,omitempty"`
	Percent    int         `json:"percent,omitempty"`
}

// AffinityBonus is added to the damage and healing of cards whose color
// matches the arena's affinity.
const AffinityBonus = 1

// ArenaDefinition is the environment a match is played in.
type ArenaDefinition struct {
	ID        string          `json:"id"`
	Name      string          `json:"name"`
	// Affinity grants AffinityBonus to cards of this color. Empty means none.
	Affinity  mana.Color      `json:"affinity,omitempty"`
	Modifiers []ArenaModifier `json:"modifiers,omitempty"`
}
