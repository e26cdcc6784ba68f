package effects

import (
	"errors"
	"fmt"

	"github.com/cardarena/arena-server-go/internal/catalog"
	"github.com/cardarena/arena-server-go/internal/game/mana"
)

var (
	// ErrUnknownAbility means the catalog holds an ability kind no handler
	// exists for. Catalog validation keeps this from reaching a match.
	ErrUnknownAbility = errors.New("unknown ability kind")
	// ErrInvalidActivation means the activation does not fit the ability,
	// e.g. a teleport without a unit target.
	ErrInvalidActivation = errors.New("invalid activation")
)

// Side is the resolver's read-only view of one combatant.
type Side struct {
	Team      int
	Health    int
	MaxHealth int
	Statuses  []StatusEffect
}

// UnitView is the resolver's read-only view of a unit on the board.
type UnitView struct {
	InstanceID string
	Owner      int
	Attack     int
	Health     int
	MaxHealth  int
	Modifiers  []Modifier
}

// Activation is everything needed to resolve one ability.
type Activation struct {
	Ability catalog.AbilityDefinition
	// Color of the source card, used for arena affinity.
	Color      mana.Color
	Source     Side
	SourceUnit *UnitView
	// Target is the combatant that owns the target. TargetUnit is nil when
	// the combatant itself is targeted.
	Target     Side
	TargetUnit *UnitView
	Arena      *catalog.ArenaDefinition
}

type handler func(a *Activation) (Delta, error)

// Resolver turns activations into deltas. It never mutates its inputs.
type Resolver struct {
	handlers map[catalog.AbilityKind]handler
}

// NewResolver creates a resolver with a handler for every ability kind.
func NewResolver() *Resolver {
	r := &Resolver{}
	r.handlers = map[catalog.AbilityKind]handler{
		catalog.AbilityDamage:    r.damage,
		catalog.AbilityHeal:      r.heal,
		catalog.AbilityBuff:      r.buff,
		catalog.AbilityDebuff:    r.buff,
		catalog.AbilityStatus:    r.status,
		catalog.AbilityResource:  r.resource,
		catalog.AbilityTeleport:  r.teleport,
		catalog.AbilityReflect:   r.status,
		catalog.AbilityImmunity:  r.status,
		catalog.AbilityLifesteal: r.lifesteal,
	}
	return r
}

// Supports reports whether kind has a handler.
func (r *Resolver) Supports(kind catalog.AbilityKind) bool {
	_, ok := r.handlers[kind]
	return ok
}

// Resolve computes the delta of one activation.
func (r *Resolver) Resolve(a Activation) (Delta, error) {
	h, ok := r.handlers[a.Ability.Kind]
	if !ok {
		return Delta{}, fmt.Errorf("%w: %q", ErrUnknownAbility, a.Ability.Kind)
	}
	return h(&a)
}

// Tick resolves one turn-start tick of a status effect on owner.
func (r *Resolver) Tick(owner Side, effect StatusEffect, arena *catalog.ArenaDefinition) Delta {
	var d Delta
	dt, ok := effect.Kind.TickDamage()
	if !ok {
		return d
	}
	if Has(owner.Statuses, catalog.StatusImmunity) {
		d.Add(Change{Kind: ChangeImmune, Team: owner.Team, DamageType: dt, Detail: string(effect.Kind)})
		return d
	}
	amount := ApplyArena(arena, catalog.EffectDamage, dt, effect.Color, effect.Magnitude)
	d.Add(Change{Kind: ChangeDamage, Team: owner.Team, Amount: amount, DamageType: dt, Detail: string(effect.Kind)})
	return d
}

// ApplyArena applies the matching arena modifiers to value: additive
// bonuses and the affinity bonus first, then percentages. The result is
// never negative.
func ApplyArena(arena *catalog.ArenaDefinition, effect catalog.EffectClass, dt catalog.DamageType, color mana.Color, value int) int {
	if arena == nil {
		return value
	}
	add := 0
	if arena.Affinity != "" && color == arena.Affinity {
		add += catalog.AffinityBonus
	}
	percent := 100
	for _, mod := range arena.Modifiers {
		if mod.Effect != effect {
			continue
		}
		if mod.DamageType != "" && mod.DamageType != dt {
			continue
		}
		if mod.Color != "" && mod.Color != color {
			continue
		}
		add += mod.Additive
		if mod.Percent > 0 {
			percent = percent * mod.Percent / 100
		}
	}
	out := (value + add) * percent / 100
	if out < 0 {
		return 0
	}
	return out
}

// damageAmount runs steps two to four of resolution: arena bonus, then
// source and target buffs.
func (r *Resolver) damageAmount(a *Activation, base int) int {
	v := ApplyArena(a.Arena, catalog.EffectDamage, a.Ability.DamageType, a.Color, base)

	if a.SourceUnit != nil {
		v += ModifierSum(a.SourceUnit.Modifiers, catalog.StatAttack)
	}
	v += Sum(a.Source.Statuses, catalog.StatusAttackBuff)
	v -= Sum(a.Source.Statuses, catalog.StatusAttackDebuff)

	if a.TargetUnit != nil {
		v -= ModifierSum(a.TargetUnit.Modifiers, catalog.StatDefense)
	} else {
		v -= Sum(a.Target.Statuses, catalog.StatusDefenseBuff)
		v += Sum(a.Target.Statuses, catalog.StatusDefenseDebuff)
	}
	if v < 0 {
		return 0
	}
	return v
}

// strike deals damage to the activation's target and returns the changes
// and the amount the target actually lost.
func (r *Resolver) strike(a *Activation) (Delta, int) {
	var d Delta
	amount := r.damageAmount(a, a.Ability.Magnitude)
	dt := a.Ability.DamageType

	if a.TargetUnit != nil {
		d.Add(Change{Kind: ChangeDamage, Team: a.TargetUnit.Owner, Unit: a.TargetUnit.InstanceID, Amount: amount, DamageType: dt})
		return d, min(amount, a.TargetUnit.Health)
	}

	if Has(a.Target.Statuses, catalog.StatusImmunity) {
		d.Add(Change{Kind: ChangeImmune, Team: a.Target.Team, DamageType: dt})
		return d, 0
	}
	if a.Target.Team != a.Source.Team {
		if reflect, ok := First(a.Target.Statuses, catalog.StatusReflect); ok {
			consumed := reflect
			d.Add(Change{Kind: ChangeStatusConsumed, Team: a.Target.Team, Status: &consumed})
			d.Add(Change{Kind: ChangeDamage, Team: a.Source.Team, Amount: amount, DamageType: dt, Detail: "reflected"})
			return d, 0
		}
	}
	d.Add(Change{Kind: ChangeDamage, Team: a.Target.Team, Amount: amount, DamageType: dt})
	return d, min(amount, a.Target.Health)
}

func (r *Resolver) damage(a *Activation) (Delta, error) {
	d, _ := r.strike(a)
	return d, nil
}

func (r *Resolver) lifesteal(a *Activation) (Delta, error) {
	d, dealt := r.strike(a)
	if dealt > 0 {
		d.Add(Change{Kind: ChangeHeal, Team: a.Source.Team, Amount: dealt, Detail: "lifesteal"})
	}
	return d, nil
}

func (r *Resolver) heal(a *Activation) (Delta, error) {
	var d Delta
	amount := ApplyArena(a.Arena, catalog.EffectHeal, a.Ability.DamageType, a.Color, a.Ability.Magnitude)
	if a.TargetUnit != nil {
		d.Add(Change{Kind: ChangeHeal, Team: a.TargetUnit.Owner, Unit: a.TargetUnit.InstanceID, Amount: amount})
		return d, nil
	}
	d.Add(Change{Kind: ChangeHeal, Team: a.Target.Team, Amount: amount})
	return d, nil
}

func (r *Resolver) buff(a *Activation) (Delta, error) {
	var d Delta
	amount := a.Ability.Magnitude
	negative := a.Ability.Kind == catalog.AbilityDebuff
	if negative {
		amount = -amount
	}

	if a.TargetUnit != nil {
		d.Add(Change{
			Kind: ChangeModifier,
			Team: a.TargetUnit.Owner,
			Unit: a.TargetUnit.InstanceID,
			Modifier: &Modifier{
				Stat:      a.Ability.Stat,
				Amount:    amount,
				Remaining: a.Ability.Duration,
				Permanent: a.Ability.Duration == 0,
			},
		})
		return d, nil
	}

	kind := buffStatus(a.Ability.Stat, negative)
	if kind.Negative() && Has(a.Target.Statuses, catalog.StatusImmunity) {
		d.Add(Change{Kind: ChangeImmune, Team: a.Target.Team, Detail: string(kind)})
		return d, nil
	}
	d.Add(Change{Kind: ChangeStatusAdded, Team: a.Target.Team, Status: &StatusEffect{
		Kind:       kind,
		Magnitude:  a.Ability.Magnitude,
		Remaining:  a.Ability.Duration,
		Permanent:  a.Ability.Duration == 0,
		SourceTeam: a.Source.Team,
		Color:      a.Color,
		Hidden:     a.Ability.Hidden,
	}})
	return d, nil
}

func buffStatus(stat catalog.Stat, negative bool) catalog.StatusKind {
	switch {
	case stat == catalog.StatAttack && !negative:
		return catalog.StatusAttackBuff
	case stat == catalog.StatAttack:
		return catalog.StatusAttackDebuff
	case !negative:
		return catalog.StatusDefenseBuff
	default:
		return catalog.StatusDefenseDebuff
	}
}

func (r *Resolver) status(a *Activation) (Delta, error) {
	var d Delta
	if a.TargetUnit != nil {
		return d, fmt.Errorf("%w: %s applies to combatants only", ErrInvalidActivation, a.Ability.Kind)
	}
	kind := a.Ability.Status
	switch a.Ability.Kind {
	case catalog.AbilityReflect:
		kind = catalog.StatusReflect
	case catalog.AbilityImmunity:
		kind = catalog.StatusImmunity
	}
	if kind.Negative() && Has(a.Target.Statuses, catalog.StatusImmunity) {
		d.Add(Change{Kind: ChangeImmune, Team: a.Target.Team, Detail: string(kind)})
		return d, nil
	}
	d.Add(Change{Kind: ChangeStatusAdded, Team: a.Target.Team, Status: &StatusEffect{
		Kind:       kind,
		Magnitude:  a.Ability.Magnitude,
		Remaining:  a.Ability.Duration,
		SourceTeam: a.Source.Team,
		Color:      a.Color,
		Hidden:     a.Ability.Hidden,
	}})
	return d, nil
}

func (r *Resolver) resource(a *Activation) (Delta, error) {
	var d Delta
	if a.Ability.Color == "" {
		d.Add(Change{Kind: ChangeEnergy, Team: a.Source.Team, Amount: a.Ability.Magnitude})
		return d, nil
	}
	d.Add(Change{Kind: ChangeMana, Team: a.Source.Team, Amount: a.Ability.Magnitude, Color: a.Ability.Color})
	return d, nil
}

func (r *Resolver) teleport(a *Activation) (Delta, error) {
	var d Delta
	if a.TargetUnit == nil {
		return d, fmt.Errorf("%w: teleport needs a unit target", ErrInvalidActivation)
	}
	d.Add(Change{Kind: ChangeReturnToHand, Team: a.TargetUnit.Owner, Unit: a.TargetUnit.InstanceID})
	return d, nil
}
