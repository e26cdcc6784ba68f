package catalog

import (
	"fmt"
	"strings"

	"github.com/cardarena/arena-server-go/internal/game/mana"
	"go.uber.org/multierr"
)

func validateCard(card *CardDefinition) error {
	card.ID = strings.TrimSpace(card.ID)
	if card.ID == "" {
		return fmt.Errorf("card with name %q: id is required", card.Name)
	}
	if card.Speed == "" {
		card.Speed = SpeedNormal
	}

	var errs error
	fail := func(format string, args ...any) {
		errs = multierr.Append(errs, fmt.Errorf("card %s: "+format, append([]any{card.ID}, args...)...))
	}

	switch card.Kind {
	case CardUnit:
		if card.Health <= 0 {
			fail("unit health must be positive")
		}
		if card.Attack < 0 {
			fail("attack must not be negative")
		}
	case CardSpell:
		if len(card.Abilities) == 0 {
			fail("spell needs at least one ability")
		}
		if card.Ultimate != nil {
			fail("spells cannot have an ultimate")
		}
	default:
		fail("unknown kind %q", card.Kind)
	}
	if !card.Color.Valid() {
		fail("unknown color %q", card.Color)
	}
	if card.Speed != SpeedNormal && card.Speed != SpeedFast {
		fail("unknown speed %q", card.Speed)
	}
	if card.EnergyCost < 0 {
		fail("energy cost must not be negative")
	}
	if err := validateCost(card.ManaCost); err != nil {
		fail("%v", err)
	}

	seen := make(map[string]bool, len(card.Abilities))
	for i := range card.Abilities {
		ability := &card.Abilities[i]
		if ability.ID == "" {
			ability.ID = fmt.Sprintf("%s#%d", card.ID, i)
		}
		if seen[ability.ID] {
			fail("duplicate ability id %s", ability.ID)
		}
		seen[ability.ID] = true
		if err := validateAbility(ability); err != nil {
			fail("ability %s: %v", ability.ID, err)
		}
	}
	if card.Ultimate != nil {
		if card.Ultimate.ID == "" {
			card.Ultimate.ID = card.ID + "#ultimate"
		}
		if card.Ultimate.ChargeCost <= 0 {
			fail("ultimate %s: charge cost must be positive", card.Ultimate.ID)
		}
		if err := validateAbility(card.Ultimate); err != nil {
			fail("ultimate %s: %v", card.Ultimate.ID, err)
		}
	}
	return errs
}

func validateAbility(a *AbilityDefinition) error {
	if a.Magnitude < 0 {
		return fmt.Errorf("magnitude must not be negative")
	}
	if a.Duration < 0 || a.Cooldown < 0 || a.ChargeCost < 0 || a.EnergyCost < 0 {
		return fmt.Errorf("duration, cooldown and costs must not be negative")
	}
	if err := validateCost(a.ManaCost); err != nil {
		return err
	}
	if err := validateTarget(a.Target); err != nil {
		return err
	}

	switch a.Kind {
	case AbilityDamage, AbilityLifesteal:
		if !damageTypes[a.DamageType] {
			return fmt.Errorf("unknown damage type %q", a.DamageType)
		}
		if a.Target.Side == TargetNone {
			return fmt.Errorf("damage needs a target")
		}
	case AbilityHeal:
		if a.DamageType != "" && !damageTypes[a.DamageType] {
			return fmt.Errorf("unknown heal type %q", a.DamageType)
		}
	case AbilityBuff, AbilityDebuff:
		if a.Stat != StatAttack && a.Stat != StatDefense {
			return fmt.Errorf("unknown stat %q", a.Stat)
		}
	case AbilityStatus:
		if !a.Status.Valid() {
			return fmt.Errorf("unknown status %q", a.Status)
		}
		if a.Duration <= 0 {
			return fmt.Errorf("status needs a positive duration")
		}
		if a.Target.Scope == ScopeUnit {
			return fmt.Errorf("statuses apply to combatants only")
		}
	case AbilityResource:
		if a.Color != "" && !a.Color.Valid() {
			return fmt.Errorf("unknown color %q", a.Color)
		}
	case AbilityTeleport:
		if a.Target.Scope != ScopeUnit {
			return fmt.Errorf("teleport must target a unit")
		}
	case AbilityReflect, AbilityImmunity:
		if a.Duration <= 0 {
			return fmt.Errorf("%s needs a positive duration", a.Kind)
		}
		if a.Target.Scope == ScopeUnit {
			return fmt.Errorf("%s applies to combatants only", a.Kind)
		}
	default:
		return fmt.Errorf("unknown ability kind %q", a.Kind)
	}
	return nil
}

func validateTarget(rule TargetRule) error {
	switch rule.Side {
	case TargetNone, TargetSelf, TargetFriendly, TargetEnemy, TargetAny:
	default:
		return fmt.Errorf("unknown target side %q", rule.Side)
	}
	switch rule.Scope {
	case ScopeCombatant, ScopeUnit, ScopeAny:
	default:
		return fmt.Errorf("unknown target scope %q", rule.Scope)
	}
	if rule.Side == TargetSelf && rule.Scope == ScopeUnit {
		return fmt.Errorf("self targets the acting combatant, not a unit")
	}
	return nil
}

func validateCost(cost mana.Cost) error {
	for color, amount := range cost {
		if !color.Valid() {
			return fmt.Errorf("unknown mana color %q", color)
		}
		if amount < 0 {
			return fmt.Errorf("mana cost must not be negative")
		}
	}
	return nil
}

func validateArena(arena *ArenaDefinition) error {
	arena.ID = strings.TrimSpace(arena.ID)
	if arena.ID == "" {
		return fmt.Errorf("arena with name %q: id is required", arena.Name)
	}
	if arena.Affinity != "" && !arena.Affinity.Valid() {
		return fmt.Errorf("arena %s: unknown affinity %q", arena.ID, arena.Affinity)
	}
	for i, mod := range arena.Modifiers {
		if mod.Effect != EffectDamage && mod.Effect != EffectHeal {
			return fmt.Errorf("arena %s: modifier %d: unknown effect %q", arena.ID, i, mod.Effect)
		}
		if mod.DamageType != "" && !damageTypes[mod.DamageType] {
			return fmt.Errorf("arena %s: modifier %d: unknown damage type %q", arena.ID, i, mod.DamageType)
		}
		if mod.Color != "" && !mod.Color.Valid() {
			return fmt.Errorf("arena %s: modifier %d: unknown color %q", arena.ID, i, mod.Color)
		}
		if mod.Percent < 0 {
			return fmt.Errorf("arena %s: modifier %d: percent must not be negative", arena.ID, i)
		}
	}
	return nil
}
