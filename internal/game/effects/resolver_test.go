package effects

import (
	"errors"
	"testing"

	"github.com/cardarena/arena-server-go/internal/catalog"
	"github.com/cardarena/arena-server-go/internal/game/mana"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var volcano = &catalog.ArenaDefinition{
	ID: "volcano",
	Modifiers: []catalog.ArenaModifier{
		{Effect: catalog.EffectDamage, DamageType: catalog.DamageFire, Additive: 1},
		{Effect: catalog.EffectHeal, Color: mana.ColorGreen, Percent: 200},
	},
}

func fireDamage(magnitude int) catalog.AbilityDefinition {
	return catalog.AbilityDefinition{
		ID: "fire", Kind: catalog.AbilityDamage, DamageType: catalog.DamageFire, Magnitude: magnitude,
		Target: catalog.TargetRule{Side: catalog.TargetEnemy, Scope: catalog.ScopeAny},
	}
}

func sides() (Side, Side) {
	return Side{Team: 0, Health: 30, MaxHealth: 30}, Side{Team: 1, Health: 30, MaxHealth: 30}
}

func TestFireDamageInFireArena(t *testing.T) {
	src, dst := sides()
	r := NewResolver()

	d, err := r.Resolve(Activation{Ability: fireDamage(3), Color: mana.ColorRed, Source: src, Target: dst, Arena: volcano})
	require.NoError(t, err)
	require.Len(t, d.Changes, 1)
	assert.Equal(t, ChangeDamage, d.Changes[0].Kind)
	assert.Equal(t, 1, d.Changes[0].Team)
	assert.Equal(t, 4, d.Changes[0].Amount)
}

func TestArenaOnlyMatchesItsDamageType(t *testing.T) {
	src, dst := sides()
	ability := fireDamage(3)
	ability.DamageType = catalog.DamageFrost

	d, err := NewResolver().Resolve(Activation{Ability: ability, Source: src, Target: dst, Arena: volcano})
	require.NoError(t, err)
	assert.Equal(t, 3, d.Changes[0].Amount)
}

func TestApplyArenaAdditiveThenPercent(t *testing.T) {
	arena := &catalog.ArenaDefinition{Modifiers: []catalog.ArenaModifier{
		{Effect: catalog.EffectDamage, Percent: 50},
		{Effect: catalog.EffectDamage, DamageType: catalog.DamageFire, Additive: 3},
		{Effect: catalog.EffectHeal, Additive: 10},
	}}
	tests := []struct {
		name string
		dt   catalog.DamageType
		base int
		want int
	}{
		{"fire gets both", catalog.DamageFire, 5, 4},
		{"frost only halved", catalog.DamageFrost, 5, 2},
		{"zero stays zero", catalog.DamageFrost, 0, 0},
	}
	for _, tt := range tests {
		if got := ApplyArena(arena, catalog.EffectDamage, tt.dt, mana.ColorRed, tt.base); got != tt.want {
			t.Fatalf("%s: expected %d, got %d", tt.name, tt.want, got)
		}
	}
	if got := ApplyArena(nil, catalog.EffectDamage, catalog.DamageFire, "", 7); got != 7 {
		t.Fatalf("nil arena must not change value, got %d", got)
	}
}

func TestHealColorAffinity(t *testing.T) {
	src, dst := sides()
	heal := catalog.AbilityDefinition{Kind: catalog.AbilityHeal, Magnitude: 2, Target: catalog.TargetRule{Side: catalog.TargetFriendly, Scope: catalog.ScopeAny}}

	d, err := NewResolver().Resolve(Activation{Ability: heal, Color: mana.ColorGreen, Source: src, Target: src, Arena: volcano})
	require.NoError(t, err)
	assert.Equal(t, 4, d.Changes[0].Amount)

	d, err = NewResolver().Resolve(Activation{Ability: heal, Color: mana.ColorBlue, Source: src, Target: dst, Arena: volcano})
	require.NoError(t, err)
	assert.Equal(t, 2, d.Changes[0].Amount)
}

func TestBuffsAndDebuffsAdjustDamage(t *testing.T) {
	src, dst := sides()
	src.Statuses = []StatusEffect{{Kind: catalog.StatusAttackBuff, Magnitude: 2, Remaining: 1}}
	dst.Statuses = []StatusEffect{{Kind: catalog.StatusDefenseBuff, Magnitude: 1, Remaining: 1}}

	d, err := NewResolver().Resolve(Activation{Ability: fireDamage(3), Source: src, Target: dst, Arena: volcano})
	require.NoError(t, err)
	// 3 base + 1 arena + 2 attack buff - 1 defense buff
	assert.Equal(t, 5, d.Changes[0].Amount)
}

func TestDamageNeverNegative(t *testing.T) {
	src, dst := sides()
	src.Statuses = []StatusEffect{{Kind: catalog.StatusAttackDebuff, Magnitude: 10, Remaining: 1}}

	d, err := NewResolver().Resolve(Activation{Ability: fireDamage(1), Source: src, Target: dst})
	require.NoError(t, err)
	assert.Equal(t, 0, d.Changes[0].Amount)
}

func TestUnitTargetUsesUnitModifiers(t *testing.T) {
	src, dst := sides()
	attacker := &UnitView{InstanceID: "a", Owner: 0, Attack: 2, Health: 3, Modifiers: []Modifier{{Stat: catalog.StatAttack, Amount: 1, Permanent: true}}}
	defender := &UnitView{InstanceID: "d", Owner: 1, Attack: 1, Health: 2, Modifiers: []Modifier{{Stat: catalog.StatDefense, Amount: 2, Remaining: 1}}}
	dst.Statuses = []StatusEffect{{Kind: catalog.StatusDefenseBuff, Magnitude: 5, Remaining: 2}}

	ability := catalog.AbilityDefinition{Kind: catalog.AbilityDamage, DamageType: catalog.DamagePhysical, Magnitude: attacker.Attack}
	d, err := NewResolver().Resolve(Activation{Ability: ability, Source: src, SourceUnit: attacker, Target: dst, TargetUnit: defender})
	require.NoError(t, err)
	require.Len(t, d.Changes, 1)
	assert.Equal(t, "d", d.Changes[0].Unit)
	// combatant defense statuses do not protect units
	assert.Equal(t, 1, d.Changes[0].Amount)
}

func TestImmunityBlocksDamageAndNegativeStatuses(t *testing.T) {
	src, dst := sides()
	dst.Statuses = []StatusEffect{{Kind: catalog.StatusImmunity, Remaining: 1}}
	r := NewResolver()

	d, err := r.Resolve(Activation{Ability: fireDamage(3), Source: src, Target: dst, Arena: volcano})
	require.NoError(t, err)
	require.Len(t, d.Changes, 1)
	assert.Equal(t, ChangeImmune, d.Changes[0].Kind)

	burn := catalog.AbilityDefinition{Kind: catalog.AbilityStatus, Status: catalog.StatusBurn, Magnitude: 1, Duration: 2}
	d, err = r.Resolve(Activation{Ability: burn, Source: src, Target: dst})
	require.NoError(t, err)
	assert.Equal(t, ChangeImmune, d.Changes[0].Kind)

	shield := catalog.AbilityDefinition{Kind: catalog.AbilityBuff, Stat: catalog.StatDefense, Magnitude: 1, Duration: 1}
	d, err = r.Resolve(Activation{Ability: shield, Source: dst, Target: dst})
	require.NoError(t, err)
	assert.Equal(t, ChangeStatusAdded, d.Changes[0].Kind, "positive statuses pass immunity")
}

func TestReflectRedirectsDamageOnce(t *testing.T) {
	src, dst := sides()
	dst.Statuses = []StatusEffect{{ID: 7, Kind: catalog.StatusReflect, Remaining: 1}}

	d, err := NewResolver().Resolve(Activation{Ability: fireDamage(3), Source: src, Target: dst})
	require.NoError(t, err)
	require.Len(t, d.Changes, 2)
	assert.Equal(t, ChangeStatusConsumed, d.Changes[0].Kind)
	assert.Equal(t, 7, d.Changes[0].Status.ID)
	assert.Equal(t, ChangeDamage, d.Changes[1].Kind)
	assert.Equal(t, 0, d.Changes[1].Team, "damage goes back to the source")
	assert.Equal(t, 3, d.Changes[1].Amount)
}

func TestLifestealHealsByDamageDealt(t *testing.T) {
	src, dst := sides()
	dst.Health = 2
	drain := catalog.AbilityDefinition{Kind: catalog.AbilityLifesteal, DamageType: catalog.DamageArcane, Magnitude: 5}

	d, err := NewResolver().Resolve(Activation{Ability: drain, Source: src, Target: dst})
	require.NoError(t, err)
	require.Len(t, d.Changes, 2)
	assert.Equal(t, ChangeDamage, d.Changes[0].Kind)
	assert.Equal(t, ChangeHeal, d.Changes[1].Kind)
	assert.Equal(t, 0, d.Changes[1].Team)
	assert.Equal(t, 2, d.Changes[1].Amount, "heal is capped at the health the target had")
}

func TestStatusResolvesAfterDamageOrder(t *testing.T) {
	src, dst := sides()
	burn := catalog.AbilityDefinition{Kind: catalog.AbilityStatus, Status: catalog.StatusBurn, Magnitude: 2, Duration: 3, Hidden: true}

	d, err := NewResolver().Resolve(Activation{Ability: burn, Color: mana.ColorRed, Source: src, Target: dst})
	require.NoError(t, err)
	require.Len(t, d.Changes, 1)
	st := d.Changes[0].Status
	require.NotNil(t, st)
	assert.Equal(t, catalog.StatusBurn, st.Kind)
	assert.Equal(t, 3, st.Remaining)
	assert.Equal(t, 0, st.SourceTeam)
	assert.True(t, st.Hidden)
}

func TestBuffOnUnitBecomesModifier(t *testing.T) {
	src, _ := sides()
	unit := &UnitView{InstanceID: "u1", Owner: 0, Attack: 2, Health: 2}
	rally := catalog.AbilityDefinition{Kind: catalog.AbilityBuff, Stat: catalog.StatAttack, Magnitude: 1}

	d, err := NewResolver().Resolve(Activation{Ability: rally, Source: src, Target: src, TargetUnit: unit})
	require.NoError(t, err)
	require.NotNil(t, d.Changes[0].Modifier)
	assert.True(t, d.Changes[0].Modifier.Permanent)
	assert.Equal(t, 1, d.Changes[0].Modifier.Amount)
}

func TestResourceAndTeleport(t *testing.T) {
	src, dst := sides()
	r := NewResolver()

	d, err := r.Resolve(Activation{Ability: catalog.AbilityDefinition{Kind: catalog.AbilityResource, Magnitude: 2}, Source: src, Target: src})
	require.NoError(t, err)
	assert.Equal(t, Change{Kind: ChangeEnergy, Team: 0, Amount: 2}, d.Changes[0])

	d, err = r.Resolve(Activation{Ability: catalog.AbilityDefinition{Kind: catalog.AbilityResource, Magnitude: 1, Color: mana.ColorBlue}, Source: src, Target: src})
	require.NoError(t, err)
	assert.Equal(t, Change{Kind: ChangeMana, Team: 0, Amount: 1, Color: mana.ColorBlue}, d.Changes[0])

	teleport := catalog.AbilityDefinition{Kind: catalog.AbilityTeleport}
	_, err = r.Resolve(Activation{Ability: teleport, Source: src, Target: dst})
	assert.True(t, errors.Is(err, ErrInvalidActivation))

	d, err = r.Resolve(Activation{Ability: teleport, Source: src, Target: dst, TargetUnit: &UnitView{InstanceID: "x", Owner: 1}})
	require.NoError(t, err)
	assert.Equal(t, ChangeReturnToHand, d.Changes[0].Kind)
}

func TestResolverCoversEveryKind(t *testing.T) {
	r := NewResolver()
	for _, kind := range catalog.AbilityKinds {
		assert.True(t, r.Supports(kind), "no handler for %s", kind)
	}
	_, err := r.Resolve(Activation{Ability: catalog.AbilityDefinition{Kind: "warp"}})
	assert.True(t, errors.Is(err, ErrUnknownAbility))
}

func TestResolveDoesNotMutateInputs(t *testing.T) {
	src, dst := sides()
	dst.Statuses = []StatusEffect{{ID: 1, Kind: catalog.StatusReflect, Remaining: 1}}
	before := append([]StatusEffect(nil), dst.Statuses...)

	_, err := NewResolver().Resolve(Activation{Ability: fireDamage(2), Source: src, Target: dst})
	require.NoError(t, err)
	assert.Equal(t, before, dst.Statuses)
	assert.Equal(t, 30, dst.Health)
}

func TestTick(t *testing.T) {
	r := NewResolver()
	owner := Side{Team: 1, Health: 10, MaxHealth: 30}

	d := r.Tick(owner, StatusEffect{Kind: catalog.StatusBurn, Magnitude: 2, Remaining: 2}, volcano)
	require.Len(t, d.Changes, 1)
	assert.Equal(t, 3, d.Changes[0].Amount, "burn is fire damage and gets the arena bonus")
	assert.Equal(t, "burn", d.Changes[0].Detail)

	d = r.Tick(owner, StatusEffect{Kind: catalog.StatusStun, Remaining: 1}, volcano)
	assert.True(t, d.Empty())

	owner.Statuses = []StatusEffect{{Kind: catalog.StatusImmunity, Remaining: 1}}
	d = r.Tick(owner, StatusEffect{Kind: catalog.StatusPoison, Magnitude: 1, Remaining: 2}, nil)
	assert.Equal(t, ChangeImmune, d.Changes[0].Kind)
}

func TestEnqueueHonorsCap(t *testing.T) {
	var list []StatusEffect
	var idx int
	for i := 1; i <= 4; i++ {
		list, idx = Enqueue(list, StatusEffect{ID: i, Kind: catalog.StatusBurn, Magnitude: i, Remaining: i})
	}
	require.Len(t, list, 3, "burn caps at three entries")
	assert.Equal(t, 0, idx, "the oldest entry is refreshed")
	assert.Equal(t, 4, list[0].Magnitude)
	assert.Equal(t, 4, list[0].Remaining)
	assert.Equal(t, 1, list[0].ID, "refresh keeps FIFO position and id")

	list, _ = Enqueue(list, StatusEffect{ID: 9, Kind: catalog.StatusStun, Remaining: 1})
	list, _ = Enqueue(list, StatusEffect{ID: 10, Kind: catalog.StatusStun, Remaining: 3})
	stuns := 0
	for _, s := range list {
		if s.Kind == catalog.StatusStun {
			stuns++
			assert.Equal(t, 3, s.Remaining)
		}
	}
	assert.Equal(t, 1, stuns)
}

func TestArenaAffinityBonus(t *testing.T) {
	grove := &catalog.ArenaDefinition{ID: "grove", Affinity: mana.ColorGreen, Modifiers: []catalog.ArenaModifier{
		{Effect: catalog.EffectDamage, Percent: 200},
	}}
	tests := []struct {
		name   string
		effect catalog.EffectClass
		color  mana.Color
		base   int
		want   int
	}{
		{"matching color damage", catalog.EffectDamage, mana.ColorGreen, 3, 8},
		{"other color damage", catalog.EffectDamage, mana.ColorRed, 3, 6},
		{"matching color heal", catalog.EffectHeal, mana.ColorGreen, 2, 3},
		{"colorless heal", catalog.EffectHeal, "", 2, 2},
	}
	for _, tt := range tests {
		if got := ApplyArena(grove, tt.effect, catalog.DamagePoison, tt.color, tt.base); got != tt.want {
			t.Fatalf("%s: expected %d, got %d", tt.name, tt.want, got)
		}
	}

	src, dst := sides()
	d, err := NewResolver().Resolve(Activation{Ability: fireDamage(3), Color: mana.ColorGreen, Source: src, Target: dst, Arena: grove})
	require.NoError(t, err)
	assert.Equal(t, 8, d.Changes[0].Amount, "affinity bonus applies before percentages")
}
