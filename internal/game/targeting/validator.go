package targeting

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/cardarena/arena-server-go/internal/catalog"
)

// ErrIllegalTarget is returned when a target does not satisfy the ability's
// targeting rule.
var ErrIllegalTarget = errors.New("illegal target")

const teamPrefix = "team:"

// Ref identifies a target: a combatant when Unit is empty, otherwise a unit
// owned by Team.
type Ref struct {
	Team int
	Unit string
}

// IsUnit reports whether the ref names a unit.
func (r Ref) IsUnit() bool {
	return r.Unit != ""
}

func (r Ref) String() string {
	if r.IsUnit() {
		return r.Unit
	}
	return teamPrefix + strconv.Itoa(r.Team)
}

// TeamRef formats the wire form of a combatant target.
func TeamRef(team int) string {
	return teamPrefix + strconv.Itoa(team)
}

// GameStateAccessor provides the parts of match state target validation
// needs.
type GameStateAccessor interface {
	// Teams returns every team still in the match.
	Teams() []int
	// TeamAlive reports whether the team is still in the match.
	TeamAlive(team int) bool
	// UnitOwner returns the owner of a unit on the board.
	UnitOwner(instanceID string) (int, bool)
}

// Resolve validates raw against rule for an ability used by actor and
// returns the resolved target. An empty raw falls back to the obvious
// combatant: the actor for self and friendly abilities, the only remaining
// enemy otherwise.
func Resolve(rule catalog.TargetRule, actor int, raw string, gs GameStateAccessor) (Ref, error) {
	raw = strings.TrimSpace(raw)
	if rule.Side == catalog.TargetNone {
		return Ref{Team: actor}, nil
	}
	if raw == "" {
		return defaultTarget(rule, actor, gs)
	}

	var ref Ref
	if strings.HasPrefix(raw, teamPrefix) {
		team, err := strconv.Atoi(strings.TrimPrefix(raw, teamPrefix))
		if err != nil {
			return Ref{}, fmt.Errorf("%w: malformed team reference %q", ErrIllegalTarget, raw)
		}
		if !gs.TeamAlive(team) {
			return Ref{}, fmt.Errorf("%w: team %d is not in the match", ErrIllegalTarget, team)
		}
		if rule.Scope == catalog.ScopeUnit {
			return Ref{}, fmt.Errorf("%w: ability targets units only", ErrIllegalTarget)
		}
		ref = Ref{Team: team}
	} else {
		owner, ok := gs.UnitOwner(raw)
		if !ok {
			return Ref{}, fmt.Errorf("%w: unit %s is not on the board", ErrIllegalTarget, raw)
		}
		if rule.Scope == catalog.ScopeCombatant {
			return Ref{}, fmt.Errorf("%w: ability targets combatants only", ErrIllegalTarget)
		}
		ref = Ref{Team: owner, Unit: raw}
	}

	if err := checkSide(rule.Side, actor, ref); err != nil {
		return Ref{}, err
	}
	return ref, nil
}

func checkSide(side catalog.TargetSide, actor int, ref Ref) error {
	switch side {
	case catalog.TargetSelf:
		if ref.IsUnit() || ref.Team != actor {
			return fmt.Errorf("%w: ability targets its user only", ErrIllegalTarget)
		}
	case catalog.TargetFriendly:
		if ref.Team != actor {
			return fmt.Errorf("%w: %s is not friendly", ErrIllegalTarget, ref)
		}
	case catalog.TargetEnemy:
		if ref.Team == actor {
			return fmt.Errorf("%w: %s is not an enemy", ErrIllegalTarget, ref)
		}
	case catalog.TargetAny:
	default:
		return fmt.Errorf("%w: unknown side %q", ErrIllegalTarget, side)
	}
	return nil
}

func defaultTarget(rule catalog.TargetRule, actor int, gs GameStateAccessor) (Ref, error) {
	if rule.Scope == catalog.ScopeUnit {
		return Ref{}, fmt.Errorf("%w: a unit target is required", ErrIllegalTarget)
	}
	if rule.Side == catalog.TargetSelf || rule.Side == catalog.TargetFriendly {
		return Ref{Team: actor}, nil
	}

	enemy := -1
	for _, team := range gs.Teams() {
		if team == actor || !gs.TeamAlive(team) {
			continue
		}
		if enemy >= 0 {
			return Ref{}, fmt.Errorf("%w: more than one enemy, choose a target", ErrIllegalTarget)
		}
		enemy = team
	}
	if enemy < 0 {
		return Ref{}, fmt.Errorf("%w: no enemy left to target", ErrIllegalTarget)
	}
	return Ref{Team: enemy}, nil
}
