package game

import (
	"errors"
	"fmt"
	"hash/fnv"
	"math/rand"
	"sort"
	"time"

	"github.com/cardarena/arena-server-go/internal/catalog"
	"github.com/cardarena/arena-server-go/internal/game/effects"
	"github.com/cardarena/arena-server-go/internal/game/mana"
	"github.com/cardarena/arena-server-go/internal/game/rules"
	"github.com/cardarena/arena-server-go/internal/game/targeting"
	"github.com/cardarena/arena-server-go/internal/ports"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

var attackRule = catalog.TargetRule{Side: catalog.TargetEnemy, Scope: catalog.ScopeAny}

// SeedFor derives the deterministic RNG seed of a match from its id.
func SeedFor(matchID string) int64 {
	h := fnv.New64a()
	h.Write([]byte(matchID))
	return int64(h.Sum64())
}

// state is everything an action can change. It is cloned for card.cancel.
type state struct {
	combatants   []*CombatantState
	clock        *rules.TurnClock
	window       *rules.PlayWindow
	nextStatusID int
}

func (s *state) clone() *state {
	c := &state{
		combatants:   make([]*CombatantState, len(s.combatants)),
		nextStatusID: s.nextStatusID,
	}
	for i, cs := range s.combatants {
		c.combatants[i] = cs.clone()
	}
	if s.clock != nil {
		c.clock = s.clock.Clone()
	}
	if s.window != nil {
		w := *s.window
		c.window = &w
	}
	return c
}

type undoPoint struct {
	state    *state
	team     int
	cardID   string
	closesAt time.Time
}

// MachineConfig configures a new match state machine.
type MachineConfig struct {
	MatchID   string
	Mode      string
	ArenaID   string
	Seats     []ports.Seat
	Rules     Rules
	Catalog   *catalog.Catalog
	CreatedAt time.Time
	Logger    *zap.Logger
}

// Machine owns the authoritative state of one match. It is not safe for
// concurrent use; the Match actor serializes every call. All time is passed
// in explicitly so that a replay of the same operations is identical.
type Machine struct {
	id           string
	mode         string
	seed         int64
	rng          *rand.Rand
	rules        Rules
	catalog      *catalog.Catalog
	resolver     *effects.Resolver
	arena        *catalog.ArenaDefinition
	participants []*Participant
	status       Status
	reason       string
	st           *state
	undo         *undoPoint
	outcome      *Outcome
	createdAt    time.Time
	startedAt    time.Time
	endedAt      time.Time
	log          []Operation
	logger       *zap.Logger
}

// NewMachine creates a match in the queued status.
func NewMachine(cfg MachineConfig) (*Machine, error) {
	if cfg.MatchID == "" {
		return nil, fmt.Errorf("match id is required")
	}
	if len(cfg.Seats) < 2 {
		return nil, fmt.Errorf("at least 2 participants required, got %d", len(cfg.Seats))
	}
	if cfg.Catalog == nil {
		return nil, fmt.Errorf("catalog is required")
	}
	if err := cfg.Rules.Validate(); err != nil {
		return nil, fmt.Errorf("invalid rules: %w", err)
	}
	arena, ok := cfg.Catalog.Arena(cfg.ArenaID)
	if !ok {
		return nil, fmt.Errorf("unknown arena %q", cfg.ArenaID)
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}

	seed := SeedFor(cfg.MatchID)
	m := &Machine{
		id:        cfg.MatchID,
		mode:      cfg.Mode,
		seed:      seed,
		rng:       rand.New(rand.NewSource(seed)),
		rules:     cfg.Rules,
		catalog:   cfg.Catalog,
		resolver:  effects.NewResolver(),
		arena:     arena,
		status:    StatusQueued,
		createdAt: cfg.CreatedAt,
		logger:    logger.With(zap.String("match_id", cfg.MatchID)),
		st:        &state{},
	}
	seen := make(map[string]bool, len(cfg.Seats))
	for i, seat := range cfg.Seats {
		if seat.PlayerID == "" || seen[seat.PlayerID] {
			return nil, fmt.Errorf("invalid or duplicate player %q", seat.PlayerID)
		}
		seen[seat.PlayerID] = true
		m.participants = append(m.participants, &Participant{
			PlayerID:  seat.PlayerID,
			Team:      i,
			Rating:    seat.Rating,
			Connected: true,
		})
	}
	return m, nil
}

// ID returns the match id.
func (m *Machine) ID() string { return m.id }

// Mode returns the match mode.
func (m *Machine) Mode() string { return m.mode }

// Seed returns the RNG seed derived from the match id.
func (m *Machine) Seed() int64 { return m.seed }

// Status returns the lifecycle status.
func (m *Machine) Status() Status { return m.status }

// Reason returns why a terminal match ended.
func (m *Machine) Reason() string { return m.reason }

// Arena returns the arena the match is played in.
func (m *Machine) Arena() *catalog.ArenaDefinition { return m.arena }

// Rules returns the match rules.
func (m *Machine) Rules() Rules { return m.rules }

// Outcome returns the final result once the match is terminal.
func (m *Machine) Outcome() (Outcome, bool) {
	if m.outcome == nil {
		return Outcome{}, false
	}
	return *m.outcome, true
}

// Participants returns a copy of every seat.
func (m *Machine) Participants() []Participant {
	out := make([]Participant, len(m.participants))
	for i, p := range m.participants {
		out[i] = *p
	}
	return out
}

// Team resolves a player to its team.
func (m *Machine) Team(playerID string) (int, bool) {
	for _, p := range m.participants {
		if p.PlayerID == playerID {
			return p.Team, true
		}
	}
	return -1, false
}

// Clock returns the turn clock state. The zero value is returned before
// the match starts.
func (m *Machine) Clock() rules.ClockState {
	if m.st.clock == nil {
		return rules.ClockState{CurrentTeam: -1}
	}
	return m.st.clock.State()
}

// Teams implements targeting.GameStateAccessor.
func (m *Machine) Teams() []int {
	teams := make([]int, len(m.participants))
	for i := range m.participants {
		teams[i] = i
	}
	return teams
}

// TeamAlive implements targeting.GameStateAccessor.
func (m *Machine) TeamAlive(team int) bool {
	if team < 0 || team >= len(m.st.combatants) {
		return false
	}
	return !m.st.combatants[team].Eliminated
}

// UnitOwner implements targeting.GameStateAccessor.
func (m *Machine) UnitOwner(instanceID string) (int, bool) {
	for _, c := range m.st.combatants {
		if u, _ := c.unit(instanceID); u != nil {
			return c.Team, true
		}
	}
	return -1, false
}

func (m *Machine) eliminated(team int) bool {
	return !m.TeamAlive(team)
}

func (m *Machine) participant(team int) (*Participant, error) {
	if team < 0 || team >= len(m.participants) {
		return nil, fmt.Errorf("%w: team %d", ErrNotParticipant, team)
	}
	return m.participants[team], nil
}

// MarkReady records a readiness acknowledgement and reports whether every
// participant is now ready.
func (m *Machine) MarkReady(team int, now time.Time) (bool, error) {
	if m.status != StatusQueued {
		return false, ErrMatchNotActive
	}
	p, err := m.participant(team)
	if err != nil {
		return false, err
	}
	if !p.Ready {
		p.Ready = true
		m.record(Operation{Kind: OpReady, Team: team, At: now})
	}
	for _, other := range m.participants {
		if !other.Ready {
			return false, nil
		}
	}
	return true, nil
}

// ExpireReadiness cancels a queued match whose ready grace ran out. Ready
// participants are credited with a win, the rest with a loss.
func (m *Machine) ExpireReadiness(now time.Time) (Outcome, error) {
	if m.status != StatusQueued {
		return Outcome{}, ErrMatchNotActive
	}
	m.record(Operation{Kind: OpReadyTimeout, At: now})
	m.finish(ReasonReadyTimeout, now)
	return *m.outcome, nil
}

// Start deals the decks and opens turn 1. decks is indexed by team and
// holds catalog card ids.
func (m *Machine) Start(decks [][]string, now time.Time) (effects.Delta, error) {
	var out effects.Delta
	if m.status != StatusQueued {
		return out, ErrMatchNotActive
	}
	if len(decks) != len(m.participants) {
		return out, &StateError{MatchID: m.id, Op: "start", Err: fmt.Errorf("got %d decks for %d participants", len(decks), len(m.participants))}
	}

	namespace := uuid.NewSHA1(uuid.NameSpaceURL, []byte("arena:match:"+m.id))
	combatants := make([]*CombatantState, len(decks))
	for team, deck := range decks {
		c := &CombatantState{
			Team:      team,
			Health:    m.rules.StartingHealth,
			MaxHealth: m.rules.StartingHealth,
			Mana:      mana.NewPool(m.rules.MaxMana),
		}
		colors := make(map[mana.Color]bool)
		for i, cardID := range deck {
			card, ok := m.catalog.Card(cardID)
			if !ok {
				return effects.Delta{}, &StateError{MatchID: m.id, Op: "start", Err: fmt.Errorf("deck of team %d references unknown card %q", team, cardID)}
			}
			colors[card.Color] = true
			c.Deck = append(c.Deck, CardInstance{
				InstanceID: uuid.NewSHA1(namespace, []byte(fmt.Sprintf("%d:%d", team, i))).String(),
				CardID:     cardID,
			})
		}
		for _, color := range mana.Colors {
			if colors[color] {
				c.Colors = append(c.Colors, color)
			}
		}
		m.rng.Shuffle(len(c.Deck), func(i, j int) { c.Deck[i], c.Deck[j] = c.Deck[j], c.Deck[i] })
		combatants[team] = c
	}

	first := 0
	if m.rules.FirstPlayer == FirstPlayerCoinFlip {
		first = m.rng.Intn(len(combatants))
	}

	m.st = &state{combatants: combatants, clock: rules.NewTurnClock(m.Teams(), first)}
	m.status = StatusActive
	m.startedAt = now
	m.record(Operation{Kind: OpStart, At: now, Decks: decks})

	for _, c := range combatants {
		for i := 0; i < m.rules.OpeningHand; i++ {
			m.draw(c, &out)
		}
	}
	m.beginTurn(&out)
	m.st.clock.SetDeadline(now.Add(m.rules.PhaseDuration(rules.PhaseDraw)))

	m.logger.Info("match started",
		zap.Int("first_team", m.st.clock.CurrentTeam()),
		zap.String("arena", m.arena.ID),
	)
	return out, m.settle("start", now, &out)
}

type plan struct {
	team      int
	action    Action
	card      *catalog.CardDefinition
	handIndex int
	unit      *Unit
	abilities []*catalog.AbilityDefinition
	targets   []targeting.Ref
	energy    int
	cost      mana.Cost
}

// ApplyAction validates and applies one card action. A rejected action
// leaves the state untouched.
func (m *Machine) ApplyAction(team int, act CardActivation, now time.Time) (effects.Delta, error) {
	if m.status != StatusActive {
		return effects.Delta{}, ErrMatchNotActive
	}
	if _, err := m.participant(team); err != nil {
		return effects.Delta{}, err
	}

	p, err := m.plan(team, act, now)
	if err != nil {
		return effects.Delta{}, err
	}

	bookmark := m.st.clone()
	out, err := m.execute(p, now)
	if err != nil {
		m.st = bookmark
		return effects.Delta{}, m.abort("apply_action", err, now)
	}

	closes := time.Time{}
	if m.st.window != nil {
		closes = m.st.window.ClosesAt
	}
	m.undo = &undoPoint{state: bookmark, team: team, cardID: act.CardID, closesAt: closes}
	m.record(Operation{Kind: OpAction, Team: team, At: now, Activation: &act})

	m.logger.Debug("action applied",
		zap.Int("team", team),
		zap.String("action", string(act.Action)),
		zap.String("card_id", act.CardID),
		zap.Int("changes", len(out.Changes)),
	)
	return out, m.settle("apply_action", now, &out)
}

func (m *Machine) plan(team int, act CardActivation, now time.Time) (*plan, error) {
	c := m.st.combatants[team]
	if c.Eliminated {
		return nil, rejectf(ErrNotYourTurn, "team %d is out of the match", team)
	}
	p := &plan{team: team, action: act.Action, handIndex: -1}

	switch act.Action {
	case ActionSummon:
		p.handIndex = c.handIndex(act.CardID)
		if p.handIndex < 0 {
			return nil, fmt.Errorf("%w: %s is not in hand", ErrCardNotAvailable, act.CardID)
		}
		p.card = m.mustCard(c.Hand[p.handIndex].CardID)
		if p.card.Kind != catalog.CardUnit {
			return nil, fmt.Errorf("%w: %s is not a unit", ErrCardNotAvailable, p.card.ID)
		}
		p.energy, p.cost = p.card.EnergyCost, p.card.ManaCost

	case ActionActivateAbility:
		if u, _ := c.unit(act.CardID); u != nil {
			p.unit = u
			p.card = m.mustCard(u.CardID)
			ability, ok := p.card.Ability(act.AbilityID)
			if !ok {
				return nil, fmt.Errorf("%w: %s has no ability %q", ErrCardNotAvailable, p.card.ID, act.AbilityID)
			}
			p.abilities = []*catalog.AbilityDefinition{ability}
			p.energy, p.cost = ability.EnergyCost, ability.ManaCost
			break
		}
		p.handIndex = c.handIndex(act.CardID)
		if p.handIndex < 0 {
			return nil, fmt.Errorf("%w: %s is not in hand or on the board", ErrCardNotAvailable, act.CardID)
		}
		p.card = m.mustCard(c.Hand[p.handIndex].CardID)
		if p.card.Kind != catalog.CardSpell {
			return nil, fmt.Errorf("%w: %s must be summoned", ErrCardNotAvailable, p.card.ID)
		}
		for i := range p.card.Abilities {
			p.abilities = append(p.abilities, &p.card.Abilities[i])
		}
		p.energy, p.cost = p.card.EnergyCost, p.card.ManaCost

	case ActionAttack, ActionUltimate:
		u, _ := c.unit(act.CardID)
		if u == nil {
			return nil, fmt.Errorf("%w: unit %s is not on the board", ErrCardNotAvailable, act.CardID)
		}
		p.unit = u
		p.card = m.mustCard(u.CardID)
		if act.Action == ActionUltimate {
			if p.card.Ultimate == nil {
				return nil, fmt.Errorf("%w: %s has no ultimate", ErrCardNotAvailable, p.card.ID)
			}
			p.abilities = []*catalog.AbilityDefinition{p.card.Ultimate}
			p.energy, p.cost = p.card.Ultimate.EnergyCost, p.card.Ultimate.ManaCost
		}

	default:
		return nil, fmt.Errorf("%w: unknown action %q", ErrCardNotAvailable, act.Action)
	}

	if err := m.checkTiming(team, p, act, now); err != nil {
		return nil, err
	}

	if effects.Has(c.Statuses, catalog.StatusStun) {
		return nil, rejectf(ErrInvalidPhase, "team %d is stunned", team)
	}
	if p.action == ActionAttack {
		if effects.Has(c.Statuses, catalog.StatusFreeze) {
			return nil, rejectf(ErrInvalidPhase, "team %d is frozen", team)
		}
		turn := m.st.clock.TurnNumber()
		if p.unit.SummonedTurn == turn {
			return nil, rejectf(ErrInvalidPhase, "unit %s was summoned this turn", p.unit.InstanceID)
		}
		if p.unit.AttackedTurn == turn {
			return nil, rejectf(ErrInvalidPhase, "unit %s already attacked this turn", p.unit.InstanceID)
		}
	}
	if p.action == ActionUltimate {
		ult := p.card.Ultimate
		if p.unit.Charge < ult.ChargeCost {
			return nil, rejectf(ErrInsufficientResource, "ultimate needs %d charge, unit has %d", ult.ChargeCost, p.unit.Charge)
		}
		if p.unit.Cooldown > 0 {
			return nil, rejectf(ErrInsufficientResource, "ultimate on cooldown for %d turns", p.unit.Cooldown)
		}
	}

	if c.Energy < p.energy {
		return nil, rejectf(ErrInsufficientResource, "needs %d energy, has %d", p.energy, c.Energy)
	}
	if !c.Mana.CanPay(p.cost) {
		return nil, rejectf(ErrInsufficientResource, "cannot pay mana cost %v", p.cost)
	}

	return p, m.resolveTargets(p, act.Target)
}

// maxClientLead bounds how far ahead of the server clock a client
// timestamp is still trusted.
const maxClientLead = 2 * time.Second

// clientTime returns the client timestamp when it can be trusted, or the
// zero time when there is none or the client clock runs too far ahead.
func (m *Machine) clientTime(team int, ts, now time.Time) time.Time {
	if ts.IsZero() {
		return ts
	}
	if lead := ts.Sub(now); lead > maxClientLead {
		m.logger.Warn("ignoring client timestamp ahead of server clock",
			zap.Int("team", team),
			zap.Duration("skew", lead),
		)
		return time.Time{}
	}
	return ts
}

// checkTiming enforces turn ownership, phase legality, the phase deadline
// and the play window. The server clock decides; a client timestamp can
// only make a rejection stricter.
func (m *Machine) checkTiming(team int, p *plan, act CardActivation, now time.Time) error {
	clock := m.st.clock
	fast := p.card.Speed == catalog.SpeedFast
	sent := m.clientTime(team, act.ClientTimestamp, now)

	if team != clock.CurrentTeam() {
		if p.action != ActionActivateAbility || !fast {
			return rejectf(ErrNotYourTurn, "team %d owns the turn", clock.CurrentTeam())
		}
		w := m.st.window
		if w == nil || w.Turn != clock.TurnNumber() || !w.Answerable(team) {
			return rejectf(ErrNotYourTurn, "no play window to respond to")
		}
		if !w.Open(now) || (!sent.IsZero() && sent.After(w.ClosesAt)) {
			return rejectf(ErrWindowExpired, "window closed at %s", w.ClosesAt.Format(time.RFC3339Nano))
		}
		return nil
	}

	deadline := clock.Deadline()
	if clock.Expired(now) || (!sent.IsZero() && sent.After(deadline)) {
		return rejectf(ErrInvalidPhase, "%s phase deadline passed", clock.Phase())
	}

	phase := clock.Phase()
	allowed := false
	switch p.action {
	case ActionSummon:
		allowed = phase == rules.PhaseMain
	case ActionActivateAbility:
		allowed = phase == rules.PhaseMain || fast
	case ActionAttack:
		allowed = phase == rules.PhaseCombat
	case ActionUltimate:
		allowed = phase == rules.PhaseMain || phase == rules.PhaseCombat
	}
	if !allowed {
		return rejectf(ErrInvalidPhase, "%s is not allowed in the %s phase", p.action, phase)
	}
	return nil
}

func (m *Machine) resolveTargets(p *plan, raw string) error {
	if p.action == ActionSummon {
		return nil
	}
	if p.action == ActionAttack {
		ref, err := targeting.Resolve(attackRule, p.team, raw, m)
		if err != nil {
			return err
		}
		p.targets = []targeting.Ref{ref}
		return nil
	}
	for i, ability := range p.abilities {
		ref, err := targeting.Resolve(ability.Target, p.team, raw, m)
		if err != nil && i > 0 {
			ref, err = targeting.Resolve(ability.Target, p.team, "", m)
		}
		if err != nil {
			return err
		}
		p.targets = append(p.targets, ref)
	}
	return nil
}

func (m *Machine) execute(p *plan, now time.Time) (effects.Delta, error) {
	var out effects.Delta
	c := m.st.combatants[p.team]
	clock := m.st.clock
	turn := clock.TurnNumber()

	if p.energy > 0 {
		c.Energy -= p.energy
		out.Add(effects.Change{Kind: effects.ChangeEnergy, Team: p.team, Amount: -p.energy, Value: c.Energy})
	}
	if p.cost.Total() > 0 {
		if !c.Mana.Pay(p.cost) {
			return out, fmt.Errorf("mana payment failed after validation")
		}
		for _, color := range p.cost.SortedColors() {
			out.Add(effects.Change{Kind: effects.ChangeMana, Team: p.team, Amount: -p.cost[color], Color: color, Value: c.Mana.Get(color)})
		}
	}

	var played CardInstance
	if p.handIndex >= 0 {
		played = c.Hand[p.handIndex]
		c.Hand = append(c.Hand[:p.handIndex], c.Hand[p.handIndex+1:]...)
	}

	switch p.action {
	case ActionSummon:
		u := &Unit{
			InstanceID:   played.InstanceID,
			CardID:       played.CardID,
			Owner:        p.team,
			Attack:       p.card.Attack,
			Health:       p.card.Health,
			MaxHealth:    p.card.Health,
			SummonedTurn: turn,
		}
		c.Board = append(c.Board, u)
		out.Add(effects.Change{Kind: effects.ChangeSummon, Team: p.team, Unit: u.InstanceID, Card: u.CardID, Value: len(c.Board)})

	case ActionAttack:
		p.unit.AttackedTurn = turn
		if err := m.attack(p, &out); err != nil {
			return out, err
		}

	case ActionActivateAbility, ActionUltimate:
		played.CardID = p.card.ID
		if p.unit != nil {
			played.InstanceID = p.unit.InstanceID
		}
		out.Add(effects.Change{Kind: effects.ChangeCardPlayed, Team: p.team, Unit: played.InstanceID, Card: played.CardID, Detail: string(p.action)})
		for i, ability := range p.abilities {
			if err := m.activate(p, ability, p.targets[i], &out); err != nil {
				return out, err
			}
		}
		if p.action == ActionUltimate {
			if u, _ := c.unit(p.unit.InstanceID); u != nil {
				u.Charge = 0
				u.Cooldown = p.card.Ultimate.Cooldown
				out.Add(effects.Change{Kind: effects.ChangeCharge, Team: p.team, Unit: u.InstanceID, Value: 0})
			}
		}
		if p.handIndex >= 0 {
			c.Discard = append(c.Discard, p.card.ID)
		}
	}

	c.acted = true
	if p.team == clock.CurrentTeam() {
		m.st.window = rules.OpenWindow(p.team, clock, now, m.rules.PlayWindow)
	}
	return out, nil
}

func (m *Machine) activate(p *plan, ability *catalog.AbilityDefinition, target targeting.Ref, out *effects.Delta) error {
	src := m.st.combatants[p.team]
	dst := m.st.combatants[target.Team]
	a := effects.Activation{
		Ability: *ability,
		Color:   p.card.Color,
		Source:  src.side(),
		Target:  dst.side(),
		Arena:   m.arena,
	}
	if p.unit != nil {
		if u, _ := src.unit(p.unit.InstanceID); u != nil {
			a.SourceUnit = u.view()
		}
	}
	if target.IsUnit() {
		u, _ := dst.unit(target.Unit)
		if u == nil {
			// Destroyed by an earlier ability of the same card.
			return nil
		}
		a.TargetUnit = u.view()
	}
	d, err := m.resolver.Resolve(a)
	if err != nil {
		return err
	}
	m.applyDelta(d, out)
	return nil
}

// attack resolves a unit attack. Against a unit both sides deal damage
// simultaneously.
func (m *Machine) attack(p *plan, out *effects.Delta) error {
	target := p.targets[0]
	src := m.st.combatants[p.team]
	dst := m.st.combatants[target.Team]
	strike := catalog.AbilityDefinition{ID: "attack", Kind: catalog.AbilityDamage, DamageType: catalog.DamagePhysical, Magnitude: p.unit.Attack}

	a := effects.Activation{Ability: strike, Color: p.card.Color, Source: src.side(), SourceUnit: p.unit.view(), Target: dst.side(), Arena: m.arena}
	var counter *effects.Activation
	if target.IsUnit() {
		defender, _ := dst.unit(target.Unit)
		a.TargetUnit = defender.view()
		if defender.Attack > 0 {
			defCard := m.mustCard(defender.CardID)
			counter = &effects.Activation{
				Ability:    catalog.AbilityDefinition{ID: "retaliate", Kind: catalog.AbilityDamage, DamageType: catalog.DamagePhysical, Magnitude: defender.Attack},
				Color:      defCard.Color,
				Source:     dst.side(),
				SourceUnit: defender.view(),
				Target:     src.side(),
				TargetUnit: p.unit.view(),
				Arena:      m.arena,
			}
		}
	}

	d, err := m.resolver.Resolve(a)
	if err != nil {
		return err
	}
	if counter != nil {
		back, err := m.resolver.Resolve(*counter)
		if err != nil {
			return err
		}
		for i := range back.Changes {
			back.Changes[i].Detail = "retaliation"
		}
		d.Merge(back)
	}
	m.applyDelta(d, out)
	return nil
}

// applyDelta applies resolver output to the state. Value is filled in on
// every applied change; changes whose subject is gone are dropped.
func (m *Machine) applyDelta(d effects.Delta, out *effects.Delta) {
	for _, ch := range d.Changes {
		m.applyChange(ch, out)
	}
}

func (m *Machine) applyChange(ch effects.Change, out *effects.Delta) {
	if ch.Team < 0 || ch.Team >= len(m.st.combatants) {
		return
	}
	c := m.st.combatants[ch.Team]
	turn := m.st.clock.TurnNumber()

	switch ch.Kind {
	case effects.ChangeDamage:
		if ch.Unit != "" {
			u, idx := c.unit(ch.Unit)
			if u == nil {
				return
			}
			u.Health = max(0, u.Health-ch.Amount)
			ch.Value = u.Health
			out.Add(ch)
			if u.Health == 0 {
				c.Board = append(c.Board[:idx], c.Board[idx+1:]...)
				c.Discard = append(c.Discard, u.CardID)
				out.Add(effects.Change{Kind: effects.ChangeUnitDestroyed, Team: c.Team, Unit: u.InstanceID, Card: u.CardID})
			}
			return
		}
		c.Health = max(0, c.Health-ch.Amount)
		ch.Value = c.Health

	case effects.ChangeHeal:
		if ch.Unit != "" {
			u, _ := c.unit(ch.Unit)
			if u == nil {
				return
			}
			u.Health = min(u.MaxHealth, u.Health+ch.Amount)
			ch.Value = u.Health
			break
		}
		c.Health = min(c.MaxHealth, c.Health+ch.Amount)
		ch.Value = c.Health

	case effects.ChangeEnergy:
		c.Energy = min(m.rules.MaxEnergy, max(0, c.Energy+ch.Amount))
		ch.Value = c.Energy

	case effects.ChangeMana:
		if ch.Amount >= 0 {
			ch.Amount = c.Mana.Add(ch.Color, ch.Amount)
		} else {
			c.Mana.Spend(ch.Color, min(-ch.Amount, c.Mana.Get(ch.Color)))
		}
		ch.Value = c.Mana.Get(ch.Color)

	case effects.ChangeStatusAdded:
		if ch.Status == nil {
			return
		}
		s := *ch.Status
		m.st.nextStatusID++
		s.ID = m.st.nextStatusID
		s.AppliedTurn = turn
		var idx int
		c.Statuses, idx = effects.Enqueue(c.Statuses, s)
		applied := c.Statuses[idx]
		ch.Status = &applied
		ch.Value = len(c.Statuses)

	case effects.ChangeStatusConsumed, effects.ChangeStatusExpired:
		if ch.Status == nil {
			return
		}
		c.Statuses = removeStatus(c.Statuses, ch.Status.ID)
		ch.Value = len(c.Statuses)

	case effects.ChangeModifier:
		u, _ := c.unit(ch.Unit)
		if u == nil || ch.Modifier == nil {
			return
		}
		mod := *ch.Modifier
		mod.AppliedTurn = turn
		u.Modifiers = append(u.Modifiers, mod)
		ch.Modifier = &mod
		ch.Value = effects.ModifierSum(u.Modifiers, mod.Stat)

	case effects.ChangeReturnToHand:
		u, idx := c.unit(ch.Unit)
		if u == nil {
			return
		}
		c.Board = append(c.Board[:idx], c.Board[idx+1:]...)
		ch.Card = u.CardID
		out.Add(ch)
		m.addToHand(c, CardInstance{InstanceID: u.InstanceID, CardID: u.CardID}, out)
		return
	}
	out.Add(ch)
}

func removeStatus(statuses []effects.StatusEffect, id int) []effects.StatusEffect {
	out := statuses[:0]
	for _, s := range statuses {
		if s.ID != id {
			out = append(out, s)
		}
	}
	return out
}

func (m *Machine) draw(c *CombatantState, out *effects.Delta) {
	if len(c.Deck) == 0 {
		return
	}
	card := c.Deck[0]
	c.Deck = c.Deck[1:]
	m.addToHand(c, card, out)
}

// addToHand puts a card into the hand, burning it when the hand is full.
func (m *Machine) addToHand(c *CombatantState, card CardInstance, out *effects.Delta) {
	if len(c.Hand) >= m.rules.MaxHand {
		c.Discard = append(c.Discard, card.CardID)
		out.Add(effects.Change{Kind: effects.ChangeBurned, Team: c.Team, Unit: card.InstanceID, Card: card.CardID, Value: len(c.Hand)})
		return
	}
	c.Hand = append(c.Hand, card)
	out.Add(effects.Change{Kind: effects.ChangeDraw, Team: c.Team, Unit: card.InstanceID, Card: card.CardID, Value: len(c.Hand), Private: true})
}

// beginTurn runs the draw-phase entry of the current team: resources,
// unit charge, status ticks in application order, then the card draw.
func (m *Machine) beginTurn(out *effects.Delta) {
	clock := m.st.clock
	team := clock.CurrentTeam()
	c := m.st.combatants[team]
	c.acted = false
	out.Add(effects.Change{Kind: effects.ChangeTurn, Team: team, Value: clock.TurnNumber()})

	if m.rules.EnergyPerTurn > 0 {
		gained := min(m.rules.MaxEnergy, c.Energy+m.rules.EnergyPerTurn) - c.Energy
		c.Energy += gained
		out.Add(effects.Change{Kind: effects.ChangeEnergy, Team: team, Amount: gained, Value: c.Energy})
	}
	for _, color := range c.Colors {
		if added := c.Mana.Add(color, m.rules.ManaPerTurn); added > 0 {
			out.Add(effects.Change{Kind: effects.ChangeMana, Team: team, Amount: added, Color: color, Value: c.Mana.Get(color)})
		}
	}
	for _, u := range c.Board {
		if u.Cooldown > 0 {
			u.Cooldown--
		}
		card := m.mustCard(u.CardID)
		if card.Ultimate != nil && u.Charge < card.Ultimate.ChargeCost {
			u.Charge++
			out.Add(effects.Change{Kind: effects.ChangeCharge, Team: team, Unit: u.InstanceID, Value: u.Charge})
		}
	}

	ticking := append([]effects.StatusEffect(nil), c.Statuses...)
	for _, s := range ticking {
		m.applyDelta(m.resolver.Tick(c.side(), s, m.arena), out)
	}

	if clock.TurnNumber() > 1 {
		m.draw(c, out)
	}
}

// endTurn expires durations of the team whose turn ends and applies the
// auto-pass forfeit rule.
func (m *Machine) endTurn(out *effects.Delta, now time.Time) {
	clock := m.st.clock
	team := clock.CurrentTeam()
	turn := clock.TurnNumber()
	c := m.st.combatants[team]

	kept := c.Statuses[:0]
	for _, s := range c.Statuses {
		if !s.Permanent && s.AppliedTurn != turn {
			s.Remaining--
		}
		if !s.Permanent && s.Remaining <= 0 {
			expired := s
			out.Add(effects.Change{Kind: effects.ChangeStatusExpired, Team: team, Status: &expired})
			continue
		}
		kept = append(kept, s)
	}
	c.Statuses = kept

	for _, u := range c.Board {
		mods := u.Modifiers[:0]
		for _, mod := range u.Modifiers {
			if !mod.Permanent && mod.AppliedTurn != turn {
				mod.Remaining--
			}
			if !mod.Permanent && mod.Remaining <= 0 {
				continue
			}
			mods = append(mods, mod)
		}
		u.Modifiers = mods
	}

	if c.acted {
		c.idleTurns = 0
	} else {
		c.idleTurns++
	}
	p := m.participants[team]
	if p.Abandoned && c.idleTurns >= m.rules.AutoPassForfeitTurns {
		c.Eliminated = true
		m.logger.Warn("participant forfeited after idle turns",
			zap.String("player_id", p.PlayerID),
			zap.Int("idle_turns", c.idleTurns),
		)
		if m.aliveCount() <= 1 {
			m.finish(ReasonForfeit, now)
		}
	}
}

// AdvancePhase ends the current phase. Explicit advances are accepted from
// the turn owner only; timeout advances only once the deadline is reached.
func (m *Machine) AdvancePhase(trigger Trigger, team int, now time.Time) (effects.Delta, error) {
	var out effects.Delta
	if m.status != StatusActive {
		return out, ErrMatchNotActive
	}
	clock := m.st.clock
	switch trigger {
	case TriggerExplicit:
		if _, err := m.participant(team); err != nil {
			return out, err
		}
		if team != clock.CurrentTeam() {
			return out, rejectf(ErrNotYourTurn, "team %d owns the turn", clock.CurrentTeam())
		}
	case TriggerTimeout:
		if now.Before(clock.Deadline()) {
			return out, ErrDeadlinePending
		}
	case TriggerAdmin:
	default:
		return out, fmt.Errorf("unknown trigger %q", trigger)
	}

	m.record(Operation{Kind: OpAdvance, Team: team, At: now, Trigger: trigger})
	m.undo = nil
	m.st.window = nil

	if clock.Phase() == rules.PhaseEnd {
		m.endTurn(&out, now)
		if m.status.Terminal() {
			return out, nil
		}
	}
	phase, newTurn := clock.Advance(m.eliminated)
	if newTurn && clock.TurnNumber() > m.rules.MaxTurns {
		m.finish(ReasonTurnLimit, now)
		return out, nil
	}
	out.Add(effects.Change{Kind: effects.ChangePhase, Team: clock.CurrentTeam(), Value: clock.TurnNumber(), Detail: phase.String()})
	if newTurn {
		m.beginTurn(&out)
	}
	clock.SetDeadline(now.Add(m.rules.PhaseDuration(phase)))

	if trigger == TriggerTimeout {
		m.logger.Info("phase auto-passed",
			zap.Int("team", clock.CurrentTeam()),
			zap.Int("turn", clock.TurnNumber()),
			zap.String("phase", phase.String()),
		)
	}
	return out, m.settle("advance_phase", now, &out)
}

// Cancel retracts the team's last accepted action while its play window
// is open and nobody has acted since.
func (m *Machine) Cancel(team int, cardID string, now time.Time) (effects.Delta, error) {
	var out effects.Delta
	if m.status != StatusActive {
		return out, ErrMatchNotActive
	}
	u := m.undo
	if u == nil || u.team != team || (cardID != "" && u.cardID != cardID) {
		return out, rejectf(ErrInvalidPhase, "no cancellable action for %s", cardID)
	}
	if u.closesAt.IsZero() || now.After(u.closesAt) {
		return out, rejectf(ErrWindowExpired, "window closed at %s", u.closesAt.Format(time.RFC3339Nano))
	}
	m.st = u.state
	m.undo = nil
	m.record(Operation{Kind: OpCancel, Team: team, At: now, CardID: cardID})
	out.Add(effects.Change{Kind: effects.ChangeCancelled, Team: team, Card: u.cardID})
	return out, nil
}

// Concede ends the match: the conceding team loses, every other team wins.
func (m *Machine) Concede(team int, now time.Time) (Outcome, error) {
	if m.status != StatusActive {
		return Outcome{}, ErrMatchNotActive
	}
	if _, err := m.participant(team); err != nil {
		return Outcome{}, err
	}
	m.record(Operation{Kind: OpConcede, Team: team, At: now})
	m.st.combatants[team].Eliminated = true
	m.finish(ReasonConcede, now)
	return *m.outcome, nil
}

// SetConnected records a participant's connection state.
func (m *Machine) SetConnected(team int, connected bool, now time.Time) (effects.Delta, error) {
	var out effects.Delta
	p, err := m.participant(team)
	if err != nil {
		return out, err
	}
	if m.status.Terminal() {
		return out, ErrMatchNotActive
	}
	p.Connected = connected
	if connected {
		p.Abandoned = false
	}
	m.record(Operation{Kind: OpConnection, Team: team, At: now, Connected: connected})
	value := 0
	if connected {
		value = 1
	}
	out.Add(effects.Change{Kind: effects.ChangeConnection, Team: team, Value: value})
	return out, nil
}

// Abandon marks a participant whose reconnect grace ran out. When every
// participant has abandoned the match it is cancelled.
func (m *Machine) Abandon(team int, now time.Time) error {
	p, err := m.participant(team)
	if err != nil {
		return err
	}
	if m.status.Terminal() {
		return ErrMatchNotActive
	}
	if p.Connected {
		return nil
	}
	p.Abandoned = true
	m.record(Operation{Kind: OpAbandon, Team: team, At: now})
	for _, other := range m.participants {
		if !other.Abandoned {
			return nil
		}
	}
	m.finish(ReasonAbandoned, now)
	return nil
}

// End terminates the match for a reason outside normal play (admin,
// shutdown, abandonment).
func (m *Machine) End(reason string, now time.Time) (Outcome, error) {
	if m.status.Terminal() {
		return Outcome{}, ErrMatchNotActive
	}
	m.record(Operation{Kind: OpEnd, At: now, Reason: reason})
	m.finish(reason, now)
	return *m.outcome, nil
}

// abort ends the match with a state error.
func (m *Machine) abort(op string, cause error, now time.Time) error {
	serr := &StateError{MatchID: m.id, Op: op, Err: cause}
	var existing *StateError
	if errors.As(cause, &existing) {
		serr = existing
	}
	m.logger.Error("match aborted on state error", zap.Error(serr))
	if !m.status.Terminal() {
		m.record(Operation{Kind: OpEnd, At: now, Reason: ReasonStateError})
		m.finish(ReasonStateError, now)
	}
	return serr
}

// settle checks invariants and eliminations after a state change. When
// the turn owner was eliminated the turn passes to the next live team.
func (m *Machine) settle(op string, now time.Time, out *effects.Delta) error {
	if m.status.Terminal() {
		return nil
	}
	if err := m.checkInvariants(); err != nil {
		return m.abort(op, err, now)
	}
	for _, c := range m.st.combatants {
		if !c.Eliminated && c.Health == 0 {
			c.Eliminated = true
			m.logger.Info("combatant eliminated", zap.Int("team", c.Team))
		}
	}
	if m.aliveCount() <= 1 {
		m.finish(ReasonElimination, now)
		return nil
	}
	clock := m.st.clock
	if !m.eliminated(clock.CurrentTeam()) {
		return nil
	}
	m.st.window = nil
	m.undo = nil
	for {
		if _, newTurn := clock.Advance(m.eliminated); newTurn {
			break
		}
	}
	if clock.TurnNumber() > m.rules.MaxTurns {
		m.finish(ReasonTurnLimit, now)
		return nil
	}
	out.Add(effects.Change{Kind: effects.ChangePhase, Team: clock.CurrentTeam(), Value: clock.TurnNumber(), Detail: clock.Phase().String()})
	m.beginTurn(out)
	clock.SetDeadline(now.Add(m.rules.PhaseDuration(rules.PhaseDraw)))
	return m.settle(op, now, out)
}

func (m *Machine) checkInvariants() error {
	for _, c := range m.st.combatants {
		if c.Health < 0 || c.Health > c.MaxHealth {
			return fmt.Errorf("team %d health %d out of range", c.Team, c.Health)
		}
		if c.Energy < 0 {
			return fmt.Errorf("team %d energy %d negative", c.Team, c.Energy)
		}
		for color, amount := range c.Mana.Amounts() {
			if amount < 0 {
				return fmt.Errorf("team %d %s mana %d negative", c.Team, color, amount)
			}
		}
		counts := make(map[catalog.StatusKind]int)
		for _, s := range c.Statuses {
			counts[s.Kind]++
			if counts[s.Kind] > s.Kind.Cap() {
				return fmt.Errorf("team %d exceeds %s cap", c.Team, s.Kind)
			}
		}
		for _, u := range c.Board {
			if u.Health <= 0 {
				return fmt.Errorf("dead unit %s left on board", u.InstanceID)
			}
		}
	}
	return nil
}

func (m *Machine) aliveCount() int {
	alive := 0
	for _, c := range m.st.combatants {
		if !c.Eliminated {
			alive++
		}
	}
	return alive
}

func (m *Machine) mustCard(id string) *catalog.CardDefinition {
	card, ok := m.catalog.Card(id)
	if !ok {
		// Decks are checked against the catalog in Start.
		panic(fmt.Sprintf("card %q missing from catalog", id))
	}
	return card
}

// sortedTeams returns team indices ordered by descending health.
func (m *Machine) sortedTeams() []int {
	teams := m.Teams()
	sort.SliceStable(teams, func(i, j int) bool {
		return m.st.combatants[teams[i]].Health > m.st.combatants[teams[j]].Health
	})
	return teams
}
