package game

import (
	"fmt"
	"time"

	"github.com/cardarena/arena-server-go/internal/game/effects"
	"github.com/cardarena/arena-server-go/internal/game/mana"
	"github.com/cardarena/arena-server-go/internal/game/rules"
)

// Status is the lifecycle state of a match.
type Status int

const (
	StatusQueued Status = iota
	StatusActive
	StatusFinished
	StatusCancelled
)

func (s Status) String() string {
	switch s {
	case StatusQueued:
		return "queued"
	case StatusActive:
		return "active"
	case StatusFinished:
		return "finished"
	case StatusCancelled:
		return "cancelled"
	default:
		return "unknown"
	}
}

// MarshalText renders the status by name.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText parses a status name.
func (s *Status) UnmarshalText(text []byte) error {
	for _, st := range []Status{StatusQueued, StatusActive, StatusFinished, StatusCancelled} {
		if st.String() == string(text) {
			*s = st
			return nil
		}
	}
	return fmt.Errorf("unknown match status %q", text)
}

// Terminal reports whether no further transition is possible.
func (s Status) Terminal() bool {
	return s == StatusFinished || s == StatusCancelled
}

// Result is a participant's outcome.
type Result int

const (
	ResultNone Result = iota
	ResultWin
	ResultLoss
	ResultDraw
)

func (r Result) String() string {
	switch r {
	case ResultWin:
		return "win"
	case ResultLoss:
		return "loss"
	case ResultDraw:
		return "draw"
	default:
		return "none"
	}
}

// MarshalText renders the result by name.
func (r Result) MarshalText() ([]byte, error) {
	return []byte(r.String()), nil
}

// UnmarshalText parses a result name.
func (r *Result) UnmarshalText(text []byte) error {
	for _, res := range []Result{ResultNone, ResultWin, ResultLoss, ResultDraw} {
		if res.String() == string(text) {
			*r = res
			return nil
		}
	}
	return fmt.Errorf("unknown result %q", text)
}

// End reasons.
const (
	ReasonElimination  = "elimination"
	ReasonConcede      = "concede"
	ReasonForfeit      = "forfeit"
	ReasonTurnLimit    = "turn_limit"
	ReasonReadyTimeout = "ready_timeout"
	ReasonAbandoned    = "abandoned"
	ReasonAdmin        = "admin"
	ReasonStateError   = "state_error"
	ReasonShutdown     = "shutdown"

	// ReasonDeckUnavailable cancels a match whose decks could not be loaded.
	ReasonDeckUnavailable = "deck_unavailable"
)

// Trigger says why a phase advanced.
type Trigger string

const (
	TriggerTimeout  Trigger = "timeout"
	TriggerExplicit Trigger = "explicit"
	TriggerAdmin    Trigger = "admin"
)

// Participant is one seat of a match.
type Participant struct {
	PlayerID    string `json:"player_id"`
	Team        int    `json:"team"`
	Rating      int    `json:"rating"`
	Result      Result `json:"result"`
	RatingDelta int    `json:"rating_delta"`
	Ready       bool   `json:"ready"`
	Connected   bool   `json:"connected"`
	// Abandoned is set once the reconnect grace expired.
	Abandoned bool `json:"abandoned,omitempty"`
}

// Action names.
type Action string

const (
	ActionSummon          Action = "summon"
	ActionAttack          Action = "attack"
	ActionActivateAbility Action = "activate_ability"
	ActionUltimate        Action = "ultimate"
)

// CardActivation is one requested card action. CardID is a catalog card id
// or a card instance id for cards in hand, and a unit instance id for
// attacks, ultimates and unit abilities.
type CardActivation struct {
	CardID          string    `json:"card_id"`
	Action          Action    `json:"action"`
	Target          string    `json:"target,omitempty"`
	AbilityID       string    `json:"ability_id,omitempty"`
	ClientTimestamp time.Time `json:"client_timestamp"`
}

// First player policies.
const (
	FirstPlayerTeam0    = "team0"
	FirstPlayerCoinFlip = "coin_flip"
)

// Rules are the tunable constants of a match.
type Rules struct {
	StartingHealth       int
	MaxEnergy            int
	EnergyPerTurn        int
	MaxMana              int
	ManaPerTurn          int
	OpeningHand          int
	MaxHand              int
	DrawPhase            time.Duration
	MainPhase            time.Duration
	CombatPhase          time.Duration
	EndPhase             time.Duration
	PlayWindow           time.Duration
	ReadyGrace           time.Duration
	ReconnectGrace       time.Duration
	TickInterval         time.Duration
	AutoPassForfeitTurns int
	FirstPlayer          string
	RatingK              int
	MaxTurns             int
	Arenas               []string
}

// DefaultRules returns the standard rule set.
func DefaultRules() Rules {
	return Rules{
		StartingHealth:       30,
		MaxEnergy:            10,
		EnergyPerTurn:        2,
		MaxMana:              10,
		ManaPerTurn:          1,
		OpeningHand:          4,
		MaxHand:              8,
		DrawPhase:            15 * time.Second,
		MainPhase:            60 * time.Second,
		CombatPhase:          30 * time.Second,
		EndPhase:             10 * time.Second,
		PlayWindow:           5 * time.Second,
		ReadyGrace:           30 * time.Second,
		ReconnectGrace:       60 * time.Second,
		TickInterval:         time.Second,
		AutoPassForfeitTurns: 3,
		FirstPlayer:          FirstPlayerTeam0,
		RatingK:              32,
		MaxTurns:             60,
	}
}

// PhaseDuration returns the deadline length of a phase.
func (r Rules) PhaseDuration(p rules.Phase) time.Duration {
	switch p {
	case rules.PhaseDraw:
		return r.DrawPhase
	case rules.PhaseMain:
		return r.MainPhase
	case rules.PhaseCombat:
		return r.CombatPhase
	default:
		return r.EndPhase
	}
}

// Validate rejects rule sets a match cannot run with.
func (r Rules) Validate() error {
	for _, p := range rules.Phases {
		if r.PhaseDuration(p) <= 0 {
			return fmt.Errorf("%s phase duration must be positive", p)
		}
	}
	switch {
	case r.StartingHealth <= 0:
		return fmt.Errorf("starting health must be positive")
	case r.MaxEnergy < 0 || r.EnergyPerTurn < 0 || r.MaxMana < 0 || r.ManaPerTurn < 0:
		return fmt.Errorf("resource limits must not be negative")
	case r.MaxHand <= 0 || r.OpeningHand > r.MaxHand:
		return fmt.Errorf("opening hand %d exceeds hand size %d", r.OpeningHand, r.MaxHand)
	case r.PlayWindow <= 0 || r.ReadyGrace <= 0 || r.ReconnectGrace <= 0 || r.TickInterval <= 0:
		return fmt.Errorf("timers must be positive")
	case r.FirstPlayer != FirstPlayerTeam0 && r.FirstPlayer != FirstPlayerCoinFlip:
		return fmt.Errorf("unknown first player policy %q", r.FirstPlayer)
	case r.MaxTurns <= 0:
		return fmt.Errorf("max turns must be positive")
	}
	return nil
}

// RulesView is the client-facing form of Rules sent with match.start.
type RulesView struct {
	StartingHealth int              `json:"starting_health"`
	MaxEnergy      int              `json:"max_energy"`
	MaxMana        int              `json:"max_mana"`
	MaxHand        int              `json:"max_hand"`
	MaxTurns       int              `json:"max_turns"`
	PhaseMs        map[string]int64 `json:"phase_ms"`
	PlayWindowMs   int64            `json:"play_window_ms"`
	ReconnectMs    int64            `json:"reconnect_ms"`
}

// View converts the rules for the wire.
func (r Rules) View() RulesView {
	phases := make(map[string]int64, len(rules.Phases))
	for _, p := range rules.Phases {
		phases[p.String()] = r.PhaseDuration(p).Milliseconds()
	}
	return RulesView{
		StartingHealth: r.StartingHealth,
		MaxEnergy:      r.MaxEnergy,
		MaxMana:        r.MaxMana,
		MaxHand:        r.MaxHand,
		MaxTurns:       r.MaxTurns,
		PhaseMs:        phases,
		PlayWindowMs:   r.PlayWindow.Milliseconds(),
		ReconnectMs:    r.ReconnectGrace.Milliseconds(),
	}
}

// CardInstance is a card in hand.
type CardInstance struct {
	InstanceID string `json:"instance_id"`
	CardID     string `json:"card_id"`
}

// Unit is a card on the board.
type Unit struct {
	InstanceID   string             `json:"instance_id"`
	CardID       string             `json:"card_id"`
	Owner        int                `json:"owner"`
	Attack       int                `json:"attack"`
	Health       int                `json:"health"`
	MaxHealth    int                `json:"max_health"`
	Modifiers    []effects.Modifier `json:"modifiers,omitempty"`
	SummonedTurn int                `json:"summoned_turn"`
	AttackedTurn int                `json:"attacked_turn,omitempty"`
	Charge       int                `json:"charge"`
	Cooldown     int                `json:"cooldown,omitempty"`
}

func (u *Unit) clone() *Unit {
	c := *u
	c.Modifiers = append([]effects.Modifier(nil), u.Modifiers...)
	return &c
}

func (u *Unit) view() *effects.UnitView {
	return &effects.UnitView{
		InstanceID: u.InstanceID,
		Owner:      u.Owner,
		Attack:     u.Attack,
		Health:     u.Health,
		MaxHealth:  u.MaxHealth,
		Modifiers:  u.Modifiers,
	}
}

// CombatantState is one participant's in-match state.
type CombatantState struct {
	Team       int
	Health     int
	MaxHealth  int
	Energy     int
	Mana       *mana.Pool
	Colors     []mana.Color
	Deck       []CardInstance
	Hand       []CardInstance
	Board      []*Unit
	Discard    []string
	Statuses   []effects.StatusEffect
	Eliminated bool
	// acted is set when the team had an action accepted this turn.
	acted bool
	// idleTurns counts consecutive own turns without an accepted action.
	idleTurns int
}

func (c *CombatantState) clone() *CombatantState {
	cp := *c
	cp.Mana = c.Mana.Copy()
	cp.Colors = append([]mana.Color(nil), c.Colors...)
	cp.Deck = append([]CardInstance(nil), c.Deck...)
	cp.Hand = append([]CardInstance(nil), c.Hand...)
	cp.Discard = append([]string(nil), c.Discard...)
	cp.Statuses = append([]effects.StatusEffect(nil), c.Statuses...)
	cp.Board = make([]*Unit, len(c.Board))
	for i, u := range c.Board {
		cp.Board[i] = u.clone()
	}
	return &cp
}

func (c *CombatantState) side() effects.Side {
	return effects.Side{
		Team:      c.Team,
		Health:    c.Health,
		MaxHealth: c.MaxHealth,
		Statuses:  c.Statuses,
	}
}

func (c *CombatantState) unit(instanceID string) (*Unit, int) {
	for i, u := range c.Board {
		if u.InstanceID == instanceID {
			return u, i
		}
	}
	return nil, -1
}

// handIndex finds a card in hand by instance id, then by catalog id.
func (c *CombatantState) handIndex(id string) int {
	for i, card := range c.Hand {
		if card.InstanceID == id {
			return i
		}
	}
	for i, card := range c.Hand {
		if card.CardID == id {
			return i
		}
	}
	return -1
}
