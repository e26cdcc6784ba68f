package rules

import (
	"fmt"
	"strings"
	"time"
)

// Phase represents one of the four phases of a turn.
type Phase int

const (
	PhaseDraw Phase = iota
	PhaseMain
	PhaseCombat
	PhaseEnd
)

var phaseNames = map[Phase]string{
	PhaseDraw:   "draw",
	PhaseMain:   "main",
	PhaseCombat: "combat",
	PhaseEnd:    "end",
}

// Phases lists every phase in turn order.
var Phases = []Phase{PhaseDraw, PhaseMain, PhaseCombat, PhaseEnd}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}
	return fmt.Sprintf("phase_%d", int(p))
}

// MarshalText renders the phase by name.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// UnmarshalText parses a phase name.
func (p *Phase) UnmarshalText(text []byte) error {
	parsed, ok := ParsePhase(string(text))
	if !ok {
		return fmt.Errorf("unknown phase %q", string(text))
	}
	*p = parsed
	return nil
}

// ParsePhase resolves a phase name, case-insensitively.
func ParsePhase(name string) (Phase, bool) {
	name = strings.ToLower(strings.TrimSpace(name))
	for p, n := range phaseNames {
		if n == name {
			return p, true
		}
	}
	return 0, false
}

// ClockState is a copyable view of the clock.
type ClockState struct {
	Turn        int       `json:"turn"`
	Phase       Phase     `json:"phase"`
	CurrentTeam int       `json:"current_team"`
	Deadline    time.Time `json:"deadline"`
}

// TurnClock tracks turn number, phase, the team that owns the turn and the
// phase deadline.
type TurnClock struct {
	order      []int
	orderIndex int
	turnNumber int
	phase      Phase
	deadline   time.Time
}

// NewTurnClock creates a clock at turn 1, draw phase. order lists the teams
// in seating order and first is the index in order that opens the match.
func NewTurnClock(order []int, first int) *TurnClock {
	seats := make([]int, len(order))
	copy(seats, order)
	if first < 0 || first >= len(seats) {
		first = 0
	}
	return &TurnClock{
		order:      seats,
		orderIndex: first,
		turnNumber: 1,
		phase:      PhaseDraw,
	}
}

// TurnNumber returns the current turn number (1-based).
func (tc *TurnClock) TurnNumber() int {
	return tc.turnNumber
}

// Phase returns the phase in progress.
func (tc *TurnClock) Phase() Phase {
	return tc.phase
}

// CurrentTeam returns the team that owns the turn.
func (tc *TurnClock) CurrentTeam() int {
	if len(tc.order) == 0 {
		return -1
	}
	return tc.order[tc.orderIndex]
}

// Deadline returns the current phase deadline.
func (tc *TurnClock) Deadline() time.Time {
	return tc.deadline
}

// SetDeadline moves the phase deadline. Within a turn the deadline never
// moves backwards; the effective deadline is returned.
func (tc *TurnClock) SetDeadline(d time.Time) time.Time {
	if d.After(tc.deadline) {
		tc.deadline = d
	}
	return tc.deadline
}

// Expired reports whether now is past the phase deadline. A clock without
// a deadline never expires.
func (tc *TurnClock) Expired(now time.Time) bool {
	return !tc.deadline.IsZero() && now.After(tc.deadline)
}

// Advance moves to the next phase. Passing the end phase starts a new turn
// for the next team in seating order that skip does not exclude. The
// returned bool reports whether a new turn began.
func (tc *TurnClock) Advance(skip func(team int) bool) (Phase, bool) {
	if tc.phase != PhaseEnd {
		tc.phase++
		return tc.phase, false
	}

	tc.phase = PhaseDraw
	tc.turnNumber++
	tc.deadline = time.Time{}
	for i := 1; i <= len(tc.order); i++ {
		next := (tc.orderIndex + i) % len(tc.order)
		if skip == nil || !skip(tc.order[next]) {
			tc.orderIndex = next
			break
		}
	}
	return tc.phase, true
}

// State returns a copy of the clock's state.
func (tc *TurnClock) State() ClockState {
	return ClockState{
		Turn:        tc.turnNumber,
		Phase:       tc.phase,
		CurrentTeam: tc.CurrentTeam(),
		Deadline:    tc.deadline,
	}
}

// Clone returns an independent copy of the clock.
func (tc *TurnClock) Clone() *TurnClock {
	c := *tc
	c.order = append([]int(nil), tc.order...)
	return &c
}
