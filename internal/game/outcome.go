package game

import (
	"time"

	"github.com/cardarena/arena-server-go/internal/ports"
	"go.uber.org/zap"
)

// Outcome is the final result of a terminal match.
type Outcome struct {
	MatchID      string        `json:"match_id"`
	Status       Status        `json:"status"`
	Reason       string        `json:"reason"`
	Participants []Participant `json:"participants"`
	Turns        int           `json:"turns"`
	Checksum     string        `json:"checksum"`
	EndedAt      time.Time     `json:"ended_at"`
}

// Winners returns the teams credited with a win.
func (o Outcome) Winners() []int {
	var teams []int
	for _, p := range o.Participants {
		if p.Result == ResultWin {
			teams = append(teams, p.Team)
		}
	}
	return teams
}

func finishedReason(reason string) bool {
	switch reason {
	case ReasonElimination, ReasonConcede, ReasonForfeit, ReasonTurnLimit:
		return true
	}
	return false
}

// finish moves the match to its terminal status and computes results.
// Ratings only change for matches that were played to a finish.
func (m *Machine) finish(reason string, now time.Time) {
	if m.status.Terminal() {
		return
	}
	m.reason = reason
	m.endedAt = now
	m.undo = nil
	m.st.window = nil

	if finishedReason(reason) {
		m.status = StatusFinished
	} else {
		m.status = StatusCancelled
	}

	switch reason {
	case ReasonElimination, ReasonConcede, ReasonForfeit:
		alive := m.aliveCount()
		for i, p := range m.participants {
			switch {
			case alive == 0:
				p.Result = ResultDraw
			case m.st.combatants[i].Eliminated:
				p.Result = ResultLoss
			default:
				p.Result = ResultWin
			}
		}
	case ReasonTurnLimit:
		best := -1
		for _, team := range m.sortedTeams() {
			c := m.st.combatants[team]
			if !c.Eliminated {
				best = c.Health
				break
			}
		}
		leaders := 0
		for _, c := range m.st.combatants {
			if !c.Eliminated && c.Health == best {
				leaders++
			}
		}
		for i, p := range m.participants {
			c := m.st.combatants[i]
			switch {
			case c.Eliminated || c.Health < best:
				p.Result = ResultLoss
			case leaders > 1:
				p.Result = ResultDraw
			default:
				p.Result = ResultWin
			}
		}
	case ReasonReadyTimeout:
		for _, p := range m.participants {
			if p.Ready {
				p.Result = ResultWin
			} else {
				p.Result = ResultLoss
			}
		}
	}

	if m.status == StatusFinished {
		rate(m.participants, m.rules.RatingK)
	}

	checksum := ""
	if m.st.clock != nil {
		checksum = m.Checksum()
	}
	m.outcome = &Outcome{
		MatchID:      m.id,
		Status:       m.status,
		Reason:       reason,
		Participants: m.Participants(),
		Turns:        m.Clock().Turn,
		Checksum:     checksum,
		EndedAt:      now,
	}

	fields := []zap.Field{
		zap.String("status", m.status.String()),
		zap.String("reason", reason),
		zap.Int("turns", m.outcome.Turns),
		zap.Ints("winners", m.outcome.Winners()),
	}
	if reason == ReasonStateError {
		m.logger.Error("match cancelled", fields...)
		return
	}
	m.logger.Info("match ended", fields...)
}

// Summary converts the outcome into the durable record handed to
// persistence.
func (m *Machine) Summary() (ports.MatchSummary, bool) {
	if m.outcome == nil {
		return ports.MatchSummary{}, false
	}
	s := ports.MatchSummary{
		MatchID:   m.id,
		Mode:      m.mode,
		Status:    m.status.String(),
		Reason:    m.reason,
		ArenaID:   m.arena.ID,
		Seed:      m.seed,
		Turns:     m.outcome.Turns,
		Checksum:  m.outcome.Checksum,
		CreatedAt: m.createdAt,
		StartedAt: m.startedAt,
		EndedAt:   m.endedAt,
	}
	for _, p := range m.outcome.Participants {
		s.Participants = append(s.Participants, ports.ParticipantSummary{
			PlayerID:    p.PlayerID,
			Team:        p.Team,
			Result:      p.Result.String(),
			RatingDelta: p.RatingDelta,
		})
	}
	return s, true
}
