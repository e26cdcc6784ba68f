package rules

import "time"

// PlayWindow is the short interval after an accepted action during which
// the other teams may answer with fast cards.
type PlayWindow struct {
	OpenedBy int       `json:"opened_by"`
	Turn     int       `json:"turn"`
	Phase    Phase     `json:"phase"`
	ClosesAt time.Time `json:"closes_at"`
}

// OpenWindow starts a window for the action team just took on the clock.
func OpenWindow(team int, clock *TurnClock, now time.Time, length time.Duration) *PlayWindow {
	return &PlayWindow{
		OpenedBy: team,
		Turn:     clock.TurnNumber(),
		Phase:    clock.Phase(),
		ClosesAt: now.Add(length),
	}
}

// Open reports whether the window still accepts responses at now.
func (w *PlayWindow) Open(now time.Time) bool {
	return w != nil && !now.After(w.ClosesAt)
}

// Answerable reports whether team may respond inside this window. The team
// that opened it cannot answer itself.
func (w *PlayWindow) Answerable(team int) bool {
	return w != nil && team != w.OpenedBy
}
