package game

import (
	"errors"
	"fmt"

	"github.com/cardarena/arena-server-go/internal/game/targeting"
)

// Rejected actions. State is unchanged when any of these is returned.
var (
	ErrNotYourTurn          = errors.New("not your turn")
	ErrInvalidPhase         = errors.New("invalid phase")
	ErrWindowExpired        = errors.New("play window expired")
	ErrInsufficientResource = errors.New("insufficient resource")
	ErrIllegalTarget        = targeting.ErrIllegalTarget
	ErrCardNotAvailable     = errors.New("card not available")
)

var (
	// ErrMatchNotActive is returned for input the current status does not accept.
	ErrMatchNotActive = errors.New("match not active")
	// ErrNotParticipant is returned when the player has no seat in the match.
	ErrNotParticipant = errors.New("not a participant")
	// ErrMatchClosed is returned once the match actor has shut down.
	ErrMatchClosed = errors.New("match closed")
	// ErrMatchNotFound is returned by the registry for unknown ids.
	ErrMatchNotFound = errors.New("match not found")
	// ErrDeadlinePending is returned when a timeout fires before the phase
	// deadline. The actor treats it as a stale timer.
	ErrDeadlinePending = errors.New("phase deadline not reached")
)

// StateError is an invariant violation or misconfiguration. It aborts the
// match it happened in and nothing else.
type StateError struct {
	MatchID string
	Op      string
	Err     error
}

func (e *StateError) Error() string {
	return fmt.Sprintf("match %s: %s: %v", e.MatchID, e.Op, e.Err)
}

func (e *StateError) Unwrap() error {
	return e.Err
}

// IsValidation reports whether err is a rejected action rather than a
// failure of the match.
func IsValidation(err error) bool {
	return errors.Is(err, ErrNotYourTurn) ||
		errors.Is(err, ErrInvalidPhase) ||
		errors.Is(err, ErrWindowExpired) ||
		errors.Is(err, ErrInsufficientResource) ||
		errors.Is(err, ErrIllegalTarget) ||
		errors.Is(err, ErrCardNotAvailable)
}

func rejectf(sentinel error, format string, args ...any) error {
	return fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))
}
