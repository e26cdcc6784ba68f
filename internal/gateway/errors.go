package gateway

import (
	"context"
	"errors"

	"github.com/cardarena/arena-server-go/internal/auth"
	"github.com/cardarena/arena-server-go/internal/game"
	"github.com/cardarena/arena-server-go/internal/matchmaking"
	"github.com/cardarena/arena-server-go/internal/ports"
	"github.com/cardarena/arena-server-go/internal/protocol"
)

var errorCodes = []struct {
	err  error
	code protocol.ErrorCode
}{
	{game.ErrNotYourTurn, protocol.CodeNotYourTurn},
	{game.ErrInvalidPhase, protocol.CodeInvalidPhase},
	{game.ErrWindowExpired, protocol.CodeWindowExpired},
	{game.ErrInsufficientResource, protocol.CodeInsufficientResource},
	{game.ErrIllegalTarget, protocol.CodeIllegalTarget},
	{game.ErrCardNotAvailable, protocol.CodeInvalidField},
	{game.ErrNotParticipant, protocol.CodeNotParticipant},
	{game.ErrMatchNotFound, protocol.CodeMatchNotFound},
	{game.ErrMatchNotActive, protocol.CodeMatchNotActive},
	{game.ErrMatchClosed, protocol.CodeMatchNotActive},
	{matchmaking.ErrAlreadyQueued, protocol.CodeAlreadyQueued},
	{matchmaking.ErrUnknownMode, protocol.CodeUnknownMode},
	{matchmaking.ErrQueueUnavailable, protocol.CodeQueueUnavailable},
	{ports.ErrUnavailable, protocol.CodeQueueUnavailable},
	{auth.ErrInvalidToken, protocol.CodeUnauthorized},
}

// toProtocolError maps a handler error onto the wire error codes. Anything
// unrecognized is reported as internal without leaking its text.
func toProtocolError(err error) *protocol.Error {
	var perr *protocol.Error
	if errors.As(err, &perr) {
		return perr
	}
	var serr *game.StateError
	if errors.As(err, &serr) {
		return protocol.Errorf(protocol.CodeMatchAborted, "match aborted")
	}
	for _, ec := range errorCodes {
		if errors.Is(err, ec.err) {
			return &protocol.Error{Code: ec.code, Message: err.Error()}
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return protocol.Errorf(protocol.CodeInternal, "request timed out")
	}
	return protocol.Errorf(protocol.CodeInternal, "internal error")
}
