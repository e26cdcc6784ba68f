package protocol

import "fmt"

// ErrorCode is the machine-readable reason carried by an error message.
type ErrorCode string

const (
	// Malformed input. Never affects match state.
	CodeBadRequest   ErrorCode = "bad_request"
	CodeUnknownType  ErrorCode = "unknown_type"
	CodeMissingField ErrorCode = "missing_field"
	CodeInvalidField ErrorCode = "invalid_field"

	CodeUnauthorized   ErrorCode = "unauthorized"
	CodeNotParticipant ErrorCode = "not_participant"

	// Rejected actions. The match is unchanged and the client may try again.
	CodeNotYourTurn          ErrorCode = "not_your_turn"
	CodeInvalidPhase         ErrorCode = "invalid_phase"
	CodeWindowExpired        ErrorCode = "window_expired"
	CodeInsufficientResource ErrorCode = "insufficient_resource"
	CodeIllegalTarget        ErrorCode = "illegal_target"

	CodeAlreadyQueued    ErrorCode = "already_queued"
	CodeUnknownMode      ErrorCode = "unknown_mode"
	CodeQueueUnavailable ErrorCode = "queue_unavailable"

	// The match can no longer accept input.
	CodeMatchNotFound  ErrorCode = "match_not_found"
	CodeMatchNotActive ErrorCode = "match_not_active"
	CodeMatchAborted   ErrorCode = "match_aborted"

	CodeInternal ErrorCode = "internal"
)

// Retryable reports whether a client should expect the same request to be
// able to succeed later.
func (c ErrorCode) Retryable() bool {
	switch c {
	case CodeMatchNotFound, CodeMatchNotActive, CodeMatchAborted, CodeNotParticipant, CodeUnauthorized:
		return false
	default:
		return true
	}
}

// Error is a structured protocol error. It is local to the connection that
// produced it.
type Error struct {
	Code    ErrorCode
	Message string
	Details map[string]any
}

func (e *Error) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Errorf builds an Error with a formatted message.
func Errorf(code ErrorCode, format string, args ...any) *Error {
	return &Error{Code: code, Message: fmt.Sprintf(format, args...)}
}

func missingField(t MessageType, field string) *Error {
	return &Error{
		Code:    CodeMissingField,
		Message: fmt.Sprintf("%s requires %s", t, field),
		Details: map[string]any{"field": field},
	}
}

// NewErrorMessage converts an Error into its outbound form.
func NewErrorMessage(err *Error, matchID string, request MessageType) *ErrorMessage {
	return &ErrorMessage{
		ErrorCode:   err.Code,
		Message:     err.Message,
		Details:     err.Details,
		MatchID:     matchID,
		RequestType: request,
		Retryable:   err.Code.Retryable(),
	}
}
