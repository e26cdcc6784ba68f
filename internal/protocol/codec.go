package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// MaxIDLength bounds identifiers accepted from clients.
const MaxIDLength = 128

type envelope struct {
	Type      MessageType `json:"type"`
	Timestamp *int64      `json:"timestamp"`
}

// DecodeInbound parses and validates a client message. The returned error is
// always a *Error.
func DecodeInbound(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, Errorf(CodeBadRequest, "malformed json: %v", err)
	}
	if env.Type == "" {
		return nil, missingField("message", "type")
	}

	var msg Message
	switch env.Type {
	case TypeQueueJoin:
		msg = &QueueJoin{}
	case TypeQueueLeave:
		msg = &QueueLeave{}
	case TypeQueueStatus:
		msg = &QueueStatusRequest{}
	case TypeMatchReady:
		msg = &MatchReady{}
	case TypeMatchConcede:
		msg = &MatchConcede{}
	case TypePhaseAdvance:
		msg = &PhaseAdvance{}
	case TypeCardPlay:
		msg = &CardPlay{}
	case TypeCardCancel:
		msg = &CardCancel{}
	case TypeSyncRequest:
		msg = &SyncRequest{}
	default:
		return nil, &Error{
			Code:    CodeUnknownType,
			Message: fmt.Sprintf("unknown message type %q", env.Type),
			Details: map[string]any{"type": string(env.Type)},
		}
	}

	if env.Timestamp == nil {
		return nil, missingField(env.Type, "timestamp")
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, Errorf(CodeBadRequest, "malformed %s: %v", env.Type, err)
	}
	if err := validateInbound(msg); err != nil {
		return nil, err
	}
	return msg, nil
}

func validateInbound(msg Message) *Error {
	switch m := msg.(type) {
	case *QueueJoin:
		return requireID(m.MessageType(), "mode", &m.Mode)
	case *QueueLeave:
		return requireID(m.MessageType(), "mode", &m.Mode)
	case *QueueStatusRequest:
		return requireID(m.MessageType(), "mode", &m.Mode)
	case *MatchReady:
		return requireID(m.MessageType(), "match_id", &m.MatchID)
	case *MatchConcede:
		return requireID(m.MessageType(), "match_id", &m.MatchID)
	case *PhaseAdvance:
		return requireID(m.MessageType(), "match_id", &m.MatchID)
	case *SyncRequest:
		return requireID(m.MessageType(), "match_id", &m.MatchID)
	case *CardCancel:
		if err := requireID(m.MessageType(), "match_id", &m.MatchID); err != nil {
			return err
		}
		return requireID(m.MessageType(), "card_id", &m.CardID)
	case *CardPlay:
		if err := requireID(m.MessageType(), "match_id", &m.MatchID); err != nil {
			return err
		}
		if err := requireID(m.MessageType(), "card_id", &m.CardID); err != nil {
			return err
		}
		if err := requireID(m.MessageType(), "action", &m.Action); err != nil {
			return err
		}
		switch m.Action {
		case ActionSummon, ActionAttack, ActionActivateAbility, ActionUltimate:
		default:
			return &Error{
				Code:    CodeInvalidField,
				Message: fmt.Sprintf("unknown action %q", m.Action),
				Details: map[string]any{"field": "action"},
			}
		}
		m.Target = strings.TrimSpace(m.Target)
		m.AbilityID = strings.TrimSpace(m.AbilityID)
		return nil
	default:
		return Errorf(CodeUnknownType, "message type %s is not accepted from clients", msg.MessageType())
	}
}

func requireID(t MessageType, field string, value *string) *Error {
	*value = strings.TrimSpace(*value)
	if *value == "" {
		return missingField(t, field)
	}
	if len(*value) > MaxIDLength {
		return &Error{
			Code:    CodeInvalidField,
			Message: fmt.Sprintf("%s exceeds %d characters", field, MaxIDLength),
			Details: map[string]any{"field": field},
		}
	}
	return nil
}

// Encode stamps the type and timestamp on msg and serializes it. A sequence
// set through SetSequence is preserved.
func Encode(msg Message, now time.Time) ([]byte, error) {
	h := msg.header()
	h.Type = msg.MessageType()
	h.Timestamp = now.UnixMilli()
	data, err := json.Marshal(msg)
	if err != nil {
		return nil, fmt.Errorf("encode %s: %w", h.Type, err)
	}
	return data, nil
}

// DecodeOutbound parses a server message. It is used by clients and tests.
func DecodeOutbound(data []byte) (Message, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("malformed json: %w", err)
	}

	var msg Message
	switch env.Type {
	case TypeConnected:
		msg = &Connected{}
	case TypeQueueAck:
		msg = &QueueAck{}
	case TypeQueueStatus:
		msg = &QueueStatus{}
	case TypeMatchFound:
		msg = &MatchFound{}
	case TypeMatchReady:
		msg = &MatchReadyStatus{}
	case TypeMatchStart:
		msg = &MatchStart{}
	case TypeMatchEnd:
		msg = &MatchEnd{}
	case TypeCardPlay:
		msg = &CardPlayAck{}
	case TypeCardCancel:
		msg = &CardCancelAck{}
	case TypeStateUpdate:
		msg = &StateUpdate{}
	case TypeSyncSnapshot:
		msg = &SyncSnapshot{}
	case TypeTimerTick:
		msg = &TimerTick{}
	case TypeError:
		msg = &ErrorMessage{}
	default:
		return nil, fmt.Errorf("unknown message type %q", env.Type)
	}
	if err := json.Unmarshal(data, msg); err != nil {
		return nil, fmt.Errorf("malformed %s: %w", env.Type, err)
	}
	return msg, nil
}
