package protocol

import (
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeInboundValid(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		want Message
	}{
		{
			name: "queue join",
			raw:  `{"type":"queue.join","timestamp":1,"mode":" 1v1 "}`,
			want: &QueueJoin{Header: Header{Type: TypeQueueJoin, Timestamp: 1}, Mode: "1v1"},
		},
		{
			name: "card play with target",
			raw:  `{"type":"card.play","timestamp":5,"match_id":"m1","card_id":"c1","action":"attack","target":"team:1"}`,
			want: &CardPlay{
				Header:  Header{Type: TypeCardPlay, Timestamp: 5},
				MatchID: "m1",
				CardID:  "c1",
				Action:  ActionAttack,
				Target:  "team:1",
			},
		},
		{
			name: "sync request",
			raw:  `{"type":"sync.request","timestamp":9,"match_id":"m1","last_sequence":12}`,
			want: &SyncRequest{Header: Header{Type: TypeSyncRequest, Timestamp: 9}, MatchID: "m1", LastSequence: 12},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeInbound([]byte(tt.raw))
			require.NoError(t, err)
			assert.Equal(t, tt.want, msg)
		})
	}
}

func TestDecodeInboundRejects(t *testing.T) {
	tests := []struct {
		name string
		raw  string
		code ErrorCode
	}{
		{"not json", `{`, CodeBadRequest},
		{"no type", `{"timestamp":1}`, CodeMissingField},
		{"unknown type", `{"type":"lobby.create","timestamp":1}`, CodeUnknownType},
		{"outbound type from client", `{"type":"state.update","timestamp":1}`, CodeUnknownType},
		{"no timestamp", `{"type":"queue.join","mode":"1v1"}`, CodeMissingField},
		{"queue join without mode", `{"type":"queue.join","timestamp":1}`, CodeMissingField},
		{"card play without action", `{"type":"card.play","timestamp":1,"match_id":"m","card_id":"c"}`, CodeMissingField},
		{"card play bad action", `{"type":"card.play","timestamp":1,"match_id":"m","card_id":"c","action":"fly"}`, CodeInvalidField},
		{"card cancel without card", `{"type":"card.cancel","timestamp":1,"match_id":"m"}`, CodeMissingField},
		{"wrong field type", `{"type":"match.ready","timestamp":1,"match_id":7}`, CodeBadRequest},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := DecodeInbound([]byte(tt.raw))
			require.Nil(t, msg)
			var perr *Error
			require.True(t, errors.As(err, &perr), "expected *Error, got %T", err)
			assert.Equal(t, tt.code, perr.Code)
		})
	}
}

func TestEncodeStampsHeader(t *testing.T) {
	now := time.UnixMilli(1700000000123)
	msg := &StateUpdate{MatchID: "m1", Delta: map[string]any{"changes": []any{}}}
	msg.SetSequence(42)

	data, err := Encode(msg, now)
	require.NoError(t, err)

	var raw map[string]any
	require.NoError(t, json.Unmarshal(data, &raw))
	assert.Equal(t, "state.update", raw["type"])
	assert.EqualValues(t, 1700000000123, raw["timestamp"])
	assert.EqualValues(t, 42, raw["sequence"])
	assert.Equal(t, "m1", raw["match_id"])
}

func TestEncodeOmitsSequenceForNonStateMessages(t *testing.T) {
	data, err := Encode(&QueueAck{Mode: "1v1", Status: "queued", Position: 2}, time.Now())
	require.NoError(t, err)
	assert.NotContains(t, string(data), "sequence")
}

func TestOutboundRoundTrip(t *testing.T) {
	in := &TimerTick{MatchID: "m1", Phase: "main", Turn: 3, CurrentTeam: 1, RemainingMs: 1500}
	data, err := Encode(in, time.UnixMilli(10))
	require.NoError(t, err)

	out, err := DecodeOutbound(data)
	require.NoError(t, err)
	tick, ok := out.(*TimerTick)
	require.True(t, ok)
	assert.Equal(t, in, tick)
}

func TestErrorMessageRetryable(t *testing.T) {
	msg := NewErrorMessage(Errorf(CodeNotYourTurn, "team 1 does not own turn"), "m1", TypeCardPlay)
	assert.True(t, msg.Retryable)

	msg = NewErrorMessage(Errorf(CodeMatchAborted, "match aborted"), "m1", TypeCardPlay)
	assert.False(t, msg.Retryable)
}
