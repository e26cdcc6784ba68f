package game

import (
	"bytes"
	"testing"
	"time"

	"github.com/cardarena/arena-server-go/internal/game/rules"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

// playedMachine runs a short match with accepted, rejected and cancelled
// actions and ends it by concession.
func playedMachine(t *testing.T) *Machine {
	t.Helper()
	m := startedMachine(t, [][]string{repeat("grunt", 6), repeat("bolt", 6)}, nil)
	now := passTurn(t, m, t0)
	now = passTurn(t, m, now)
	now = advanceTo(t, m, rules.PhaseMain, now)

	_, err := m.ApplyAction(0, CardActivation{CardID: "grunt", Action: ActionSummon}, now)
	require.NoError(t, err)
	_, err = m.Cancel(0, "grunt", now.Add(time.Second))
	require.NoError(t, err)
	_, err = m.ApplyAction(0, CardActivation{CardID: "grunt", Action: ActionSummon}, now.Add(2*time.Second))
	require.NoError(t, err)
	_, err = m.ApplyAction(1, CardActivation{CardID: "bolt", Action: ActionActivateAbility}, now.Add(3*time.Second))
	require.NoError(t, err)
	_, err = m.ApplyAction(1, CardActivation{CardID: "bolt", Action: ActionActivateAbility}, now.Add(30*time.Second))
	require.ErrorIs(t, err, ErrWindowExpired)

	now = passTurn(t, m, now.Add(30*time.Second))
	_, err = m.SetConnected(0, false, now)
	require.NoError(t, err)
	_, err = m.SetConnected(0, true, now.Add(time.Second))
	require.NoError(t, err)
	_, err = m.Concede(1, now.Add(2*time.Second))
	require.NoError(t, err)
	return m
}

func TestReplayRecordsAcceptedOperationsOnly(t *testing.T) {
	m := playedMachine(t)

	var actions, cancels int
	for _, op := range m.Operations() {
		switch op.Kind {
		case OpAction:
			actions++
		case OpCancel:
			cancels++
		}
	}
	assert.Equal(t, 3, actions, "the expired bolt is not recorded")
	assert.Equal(t, 1, cancels)

	ops := m.Operations()
	assert.Equal(t, OpReady, ops[0].Kind)
	assert.Equal(t, OpStart, ops[2].Kind)
	assert.Equal(t, OpConcede, ops[len(ops)-1].Kind)
}

func TestReproduceMatchesChecksum(t *testing.T) {
	m := playedMachine(t)
	log := m.ReplayLog()

	var buf bytes.Buffer
	require.NoError(t, EncodeReplay(&buf, log))
	decoded, err := DecodeReplay(&buf)
	require.NoError(t, err)
	assert.Equal(t, log.MatchID, decoded.MatchID)
	assert.Len(t, decoded.Operations, len(log.Operations))

	replayed, err := Reproduce(decoded, testCatalog(t), zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, m.Checksum(), replayed.Checksum())
	assert.Equal(t, StatusFinished, replayed.Status())

	want, _ := m.Outcome()
	got, _ := replayed.Outcome()
	assert.Equal(t, want.Winners(), got.Winners())
	assert.Equal(t, want.Checksum, got.Checksum)
}

func TestReproduceDetectsDivergence(t *testing.T) {
	m := playedMachine(t)
	log := m.ReplayLog()
	log.Checksum = "tampered"

	_, err := Reproduce(log, testCatalog(t), zaptest.NewLogger(t))
	assert.ErrorIs(t, err, ErrReplayDiverged)
}

func TestReproduceReadyTimeout(t *testing.T) {
	m := newQueuedMachine(t, duelSeats(), nil)
	_, err := m.MarkReady(1, t0)
	require.NoError(t, err)
	_, err = m.ExpireReadiness(t0.Add(30 * time.Second))
	require.NoError(t, err)

	replayed, err := Reproduce(m.ReplayLog(), testCatalog(t), zaptest.NewLogger(t))
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, replayed.Status())
	assert.Equal(t, ReasonReadyTimeout, replayed.Reason())
}

func TestDecodeReplayRejectsGarbage(t *testing.T) {
	if _, err := DecodeReplay(bytes.NewReader([]byte("not a replay"))); err == nil {
		t.Fatalf("expected error for non-gzip input")
	}

	log := &ReplayLog{Version: ReplayVersion + 1, MatchID: "m"}
	var buf bytes.Buffer
	require.NoError(t, EncodeReplay(&buf, log))
	_, err := DecodeReplay(&buf)
	assert.Error(t, err)

	_, err = Reproduce(log, testCatalog(t), zaptest.NewLogger(t))
	assert.Error(t, err)
}
