package game

import (
	"compress/gzip"
	"encoding/gob"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/cardarena/arena-server-go/internal/catalog"
	"github.com/cardarena/arena-server-go/internal/ports"
	"go.uber.org/zap"
)

// ReplayVersion is the format version written into every replay.
const ReplayVersion = 1

// OpKind names an accepted machine operation.
type OpKind string

const (
	OpReady        OpKind = "ready"
	OpReadyTimeout OpKind = "ready_timeout"
	OpStart        OpKind = "start"
	OpAction       OpKind = "action"
	OpAdvance      OpKind = "advance"
	OpCancel       OpKind = "cancel"
	OpConcede      OpKind = "concede"
	OpConnection   OpKind = "connection"
	OpAbandon      OpKind = "abandon"
	OpEnd          OpKind = "end"
)

// Operation is one accepted input of a match, with the server time it was
// applied at. Rejected input is never recorded.
type Operation struct {
	Kind       OpKind
	Team       int
	At         time.Time
	Decks      [][]string
	Activation *CardActivation
	Trigger    Trigger
	CardID     string
	Connected  bool
	Reason     string
}

// ReplayLog is everything needed to rebuild a match: its configuration and
// the ordered operations. Checksum is the state checksum after the last
// operation.
type ReplayLog struct {
	Version    int
	MatchID    string
	Mode       string
	ArenaID    string
	Seats      []ports.Seat
	Rules      Rules
	CreatedAt  time.Time
	Operations []Operation
	Checksum   string
}

// ErrReplayDiverged is returned when a reproduced match does not end in the
// recorded state.
var ErrReplayDiverged = errors.New("replay diverged")

func (m *Machine) record(op Operation) {
	m.log = append(m.log, op)
}

// Operations returns the accepted operations so far.
func (m *Machine) Operations() []Operation {
	return append([]Operation(nil), m.log...)
}

// ReplayLog captures the match for archiving.
func (m *Machine) ReplayLog() *ReplayLog {
	seats := make([]ports.Seat, len(m.participants))
	for i, p := range m.participants {
		seats[i] = ports.Seat{PlayerID: p.PlayerID, Rating: p.Rating}
	}
	return &ReplayLog{
		Version:    ReplayVersion,
		MatchID:    m.id,
		Mode:       m.mode,
		ArenaID:    m.arena.ID,
		Seats:      seats,
		Rules:      m.rules,
		CreatedAt:  m.createdAt,
		Operations: m.Operations(),
		Checksum:   m.Checksum(),
	}
}

// Reproduce replays a log against a fresh machine and verifies that it ends
// with the recorded checksum.
func Reproduce(log *ReplayLog, cat *catalog.Catalog, logger *zap.Logger) (*Machine, error) {
	if log.Version != ReplayVersion {
		return nil, fmt.Errorf("unsupported replay version: %d", log.Version)
	}
	m, err := NewMachine(MachineConfig{
		MatchID:   log.MatchID,
		Mode:      log.Mode,
		ArenaID:   log.ArenaID,
		Seats:     log.Seats,
		Rules:     log.Rules,
		Catalog:   cat,
		CreatedAt: log.CreatedAt,
		Logger:    logger,
	})
	if err != nil {
		return nil, err
	}

	for i, op := range log.Operations {
		if m.status.Terminal() {
			break
		}
		if err := m.replay(op); err != nil {
			var serr *StateError
			if errors.As(err, &serr) {
				continue
			}
			return m, fmt.Errorf("operation %d (%s): %w", i, op.Kind, err)
		}
	}

	if got := m.Checksum(); got != log.Checksum {
		return m, fmt.Errorf("%w: checksum %s, recorded %s", ErrReplayDiverged, got, log.Checksum)
	}
	return m, nil
}

func (m *Machine) replay(op Operation) error {
	var err error
	switch op.Kind {
	case OpReady:
		_, err = m.MarkReady(op.Team, op.At)
	case OpReadyTimeout:
		_, err = m.ExpireReadiness(op.At)
	case OpStart:
		_, err = m.Start(op.Decks, op.At)
	case OpAction:
		if op.Activation == nil {
			return fmt.Errorf("action without activation")
		}
		_, err = m.ApplyAction(op.Team, *op.Activation, op.At)
	case OpAdvance:
		_, err = m.AdvancePhase(op.Trigger, op.Team, op.At)
	case OpCancel:
		_, err = m.Cancel(op.Team, op.CardID, op.At)
	case OpConcede:
		_, err = m.Concede(op.Team, op.At)
	case OpConnection:
		_, err = m.SetConnected(op.Team, op.Connected, op.At)
	case OpAbandon:
		err = m.Abandon(op.Team, op.At)
	case OpEnd:
		_, err = m.End(op.Reason, op.At)
	default:
		err = fmt.Errorf("unknown operation %q", op.Kind)
	}
	return err
}

// EncodeReplay writes a gzipped gob encoding of log to w.
func EncodeReplay(w io.Writer, log *ReplayLog) error {
	gz := gzip.NewWriter(w)
	if err := gob.NewEncoder(gz).Encode(log); err != nil {
		gz.Close()
		return fmt.Errorf("failed to encode replay: %w", err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("failed to flush replay: %w", err)
	}
	return nil
}

// DecodeReplay reads a replay written by EncodeReplay.
func DecodeReplay(r io.Reader) (*ReplayLog, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create gzip reader: %w", err)
	}
	defer gz.Close()

	var log ReplayLog
	if err := gob.NewDecoder(gz).Decode(&log); err != nil {
		return nil, fmt.Errorf("failed to decode replay: %w", err)
	}
	if log.Version != ReplayVersion {
		return nil, fmt.Errorf("unsupported replay version: %d", log.Version)
	}
	return &log, nil
}
