package game

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cardarena/arena-server-go/internal/game/effects"
	"github.com/cardarena/arena-server-go/internal/ports"
	"github.com/cardarena/arena-server-go/internal/protocol"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Notifier delivers outbound messages to connected players.
type Notifier interface {
	SendToPlayer(playerID string, msg protocol.Message)
	// MatchClosed releases the connection bindings of a terminal match.
	MatchClosed(matchID string, playerIDs []string)
}

// ResultSink accepts durable summaries of terminal matches.
type ResultSink interface {
	Submit(summary ports.MatchSummary)
}

// SnapshotCache stores the latest spectator snapshot of a match.
type SnapshotCache interface {
	Store(ctx context.Context, matchID string, snap *Snapshot) error
}

// ReplayArchive keeps the replay logs of terminal matches.
type ReplayArchive interface {
	Save(ctx context.Context, log *ReplayLog) error
}

// MatchDeps are the collaborators of a match actor. Cache and Archive are
// optional.
type MatchDeps struct {
	Clock    clockwork.Clock
	Players  ports.PlayerDirectory
	Notifier Notifier
	Results  ResultSink
	Cache    SnapshotCache
	Archive  ReplayArchive
	Logger   *zap.Logger
	// IOTimeout bounds collaborator calls made from the actor.
	IOTimeout time.Duration
}

// MatchInfo is a point-in-time summary for listings.
type MatchInfo struct {
	MatchID      string
	Mode         string
	Status       Status
	Reason       string
	ArenaID      string
	Turn         int
	Phase        string
	CurrentTeam  int
	TimeLeft     time.Duration
	Participants []Participant
}

// Match runs one Machine on its own goroutine. Every input, including
// timer expiry, is a closure posted to cmds, so the machine never sees
// concurrent calls.
type Match struct {
	m      *Machine
	deps   MatchDeps
	logger *zap.Logger

	players []Participant
	cmds    chan func()
	done    chan struct{}
	cache   chan *Snapshot

	ctx    context.Context
	cancel context.CancelFunc

	// Owned by the run goroutine.
	seq           uint64
	closing       bool
	generation    uint64
	phaseTimer    clockwork.Timer
	armedDeadline time.Time
	readyTimer    clockwork.Timer
	tickTimer     clockwork.Timer
	reconnect     map[int]clockwork.Timer
	reconnectGen  map[int]uint64
	readyDeadline time.Time
}

// NewMatch wraps m in an actor. Call Run to start it.
func NewMatch(m *Machine, deps MatchDeps) *Match {
	if deps.Clock == nil {
		deps.Clock = clockwork.NewRealClock()
	}
	if deps.Logger == nil {
		deps.Logger = zap.NewNop()
	}
	if deps.IOTimeout <= 0 {
		deps.IOTimeout = 5 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Match{
		m:            m,
		deps:         deps,
		logger:       deps.Logger.With(zap.String("match_id", m.ID())),
		players:      m.Participants(),
		cmds:         make(chan func(), 64),
		done:         make(chan struct{}),
		cache:        make(chan *Snapshot, 1),
		ctx:          ctx,
		cancel:       cancel,
		reconnect:    make(map[int]clockwork.Timer),
		reconnectGen: make(map[int]uint64),
	}
}

// ID returns the match id.
func (mt *Match) ID() string { return mt.m.ID() }

// Mode returns the match mode.
func (mt *Match) Mode() string { return mt.m.Mode() }

// PlayerIDs returns the seated players in team order.
func (mt *Match) PlayerIDs() []string {
	ids := make([]string, len(mt.players))
	for i, p := range mt.players {
		ids[i] = p.PlayerID
	}
	return ids
}

// Done is closed once the match reached a terminal status and released its
// resources.
func (mt *Match) Done() <-chan struct{} { return mt.done }

// Context is cancelled when the match closes.
func (mt *Match) Context() context.Context { return mt.ctx }

// Run starts the actor, announces the match and arms the ready grace.
func (mt *Match) Run() {
	if mt.deps.Cache != nil {
		go mt.cacheWriter()
	}
	go mt.loop()
	mt.post(mt.announce)
}

func (mt *Match) loop() {
	defer mt.teardown()
	for cmd := range mt.cmds {
		cmd()
		if mt.closing {
			return
		}
	}
}

// post enqueues fn unless the actor is gone.
func (mt *Match) post(fn func()) {
	select {
	case mt.cmds <- fn:
	case <-mt.done:
	}
}

// do runs fn on the actor and waits for its result.
func (mt *Match) do(ctx context.Context, fn func() error) error {
	reply := make(chan error, 1)
	select {
	case mt.cmds <- func() { reply <- fn() }:
	case <-mt.done:
		return ErrMatchClosed
	case <-ctx.Done():
		return ctx.Err()
	}
	select {
	case err := <-reply:
		return err
	case <-mt.done:
		select {
		case err := <-reply:
			return err
		default:
			return ErrMatchClosed
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (mt *Match) team(playerID string) (int, error) {
	for _, p := range mt.players {
		if p.PlayerID == playerID {
			return p.Team, nil
		}
	}
	return -1, fmt.Errorf("%w: %s", ErrNotParticipant, playerID)
}

func (mt *Match) now() time.Time { return mt.deps.Clock.Now() }

func (mt *Match) send(playerID string, msg protocol.Message) {
	if mt.deps.Notifier != nil {
		mt.deps.Notifier.SendToPlayer(playerID, msg)
	}
}

func (mt *Match) nextSeq() uint64 {
	mt.seq++
	return mt.seq
}

func (mt *Match) announce() {
	mt.readyDeadline = mt.now().Add(mt.m.Rules().ReadyGrace)
	mt.readyTimer = mt.deps.Clock.AfterFunc(mt.m.Rules().ReadyGrace, func() {
		mt.post(mt.onReadyTimeout)
	})
	for _, p := range mt.players {
		found := &protocol.MatchFound{
			MatchID:       mt.ID(),
			Mode:          mt.Mode(),
			YourTeam:      p.Team,
			ReadyDeadline: mt.readyDeadline.UnixMilli(),
		}
		for _, o := range mt.players {
			if o.Team == p.Team {
				continue
			}
			opp := protocol.Opponent{PlayerID: o.PlayerID, Team: o.Team, Rating: o.Rating}
			if len(found.Opponents) == 0 {
				found.Opponent = opp
			}
			found.Opponents = append(found.Opponents, opp)
		}
		mt.send(p.PlayerID, found)
	}
	mt.logger.Info("match created",
		zap.String("mode", mt.Mode()),
		zap.Strings("players", mt.PlayerIDs()),
		zap.String("arena", mt.m.Arena().ID),
	)
	mt.publish()
}

// Ready records the player's readiness. The match starts once every
// participant is ready.
func (mt *Match) Ready(ctx context.Context, playerID string) error {
	return mt.do(ctx, func() error {
		team, err := mt.team(playerID)
		if err != nil {
			return err
		}
		allReady, err := mt.m.MarkReady(team, mt.now())
		if err != nil {
			return err
		}
		var ready []string
		for _, p := range mt.m.Participants() {
			if p.Ready {
				ready = append(ready, p.PlayerID)
			}
		}
		seq := mt.nextSeq()
		for _, p := range mt.players {
			msg := &protocol.MatchReadyStatus{MatchID: mt.ID(), PlayerID: playerID, Ready: ready}
			msg.SetSequence(seq)
			mt.send(p.PlayerID, msg)
		}
		if allReady {
			mt.start()
		}
		return nil
	})
}

func (mt *Match) start() {
	stopTimer(mt.readyTimer)

	decks := make([][]string, len(mt.players))
	for i, p := range mt.players {
		ctx, cancel := context.WithTimeout(mt.ctx, mt.deps.IOTimeout)
		deck, err := mt.deps.Players.GetPlayerDeck(ctx, p.PlayerID)
		cancel()
		if err != nil {
			mt.logger.Error("failed to load deck",
				zap.String("player_id", p.PlayerID),
				zap.Error(err),
			)
			mt.end(ReasonDeckUnavailable)
			return
		}
		decks[i] = deck
	}

	delta, err := mt.m.Start(decks, mt.now())
	if err != nil {
		mt.logger.Error("failed to start match", zap.Error(err))
		if !mt.m.Status().Terminal() {
			mt.end(ReasonStateError)
		} else {
			mt.close()
		}
		return
	}

	seq := mt.nextSeq()
	for _, p := range mt.players {
		msg := &protocol.MatchStart{
			MatchID:      mt.ID(),
			Seed:         mt.m.Seed(),
			Rules:        mt.m.Rules().View(),
			Arena:        mt.m.Arena(),
			Participants: mt.m.Participants(),
			YourTeam:     p.Team,
		}
		msg.SetSequence(seq)
		mt.send(p.PlayerID, msg)
	}
	mt.afterChange(delta)
	mt.armTick()
}

func (mt *Match) onReadyTimeout() {
	if mt.m.Status() != StatusQueued {
		return
	}
	if _, err := mt.m.ExpireReadiness(mt.now()); err != nil {
		mt.logger.Error("failed to expire readiness", zap.Error(err))
		return
	}
	mt.logger.Warn("readiness grace expired")
	mt.close()
}

// Play applies a card action for the player.
func (mt *Match) Play(ctx context.Context, playerID string, act CardActivation) error {
	return mt.do(ctx, func() error {
		team, err := mt.team(playerID)
		if err != nil {
			return err
		}
		delta, err := mt.m.ApplyAction(team, act, mt.now())
		if err != nil {
			if mt.m.Status().Terminal() {
				mt.close()
			}
			return err
		}
		mt.send(playerID, &protocol.CardPlayAck{MatchID: mt.ID(), CardID: act.CardID, Action: string(act.Action)})
		mt.afterChange(delta)
		return nil
	})
}

// CancelCard retracts the player's last action inside its play window.
func (mt *Match) CancelCard(ctx context.Context, playerID, cardID string) error {
	return mt.do(ctx, func() error {
		team, err := mt.team(playerID)
		if err != nil {
			return err
		}
		delta, err := mt.m.Cancel(team, cardID, mt.now())
		if err != nil {
			return err
		}
		mt.send(playerID, &protocol.CardCancelAck{MatchID: mt.ID(), CardID: cardID})
		mt.afterChange(delta)
		for _, p := range mt.players {
			mt.sendSnapshot(p)
		}
		return nil
	})
}

// Advance ends the current phase on the player's request. A non-empty
// phase must name the current phase, so a late request cannot skip the
// phase that follows.
func (mt *Match) Advance(ctx context.Context, playerID, phase string) error {
	return mt.do(ctx, func() error {
		team, err := mt.team(playerID)
		if err != nil {
			return err
		}
		if current := mt.m.Clock().Phase.String(); phase != "" && phase != current {
			return rejectf(ErrInvalidPhase, "phase is %s, not %s", current, phase)
		}
		return mt.advance(TriggerExplicit, team)
	})
}

func (mt *Match) advance(trigger Trigger, team int) error {
	delta, err := mt.m.AdvancePhase(trigger, team, mt.now())
	if err != nil {
		if mt.m.Status().Terminal() {
			mt.close()
		}
		return err
	}
	mt.afterChange(delta)
	return nil
}

// Concede ends the match with the player as the loser.
func (mt *Match) Concede(ctx context.Context, playerID string) error {
	return mt.do(ctx, func() error {
		team, err := mt.team(playerID)
		if err != nil {
			return err
		}
		if _, err := mt.m.Concede(team, mt.now()); err != nil {
			return err
		}
		mt.close()
		return nil
	})
}

// Sync pushes a full snapshot to the player.
func (mt *Match) Sync(ctx context.Context, playerID string) error {
	return mt.do(ctx, func() error {
		team, err := mt.team(playerID)
		if err != nil {
			return err
		}
		mt.sendSnapshot(mt.players[team])
		return nil
	})
}

// Disconnected tells the match the player's connection dropped. The clock
// keeps running; the reconnect grace starts.
func (mt *Match) Disconnected(playerID string) {
	mt.post(func() {
		team, err := mt.team(playerID)
		if err != nil || mt.m.Status().Terminal() {
			return
		}
		delta, err := mt.m.SetConnected(team, false, mt.now())
		if err != nil {
			return
		}
		mt.logger.Warn("participant disconnected", zap.String("player_id", playerID))
		mt.broadcast(delta)

		stopTimer(mt.reconnect[team])
		mt.reconnectGen[team]++
		gen := mt.reconnectGen[team]
		mt.reconnect[team] = mt.deps.Clock.AfterFunc(mt.m.Rules().ReconnectGrace, func() {
			mt.post(func() { mt.onReconnectExpired(team, gen) })
		})
	})
}

// Reconnected rebinds a returning player and pushes a snapshot.
func (mt *Match) Reconnected(playerID string) {
	mt.post(func() {
		team, err := mt.team(playerID)
		if err != nil || mt.m.Status().Terminal() {
			return
		}
		stopTimer(mt.reconnect[team])
		delete(mt.reconnect, team)
		mt.reconnectGen[team]++
		delta, err := mt.m.SetConnected(team, true, mt.now())
		if err != nil {
			return
		}
		mt.logger.Info("participant reconnected", zap.String("player_id", playerID))
		mt.broadcast(delta)
		mt.sendSnapshot(mt.players[team])
	})
}

func (mt *Match) onReconnectExpired(team int, gen uint64) {
	if gen != mt.reconnectGen[team] || mt.m.Status().Terminal() {
		return
	}
	delete(mt.reconnect, team)
	if err := mt.m.Abandon(team, mt.now()); err != nil {
		return
	}
	mt.logger.Warn("reconnect grace expired",
		zap.String("player_id", mt.players[team].PlayerID),
	)
	if mt.m.Status().Terminal() {
		mt.close()
	}
}

// ForceAdvance ends the current phase on behalf of an operator.
func (mt *Match) ForceAdvance(ctx context.Context) error {
	return mt.do(ctx, func() error {
		return mt.advance(TriggerAdmin, -1)
	})
}

// Cancel terminates the match for reason.
func (mt *Match) Cancel(ctx context.Context, reason string) error {
	return mt.do(ctx, func() error {
		if mt.m.Status().Terminal() {
			return ErrMatchNotActive
		}
		mt.end(reason)
		return nil
	})
}

// Snapshot returns the state as viewer sees it.
func (mt *Match) Snapshot(ctx context.Context, viewer int) (*Snapshot, error) {
	var snap *Snapshot
	err := mt.do(ctx, func() error {
		snap = mt.m.Snapshot(viewer)
		return nil
	})
	return snap, err
}

// Info returns a summary of the match.
func (mt *Match) Info(ctx context.Context) (MatchInfo, error) {
	var info MatchInfo
	err := mt.do(ctx, func() error {
		info = mt.info()
		return nil
	})
	return info, err
}

func (mt *Match) info() MatchInfo {
	clock := mt.m.Clock()
	return MatchInfo{
		MatchID:      mt.ID(),
		Mode:         mt.Mode(),
		Status:       mt.m.Status(),
		Reason:       mt.m.Reason(),
		ArenaID:      mt.m.Arena().ID,
		Turn:         clock.Turn,
		Phase:        clock.Phase.String(),
		CurrentTeam:  clock.CurrentTeam,
		TimeLeft:     mt.m.TimeLeft(mt.now()),
		Participants: mt.m.Participants(),
	}
}

// end terminates a live match outside normal play.
func (mt *Match) end(reason string) {
	if _, err := mt.m.End(reason, mt.now()); err != nil && !errors.Is(err, ErrMatchNotActive) {
		mt.logger.Error("failed to end match", zap.Error(err))
	}
	mt.close()
}

// afterChange fans a delta out, refreshes the cache and re-arms the phase
// timer. A delta that ended the match closes it.
func (mt *Match) afterChange(delta effects.Delta) {
	mt.broadcast(delta)
	if mt.m.Status().Terminal() {
		mt.close()
		return
	}
	mt.publish()
	mt.armPhase()
}

func (mt *Match) broadcast(delta effects.Delta) {
	if delta.Empty() {
		return
	}
	seq := mt.nextSeq()
	for _, p := range mt.players {
		msg := &protocol.StateUpdate{MatchID: mt.ID(), Delta: DeltaFor(delta, p.Team)}
		msg.SetSequence(seq)
		mt.send(p.PlayerID, msg)
	}
}

func (mt *Match) sendSnapshot(p Participant) {
	msg := &protocol.SyncSnapshot{MatchID: mt.ID(), State: mt.m.Snapshot(p.Team)}
	msg.SetSequence(mt.seq)
	mt.send(p.PlayerID, msg)
}

// armPhase schedules the auto-pass for the current deadline. Timers from
// earlier deadlines are invalidated through the generation counter.
func (mt *Match) armPhase() {
	deadline := mt.m.Clock().Deadline
	if deadline.IsZero() || deadline.Equal(mt.armedDeadline) {
		return
	}
	stopTimer(mt.phaseTimer)
	mt.generation++
	gen := mt.generation
	mt.armedDeadline = deadline
	mt.phaseTimer = mt.deps.Clock.AfterFunc(deadline.Sub(mt.now()), func() {
		mt.post(func() { mt.onPhaseTimeout(gen) })
	})
}

func (mt *Match) onPhaseTimeout(gen uint64) {
	if gen != mt.generation || mt.m.Status() != StatusActive {
		return
	}
	err := mt.advance(TriggerTimeout, -1)
	if errors.Is(err, ErrDeadlinePending) {
		mt.armedDeadline = time.Time{}
		mt.armPhase()
		return
	}
	if err != nil && !mt.m.Status().Terminal() {
		mt.logger.Error("auto-pass failed", zap.Error(err))
	}
}

func (mt *Match) armTick() {
	interval := mt.m.Rules().TickInterval
	mt.tickTimer = mt.deps.Clock.AfterFunc(interval, func() {
		mt.post(mt.onTick)
	})
}

func (mt *Match) onTick() {
	if mt.m.Status() != StatusActive {
		return
	}
	clock := mt.m.Clock()
	left := mt.m.TimeLeft(mt.now())
	for _, p := range mt.players {
		mt.send(p.PlayerID, &protocol.TimerTick{
			MatchID:     mt.ID(),
			Phase:       clock.Phase.String(),
			Turn:        clock.Turn,
			CurrentTeam: clock.CurrentTeam,
			RemainingMs: left.Milliseconds(),
		})
	}
	mt.armTick()
}

// publish hands the spectator snapshot to the cache writer, replacing any
// snapshot it has not stored yet.
func (mt *Match) publish() {
	if mt.deps.Cache == nil {
		return
	}
	snap := mt.m.Snapshot(Spectator)
	select {
	case <-mt.cache:
	default:
	}
	select {
	case mt.cache <- snap:
	default:
	}
}

func (mt *Match) cacheWriter() {
	for snap := range mt.cache {
		ctx, cancel := context.WithTimeout(context.Background(), mt.deps.IOTimeout)
		if err := mt.deps.Cache.Store(ctx, mt.ID(), snap); err != nil {
			mt.logger.Warn("failed to cache snapshot", zap.Error(err))
		}
		cancel()
	}
}

// close announces the result and hands the summary to persistence. The
// loop exits after the current command.
func (mt *Match) close() {
	if mt.closing {
		return
	}
	mt.closing = true

	stopTimer(mt.phaseTimer)
	stopTimer(mt.readyTimer)
	stopTimer(mt.tickTimer)
	for team, t := range mt.reconnect {
		stopTimer(t)
		delete(mt.reconnect, team)
	}

	outcome, _ := mt.m.Outcome()
	seq := mt.nextSeq()
	for _, p := range mt.players {
		msg := &protocol.MatchEnd{
			MatchID:  mt.ID(),
			Status:   outcome.Status.String(),
			Reason:   outcome.Reason,
			Results:  outcome.Participants,
			Checksum: outcome.Checksum,
		}
		msg.SetSequence(seq)
		mt.send(p.PlayerID, msg)
	}

	if summary, ok := mt.m.Summary(); ok && mt.deps.Results != nil {
		mt.deps.Results.Submit(summary)
	}
	mt.publish()
}

func (mt *Match) teardown() {
	close(mt.cache)
	if mt.deps.Archive != nil {
		ctx, cancel := context.WithTimeout(context.Background(), mt.deps.IOTimeout)
		if err := mt.deps.Archive.Save(ctx, mt.m.ReplayLog()); err != nil {
			mt.logger.Error("failed to archive replay", zap.Error(err))
		}
		cancel()
	}
	if mt.deps.Notifier != nil {
		mt.deps.Notifier.MatchClosed(mt.ID(), mt.PlayerIDs())
	}
	mt.cancel()
	close(mt.done)
}

func stopTimer(t clockwork.Timer) {
	if t != nil {
		t.Stop()
	}
}
