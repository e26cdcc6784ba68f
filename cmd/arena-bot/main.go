// Command arena-bot is a scripted player for smoke-testing a running server.
// It queues, readies, passes every phase it owns and requeues until it has
// played the requested number of matches.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/cardarena/arena-server-go/internal/auth"
	"github.com/cardarena/arena-server-go/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/joho/godotenv"
	"go.uber.org/zap"
)

var (
	serverURL = flag.String("url", "ws://localhost:8080/ws", "gateway websocket URL")
	playerID  = flag.String("player", "bot-1", "player id to connect as")
	mode      = flag.String("mode", "1v1", "queue mode")
	matches   = flag.Int("matches", 1, "number of matches to play before exiting")
	concede   = flag.Int("concede-after", 0, "concede once this turn is reached (0 plays until the end)")
	token     = flag.String("token", "", "bearer token; issued from ARENA_AUTH_JWT_SECRET when empty")
)

type bot struct {
	conn   *websocket.Conn
	logger *zap.Logger

	remaining int
	matchID   string
	team      int
	advanced  string
}

func main() {
	flag.Parse()
	_ = godotenv.Load()

	logger, err := zap.NewDevelopment()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	raw := *token
	if raw == "" {
		issuer := os.Getenv("ARENA_AUTH_JWT_ISSUER")
		if issuer == "" {
			issuer = "arena"
		}
		tokens, err := auth.NewTokens(os.Getenv("ARENA_AUTH_JWT_SECRET"), issuer, nil)
		if err != nil {
			logger.Fatal("cannot issue a token; pass -token or set ARENA_AUTH_JWT_SECRET", zap.Error(err))
		}
		if raw, err = tokens.Issue(*playerID, time.Hour); err != nil {
			logger.Fatal("failed to issue token", zap.Error(err))
		}
	}

	u, err := url.Parse(*serverURL)
	if err != nil {
		logger.Fatal("invalid url", zap.Error(err))
	}
	q := u.Query()
	q.Set("token", raw)
	u.RawQuery = q.Encode()

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, u.String(), nil)
	if err != nil {
		logger.Fatal("failed to connect", zap.String("url", *serverURL), zap.Error(err))
	}
	defer conn.Close()
	go func() {
		<-ctx.Done()
		conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "bye"))
		conn.Close()
	}()

	b := &bot{conn: conn, logger: logger.With(zap.String("player_id", *playerID)), remaining: *matches}
	if err := b.run(); err != nil && ctx.Err() == nil {
		logger.Fatal("bot stopped", zap.Error(err))
	}
}

func (b *bot) send(msg protocol.Message) error {
	data, err := protocol.Encode(msg, time.Now())
	if err != nil {
		return err
	}
	return b.conn.WriteMessage(websocket.TextMessage, data)
}

func (b *bot) run() error {
	for {
		_, data, err := b.conn.ReadMessage()
		if err != nil {
			return err
		}
		msg, err := protocol.DecodeOutbound(data)
		if err != nil {
			b.logger.Warn("unreadable server message", zap.Error(err))
			continue
		}
		done, err := b.handle(msg)
		if err != nil {
			return err
		}
		if done {
			return nil
		}
	}
}

func (b *bot) handle(msg protocol.Message) (bool, error) {
	switch m := msg.(type) {
	case *protocol.Connected:
		b.logger.Info("connected", zap.String("connection_id", m.ConnectionID))
		if m.MatchID != "" {
			b.matchID = m.MatchID
			return false, b.send(&protocol.SyncRequest{MatchID: m.MatchID})
		}
		return false, b.send(&protocol.QueueJoin{Mode: *mode})

	case *protocol.QueueAck:
		b.logger.Info("queue", zap.String("status", m.Status), zap.Int("position", m.Position))

	case *protocol.MatchFound:
		b.matchID = m.MatchID
		b.team = m.YourTeam
		b.advanced = ""
		b.logger.Info("match found",
			zap.String("match_id", m.MatchID),
			zap.String("opponent", m.Opponent.PlayerID),
			zap.Int("opponent_rating", m.Opponent.Rating),
		)
		return false, b.send(&protocol.MatchReady{MatchID: m.MatchID})

	case *protocol.MatchStart:
		b.team = m.YourTeam
		b.logger.Info("match started", zap.String("match_id", m.MatchID), zap.Int64("seed", m.Seed))

	case *protocol.TimerTick:
		if m.MatchID != b.matchID || m.CurrentTeam != b.team {
			return false, nil
		}
		if *concede > 0 && m.Turn >= *concede {
			return false, b.send(&protocol.MatchConcede{MatchID: b.matchID})
		}
		// One advance per phase; the tick repeats until the phase moves on.
		key := fmt.Sprintf("%d/%s", m.Turn, m.Phase)
		if key == b.advanced {
			return false, nil
		}
		b.advanced = key
		return false, b.send(&protocol.PhaseAdvance{MatchID: b.matchID, Phase: m.Phase})

	case *protocol.MatchEnd:
		b.logger.Info("match ended",
			zap.String("match_id", m.MatchID),
			zap.String("status", m.Status),
			zap.String("reason", m.Reason),
		)
		b.matchID = ""
		b.remaining--
		if b.remaining <= 0 {
			return true, nil
		}
		// The gateway returns us to the lobby once the match has closed.
		time.Sleep(500 * time.Millisecond)
		return false, b.send(&protocol.QueueJoin{Mode: *mode})

	case *protocol.ErrorMessage:
		b.logger.Warn("request rejected",
			zap.String("code", string(m.ErrorCode)),
			zap.String("message", m.Message),
			zap.String("request", string(m.RequestType)),
		)
	}
	return false, nil
}
