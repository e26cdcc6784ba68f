package gateway

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"strings"
	"time"

	"github.com/cardarena/arena-server-go/internal/config"
	"github.com/cardarena/arena-server-go/internal/game"
	"github.com/cardarena/arena-server-go/internal/matchmaking"
	"github.com/cardarena/arena-server-go/internal/ports"
	"github.com/cardarena/arena-server-go/internal/protocol"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const requestTimeout = 5 * time.Second

// Queue is the matchmaking surface the gateway routes queue.* to.
type Queue interface {
	Join(ctx context.Context, mode, playerID, connRef string, rating int) (matchmaking.JoinResult, error)
	Leave(ctx context.Context, mode, playerID string) (matchmaking.LeaveResult, error)
	Status(ctx context.Context, mode, playerID string) (matchmaking.StatusResult, error)
}

// Matches finds live matches.
type Matches interface {
	Get(matchID string) (*game.Match, error)
	MatchFor(playerID string) (*game.Match, bool)
}

// TokenVerifier resolves a bearer token to a player id.
type TokenVerifier interface {
	Verify(token string) (string, error)
}

// Deps are the collaborators of a Server.
type Deps struct {
	Hub     *Hub
	Tokens  TokenVerifier
	Queue   Queue
	Matches Matches
	Players ports.PlayerDirectory
	Logger  *zap.Logger
}

// Server upgrades authenticated requests to websockets and routes their
// messages.
type Server struct {
	cfg      config.WebSocketConfig
	deps     Deps
	logger   *zap.Logger
	upgrader websocket.Upgrader
}

func NewServer(cfg config.WebSocketConfig, deps Deps) (*Server, error) {
	if deps.Hub == nil || deps.Tokens == nil || deps.Queue == nil || deps.Matches == nil || deps.Players == nil {
		return nil, fmt.Errorf("gateway dependencies are incomplete")
	}
	if cfg.PongWait <= 0 || cfg.WriteWait <= 0 || cfg.SendBuffer <= 0 {
		return nil, fmt.Errorf("invalid websocket timing")
	}
	logger := deps.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Server{
		cfg:    cfg,
		deps:   deps,
		logger: logger,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			// Clients authenticate with a bearer token, not cookies.
			CheckOrigin: func(r *http.Request) bool { return true },
		},
	}, nil
}

// Handler returns the HTTP routes: the websocket path and /healthz.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	path := s.cfg.Path
	if path == "" {
		path = "/ws"
	}
	mux.HandleFunc(path, s.serveWS)
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %d\n", s.deps.Hub.Count())
	})
	return mux
}

// ListenAndServe serves until ctx is cancelled, then closes every client.
func (s *Server) ListenAndServe(ctx context.Context) error {
	srv := &http.Server{
		Addr:              s.cfg.Address,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errc := make(chan error, 1)
	go func() {
		s.logger.Info("starting WebSocket server", zap.String("address", s.cfg.Address), zap.String("path", s.cfg.Path))
		errc <- srv.ListenAndServe()
	}()
	select {
	case err := <-errc:
		return err
	case <-ctx.Done():
	}
	s.deps.Hub.CloseAll()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	if err := <-errc; !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func bearerToken(r *http.Request) string {
	if token := r.URL.Query().Get("token"); token != "" {
		return token
	}
	header := r.Header.Get("Authorization")
	if len(header) > 7 && strings.EqualFold(header[:7], "bearer ") {
		return strings.TrimSpace(header[7:])
	}
	return ""
}

func (s *Server) serveWS(w http.ResponseWriter, r *http.Request) {
	token := bearerToken(r)
	if token == "" {
		http.Error(w, "missing token", http.StatusUnauthorized)
		return
	}
	playerID, err := s.deps.Tokens.Verify(token)
	if err != nil {
		s.logger.Debug("rejected websocket token", zap.Error(err))
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	c := newClient(uuid.NewString(), playerID, conn, s.cfg.SendBuffer)
	s.deps.Hub.register(c)
	go c.writePump(s.cfg.WriteWait, s.cfg.PongWait*9/10)

	connected := &protocol.Connected{PlayerID: playerID, ConnectionID: c.id}
	m, inMatch := s.deps.Matches.MatchFor(playerID)
	if inMatch {
		connected.MatchID = m.ID()
		c.setMatch(m.ID())
	}
	s.deps.Hub.deliver(c, connected)
	if inMatch {
		m.Reconnected(playerID)
	}
	s.logger.Info("player connected",
		zap.String("player_id", playerID),
		zap.String("connection_id", c.id),
		zap.Bool("rejoined_match", inMatch),
	)

	s.readPump(c)
}

func (s *Server) readPump(c *Client) {
	defer func() {
		s.disconnect(c)
		c.close(websocket.CloseNormalClosure, "")
	}()

	c.conn.SetReadLimit(s.cfg.ReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.logger.Debug("websocket read failed", zap.String("player_id", c.playerID), zap.Error(err))
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(s.cfg.PongWait))

		msg, err := protocol.DecodeInbound(data)
		if err != nil {
			s.reject(c, err, "", "")
			continue
		}
		s.handle(c, msg)
	}
}

// disconnect runs once the read loop ends.
func (s *Server) disconnect(c *Client) {
	if !s.deps.Hub.unregister(c) {
		// A newer connection owns the player now.
		return
	}
	if m, ok := s.deps.Matches.MatchFor(c.playerID); ok {
		m.Disconnected(c.playerID)
	}
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()
	for _, mode := range c.queuedModes() {
		if _, err := s.deps.Queue.Leave(ctx, mode, c.playerID); err != nil {
			s.logger.Warn("failed to remove disconnected player from queue",
				zap.String("player_id", c.playerID),
				zap.String("mode", mode),
				zap.Error(err),
			)
		}
	}
	s.logger.Info("player disconnected", zap.String("player_id", c.playerID), zap.String("connection_id", c.id))
}

func (s *Server) reject(c *Client, err error, matchID string, request protocol.MessageType) {
	perr := toProtocolError(err)
	if perr.Code == protocol.CodeInternal {
		s.logger.Error("request failed",
			zap.String("player_id", c.playerID),
			zap.String("request", string(request)),
			zap.Error(err),
		)
	}
	s.deps.Hub.deliver(c, protocol.NewErrorMessage(perr, matchID, request))
}

func (s *Server) handle(c *Client, msg protocol.Message) {
	ctx, cancel := context.WithTimeout(context.Background(), requestTimeout)
	defer cancel()

	var err error
	var matchID string
	switch m := msg.(type) {
	case *protocol.QueueJoin:
		err = s.joinQueue(ctx, c, m)
	case *protocol.QueueLeave:
		err = s.leaveQueue(ctx, c, m)
	case *protocol.QueueStatusRequest:
		err = s.queueStatus(ctx, c, m)
	case *protocol.MatchReady:
		matchID = m.MatchID
		err = s.withMatch(c, m.MatchID, func(match *game.Match) error {
			return match.Ready(ctx, c.playerID)
		})
	case *protocol.MatchConcede:
		matchID = m.MatchID
		err = s.withMatch(c, m.MatchID, func(match *game.Match) error {
			return match.Concede(ctx, c.playerID)
		})
	case *protocol.PhaseAdvance:
		matchID = m.MatchID
		err = s.withMatch(c, m.MatchID, func(match *game.Match) error {
			return match.Advance(ctx, c.playerID, m.Phase)
		})
	case *protocol.CardPlay:
		matchID = m.MatchID
		err = s.withMatch(c, m.MatchID, func(match *game.Match) error {
			return match.Play(ctx, c.playerID, game.CardActivation{
				CardID:          m.CardID,
				Action:          game.Action(m.Action),
				Target:          m.Target,
				AbilityID:       m.AbilityID,
				ClientTimestamp: time.UnixMilli(m.Timestamp),
			})
		})
	case *protocol.CardCancel:
		matchID = m.MatchID
		err = s.withMatch(c, m.MatchID, func(match *game.Match) error {
			return match.CancelCard(ctx, c.playerID, m.CardID)
		})
	case *protocol.SyncRequest:
		matchID = m.MatchID
		err = s.withMatch(c, m.MatchID, func(match *game.Match) error {
			return match.Sync(ctx, c.playerID)
		})
	default:
		err = protocol.Errorf(protocol.CodeUnknownType, "unsupported message %s", msg.MessageType())
	}
	if err != nil {
		s.logger.Debug("request rejected",
			zap.String("player_id", c.playerID),
			zap.String("type", string(msg.MessageType())),
			zap.Error(err),
		)
		s.reject(c, err, matchID, msg.MessageType())
	}
}

// withMatch runs fn against the match if the player is seated in it.
func (s *Server) withMatch(c *Client, matchID string, fn func(*game.Match) error) error {
	match, err := s.deps.Matches.Get(matchID)
	if err != nil {
		return err
	}
	if !slices.Contains(match.PlayerIDs(), c.playerID) {
		return fmt.Errorf("%w: %s", game.ErrNotParticipant, matchID)
	}
	return fn(match)
}

func (s *Server) joinQueue(ctx context.Context, c *Client, m *protocol.QueueJoin) error {
	if id := c.match(); id != "" {
		return protocol.Errorf(protocol.CodeInvalidPhase, "already seated in match %s", id)
	}
	rating, err := s.deps.Players.GetPlayerRating(ctx, c.playerID)
	if errors.Is(err, ports.ErrNotFound) {
		return protocol.Errorf(protocol.CodeUnauthorized, "unknown player %s", c.playerID)
	}
	if err != nil {
		return err
	}
	res, err := s.deps.Queue.Join(ctx, m.Mode, c.playerID, c.id, rating)
	if err != nil {
		return err
	}
	if res.Status == matchmaking.StatusQueued {
		c.setQueued(m.Mode, true)
	}
	s.deps.Hub.deliver(c, &protocol.QueueAck{
		Mode:     m.Mode,
		Status:   res.Status,
		Position: res.Position,
		MatchID:  res.MatchID,
	})
	return nil
}

func (s *Server) leaveQueue(ctx context.Context, c *Client, m *protocol.QueueLeave) error {
	res, err := s.deps.Queue.Leave(ctx, m.Mode, c.playerID)
	if err != nil {
		return err
	}
	c.setQueued(m.Mode, false)
	s.deps.Hub.deliver(c, &protocol.QueueAck{Mode: m.Mode, Status: res.Status})
	return nil
}

func (s *Server) queueStatus(ctx context.Context, c *Client, m *protocol.QueueStatusRequest) error {
	res, err := s.deps.Queue.Status(ctx, m.Mode, c.playerID)
	if err != nil {
		return err
	}
	s.deps.Hub.deliver(c, &protocol.QueueStatus{Mode: m.Mode, InQueue: res.InQueue, Position: res.Position})
	return nil
}
