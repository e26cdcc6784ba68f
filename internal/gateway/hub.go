// Package gateway serves the player websocket endpoint.
package gateway

import (
	"sync"
	"time"

	"github.com/cardarena/arena-server-go/internal/protocol"
	"github.com/gorilla/websocket"
	"github.com/jonboulle/clockwork"
	"go.uber.org/zap"
)

// Client is one authenticated websocket connection.
type Client struct {
	id       string
	playerID string
	conn     *websocket.Conn
	send     chan []byte

	done      chan struct{}
	closeOnce sync.Once
	closeCode int
	closeText string

	mu      sync.Mutex
	matchID string
	queued  map[string]bool
}

func newClient(id, playerID string, conn *websocket.Conn, buffer int) *Client {
	return &Client{
		id:       id,
		playerID: playerID,
		conn:     conn,
		send:     make(chan []byte, buffer),
		done:     make(chan struct{}),
		queued:   make(map[string]bool),
	}
}

// close asks the write pump to send a close frame and stop.
func (c *Client) close(code int, text string) {
	c.closeOnce.Do(func() {
		c.closeCode = code
		c.closeText = text
		close(c.done)
	})
}

func (c *Client) match() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.matchID
}

func (c *Client) setMatch(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.matchID = id
	if id != "" {
		c.queued = make(map[string]bool)
	}
}

func (c *Client) setQueued(mode string, queued bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if queued {
		c.queued[mode] = true
	} else {
		delete(c.queued, mode)
	}
}

func (c *Client) queuedModes() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	modes := make([]string, 0, len(c.queued))
	for m := range c.queued {
		modes = append(modes, m)
	}
	return modes
}

// writePump owns every write to the connection.
func (c *Client) writePump(writeWait, pingPeriod time.Duration) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(c.closeCode, c.closeText))
			return
		}
	}
}

// Hub tracks the live connection of every player and delivers match
// messages to it. It implements game.Notifier.
type Hub struct {
	clock  clockwork.Clock
	logger *zap.Logger

	mu      sync.RWMutex
	players map[string]*Client
}

func NewHub(clock clockwork.Clock, logger *zap.Logger) *Hub {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Hub{
		clock:   clock,
		logger:  logger,
		players: make(map[string]*Client),
	}
}

// register binds c to its player. An older connection of the same player is
// closed and its queue entries carry over.
func (h *Hub) register(c *Client) {
	h.mu.Lock()
	old := h.players[c.playerID]
	h.players[c.playerID] = c
	h.mu.Unlock()

	if old != nil {
		for _, mode := range old.queuedModes() {
			c.setQueued(mode, true)
		}
		old.close(websocket.ClosePolicyViolation, "superseded by a new connection")
		h.logger.Info("connection superseded",
			zap.String("player_id", c.playerID),
			zap.String("old_connection", old.id),
		)
	}
	h.logger.Debug("client registered", zap.String("player_id", c.playerID), zap.String("connection_id", c.id))
}

// unregister drops the binding and reports whether c was still the
// player's current connection.
func (h *Hub) unregister(c *Client) bool {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.players[c.playerID] != c {
		return false
	}
	delete(h.players, c.playerID)
	h.logger.Debug("client unregistered", zap.String("player_id", c.playerID), zap.String("connection_id", c.id))
	return true
}

func (h *Hub) client(playerID string) *Client {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.players[playerID]
}

// Count returns the number of bound players.
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.players)
}

// SendToPlayer delivers msg if the player is connected. It never blocks; a
// client whose buffer is full is disconnected.
func (h *Hub) SendToPlayer(playerID string, msg protocol.Message) {
	c := h.client(playerID)
	if c == nil {
		return
	}
	if found, ok := msg.(*protocol.MatchFound); ok {
		c.setMatch(found.MatchID)
	}
	h.deliver(c, msg)
}

// MatchClosed returns the players of a finished match to the lobby.
func (h *Hub) MatchClosed(matchID string, playerIDs []string) {
	for _, id := range playerIDs {
		c := h.client(id)
		if c != nil && c.match() == matchID {
			c.setMatch("")
		}
	}
}

func (h *Hub) deliver(c *Client, msg protocol.Message) {
	data, err := protocol.Encode(msg, h.clock.Now())
	if err != nil {
		h.logger.Error("failed to encode message", zap.String("type", string(msg.MessageType())), zap.Error(err))
		return
	}
	select {
	case c.send <- data:
	case <-c.done:
	default:
		h.logger.Warn("send buffer full, dropping connection",
			zap.String("player_id", c.playerID),
			zap.String("connection_id", c.id),
		)
		c.close(websocket.CloseTryAgainLater, "send buffer full")
	}
}

// CloseAll disconnects every client.
func (h *Hub) CloseAll() {
	h.mu.RLock()
	clients := make([]*Client, 0, len(h.players))
	for _, c := range h.players {
		clients = append(clients, c)
	}
	h.mu.RUnlock()
	for _, c := range clients {
		c.close(websocket.CloseGoingAway, "server shutting down")
	}
}
