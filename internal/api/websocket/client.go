package websocket

import (
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/KevinKickass/OpenDO96/internal/auth"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// The first message must arrive within this time.
	authWait = 10 * time.Second

	maxMessageSize = 8192
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Client is one WebSocket connection. It joins the hub only after its
// first message authenticated it.
type Client struct {
	hub        *Hub
	conn       *websocket.Conn
	send       chan []byte
	logger     *zap.Logger
	remoteAddr string
	userAgent  string

	principal *auth.Principal

	mu    sync.RWMutex
	cards map[string]bool // empty: all cards

	// sendMu guards send and closed. Every send and the close of send
	// happen under it.
	sendMu sync.Mutex
	closed bool
}

// trySend queues data without blocking. It returns false only when the
// buffer is full; data for a closed client is dropped.
func (c *Client) trySend(data []byte) bool {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- data:
		return true
	default:
		return false
	}
}

// closeSend closes the send channel once, which makes writePump close the
// connection.
func (c *Client) closeSend() {
	c.sendMu.Lock()
	defer c.sendMu.Unlock()
	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// wants reports whether the client subscribed to card. Messages without a
// card go to everyone.
func (c *Client) wants(card string) bool {
	if card == "" {
		return true
	}
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.cards) == 0 || c.cards[card]
}

func (c *Client) readPump() {
	// writePump owns the connection and closes it once c.send is closed,
	// either here before registration or by the hub afterwards.
	registered := false
	defer func() {
		if registered {
			c.hub.leave(c)
		}
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(authWait))

	for {
		var msg clientMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error",
					zap.Error(err),
					zap.String("remote_addr", c.remoteAddr))
			}
			if !registered {
				c.closeSend()
			}
			return
		}

		if !registered {
			if err := c.authenticate(msg); err != nil {
				c.logger.Warn("WebSocket authentication failed",
					zap.Error(err),
					zap.String("remote_addr", c.remoteAddr))
				c.queue(map[string]interface{}{
					"type":      "auth_failed",
					"timestamp": time.Now(),
					"reason":    err.Error(),
				})
				c.closeSend()
				return
			}

			c.queue(map[string]interface{}{
				"type":        "auth_success",
				"timestamp":   time.Now(),
				"permissions": c.principal.Permissions,
			})

			c.conn.SetReadDeadline(time.Now().Add(pongWait))
			c.conn.SetPongHandler(func(string) error {
				c.conn.SetReadDeadline(time.Now().Add(pongWait))
				return nil
			})

			if !c.hub.join(c) {
				c.closeSend()
				return
			}
			registered = true
			continue
		}

		c.handleMessage(msg)
	}
}

type authError string

func (e authError) Error() string { return string(e) }

func (c *Client) authenticate(msg clientMessage) error {
	if msg.Type != "auth" {
		return authError("first message must be authentication")
	}
	if msg.Token == "" {
		return authError("missing token in auth message")
	}

	principal, err := c.hub.auth.Authenticate(context.Background(), msg.Token, c.remoteAddr, c.userAgent)
	if err != nil {
		return authError("invalid or expired token")
	}

	c.principal = principal
	c.logger.Info("WebSocket client authenticated",
		zap.String("remote_addr", c.remoteAddr),
		zap.String("principal", principal.Username))
	return nil
}

func (c *Client) handleMessage(msg clientMessage) {
	switch msg.Type {
	case "subscribe":
		c.mu.Lock()
		c.cards = make(map[string]bool, len(msg.Cards))
		for _, name := range msg.Cards {
			c.cards[name] = true
		}
		c.mu.Unlock()
		c.logger.Debug("WebSocket client subscribed", zap.Strings("cards", msg.Cards))
	case "ping":
		c.queue(map[string]interface{}{"type": "pong", "timestamp": time.Now()})
	default:
		c.logger.Debug("Ignoring client message", zap.String("type", msg.Type))
	}
}

// queue sends a direct reply to this client. Replies are dropped when the
// buffer is full or the hub already closed the client.
func (c *Client) queue(v interface{}) {
	data, err := json.Marshal(v)
	if err != nil {
		c.logger.Error("Failed to marshal client reply", zap.Error(err))
		return
	}
	c.trySend(data)
}

func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One JSON document per frame.
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// ServeWs upgrades the request and starts the client pumps.
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade error",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr))
		return
	}

	client := &Client{
		hub:        hub,
		conn:       conn,
		send:       make(chan []byte, sendBufferSize),
		logger:     hub.logger,
		remoteAddr: r.RemoteAddr,
		userAgent:  r.UserAgent(),
	}

	go client.writePump()
	go client.readPump()
}
