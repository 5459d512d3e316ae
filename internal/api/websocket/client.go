package websocket

import (
	"encoding/json"
	"net/http"
	"slices"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/KevinKickass/OpenSPIMCore/internal/auth"
	"github.com/KevinKickass/OpenSPIMCore/internal/types"
)

const (
	// Time allowed to write a message to the peer
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer
	pongWait = 60 * time.Second

	// Send pings to peer with this period (must be less than pongWait)
	pingPeriod = (pongWait * 9) / 10

	// Time allowed for the first message when auth is enabled
	authWait = 10 * time.Second

	// Maximum message size allowed from peer
	maxMessageSize = 8192

	// Send channel buffer size
	sendBufferSize = 256
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// inbound is a message from the peer: {"type":"auth","token":...} or
// {"type":"command","command":...}.
type inbound struct {
	Type  string `json:"type"`
	Token string `json:"token,omitempty"`
	types.CommandRequest
}

// Client represents a WebSocket client connection
type Client struct {
	hub    *Hub
	conn   *websocket.Conn
	send   chan []byte
	logger *zap.Logger

	// set by the hub under its lock when send is closed
	closed bool

	done chan struct{}

	authenticated bool
	identity      *auth.Identity
}

func (c *Client) remote() zap.Field {
	return zap.String("remote_addr", c.conn.RemoteAddr().String())
}

// readPump handles reading messages from the WebSocket connection
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		close(c.done)
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	if c.hub.authService.Enabled() {
		c.conn.SetReadDeadline(time.Now().Add(authWait))
	} else {
		c.authenticated = true
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if !c.join() {
			return
		}
	}

	for {
		var msg inbound
		if err := c.conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err,
				websocket.CloseGoingAway,
				websocket.CloseAbnormalClosure) {
				c.logger.Warn("WebSocket read error", zap.Error(err), c.remote())
			}
			return
		}

		// First message MUST be authentication
		if !c.authenticated {
			if !c.authenticate(msg) {
				return
			}
			continue
		}

		c.handleMessage(msg)
	}
}

func (c *Client) authenticate(msg inbound) bool {
	if msg.Type != "auth" {
		c.sendAuthFailed("First message must be authentication")
		return false
	}
	if msg.Token == "" {
		c.sendAuthFailed("Missing token in auth message")
		return false
	}

	id, err := c.hub.authService.ValidateToken(msg.Token)
	if err != nil {
		c.logger.Warn("WebSocket authentication failed", zap.Error(err), c.remote())
		c.sendAuthFailed("Invalid or expired token")
		return false
	}

	c.authenticated = true
	c.identity = id
	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	c.reply(NewMessage(MessageTypeAuthSuccess, map[string]any{
		"username":    id.Username,
		"permissions": id.Permissions,
	}))
	c.logger.Info("WebSocket client authenticated",
		c.remote(),
		zap.String("username", id.Username))

	// register to hub only after auth
	return c.join()
}

func (c *Client) join() bool {
	select {
	case c.hub.register <- c:
		return true
	case <-c.hub.done:
		return false
	}
}

func (c *Client) sendAuthFailed(reason string) {
	c.reply(NewMessage(MessageTypeAuthFailed, map[string]string{"reason": reason}))
}

func (c *Client) handleMessage(msg inbound) {
	c.conn.SetReadDeadline(time.Now().Add(pongWait))

	if msg.Type != "command" {
		c.logger.Debug("Ignoring client message", c.remote(), zap.String("type", msg.Type))
		c.reply(NewErrorMessage("unsupported message type " + msg.Type))
		return
	}

	if c.identity != nil && !slices.Contains(c.identity.Permissions, auth.PermOperator) {
		c.reply(NewErrorMessage("insufficient permissions"))
		return
	}

	id, err := msg.CommandRequest.Issue(c.hub.commander)
	if err != nil {
		c.reply(NewErrorMessage(err.Error()))
		return
	}
	c.reply(NewMessage(MessageTypeCommandAccepted, types.CommandResponse{
		CommandID: id,
		Command:   msg.Command,
	}))
}

func (c *Client) reply(msg Message) {
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("Failed to marshal reply", zap.Error(err))
		return
	}
	if !c.hub.deliver(c, data) {
		c.logger.Debug("Reply dropped", c.remote(), zap.String("type", string(msg.Type)))
	}
}

// writePump handles writing messages to the WebSocket connection
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
				// Hub closed the channel
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}

		case <-c.done:
			c.flush()
			return
		}
	}
}

// flush writes what is still queued once the reader has gone.
func (c *Client) flush() {
	for {
		select {
		case message, ok := <-c.send:
			if !ok {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}
		default:
			c.conn.WriteMessage(websocket.CloseMessage, []byte{})
			return
		}
	}
}

// ServeWs handles WebSocket upgrade requests
func ServeWs(hub *Hub, w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		hub.logger.Error("WebSocket upgrade error",
			zap.Error(err),
			zap.String("remote_addr", r.RemoteAddr))
		return
	}

	client := &Client{
		hub:    hub,
		conn:   conn,
		send:   make(chan []byte, sendBufferSize),
		logger: hub.logger,
		done:   make(chan struct{}),
	}

	go client.writePump()
	go client.readPump()
}
