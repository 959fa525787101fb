package api

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/devsync-core/internal/auth"
	"github.com/nerrad567/devsync-core/internal/infrastructure/config"
	"github.com/nerrad567/devsync-core/internal/infrastructure/logging"
	"github.com/nerrad567/devsync-core/internal/queue"
	"github.com/nerrad567/devsync-core/internal/syncengine"
)

// WebSocket message types.
const (
	WSTypeSubscribe   = "subscribe"
	WSTypeUnsubscribe = "unsubscribe"
	WSTypePing        = "ping"
	WSTypePong        = "pong"
	WSTypeEvent       = "event"
	WSTypeResponse    = "response"
	WSTypeError       = "error"
)

// Event channels. Command channels are named after queue.EventType values.
const (
	ChannelSyncFinished = "sync.finished"

	channelAll      = "*"
	wildcardSuffix  = ".*"
	wsSendBuffer    = 256
	wsMaxDropped    = 64 // consecutive drops before a slow client is cut off
	wsUpgradeBuffer = 1024
)

// channelFamilies are the prefixes a client may subscribe to.
var channelFamilies = []string{"command", "sync"}

// WSMessage is the envelope for every frame in either direction.
type WSMessage struct {
	Type      string `json:"type"`
	ID        string `json:"id,omitempty"`
	EventType string `json:"event_type,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	Payload   any    `json:"payload,omitempty"`
}

// wsInbound is a client frame with the payload left undecoded.
type wsInbound struct {
	Type    string          `json:"type"`
	ID      string          `json:"id,omitempty"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// WSSubscribePayload selects channels and, optionally, narrows command
// events to a set of devices.
type WSSubscribePayload struct {
	Channels  []string `json:"channels"`
	DeviceIDs []string `json:"device_ids,omitempty"`
}

// Hub fans command transitions and sync results out to WebSocket clients.
type Hub struct {
	cfg     config.WebSocketConfig
	logger  *logging.Logger
	clients map[*WSClient]struct{}
	mu      sync.RWMutex
}

var (
	_ queue.EventSink     = (*Hub)(nil)
	_ syncengine.Observer = (*Hub)(nil)
)

// WSClient is one connected dashboard or tool.
type WSClient struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	dropped atomic.Int32

	mu       sync.RWMutex
	channels map[string]struct{}
	devices  map[string]struct{} // empty means every device

	subject string
	role    auth.Role
}

func newWSClient(hub *Hub, conn *websocket.Conn) *WSClient {
	return &WSClient{
		hub:      hub,
		conn:     conn,
		send:     make(chan []byte, wsSendBuffer),
		channels: make(map[string]struct{}),
		devices:  make(map[string]struct{}),
	}
}

var upgrader = websocket.Upgrader{
	ReadBufferSize:  wsUpgradeBuffer,
	WriteBufferSize: wsUpgradeBuffer,
	CheckOrigin:     func(*http.Request) bool { return true }, // CORS middleware decides
}

// NewHub creates a hub. Call Run to tie its lifetime to a context.
func NewHub(cfg config.WebSocketConfig, logger *logging.Logger) *Hub {
	return &Hub{
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*WSClient]struct{}),
	}
}

// Run blocks until ctx ends, then disconnects every client.
func (h *Hub) Run(ctx context.Context) {
	<-ctx.Done()

	h.mu.Lock()
	clients := h.clients
	h.clients = make(map[*WSClient]struct{})
	h.mu.Unlock()

	for c := range clients {
		close(c.send)
		if c.conn != nil {
			c.conn.Close()
		}
	}
}

// Register adds a client.
func (h *Hub) Register(c *WSClient) {
	h.mu.Lock()
	h.clients[c] = struct{}{}
	n := len(h.clients)
	h.mu.Unlock()
	h.logger.Debug("websocket client connected", "subject", c.subject, "clients", n)
}

// Unregister removes a client. Only the call that removes it closes its
// send channel.
func (h *Hub) Unregister(c *WSClient) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	n := len(h.clients)
	h.mu.Unlock()

	if ok {
		close(c.send)
		h.logger.Debug("websocket client disconnected", "subject", c.subject, "clients", n)
	}
}

// ClientCount returns the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Broadcast sends payload on channel to every matching client. deviceID
// may be empty for events that are not about a single device.
func (h *Hub) Broadcast(channel, deviceID string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      WSTypeEvent,
		EventType: channel,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err != nil {
		h.logger.Error("failed to marshal websocket event", "channel", channel, "error", err)
		return
	}

	h.mu.RLock()
	targets := make([]*WSClient, 0, len(h.clients))
	for c := range h.clients {
		if c.wants(channel, deviceID) {
			targets = append(targets, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range targets {
		if !c.trySend(data) && c.dropped.Add(1) >= wsMaxDropped {
			h.logger.Warn("disconnecting slow websocket client", "subject", c.subject)
			if c.conn != nil {
				c.conn.Close() // readPump unregisters
			}
		}
	}
}

// CommandEvent relays a command transition on its event type, for
// example "command.completed".
func (h *Hub) CommandEvent(e queue.Event) {
	h.Broadcast(string(e.Type), e.Command.DeviceID, e)
}

// SyncFinished relays a finished run on ChannelSyncFinished.
func (h *Hub) SyncFinished(result *syncengine.Result) {
	if result == nil {
		return
	}
	h.Broadcast(ChannelSyncFinished, "", result)
}

// handleWebSocket upgrades an authenticated request. Browsers cannot set
// headers on the upgrade, so the bearer token travels in ?token=.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	if s.hub == nil {
		writeStatus(w, http.StatusServiceUnavailable, "websocket hub not running")
		return
	}

	claims, err := auth.ParseToken(r.URL.Query().Get("token"), s.secCfg.JWT.Secret)
	if err != nil {
		writeStatus(w, http.StatusUnauthorized, tokenErrorMessage(err, "token query parameter is required"))
		return
	}
	if !auth.HasPermission(claims.Role, auth.PermCommandRead) {
		writeStatus(w, http.StatusForbidden, "insufficient permissions")
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := newWSClient(s.hub, conn)
	c.subject, c.role = claims.Subject, claims.Role
	s.hub.Register(c)

	go c.writePump(s.wsCfg)
	go c.readPump(s.wsCfg)
}

func (c *WSClient) readPump(cfg config.WebSocketConfig) {
	defer func() {
		c.hub.Unregister(c)
		c.conn.Close()
	}()

	idle := time.Duration(cfg.PingInterval+cfg.PongTimeout) * time.Second
	extend := func(string) error { return c.conn.SetReadDeadline(time.Now().Add(idle)) }

	c.conn.SetReadLimit(int64(cfg.MaxMessageSize))
	extend("") //nolint:errcheck // a failed deadline surfaces on the next read
	c.conn.SetPongHandler(extend)

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.hub.logger.Warn("websocket read error", "subject", c.subject, "error", err)
			}
			return
		}
		// Application pings count as liveness too.
		extend("") //nolint:errcheck // a failed deadline surfaces on the next read
		c.handleMessage(data)
	}
}

func (c *WSClient) writePump(cfg config.WebSocketConfig) {
	ticker := time.NewTicker(time.Duration(cfg.PingInterval) * time.Second)
	writeWait := time.Duration(cfg.PongTimeout) * time.Second
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		var (
			kind int
			data []byte
		)
		select {
		case msg, ok := <-c.send:
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil) //nolint:errcheck // closing anyway
				return
			}
			kind, data = websocket.TextMessage, msg
		case <-ticker.C:
			kind = websocket.PingMessage
		}

		c.conn.SetWriteDeadline(time.Now().Add(writeWait)) //nolint:errcheck // write below reports failure
		if err := c.conn.WriteMessage(kind, data); err != nil {
			return
		}
	}
}

func (c *WSClient) handleMessage(data []byte) {
	var msg wsInbound
	if err := json.Unmarshal(data, &msg); err != nil {
		c.sendError("", "invalid JSON message")
		return
	}

	switch msg.Type {
	case WSTypeSubscribe, WSTypeUnsubscribe:
		var p WSSubscribePayload
		if len(msg.Payload) == 0 || json.Unmarshal(msg.Payload, &p) != nil {
			c.sendError(msg.ID, "invalid "+msg.Type+" payload")
			return
		}
		if msg.Type == WSTypeSubscribe {
			c.subscribe(msg.ID, p)
		} else {
			c.unsubscribe(msg.ID, p)
		}
	case WSTypePing:
		c.reply(msg.ID, WSTypePong, nil)
	default:
		c.sendError(msg.ID, "unknown message type: "+msg.Type)
	}
}

func (c *WSClient) subscribe(id string, p WSSubscribePayload) {
	var rejected []string
	for _, ch := range p.Channels {
		if !validChannel(ch) {
			rejected = append(rejected, ch)
		}
	}
	if len(rejected) > 0 {
		c.sendError(id, "unknown channels: "+strings.Join(rejected, ", "))
		return
	}

	c.mu.Lock()
	for _, ch := range p.Channels {
		c.channels[ch] = struct{}{}
	}
	for _, d := range p.DeviceIDs {
		c.devices[d] = struct{}{}
	}
	c.mu.Unlock()

	c.hub.logger.Debug("websocket client subscribed",
		"subject", c.subject, "channels", p.Channels, "devices", p.DeviceIDs)
	c.reply(id, WSTypeResponse, map[string]any{"subscribed": p.Channels, "device_ids": p.DeviceIDs})
}

func (c *WSClient) unsubscribe(id string, p WSSubscribePayload) {
	c.mu.Lock()
	for _, ch := range p.Channels {
		delete(c.channels, ch)
	}
	for _, d := range p.DeviceIDs {
		delete(c.devices, d)
	}
	c.mu.Unlock()

	c.reply(id, WSTypeResponse, map[string]any{"unsubscribed": p.Channels, "device_ids": p.DeviceIDs})
}

// wants reports whether the client subscribed to channel, directly, by a
// family wildcard such as "command.*", or by "*". Device filters only
// apply to events that carry a device.
func (c *WSClient) wants(channel, deviceID string) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()

	if deviceID != "" && len(c.devices) > 0 {
		if _, ok := c.devices[deviceID]; !ok {
			return false
		}
	}
	if _, ok := c.channels[channel]; ok {
		return true
	}
	if _, ok := c.channels[channelAll]; ok {
		return true
	}
	for sub := range c.channels {
		if prefix, ok := strings.CutSuffix(sub, wildcardSuffix); ok && strings.HasPrefix(channel, prefix+".") {
			return true
		}
	}
	return false
}

// validChannel accepts "*", a family wildcard, or a name within a family.
func validChannel(ch string) bool {
	if ch == channelAll {
		return true
	}
	family, rest, ok := strings.Cut(ch, ".")
	if !ok || rest == "" {
		return false
	}
	for _, f := range channelFamilies {
		if family == f {
			return true
		}
	}
	return false
}

// trySend queues data without blocking. It reports false when the buffer
// is full; a send racing with Unregister is absorbed.
func (c *WSClient) trySend(data []byte) (sent bool) {
	defer func() {
		if recover() != nil {
			sent = true // channel closed, client already gone
		}
	}()

	select {
	case c.send <- data:
		c.dropped.Store(0)
		return true
	default:
		return false
	}
}

func (c *WSClient) reply(id, msgType string, payload any) {
	data, err := json.Marshal(WSMessage{
		Type:      msgType,
		ID:        id,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
		Payload:   payload,
	})
	if err == nil {
		c.trySend(data)
	}
}

func (c *WSClient) sendError(id, message string) {
	c.reply(id, WSTypeError, map[string]string{"message": message})
}
