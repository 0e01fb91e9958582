package ws

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"medipredict-backend/internal/domain"
	"medipredict-backend/internal/signaling"
	"medipredict-backend/pkg/config"
	"medipredict-backend/pkg/constants"
	"medipredict-backend/pkg/logger"
	"medipredict-backend/pkg/metrics"
	"medipredict-backend/pkg/response"
)

var (
	// ErrBackpressure is returned when a connection's send buffer is full
	ErrBackpressure = errors.New("signaling connection send buffer full")
	// ErrConnectionClosed is returned when sending to a connection that is gone
	ErrConnectionClosed = errors.New("signaling connection closed")
)

// Dispatcher consumes inbound signaling events. Implemented by signaling.Router.
type Dispatcher interface {
	Dispatch(ctx context.Context, connectionID string, ev *signaling.Event)
	Disconnect(ctx context.Context, connectionID string)
}

// SignalingHub owns the live WebSocket connections and implements
// signaling.Transport on top of them
type SignalingHub struct {
	cfg        config.SignalingConfig
	metrics    *metrics.Metrics
	dispatcher Dispatcher
	upgrader   websocket.Upgrader

	mu      sync.RWMutex
	clients map[string]*SignalingClient

	// Semaphore for limiting concurrent connections
	semaphore chan struct{}
}

// SignalingClient is one live signaling connection
type SignalingClient struct {
	hub      *SignalingHub
	conn     *websocket.Conn
	id       string
	identity string // participant id proven by the access token, if any

	mu     sync.Mutex
	send   chan []byte
	closed bool
}

// NewSignalingHub creates a hub. Bind must be called before serving connections.
func NewSignalingHub(cfg config.SignalingConfig, m *metrics.Metrics) *SignalingHub {
	h := &SignalingHub{
		cfg:       cfg,
		metrics:   m,
		clients:   make(map[string]*SignalingClient),
		semaphore: make(chan struct{}, cfg.MaxConnections),
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// Bind sets the dispatcher that receives inbound events
func (h *SignalingHub) Bind(d Dispatcher) {
	h.dispatcher = d
}

func (h *SignalingHub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" {
		// Non-browser clients do not send an Origin header
		return true
	}
	for _, allowed := range h.cfg.AllowedOrigins {
		if allowed == "*" || origin == allowed {
			return true
		}
	}
	logger.Warn("WebSocket origin rejected", zap.String("origin", origin))
	return false
}

// ServeWS upgrades the request to a signaling connection
func (h *SignalingHub) ServeWS(c *gin.Context) {
	// Acquire semaphore to limit concurrent connections
	select {
	case h.semaphore <- struct{}{}:
	default:
		logger.Warn("WebSocket connection rejected: max connections reached",
			zap.Int("max_connections", h.cfg.MaxConnections))
		h.metrics.RecordWebSocketRejected()
		response.Error(c, http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE", "Server at capacity, please try again later")
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		<-h.semaphore
		logger.Warn("WebSocket upgrade failed", zap.Error(err))
		return
	}

	client := &SignalingClient{
		hub:      h,
		conn:     conn,
		id:       uuid.NewString(),
		identity: c.GetString("participant_id"),
		send:     make(chan []byte, h.cfg.SendBuffer),
	}

	h.mu.Lock()
	h.clients[client.id] = client
	h.mu.Unlock()
	h.metrics.WebSocketOpened()

	logger.Debug("Signaling connection opened",
		zap.String("connection_id", client.id),
		zap.String("remote_addr", c.ClientIP()))

	go client.writePump()
	go client.readPump()
}

// Send implements signaling.Transport
func (h *SignalingHub) Send(connectionID string, ev *signaling.Event) error {
	h.mu.RLock()
	client, ok := h.clients[connectionID]
	h.mu.RUnlock()
	if !ok {
		return ErrConnectionClosed
	}

	data, err := json.Marshal(ev)
	if err != nil {
		return err
	}

	return h.deliver(client, ev.Type, data)
}

// Broadcast implements signaling.Transport
func (h *SignalingHub) Broadcast(ev *signaling.Event) {
	data, err := json.Marshal(ev)
	if err != nil {
		logger.Error("Failed to encode broadcast", zap.String("type", ev.Type), zap.Error(err))
		return
	}

	h.mu.RLock()
	clients := make([]*SignalingClient, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		if err := h.deliver(client, ev.Type, data); err != nil {
			logger.Debug("Broadcast skipped connection",
				zap.String("connection_id", client.id),
				zap.Error(err))
		}
	}
}

// deliver queues data on the client. Directed sends and broadcasts share one
// policy: a client whose buffer is full is closed, and its readPump then
// reports the disconnect.
func (h *SignalingHub) deliver(client *SignalingClient, eventType string, data []byte) error {
	if err := client.trySend(data); err != nil {
		if errors.Is(err, ErrBackpressure) {
			logger.Warn("Signaling client too slow, closing connection",
				zap.String("connection_id", client.id),
				zap.String("type", eventType))
			client.close()
		}
		return err
	}

	h.metrics.RecordWebSocketMessage(eventType, "out")
	return nil
}

// Count returns the number of open connections
func (h *SignalingHub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

// Shutdown closes every connection. Each closed connection is reported
// to the dispatcher as a disconnect by its readPump.
func (h *SignalingHub) Shutdown() {
	h.mu.RLock()
	clients := make([]*SignalingClient, 0, len(h.clients))
	for _, client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.RUnlock()

	for _, client := range clients {
		client.close()
	}
}

func (h *SignalingHub) unregister(client *SignalingClient) {
	h.mu.Lock()
	_, ok := h.clients[client.id]
	delete(h.clients, client.id)
	h.mu.Unlock()

	if !ok {
		return
	}

	<-h.semaphore
	h.metrics.WebSocketClosed()
}

func (c *SignalingClient) trySend(data []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return ErrConnectionClosed
	}

	select {
	case c.send <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

// close stops the write side; writePump then sends a close frame and
// tears down the socket
func (c *SignalingClient) close() {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return
	}
	c.closed = true
	close(c.send)
}

// readPump reads messages from WebSocket
func (c *SignalingClient) readPump() {
	ctx := logger.WithConnectionID(context.Background(), c.id)

	defer func() {
		c.close()
		c.conn.Close()
		c.hub.unregister(c)
		if c.hub.dispatcher != nil {
			c.hub.dispatcher.Disconnect(ctx, c.id)
		}
		logger.Debug("Signaling connection closed", zap.String("connection_id", c.id))
	}()

	pongWait := c.hub.cfg.PingInterval + constants.WebSocketWriteWait
	c.conn.SetReadLimit(c.hub.cfg.ReadLimit)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				logger.Debug("WebSocket connection closed unexpectedly",
					zap.String("connection_id", c.id),
					zap.Error(err))
			}
			return
		}

		var ev signaling.Event
		if err := json.Unmarshal(message, &ev); err != nil || ev.Type == "" {
			logger.Warn("Invalid message format from WebSocket",
				zap.String("connection_id", c.id),
				zap.Error(err))
			continue
		}
		c.hub.metrics.RecordWebSocketMessage(ev.Type, "in")

		if !c.authorize(&ev) {
			continue
		}
		if c.hub.dispatcher != nil {
			c.hub.dispatcher.Dispatch(ctx, c.id, &ev)
		}
	}
}

// authorize pins announcements to the token identity when the connection is authenticated
func (c *SignalingClient) authorize(ev *signaling.Event) bool {
	if c.identity == "" || ev.Type != signaling.EventPresenceAnnounce {
		return true
	}
	if ev.ParticipantID == "" {
		ev.ParticipantID = c.identity
		return true
	}
	if domain.NormalizeID(ev.ParticipantID) != c.identity {
		logger.Warn("Announcement does not match authenticated participant",
			zap.String("connection_id", c.id),
			zap.String("participant_id", ev.ParticipantID),
			zap.String("authenticated_id", c.identity))
		return false
	}
	return true
}

// writePump writes messages to WebSocket
func (c *SignalingClient) writePump() {
	ticker := time.NewTicker(c.hub.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(constants.WebSocketWriteWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
