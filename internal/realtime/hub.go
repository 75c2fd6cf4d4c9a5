// Package realtime streams anonymized security events to WebSocket
// subscribers such as SOC dashboards.
//
// Clients receive HIGH and CRITICAL events by default and may send a JSON
// Subscription to change the filter; the hub acknowledges each accepted
// subscription. A client connected with a tenant id only receives that
// tenant's events.
package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/mbd888/trustgate/internal/metrics"
	"github.com/mbd888/trustgate/internal/policy"
	"github.com/mbd888/trustgate/internal/telemetry"
	"github.com/mbd888/trustgate/internal/tenant"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = 30 * time.Second
	maxMessageSize = 4 * 1024 // subscriptions only
	sendBuffer     = 256

	// MaxClients is the maximum number of concurrent WebSocket connections.
	MaxClients = 10000
)

// normalCloseCodes are WebSocket close codes that indicate an expected disconnect.
var normalCloseCodes = []int{
	websocket.CloseNormalClosure,
	websocket.CloseGoingAway,
	websocket.CloseNoStatusReceived,
}

// MessageType identifies a streamed message.
type MessageType string

const (
	MessageSecurityEvent MessageType = "security_event"
	MessageReport        MessageType = "compliance_report"
	MessageSubscribed    MessageType = "subscribed"
	MessageError         MessageType = "error"
)

// Event is one message sent to subscribers. Only anonymized telemetry is
// ever broadcast.
type Event struct {
	Type      MessageType      `json:"type"`
	Timestamp time.Time        `json:"timestamp"`
	Security  *telemetry.Event `json:"event,omitempty"`
	Data      any              `json:"data,omitempty"`
}

// Subscription filters for a client
type Subscription struct {
	AllEvents    bool                  `json:"allEvents"`
	EventTypes   []telemetry.EventType `json:"eventTypes"`
	MinRiskLevel policy.RiskLevel      `json:"minRiskLevel"`
}

// DefaultSubscription streams HIGH and CRITICAL security events.
var DefaultSubscription = Subscription{MinRiskLevel: policy.LevelHigh}

// Validate rejects unknown event types and risk levels.
func (s Subscription) Validate() error {
	if s.MinRiskLevel != "" && !s.MinRiskLevel.Valid() {
		return fmt.Errorf("unknown risk level %q", s.MinRiskLevel)
	}
	for _, t := range s.EventTypes {
		if !t.Valid() {
			return fmt.Errorf("unknown event type %q", t)
		}
	}
	return nil
}

// Matches reports whether a client scoped to tenantID should receive msg.
// Security events only reach clients of the same tenant, so an unscoped
// client sees untenanted events only. Messages that carry no security
// event (reports) go to everyone.
func (s Subscription) Matches(msg *Event, tenantID string) bool {
	sec := msg.Security
	if sec == nil {
		return true
	}
	if sec.TenantID != tenantID {
		return false
	}
	if s.AllEvents {
		return true
	}
	if len(s.EventTypes) > 0 && !slices.Contains(s.EventTypes, sec.Type) {
		return false
	}
	if s.MinRiskLevel.Valid() && !sec.RiskLevel.AtLeast(s.MinRiskLevel) {
		return false
	}
	return true
}

// Client represents a WebSocket connection
type Client struct {
	hub      *Hub
	conn     *websocket.Conn
	send     chan []byte
	tenantID string
	mu       sync.RWMutex
	sub      Subscription
}

func (c *Client) subscription() Subscription {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.sub
}

// reply queues a control message for this client only. It goes through
// the hub, which owns the send channel.
func (c *Client) reply(typ MessageType, data any) {
	msg, err := json.Marshal(&Event{Type: typ, Timestamp: time.Now().UTC(), Data: data})
	if err != nil {
		return
	}
	select {
	case c.hub.direct <- directMessage{client: c, payload: msg}:
	case <-c.hub.done:
	}
}

type directMessage struct {
	client  *Client
	payload []byte
}

// Hub manages all WebSocket connections
type Hub struct {
	clients    map[*Client]bool
	broadcast  chan *Event
	register   chan *Client
	unregister chan *Client
	direct     chan directMessage
	mu         sync.RWMutex
	logger     *slog.Logger
	done       chan struct{} // closed when Run exits; prevents upgrade race
	maxClients int
	origins    map[string]bool
	upgrader   websocket.Upgrader

	totalEvents    atomic.Int64
	droppedEvents  atomic.Int64
	evictedClients atomic.Int64
	totalClients   atomic.Int64
	peakClients    atomic.Int64
}

// NewHub creates a new WebSocket hub
func NewHub(logger *slog.Logger) *Hub {
	h := &Hub{
		clients:    make(map[*Client]bool),
		broadcast:  make(chan *Event, sendBuffer),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		direct:     make(chan directMessage, sendBuffer),
		logger:     logger,
		done:       make(chan struct{}),
		maxClients: MaxClients,
		origins:    map[string]bool{},
	}
	h.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     h.checkOrigin,
	}
	return h
}

// WithAllowedOrigins lets browser dashboards on other origins connect.
// Same-host and non-browser clients are always allowed.
func (h *Hub) WithAllowedOrigins(origins []string) *Hub {
	for _, o := range origins {
		h.origins[o] = true
	}
	return h
}

func (h *Hub) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || h.origins["*"] || h.origins[origin] {
		return true
	}
	return origin == "http://"+r.Host || origin == "https://"+r.Host
}

// Run starts the hub's main loop
func (h *Hub) Run(ctx context.Context) {
	h.logger.Info("realtime hub started")
	defer close(h.done)

	for {
		select {
		case <-ctx.Done():
			h.mu.Lock()
			for client := range h.clients {
				close(client.send) // writePump sends CloseMessage on closed channel
				delete(h.clients, client)
			}
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(0)
			h.logger.Info("realtime hub stopped")
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			n := len(h.clients)
			h.mu.Unlock()
			h.totalClients.Add(1)
			if int64(n) > h.peakClients.Load() {
				h.peakClients.Store(int64(n))
			}
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Debug("realtime client connected", "tenantId", client.tenantID, "total", n)

		case client := <-h.unregister:
			h.mu.Lock()
			if _, ok := h.clients[client]; ok {
				delete(h.clients, client)
				close(client.send)
			}
			n := len(h.clients)
			h.mu.Unlock()
			metrics.ActiveWebSocketClients.Set(float64(n))
			h.logger.Debug("realtime client disconnected", "total", n)

		case event := <-h.broadcast:
			h.deliver(event)

		case m := <-h.direct:
			h.mu.RLock()
			if h.clients[m.client] {
				select {
				case m.client.send <- m.payload:
				default:
				}
			}
			h.mu.RUnlock()
		}
	}
}

// deliver fans event out to matching clients. Clients whose buffer is
// full are disconnected rather than allowed to stall the hub.
func (h *Hub) deliver(event *Event) {
	h.totalEvents.Add(1)
	var payload []byte

	h.mu.RLock()
	var slow []*Client
	for client := range h.clients {
		if !client.subscription().Matches(event, client.tenantID) {
			continue
		}
		if payload == nil {
			var err error
			if payload, err = json.Marshal(event); err != nil {
				h.mu.RUnlock()
				h.logger.Error("failed to encode realtime event", "error", err)
				return
			}
		}
		select {
		case client.send <- payload:
		default:
			slow = append(slow, client)
		}
	}
	h.mu.RUnlock()

	if len(slow) == 0 {
		return
	}
	h.mu.Lock()
	for _, client := range slow {
		if _, ok := h.clients[client]; ok {
			close(client.send)
			delete(h.clients, client)
			h.evictedClients.Add(1)
		}
	}
	n := len(h.clients)
	h.mu.Unlock()
	metrics.ActiveWebSocketClients.Set(float64(n))
	h.logger.Warn("evicted slow realtime clients", "count", len(slow))
}

// Broadcast queues an event for delivery. It never blocks; when the queue
// is full the event is dropped and counted.
func (h *Hub) Broadcast(event *Event) {
	select {
	case h.broadcast <- event:
	default:
		h.droppedEvents.Add(1)
		h.logger.Warn("realtime broadcast queue full, dropping event", "type", event.Type)
	}
}

// BroadcastEvent streams a telemetry event. Events that are not
// anonymized are never sent.
func (h *Hub) BroadcastEvent(e *telemetry.Event) {
	if e == nil || !e.Anonymized {
		return
	}
	h.Broadcast(&Event{
		Type:      MessageSecurityEvent,
		Timestamp: time.Now().UTC(),
		Security:  e,
	})
}

// BroadcastReport announces a newly generated compliance report.
func (h *Hub) BroadcastReport(r *telemetry.ComplianceReport) {
	h.Broadcast(&Event{
		Type:      MessageReport,
		Timestamp: time.Now().UTC(),
		Data:      r,
	})
}

// Stats returns hub statistics
func (h *Hub) Stats() map[string]any {
	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()

	return map[string]any{
		"connectedClients": n,
		"totalEvents":      h.totalEvents.Load(),
		"droppedEvents":    h.droppedEvents.Load(),
		"evictedClients":   h.evictedClients.Load(),
		"totalClients":     h.totalClients.Load(),
		"peakClients":      h.peakClients.Load(),
	}
}

// HandleWebSocket upgrades HTTP to WebSocket. The tenant resolved by the
// tenant middleware scopes the connection.
func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	select {
	case <-h.done:
		http.Error(w, "server shutting down", http.StatusServiceUnavailable)
		return
	default:
	}

	h.mu.RLock()
	n := len(h.clients)
	h.mu.RUnlock()
	if n >= h.maxClients {
		http.Error(w, "too many connections", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:      h,
		conn:     conn,
		send:     make(chan []byte, sendBuffer),
		tenantID: tenant.FromContext(r.Context()),
		sub:      DefaultSubscription,
	}

	select {
	case h.register <- client:
	case <-h.done:
		_ = conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

// readPump applies subscription updates until the connection closes.
func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		_ = c.conn.Close()
	}()

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err, normalCloseCodes...) {
				c.hub.logger.Debug("websocket read error", "error", err)
			}
			return
		}

		var sub Subscription
		if err := json.Unmarshal(message, &sub); err != nil {
			c.reply(MessageError, "subscription must be a JSON object")
			continue
		}
		if err := sub.Validate(); err != nil {
			c.reply(MessageError, err.Error())
			continue
		}
		c.mu.Lock()
		c.sub = sub
		c.mu.Unlock()
		c.reply(MessageSubscribed, sub)
	}
}

// writePump writes queued messages and keepalive pings.
func (c *Client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		_ = c.conn.Close()
	}()

	for {
		select {
		case message, ok := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				_ = c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.hub.logger.Debug("websocket write error", "error", err)
				return
			}

		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
