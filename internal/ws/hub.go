package ws

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gorilla/websocket"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/metrics"
	"github.com/ubiquity/ubiquity-dollar-sub001/internal/store"
	"go.uber.org/zap"
)

const (
	TopicAllEvents = "yp:events:*"
	TopicVaultPPS  = store.ChannelVaultPPS

	idleTimeout = 60 * time.Second
	pingPeriod  = 54 * time.Second
	writeWait   = 10 * time.Second
)

type Hub struct {
	clients    map[*Client]bool
	register   chan *Client
	unregister chan *Client
	done       chan struct{}
	subscribed chan struct{}
	cache      *store.Cache
	upgrader   websocket.Upgrader
	logger     *zap.SugaredLogger
	metrics    *metrics.Metrics
	mu         sync.RWMutex
}

type Client struct {
	hub  *Hub
	conn *websocket.Conn
	send chan []byte

	mu         sync.Mutex
	topics     map[string]bool
	account    common.Address // zero unless the client asked for its own events
	lastActive time.Time
}

type Message struct {
	Type      string          `json:"type"`
	Topic     string          `json:"topic"`
	Data      json.RawMessage `json:"data"`
	Timestamp int64           `json:"timestamp"`
}

type SubscriptionRequest struct {
	Type    string   `json:"type"`
	Topics  []string `json:"topics"`
	Address string   `json:"address,omitempty"`
}

// NewHub accepts upgrades from allowedOrigins and from requests without an
// Origin header.
func NewHub(cache *store.Cache, allowedOrigins []string, logger *zap.SugaredLogger, metrics *metrics.Metrics) *Hub {
	allowed := make(map[string]bool, len(allowedOrigins))
	for _, o := range allowedOrigins {
		allowed[o] = true
	}
	return &Hub{
		clients:    make(map[*Client]bool),
		register:   make(chan *Client),
		unregister: make(chan *Client),
		done:       make(chan struct{}),
		subscribed: make(chan struct{}),
		cache:      cache,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin: func(r *http.Request) bool {
				origin := r.Header.Get("Origin")
				return origin == "" || allowed[origin]
			},
		},
		logger:  logger,
		metrics: metrics,
	}
}

func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	go h.startSubscription(ctx)
	go h.startClientCleanup(ctx)

	for {
		select {
		case <-ctx.Done():
			h.logger.Infow("WebSocket hub shutting down")
			h.mu.Lock()
			for client := range h.clients {
				h.removeLocked(ctx, client)
			}
			h.mu.Unlock()
			return

		case client := <-h.register:
			h.mu.Lock()
			h.clients[client] = true
			h.mu.Unlock()
			if h.metrics != nil {
				h.metrics.IncrementConnections(ctx)
			}
			h.logger.Debugw("Client registered")

		case client := <-h.unregister:
			h.mu.Lock()
			h.removeLocked(ctx, client)
			h.mu.Unlock()
		}
	}
}

// removeLocked closes client.send exactly once. h.mu must be held.
func (h *Hub) removeLocked(ctx context.Context, client *Client) {
	if _, ok := h.clients[client]; !ok {
		return
	}
	delete(h.clients, client)
	close(client.send)
	if h.metrics != nil {
		h.metrics.DecrementConnections(ctx)
	}
	h.logger.Debugw("Client unregistered", "account", client.accountHex())
}

func (h *Hub) startSubscription(ctx context.Context) {
	channels := append(store.LedgerEventChannels(), store.ChannelVaultPPS)

	sub := h.cache.Subscribe(ctx, channels...)
	defer sub.Close()
	close(h.subscribed)
	h.logger.Debugw("WebSocket hub subscribed", "channels", channels, "inMemory", h.cache.IsInMemoryMode())

	ch := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch:
			if !ok {
				return
			}
			h.handleMessage(ctx, msg)
		}
	}
}

func (h *Hub) handleMessage(ctx context.Context, msg *store.Message) {
	wsMessage := Message{
		Type:      "update",
		Topic:     msg.Channel,
		Data:      json.RawMessage(msg.Payload),
		Timestamp: time.Now().Unix(),
	}
	messageBytes, err := json.Marshal(wsMessage)
	if err != nil {
		h.logger.Errorw("Failed to marshal WebSocket message", "error", err)
		return
	}

	var account common.Address
	if strings.HasPrefix(msg.Channel, "yp:events:") {
		var ev struct {
			Account common.Address `json:"account"`
		}
		if err := json.Unmarshal([]byte(msg.Payload), &ev); err == nil {
			account = ev.Account
		}
	}

	h.broadcast(ctx, messageBytes, msg.Channel, account)
}

func (h *Hub) broadcast(ctx context.Context, message []byte, topic string, account common.Address) {
	var slow []*Client

	h.mu.RLock()
	for client := range h.clients {
		if !client.wants(topic, account) {
			continue
		}
		select {
		case client.send <- message:
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
		h.removeLocked(ctx, client)
	}
	h.mu.Unlock()
}

func (h *Hub) startClientCleanup(ctx context.Context) {
	ticker := time.NewTicker(30 * time.Second)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			h.cleanupInactiveClients(ctx, time.Now().Add(-idleTimeout))
		}
	}
}

func (h *Hub) cleanupInactiveClients(ctx context.Context, cutoff time.Time) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for client := range h.clients {
		if client.idleSince(cutoff) {
			h.removeLocked(ctx, client)
		}
	}
}

func (h *Hub) clientCount() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Errorw("WebSocket upgrade failed", "error", err)
		return
	}

	client := &Client{
		hub:        h,
		conn:       conn,
		send:       make(chan []byte, 256),
		topics:     make(map[string]bool),
		lastActive: time.Now(),
	}

	select {
	case h.register <- client:
	case <-h.done:
		conn.Close()
		return
	}

	go client.writePump()
	go client.readPump()
}

func (c *Client) readPump() {
	defer func() {
		select {
		case c.hub.unregister <- c:
		case <-c.hub.done:
		}
		c.conn.Close()
	}()

	c.conn.SetReadLimit(1024)
	c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
	c.conn.SetPongHandler(func(string) error {
		c.touch()
		c.conn.SetReadDeadline(time.Now().Add(idleTimeout))
		return nil
	})

	for {
		_, message, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				c.hub.logger.Errorw("WebSocket error", "error", err)
			}
			break
		}

		c.touch()
		c.handleRequest(message)
	}
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

func (c *Client) handleRequest(message []byte) {
	var req SubscriptionRequest
	if err := json.Unmarshal(message, &req); err != nil {
		c.hub.logger.Warnw("Invalid subscription message", "error", err)
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	switch req.Type {
	case "subscribe":
		for _, topic := range req.Topics {
			c.topics[topic] = true
		}
		if common.IsHexAddress(req.Address) {
			c.account = common.HexToAddress(req.Address)
		}
		c.hub.logger.Debugw("Client subscribed", "topics", req.Topics, "account", req.Address)

	case "unsubscribe":
		for _, topic := range req.Topics {
			delete(c.topics, topic)
		}
		if req.Address != "" {
			c.account = common.Address{}
		}
		c.hub.logger.Debugw("Client unsubscribed", "topics", req.Topics)
	}
}

// wants reports whether the client follows topic, or follows account and
// the event is about it.
func (c *Client) wants(topic string, account common.Address) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.topics[topic] {
		return true
	}
	if strings.HasPrefix(topic, "yp:events:") {
		if c.topics[TopicAllEvents] {
			return true
		}
		if account != (common.Address{}) && account == c.account {
			return true
		}
	}
	return false
}

func (c *Client) touch() {
	c.mu.Lock()
	c.lastActive = time.Now()
	c.mu.Unlock()
}

func (c *Client) idleSince(cutoff time.Time) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lastActive.Before(cutoff)
}

func (c *Client) accountHex() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.account == (common.Address{}) {
		return ""
	}
	return c.account.Hex()
}
