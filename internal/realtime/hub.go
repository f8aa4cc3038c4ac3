// Package realtime runs the websocket channel used for typing indicators and
// conversation joins. It is independent of the HTTP relay.
package realtime

import (
	"encoding/json"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 64 * 1024
	sendBuffer     = 32
)

const (
	TypeWelcome          = "welcome"
	TypeTyping           = "typing"
	TypeJoinConversation = "join_conversation"
)

const welcomeText = "Connected to Weather Agent WebSocket"

// Inbound is a frame sent by a browser tab. ConversationID and IsTyping are
// relayed as received.
type Inbound struct {
	Type           string          `json:"type"`
	ConversationID json.RawMessage `json:"conversationId,omitempty"`
	IsTyping       json.RawMessage `json:"isTyping,omitempty"`
}

type Welcome struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type Typing struct {
	Type           string          `json:"type"`
	ConversationID json.RawMessage `json:"conversationId,omitempty"`
	IsTyping       json.RawMessage `json:"isTyping,omitempty"`
}

type Config struct {
	// TypingRate is the sustained number of typing frames per second a single
	// connection may broadcast. Zero disables the limit.
	TypingRate  float64
	TypingBurst int
}

// Hub tracks connected peers and fans typing frames out to everyone but the
// sender. Delivery is best effort: a peer whose queue is full is dropped.
type Hub struct {
	upgrader websocket.Upgrader
	cfg      Config
	logger   *zap.Logger

	mu      sync.RWMutex
	clients map[*client]struct{}
	closed  bool
	wg      sync.WaitGroup
}

func NewHub(cfg Config, logger *zap.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(r *http.Request) bool { return true },
		},
		cfg:     cfg,
		logger:  logger,
		clients: make(map[*client]struct{}),
	}
}

type client struct {
	hub     *Hub
	conn    *websocket.Conn
	send    chan []byte
	limiter *rate.Limiter
	logger  *zap.Logger

	once sync.Once

	mu             sync.Mutex
	conversationID json.RawMessage
}

func (c *client) close() {
	c.once.Do(func() { close(c.send) })
}

// joined returns the conversation id the peer last joined, if any.
func (c *client) joined() json.RawMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conversationID
}

func (h *Hub) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	closed := h.closed
	h.mu.RUnlock()
	if closed {
		http.Error(w, "shutting down", http.StatusServiceUnavailable)
		return
	}

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		// Upgrade has already replied to the client.
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	limit := rate.Inf
	if h.cfg.TypingRate > 0 {
		limit = rate.Limit(h.cfg.TypingRate)
	}
	burst := h.cfg.TypingBurst
	if burst < 1 {
		burst = 1
	}

	c := &client{
		hub:     h,
		conn:    conn,
		send:    make(chan []byte, sendBuffer),
		limiter: rate.NewLimiter(limit, burst),
		logger:  h.logger.With(zap.String("remote", r.RemoteAddr)),
	}

	welcome, _ := json.Marshal(Welcome{Type: TypeWelcome, Message: welcomeText})
	c.send <- welcome

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	h.wg.Add(2)
	h.mu.Unlock()

	c.logger.Info("websocket client connected")

	go c.writePump()
	go c.readPump()
}

// Len reports the number of connected peers.
func (h *Hub) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients)
}

func (h *Hub) unregister(c *client) {
	h.mu.Lock()
	_, ok := h.clients[c]
	delete(h.clients, c)
	h.mu.Unlock()
	if ok {
		c.close()
	}
}

// broadcast queues payload for every peer except from.
func (h *Hub) broadcast(from *client, payload []byte) {
	var stale []*client

	h.mu.RLock()
	for c := range h.clients {
		if c == from {
			continue
		}
		select {
		case c.send <- payload:
		default:
			stale = append(stale, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range stale {
		c.logger.Warn("dropping slow websocket client")
		h.unregister(c)
	}
}

// Close disconnects every peer and waits for their goroutines to exit.
func (h *Hub) Close() {
	h.mu.Lock()
	h.closed = true
	clients := make([]*client, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.clients = make(map[*client]struct{})
	h.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
	h.wg.Wait()
}

func (c *client) readPump() {
	defer func() {
		c.hub.unregister(c)
		c.conn.Close()
		c.hub.wg.Done()
		c.logger.Info("websocket client disconnected")
	}()

	c.conn.SetReadLimit(maxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseNoStatusReceived) {
				c.logger.Warn("websocket read failed", zap.Error(err))
			}
			return
		}
		c.handle(data)
	}
}

func (c *client) handle(data []byte) {
	var msg Inbound
	if err := json.Unmarshal(data, &msg); err != nil {
		c.logger.Warn("malformed websocket message", zap.Error(err), zap.Int("size", len(data)))
		return
	}

	switch msg.Type {
	case TypeTyping:
		if !c.limiter.Allow() {
			c.logger.Debug("typing frame throttled")
			return
		}
		payload, err := json.Marshal(Typing{
			Type:           TypeTyping,
			ConversationID: msg.ConversationID,
			IsTyping:       msg.IsTyping,
		})
		if err != nil {
			c.logger.Warn("encode typing frame", zap.Error(err))
			return
		}
		c.hub.broadcast(c, payload)

	case TypeJoinConversation:
		c.mu.Lock()
		c.conversationID = msg.ConversationID
		c.mu.Unlock()
		c.logger.Debug("joined conversation", zap.ByteString("conversation_id", msg.ConversationID))

	default:
		c.logger.Info("unknown websocket message type", zap.String("type", msg.Type))
	}
}

func (c *client) writePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
		c.hub.wg.Done()
	}()

	for {
		select {
		case payload, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseGoingAway, ""))
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
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
