package api

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"torrentsready/internal/trd"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = pongWait * 9 / 10
	sendBuffer = 16
)

// Event is pushed to a user's open event streams.
type Event struct {
	Type    string `json:"type"`
	Message string `json:"message"`
	Title   string `json:"title,omitempty"`
	Ref     string `json:"ref,omitempty"`
}

// Hub fans notifications out to websocket clients keyed by messenger id.
// Notices for users with no open stream go to the fallback notifier.
type Hub struct {
	upgrader websocket.Upgrader
	fallback trd.Notifier
	logger   trd.Logger

	mu      sync.Mutex
	clients map[int64]map[*client]struct{}
	closed  bool
}

var _ trd.Notifier = (*Hub)(nil)

type client struct {
	conn *websocket.Conn
	send chan Event
}

func NewHub(fallback trd.Notifier, logger trd.Logger) *Hub {
	return &Hub{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		fallback: fallback,
		logger:   trd.WithComponent(logger, "hub"),
		clients:  make(map[int64]map[*client]struct{}),
	}
}

func (h *Hub) ConsentRequired(ctx context.Context, messengerID int64) error {
	ev := Event{Type: "consent_required", Message: trd.MsgConsentRequired}
	if h.publish(messengerID, ev) {
		return nil
	}
	return h.fallback.ConsentRequired(ctx, messengerID)
}

func (h *Hub) Delivered(ctx context.Context, messengerID int64, title, ref string) error {
	ev := Event{Type: "delivered", Message: trd.MsgDelivered, Title: title, Ref: ref}
	if h.publish(messengerID, ev) {
		return nil
	}
	return h.fallback.Delivered(ctx, messengerID, title, ref)
}

// publish queues ev for every stream of messengerID and reports whether any
// stream took it. Slow clients are dropped rather than blocking the caller.
func (h *Hub) publish(messengerID int64, ev Event) bool {
	h.mu.Lock()
	defer h.mu.Unlock()

	sent := false
	for c := range h.clients[messengerID] {
		select {
		case c.send <- ev:
			sent = true
		default:
			h.logger.Warn("dropping slow event stream", "messenger_id", messengerID)
			h.removeLocked(messengerID, c)
		}
	}
	return sent
}

// Clients returns the number of open streams for messengerID.
func (h *Hub) Clients(messengerID int64) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients[messengerID])
}

// Serve upgrades the request and streams events until the peer goes away.
func (h *Hub) Serve(w http.ResponseWriter, r *http.Request, messengerID int64) error {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return fmt.Errorf("upgrading connection: %w", err)
	}
	c := &client{conn: conn, send: make(chan Event, sendBuffer)}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return nil
	}
	if h.clients[messengerID] == nil {
		h.clients[messengerID] = make(map[*client]struct{})
	}
	h.clients[messengerID][c] = struct{}{}
	h.mu.Unlock()

	go h.writePump(c)
	h.readPump(messengerID, c)
	return nil
}

// readPump discards inbound frames and unregisters the client on close.
func (h *Hub) readPump(messengerID int64, c *client) {
	defer func() {
		h.mu.Lock()
		h.removeLocked(messengerID, c)
		h.mu.Unlock()
		c.conn.Close()
	}()

	c.conn.SetReadLimit(512)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			return
		}
	}
}

func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case ev, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, []byte{})
				return
			}
			if err := c.conn.WriteJSON(ev); err != nil {
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

// removeLocked must be called with h.mu held.
func (h *Hub) removeLocked(messengerID int64, c *client) {
	set := h.clients[messengerID]
	if _, ok := set[c]; !ok {
		return
	}
	delete(set, c)
	close(c.send)
	if len(set) == 0 {
		delete(h.clients, messengerID)
	}
}

// Close disconnects every client.
func (h *Hub) Close() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closed = true
	for mid, set := range h.clients {
		for c := range set {
			h.removeLocked(mid, c)
		}
	}
}
