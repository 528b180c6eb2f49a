package ringsignal

import (
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait     = 5 * time.Second
	pingInterval  = 30 * time.Second
	sendQueueSize = 8
)

// Message is the ringing-presence payload pushed to every client on
// connect and on every change.
type Message struct {
	Object   string   `json:"object"`
	Ringing  bool     `json:"ringing"`
	AlarmIDs []string `json:"alarm_ids"`
}

// client pairs a connection with its outbound queue. The conn is only
// ever written from the client's writePump goroutine; Register and
// Update enqueue and never block on the socket.
type client struct {
	conn *websocket.Conn
	send chan Message
	done chan struct{}
	once sync.Once
}

func (c *client) close() {
	c.once.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// Hub fans the "alarm is ringing" signal out to websocket clients. New
// clients immediately receive the current state; dead or stalled
// clients are evicted without ever delaying the caller of Update.
type Hub struct {
	logger *log.Logger

	mu       sync.Mutex
	clients  map[*client]struct{}
	ringing  bool
	alarmIDs []string
	closed   bool
}

// NewHub creates a hub.
func NewHub(logger *log.Logger) *Hub {
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		logger:   logger,
		clients:  make(map[*client]struct{}),
		alarmIDs: []string{},
	}
}

// Register adds a client connection, queues it the current state, and
// starts its read and write pumps. The hub owns the connection from
// here on.
func (h *Hub) Register(conn *websocket.Conn) {
	c := &client{
		conn: conn,
		send: make(chan Message, sendQueueSize),
		done: make(chan struct{}),
	}

	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		conn.Close()
		return
	}
	h.clients[c] = struct{}{}
	// Fresh buffered channel, cannot block.
	c.send <- h.currentLocked()
	h.mu.Unlock()

	go h.writePump(c)
	go h.readPump(c)
}

// Update broadcasts a new ringing state to all clients. Matches the
// orchestrator's ringing subscription signature and runs on its
// coordination loop, so it must never touch a socket: it only enqueues.
// A client whose queue is full is dropped as stalled.
func (h *Hub) Update(ringing bool, alarmIDs []string) {
	ids := make([]string, len(alarmIDs))
	copy(ids, alarmIDs)

	var stalled []*client
	h.mu.Lock()
	h.ringing = ringing
	h.alarmIDs = ids
	msg := h.currentLocked()
	for c := range h.clients {
		select {
		case c.send <- msg:
		default:
			stalled = append(stalled, c)
		}
	}
	h.mu.Unlock()

	for _, c := range stalled {
		h.logger.Printf("[WARN] RingSignal: dropping stalled client %s", c.conn.RemoteAddr())
		h.drop(c)
	}
}

// ClientCount reports the number of connected clients.
func (h *Hub) ClientCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects all clients.
func (h *Hub) Close() {
	h.mu.Lock()
	if h.closed {
		h.mu.Unlock()
		return
	}
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
}

func (h *Hub) currentLocked() Message {
	return Message{Object: "ringing_state", Ringing: h.ringing, AlarmIDs: h.alarmIDs}
}

func (h *Hub) drop(c *client) {
	h.mu.Lock()
	delete(h.clients, c)
	h.mu.Unlock()
	c.close()
}

// writePump is the single writer for one connection: state messages
// from the queue plus keepalive pings, each under a write deadline so a
// wedged peer cannot hold the goroutine forever.
func (h *Hub) writePump(c *client) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case msg := <-c.send:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(msg); err != nil {
				h.drop(c)
				return
			}
		case <-ticker.C:
			_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				h.drop(c)
				return
			}
		case <-c.done:
			return
		}
	}
}

// readPump discards client frames; clients never send anything
// meaningful, but the read pump is how we learn the connection died.
func (h *Hub) readPump(c *client) {
	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			h.drop(c)
			return
		}
	}
}
