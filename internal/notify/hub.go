package notify

import (
	"context"
	"encoding/json"
	"log"
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxFrameSize   = 8192
	sendBufferSize = 64
)

// Frame is an inbound message from a websocket client.
type Frame struct {
	Type string          `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// Hub tracks websocket clients by room and implements Publisher.
type Hub struct {
	mu    sync.RWMutex
	rooms map[string]map[*Client]struct{}
	now   func() time.Time
}

// NewHub returns an empty Hub.
func NewHub() *Hub {
	return &Hub{
		rooms: make(map[string]map[*Client]struct{}),
		now:   time.Now,
	}
}

// Client is one websocket connection joined to a fixed set of rooms.
type Client struct {
	hub   *Hub
	conn  *websocket.Conn
	rooms []string
	send  chan []byte
	done  chan struct{}
	once  sync.Once
}

// Register joins conn to rooms. Call Run to start pumping frames.
func (h *Hub) Register(conn *websocket.Conn, rooms ...string) *Client {
	c := &Client{
		hub:   h,
		conn:  conn,
		rooms: rooms,
		send:  make(chan []byte, sendBufferSize),
		done:  make(chan struct{}),
	}
	h.mu.Lock()
	for _, room := range rooms {
		members, ok := h.rooms[room]
		if !ok {
			members = make(map[*Client]struct{})
			h.rooms[room] = members
		}
		members[c] = struct{}{}
	}
	h.mu.Unlock()
	return c
}

// Publish implements Publisher. Clients whose send buffer is full miss the
// event rather than stalling the publisher.
func (h *Hub) Publish(_ context.Context, room, event string, data any) error {
	frame, err := Encode(room, event, data, h.now())
	if err != nil {
		return err
	}

	h.mu.RLock()
	defer h.mu.RUnlock()
	for c := range h.rooms[room] {
		select {
		case c.send <- frame:
		default:
			log.Printf("notify: warning: dropping %s for slow client in %s", event, room)
		}
	}
	return nil
}

// RoomSize returns the number of clients joined to room.
func (h *Hub) RoomSize(room string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.rooms[room])
}

func (h *Hub) unregister(c *Client) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for _, room := range c.rooms {
		members := h.rooms[room]
		delete(members, c)
		if len(members) == 0 {
			delete(h.rooms, room)
		}
	}
}

// Run pumps frames until the connection closes or ctx is cancelled.
// Inbound frames are handed to onFrame on the calling goroutine.
func (c *Client) Run(ctx context.Context, onFrame func(Frame)) {
	defer c.close()

	go c.writePump(ctx)

	c.conn.SetReadLimit(maxFrameSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var f Frame
		if err := c.conn.ReadJSON(&f); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				log.Printf("notify: read error: %v", err)
			}
			return
		}
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		if onFrame != nil {
			onFrame(f)
		}
	}
}

func (c *Client) writePump(ctx context.Context) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			c.conn.WriteMessage(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseGoingAway, "server shutting down"))
			c.conn.Close()
			return
		case <-c.done:
			return
		case frame := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.TextMessage, frame); err != nil {
				c.conn.Close()
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				c.conn.Close()
				return
			}
		}
	}
}

func (c *Client) close() {
	c.once.Do(func() {
		c.hub.unregister(c)
		close(c.done)
		c.conn.Close()
	})
}
