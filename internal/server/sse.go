package server

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log"
	"sync"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/orvale/helpdesk/internal/notify"
)

const sseHeartbeatInterval = 15 * time.Second

// Broadcaster is a notify.Publisher that streams staff-audience and
// management events to SSE subscribers.
type Broadcaster struct {
	mu     sync.Mutex
	subs   map[chan notify.Envelope]struct{}
	buffer int
	now    func() time.Time
}

// NewBroadcaster returns a Broadcaster with no subscribers.
func NewBroadcaster() *Broadcaster {
	return &Broadcaster{
		subs:   make(map[chan notify.Envelope]struct{}),
		buffer: 32,
		now:    time.Now,
	}
}

// Publish implements notify.Publisher. Events for guest and per-staff rooms
// are not streamed.
func (b *Broadcaster) Publish(_ context.Context, room, event string, data any) error {
	if room != notify.ManagementRoom && room != notify.StaffAudienceRoom {
		return nil
	}
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("server: encode %s: %w", event, err)
	}
	env := notify.Envelope{Room: room, Event: event, Data: raw, Timestamp: b.now().UTC()}

	b.mu.Lock()
	defer b.mu.Unlock()
	for ch := range b.subs {
		select {
		case ch <- env:
		default:
			log.Printf("server: warning: dropping %s for slow event stream", event)
		}
	}
	return nil
}

// Subscribe registers a new stream. The returned cancel func must be called
// when the subscriber goes away.
func (b *Broadcaster) Subscribe() (<-chan notify.Envelope, func()) {
	ch := make(chan notify.Envelope, b.buffer)
	b.mu.Lock()
	b.subs[ch] = struct{}{}
	b.mu.Unlock()

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			delete(b.subs, ch)
			b.mu.Unlock()
		})
	}
}

// Subscribers returns the number of open streams.
func (b *Broadcaster) Subscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// handleSSE streams recovery events to a supervisor dashboard.
func handleSSE(b *Broadcaster) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Header("Content-Type", "text/event-stream")
		c.Header("Cache-Control", "no-cache")
		c.Header("Connection", "keep-alive")
		c.Header("X-Accel-Buffering", "no")

		events, cancel := b.Subscribe()
		defer cancel()

		writeSSE(c.Writer, "connected", map[string]string{"type": "connected"})
		c.Writer.Flush()

		ctx := c.Request.Context()
		heartbeat := time.NewTicker(sseHeartbeatInterval)
		defer heartbeat.Stop()

		for {
			select {
			case <-ctx.Done():
				return
			case <-heartbeat.C:
				writeSSE(c.Writer, "heartbeat", map[string]string{
					"timestamp": time.Now().UTC().Format(time.RFC3339),
				})
				c.Writer.Flush()
			case env := <-events:
				writeSSE(c.Writer, env.Event, env)
				c.Writer.Flush()
			}
		}
	}
}

// writeSSE writes a single SSE event to the writer.
func writeSSE(w io.Writer, event string, data any) {
	jsonData, err := json.Marshal(data)
	if err != nil {
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", event, string(jsonData))
}
