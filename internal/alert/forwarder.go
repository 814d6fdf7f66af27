package alert

import (
	"context"
	"log"
	"time"
)

const (
	defaultQueueSize   = 64
	defaultSendTimeout = 10 * time.Second
)

// Forwarder is a notify.Publisher that turns selected events into alerts
// and delivers them to every adapter in the background. Publishing never
// blocks the recovery handlers; alerts are dropped when the queue is full.
type Forwarder struct {
	adapters    []Adapter
	queue       chan Alert
	sendTimeout time.Duration
}

// NewForwarder creates a Forwarder. Call Run to start delivery.
func NewForwarder(adapters ...Adapter) *Forwarder {
	return &Forwarder{
		adapters:    adapters,
		queue:       make(chan Alert, defaultQueueSize),
		sendTimeout: defaultSendTimeout,
	}
}

// Publish implements notify.Publisher.
func (f *Forwarder) Publish(_ context.Context, room, event string, data any) error {
	if len(f.adapters) == 0 {
		return nil
	}
	a, ok := Format(room, event, data)
	if !ok {
		return nil
	}
	select {
	case f.queue <- a:
	default:
		log.Printf("alert: queue full, dropping %q", a.Title)
	}
	return nil
}

// Run delivers queued alerts until ctx is cancelled.
func (f *Forwarder) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case a := <-f.queue:
			f.deliver(ctx, a)
		}
	}
}

func (f *Forwarder) deliver(ctx context.Context, a Alert) {
	for _, ad := range f.adapters {
		sendCtx, cancel := context.WithTimeout(ctx, f.sendTimeout)
		if err := ad.Send(sendCtx, a); err != nil {
			log.Printf("alert: %s: send %q: %v", ad.Name(), a.Title, err)
		}
		cancel()
	}
}
