// Package notify delivers room-addressed events to connected chat clients.
package notify

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"
)

// Well-known rooms. Per-session and per-staff rooms are built with
// SessionRoom and StaffRoom.
const (
	StaffAudienceRoom = "staff"
	ManagementRoom    = "management"
)

// Event names published by the recovery subsystem.
const (
	EventRecoveryStarted        = "recovery_started"
	EventStaffDisconnected      = "staff_disconnected"
	EventSessionRequeued        = "session_requeued"
	EventSessionReassigned      = "session_reassigned"
	EventSessionEscalated       = "session_escalated"
	EventSessionEnded           = "session_ended"
	EventReconnectionSuccessful = "reconnection_successful"
)

// SessionRoom is the room a guest's chat widget joins.
func SessionRoom(sessionID string) string { return "session:" + sessionID }

// StaffRoom is the private room of one staff client.
func StaffRoom(staffID string) string { return "staff:" + staffID }

// Publisher sends an event to every client in a room.
type Publisher interface {
	Publish(ctx context.Context, room, event string, data any) error
}

// Envelope is the JSON frame written to clients.
type Envelope struct {
	Room      string          `json:"room"`
	Event     string          `json:"event"`
	Data      json.RawMessage `json:"data"`
	Timestamp time.Time       `json:"timestamp"`
}

// Encode builds the wire frame for an event.
func Encode(room, event string, data any, at time.Time) ([]byte, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, fmt.Errorf("notify: encode %s: %w", event, err)
	}
	return json.Marshal(Envelope{Room: room, Event: event, Data: raw, Timestamp: at.UTC()})
}

// Fanout publishes to every wrapped publisher and joins their errors.
type Fanout []Publisher

// Publish implements Publisher.
func (f Fanout) Publish(ctx context.Context, room, event string, data any) error {
	var errs []error
	for _, p := range f {
		if p == nil {
			continue
		}
		if err := p.Publish(ctx, room, event, data); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// Published is one event captured by a Recorder.
type Published struct {
	Room  string
	Event string
	Data  any
}

// Recorder keeps every published event in memory. Used by tests and the
// management SSE stream.
type Recorder struct {
	mu     sync.Mutex
	events []Published
}

// Publish implements Publisher.
func (r *Recorder) Publish(_ context.Context, room, event string, data any) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, Published{Room: room, Event: event, Data: data})
	return nil
}

// Events returns a copy of everything recorded so far.
func (r *Recorder) Events() []Published {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Published, len(r.events))
	copy(out, r.events)
	return out
}

// InRoom returns the recorded events addressed to room.
func (r *Recorder) InRoom(room string) []Published {
	var out []Published
	for _, p := range r.Events() {
		if p.Room == room {
			out = append(out, p)
		}
	}
	return out
}

// Named returns the recorded events with the given event name.
func (r *Recorder) Named(event string) []Published {
	var out []Published
	for _, p := range r.Events() {
		if p.Event == event {
			out = append(out, p)
		}
	}
	return out
}

// Reset drops everything recorded.
func (r *Recorder) Reset() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = nil
}
