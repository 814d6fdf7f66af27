package alert

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/orvale/helpdesk/internal/notify"
)

type mockAdapter struct {
	mu   sync.Mutex
	name string
	err  error
	sent []Alert
}

func (m *mockAdapter) Name() string { return m.name }

func (m *mockAdapter) Send(_ context.Context, a Alert) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.sent = append(m.sent, a)
	return m.err
}

func (m *mockAdapter) sentCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sent)
}

func TestFormat_Escalation(t *testing.T) {
	a, ok := Format(notify.ManagementRoom, notify.EventSessionEscalated, map[string]any{
		"session_id":         "c1",
		"priority":           "urgent",
		"reconnect_attempts": 2,
		"original_staff_id":  "bob",
		"guest_name":         "Dana",
		"ticket_id":          "HD-1A2B3C4D",
	})
	if !ok {
		t.Fatal("escalation should produce an alert")
	}
	if a.Title != "Chat c1 escalated to urgent" {
		t.Errorf("Title = %q", a.Title)
	}
	if !strings.Contains(a.Body, "Dana lost their staff member 2 times") {
		t.Errorf("Body = %q", a.Body)
	}
	if a.Color != ColorWarning {
		t.Errorf("Color = %q, want warning", a.Color)
	}
	if len(a.Fields) != 3 || a.Fields[2].Value != "HD-1A2B3C4D" {
		t.Errorf("Fields = %+v", a.Fields)
	}
}

func TestFormat_StaffTimeout(t *testing.T) {
	a, ok := Format(notify.StaffAudienceRoom, notify.EventStaffDisconnected, map[string]any{
		"staff_id":             "alice",
		"reason":               "timeout",
		"affected_sessions":    []string{"c1", "c2"},
		"grace_period_seconds": 60,
	})
	if !ok {
		t.Fatal("timeout should produce an alert")
	}
	if !strings.Contains(a.Body, "c1, c2") {
		t.Errorf("Body = %q", a.Body)
	}

	if _, ok := Format(notify.StaffAudienceRoom, notify.EventStaffDisconnected, map[string]any{"reason": "manual"}); ok {
		t.Error("manual disconnects should not alert")
	}
}

func TestFormat_Ignored(t *testing.T) {
	tests := []struct {
		name  string
		room  string
		event string
		data  any
	}{
		{"guest room", notify.SessionRoom("c1"), notify.EventSessionEscalated, map[string]any{}},
		{"requeue", notify.StaffAudienceRoom, notify.EventSessionRequeued, map[string]any{}},
		{"ordinary end", notify.StaffAudienceRoom, notify.EventSessionEnded, map[string]any{"reason": "abandoned"}},
		{"non-map data", notify.ManagementRoom, notify.EventSessionEscalated, "text"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, ok := Format(tt.room, tt.event, tt.data); ok {
				t.Error("expected no alert")
			}
		})
	}
}

func TestFormat_FailedSessionEnd(t *testing.T) {
	a, ok := Format(notify.StaffAudienceRoom, notify.EventSessionEnded, map[string]any{
		"session_id": "c9",
		"reason":     "recovery_expired",
	})
	if !ok {
		t.Fatal("recovery_expired should alert")
	}
	if a.Severity != "error" || a.Color != ColorError {
		t.Errorf("severity = %s color = %s", a.Severity, a.Color)
	}
}

func TestSeverityColor(t *testing.T) {
	if SeverityColor("bogus") != ColorInfo {
		t.Error("unknown severity should map to info")
	}
}

func TestForwarder_DeliversToAllAdapters(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	failing := &mockAdapter{name: "slack", err: errors.New("channel_not_found")}
	ok := &mockAdapter{name: "discord"}
	f := NewForwarder(failing, ok)
	go f.Run(ctx)

	if err := f.Publish(ctx, notify.ManagementRoom, notify.EventSessionEscalated, map[string]any{"session_id": "c1"}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if err := f.Publish(ctx, notify.SessionRoom("c1"), notify.EventSessionEnded, map[string]any{}); err != nil {
		t.Fatalf("Publish: %v", err)
	}

	deadline := time.Now().Add(2 * time.Second)
	for ok.sentCount() < 1 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if ok.sentCount() != 1 {
		t.Fatalf("discord got %d alerts, want 1", ok.sentCount())
	}
	if failing.sentCount() != 1 {
		t.Errorf("slack got %d alerts, want 1 despite its error", failing.sentCount())
	}
}

func TestForwarder_DropsWhenFull(t *testing.T) {
	f := NewForwarder(&mockAdapter{name: "slack"})
	for i := 0; i < defaultQueueSize+5; i++ {
		if err := f.Publish(context.Background(), notify.ManagementRoom, notify.EventSessionEscalated, map[string]any{}); err != nil {
			t.Fatalf("Publish: %v", err)
		}
	}
	if len(f.queue) != defaultQueueSize {
		t.Errorf("queue = %d, want %d", len(f.queue), defaultQueueSize)
	}
}

func TestForwarder_NoAdapters(t *testing.T) {
	f := NewForwarder()
	if err := f.Publish(context.Background(), notify.ManagementRoom, notify.EventSessionEscalated, map[string]any{}); err != nil {
		t.Fatalf("Publish: %v", err)
	}
	if len(f.queue) != 0 {
		t.Error("nothing should be queued without adapters")
	}
}
