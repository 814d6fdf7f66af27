package recovery

import (
	"context"
	"fmt"
	"log"

	"github.com/orvale/helpdesk/internal/chat"
	"github.com/orvale/helpdesk/internal/notify"
)

// Reassign hands a session in recovery to staffID. It reports false, with
// nothing changed, when staffID is offline or at capacity.
func (m *Manager) Reassign(ctx context.Context, sessionID, staffID string) (bool, error) {
	if sessionID == "" || staffID == "" {
		return false, fmt.Errorf("recovery: sessionID and staffID are required")
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.reassign(ctx, sessionID, staffID)
}

func (m *Manager) reassign(ctx context.Context, sessionID, staffID string) (bool, error) {
	available, err := chat.IsStaffAvailable(ctx, m.db, staffID)
	if err != nil {
		return false, fmt.Errorf("recovery: reassign %s: %w", sessionID, err)
	}
	if !available {
		return false, nil
	}
	if err := chat.Assign(ctx, m.db, sessionID, staffID); err != nil {
		return false, fmt.Errorf("recovery: reassign %s: %w", sessionID, err)
	}

	rec, had := m.forget(ctx, sessionID)
	now := m.clock.Now()
	s := m.Settings()

	m.publish(ctx, notify.SessionRoom(sessionID), notify.EventSessionReassigned, map[string]any{
		"session_id": sessionID,
		"staff_id":   staffID,
		"message":    s.ReassignmentMessage,
	})
	m.publish(ctx, notify.StaffRoom(staffID), notify.EventSessionReassigned, map[string]any{
		"session_id": sessionID,
		"reason":     "recovery",
	})

	data := map[string]interface{}{"staff_id": staffID}
	if had {
		data["original_staff_id"] = rec.OriginalStaffID
		data["downtime_seconds"] = int(now.Sub(rec.DisconnectTime).Seconds())
		m.metrics.ObserveRecovery(now.Sub(rec.DisconnectTime))
	}
	m.audit(ctx, sessionID, "session_reassigned", data)
	m.metrics.Outcome("reassigned", "")
	log.Printf("recovery: session %s reassigned to %s", sessionID, staffID)
	return true, nil
}
