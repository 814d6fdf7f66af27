package recovery

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/orvale/helpdesk/internal/chat"
	"github.com/orvale/helpdesk/internal/notify"
)

// EndReason is why recovery gave up on a session.
type EndReason string

// End reasons.
const (
	EndStaffUnavailable EndReason = "staff_unavailable"
	EndRequeueFailed    EndReason = "requeue_failed"
	EndRecoveryExpired  EndReason = "recovery_expired"
	EndAbandoned        EndReason = "abandoned"
)

var endMessages = map[EndReason]string{
	EndStaffUnavailable: "We're sorry, no staff members are available right now. Please start a new chat or submit a ticket and we'll get back to you.",
	EndRequeueFailed:    "We're sorry, we couldn't return you to the queue. Please start a new chat.",
	EndRecoveryExpired:  "Your chat session has expired while we tried to reconnect you. Please start a new chat if you still need help.",
	EndAbandoned:        "Your chat session was closed due to inactivity.",
}

// ParseEndReason validates an end reason received from a client.
func ParseEndReason(s string) (EndReason, bool) {
	r := EndReason(s)
	_, ok := endMessages[r]
	return r, ok
}

// EndMessage is the guest-facing text for reason.
func EndMessage(reason EndReason) string {
	if msg, ok := endMessages[reason]; ok {
		return msg
	}
	return "Your chat session has ended."
}

// EndSession terminates a session and discards its recovery record.
func (m *Manager) EndSession(ctx context.Context, sessionID string, reason EndReason) error {
	if _, ok := ParseEndReason(string(reason)); !ok {
		return fmt.Errorf("recovery: unknown end reason %q", reason)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.endSession(ctx, sessionID, reason)
}

func (m *Manager) endSession(ctx context.Context, sessionID string, reason EndReason) error {
	status := chat.StatusEnded
	if reason == EndAbandoned {
		status = chat.StatusAbandoned
	}
	now := m.clock.Now()

	err := chat.End(ctx, m.db, sessionID, status, string(reason), now)
	if err != nil {
		log.Printf("recovery: warning: end %s: %v", sessionID, err)
	}
	// The record goes regardless; a session we cannot end must not stay in
	// recovery forever.
	if rec, ok := m.forget(ctx, sessionID); ok {
		m.metrics.ObserveRecovery(now.Sub(rec.DisconnectTime))
	}
	if errors.Is(err, chat.ErrSessionNotFound) {
		return fmt.Errorf("recovery: end %s: %w", sessionID, err)
	}

	m.audit(ctx, sessionID, "session_ended", map[string]interface{}{
		"reason": string(reason),
		"status": status,
	})
	m.publish(ctx, notify.SessionRoom(sessionID), notify.EventSessionEnded, map[string]any{
		"session_id": sessionID,
		"reason":     reason,
		"message":    EndMessage(reason),
	})
	m.publish(ctx, notify.StaffAudienceRoom, notify.EventSessionEnded, map[string]any{
		"session_id": sessionID,
		"reason":     reason,
	})
	m.metrics.Outcome("ended", string(reason))
	log.Printf("recovery: session %s ended (%s)", sessionID, reason)

	if err != nil {
		return fmt.Errorf("recovery: end %s: %w", sessionID, err)
	}
	return nil
}
