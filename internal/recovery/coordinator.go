package recovery

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/orvale/helpdesk/internal/chat"
	"github.com/orvale/helpdesk/internal/notify"
)

// HandleStaffDisconnection opens recovery for each of staffID's sessions.
// Sessions that cannot be loaded are skipped; the rest are still processed.
// It returns the IDs of sessions that entered recovery.
func (m *Manager) HandleStaffDisconnection(ctx context.Context, staffID string, sessionIDs []string, reason DisconnectReason) ([]string, error) {
	if staffID == "" {
		return nil, fmt.Errorf("recovery: staffID is required")
	}
	if _, ok := ParseDisconnectReason(string(reason)); !ok {
		return nil, fmt.Errorf("recovery: unknown disconnect reason %q", reason)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	return m.handleStaffDisconnection(ctx, staffID, sessionIDs, reason), nil
}

// DisconnectStaff handles a staff member leaving explicitly: every active
// session of theirs enters recovery.
func (m *Manager) DisconnectStaff(ctx context.Context, staffID string, reason DisconnectReason) ([]string, error) {
	sessionIDs, err := chat.ActiveForStaff(ctx, m.db, staffID)
	if err != nil {
		return nil, fmt.Errorf("recovery: disconnect %s: %w", staffID, err)
	}
	if len(sessionIDs) == 0 {
		m.store.ForgetHeartbeat(staffID)
		return nil, nil
	}
	return m.HandleStaffDisconnection(ctx, staffID, sessionIDs, reason)
}

func (m *Manager) handleStaffDisconnection(ctx context.Context, staffID string, sessionIDs []string, reason DisconnectReason) []string {
	s := m.Settings()
	now := m.clock.Now()

	lastSeen, ok := m.store.LastHeartbeat(staffID)
	if !ok {
		lastSeen = now
	}
	if reason == ReasonManual || reason == ReasonBrowserClose {
		// The staff member left on purpose; only a fresh heartbeat counts
		// as coming back.
		m.store.ForgetHeartbeat(staffID)
	}

	var started []string
	for _, sessionID := range sessionIDs {
		if err := m.startRecovery(ctx, s, staffID, sessionID, reason, now); err != nil {
			log.Printf("recovery: warning: skipping session %s of %s: %v", sessionID, staffID, err)
			continue
		}
		started = append(started, sessionID)
	}

	if len(started) == 0 {
		m.updateGauges()
		return nil
	}

	m.store.MarkDisconnected(StaffDisconnectEvent{
		StaffID:          staffID,
		SessionIDs:       started,
		DisconnectTime:   now,
		LastSeen:         lastSeen,
		Reason:           reason,
		AffectedSessions: len(started),
	})
	m.updateGauges()

	log.Printf("recovery: staff %s disconnected (%s), %d sessions in recovery for %s", staffID, reason, len(started), s.GracePeriod)
	m.publish(ctx, notify.StaffAudienceRoom, notify.EventStaffDisconnected, map[string]any{
		"staff_id":             staffID,
		"reason":               reason,
		"affected_sessions":    started,
		"disconnect_time":      now,
		"last_seen":            lastSeen,
		"grace_period_seconds": int(s.GracePeriod / time.Second),
	})
	for _, sessionID := range started {
		m.audit(ctx, sessionID, "staff_disconnected", map[string]interface{}{
			"staff_id":             staffID,
			"reason":               string(reason),
			"grace_period_seconds": int(s.GracePeriod / time.Second),
		})
	}
	return started
}

// startRecovery creates or refreshes a session's record and arms its grace
// timer.
func (m *Manager) startRecovery(ctx context.Context, s Settings, staffID, sessionID string, reason DisconnectReason, now time.Time) error {
	session, err := chat.Get(ctx, m.db, sessionID)
	if err != nil {
		return err
	}
	if chat.Closed(session.Status) {
		return fmt.Errorf("session already %s", session.Status)
	}

	data := RecoveryData{
		SessionID:          sessionID,
		OriginalStaffID:    staffID,
		DisconnectTime:     now,
		GracePeriodExpires: now.Add(s.GracePeriod),
		DisconnectReason:   reason,
	}
	if prev, ok := m.store.Recovery(sessionID); ok {
		// Same episode: the session was requeued, picked up, and dropped again.
		data.ReconnectAttempts = prev.ReconnectAttempts
		data.PriorityBoosted = prev.PriorityBoosted
		data.QueuePositionBefore = prev.QueuePositionBefore
	}
	if session.QueuePosition > 0 {
		pos := session.QueuePosition
		data.QueuePositionBefore = &pos
	}

	if err := chat.MarkDisconnected(ctx, m.db, sessionID); err != nil {
		return err
	}

	if s.NotifyGuestOnStaffDisconnect {
		m.publish(ctx, notify.SessionRoom(sessionID), notify.EventStaffDisconnected, map[string]any{
			"session_id":           sessionID,
			"message":              s.StaffDisconnectMessage,
			"grace_period_seconds": int(s.GracePeriod / time.Second),
		})
		data.GuestNotified = true
	}

	expires := data.GracePeriodExpires
	timer := m.clock.AfterFunc(s.GracePeriod, func() {
		m.onGraceExpired(context.Background(), sessionID, expires)
	})
	m.store.PutRecovery(data, timer)
	m.persist(ctx, data)

	m.publish(ctx, notify.StaffRoom(staffID), notify.EventRecoveryStarted, map[string]any{
		"session_id":           sessionID,
		"grace_period_expires": expires,
	})
	return nil
}

// onGraceExpired resolves a session whose grace period ran out: back to
// the original staff member if they are demonstrably alive, otherwise
// requeue. A record that is gone or belongs to a later episode means the
// session was already resolved.
func (m *Manager) onGraceExpired(ctx context.Context, sessionID string, expires time.Time) {
	m.mu.Lock()
	defer m.mu.Unlock()

	rec, ok := m.store.Recovery(sessionID)
	if !ok || rec.Requeued || !rec.GracePeriodExpires.Equal(expires) {
		return
	}

	s := m.Settings()
	now := m.clock.Now()
	if last, ok := m.store.LastHeartbeat(rec.OriginalStaffID); ok && now.Sub(last) < s.StaffDisconnectTimeout {
		reassigned, err := m.reassign(ctx, sessionID, rec.OriginalStaffID)
		if err != nil {
			log.Printf("recovery: warning: reassign %s to %s at grace expiry: %v", sessionID, rec.OriginalStaffID, err)
		}
		if reassigned {
			return
		}
	}
	m.requeue(ctx, s, sessionID)
}
