package recovery

import (
	"context"
	"fmt"
	"log"

	"github.com/orvale/helpdesk/internal/chat"
	"github.com/orvale/helpdesk/internal/notify"
)

// Status badges shown on requeued sessions.
const (
	BadgeAbandoned   = "abandoned"
	BadgeReconnected = "reconnected"
)

// requeue puts a session whose grace period ran out back in the queue, or
// ends it when requeueing is off or fails.
func (m *Manager) requeue(ctx context.Context, s Settings, sessionID string) {
	if !s.AutoRequeueEnabled {
		m.endSession(ctx, sessionID, EndStaffUnavailable)
		return
	}
	if err := m.tryRequeue(ctx, s, sessionID); err != nil {
		log.Printf("recovery: requeue %s failed: %v", sessionID, err)
		m.endSession(ctx, sessionID, EndRequeueFailed)
	}
}

func (m *Manager) tryRequeue(ctx context.Context, s Settings, sessionID string) error {
	rec, ok := m.store.Recovery(sessionID)
	if !ok {
		return fmt.Errorf("no recovery record")
	}
	session, err := chat.Get(ctx, m.db, sessionID)
	if err != nil {
		return err
	}

	priority := session.Priority
	if !rec.PriorityBoosted {
		priority = BoostPriority(priority, s.PriorityBoostAmount)
	}
	position, err := m.queuePosition(ctx, s, sessionID, priority, rec.QueuePositionBefore)
	if err != nil {
		return err
	}
	badge := BadgeAbandoned
	if rec.ReconnectAttempts > 0 {
		badge = BadgeReconnected
	}

	if err := chat.Requeue(ctx, m.db, sessionID, chat.RequeueOpts{
		Priority:        priority,
		QueuePosition:   position,
		StatusBadge:     badge,
		PreviousStaffID: rec.OriginalStaffID,
	}); err != nil {
		return err
	}

	rec, _ = m.store.UpdateRecovery(sessionID, func(r *RecoveryData) {
		r.ReconnectAttempts++
		r.PriorityBoosted = true
		r.Requeued = true
	})
	m.persist(ctx, rec)

	m.publish(ctx, notify.SessionRoom(sessionID), notify.EventSessionRequeued, map[string]any{
		"session_id":     sessionID,
		"priority":       priority,
		"queue_position": position,
		"message":        fmt.Sprintf("You have been placed back in the queue at position %d. A staff member will be with you shortly.", position),
	})
	m.publish(ctx, notify.StaffAudienceRoom, notify.EventSessionRequeued, map[string]any{
		"session_id":         sessionID,
		"priority":           priority,
		"queue_position":     position,
		"status_badge":       badge,
		"original_staff_id":  rec.OriginalStaffID,
		"reconnect_attempts": rec.ReconnectAttempts,
	})
	m.audit(ctx, sessionID, "session_requeued", map[string]interface{}{
		"priority":           priority,
		"previous_priority":  session.Priority,
		"queue_position":     position,
		"original_staff_id":  rec.OriginalStaffID,
		"reconnect_attempts": rec.ReconnectAttempts,
	})
	m.metrics.Outcome("requeued", badge)
	log.Printf("recovery: session %s requeued at %d with priority %s (attempt %d)", sessionID, position, priority, rec.ReconnectAttempts)

	if s.EscalateOnRepeatedDisconnect && rec.ReconnectAttempts >= s.MaxDisconnectsBeforeEscalation {
		m.escalate(ctx, s, sessionID, rec)
	}

	m.pruneDisconnected()
	m.updateGauges()
	return nil
}

// queuePosition applies the placement policy. With live positions enabled,
// priority_boost counts the queue instead of using the static table.
func (m *Manager) queuePosition(ctx context.Context, s Settings, sessionID, priority string, original *int) (int, error) {
	if m.livePositions && s.RequeuePosition == PositionPriorityBoost {
		ahead, err := chat.CountWaiting(ctx, m.db, PrioritiesAtOrAbove(priority), sessionID)
		if err != nil {
			return 0, err
		}
		return int(ahead) + 1, nil
	}
	return QueuePosition(s.RequeuePosition, priority, original), nil
}

// escalate raises a repeatedly dropped session for supervisory attention.
// It never lowers priority and leaves the session's recovery state alone.
func (m *Manager) escalate(ctx context.Context, s Settings, sessionID string, rec RecoveryData) {
	session, err := chat.Get(ctx, m.db, sessionID)
	if err != nil {
		log.Printf("recovery: warning: escalate %s: %v", sessionID, err)
		return
	}
	priority := HigherPriority(session.Priority, s.EscalationPriority)
	if priority != session.Priority {
		if err := chat.SetPriority(ctx, m.db, sessionID, priority); err != nil {
			log.Printf("recovery: warning: escalate %s: %v", sessionID, err)
			return
		}
		session.Priority = priority
	}

	var ticketID string
	if s.CreateTicketOnEscalation {
		reason := fmt.Sprintf("Chat session %s lost its staff member %d times (last: %s).",
			sessionID, rec.ReconnectAttempts, rec.OriginalStaffID)
		ticket, err := chat.CreateTicket(ctx, m.db, session, reason)
		if err != nil {
			log.Printf("recovery: warning: escalation ticket for %s: %v", sessionID, err)
		} else {
			ticketID = ticket.ID
		}
	}

	m.publish(ctx, notify.ManagementRoom, notify.EventSessionEscalated, map[string]any{
		"session_id":         sessionID,
		"priority":           priority,
		"reconnect_attempts": rec.ReconnectAttempts,
		"original_staff_id":  rec.OriginalStaffID,
		"guest_name":         session.GuestName,
		"ticket_id":          ticketID,
	})
	m.publish(ctx, notify.SessionRoom(sessionID), notify.EventSessionEscalated, map[string]any{
		"session_id": sessionID,
		"message":    "Your chat has been escalated to a supervisor and will be handled with priority.",
	})
	m.audit(ctx, sessionID, "session_escalated", map[string]interface{}{
		"priority":           priority,
		"reconnect_attempts": rec.ReconnectAttempts,
		"ticket_id":          ticketID,
	})
	m.metrics.Outcome("escalated", "repeated_disconnect")
	log.Printf("recovery: session %s escalated to %s after %d disconnects", sessionID, priority, rec.ReconnectAttempts)
}
