package recovery

import (
	"context"
	"log"
	"slices"
	"time"

	"github.com/orvale/helpdesk/internal/chat"
	"github.com/orvale/helpdesk/internal/notify"
	"github.com/samber/lo"
)

// RecordHeartbeat notes that staffID is alive. When the staff member was
// flagged as disconnected, their sessions still inside the grace period are
// handed back before this returns.
func (m *Manager) RecordHeartbeat(ctx context.Context, staffID string) {
	if staffID == "" {
		return
	}
	m.metrics.HeartbeatInc()
	if !m.store.Touch(staffID, m.clock.Now()) {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.store.IsDisconnected(staffID) {
		// Resolved by another handler while we waited.
		return
	}
	m.handleReconnection(ctx, staffID)
}

// handleReconnection resumes a returning staff member's sessions.
func (m *Manager) handleReconnection(ctx context.Context, staffID string) {
	now := m.clock.Now()
	pending := m.store.PendingForStaff(staffID, now)

	var resumed, unresolved []string
	for _, rec := range pending {
		ok, err := m.reassign(ctx, rec.SessionID, staffID)
		if err != nil {
			log.Printf("recovery: warning: resume %s for %s: %v", rec.SessionID, staffID, err)
		}
		if ok {
			resumed = append(resumed, rec.SessionID)
		} else {
			unresolved = append(unresolved, rec.SessionID)
		}
	}
	m.store.ClearDisconnected(staffID)
	m.updateGauges()

	log.Printf("recovery: staff %s reconnected, resumed %d of %d sessions", staffID, len(resumed), len(pending))
	m.publish(ctx, notify.StaffRoom(staffID), notify.EventReconnectionSuccessful, map[string]any{
		"staff_id":         staffID,
		"resumed_sessions": lo.Ternary(resumed == nil, []string{}, resumed),
		"pending_sessions": lo.Ternary(unresolved == nil, []string{}, unresolved),
		"timestamp":        now,
	})
}

// CheckHeartbeats flags every tracked staff member whose last heartbeat is
// older than the disconnect timeout and who still serves active sessions.
func (m *Manager) CheckHeartbeats(ctx context.Context) {
	heartbeats := m.store.Heartbeats()
	if len(heartbeats) == 0 {
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.Settings()
	now := m.clock.Now()
	staffIDs := lo.Keys(heartbeats)
	slices.Sort(staffIDs)

	for _, staffID := range staffIDs {
		last, ok := m.store.LastHeartbeat(staffID)
		if !ok || now.Sub(last) <= s.StaffDisconnectTimeout {
			continue
		}
		if m.store.IsDisconnected(staffID) {
			continue
		}
		sessionIDs, err := chat.ActiveForStaff(ctx, m.db, staffID)
		if err != nil {
			log.Printf("recovery: warning: active sessions for %s: %v", staffID, err)
			continue
		}
		if len(sessionIDs) == 0 {
			continue
		}
		log.Printf("recovery: staff %s missed heartbeats for %s with %d active sessions", staffID, now.Sub(last).Round(time.Second), len(sessionIDs))
		m.handleStaffDisconnection(ctx, staffID, sessionIDs, ReasonTimeout)
	}
}
