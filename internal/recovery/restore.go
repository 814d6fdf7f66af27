package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log"

	"github.com/orvale/helpdesk/internal/chat"
)

// Restore rebuilds in-memory recovery state from the sessions table after a
// restart. Grace periods that ran out while the process was down expire
// immediately. It returns the number of records restored.
func (m *Manager) Restore(ctx context.Context) (int, error) {
	sessions, err := chat.RecoveringSessions(ctx, m.db)
	if err != nil {
		return 0, fmt.Errorf("recovery: restore: %w", err)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.clock.Now()
	restored := 0
	for _, session := range sessions {
		var data RecoveryData
		if err := json.Unmarshal([]byte(session.RecoveryState), &data); err != nil {
			log.Printf("recovery: warning: discarding unreadable recovery state on %s: %v", session.ID, err)
			m.clearState(ctx, session.ID)
			continue
		}
		if chat.Closed(session.Status) {
			m.clearState(ctx, session.ID)
			continue
		}
		data.SessionID = session.ID

		if data.Requeued {
			m.store.PutRecovery(data, nil)
			restored++
			continue
		}

		remaining := data.GracePeriodExpires.Sub(now)
		if remaining < 0 {
			remaining = 0
		}
		sessionID, expires := data.SessionID, data.GracePeriodExpires
		timer := m.clock.AfterFunc(remaining, func() {
			m.onGraceExpired(context.Background(), sessionID, expires)
		})
		m.store.PutRecovery(data, timer)
		m.store.MarkDisconnected(StaffDisconnectEvent{
			StaffID:          data.OriginalStaffID,
			SessionIDs:       []string{sessionID},
			DisconnectTime:   data.DisconnectTime,
			LastSeen:         data.DisconnectTime,
			Reason:           data.DisconnectReason,
			AffectedSessions: 1,
		})
		restored++
	}
	m.updateGauges()

	if restored > 0 {
		log.Printf("recovery: restored %d recovery records", restored)
	}
	return restored, nil
}

func (m *Manager) clearState(ctx context.Context, sessionID string) {
	if err := chat.ClearRecoveryState(ctx, m.db, sessionID); err != nil {
		log.Printf("recovery: warning: clear recovery %s: %v", sessionID, err)
	}
}
