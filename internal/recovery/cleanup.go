package recovery

import (
	"context"
	"errors"
	"log"

	"github.com/orvale/helpdesk/internal/chat"
)

// CleanupExpired is the backstop sweep. Records older than the
// auto-reassign window are dropped: sessions still stuck in recovery are
// ended with recovery_expired, sessions that were requeued and picked up
// or left waiting simply lose their history. Queued guests silent for
// longer than the inactivity timeout are ended as abandoned.
func (m *Manager) CleanupExpired(ctx context.Context) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.Settings()
	now := m.clock.Now()

	var expired, dropped int
	for _, rec := range m.store.Recoveries() {
		if now.Sub(rec.DisconnectTime) <= s.AutoReassignAfter {
			continue
		}
		session, err := chat.Get(ctx, m.db, rec.SessionID)
		switch {
		case errors.Is(err, chat.ErrSessionNotFound):
			m.forget(ctx, rec.SessionID)
			dropped++
		case err != nil:
			log.Printf("recovery: warning: sweep %s: %v", rec.SessionID, err)
		case chat.Closed(session.Status):
			m.forget(ctx, rec.SessionID)
			dropped++
		case rec.Requeued && session.Status != chat.StatusStaffDisconnected:
			m.forget(ctx, rec.SessionID)
			dropped++
		default:
			m.endSession(ctx, rec.SessionID, EndRecoveryExpired)
			expired++
		}
	}

	var abandoned int
	if s.GuestInactivityTimeout > 0 {
		ids, err := chat.InactiveWaiting(ctx, m.db, now.Add(-s.GuestInactivityTimeout))
		if err != nil {
			log.Printf("recovery: warning: sweep inactive guests: %v", err)
		}
		for _, id := range ids {
			m.endSession(ctx, id, EndAbandoned)
			abandoned++
		}
	}

	if expired+dropped+abandoned > 0 {
		log.Printf("recovery: sweep ended %d expired, dropped %d stale records, closed %d inactive guests", expired, dropped, abandoned)
	}
}
