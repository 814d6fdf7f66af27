// Package recovery keeps public portal chats alive when the staff member
// serving them drops: it tracks staff heartbeats, detects disconnects,
// holds affected sessions for a grace period, and then reassigns, requeues,
// escalates, or ends them.
package recovery

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"sync"
	"sync/atomic"
	"time"

	"github.com/orvale/helpdesk/internal/chat"
	"github.com/orvale/helpdesk/internal/clock"
	"github.com/orvale/helpdesk/internal/metrics"
	"github.com/orvale/helpdesk/internal/notify"
	"github.com/robfig/cron/v3"
	"gorm.io/gorm"
)

const (
	// DefaultHeartbeatCheckInterval is how often stale heartbeats are scanned.
	DefaultHeartbeatCheckInterval = 15 * time.Second
	// DefaultCleanupInterval is how often expired recovery records are swept.
	DefaultCleanupInterval = 60 * time.Second
)

// Options configures a Manager.
type Options struct {
	DB        *gorm.DB
	Publisher notify.Publisher
	Clock     clock.Clock      // defaults to clock.Real()
	Metrics   *metrics.Metrics // optional
	Settings  *Settings        // initial policy; loaded from DB when nil

	// LivePositions counts waiting sessions instead of using the static
	// table for the priority_boost placement policy.
	LivePositions bool

	HeartbeatCheckInterval time.Duration
	CleanupInterval        time.Duration
}

// Manager owns the recovery state of one process. Handlers (heartbeat
// reconnection, detector scans, grace expiries, sweeps) are serialized, so
// each runs to completion before the next observes the state.
type Manager struct {
	db            *gorm.DB
	pub           notify.Publisher
	clock         clock.Clock
	metrics       *metrics.Metrics
	livePositions bool
	checkEvery    time.Duration
	cleanupEvery  time.Duration

	store    *Store
	settings atomic.Pointer[Settings]
	mu       sync.Mutex
}

// New builds a Manager with fresh in-memory state.
func New(opts Options) (*Manager, error) {
	if opts.DB == nil {
		return nil, fmt.Errorf("recovery: db is required")
	}
	if opts.Publisher == nil {
		return nil, fmt.Errorf("recovery: publisher is required")
	}
	if opts.Clock == nil {
		opts.Clock = clock.Real()
	}
	if opts.HeartbeatCheckInterval <= 0 {
		opts.HeartbeatCheckInterval = DefaultHeartbeatCheckInterval
	}
	if opts.CleanupInterval <= 0 {
		opts.CleanupInterval = DefaultCleanupInterval
	}

	m := &Manager{
		db:            opts.DB,
		pub:           opts.Publisher,
		clock:         opts.Clock,
		metrics:       opts.Metrics,
		livePositions: opts.LivePositions,
		checkEvery:    opts.HeartbeatCheckInterval,
		cleanupEvery:  opts.CleanupInterval,
		store:         NewStore(),
	}
	if opts.Settings != nil {
		s := opts.Settings.withSweepWindow()
		m.settings.Store(&s)
	} else {
		s := LoadSettings(context.Background(), opts.DB)
		m.settings.Store(&s)
	}
	return m, nil
}

// Settings returns the policy currently in effect.
func (m *Manager) Settings() Settings {
	return *m.settings.Load()
}

// ReloadSettings rereads the settings row and swaps it in.
func (m *Manager) ReloadSettings(ctx context.Context) Settings {
	s := LoadSettings(ctx, m.db)
	m.settings.Store(&s)
	log.Printf("recovery: settings reloaded (requeue=%v position=%s grace=%s)", s.AutoRequeueEnabled, s.RequeuePosition, s.GracePeriod)
	return s
}

// Store exposes the in-memory state for inspection.
func (m *Manager) Store() *Store {
	return m.store
}

// Recoveries returns a snapshot of every recovery record.
func (m *Manager) Recoveries() []RecoveryData {
	return m.store.Recoveries()
}

// DisconnectedStaff returns a snapshot of staff flagged as disconnected.
func (m *Manager) DisconnectedStaff() []StaffDisconnectEvent {
	return m.store.DisconnectedStaff()
}

// Start schedules the heartbeat scan and the cleanup sweep. Both stop when
// ctx is cancelled.
func (m *Manager) Start(ctx context.Context) error {
	c := cron.New(cron.WithChain(cron.SkipIfStillRunning(cron.DefaultLogger)))
	if _, err := c.AddFunc(every(m.checkEvery), func() { m.CheckHeartbeats(ctx) }); err != nil {
		return fmt.Errorf("recovery: schedule heartbeat scan: %w", err)
	}
	if _, err := c.AddFunc(every(m.cleanupEvery), func() { m.CleanupExpired(ctx) }); err != nil {
		return fmt.Errorf("recovery: schedule cleanup sweep: %w", err)
	}
	c.Start()
	log.Printf("recovery: heartbeat scan every %s, cleanup every %s", m.checkEvery, m.cleanupEvery)

	go func() {
		<-ctx.Done()
		<-c.Stop().Done()
	}()
	return nil
}

func every(d time.Duration) string {
	if d < time.Second {
		d = time.Second
	}
	return "@every " + d.String()
}

// RecordGuestActivity marks a guest as active on their session.
func (m *Manager) RecordGuestActivity(ctx context.Context, sessionID string) error {
	return chat.TouchGuest(ctx, m.db, sessionID, m.clock.Now())
}

// persist writes the record onto its session row so Restore can rebuild it.
func (m *Manager) persist(ctx context.Context, data RecoveryData) {
	raw, err := json.Marshal(data)
	if err != nil {
		log.Printf("recovery: warning: encode recovery %s: %v", data.SessionID, err)
		return
	}
	if err := chat.SaveRecoveryState(ctx, m.db, data.SessionID, string(raw)); err != nil {
		log.Printf("recovery: warning: persist recovery %s: %v", data.SessionID, err)
	}
}

func (m *Manager) forget(ctx context.Context, sessionID string) (RecoveryData, bool) {
	data, ok := m.store.DeleteRecovery(sessionID)
	if ok {
		if err := chat.ClearRecoveryState(ctx, m.db, sessionID); err != nil {
			log.Printf("recovery: warning: clear recovery %s: %v", sessionID, err)
		}
	}
	m.pruneDisconnected()
	m.updateGauges()
	return data, ok
}

// pruneDisconnected drops staff flags with no session left in its grace
// period.
func (m *Manager) pruneDisconnected() {
	now := m.clock.Now()
	for _, ev := range m.store.DisconnectedStaff() {
		if len(m.store.PendingForStaff(ev.StaffID, now)) == 0 {
			m.store.ClearDisconnected(ev.StaffID)
		}
	}
}

func (m *Manager) publish(ctx context.Context, room, event string, data any) {
	if err := m.pub.Publish(ctx, room, event, data); err != nil {
		log.Printf("recovery: warning: publish %s to %s: %v", event, room, err)
	}
}

func (m *Manager) audit(ctx context.Context, sessionID, eventType string, data map[string]interface{}) {
	if err := chat.LogEvent(ctx, m.db, sessionID, eventType, data); err != nil {
		log.Printf("recovery: warning: audit %s for %s: %v", eventType, sessionID, err)
	}
}

func (m *Manager) updateGauges() {
	recoveries, disconnected := m.store.Counts()
	m.metrics.SetActiveRecoveries(recoveries)
	m.metrics.SetDisconnectedStaff(disconnected)
}
