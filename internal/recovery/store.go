package recovery

import (
	"cmp"
	"slices"
	"sync"
	"time"

	"github.com/orvale/helpdesk/internal/clock"
	"github.com/samber/lo"
)

// DisconnectReason says why a staff member was considered gone.
type DisconnectReason string

// Disconnect reasons.
const (
	ReasonNetwork      DisconnectReason = "network"
	ReasonBrowserClose DisconnectReason = "browser_close"
	ReasonTimeout      DisconnectReason = "timeout"
	ReasonManual       DisconnectReason = "manual"
)

// ParseDisconnectReason validates a reason received from a client.
func ParseDisconnectReason(s string) (DisconnectReason, bool) {
	r := DisconnectReason(s)
	switch r {
	case ReasonNetwork, ReasonBrowserClose, ReasonTimeout, ReasonManual:
		return r, true
	}
	return "", false
}

// RecoveryData tracks one chat session whose staff member dropped.
type RecoveryData struct {
	SessionID           string           `json:"sessionId"`
	OriginalStaffID     string           `json:"originalStaffId"`
	DisconnectTime      time.Time        `json:"disconnectTime"`
	ReconnectAttempts   int              `json:"reconnectAttempts"`
	GracePeriodExpires  time.Time        `json:"gracePeriodExpires"`
	QueuePositionBefore *int             `json:"queuePositionBeforeDisconnect,omitempty"`
	DisconnectReason    DisconnectReason `json:"disconnectReason"`
	GuestNotified       bool             `json:"guestNotified"`
	PriorityBoosted     bool             `json:"priorityBoosted"`
	// Requeued is set once the grace period expired and the session went
	// back to the queue; the record then only carries history.
	Requeued bool `json:"requeued"`
}

// StaffDisconnectEvent records one staff disconnect occurrence.
type StaffDisconnectEvent struct {
	StaffID          string           `json:"staffId"`
	SessionIDs       []string         `json:"sessionIds"`
	DisconnectTime   time.Time        `json:"disconnectTime"`
	LastSeen         time.Time        `json:"lastSeen"`
	Reason           DisconnectReason `json:"reason"`
	AffectedSessions int              `json:"affectedSessions"`
}

type activeRecovery struct {
	data  RecoveryData
	timer *clock.Timer
}

// Store is the in-memory recovery state: staff heartbeats, sessions in
// recovery with their grace timers, and staff flagged as disconnected.
type Store struct {
	mu           sync.Mutex
	heartbeats   map[string]time.Time
	recoveries   map[string]*activeRecovery
	disconnected map[string]*StaffDisconnectEvent
}

// NewStore returns an empty Store.
func NewStore() *Store {
	return &Store{
		heartbeats:   make(map[string]time.Time),
		recoveries:   make(map[string]*activeRecovery),
		disconnected: make(map[string]*StaffDisconnectEvent),
	}
}

// Touch records a heartbeat and reports whether the staff member is
// currently flagged as disconnected.
func (s *Store) Touch(staffID string, at time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.heartbeats[staffID] = at
	_, disconnected := s.disconnected[staffID]
	return disconnected
}

// LastHeartbeat returns the last heartbeat time of a staff member.
func (s *Store) LastHeartbeat(staffID string) (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.heartbeats[staffID]
	return t, ok
}

// ForgetHeartbeat stops tracking a staff member.
func (s *Store) ForgetHeartbeat(staffID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.heartbeats, staffID)
}

// Heartbeats returns a copy of the heartbeat map.
func (s *Store) Heartbeats() map[string]time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return lo.Assign(s.heartbeats)
}

// Recovery returns the recovery record of a session.
func (s *Store) Recovery(sessionID string) (RecoveryData, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recoveries[sessionID]
	if !ok {
		return RecoveryData{}, false
	}
	return r.data, true
}

// PutRecovery stores a session's record, replacing and cancelling any
// previous one so at most one grace timer exists per session.
func (s *Store) PutRecovery(data RecoveryData, timer *clock.Timer) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.recoveries[data.SessionID]; ok && old.timer != timer {
		old.timer.Stop()
	}
	s.recoveries[data.SessionID] = &activeRecovery{data: data, timer: timer}
}

// UpdateRecovery applies fn to a session's record and returns the result.
func (s *Store) UpdateRecovery(sessionID string, fn func(*RecoveryData)) (RecoveryData, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recoveries[sessionID]
	if !ok {
		return RecoveryData{}, false
	}
	fn(&r.data)
	return r.data, true
}

// DeleteRecovery removes a session's record and cancels its grace timer.
func (s *Store) DeleteRecovery(sessionID string) (RecoveryData, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.recoveries[sessionID]
	if !ok {
		return RecoveryData{}, false
	}
	r.timer.Stop()
	delete(s.recoveries, sessionID)
	return r.data, true
}

// Recoveries returns every record ordered by disconnect time.
func (s *Store) Recoveries() []RecoveryData {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := lo.MapToSlice(s.recoveries, func(_ string, r *activeRecovery) RecoveryData { return r.data })
	slices.SortFunc(out, func(a, b RecoveryData) int {
		if c := a.DisconnectTime.Compare(b.DisconnectTime); c != 0 {
			return c
		}
		return cmp.Compare(a.SessionID, b.SessionID)
	})
	return out
}

// PendingForStaff returns records of staffID still inside their grace
// period at now.
func (s *Store) PendingForStaff(staffID string, now time.Time) []RecoveryData {
	return lo.Filter(s.Recoveries(), func(r RecoveryData, _ int) bool {
		return r.OriginalStaffID == staffID && !r.Requeued && r.GracePeriodExpires.After(now)
	})
}

// MarkDisconnected flags a staff member, merging with an existing event.
func (s *Store) MarkDisconnected(ev StaffDisconnectEvent) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if old, ok := s.disconnected[ev.StaffID]; ok {
		ev.SessionIDs = lo.Uniq(append(slices.Clone(old.SessionIDs), ev.SessionIDs...))
		ev.AffectedSessions = len(ev.SessionIDs)
		if old.DisconnectTime.Before(ev.DisconnectTime) {
			ev.DisconnectTime = old.DisconnectTime
		}
	}
	s.disconnected[ev.StaffID] = &ev
}

// IsDisconnected reports whether staffID is flagged.
func (s *Store) IsDisconnected(staffID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.disconnected[staffID]
	return ok
}

// ClearDisconnected removes the flag for staffID.
func (s *Store) ClearDisconnected(staffID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.disconnected, staffID)
}

// DisconnectedStaff returns every flagged staff event ordered by staff ID.
func (s *Store) DisconnectedStaff() []StaffDisconnectEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]StaffDisconnectEvent, 0, len(s.disconnected))
	for _, ev := range s.disconnected {
		out = append(out, *ev)
	}
	slices.SortFunc(out, func(a, b StaffDisconnectEvent) int { return cmp.Compare(a.StaffID, b.StaffID) })
	return out
}

// Counts returns the number of records and flagged staff.
func (s *Store) Counts() (recoveries, disconnected int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.recoveries), len(s.disconnected)
}
