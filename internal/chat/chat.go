// Package chat provides storage operations on public portal chat sessions,
// staff availability, the session audit trail, and escalation tickets.
package chat

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/orvale/helpdesk/internal/models"
	"gorm.io/gorm"
)

// Session statuses.
const (
	StatusWaiting           = "waiting"
	StatusActive            = "active"
	StatusEnded             = "ended"
	StatusAbandoned         = "abandoned"
	StatusStaffDisconnected = "staff_disconnected"
	StatusPriorityRequeued  = "priority_requeued"
)

// Connection statuses.
const (
	ConnConnected    = "connected"
	ConnDisconnected = "disconnected"
	ConnRecovering   = "recovering"
)

// Staff statuses.
const (
	StaffOnline  = "online"
	StaffAway    = "away"
	StaffOffline = "offline"
)

var (
	// ErrSessionNotFound is returned when no chat session has the given ID.
	ErrSessionNotFound = errors.New("chat: session not found")
	// ErrSessionClosed is returned when a session that has already ended
	// or been abandoned would be reopened.
	ErrSessionClosed = errors.New("chat: session closed")
)

// Closed reports whether status is terminal.
func Closed(status string) bool {
	return status == StatusEnded || status == StatusAbandoned
}

// Get returns the chat session with the given ID.
func Get(ctx context.Context, db *gorm.DB, sessionID string) (*models.ChatSession, error) {
	if sessionID == "" {
		return nil, fmt.Errorf("chat: sessionID is required")
	}
	var s models.ChatSession
	if err := db.WithContext(ctx).Where("id = ?", sessionID).First(&s).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("chat: get %s: %w", sessionID, ErrSessionNotFound)
		}
		return nil, fmt.Errorf("chat: get %s: %w", sessionID, err)
	}
	return &s, nil
}

// ActiveForStaff returns the IDs of sessions currently being served by staffID.
func ActiveForStaff(ctx context.Context, db *gorm.DB, staffID string) ([]string, error) {
	var ids []string
	if err := db.WithContext(ctx).Model(&models.ChatSession{}).
		Where("assigned_staff_id = ? AND status = ?", staffID, StatusActive).
		Order("created_at ASC").
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("chat: active sessions for %s: %w", staffID, err)
	}
	return ids, nil
}

// MarkDisconnected flags a session whose staff member dropped.
func MarkDisconnected(ctx context.Context, db *gorm.DB, sessionID string) error {
	return update(ctx, db, sessionID, "mark disconnected", map[string]interface{}{
		"status":            StatusStaffDisconnected,
		"connection_status": ConnRecovering,
	})
}

// Assign hands a session to staffID and makes it active again. The
// previously assigned staff member is kept in previous_staff_id when it
// differs from the new one.
func Assign(ctx context.Context, db *gorm.DB, sessionID, staffID string) error {
	return db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var s models.ChatSession
		if err := tx.Where("id = ?", sessionID).First(&s).Error; err != nil {
			if errors.Is(err, gorm.ErrRecordNotFound) {
				return fmt.Errorf("chat: assign %s: %w", sessionID, ErrSessionNotFound)
			}
			return fmt.Errorf("chat: assign %s: %w", sessionID, err)
		}
		if Closed(s.Status) {
			return fmt.Errorf("chat: assign %s (%s): %w", sessionID, s.Status, ErrSessionClosed)
		}
		updates := map[string]interface{}{
			"status":            StatusActive,
			"assigned_staff_id": staffID,
			"connection_status": ConnConnected,
			"queue_position":    0,
		}
		if s.AssignedStaffID != "" && s.AssignedStaffID != staffID {
			updates["previous_staff_id"] = s.AssignedStaffID
		}
		if err := tx.Model(&models.ChatSession{}).Where("id = ?", sessionID).Updates(updates).Error; err != nil {
			return fmt.Errorf("chat: assign %s: %w", sessionID, err)
		}
		return nil
	})
}

// RequeueOpts describes where a requeued session lands.
type RequeueOpts struct {
	Priority        string
	QueuePosition   int
	StatusBadge     string
	PreviousStaffID string
}

// Requeue returns a session to the waiting queue with a new priority and
// position, clearing its staff assignment.
func Requeue(ctx context.Context, db *gorm.DB, sessionID string, opts RequeueOpts) error {
	return update(ctx, db, sessionID, "requeue", map[string]interface{}{
		"status":            StatusPriorityRequeued,
		"priority":          opts.Priority,
		"queue_position":    opts.QueuePosition,
		"status_badge":      opts.StatusBadge,
		"assigned_staff_id": "",
		"previous_staff_id": opts.PreviousStaffID,
		"connection_status": ConnConnected,
	})
}

// SetPriority changes a session's priority.
func SetPriority(ctx context.Context, db *gorm.DB, sessionID, priority string) error {
	return update(ctx, db, sessionID, "set priority", map[string]interface{}{
		"priority": priority,
	})
}

// End moves a session into a terminal status and clears any recovery state.
func End(ctx context.Context, db *gorm.DB, sessionID, status, reason string, at time.Time) error {
	return update(ctx, db, sessionID, "end", map[string]interface{}{
		"status":            status,
		"end_reason":        reason,
		"ended_at":          at,
		"connection_status": ConnDisconnected,
		"recovery_state":    "",
	})
}

// SaveRecoveryState stores the JSON-encoded recovery record on the session.
func SaveRecoveryState(ctx context.Context, db *gorm.DB, sessionID, state string) error {
	return update(ctx, db, sessionID, "save recovery state", map[string]interface{}{
		"recovery_state": state,
	})
}

// ClearRecoveryState removes the recovery record from the session.
func ClearRecoveryState(ctx context.Context, db *gorm.DB, sessionID string) error {
	return update(ctx, db, sessionID, "clear recovery state", map[string]interface{}{
		"recovery_state": "",
	})
}

// RecoveringSessions returns every session that carries a recovery record.
func RecoveringSessions(ctx context.Context, db *gorm.DB) ([]models.ChatSession, error) {
	var sessions []models.ChatSession
	if err := db.WithContext(ctx).
		Where("recovery_state IS NOT NULL AND recovery_state <> ''").
		Find(&sessions).Error; err != nil {
		return nil, fmt.Errorf("chat: recovering sessions: %w", err)
	}
	return sessions, nil
}

// TouchGuest records guest activity on a session.
func TouchGuest(ctx context.Context, db *gorm.DB, sessionID string, at time.Time) error {
	return update(ctx, db, sessionID, "touch guest", map[string]interface{}{
		"last_guest_activity": at,
	})
}

// noActivityBefore separates a recorded guest activity from the zero time
// stored for guests that never pinged.
var noActivityBefore = time.Date(1971, 1, 1, 0, 0, 0, 0, time.UTC)

// InactiveWaiting returns IDs of queued sessions whose guest has been
// silent since before cutoff. Sessions without any recorded activity are
// measured from their creation.
func InactiveWaiting(ctx context.Context, db *gorm.DB, cutoff time.Time) ([]string, error) {
	var ids []string
	if err := db.WithContext(ctx).Model(&models.ChatSession{}).
		Where("status IN ?", []string{StatusWaiting, StatusPriorityRequeued}).
		Where("(last_guest_activity >= ? AND last_guest_activity < ?) OR ((last_guest_activity IS NULL OR last_guest_activity < ?) AND created_at < ?)",
			noActivityBefore, cutoff, noActivityBefore, cutoff).
		Pluck("id", &ids).Error; err != nil {
		return nil, fmt.Errorf("chat: inactive waiting sessions: %w", err)
	}
	return ids, nil
}

// CountWaiting counts queued sessions, excluding excludeID, whose priority
// is one of priorities.
func CountWaiting(ctx context.Context, db *gorm.DB, priorities []string, excludeID string) (int64, error) {
	var n int64
	if err := db.WithContext(ctx).Model(&models.ChatSession{}).
		Where("status IN ? AND priority IN ? AND id <> ?",
			[]string{StatusWaiting, StatusPriorityRequeued}, priorities, excludeID).
		Count(&n).Error; err != nil {
		return 0, fmt.Errorf("chat: count waiting: %w", err)
	}
	return n, nil
}

// IsStaffAvailable reports whether staffID is online and below their
// concurrent chat limit.
func IsStaffAvailable(ctx context.Context, db *gorm.DB, staffID string) (bool, error) {
	var staff models.StaffMember
	if err := db.WithContext(ctx).Where("id = ?", staffID).First(&staff).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return false, nil
		}
		return false, fmt.Errorf("chat: staff %s: %w", staffID, err)
	}
	if staff.Status != StaffOnline {
		return false, nil
	}
	if staff.MaxConcurrentChats <= 0 {
		return true, nil
	}
	var active int64
	if err := db.WithContext(ctx).Model(&models.ChatSession{}).
		Where("assigned_staff_id = ? AND status = ?", staffID, StatusActive).
		Count(&active).Error; err != nil {
		return false, fmt.Errorf("chat: staff %s load: %w", staffID, err)
	}
	return active < int64(staff.MaxConcurrentChats), nil
}

// SetStaffStatus updates a staff member's presence, creating the row if
// the staff member is unknown.
func SetStaffStatus(ctx context.Context, db *gorm.DB, staffID, status string) error {
	if staffID == "" {
		return fmt.Errorf("chat: staffID is required")
	}
	result := db.WithContext(ctx).Model(&models.StaffMember{}).Where("id = ?", staffID).Update("status", status)
	if result.Error != nil {
		return fmt.Errorf("chat: set staff %s status: %w", staffID, result.Error)
	}
	if result.RowsAffected > 0 {
		return nil
	}
	staff := models.StaffMember{ID: staffID, Name: staffID, Status: status, MaxConcurrentChats: 3}
	if err := db.WithContext(ctx).Create(&staff).Error; err != nil {
		return fmt.Errorf("chat: create staff %s: %w", staffID, err)
	}
	return nil
}

// LogEvent appends an audit trail entry for a session.
func LogEvent(ctx context.Context, db *gorm.DB, sessionID, eventType string, data map[string]interface{}) error {
	payload := "{}"
	if len(data) > 0 {
		raw, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("chat: encode %s event: %w", eventType, err)
		}
		payload = string(raw)
	}
	ev := models.SessionEvent{
		SessionID: sessionID,
		EventType: eventType,
		Data:      payload,
	}
	if err := db.WithContext(ctx).Create(&ev).Error; err != nil {
		return fmt.Errorf("chat: log %s event: %w", eventType, err)
	}
	return nil
}

// Events returns the audit trail for a session, oldest first.
func Events(ctx context.Context, db *gorm.DB, sessionID string) ([]models.SessionEvent, error) {
	var events []models.SessionEvent
	if err := db.WithContext(ctx).Where("session_id = ?", sessionID).
		Order("id ASC").Find(&events).Error; err != nil {
		return nil, fmt.Errorf("chat: events %s: %w", sessionID, err)
	}
	return events, nil
}

// CreateTicket opens a help-desk ticket for an escalated chat session.
func CreateTicket(ctx context.Context, db *gorm.DB, session *models.ChatSession, reason string) (*models.Ticket, error) {
	if session == nil {
		return nil, fmt.Errorf("chat: session is required")
	}
	guest := session.GuestName
	if guest == "" {
		guest = "guest"
	}
	t := models.Ticket{
		ID:          "HD-" + strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8]),
		SessionID:   session.ID,
		Title:       fmt.Sprintf("Escalated live chat with %s", guest),
		Description: reason,
		Priority:    session.Priority,
		Status:      "open",
		Source:      "chat_escalation",
	}
	if err := db.WithContext(ctx).Create(&t).Error; err != nil {
		return nil, fmt.Errorf("chat: create ticket for %s: %w", session.ID, err)
	}
	return &t, nil
}

func update(ctx context.Context, db *gorm.DB, sessionID, op string, updates map[string]interface{}) error {
	result := db.WithContext(ctx).Model(&models.ChatSession{}).Where("id = ?", sessionID).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("chat: %s %s: %w", op, sessionID, result.Error)
	}
	if result.RowsAffected == 0 {
		return fmt.Errorf("chat: %s %s: %w", op, sessionID, ErrSessionNotFound)
	}
	return nil
}
