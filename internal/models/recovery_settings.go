package models

// RecoverySettings is the single-row table holding live-chat session
// recovery policy. The row always has ID 1.
type RecoverySettings struct {
	ID                             uint `gorm:"primaryKey"`
	AutoRequeueEnabled             bool
	RequeuePosition                string `gorm:"size:16"` // front, priority_boost, original, end
	PriorityBoostAmount            int
	StaffDisconnectTimeout         int // seconds
	GracePeriodSeconds             int
	AutoReassignAfterSeconds       int
	NotifyGuestOnStaffDisconnect   bool
	StaffDisconnectMessage         string `gorm:"type:text"`
	ReassignmentMessage            string `gorm:"type:text"`
	EscalateOnRepeatedDisconnect   bool
	MaxDisconnectsBeforeEscalation int
	EscalationPriority             string `gorm:"size:16"`
	CreateTicketOnEscalation       bool
	GuestInactivityTimeoutMinutes  int
}

// TableName keeps the table name used by the portal schema.
func (RecoverySettings) TableName() string { return "session_recovery_settings" }

// Default guest-facing notices.
const (
	DefaultStaffDisconnectMessage = "Your support agent has been disconnected. Please hold on while we reconnect you."
	DefaultReassignmentMessage    = "Your support agent is back. You can continue your conversation."
)

// DefaultRecoverySettings returns the policy used when no settings row
// exists or it cannot be read.
func DefaultRecoverySettings() RecoverySettings {
	return RecoverySettings{
		ID:                             1,
		AutoRequeueEnabled:             true,
		RequeuePosition:                "priority_boost",
		PriorityBoostAmount:            1,
		StaffDisconnectTimeout:         30,
		GracePeriodSeconds:             60,
		AutoReassignAfterSeconds:       300,
		NotifyGuestOnStaffDisconnect:   true,
		StaffDisconnectMessage:         DefaultStaffDisconnectMessage,
		ReassignmentMessage:            DefaultReassignmentMessage,
		EscalateOnRepeatedDisconnect:   true,
		MaxDisconnectsBeforeEscalation: 2,
		EscalationPriority:             "urgent",
		CreateTicketOnEscalation:       true,
		GuestInactivityTimeoutMinutes:  10,
	}
}
