package recovery

import (
	"context"
	"log"
	"slices"
	"time"

	"github.com/orvale/helpdesk/internal/models"
	"gorm.io/gorm"
)

// Requeue placement policies.
const (
	PositionFront         = "front"
	PositionPriorityBoost = "priority_boost"
	PositionOriginal      = "original"
	PositionEnd           = "end"
)

var positionPolicies = []string{PositionFront, PositionPriorityBoost, PositionOriginal, PositionEnd}

// Settings is the recovery policy in effect. A value is never mutated
// after construction; reloads replace it wholesale.
type Settings struct {
	AutoRequeueEnabled             bool
	RequeuePosition                string
	PriorityBoostAmount            int
	StaffDisconnectTimeout         time.Duration
	GracePeriod                    time.Duration
	AutoReassignAfter              time.Duration
	NotifyGuestOnStaffDisconnect   bool
	StaffDisconnectMessage         string
	ReassignmentMessage            string
	EscalateOnRepeatedDisconnect   bool
	MaxDisconnectsBeforeEscalation int
	EscalationPriority             string
	CreateTicketOnEscalation       bool
	GuestInactivityTimeout         time.Duration
}

// DefaultSettings returns the built-in recovery policy.
func DefaultSettings() Settings {
	return SettingsFromRow(models.DefaultRecoverySettings())
}

// SettingsFromRow converts a stored settings row. Out-of-range values fall
// back to the default for that field.
func SettingsFromRow(row models.RecoverySettings) Settings {
	def := models.DefaultRecoverySettings()

	s := Settings{
		AutoRequeueEnabled:             row.AutoRequeueEnabled,
		RequeuePosition:                row.RequeuePosition,
		PriorityBoostAmount:            row.PriorityBoostAmount,
		StaffDisconnectTimeout:         seconds(row.StaffDisconnectTimeout, def.StaffDisconnectTimeout),
		GracePeriod:                    seconds(row.GracePeriodSeconds, def.GracePeriodSeconds),
		AutoReassignAfter:              seconds(row.AutoReassignAfterSeconds, def.AutoReassignAfterSeconds),
		NotifyGuestOnStaffDisconnect:   row.NotifyGuestOnStaffDisconnect,
		StaffDisconnectMessage:         row.StaffDisconnectMessage,
		ReassignmentMessage:            row.ReassignmentMessage,
		EscalateOnRepeatedDisconnect:   row.EscalateOnRepeatedDisconnect,
		MaxDisconnectsBeforeEscalation: row.MaxDisconnectsBeforeEscalation,
		EscalationPriority:             row.EscalationPriority,
		CreateTicketOnEscalation:       row.CreateTicketOnEscalation,
	}
	if !slices.Contains(positionPolicies, s.RequeuePosition) {
		s.RequeuePosition = def.RequeuePosition
	}
	if s.PriorityBoostAmount < 0 {
		s.PriorityBoostAmount = 0
	}
	if s.StaffDisconnectMessage == "" {
		s.StaffDisconnectMessage = def.StaffDisconnectMessage
	}
	if s.ReassignmentMessage == "" {
		s.ReassignmentMessage = def.ReassignmentMessage
	}
	if s.MaxDisconnectsBeforeEscalation <= 0 {
		s.MaxDisconnectsBeforeEscalation = def.MaxDisconnectsBeforeEscalation
	}
	if !slices.Contains(Priorities, s.EscalationPriority) {
		s.EscalationPriority = def.EscalationPriority
	}
	if row.GuestInactivityTimeoutMinutes > 0 {
		s.GuestInactivityTimeout = time.Duration(row.GuestInactivityTimeoutMinutes) * time.Minute
	}
	return s.withSweepWindow()
}

// withSweepWindow keeps the cleanup sweep from cutting a grace period short.
func (s Settings) withSweepWindow() Settings {
	if s.AutoReassignAfter < s.GracePeriod {
		s.AutoReassignAfter = s.GracePeriod
	}
	return s
}

// LoadSettings reads the settings row. Any failure, including a missing
// row, yields DefaultSettings and a logged warning.
func LoadSettings(ctx context.Context, db *gorm.DB) Settings {
	var row models.RecoverySettings
	if err := db.WithContext(ctx).First(&row, 1).Error; err != nil {
		log.Printf("recovery: warning: load settings failed, using defaults: %v", err)
		return DefaultSettings()
	}
	return SettingsFromRow(row)
}

func seconds(v, fallback int) time.Duration {
	if v <= 0 {
		v = fallback
	}
	return time.Duration(v) * time.Second
}
