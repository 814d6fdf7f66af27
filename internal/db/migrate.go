package db

import (
	"errors"
	"fmt"

	"github.com/orvale/helpdesk/internal/config"
	"github.com/orvale/helpdesk/internal/models"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// AllModels returns every GORM model owned by the service.
func AllModels() []interface{} {
	return []interface{}{
		&models.ChatSession{},
		&models.StaffMember{},
		&models.SessionEvent{},
		&models.Ticket{},
		&models.RecoverySettings{},
	}
}

// AutoMigrate creates or updates all tables.
func AutoMigrate(db *gorm.DB) error {
	if err := db.AutoMigrate(AllModels()...); err != nil {
		return fmt.Errorf("db: auto-migrate: %w", err)
	}
	return nil
}

// SeedRecoverySettings writes the recovery settings row. Fields seeded in
// the config override whatever is stored; a missing row starts from the
// defaults.
func SeedRecoverySettings(db *gorm.DB, rc config.RecoveryConfig) error {
	row := models.DefaultRecoverySettings()
	var existing models.RecoverySettings
	err := db.First(&existing, 1).Error
	switch {
	case err == nil:
		row = existing
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return fmt.Errorf("db: read recovery settings: %w", err)
	}

	applySeeds(&row, rc)
	row.ID = 1

	result := db.Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "id"}},
		UpdateAll: true,
	}).Select("*").Create(&row)
	if result.Error != nil {
		return fmt.Errorf("db: seed recovery settings: %w", result.Error)
	}
	return nil
}

// applySeeds copies every non-nil seed into row.
func applySeeds(row *models.RecoverySettings, rc config.RecoveryConfig) {
	setBool(&row.AutoRequeueEnabled, rc.AutoRequeueEnabled)
	setString(&row.RequeuePosition, rc.RequeuePosition)
	setInt(&row.PriorityBoostAmount, rc.PriorityBoostAmount)
	setInt(&row.StaffDisconnectTimeout, rc.StaffDisconnectTimeout)
	setInt(&row.GracePeriodSeconds, rc.GracePeriodSeconds)
	setInt(&row.AutoReassignAfterSeconds, rc.AutoReassignAfterSeconds)
	setBool(&row.NotifyGuestOnStaffDisconnect, rc.NotifyGuestOnStaffDisconnect)
	setString(&row.StaffDisconnectMessage, rc.StaffDisconnectMessage)
	setString(&row.ReassignmentMessage, rc.ReassignmentMessage)
	setBool(&row.EscalateOnRepeatedDisconnect, rc.EscalateOnRepeatedDisconnect)
	setInt(&row.MaxDisconnectsBeforeEscalation, rc.MaxDisconnectsBeforeEscalation)
	setString(&row.EscalationPriority, rc.EscalationPriority)
	setBool(&row.CreateTicketOnEscalation, rc.CreateTicketOnEscalation)
	setInt(&row.GuestInactivityTimeoutMinutes, rc.GuestInactivityTimeoutMinutes)
}

func setBool(dst *bool, v *bool) {
	if v != nil {
		*dst = *v
	}
}

func setInt(dst *int, v *int) {
	if v != nil {
		*dst = *v
	}
}

func setString(dst *string, v *string) {
	if v != nil {
		*dst = *v
	}
}
