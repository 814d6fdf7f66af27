package recovery

import (
	"context"
	"testing"
	"time"

	"github.com/orvale/helpdesk/internal/models"
)

func TestDefaultSettings(t *testing.T) {
	s := DefaultSettings()
	if !s.AutoRequeueEnabled {
		t.Error("AutoRequeueEnabled should default to true")
	}
	if s.RequeuePosition != PositionPriorityBoost {
		t.Errorf("RequeuePosition = %q, want priority_boost", s.RequeuePosition)
	}
	if s.PriorityBoostAmount != 1 {
		t.Errorf("PriorityBoostAmount = %d, want 1", s.PriorityBoostAmount)
	}
	if s.StaffDisconnectTimeout != 30*time.Second {
		t.Errorf("StaffDisconnectTimeout = %s, want 30s", s.StaffDisconnectTimeout)
	}
	if s.GracePeriod != 60*time.Second {
		t.Errorf("GracePeriod = %s, want 60s", s.GracePeriod)
	}
	if s.AutoReassignAfter != 300*time.Second {
		t.Errorf("AutoReassignAfter = %s, want 5m", s.AutoReassignAfter)
	}
	if s.MaxDisconnectsBeforeEscalation != 2 || s.EscalationPriority != "urgent" {
		t.Errorf("escalation = %d/%s, want 2/urgent", s.MaxDisconnectsBeforeEscalation, s.EscalationPriority)
	}
	if s.GuestInactivityTimeout != 10*time.Minute {
		t.Errorf("GuestInactivityTimeout = %s, want 10m", s.GuestInactivityTimeout)
	}
}

func TestSettingsFromRow_NormalizesInvalidValues(t *testing.T) {
	row := models.DefaultRecoverySettings()
	row.RequeuePosition = "middle"
	row.PriorityBoostAmount = -2
	row.GracePeriodSeconds = 0
	row.StaffDisconnectMessage = ""
	row.MaxDisconnectsBeforeEscalation = 0
	row.EscalationPriority = "critical"
	row.GuestInactivityTimeoutMinutes = 0

	s := SettingsFromRow(row)
	if s.RequeuePosition != PositionPriorityBoost {
		t.Errorf("RequeuePosition = %q, want default", s.RequeuePosition)
	}
	if s.PriorityBoostAmount != 0 {
		t.Errorf("PriorityBoostAmount = %d, want 0", s.PriorityBoostAmount)
	}
	if s.GracePeriod != 60*time.Second {
		t.Errorf("GracePeriod = %s, want default 60s", s.GracePeriod)
	}
	if s.StaffDisconnectMessage != models.DefaultStaffDisconnectMessage {
		t.Errorf("StaffDisconnectMessage = %q, want default", s.StaffDisconnectMessage)
	}
	if s.MaxDisconnectsBeforeEscalation != 2 {
		t.Errorf("MaxDisconnectsBeforeEscalation = %d, want 2", s.MaxDisconnectsBeforeEscalation)
	}
	if s.EscalationPriority != "urgent" {
		t.Errorf("EscalationPriority = %q, want urgent", s.EscalationPriority)
	}
	if s.GuestInactivityTimeout != 0 {
		t.Errorf("GuestInactivityTimeout = %s, want disabled", s.GuestInactivityTimeout)
	}
}

func TestLoadSettings_MissingTableFallsBack(t *testing.T) {
	db := testDB(t)
	if err := db.Migrator().DropTable(&models.RecoverySettings{}); err != nil {
		t.Fatalf("drop settings table: %v", err)
	}
	s := LoadSettings(context.Background(), db)
	if s != DefaultSettings() {
		t.Errorf("LoadSettings = %+v, want defaults", s)
	}
}

func TestLoadSettings_ReadsRow(t *testing.T) {
	db := testDB(t)
	row := models.DefaultRecoverySettings()
	row.AutoRequeueEnabled = false
	row.RequeuePosition = PositionEnd
	row.GracePeriodSeconds = 15
	if err := db.Save(&row).Error; err != nil {
		t.Fatalf("save settings: %v", err)
	}

	s := LoadSettings(context.Background(), db)
	if s.AutoRequeueEnabled {
		t.Error("AutoRequeueEnabled = true, want false from row")
	}
	if s.RequeuePosition != PositionEnd {
		t.Errorf("RequeuePosition = %q, want end", s.RequeuePosition)
	}
	if s.GracePeriod != 15*time.Second {
		t.Errorf("GracePeriod = %s, want 15s", s.GracePeriod)
	}
}

func TestSettingsFromRow_AutoReassignCoversGracePeriod(t *testing.T) {
	row := models.DefaultRecoverySettings()
	row.GracePeriodSeconds = 120
	row.AutoReassignAfterSeconds = 30

	s := SettingsFromRow(row)
	if s.AutoReassignAfter != 120*time.Second {
		t.Errorf("AutoReassignAfter = %s, want raised to the 2m grace period", s.AutoReassignAfter)
	}
}
