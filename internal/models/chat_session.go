package models

import "time"

// ChatSession is a single guest-to-staff live-chat conversation from the
// public portal.
type ChatSession struct {
	ID                string `gorm:"primaryKey;size:64"`
	GuestName         string `gorm:"size:128"`
	GuestEmail        string `gorm:"size:256"`
	Status            string `gorm:"size:24;default:waiting;index"` // waiting, active, ended, abandoned, staff_disconnected, priority_requeued
	Priority          string `gorm:"size:16;default:normal;index"`  // normal, high, urgent, vip
	AssignedStaffID   string `gorm:"size:64;index"`
	PreviousStaffID   string `gorm:"size:64"`
	QueuePosition     int    `gorm:"default:0"`
	ConnectionStatus  string `gorm:"size:16;default:connected"` // connected, disconnected, recovering
	StatusBadge       string `gorm:"size:16"`                   // "", abandoned, reconnected
	EndReason         string `gorm:"size:32"`
	RecoveryState     string `gorm:"type:text"` // JSON-encoded recovery record; empty when not recovering
	LastGuestActivity time.Time
	CreatedAt         time.Time
	UpdatedAt         time.Time
	EndedAt           *time.Time
}

// StaffMember is a help-desk agent who can serve chat sessions.
type StaffMember struct {
	ID                 string `gorm:"primaryKey;size:64"`
	Name               string `gorm:"size:128"`
	Status             string `gorm:"size:16;default:offline;index"` // online, away, offline
	MaxConcurrentChats int    `gorm:"default:3"`
	CreatedAt          time.Time
}

// SessionEvent is an audit trail entry for a chat session.
type SessionEvent struct {
	ID        uint   `gorm:"primaryKey;autoIncrement"`
	SessionID string `gorm:"size:64;index"`
	EventType string `gorm:"size:48;not null"`
	Data      string `gorm:"type:json"`
	CreatedAt time.Time
}

// Ticket is a help-desk ticket. The recovery subsystem only creates them
// when escalating repeatedly dropped chats.
type Ticket struct {
	ID          string `gorm:"primaryKey;size:32"`
	SessionID   string `gorm:"size:64;index"`
	Title       string `gorm:"not null"`
	Description string `gorm:"type:text"`
	Priority    string `gorm:"size:16;default:normal"`
	Status      string `gorm:"size:16;default:open;index"`
	Source      string `gorm:"size:32"`
	CreatedAt   time.Time
}
