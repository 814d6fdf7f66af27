// Package config provides YAML-based configuration loading for the
// help-desk chat service.
package config

import (
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the top-level service configuration, loaded from helpdesk.yaml.
type Config struct {
	Database DatabaseConfig `yaml:"database"`
	Server   ServerConfig   `yaml:"server"`
	Log      LogConfig      `yaml:"log"`
	Recovery RecoveryConfig `yaml:"recovery"`
	Queue    QueueConfig    `yaml:"queue"`
	Alerts   AlertsConfig   `yaml:"alerts"`
	Redis    RedisConfig    `yaml:"redis"`
	Metrics  MetricsConfig  `yaml:"metrics"`
}

// DatabaseConfig selects and addresses the relational store.
type DatabaseConfig struct {
	Driver   string `yaml:"driver"` // sqlite (default) or mysql
	Path     string `yaml:"path"`   // sqlite file
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	Name     string `yaml:"name"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
}

// ServerConfig holds HTTP listener settings.
type ServerConfig struct {
	Port int `yaml:"port"`
}

// LogConfig routes the standard logger to a rotating file when File is set.
type LogConfig struct {
	File       string `yaml:"file"`
	MaxSizeMB  int    `yaml:"max_size_mb"`
	MaxBackups int    `yaml:"max_backups"`
	MaxAgeDays int    `yaml:"max_age_days"`
}

// RecoveryConfig controls the recurring scans and seeds the recovery
// settings row. Nil seed fields leave the stored value untouched.
type RecoveryConfig struct {
	HeartbeatCheckInterval time.Duration `yaml:"heartbeat_check_interval"`
	CleanupInterval        time.Duration `yaml:"cleanup_interval"`

	AutoRequeueEnabled             *bool   `yaml:"auto_requeue_enabled"`
	RequeuePosition                *string `yaml:"requeue_position"`
	PriorityBoostAmount            *int    `yaml:"priority_boost_amount"`
	StaffDisconnectTimeout         *int    `yaml:"staff_disconnect_timeout"`
	GracePeriodSeconds             *int    `yaml:"grace_period_seconds"`
	AutoReassignAfterSeconds       *int    `yaml:"auto_reassign_after_seconds"`
	NotifyGuestOnStaffDisconnect   *bool   `yaml:"notify_guest_on_staff_disconnect"`
	StaffDisconnectMessage         *string `yaml:"staff_disconnect_message"`
	ReassignmentMessage            *string `yaml:"reassignment_message"`
	EscalateOnRepeatedDisconnect   *bool   `yaml:"escalate_on_repeated_disconnect"`
	MaxDisconnectsBeforeEscalation *int    `yaml:"max_disconnects_before_escalation"`
	EscalationPriority             *string `yaml:"escalation_priority"`
	CreateTicketOnEscalation       *bool   `yaml:"create_ticket_on_escalation"`
	GuestInactivityTimeoutMinutes  *int    `yaml:"guest_inactivity_timeout_minutes"`
}

// QueueConfig tunes requeue placement.
type QueueConfig struct {
	// LivePositions replaces the static priority_boost position table with
	// a count of waiting sessions at or above the new priority.
	LivePositions bool `yaml:"live_positions"`
}

// AlertsConfig holds management alert destinations. Empty tokens disable
// the corresponding adapter.
type AlertsConfig struct {
	Slack   ChatAlertConfig `yaml:"slack"`
	Discord ChatAlertConfig `yaml:"discord"`
}

// ChatAlertConfig is a bot token plus the channel alerts are posted to.
type ChatAlertConfig struct {
	BotToken  string `yaml:"bot_token"`
	ChannelID string `yaml:"channel_id"`
}

// RedisConfig enables cross-process fan-out of room events when Addr is set.
type RedisConfig struct {
	Addr          string `yaml:"addr"`
	Password      string `yaml:"password"`
	DB            int    `yaml:"db"`
	ChannelPrefix string `yaml:"channel_prefix"`
}

// MetricsConfig names the Prometheus namespace.
type MetricsConfig struct {
	Namespace string `yaml:"namespace"`
}

var (
	validDrivers          = []string{"sqlite", "mysql"}
	validRequeuePositions = []string{"front", "priority_boost", "original", "end"}
	validPriorities       = []string{"normal", "high", "urgent", "vip"}
)

// Load reads a YAML config file from path and returns a validated Config.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("config: read %s: %w", path, err)
	}
	return Parse(data)
}

// Parse unmarshals YAML bytes into a validated Config.
func Parse(data []byte) (*Config, error) {
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("config: parse: %w", err)
	}
	cfg.applyDefaults()
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

// applyDefaults fills in derived and default values.
func (c *Config) applyDefaults() {
	if c.Database.Driver == "" {
		c.Database.Driver = "sqlite"
	}
	if c.Database.Driver == "sqlite" && c.Database.Path == "" {
		c.Database.Path = "helpdesk.db"
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Port == 0 {
			c.Database.Port = 3306
		}
		if c.Database.User == "" {
			c.Database.User = "root"
		}
	}
	if c.Server.Port == 0 {
		c.Server.Port = 8080
	}
	if c.Log.File != "" {
		if c.Log.MaxSizeMB == 0 {
			c.Log.MaxSizeMB = 100
		}
		if c.Log.MaxBackups == 0 {
			c.Log.MaxBackups = 5
		}
		if c.Log.MaxAgeDays == 0 {
			c.Log.MaxAgeDays = 28
		}
	}
	if c.Recovery.HeartbeatCheckInterval == 0 {
		c.Recovery.HeartbeatCheckInterval = 15 * time.Second
	}
	if c.Recovery.CleanupInterval == 0 {
		c.Recovery.CleanupInterval = 60 * time.Second
	}
	if c.Redis.Addr != "" && c.Redis.ChannelPrefix == "" {
		c.Redis.ChannelPrefix = "helpdesk:"
	}
	if c.Metrics.Namespace == "" {
		c.Metrics.Namespace = "helpdesk"
	}
}

// validate checks that all required fields are present and consistent.
func (c *Config) validate() error {
	var errs []string
	if !slices.Contains(validDrivers, c.Database.Driver) {
		errs = append(errs, fmt.Sprintf("database.driver %q is not one of %s", c.Database.Driver, strings.Join(validDrivers, ", ")))
	}
	if c.Database.Driver == "mysql" {
		if c.Database.Host == "" {
			errs = append(errs, "database.host is required for mysql")
		}
		if c.Database.Name == "" {
			errs = append(errs, "database.name is required for mysql")
		}
	}
	if c.Recovery.HeartbeatCheckInterval < 0 {
		errs = append(errs, "recovery.heartbeat_check_interval must be positive")
	}
	if c.Recovery.CleanupInterval < 0 {
		errs = append(errs, "recovery.cleanup_interval must be positive")
	}
	if p := c.Recovery.RequeuePosition; p != nil && !slices.Contains(validRequeuePositions, *p) {
		errs = append(errs, fmt.Sprintf("recovery.requeue_position %q is not one of %s", *p, strings.Join(validRequeuePositions, ", ")))
	}
	if p := c.Recovery.EscalationPriority; p != nil && !slices.Contains(validPriorities, *p) {
		errs = append(errs, fmt.Sprintf("recovery.escalation_priority %q is not one of %s", *p, strings.Join(validPriorities, ", ")))
	}
	if g := c.Recovery.GracePeriodSeconds; g != nil && *g <= 0 {
		errs = append(errs, "recovery.grace_period_seconds must be positive")
	}
	if c.Alerts.Slack.BotToken != "" && c.Alerts.Slack.ChannelID == "" {
		errs = append(errs, "alerts.slack.channel_id is required when a bot token is set")
	}
	if c.Alerts.Discord.BotToken != "" && c.Alerts.Discord.ChannelID == "" {
		errs = append(errs, "alerts.discord.channel_id is required when a bot token is set")
	}
	if len(errs) > 0 {
		return fmt.Errorf("config: validation failed: %s", strings.Join(errs, "; "))
	}
	return nil
}
