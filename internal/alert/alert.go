// Package alert forwards recovery events that need a human's attention to
// team chat platforms (Slack, Discord).
package alert

import "context"

// Adapter delivers alerts to one chat platform.
type Adapter interface {
	// Name identifies the platform in logs, e.g. "slack".
	Name() string

	// Send posts a single alert to the platform's configured channel.
	Send(ctx context.Context, a Alert) error
}

// Alert is a recovery event formatted for display in chat.
type Alert struct {
	Title    string  // headline, e.g. "Chat c-42 escalated to urgent"
	Body     string  // detail text
	Severity string  // "info", "warning", "error"
	Color    string  // sidebar color hint, e.g. "#ff9800"
	Fields   []Field // key-value metadata pairs
}

// Field is a key-value pair displayed with an alert.
type Field struct {
	Name  string
	Value string
	Short bool // hint: render side-by-side with another field
}

// Color constants for alert severity.
const (
	ColorInfo    = "#2196f3"
	ColorWarning = "#ff9800"
	ColorError   = "#e53935"
)

// SeverityColor maps a severity string to a sidebar color.
func SeverityColor(severity string) string {
	switch severity {
	case "warning":
		return ColorWarning
	case "error":
		return ColorError
	default:
		return ColorInfo
	}
}
