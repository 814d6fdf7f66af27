package alert

import (
	"fmt"
	"strings"

	"github.com/orvale/helpdesk/internal/notify"
)

// Format turns a published recovery event into an alert. Only events a
// supervisor should act on produce one: escalations, staff timing out
// mid-chat, and sessions recovery had to give up on.
func Format(room, event string, data any) (Alert, bool) {
	m, ok := data.(map[string]any)
	if !ok {
		return Alert{}, false
	}

	switch {
	case room == notify.ManagementRoom && event == notify.EventSessionEscalated:
		return formatEscalation(m), true

	case room == notify.StaffAudienceRoom && event == notify.EventStaffDisconnected:
		if str(m, "reason") != "timeout" {
			return Alert{}, false
		}
		sessions := str(m, "affected_sessions")
		a := Alert{
			Title:    fmt.Sprintf("Staff %s stopped responding", str(m, "staff_id")),
			Body:     fmt.Sprintf("Sessions in recovery: %s", sessions),
			Severity: "info",
			Fields: []Field{
				{Name: "Grace period", Value: str(m, "grace_period_seconds") + "s", Short: true},
			},
		}
		a.Color = SeverityColor(a.Severity)
		return a, true

	case room == notify.StaffAudienceRoom && event == notify.EventSessionEnded:
		reason := str(m, "reason")
		if reason != "recovery_expired" && reason != "requeue_failed" {
			return Alert{}, false
		}
		a := Alert{
			Title:    fmt.Sprintf("Chat %s ended: %s", str(m, "session_id"), reason),
			Body:     "The guest was disconnected without being served.",
			Severity: "error",
		}
		a.Color = SeverityColor(a.Severity)
		return a, true
	}
	return Alert{}, false
}

func formatEscalation(m map[string]any) Alert {
	guest := str(m, "guest_name")
	if guest == "" {
		guest = "A guest"
	}
	a := Alert{
		Title:    fmt.Sprintf("Chat %s escalated to %s", str(m, "session_id"), str(m, "priority")),
		Body:     fmt.Sprintf("%s lost their staff member %s times.", guest, str(m, "reconnect_attempts")),
		Severity: "warning",
		Fields: []Field{
			{Name: "Last staff", Value: str(m, "original_staff_id"), Short: true},
			{Name: "Priority", Value: str(m, "priority"), Short: true},
		},
	}
	if ticket := str(m, "ticket_id"); ticket != "" {
		a.Fields = append(a.Fields, Field{Name: "Ticket", Value: ticket, Short: true})
	}
	a.Color = SeverityColor(a.Severity)
	return a
}

func str(m map[string]any, key string) string {
	switch v := m[key].(type) {
	case nil:
		return ""
	case string:
		return v
	case []string:
		return strings.Join(v, ", ")
	default:
		return fmt.Sprint(v)
	}
}
