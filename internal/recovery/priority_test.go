package recovery

import (
	"slices"
	"testing"
)

func TestBoostPriority(t *testing.T) {
	tests := []struct {
		priority string
		steps    int
		want     string
	}{
		{"normal", 1, "high"},
		{"high", 1, "urgent"},
		{"urgent", 1, "vip"},
		{"vip", 1, "vip"},
		{"normal", 2, "urgent"},
		{"normal", 10, "vip"},
		{"high", 0, "high"},
		{"high", -3, "high"},
		{"", 1, "high"},
		{"bogus", 1, "high"},
	}
	for _, tt := range tests {
		if got := BoostPriority(tt.priority, tt.steps); got != tt.want {
			t.Errorf("BoostPriority(%q, %d) = %q, want %q", tt.priority, tt.steps, got, tt.want)
		}
	}
}

func TestHigherPriority(t *testing.T) {
	if got := HigherPriority("high", "urgent"); got != "urgent" {
		t.Errorf("HigherPriority(high, urgent) = %q", got)
	}
	if got := HigherPriority("vip", "urgent"); got != "vip" {
		t.Errorf("HigherPriority(vip, urgent) = %q, escalation must not lower priority", got)
	}
	if got := HigherPriority("normal", "normal"); got != "normal" {
		t.Errorf("HigherPriority(normal, normal) = %q", got)
	}
}

func TestPrioritiesAtOrAbove(t *testing.T) {
	got := PrioritiesAtOrAbove("urgent")
	if !slices.Equal(got, []string{"urgent", "vip"}) {
		t.Errorf("PrioritiesAtOrAbove(urgent) = %v", got)
	}
	got[0] = "changed"
	if Priorities[2] != "urgent" {
		t.Error("PrioritiesAtOrAbove must return a copy")
	}
}

func TestQueuePosition(t *testing.T) {
	four := 4
	zero := 0
	tests := []struct {
		name     string
		policy   string
		priority string
		original *int
		want     int
	}{
		{"front", PositionFront, "normal", nil, 1},
		{"end", PositionEnd, "vip", nil, EndOfQueue},
		{"original recorded", PositionOriginal, "normal", &four, 4},
		{"original missing", PositionOriginal, "normal", nil, EndOfQueue},
		{"original zero", PositionOriginal, "normal", &zero, EndOfQueue},
		{"boost vip", PositionPriorityBoost, "vip", nil, 1},
		{"boost urgent", PositionPriorityBoost, "urgent", nil, 2},
		{"boost high", PositionPriorityBoost, "high", nil, 5},
		{"boost normal", PositionPriorityBoost, "normal", nil, 10},
		{"boost unknown", PositionPriorityBoost, "weird", nil, 10},
		{"unknown policy", "sideways", "normal", nil, EndOfQueue},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := QueuePosition(tt.policy, tt.priority, tt.original); got != tt.want {
				t.Errorf("QueuePosition(%s, %s) = %d, want %d", tt.policy, tt.priority, got, tt.want)
			}
		})
	}
}
