package recovery

import "slices"

// Priorities lists chat priorities from lowest to highest.
var Priorities = []string{"normal", "high", "urgent", "vip"}

// EndOfQueue is the position given to sessions placed last.
const EndOfQueue = 999

// priorityBoostPositions approximates where each priority lands in the
// queue without consulting it.
var priorityBoostPositions = map[string]int{
	"vip":    1,
	"urgent": 2,
	"high":   5,
	"normal": 10,
}

// BoostPriority advances priority by steps along Priorities, clamped at
// the top. Unknown priorities are treated as normal.
func BoostPriority(priority string, steps int) string {
	idx := priorityIndex(priority)
	if steps > 0 {
		idx += steps
	}
	if idx >= len(Priorities) {
		idx = len(Priorities) - 1
	}
	return Priorities[idx]
}

// HigherPriority returns whichever of a and b ranks higher.
func HigherPriority(a, b string) string {
	if priorityIndex(b) > priorityIndex(a) {
		return Priorities[priorityIndex(b)]
	}
	return Priorities[priorityIndex(a)]
}

// PrioritiesAtOrAbove returns priority and every priority ranked above it.
func PrioritiesAtOrAbove(priority string) []string {
	return slices.Clone(Priorities[priorityIndex(priority):])
}

// QueuePosition places a requeued session according to policy. original is
// the position held before the disconnect, if any.
func QueuePosition(policy, priority string, original *int) int {
	switch policy {
	case PositionFront:
		return 1
	case PositionPriorityBoost:
		if pos, ok := priorityBoostPositions[priority]; ok {
			return pos
		}
		return priorityBoostPositions["normal"]
	case PositionOriginal:
		if original != nil && *original > 0 {
			return *original
		}
		return EndOfQueue
	default:
		return EndOfQueue
	}
}

func priorityIndex(priority string) int {
	idx := slices.Index(Priorities, priority)
	if idx < 0 {
		return 0
	}
	return idx
}
