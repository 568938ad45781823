// Package approval builds the multi-tier approval queue: QC staff sign off
// first, then production leads (PPC) or QC leads (FP and depuration).
package approval

import (
	"strings"
	"time"

	"github.com/clamflow/clamflow-bff/model"
)

// Priority thresholds in minutes waited.
const (
	MediumAfterMinutes   = 30
	HighAfterMinutes     = 60
	CriticalAfterMinutes = 120
)

// Classify maps a wait time to a priority badge. Negative ages count as 0.
func Classify(ageMinutes int) model.Priority {
	switch {
	case ageMinutes >= CriticalAfterMinutes:
		return model.PriorityCritical
	case ageMinutes >= HighAfterMinutes:
		return model.PriorityHigh
	case ageMinutes >= MediumAfterMinutes:
		return model.PriorityMedium
	default:
		return model.PriorityLow
	}
}

// timeLayouts are the timestamp shapes the backend has been seen to emit.
var timeLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999",
}

// ParseTimestamp parses a backend timestamp. Timestamps without a zone are
// taken as UTC.
func ParseTimestamp(s string) (time.Time, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return time.Time{}, false
	}
	for _, layout := range timeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, true
		}
	}
	return time.Time{}, false
}

// AgeInMinutes returns the whole minutes elapsed since submittedAt, falling
// back to createdAt when submittedAt is empty. Unparseable times and clock
// skew yield 0.
func AgeInMinutes(now time.Time, submittedAt, createdAt string) int {
	ts := submittedAt
	if strings.TrimSpace(ts) == "" {
		ts = createdAt
	}
	t, ok := ParseTimestamp(ts)
	if !ok {
		return 0
	}
	age := int(now.Sub(t) / time.Minute)
	if age < 0 {
		return 0
	}
	return age
}
