package dispatch

import (
	"time"

	"github.com/kilianp07/cleandispatch/core/model"
)

// ClassifyUrgency derives a job priority from the turnover gap between a
// checkout and the next check-in. Boundaries fall into the lower tier: a gap
// of exactly four hours is high, not critical.
func ClassifyUrgency(checkout, nextCheckIn time.Time) model.Priority {
	gap := nextCheckIn.Sub(checkout)
	switch {
	case gap < 4*time.Hour:
		return model.PriorityCritical
	case gap < 8*time.Hour:
		return model.PriorityHigh
	case gap < 24*time.Hour:
		return model.PriorityMedium
	default:
		return model.PriorityLow
	}
}

// EmergencyBonus returns the incentive offered to a replacement worker given
// the notice before the job starts.
func EmergencyBonus(notice time.Duration) float64 {
	switch {
	case notice < 2*time.Hour:
		return 50
	case notice < 4*time.Hour:
		return 25
	default:
		return 0
	}
}
