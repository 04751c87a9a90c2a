package model

import (
	"fmt"
	"time"
)

// TimeWindow is a half-open interval [Start, End).
type TimeWindow struct {
	Start time.Time `json:"start" yaml:"start"`
	End   time.Time `json:"end" yaml:"end"`
}

// Validate ensures the window is not empty.
func (w TimeWindow) Validate() error {
	if !w.End.After(w.Start) {
		return fmt.Errorf("window end %s must be after start %s", w.End.Format(time.RFC3339), w.Start.Format(time.RFC3339))
	}
	return nil
}

// Duration returns the length of the window.
func (w TimeWindow) Duration() time.Duration { return w.End.Sub(w.Start) }

// Overlaps reports whether the two windows share any instant.
// Back-to-back windows do not overlap.
func (w TimeWindow) Overlaps(o TimeWindow) bool {
	return w.Start.Before(o.End) && o.Start.Before(w.End)
}

// Contains reports whether o lies entirely inside w.
func (w TimeWindow) Contains(o TimeWindow) bool {
	return !o.Start.Before(w.Start) && !o.End.After(w.End)
}

// Reservation is an exclusive claim on a worker's calendar for a job.
type Reservation struct {
	WorkerID string     `json:"worker_id"`
	JobID    string     `json:"job_id"`
	Window   TimeWindow `json:"window"`
}

// AvailabilitySlot is a stretch of a worker's day.
type AvailabilitySlot struct {
	Window    TimeWindow `json:"window" yaml:"window"`
	Available bool       `json:"available" yaml:"available"`
	JobID     string     `json:"job_id,omitempty" yaml:"job_id,omitempty"`
}

// ExceptionType qualifies an availability exception.
type ExceptionType string

const (
	ExceptionUnavailable   ExceptionType = "unavailable"
	ExceptionEmergencyOnly ExceptionType = "emergency_only"
)

// AvailabilityException overrides slots for a period (sick day, holiday).
type AvailabilityException struct {
	Window TimeWindow    `json:"window" yaml:"window"`
	Reason string        `json:"reason" yaml:"reason"`
	Type   ExceptionType `json:"type" yaml:"type"`
}

// Availability is a worker's calendar for one day.
type Availability struct {
	WorkerID   string                  `json:"worker_id" yaml:"worker_id"`
	Date       string                  `json:"date" yaml:"date"` // YYYY-MM-DD
	Slots      []AvailabilitySlot      `json:"slots" yaml:"slots"`
	Exceptions []AvailabilityException `json:"exceptions,omitempty" yaml:"exceptions,omitempty"`
}

// DateKey formats t the way Availability.Date is keyed.
func DateKey(t time.Time) string { return t.UTC().Format("2006-01-02") }

// Covers reports whether the worker declared itself free for the whole window.
// Emergency-only exceptions only block non-emergency work.
func (a Availability) Covers(w TimeWindow, emergency bool) bool {
	for _, ex := range a.Exceptions {
		if !ex.Window.Overlaps(w) {
			continue
		}
		if ex.Type == ExceptionUnavailable || !emergency {
			return false
		}
	}
	for _, s := range a.Slots {
		if s.Available && s.JobID == "" && s.Window.Contains(w) {
			return true
		}
	}
	return false
}
