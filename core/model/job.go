package model

import (
	"errors"
	"fmt"
	"time"
)

// JobType classifies the cleaning work.
type JobType string

const (
	JobStandard    JobType = "standard"
	JobDeep        JobType = "deep"
	JobMaintenance JobType = "maintenance"
	JobEmergency   JobType = "emergency"
)

// JobStatus is a state of the job lifecycle.
type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobAssigned   JobStatus = "assigned"
	JobInProgress JobStatus = "in_progress"
	JobCompleted  JobStatus = "completed"
	JobVerified   JobStatus = "verified"
	JobFailed     JobStatus = "failed"
)

// Priority is the urgency of a job.
type Priority string

const (
	PriorityLow      Priority = "low"
	PriorityMedium   Priority = "medium"
	PriorityHigh     Priority = "high"
	PriorityCritical Priority = "critical"
)

// JobSource records what created a job.
type JobSource string

const (
	SourceCheckout   JobSource = "checkout"
	SourcePreArrival JobSource = "pre_arrival"
	SourceManual     JobSource = "manual"
)

// Timeline event names written by the dispatcher.
const (
	TimelineCreated          = "job_created"
	TimelineAssigned         = "worker_assigned"
	TimelineAssignmentFailed = "assignment_failed"
	TimelineCancelled        = "cleaner_cancelled"
	TimelineBackupAssigned   = "backup_assigned"
	TimelineEmergency        = "emergency_protocol"
	TimelineOfferAccepted    = "emergency_offer_accepted"
	TimelineEscalated        = "escalated_to_site_owner"
	TimelineStarted          = "cleaning_started"
	TimelineCompleted        = "cleaning_completed"
	TimelineVerified         = "cleaning_verified"
	TimelineFailed           = "job_failed"
)

// ErrInvalidTransition is returned when a status change is not allowed.
var ErrInvalidTransition = errors.New("invalid job status transition")

var transitions = map[JobStatus][]JobStatus{
	JobPending:    {JobAssigned, JobFailed},
	JobAssigned:   {JobInProgress, JobPending, JobFailed},
	JobInProgress: {JobCompleted, JobFailed},
	JobCompleted:  {JobVerified, JobFailed},
}

// CanTransition reports whether from -> to is part of the lifecycle.
// Re-entering the same non-terminal state is allowed (backup promotion keeps a job assigned).
func CanTransition(from, to JobStatus) bool {
	if from == to {
		return !from.Terminal()
	}
	for _, s := range transitions[from] {
		if s == to {
			return true
		}
	}
	return false
}

// Terminal reports whether no further transition is possible.
func (s JobStatus) Terminal() bool { return s == JobVerified || s == JobFailed }

// TimelineEntry is one append-only record of a job history.
type TimelineEntry struct {
	Timestamp time.Time `json:"timestamp"`
	Event     string    `json:"event"`
	Details   string    `json:"details,omitempty"`
	Actor     string    `json:"actor"` // worker id, site owner id or "system"
}

// Pricing holds the money side of a job.
type Pricing struct {
	BaseRate     float64 `json:"base_rate"`
	ActualCost   float64 `json:"actual_cost,omitempty"`
	EmergencyFee float64 `json:"emergency_fee,omitempty"`
}

// Quality is the owner feedback once a job is done.
type Quality struct {
	HostRating   float64 `json:"host_rating,omitempty"` // 0 means not rated
	HostFeedback string  `json:"host_feedback,omitempty"`
}

// JobRequirements are copied from the site when the job is created.
type JobRequirements struct {
	EstimatedDurationMinutes int      `json:"estimated_duration_minutes"`
	SpecialInstructions      []string `json:"special_instructions,omitempty"`
}

// Job is a cleaning work order at a site.
type Job struct {
	ID                   string          `json:"id"`
	SiteID               string          `json:"site_id"`
	BookingID            string          `json:"booking_id,omitempty"`
	Source               JobSource       `json:"source,omitempty"`
	Type                 JobType         `json:"type"`
	Window               TimeWindow      `json:"window"`
	AssignedWorker       string          `json:"assigned_worker,omitempty"`
	Backups              []string        `json:"backups"`
	Status               JobStatus       `json:"status"`
	Priority             Priority        `json:"priority"`
	Requirements         JobRequirements `json:"requirements"`
	Pricing              Pricing         `json:"pricing"`
	Quality              Quality         `json:"quality"`
	Timeline             []TimelineEntry `json:"timeline"`
	RequiresIntervention bool            `json:"requires_intervention"`
	CreatedAt            time.Time       `json:"created_at"`
	UpdatedAt            time.Time       `json:"updated_at"`
}

// Transition moves the job to the given status.
func (j *Job) Transition(to JobStatus) error {
	if !CanTransition(j.Status, to) {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, j.Status, to)
	}
	j.Status = to
	return nil
}

// Clone returns a deep copy so stores never share slices with callers.
func (j Job) Clone() Job {
	cp := j
	cp.Backups = append([]string(nil), j.Backups...)
	cp.Timeline = append([]TimelineEntry(nil), j.Timeline...)
	cp.Requirements.SpecialInstructions = append([]string(nil), j.Requirements.SpecialInstructions...)
	return cp
}

// Duration returns the estimated duration, falling back to the window length.
func (j Job) Duration() time.Duration {
	if j.Requirements.EstimatedDurationMinutes > 0 {
		return time.Duration(j.Requirements.EstimatedDurationMinutes) * time.Minute
	}
	return j.Window.Duration()
}

// RemoveBackup returns the backup list without id, preserving order.
func RemoveBackup(backups []string, id string) []string {
	out := make([]string, 0, len(backups))
	for _, b := range backups {
		if b != id {
			out = append(out, b)
		}
	}
	return out
}
