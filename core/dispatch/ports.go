package dispatch

import (
	"context"
	"time"

	"github.com/kilianp07/cleandispatch/core/model"
)

// WorkerRepository gives access to the cleaner pool.
type WorkerRepository interface {
	// FindAvailable returns workers whose status allows new work and whose
	// service area centre lies within radiusMiles of location.
	FindAvailable(ctx context.Context, window model.TimeWindow, location model.Coordinates, radiusMiles float64) ([]model.Worker, error)
	FindByID(ctx context.Context, id string) (model.Worker, error)
	// FindEmergencyAvailable returns workers accepting emergency jobs.
	FindEmergencyAvailable(ctx context.Context, window model.TimeWindow) ([]model.Worker, error)
}

// SiteRepository is read-only from the dispatcher's point of view.
type SiteRepository interface {
	FindByID(ctx context.Context, id string) (model.Site, error)
}

// JobRepository persists cleaning jobs.
type JobRepository interface {
	// Create stores a new job and returns its id. An empty job id is filled in.
	Create(ctx context.Context, job model.Job) (string, error)
	Update(ctx context.Context, job model.Job) error
	FindByID(ctx context.Context, id string) (model.Job, error)
	FindByWorkerAndSite(ctx context.Context, workerID, siteID string) ([]model.Job, error)
	// FindByBooking returns every job created for a booking, oldest first.
	FindByBooking(ctx context.Context, bookingID string) ([]model.Job, error)
	AppendTimelineEntry(ctx context.Context, jobID string, entry model.TimelineEntry) error
}

// AvailabilityRepository returns the declared availability of a worker.
// A missing day yields ErrNotFound.
type AvailabilityRepository interface {
	GetAvailability(ctx context.Context, workerID string, date time.Time) (model.Availability, error)
}

// BookingRepository is the dispatcher's view of the booking system.
type BookingRepository interface {
	FindByID(ctx context.Context, id string) (model.Booking, error)
	// NextBooking returns the first booking of the site checking in at or
	// after the given time, or ErrNotFound.
	NextBooking(ctx context.Context, siteID string, after time.Time) (model.Booking, error)
}

// Calendar holds reservations. Reserve must be an atomic conditional write:
// it fails with ErrReservationConflict when the worker already holds an
// overlapping reservation for another job. Reserving the same job twice is a no-op.
type Calendar interface {
	Reserve(ctx context.Context, r model.Reservation) error
	Release(ctx context.Context, workerID, jobID string) error
}

// ClaimStore arbitrates emergency offers. Claim is atomic: the first caller
// for a job wins and every later caller, the winner included, gets won=false
// and learns the winner.
type ClaimStore interface {
	Claim(ctx context.Context, jobID, workerID string, ttl time.Duration) (winner string, won bool, err error)
	Release(ctx context.Context, jobID string) error
}

// NotificationKind tells the receiving app how to render a notification.
type NotificationKind string

const (
	NotifyAssignment          NotificationKind = "assignment"
	NotifyEmergencyAssignment NotificationKind = "emergency_assignment"
	NotifyCleanerReplaced     NotificationKind = "cleaner_replaced"
	NotifyEmergencyOffer      NotificationKind = "emergency_offer"
	NotifyNoCleanerAvailable  NotificationKind = "no_cleaner_available"
)

// Notification is sent to a worker or a site owner.
type Notification struct {
	ID               string           `json:"id"`
	Kind             NotificationKind `json:"type"`
	JobID            string           `json:"jobId"`
	SiteID           string           `json:"siteId"`
	ScheduledStart   time.Time        `json:"scheduledTime"`
	EstimatedCost    float64          `json:"estimatedCost,omitempty"`
	EmergencyBonus   float64          `json:"emergencyBonus,omitempty"`
	EmergencyRate    float64          `json:"emergencyRate,omitempty"`
	OriginalWorkerID string           `json:"originalCleanerId,omitempty"`
	NewWorkerID      string           `json:"newCleanerId,omitempty"`
	NewWorkerName    string           `json:"newCleaner,omitempty"`
	Reason           string           `json:"reason,omitempty"`
	ExpiresAt        time.Time        `json:"expiresAt,omitempty"`
}

// Escalation hands a job over to the site owner.
type Escalation struct {
	ID               string           `json:"id"`
	Kind             NotificationKind `json:"type"`
	JobID            string           `json:"jobId"`
	SiteID           string           `json:"siteId"`
	ScheduledStart   time.Time        `json:"scheduledTime"`
	Reason           string           `json:"reason"`
	SuggestedActions []string         `json:"suggestedActions"`
}

// Notifier delivers notifications. Calls are fire-and-forget from the
// orchestrator: errors are logged and counted, never propagated.
type Notifier interface {
	NotifyWorker(ctx context.Context, workerID string, n Notification) error
	NotifySiteOwner(ctx context.Context, siteID string, n Notification) error
	EscalateToSiteOwner(ctx context.Context, siteID string, e Escalation) error
}
