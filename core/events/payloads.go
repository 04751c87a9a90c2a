package events

import "time"

// GuestCheckoutPayload is sent by the booking system when a guest leaves.
type GuestCheckoutPayload struct {
	BookingID    string    `json:"bookingId"`
	SiteID       string    `json:"siteId"`
	CheckoutTime time.Time `json:"checkoutTime"`
}

// BookingConfirmedPayload is sent when a stay is confirmed.
type BookingConfirmedPayload struct {
	BookingID string `json:"bookingId"`
	SiteID    string `json:"siteId"`
}

// WorkerUnavailablePayload reports a cancellation or a no-show.
type WorkerUnavailablePayload struct {
	WorkerID  string    `json:"workerId"`
	JobID     string    `json:"jobId"`
	Reason    string    `json:"reason"`
	Timestamp time.Time `json:"timestamp"`
}

// WorkerAssignedPayload announces the holder of a job.
type WorkerAssignedPayload struct {
	JobID     string   `json:"jobId"`
	WorkerID  string   `json:"workerId"`
	BackupIDs []string `json:"backupIds"`
}

// JobProgressPayload is used by JobStarted and JobVerified.
type JobProgressPayload struct {
	JobID    string `json:"jobId"`
	WorkerID string `json:"workerId,omitempty"`
}

// CompletionDetails carries what the worker app reports at the end of a job.
type CompletionDetails struct {
	ActualCost   float64 `json:"actualCost,omitempty"`
	HostRating   float64 `json:"hostRating,omitempty"`
	HostFeedback string  `json:"hostFeedback,omitempty"`
	Notes        string  `json:"notes,omitempty"`
}

// JobCompletedPayload is sent by the worker app once the cleaning is done.
type JobCompletedPayload struct {
	JobID   string            `json:"jobId"`
	Details CompletionDetails `json:"details"`
}

// JobEscalatedPayload tells listeners that a human has to take over.
type JobEscalatedPayload struct {
	JobID  string `json:"jobId"`
	Reason string `json:"reason"`
}

// OfferAcceptedPayload is a worker's answer to an emergency broadcast.
type OfferAcceptedPayload struct {
	JobID    string `json:"jobId"`
	WorkerID string `json:"workerId"`
}
