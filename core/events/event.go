package events

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Type names an event kind.
type Type string

const (
	GuestCheckout     Type = "guest.checkout"
	BookingConfirmed  Type = "booking.confirmed"
	WorkerUnavailable Type = "cleaner.unavailable"
	WorkerAssigned    Type = "cleaner.assigned"
	JobStarted        Type = "cleaning.started"
	JobCompleted      Type = "cleaning.completed"
	JobVerified       Type = "cleaning.verified"
	JobEscalated      Type = "cleaning.escalated"
	OfferAccepted     Type = "emergency.offer_accepted"
)

// Known lists every event type understood by this module.
var Known = []Type{
	GuestCheckout, BookingConfirmed, WorkerUnavailable, WorkerAssigned,
	JobStarted, JobCompleted, JobVerified, JobEscalated, OfferAccepted,
}

// Valid reports whether t is one of the known types.
func (t Type) Valid() bool {
	for _, k := range Known {
		if k == t {
			return true
		}
	}
	return false
}

// Event is the envelope published on the bus. It must not be modified once published.
type Event struct {
	ID            string          `json:"id"`
	Type          Type            `json:"type"`
	SiteID        string          `json:"site_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
	CorrelationID string          `json:"correlation_id,omitempty"`
}

// New builds an event with a fresh id and the payload encoded as JSON.
func New(t Type, siteID string, payload any, now time.Time) (Event, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return Event{}, fmt.Errorf("encode %s payload: %w", t, err)
	}
	return Event{
		ID:        uuid.NewString(),
		Type:      t,
		SiteID:    siteID,
		Timestamp: now,
		Payload:   raw,
	}, nil
}

// WithCorrelation returns a copy of e linked to a parent event.
func (e Event) WithCorrelation(id string) Event {
	e.CorrelationID = id
	return e
}

// Decode unmarshals the payload of e into out.
func (e Event) Decode(out any) error {
	if len(e.Payload) == 0 {
		return fmt.Errorf("event %s (%s): empty payload", e.ID, e.Type)
	}
	if err := json.Unmarshal(e.Payload, out); err != nil {
		return fmt.Errorf("event %s (%s): decode payload: %w", e.ID, e.Type, err)
	}
	return nil
}
