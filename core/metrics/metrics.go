package metrics

import (
	"time"

	"github.com/kilianp07/cleandispatch/core/model"
)

// Assignment paths.
const (
	PathFresh     = "fresh"
	PathBackup    = "backup"
	PathEmergency = "emergency_offer"
)

// AssignmentRecord describes one worker taking a job.
type AssignmentRecord struct {
	JobID         string
	SiteID        string
	WorkerID      string
	Path          string
	JobType       model.JobType
	Priority      model.Priority
	Score         float64
	Candidates    int
	EstimatedCost float64
	Backups       int
	Time          time.Time
}

// MetricsSink records dispatch outcomes for observability purposes.
type MetricsSink interface {
	RecordAssignment(rec AssignmentRecord) error
}

// EscalationEvent is emitted each time a job moves up the emergency ladder.
type EscalationEvent struct {
	JobID  string
	SiteID string
	Stage  string // emergency_protocol, offer_broadcast, site_owner
	Reason string
	Time   time.Time
}

// EscalationRecorder records escalations.
type EscalationRecorder interface {
	RecordEscalation(ev EscalationEvent) error
}

// BusEvent is the metrics view of an event published on the bus.
type BusEvent struct {
	ID     string
	Type   string
	SiteID string
	Time   time.Time
}

// EventRecorder records bus traffic.
type EventRecorder interface {
	RecordEvent(ev BusEvent) error
}

// NopSink implements every recorder with no-op methods.
type NopSink struct{}

func (NopSink) RecordAssignment(AssignmentRecord) error { return nil }
func (NopSink) RecordEscalation(EscalationEvent) error  { return nil }
func (NopSink) RecordEvent(BusEvent) error              { return nil }
