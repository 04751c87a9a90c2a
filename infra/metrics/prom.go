package metrics

import (
	"errors"

	"github.com/prometheus/client_golang/prometheus"

	coremetrics "github.com/kilianp07/cleandispatch/core/metrics"
)

// PromSink records dispatch outcomes in Prometheus metrics.
type PromSink struct {
	assignments *prometheus.CounterVec
	scores      *prometheus.HistogramVec
	cost        *prometheus.HistogramVec
	escalations *prometheus.CounterVec
	events      *prometheus.CounterVec
}

// NewPromSink registers the sink metrics on the default Prometheus registerer.
// The /metrics endpoint is served separately, see StartPromServer.
func NewPromSink() (*PromSink, error) {
	return NewPromSinkWithRegistry(prometheus.DefaultRegisterer)
}

// NewPromSinkWithRegistry registers metrics on the provided registerer.
// A nil registerer defaults to the global Prometheus registerer.
func NewPromSinkWithRegistry(reg prometheus.Registerer) (*PromSink, error) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	s := &PromSink{
		assignments: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cleandispatch_sink_assignments_total",
			Help: "Assignments recorded by the metrics sink",
		}, []string{"path", "job_type", "priority"}),
		scores: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cleandispatch_assignment_score",
			Help:    "Match score of the assigned worker",
			Buckets: prometheus.LinearBuckets(0.5, 0.05, 10),
		}, []string{"job_type"}),
		cost: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "cleandispatch_assignment_cost_dollars",
			Help:    "Estimated cost of assigned jobs",
			Buckets: []float64{25, 50, 75, 100, 150, 200, 300},
		}, []string{"job_type"}),
		escalations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cleandispatch_sink_escalations_total",
			Help: "Escalations recorded by the metrics sink",
		}, []string{"stage"}),
		events: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "cleandispatch_bus_events_total",
			Help: "Events seen on the dispatch bus",
		}, []string{"type"}),
	}
	var err error
	if s.assignments, err = register(reg, s.assignments); err != nil {
		return nil, err
	}
	if s.scores, err = register(reg, s.scores); err != nil {
		return nil, err
	}
	if s.cost, err = register(reg, s.cost); err != nil {
		return nil, err
	}
	if s.escalations, err = register(reg, s.escalations); err != nil {
		return nil, err
	}
	if s.events, err = register(reg, s.events); err != nil {
		return nil, err
	}
	return s, nil
}

// register returns the collector already registered under the same
// descriptor, if any.
func register[C prometheus.Collector](reg prometheus.Registerer, c C) (C, error) {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing, nil
			}
		}
		return c, err
	}
	return c, nil
}

// RecordAssignment counts the assignment and observes its score and cost.
func (s *PromSink) RecordAssignment(rec coremetrics.AssignmentRecord) error {
	s.assignments.WithLabelValues(rec.Path, string(rec.JobType), string(rec.Priority)).Inc()
	if rec.Score > 0 {
		s.scores.WithLabelValues(string(rec.JobType)).Observe(rec.Score)
	}
	if rec.EstimatedCost > 0 {
		s.cost.WithLabelValues(string(rec.JobType)).Observe(rec.EstimatedCost)
	}
	return nil
}

// RecordEscalation counts escalations per stage.
func (s *PromSink) RecordEscalation(ev coremetrics.EscalationEvent) error {
	s.escalations.WithLabelValues(ev.Stage).Inc()
	return nil
}

// RecordEvent counts bus events per type.
func (s *PromSink) RecordEvent(ev coremetrics.BusEvent) error {
	s.events.WithLabelValues(ev.Type).Inc()
	return nil
}
