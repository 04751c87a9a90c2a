package dispatch

import (
	"github.com/prometheus/client_golang/prometheus"
)

var (
	assignmentsTotal     *prometheus.CounterVec
	assignmentFailures   *prometheus.CounterVec
	recoveriesTotal      *prometheus.CounterVec
	escalationsTotal     *prometheus.CounterVec
	notificationFailures *prometheus.CounterVec
	candidatesHistogram  prometheus.Histogram
)

// newCollectors creates new metric collectors.
func newCollectors() (*prometheus.CounterVec, *prometheus.CounterVec, *prometheus.CounterVec, *prometheus.CounterVec, *prometheus.CounterVec, prometheus.Histogram) {
	asn := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleandispatch_assignments_total",
			Help: "Number of workers assigned to jobs",
		},
		[]string{"path"},
	)
	fail := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleandispatch_assignment_failures_total",
			Help: "Number of assignment attempts that did not produce a worker",
		},
		[]string{"reason"},
	)
	rec := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleandispatch_recoveries_total",
			Help: "Outcome of cancellation recoveries",
		},
		[]string{"outcome"},
	)
	esc := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleandispatch_escalations_total",
			Help: "Number of emergency escalations by stage",
		},
		[]string{"stage"},
	)
	notif := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleandispatch_notification_failures_total",
			Help: "Number of notifications that could not be delivered",
		},
		[]string{"kind"},
	)
	cand := prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "cleandispatch_candidates",
			Help:    "Number of ranked candidates per assignment attempt",
			Buckets: []float64{0, 1, 2, 4, 8, 16, 32, 64},
		},
	)
	return asn, fail, rec, esc, notif, cand
}

func init() {
	assignmentsTotal, assignmentFailures, recoveriesTotal, escalationsTotal, notificationFailures, candidatesHistogram = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers dispatch metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(assignmentsTotal, assignmentFailures, recoveriesTotal, escalationsTotal, notificationFailures, candidatesHistogram)
}

// ResetMetrics reinitializes metrics collectors for testing purposes and
// registers them on the provided registry if not nil.
func ResetMetrics(reg prometheus.Registerer) {
	assignmentsTotal, assignmentFailures, recoveriesTotal, escalationsTotal, notificationFailures, candidatesHistogram = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
