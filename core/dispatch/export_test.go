package dispatch

import "github.com/prometheus/client_golang/prometheus"

// Collectors exposes the package metrics to the external tests.
func Collectors() (assignments, failures, recoveries, escalations, notifications *prometheus.CounterVec) {
	return assignmentsTotal, assignmentFailures, recoveriesTotal, escalationsTotal, notificationFailures
}
