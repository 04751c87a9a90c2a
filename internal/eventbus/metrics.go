package eventbus

import "github.com/prometheus/client_golang/prometheus"

var (
	eventsPublished *prometheus.CounterVec
	handlerFailures *prometheus.CounterVec
)

func newCollectors() (*prometheus.CounterVec, *prometheus.CounterVec) {
	pub := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleandispatch_events_published_total",
			Help: "Number of events published on the bus",
		},
		[]string{"type"},
	)
	fail := prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "cleandispatch_handler_failures_total",
			Help: "Number of event handler failures, panics included",
		},
		[]string{"type"},
	)
	return pub, fail
}

func init() {
	eventsPublished, handlerFailures = newCollectors()
	MustRegisterMetrics(nil)
}

// MustRegisterMetrics registers bus metrics on the provided registry.
// If reg is nil, prometheus.DefaultRegisterer is used.
func MustRegisterMetrics(reg prometheus.Registerer) {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	reg.MustRegister(eventsPublished, handlerFailures)
}

// ResetMetrics reinitializes the collectors for tests and registers them on
// reg when it is not nil.
func ResetMetrics(reg prometheus.Registerer) {
	eventsPublished, handlerFailures = newCollectors()
	if reg != nil {
		MustRegisterMetrics(reg)
	}
}
