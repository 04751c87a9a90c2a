// Package metrics defines the sinks recording dispatch outcomes. Sinks like
// PromSink and InfluxSink record assignments, escalations and bus traffic and
// can be combined with NewMultiSink. The factory helpers return a MultiSink
// automatically when multiple sinks are configured.
package metrics
