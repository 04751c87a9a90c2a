package metrics

import (
	"context"

	"github.com/kilianp07/cleandispatch/core/events"
	coremetrics "github.com/kilianp07/cleandispatch/core/metrics"
	"github.com/kilianp07/cleandispatch/internal/eventbus"
)

// EventCollector is a bus handler feeding every event to a sink.
type EventCollector struct {
	rec coremetrics.EventRecorder
}

// NewEventCollector returns nil when sink does not record bus events.
func NewEventCollector(sink coremetrics.MetricsSink) *EventCollector {
	rec, ok := sink.(coremetrics.EventRecorder)
	if !ok {
		return nil
	}
	return &EventCollector{rec: rec}
}

func (c *EventCollector) Name() string { return "metrics.collector" }

func (c *EventCollector) Handle(_ context.Context, ev events.Event) error {
	return c.rec.RecordEvent(coremetrics.BusEvent{
		ID:     ev.ID,
		Type:   string(ev.Type),
		SiteID: ev.SiteID,
		Time:   ev.Timestamp,
	})
}

// StartEventCollector subscribes a collector for sink to every known event
// type. It does nothing when the sink ignores bus events.
func StartEventCollector(bus *eventbus.Bus, sink coremetrics.MetricsSink) {
	if bus == nil || sink == nil {
		return
	}
	if c := NewEventCollector(sink); c != nil {
		bus.Register(c, events.Known...)
	}
}
