package mqtt

import (
	"context"
	"encoding/json"

	"github.com/kilianp07/cleandispatch/core/events"
)

// Forwarder republishes dispatcher outcomes on <prefix>/dispatch/<event type>
// for downstream consumers. Register it on the bus for the types to mirror.
type Forwarder struct {
	pub Publisher
}

func NewForwarder(pub Publisher) *Forwarder { return &Forwarder{pub: pub} }

func (f *Forwarder) Name() string { return "mqtt.forward" }

func (f *Forwarder) Handle(ctx context.Context, ev events.Event) error {
	b, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	return f.pub.Publish(ctx, "forward", f.pub.Topic("dispatch", string(ev.Type)), b)
}
