package mqtt

import (
	"context"
	"encoding/json"

	"github.com/google/uuid"

	"github.com/kilianp07/cleandispatch/core/dispatch"
)

// Publisher is the part of Client the notifier needs.
type Publisher interface {
	Publish(ctx context.Context, kind, topic string, payload []byte) error
	Topic(parts ...string) string
}

// Notifier delivers dispatch notifications to the worker and owner apps.
//
//	<prefix>/workers/<worker id>/notifications
//	<prefix>/sites/<site id>/notifications
//	<prefix>/sites/<site id>/escalations
type Notifier struct {
	pub Publisher
}

func NewNotifier(pub Publisher) *Notifier { return &Notifier{pub: pub} }

func (n *Notifier) NotifyWorker(ctx context.Context, workerID string, msg dispatch.Notification) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	return n.send(ctx, n.pub.Topic("workers", workerID, "notifications"), msg)
}

func (n *Notifier) NotifySiteOwner(ctx context.Context, siteID string, msg dispatch.Notification) error {
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	return n.send(ctx, n.pub.Topic("sites", siteID, "notifications"), msg)
}

func (n *Notifier) EscalateToSiteOwner(ctx context.Context, siteID string, e dispatch.Escalation) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	return n.send(ctx, n.pub.Topic("sites", siteID, "escalations"), e)
}

func (n *Notifier) send(ctx context.Context, topic string, v any) error {
	b, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return n.pub.Publish(ctx, "notify", topic, b)
}
