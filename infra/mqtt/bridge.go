package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/cleandispatch/core/events"
	"github.com/kilianp07/cleandispatch/infra/logger"
	"github.com/kilianp07/cleandispatch/internal/eventbus"
)

// Subscriber is the part of Client the bridge needs.
type Subscriber interface {
	Subscribe(kind, topic string, handler MessageHandler) error
	Topic(parts ...string) string
}

// Bridge feeds the bus with events received over MQTT:
//
//	<prefix>/events/<event type>      event envelope or bare payload
//	<prefix>/offers/<job id>/accept   {"workerId": "..."}
type Bridge struct {
	sub     Subscriber
	bus     eventbus.Publisher
	log     logger.Logger
	timeout time.Duration
	now     func() time.Time
}

// NewBridge creates a bridge. Each inbound message is published with a
// context bounded by timeout.
func NewBridge(sub Subscriber, bus eventbus.Publisher, log logger.Logger, timeout time.Duration) *Bridge {
	if log == nil {
		log = logger.NopLogger{}
	}
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Bridge{sub: sub, bus: bus, log: log, timeout: timeout, now: time.Now}
}

// Start subscribes to the inbound topics.
func (b *Bridge) Start() error {
	if err := b.sub.Subscribe("events", b.sub.Topic("events", "+"), b.onEvent); err != nil {
		return err
	}
	return b.sub.Subscribe("offers", b.sub.Topic("offers", "+", "accept"), b.onAccept)
}

// envelope accepts both a full event and a bare payload.
type envelope struct {
	ID            string          `json:"id"`
	Type          events.Type     `json:"type"`
	SiteID        string          `json:"site_id"`
	Timestamp     time.Time       `json:"timestamp"`
	Payload       json.RawMessage `json:"payload"`
	CorrelationID string          `json:"correlation_id"`
}

func (b *Bridge) onEvent(topic string, payload []byte) {
	ev, err := b.decodeEvent(topic, payload)
	if err != nil {
		b.log.Warnw("dropping inbound event", map[string]any{"topic": topic, "error": err.Error()})
		return
	}
	b.publish(ev)
}

func (b *Bridge) decodeEvent(topic string, payload []byte) (events.Event, error) {
	t := events.Type(topic[strings.LastIndex(topic, "/")+1:])
	var env envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return events.Event{}, fmt.Errorf("decode: %w", err)
	}
	if len(env.Payload) == 0 {
		// bare payload: the topic carries the type
		env = envelope{Type: t, Payload: json.RawMessage(payload)}
		var site struct {
			SiteID string `json:"siteId"`
		}
		_ = json.Unmarshal(payload, &site)
		env.SiteID = site.SiteID
	}
	if env.Type == "" {
		env.Type = t
	}
	if env.Type != t {
		return events.Event{}, fmt.Errorf("type %s does not match topic", env.Type)
	}
	if !env.Type.Valid() {
		return events.Event{}, fmt.Errorf("unknown event type %s", env.Type)
	}
	if env.ID == "" {
		env.ID = uuid.NewString()
	}
	if env.Timestamp.IsZero() {
		env.Timestamp = b.now()
	}
	return events.Event{
		ID:            env.ID,
		Type:          env.Type,
		SiteID:        env.SiteID,
		Timestamp:     env.Timestamp,
		Payload:       env.Payload,
		CorrelationID: env.CorrelationID,
	}, nil
}

func (b *Bridge) onAccept(topic string, payload []byte) {
	parts := strings.Split(topic, "/")
	if len(parts) < 3 {
		return
	}
	jobID := parts[len(parts)-2]
	var body struct {
		WorkerID string `json:"workerId"`
	}
	if err := json.Unmarshal(payload, &body); err != nil || body.WorkerID == "" {
		b.log.Warnw("dropping offer acceptance", map[string]any{"topic": topic, "job_id": jobID})
		return
	}
	ev, err := events.New(events.OfferAccepted, "", events.OfferAcceptedPayload{JobID: jobID, WorkerID: body.WorkerID}, b.now())
	if err != nil {
		b.log.Errorf("build acceptance event: %v", err)
		return
	}
	b.publish(ev)
}

func (b *Bridge) publish(ev events.Event) {
	ctx, cancel := context.WithTimeout(context.Background(), b.timeout)
	defer cancel()
	d := b.bus.Publish(ctx, ev)
	if !d.OK() {
		b.log.Warnf("inbound event %s (%s): %d handler failures", ev.ID, ev.Type, len(d.Failures))
	}
}
