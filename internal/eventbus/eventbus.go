// Package eventbus is the in-process publish/subscribe dispatcher that
// decouples booking and worker events from the dispatch logic.
//
// A Bus is constructed explicitly and lives for the whole process. Handlers
// are registered per event type; registration is append-only and not
// de-duplicated, registering the same handler twice delivers every event to it
// twice. Publish appends the event to the log and then runs every subscribed
// handler concurrently, returning once all of them settled.
package eventbus

import (
	"context"
	"fmt"
	"iter"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/cleandispatch/core/events"
	"github.com/kilianp07/cleandispatch/core/logger"
	"github.com/kilianp07/cleandispatch/core/monitoring"
	infralogger "github.com/kilianp07/cleandispatch/infra/logger"
)

// Handler processes one event.
type Handler interface {
	Handle(ctx context.Context, ev events.Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, ev events.Event) error

// Handle calls f(ctx, ev).
func (f HandlerFunc) Handle(ctx context.Context, ev events.Event) error { return f(ctx, ev) }

// Named handlers are reported under their name instead of their Go type.
type Named interface {
	Name() string
}

// Recorder persists published events, e.g. an eventlog.Store.
type Recorder interface {
	Append(ctx context.Context, ev events.Event) error
}

// Publisher is the producer side of the bus.
type Publisher interface {
	Publish(ctx context.Context, ev events.Event) Delivery
}

// HandlerFailure is the isolated failure of one subscriber.
type HandlerFailure struct {
	Handler   string
	EventID   string
	EventType events.Type
	Err       error
}

func (f HandlerFailure) Error() string {
	return fmt.Sprintf("handler %s failed on event %s (%s): %v", f.Handler, f.EventID, f.EventType, f.Err)
}

func (f HandlerFailure) Unwrap() error { return f.Err }

// Delivery summarises one Publish call.
type Delivery struct {
	Event    events.Event
	Handlers int
	Failures []HandlerFailure
}

// OK reports whether every handler succeeded.
func (d Delivery) OK() bool { return len(d.Failures) == 0 }

type registration struct {
	name    string
	handler Handler
}

// Bus is the default event bus implementation.
type Bus struct {
	mu       sync.RWMutex
	handlers map[events.Type][]registration
	log      []events.Event

	logger   logger.Logger
	monitor  monitoring.Monitor
	recorder Recorder
	timeout  time.Duration
	now      func() time.Time
}

// Option configures a Bus.
type Option func(*Bus)

// WithMonitor reports handler failures to m.
func WithMonitor(m monitoring.Monitor) Option { return func(b *Bus) { b.monitor = monitoring.OrNop(m) } }

// WithRecorder persists every published event through r.
func WithRecorder(r Recorder) Option { return func(b *Bus) { b.recorder = r } }

// WithHandlerTimeout bounds the context given to each handler.
func WithHandlerTimeout(d time.Duration) Option {
	return func(b *Bus) {
		if d > 0 {
			b.timeout = d
		}
	}
}

// WithClock overrides the time source used to stamp events.
func WithClock(now func() time.Time) Option { return func(b *Bus) { b.now = now } }

// New creates a Bus.
func New(log logger.Logger, opts ...Option) *Bus {
	b := &Bus{
		handlers: make(map[events.Type][]registration),
		logger:   log,
		monitor:  monitoring.NopMonitor{},
		timeout:  30 * time.Second,
		now:      time.Now,
	}
	if b.logger == nil {
		b.logger = infralogger.NopLogger{}
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// Register subscribes h to every listed event type.
func (b *Bus) Register(h Handler, types ...events.Type) {
	name := fmt.Sprintf("%T", h)
	if n, ok := h.(Named); ok {
		name = n.Name()
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	for _, t := range types {
		b.handlers[t] = append(b.handlers[t], registration{name: name, handler: h})
	}
}

// Publish logs the event and delivers it to every subscriber concurrently.
// It returns after all handlers settled; a failing handler never prevents the
// others from running and never undoes the publish.
func (b *Bus) Publish(ctx context.Context, ev events.Event) Delivery {
	if ev.ID == "" {
		ev.ID = uuid.NewString()
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = b.now()
	}

	b.mu.Lock()
	b.log = append(b.log, ev)
	subs := slices.Clone(b.handlers[ev.Type])
	b.mu.Unlock()
	eventsPublished.WithLabelValues(string(ev.Type)).Inc()

	if b.recorder != nil {
		if err := b.recorder.Append(ctx, ev); err != nil {
			b.logger.Errorf("event log append %s: %v", ev.ID, err)
		}
	}

	results := make([]error, len(subs))
	var wg sync.WaitGroup
	for i, reg := range subs {
		wg.Add(1)
		go func(i int, reg registration) {
			defer wg.Done()
			results[i] = b.run(ctx, reg, ev)
		}(i, reg)
	}
	wg.Wait()

	d := Delivery{Event: ev, Handlers: len(subs)}
	for i, err := range results {
		if err == nil {
			continue
		}
		f := HandlerFailure{Handler: subs[i].name, EventID: ev.ID, EventType: ev.Type, Err: err}
		d.Failures = append(d.Failures, f)
		handlerFailures.WithLabelValues(string(ev.Type)).Inc()
		b.logger.Warnw("event handler failed", map[string]any{
			"handler":    f.Handler,
			"event_id":   f.EventID,
			"event_type": string(f.EventType),
			"error":      err.Error(),
		})
		b.monitor.CaptureException(f, map[string]string{
			"module":     "eventbus",
			"handler":    f.Handler,
			"event_type": string(f.EventType),
		})
	}
	return d
}

func (b *Bus) run(ctx context.Context, reg registration, ev events.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			b.monitor.CapturePanic(r, map[string]string{"module": "eventbus", "handler": reg.name})
			err = fmt.Errorf("panic: %v", r)
		}
	}()
	hctx, cancel := context.WithTimeout(ctx, b.timeout)
	defer cancel()
	return reg.handler.Handle(hctx, ev)
}

// Filter selects events from the log. Zero fields match everything.
type Filter struct {
	SiteID string
	Since  time.Time
}

// Match reports whether ev passes the filter. Since is inclusive.
func (f Filter) Match(ev events.Event) bool {
	if f.SiteID != "" && ev.SiteID != f.SiteID {
		return false
	}
	if !f.Since.IsZero() && ev.Timestamp.Before(f.Since) {
		return false
	}
	return true
}

// Events returns a lazily filtered view of the log as it was at call time.
// The sequence is finite and can be ranged over any number of times.
func (b *Bus) Events(f Filter) iter.Seq[events.Event] {
	b.mu.RLock()
	snapshot := b.log[:len(b.log):len(b.log)]
	b.mu.RUnlock()
	return func(yield func(events.Event) bool) {
		for _, ev := range snapshot {
			if f.Match(ev) && !yield(ev) {
				return
			}
		}
	}
}

// Len returns the number of logged events.
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.log)
}
