package eventbus

import (
	"context"
	"errors"
	"slices"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/cleandispatch/core/events"
	"github.com/kilianp07/cleandispatch/infra/logger"
)

type recordMonitor struct {
	mu     sync.Mutex
	errs   []error
	panics []any
}

func (r *recordMonitor) CaptureException(err error, _ map[string]string) {
	r.mu.Lock()
	r.errs = append(r.errs, err)
	r.mu.Unlock()
}

func (r *recordMonitor) CapturePanic(v any, _ map[string]string) {
	r.mu.Lock()
	r.panics = append(r.panics, v)
	r.mu.Unlock()
}

func (r *recordMonitor) Flush(time.Duration) {}

type memRecorder struct {
	mu  sync.Mutex
	evs []events.Event
}

func (m *memRecorder) Append(_ context.Context, ev events.Event) error {
	m.mu.Lock()
	m.evs = append(m.evs, ev)
	m.mu.Unlock()
	return nil
}

func TestPublishDeliversToAllHandlersOfType(t *testing.T) {
	bus := New(logger.NopLogger{})
	var a, b, other atomic.Int32
	bus.Register(HandlerFunc(func(context.Context, events.Event) error { a.Add(1); return nil }), events.GuestCheckout)
	bus.Register(HandlerFunc(func(context.Context, events.Event) error { b.Add(1); return nil }), events.GuestCheckout, events.BookingConfirmed)
	bus.Register(HandlerFunc(func(context.Context, events.Event) error { other.Add(1); return nil }), events.JobCompleted)

	d := bus.Publish(context.Background(), events.Event{Type: events.GuestCheckout, SiteID: "s1"})
	assert.True(t, d.OK())
	assert.Equal(t, 2, d.Handlers)
	assert.NotEmpty(t, d.Event.ID)
	assert.False(t, d.Event.Timestamp.IsZero())
	assert.EqualValues(t, 1, a.Load())
	assert.EqualValues(t, 1, b.Load())
	assert.EqualValues(t, 0, other.Load())
}

func TestDuplicateRegistrationDuplicatesDelivery(t *testing.T) {
	bus := New(logger.NopLogger{})
	var n atomic.Int32
	h := HandlerFunc(func(context.Context, events.Event) error { n.Add(1); return nil })
	bus.Register(h, events.JobCompleted)
	bus.Register(h, events.JobCompleted)
	bus.Publish(context.Background(), events.Event{Type: events.JobCompleted})
	assert.EqualValues(t, 2, n.Load())
}

func TestHandlerFailureIsIsolated(t *testing.T) {
	ResetMetrics(nil)
	t.Cleanup(func() { ResetMetrics(nil) })
	mon := &recordMonitor{}
	bus := New(logger.NopLogger{}, WithMonitor(mon))
	boom := errors.New("boom")
	var ok atomic.Int32
	bus.Register(HandlerFunc(func(context.Context, events.Event) error { return boom }), events.WorkerUnavailable)
	bus.Register(HandlerFunc(func(context.Context, events.Event) error { panic("kaboom") }), events.WorkerUnavailable)
	bus.Register(HandlerFunc(func(context.Context, events.Event) error { ok.Add(1); return nil }), events.WorkerUnavailable)

	d := bus.Publish(context.Background(), events.Event{ID: "e1", Type: events.WorkerUnavailable})
	require.Len(t, d.Failures, 2)
	assert.EqualValues(t, 1, ok.Load())
	assert.True(t, errors.Is(d.Failures[0], boom))
	assert.Equal(t, "e1", d.Failures[0].EventID)
	assert.Contains(t, d.Failures[1].Error(), "kaboom")
	assert.Equal(t, 1, bus.Len(), "publish must not be rolled back")

	mon.mu.Lock()
	assert.Len(t, mon.errs, 2)
	assert.Len(t, mon.panics, 1)
	mon.mu.Unlock()
	assert.Equal(t, 2.0, testutil.ToFloat64(handlerFailures.WithLabelValues(string(events.WorkerUnavailable))))
}

func TestPublishWaitsForAllHandlers(t *testing.T) {
	bus := New(logger.NopLogger{})
	var done atomic.Int32
	for i := 0; i < 5; i++ {
		bus.Register(HandlerFunc(func(context.Context, events.Event) error {
			time.Sleep(20 * time.Millisecond)
			done.Add(1)
			return nil
		}), events.JobStarted)
	}
	start := time.Now()
	bus.Publish(context.Background(), events.Event{Type: events.JobStarted})
	assert.EqualValues(t, 5, done.Load())
	// handlers run concurrently: five sequential sleeps would take 100ms
	assert.Less(t, time.Since(start), 90*time.Millisecond)
}

func TestHandlerContextIsBounded(t *testing.T) {
	bus := New(logger.NopLogger{}, WithHandlerTimeout(10*time.Millisecond))
	bus.Register(HandlerFunc(func(ctx context.Context, _ events.Event) error {
		<-ctx.Done()
		return ctx.Err()
	}), events.JobStarted)
	d := bus.Publish(context.Background(), events.Event{Type: events.JobStarted})
	require.Len(t, d.Failures, 1)
	assert.ErrorIs(t, d.Failures[0], context.DeadlineExceeded)
}

func TestEventsFilterIsLazyAndRestartable(t *testing.T) {
	base := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)
	rec := &memRecorder{}
	bus := New(logger.NopLogger{}, WithRecorder(rec))
	bus.Publish(context.Background(), events.Event{ID: "1", Type: events.GuestCheckout, SiteID: "a", Timestamp: base})
	bus.Publish(context.Background(), events.Event{ID: "2", Type: events.GuestCheckout, SiteID: "b", Timestamp: base.Add(time.Hour)})
	bus.Publish(context.Background(), events.Event{ID: "3", Type: events.JobCompleted, SiteID: "a", Timestamp: base.Add(2 * time.Hour)})

	view := bus.Events(Filter{SiteID: "a"})
	ids := func() []string {
		var out []string
		for ev := range view {
			out = append(out, ev.ID)
		}
		return out
	}
	assert.Equal(t, []string{"1", "3"}, ids())
	assert.Equal(t, []string{"1", "3"}, ids(), "view must be restartable")

	// events published after the view was taken are not part of it
	bus.Publish(context.Background(), events.Event{ID: "4", Type: events.JobCompleted, SiteID: "a", Timestamp: base.Add(3 * time.Hour)})
	assert.Equal(t, []string{"1", "3"}, ids())

	since := slices.Collect(bus.Events(Filter{Since: base.Add(time.Hour)}))
	require.Len(t, since, 3)
	assert.Equal(t, "2", since[0].ID)

	rec.mu.Lock()
	assert.Len(t, rec.evs, 4)
	rec.mu.Unlock()
}

func TestNestedPublishFromHandler(t *testing.T) {
	bus := New(logger.NopLogger{})
	var followUp atomic.Int32
	bus.Register(HandlerFunc(func(ctx context.Context, ev events.Event) error {
		bus.Publish(ctx, events.Event{Type: events.WorkerAssigned, SiteID: ev.SiteID})
		return nil
	}), events.GuestCheckout)
	bus.Register(HandlerFunc(func(context.Context, events.Event) error { followUp.Add(1); return nil }), events.WorkerAssigned)

	bus.Publish(context.Background(), events.Event{Type: events.GuestCheckout, SiteID: "s"})
	assert.EqualValues(t, 1, followUp.Load())
	assert.Equal(t, 2, bus.Len())
}
