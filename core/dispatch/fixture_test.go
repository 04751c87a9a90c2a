package dispatch_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/cleandispatch/core/dispatch"
	"github.com/kilianp07/cleandispatch/core/events"
	"github.com/kilianp07/cleandispatch/core/model"
	"github.com/kilianp07/cleandispatch/infra/logger"
	"github.com/kilianp07/cleandispatch/infra/memory"
	"github.com/kilianp07/cleandispatch/internal/eventbus"
)

var (
	siteLoc    = model.Coordinates{Lat: 40.7128, Lng: -74.0060}
	jobStart   = time.Date(2026, 6, 1, 11, 0, 0, 0, time.UTC)
	jobWindow  = model.TimeWindow{Start: jobStart, End: jobStart.Add(2 * time.Hour)}
	defaultNow = jobStart.Add(-3 * time.Hour)
)

type sentNotification struct {
	Target string
	N      dispatch.Notification
}

type sentEscalation struct {
	SiteID string
	E      dispatch.Escalation
}

// recordingNotifier keeps every notification in memory.
type recordingNotifier struct {
	mu          sync.Mutex
	workers     []sentNotification
	owners      []sentNotification
	escalations []sentEscalation
	fail        bool
}

var errChannelDown = errors.New("channel down")

func (r *recordingNotifier) NotifyWorker(_ context.Context, workerID string, n dispatch.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errChannelDown
	}
	r.workers = append(r.workers, sentNotification{workerID, n})
	return nil
}

func (r *recordingNotifier) NotifySiteOwner(_ context.Context, siteID string, n dispatch.Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errChannelDown
	}
	r.owners = append(r.owners, sentNotification{siteID, n})
	return nil
}

func (r *recordingNotifier) EscalateToSiteOwner(_ context.Context, siteID string, e dispatch.Escalation) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.fail {
		return errChannelDown
	}
	r.escalations = append(r.escalations, sentEscalation{siteID, e})
	return nil
}

func (r *recordingNotifier) toWorkers(kind dispatch.NotificationKind) []sentNotification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sentNotification
	for _, s := range r.workers {
		if s.N.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

func (r *recordingNotifier) toOwners(kind dispatch.NotificationKind) []sentNotification {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []sentNotification
	for _, s := range r.owners {
		if s.N.Kind == kind {
			out = append(out, s)
		}
	}
	return out
}

type fixture struct {
	t        *testing.T
	store    *memory.Store
	calendar *memory.Calendar
	claims   *memory.Claims
	bus      *eventbus.Bus
	notifier *recordingNotifier
	orch     *dispatch.Orchestrator
	reg      *prometheus.Registry

	mu  sync.Mutex
	now time.Time
}

func newFixture(t *testing.T, opts ...func(*dispatch.Deps)) *fixture {
	t.Helper()
	f := &fixture{
		t:        t,
		store:    memory.NewStore(),
		calendar: memory.NewCalendar(),
		notifier: &recordingNotifier{},
		reg:      prometheus.NewRegistry(),
		now:      defaultNow,
	}
	f.claims = memory.NewClaims(f.clock)
	dispatch.ResetMetrics(f.reg)
	f.bus = eventbus.New(logger.NopLogger{}, eventbus.WithClock(f.clock))

	deps := dispatch.Deps{
		Workers:      f.store.Workers(),
		Sites:        f.store.Sites(),
		Jobs:         f.store.Jobs(),
		Availability: f.store.Availability(),
		Bookings:     f.store.Bookings(),
		Calendar:     f.calendar,
		Claims:       f.claims,
		Notifier:     f.notifier,
		Bus:          f.bus,
	}
	for _, opt := range opts {
		opt(&deps)
	}
	orch, err := dispatch.NewOrchestrator(deps, dispatch.Config{}, logger.NopLogger{}, dispatch.WithClock(f.clock))
	require.NoError(t, err)
	orch.Register(f.bus)
	f.orch = orch
	t.Cleanup(func() { _ = orch.Close() })

	require.NoError(t, f.store.PutSite(model.Site{
		ID:       "site-1",
		OwnerID:  "owner-1",
		Name:     "Harbor loft",
		Location: siteLoc,
		Requirements: model.CleaningRequirements{
			StandardDurationMinutes: 120,
			DeepDurationMinutes:     240,
			SpecialInstructions:     []string{"Water the plants"},
		},
	}))
	return f
}

func (f *fixture) clock() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fixture) setNow(t time.Time) {
	f.mu.Lock()
	f.now = t
	f.mu.Unlock()
}

// addWorker stores a reliable worker milesNorth of the site.
func (f *fixture) addWorker(id string, quality, milesNorth, emergencyRate float64) model.Worker {
	f.t.Helper()
	w := model.Worker{
		ID:           id,
		Name:         "Cleaner " + id,
		QualityScore: quality,
		ServiceArea: model.ServiceArea{
			Center:      model.Coordinates{Lat: siteLoc.Lat + milesNorth/69.09, Lng: siteLoc.Lng},
			RadiusMiles: 20,
		},
		Metrics: model.WorkerMetrics{
			CompletedJobs:       40,
			OnTimePercentage:    95,
			CancellationRate:    2,
			ResponseTimeMinutes: 15,
		},
		Rates:  model.Rates{Standard: 25, Deep: 30, Emergency: emergencyRate},
		Status: model.WorkerAvailable,
	}
	require.NoError(f.t, f.store.PutWorker(w))
	return w
}

// addPool stores five nearby workers ranked w1 > w2 > ... > w5.
func (f *fixture) addPool() {
	for i, q := range []float64{9.5, 9, 8.5, 8, 7.5} {
		f.addWorker("w"+string(rune('1'+i)), q, 1, 0)
	}
}

func (f *fixture) schedule() string {
	f.t.Helper()
	id, err := f.orch.ScheduleJob(context.Background(), model.Job{SiteID: "site-1", Window: jobWindow})
	require.NoError(f.t, err)
	return id
}

func (f *fixture) job(id string) model.Job {
	f.t.Helper()
	j, err := f.orch.Job(context.Background(), id)
	require.NoError(f.t, err)
	return j
}

func (f *fixture) publish(t events.Type, payload any) eventbus.Delivery {
	f.t.Helper()
	ev, err := events.New(t, "site-1", payload, f.clock())
	require.NoError(f.t, err)
	return f.bus.Publish(context.Background(), ev)
}

func (f *fixture) published(t events.Type) []events.Event {
	var out []events.Event
	for ev := range f.bus.Events(eventbus.Filter{}) {
		if ev.Type == t {
			out = append(out, ev)
		}
	}
	return out
}

func timelineEvents(j model.Job) []string {
	out := make([]string, len(j.Timeline))
	for i, e := range j.Timeline {
		out[i] = e.Event
	}
	return out
}
