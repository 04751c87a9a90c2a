package dispatch

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/cleandispatch/core/events"
	"github.com/kilianp07/cleandispatch/core/logger"
	"github.com/kilianp07/cleandispatch/core/metrics"
	"github.com/kilianp07/cleandispatch/core/model"
	"github.com/kilianp07/cleandispatch/core/monitoring"
	"github.com/kilianp07/cleandispatch/core/scoring"
	"github.com/kilianp07/cleandispatch/internal/eventbus"
)

// Deps are the collaborators of an Orchestrator. Every field is required.
type Deps struct {
	Workers      WorkerRepository
	Sites        SiteRepository
	Jobs         JobRepository
	Availability AvailabilityRepository
	Bookings     BookingRepository
	Calendar     Calendar
	Claims       ClaimStore
	Notifier     Notifier
	Bus          eventbus.Publisher
}

func (d Deps) validate() error {
	if d.Workers == nil || d.Sites == nil || d.Jobs == nil || d.Availability == nil ||
		d.Bookings == nil || d.Calendar == nil || d.Claims == nil || d.Notifier == nil || d.Bus == nil {
		return fmt.Errorf("dispatch: nil dependency provided to NewOrchestrator")
	}
	return nil
}

// Orchestrator consumes booking and worker events and keeps every job
// staffed: it assigns, recovers from cancellations and escalates.
type Orchestrator struct {
	Deps
	cfg     Config
	weights scoring.Weights

	log     logger.Logger
	monitor monitoring.Monitor
	sink    metrics.MetricsSink
	now     func() time.Time

	jobLocks *keyedMutex

	offersMu sync.Mutex
	offers   map[string]*offer

	notifyWG sync.WaitGroup
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithMetricsSink records assignments and escalations in sink.
func WithMetricsSink(sink metrics.MetricsSink) Option {
	return func(o *Orchestrator) {
		if sink != nil {
			o.sink = sink
		}
	}
}

// WithMonitor reports unexpected failures to m.
func WithMonitor(m monitoring.Monitor) Option {
	return func(o *Orchestrator) { o.monitor = monitoring.OrNop(m) }
}

// WithClock overrides the time source. Tests use it to pin notice periods.
func WithClock(now func() time.Time) Option {
	return func(o *Orchestrator) {
		if now != nil {
			o.now = now
		}
	}
}

// NewOrchestrator creates an orchestrator. Zero config values take defaults.
func NewOrchestrator(d Deps, cfg Config, log logger.Logger, opts ...Option) (*Orchestrator, error) {
	if err := d.validate(); err != nil {
		return nil, err
	}
	if log == nil {
		return nil, fmt.Errorf("dispatch: nil logger provided to NewOrchestrator")
	}
	cfg.SetDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	o := &Orchestrator{
		Deps:     d,
		cfg:      cfg,
		weights:  *cfg.Weights,
		log:      log,
		monitor:  monitoring.NopMonitor{},
		sink:     metrics.NopSink{},
		now:      time.Now,
		jobLocks: newKeyedMutex(),
		offers:   make(map[string]*offer),
	}
	for _, opt := range opts {
		opt(o)
	}
	return o, nil
}

// handler adapts an orchestrator method to the bus.
type handler struct {
	name string
	fn   func(ctx context.Context, ev events.Event) error
}

func (h handler) Handle(ctx context.Context, ev events.Event) error { return h.fn(ctx, ev) }
func (h handler) Name() string                                      { return h.name }

// Register subscribes the orchestrator to the events it consumes.
// Call it once per bus.
func (o *Orchestrator) Register(bus *eventbus.Bus) {
	bus.Register(handler{"dispatch.checkout", o.HandleGuestCheckout}, events.GuestCheckout)
	bus.Register(handler{"dispatch.booking", o.HandleBookingConfirmed}, events.BookingConfirmed)
	bus.Register(handler{"dispatch.recovery", o.HandleWorkerUnavailable}, events.WorkerUnavailable)
	bus.Register(handler{"dispatch.started", o.HandleJobStarted}, events.JobStarted)
	bus.Register(handler{"dispatch.completed", o.HandleJobCompleted}, events.JobCompleted)
	bus.Register(handler{"dispatch.verified", o.HandleJobVerified}, events.JobVerified)
	bus.Register(handler{"dispatch.offer", o.HandleOfferAccepted}, events.OfferAccepted)
}

// Run expires emergency offers until the context is canceled.
func (o *Orchestrator) Run(ctx context.Context) {
	ticker := time.NewTicker(time.Duration(o.cfg.OfferCheckIntervalSeconds) * time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			if n := o.ExpireOffers(ctx, o.now()); n > 0 {
				o.log.Infof("expired %d emergency offers", n)
			}
		case <-ctx.Done():
			return
		}
	}
}

// Flush waits for in-flight notifications.
func (o *Orchestrator) Flush() { o.notifyWG.Wait() }

// Close flushes pending notifications.
func (o *Orchestrator) Close() error {
	o.Flush()
	return nil
}

// Job returns a copy of the stored job.
func (o *Orchestrator) Job(ctx context.Context, id string) (model.Job, error) {
	ctx, cancel := o.bounded(ctx)
	defer cancel()
	return o.Jobs.FindByID(ctx, id)
}

// ScheduleJob stores a job created outside the event flow and returns its id.
func (o *Orchestrator) ScheduleJob(ctx context.Context, job model.Job) (string, error) {
	if err := job.Window.Validate(); err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidJob, err)
	}
	ctx, cancel := o.bounded(ctx)
	defer cancel()
	site, err := o.Sites.FindByID(ctx, job.SiteID)
	if err != nil {
		return "", fmt.Errorf("site %s: %w", job.SiteID, err)
	}
	if job.Type == "" {
		job.Type = model.JobStandard
	}
	if job.Priority == "" {
		job.Priority = model.PriorityMedium
	}
	if job.Source == "" {
		job.Source = model.SourceManual
	}
	return o.createJob(ctx, job, site)
}

func (o *Orchestrator) createJob(ctx context.Context, job model.Job, site model.Site) (string, error) {
	now := o.now()
	job.Status = model.JobPending
	if job.Requirements.EstimatedDurationMinutes == 0 {
		job.Requirements.EstimatedDurationMinutes = int(site.DurationFor(job.Type).Minutes())
	}
	if len(job.Requirements.SpecialInstructions) == 0 {
		job.Requirements.SpecialInstructions = append([]string(nil), site.Requirements.SpecialInstructions...)
	}
	job.CreatedAt, job.UpdatedAt = now, now
	appendTimeline(&job, now, model.TimelineCreated, string(job.Source), "system")
	id, err := o.Jobs.Create(ctx, job)
	if err != nil {
		return "", fmt.Errorf("create job for site %s: %w", site.ID, err)
	}
	o.log.Debugw("job created", map[string]any{
		"job_id":   id,
		"site_id":  site.ID,
		"priority": string(job.Priority),
		"source":   string(job.Source),
		"start":    job.Window.Start,
	})
	return id, nil
}

// bounded limits the repository I/O of one operation.
func (o *Orchestrator) bounded(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(ctx, o.cfg.repoTimeout())
}

// release drops a reservation taken by a step that did not complete.
func (o *Orchestrator) release(ctx context.Context, workerID, jobID string) {
	if err := o.Calendar.Release(ctx, workerID, jobID); err != nil {
		o.log.Errorf("release %s from job %s: %v", workerID, jobID, err)
	}
}

// notify runs fn on its own goroutine with a bounded context detached from
// the caller, so a slow channel never delays dispatch.
func (o *Orchestrator) notify(ctx context.Context, kind NotificationKind, target string, fn func(ctx context.Context) error) {
	o.notifyWG.Add(1)
	go func() {
		defer o.notifyWG.Done()
		nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), o.cfg.notifyTimeout())
		defer cancel()
		if err := fn(nctx); err != nil {
			notificationFailures.WithLabelValues(string(kind)).Inc()
			o.log.Warnw("notification failed", map[string]any{
				"kind":   string(kind),
				"target": target,
				"error":  err.Error(),
			})
		}
	}()
}

type causeKey struct{}

// withCause links follow-up events to the event being handled.
func withCause(ctx context.Context, eventID string) context.Context {
	return context.WithValue(ctx, causeKey{}, eventID)
}

func (o *Orchestrator) newEvent(ctx context.Context, t events.Type, siteID string, payload any) (events.Event, error) {
	ev, err := events.New(t, siteID, payload, o.now())
	if err != nil {
		return events.Event{}, err
	}
	if id, ok := ctx.Value(causeKey{}).(string); ok {
		ev = ev.WithCorrelation(id)
	}
	return ev, nil
}

// publish emits follow-up events. It must be called without holding a job lock.
func (o *Orchestrator) publish(ctx context.Context, evs ...events.Event) {
	for _, ev := range evs {
		d := o.Bus.Publish(ctx, ev)
		if !d.OK() {
			o.log.Warnf("event %s (%s): %d of %d handlers failed", ev.ID, ev.Type, len(d.Failures), d.Handlers)
		}
	}
}

func (o *Orchestrator) recordAssignment(rec metrics.AssignmentRecord) {
	assignmentsTotal.WithLabelValues(rec.Path).Inc()
	if err := o.sink.RecordAssignment(rec); err != nil {
		o.log.Errorf("metrics error: %v", err)
	}
}

func (o *Orchestrator) recordEscalation(job model.Job, stage, reason string) {
	escalationsTotal.WithLabelValues(stage).Inc()
	if r, ok := o.sink.(metrics.EscalationRecorder); ok {
		if err := r.RecordEscalation(metrics.EscalationEvent{
			JobID:  job.ID,
			SiteID: job.SiteID,
			Stage:  stage,
			Reason: reason,
			Time:   o.now(),
		}); err != nil {
			o.log.Errorf("metrics error: %v", err)
		}
	}
}

func appendTimeline(job *model.Job, at time.Time, event, details, actor string) model.TimelineEntry {
	e := model.TimelineEntry{Timestamp: at, Event: event, Details: details, Actor: actor}
	job.Timeline = append(job.Timeline, e)
	return e
}
