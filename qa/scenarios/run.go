package scenarios

import (
	"context"
	"fmt"
	"slices"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/kilianp07/cleandispatch/core/dispatch"
	"github.com/kilianp07/cleandispatch/core/events"
	"github.com/kilianp07/cleandispatch/core/model"
	"github.com/kilianp07/cleandispatch/infra/logger"
	"github.com/kilianp07/cleandispatch/infra/memory"
	"github.com/kilianp07/cleandispatch/infra/metrics"
	"github.com/kilianp07/cleandispatch/internal/eventbus"
)

// Result is the state after a run.
type Result struct {
	Jobs          []model.Job
	Notifications map[dispatch.NotificationKind]int
	Escalations   int
	Events        int
	// Mismatches lists every unmet expectation and unexpected step error.
	Mismatches []string
}

// OK reports whether the run met every expectation.
func (r Result) OK() bool { return len(r.Mismatches) == 0 }

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// countingNotifier counts notifications by kind.
type countingNotifier struct {
	mu          sync.Mutex
	counts      map[dispatch.NotificationKind]int
	escalations int
}

func (n *countingNotifier) NotifyWorker(_ context.Context, _ string, msg dispatch.Notification) error {
	n.mu.Lock()
	n.counts[msg.Kind]++
	n.mu.Unlock()
	return nil
}

func (n *countingNotifier) NotifySiteOwner(_ context.Context, _ string, msg dispatch.Notification) error {
	n.mu.Lock()
	n.counts[msg.Kind]++
	n.mu.Unlock()
	return nil
}

func (n *countingNotifier) EscalateToSiteOwner(context.Context, string, dispatch.Escalation) error {
	n.mu.Lock()
	n.escalations++
	n.mu.Unlock()
	return nil
}

// Run replays sc against fresh in-memory stores.
func Run(ctx context.Context, sc *Scenario, log logger.Logger) (Result, error) {
	if log == nil {
		log = logger.NopLogger{}
	}
	clk := &clock{now: sc.Start}
	store := memory.NewStore()
	for _, s := range sc.Sites {
		if err := store.PutSite(s); err != nil {
			return Result{}, err
		}
	}
	for _, w := range sc.Workers {
		if w.Status == "" {
			w.Status = model.WorkerAvailable
		}
		if err := store.PutWorker(w); err != nil {
			return Result{}, err
		}
	}
	for _, a := range sc.Availability {
		if err := store.PutAvailability(a); err != nil {
			return Result{}, err
		}
	}
	for _, b := range sc.Bookings {
		if err := store.PutBooking(b); err != nil {
			return Result{}, err
		}
	}

	sink, err := metrics.NewPromSinkWithRegistry(prometheus.NewRegistry())
	if err != nil {
		return Result{}, err
	}
	notifier := &countingNotifier{counts: make(map[dispatch.NotificationKind]int)}
	bus := eventbus.New(log, eventbus.WithClock(clk.Now))
	metrics.StartEventCollector(bus, sink)
	orch, err := dispatch.NewOrchestrator(dispatch.Deps{
		Workers:      store.Workers(),
		Sites:        store.Sites(),
		Jobs:         store.Jobs(),
		Availability: store.Availability(),
		Bookings:     store.Bookings(),
		Calendar:     memory.NewCalendar(),
		Claims:       memory.NewClaims(clk.Now),
		Notifier:     notifier,
		Bus:          bus,
	}, dispatch.Config{}, log, dispatch.WithClock(clk.Now), dispatch.WithMetricsSink(sink))
	if err != nil {
		return Result{}, err
	}
	orch.Register(bus)
	defer orch.Close()

	var res Result
	for _, jd := range sc.Jobs {
		if err := seedJob(ctx, orch, store, jd); err != nil {
			return Result{}, fmt.Errorf("job %s: %w", jd.ID, err)
		}
	}

	for i, st := range sc.Steps {
		if st.Advance > 0 {
			clk.Advance(st.Advance)
		}
		err := runStep(ctx, orch, store, bus, clk, st)
		orch.Flush()
		switch {
		case err != nil && st.ExpectError == "":
			res.Mismatches = append(res.Mismatches, fmt.Sprintf("step %d: unexpected error: %v", i, err))
		case err == nil && st.ExpectError != "":
			res.Mismatches = append(res.Mismatches, fmt.Sprintf("step %d: expected error %q", i, st.ExpectError))
		case err != nil && !strings.Contains(err.Error(), st.ExpectError):
			res.Mismatches = append(res.Mismatches, fmt.Sprintf("step %d: error %q does not contain %q", i, err, st.ExpectError))
		}
	}

	res.Jobs = store.ListJobs()
	notifier.mu.Lock()
	res.Notifications = notifier.counts
	res.Escalations = notifier.escalations
	notifier.mu.Unlock()
	res.Events = bus.Len()
	res.Mismatches = append(res.Mismatches, check(sc.Expected, res)...)
	return res, nil
}

// seedJob schedules a job, or stores it as history when it has a status.
func seedJob(ctx context.Context, orch *dispatch.Orchestrator, store *memory.Store, jd JobDef) error {
	if jd.Status == "" || jd.Status == model.JobPending {
		_, err := orch.ScheduleJob(ctx, jd.ToModel())
		return err
	}
	j := jd.ToModel()
	j.Status = jd.Status
	if j.Type == "" {
		j.Type = model.JobStandard
	}
	_, err := store.Jobs().Create(ctx, j)
	return err
}

func runStep(ctx context.Context, orch *dispatch.Orchestrator, store *memory.Store, bus *eventbus.Bus, clk *clock, st Step) error {
	switch {
	case st.Event != nil:
		ev, err := events.New(events.Type(st.Event.Type), st.Event.SiteID, st.Event.Payload, clk.Now())
		if err != nil {
			return err
		}
		d := bus.Publish(ctx, ev)
		if !d.OK() {
			return d.Failures[0]
		}
		return nil
	case st.Assign != nil:
		id, err := resolve(store, *st.Assign)
		if err != nil {
			return err
		}
		_, err = orch.AssignCleaner(ctx, id)
		return err
	case st.Accept != nil:
		id, err := resolve(store, st.Accept.JobRef)
		if err != nil {
			return err
		}
		_, err = orch.AcceptEmergencyOffer(ctx, id, st.Accept.Worker)
		return err
	case st.Fail != nil:
		id, err := resolve(store, st.Fail.JobRef)
		if err != nil {
			return err
		}
		_, err = orch.FailJob(ctx, id, st.Fail.Reason, "scenario")
		return err
	case st.ExpireOffers:
		orch.ExpireOffers(ctx, clk.Now())
		return nil
	case st.SetStatus != nil:
		return store.SetWorkerStatus(st.SetStatus.Worker, st.SetStatus.Status)
	}
	return nil
}

func resolve(store *memory.Store, ref JobRef) (string, error) {
	if ref.Job != "" {
		return ref.Job, nil
	}
	for _, j := range store.ListJobs() {
		if j.BookingID == ref.Booking {
			return j.ID, nil
		}
	}
	return "", fmt.Errorf("no job for %s: %w", ref, dispatch.ErrNotFound)
}

func check(exp Expected, res Result) []string {
	var out []string
	byID := make(map[string]model.Job, len(res.Jobs))
	for _, j := range res.Jobs {
		byID[j.ID] = j
	}
	find := func(ref JobRef) (model.Job, bool) {
		if ref.Job != "" {
			j, ok := byID[ref.Job]
			return j, ok
		}
		for _, j := range res.Jobs {
			if j.BookingID == ref.Booking {
				return j, true
			}
		}
		return model.Job{}, false
	}

	for _, e := range exp.Jobs {
		j, ok := find(e.JobRef)
		if !ok {
			out = append(out, fmt.Sprintf("%s: job not found", e.JobRef))
			continue
		}
		if e.Status != "" && j.Status != e.Status {
			out = append(out, fmt.Sprintf("%s: status %s, want %s", e.JobRef, j.Status, e.Status))
		}
		if e.Worker != nil && j.AssignedWorker != *e.Worker {
			out = append(out, fmt.Sprintf("%s: worker %q, want %q", e.JobRef, j.AssignedWorker, *e.Worker))
		}
		if e.Backups != nil && !slices.Equal(j.Backups, e.Backups) {
			out = append(out, fmt.Sprintf("%s: backups %v, want %v", e.JobRef, j.Backups, e.Backups))
		}
		if e.Priority != "" && j.Priority != e.Priority {
			out = append(out, fmt.Sprintf("%s: priority %s, want %s", e.JobRef, j.Priority, e.Priority))
		}
		if e.Type != "" && j.Type != e.Type {
			out = append(out, fmt.Sprintf("%s: type %s, want %s", e.JobRef, j.Type, e.Type))
		}
		if e.RequiresIntervention != nil && j.RequiresIntervention != *e.RequiresIntervention {
			out = append(out, fmt.Sprintf("%s: requires_intervention %v, want %v", e.JobRef, j.RequiresIntervention, *e.RequiresIntervention))
		}
		if len(e.Timeline) > 0 && !inOrder(j.Timeline, e.Timeline) {
			out = append(out, fmt.Sprintf("%s: timeline %v does not contain %v in order", e.JobRef, timelineNames(j.Timeline), e.Timeline))
		}
	}
	for kind, want := range exp.Notifications {
		if got := res.Notifications[kind]; got != want {
			out = append(out, fmt.Sprintf("notifications %s: %d, want %d", kind, got, want))
		}
	}
	if exp.Escalations != nil && res.Escalations != *exp.Escalations {
		out = append(out, fmt.Sprintf("escalations: %d, want %d", res.Escalations, *exp.Escalations))
	}
	if exp.JobCount != nil && len(res.Jobs) != *exp.JobCount {
		out = append(out, fmt.Sprintf("jobs: %d, want %d", len(res.Jobs), *exp.JobCount))
	}
	return out
}

func timelineNames(tl []model.TimelineEntry) []string {
	names := make([]string, len(tl))
	for i, e := range tl {
		names[i] = e.Event
	}
	return names
}

// inOrder reports whether want is a subsequence of the timeline.
func inOrder(tl []model.TimelineEntry, want []string) bool {
	i := 0
	for _, e := range tl {
		if i < len(want) && e.Event == want[i] {
			i++
		}
	}
	return i == len(want)
}
