package dispatch

import (
	"context"
	"errors"
	"fmt"

	"github.com/kilianp07/cleandispatch/core/events"
	"github.com/kilianp07/cleandispatch/core/metrics"
	"github.com/kilianp07/cleandispatch/core/model"
	"github.com/kilianp07/cleandispatch/core/scoring"
)

// Assignment is the outcome of a successful AssignCleaner.
type Assignment struct {
	JobID      string          `json:"job_id"`
	Primary    scoring.Match   `json:"primary"`
	Backups    []scoring.Match `json:"backups"`
	Candidates int             `json:"candidates"`
}

// BackupIDs returns the ids of the backup chain in rank order.
func (a Assignment) BackupIDs() []string {
	ids := make([]string, len(a.Backups))
	for i, m := range a.Backups {
		ids[i] = m.Worker.ID
	}
	return ids
}

// AssignCleaner picks the best available worker for a pending job, records
// the next ranked workers as backups and reserves the primary's calendar.
//
// It fails with ErrNotFound when the job or its site is missing and with
// ErrNoAvailableWorkers when no candidate survives ranking; in both cases the
// job is left untouched.
func (o *Orchestrator) AssignCleaner(ctx context.Context, jobID string) (Assignment, error) {
	unlock := o.jobLocks.Lock(jobID)
	a, ev, err := o.assignLocked(ctx, jobID)
	unlock()
	if err != nil {
		return Assignment{}, err
	}
	o.publish(ctx, ev)
	return a, nil
}

func (o *Orchestrator) assignLocked(ctx context.Context, jobID string) (Assignment, events.Event, error) {
	ctx, cancel := o.bounded(ctx)
	defer cancel()

	job, err := o.Jobs.FindByID(ctx, jobID)
	if err != nil {
		return Assignment{}, events.Event{}, fmt.Errorf("assign job %s: %w", jobID, err)
	}
	if job.Status != model.JobPending {
		return Assignment{}, events.Event{}, fmt.Errorf("assign job %s: %w: status is %s", jobID, model.ErrInvalidTransition, job.Status)
	}
	site, err := o.Sites.FindByID(ctx, job.SiteID)
	if err != nil {
		return Assignment{}, events.Event{}, fmt.Errorf("assign job %s: site %s: %w", jobID, job.SiteID, err)
	}

	ranked, err := o.rank(ctx, job, site)
	if err != nil {
		return Assignment{}, events.Event{}, err
	}
	if len(ranked) == 0 {
		assignmentFailures.WithLabelValues("no_candidates").Inc()
		return Assignment{}, events.Event{}, fmt.Errorf("assign job %s: %w", jobID, ErrNoAvailableWorkers)
	}

	primary := -1
	for i, m := range ranked {
		err := o.Calendar.Reserve(ctx, model.Reservation{WorkerID: m.Worker.ID, JobID: job.ID, Window: job.Window})
		if errors.Is(err, ErrReservationConflict) {
			o.log.Debugf("worker %s already booked for job %s window, trying next", m.Worker.ID, job.ID)
			continue
		}
		if err != nil {
			return Assignment{}, events.Event{}, fmt.Errorf("reserve %s for job %s: %w", m.Worker.ID, job.ID, err)
		}
		primary = i
		break
	}
	if primary < 0 {
		assignmentFailures.WithLabelValues("all_reserved").Inc()
		return Assignment{}, events.Event{}, fmt.Errorf("assign job %s: every candidate is booked: %w", jobID, ErrNoAvailableWorkers)
	}

	end := min(primary+1+o.cfg.MaxBackups, len(ranked))
	a := Assignment{
		JobID:      job.ID,
		Primary:    ranked[primary],
		Backups:    append([]scoring.Match(nil), ranked[primary+1:end]...),
		Candidates: len(ranked),
	}
	w := a.Primary.Worker

	if err := job.Transition(model.JobAssigned); err != nil {
		o.release(ctx, w.ID, job.ID)
		return Assignment{}, events.Event{}, err
	}
	now := o.now()
	job.AssignedWorker = w.ID
	job.Backups = a.BackupIDs()
	job.Pricing.BaseRate = a.Primary.EstimatedCost
	job.UpdatedAt = now
	appendTimeline(&job, now, model.TimelineAssigned, fmt.Sprintf("score %.3f", a.Primary.Score), "system")
	if err := o.Jobs.Update(ctx, job); err != nil {
		o.release(ctx, w.ID, job.ID)
		return Assignment{}, events.Event{}, fmt.Errorf("update job %s: %w", job.ID, err)
	}

	o.log.Infof("job %s assigned to %s (score %.3f, %d backups)", job.ID, w.ID, a.Primary.Score, len(a.Backups))
	o.recordAssignment(metrics.AssignmentRecord{
		JobID:         job.ID,
		SiteID:        job.SiteID,
		WorkerID:      w.ID,
		Path:          metrics.PathFresh,
		JobType:       job.Type,
		Priority:      job.Priority,
		Score:         a.Primary.Score,
		Candidates:    a.Candidates,
		EstimatedCost: a.Primary.EstimatedCost,
		Backups:       len(a.Backups),
		Time:          now,
	})
	n := Notification{
		Kind:           NotifyAssignment,
		JobID:          job.ID,
		SiteID:         job.SiteID,
		ScheduledStart: job.Window.Start,
		EstimatedCost:  a.Primary.EstimatedCost,
	}
	o.notify(ctx, n.Kind, w.ID, func(ctx context.Context) error { return o.Notifier.NotifyWorker(ctx, w.ID, n) })

	ev, err := o.newEvent(ctx, events.WorkerAssigned, job.SiteID, events.WorkerAssignedPayload{
		JobID:     job.ID,
		WorkerID:  w.ID,
		BackupIDs: job.Backups,
	})
	if err != nil {
		return Assignment{}, events.Event{}, err
	}
	return a, ev, nil
}

// rank scores every worker the repository returns for the job window.
func (o *Orchestrator) rank(ctx context.Context, job model.Job, site model.Site) ([]scoring.Match, error) {
	workers, err := o.Workers.FindAvailable(ctx, job.Window, site.Location, o.cfg.SearchRadiusMiles)
	if err != nil {
		return nil, fmt.Errorf("find workers for job %s: %w", job.ID, err)
	}
	market := o.cfg.MarketRate(job.Type)
	matches := make([]scoring.Match, 0, len(workers))
	for _, w := range workers {
		ratings, err := o.priorRatings(ctx, w.ID, site.ID, job.ID)
		if err != nil {
			return nil, err
		}
		matches = append(matches, o.weights.Evaluate(w, site, job, scoring.Context{
			MarketRate:   market,
			PriorRatings: ratings,
		}))
	}
	ranked := o.weights.Rank(matches)
	candidatesHistogram.Observe(float64(len(ranked)))
	o.log.Debugw("candidates ranked", map[string]any{
		"job_id":    job.ID,
		"found":     len(workers),
		"eligible":  len(ranked),
		"market":    market,
		"radius_mi": o.cfg.SearchRadiusMiles,
	})
	return ranked, nil
}

// priorRatings returns the host ratings of the worker's finished jobs at the site.
func (o *Orchestrator) priorRatings(ctx context.Context, workerID, siteID, exclude string) ([]float64, error) {
	prior, err := o.Jobs.FindByWorkerAndSite(ctx, workerID, siteID)
	if err != nil {
		return nil, fmt.Errorf("history of %s at %s: %w", workerID, siteID, err)
	}
	var ratings []float64
	for _, j := range prior {
		if j.ID == exclude {
			continue
		}
		if j.Status == model.JobCompleted || j.Status == model.JobVerified {
			ratings = append(ratings, j.Quality.HostRating)
		}
	}
	return ratings, nil
}

// assignOrEscalate assigns a freshly created job and routes it to the
// emergency protocol when nobody can take it.
func (o *Orchestrator) assignOrEscalate(ctx context.Context, jobID string) error {
	_, err := o.AssignCleaner(ctx, jobID)
	if err == nil || !errors.Is(err, ErrNoAvailableWorkers) {
		return err
	}
	o.log.Warnf("job %s: %v, starting emergency protocol", jobID, err)

	unlock := o.jobLocks.Lock(jobID)
	evs, eerr := o.failedAssignmentLocked(ctx, jobID, err.Error())
	unlock()
	o.publish(ctx, evs...)
	return eerr
}

func (o *Orchestrator) failedAssignmentLocked(ctx context.Context, jobID, reason string) ([]events.Event, error) {
	ctx, cancel := o.bounded(ctx)
	defer cancel()
	entry := model.TimelineEntry{Timestamp: o.now(), Event: model.TimelineAssignmentFailed, Details: reason, Actor: "system"}
	if err := o.Jobs.AppendTimelineEntry(ctx, jobID, entry); err != nil {
		return nil, fmt.Errorf("job %s timeline: %w", jobID, err)
	}
	job, err := o.Jobs.FindByID(ctx, jobID)
	if err != nil {
		return nil, fmt.Errorf("job %s: %w", jobID, err)
	}
	if job.Status != model.JobPending {
		return nil, nil
	}
	return o.startEmergency(ctx, &job, reason)
}
