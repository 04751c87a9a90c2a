package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kilianp07/cleandispatch/core/events"
	"github.com/kilianp07/cleandispatch/core/model"
)

// HandleGuestCheckout schedules a turnover cleaning after a checkout and
// assigns it. The priority follows the gap until the next check-in.
func (o *Orchestrator) HandleGuestCheckout(ctx context.Context, ev events.Event) error {
	var p events.GuestCheckoutPayload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	siteID := p.SiteID
	if siteID == "" {
		siteID = ev.SiteID
	}
	if p.CheckoutTime.IsZero() {
		return fmt.Errorf("event %s: %w: missing checkout time", ev.ID, ErrInvalidJob)
	}
	ctx = withCause(ctx, ev.ID)

	id, err := o.createOnce(ctx, p.BookingID, model.SourceCheckout, func(ctx context.Context) (model.Job, model.Site, error) {
		site, err := o.Sites.FindByID(ctx, siteID)
		if err != nil {
			return model.Job{}, model.Site{}, fmt.Errorf("site %s: %w", siteID, err)
		}
		priority := model.PriorityMedium
		next, err := o.Bookings.NextBooking(ctx, siteID, p.CheckoutTime)
		switch {
		case err == nil:
			priority = ClassifyUrgency(p.CheckoutTime, next.CheckIn)
		case !errors.Is(err, ErrNotFound):
			return model.Job{}, model.Site{}, fmt.Errorf("next booking of %s: %w", siteID, err)
		}
		start := p.CheckoutTime.Add(time.Duration(o.cfg.CheckoutBufferMinutes) * time.Minute)
		return model.Job{
			SiteID:    siteID,
			BookingID: p.BookingID,
			Source:    model.SourceCheckout,
			Type:      model.JobStandard,
			Priority:  priority,
			Window:    model.TimeWindow{Start: start, End: start.Add(site.DurationFor(model.JobStandard))},
		}, site, nil
	})
	if err != nil || id == "" {
		return err
	}
	return o.assignOrEscalate(ctx, id)
}

// HandleBookingConfirmed schedules a pre-arrival cleaning that ends before
// the guest checks in. A booking gets at most one such job.
func (o *Orchestrator) HandleBookingConfirmed(ctx context.Context, ev events.Event) error {
	var p events.BookingConfirmedPayload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	ctx = withCause(ctx, ev.ID)

	id, err := o.createOnce(ctx, p.BookingID, model.SourcePreArrival, func(ctx context.Context) (model.Job, model.Site, error) {
		booking, err := o.Bookings.FindByID(ctx, p.BookingID)
		if err != nil {
			return model.Job{}, model.Site{}, fmt.Errorf("booking %s: %w", p.BookingID, err)
		}
		siteID := booking.SiteID
		if siteID == "" {
			siteID = p.SiteID
		}
		site, err := o.Sites.FindByID(ctx, siteID)
		if err != nil {
			return model.Job{}, model.Site{}, fmt.Errorf("site %s: %w", siteID, err)
		}
		end := booking.CheckIn.Add(-time.Duration(o.cfg.PreArrivalBufferMinutes) * time.Minute)
		now := o.now()
		if !end.After(now) {
			return model.Job{}, model.Site{}, nil
		}
		start := end.Add(-site.DurationFor(model.JobStandard))
		if start.Before(now) {
			start = now
		}
		return model.Job{
			SiteID:    siteID,
			BookingID: booking.ID,
			Source:    model.SourcePreArrival,
			Type:      model.JobStandard,
			Priority:  ClassifyUrgency(now, booking.CheckIn),
			Window:    model.TimeWindow{Start: start, End: end},
		}, site, nil
	})
	if err != nil || id == "" {
		return err
	}
	return o.assignOrEscalate(ctx, id)
}

// createOnce creates the job built by build unless the booking already has a
// job from the same source. It returns an empty id when nothing was created.
func (o *Orchestrator) createOnce(ctx context.Context, bookingID string, source model.JobSource, build func(context.Context) (model.Job, model.Site, error)) (string, error) {
	lockKey := "booking:" + string(source) + ":" + bookingID
	unlock := o.jobLocks.Lock(lockKey)
	defer unlock()

	ctx, cancel := o.bounded(ctx)
	defer cancel()
	if bookingID != "" {
		existing, err := o.Jobs.FindByBooking(ctx, bookingID)
		if err != nil {
			return "", fmt.Errorf("jobs of booking %s: %w", bookingID, err)
		}
		for _, j := range existing {
			if j.Source == source {
				o.log.Debugf("booking %s already has %s job %s", bookingID, source, j.ID)
				return "", nil
			}
		}
	}
	job, site, err := build(ctx)
	if err != nil {
		return "", err
	}
	if job.SiteID == "" {
		o.log.Warnf("booking %s: cleaning window already passed, nothing scheduled", bookingID)
		return "", nil
	}
	return o.createJob(ctx, job, site)
}

// HandleJobStarted moves an assigned job to in_progress.
func (o *Orchestrator) HandleJobStarted(ctx context.Context, ev events.Event) error {
	var p events.JobProgressPayload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	return o.advance(ctx, p.JobID, model.JobInProgress, func(job *model.Job, now time.Time) {
		actor := p.WorkerID
		if actor == "" {
			actor = job.AssignedWorker
		}
		if p.WorkerID != "" && p.WorkerID != job.AssignedWorker {
			o.log.Warnf("job %s started by %s but assigned to %s", job.ID, p.WorkerID, job.AssignedWorker)
		}
		appendTimeline(job, now, model.TimelineStarted, "", actor)
	})
}

// HandleJobCompleted records the worker's report and the host feedback.
func (o *Orchestrator) HandleJobCompleted(ctx context.Context, ev events.Event) error {
	var p events.JobCompletedPayload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	return o.advance(ctx, p.JobID, model.JobCompleted, func(job *model.Job, now time.Time) {
		d := p.Details
		if d.ActualCost > 0 {
			job.Pricing.ActualCost = d.ActualCost
		}
		if d.HostRating > 0 {
			job.Quality.HostRating = d.HostRating
		}
		job.Quality.HostFeedback = d.HostFeedback
		appendTimeline(job, now, model.TimelineCompleted, d.Notes, job.AssignedWorker)
	})
}

// HandleJobVerified closes a completed job.
func (o *Orchestrator) HandleJobVerified(ctx context.Context, ev events.Event) error {
	var p events.JobProgressPayload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	return o.advance(ctx, p.JobID, model.JobVerified, func(job *model.Job, now time.Time) {
		appendTimeline(job, now, model.TimelineVerified, "", "system")
	})
}

func (o *Orchestrator) advance(ctx context.Context, jobID string, to model.JobStatus, apply func(*model.Job, time.Time)) error {
	unlock := o.jobLocks.Lock(jobID)
	defer unlock()
	ctx, cancel := o.bounded(ctx)
	defer cancel()

	job, err := o.Jobs.FindByID(ctx, jobID)
	if err != nil {
		return fmt.Errorf("job %s: %w", jobID, err)
	}
	if job.Status == to {
		return nil
	}
	if err := job.Transition(to); err != nil {
		return fmt.Errorf("job %s: %w", jobID, err)
	}
	now := o.now()
	job.UpdatedAt = now
	apply(&job, now)
	if err := o.Jobs.Update(ctx, job); err != nil {
		return fmt.Errorf("update job %s: %w", jobID, err)
	}
	o.log.Debugf("job %s is now %s", jobID, to)
	return nil
}

// FailJob marks a job as failed. It is the explicit human decision that ends
// an escalation; the dispatcher never fails a job on its own.
func (o *Orchestrator) FailJob(ctx context.Context, jobID, reason, actor string) (model.Job, error) {
	unlock := o.jobLocks.Lock(jobID)
	defer unlock()
	ctx, cancel := o.bounded(ctx)
	defer cancel()

	job, err := o.Jobs.FindByID(ctx, jobID)
	if err != nil {
		return model.Job{}, fmt.Errorf("job %s: %w", jobID, err)
	}
	if err := job.Transition(model.JobFailed); err != nil {
		return model.Job{}, fmt.Errorf("job %s: %w", jobID, err)
	}
	if job.AssignedWorker != "" {
		if err := o.Calendar.Release(ctx, job.AssignedWorker, job.ID); err != nil {
			o.log.Errorf("release %s from failed job %s: %v", job.AssignedWorker, job.ID, err)
		}
	}
	o.offersMu.Lock()
	delete(o.offers, job.ID)
	o.offersMu.Unlock()
	if actor == "" {
		actor = "system"
	}
	now := o.now()
	job.RequiresIntervention = false
	job.UpdatedAt = now
	appendTimeline(&job, now, model.TimelineFailed, reason, actor)
	if err := o.Jobs.Update(ctx, job); err != nil {
		return model.Job{}, fmt.Errorf("update job %s: %w", jobID, err)
	}
	assignmentFailures.WithLabelValues("failed_by_owner").Inc()
	o.log.Warnf("job %s failed by %s: %s", jobID, actor, reason)
	return job, nil
}
