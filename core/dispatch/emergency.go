package dispatch

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/kilianp07/cleandispatch/core/events"
	"github.com/kilianp07/cleandispatch/core/metrics"
	"github.com/kilianp07/cleandispatch/core/model"
	"github.com/kilianp07/cleandispatch/core/scoring"
)

// SuggestedActions are proposed to a site owner when nobody can clean.
var SuggestedActions = []string{
	"Clean property yourself",
	"Hire cleaner directly",
	"Reschedule guest if possible",
}

// expiryClaimant holds the claim of an offer that timed out, so late
// acceptances lose against it.
const expiryClaimant = "offer-expired"

// Escalation stages.
const (
	stageEmergency = "emergency_protocol"
	stageBroadcast = "offer_broadcast"
	stageSiteOwner = "site_owner"
)

type offer struct {
	jobID     string
	siteID    string
	invited   []string
	expiresAt time.Time
}

// Offer is a read-only view of a running emergency broadcast.
type Offer struct {
	JobID     string    `json:"job_id"`
	Invited   []string  `json:"invited"`
	ExpiresAt time.Time `json:"expires_at"`
}

// OpenOffer returns the running offer for a job, if any.
func (o *Orchestrator) OpenOffer(jobID string) (Offer, bool) {
	o.offersMu.Lock()
	defer o.offersMu.Unlock()
	of, ok := o.offers[jobID]
	if !ok {
		return Offer{}, false
	}
	return Offer{JobID: of.jobID, Invited: slices.Clone(of.invited), ExpiresAt: of.expiresAt}, true
}

// startEmergency re-opens the job as a critical emergency and broadcasts an
// offer to every emergency-capable worker. Without any, the site owner is
// asked to step in. The caller holds the job lock.
func (o *Orchestrator) startEmergency(ctx context.Context, job *model.Job, reason string) ([]events.Event, error) {
	now := o.now()
	if job.Status == model.JobAssigned {
		if err := job.Transition(model.JobPending); err != nil {
			return nil, err
		}
	}
	job.AssignedWorker = ""
	job.Priority = model.PriorityCritical
	job.Type = model.JobEmergency
	job.UpdatedAt = now
	appendTimeline(job, now, model.TimelineEmergency, reason, "system")
	o.recordEscalation(*job, stageEmergency, reason)

	found, err := o.Workers.FindEmergencyAvailable(ctx, job.Window)
	if err != nil {
		o.log.Errorf("find emergency workers for job %s: %v", job.ID, err)
	}
	var invited []model.Worker
	for _, w := range found {
		if w.AcceptsEmergencies() && o.isAvailable(ctx, w, *job) {
			invited = append(invited, w)
		}
	}
	if len(invited) == 0 {
		return o.escalateLocked(ctx, job, "no emergency cleaner available")
	}

	bonus := EmergencyBonus(job.Window.Start.Sub(now))
	job.Pricing.EmergencyFee = bonus
	if err := o.Jobs.Update(ctx, *job); err != nil {
		return nil, fmt.Errorf("update job %s: %w", job.ID, err)
	}

	// a previous round may still hold the claim
	if err := o.Claims.Release(ctx, job.ID); err != nil {
		return nil, fmt.Errorf("reset claim on job %s: %w", job.ID, err)
	}
	of := &offer{jobID: job.ID, siteID: job.SiteID, expiresAt: now.Add(o.cfg.offerTimeout())}
	for _, w := range invited {
		of.invited = append(of.invited, w.ID)
	}
	o.offersMu.Lock()
	o.offers[job.ID] = of
	o.offersMu.Unlock()

	o.recordEscalation(*job, stageBroadcast, fmt.Sprintf("%d workers invited", len(invited)))
	o.log.Infof("job %s: emergency offer sent to %d workers until %s", job.ID, len(invited), of.expiresAt.Format(time.RFC3339))
	for _, w := range invited {
		n := Notification{
			Kind:           NotifyEmergencyOffer,
			JobID:          job.ID,
			SiteID:         job.SiteID,
			ScheduledStart: job.Window.Start,
			EmergencyBonus: bonus,
			EmergencyRate:  w.Rates.Emergency,
			ExpiresAt:      of.expiresAt,
		}
		id := w.ID
		o.notify(ctx, n.Kind, id, func(ctx context.Context) error { return o.Notifier.NotifyWorker(ctx, id, n) })
	}
	return nil, nil
}

// escalateLocked hands the job to its site owner. The job stays pending and
// is flagged for human intervention; it is never failed silently.
func (o *Orchestrator) escalateLocked(ctx context.Context, job *model.Job, reason string) ([]events.Event, error) {
	now := o.now()
	if job.Status == model.JobAssigned {
		if err := job.Transition(model.JobPending); err != nil {
			return nil, err
		}
	}
	job.RequiresIntervention = true
	job.UpdatedAt = now
	appendTimeline(job, now, model.TimelineEscalated, reason, "system")
	if err := o.Jobs.Update(ctx, *job); err != nil {
		return nil, fmt.Errorf("update job %s: %w", job.ID, err)
	}

	o.recordEscalation(*job, stageSiteOwner, reason)
	o.log.Warnf("job %s escalated to owner of site %s: %s", job.ID, job.SiteID, reason)
	esc := Escalation{
		Kind:             NotifyNoCleanerAvailable,
		JobID:            job.ID,
		SiteID:           job.SiteID,
		ScheduledStart:   job.Window.Start,
		Reason:           reason,
		SuggestedActions: slices.Clone(SuggestedActions),
	}
	siteID := job.SiteID
	o.notify(ctx, esc.Kind, siteID, func(ctx context.Context) error {
		return o.Notifier.EscalateToSiteOwner(ctx, siteID, esc)
	})

	ev, err := o.newEvent(ctx, events.JobEscalated, job.SiteID, events.JobEscalatedPayload{JobID: job.ID, Reason: reason})
	if err != nil {
		return nil, err
	}
	return []events.Event{ev}, nil
}

// AcceptEmergencyOffer lets an invited worker claim an emergency job. Exactly
// one acceptance wins; every other one gets ErrJobAlreadyTaken.
func (o *Orchestrator) AcceptEmergencyOffer(ctx context.Context, jobID, workerID string) (model.Job, error) {
	o.offersMu.Lock()
	of, ok := o.offers[jobID]
	var open, invited bool
	if ok {
		open = o.now().Before(of.expiresAt)
		invited = slices.Contains(of.invited, workerID)
	}
	o.offersMu.Unlock()
	switch {
	case !ok || !open:
		return model.Job{}, fmt.Errorf("job %s: %w", jobID, ErrNoOpenOffer)
	case !invited:
		return model.Job{}, fmt.Errorf("job %s, worker %s: %w", jobID, workerID, ErrNotInvited)
	}

	cctx, cancel := o.bounded(ctx)
	winner, won, err := o.Claims.Claim(cctx, jobID, workerID, o.cfg.offerTimeout()+time.Hour)
	cancel()
	if err != nil {
		return model.Job{}, fmt.Errorf("claim job %s: %w", jobID, err)
	}
	if !won {
		if winner == expiryClaimant {
			return model.Job{}, fmt.Errorf("job %s: %w", jobID, ErrNoOpenOffer)
		}
		return model.Job{}, fmt.Errorf("job %s claimed by %s: %w", jobID, winner, ErrJobAlreadyTaken)
	}

	unlock := o.jobLocks.Lock(jobID)
	job, ev, err := o.acceptLocked(ctx, jobID, workerID)
	unlock()
	if err != nil {
		rctx, cancel := o.bounded(context.WithoutCancel(ctx))
		if rerr := o.Claims.Release(rctx, jobID); rerr != nil {
			o.log.Errorf("release claim on job %s: %v", jobID, rerr)
		}
		cancel()
		return model.Job{}, err
	}
	o.publish(ctx, ev)
	return job, nil
}

func (o *Orchestrator) acceptLocked(ctx context.Context, jobID, workerID string) (model.Job, events.Event, error) {
	ctx, cancel := o.bounded(ctx)
	defer cancel()

	job, err := o.Jobs.FindByID(ctx, jobID)
	if err != nil {
		return model.Job{}, events.Event{}, fmt.Errorf("accept job %s: %w", jobID, err)
	}
	if job.Status != model.JobPending {
		return model.Job{}, events.Event{}, fmt.Errorf("job %s is %s: %w", jobID, job.Status, ErrNoOpenOffer)
	}
	w, err := o.Workers.FindByID(ctx, workerID)
	if err != nil {
		return model.Job{}, events.Event{}, fmt.Errorf("worker %s: %w", workerID, err)
	}
	if err := o.Calendar.Reserve(ctx, model.Reservation{WorkerID: w.ID, JobID: job.ID, Window: job.Window}); err != nil {
		return model.Job{}, events.Event{}, fmt.Errorf("reserve %s for job %s: %w", w.ID, job.ID, err)
	}

	now := o.now()
	if err := job.Transition(model.JobAssigned); err != nil {
		o.release(ctx, w.ID, job.ID)
		return model.Job{}, events.Event{}, err
	}
	job.AssignedWorker = w.ID
	job.Backups = nil
	job.RequiresIntervention = false
	job.Pricing.BaseRate = scoring.EstimatedCost(w, job)
	job.UpdatedAt = now
	appendTimeline(&job, now, model.TimelineOfferAccepted, "", w.ID)
	if err := o.Jobs.Update(ctx, job); err != nil {
		o.release(ctx, w.ID, job.ID)
		return model.Job{}, events.Event{}, fmt.Errorf("update job %s: %w", job.ID, err)
	}

	o.offersMu.Lock()
	delete(o.offers, job.ID)
	o.offersMu.Unlock()

	o.recordAssignment(metrics.AssignmentRecord{
		JobID:         job.ID,
		SiteID:        job.SiteID,
		WorkerID:      w.ID,
		Path:          metrics.PathEmergency,
		JobType:       job.Type,
		Priority:      job.Priority,
		EstimatedCost: job.Pricing.BaseRate,
		Time:          now,
	})
	o.log.Infof("job %s: emergency offer accepted by %s", job.ID, w.ID)
	n := Notification{
		Kind:           NotifyCleanerReplaced,
		JobID:          job.ID,
		SiteID:         job.SiteID,
		ScheduledStart: job.Window.Start,
		NewWorkerID:    w.ID,
		NewWorkerName:  w.Name,
		Reason:         "Emergency cleaner found",
	}
	o.notify(ctx, n.Kind, job.SiteID, func(ctx context.Context) error {
		return o.Notifier.NotifySiteOwner(ctx, n.SiteID, n)
	})

	ev, err := o.newEvent(ctx, events.WorkerAssigned, job.SiteID, events.WorkerAssignedPayload{
		JobID:    job.ID,
		WorkerID: w.ID,
	})
	return job, ev, err
}

// HandleOfferAccepted routes an acceptance received as an event. Losing an
// emergency race is an expected outcome, not a handler failure.
func (o *Orchestrator) HandleOfferAccepted(ctx context.Context, ev events.Event) error {
	var p events.OfferAcceptedPayload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	_, err := o.AcceptEmergencyOffer(withCause(ctx, ev.ID), p.JobID, p.WorkerID)
	switch {
	case errors.Is(err, ErrJobAlreadyTaken), errors.Is(err, ErrNotInvited), errors.Is(err, ErrNoOpenOffer):
		o.log.Infof("offer acceptance from %s rejected: %v", p.WorkerID, err)
		return nil
	default:
		return err
	}
}

// ExpireOffers escalates every offer that expired at now without a taker and
// returns how many were escalated.
func (o *Orchestrator) ExpireOffers(ctx context.Context, now time.Time) int {
	o.offersMu.Lock()
	var due []*offer
	for id, of := range o.offers {
		if !now.Before(of.expiresAt) {
			due = append(due, of)
			delete(o.offers, id)
		}
	}
	o.offersMu.Unlock()

	escalated := 0
	for _, of := range due {
		cctx, cancel := o.bounded(ctx)
		_, won, err := o.Claims.Claim(cctx, of.jobID, expiryClaimant, time.Hour)
		cancel()
		if err != nil {
			o.log.Errorf("expire offer for job %s: %v", of.jobID, err)
			continue
		}
		if !won {
			// a worker got there first
			continue
		}
		unlock := o.jobLocks.Lock(of.jobID)
		evs, err := o.expireLocked(ctx, of)
		unlock()
		if err != nil {
			o.log.Errorf("expire offer for job %s: %v", of.jobID, err)
			o.monitor.CaptureException(err, map[string]string{"module": "dispatch", "job_id": of.jobID})
			continue
		}
		o.publish(ctx, evs...)
		if len(evs) > 0 {
			escalated++
		}
	}
	return escalated
}

func (o *Orchestrator) expireLocked(ctx context.Context, of *offer) ([]events.Event, error) {
	ctx, cancel := o.bounded(ctx)
	defer cancel()
	job, err := o.Jobs.FindByID(ctx, of.jobID)
	if err != nil {
		return nil, err
	}
	if job.Status != model.JobPending || job.AssignedWorker != "" {
		return nil, nil
	}
	return o.escalateLocked(ctx, &job, fmt.Sprintf("emergency offer to %d workers expired", len(of.invited)))
}
