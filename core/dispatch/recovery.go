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

// HandleWorkerUnavailable replaces a cancelled worker with the first
// available backup, in backup order, or starts the emergency protocol.
// Duplicate and stale events are ignored.
func (o *Orchestrator) HandleWorkerUnavailable(ctx context.Context, ev events.Event) error {
	var p events.WorkerUnavailablePayload
	if err := ev.Decode(&p); err != nil {
		return err
	}
	if p.JobID == "" {
		return fmt.Errorf("event %s: %w: missing job id", ev.ID, ErrInvalidJob)
	}
	ctx = withCause(ctx, ev.ID)

	unlock := o.jobLocks.Lock(p.JobID)
	evs, err := o.recoverLocked(ctx, p)
	unlock()
	o.publish(ctx, evs...)
	return err
}

func (o *Orchestrator) recoverLocked(ctx context.Context, p events.WorkerUnavailablePayload) ([]events.Event, error) {
	ctx, cancel := o.bounded(ctx)
	defer cancel()

	job, err := o.Jobs.FindByID(ctx, p.JobID)
	if err != nil {
		return nil, fmt.Errorf("recover job %s: %w", p.JobID, err)
	}
	if job.Status != model.JobAssigned {
		recoveriesTotal.WithLabelValues("ignored").Inc()
		o.log.Debugf("job %s is %s, ignoring cancellation from %s", job.ID, job.Status, p.WorkerID)
		return nil, nil
	}
	if p.WorkerID != "" && p.WorkerID != job.AssignedWorker {
		recoveriesTotal.WithLabelValues("ignored").Inc()
		o.log.Debugf("job %s is held by %s, ignoring cancellation from %s", job.ID, job.AssignedWorker, p.WorkerID)
		return nil, nil
	}

	cancelled := job.AssignedWorker
	at := p.Timestamp
	if at.IsZero() {
		at = o.now()
	}
	entry := model.TimelineEntry{Timestamp: at, Event: model.TimelineCancelled, Details: p.Reason, Actor: cancelled}
	if err := o.Jobs.AppendTimelineEntry(ctx, job.ID, entry); err != nil {
		return nil, fmt.Errorf("job %s timeline: %w", job.ID, err)
	}
	job.Timeline = append(job.Timeline, entry)
	o.release(ctx, cancelled, job.ID)

	for _, id := range job.Backups {
		backup, err := o.Workers.FindByID(ctx, id)
		if err != nil {
			if !errors.Is(err, ErrNotFound) {
				o.log.Errorf("job %s: skipping backup %s: %v", job.ID, id, err)
			}
			continue
		}
		if !o.isAvailable(ctx, backup, job) {
			continue
		}
		err = o.Calendar.Reserve(ctx, model.Reservation{WorkerID: id, JobID: job.ID, Window: job.Window})
		if err != nil {
			if !errors.Is(err, ErrReservationConflict) {
				o.log.Errorf("job %s: reserve backup %s: %v", job.ID, id, err)
			}
			continue
		}
		promoted := job
		ev, err := o.promoteBackup(ctx, &promoted, backup, cancelled)
		if err != nil {
			o.log.Errorf("job %s: promote backup %s: %v", job.ID, id, err)
			o.release(ctx, id, job.ID)
			continue
		}
		return []events.Event{ev}, nil
	}

	recoveriesTotal.WithLabelValues("emergency").Inc()
	job.AssignedWorker = ""
	return o.startEmergency(ctx, &job, fmt.Sprintf("%s unavailable and no backup available", cancelled))
}

func (o *Orchestrator) promoteBackup(ctx context.Context, job *model.Job, backup model.Worker, cancelled string) (events.Event, error) {
	now := o.now()
	if err := job.Transition(model.JobAssigned); err != nil {
		return events.Event{}, err
	}
	job.AssignedWorker = backup.ID
	job.Backups = model.RemoveBackup(job.Backups, backup.ID)
	job.Pricing.BaseRate = scoring.EstimatedCost(backup, *job)
	job.UpdatedAt = now
	appendTimeline(job, now, model.TimelineBackupAssigned, "replaces "+cancelled, "system")
	if err := o.Jobs.Update(ctx, *job); err != nil {
		return events.Event{}, fmt.Errorf("update job %s: %w", job.ID, err)
	}

	bonus := EmergencyBonus(job.Window.Start.Sub(now))
	recoveriesTotal.WithLabelValues("backup").Inc()
	o.log.Infof("job %s: backup %s replaces %s (bonus %.0f)", job.ID, backup.ID, cancelled, bonus)
	o.recordAssignment(metrics.AssignmentRecord{
		JobID:         job.ID,
		SiteID:        job.SiteID,
		WorkerID:      backup.ID,
		Path:          metrics.PathBackup,
		JobType:       job.Type,
		Priority:      job.Priority,
		EstimatedCost: job.Pricing.BaseRate,
		Backups:       len(job.Backups),
		Time:          now,
	})

	toWorker := Notification{
		Kind:             NotifyEmergencyAssignment,
		JobID:            job.ID,
		SiteID:           job.SiteID,
		ScheduledStart:   job.Window.Start,
		EmergencyBonus:   bonus,
		OriginalWorkerID: cancelled,
	}
	o.notify(ctx, toWorker.Kind, backup.ID, func(ctx context.Context) error {
		return o.Notifier.NotifyWorker(ctx, backup.ID, toWorker)
	})
	toOwner := Notification{
		Kind:             NotifyCleanerReplaced,
		JobID:            job.ID,
		SiteID:           job.SiteID,
		ScheduledStart:   job.Window.Start,
		OriginalWorkerID: cancelled,
		NewWorkerID:      backup.ID,
		NewWorkerName:    backup.Name,
		Reason:           "Original cleaner unavailable",
	}
	o.notify(ctx, toOwner.Kind, job.SiteID, func(ctx context.Context) error {
		return o.Notifier.NotifySiteOwner(ctx, job.SiteID, toOwner)
	})

	return o.newEvent(ctx, events.WorkerAssigned, job.SiteID, events.WorkerAssignedPayload{
		JobID:     job.ID,
		WorkerID:  backup.ID,
		BackupIDs: job.Backups,
	})
}

// isAvailable checks live availability: the worker must not be offline and,
// when it declared its day, must have a free slot covering the job window.
func (o *Orchestrator) isAvailable(ctx context.Context, w model.Worker, job model.Job) bool {
	if w.Status == model.WorkerOffline {
		return false
	}
	av, err := o.Availability.GetAvailability(ctx, w.ID, job.Window.Start)
	if errors.Is(err, ErrNotFound) {
		return true
	}
	if err != nil {
		o.log.Warnf("availability of %s: %v", w.ID, err)
		return false
	}
	return av.Covers(job.Window, job.Type == model.JobEmergency)
}
