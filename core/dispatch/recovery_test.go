package dispatch_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/cleandispatch/core/dispatch"
	"github.com/kilianp07/cleandispatch/core/events"
	"github.com/kilianp07/cleandispatch/core/model"
)

func assignedJob(t *testing.T, f *fixture) string {
	t.Helper()
	id := f.schedule()
	_, err := f.orch.AssignCleaner(context.Background(), id)
	require.NoError(t, err)
	return id
}

func TestRecovery_PromotesFirstAvailableBackup(t *testing.T) {
	f := newFixture(t)
	f.addPool()
	w3, err := f.store.Workers().FindByID(context.Background(), "w3")
	require.NoError(t, err)
	w3.Rates.Standard = 30
	require.NoError(t, f.store.PutWorker(w3))
	id := assignedJob(t, f)
	require.NoError(t, f.store.SetWorkerStatus("w2", model.WorkerOffline))

	// one hour before the start
	f.setNow(jobStart.Add(-time.Hour))
	d := f.publish(events.WorkerUnavailable, events.WorkerUnavailablePayload{WorkerID: "w1", JobID: id, Reason: "sick"})
	require.True(t, d.OK(), "%v", d.Failures)

	job := f.job(id)
	assert.Equal(t, model.JobAssigned, job.Status)
	assert.Equal(t, "w3", job.AssignedWorker)
	assert.Equal(t, []string{"w2", "w4"}, job.Backups)
	assert.Equal(t, 60.0, job.Pricing.BaseRate, "two hours at the backup's 30/h")
	assert.Equal(t, []string{
		model.TimelineCreated,
		model.TimelineAssigned,
		model.TimelineCancelled,
		model.TimelineBackupAssigned,
	}, timelineEvents(job))
	assert.Equal(t, "sick", job.Timeline[2].Details)
	assert.Equal(t, "w1", job.Timeline[2].Actor)

	assert.Empty(t, f.calendar.Reservations("w1"))
	assert.Len(t, f.calendar.Reservations("w3"), 1)

	f.orch.Flush()
	toWorker := f.notifier.toWorkers(dispatch.NotifyEmergencyAssignment)
	require.Len(t, toWorker, 1)
	assert.Equal(t, "w3", toWorker[0].Target)
	assert.Equal(t, 50.0, toWorker[0].N.EmergencyBonus)
	assert.Equal(t, "w1", toWorker[0].N.OriginalWorkerID)

	toOwner := f.notifier.toOwners(dispatch.NotifyCleanerReplaced)
	require.Len(t, toOwner, 1)
	assert.Equal(t, "site-1", toOwner[0].Target)
	assert.Equal(t, "w3", toOwner[0].N.NewWorkerID)
	assert.Equal(t, "Cleaner w3", toOwner[0].N.NewWorkerName)

	assigned := f.published(events.WorkerAssigned)
	require.Len(t, assigned, 2)
	assert.Equal(t, d.Event.ID, assigned[1].CorrelationID)

	asn, _, rec, _, _ := dispatch.Collectors()
	assert.Equal(t, 1.0, testutil.ToFloat64(asn.WithLabelValues("backup")))
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.WithLabelValues("backup")))
}

func TestRecovery_BonusFollowsNotice(t *testing.T) {
	f := newFixture(t)
	f.addPool()
	id := assignedJob(t, f)

	// three hours of notice
	d := f.publish(events.WorkerUnavailable, events.WorkerUnavailablePayload{WorkerID: "w1", JobID: id})
	require.True(t, d.OK())
	f.orch.Flush()
	sent := f.notifier.toWorkers(dispatch.NotifyEmergencyAssignment)
	require.Len(t, sent, 1)
	assert.Equal(t, "w2", sent[0].Target)
	assert.Equal(t, 25.0, sent[0].N.EmergencyBonus)
}

func TestRecovery_SkipsBackupWithoutFreeSlot(t *testing.T) {
	f := newFixture(t)
	f.addPool()
	id := assignedJob(t, f)
	require.NoError(t, f.store.PutAvailability(model.Availability{
		WorkerID: "w2",
		Date:     model.DateKey(jobStart),
		Slots: []model.AvailabilitySlot{{
			Window:    model.TimeWindow{Start: jobStart.Add(-6 * time.Hour), End: jobStart.Add(-time.Hour)},
			Available: true,
		}},
	}))

	f.publish(events.WorkerUnavailable, events.WorkerUnavailablePayload{WorkerID: "w1", JobID: id})
	assert.Equal(t, "w3", f.job(id).AssignedWorker)
}

func TestRecovery_DuplicateCancellationsAreSerialized(t *testing.T) {
	f := newFixture(t)
	f.addPool()
	id := assignedJob(t, f)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.publish(events.WorkerUnavailable, events.WorkerUnavailablePayload{WorkerID: "w1", JobID: id})
		}()
	}
	wg.Wait()

	job := f.job(id)
	assert.Equal(t, "w2", job.AssignedWorker)
	assert.Equal(t, []string{"w3", "w4"}, job.Backups)
	cancelled := 0
	for _, e := range job.Timeline {
		if e.Event == model.TimelineCancelled {
			cancelled++
		}
	}
	assert.Equal(t, 1, cancelled)

	_, _, rec, _, _ := dispatch.Collectors()
	assert.Equal(t, 1.0, testutil.ToFloat64(rec.WithLabelValues("backup")))
	assert.Equal(t, 3.0, testutil.ToFloat64(rec.WithLabelValues("ignored")))
}

func TestRecovery_IgnoresUnassignedJobs(t *testing.T) {
	f := newFixture(t)
	f.addPool()
	id := f.schedule()

	d := f.publish(events.WorkerUnavailable, events.WorkerUnavailablePayload{WorkerID: "w1", JobID: id})
	require.True(t, d.OK())
	job := f.job(id)
	assert.Equal(t, model.JobPending, job.Status)
	assert.Equal(t, []string{model.TimelineCreated}, timelineEvents(job))
}

func TestRecovery_MissingJobIsAHandlerFailure(t *testing.T) {
	f := newFixture(t)
	d := f.publish(events.WorkerUnavailable, events.WorkerUnavailablePayload{WorkerID: "w1", JobID: "ghost"})
	require.Len(t, d.Failures, 1)
	assert.ErrorIs(t, d.Failures[0], dispatch.ErrNotFound)
}

// failingWorkers fails lookups of the listed workers with a storage error.
type failingWorkers struct {
	dispatch.WorkerRepository
	fail map[string]bool
}

var errWorkerStore = errors.New("worker store unavailable")

func (w failingWorkers) FindByID(ctx context.Context, id string) (model.Worker, error) {
	if w.fail[id] {
		return model.Worker{}, errWorkerStore
	}
	return w.WorkerRepository.FindByID(ctx, id)
}

func withFailingWorkers(ids ...string) func(*dispatch.Deps) {
	return func(d *dispatch.Deps) {
		fail := map[string]bool{}
		for _, id := range ids {
			fail[id] = true
		}
		d.Workers = failingWorkers{WorkerRepository: d.Workers, fail: fail}
	}
}

func TestRecovery_SkipsBackupOnLookupError(t *testing.T) {
	f := newFixture(t, withFailingWorkers("w2"))
	f.addPool()
	id := assignedJob(t, f)

	d := f.publish(events.WorkerUnavailable, events.WorkerUnavailablePayload{WorkerID: "w1", JobID: id})
	require.True(t, d.OK(), "%v", d.Failures)

	job := f.job(id)
	assert.Equal(t, model.JobAssigned, job.Status)
	assert.Equal(t, "w3", job.AssignedWorker)
	assert.Empty(t, f.calendar.Reservations("w1"))
	assert.Len(t, f.calendar.Reservations("w3"), 1)
}

func TestRecovery_LookupErrorsFallBackToEmergency(t *testing.T) {
	f := newFixture(t, withFailingWorkers("w2", "w3", "w4"))
	f.addPool()
	id := assignedJob(t, f)

	d := f.publish(events.WorkerUnavailable, events.WorkerUnavailablePayload{WorkerID: "w1", JobID: id})
	require.True(t, d.OK(), "%v", d.Failures)

	job := f.job(id)
	assert.Equal(t, model.JobPending, job.Status)
	assert.Empty(t, job.AssignedWorker)
	assert.True(t, job.RequiresIntervention)
	assert.Empty(t, f.calendar.Reservations("w1"))

	// a redelivered cancellation finds nothing to do
	f.publish(events.WorkerUnavailable, events.WorkerUnavailablePayload{WorkerID: "w1", JobID: id})
	cancelled := 0
	for _, e := range f.job(id).Timeline {
		if e.Event == model.TimelineCancelled {
			cancelled++
		}
	}
	assert.Equal(t, 1, cancelled)
}
