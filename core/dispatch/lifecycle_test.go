package dispatch_test

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/cleandispatch/core/dispatch"
	"github.com/kilianp07/cleandispatch/core/events"
	"github.com/kilianp07/cleandispatch/core/model"
)

func TestGuestCheckout_CreatesAndAssignsTurnover(t *testing.T) {
	f := newFixture(t)
	f.addPool()
	checkout := defaultNow
	require.NoError(t, f.store.PutBooking(model.Booking{ID: "next", SiteID: "site-1", CheckIn: checkout.Add(3 * time.Hour)}))

	payload := events.GuestCheckoutPayload{BookingID: "b1", SiteID: "site-1", CheckoutTime: checkout}
	d := f.publish(events.GuestCheckout, payload)
	require.True(t, d.OK(), "%v", d.Failures)
	// redelivery of the same checkout
	d = f.publish(events.GuestCheckout, payload)
	require.True(t, d.OK(), "%v", d.Failures)

	jobs := f.store.ListJobs()
	require.Len(t, jobs, 1)
	job := jobs[0]
	assert.Equal(t, model.SourceCheckout, job.Source)
	assert.Equal(t, "b1", job.BookingID)
	assert.Equal(t, model.PriorityCritical, job.Priority)
	assert.Equal(t, checkout.Add(30*time.Minute), job.Window.Start)
	assert.Equal(t, 2*time.Hour, job.Window.Duration())
	assert.Equal(t, model.JobAssigned, job.Status)
	assert.Equal(t, "w1", job.AssignedWorker)
}

func TestGuestCheckout_PriorityWithoutNextBooking(t *testing.T) {
	f := newFixture(t)
	f.addPool()
	d := f.publish(events.GuestCheckout, events.GuestCheckoutPayload{BookingID: "b1", SiteID: "site-1", CheckoutTime: defaultNow})
	require.True(t, d.OK(), "%v", d.Failures)
	jobs := f.store.ListJobs()
	require.Len(t, jobs, 1)
	assert.Equal(t, model.PriorityMedium, jobs[0].Priority)
}

func TestGuestCheckout_NoWorkersEscalates(t *testing.T) {
	f := newFixture(t)
	d := f.publish(events.GuestCheckout, events.GuestCheckoutPayload{BookingID: "b1", SiteID: "site-1", CheckoutTime: defaultNow})
	require.True(t, d.OK(), "%v", d.Failures)

	jobs := f.store.ListJobs()
	require.Len(t, jobs, 1)
	job := jobs[0]
	assert.Equal(t, model.JobPending, job.Status)
	assert.True(t, job.RequiresIntervention)
	assert.Equal(t, []string{
		model.TimelineCreated,
		model.TimelineAssignmentFailed,
		model.TimelineEmergency,
		model.TimelineEscalated,
	}, timelineEvents(job))

	escalated := f.published(events.JobEscalated)
	require.Len(t, escalated, 1)
	assert.Equal(t, d.Event.ID, escalated[0].CorrelationID)
}

func TestGuestCheckout_InvalidPayload(t *testing.T) {
	f := newFixture(t)
	d := f.publish(events.GuestCheckout, events.GuestCheckoutPayload{BookingID: "b1", SiteID: "site-1"})
	require.Len(t, d.Failures, 1)
	assert.ErrorIs(t, d.Failures[0], dispatch.ErrInvalidJob)
}

func TestBookingConfirmed_SchedulesPreArrivalCleaning(t *testing.T) {
	f := newFixture(t)
	f.addPool()
	checkIn := defaultNow.Add(8 * time.Hour)
	require.NoError(t, f.store.PutBooking(model.Booking{ID: "b7", SiteID: "site-1", CheckIn: checkIn, CheckOut: checkIn.Add(72 * time.Hour)}))
	require.NoError(t, f.store.PutBooking(model.Booking{ID: "b8", SiteID: "site-1", CheckIn: defaultNow.Add(30 * time.Minute)}))

	d := f.publish(events.BookingConfirmed, events.BookingConfirmedPayload{BookingID: "b7"})
	require.True(t, d.OK(), "%v", d.Failures)
	f.publish(events.BookingConfirmed, events.BookingConfirmedPayload{BookingID: "b7"})
	// too late to clean before this guest arrives
	d = f.publish(events.BookingConfirmed, events.BookingConfirmedPayload{BookingID: "b8"})
	require.True(t, d.OK(), "%v", d.Failures)

	jobs := f.store.ListJobs()
	require.Len(t, jobs, 1)
	job := jobs[0]
	assert.Equal(t, model.SourcePreArrival, job.Source)
	assert.Equal(t, checkIn.Add(-time.Hour), job.Window.End)
	assert.Equal(t, checkIn.Add(-3*time.Hour), job.Window.Start)
	assert.Equal(t, model.PriorityMedium, job.Priority)
	assert.Equal(t, model.JobAssigned, job.Status)
}

func TestBookingConfirmed_UnknownBooking(t *testing.T) {
	f := newFixture(t)
	d := f.publish(events.BookingConfirmed, events.BookingConfirmedPayload{BookingID: "ghost"})
	require.Len(t, d.Failures, 1)
	assert.ErrorIs(t, d.Failures[0], dispatch.ErrNotFound)
}

func TestLifecycle_StartCompleteVerify(t *testing.T) {
	f := newFixture(t)
	f.addPool()
	id := assignedJob(t, f)

	require.True(t, f.publish(events.JobStarted, events.JobProgressPayload{JobID: id, WorkerID: "w1"}).OK())
	assert.Equal(t, model.JobInProgress, f.job(id).Status)

	require.True(t, f.publish(events.JobCompleted, events.JobCompletedPayload{
		JobID:   id,
		Details: events.CompletionDetails{ActualCost: 55, HostRating: 4.8, HostFeedback: "spotless"},
	}).OK())
	job := f.job(id)
	assert.Equal(t, model.JobCompleted, job.Status)
	assert.Equal(t, 55.0, job.Pricing.ActualCost)
	assert.Equal(t, 4.8, job.Quality.HostRating)
	assert.Equal(t, "spotless", job.Quality.HostFeedback)

	require.True(t, f.publish(events.JobVerified, events.JobProgressPayload{JobID: id}).OK())
	// redelivery is harmless
	require.True(t, f.publish(events.JobVerified, events.JobProgressPayload{JobID: id}).OK())
	job = f.job(id)
	assert.Equal(t, model.JobVerified, job.Status)
	assert.Equal(t, []string{
		model.TimelineCreated,
		model.TimelineAssigned,
		model.TimelineStarted,
		model.TimelineCompleted,
		model.TimelineVerified,
	}, timelineEvents(job))

	d := f.publish(events.JobStarted, events.JobProgressPayload{JobID: id})
	require.Len(t, d.Failures, 1)
	assert.ErrorIs(t, d.Failures[0], model.ErrInvalidTransition)
}

func TestLifecycle_CannotCompletePendingJob(t *testing.T) {
	f := newFixture(t)
	id := f.schedule()
	d := f.publish(events.JobCompleted, events.JobCompletedPayload{JobID: id})
	require.Len(t, d.Failures, 1)
	assert.ErrorIs(t, d.Failures[0], model.ErrInvalidTransition)
	assert.Equal(t, model.JobPending, f.job(id).Status)
}

func TestFailJob(t *testing.T) {
	f := newFixture(t)
	f.addPool()
	id := assignedJob(t, f)

	job, err := f.orch.FailJob(context.Background(), id, "stay cancelled", "owner-1")
	require.NoError(t, err)
	assert.Equal(t, model.JobFailed, job.Status)
	last := job.Timeline[len(job.Timeline)-1]
	assert.Equal(t, model.TimelineFailed, last.Event)
	assert.Equal(t, "owner-1", last.Actor)
	assert.Equal(t, "stay cancelled", last.Details)
	assert.Empty(t, f.calendar.Reservations("w1"))
	assert.Equal(t, model.JobFailed, f.job(id).Status)

	_, err = f.orch.FailJob(context.Background(), id, "again", "")
	assert.ErrorIs(t, err, model.ErrInvalidTransition)

	_, fail, _, _, _ := dispatch.Collectors()
	assert.Equal(t, 1.0, testutil.ToFloat64(fail.WithLabelValues("failed_by_owner")))
}

func TestFamiliarSiteHistoryBreaksTies(t *testing.T) {
	f := newFixture(t)
	// identical workers; the one with a good history at the site wins
	f.addWorker("a", 8, 1, 0)
	f.addWorker("b", 8, 1, 0)

	past, err := f.orch.ScheduleJob(context.Background(), model.Job{
		SiteID: "site-1",
		Window: model.TimeWindow{Start: jobStart.Add(-48 * time.Hour), End: jobStart.Add(-46 * time.Hour)},
	})
	require.NoError(t, err)
	j := f.job(past)
	j.Status = model.JobVerified
	j.AssignedWorker = "b"
	j.Quality.HostRating = 5
	require.NoError(t, f.store.Jobs().Update(context.Background(), j))

	id := f.schedule()
	a, err := f.orch.AssignCleaner(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, "b", a.Primary.Worker.ID)
	assert.Greater(t, a.Primary.Score, a.Backups[0].Score)
}
