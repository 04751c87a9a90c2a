// Package memory provides in-process implementations of the dispatch
// repositories. They back the scenario runner, the tests and single-node
// deployments.
package memory

import (
	"context"
	"fmt"
	"slices"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kilianp07/cleandispatch/core/dispatch"
	"github.com/kilianp07/cleandispatch/core/model"
)

// Store keeps workers, sites, bookings, availability and jobs in memory.
// Values are copied on the way in and out.
type Store struct {
	mu           sync.RWMutex
	workers      map[string]model.Worker
	sites        map[string]model.Site
	bookings     map[string]model.Booking
	availability map[string]model.Availability
	jobs         map[string]model.Job
	jobOrder     []string
}

func NewStore() *Store {
	return &Store{
		workers:      map[string]model.Worker{},
		sites:        map[string]model.Site{},
		bookings:     map[string]model.Booking{},
		availability: map[string]model.Availability{},
		jobs:         map[string]model.Job{},
	}
}

func availabilityKey(workerID, date string) string { return workerID + "/" + date }

// PutWorker inserts or replaces a worker.
func (s *Store) PutWorker(w model.Worker) error {
	if err := w.Validate(); err != nil {
		return err
	}
	if w.Status == "" {
		w.Status = model.WorkerAvailable
	}
	s.mu.Lock()
	s.workers[w.ID] = w
	s.mu.Unlock()
	return nil
}

// SetWorkerStatus changes the status of a known worker.
func (s *Store) SetWorkerStatus(id string, status model.WorkerStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	w, ok := s.workers[id]
	if !ok {
		return fmt.Errorf("worker %s: %w", id, dispatch.ErrNotFound)
	}
	w.Status = status
	s.workers[id] = w
	return nil
}

func (s *Store) PutSite(site model.Site) error {
	if site.ID == "" {
		return fmt.Errorf("site id is required")
	}
	s.mu.Lock()
	s.sites[site.ID] = site
	s.mu.Unlock()
	return nil
}

func (s *Store) PutBooking(b model.Booking) error {
	if b.ID == "" {
		return fmt.Errorf("booking id is required")
	}
	s.mu.Lock()
	s.bookings[b.ID] = b
	s.mu.Unlock()
	return nil
}

// PutAvailability stores the worker's calendar for a.Date.
func (s *Store) PutAvailability(a model.Availability) error {
	if a.WorkerID == "" || a.Date == "" {
		return fmt.Errorf("availability needs a worker id and a date")
	}
	s.mu.Lock()
	s.availability[availabilityKey(a.WorkerID, a.Date)] = a
	s.mu.Unlock()
	return nil
}

// ListJobs returns a snapshot of every job in creation order.
func (s *Store) ListJobs() []model.Job {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.Job, 0, len(s.jobOrder))
	for _, id := range s.jobOrder {
		out = append(out, s.jobs[id].Clone())
	}
	return out
}

// Workers is the WorkerRepository view of the store.
func (s *Store) Workers() *Workers { return &Workers{s: s} }

// Sites is the SiteRepository view of the store.
func (s *Store) Sites() *Sites { return &Sites{s: s} }

// Jobs is the JobRepository view of the store.
func (s *Store) Jobs() *Jobs { return &Jobs{s: s} }

// Bookings is the BookingRepository view of the store.
func (s *Store) Bookings() *Bookings { return &Bookings{s: s} }

// Availability is the AvailabilityRepository view of the store.
func (s *Store) Availability() *Availability { return &Availability{s: s} }

type Workers struct{ s *Store }

// FindAvailable returns the non-offline workers within radiusMiles of
// location whose declared availability, if any, covers the window.
// Workers are returned sorted by id.
func (r *Workers) FindAvailable(ctx context.Context, window model.TimeWindow, location model.Coordinates, radiusMiles float64) ([]model.Worker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []model.Worker
	for _, w := range r.s.workers {
		if w.Status == model.WorkerOffline {
			continue
		}
		if model.DistanceMiles(w.ServiceArea.Center, location) > radiusMiles {
			continue
		}
		if !r.s.coversLocked(w.ID, window, false) {
			continue
		}
		out = append(out, w)
	}
	sortWorkers(out)
	return out, nil
}

// FindEmergencyAvailable returns non-offline workers with an emergency rate
// whose availability, if declared, covers the window. Distance is ignored.
func (r *Workers) FindEmergencyAvailable(ctx context.Context, window model.TimeWindow) ([]model.Worker, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []model.Worker
	for _, w := range r.s.workers {
		if w.Status == model.WorkerOffline || !w.AcceptsEmergencies() {
			continue
		}
		if !r.s.coversLocked(w.ID, window, true) {
			continue
		}
		out = append(out, w)
	}
	sortWorkers(out)
	return out, nil
}

func (r *Workers) FindByID(ctx context.Context, id string) (model.Worker, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	w, ok := r.s.workers[id]
	if !ok {
		return model.Worker{}, fmt.Errorf("worker %s: %w", id, dispatch.ErrNotFound)
	}
	return w, nil
}

func (s *Store) coversLocked(workerID string, window model.TimeWindow, emergency bool) bool {
	a, ok := s.availability[availabilityKey(workerID, model.DateKey(window.Start))]
	if !ok {
		return true
	}
	return a.Covers(window, emergency)
}

func sortWorkers(ws []model.Worker) {
	sort.Slice(ws, func(i, j int) bool { return ws[i].ID < ws[j].ID })
}

type Sites struct{ s *Store }

func (r *Sites) FindByID(ctx context.Context, id string) (model.Site, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	site, ok := r.s.sites[id]
	if !ok {
		return model.Site{}, fmt.Errorf("site %s: %w", id, dispatch.ErrNotFound)
	}
	return site, nil
}

type Bookings struct{ s *Store }

func (r *Bookings) FindByID(ctx context.Context, id string) (model.Booking, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	b, ok := r.s.bookings[id]
	if !ok {
		return model.Booking{}, fmt.Errorf("booking %s: %w", id, dispatch.ErrNotFound)
	}
	return b, nil
}

// NextBooking returns the earliest booking of the site checking in at or after after.
func (r *Bookings) NextBooking(ctx context.Context, siteID string, after time.Time) (model.Booking, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var (
		next  model.Booking
		found bool
	)
	for _, b := range r.s.bookings {
		if b.SiteID != siteID || b.CheckIn.Before(after) || b.Status == "cancelled" {
			continue
		}
		if !found || b.CheckIn.Before(next.CheckIn) || (b.CheckIn.Equal(next.CheckIn) && b.ID < next.ID) {
			next, found = b, true
		}
	}
	if !found {
		return model.Booking{}, fmt.Errorf("next booking of %s: %w", siteID, dispatch.ErrNotFound)
	}
	return next, nil
}

type Availability struct{ s *Store }

func (r *Availability) GetAvailability(ctx context.Context, workerID string, date time.Time) (model.Availability, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	key := model.DateKey(date)
	a, ok := r.s.availability[availabilityKey(workerID, key)]
	if !ok {
		return model.Availability{}, fmt.Errorf("availability of %s on %s: %w", workerID, key, dispatch.ErrNotFound)
	}
	return a, nil
}

type Jobs struct{ s *Store }

func (r *Jobs) Create(ctx context.Context, job model.Job) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if job.ID == "" {
		job.ID = uuid.NewString()
	}
	if _, ok := r.s.jobs[job.ID]; ok {
		return "", fmt.Errorf("job %s already exists", job.ID)
	}
	r.s.jobs[job.ID] = job.Clone()
	r.s.jobOrder = append(r.s.jobOrder, job.ID)
	return job.ID, nil
}

func (r *Jobs) Update(ctx context.Context, job model.Job) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.jobs[job.ID]; !ok {
		return fmt.Errorf("job %s: %w", job.ID, dispatch.ErrNotFound)
	}
	r.s.jobs[job.ID] = job.Clone()
	return nil
}

func (r *Jobs) FindByID(ctx context.Context, id string) (model.Job, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	j, ok := r.s.jobs[id]
	if !ok {
		return model.Job{}, fmt.Errorf("job %s: %w", id, dispatch.ErrNotFound)
	}
	return j.Clone(), nil
}

func (r *Jobs) FindByWorkerAndSite(ctx context.Context, workerID, siteID string) ([]model.Job, error) {
	return r.filter(func(j model.Job) bool { return j.AssignedWorker == workerID && j.SiteID == siteID }), nil
}

func (r *Jobs) FindByBooking(ctx context.Context, bookingID string) ([]model.Job, error) {
	return r.filter(func(j model.Job) bool { return j.BookingID == bookingID }), nil
}

// AppendTimelineEntry adds one entry without touching the rest of the job.
func (r *Jobs) AppendTimelineEntry(ctx context.Context, jobID string, entry model.TimelineEntry) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	j, ok := r.s.jobs[jobID]
	if !ok {
		return fmt.Errorf("job %s: %w", jobID, dispatch.ErrNotFound)
	}
	j.Timeline = append(slices.Clip(j.Timeline), entry)
	r.s.jobs[jobID] = j
	return nil
}

func (r *Jobs) filter(keep func(model.Job) bool) []model.Job {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	var out []model.Job
	for _, id := range r.s.jobOrder {
		if j := r.s.jobs[id]; keep(j) {
			out = append(out, j.Clone())
		}
	}
	return out
}
