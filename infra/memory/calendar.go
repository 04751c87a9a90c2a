package memory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/kilianp07/cleandispatch/core/dispatch"
	"github.com/kilianp07/cleandispatch/core/model"
)

// Calendar is a process-local dispatch.Calendar.
type Calendar struct {
	mu       sync.Mutex
	byWorker map[string]map[string]model.TimeWindow
}

func NewCalendar() *Calendar {
	return &Calendar{byWorker: map[string]map[string]model.TimeWindow{}}
}

// Reserve books the window unless it overlaps another job of the worker.
func (c *Calendar) Reserve(ctx context.Context, r model.Reservation) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := r.Window.Validate(); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	held := c.byWorker[r.WorkerID]
	for jobID, w := range held {
		if jobID != r.JobID && w.Overlaps(r.Window) {
			return fmt.Errorf("worker %s holds job %s: %w", r.WorkerID, jobID, dispatch.ErrReservationConflict)
		}
	}
	if held == nil {
		held = map[string]model.TimeWindow{}
		c.byWorker[r.WorkerID] = held
	}
	held[r.JobID] = r.Window
	return nil
}

// Release drops the reservation. Releasing an unknown reservation is a no-op.
func (c *Calendar) Release(ctx context.Context, workerID, jobID string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	held := c.byWorker[workerID]
	delete(held, jobID)
	if len(held) == 0 {
		delete(c.byWorker, workerID)
	}
	return nil
}

// Reservations lists the jobs a worker holds.
func (c *Calendar) Reservations(workerID string) []model.Reservation {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Reservation, 0, len(c.byWorker[workerID]))
	for jobID, w := range c.byWorker[workerID] {
		out = append(out, model.Reservation{WorkerID: workerID, JobID: jobID, Window: w})
	}
	return out
}

type claim struct {
	worker  string
	expires time.Time
}

// Claims is a process-local dispatch.ClaimStore.
type Claims struct {
	mu     sync.Mutex
	claims map[string]claim
	now    func() time.Time
}

// NewClaims creates a claim store. A nil clock uses time.Now.
func NewClaims(now func() time.Time) *Claims {
	if now == nil {
		now = time.Now
	}
	return &Claims{claims: map[string]claim{}, now: now}
}

// Claim records workerID as the winner unless an unexpired claim exists.
// Only the call that creates the claim wins, even for the same worker.
func (c *Claims) Claim(ctx context.Context, jobID, workerID string, ttl time.Duration) (string, bool, error) {
	if err := ctx.Err(); err != nil {
		return "", false, err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	now := c.now()
	if cur, ok := c.claims[jobID]; ok && (cur.expires.IsZero() || now.Before(cur.expires)) {
		return cur.worker, false, nil
	}
	cl := claim{worker: workerID}
	if ttl > 0 {
		cl.expires = now.Add(ttl)
	}
	c.claims[jobID] = cl
	return workerID, true, nil
}

func (c *Claims) Release(ctx context.Context, jobID string) error {
	c.mu.Lock()
	delete(c.claims, jobID)
	c.mu.Unlock()
	return nil
}
