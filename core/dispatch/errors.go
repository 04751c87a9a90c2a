package dispatch

import "errors"

var (
	// ErrNotFound is returned when a job, site, worker or booking does not exist.
	ErrNotFound = errors.New("not found")
	// ErrNoAvailableWorkers is returned when no candidate survives filtering.
	ErrNoAvailableWorkers = errors.New("no available workers")
	// ErrReservationConflict is returned by a Calendar when the worker already
	// holds an overlapping reservation. Callers move on to the next candidate.
	ErrReservationConflict = errors.New("reservation conflict")
	// ErrJobAlreadyTaken is returned to every emergency responder but the first.
	ErrJobAlreadyTaken = errors.New("job already taken")
	// ErrNotInvited is returned when a worker accepts an offer it never received.
	ErrNotInvited = errors.New("worker not invited")
	// ErrNoOpenOffer is returned when the job has no emergency offer running.
	ErrNoOpenOffer = errors.New("no open emergency offer")
	// ErrInvalidJob is returned for a job that cannot be scheduled.
	ErrInvalidJob = errors.New("invalid job")
)
