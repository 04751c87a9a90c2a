// Package events defines the events carried by the dispatch event bus.
//
// Consumed by the dispatcher:
//   - GuestCheckout: a guest left a site, a turnover cleaning is needed
//   - BookingConfirmed: a new stay was booked, a pre-arrival cleaning is needed
//   - WorkerUnavailable: the assigned cleaner cancelled or did not show up
//   - JobStarted, JobCompleted, JobVerified: progress reported by the worker app
//   - OfferAccepted: a worker accepted an emergency offer
//
// Published by the dispatcher:
//   - WorkerAssigned: a primary cleaner (and its backups) holds the job
//   - JobEscalated: nobody could be found, the site owner must act
package events
