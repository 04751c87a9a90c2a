// Package jobs exposes job reads and the manual dispatch actions.
package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/kilianp07/cleandispatch/core/dispatch"
	"github.com/kilianp07/cleandispatch/core/model"
)

// Dispatcher is the subset of the orchestrator used by the handlers.
type Dispatcher interface {
	Job(ctx context.Context, id string) (model.Job, error)
	ScheduleJob(ctx context.Context, job model.Job) (string, error)
	AssignCleaner(ctx context.Context, jobID string) (dispatch.Assignment, error)
	AcceptEmergencyOffer(ctx context.Context, jobID, workerID string) (model.Job, error)
	FailJob(ctx context.Context, jobID, reason, actor string) (model.Job, error)
	OpenOffer(jobID string) (dispatch.Offer, bool)
}

// Mount registers the job routes on mux.
func Mount(mux *http.ServeMux, d Dispatcher) {
	h := handlers{d: d}
	mux.HandleFunc("POST /api/jobs", h.schedule)
	mux.HandleFunc("GET /api/jobs/{id}", h.get)
	mux.HandleFunc("POST /api/jobs/{id}/assign", h.assign)
	mux.HandleFunc("GET /api/jobs/{id}/offer", h.offer)
	mux.HandleFunc("POST /api/jobs/{id}/offer/accept", h.accept)
	mux.HandleFunc("POST /api/jobs/{id}/fail", h.fail)
}

type handlers struct{ d Dispatcher }

func (h handlers) get(w http.ResponseWriter, r *http.Request) {
	job, err := h.d.Job(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

type scheduleRequest struct {
	SiteID    string           `json:"site_id"`
	BookingID string           `json:"booking_id"`
	Type      model.JobType    `json:"type"`
	Priority  model.Priority   `json:"priority"`
	Window    model.TimeWindow `json:"window"`
	// Assign runs AssignCleaner right after scheduling.
	Assign bool `json:"assign"`
}

type scheduleResponse struct {
	JobID      string               `json:"job_id"`
	Assignment *dispatch.Assignment `json:"assignment,omitempty"`
	Error      string               `json:"assign_error,omitempty"`
}

func (h handlers) schedule(w http.ResponseWriter, r *http.Request) {
	var req scheduleRequest
	if !decode(w, r, &req) {
		return
	}
	id, err := h.d.ScheduleJob(r.Context(), model.Job{
		SiteID:    req.SiteID,
		BookingID: req.BookingID,
		Type:      req.Type,
		Priority:  req.Priority,
		Window:    req.Window,
	})
	if err != nil {
		writeError(w, err)
		return
	}
	resp := scheduleResponse{JobID: id}
	if req.Assign {
		a, err := h.d.AssignCleaner(r.Context(), id)
		if err != nil {
			resp.Error = err.Error()
		} else {
			resp.Assignment = &a
		}
	}
	writeJSON(w, http.StatusCreated, resp)
}

func (h handlers) assign(w http.ResponseWriter, r *http.Request) {
	a, err := h.d.AssignCleaner(r.Context(), r.PathValue("id"))
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, a)
}

func (h handlers) offer(w http.ResponseWriter, r *http.Request) {
	of, ok := h.d.OpenOffer(r.PathValue("id"))
	if !ok {
		writeError(w, dispatch.ErrNoOpenOffer)
		return
	}
	writeJSON(w, http.StatusOK, of)
}

func (h handlers) accept(w http.ResponseWriter, r *http.Request) {
	var req struct {
		WorkerID string `json:"worker_id"`
	}
	if !decode(w, r, &req) {
		return
	}
	if req.WorkerID == "" {
		http.Error(w, "worker_id is required", http.StatusBadRequest)
		return
	}
	job, err := h.d.AcceptEmergencyOffer(r.Context(), r.PathValue("id"), req.WorkerID)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func (h handlers) fail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Reason string `json:"reason"`
		Actor  string `json:"actor"`
	}
	if !decode(w, r, &req) {
		return
	}
	job, err := h.d.FailJob(r.Context(), r.PathValue("id"), req.Reason, req.Actor)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, job)
}

func decode(w http.ResponseWriter, r *http.Request, v any) bool {
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err == nil && len(body) > 0 {
		err = json.Unmarshal(body, v)
	}
	if err != nil {
		http.Error(w, "invalid body: "+err.Error(), http.StatusBadRequest)
		return false
	}
	return true
}

// statusOf maps dispatch errors to HTTP status codes.
func statusOf(err error) int {
	switch {
	case errors.Is(err, dispatch.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, dispatch.ErrInvalidJob):
		return http.StatusBadRequest
	case errors.Is(err, dispatch.ErrNotInvited):
		return http.StatusForbidden
	case errors.Is(err, dispatch.ErrNoAvailableWorkers),
		errors.Is(err, dispatch.ErrJobAlreadyTaken),
		errors.Is(err, dispatch.ErrNoOpenOffer),
		errors.Is(err, model.ErrInvalidTransition):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusOf(err), map[string]string{"error": err.Error()})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
