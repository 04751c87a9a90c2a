// Package events serves the event log and accepts webhook events.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/kilianp07/cleandispatch/core/eventlog"
	"github.com/kilianp07/cleandispatch/core/events"
	"github.com/kilianp07/cleandispatch/internal/eventbus"
)

// Source answers event queries. eventlog.Store implements it.
type Source interface {
	Query(ctx context.Context, q eventlog.Query) ([]events.Event, error)
}

// BusSource queries the in-process log of a bus.
type BusSource struct{ Bus *eventbus.Bus }

func (s BusSource) Query(_ context.Context, q eventlog.Query) ([]events.Event, error) {
	var out []events.Event
	for ev := range s.Bus.Events(eventbus.Filter{SiteID: q.SiteID, Since: q.Since}) {
		if !q.Match(ev) {
			continue
		}
		out = append(out, ev)
		if q.Limit > 0 && len(out) == q.Limit {
			break
		}
	}
	return out, nil
}

// NewQueryHandler serves GET /api/events?site_id=&type=&since=&until=&limit=.
func NewQueryHandler(src Source) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q, err := parseQuery(r)
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		evs, err := src.Query(r.Context(), q)
		if err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
			return
		}
		if evs == nil {
			evs = []events.Event{}
		}
		writeJSON(w, http.StatusOK, evs)
	})
}

func parseQuery(r *http.Request) (eventlog.Query, error) {
	v := r.URL.Query()
	q := eventlog.Query{SiteID: v.Get("site_id"), Type: events.Type(v.Get("type"))}
	if s := v.Get("since"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return q, fmt.Errorf("since: %w", err)
		}
		q.Since = t
	}
	if s := v.Get("until"); s != "" {
		t, err := time.Parse(time.RFC3339, s)
		if err != nil {
			return q, fmt.Errorf("until: %w", err)
		}
		q.Until = t
	}
	if s := v.Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			return q, fmt.Errorf("limit: invalid value %q", s)
		}
		q.Limit = n
	}
	return q, nil
}

type ingestRequest struct {
	ID        string          `json:"id"`
	Type      events.Type     `json:"type"`
	SiteID    string          `json:"site_id"`
	Timestamp time.Time       `json:"timestamp"`
	Payload   json.RawMessage `json:"payload"`
}

// DeliveryResponse reports how the handlers took an ingested event.
type DeliveryResponse struct {
	EventID  string   `json:"event_id"`
	Handlers int      `json:"handlers"`
	Failures []string `json:"failures,omitempty"`
}

// NewIngestHandler serves POST /api/events. The body is an event envelope;
// it is published synchronously and the delivery summary is returned.
func NewIngestHandler(pub eventbus.Publisher) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		var req ingestRequest
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "invalid event: "+err.Error(), http.StatusBadRequest)
			return
		}
		if !req.Type.Valid() {
			http.Error(w, fmt.Sprintf("unknown event type %q", req.Type), http.StatusBadRequest)
			return
		}
		if len(req.Payload) == 0 {
			http.Error(w, "missing payload", http.StatusBadRequest)
			return
		}
		d := pub.Publish(r.Context(), events.Event{
			ID:        req.ID,
			Type:      req.Type,
			SiteID:    req.SiteID,
			Timestamp: req.Timestamp,
			Payload:   req.Payload,
		})
		resp := DeliveryResponse{EventID: d.Event.ID, Handlers: d.Handlers}
		for _, f := range d.Failures {
			resp.Failures = append(resp.Failures, f.Error())
		}
		writeJSON(w, http.StatusAccepted, resp)
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
