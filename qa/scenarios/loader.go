// Package scenarios replays YAML dispatch stories against in-memory stores
// and checks the resulting jobs.
package scenarios

import (
	"fmt"
	"os"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/kilianp07/cleandispatch/core/dispatch"
	"github.com/kilianp07/cleandispatch/core/model"
)

// JobDef is a job scheduled before the steps run.
type JobDef struct {
	ID        string         `yaml:"id"`
	SiteID    string         `yaml:"site_id"`
	BookingID string         `yaml:"booking_id,omitempty"`
	Type      model.JobType  `yaml:"type,omitempty"`
	Priority  model.Priority `yaml:"priority,omitempty"`
	Start     time.Time      `yaml:"start"`
	End       time.Time      `yaml:"end"`
	// Status seeds history, e.g. a verified job with a host rating.
	Status         model.JobStatus `yaml:"status,omitempty"`
	AssignedWorker string          `yaml:"assigned_worker,omitempty"`
	HostRating     float64         `yaml:"host_rating,omitempty"`
}

func (j JobDef) ToModel() model.Job {
	return model.Job{
		ID:             j.ID,
		SiteID:         j.SiteID,
		BookingID:      j.BookingID,
		Type:           j.Type,
		Priority:       j.Priority,
		Window:         model.TimeWindow{Start: j.Start, End: j.End},
		AssignedWorker: j.AssignedWorker,
		Quality:        model.Quality{HostRating: j.HostRating},
	}
}

// JobRef names a job by id or by the booking that created it.
type JobRef struct {
	Job     string `yaml:"job,omitempty"`
	Booking string `yaml:"booking,omitempty"`
}

func (r JobRef) String() string {
	if r.Job != "" {
		return r.Job
	}
	return "booking " + r.Booking
}

// EventDef is an event published on the bus.
type EventDef struct {
	Type    string         `yaml:"type"`
	SiteID  string         `yaml:"site_id"`
	Payload map[string]any `yaml:"payload"`
}

// Step is one action of the story. Exactly one action field is set.
type Step struct {
	// Advance moves the clock before the action.
	Advance time.Duration `yaml:"advance,omitempty"`

	Event        *EventDef `yaml:"event,omitempty"`
	Assign       *JobRef   `yaml:"assign,omitempty"`
	Accept       *Accept   `yaml:"accept,omitempty"`
	Fail         *Fail     `yaml:"fail,omitempty"`
	ExpireOffers bool      `yaml:"expire_offers,omitempty"`
	SetStatus    *Status   `yaml:"set_status,omitempty"`

	// ExpectError is a substring of the error the step must fail with.
	ExpectError string `yaml:"expect_error,omitempty"`
}

type Accept struct {
	JobRef `yaml:",inline"`
	Worker string `yaml:"worker"`
}

type Fail struct {
	JobRef `yaml:",inline"`
	Reason string `yaml:"reason"`
}

// Status changes a worker's live status, e.g. going offline before recovery.
type Status struct {
	Worker string             `yaml:"worker"`
	Status model.WorkerStatus `yaml:"status"`
}

// JobExpectation checks one job after the run. Empty fields are not checked.
type JobExpectation struct {
	JobRef               `yaml:",inline"`
	Status               model.JobStatus `yaml:"status,omitempty"`
	Worker               *string         `yaml:"worker,omitempty"`
	Backups              []string        `yaml:"backups,omitempty"`
	Priority             model.Priority  `yaml:"priority,omitempty"`
	Type                 model.JobType   `yaml:"type,omitempty"`
	RequiresIntervention *bool           `yaml:"requires_intervention,omitempty"`
	// Timeline lists event names that must appear in this order.
	Timeline []string `yaml:"timeline,omitempty"`
}

type Expected struct {
	Jobs []JobExpectation `yaml:"jobs"`
	// Notifications counts sent notifications by kind.
	Notifications map[dispatch.NotificationKind]int `yaml:"notifications,omitempty"`
	Escalations   *int                              `yaml:"escalations,omitempty"`
	JobCount      *int                              `yaml:"job_count,omitempty"`
}

type Scenario struct {
	Name         string               `yaml:"name"`
	Description  string               `yaml:"description,omitempty"`
	Start        time.Time            `yaml:"start"`
	Sites        []model.Site         `yaml:"sites"`
	Workers      []model.Worker       `yaml:"workers"`
	Availability []model.Availability `yaml:"availability,omitempty"`
	Bookings     []model.Booking      `yaml:"bookings,omitempty"`
	Jobs         []JobDef             `yaml:"jobs,omitempty"`
	Steps        []Step               `yaml:"steps"`
	Expected     Expected             `yaml:"expected"`
}

func Load(path string) (*Scenario, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var sc Scenario
	if err := yaml.Unmarshal(data, &sc); err != nil {
		return nil, err
	}
	if err := sc.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &sc, nil
}

// Validate checks the references a run depends on.
func (sc *Scenario) Validate() error {
	if sc.Name == "" {
		return fmt.Errorf("scenario name is required")
	}
	if sc.Start.IsZero() {
		return fmt.Errorf("scenario %s: start is required", sc.Name)
	}
	for i, st := range sc.Steps {
		n := 0
		for _, set := range []bool{st.Event != nil, st.Assign != nil, st.Accept != nil, st.Fail != nil, st.ExpireOffers, st.SetStatus != nil} {
			if set {
				n++
			}
		}
		if n != 1 && !(n == 0 && st.Advance > 0) {
			return fmt.Errorf("scenario %s: step %d must have exactly one action", sc.Name, i)
		}
	}
	return nil
}
