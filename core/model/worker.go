package model

import (
	"fmt"
	"time"
)

// WorkerStatus reports whether a cleaner can currently take work.
type WorkerStatus string

const (
	WorkerAvailable WorkerStatus = "available"
	WorkerBusy      WorkerStatus = "busy"
	WorkerOffline   WorkerStatus = "offline"
)

// ServiceArea is the circle a worker accepts jobs in.
type ServiceArea struct {
	Center      Coordinates `json:"center" yaml:"center"`
	RadiusMiles float64     `json:"radius_miles" yaml:"radius_miles"`
}

// WorkerMetrics holds the reliability history of a worker.
type WorkerMetrics struct {
	CompletedJobs       int     `json:"completed_jobs" yaml:"completed_jobs"`
	AverageRating       float64 `json:"average_rating" yaml:"average_rating"`
	OnTimePercentage    float64 `json:"on_time_percentage" yaml:"on_time_percentage"`       // 0-100
	CancellationRate    float64 `json:"cancellation_rate" yaml:"cancellation_rate"`         // 0-100
	ResponseTimeMinutes float64 `json:"response_time_minutes" yaml:"response_time_minutes"` // average minutes to answer an offer
}

// Rates is the hourly rate schedule of a worker.
type Rates struct {
	Standard  float64 `json:"standard" yaml:"standard"`
	Deep      float64 `json:"deep" yaml:"deep"`
	Emergency float64 `json:"emergency" yaml:"emergency"` // zero means the worker does not take rush jobs
}

// Worker is a cleaner that can be assigned to jobs.
type Worker struct {
	ID              string        `json:"id" yaml:"id"`
	Name            string        `json:"name" yaml:"name"`
	ServiceArea     ServiceArea   `json:"service_area" yaml:"service_area"`
	QualityScore    float64       `json:"quality_score" yaml:"quality_score"` // 0-10
	Metrics         WorkerMetrics `json:"metrics" yaml:"metrics"`
	Rates           Rates         `json:"rates" yaml:"rates"`
	Verified        bool          `json:"verified" yaml:"verified"`
	BackgroundCheck bool          `json:"background_check" yaml:"background_check"`
	Insurance       bool          `json:"insurance" yaml:"insurance"`
	Status          WorkerStatus  `json:"status" yaml:"status"`
	LastActiveAt    time.Time     `json:"last_active_at" yaml:"-"`
}

// Validate checks the ranges the scoring engine relies on.
func (w Worker) Validate() error {
	if w.ID == "" {
		return fmt.Errorf("worker id is required")
	}
	if w.QualityScore < 0 || w.QualityScore > 10 {
		return fmt.Errorf("worker %s: quality score %v out of range [0,10]", w.ID, w.QualityScore)
	}
	if w.ServiceArea.RadiusMiles < 0 {
		return fmt.Errorf("worker %s: negative service radius", w.ID)
	}
	return nil
}

// RateFor returns the hourly rate applied to the given job type.
func (w Worker) RateFor(t JobType) float64 {
	switch t {
	case JobEmergency:
		return w.Rates.Emergency
	case JobDeep:
		if w.Rates.Deep > 0 {
			return w.Rates.Deep
		}
	}
	return w.Rates.Standard
}

// AcceptsEmergencies reports whether the worker has an emergency rate.
func (w Worker) AcceptsEmergencies() bool { return w.Rates.Emergency > 0 }

// FullyVerified is true when both background check and insurance are on file.
func (w Worker) FullyVerified() bool { return w.BackgroundCheck && w.Insurance }
