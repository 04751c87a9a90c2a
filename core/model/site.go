package model

import "time"

// CleaningRequirements describes how a site is cleaned.
type CleaningRequirements struct {
	StandardDurationMinutes int      `json:"standard_duration_minutes" yaml:"standard_duration_minutes"`
	DeepDurationMinutes     int      `json:"deep_duration_minutes" yaml:"deep_duration_minutes"`
	SpecialInstructions     []string `json:"special_instructions,omitempty" yaml:"special_instructions,omitempty"`
	RequiredSupplies        []string `json:"required_supplies,omitempty" yaml:"required_supplies,omitempty"`
}

// Site is a property that needs cleaning between stays.
type Site struct {
	ID           string               `json:"id" yaml:"id"`
	OwnerID      string               `json:"owner_id" yaml:"owner_id"`
	Name         string               `json:"name" yaml:"name"`
	City         string               `json:"city" yaml:"city"`
	Location     Coordinates          `json:"location" yaml:"location"`
	Requirements CleaningRequirements `json:"requirements" yaml:"requirements"`
}

// DurationFor returns the expected cleaning duration for a job type.
// A site without configured durations defaults to two hours.
func (s Site) DurationFor(t JobType) time.Duration {
	minutes := s.Requirements.StandardDurationMinutes
	if t == JobDeep && s.Requirements.DeepDurationMinutes > 0 {
		minutes = s.Requirements.DeepDurationMinutes
	}
	if minutes <= 0 {
		minutes = 120
	}
	return time.Duration(minutes) * time.Minute
}

// Booking is a guest stay at a site, owned by the booking system.
type Booking struct {
	ID       string    `json:"id" yaml:"id"`
	SiteID   string    `json:"site_id" yaml:"site_id"`
	CheckIn  time.Time `json:"check_in" yaml:"check_in"`
	CheckOut time.Time `json:"check_out" yaml:"check_out"`
	Status   string    `json:"status" yaml:"status"`
}
