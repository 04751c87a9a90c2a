package dispatch

import (
	"fmt"
	"time"

	"github.com/kilianp07/cleandispatch/core/model"
	"github.com/kilianp07/cleandispatch/core/scoring"
)

// Config defines dispatch-related settings.
type Config struct {
	// SearchRadiusMiles bounds the candidate search around the site.
	SearchRadiusMiles float64 `json:"search_radius_miles"`
	// MaxBackups is the length of the backup chain kept on a job.
	MaxBackups int `json:"max_backups"`
	// MarketRates are hourly market rates keyed by job type.
	MarketRates       map[string]float64 `json:"market_rates"`
	DefaultMarketRate float64            `json:"default_market_rate"`

	CheckoutBufferMinutes   int `json:"checkout_buffer_minutes"`
	PreArrivalBufferMinutes int `json:"pre_arrival_buffer_minutes"`

	OfferTimeoutSeconds       int `json:"offer_timeout_seconds"`
	OfferCheckIntervalSeconds int `json:"offer_check_interval_seconds"`
	RepositoryTimeoutSeconds  int `json:"repository_timeout_seconds"`
	NotifyTimeoutSeconds      int `json:"notify_timeout_seconds"`

	Weights *scoring.Weights `json:"weights"`
}

// DefaultConfig returns a Config with every default applied.
func DefaultConfig() Config {
	var c Config
	c.SetDefaults()
	return c
}

// SetDefaults applies sane defaults.
func (c *Config) SetDefaults() {
	if c.SearchRadiusMiles <= 0 {
		c.SearchRadiusMiles = 20
	}
	if c.MaxBackups <= 0 {
		c.MaxBackups = 3
	}
	if c.DefaultMarketRate <= 0 {
		c.DefaultMarketRate = 25
	}
	if c.CheckoutBufferMinutes <= 0 {
		c.CheckoutBufferMinutes = 30
	}
	if c.PreArrivalBufferMinutes <= 0 {
		c.PreArrivalBufferMinutes = 60
	}
	if c.OfferTimeoutSeconds <= 0 {
		c.OfferTimeoutSeconds = 900
	}
	if c.OfferCheckIntervalSeconds <= 0 {
		c.OfferCheckIntervalSeconds = 30
	}
	if c.RepositoryTimeoutSeconds <= 0 {
		c.RepositoryTimeoutSeconds = 5
	}
	if c.NotifyTimeoutSeconds <= 0 {
		c.NotifyTimeoutSeconds = 10
	}
	if c.Weights == nil {
		w := scoring.DefaultWeights()
		c.Weights = &w
	}
}

// Validate checks the weights and rates.
func (c Config) Validate() error {
	if c.Weights != nil {
		w := *c.Weights
		sum := w.Quality + w.Reliability + w.Proximity + w.Cost
		if sum <= 0 {
			return fmt.Errorf("dispatch: score weights must sum to a positive value")
		}
		if w.MinScore < 0 || w.MinScore >= 1 {
			return fmt.Errorf("dispatch: min_score %v out of range [0,1)", w.MinScore)
		}
	}
	for t, r := range c.MarketRates {
		if r < 0 {
			return fmt.Errorf("dispatch: negative market rate for %s", t)
		}
	}
	return nil
}

// MarketRate returns the hourly market rate for a job type.
func (c Config) MarketRate(t model.JobType) float64 {
	if r, ok := c.MarketRates[string(t)]; ok && r > 0 {
		return r
	}
	return c.DefaultMarketRate
}

func (c Config) offerTimeout() time.Duration {
	return time.Duration(c.OfferTimeoutSeconds) * time.Second
}

func (c Config) repoTimeout() time.Duration {
	return time.Duration(c.RepositoryTimeoutSeconds) * time.Second
}

func (c Config) notifyTimeout() time.Duration {
	return time.Duration(c.NotifyTimeoutSeconds) * time.Second
}
