package config

import (
	"fmt"
	"slices"
	"time"
)

// StoreConfig selects where reservations and emergency claims live. Jobs,
// workers and sites are always held in memory.
type StoreConfig struct {
	// Backend is "memory" or "redis".
	Backend string `json:"backend"`
	// Seed is a YAML file of sites, workers, bookings and availability
	// loaded at startup.
	Seed string `json:"seed"`
}

// SetDefaults applies sane defaults.
func (c *StoreConfig) SetDefaults() {
	if c.Backend == "" {
		c.Backend = "memory"
	}
}

// Validate checks the backend name.
func (c StoreConfig) Validate() error {
	switch c.Backend {
	case "memory", "redis":
		return nil
	default:
		return fmt.Errorf("store: unknown backend %s", c.Backend)
	}
}

// NotifierConfig lists the channels notifications are sent on.
type NotifierConfig struct {
	// Backends holds "log" and/or "mqtt".
	Backends []string `json:"backends"`
}

// SetDefaults logs notifications, and publishes them too when a broker is set.
func (c *NotifierConfig) SetDefaults(mqttBroker string) {
	if len(c.Backends) > 0 {
		return
	}
	c.Backends = []string{"log"}
	if mqttBroker != "" {
		c.Backends = append(c.Backends, "mqtt")
	}
}

// Validate checks the backend names.
func (c NotifierConfig) Validate(mqttBroker string) error {
	for _, b := range c.Backends {
		switch b {
		case "log":
		case "mqtt":
			if mqttBroker == "" {
				return fmt.Errorf("notifier: mqtt backend needs mqtt.broker")
			}
		default:
			return fmt.Errorf("notifier: unknown backend %s", b)
		}
	}
	return nil
}

// Uses reports whether backend is enabled.
func (c NotifierConfig) Uses(backend string) bool { return slices.Contains(c.Backends, backend) }

// APIConfig configures the HTTP API. An empty address disables it.
type APIConfig struct {
	Addr string `json:"addr"`
	// Token is the bearer token required on every request when set.
	Token string `json:"token"`
}

// BusConfig tunes the in-process event bus.
type BusConfig struct {
	// HandlerTimeoutSeconds bounds each handler's context.
	HandlerTimeoutSeconds int `json:"handler_timeout_seconds"`
}

// SetDefaults applies sane defaults.
func (c *BusConfig) SetDefaults() {
	if c.HandlerTimeoutSeconds <= 0 {
		c.HandlerTimeoutSeconds = 30
	}
}

// HandlerTimeout returns the handler timeout as a duration.
func (c BusConfig) HandlerTimeout() time.Duration {
	return time.Duration(c.HandlerTimeoutSeconds) * time.Second
}
