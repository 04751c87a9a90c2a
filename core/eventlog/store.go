// Package eventlog persists the events published on the bus so they survive
// restarts and can be replayed or audited.
package eventlog

import (
	"context"
	"fmt"
	"time"

	"github.com/kilianp07/cleandispatch/core/events"
)

// Query defines filters for retrieving events. Zero fields match everything.
type Query struct {
	SiteID string
	Type   events.Type
	// Since and Until are inclusive bounds on the event timestamp.
	Since time.Time
	Until time.Time
	Limit int
}

// Match reports whether ev passes the query filters, Limit aside.
func (q Query) Match(ev events.Event) bool {
	if q.SiteID != "" && ev.SiteID != q.SiteID {
		return false
	}
	if q.Type != "" && ev.Type != q.Type {
		return false
	}
	if !q.Since.IsZero() && ev.Timestamp.Before(q.Since) {
		return false
	}
	if !q.Until.IsZero() && ev.Timestamp.After(q.Until) {
		return false
	}
	return true
}

// Store persists events and supports querying.
type Store interface {
	Append(ctx context.Context, ev events.Event) error
	Query(ctx context.Context, q Query) ([]events.Event, error)
	Close() error
}

// Config selects and tunes the store backend.
type Config struct {
	// Backend is "jsonl", "rotating" or "sqlite". Empty disables persistence.
	Backend string `json:"backend"`
	Path    string `json:"path"`
	// MaxSizeMB triggers rotation when the file exceeds this size in megabytes.
	MaxSizeMB int `json:"max_size_mb"`
	// MaxBackups limits the number of rotated files to keep.
	MaxBackups int `json:"max_backups"`
	// MaxAgeDays removes rotated files older than this number of days.
	MaxAgeDays int `json:"max_age_days"`
}

// SetDefaults applies sane defaults when a backend is selected.
func (c *Config) SetDefaults() {
	if c.Backend == "" {
		return
	}
	if c.Path == "" {
		switch c.Backend {
		case "sqlite":
			c.Path = "events.db"
		default:
			c.Path = "events.jsonl"
		}
	}
	if c.Backend == "rotating" && c.MaxSizeMB <= 0 {
		c.MaxSizeMB = 50
	}
}

// Validate checks the backend name.
func (c Config) Validate() error {
	switch c.Backend {
	case "", "jsonl", "rotating", "sqlite":
	default:
		return fmt.Errorf("event_log: unknown backend %s", c.Backend)
	}
	if c.Backend != "" && c.Path == "" {
		return fmt.Errorf("event_log: path is required")
	}
	return nil
}

// Open builds the configured store. It returns nil when persistence is disabled.
func Open(c Config) (Store, error) {
	switch c.Backend {
	case "":
		return nil, nil
	case "jsonl":
		return NewJSONLStore(c.Path)
	case "rotating":
		return NewRotatingJSONLStore(c.Path, c.MaxSizeMB, c.MaxBackups, c.MaxAgeDays)
	case "sqlite":
		return NewSQLiteStore(c.Path)
	default:
		return nil, fmt.Errorf("event_log: unknown backend %s", c.Backend)
	}
}

func limit(evs []events.Event, n int) []events.Event {
	if n > 0 && len(evs) > n {
		return evs[:n]
	}
	return evs
}
