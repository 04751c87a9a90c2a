package cmd

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/kilianp07/cleandispatch/config"
	"github.com/kilianp07/cleandispatch/core/eventlog"
	"github.com/kilianp07/cleandispatch/core/events"
)

var (
	eventsSite  string
	eventsType  string
	eventsSince string
	eventsLimit int
)

var eventsCmd = &cobra.Command{
	Use:   "events",
	Short: "Query the persistent event log",
	RunE:  queryEvents,
}

func init() {
	eventsCmd.Flags().StringVar(&eventsSite, "site", "", "site id")
	eventsCmd.Flags().StringVar(&eventsType, "type", "", "event type, e.g. guest.checkout")
	eventsCmd.Flags().StringVar(&eventsSince, "since", "", "RFC3339 time or a duration such as 24h")
	eventsCmd.Flags().IntVar(&eventsLimit, "limit", 100, "maximum number of events, 0 for all")
	rootCmd.AddCommand(eventsCmd)
}

func queryEvents(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(cfgPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	q, err := buildQuery(eventsSite, eventsType, eventsSince, eventsLimit, time.Now())
	if err != nil {
		return err
	}
	store, err := eventlog.Open(cfg.EventLog)
	if err != nil {
		return fmt.Errorf("event log: %w", err)
	}
	if store == nil {
		return fmt.Errorf("event_log.backend is not configured")
	}
	defer store.Close()

	evs, err := store.Query(cmd.Context(), q)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	for _, ev := range evs {
		if err := enc.Encode(ev); err != nil {
			return err
		}
	}
	return nil
}

func buildQuery(site, typ, since string, limit int, now time.Time) (eventlog.Query, error) {
	q := eventlog.Query{SiteID: site, Limit: limit}
	if typ != "" {
		q.Type = events.Type(typ)
		if !q.Type.Valid() {
			return eventlog.Query{}, fmt.Errorf("unknown event type %q", typ)
		}
	}
	if since != "" {
		if d, err := time.ParseDuration(since); err == nil {
			q.Since = now.Add(-d)
		} else if t, err := time.Parse(time.RFC3339, since); err == nil {
			q.Since = t
		} else {
			return eventlog.Query{}, fmt.Errorf("invalid --since %q", since)
		}
	}
	return q, nil
}
