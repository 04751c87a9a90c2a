package eventlog

import (
	"context"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/cleandispatch/core/events"
)

var base = time.Date(2026, 6, 1, 10, 0, 0, 0, time.UTC)

func sample(t *testing.T) []events.Event {
	t.Helper()
	mk := func(typ events.Type, site string, offset time.Duration, payload any) events.Event {
		ev, err := events.New(typ, site, payload, base.Add(offset))
		require.NoError(t, err)
		return ev
	}
	return []events.Event{
		mk(events.GuestCheckout, "site-1", 0, events.GuestCheckoutPayload{BookingID: "b1", SiteID: "site-1", CheckoutTime: base}),
		mk(events.WorkerAssigned, "site-1", time.Minute, events.WorkerAssignedPayload{JobID: "j1", WorkerID: "w1"}),
		mk(events.GuestCheckout, "site-2", 2*time.Minute, events.GuestCheckoutPayload{BookingID: "b2", SiteID: "site-2", CheckoutTime: base}),
		mk(events.WorkerUnavailable, "site-1", 3*time.Minute, events.WorkerUnavailablePayload{JobID: "j1", WorkerID: "w1"}),
	}
}

func exercise(t *testing.T, store Store) {
	t.Helper()
	ctx := context.Background()
	evs := sample(t)
	for _, ev := range evs {
		require.NoError(t, store.Append(ctx, ev))
	}

	all, err := store.Query(ctx, Query{})
	require.NoError(t, err)
	require.Len(t, all, 4)
	assert.Equal(t, evs[0].ID, all[0].ID)
	assert.Equal(t, evs[3].ID, all[3].ID)
	assert.JSONEq(t, string(evs[1].Payload), string(all[1].Payload))
	assert.True(t, evs[2].Timestamp.Equal(all[2].Timestamp))

	site1, err := store.Query(ctx, Query{SiteID: "site-1"})
	require.NoError(t, err)
	assert.Len(t, site1, 3)

	checkouts, err := store.Query(ctx, Query{Type: events.GuestCheckout})
	require.NoError(t, err)
	assert.Len(t, checkouts, 2)

	window, err := store.Query(ctx, Query{Since: base.Add(time.Minute), Until: base.Add(2 * time.Minute)})
	require.NoError(t, err)
	require.Len(t, window, 2)
	assert.Equal(t, evs[1].ID, window[0].ID)

	limited, err := store.Query(ctx, Query{SiteID: "site-1", Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)
}

func TestJSONLStore(t *testing.T) {
	store, err := NewJSONLStore(filepath.Join(t.TempDir(), "events.jsonl"))
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	exercise(t, store)
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore("file:eventlog_test.db?mode=memory&cache=shared")
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	exercise(t, store)
}

func TestRotatingJSONLStore(t *testing.T) {
	store, err := NewRotatingJSONLStore(filepath.Join(t.TempDir(), "events.jsonl"), 1, 2, 1)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()
	exercise(t, store)
}

func TestRotatingJSONLStore_Rotation(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "events.jsonl")
	store, err := NewRotatingJSONLStore(path, 1, 3, 1)
	require.NoError(t, err)
	defer func() { _ = store.Close() }()

	notes := strings.Repeat("x", 512)
	const n = 3000
	for i := 0; i < n; i++ {
		ev, err := events.New(events.JobCompleted, "site-1", events.JobCompletedPayload{
			JobID:   "j1",
			Details: events.CompletionDetails{Notes: notes},
		}, base.Add(time.Duration(i)*time.Second))
		require.NoError(t, err)
		require.NoError(t, store.Append(context.Background(), ev))
	}

	backups, err := filepath.Glob(filepath.Join(dir, "events-*.jsonl"))
	require.NoError(t, err)
	assert.NotEmpty(t, backups)

	out, err := store.Query(context.Background(), Query{})
	require.NoError(t, err)
	require.Len(t, out, n)
	for i := 1; i < len(out); i++ {
		assert.False(t, out[i].Timestamp.Before(out[i-1].Timestamp), "events out of order at %d", i)
	}
}

func TestJSONLStore_SkipsCorruptLines(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")
	store, err := NewJSONLStore(path)
	require.NoError(t, err)
	evs := sample(t)
	require.NoError(t, store.Append(context.Background(), evs[0]))
	require.NoError(t, appendRaw(path, "{not json\n"))
	require.NoError(t, store.Append(context.Background(), evs[1]))

	out, err := store.Query(context.Background(), Query{})
	require.NoError(t, err)
	assert.Len(t, out, 2)
}

func TestConfig(t *testing.T) {
	c := Config{Backend: "sqlite"}
	c.SetDefaults()
	assert.Equal(t, "events.db", c.Path)
	assert.NoError(t, c.Validate())

	r := Config{Backend: "rotating"}
	r.SetDefaults()
	assert.Equal(t, "events.jsonl", r.Path)
	assert.Equal(t, 50, r.MaxSizeMB)

	assert.Error(t, Config{Backend: "kafka", Path: "x"}.Validate())

	s, err := Open(Config{})
	require.NoError(t, err)
	assert.Nil(t, s)
}
