package cmd

import (
	"bytes"
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/cleandispatch/core/events"
)

func TestBuildQuery(t *testing.T) {
	now := time.Date(2026, 6, 1, 12, 0, 0, 0, time.UTC)

	q, err := buildQuery("s1", "guest.checkout", "2h", 10, now)
	require.NoError(t, err)
	assert.Equal(t, "s1", q.SiteID)
	assert.Equal(t, events.GuestCheckout, q.Type)
	assert.Equal(t, now.Add(-2*time.Hour), q.Since)
	assert.Equal(t, 10, q.Limit)

	q, err = buildQuery("", "", "2026-05-31T00:00:00Z", 0, now)
	require.NoError(t, err)
	assert.Equal(t, time.Date(2026, 5, 31, 0, 0, 0, 0, time.UTC), q.Since)

	_, err = buildQuery("", "guest.arrived", "", 0, now)
	assert.Error(t, err)
	_, err = buildQuery("", "", "yesterday", 0, now)
	assert.Error(t, err)
}

func TestScenarioRun(t *testing.T) {
	files, err := filepath.Glob(filepath.Join("..", "qa", "scenarios", "testdata", "*.yaml"))
	require.NoError(t, err)
	require.NotEmpty(t, files)

	var out bytes.Buffer
	scenarioRunCmd.SetOut(&out)
	scenarioRunCmd.SetContext(context.Background())
	require.NoError(t, runScenarios(scenarioRunCmd, files))
	assert.Contains(t, out.String(), "ok   checkout assigns the best cleaner")
	assert.NotContains(t, out.String(), "FAIL")
}
