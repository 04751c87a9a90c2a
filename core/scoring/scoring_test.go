package scoring

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kilianp07/cleandispatch/core/model"
)

var siteLoc = model.Coordinates{Lat: 40.0, Lng: -74.0}

// northOf returns a point roughly miles north of siteLoc.
func northOf(miles float64) model.Coordinates {
	return model.Coordinates{Lat: siteLoc.Lat + miles/69.09, Lng: siteLoc.Lng}
}

func testSite() model.Site {
	return model.Site{ID: "site-1", OwnerID: "owner-1", City: "Hoboken", Location: siteLoc}
}

func testJob(t model.JobType) model.Job {
	start := time.Date(2026, 6, 1, 11, 0, 0, 0, time.UTC)
	return model.Job{
		ID:           "job-1",
		SiteID:       "site-1",
		Type:         t,
		Window:       model.TimeWindow{Start: start, End: start.Add(2 * time.Hour)},
		Requirements: model.JobRequirements{EstimatedDurationMinutes: 120},
	}
}

func worker(id string, quality, onTime, cancel, miles, rate float64) model.Worker {
	return model.Worker{
		ID:           id,
		ServiceArea:  model.ServiceArea{Center: northOf(miles), RadiusMiles: 20},
		QualityScore: quality,
		Metrics: model.WorkerMetrics{
			OnTimePercentage:    onTime,
			CancellationRate:    cancel,
			ResponseTimeMinutes: 15,
		},
		Rates:  model.Rates{Standard: rate},
		Status: model.WorkerAvailable,
	}
}

func TestHigherQualityCloserWorkerOutranksCheaperOne(t *testing.T) {
	a := worker("A", 9, 98, 1, 3, 20)
	b := worker("B", 7, 90, 5, 8, 18)
	site, job := testSite(), testJob(model.JobStandard)
	c := Context{MarketRate: 25}

	wt := DefaultWeights()
	ranked := wt.Rank([]Match{wt.Evaluate(b, site, job, c), wt.Evaluate(a, site, job, c)})
	require.Len(t, ranked, 2)
	assert.Equal(t, "A", ranked[0].Worker.ID)
	assert.Equal(t, "B", ranked[1].Worker.ID)
	assert.InDelta(t, 0.8439, ranked[0].Score, 0.002)
	assert.InDelta(t, 0.7064, ranked[1].Score, 0.002)
	assert.InDelta(t, 40, ranked[0].EstimatedCost, 1e-9)
	assert.Contains(t, ranked[0].Reasons, "High quality score")
	assert.Contains(t, ranked[0].Reasons, "Very close to property")
	assert.Contains(t, ranked[1].Reasons, "Close to property")
}

func TestScoreComponents(t *testing.T) {
	w := worker("w", 10, 100, 0, 0, 12.5)
	w.Metrics.ResponseTimeMinutes = 120
	assert.Equal(t, 1.0, Quality(w))
	assert.Equal(t, 1.0, Reliability(w))
	assert.Equal(t, 1.0, Proximity(0, 20))
	assert.Equal(t, 0.0, Proximity(25, 20))
	assert.Equal(t, 0.0, Proximity(1, 0))
	assert.InDelta(t, 1.0, Score(w, testSite(), testJob(model.JobStandard), Context{MarketRate: 25}), 1e-9)
}

func TestCostScoreIsFloored(t *testing.T) {
	wt := DefaultWeights()
	job := testJob(model.JobStandard)
	expensive := worker("x", 5, 50, 50, 0, 500)
	assert.Equal(t, 0.5, wt.costScore(expensive, job, 25))
	cheap := worker("y", 5, 50, 50, 0, 10)
	assert.Equal(t, 1.0, wt.costScore(cheap, job, 25))
	free := worker("z", 5, 50, 50, 0, 0)
	assert.Equal(t, 1.0, wt.costScore(free, job, 25))
}

func TestCostScoreUsesTotalJobPrice(t *testing.T) {
	wt := DefaultWeights()
	hours := func(h int) model.Job {
		j := testJob(model.JobStandard)
		j.Requirements.EstimatedDurationMinutes = h * 60
		return j
	}
	tests := []struct {
		name string
		rate float64
		job  model.Job
		want float64
	}{
		{"one hour under market", 20, hours(1), 1.0},
		{"one hour over market", 40, hours(1), 0.625},
		{"two hours", 20, hours(2), 0.625},
		{"three hours hits the floor", 20, hours(3), 0.5},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := worker("w", 5, 70, 20, 0, tt.rate)
			assert.InDelta(t, tt.want, wt.costScore(w, tt.job, 25), 1e-9)
		})
	}
}

func TestRankDropsLongJobAtThreshold(t *testing.T) {
	wt := DefaultWeights()
	job := testJob(model.JobStandard)
	job.Requirements.EstimatedDurationMinutes = 180
	w := worker("w", 5, 70, 20, 16, 20)

	m := wt.Evaluate(w, testSite(), job, Context{MarketRate: 25})
	assert.InDelta(t, 0.485, m.Score, 0.002)
	assert.InDelta(t, 60, m.EstimatedCost, 1e-9)
	assert.Empty(t, wt.Rank([]Match{m}))
}

func TestBonusMultipliers(t *testing.T) {
	site := testSite()
	w := worker("w", 6, 80, 10, 10, 25)
	base := Score(w, site, testJob(model.JobStandard), Context{MarketRate: 25})

	tests := []struct {
		name    string
		worker  model.Worker
		job     model.Job
		ratings []float64
		want    float64
	}{
		{"no history", w, testJob(model.JobStandard), nil, base},
		{"good history", w, testJob(model.JobStandard), []float64{5, 4.5}, base * 1.10},
		{"unrated history counts as five", w, testJob(model.JobStandard), []float64{0, 4}, base * 1.10},
		{"poor history", w, testJob(model.JobStandard), []float64{4, 4}, base},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Score(tt.worker, site, tt.job, Context{MarketRate: 25, PriorRatings: tt.ratings})
			assert.InDelta(t, tt.want, got, 1e-9)
		})
	}

	t.Run("emergency specialty", func(t *testing.T) {
		em := w
		em.Rates.Emergency = 25
		job := testJob(model.JobEmergency)
		noBonus := DefaultWeights()
		noBonus.EmergencyBonus = 0
		want := noBonus.Score(em, site, job, Context{MarketRate: 25}) * 1.15
		assert.InDelta(t, want, Score(em, site, job, Context{MarketRate: 25}), 1e-9)
	})

	t.Run("clamped to one", func(t *testing.T) {
		top := worker("top", 10, 100, 0, 0, 20)
		top.Rates.Emergency = 30
		got := Score(top, site, testJob(model.JobEmergency), Context{MarketRate: 40, PriorRatings: []float64{5}})
		assert.Equal(t, 1.0, got)
	})
}

func TestRankFiltersAndBreaksTies(t *testing.T) {
	wt := DefaultWeights()
	in := []Match{
		{Worker: model.Worker{ID: "low"}, Score: 0.5, DistanceMiles: 1},
		{Worker: model.Worker{ID: "c"}, Score: 0.7, DistanceMiles: 4},
		{Worker: model.Worker{ID: "b"}, Score: 0.7, DistanceMiles: 2},
		{Worker: model.Worker{ID: "a"}, Score: 0.7, DistanceMiles: 2},
		{Worker: model.Worker{ID: "top"}, Score: 0.9, DistanceMiles: 9},
	}
	got := wt.Rank(in)
	ids := make([]string, len(got))
	for i, m := range got {
		ids[i] = m.Worker.ID
	}
	assert.Equal(t, []string{"top", "a", "b", "c"}, ids)
	assert.Equal(t, "low", in[0].Worker.ID, "input must not be reordered")
}
