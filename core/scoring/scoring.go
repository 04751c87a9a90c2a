// Package scoring ranks cleaners for a job. Everything in here is pure: the
// history and market data a score depends on are passed in through Context.
package scoring

import (
	"cmp"
	"math"
	"slices"

	"gonum.org/v1/gonum/stat"

	"github.com/kilianp07/cleandispatch/core/model"
)

// Weights tunes the composite score. The zero value is not usable, start from
// DefaultWeights.
type Weights struct {
	Quality     float64 `json:"quality"`
	Reliability float64 `json:"reliability"`
	Proximity   float64 `json:"proximity"`
	Cost        float64 `json:"cost"`

	// MinScore excludes candidates scoring at or below it.
	MinScore float64 `json:"min_score"`
	// FamiliarityBonus is added to the multiplier when prior ratings at the
	// site average at least FamiliarityThreshold.
	FamiliarityBonus     float64 `json:"familiarity_bonus"`
	FamiliarityThreshold float64 `json:"familiarity_threshold"`
	// EmergencyBonus is added for emergency jobs when the worker has an emergency rate.
	EmergencyBonus float64 `json:"emergency_bonus"`
	// CostFloor caps how much a cheap quote can be rewarded.
	CostFloor float64 `json:"cost_floor"`
}

// DefaultWeights returns the production weights.
func DefaultWeights() Weights {
	return Weights{
		Quality:              0.4,
		Reliability:          0.3,
		Proximity:            0.2,
		Cost:                 0.1,
		MinScore:             0.5,
		FamiliarityBonus:     0.10,
		FamiliarityThreshold: 4.5,
		EmergencyBonus:       0.15,
		CostFloor:            0.5,
	}
}

// unratedRating stands in for prior jobs the host never rated.
const unratedRating = 5.0

// Context carries the inputs of a score that do not live on the worker, the
// site or the job.
type Context struct {
	// MarketRate is the hourly market rate for the job type in the site's area.
	MarketRate float64
	// PriorRatings are the host ratings of the worker's previous jobs at this
	// site. Zero means the job was not rated.
	PriorRatings []float64
}

// Match is a scored pairing of a worker with a job. It is recomputed on every
// assignment attempt and never persisted.
type Match struct {
	Worker        model.Worker `json:"worker"`
	Score         float64      `json:"score"`
	DistanceMiles float64      `json:"distance_miles"`
	EstimatedCost float64      `json:"estimated_cost"`
	Reasons       []string     `json:"reasons,omitempty"`
}

// Score computes the suitability of w for job at site with the default weights.
func Score(w model.Worker, site model.Site, job model.Job, c Context) float64 {
	return DefaultWeights().Score(w, site, job, c)
}

// Score returns a value in [0,1].
func (wt Weights) Score(w model.Worker, site model.Site, job model.Job, c Context) float64 {
	distance := model.DistanceMiles(site.Location, w.ServiceArea.Center)
	composite := Quality(w)*wt.Quality +
		Reliability(w)*wt.Reliability +
		Proximity(distance, w.ServiceArea.RadiusMiles)*wt.Proximity +
		wt.costScore(w, job, c.MarketRate)*wt.Cost

	multiplier := 1.0
	if len(c.PriorRatings) > 0 && averageRating(c.PriorRatings) >= wt.FamiliarityThreshold {
		multiplier += wt.FamiliarityBonus
	}
	if job.Type == model.JobEmergency && w.AcceptsEmergencies() {
		multiplier += wt.EmergencyBonus
	}
	return clamp(composite*multiplier, 0, 1)
}

// Quality maps the 0-10 quality score to [0,1].
func Quality(w model.Worker) float64 {
	return clamp(w.QualityScore/10, 0, 1)
}

// Reliability blends punctuality, cancellations and response time.
func Reliability(w model.Worker) float64 {
	m := w.Metrics
	r := (m.OnTimePercentage/100)*0.4 +
		((100-m.CancellationRate)/100)*0.4 +
		(math.Min(m.ResponseTimeMinutes, 60)/60)*0.2
	return clamp(r, 0, 1)
}

// Proximity is 1 at the centre of the service area and 0 at its edge or beyond.
func Proximity(distance, radius float64) float64 {
	if radius <= 0 {
		return 0
	}
	return math.Max(0, 1-distance/radius)
}

// EstimatedCost is the price of the job at the worker's rate.
func EstimatedCost(w model.Worker, job model.Job) float64 {
	return job.Duration().Hours() * w.RateFor(job.Type)
}

// costScore divides the hourly market rate by the worker's total job price.
func (wt Weights) costScore(w model.Worker, job model.Job, marketRate float64) float64 {
	jobCost := EstimatedCost(w, job)
	if jobCost <= 0 {
		return 1
	}
	return clamp(marketRate/jobCost, wt.CostFloor, 1)
}

func averageRating(ratings []float64) float64 {
	rs := make([]float64, len(ratings))
	for i, r := range ratings {
		if r <= 0 {
			r = unratedRating
		}
		rs[i] = r
	}
	return stat.Mean(rs, nil)
}

// Evaluate scores w and fills the descriptive fields of the match.
func (wt Weights) Evaluate(w model.Worker, site model.Site, job model.Job, c Context) Match {
	distance := model.DistanceMiles(site.Location, w.ServiceArea.Center)
	return Match{
		Worker:        w,
		Score:         wt.Score(w, site, job, c),
		DistanceMiles: distance,
		EstimatedCost: EstimatedCost(w, job),
		Reasons:       Reasons(w, distance),
	}
}

// Rank drops matches at or below MinScore and orders the rest by descending
// score, then ascending distance, then worker id. The input is not modified.
func (wt Weights) Rank(matches []Match) []Match {
	out := make([]Match, 0, len(matches))
	for _, m := range matches {
		if m.Score > wt.MinScore {
			out = append(out, m)
		}
	}
	slices.SortFunc(out, func(a, b Match) int {
		if c := cmp.Compare(b.Score, a.Score); c != 0 {
			return c
		}
		if c := cmp.Compare(a.DistanceMiles, b.DistanceMiles); c != 0 {
			return c
		}
		return cmp.Compare(a.Worker.ID, b.Worker.ID)
	})
	return out
}

// Reasons explains a match in words an owner understands.
func Reasons(w model.Worker, distance float64) []string {
	var reasons []string
	if w.QualityScore >= 8.5 {
		reasons = append(reasons, "High quality score")
	}
	if w.Metrics.OnTimePercentage >= 95 {
		reasons = append(reasons, "Excellent punctuality")
	}
	if w.Metrics.CancellationRate <= 5 {
		reasons = append(reasons, "Very reliable")
	}
	switch {
	case distance <= 5:
		reasons = append(reasons, "Very close to property")
	case distance <= 10:
		reasons = append(reasons, "Close to property")
	}
	if w.FullyVerified() {
		reasons = append(reasons, "Fully verified")
	}
	return reasons
}

func clamp(v, lo, hi float64) float64 {
	if math.IsNaN(v) {
		return lo
	}
	return math.Max(lo, math.Min(hi, v))
}
