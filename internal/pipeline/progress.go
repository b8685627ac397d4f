package pipeline

import (
	"math"
	"time"
)

const maxRunningPercent = 99.9

// weightPlan maps per-stage fractions onto the job-wide percentage.
type weightPlan struct {
	stages []string
	bases  []float64
	widths []float64
	total  float64
}

func newWeightPlan(stages []string, weight func(string) float64) weightPlan {
	plan := weightPlan{stages: stages, bases: make([]float64, len(stages)), widths: make([]float64, len(stages))}
	for i, name := range stages {
		w := weight(name)
		if w < 0 {
			w = 0
		}
		plan.bases[i] = plan.total
		plan.widths[i] = w
		plan.total += w
	}
	if plan.total == 0 {
		for i := range stages {
			plan.bases[i] = float64(i)
			plan.widths[i] = 1
		}
		plan.total = float64(len(stages))
	}
	return plan
}

// percent returns the job-wide progress for fraction f of stage i, capped
// below completion.
func (p weightPlan) percent(i int, f float64) float64 {
	if p.total == 0 || i < 0 || i >= len(p.stages) {
		return 0
	}
	if math.IsNaN(f) {
		f = 0
	}
	f = min(max(f, 0), 1)
	pct := (p.bases[i] + f*p.widths[i]) / p.total * 100
	return min(pct, maxRunningPercent)
}

// estimateETA projects remaining time from elapsed time and percent done.
func estimateETA(elapsed time.Duration, percent float64) *float64 {
	if percent <= 0 || percent >= 100 || elapsed <= 0 {
		return nil
	}
	remaining := elapsed.Seconds() * (100 - percent) / percent
	return &remaining
}
