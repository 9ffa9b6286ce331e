// Package benchmark compares an assessment's scores with those of peer
// institutions for the same academic year.
package benchmark

import (
	"math"
	"sort"

	"github.com/sells-group/assessment-engine/internal/model"
)

// MetricOverall names the overall percentage metric. Theme metrics are named
// "theme:<slug>".
const MetricOverall = "overall"

// ThemeMetric returns the metric name of a theme.
func ThemeMetric(slug string) string { return "theme:" + slug }

// Percentile returns the p-th percentile (0-100) of sorted values by linear
// interpolation between closest ranks, rank = p/100 * (n-1).
func Percentile(sorted []float64, p float64) float64 {
	n := len(sorted)
	switch n {
	case 0:
		return 0
	case 1:
		return sorted[0]
	}
	rank := p / 100 * float64(n-1)
	lo := int(math.Floor(rank))
	hi := int(math.Ceil(rank))
	if lo == hi {
		return sorted[lo]
	}
	return sorted[lo] + (sorted[hi]-sorted[lo])*(rank-float64(lo))
}

// Percentiles returns the 10th, 25th, 50th, 75th and 90th percentiles of
// values. values is not modified.
func Percentiles(values []float64) [5]float64 {
	sorted := append([]float64(nil), values...)
	sort.Float64s(sorted)
	return [5]float64{
		Percentile(sorted, 10),
		Percentile(sorted, 25),
		Percentile(sorted, 50),
		Percentile(sorted, 75),
		Percentile(sorted, 90),
	}
}

// Compute summarizes population for one metric. The institution's own value
// passes through unchanged.
func Compute(metric string, institution *float64, population []float64) model.BenchmarkMetric {
	p := Percentiles(population)
	m := model.BenchmarkMetric{
		MetricName:       metric,
		Percentile10:     p[0],
		Percentile25:     p[1],
		Percentile50:     p[2],
		Percentile75:     p[3],
		Percentile90:     p[4],
		SampleSize:       len(population),
		InstitutionValue: institution,
	}
	m.PercentilePosition = Position(m)
	return m
}

// Position buckets the institution value into the highest percentile it
// reaches: 90, 75, 50, 25, or 10 below the 25th.
func Position(m model.BenchmarkMetric) *int {
	if m.InstitutionValue == nil || m.SampleSize == 0 {
		return nil
	}
	v := *m.InstitutionValue
	var pos int
	switch {
	case v >= m.Percentile90:
		pos = 90
	case v >= m.Percentile75:
		pos = 75
	case v >= m.Percentile50:
		pos = 50
	case v >= m.Percentile25:
		pos = 25
	default:
		pos = 10
	}
	return &pos
}
