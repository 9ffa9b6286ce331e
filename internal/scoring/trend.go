package scoring

import (
	"encoding/json"
	"fmt"
	"math"
	"sort"
	"strconv"

	"github.com/sells-group/assessment-engine/internal/model"
)

// Trend directions.
const (
	TrendIncreasing   = "increasing"
	TrendDecreasing   = "decreasing"
	TrendStable       = "stable"
	TrendInsufficient = "insufficient_data"
)

// Trend is the least-squares direction of a series.
type Trend struct {
	Slope     *float64 `json:"slope"`
	Direction string   `json:"direction"`
	PctChange *float64 `json:"pct_change"`
}

// CalculateTrend fits a line through values in order. A slope within 1% of
// the mean counts as stable. PctChange compares the last value to the first
// and is nil when the first is zero.
func CalculateTrend(values []float64) Trend {
	n := len(values)
	if n < 2 {
		return Trend{Direction: TrendInsufficient}
	}

	xMean := float64(n-1) / 2
	var sum float64
	for _, v := range values {
		sum += v
	}
	yMean := sum / float64(n)

	var num, den float64
	for i, y := range values {
		dx := float64(i) - xMean
		num += dx * (y - yMean)
		den += dx * dx
	}
	slope := 0.0
	if den != 0 {
		slope = num / den
	}

	t := Trend{Direction: TrendStable}
	rounded := math.Round(slope*1e4) / 1e4
	t.Slope = &rounded
	if values[0] != 0 {
		pct := math.Round((values[n-1]-values[0])/values[0]*1000) / 10
		t.PctChange = &pct
	}

	threshold := 0.01
	if yMean != 0 {
		threshold = 0.01 * yMean
	}
	switch {
	case slope > threshold:
		t.Direction = TrendIncreasing
	case slope < -threshold:
		t.Direction = TrendDecreasing
	}
	return t
}

// YearTotals returns the male+female totals of a multi-year grid in year
// order.
func YearTotals(v model.MultiYearValue) []float64 {
	years := make([]string, 0, len(v.Years))
	for y := range v.Years {
		years = append(years, y)
	}
	sort.Slice(years, func(i, j int) bool {
		a, _ := strconv.Atoi(years[i])
		b, _ := strconv.Atoi(years[j])
		return a < b
	})
	out := make([]float64, len(years))
	for i, y := range years {
		out[i] = v.Years[y].Total()
	}
	return out
}

// scoreTrend scores a multi-year series from a base of 60, adding 20 when
// the trend matches the rubric's ideal direction and subtracting 20 when it
// runs the other way.
func scoreTrend(rubric *Rubric, raw json.RawMessage) Result {
	if rubric == nil {
		return Result{Feedback: "No scoring rubric defined."}
	}
	var v model.MultiYearValue
	if err := json.Unmarshal(raw, &v); err != nil || len(v.Years) == 0 {
		return Result{Feedback: "No yearly data provided."}
	}

	totals := YearTotals(v)
	if len(totals) < 2 {
		score := 50.0
		return Result{Score: &score, Feedback: "Insufficient data points for trend analysis."}
	}

	ideal := rubric.IdealDirection
	if ideal == "" {
		ideal = TrendIncreasing
	}
	trend := CalculateTrend(totals)

	score := 60.0
	verdict := "Trend direction is concerning."
	switch trend.Direction {
	case ideal:
		score += 20
		verdict = "Positive trend aligns with expectations."
	case TrendStable:
		verdict = "Trend is stable."
	default:
		score -= 20
	}
	score = clamp(score, 0, 100)

	pct := "N/A"
	if trend.PctChange != nil {
		pct = formatNumber(*trend.PctChange) + "%"
	}
	return Result{
		Score:    &score,
		Feedback: fmt.Sprintf("Trend: %s (%s change). %s", trend.Direction, pct, verdict),
	}
}
