// Package risk estimates an institution's quality risk from its scores and
// key responses with a fixed set of weighted rules.
package risk

import (
	"encoding/json"
	"math"
	"sort"
	"time"

	"github.com/sells-group/assessment-engine/internal/model"
	"github.com/sells-group/assessment-engine/internal/scoring"
)

// Level buckets a risk score.
type Level string

const (
	LevelLow    Level = "low"
	LevelMedium Level = "medium"
	LevelHigh   Level = "high"
)

// LevelFor buckets score: high at 0.6 and above, medium at 0.3 and above.
func LevelFor(score float64) Level {
	switch {
	case score >= 0.6:
		return LevelHigh
	case score >= 0.3:
		return LevelMedium
	default:
		return LevelLow
	}
}

// Metrics are the inputs the rules read. Nil means not available; each rule
// substitutes its own neutral default.
type Metrics struct {
	FinancialScore  *float64      `json:"financial_score"`
	GovernanceScore *float64      `json:"governance_score"`
	RetentionRate   *float64      `json:"retention_rate"`
	SSR             *float64      `json:"ssr"`
	PhDPercentage   *float64      `json:"phd_percentage"`
	EnrollmentTrend scoring.Trend `json:"enrollment_trend"`
}

// Factor is one rule that fired.
type Factor struct {
	RuleID               string  `json:"rule_id"`
	Description          string  `json:"description"`
	RawScore             float64 `json:"raw_score"`
	Weight               float64 `json:"weight"`
	WeightedContribution float64 `json:"weighted_contribution"`
}

// Result is the outcome of a prediction. It is stored on the job only.
type Result struct {
	AssessmentID        string    `json:"assessment_id"`
	RiskScore           float64   `json:"risk_score"`
	RiskLevel           Level     `json:"risk_level"`
	ContributingFactors []Factor  `json:"contributing_factors"`
	RulesEvaluated      int       `json:"rules_evaluated"`
	Metrics             Metrics   `json:"metrics"`
	PredictedAt         time.Time `json:"predicted_at"`
}

type rule struct {
	id          string
	description string
	weight      float64
	// eval returns the raw score in [0,1] and whether the rule fired.
	eval func(m Metrics) (float64, bool)
}

var rules = []rule{
	{
		id:          "low_financial_score",
		description: "Financial sustainability theme scores below 40%",
		weight:      0.25,
		eval: func(m Metrics) (float64, bool) {
			v := or(m.FinancialScore, 50)
			return (40 - v) / 40, v < 40
		},
	},
	{
		id:          "declining_enrollment",
		description: "TNE enrollment is trending downward",
		weight:      0.20,
		eval: func(m Metrics) (float64, bool) {
			return 0.8, m.EnrollmentTrend.Direction == scoring.TrendDecreasing
		},
	},
	{
		id:          "low_retention",
		description: "Student retention rate below 70%",
		weight:      0.15,
		eval: func(m Metrics) (float64, bool) {
			v := or(m.RetentionRate, 80)
			return (70 - v) / 70, v < 70
		},
	},
	{
		id:          "high_ssr",
		description: "Student-staff ratio above 35:1",
		weight:      0.15,
		eval: func(m Metrics) (float64, bool) {
			v := or(m.SSR, 20)
			return math.Min(1, (v-35)/30), v > 35
		},
	},
	{
		id:          "low_governance",
		description: "Governance and compliance theme scores below 50%",
		weight:      0.15,
		eval: func(m Metrics) (float64, bool) {
			v := or(m.GovernanceScore, 60)
			return (50 - v) / 50, v < 50
		},
	},
	{
		id:          "low_staff_qualifications",
		description: "Fewer than 20% of TNE staff hold a doctorate",
		weight:      0.10,
		eval: func(m Metrics) (float64, bool) {
			v := or(m.PhDPercentage, 40)
			return (20 - v) / 20, v < 20
		},
	},
}

// Evaluate runs every rule against m. Factors are ordered by weighted
// contribution, largest first.
func Evaluate(m Metrics) Result {
	res := Result{
		ContributingFactors: []Factor{},
		RulesEvaluated:      len(rules),
		Metrics:             m,
	}
	var total float64
	for _, r := range rules {
		raw, fired := r.eval(m)
		if !fired {
			continue
		}
		contribution := raw * r.weight
		total += contribution
		res.ContributingFactors = append(res.ContributingFactors, Factor{
			RuleID:               r.id,
			Description:          r.description,
			RawScore:             round3(raw),
			Weight:               r.weight,
			WeightedContribution: round3(contribution),
		})
	}
	sort.SliceStable(res.ContributingFactors, func(i, j int) bool {
		return res.ContributingFactors[i].WeightedContribution > res.ContributingFactors[j].WeightedContribution
	})
	res.RiskScore = round3(math.Max(0, math.Min(1, total)))
	res.RiskLevel = LevelFor(res.RiskScore)
	return res
}

// Theme slugs whose percentages feed the rules.
const (
	ThemeFinancial  = "financial"
	ThemeGovernance = "governance"
)

// MetricsFrom gathers rule inputs from a score set and the institution-level
// responses keyed by item id.
func MetricsFrom(tpl *model.Template, scores *model.ScoreSet, values map[string]json.RawMessage) Metrics {
	var m Metrics
	if scores != nil {
		if th, ok := scores.ThemeBySlug(ThemeFinancial); ok && th.MaxScore > 0 {
			m.FinancialScore = ptr(th.Percentage)
		}
		if th, ok := scores.ThemeBySlug(ThemeGovernance); ok && th.MaxScore > 0 {
			m.GovernanceScore = ptr(th.Percentage)
		}
	}

	nums := scoring.NumbersByCode(tpl, values)
	if v, ok := nums[scoring.CodeRetention]; ok {
		m.RetentionRate = ptr(v)
	}
	if v, ok := nums[scoring.CodeSSR]; ok {
		m.SSR = ptr(v)
	}
	if v, ok := nums[scoring.CodeDoctoralPct]; ok {
		m.PhDPercentage = ptr(v)
	}

	m.EnrollmentTrend = scoring.Trend{Direction: scoring.TrendInsufficient}
	if it := tpl.ItemByCode(scoring.CodeEnrollment); it != nil {
		var years model.MultiYearValue
		if v, ok := values[it.ID]; ok && !model.IsNull(v) && json.Unmarshal(v, &years) == nil {
			m.EnrollmentTrend = scoring.CalculateTrend(scoring.YearTotals(years))
		}
	}
	return m
}

func or(v *float64, def float64) float64 {
	if v == nil {
		return def
	}
	return *v
}

func ptr(v float64) *float64 { return &v }

func round3(v float64) float64 { return math.Round(v*1000) / 1000 }
