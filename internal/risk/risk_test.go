package risk

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/assessment-engine/internal/model"
	"github.com/sells-group/assessment-engine/internal/scoring"
)

func f(v float64) *float64 { return &v }

func TestEvaluate_NoDataIsLowRisk(t *testing.T) {
	res := Evaluate(Metrics{})
	assert.Zero(t, res.RiskScore)
	assert.Equal(t, LevelLow, res.RiskLevel)
	assert.Empty(t, res.ContributingFactors)
	assert.Equal(t, 6, res.RulesEvaluated)
}

func TestEvaluate_AllRulesFire(t *testing.T) {
	res := Evaluate(Metrics{
		FinancialScore:  f(20),
		GovernanceScore: f(25),
		RetentionRate:   f(35),
		SSR:             f(80),
		PhDPercentage:   f(10),
		EnrollmentTrend: scoring.Trend{Direction: scoring.TrendDecreasing},
	})

	require.Len(t, res.ContributingFactors, 6)
	byID := make(map[string]Factor)
	for _, fc := range res.ContributingFactors {
		byID[fc.RuleID] = fc
	}
	assert.InDelta(t, 0.5, byID["low_financial_score"].RawScore, 1e-9)
	assert.InDelta(t, 0.125, byID["low_financial_score"].WeightedContribution, 1e-9)
	assert.InDelta(t, 0.16, byID["declining_enrollment"].WeightedContribution, 1e-9)
	assert.InDelta(t, 0.5, byID["low_retention"].RawScore, 1e-9)
	assert.InDelta(t, 1.0, byID["high_ssr"].RawScore, 1e-9, "capped at 1")
	assert.InDelta(t, 0.5, byID["low_governance"].RawScore, 1e-9)
	assert.InDelta(t, 0.5, byID["low_staff_qualifications"].RawScore, 1e-9)

	// 0.125 + 0.16 + 0.075 + 0.15 + 0.075 + 0.05
	assert.InDelta(t, 0.635, res.RiskScore, 1e-9)
	assert.Equal(t, LevelHigh, res.RiskLevel)

	assert.Equal(t, "declining_enrollment", res.ContributingFactors[0].RuleID)
	for i := 1; i < len(res.ContributingFactors); i++ {
		assert.GreaterOrEqual(t, res.ContributingFactors[i-1].WeightedContribution, res.ContributingFactors[i].WeightedContribution)
	}
}

func TestEvaluate_ThresholdsAreStrict(t *testing.T) {
	res := Evaluate(Metrics{
		FinancialScore:  f(40),
		GovernanceScore: f(50),
		RetentionRate:   f(70),
		SSR:             f(35),
		PhDPercentage:   f(20),
		EnrollmentTrend: scoring.Trend{Direction: scoring.TrendStable},
	})
	assert.Empty(t, res.ContributingFactors)
	assert.Equal(t, LevelLow, res.RiskLevel)
}

func TestLevelFor(t *testing.T) {
	assert.Equal(t, LevelLow, LevelFor(0.299))
	assert.Equal(t, LevelMedium, LevelFor(0.3))
	assert.Equal(t, LevelMedium, LevelFor(0.599))
	assert.Equal(t, LevelHigh, LevelFor(0.6))
}

func riskTemplate() *model.Template {
	tpl := &model.Template{
		ID: "tpl",
		Themes: []model.Theme{{
			ID: "th-tl", Slug: "teaching-learning", Name: "Teaching & Learning", Weight: 1,
			Items: []model.Item{
				{ID: "i-tl03", Code: scoring.CodeEnrollment, FieldType: model.FieldMultiYearGender, DisplayOrder: 1},
				{ID: "i-tl04", Code: scoring.CodeRetention, FieldType: model.FieldPercentage, DisplayOrder: 2},
				{ID: "i-tl08", Code: scoring.CodeDoctoralPct, FieldType: model.FieldAutoCalculated, DisplayOrder: 3},
				{ID: "i-tl11", Code: scoring.CodeSSR, FieldType: model.FieldAutoCalculated, DisplayOrder: 4},
			},
		}},
	}
	tpl.Index()
	return tpl
}

func TestMetricsFrom(t *testing.T) {
	scores := &model.ScoreSet{Themes: []model.ThemeScore{
		{ThemeSlug: ThemeFinancial, MaxScore: 200, Percentage: 10},
		{ThemeSlug: ThemeGovernance, MaxScore: 0, Percentage: 0},
	}}
	values := map[string]json.RawMessage{
		"i-tl03": json.RawMessage(`{"years":{"2023":{"male":300,"female":300},"2024":{"male":250,"female":250},"2025":{"male":200,"female":200}}}`),
		"i-tl04": json.RawMessage(`65`),
		"i-tl11": json.RawMessage(`null`),
	}

	m := MetricsFrom(riskTemplate(), scores, values)
	require.NotNil(t, m.FinancialScore)
	assert.Equal(t, 10.0, *m.FinancialScore)
	assert.Nil(t, m.GovernanceScore, "a theme with nothing scoreable is unknown")
	require.NotNil(t, m.RetentionRate)
	assert.Equal(t, 65.0, *m.RetentionRate)
	assert.Nil(t, m.SSR)
	assert.Nil(t, m.PhDPercentage)
	assert.Equal(t, scoring.TrendDecreasing, m.EnrollmentTrend.Direction)

	res := Evaluate(m)
	ids := make([]string, len(res.ContributingFactors))
	for i, fc := range res.ContributingFactors {
		ids[i] = fc.RuleID
	}
	assert.Equal(t, []string{"low_financial_score", "declining_enrollment", "low_retention"}, ids)
	assert.Equal(t, LevelMedium, res.RiskLevel)
}

func TestMetricsFrom_NoEnrollment(t *testing.T) {
	m := MetricsFrom(riskTemplate(), nil, nil)
	assert.Equal(t, scoring.TrendInsufficient, m.EnrollmentTrend.Direction)
	assert.Nil(t, m.FinancialScore)
}
