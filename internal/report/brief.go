package report

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/sells-group/assessment-engine/internal/model"
	"github.com/sells-group/assessment-engine/internal/scoring"
)

// lowScoreThreshold marks items worth calling out in recommendations.
const lowScoreThreshold = 50

// Brief is the prompt material for a whole report.
type Brief struct {
	InstitutionName string                   `json:"institution_name"`
	AcademicYear    string                   `json:"academic_year"`
	OverallScore    *float64                 `json:"overall_score"`
	Themes          []ThemeBrief             `json:"themes"`
	KeyMetrics      []Metric                 `json:"key_metrics"`
	LowScoringItems []ItemBrief              `json:"low_scoring_items"`
	Issues          []model.ConsistencyIssue `json:"issues,omitempty"`
}

// ThemeBrief is the prompt material for one theme analysis.
type ThemeBrief struct {
	ID         string      `json:"id"`
	Slug       string      `json:"slug"`
	Name       string      `json:"name"`
	Percentage float64     `json:"percentage"`
	WeightPct  float64     `json:"weight_pct"`
	Items      []ItemBrief `json:"items"`
	Benchmark  string      `json:"benchmark"`
}

// ItemBrief is one scored item.
type ItemBrief struct {
	Code     string   `json:"code"`
	Label    string   `json:"label"`
	Score    *float64 `json:"score"`
	Feedback string   `json:"feedback,omitempty"`
}

// Metric is a named headline figure.
type Metric struct {
	Name  string `json:"name"`
	Value string `json:"value"`
}

// NewBrief derives the prompt material from a report input.
func NewBrief(in Input) Brief {
	b := Brief{
		AcademicYear: in.Assessment.AcademicYear,
		OverallScore: in.Assessment.OverallScore,
		Issues:       in.Scores.Issues,
	}
	if b.OverallScore == nil {
		pct := in.Scores.OverallPercentage
		b.OverallScore = &pct
	}
	if in.Tenant != nil {
		b.InstitutionName = in.Tenant.Name
	}

	benchmarks := make(map[string]model.BenchmarkMetric, len(in.Benchmarks))
	for _, m := range in.Benchmarks {
		benchmarks[m.MetricName] = m
	}

	for _, ts := range in.Scores.Themes {
		tb := ThemeBrief{
			ID:         ts.ThemeID,
			Slug:       ts.ThemeSlug,
			Name:       ts.ThemeName,
			Percentage: ts.Percentage,
			WeightPct:  ts.Weight * 100,
			Benchmark:  "No benchmark data available for comparison",
		}
		if m, ok := benchmarks["theme:"+ts.ThemeSlug]; ok {
			tb.Benchmark = fmt.Sprintf("Peer median %.1f (p25 %.1f, p75 %.1f, n=%d)",
				m.Percentile50, m.Percentile25, m.Percentile75, m.SampleSize)
		}
		for _, is := range ts.Items {
			ib := ItemBrief{Code: is.ItemCode, Score: is.AIScore, Feedback: is.AIFeedback}
			if in.Template != nil {
				if item := in.Template.ItemByID(is.ItemID); item != nil {
					ib.Label = item.Label
				}
			}
			tb.Items = append(tb.Items, ib)
			if is.AIScore != nil && *is.AIScore < lowScoreThreshold {
				b.LowScoringItems = append(b.LowScoringItems, ib)
			}
		}
		b.Themes = append(b.Themes, tb)
	}

	if in.Template != nil {
		b.KeyMetrics = keyMetrics(in.Template, in.Responses)
	}
	return b
}

func keyMetrics(tpl *model.Template, responses []model.Response) []Metric {
	values := make(map[string]json.RawMessage, len(responses))
	for _, r := range responses {
		if r.PartnerID == "" {
			values[r.ItemID] = r.Value
		}
	}
	numbers := scoring.NumbersByCode(tpl, values)

	students := "N/A"
	if item := tpl.ItemByCode(scoring.CodeEnrollment); item != nil {
		var grid model.MultiYearValue
		if raw, ok := values[item.ID]; ok && json.Unmarshal(raw, &grid) == nil {
			if totals := scoring.YearTotals(grid); len(totals) > 0 {
				students = formatFloat(totals[len(totals)-1])
			}
		}
	}

	metric := func(name, code, suffix string) Metric {
		if v, ok := numbers[code]; ok {
			return Metric{Name: name, Value: formatFloat(v) + suffix}
		}
		return Metric{Name: name, Value: "N/A"}
	}
	return []Metric{
		{Name: "Total TNE students", Value: students},
		metric("Student-Staff Ratio", scoring.CodeSSR, ""),
		metric("PhD staff percentage", scoring.CodeDoctoralPct, "%"),
		metric("Retention rate", scoring.CodeRetention, "%"),
		metric("Graduate employment rate", scoring.CodeEmploymentRate, "%"),
	}
}

// FormatThemes renders theme scores one per line.
func (b Brief) FormatThemes() string {
	lines := make([]string, len(b.Themes))
	for i, t := range b.Themes {
		lines[i] = fmt.Sprintf("- %s: %.1f/100 (weight: %s%%)", t.Name, t.Percentage, formatFloat(t.WeightPct))
	}
	return strings.Join(lines, "\n")
}

// FormatItems renders item scores one per line.
func FormatItems(items []ItemBrief) string {
	if len(items) == 0 {
		return "None identified"
	}
	lines := make([]string, len(items))
	for i, it := range items {
		score := "not scored"
		if it.Score != nil {
			score = formatFloat(*it.Score) + "/100"
		}
		label := it.Label
		if label == "" {
			label = it.Code
		}
		lines[i] = fmt.Sprintf("- %s %s: %s", it.Code, label, score)
	}
	return strings.Join(lines, "\n")
}

// FormatIssues renders consistency issues one per line.
func (b Brief) FormatIssues() string {
	if len(b.Issues) == 0 {
		return "None identified"
	}
	lines := make([]string, len(b.Issues))
	for i, is := range b.Issues {
		lines[i] = fmt.Sprintf("- [%s] %s", is.Severity, is.Description)
	}
	return strings.Join(lines, "\n")
}

func formatFloat(v float64) string {
	s := fmt.Sprintf("%.1f", v)
	return strings.TrimSuffix(s, ".0")
}
