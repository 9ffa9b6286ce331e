package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/sells-group/assessment-engine/internal/report"
)

const (
	narrativeTemperature = 0.3
	summaryMaxTokens     = 2000
	themeMaxTokens       = 1500
	recsMaxTokens        = 3000
)

// Narrator implements report.Narrator.
type Narrator struct {
	caller *Caller
}

// NewNarrator returns a Narrator sending requests through caller.
func NewNarrator(caller *Caller) *Narrator {
	return &Narrator{caller: caller}
}

// ExecutiveSummary implements report.Narrator.
func (n *Narrator) ExecutiveSummary(ctx context.Context, b report.Brief) (string, error) {
	metrics := make([]string, len(b.KeyMetrics))
	for i, m := range b.KeyMetrics {
		metrics[i] = fmt.Sprintf("- %s: %s", m.Name, m.Value)
	}
	institution := b.InstitutionName
	if institution == "" {
		institution = "N/A"
	}
	return n.caller.complete(ctx, prompt{
		capability:  "executive_summary",
		system:      reportSystem,
		user:        fmt.Sprintf(executiveSummaryTemplate, institution, b.AcademicYear, scoreText(b.OverallScore), b.FormatThemes(), strings.Join(metrics, "\n")),
		maxTokens:   summaryMaxTokens,
		temperature: narrativeTemperature,
	})
}

// ThemeAnalysis implements report.Narrator.
func (n *Narrator) ThemeAnalysis(ctx context.Context, t report.ThemeBrief) (string, error) {
	pct := t.Percentage
	return n.caller.complete(ctx, prompt{
		capability:  "theme_analysis",
		system:      reportSystem,
		user:        fmt.Sprintf(themeAnalysisTemplate, t.Name, scoreText(&pct), fmt.Sprintf("%.0f", t.WeightPct), report.FormatItems(t.Items), t.Benchmark),
		maxTokens:   themeMaxTokens,
		temperature: narrativeTemperature,
	})
}

// Recommendations implements report.Narrator.
func (n *Narrator) Recommendations(ctx context.Context, b report.Brief) (string, error) {
	return n.caller.complete(ctx, prompt{
		capability:  "recommendations",
		system:      reportSystem,
		user:        fmt.Sprintf(recommendationsTemplate, scoreText(b.OverallScore), b.FormatThemes(), report.FormatItems(b.LowScoringItems), b.FormatIssues()),
		maxTokens:   recsMaxTokens,
		temperature: narrativeTemperature,
	})
}

func scoreText(v *float64) string {
	if v == nil {
		return "N/A"
	}
	return fmt.Sprintf("%.1f", *v)
}
