// Package report composes the versioned narrative report of a scored
// assessment from an external Narrator.
package report

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/assessment-engine/internal/model"
)

// Narrator writes report prose. Implementations call an AI capability; the
// exact wording is theirs.
type Narrator interface {
	ExecutiveSummary(ctx context.Context, b Brief) (string, error)
	ThemeAnalysis(ctx context.Context, t ThemeBrief) (string, error)
	// Recommendations returns the raw reply, ideally a JSON array of
	// recommendation objects.
	Recommendations(ctx context.Context, b Brief) (string, error)
}

// Input is everything a report is composed from.
type Input struct {
	Assessment      *model.Assessment
	Tenant          *model.Tenant
	Template        *model.Template
	Scores          *model.ScoreSet
	Responses       []model.Response
	Benchmarks      []model.BenchmarkMetric
	PreviousVersion int
}

// ProgressFunc receives the fraction of sections written.
type ProgressFunc func(fraction float64)

// Composer assembles reports.
type Composer struct {
	narrator Narrator
	now      func() time.Time
}

// NewComposer returns a Composer backed by narrator.
func NewComposer(narrator Narrator) *Composer {
	return &Composer{narrator: narrator, now: time.Now}
}

// Compose writes the executive summary, one analysis per theme and the
// recommendations. Any narrator error fails the whole report.
func (c *Composer) Compose(ctx context.Context, in Input, progress ProgressFunc) (*model.Report, error) {
	if in.Scores == nil {
		return nil, eris.New("report: assessment has no scores")
	}
	brief := NewBrief(in)
	log := zap.L().With(zap.String("assessment_id", in.Assessment.ID))

	steps := float64(len(brief.Themes) + 2)
	step := 0.0
	advance := func() {
		step++
		if progress != nil {
			progress(step / steps)
		}
	}

	rep := &model.Report{
		AssessmentID: in.Assessment.ID,
		Version:      in.PreviousVersion + 1,
		CreatedAt:    c.now().UTC(),
	}

	summary, err := c.narrator.ExecutiveSummary(ctx, brief)
	if err != nil {
		return nil, eris.Wrap(err, "report: executive summary")
	}
	rep.Sections = append(rep.Sections, model.ReportSection{
		Title:   "Executive Summary",
		Content: strings.TrimSpace(summary),
		Kind:    model.SectionExecutiveSummary,
	})
	advance()

	for _, tb := range brief.Themes {
		analysis, err := c.narrator.ThemeAnalysis(ctx, tb)
		if err != nil {
			return nil, eris.Wrapf(err, "report: analysis of theme %s", tb.Slug)
		}
		rep.Sections = append(rep.Sections, model.ReportSection{
			Title:   tb.Name,
			Content: strings.TrimSpace(analysis),
			Kind:    model.SectionThemeAnalysis,
			ThemeID: tb.ID,
		})
		advance()
	}

	raw, err := c.narrator.Recommendations(ctx, brief)
	if err != nil {
		return nil, eris.Wrap(err, "report: recommendations")
	}
	rep.Recommendations = ParseRecommendations(raw)
	rep.Sections = append(rep.Sections, model.ReportSection{
		Title:   "Recommendations",
		Content: renderRecommendations(rep.Recommendations),
		Kind:    model.SectionRecommendations,
	})
	advance()

	log.Info("report composed", zap.Int("version", rep.Version), zap.Int("sections", len(rep.Sections)))
	return rep, nil
}

func renderRecommendations(recs []model.Recommendation) string {
	var b strings.Builder
	for i, r := range recs {
		if i > 0 {
			b.WriteString("\n")
		}
		fmt.Fprintf(&b, "%d. %s", i+1, r.Title)
		if r.Priority != "" {
			fmt.Fprintf(&b, " [%s]", r.Priority)
		}
		if r.Detail != "" {
			b.WriteString(": " + r.Detail)
		}
	}
	return b.String()
}

// MarshalSummary is the result_data stored on a completed report job.
func MarshalSummary(r *model.Report) json.RawMessage {
	out, _ := json.Marshal(map[string]any{
		"report_id":       r.ID,
		"version":         r.Version,
		"sections":        len(r.Sections),
		"recommendations": len(r.Recommendations),
	})
	return out
}
