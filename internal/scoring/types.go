// Package scoring turns a response snapshot into item, theme and overall
// scores. Algorithmic field types are scored locally; free text is graded by
// an external TextGrader.
package scoring

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/assessment-engine/internal/model"
)

// ErrUnavailable marks a scorer failure that affects every item, such as an
// unreachable AI capability. It fails the whole scoring run instead of
// degrading a single item.
var ErrUnavailable = eris.New("scoring: scorer unavailable")

// Result is the verdict on one item. A nil Score means the item could not be
// scored; it still counts toward the theme's max score.
type Result struct {
	Score    *float64 `json:"score"`
	Feedback string   `json:"feedback"`
}

// ItemRequest is one item and its current value.
type ItemRequest struct {
	Item      *model.Item
	ThemeName string
	Value     json.RawMessage
}

// ItemScorer scores a single item.
type ItemScorer interface {
	ScoreItem(ctx context.Context, req ItemRequest) (Result, error)
}

// TextRequest is a free-text response sent for rubric grading.
type TextRequest struct {
	ItemCode  string   `json:"item_code"`
	ItemLabel string   `json:"item_label"`
	ThemeName string   `json:"theme_name"`
	Text      string   `json:"text"`
	Criteria  []string `json:"criteria,omitempty"`
}

// TextGrade is the rubric verdict on a free-text response. Each dimension is
// scored 0-25.
type TextGrade struct {
	Relevance         float64  `json:"relevance"`
	Specificity       float64  `json:"specificity"`
	Evidence          float64  `json:"evidence"`
	Comprehensiveness float64  `json:"comprehensiveness"`
	TotalScore        float64  `json:"total_score"`
	Strengths         []string `json:"strengths"`
	Weaknesses        []string `json:"weaknesses"`
	Feedback          string   `json:"feedback"`
}

// TextGrader grades free text against the four-dimension rubric.
type TextGrader interface {
	GradeText(ctx context.Context, req TextRequest) (TextGrade, error)
}

// Total returns the grade's total, falling back to the sum of its dimensions
// when the grader left it at zero, clamped to [0, 100].
func (g TextGrade) Total() float64 {
	total := g.TotalScore
	if total == 0 {
		total = g.Relevance + g.Specificity + g.Evidence + g.Comprehensiveness
	}
	return clamp(total, 0, 100)
}

// Summary renders the grade's strengths, weaknesses and feedback as one line.
func (g TextGrade) Summary() string {
	var parts []string
	if len(g.Strengths) > 0 {
		parts = append(parts, "Strengths: "+strings.Join(g.Strengths, "; "))
	}
	if len(g.Weaknesses) > 0 {
		parts = append(parts, "Areas for improvement: "+strings.Join(g.Weaknesses, "; "))
	}
	if g.Feedback != "" {
		parts = append(parts, g.Feedback)
	}
	if len(parts) == 0 {
		return fmt.Sprintf("Score: %s/100", formatNumber(g.Total()))
	}
	return strings.Join(parts, " | ")
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
