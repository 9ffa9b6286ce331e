package scoring

import (
	"context"
	"encoding/json"
	"strings"
	"unicode/utf8"

	"github.com/rotisserie/eris"
	"golang.org/x/text/unicode/norm"
)

const (
	minTextRunes = 10
	maxTextRunes = 3000
)

// scoreText sends a free-text response to the grader. Responses shorter than
// ten characters score zero without a grader call.
func scoreText(ctx context.Context, grader TextGrader, req ItemRequest, rubric *Rubric) (Result, error) {
	var s string
	if err := json.Unmarshal(req.Value, &s); err != nil {
		return Result{Feedback: "No text response provided."}, nil
	}
	text := strings.TrimSpace(norm.NFC.String(s))
	if utf8.RuneCountInString(text) < minTextRunes {
		zero := 0.0
		return Result{Score: &zero, Feedback: "Response is too short or empty to evaluate."}, nil
	}
	if grader == nil {
		return Result{}, eris.Wrap(ErrUnavailable, "scoring: no text grader configured")
	}

	tr := TextRequest{
		ItemCode:  req.Item.Code,
		ItemLabel: req.Item.Label,
		ThemeName: req.ThemeName,
		Text:      truncateRunes(text, maxTextRunes),
	}
	if rubric != nil {
		tr.Criteria = rubric.Criteria
	}

	grade, err := grader.GradeText(ctx, tr)
	if err != nil {
		return Result{}, err
	}
	total := grade.Total()
	return Result{Score: &total, Feedback: grade.Summary()}, nil
}

func truncateRunes(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n])
}
