package ai

import (
	"context"
	"fmt"
	"strings"

	"github.com/rotisserie/eris"

	"github.com/sells-group/assessment-engine/internal/scoring"
	"github.com/sells-group/assessment-engine/pkg/anthropic"
)

const gradeMaxTokens = 1000

// Grader implements scoring.TextGrader.
type Grader struct {
	caller *Caller
}

// NewGrader returns a Grader sending requests through caller.
func NewGrader(caller *Caller) *Grader {
	return &Grader{caller: caller}
}

// GradeText scores a response on the four rubric dimensions at temperature
// zero so repeated runs agree.
func (g *Grader) GradeText(ctx context.Context, req scoring.TextRequest) (scoring.TextGrade, error) {
	criteria := ""
	if len(req.Criteria) > 0 {
		criteria = "**Look for**: " + strings.Join(req.Criteria, "; ") + "\n"
	}
	theme := req.ThemeName
	if theme == "" {
		theme = "N/A"
	}

	text, err := g.caller.complete(ctx, prompt{
		capability: "grade_text",
		system:     gradeTextSystem,
		user:       fmt.Sprintf(gradeTextTemplate, req.ItemLabel, req.ItemCode, theme, criteria, req.Text),
		maxTokens:  gradeMaxTokens,
	})
	if err != nil {
		return scoring.TextGrade{}, err
	}

	var grade scoring.TextGrade
	if err := anthropic.DecodeJSON(text, &grade); err != nil {
		return scoring.TextGrade{}, eris.Wrapf(err, "ai: grade %s", req.ItemCode)
	}
	return grade, nil
}
