package scoring

import (
	"context"

	"github.com/rotisserie/eris"

	"github.com/sells-group/assessment-engine/internal/model"
)

// Router is the ItemScorer used by scoring runs. It dispatches on field type:
// numeric types against rubric ranges, yes/no as binary, multi-year grids by
// trend, and free text through the TextGrader.
type Router struct {
	grader TextGrader
}

// NewRouter returns a Router. grader may be nil when no text items are
// scoreable.
func NewRouter(grader TextGrader) *Router {
	return &Router{grader: grader}
}

// ScoreItem implements ItemScorer.
func (r *Router) ScoreItem(ctx context.Context, req ItemRequest) (Result, error) {
	if model.IsNull(req.Value) {
		return Result{Feedback: "No response provided."}, nil
	}
	rubric, err := ParseRubric(req.Item.Rubric)
	if err != nil {
		return Result{}, err
	}

	switch req.Item.FieldType {
	case model.FieldNumeric, model.FieldPercentage, model.FieldAutoCalculated:
		return scoreNumeric(rubric, req.Value), nil
	case model.FieldYesNoConditional:
		return scoreBinary(rubric, req.Value), nil
	case model.FieldMultiYearGender:
		return scoreTrend(rubric, req.Value), nil
	case model.FieldShortText, model.FieldLongText:
		return scoreText(ctx, r.grader, req, rubric)
	default:
		return Result{}, eris.Errorf("scoring: field type %q is not scoreable", req.Item.FieldType)
	}
}
