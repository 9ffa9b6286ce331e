package scoring

import (
	"encoding/json"
	"fmt"

	"github.com/sells-group/assessment-engine/internal/model"
)

// scoreNumeric scores a number against the first rubric range containing it.
func scoreNumeric(rubric *Rubric, raw json.RawMessage) Result {
	v, ok := model.NumberValue(raw)
	if !ok {
		return Result{Feedback: "No numeric value provided."}
	}
	if rubric == nil || len(rubric.Ranges) == 0 {
		return Result{Feedback: "No scoring rubric defined."}
	}
	for _, r := range rubric.Ranges {
		if r.Contains(v) {
			score := r.Score
			return Result{
				Score:    &score,
				Feedback: fmt.Sprintf("Value %s scored %s/100 based on rubric ranges.", formatNumber(v), formatNumber(score)),
			}
		}
	}
	return Result{Feedback: fmt.Sprintf("Value %s falls outside every rubric range.", formatNumber(v))}
}
