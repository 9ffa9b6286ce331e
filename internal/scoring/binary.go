package scoring

import (
	"encoding/json"
	"fmt"
	"math"
	"strings"
	"unicode/utf8"

	"golang.org/x/text/unicode/norm"

	"github.com/sells-group/assessment-engine/internal/model"
)

// scoreBinary scores a yes/no answer as 100 or 0. With an evidence rubric and
// enough supporting detail the answer is blended with an evidence quality
// score: 0.3 * answer + 0.7 * evidence.
func scoreBinary(rubric *Rubric, raw json.RawMessage) Result {
	var v model.YesNoValue
	if err := json.Unmarshal(raw, &v); err != nil || v.Answer == nil {
		return Result{Feedback: "No answer provided."}
	}

	answer, label := 0.0, "No"
	if *v.Answer {
		answer, label = 100, "Yes"
	}

	if rubric != nil && rubric.Type == RubricBinaryWithEvidence {
		if quality, ok := evidenceQuality(v.Details); ok {
			combined := math.Round((0.3*answer+0.7*quality)*10) / 10
			return Result{
				Score: &combined,
				Feedback: fmt.Sprintf("Binary: %s (%s), Evidence quality: %s/100. Combined score: %.1f/100.",
					label, formatNumber(answer), formatNumber(quality), combined),
			}
		}
	}

	return Result{
		Score:    &answer,
		Feedback: fmt.Sprintf("%s - scored %s/100.", label, formatNumber(answer)),
	}
}

// evidenceQuality grades supporting detail by length. Details of 50
// characters or fewer do not count as evidence.
func evidenceQuality(details string) (float64, bool) {
	n := utf8.RuneCountInString(strings.TrimSpace(norm.NFC.String(details)))
	switch {
	case n > 500:
		return 85, true
	case n > 200:
		return 65, true
	case n > 50:
		return 40, true
	default:
		return 0, false
	}
}
