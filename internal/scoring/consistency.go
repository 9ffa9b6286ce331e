package scoring

import (
	"encoding/json"

	"github.com/sells-group/assessment-engine/internal/model"
)

// Item codes of the key metrics read across packages.
const (
	CodeEnrollment     = "TL03"
	CodeRetention      = "TL04"
	CodeAcademicStaff  = "TL06"
	CodeDoctoralStaff  = "TL07"
	CodeDoctoralPct    = "TL08"
	CodeFlyingFaculty  = "TL09"
	CodeFlyingPct      = "TL10"
	CodeSSR            = "TL11"
	CodeEmploymentRate = "SE04"
)

type consistencyRule struct {
	id          string
	description string
	// check returns false on a violation. Missing inputs pass.
	check func(values map[string]float64) bool
}

var consistencyRules = []consistencyRule{
	{
		id:          "staff_count_vs_phd",
		description: "PhD staff cannot exceed total academic staff",
		check:       notAbove(CodeDoctoralStaff, CodeAcademicStaff),
	},
	{
		id:          "flying_faculty_vs_staff",
		description: "Flying faculty cannot exceed total academic staff",
		check:       notAbove(CodeFlyingFaculty, CodeAcademicStaff),
	},
	{
		id:          "retention_plausibility",
		description: "Retention rate should be between 0-100%",
		check:       within(CodeRetention, 0, 100),
	},
	{
		id:          "employment_rate_plausibility",
		description: "Employment rate should be between 0-100%",
		check:       within(CodeEmploymentRate, 0, 100),
	},
}

func notAbove(part, whole string) func(map[string]float64) bool {
	return func(values map[string]float64) bool {
		p, okP := values[part]
		w, okW := values[whole]
		return !okP || !okW || p <= w
	}
}

func within(code string, lo, hi float64) func(map[string]float64) bool {
	return func(values map[string]float64) bool {
		v, ok := values[code]
		return !ok || (v >= lo && v <= hi)
	}
}

// CheckConsistency runs the cross-item plausibility rules over a response
// snapshot keyed by item id. Issues are informational and never change
// scores.
func CheckConsistency(tpl *model.Template, values map[string]json.RawMessage) []model.ConsistencyIssue {
	numbers := NumbersByCode(tpl, values)
	var issues []model.ConsistencyIssue
	for _, rule := range consistencyRules {
		if !rule.check(numbers) {
			issues = append(issues, model.ConsistencyIssue{
				RuleID:      rule.id,
				Severity:    "high",
				Description: rule.description,
			})
		}
	}
	return issues
}

// NumbersByCode returns the numeric responses of a snapshot keyed by item
// code.
func NumbersByCode(tpl *model.Template, values map[string]json.RawMessage) map[string]float64 {
	out := make(map[string]float64)
	for id, raw := range values {
		item := tpl.ItemByID(id)
		if item == nil {
			continue
		}
		if v, ok := model.NumberValue(raw); ok {
			out[item.Code] = v
		}
	}
	return out
}
