package responses

import (
	"encoding/json"
	"math"

	"github.com/sells-group/assessment-engine/internal/model"
	"github.com/sells-group/assessment-engine/internal/scoring"
)

// Formulas an auto_calculated item may declare in field_config.formula. Both
// read their operands from depends_on as [numerator, denominator].
const (
	FormulaRatio      = "ratio"
	FormulaPercentage = "percentage"
)

// Calculate evaluates item's formula over the institution-level values keyed
// by item code. It returns nil when an operand is missing, the denominator is
// zero, or the formula is unknown. Results are rounded to one decimal.
func Calculate(item *model.Item, byCode map[string]json.RawMessage) *float64 {
	cfg := item.FieldConfig
	if len(cfg.DependsOn) != 2 {
		return nil
	}
	num, ok := operand(byCode[cfg.DependsOn[0]])
	if !ok {
		return nil
	}
	den, ok := operand(byCode[cfg.DependsOn[1]])
	if !ok || den == 0 {
		return nil
	}

	var v float64
	switch cfg.Formula {
	case FormulaRatio:
		v = num / den
	case FormulaPercentage:
		v = num / den * 100
	default:
		return nil
	}
	v = math.Round(v*10) / 10
	return &v
}

// operand reads a number, or the latest year's total of a multi-year grid.
func operand(raw json.RawMessage) (float64, bool) {
	if v, ok := model.NumberValue(raw); ok {
		return v, true
	}
	if model.IsNull(raw) {
		return 0, false
	}
	var grid model.MultiYearValue
	if err := json.Unmarshal(raw, &grid); err != nil || len(grid.Years) == 0 {
		return 0, false
	}
	totals := scoring.YearTotals(grid)
	return totals[len(totals)-1], true
}

// Recalculate returns the auto_calculated responses of assessmentID whose
// stored value no longer matches their inputs in current. A calculated value
// whose inputs were cleared is written back as null.
func Recalculate(tpl *model.Template, assessmentID string, current []model.Response) []model.Response {
	byCode := make(map[string]json.RawMessage)
	stored := make(map[string]json.RawMessage)
	for _, r := range current {
		if r.PartnerID != "" {
			continue
		}
		item := tpl.ItemByID(r.ItemID)
		if item == nil {
			continue
		}
		byCode[item.Code] = r.Value
		stored[item.ID] = r.Value
	}

	var out []model.Response
	for _, item := range tpl.Items() {
		if item.FieldType != model.FieldAutoCalculated {
			continue
		}
		next := Calculate(&item, byCode)
		old, hadValue := model.NumberValue(stored[item.ID])
		if next == nil && !hadValue {
			continue
		}
		if next != nil && hadValue && old == *next {
			continue
		}

		val := json.RawMessage("null")
		if next != nil {
			val, _ = json.Marshal(*next)
		}
		out = append(out, model.Response{AssessmentID: assessmentID, ItemID: item.ID, Value: val})
		byCode[item.Code] = val
	}
	return out
}

// Progress is round(100 * answered / total) over the template's items. An
// item counts as answered when any of its responses is non-empty.
func Progress(tpl *model.Template, current []model.Response) int {
	total := tpl.ItemCount()
	if total == 0 {
		return 0
	}
	answered := make(map[string]bool)
	for _, r := range current {
		if tpl.ItemByID(r.ItemID) == nil || model.IsEmpty(r.Value) {
			continue
		}
		answered[r.ItemID] = true
	}
	return int(math.Round(100 * float64(len(answered)) / float64(total)))
}
