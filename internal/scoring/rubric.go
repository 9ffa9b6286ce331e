package scoring

import (
	"encoding/json"
	"strconv"

	"github.com/rotisserie/eris"

	"github.com/sells-group/assessment-engine/internal/model"
)

// Rubric types.
const (
	RubricNumericRange       = "numeric_range"
	RubricBinary             = "binary"
	RubricBinaryWithEvidence = "binary_with_evidence"
	RubricTrend              = "timeseries_trend"
	RubricText               = "text_rubric"
)

// Rubric is the decoded scoring_rubric of an item.
type Rubric struct {
	Type           string   `json:"type" yaml:"type"`
	Ranges         []Range  `json:"ranges,omitempty" yaml:"ranges"`
	IdealDirection string   `json:"ideal_direction,omitempty" yaml:"ideal_direction"`
	Dimensions     []string `json:"dimensions,omitempty" yaml:"dimensions"`
	Criteria       []string `json:"criteria,omitempty" yaml:"criteria"`
}

// Range maps [Min, Max) to a score. A nil bound is unbounded.
type Range struct {
	Min   *float64 `json:"min,omitempty" yaml:"min"`
	Max   *float64 `json:"max,omitempty" yaml:"max"`
	Score float64  `json:"score" yaml:"score"`
}

// Contains reports whether min <= v < max.
func (r Range) Contains(v float64) bool {
	if r.Min != nil && v < *r.Min {
		return false
	}
	if r.Max != nil && v >= *r.Max {
		return false
	}
	return true
}

// ParseRubric decodes raw. It returns nil for an absent rubric.
func ParseRubric(raw json.RawMessage) (*Rubric, error) {
	if model.IsNull(raw) {
		return nil, nil
	}
	var r Rubric
	if err := json.Unmarshal(raw, &r); err != nil {
		return nil, eris.Wrap(err, "scoring: parse rubric")
	}
	return &r, nil
}

// Scoreable reports whether item takes part in scoring. Some field types are
// never scored regardless of the template flag.
func Scoreable(item *model.Item) bool {
	if !item.Scoreable {
		return false
	}
	switch item.FieldType {
	case model.FieldFileUpload, model.FieldDropdown, model.FieldMultiSelect,
		model.FieldPartnerSpecific, model.FieldSalaryBands:
		return false
	}
	return true
}

func formatNumber(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
