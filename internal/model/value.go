package model

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"time"
)

// FieldType is the tag that selects an item's value shape.
type FieldType string

const (
	FieldShortText        FieldType = "short_text"
	FieldLongText         FieldType = "long_text"
	FieldNumeric          FieldType = "numeric"
	FieldPercentage       FieldType = "percentage"
	FieldYesNoConditional FieldType = "yes_no_conditional"
	FieldDropdown         FieldType = "dropdown"
	FieldMultiSelect      FieldType = "multi_select"
	FieldFileUpload       FieldType = "file_upload"
	FieldMultiYearGender  FieldType = "multi_year_gender"
	FieldPartnerSpecific  FieldType = "partner_specific"
	FieldAutoCalculated   FieldType = "auto_calculated"
	FieldSalaryBands      FieldType = "salary_bands"
)

// Response is the current value of one item, optionally scoped to a partner.
type Response struct {
	AssessmentID string          `json:"assessment_id"`
	ItemID       string          `json:"item_id"`
	PartnerID    string          `json:"partner_id,omitempty"`
	Value        json.RawMessage `json:"value"`
	UpdatedAt    time.Time       `json:"updated_at"`
}

// YesNoValue is the value of a yes_no_conditional item.
type YesNoValue struct {
	Answer  *bool  `json:"answer"`
	Details string `json:"details,omitempty"`
}

// MultiSelectValue is the value of a multi_select item.
type MultiSelectValue struct {
	Selected []string `json:"selected"`
}

// FileRef is an opaque pointer into file storage. The engine never reads the
// referenced bytes.
type FileRef struct {
	FileID      string `json:"file_id"`
	Name        string `json:"name,omitempty"`
	ContentType string `json:"content_type,omitempty"`
	Size        int64  `json:"size,omitempty"`
}

// GenderCount is one year's split in a multi_year_gender grid.
type GenderCount struct {
	Male   float64 `json:"male"`
	Female float64 `json:"female"`
}

// Total returns male + female.
func (g GenderCount) Total() float64 { return g.Male + g.Female }

// MultiYearValue is the value of a multi_year_gender item, keyed by year.
type MultiYearValue struct {
	Years map[string]GenderCount `json:"years"`
}

// PartnerValue is the value of a partner_specific item stored without a
// partner scope.
type PartnerValue struct {
	Partners map[string]json.RawMessage `json:"partners"`
}

// ValueError reports a value that does not match its field type.
type ValueError struct {
	ItemCode  string
	FieldType FieldType
	Reason    string
}

func (e *ValueError) Error() string {
	return fmt.Sprintf("item %s (%s): %s", e.ItemCode, e.FieldType, e.Reason)
}

// IsNull reports whether raw is absent or JSON null.
func IsNull(raw json.RawMessage) bool {
	trimmed := bytes.TrimSpace(raw)
	return len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null"))
}

type validator func(item *Item, raw json.RawMessage) string

var validators = map[FieldType]validator{
	FieldShortText:        validateText,
	FieldLongText:         validateText,
	FieldNumeric:          validateNumber,
	FieldPercentage:       validateNumber,
	FieldAutoCalculated:   validateNumber,
	FieldYesNoConditional: validateYesNo,
	FieldDropdown:         validateDropdown,
	FieldMultiSelect:      validateMultiSelect,
	FieldFileUpload:       validateFiles,
	FieldMultiYearGender:  validateMultiYear,
	FieldPartnerSpecific:  validatePartner,
	FieldSalaryBands:      validateSalaryBands,
}

// KnownFieldType reports whether ft has a validator.
func KnownFieldType(ft FieldType) bool {
	_, ok := validators[ft]
	return ok
}

// ValidateValue checks raw against the canonical shape of item's field type.
// Null always passes.
func ValidateValue(item *Item, raw json.RawMessage) error {
	if IsNull(raw) {
		return nil
	}
	v, ok := validators[item.FieldType]
	if !ok {
		return &ValueError{ItemCode: item.Code, FieldType: item.FieldType, Reason: "unknown field type"}
	}
	if reason := v(item, raw); reason != "" {
		return &ValueError{ItemCode: item.Code, FieldType: item.FieldType, Reason: reason}
	}
	return nil
}

func decodeStrict(raw json.RawMessage, dst any) error {
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.DisallowUnknownFields()
	return dec.Decode(dst)
}

func validateText(item *Item, raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "expected a string"
	}
	if item.FieldConfig.MaxLength > 0 && len([]rune(s)) > item.FieldConfig.MaxLength {
		return fmt.Sprintf("longer than %d characters", item.FieldConfig.MaxLength)
	}
	return ""
}

func validateNumber(_ *Item, raw json.RawMessage) string {
	if _, ok := NumberValue(raw); !ok {
		return "expected a number"
	}
	return ""
}

func validateYesNo(_ *Item, raw json.RawMessage) string {
	var v YesNoValue
	if err := decodeStrict(raw, &v); err != nil {
		return `expected {"answer": bool, "details": string}`
	}
	if v.Answer == nil {
		return "answer is required"
	}
	return ""
}

func validateDropdown(item *Item, raw json.RawMessage) string {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "expected a string option"
	}
	if len(item.FieldConfig.Options) > 0 && !contains(item.FieldConfig.Options, s) {
		return fmt.Sprintf("%q is not an option", s)
	}
	return ""
}

func validateMultiSelect(item *Item, raw json.RawMessage) string {
	var v MultiSelectValue
	if err := decodeStrict(raw, &v); err != nil {
		return `expected {"selected": [string]}`
	}
	if len(item.FieldConfig.Options) == 0 {
		return ""
	}
	for _, s := range v.Selected {
		if !contains(item.FieldConfig.Options, s) {
			return fmt.Sprintf("%q is not an option", s)
		}
	}
	return ""
}

func validateFiles(_ *Item, raw json.RawMessage) string {
	var refs []FileRef
	if err := decodeStrict(raw, &refs); err != nil {
		return "expected a list of file references"
	}
	for i, r := range refs {
		if r.FileID == "" {
			return fmt.Sprintf("file reference %d has no file_id", i)
		}
	}
	return ""
}

func validateMultiYear(_ *Item, raw json.RawMessage) string {
	var v MultiYearValue
	if err := decodeStrict(raw, &v); err != nil {
		return `expected {"years": {"<year>": {"male": n, "female": n}}}`
	}
	for year := range v.Years {
		if _, err := strconv.Atoi(year); err != nil {
			return fmt.Sprintf("%q is not a year", year)
		}
	}
	return ""
}

func validatePartner(_ *Item, raw json.RawMessage) string {
	var v PartnerValue
	if err := decodeStrict(raw, &v); err != nil {
		return `expected {"partners": {...}}`
	}
	return ""
}

func validateSalaryBands(item *Item, raw json.RawMessage) string {
	var bands map[string]float64
	if err := json.Unmarshal(raw, &bands); err != nil {
		return "expected an object of band to number"
	}
	if len(item.FieldConfig.Bands) == 0 {
		return ""
	}
	for band := range bands {
		if !contains(item.FieldConfig.Bands, band) {
			return fmt.Sprintf("%q is not a salary band", band)
		}
	}
	return ""
}

// NumberValue decodes a bare JSON number.
func NumberValue(raw json.RawMessage) (float64, bool) {
	if IsNull(raw) {
		return 0, false
	}
	var f float64
	if err := json.Unmarshal(raw, &f); err != nil {
		return 0, false
	}
	return f, true
}

// IsEmpty reports whether a stored value counts as unanswered for progress.
func IsEmpty(raw json.RawMessage) bool {
	if IsNull(raw) {
		return true
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return true
	}
	return emptyAny(v)
}

func emptyAny(v any) bool {
	switch t := v.(type) {
	case nil:
		return true
	case string:
		return t == ""
	case []any:
		return len(t) == 0
	case map[string]any:
		if len(t) == 0 {
			return true
		}
		// Single-container wrappers such as {"selected": []} or {"years": {}}
		// are empty when their container is.
		if len(t) == 1 {
			for _, inner := range t {
				switch inner.(type) {
				case []any, map[string]any:
					return emptyAny(inner)
				}
			}
		}
		return false
	default:
		return false
	}
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
