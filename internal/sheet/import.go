package sheet

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/assessment-engine/internal/model"
	"github.com/sells-group/assessment-engine/internal/responses"
)

// RowError is a response row that could not be converted.
type RowError struct {
	Row    int
	Code   string
	Reason string
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d (%s): %s", e.Row, e.Code, e.Reason)
}

// ImportResult holds the converted entries and the rows that were rejected.
// Rows with an empty value are skipped silently.
type ImportResult struct {
	Entries []responses.Entry
	Errors  []RowError
}

// ReadResponsesFile opens path and converts its response sheet.
func ReadResponsesFile(path string, tpl *model.Template) (*ImportResult, error) {
	f, err := xlsx.OpenFile(path)
	if err != nil {
		return nil, eris.Wrap(err, "sheet: open file")
	}
	return ReadResponses(f, tpl)
}

// ReadResponses converts the Responses sheet (or the first sheet when there
// is none) into entries for a bulk upsert. Plain cells are coerced by the
// item's field type; a cell holding a JSON object or array is passed through.
func ReadResponses(f *xlsx.File, tpl *model.Template) (*ImportResult, error) {
	sh, ok := f.Sheet[ResponsesSheet]
	if !ok {
		if len(f.Sheets) == 0 {
			return nil, eris.New("sheet: workbook has no sheets")
		}
		sh = f.Sheets[0]
	}
	if len(sh.Rows) == 0 {
		return nil, eris.Errorf("sheet: %s is empty", sh.Name)
	}

	cols := headerIndex(sh.Rows[0])
	for _, required := range []string{ColCode, ColValue} {
		if _, ok := cols[required]; !ok {
			return nil, eris.Errorf("sheet: %s has no %q column", sh.Name, required)
		}
	}

	res := &ImportResult{}
	for i, row := range sh.Rows[1:] {
		rowNum := i + 2
		code := cellText(row, cols, ColCode)
		if code == "" {
			continue
		}
		value := cellText(row, cols, ColValue)
		if value == "" {
			continue
		}
		item := tpl.ItemByCode(code)
		if item == nil {
			res.Errors = append(res.Errors, RowError{Row: rowNum, Code: code, Reason: "unknown item code"})
			continue
		}
		if item.FieldType == model.FieldAutoCalculated {
			res.Errors = append(res.Errors, RowError{Row: rowNum, Code: code, Reason: "calculated items cannot be imported"})
			continue
		}

		raw, err := coerce(item, value, cellText(row, cols, ColDetails))
		if err != nil {
			res.Errors = append(res.Errors, RowError{Row: rowNum, Code: code, Reason: err.Error()})
			continue
		}
		if err := model.ValidateValue(item, raw); err != nil {
			res.Errors = append(res.Errors, RowError{Row: rowNum, Code: code, Reason: err.Error()})
			continue
		}
		res.Entries = append(res.Entries, responses.Entry{
			ItemID:    item.ID,
			PartnerID: cellText(row, cols, ColPartnerID),
			Value:     raw,
		})
	}
	return res, nil
}

func coerce(item *model.Item, value, details string) (json.RawMessage, error) {
	if strings.HasPrefix(value, "{") || strings.HasPrefix(value, "[") {
		if !json.Valid([]byte(value)) {
			return nil, eris.New("invalid JSON")
		}
		return json.RawMessage(value), nil
	}

	switch item.FieldType {
	case model.FieldNumeric, model.FieldPercentage:
		clean := strings.NewReplacer(",", "", "%", "").Replace(value)
		f, err := strconv.ParseFloat(strings.TrimSpace(clean), 64)
		if err != nil {
			return nil, eris.Errorf("%q is not a number", value)
		}
		return json.Marshal(f)

	case model.FieldShortText, model.FieldLongText, model.FieldDropdown:
		return json.Marshal(value)

	case model.FieldYesNoConditional:
		var answer bool
		switch strings.ToLower(value) {
		case "yes", "y", "true":
			answer = true
		case "no", "n", "false":
		default:
			return nil, eris.Errorf("%q is not yes or no", value)
		}
		return json.Marshal(model.YesNoValue{Answer: &answer, Details: details})

	case model.FieldMultiSelect:
		var selected []string
		for _, part := range strings.Split(value, ";") {
			if part = strings.TrimSpace(part); part != "" {
				selected = append(selected, part)
			}
		}
		return json.Marshal(model.MultiSelectValue{Selected: selected})
	}
	return nil, eris.Errorf("%s values must be JSON", item.FieldType)
}

func headerIndex(row *xlsx.Row) map[string]int {
	cols := make(map[string]int, len(row.Cells))
	for i, c := range row.Cells {
		name := strings.ToLower(strings.TrimSpace(c.String()))
		if name != "" {
			cols[name] = i
		}
	}
	return cols
}

func cellText(row *xlsx.Row, cols map[string]int, name string) string {
	i, ok := cols[name]
	if !ok || i >= len(row.Cells) {
		return ""
	}
	c := row.Cells[i]
	if c.Type() == xlsx.CellTypeNumeric {
		return strings.TrimSpace(c.Value)
	}
	return strings.TrimSpace(c.String())
}
