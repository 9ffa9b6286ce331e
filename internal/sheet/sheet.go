// Package sheet moves assessment data in and out of XLSX workbooks: score
// exports for reviewers and response forms institutions fill offline.
package sheet

import (
	"io"

	"github.com/rotisserie/eris"
	"github.com/tealeg/xlsx/v2"

	"github.com/sells-group/assessment-engine/internal/model"
)

// Sheet names.
const (
	SummarySheet   = "Summary"
	ItemsSheet     = "Items"
	ResponsesSheet = "Responses"
)

// Response form columns. Import matches them by header, case-insensitively.
const (
	ColCode      = "code"
	ColLabel     = "label"
	ColFieldType = "field_type"
	ColValue     = "value"
	ColDetails   = "details"
	ColPartnerID = "partner_id"
)

// ExportScores writes a workbook with a summary sheet and one row per scored
// item.
func ExportScores(w io.Writer, tpl *model.Template, a *model.Assessment, set *model.ScoreSet) error {
	f := xlsx.NewFile()

	summary, err := f.AddSheet(SummarySheet)
	if err != nil {
		return eris.Wrap(err, "sheet: add summary")
	}
	addStrings(summary, "Assessment", a.ID)
	addStrings(summary, "Template", tpl.Name+" "+tpl.Version)
	addStrings(summary, "Academic year", a.AcademicYear)
	addStrings(summary, "Status", string(a.Status))
	addStrings(summary, "Scored at", set.ScoredAt.UTC().Format("2006-01-02 15:04:05"))
	addNumbers(summary, "Overall score", set.OverallScore)
	addNumbers(summary, "Overall max score", set.OverallMaxScore)
	addNumbers(summary, "Overall percentage", set.OverallPercentage)
	summary.AddRow()
	addStrings(summary, "Theme", "Weight", "Score", "Max score", "Percentage")
	for _, th := range set.Themes {
		row := summary.AddRow()
		row.AddCell().SetString(th.ThemeName)
		row.AddCell().SetFloat(th.Weight)
		row.AddCell().SetFloat(th.Score)
		row.AddCell().SetFloat(th.MaxScore)
		row.AddCell().SetFloat(th.Percentage)
	}
	if len(set.Issues) > 0 {
		summary.AddRow()
		addStrings(summary, "Rule", "Severity", "Issue")
		for _, is := range set.Issues {
			addStrings(summary, is.RuleID, is.Severity, is.Description)
		}
	}

	items, err := f.AddSheet(ItemsSheet)
	if err != nil {
		return eris.Wrap(err, "sheet: add items")
	}
	addStrings(items, "Theme", "Code", "Label", "Field type", "Weight", "Score", "Feedback")
	for _, th := range set.Themes {
		for _, is := range th.Items {
			label := ""
			if it := tpl.ItemByID(is.ItemID); it != nil {
				label = it.Label
			}
			row := items.AddRow()
			row.AddCell().SetString(th.ThemeName)
			row.AddCell().SetString(is.ItemCode)
			row.AddCell().SetString(label)
			row.AddCell().SetString(string(is.FieldType))
			row.AddCell().SetFloat(is.Weight)
			if is.AIScore != nil {
				row.AddCell().SetFloat(*is.AIScore)
			} else {
				row.AddCell().SetString("")
			}
			row.AddCell().SetString(is.AIFeedback)
		}
	}

	return eris.Wrap(f.Write(w), "sheet: write workbook")
}

// WriteForm writes a blank response form for tpl. Calculated items are left
// out because their values are derived.
func WriteForm(w io.Writer, tpl *model.Template) error {
	f := xlsx.NewFile()
	sh, err := f.AddSheet(ResponsesSheet)
	if err != nil {
		return eris.Wrap(err, "sheet: add responses")
	}
	addStrings(sh, ColCode, ColLabel, ColFieldType, ColValue, ColDetails, ColPartnerID)
	for _, it := range tpl.Items() {
		if it.FieldType == model.FieldAutoCalculated {
			continue
		}
		addStrings(sh, it.Code, it.Label, string(it.FieldType), "", "", "")
	}
	return eris.Wrap(f.Write(w), "sheet: write form")
}

func addStrings(sh *xlsx.Sheet, values ...string) {
	row := sh.AddRow()
	for _, v := range values {
		row.AddCell().SetString(v)
	}
}

func addNumbers(sh *xlsx.Sheet, label string, values ...float64) {
	row := sh.AddRow()
	row.AddCell().SetString(label)
	for _, v := range values {
		row.AddCell().SetFloat(v)
	}
}
