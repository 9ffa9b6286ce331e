package report

import (
	"encoding/json"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/language"

	"github.com/sells-group/assessment-engine/internal/model"
	"github.com/sells-group/assessment-engine/pkg/anthropic"
)

// FallbackTitle heads the single recommendation stored when the narrator's
// reply cannot be parsed.
const FallbackTitle = "Report generation note"

// rawRecommendation accepts the field spellings narrators tend to use.
type rawRecommendation struct {
	Title     string          `json:"title"`
	Detail    string          `json:"detail"`
	Rationale string          `json:"rationale"`
	Priority  string          `json:"priority"`
	Theme     json.RawMessage `json:"theme"`
	Themes    []string        `json:"themes"`
	Timeline  string          `json:"timeline"`
}

// ParseRecommendations decodes a JSON array of recommendations, fenced or
// bare. An unparseable or empty reply becomes one fallback entry carrying
// the raw text.
func ParseRecommendations(raw string) []model.Recommendation {
	items, err := decodeRecommendations(raw)
	if err != nil || len(items) == 0 {
		return []model.Recommendation{{Title: FallbackTitle, Detail: strings.TrimSpace(raw)}}
	}

	title := cases.Title(language.English)

	out := make([]model.Recommendation, 0, len(items))
	for _, it := range items {
		rec := model.Recommendation{
			Title:    strings.TrimSpace(it.Title),
			Detail:   strings.TrimSpace(it.Detail),
			Priority: title.String(strings.TrimSpace(it.Priority)),
			Theme:    themeOf(it),
		}
		if rec.Detail == "" {
			rec.Detail = strings.TrimSpace(it.Rationale)
		}
		if it.Timeline != "" {
			if rec.Detail != "" {
				rec.Detail += " "
			}
			rec.Detail += "Timeline: " + strings.TrimSpace(it.Timeline) + "."
		}
		if rec.Title == "" && rec.Detail == "" {
			continue
		}
		out = append(out, rec)
	}
	if len(out) == 0 {
		return []model.Recommendation{{Title: FallbackTitle, Detail: strings.TrimSpace(raw)}}
	}
	return out
}

// decodeRecommendations accepts a bare array or an object wrapping one under
// "recommendations".
func decodeRecommendations(raw string) ([]rawRecommendation, error) {
	var items []rawRecommendation
	err := anthropic.DecodeJSON(raw, &items)
	if err == nil {
		return items, nil
	}
	var wrapped struct {
		Recommendations []rawRecommendation `json:"recommendations"`
	}
	if anthropic.DecodeJSON(raw, &wrapped) == nil && len(wrapped.Recommendations) > 0 {
		return wrapped.Recommendations, nil
	}
	return nil, err
}

func themeOf(it rawRecommendation) string {
	if len(it.Themes) > 0 {
		return strings.Join(it.Themes, ", ")
	}
	var s string
	if json.Unmarshal(it.Theme, &s) == nil {
		return s
	}
	var list []string
	if json.Unmarshal(it.Theme, &list) == nil {
		return strings.Join(list, ", ")
	}
	return ""
}
