package model

import "time"

// ItemScore is the scorer's verdict on one response.
type ItemScore struct {
	AssessmentID string    `json:"assessment_id"`
	ItemID       string    `json:"item_id"`
	ItemCode     string    `json:"item_code"`
	ThemeID      string    `json:"theme_id"`
	FieldType    FieldType `json:"field_type"`
	Weight       float64   `json:"weight"`
	AIScore      *float64  `json:"ai_score"`
	AIFeedback   string    `json:"ai_feedback"`
}

// ThemeScore aggregates the item scores of one theme.
type ThemeScore struct {
	AssessmentID string      `json:"assessment_id"`
	ThemeID      string      `json:"theme_id"`
	ThemeSlug    string      `json:"theme_slug"`
	ThemeName    string      `json:"theme_name"`
	Weight       float64     `json:"weight"`
	Score        float64     `json:"score"`
	MaxScore     float64     `json:"max_score"`
	Percentage   float64     `json:"percentage"`
	Items        []ItemScore `json:"items"`
}

// ConsistencyIssue is a cross-item plausibility problem found while scoring.
type ConsistencyIssue struct {
	RuleID      string `json:"rule_id"`
	Severity    string `json:"severity"`
	Description string `json:"description"`
}

// ScoreSet is the full output of one scoring run. It replaces any previous
// set for the assessment wholesale.
type ScoreSet struct {
	AssessmentID      string             `json:"assessment_id"`
	OverallScore      float64            `json:"overall_score"`
	OverallMaxScore   float64            `json:"overall_max_score"`
	OverallPercentage float64            `json:"overall_percentage"`
	Themes            []ThemeScore       `json:"theme_scores"`
	Issues            []ConsistencyIssue `json:"issues,omitempty"`
	ItemsScored       int                `json:"items_scored"`
	ItemsFailed       int                `json:"items_failed"`
	ScoredAt          time.Time          `json:"scored_at"`
}

// ThemeBySlug returns the theme score with the given slug.
func (s *ScoreSet) ThemeBySlug(slug string) (ThemeScore, bool) {
	for _, t := range s.Themes {
		if t.ThemeSlug == slug {
			return t, true
		}
	}
	return ThemeScore{}, false
}
