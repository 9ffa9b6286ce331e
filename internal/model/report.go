package model

import "time"

// ReportSection is one titled block of narrative.
type ReportSection struct {
	Title   string `json:"title"`
	Content string `json:"content"`
	Kind    string `json:"kind,omitempty"`
	ThemeID string `json:"theme_id,omitempty"`
}

// Section kinds.
const (
	SectionExecutiveSummary = "executive_summary"
	SectionThemeAnalysis    = "theme_analysis"
	SectionRecommendations  = "recommendations"
)

// Recommendation is one improvement action proposed by the report.
type Recommendation struct {
	Title    string `json:"title"`
	Detail   string `json:"detail"`
	Priority string `json:"priority,omitempty"`
	Theme    string `json:"theme,omitempty"`
}

// Report is a generated, versioned narrative for a scored assessment.
type Report struct {
	ID              string           `json:"id"`
	AssessmentID    string           `json:"assessment_id"`
	Version         int              `json:"version"`
	Sections        []ReportSection  `json:"sections"`
	Recommendations []Recommendation `json:"recommendations"`
	CreatedAt       time.Time        `json:"created_at"`
}
