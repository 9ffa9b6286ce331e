package model

import (
	"time"
)

// AssessmentStatus is the stored lifecycle state of an assessment.
type AssessmentStatus string

const (
	StatusDraft           AssessmentStatus = "draft"
	StatusSubmitted       AssessmentStatus = "submitted"
	StatusUnderReview     AssessmentStatus = "under_review"
	StatusScored          AssessmentStatus = "scored"
	StatusReportGenerated AssessmentStatus = "report_generated"
)

// StatusInProgress is a display label only. It is never stored and never
// used as the source of a transition.
const StatusInProgress AssessmentStatus = "in_progress"

// Valid reports whether s is one of the stored states.
func (s AssessmentStatus) Valid() bool {
	switch s {
	case StatusDraft, StatusSubmitted, StatusUnderReview, StatusScored, StatusReportGenerated:
		return true
	default:
		return false
	}
}

// Writable reports whether responses may be changed in this state.
func (s AssessmentStatus) Writable() bool {
	return s == StatusDraft || s == StatusInProgress
}

// HasScores reports whether scores are readable in this state.
func (s AssessmentStatus) HasScores() bool {
	return s == StatusScored || s == StatusReportGenerated
}

// Assessment is one tenant's filled-out template for an academic year.
type Assessment struct {
	ID              string           `json:"id"`
	TenantID        string           `json:"tenant_id"`
	TemplateID      string           `json:"template_id"`
	AcademicYear    string           `json:"academic_year"`
	Status          AssessmentStatus `json:"status"`
	DisplayStatus   AssessmentStatus `json:"display_status,omitempty"`
	Progress        *int             `json:"progress,omitempty"`
	OverallScore    *float64         `json:"overall_score"`
	SubmittedAt     *time.Time       `json:"submitted_at"`
	StatusChangedAt time.Time        `json:"status_changed_at"`
	ArchivedAt      *time.Time       `json:"archived_at,omitempty"`
	CreatedAt       time.Time        `json:"created_at"`
	UpdatedAt       time.Time        `json:"updated_at"`
}

// DeriveDisplayStatus fills DisplayStatus and Progress from the number of
// answered items. A draft with some but not all items answered reads as
// in_progress.
func (a *Assessment) DeriveDisplayStatus(progress int) {
	a.Progress = &progress
	a.DisplayStatus = a.Status
	if a.Status == StatusDraft && progress > 0 && progress < 100 {
		a.DisplayStatus = StatusInProgress
	}
}

// StatusChange is a compare-and-swap request for an assessment status.
type StatusChange struct {
	AssessmentID string
	From         AssessmentStatus
	To           AssessmentStatus
	At           time.Time
}

// Tenant is an institution. Country drives the benchmark filter.
type Tenant struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Country string `json:"country"`
}
