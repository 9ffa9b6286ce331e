package model

import (
	"encoding/json"
	"time"
)

// JobType identifies the kind of AI work an AIJob performs.
type JobType string

const (
	JobTypeScoring            JobType = "scoring"
	JobTypeReportGeneration   JobType = "report_generation"
	JobTypeDocumentExtraction JobType = "document_extraction"
	JobTypeRiskPrediction     JobType = "risk_prediction"
)

// Valid reports whether t is a known job type.
func (t JobType) Valid() bool {
	switch t {
	case JobTypeScoring, JobTypeReportGeneration, JobTypeDocumentExtraction, JobTypeRiskPrediction:
		return true
	default:
		return false
	}
}

// JobStatus is the execution state of an AIJob.
type JobStatus string

const (
	JobStatusQueued     JobStatus = "queued"
	JobStatusProcessing JobStatus = "processing"
	JobStatusCompleted  JobStatus = "completed"
	JobStatusFailed     JobStatus = "failed"
)

// Active reports whether the job still occupies its (assessment, type) slot.
func (s JobStatus) Active() bool {
	return s == JobStatusQueued || s == JobStatusProcessing
}

// Terminal reports whether the job can no longer change.
func (s JobStatus) Terminal() bool {
	return s == JobStatusCompleted || s == JobStatusFailed
}

// AIJob is an asynchronous, pollable unit of AI work.
type AIJob struct {
	ID           string          `json:"id"`
	AssessmentID string          `json:"assessment_id"`
	JobType      JobType         `json:"job_type"`
	Status       JobStatus       `json:"status"`
	Progress     float64         `json:"progress"`
	ErrorMessage *string         `json:"error_message"`
	ResultData   json.RawMessage `json:"result_data,omitempty"`
	CreatedAt    time.Time       `json:"created_at"`
	StartedAt    *time.Time      `json:"started_at"`
	CompletedAt  *time.Time      `json:"completed_at"`
}
