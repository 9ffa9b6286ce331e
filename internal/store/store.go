package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/sells-group/assessment-engine/internal/model"
)

// JobGuard ties a commit to the job that produced it. With JobID set, the
// commit also completes that job and fails with a conflict, writing nothing,
// if the job is no longer processing. Result is evaluated after the commit's
// own writes so it can report assigned values.
type JobGuard struct {
	JobID  string
	Result func() json.RawMessage
}

func (g JobGuard) result() json.RawMessage {
	if g.Result == nil {
		return nil
	}
	return g.Result()
}

// AssessmentFilter specifies criteria for listing assessments.
type AssessmentFilter struct {
	TenantID        string                 `json:"tenant_id,omitempty"`
	AcademicYear    string                 `json:"academic_year,omitempty"`
	Status          model.AssessmentStatus `json:"status,omitempty"`
	IncludeArchived bool                   `json:"include_archived,omitempty"`
	Limit           int                    `json:"limit,omitempty"`
	Offset          int                    `json:"offset,omitempty"`
}

// Store defines the persistence interface for the assessment lifecycle.
//
// Every status change is a compare-and-swap on the current status. Writes
// that lose the race return an apperr conflict (or not_writable for response
// writes) and change nothing.
type Store interface {
	// Tenants
	UpsertTenant(ctx context.Context, t model.Tenant) error
	GetTenant(ctx context.Context, id string) (*model.Tenant, error)

	// Templates
	SaveTemplate(ctx context.Context, tpl *model.Template) error
	GetTemplate(ctx context.Context, id string) (*model.Template, error)
	ListTemplates(ctx context.Context) ([]model.Template, error)

	// Assessments
	CreateAssessment(ctx context.Context, a *model.Assessment) error
	GetAssessment(ctx context.Context, id string) (*model.Assessment, error)
	ListAssessments(ctx context.Context, filter AssessmentFilter) ([]model.Assessment, error)
	UpdateStatus(ctx context.Context, change model.StatusChange) error
	ArchiveAssessment(ctx context.Context, id string, at time.Time) error

	// Responses. Writes succeed only while the assessment is a draft.
	UpsertResponse(ctx context.Context, r model.Response) error
	BulkUpsertResponses(ctx context.Context, assessmentID string, rs []model.Response) error
	ListResponses(ctx context.Context, assessmentID string) ([]model.Response, error)

	// Scores replace the previous set and move the assessment to scored in
	// one transaction, provided its status is still one of from.
	CommitScores(ctx context.Context, set *model.ScoreSet, from []model.AssessmentStatus, job JobGuard) error
	GetScores(ctx context.Context, assessmentID string) (*model.ScoreSet, error)

	// Reports get the next version number and move the assessment to
	// report_generated in one transaction.
	CommitReport(ctx context.Context, r *model.Report, from []model.AssessmentStatus, job JobGuard) error
	GetLatestReport(ctx context.Context, assessmentID string) (*model.Report, error)

	// Jobs
	CreateJob(ctx context.Context, assessmentID string, jobType model.JobType) (job *model.AIJob, created bool, err error)
	GetJob(ctx context.Context, id string) (*model.AIJob, error)
	GetActiveJob(ctx context.Context, assessmentID string, jobType model.JobType) (*model.AIJob, error)
	ClaimNextJob(ctx context.Context) (*model.AIJob, error)
	ClaimJob(ctx context.Context, id string) (*model.AIJob, error)
	UpdateJobProgress(ctx context.Context, id string, progress float64) error
	CompleteJob(ctx context.Context, id string, result json.RawMessage) error
	FailJob(ctx context.Context, id string, message string) error
	FailStaleJobs(ctx context.Context, createdBefore time.Time, message string) (int64, error)

	// Benchmarks
	ListPeerScores(ctx context.Context, filter model.PeerFilter) ([]model.PeerScore, error)

	// AI response cache
	GetCachedResponse(ctx context.Context, key string) (string, bool, error)
	SetCachedResponse(ctx context.Context, key, value string, ttl time.Duration) error

	// Lifecycle
	Migrate(ctx context.Context) error
	Close() error
}

func statusStrings(statuses []model.AssessmentStatus) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}

func listLimit(n int) int {
	if n <= 0 {
		return 100
	}
	return n
}

// peerAccumulator folds one row per (assessment, theme) into PeerScores,
// preserving first-seen order.
type peerAccumulator struct {
	order []string
	byID  map[string]*model.PeerScore
}

func newPeerAccumulator() *peerAccumulator {
	return &peerAccumulator{byID: make(map[string]*model.PeerScore)}
}

func (a *peerAccumulator) add(id, tenantID, country string, overall *float64, slug *string, pct *float64) {
	p, ok := a.byID[id]
	if !ok {
		p = &model.PeerScore{
			AssessmentID: id,
			TenantID:     tenantID,
			Country:      country,
			Overall:      overall,
			Themes:       make(map[string]float64),
		}
		a.byID[id] = p
		a.order = append(a.order, id)
	}
	if slug != nil && pct != nil {
		p.Themes[*slug] = *pct
	}
}

func (a *peerAccumulator) result() []model.PeerScore {
	out := make([]model.PeerScore, 0, len(a.order))
	for _, id := range a.order {
		out = append(out, *a.byID[id])
	}
	return out
}

// groupItems attaches item scores to their theme.
func groupItems(themes []model.ThemeScore, items []model.ItemScore) {
	idx := make(map[string]int, len(themes))
	for i, t := range themes {
		idx[t.ThemeID] = i
	}
	for _, it := range items {
		if i, ok := idx[it.ThemeID]; ok {
			themes[i].Items = append(themes[i].Items, it)
		}
	}
}
