package benchmark

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/assessment-engine/internal/access"
	"github.com/sells-group/assessment-engine/internal/model"
)

// DefaultMinSampleSize is the smallest peer population that is reported.
const DefaultMinSampleSize = 5

// Store is the persistence the comparison reads from.
type Store interface {
	GetAssessment(ctx context.Context, id string) (*model.Assessment, error)
	GetScores(ctx context.Context, assessmentID string) (*model.ScoreSet, error)
	ListPeerScores(ctx context.Context, filter model.PeerFilter) ([]model.PeerScore, error)
}

// Comparison is the benchmark view of one assessment.
type Comparison struct {
	AssessmentID     string                  `json:"assessment_id"`
	AcademicYear     string                  `json:"academic_year"`
	Country          string                  `json:"country,omitempty"`
	SampleSize       int                     `json:"sample_size"`
	InsufficientData bool                    `json:"insufficient_data"`
	Metrics          []model.BenchmarkMetric `json:"metrics"`
}

// Service builds comparisons. It never writes.
type Service struct {
	store     Store
	minSample int
}

// NewService returns a Service suppressing populations below minSample.
func NewService(store Store, minSample int) *Service {
	if minSample <= 0 {
		minSample = DefaultMinSampleSize
	}
	return &Service{store: store, minSample: minSample}
}

// Compare benchmarks assessmentID against scored peers of the same academic
// year, optionally restricted to country. Below the minimum sample size the
// metrics list is empty and InsufficientData is set.
func (s *Service) Compare(ctx context.Context, p model.Principal, assessmentID, country string) (*Comparison, error) {
	a, err := access.Assessment(ctx, s.store, p, assessmentID)
	if err != nil {
		return nil, err
	}

	peers, err := s.store.ListPeerScores(ctx, model.PeerFilter{
		AcademicYear:        a.AcademicYear,
		Country:             country,
		ExcludeAssessmentID: a.ID,
	})
	if err != nil {
		return nil, eris.Wrap(err, "benchmark: list peers")
	}

	cmp := &Comparison{
		AssessmentID: a.ID,
		AcademicYear: a.AcademicYear,
		Country:      country,
		SampleSize:   len(peers),
		Metrics:      []model.BenchmarkMetric{},
	}
	if len(peers) < s.minSample {
		cmp.InsufficientData = true
		zap.L().Debug("benchmark suppressed",
			zap.String("assessment_id", a.ID),
			zap.Int("sample_size", len(peers)),
			zap.Int("min_sample_size", s.minSample),
		)
		return cmp, nil
	}

	own, err := s.store.GetScores(ctx, a.ID)
	if err != nil {
		return nil, eris.Wrap(err, "benchmark: load own scores")
	}

	var overall []float64
	for _, peer := range peers {
		if peer.Overall != nil {
			overall = append(overall, *peer.Overall)
		}
	}
	if len(overall) >= s.minSample {
		var mine *float64
		if own != nil {
			v := own.OverallPercentage
			mine = &v
		}
		cmp.Metrics = append(cmp.Metrics, Compute(MetricOverall, mine, overall))
	}

	if own == nil {
		return cmp, nil
	}
	for _, th := range own.Themes {
		var values []float64
		for _, peer := range peers {
			if v, ok := peer.Themes[th.ThemeSlug]; ok {
				values = append(values, v)
			}
		}
		if len(values) < s.minSample {
			continue
		}
		mine := th.Percentage
		cmp.Metrics = append(cmp.Metrics, Compute(ThemeMetric(th.ThemeSlug), &mine, values))
	}
	return cmp, nil
}
