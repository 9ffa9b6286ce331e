package scoring

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/sells-group/assessment-engine/internal/model"
)

const errorFeedbackPrefix = "Scoring error: "

// Input is one scoring run's snapshot.
type Input struct {
	AssessmentID string
	Template     *model.Template
	Responses    []model.Response
}

// ProgressFunc is told how many of the scoreable items are finished. Calls
// are serialized.
type ProgressFunc func(done, total int)

// Engine scores every scoreable item of a snapshot and aggregates the result.
type Engine struct {
	scorer      ItemScorer
	concurrency int
	now         func() time.Time
}

// NewEngine returns an Engine that runs up to concurrency item scorers at a
// time.
func NewEngine(scorer ItemScorer, concurrency int) *Engine {
	if concurrency <= 0 {
		concurrency = 5
	}
	return &Engine{scorer: scorer, concurrency: concurrency, now: time.Now}
}

// Score runs one scoring pass. A failing item is stored with a null score and
// an error note. The run itself fails when the scorer is unavailable, the
// context ends, or every scoreable item fails. Unanswered items are not
// failures.
func (e *Engine) Score(ctx context.Context, in Input, progress ProgressFunc) (*model.ScoreSet, error) {
	log := zap.L().With(zap.String("assessment_id", in.AssessmentID))

	values := make(map[string]json.RawMessage, len(in.Responses))
	for _, r := range in.Responses {
		if r.PartnerID == "" {
			values[r.ItemID] = r.Value
		}
	}

	type job struct {
		item  *model.Item
		theme string
	}
	var jobs []job
	for ti := range in.Template.Themes {
		th := &in.Template.Themes[ti]
		for ii := range th.Items {
			if it := &th.Items[ii]; Scoreable(it) {
				jobs = append(jobs, job{item: it, theme: th.Name})
			}
		}
	}

	scores := make([]model.ItemScore, len(jobs))
	failed := make([]bool, len(jobs))
	var (
		mu   sync.Mutex
		done int
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(e.concurrency)
	for i, j := range jobs {
		g.Go(func() error {
			res, err := e.scorer.ScoreItem(gctx, ItemRequest{Item: j.item, ThemeName: j.theme, Value: values[j.item.ID]})
			if err != nil {
				if systemic(gctx, err) {
					return eris.Wrapf(err, "scoring: item %s", j.item.Code)
				}
				log.Warn("item scoring failed", zap.String("item_code", j.item.Code), zap.Error(err))
				res = Result{Feedback: errorFeedbackPrefix + err.Error()}
				failed[i] = true
			}
			scores[i] = model.ItemScore{
				AssessmentID: in.AssessmentID,
				ItemID:       j.item.ID,
				ItemCode:     j.item.Code,
				ThemeID:      j.item.ThemeID,
				FieldType:    j.item.FieldType,
				Weight:       j.item.Weight,
				AIScore:      res.Score,
				AIFeedback:   res.Feedback,
			}

			mu.Lock()
			done++
			if progress != nil {
				progress(done, len(jobs))
			}
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	set := Aggregate(in.AssessmentID, in.Template, scores)
	for _, f := range failed {
		if f {
			set.ItemsFailed++
		}
	}
	if set.ItemsFailed > 0 && set.ItemsFailed == len(jobs) {
		return nil, eris.Wrapf(ErrUnavailable, "scoring: all %d scoreable items failed", set.ItemsFailed)
	}
	set.Issues = CheckConsistency(in.Template, values)
	set.ScoredAt = e.now().UTC()

	log.Info("assessment scored",
		zap.Int("items_scored", set.ItemsScored),
		zap.Int("items_failed", set.ItemsFailed),
		zap.Float64("overall_percentage", set.OverallPercentage),
	)
	return set, nil
}

func systemic(ctx context.Context, err error) bool {
	return errors.Is(err, ErrUnavailable) ||
		errors.Is(err, context.Canceled) ||
		errors.Is(err, context.DeadlineExceeded) ||
		ctx.Err() != nil
}
