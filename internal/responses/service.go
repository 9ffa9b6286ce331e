// Package responses validates and stores the answers of an assessment while
// it is in draft.
package responses

import (
	"context"
	"encoding/json"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/assessment-engine/internal/access"
	"github.com/sells-group/assessment-engine/internal/apperr"
	"github.com/sells-group/assessment-engine/internal/model"
)

// Store is the persistence the service writes through.
type Store interface {
	GetAssessment(ctx context.Context, id string) (*model.Assessment, error)
	GetTemplate(ctx context.Context, id string) (*model.Template, error)
	UpsertResponse(ctx context.Context, r model.Response) error
	BulkUpsertResponses(ctx context.Context, assessmentID string, rs []model.Response) error
	ListResponses(ctx context.Context, assessmentID string) ([]model.Response, error)
}

// Entry is one value in a bulk save.
type Entry struct {
	ItemID    string          `json:"item_id"`
	PartnerID string          `json:"partner_id,omitempty"`
	Value     json.RawMessage `json:"value"`
}

// Snapshot is the current set of responses with derived progress.
type Snapshot struct {
	AssessmentID  string                 `json:"assessment_id"`
	Status        model.AssessmentStatus `json:"status"`
	DisplayStatus model.AssessmentStatus `json:"display_status"`
	Progress      int                    `json:"progress"`
	Responses     []model.Response       `json:"responses"`
}

// Service implements the response operations.
type Service struct {
	store Store
	now   func() time.Time
}

// NewService returns a Service over store.
func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// Upsert stores one value, replacing any previous value for the same item
// and partner.
func (s *Service) Upsert(ctx context.Context, p model.Principal, assessmentID, itemID string, value json.RawMessage, partnerID string) (*model.Response, error) {
	a, tpl, err := s.writable(ctx, p, assessmentID)
	if err != nil {
		return nil, err
	}
	e := Entry{ItemID: itemID, PartnerID: partnerID, Value: value}
	if err := validate(tpl, e); err != nil {
		return nil, err
	}

	r := model.Response{AssessmentID: a.ID, ItemID: itemID, PartnerID: partnerID, Value: normalize(value), UpdatedAt: s.now().UTC()}
	if err := s.save(ctx, a, tpl, []model.Response{r}); err != nil {
		return nil, err
	}
	return &r, nil
}

// BulkUpsert stores every entry or none. All entries are validated before
// anything is written.
func (s *Service) BulkUpsert(ctx context.Context, p model.Principal, assessmentID string, entries []Entry) (*Snapshot, error) {
	a, tpl, err := s.writable(ctx, p, assessmentID)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	rs := make([]model.Response, 0, len(entries))
	for _, e := range entries {
		if err := validate(tpl, e); err != nil {
			return nil, err
		}
		rs = append(rs, model.Response{AssessmentID: a.ID, ItemID: e.ItemID, PartnerID: e.PartnerID, Value: normalize(e.Value), UpdatedAt: now})
	}
	if err := s.save(ctx, a, tpl, rs); err != nil {
		return nil, err
	}
	current, err := s.store.ListResponses(ctx, a.ID)
	if err != nil {
		return nil, eris.Wrap(err, "responses: list")
	}
	zap.L().Debug("responses saved",
		zap.String("assessment_id", a.ID),
		zap.Int("count", len(rs)),
	)
	return snapshot(a, tpl, current), nil
}

// GetAll returns the current responses of an assessment in any status.
func (s *Service) GetAll(ctx context.Context, p model.Principal, assessmentID string) (*Snapshot, error) {
	a, err := access.Assessment(ctx, s.store, p, assessmentID)
	if err != nil {
		return nil, err
	}
	tpl, err := s.store.GetTemplate(ctx, a.TemplateID)
	if err != nil {
		return nil, eris.Wrapf(err, "responses: load template %s", a.TemplateID)
	}
	current, err := s.store.ListResponses(ctx, a.ID)
	if err != nil {
		return nil, eris.Wrap(err, "responses: list")
	}
	return snapshot(a, tpl, current), nil
}

func (s *Service) writable(ctx context.Context, p model.Principal, assessmentID string) (*model.Assessment, *model.Template, error) {
	a, err := access.Assessment(ctx, s.store, p, assessmentID)
	if err != nil {
		return nil, nil, err
	}
	if err := access.Require(p, "edit responses", access.AnyRole...); err != nil {
		return nil, nil, err
	}
	if !a.Status.Writable() {
		return nil, nil, apperr.NotWritable("assessment %s is %s and no longer accepts responses", a.ID, a.Status)
	}
	tpl, err := s.store.GetTemplate(ctx, a.TemplateID)
	if err != nil {
		return nil, nil, eris.Wrapf(err, "responses: load template %s", a.TemplateID)
	}
	return a, tpl, nil
}

// save writes rs together with the auto_calculated values they change in a
// single store call, so a concurrent submit rejects both or neither.
func (s *Service) save(ctx context.Context, a *model.Assessment, tpl *model.Template, rs []model.Response) error {
	current, err := s.store.ListResponses(ctx, a.ID)
	if err != nil {
		return eris.Wrap(err, "responses: list for recalculation")
	}
	derived := Recalculate(tpl, a.ID, merge(current, rs))
	now := s.now().UTC()
	for i := range derived {
		derived[i].UpdatedAt = now
	}

	writes := append(append([]model.Response(nil), rs...), derived...)
	switch len(writes) {
	case 0:
		return nil
	case 1:
		err = s.store.UpsertResponse(ctx, writes[0])
	default:
		err = s.store.BulkUpsertResponses(ctx, a.ID, writes)
	}
	if err != nil {
		return err
	}
	if len(derived) > 0 {
		zap.L().Debug("auto-calculated items refreshed",
			zap.String("assessment_id", a.ID),
			zap.Int("count", len(derived)),
		)
	}
	return nil
}

func validate(tpl *model.Template, e Entry) error {
	item := tpl.ItemByID(e.ItemID)
	if item == nil {
		return apperr.InvalidValue("unknown item %s", e.ItemID)
	}
	if item.FieldType == model.FieldAutoCalculated {
		return apperr.InvalidValue("item %s is calculated and cannot be written", item.Code)
	}
	if err := model.ValidateValue(item, e.Value); err != nil {
		return apperr.InvalidValue("%s", err.Error())
	}
	return nil
}

func normalize(v json.RawMessage) json.RawMessage {
	if model.IsNull(v) {
		return json.RawMessage("null")
	}
	return v
}

func merge(current, changed []model.Response) []model.Response {
	idx := make(map[string]int, len(current))
	for i, r := range current {
		if r.PartnerID == "" {
			idx[r.ItemID] = i
		}
	}
	out := append([]model.Response(nil), current...)
	for _, c := range changed {
		if i, ok := idx[c.ItemID]; ok {
			out[i] = c
			continue
		}
		out = append(out, c)
	}
	return out
}

func snapshot(a *model.Assessment, tpl *model.Template, current []model.Response) *Snapshot {
	progress := Progress(tpl, current)
	a.DeriveDisplayStatus(progress)
	if current == nil {
		current = []model.Response{}
	}
	return &Snapshot{
		AssessmentID:  a.ID,
		Status:        a.Status,
		DisplayStatus: a.DisplayStatus,
		Progress:      progress,
		Responses:     current,
	}
}
