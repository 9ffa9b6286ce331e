package access

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sells-group/assessment-engine/internal/apperr"
	"github.com/sells-group/assessment-engine/internal/model"
)

type getter map[string]*model.Assessment

func (g getter) GetAssessment(_ context.Context, id string) (*model.Assessment, error) {
	a, ok := g[id]
	if !ok {
		return nil, apperr.NotFound("assessment %s not found", id)
	}
	return a, nil
}

func TestAssessment(t *testing.T) {
	archived := time.Now()
	g := getter{
		"a1": {ID: "a1", TenantID: "t1"},
		"a2": {ID: "a2", TenantID: "t1", ArchivedAt: &archived},
	}
	ctx := context.Background()

	a, err := Assessment(ctx, g, model.Principal{TenantID: "t1", Role: model.RoleAssessor}, "a1")
	require.NoError(t, err)
	assert.Equal(t, "a1", a.ID)

	_, err = Assessment(ctx, g, model.Principal{TenantID: "t2", Role: model.RoleTenantAdmin}, "a1")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = Assessment(ctx, g, model.Principal{Role: model.RolePlatformAdmin}, "a1")
	assert.NoError(t, err)

	_, err = Assessment(ctx, g, model.Principal{TenantID: "t1", Role: model.RoleAssessor}, "a2")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))

	_, err = Assessment(ctx, g, model.Principal{TenantID: "t1", Role: model.RoleAssessor}, "missing")
	assert.True(t, apperr.Is(err, apperr.KindNotFound))
}

func TestRequire(t *testing.T) {
	assert.NoError(t, Require(model.Principal{Role: model.RoleReviewer}, "trigger scoring", Reviewers...))

	err := Require(model.Principal{Role: model.RoleAssessor}, "trigger scoring", Reviewers...)
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindForbidden))
	assert.Contains(t, apperr.MessageOf(err), `"assessor" may not trigger scoring`)
}
