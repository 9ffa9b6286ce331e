// Package access resolves tenant-scoped resources for a principal.
package access

import (
	"context"

	"github.com/sells-group/assessment-engine/internal/apperr"
	"github.com/sells-group/assessment-engine/internal/model"
)

// AssessmentGetter loads assessments by id.
type AssessmentGetter interface {
	GetAssessment(ctx context.Context, id string) (*model.Assessment, error)
}

// Assessment loads id on behalf of p. Assessments owned by another tenant or
// archived read as not found.
func Assessment(ctx context.Context, g AssessmentGetter, p model.Principal, id string) (*model.Assessment, error) {
	a, err := g.GetAssessment(ctx, id)
	if err != nil {
		return nil, err
	}
	if !p.CanSee(a.TenantID) || a.ArchivedAt != nil {
		return nil, apperr.NotFound("assessment %s not found", id)
	}
	return a, nil
}

// Require fails with forbidden unless p holds one of roles.
func Require(p model.Principal, action string, roles ...model.Role) error {
	if p.HasRole(roles...) {
		return nil
	}
	return apperr.Forbidden("role %q may not %s", p.Role, action)
}

// Role sets for the guarded operations.
var (
	AnyRole   = []model.Role{model.RoleAssessor, model.RoleReviewer, model.RoleTenantAdmin, model.RolePlatformAdmin}
	Reviewers = []model.Role{model.RoleReviewer, model.RoleTenantAdmin, model.RolePlatformAdmin}
	Admins    = []model.Role{model.RoleTenantAdmin, model.RolePlatformAdmin}
)
