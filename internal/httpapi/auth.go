package httpapi

import (
	"context"
	"net/http"
	"strings"

	"github.com/sells-group/assessment-engine/internal/apperr"
	"github.com/sells-group/assessment-engine/internal/model"
)

// Gateway headers carrying the verified caller.
const (
	HeaderUserID   = "X-User-ID"
	HeaderTenantID = "X-Tenant-ID"
	HeaderRole     = "X-Role"
)

type principalKey struct{}

// PrincipalFromRequest reads the principal set by the gateway. Every role
// except platform_admin needs a tenant.
func PrincipalFromRequest(r *http.Request) (model.Principal, error) {
	p := model.Principal{
		UserID:   strings.TrimSpace(r.Header.Get(HeaderUserID)),
		TenantID: strings.TrimSpace(r.Header.Get(HeaderTenantID)),
		Role:     model.Role(strings.TrimSpace(r.Header.Get(HeaderRole))),
	}
	switch {
	case p.UserID == "":
		return p, apperr.Unauthenticated("missing %s header", HeaderUserID)
	case !p.Role.Valid():
		return p, apperr.Unauthenticated("missing or unknown %s header", HeaderRole)
	case p.TenantID == "" && p.Role != model.RolePlatformAdmin:
		return p, apperr.Unauthenticated("missing %s header", HeaderTenantID)
	}
	return p, nil
}

func authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		p, err := PrincipalFromRequest(r)
		if err != nil {
			writeError(w, r, err)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, p)))
	})
}

func principal(r *http.Request) model.Principal {
	p, _ := r.Context().Value(principalKey{}).(model.Principal)
	return p
}
