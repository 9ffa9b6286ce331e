package model

// Role is the caller's permission level within a tenant.
type Role string

const (
	RoleAssessor      Role = "assessor"
	RoleReviewer      Role = "reviewer"
	RoleTenantAdmin   Role = "tenant_admin"
	RolePlatformAdmin Role = "platform_admin"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	switch r {
	case RoleAssessor, RoleReviewer, RoleTenantAdmin, RolePlatformAdmin:
		return true
	default:
		return false
	}
}

// Principal is the authenticated caller as supplied by the identity provider.
type Principal struct {
	UserID   string `json:"user_id"`
	TenantID string `json:"tenant_id"`
	Role     Role   `json:"role"`
}

// HasRole reports whether the principal holds any of roles.
func (p Principal) HasRole(roles ...Role) bool {
	for _, r := range roles {
		if p.Role == r {
			return true
		}
	}
	return false
}

// CanSee reports whether the principal may read resources owned by tenantID.
func (p Principal) CanSee(tenantID string) bool {
	return p.Role == RolePlatformAdmin || p.TenantID == tenantID
}
