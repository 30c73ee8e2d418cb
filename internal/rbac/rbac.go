package rbac

import "fmt"

// UserRole is a global account role.
type UserRole string

// Global account roles.
const (
	RoleUser       UserRole = "user"
	RoleAdmin      UserRole = "admin"
	RoleSuperAdmin UserRole = "super_admin"
)

// OrganizationRole is a membership-scoped role within one organization.
type OrganizationRole string

// Organization membership roles.
const (
	OrgRoleOwner  OrganizationRole = "owner"
	OrgRoleAdmin  OrganizationRole = "admin"
	OrgRoleMember OrganizationRole = "member"
)

// Wildcard matches any resource or action in a permission entry.
const Wildcard = "*"

// UserContext is the request-scoped identity a policy decision runs against.
// OrganizationID and OrganizationRole are set together or not at all.
type UserContext struct {
	UserID           uint64
	Role             UserRole
	OrganizationID   uint64
	OrganizationRole OrganizationRole
}

// InOrganization reports whether the context carries an organization role.
func (c UserContext) InOrganization() bool {
	return c.OrganizationID != 0 && c.OrganizationRole != ""
}

// Permission grants one action on one resource; either field may be "*".
type Permission struct {
	Resource string
	Action   string
}

func (p Permission) matches(resource, action string) bool {
	return (p.Resource == resource || p.Resource == Wildcard) &&
		(p.Action == action || p.Action == Wildcard)
}

// AuthorizationError reports a denied permission check. It is distinct from
// not-found and unauthenticated failures so callers can map it to 403.
type AuthorizationError struct {
	Resource string
	Action   string
}

// Error implements the error interface.
func (e *AuthorizationError) Error() string {
	return fmt.Sprintf("insufficient permissions: %s on %s", e.Action, e.Resource)
}

// rolePermissions maps global roles to their static grants. The tables are
// package-level and never mutated after init; accessors return copies.
var rolePermissions = map[UserRole][]Permission{
	RoleUser: {
		{Resource: "user", Action: "read:own"},
		{Resource: "user", Action: "update:own"},
		{Resource: "organization", Action: "read:own"},
		{Resource: "subscription", Action: "read:own"},
		{Resource: "apiKey", Action: "read:own"},
		{Resource: "apiKey", Action: "create:own"},
		{Resource: "apiKey", Action: "update:own"},
		{Resource: "apiKey", Action: "delete:own"},
	},
	RoleAdmin: {
		{Resource: "user", Action: "read:all"},
		{Resource: "user", Action: "update:all"},
		{Resource: "organization", Action: "read:all"},
		{Resource: "organization", Action: "update:all"},
		{Resource: "subscription", Action: "read:all"},
		{Resource: "subscription", Action: "update:all"},
		{Resource: "auditLog", Action: "read:all"},
		{Resource: "apiKey", Action: "read:all"},
		{Resource: "apiKey", Action: "create:all"},
		{Resource: "apiKey", Action: "update:all"},
		{Resource: "apiKey", Action: "delete:all"},
	},
	RoleSuperAdmin: {
		{Resource: Wildcard, Action: Wildcard},
	},
}

// organizationRolePermissions maps organization roles to grants that apply
// in addition to the global table, never in place of it.
var organizationRolePermissions = map[OrganizationRole][]Permission{
	OrgRoleMember: {
		{Resource: "organization", Action: "read:own"},
		{Resource: "organizationMember", Action: "read:own"},
	},
	OrgRoleAdmin: {
		{Resource: "organization", Action: "read:own"},
		{Resource: "organization", Action: "update:own"},
		{Resource: "organizationMember", Action: "read:own"},
		{Resource: "organizationMember", Action: "create:own"},
		{Resource: "organizationMember", Action: "update:own"},
		{Resource: "organizationMember", Action: "delete:own"},
		{Resource: "organizationInvite", Action: "create:own"},
		{Resource: "organizationInvite", Action: "read:own"},
		{Resource: "organizationInvite", Action: "delete:own"},
	},
	OrgRoleOwner: {
		{Resource: "organization", Action: Wildcard},
		{Resource: "organizationMember", Action: Wildcard},
		{Resource: "organizationInvite", Action: Wildcard},
		{Resource: "subscription", Action: Wildcard},
	},
}

// RolePermissions returns a copy of the static grants for a global role.
func RolePermissions(role UserRole) []Permission {
	perms := rolePermissions[role]
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}

// OrganizationRolePermissions returns a copy of the static grants for an
// organization role.
func OrganizationRolePermissions(role OrganizationRole) []Permission {
	perms := organizationRolePermissions[role]
	out := make([]Permission, len(perms))
	copy(out, perms)
	return out
}

// HasPermission decides whether the context may perform action on resource.
// Organization grants are additive to global grants; a role with no matching
// entry in either table authorizes nothing.
func HasPermission(ctx UserContext, resource, action string) bool {
	if ctx.Role == RoleSuperAdmin {
		return true
	}

	for _, perm := range rolePermissions[ctx.Role] {
		if perm.matches(resource, action) {
			return true
		}
	}

	if ctx.InOrganization() {
		for _, perm := range organizationRolePermissions[ctx.OrganizationRole] {
			if perm.matches(resource, action) {
				return true
			}
		}
	}

	return false
}

// RequirePermission returns an *AuthorizationError when the check fails.
func RequirePermission(ctx UserContext, resource, action string) error {
	if !HasPermission(ctx, resource, action) {
		return &AuthorizationError{Resource: resource, Action: action}
	}
	return nil
}

// roleLevels orders global roles for hierarchy checks.
var roleLevels = map[UserRole]int{
	RoleUser:       1,
	RoleAdmin:      2,
	RoleSuperAdmin: 3,
}

// RoleLevel returns the hierarchy level of a global role, 0 if unknown.
func RoleLevel(role UserRole) int {
	return roleLevels[role]
}

// ValidUserRole reports whether the value is a known global role.
func ValidUserRole(role UserRole) bool {
	_, ok := roleLevels[role]
	return ok
}

// ValidOrganizationRole reports whether the value is a known org role.
func ValidOrganizationRole(role OrganizationRole) bool {
	switch role {
	case OrgRoleOwner, OrgRoleAdmin, OrgRoleMember:
		return true
	}
	return false
}

// IsAdmin reports whether the context holds admin or super_admin.
func IsAdmin(ctx UserContext) bool {
	return ctx.Role == RoleAdmin || ctx.Role == RoleSuperAdmin
}

// IsSuperAdmin reports whether the context holds super_admin.
func IsSuperAdmin(ctx UserContext) bool {
	return ctx.Role == RoleSuperAdmin
}

// IsOrganizationOwner reports whether the context owns its organization.
func IsOrganizationOwner(ctx UserContext) bool {
	return ctx.OrganizationRole == OrgRoleOwner
}

// IsOrganizationAdmin reports whether the context administers its organization.
func IsOrganizationAdmin(ctx UserContext) bool {
	return ctx.OrganizationRole == OrgRoleAdmin || ctx.OrganizationRole == OrgRoleOwner
}

// CanManageAPIKeys reports whether the context may manage the target user's
// keys: admins and org owners always, users only for themselves.
func CanManageAPIKeys(ctx UserContext, targetUserID uint64) bool {
	if IsAdmin(ctx) {
		return true
	}
	if targetUserID != 0 && ctx.UserID == targetUserID {
		return true
	}
	return IsOrganizationOwner(ctx)
}
