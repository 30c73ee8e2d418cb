package rbac

import "testing"

func TestHasPermission_GlobalRoles(t *testing.T) {
	user := UserContext{UserID: 1, Role: RoleUser}
	admin := UserContext{UserID: 2, Role: RoleAdmin}
	superAdmin := UserContext{UserID: 3, Role: RoleSuperAdmin}

	if !HasPermission(user, "apiKey", "create:own") {
		t.Fatal("expected user to create own api keys")
	}
	if HasPermission(user, "organization", "update:all") {
		t.Fatal("expected user denied organization update:all")
	}
	if !HasPermission(admin, "auditLog", "read:all") {
		t.Fatal("expected admin to read audit logs")
	}
	if HasPermission(admin, "user", "delete:all") {
		t.Fatal("expected admin denied user delete:all")
	}
	if !HasPermission(superAdmin, "anything", "at:all") {
		t.Fatal("expected super_admin granted everything")
	}
	if !HasPermission(superAdmin, "organization", "update:all") {
		t.Fatal("expected super_admin granted organization update:all")
	}
}

func TestHasPermission_UnknownRoleDefaultDeny(t *testing.T) {
	ctx := UserContext{UserID: 1, Role: UserRole("ghost")}
	if HasPermission(ctx, "user", "read:own") {
		t.Fatal("expected unknown role to authorize nothing")
	}
}

func TestHasPermission_OrganizationAdditive(t *testing.T) {
	member := UserContext{UserID: 1, Role: RoleUser, OrganizationID: 9, OrganizationRole: OrgRoleMember}
	orgAdmin := UserContext{UserID: 1, Role: RoleUser, OrganizationID: 9, OrganizationRole: OrgRoleAdmin}
	owner := UserContext{UserID: 1, Role: RoleUser, OrganizationID: 9, OrganizationRole: OrgRoleOwner}

	if !HasPermission(member, "organizationMember", "read:own") {
		t.Fatal("expected org member to read members")
	}
	if HasPermission(member, "organizationMember", "delete:own") {
		t.Fatal("expected org member denied member delete")
	}
	if !HasPermission(orgAdmin, "organizationInvite", "create:own") {
		t.Fatal("expected org admin to create invites")
	}
	if !HasPermission(owner, "subscription", "update:own") {
		t.Fatal("expected owner wildcard subscription actions")
	}

	// Org grants never subtract global ones.
	if !HasPermission(member, "apiKey", "create:own") {
		t.Fatal("expected global user grant to survive org context")
	}

	// No org context means no org grants.
	bare := UserContext{UserID: 1, Role: RoleUser}
	if HasPermission(bare, "organizationInvite", "create:own") {
		t.Fatal("expected org grant unavailable without membership context")
	}
}

func TestHasPermission_RoleMonotonicity(t *testing.T) {
	// Every grant available to user stays available up the hierarchy via
	// broader tables; super_admin trivially by universal wildcard.
	superAdmin := UserContext{Role: RoleSuperAdmin}
	for _, perm := range RolePermissions(RoleUser) {
		if !HasPermission(superAdmin, perm.Resource, perm.Action) {
			t.Fatalf("expected super_admin to hold user grant %s:%s", perm.Resource, perm.Action)
		}
	}
	for _, perm := range RolePermissions(RoleAdmin) {
		if !HasPermission(superAdmin, perm.Resource, perm.Action) {
			t.Fatalf("expected super_admin to hold admin grant %s:%s", perm.Resource, perm.Action)
		}
	}
}

func TestRequirePermission_TypedError(t *testing.T) {
	ctx := UserContext{UserID: 1, Role: RoleUser}

	if err := RequirePermission(ctx, "apiKey", "read:own"); err != nil {
		t.Fatalf("expected allow, got %v", err)
	}

	err := RequirePermission(ctx, "organization", "update:all")
	if err == nil {
		t.Fatal("expected denial")
	}
	authErr, ok := err.(*AuthorizationError)
	if !ok {
		t.Fatalf("expected *AuthorizationError, got %T", err)
	}
	if authErr.Resource != "organization" || authErr.Action != "update:all" {
		t.Fatalf("unexpected error detail: %+v", authErr)
	}
}

func TestPermissionTables_Frozen(t *testing.T) {
	before := HasPermission(UserContext{Role: RoleUser}, "user", "read:own")
	if !before {
		t.Fatal("expected baseline grant")
	}

	// Mutating a returned copy must not affect the engine.
	perms := RolePermissions(RoleUser)
	for i := range perms {
		perms[i].Resource = "tampered"
		perms[i].Action = "tampered"
	}
	orgPerms := OrganizationRolePermissions(OrgRoleOwner)
	for i := range orgPerms {
		orgPerms[i].Resource = "tampered"
	}

	if !HasPermission(UserContext{Role: RoleUser}, "user", "read:own") {
		t.Fatal("expected table unchanged after mutating copies")
	}
	owner := UserContext{Role: RoleUser, OrganizationID: 1, OrganizationRole: OrgRoleOwner}
	if !HasPermission(owner, "organization", "delete:own") {
		t.Fatal("expected org table unchanged after mutating copies")
	}
}

func TestRoleLevel(t *testing.T) {
	if RoleLevel(RoleSuperAdmin) <= RoleLevel(RoleAdmin) || RoleLevel(RoleAdmin) <= RoleLevel(RoleUser) {
		t.Fatal("expected super_admin > admin > user")
	}
	if RoleLevel(UserRole("ghost")) != 0 {
		t.Fatal("expected unknown role level 0")
	}
}

func TestHelpers(t *testing.T) {
	admin := UserContext{UserID: 5, Role: RoleAdmin}
	owner := UserContext{UserID: 6, Role: RoleUser, OrganizationID: 2, OrganizationRole: OrgRoleOwner}
	user := UserContext{UserID: 7, Role: RoleUser}

	if !IsAdmin(admin) || IsAdmin(user) {
		t.Fatal("IsAdmin mismatch")
	}
	if IsSuperAdmin(admin) {
		t.Fatal("expected admin not super_admin")
	}
	if !IsOrganizationAdmin(owner) || !IsOrganizationOwner(owner) {
		t.Fatal("owner helper mismatch")
	}

	if !CanManageAPIKeys(admin, 99) {
		t.Fatal("expected admin to manage any keys")
	}
	if !CanManageAPIKeys(user, 7) {
		t.Fatal("expected user to manage own keys")
	}
	if CanManageAPIKeys(user, 8) {
		t.Fatal("expected user denied for others' keys")
	}
	if !CanManageAPIKeys(owner, 99) {
		t.Fatal("expected org owner to manage org keys")
	}
}
