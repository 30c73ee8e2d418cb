package organizations

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/opsboard/opsboard/internal/models"
	"github.com/opsboard/opsboard/internal/rbac"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	conn, err := gorm.Open(sqlite.Open("file::memory:"), &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := conn.AutoMigrate(
		&models.User{},
		&models.Organization{},
		&models.OrganizationMember{},
		&models.OrganizationInvite{},
	); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return conn
}

func seedUser(t *testing.T, conn *gorm.DB, email string) models.User {
	t.Helper()
	user := models.User{Email: email, Name: email, Password: "x", Active: true}
	if err := conn.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}
	return user
}

type fakeSender struct {
	sent []string
	fail bool
}

func (f *fakeSender) SendInvite(ctx context.Context, email, organizationName, token string) error {
	if f.fail {
		return errors.New("smtp down")
	}
	f.sent = append(f.sent, email)
	return nil
}

func TestCreate_OwnerMembership(t *testing.T) {
	conn := openTestDB(t)
	service := NewService(conn, nil)
	owner := seedUser(t, conn, "owner@example.com")

	org, err := service.Create(context.Background(), CreateParams{
		Name: "Acme", Slug: "acme", OwnerID: owner.ID,
	})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if len(org.Members) != 1 {
		t.Fatalf("expected 1 member, got %d", len(org.Members))
	}
	member := org.Members[0]
	if member.UserID != owner.ID || member.Role != rbac.OrgRoleOwner || !member.Active {
		t.Fatalf("unexpected owner membership %+v", member)
	}
	if member.User.Email != owner.Email {
		t.Fatalf("expected user preloaded, got %+v", member.User)
	}
}

func TestCreate_SlugTaken(t *testing.T) {
	conn := openTestDB(t)
	service := NewService(conn, nil)
	owner := seedUser(t, conn, "owner@example.com")
	ctx := context.Background()

	if _, err := service.Create(ctx, CreateParams{Name: "Acme", Slug: "acme", OwnerID: owner.ID}); err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, err := service.Create(ctx, CreateParams{Name: "Other", Slug: "acme", OwnerID: owner.ID}); !errors.Is(err, ErrSlugTaken) {
		t.Fatalf("expected ErrSlugTaken, got %v", err)
	}
}

func TestGetBySlug(t *testing.T) {
	conn := openTestDB(t)
	service := NewService(conn, nil)
	owner := seedUser(t, conn, "owner@example.com")
	ctx := context.Background()

	created, err := service.Create(ctx, CreateParams{Name: "Acme", Slug: "acme", OwnerID: owner.ID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	org, err := service.GetBySlug(ctx, "acme")
	if err != nil {
		t.Fatalf("get by slug: %v", err)
	}
	if org.ID != created.ID {
		t.Fatalf("expected org %d, got %d", created.ID, org.ID)
	}
	if _, err := service.GetBySlug(ctx, "nope"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestListByUser(t *testing.T) {
	conn := openTestDB(t)
	service := NewService(conn, nil)
	owner := seedUser(t, conn, "owner@example.com")
	other := seedUser(t, conn, "other@example.com")
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		if _, err := service.Create(ctx, CreateParams{
			Name: fmt.Sprintf("Org %d", i), Slug: fmt.Sprintf("org-%d", i), OwnerID: owner.ID,
		}); err != nil {
			t.Fatalf("create: %v", err)
		}
	}

	orgs, err := service.ListByUser(ctx, owner.ID)
	if err != nil {
		t.Fatalf("list: %v", err)
	}
	if len(orgs) != 2 {
		t.Fatalf("expected 2 organizations, got %d", len(orgs))
	}

	orgs, err = service.ListByUser(ctx, other.ID)
	if err != nil {
		t.Fatalf("list other: %v", err)
	}
	if len(orgs) != 0 {
		t.Fatalf("expected no organizations, got %d", len(orgs))
	}
}

func TestUpdateAndDelete(t *testing.T) {
	conn := openTestDB(t)
	service := NewService(conn, nil)
	owner := seedUser(t, conn, "owner@example.com")
	ctx := context.Background()

	org, err := service.Create(ctx, CreateParams{Name: "Acme", Slug: "acme", OwnerID: owner.ID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	name := "Acme Corp"
	website := "https://acme.example.com"
	if err := service.Update(ctx, org.ID, UpdateParams{Name: &name, Website: &website}); err != nil {
		t.Fatalf("update: %v", err)
	}
	reloaded, err := service.GetWithMembers(ctx, org.ID)
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if reloaded.Name != name || reloaded.Website != website {
		t.Fatalf("update not applied: %+v", reloaded)
	}
	if reloaded.Slug != "acme" {
		t.Fatalf("slug should be untouched, got %q", reloaded.Slug)
	}

	if err := service.Update(ctx, 9999, UpdateParams{Name: &name}); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := service.Delete(ctx, org.ID); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := service.GetWithMembers(ctx, org.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after delete, got %v", err)
	}
	var members int64
	if err := conn.Model(&models.OrganizationMember{}).Where("organization_id = ?", org.ID).Count(&members).Error; err != nil {
		t.Fatalf("count members: %v", err)
	}
	if members != 0 {
		t.Fatalf("expected memberships cascaded, got %d", members)
	}
}

func TestInviteAndAccept(t *testing.T) {
	conn := openTestDB(t)
	sender := &fakeSender{}
	service := NewService(conn, sender)
	owner := seedUser(t, conn, "owner@example.com")
	invitee := seedUser(t, conn, "new@example.com")
	ctx := context.Background()

	org, err := service.Create(ctx, CreateParams{Name: "Acme", Slug: "acme", OwnerID: owner.ID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}

	invite, emailSent, err := service.InviteMember(ctx, InviteParams{
		OrganizationID: org.ID, Email: invitee.Email, Role: rbac.OrgRoleAdmin, InvitedBy: owner.ID,
	})
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if !emailSent || len(sender.sent) != 1 {
		t.Fatalf("expected email sent, got %v %v", emailSent, sender.sent)
	}
	if invite.Token == "" {
		t.Fatal("expected a token")
	}
	ttl := time.Until(invite.ExpiresAt)
	if ttl < 6*24*time.Hour || ttl > 8*24*time.Hour {
		t.Fatalf("unexpected expiry %s", invite.ExpiresAt)
	}

	member, err := service.AcceptInvite(ctx, invite.Token, invitee.ID)
	if err != nil {
		t.Fatalf("accept: %v", err)
	}
	if member.OrganizationID != org.ID || member.Role != rbac.OrgRoleAdmin {
		t.Fatalf("unexpected membership %+v", member)
	}

	// The token is single use.
	if _, err := service.AcceptInvite(ctx, invite.Token, invitee.ID); !errors.Is(err, ErrInviteInvalid) {
		t.Fatalf("expected ErrInviteInvalid on reuse, got %v", err)
	}
}

func TestInvite_EmailFailureDoesNotFailInvite(t *testing.T) {
	conn := openTestDB(t)
	service := NewService(conn, &fakeSender{fail: true})
	owner := seedUser(t, conn, "owner@example.com")
	ctx := context.Background()

	org, err := service.Create(ctx, CreateParams{Name: "Acme", Slug: "acme", OwnerID: owner.ID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	invite, emailSent, err := service.InviteMember(ctx, InviteParams{
		OrganizationID: org.ID, Email: "new@example.com", Role: rbac.OrgRoleMember, InvitedBy: owner.ID,
	})
	if err != nil {
		t.Fatalf("invite: %v", err)
	}
	if emailSent {
		t.Fatal("expected emailSent false")
	}
	if invite.ID == 0 {
		t.Fatal("expected invite persisted")
	}
}

func TestInvite_AlreadyMember(t *testing.T) {
	conn := openTestDB(t)
	service := NewService(conn, nil)
	owner := seedUser(t, conn, "owner@example.com")
	ctx := context.Background()

	org, err := service.Create(ctx, CreateParams{Name: "Acme", Slug: "acme", OwnerID: owner.ID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if _, _, err := service.InviteMember(ctx, InviteParams{
		OrganizationID: org.ID, Email: owner.Email, Role: rbac.OrgRoleMember, InvitedBy: owner.ID,
	}); !errors.Is(err, ErrAlreadyMember) {
		t.Fatalf("expected ErrAlreadyMember, got %v", err)
	}
}

func TestAcceptInvite_Expired(t *testing.T) {
	conn := openTestDB(t)
	service := NewService(conn, nil)
	owner := seedUser(t, conn, "owner@example.com")
	invitee := seedUser(t, conn, "new@example.com")
	ctx := context.Background()

	org, err := service.Create(ctx, CreateParams{Name: "Acme", Slug: "acme", OwnerID: owner.ID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	invite, _, err := service.InviteMember(ctx, InviteParams{
		OrganizationID: org.ID, Email: invitee.Email, Role: rbac.OrgRoleMember, InvitedBy: owner.ID,
	})
	if err != nil {
		t.Fatalf("invite: %v", err)
	}

	past := time.Now().UTC().Add(-time.Hour)
	if err := conn.Model(&models.OrganizationInvite{}).Where("id = ?", invite.ID).Update("expires_at", past).Error; err != nil {
		t.Fatalf("expire invite: %v", err)
	}
	if _, err := service.AcceptInvite(ctx, invite.Token, invitee.ID); !errors.Is(err, ErrInviteInvalid) {
		t.Fatalf("expected ErrInviteInvalid, got %v", err)
	}
}

func TestRevokeInvite(t *testing.T) {
	conn := openTestDB(t)
	service := NewService(conn, nil)
	owner := seedUser(t, conn, "owner@example.com")
	ctx := context.Background()

	org, err := service.Create(ctx, CreateParams{Name: "Acme", Slug: "acme", OwnerID: owner.ID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	invite, _, err := service.InviteMember(ctx, InviteParams{
		OrganizationID: org.ID, Email: "new@example.com", Role: rbac.OrgRoleMember, InvitedBy: owner.ID,
	})
	if err != nil {
		t.Fatalf("invite: %v", err)
	}

	invites, err := service.ListInvites(ctx, org.ID)
	if err != nil {
		t.Fatalf("list invites: %v", err)
	}
	if len(invites) != 1 {
		t.Fatalf("expected 1 pending invite, got %d", len(invites))
	}

	if err := service.RevokeInvite(ctx, org.ID, invite.ID); err != nil {
		t.Fatalf("revoke: %v", err)
	}
	if err := service.RevokeInvite(ctx, org.ID, invite.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on second revoke, got %v", err)
	}
}

func TestLastOwnerGuard(t *testing.T) {
	conn := openTestDB(t)
	service := NewService(conn, nil)
	owner := seedUser(t, conn, "owner@example.com")
	helper := seedUser(t, conn, "helper@example.com")
	ctx := context.Background()

	org, err := service.Create(ctx, CreateParams{Name: "Acme", Slug: "acme", OwnerID: owner.ID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	ownerMember := org.Members[0]

	if err := service.UpdateMemberRole(ctx, org.ID, ownerMember.ID, rbac.OrgRoleMember); !errors.Is(err, ErrLastOwner) {
		t.Fatalf("expected ErrLastOwner on demote, got %v", err)
	}
	if err := service.RemoveMember(ctx, org.ID, ownerMember.ID); !errors.Is(err, ErrLastOwner) {
		t.Fatalf("expected ErrLastOwner on remove, got %v", err)
	}

	// Promote a second owner, then the original owner may step down.
	second := models.OrganizationMember{
		OrganizationID: org.ID, UserID: helper.ID, Role: rbac.OrgRoleOwner, Active: true,
	}
	if err := conn.Create(&second).Error; err != nil {
		t.Fatalf("seed second owner: %v", err)
	}
	if err := service.UpdateMemberRole(ctx, org.ID, ownerMember.ID, rbac.OrgRoleAdmin); err != nil {
		t.Fatalf("demote with co-owner: %v", err)
	}
	membership, err := service.Membership(ctx, org.ID, owner.ID)
	if err != nil {
		t.Fatalf("membership: %v", err)
	}
	if membership.Role != rbac.OrgRoleAdmin {
		t.Fatalf("expected admin role, got %q", membership.Role)
	}
}

func TestRemoveMember(t *testing.T) {
	conn := openTestDB(t)
	service := NewService(conn, nil)
	owner := seedUser(t, conn, "owner@example.com")
	member := seedUser(t, conn, "member@example.com")
	ctx := context.Background()

	org, err := service.Create(ctx, CreateParams{Name: "Acme", Slug: "acme", OwnerID: owner.ID})
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	row := models.OrganizationMember{
		OrganizationID: org.ID, UserID: member.ID, Role: rbac.OrgRoleMember, Active: true,
	}
	if err := conn.Create(&row).Error; err != nil {
		t.Fatalf("seed member: %v", err)
	}

	if err := service.RemoveMember(ctx, org.ID, row.ID); err != nil {
		t.Fatalf("remove: %v", err)
	}
	if _, err := service.Membership(ctx, org.ID, member.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound after remove, got %v", err)
	}
	if err := service.RemoveMember(ctx, org.ID, row.ID); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for missing member, got %v", err)
	}
}
