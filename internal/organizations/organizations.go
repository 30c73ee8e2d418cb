// Package organizations implements tenant lifecycle: organizations,
// memberships, and token-based invites.
package organizations

import (
	"context"
	"errors"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"

	"github.com/opsboard/opsboard/internal/models"
	"github.com/opsboard/opsboard/internal/rbac"
	"github.com/opsboard/opsboard/internal/security"
)

var (
	// ErrNotFound reports a missing organization, member, or invite.
	ErrNotFound = errors.New("organizations: not found")
	// ErrSlugTaken reports a duplicate organization slug.
	ErrSlugTaken = errors.New("organizations: slug already in use")
	// ErrAlreadyMember reports that the user already belongs to the organization.
	ErrAlreadyMember = errors.New("organizations: user is already a member")
	// ErrLastOwner guards demoting or removing an organization's only owner.
	ErrLastOwner = errors.New("organizations: organization must keep at least one owner")
	// ErrInviteInvalid collapses unknown, consumed, and expired invite tokens.
	ErrInviteInvalid = errors.New("organizations: invite is invalid or expired")
)

// inviteTTL is how long an invite token stays redeemable.
const inviteTTL = 7 * 24 * time.Hour

// EmailSender delivers invite notifications. Delivery failures are
// reported to the caller but never fail the invite itself.
type EmailSender interface {
	SendInvite(ctx context.Context, email, organizationName, token string) error
}

// Service manages organizations and their memberships.
type Service struct {
	db    *gorm.DB
	email EmailSender
}

// NewService constructs a Service. email may be nil when invite
// notifications are not configured.
func NewService(conn *gorm.DB, email EmailSender) *Service {
	return &Service{db: conn, email: email}
}

// CreateParams carries the fields for a new organization.
type CreateParams struct {
	Name        string
	Slug        string
	Description string
	Website     string
	OwnerID     uint64
}

// Create inserts an organization and its owner membership in one
// transaction, then returns the organization with members preloaded.
func (s *Service) Create(ctx context.Context, params CreateParams) (*models.Organization, error) {
	var count int64
	if errCount := s.db.WithContext(ctx).Model(&models.Organization{}).Where("slug = ?", params.Slug).Count(&count).Error; errCount != nil {
		return nil, fmt.Errorf("organizations: check slug: %w", errCount)
	}
	if count > 0 {
		return nil, ErrSlugTaken
	}

	org := models.Organization{
		Name:        params.Name,
		Slug:        params.Slug,
		Description: params.Description,
		Website:     params.Website,
		Active:      true,
	}
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errCreate := tx.Create(&org).Error; errCreate != nil {
			return fmt.Errorf("organizations: create: %w", errCreate)
		}
		owner := models.OrganizationMember{
			OrganizationID: org.ID,
			UserID:         params.OwnerID,
			Role:           rbac.OrgRoleOwner,
			Active:         true,
		}
		if errMember := tx.Create(&owner).Error; errMember != nil {
			return fmt.Errorf("organizations: create owner membership: %w", errMember)
		}
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	return s.GetWithMembers(ctx, org.ID)
}

// GetWithMembers loads one organization with its memberships and member
// users preloaded.
func (s *Service) GetWithMembers(ctx context.Context, organizationID uint64) (*models.Organization, error) {
	var org models.Organization
	errFind := s.db.WithContext(ctx).
		Preload("Members").
		Preload("Members.User").
		First(&org, "id = ?", organizationID).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("organizations: load: %w", errFind)
	}
	return &org, nil
}

// GetBySlug resolves an active organization by slug.
func (s *Service) GetBySlug(ctx context.Context, slug string) (*models.Organization, error) {
	var org models.Organization
	errFind := s.db.WithContext(ctx).
		Where("slug = ? AND active = ?", slug, true).
		First(&org).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("organizations: load by slug: %w", errFind)
	}
	return s.GetWithMembers(ctx, org.ID)
}

// ListByUser returns every organization the user actively belongs to.
func (s *Service) ListByUser(ctx context.Context, userID uint64) ([]models.Organization, error) {
	var memberships []models.OrganizationMember
	errFind := s.db.WithContext(ctx).
		Where("user_id = ? AND active = ?", userID, true).
		Find(&memberships).Error
	if errFind != nil {
		return nil, fmt.Errorf("organizations: list memberships: %w", errFind)
	}
	orgs := make([]models.Organization, 0, len(memberships))
	for _, membership := range memberships {
		org, errLoad := s.GetWithMembers(ctx, membership.OrganizationID)
		if errLoad != nil {
			if errors.Is(errLoad, ErrNotFound) {
				continue
			}
			return nil, errLoad
		}
		orgs = append(orgs, *org)
	}
	return orgs, nil
}

// UpdateParams carries partial organization updates; nil fields are left
// untouched.
type UpdateParams struct {
	Name        *string
	Slug        *string
	Description *string
	Website     *string
	Logo        *string
}

// Update applies the non-nil fields to the organization.
func (s *Service) Update(ctx context.Context, organizationID uint64, params UpdateParams) error {
	updates := map[string]any{}
	if params.Name != nil {
		updates["name"] = *params.Name
	}
	if params.Slug != nil {
		updates["slug"] = *params.Slug
	}
	if params.Description != nil {
		updates["description"] = *params.Description
	}
	if params.Website != nil {
		updates["website"] = *params.Website
	}
	if params.Logo != nil {
		updates["logo"] = *params.Logo
	}
	if len(updates) == 0 {
		return nil
	}
	result := s.db.WithContext(ctx).Model(&models.Organization{}).Where("id = ?", organizationID).Updates(updates)
	if result.Error != nil {
		return fmt.Errorf("organizations: update: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// Delete removes the organization along with its memberships and invites
// in one transaction.
func (s *Service) Delete(ctx context.Context, organizationID uint64) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errMembers := tx.Where("organization_id = ?", organizationID).Delete(&models.OrganizationMember{}).Error; errMembers != nil {
			return fmt.Errorf("organizations: delete members: %w", errMembers)
		}
		if errInvites := tx.Where("organization_id = ?", organizationID).Delete(&models.OrganizationInvite{}).Error; errInvites != nil {
			return fmt.Errorf("organizations: delete invites: %w", errInvites)
		}
		result := tx.Delete(&models.Organization{}, "id = ?", organizationID)
		if result.Error != nil {
			return fmt.Errorf("organizations: delete: %w", result.Error)
		}
		if result.RowsAffected == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// Membership returns the active membership binding the user to the
// organization, or ErrNotFound.
func (s *Service) Membership(ctx context.Context, organizationID, userID uint64) (*models.OrganizationMember, error) {
	var member models.OrganizationMember
	errFind := s.db.WithContext(ctx).
		Where("organization_id = ? AND user_id = ? AND active = ?", organizationID, userID, true).
		First(&member).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("organizations: load membership: %w", errFind)
	}
	return &member, nil
}

// InviteParams carries the fields for a new invite.
type InviteParams struct {
	OrganizationID uint64
	Email          string
	Role           rbac.OrganizationRole
	InvitedBy      uint64
}

// InviteMember creates a single-use invite token valid for seven days and
// attempts to send the notification email. The returned flag reports
// whether the email went out.
func (s *Service) InviteMember(ctx context.Context, params InviteParams) (*models.OrganizationInvite, bool, error) {
	org, errLoad := s.GetWithMembers(ctx, params.OrganizationID)
	if errLoad != nil {
		return nil, false, errLoad
	}
	for _, member := range org.Members {
		if member.User.Email == params.Email {
			return nil, false, ErrAlreadyMember
		}
	}

	token, errToken := security.GenerateInviteToken()
	if errToken != nil {
		return nil, false, fmt.Errorf("organizations: generate invite token: %w", errToken)
	}
	invite := models.OrganizationInvite{
		OrganizationID: params.OrganizationID,
		Email:          params.Email,
		Role:           params.Role,
		InvitedBy:      params.InvitedBy,
		Token:          token,
		ExpiresAt:      time.Now().UTC().Add(inviteTTL),
	}
	if errCreate := s.db.WithContext(ctx).Create(&invite).Error; errCreate != nil {
		return nil, false, fmt.Errorf("organizations: create invite: %w", errCreate)
	}

	emailSent := false
	if s.email != nil {
		if errSend := s.email.SendInvite(ctx, params.Email, org.Name, token); errSend != nil {
			log.WithError(errSend).WithField("email", params.Email).Warn("invite email failed")
		} else {
			emailSent = true
		}
	}
	return &invite, emailSent, nil
}

// ListInvites returns the organization's pending invites, unexpired and
// unaccepted, newest first.
func (s *Service) ListInvites(ctx context.Context, organizationID uint64) ([]models.OrganizationInvite, error) {
	var invites []models.OrganizationInvite
	errFind := s.db.WithContext(ctx).
		Where("organization_id = ? AND accepted = ? AND expires_at > ?", organizationID, false, time.Now().UTC()).
		Order("created_at DESC").
		Find(&invites).Error
	if errFind != nil {
		return nil, fmt.Errorf("organizations: list invites: %w", errFind)
	}
	return invites, nil
}

// RevokeInvite deletes a pending invite.
func (s *Service) RevokeInvite(ctx context.Context, organizationID, inviteID uint64) error {
	result := s.db.WithContext(ctx).
		Where("organization_id = ? AND id = ? AND accepted = ?", organizationID, inviteID, false).
		Delete(&models.OrganizationInvite{})
	if result.Error != nil {
		return fmt.Errorf("organizations: revoke invite: %w", result.Error)
	}
	if result.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// AcceptInvite redeems a token for the given user. The membership insert
// and the consumed flag commit together. Unknown, consumed, and expired
// tokens all map to ErrInviteInvalid.
func (s *Service) AcceptInvite(ctx context.Context, token string, userID uint64) (*models.OrganizationMember, error) {
	var invite models.OrganizationInvite
	errFind := s.db.WithContext(ctx).
		Where("token = ? AND accepted = ?", token, false).
		First(&invite).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrInviteInvalid
		}
		return nil, fmt.Errorf("organizations: load invite: %w", errFind)
	}
	if time.Now().UTC().After(invite.ExpiresAt) {
		return nil, ErrInviteInvalid
	}

	if _, errMember := s.Membership(ctx, invite.OrganizationID, userID); errMember == nil {
		return nil, ErrAlreadyMember
	} else if !errors.Is(errMember, ErrNotFound) {
		return nil, errMember
	}

	member := models.OrganizationMember{
		OrganizationID: invite.OrganizationID,
		UserID:         userID,
		Role:           invite.Role,
		Active:         true,
	}
	errTx := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if errCreate := tx.Create(&member).Error; errCreate != nil {
			return fmt.Errorf("organizations: create membership: %w", errCreate)
		}
		now := time.Now().UTC()
		if errMark := tx.Model(&models.OrganizationInvite{}).Where("id = ?", invite.ID).Updates(map[string]any{
			"accepted":    true,
			"accepted_at": &now,
		}).Error; errMark != nil {
			return fmt.Errorf("organizations: mark invite accepted: %w", errMark)
		}
		return nil
	})
	if errTx != nil {
		return nil, errTx
	}
	return &member, nil
}

// UpdateMemberRole changes a member's tenant role. Demoting the last
// owner is refused.
func (s *Service) UpdateMemberRole(ctx context.Context, organizationID, memberID uint64, role rbac.OrganizationRole) error {
	member, errLoad := s.memberByID(ctx, organizationID, memberID)
	if errLoad != nil {
		return errLoad
	}
	if member.Role == rbac.OrgRoleOwner && role != rbac.OrgRoleOwner {
		lastOwner, errCount := s.isLastOwner(ctx, organizationID, member.ID)
		if errCount != nil {
			return errCount
		}
		if lastOwner {
			return ErrLastOwner
		}
	}
	errUpdate := s.db.WithContext(ctx).Model(&models.OrganizationMember{}).
		Where("id = ?", member.ID).
		Update("role", role).Error
	if errUpdate != nil {
		return fmt.Errorf("organizations: update member role: %w", errUpdate)
	}
	return nil
}

// RemoveMember deletes a membership. Removing the last owner is refused.
func (s *Service) RemoveMember(ctx context.Context, organizationID, memberID uint64) error {
	member, errLoad := s.memberByID(ctx, organizationID, memberID)
	if errLoad != nil {
		return errLoad
	}
	if member.Role == rbac.OrgRoleOwner {
		lastOwner, errCount := s.isLastOwner(ctx, organizationID, member.ID)
		if errCount != nil {
			return errCount
		}
		if lastOwner {
			return ErrLastOwner
		}
	}
	if errDelete := s.db.WithContext(ctx).Delete(&models.OrganizationMember{}, "id = ?", member.ID).Error; errDelete != nil {
		return fmt.Errorf("organizations: remove member: %w", errDelete)
	}
	return nil
}

func (s *Service) memberByID(ctx context.Context, organizationID, memberID uint64) (*models.OrganizationMember, error) {
	var member models.OrganizationMember
	errFind := s.db.WithContext(ctx).
		Where("organization_id = ? AND id = ?", organizationID, memberID).
		First(&member).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("organizations: load member: %w", errFind)
	}
	return &member, nil
}

// isLastOwner reports whether no other owner membership exists besides
// excludeMemberID.
func (s *Service) isLastOwner(ctx context.Context, organizationID, excludeMemberID uint64) (bool, error) {
	var others int64
	errCount := s.db.WithContext(ctx).Model(&models.OrganizationMember{}).
		Where("organization_id = ? AND role = ? AND id <> ?", organizationID, rbac.OrgRoleOwner, excludeMemberID).
		Count(&others).Error
	if errCount != nil {
		return false, fmt.Errorf("organizations: count owners: %w", errCount)
	}
	return others == 0, nil
}
