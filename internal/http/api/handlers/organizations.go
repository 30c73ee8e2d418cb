package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/opsboard/opsboard/internal/audit"
	"github.com/opsboard/opsboard/internal/models"
	"github.com/opsboard/opsboard/internal/organizations"
	"github.com/opsboard/opsboard/internal/rbac"
)

// OrganizationHandler manages tenant endpoints.
type OrganizationHandler struct {
	service *organizations.Service
	audit   *audit.Recorder
}

// NewOrganizationHandler constructs an OrganizationHandler.
func NewOrganizationHandler(db *gorm.DB, email organizations.EmailSender) *OrganizationHandler {
	return &OrganizationHandler{
		service: organizations.NewService(db, email),
		audit:   audit.NewRecorder(db),
	}
}

type createOrganizationRequest struct {
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
	Website     string `json:"website"`
}

// Create makes the caller owner of a new organization.
func (h *OrganizationHandler) Create(c *gin.Context) {
	var body createOrganizationRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	name := strings.TrimSpace(body.Name)
	slug := strings.ToLower(strings.TrimSpace(body.Slug))
	if name == "" || slug == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "name and slug are required"})
		return
	}

	userID := currentUserID(c)
	org, errCreate := h.service.Create(c.Request.Context(), organizations.CreateParams{
		Name:        name,
		Slug:        slug,
		Description: body.Description,
		Website:     body.Website,
		OwnerID:     userID,
	})
	if errCreate != nil {
		if errors.Is(errCreate, organizations.ErrSlugTaken) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "slug already in use"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create organization failed"})
		return
	}

	ip, ua := requestMeta(c)
	h.audit.Record(c.Request.Context(), audit.Entry{
		UserID:         &userID,
		OrganizationID: &org.ID,
		Action:         audit.ActionOrganizationCreate,
		Resource:       audit.ResourceOrganization,
		ResourceID:     strconv.FormatUint(org.ID, 10),
		Details:        map[string]any{"name": org.Name, "slug": org.Slug},
		IPAddress:      ip,
		UserAgent:      ua,
	})
	c.JSON(http.StatusCreated, gin.H{"organization": organizationResponse(*org)})
}

// List returns all organizations the caller belongs to. A `slug` query
// narrows the result to that organization, still requiring membership.
func (h *OrganizationHandler) List(c *gin.Context) {
	if slug := strings.ToLower(strings.TrimSpace(c.Query("slug"))); slug != "" {
		h.getBySlug(c, slug)
		return
	}
	orgs, errList := h.service.ListByUser(c.Request.Context(), currentUserID(c))
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list organizations failed"})
		return
	}
	responses := make([]gin.H, 0, len(orgs))
	for _, org := range orgs {
		responses = append(responses, organizationResponse(org))
	}
	c.JSON(http.StatusOK, gin.H{"organizations": responses})
}

// getBySlug resolves one organization by slug for the slug-filtered list.
// Non-members get the same response as a missing slug.
func (h *OrganizationHandler) getBySlug(c *gin.Context, slug string) {
	org, errLoad := h.service.GetBySlug(c.Request.Context(), slug)
	if errLoad != nil {
		if errors.Is(errLoad, organizations.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "organization not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load organization failed"})
		return
	}

	if !rbac.IsAdmin(currentUserContext(c)) {
		callerID := currentUserID(c)
		member := false
		for _, m := range org.Members {
			if m.UserID == callerID && m.Active {
				member = true
				break
			}
		}
		if !member {
			c.JSON(http.StatusNotFound, gin.H{"error": "organization not found"})
			return
		}
	}
	c.JSON(http.StatusOK, gin.H{"organizations": []gin.H{organizationResponse(*org)}})
}

// Get returns the organization resolved by the membership middleware.
func (h *OrganizationHandler) Get(c *gin.Context) {
	org, errLoad := h.service.GetWithMembers(c.Request.Context(), c.GetUint64(CtxOrganizationID))
	if errLoad != nil {
		if errors.Is(errLoad, organizations.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "organization not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load organization failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"organization": organizationResponse(*org)})
}

type updateOrganizationRequest struct {
	Name        *string `json:"name"`
	Slug        *string `json:"slug"`
	Description *string `json:"description"`
	Website     *string `json:"website"`
	Logo        *string `json:"logo"`
}

// Update applies partial changes. Owners and organization admins only.
func (h *OrganizationHandler) Update(c *gin.Context) {
	if !h.requireOrganizationAdmin(c) {
		return
	}
	var body updateOrganizationRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	orgID := c.GetUint64(CtxOrganizationID)
	errUpdate := h.service.Update(c.Request.Context(), orgID, organizations.UpdateParams{
		Name:        body.Name,
		Slug:        body.Slug,
		Description: body.Description,
		Website:     body.Website,
		Logo:        body.Logo,
	})
	if errUpdate != nil {
		if errors.Is(errUpdate, organizations.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "organization not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update organization failed"})
		return
	}

	userID := currentUserID(c)
	ip, ua := requestMeta(c)
	h.audit.Record(c.Request.Context(), audit.Entry{
		UserID:         &userID,
		OrganizationID: &orgID,
		Action:         audit.ActionOrganizationUpdate,
		Resource:       audit.ResourceOrganization,
		ResourceID:     strconv.FormatUint(orgID, 10),
		IPAddress:      ip,
		UserAgent:      ua,
	})
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Delete removes the organization and everything attached. Owners only.
func (h *OrganizationHandler) Delete(c *gin.Context) {
	if !h.requireOrganizationRole(c, rbac.OrgRoleOwner) {
		return
	}
	orgID := c.GetUint64(CtxOrganizationID)
	if errDelete := h.service.Delete(c.Request.Context(), orgID); errDelete != nil {
		if errors.Is(errDelete, organizations.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "organization not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete organization failed"})
		return
	}

	userID := currentUserID(c)
	ip, ua := requestMeta(c)
	h.audit.Record(c.Request.Context(), audit.Entry{
		UserID:     &userID,
		Action:     audit.ActionOrganizationDelete,
		Resource:   audit.ResourceOrganization,
		ResourceID: strconv.FormatUint(orgID, 10),
		IPAddress:  ip,
		UserAgent:  ua,
	})
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type inviteRequest struct {
	Email string                `json:"email"`
	Role  rbac.OrganizationRole `json:"role"`
}

// Invite sends a membership invite. Owners and organization admins only;
// owner invites are not a thing, the proposed role is admin or member.
func (h *OrganizationHandler) Invite(c *gin.Context) {
	if !h.requireOrganizationAdmin(c) {
		return
	}
	var body inviteRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	email := strings.ToLower(strings.TrimSpace(body.Email))
	if email == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing email"})
		return
	}
	if body.Role != rbac.OrgRoleAdmin && body.Role != rbac.OrgRoleMember {
		c.JSON(http.StatusBadRequest, gin.H{"error": "role must be admin or member"})
		return
	}

	orgID := c.GetUint64(CtxOrganizationID)
	userID := currentUserID(c)
	invite, emailSent, errInvite := h.service.InviteMember(c.Request.Context(), organizations.InviteParams{
		OrganizationID: orgID,
		Email:          email,
		Role:           body.Role,
		InvitedBy:      userID,
	})
	if errInvite != nil {
		switch {
		case errors.Is(errInvite, organizations.ErrAlreadyMember):
			c.JSON(http.StatusBadRequest, gin.H{"error": "user is already a member of this organization"})
		case errors.Is(errInvite, organizations.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "organization not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "invite failed"})
		}
		return
	}

	ip, ua := requestMeta(c)
	h.audit.Record(c.Request.Context(), audit.Entry{
		UserID:         &userID,
		OrganizationID: &orgID,
		Action:         audit.ActionInviteSend,
		Resource:       audit.ResourceOrganizationInvite,
		ResourceID:     strconv.FormatUint(invite.ID, 10),
		Details:        map[string]any{"email": email, "role": body.Role},
		IPAddress:      ip,
		UserAgent:      ua,
	})
	c.JSON(http.StatusOK, gin.H{
		"invite":     inviteResponse(*invite),
		"email_sent": emailSent,
	})
}

// ListInvites returns pending invites. Owners and organization admins only.
func (h *OrganizationHandler) ListInvites(c *gin.Context) {
	if !h.requireOrganizationAdmin(c) {
		return
	}
	invites, errList := h.service.ListInvites(c.Request.Context(), c.GetUint64(CtxOrganizationID))
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list invites failed"})
		return
	}
	responses := make([]gin.H, 0, len(invites))
	for _, invite := range invites {
		responses = append(responses, inviteResponse(invite))
	}
	c.JSON(http.StatusOK, gin.H{"invites": responses})
}

// RevokeInvite cancels a pending invite. Owners and organization admins
// only.
func (h *OrganizationHandler) RevokeInvite(c *gin.Context) {
	if !h.requireOrganizationAdmin(c) {
		return
	}
	inviteID, errParse := strconv.ParseUint(c.Param("inviteId"), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid invite id"})
		return
	}
	orgID := c.GetUint64(CtxOrganizationID)
	if errRevoke := h.service.RevokeInvite(c.Request.Context(), orgID, inviteID); errRevoke != nil {
		if errors.Is(errRevoke, organizations.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "invite not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "revoke invite failed"})
		return
	}

	userID := currentUserID(c)
	ip, ua := requestMeta(c)
	h.audit.Record(c.Request.Context(), audit.Entry{
		UserID:         &userID,
		OrganizationID: &orgID,
		Action:         audit.ActionInviteReject,
		Resource:       audit.ResourceOrganizationInvite,
		ResourceID:     strconv.FormatUint(inviteID, 10),
		IPAddress:      ip,
		UserAgent:      ua,
	})
	c.JSON(http.StatusOK, gin.H{"success": true})
}

type acceptInviteRequest struct {
	Token string `json:"token"`
}

// AcceptInvite redeems an invite token for the authenticated user.
func (h *OrganizationHandler) AcceptInvite(c *gin.Context) {
	var body acceptInviteRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.Token == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing token"})
		return
	}

	userID := currentUserID(c)
	member, errAccept := h.service.AcceptInvite(c.Request.Context(), body.Token, userID)
	if errAccept != nil {
		switch {
		case errors.Is(errAccept, organizations.ErrInviteInvalid):
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid token"})
		case errors.Is(errAccept, organizations.ErrAlreadyMember):
			c.JSON(http.StatusBadRequest, gin.H{"error": "user is already a member of this organization"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "accept invite failed"})
		}
		return
	}

	ip, ua := requestMeta(c)
	h.audit.Record(c.Request.Context(), audit.Entry{
		UserID:         &userID,
		OrganizationID: &member.OrganizationID,
		Action:         audit.ActionInviteAccept,
		Resource:       audit.ResourceOrganizationInvite,
		IPAddress:      ip,
		UserAgent:      ua,
	})
	c.JSON(http.StatusOK, gin.H{
		"organization_id": member.OrganizationID,
		"role":            member.Role,
	})
}

type updateMemberRequest struct {
	Role rbac.OrganizationRole `json:"role"`
}

// UpdateMember changes a member's role. Owners and organization admins
// only; owner rows may be touched by owners alone, and the last owner
// cannot be demoted.
func (h *OrganizationHandler) UpdateMember(c *gin.Context) {
	if !h.requireOrganizationAdmin(c) {
		return
	}
	var body updateMemberRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if !rbac.ValidOrganizationRole(body.Role) {
		c.JSON(http.StatusBadRequest, gin.H{"error": "valid role is required (owner, admin, or member)"})
		return
	}
	member, ok := h.loadMember(c)
	if !ok {
		return
	}
	if member.Role == rbac.OrgRoleOwner && !h.callerIsOwner(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "only owners can change owner roles"})
		return
	}

	orgID := c.GetUint64(CtxOrganizationID)
	errUpdate := h.service.UpdateMemberRole(c.Request.Context(), orgID, member.ID, body.Role)
	if errUpdate != nil {
		switch {
		case errors.Is(errUpdate, organizations.ErrLastOwner):
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot change role of the last owner"})
		case errors.Is(errUpdate, organizations.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "member not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "update member failed"})
		}
		return
	}

	userID := currentUserID(c)
	ip, ua := requestMeta(c)
	h.audit.Record(c.Request.Context(), audit.Entry{
		UserID:         &userID,
		OrganizationID: &orgID,
		Action:         audit.ActionMemberRoleChange,
		Resource:       audit.ResourceOrganizationMember,
		ResourceID:     strconv.FormatUint(member.ID, 10),
		Details:        map[string]any{"old_role": member.Role, "new_role": body.Role},
		IPAddress:      ip,
		UserAgent:      ua,
	})
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// RemoveMember deletes a membership. Owner rows may be removed by owners
// alone, and the last owner never.
func (h *OrganizationHandler) RemoveMember(c *gin.Context) {
	if !h.requireOrganizationAdmin(c) {
		return
	}
	member, ok := h.loadMember(c)
	if !ok {
		return
	}
	if member.Role == rbac.OrgRoleOwner && !h.callerIsOwner(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "only owners can remove other owners"})
		return
	}

	orgID := c.GetUint64(CtxOrganizationID)
	errRemove := h.service.RemoveMember(c.Request.Context(), orgID, member.ID)
	if errRemove != nil {
		switch {
		case errors.Is(errRemove, organizations.ErrLastOwner):
			c.JSON(http.StatusBadRequest, gin.H{"error": "cannot remove the last owner"})
		case errors.Is(errRemove, organizations.ErrNotFound):
			c.JSON(http.StatusNotFound, gin.H{"error": "member not found"})
		default:
			c.JSON(http.StatusInternalServerError, gin.H{"error": "remove member failed"})
		}
		return
	}

	userID := currentUserID(c)
	ip, ua := requestMeta(c)
	h.audit.Record(c.Request.Context(), audit.Entry{
		UserID:         &userID,
		OrganizationID: &orgID,
		Action:         audit.ActionMemberRemove,
		Resource:       audit.ResourceOrganizationMember,
		ResourceID:     strconv.FormatUint(member.ID, 10),
		Details:        map[string]any{"user_id": member.UserID},
		IPAddress:      ip,
		UserAgent:      ua,
	})
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// requireOrganizationAdmin writes a 403 unless the resolved membership is
// owner or admin.
func (h *OrganizationHandler) requireOrganizationAdmin(c *gin.Context) bool {
	if !rbac.IsOrganizationAdmin(currentUserContext(c)) {
		c.JSON(http.StatusForbidden, gin.H{"error": "admin or owner required"})
		return false
	}
	return true
}

// requireOrganizationRole writes a 403 unless the resolved membership
// holds exactly the given role.
func (h *OrganizationHandler) requireOrganizationRole(c *gin.Context, role rbac.OrganizationRole) bool {
	ctx := currentUserContext(c)
	if ctx.OrganizationRole != role {
		c.JSON(http.StatusForbidden, gin.H{"error": string(role) + " required"})
		return false
	}
	return true
}

// callerIsOwner reports whether the resolved membership is an owner.
func (h *OrganizationHandler) callerIsOwner(c *gin.Context) bool {
	return rbac.IsOrganizationOwner(currentUserContext(c))
}

// loadMember resolves the :memberId path member within the current
// organization. On failure the response is already written.
func (h *OrganizationHandler) loadMember(c *gin.Context) (*models.OrganizationMember, bool) {
	memberID, errParse := strconv.ParseUint(c.Param("memberId"), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid member id"})
		return nil, false
	}
	org, errLoad := h.service.GetWithMembers(c.Request.Context(), c.GetUint64(CtxOrganizationID))
	if errLoad != nil {
		if errors.Is(errLoad, organizations.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "organization not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load organization failed"})
		return nil, false
	}
	for i := range org.Members {
		if org.Members[i].ID == memberID {
			return &org.Members[i], true
		}
	}
	c.JSON(http.StatusNotFound, gin.H{"error": "member not found"})
	return nil, false
}

// organizationResponse shapes an organization with its members.
func organizationResponse(org models.Organization) gin.H {
	members := make([]gin.H, 0, len(org.Members))
	for _, member := range org.Members {
		members = append(members, gin.H{
			"id":        member.ID,
			"user_id":   member.UserID,
			"role":      member.Role,
			"active":    member.Active,
			"joined_at": member.JoinedAt,
			"user": gin.H{
				"id":    member.User.ID,
				"name":  member.User.Name,
				"email": member.User.Email,
			},
		})
	}
	return gin.H{
		"id":          org.ID,
		"name":        org.Name,
		"slug":        org.Slug,
		"description": org.Description,
		"logo":        org.Logo,
		"website":     org.Website,
		"active":      org.Active,
		"members":     members,
		"created_at":  org.CreatedAt,
		"updated_at":  org.UpdatedAt,
	}
}

// inviteResponse shapes an invite without exposing the token.
func inviteResponse(invite models.OrganizationInvite) gin.H {
	return gin.H{
		"id":         invite.ID,
		"email":      invite.Email,
		"role":       invite.Role,
		"expires_at": invite.ExpiresAt,
		"accepted":   invite.Accepted,
		"created_at": invite.CreatedAt,
	}
}
