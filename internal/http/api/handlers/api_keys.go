package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/opsboard/opsboard/internal/apikeys"
	"github.com/opsboard/opsboard/internal/audit"
	"github.com/opsboard/opsboard/internal/models"
	"github.com/opsboard/opsboard/internal/rbac"
)

// APIKeyHandler manages API key endpoints for session users.
type APIKeyHandler struct {
	db      *gorm.DB
	manager *apikeys.Manager
	audit   *audit.Recorder
}

// NewAPIKeyHandler constructs an APIKeyHandler.
func NewAPIKeyHandler(db *gorm.DB) *APIKeyHandler {
	return &APIKeyHandler{
		db:      db,
		manager: apikeys.NewManager(db),
		audit:   audit.NewRecorder(db),
	}
}

type createAPIKeyRequest struct {
	Name           string     `json:"name"`
	Permissions    []string   `json:"permissions"`
	UserID         *uint64    `json:"user_id"`
	OrganizationID *uint64    `json:"organization_id"`
	ExpiresAt      *time.Time `json:"expires_at"`
}

// Create issues a new key. The plaintext appears in this response only.
// Creating for another user requires management rights over that user.
func (h *APIKeyHandler) Create(c *gin.Context) {
	var body createAPIKeyRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	name := strings.TrimSpace(body.Name)
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing name"})
		return
	}

	targetUserID := currentUserID(c)
	if body.UserID != nil && *body.UserID != 0 {
		targetUserID = *body.UserID
	}
	if !rbac.CanManageAPIKeys(currentUserContext(c), targetUserID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
		return
	}
	if body.OrganizationID != nil && !h.canBindOrganization(c, *body.OrganizationID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
		return
	}

	plaintext, key, errCreate := h.manager.Create(c.Request.Context(), apikeys.CreateParams{
		Name:           name,
		UserID:         targetUserID,
		OrganizationID: body.OrganizationID,
		Permissions:    body.Permissions,
		ExpiresAt:      body.ExpiresAt,
	})
	if errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "create api key failed"})
		return
	}

	actorID := currentUserID(c)
	ip, ua := requestMeta(c)
	h.audit.Record(c.Request.Context(), audit.Entry{
		UserID:         &actorID,
		OrganizationID: key.OrganizationID,
		Action:         audit.ActionAPIKeyCreate,
		Resource:       audit.ResourceAPIKey,
		ResourceID:     strconv.FormatUint(key.ID, 10),
		Details:        map[string]any{"name": key.Name},
		IPAddress:      ip,
		UserAgent:      ua,
	})
	c.JSON(http.StatusCreated, gin.H{
		"key":     plaintext,
		"api_key": apiKeyResponse(*key),
	})
}

// List returns the caller's keys, or another user's with management
// rights.
func (h *APIKeyHandler) List(c *gin.Context) {
	targetUserID := currentUserID(c)
	if rawUser := c.Query("user_id"); rawUser != "" {
		parsed, errParse := strconv.ParseUint(rawUser, 10, 64)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
			return
		}
		targetUserID = parsed
	}
	if !rbac.CanManageAPIKeys(currentUserContext(c), targetUserID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
		return
	}
	keys, errList := h.manager.ListByUser(c.Request.Context(), targetUserID)
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list api keys failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"api_keys": apiKeyResponses(keys)})
}

// canBindOrganization reports whether the caller may scope a key to the
// organization. Key scoping is an owner/admin action in that organization.
func (h *APIKeyHandler) canBindOrganization(c *gin.Context, organizationID uint64) bool {
	if rbac.IsAdmin(currentUserContext(c)) {
		return true
	}
	var member models.OrganizationMember
	errFind := h.db.WithContext(c.Request.Context()).
		Where("organization_id = ? AND user_id = ? AND active = ?", organizationID, currentUserID(c), true).
		First(&member).Error
	if errFind != nil {
		return false
	}
	return member.Role == rbac.OrgRoleOwner || member.Role == rbac.OrgRoleAdmin
}

// ListByOrganization returns the keys scoped to the organization the
// surrounding middleware resolved. Plain members hold no key grants, so
// the listing is reserved for org owners and admins.
func (h *APIKeyHandler) ListByOrganization(c *gin.Context) {
	ctx := currentUserContext(c)
	if !rbac.IsAdmin(ctx) && !rbac.IsOrganizationAdmin(ctx) {
		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
		return
	}
	keys, errList := h.manager.ListByOrganization(c.Request.Context(), c.GetUint64(CtxOrganizationID))
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list api keys failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"api_keys": apiKeyResponses(keys)})
}

// Get returns a single key the caller may manage.
func (h *APIKeyHandler) Get(c *gin.Context) {
	key, ok := h.loadManaged(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, gin.H{"api_key": apiKeyResponse(*key)})
}

type updateAPIKeyRequest struct {
	Name        *string    `json:"name"`
	Permissions []string   `json:"permissions"`
	Active      *bool      `json:"active"`
	ExpiresAt   *time.Time `json:"expires_at"`
}

// Update applies partial changes to a key the caller may manage.
func (h *APIKeyHandler) Update(c *gin.Context) {
	key, ok := h.loadManaged(c)
	if !ok {
		return
	}
	var body updateAPIKeyRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	updated, errUpdate := h.manager.Update(c.Request.Context(), key.ID, apikeys.UpdateParams{
		Name:        body.Name,
		Permissions: body.Permissions,
		Active:      body.Active,
		ExpiresAt:   body.ExpiresAt,
	})
	if errUpdate != nil {
		if errors.Is(errUpdate, apikeys.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "api key not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update api key failed"})
		return
	}

	actorID := currentUserID(c)
	ip, ua := requestMeta(c)
	h.audit.Record(c.Request.Context(), audit.Entry{
		UserID:     &actorID,
		Action:     audit.ActionAPIKeyUpdate,
		Resource:   audit.ResourceAPIKey,
		ResourceID: strconv.FormatUint(updated.ID, 10),
		IPAddress:  ip,
		UserAgent:  ua,
	})
	c.JSON(http.StatusOK, gin.H{"api_key": apiKeyResponse(*updated)})
}

// Delete removes a key the caller may manage.
func (h *APIKeyHandler) Delete(c *gin.Context) {
	key, ok := h.loadManaged(c)
	if !ok {
		return
	}
	if errDelete := h.manager.Delete(c.Request.Context(), key.ID); errDelete != nil {
		if errors.Is(errDelete, apikeys.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "api key not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "delete api key failed"})
		return
	}

	actorID := currentUserID(c)
	ip, ua := requestMeta(c)
	h.audit.Record(c.Request.Context(), audit.Entry{
		UserID:     &actorID,
		Action:     audit.ActionAPIKeyDelete,
		Resource:   audit.ResourceAPIKey,
		ResourceID: strconv.FormatUint(key.ID, 10),
		IPAddress:  ip,
		UserAgent:  ua,
	})
	c.JSON(http.StatusOK, gin.H{"deleted": true})
}

// Rotate replaces the key's secret in place. The old plaintext stops
// validating immediately; the new one appears in this response only.
func (h *APIKeyHandler) Rotate(c *gin.Context) {
	key, ok := h.loadManaged(c)
	if !ok {
		return
	}
	plaintext, rotated, errRotate := h.manager.Rotate(c.Request.Context(), key.ID)
	if errRotate != nil {
		if errors.Is(errRotate, apikeys.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "api key not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "rotate api key failed"})
		return
	}

	actorID := currentUserID(c)
	ip, ua := requestMeta(c)
	h.audit.Record(c.Request.Context(), audit.Entry{
		UserID:     &actorID,
		Action:     audit.ActionAPIKeyRotate,
		Resource:   audit.ResourceAPIKey,
		ResourceID: strconv.FormatUint(rotated.ID, 10),
		IPAddress:  ip,
		UserAgent:  ua,
	})
	c.JSON(http.StatusOK, gin.H{
		"key":     plaintext,
		"api_key": apiKeyResponse(*rotated),
	})
}

// loadManaged resolves the :id path key and enforces management rights.
// On failure the response is already written.
func (h *APIKeyHandler) loadManaged(c *gin.Context) (*models.APIKey, bool) {
	id, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return nil, false
	}
	key, errFind := h.manager.GetByID(c.Request.Context(), id)
	if errFind != nil {
		if errors.Is(errFind, apikeys.ErrNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "api key not found"})
			return nil, false
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load api key failed"})
		return nil, false
	}
	if !rbac.CanManageAPIKeys(currentUserContext(c), key.UserID) {
		c.JSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
		return nil, false
	}
	return key, true
}

// apiKeyResponse strips the hash from a key row.
func apiKeyResponse(key models.APIKey) gin.H {
	return gin.H{
		"id":              key.ID,
		"name":            key.Name,
		"user_id":         key.UserID,
		"organization_id": key.OrganizationID,
		"permissions":     key.Permissions,
		"last_used_at":    key.LastUsedAt,
		"expires_at":      key.ExpiresAt,
		"active":          key.Active,
		"created_at":      key.CreatedAt,
	}
}

func apiKeyResponses(keys []models.APIKey) []gin.H {
	responses := make([]gin.H, 0, len(keys))
	for _, key := range keys {
		responses = append(responses, apiKeyResponse(key))
	}
	return responses
}
