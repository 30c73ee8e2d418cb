package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/opsboard/opsboard/internal/models"
	"github.com/opsboard/opsboard/internal/organizations"
)

// KeyAPIHandler serves the programmatic surface reached with an API key
// instead of a session.
type KeyAPIHandler struct {
	db      *gorm.DB
	service *organizations.Service
}

// NewKeyAPIHandler constructs a KeyAPIHandler.
func NewKeyAPIHandler(db *gorm.DB) *KeyAPIHandler {
	return &KeyAPIHandler{
		db:      db,
		service: organizations.NewService(db, nil),
	}
}

// Me introspects the presented key: its identity, scope, and grants.
func (h *KeyAPIHandler) Me(c *gin.Context) {
	key, ok := currentAPIKey(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
		return
	}
	var user models.User
	if errFind := h.db.WithContext(c.Request.Context()).First(&user, key.UserID).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load user failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"api_key_id":      key.APIKeyID,
		"organization_id": key.OrganizationID,
		"permissions":     key.Permissions,
		"user": gin.H{
			"id":    user.ID,
			"email": user.Email,
			"name":  user.Name,
		},
	})
}

// Organizations lists what the key can see: its bound organization when
// scoped, otherwise the owner's organizations.
func (h *KeyAPIHandler) Organizations(c *gin.Context) {
	key, ok := currentAPIKey(c)
	if !ok {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
		return
	}

	if key.OrganizationID != nil {
		org, errLoad := h.service.GetWithMembers(c.Request.Context(), *key.OrganizationID)
		if errLoad != nil {
			if errors.Is(errLoad, organizations.ErrNotFound) {
				c.JSON(http.StatusNotFound, gin.H{"error": "organization not found"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "load organization failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{"organizations": []gin.H{organizationResponse(*org)}})
		return
	}

	orgs, errList := h.service.ListByUser(c.Request.Context(), key.UserID)
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
