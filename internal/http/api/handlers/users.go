package handlers

import (
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/opsboard/opsboard/internal/audit"
	dbutil "github.com/opsboard/opsboard/internal/db"
	"github.com/opsboard/opsboard/internal/models"
	"github.com/opsboard/opsboard/internal/ratelimit"
	"github.com/opsboard/opsboard/internal/rbac"
)

// UserHandler manages administrative user endpoints.
type UserHandler struct {
	db      *gorm.DB
	limiter *ratelimit.Limiter
	audit   *audit.Recorder
}

// NewUserHandler constructs a UserHandler.
func NewUserHandler(db *gorm.DB) *UserHandler {
	return &UserHandler{
		db:      db,
		limiter: ratelimit.NewLimiter(db),
		audit:   audit.NewRecorder(db),
	}
}

// List returns users with optional search and paging.
func (h *UserHandler) List(c *gin.Context) {
	query := h.db.WithContext(c.Request.Context()).Model(&models.User{})
	if search := strings.TrimSpace(c.Query("search")); search != "" {
		pattern := "%" + dbutil.NormalizeLikePattern(h.db, search) + "%"
		emailExpr := dbutil.CaseInsensitiveLikeExpr(h.db, "email")
		nameExpr := dbutil.CaseInsensitiveLikeExpr(h.db, "name")
		query = query.Where(emailExpr+" OR "+nameExpr, pattern, pattern)
	}
	if role := c.Query("role"); role != "" {
		query = query.Where("role = ?", role)
	}

	var total int64
	if errCount := query.Count(&total).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list users failed"})
		return
	}

	page, _ := strconv.Atoi(c.DefaultQuery("page", "1"))
	if page < 1 {
		page = 1
	}
	pageSize, _ := strconv.Atoi(c.DefaultQuery("page_size", "50"))
	if pageSize < 1 || pageSize > 200 {
		pageSize = 50
	}

	var users []models.User
	if errFind := query.Order("id ASC").Limit(pageSize).Offset((page - 1) * pageSize).Find(&users).Error; errFind != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list users failed"})
		return
	}
	responses := make([]gin.H, 0, len(users))
	for _, user := range users {
		responses = append(responses, adminUserResponse(user))
	}
	c.JSON(http.StatusOK, gin.H{
		"users": responses,
		"total": total,
		"page":  page,
	})
}

// Get returns one user with memberships preloaded.
func (h *UserHandler) Get(c *gin.Context) {
	id, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var user models.User
	errFind := h.db.WithContext(c.Request.Context()).
		Preload("Memberships").
		First(&user, id).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load user failed"})
		return
	}

	memberships := make([]gin.H, 0, len(user.Memberships))
	for _, membership := range user.Memberships {
		memberships = append(memberships, gin.H{
			"organization_id": membership.OrganizationID,
			"role":            membership.Role,
			"active":          membership.Active,
		})
	}
	response := adminUserResponse(user)
	response["memberships"] = memberships
	c.JSON(http.StatusOK, gin.H{"user": response})
}

type updateUserRequest struct {
	Role   *rbac.UserRole `json:"role"`
	Active *bool          `json:"active"`
}

// Update changes a user's global role or active flag. Granting or
// revoking super_admin requires a super_admin caller.
func (h *UserHandler) Update(c *gin.Context) {
	id, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	var body updateUserRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}

	var user models.User
	if errFind := h.db.WithContext(c.Request.Context()).First(&user, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "user not found"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load user failed"})
		return
	}

	caller := currentUserContext(c)
	updates := map[string]any{}
	if body.Role != nil {
		if !rbac.ValidUserRole(*body.Role) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid role"})
			return
		}
		touchesSuperAdmin := *body.Role == rbac.RoleSuperAdmin || user.Role == rbac.RoleSuperAdmin
		if touchesSuperAdmin && !rbac.IsSuperAdmin(caller) {
			c.JSON(http.StatusForbidden, gin.H{"error": "super_admin required"})
			return
		}
		updates["role"] = *body.Role
	}
	if body.Active != nil {
		updates["active"] = *body.Active
	}
	if len(updates) == 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "nothing to update"})
		return
	}
	if errUpdate := h.db.WithContext(c.Request.Context()).Model(&models.User{}).Where("id = ?", user.ID).Updates(updates).Error; errUpdate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "update user failed"})
		return
	}

	action := audit.ActionUserUpdate
	if body.Active != nil && body.Role == nil {
		if *body.Active {
			action = audit.ActionUserActivate
		} else {
			action = audit.ActionUserDeactivate
		}
	}
	actorID := currentUserID(c)
	ip, ua := requestMeta(c)
	h.audit.Record(c.Request.Context(), audit.Entry{
		UserID:     &actorID,
		Action:     action,
		Resource:   audit.ResourceUser,
		ResourceID: strconv.FormatUint(user.ID, 10),
		IPAddress:  ip,
		UserAgent:  ua,
	})
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// Unlock clears a user's failed-attempt state and lockout.
func (h *UserHandler) Unlock(c *gin.Context) {
	id, errParse := strconv.ParseUint(c.Param("id"), 10, 64)
	if errParse != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid id"})
		return
	}
	if errReset := h.limiter.Reset(c.Request.Context(), id); errReset != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "unlock failed"})
		return
	}

	actorID := currentUserID(c)
	ip, ua := requestMeta(c)
	h.audit.Record(c.Request.Context(), audit.Entry{
		UserID:     &actorID,
		Action:     audit.ActionAccountUnlocked,
		Resource:   audit.ResourceUser,
		ResourceID: strconv.FormatUint(id, 10),
		IPAddress:  ip,
		UserAgent:  ua,
	})
	c.JSON(http.StatusOK, gin.H{"success": true})
}

// adminUserResponse includes lockout state, which the self view omits.
func adminUserResponse(user models.User) gin.H {
	return gin.H{
		"id":             user.ID,
		"email":          user.Email,
		"name":           user.Name,
		"role":           user.Role,
		"active":         user.Active,
		"login_attempts": user.LoginAttempts,
		"locked_until":   user.LockedUntil,
		"created_at":     user.CreatedAt,
	}
}
