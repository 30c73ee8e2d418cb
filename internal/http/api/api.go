// Package api wires the HTTP surface: route registration and the
// session, API-key, and organization middleware.
package api

import (
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/opsboard/opsboard/internal/apikeys"
	"github.com/opsboard/opsboard/internal/config"
	"github.com/opsboard/opsboard/internal/http/api/handlers"
	"github.com/opsboard/opsboard/internal/models"
	"github.com/opsboard/opsboard/internal/organizations"
	"github.com/opsboard/opsboard/internal/ratelimit"
	"github.com/opsboard/opsboard/internal/rbac"
	"github.com/opsboard/opsboard/internal/security"
)

// loginRequestsPerSecond caps unauthenticated login traffic per client IP.
const loginRequestsPerSecond = 10

// RegisterRoutes registers all routes, middleware, and handlers.
func RegisterRoutes(r *gin.Engine, db *gorm.DB, jwtCfg config.JWTConfig, email organizations.EmailSender) {
	if r == nil || db == nil {
		return
	}

	r.Use(RequestIDMiddleware())

	healthHandler := handlers.NewHealthHandler(db)
	r.GET("/healthz", healthHandler.Healthz)

	v1 := r.Group("/v1")

	throttle := loginThrottleMiddleware(ratelimit.NewMemoryLimiter(), loginRequestsPerSecond)
	authHandler := handlers.NewAuthHandler(db, jwtCfg)
	authGroup := v1.Group("/auth")
	authGroup.POST("/signup", throttle, authHandler.Signup)
	authGroup.POST("/login", throttle, authHandler.Login)
	authGroup.POST("/login/2fa", throttle, authHandler.LoginTwoFactor)

	authed := v1.Group("")
	authed.Use(sessionAuthMiddleware(db, jwtCfg))

	twoFactorHandler := handlers.NewTwoFactorHandler(db)
	authed.POST("/2fa/setup", twoFactorHandler.Setup)
	authed.POST("/2fa/verify", twoFactorHandler.Verify)
	authed.POST("/2fa/disable", twoFactorHandler.Disable)
	authed.GET("/2fa/status", twoFactorHandler.Status)
	authed.POST("/2fa/backup-codes", twoFactorHandler.RegenerateBackupCodes)

	// Key management rights are per-target-user, so the ownership check
	// lives in the handler rather than a static permission gate.
	apiKeyHandler := handlers.NewAPIKeyHandler(db)
	authed.POST("/api-keys", apiKeyHandler.Create)
	authed.GET("/api-keys", apiKeyHandler.List)
	authed.GET("/api-keys/:id", apiKeyHandler.Get)
	authed.PUT("/api-keys/:id", apiKeyHandler.Update)
	authed.DELETE("/api-keys/:id", apiKeyHandler.Delete)
	authed.POST("/api-keys/:id/rotate", apiKeyHandler.Rotate)

	orgHandler := handlers.NewOrganizationHandler(db, email)
	authed.POST("/organizations", orgHandler.Create)
	authed.GET("/organizations", orgHandler.List)
	authed.POST("/invites/accept", orgHandler.AcceptInvite)

	orgScoped := authed.Group("/organizations/:id")
	orgScoped.Use(requireOrganization(db))
	orgScoped.GET("", orgHandler.Get)
	orgScoped.PUT("", orgHandler.Update)
	orgScoped.DELETE("", orgHandler.Delete)
	orgScoped.POST("/invite", orgHandler.Invite)
	orgScoped.GET("/invites", orgHandler.ListInvites)
	orgScoped.DELETE("/invites/:inviteId", orgHandler.RevokeInvite)
	orgScoped.PATCH("/members/:memberId", orgHandler.UpdateMember)
	orgScoped.DELETE("/members/:memberId", orgHandler.RemoveMember)
	orgScoped.GET("/api-keys", apiKeyHandler.ListByOrganization)

	subscriptionHandler := handlers.NewSubscriptionHandler(db)
	authed.GET("/subscription", subscriptionHandler.Get)
	orgScoped.GET("/subscription", subscriptionHandler.GetForOrganization)

	adminGroup := authed.Group("/admin")
	adminGroup.Use(requireRole(rbac.RoleAdmin))

	userHandler := handlers.NewUserHandler(db)
	adminGroup.GET("/users", requirePermission(db, "user", "read:all"), userHandler.List)
	adminGroup.GET("/users/:id", requirePermission(db, "user", "read:all"), userHandler.Get)
	adminGroup.PUT("/users/:id", requirePermission(db, "user", "update:all"), userHandler.Update)
	adminGroup.POST("/users/:id/unlock", requirePermission(db, "user", "update:all"), userHandler.Unlock)

	auditHandler := handlers.NewAuditLogHandler(db)
	adminGroup.GET("/audit-logs", requirePermission(db, "auditLog", "read:all"), auditHandler.List)

	keyAPI := v1.Group("/keyapi")
	keyAPI.Use(apiKeyAuthMiddleware(db))

	keyAPIHandler := handlers.NewKeyAPIHandler(db)
	keyAPI.GET("/me", keyAPIHandler.Me)
	keyAPI.GET("/organizations", requireAPIPermission("organizations", "read"), keyAPIHandler.Organizations)
}

// RequestIDHeader carries the per-request correlation id.
const RequestIDHeader = "X-Request-ID"

// RequestIDMiddleware assigns each request a correlation id, honoring a
// caller-supplied one, and echoes it on the response.
func RequestIDMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		requestID := strings.TrimSpace(c.GetHeader(RequestIDHeader))
		if requestID == "" {
			requestID = uuid.NewString()
		}
		c.Set(handlers.CtxRequestID, requestID)
		c.Header(RequestIDHeader, requestID)
		c.Next()
	}
}

// bearerToken extracts the bearer credential from the request.
func bearerToken(c *gin.Context) (string, bool) {
	authHeader := c.GetHeader("Authorization")
	if authHeader == "" {
		return "", false
	}
	token := strings.TrimPrefix(authHeader, "Bearer ")
	if token == authHeader {
		return "", false
	}
	token = strings.TrimSpace(token)
	return token, token != ""
}

// sessionAuthMiddleware validates session JWTs and loads user context.
// Pending-2FA tokens do not pass here.
func sessionAuthMiddleware(db *gorm.DB, jwtCfg config.JWTConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}

		claims, errJWT := security.ParseSessionToken(jwtCfg.Secret, token)
		if errJWT != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
			return
		}
		if claims.TwoFactorPending {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "two-factor verification required"})
			return
		}

		var user models.User
		if errFind := db.WithContext(c.Request.Context()).First(&user, claims.UserID).Error; errFind != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "user not found"})
			return
		}
		if !user.Active {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "account disabled"})
			return
		}

		c.Set(handlers.CtxUserID, user.ID)
		c.Set(handlers.CtxUserEmail, user.Email)
		c.Set(handlers.CtxUserRole, user.Role)
		c.Next()
	}
}

// requireRole enforces a minimum global role by hierarchy level.
func requireRole(required rbac.UserRole) gin.HandlerFunc {
	return func(c *gin.Context) {
		current, _ := c.Get(handlers.CtxUserRole)
		role, _ := current.(rbac.UserRole)
		if rbac.RoleLevel(role) < rbac.RoleLevel(required) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{
				"error":    "insufficient role",
				"required": required,
				"current":  role,
			})
			return
		}
		c.Next()
	}
}

// requirePermission evaluates the policy tables against the request
// identity. An organization context is attached when the request names
// one via the organizationId query parameter and the caller is an active
// member.
func requirePermission(db *gorm.DB, resource, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		role, _ := c.Get(handlers.CtxUserRole)
		userRole, _ := role.(rbac.UserRole)
		userCtx := rbac.UserContext{
			UserID: c.GetUint64(handlers.CtxUserID),
			Role:   userRole,
		}

		if raw := c.Query("organizationId"); raw != "" {
			orgID, errParse := strconv.ParseUint(raw, 10, 64)
			if errParse != nil {
				c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid organizationId"})
				return
			}
			var member models.OrganizationMember
			errFind := db.WithContext(c.Request.Context()).
				Where("organization_id = ? AND user_id = ? AND active = ?", orgID, userCtx.UserID, true).
				First(&member).Error
			switch {
			case errFind == nil:
				userCtx.OrganizationID = orgID
				userCtx.OrganizationRole = member.Role
				c.Set(handlers.CtxOrganizationID, orgID)
				c.Set(handlers.CtxOrganizationRole, member.Role)
			case !errors.Is(errFind, gorm.ErrRecordNotFound):
				c.AbortWithStatusJSON(http.StatusInternalServerError, gin.H{"error": "permission check failed"})
				return
			}
		}

		if errPerm := rbac.RequirePermission(userCtx, resource, action); errPerm != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": errPerm.Error()})
			return
		}
		c.Next()
	}
}

// requireOrganization resolves the organization from the :id path param
// or the organizationId query and demands an active membership.
func requireOrganization(db *gorm.DB) gin.HandlerFunc {
	return func(c *gin.Context) {
		raw := c.Param("id")
		if raw == "" {
			raw = c.Query("organizationId")
		}
		if raw == "" {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "missing organization id"})
			return
		}
		orgID, errParse := strconv.ParseUint(raw, 10, 64)
		if errParse != nil {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{"error": "invalid organization id"})
			return
		}

		var member models.OrganizationMember
		errFind := db.WithContext(c.Request.Context()).
			Where("organization_id = ? AND user_id = ? AND active = ?", orgID, c.GetUint64(handlers.CtxUserID), true).
			First(&member).Error
		if errFind != nil {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "not a member of this organization"})
			return
		}

		c.Set(handlers.CtxOrganizationID, orgID)
		c.Set(handlers.CtxOrganizationRole, member.Role)
		c.Next()
	}
}

// apiKeyAuthMiddleware validates `sk_` bearer keys and loads the key
// context. All validation failures share one response body.
func apiKeyAuthMiddleware(db *gorm.DB) gin.HandlerFunc {
	manager := apikeys.NewManager(db)
	return func(c *gin.Context) {
		token, ok := bearerToken(c)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "missing authorization header"})
			return
		}
		keyCtx, errValidate := manager.Validate(c.Request.Context(), token)
		if errValidate != nil {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
			return
		}
		c.Set(handlers.CtxAPIKey, *keyCtx)
		c.Next()
	}
}

// requireAPIPermission gates a programmatic route on the key's own
// permission list.
func requireAPIPermission(resource, action string) gin.HandlerFunc {
	return func(c *gin.Context) {
		value, ok := c.Get(handlers.CtxAPIKey)
		if !ok {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid api key"})
			return
		}
		keyCtx, okCast := value.(apikeys.Context)
		if !okCast || !keyCtx.HasPermission(resource, action) {
			c.AbortWithStatusJSON(http.StatusForbidden, gin.H{"error": "insufficient permissions"})
			return
		}
		c.Next()
	}
}

// loginThrottleMiddleware bounds per-IP request volume on the
// unauthenticated login endpoints.
func loginThrottleMiddleware(limiter *ratelimit.MemoryLimiter, perSecond int) gin.HandlerFunc {
	return func(c *gin.Context) {
		if !limiter.Allow(c.ClientIP(), perSecond, time.Now()) {
			c.AbortWithStatusJSON(http.StatusTooManyRequests, gin.H{"error": "too many requests"})
			return
		}
		c.Next()
	}
}
