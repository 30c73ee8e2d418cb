package handlers

import (
	"github.com/gin-gonic/gin"

	"github.com/opsboard/opsboard/internal/apikeys"
	"github.com/opsboard/opsboard/internal/rbac"
)

// Context keys set by the router middleware.
const (
	CtxUserID           = "userID"
	CtxUserEmail        = "userEmail"
	CtxUserRole         = "userRole"
	CtxOrganizationID   = "organizationID"
	CtxOrganizationRole = "organizationRole"
	CtxAPIKey           = "apiKeyContext"
	CtxRequestID        = "requestID"
)

// currentUserID returns the authenticated user's ID, or zero.
func currentUserID(c *gin.Context) uint64 {
	return c.GetUint64(CtxUserID)
}

// currentUserEmail returns the authenticated user's email.
func currentUserEmail(c *gin.Context) string {
	return c.GetString(CtxUserEmail)
}

// currentUserContext assembles the policy identity from whatever the
// middleware chain resolved. Organization fields are zero unless an
// organization middleware ran.
func currentUserContext(c *gin.Context) rbac.UserContext {
	ctx := rbac.UserContext{UserID: c.GetUint64(CtxUserID)}
	if role, ok := c.Get(CtxUserRole); ok {
		if typed, okCast := role.(rbac.UserRole); okCast {
			ctx.Role = typed
		}
	}
	ctx.OrganizationID = c.GetUint64(CtxOrganizationID)
	if role, ok := c.Get(CtxOrganizationRole); ok {
		if typed, okCast := role.(rbac.OrganizationRole); okCast {
			ctx.OrganizationRole = typed
		}
	}
	return ctx
}

// currentAPIKey returns the API key identity set by the key middleware.
func currentAPIKey(c *gin.Context) (apikeys.Context, bool) {
	value, ok := c.Get(CtxAPIKey)
	if !ok {
		return apikeys.Context{}, false
	}
	typed, okCast := value.(apikeys.Context)
	return typed, okCast
}

// requestMeta extracts the caller address and user agent for audit rows.
func requestMeta(c *gin.Context) (string, string) {
	return c.ClientIP(), c.Request.UserAgent()
}
