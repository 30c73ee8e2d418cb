package handlers

import (
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/opsboard/opsboard/internal/audit"
	"github.com/opsboard/opsboard/internal/config"
	"github.com/opsboard/opsboard/internal/models"
	"github.com/opsboard/opsboard/internal/ratelimit"
	"github.com/opsboard/opsboard/internal/rbac"
	"github.com/opsboard/opsboard/internal/security"
	"github.com/opsboard/opsboard/internal/twofactor"
)

// AuthHandler manages signup and the login flow, including the second
// factor step for users with 2FA enabled.
type AuthHandler struct {
	db        *gorm.DB
	jwtCfg    config.JWTConfig
	twoFactor *twofactor.Engine
	limiter   *ratelimit.Limiter
	audit     *audit.Recorder
}

// NewAuthHandler constructs an AuthHandler.
func NewAuthHandler(db *gorm.DB, jwtCfg config.JWTConfig) *AuthHandler {
	return &AuthHandler{
		db:        db,
		jwtCfg:    jwtCfg,
		twoFactor: twofactor.NewEngine(db),
		limiter:   ratelimit.NewLimiter(db),
		audit:     audit.NewRecorder(db),
	}
}

type signupRequest struct {
	Email    string `json:"email"`
	Name     string `json:"name"`
	Password string `json:"password"`
}

// Signup registers a new account and issues a session token.
func (h *AuthHandler) Signup(c *gin.Context) {
	var body signupRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	email := strings.ToLower(strings.TrimSpace(body.Email))
	name := strings.TrimSpace(body.Name)
	if email == "" || !strings.Contains(email, "@") {
		c.JSON(http.StatusBadRequest, gin.H{"error": "valid email is required"})
		return
	}
	if name == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing name"})
		return
	}
	if len(body.Password) < 8 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "password must be at least 8 characters"})
		return
	}

	var existing int64
	if errCount := h.db.WithContext(c.Request.Context()).Model(&models.User{}).Where("email = ?", email).Count(&existing).Error; errCount != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signup failed"})
		return
	}
	if existing > 0 {
		c.JSON(http.StatusBadRequest, gin.H{"error": "email already registered"})
		return
	}

	hash, errHash := security.HashPassword(body.Password)
	if errHash != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signup failed"})
		return
	}
	user := models.User{
		Email:    email,
		Name:     name,
		Password: hash,
		Role:     rbac.RoleUser,
		Active:   true,
	}
	if errCreate := h.db.WithContext(c.Request.Context()).Create(&user).Error; errCreate != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signup failed"})
		return
	}

	ip, ua := requestMeta(c)
	h.audit.Record(c.Request.Context(), audit.Entry{
		UserID:    &user.ID,
		Action:    audit.ActionUserCreate,
		Resource:  audit.ResourceUser,
		IPAddress: ip,
		UserAgent: ua,
	})

	token, errSign := security.SignSessionToken(h.jwtCfg.Secret, user.ID, user.Email, user.Role, h.jwtCfg.Expiry)
	if errSign != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "signup failed"})
		return
	}
	c.JSON(http.StatusCreated, gin.H{
		"token": token,
		"user":  userResponse(user),
	})
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// Login checks the password and either issues a session token or, when the
// account has 2FA enabled, a short-lived token that only unlocks the
// second factor step.
func (h *AuthHandler) Login(c *gin.Context) {
	var body loginRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	email := strings.ToLower(strings.TrimSpace(body.Email))
	ip, ua := requestMeta(c)

	var user models.User
	errFind := h.db.WithContext(c.Request.Context()).Where("email = ?", email).First(&user).Error
	if errFind != nil {
		if !errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}
	if !user.Active {
		c.JSON(http.StatusForbidden, gin.H{"error": "account disabled"})
		return
	}
	if !security.CheckPassword(user.Password, body.Password) {
		h.audit.Record(c.Request.Context(), audit.Entry{
			UserID:    &user.ID,
			Action:    audit.ActionLoginFailed,
			Resource:  audit.ResourceUser,
			IPAddress: ip,
			UserAgent: ua,
		})
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid credentials"})
		return
	}

	enabled, errEnabled := h.twoFactor.IsEnabled(c.Request.Context(), user.ID)
	if errEnabled != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	if enabled {
		pending, errSign := security.SignTwoFactorPendingToken(h.jwtCfg.Secret, user.ID, user.Email, user.Role)
		if errSign != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"two_factor_required": true,
			"token":               pending,
		})
		return
	}

	token, errSign := security.SignSessionToken(h.jwtCfg.Secret, user.ID, user.Email, user.Role, h.jwtCfg.Expiry)
	if errSign != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "login failed"})
		return
	}
	h.audit.Record(c.Request.Context(), audit.Entry{
		UserID:    &user.ID,
		Action:    audit.ActionLogin,
		Resource:  audit.ResourceUser,
		IPAddress: ip,
		UserAgent: ua,
	})
	c.JSON(http.StatusOK, gin.H{
		"token": token,
		"user":  userResponse(user),
	})
}

type loginTwoFactorRequest struct {
	Token string `json:"token"`
	Code  string `json:"code"`
}

// LoginTwoFactor exchanges a pending token plus a valid second factor for
// a full session token. Failures count against the 2FA rate limit.
func (h *AuthHandler) LoginTwoFactor(c *gin.Context) {
	var body loginTwoFactorRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	claims, errParse := security.ParseSessionToken(h.jwtCfg.Secret, body.Token)
	if errParse != nil || !claims.TwoFactorPending {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	ip, ua := requestMeta(c)

	result, errCheck := h.limiter.Check(c.Request.Context(), claims.UserID, ratelimit.TwoFactorRateLimit)
	if errCheck != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
		return
	}
	if !result.Allowed {
		rateLimited(c, result)
		return
	}

	verification, errVerify := h.twoFactor.Verify(c.Request.Context(), claims.UserID, body.Code)
	if errVerify != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
		return
	}
	if !verification.Valid {
		failed, errRecord := h.limiter.RecordFailure(c.Request.Context(), claims.UserID, ratelimit.TwoFactorRateLimit)
		if errRecord != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
			return
		}
		if failed.IsLocked {
			h.audit.Record(c.Request.Context(), audit.Entry{
				UserID:    &claims.UserID,
				Action:    audit.ActionAccountLocked,
				Resource:  audit.ResourceUser,
				IPAddress: ip,
				UserAgent: ua,
			})
			rateLimited(c, failed)
			return
		}
		c.JSON(http.StatusUnauthorized, gin.H{
			"error":     ratelimit.ErrorMessage(failed),
			"remaining": failed.Remaining,
		})
		return
	}

	if errReset := h.limiter.Reset(c.Request.Context(), claims.UserID); errReset != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
		return
	}

	var user models.User
	if errFind := h.db.WithContext(c.Request.Context()).First(&user, claims.UserID).Error; errFind != nil {
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid token"})
		return
	}
	if !user.Active {
		c.JSON(http.StatusForbidden, gin.H{"error": "account disabled"})
		return
	}

	token, errSign := security.SignSessionToken(h.jwtCfg.Secret, user.ID, user.Email, user.Role, h.jwtCfg.Expiry)
	if errSign != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
		return
	}
	details := map[string]any{"method": "totp"}
	if verification.BackupCodeUsed {
		details["method"] = "backup_code"
	}
	h.audit.Record(c.Request.Context(), audit.Entry{
		UserID:    &user.ID,
		Action:    audit.ActionLogin,
		Resource:  audit.ResourceUser,
		Details:   details,
		IPAddress: ip,
		UserAgent: ua,
	})
	c.JSON(http.StatusOK, gin.H{
		"token":            token,
		"backup_code_used": verification.BackupCodeUsed,
		"user":             userResponse(user),
	})
}

// rateLimited writes the shared 429 body.
func rateLimited(c *gin.Context, result ratelimit.Result) {
	body := gin.H{
		"error":     ratelimit.ErrorMessage(result),
		"locked":    result.IsLocked,
		"remaining": result.Remaining,
	}
	if result.LockedUntil != nil {
		body["locked_until"] = result.LockedUntil
	}
	c.JSON(http.StatusTooManyRequests, body)
}

// userResponse strips credential material from a user row.
func userResponse(user models.User) gin.H {
	return gin.H{
		"id":         user.ID,
		"email":      user.Email,
		"name":       user.Name,
		"role":       user.Role,
		"active":     user.Active,
		"created_at": user.CreatedAt,
	}
}
