package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/opsboard/opsboard/internal/audit"
	"github.com/opsboard/opsboard/internal/ratelimit"
	"github.com/opsboard/opsboard/internal/twofactor"
)

// TwoFactorHandler manages TOTP enrollment and verification for the
// authenticated user.
type TwoFactorHandler struct {
	engine  *twofactor.Engine
	limiter *ratelimit.Limiter
	audit   *audit.Recorder
}

// NewTwoFactorHandler constructs a TwoFactorHandler.
func NewTwoFactorHandler(db *gorm.DB) *TwoFactorHandler {
	return &TwoFactorHandler{
		engine:  twofactor.NewEngine(db),
		limiter: ratelimit.NewLimiter(db),
		audit:   audit.NewRecorder(db),
	}
}

// Setup provisions a fresh secret and backup codes. The response is the
// only time either is shown.
func (h *TwoFactorHandler) Setup(c *gin.Context) {
	userID := currentUserID(c)
	setup, errSetup := h.engine.Setup(c.Request.Context(), userID, currentUserEmail(c))
	if errSetup != nil {
		if errors.Is(errSetup, twofactor.ErrAlreadyEnabled) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "two-factor authentication is already enabled"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "setup failed"})
		return
	}

	ip, ua := requestMeta(c)
	h.audit.Record(c.Request.Context(), audit.Entry{
		UserID:    &userID,
		Action:    audit.ActionTwoFactorSetup,
		Resource:  audit.ResourceTwoFactor,
		IPAddress: ip,
		UserAgent: ua,
	})
	c.JSON(http.StatusOK, gin.H{
		"secret":           setup.Secret,
		"provisioning_uri": setup.ProvisioningURI,
		"backup_codes":     setup.BackupCodes,
	})
}

type verifyRequest struct {
	Code string `json:"code"`
}

// Verify checks a code. For a provisioned-but-unconfirmed secret a valid
// code flips 2FA on; for an enabled one it is a plain verification.
// Failures count against the 2FA rate limit either way.
func (h *TwoFactorHandler) Verify(c *gin.Context) {
	var body verifyRequest
	if errBind := c.ShouldBindJSON(&body); errBind != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid json"})
		return
	}
	if body.Code == "" {
		c.JSON(http.StatusBadRequest, gin.H{"error": "missing code"})
		return
	}
	userID := currentUserID(c)
	ip, ua := requestMeta(c)

	result, errCheck := h.limiter.Check(c.Request.Context(), userID, ratelimit.TwoFactorRateLimit)
	if errCheck != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
		return
	}
	if !result.Allowed {
		rateLimited(c, result)
		return
	}

	status, errStatus := h.engine.Status(c.Request.Context(), userID)
	if errStatus != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
		return
	}

	if !status.Enabled {
		enabled, errEnable := h.engine.Enable(c.Request.Context(), userID, body.Code)
		if errEnable != nil {
			if errors.Is(errEnable, twofactor.ErrNotProvisioned) {
				c.JSON(http.StatusBadRequest, gin.H{"error": "two-factor authentication has not been set up"})
				return
			}
			c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
			return
		}
		if !enabled {
			h.recordFailure(c, userID)
			return
		}
		if errReset := h.limiter.Reset(c.Request.Context(), userID); errReset != nil {
			c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
			return
		}
		h.audit.Record(c.Request.Context(), audit.Entry{
			UserID:    &userID,
			Action:    audit.ActionTwoFactorEnable,
			Resource:  audit.ResourceTwoFactor,
			IPAddress: ip,
			UserAgent: ua,
		})
		c.JSON(http.StatusOK, gin.H{"enabled": true})
		return
	}

	verification, errVerify := h.engine.Verify(c.Request.Context(), userID, body.Code)
	if errVerify != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
		return
	}
	if !verification.Valid {
		h.recordFailure(c, userID)
		return
	}
	if errReset := h.limiter.Reset(c.Request.Context(), userID); errReset != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
		return
	}
	h.audit.Record(c.Request.Context(), audit.Entry{
		UserID:    &userID,
		Action:    audit.ActionTwoFactorVerify,
		Resource:  audit.ResourceTwoFactor,
		IPAddress: ip,
		UserAgent: ua,
	})
	c.JSON(http.StatusOK, gin.H{
		"valid":            true,
		"backup_code_used": verification.BackupCodeUsed,
	})
}

// recordFailure applies the rate limit to an invalid code and writes the
// matching response.
func (h *TwoFactorHandler) recordFailure(c *gin.Context, userID uint64) {
	failed, errRecord := h.limiter.RecordFailure(c.Request.Context(), userID, ratelimit.TwoFactorRateLimit)
	if errRecord != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "verification failed"})
		return
	}
	if failed.IsLocked {
		ip, ua := requestMeta(c)
		h.audit.Record(c.Request.Context(), audit.Entry{
			UserID:    &userID,
			Action:    audit.ActionAccountLocked,
			Resource:  audit.ResourceUser,
			IPAddress: ip,
			UserAgent: ua,
		})
		rateLimited(c, failed)
		return
	}
	c.JSON(http.StatusBadRequest, gin.H{
		"error":     ratelimit.ErrorMessage(failed),
		"remaining": failed.Remaining,
	})
}

// Disable turns 2FA off and discards the secret and backup codes.
func (h *TwoFactorHandler) Disable(c *gin.Context) {
	userID := currentUserID(c)
	existed, errDisable := h.engine.Disable(c.Request.Context(), userID)
	if errDisable != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "disable failed"})
		return
	}
	if existed {
		ip, ua := requestMeta(c)
		h.audit.Record(c.Request.Context(), audit.Entry{
			UserID:    &userID,
			Action:    audit.ActionTwoFactorDisable,
			Resource:  audit.ResourceTwoFactor,
			IPAddress: ip,
			UserAgent: ua,
		})
	}
	c.JSON(http.StatusOK, gin.H{"disabled": existed})
}

// Status reports enablement and the remaining backup code count.
func (h *TwoFactorHandler) Status(c *gin.Context) {
	status, errStatus := h.engine.Status(c.Request.Context(), currentUserID(c))
	if errStatus != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "status failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"enabled":                status.Enabled,
		"backup_codes_remaining": status.BackupCodesRemaining,
	})
}

// RegenerateBackupCodes replaces the backup code set. The new codes are
// shown once.
func (h *TwoFactorHandler) RegenerateBackupCodes(c *gin.Context) {
	userID := currentUserID(c)
	codes, errRegen := h.engine.RegenerateBackupCodes(c.Request.Context(), userID)
	if errRegen != nil {
		if errors.Is(errRegen, twofactor.ErrNotEnabled) {
			c.JSON(http.StatusBadRequest, gin.H{"error": "two-factor authentication is not enabled"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "regenerate failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"backup_codes": codes})
}
