// Package twofactor implements the TOTP second-factor lifecycle: secret
// provisioning, enablement by a first valid code, verification with
// single-use backup codes, and teardown.
package twofactor

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opsboard/opsboard/internal/models"
	"github.com/opsboard/opsboard/internal/security"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"gorm.io/gorm"
)

// Issuer names this service in authenticator apps.
const Issuer = "Opsboard"

// backupCodeCount is how many single-use codes a setup issues.
const backupCodeCount = 10

// totpSkew is the clock-drift tolerance in 30-second steps on either side.
const totpSkew = 2

var (
	// ErrAlreadyEnabled rejects a Setup while 2FA is active.
	ErrAlreadyEnabled = errors.New("twofactor: already enabled")
	// ErrNotProvisioned rejects an Enable without a prior Setup.
	ErrNotProvisioned = errors.New("twofactor: not provisioned")
	// ErrNotEnabled rejects operations that require active 2FA.
	ErrNotEnabled = errors.New("twofactor: not enabled")
)

// Setup is the one-time response of a provisioning call. The secret and
// backup codes are shown exactly once.
type Setup struct {
	Secret          string
	ProvisioningURI string
	BackupCodes     []string
}

// Verification is the outcome of a second-factor check.
type Verification struct {
	Valid          bool
	BackupCodeUsed bool
}

// Status reports enablement without exposing the secret or codes.
type Status struct {
	Enabled              bool
	BackupCodesRemaining int
}

// Engine owns two-factor state. One record per user; a record with
// Enabled=false is provisioned but not yet confirmed.
type Engine struct {
	db *gorm.DB
}

// NewEngine constructs an Engine.
func NewEngine(db *gorm.DB) *Engine {
	return &Engine{db: db}
}

// Setup provisions (or re-provisions) a user's second factor: fresh secret,
// fresh backup codes, enabled=false. Calling it again before enablement
// rotates the pending secret.
func (e *Engine) Setup(ctx context.Context, userID uint64, email string) (*Setup, error) {
	key, errGenerate := totp.Generate(totp.GenerateOpts{
		Issuer:      Issuer,
		AccountName: email,
		SecretSize:  32,
	})
	if errGenerate != nil {
		return nil, fmt.Errorf("twofactor setup: %w", errGenerate)
	}

	codes, errCodes := security.GenerateBackupCodes(backupCodeCount)
	if errCodes != nil {
		return nil, fmt.Errorf("twofactor setup: %w", errCodes)
	}

	now := time.Now().UTC()
	var existing models.TwoFactorAuth
	errFind := e.db.WithContext(ctx).Where("user_id = ?", userID).First(&existing).Error
	switch {
	case errFind == nil:
		if existing.Enabled {
			return nil, ErrAlreadyEnabled
		}
		if errUpdate := e.db.WithContext(ctx).Model(&models.TwoFactorAuth{}).
			Where("id = ?", existing.ID).
			Updates(map[string]any{
				"secret":       key.Secret(),
				"backup_codes": models.StringList(codes),
				"enabled":      false,
				"updated_at":   now,
			}).Error; errUpdate != nil {
			return nil, fmt.Errorf("twofactor setup: %w", errUpdate)
		}
	case errors.Is(errFind, gorm.ErrRecordNotFound):
		record := models.TwoFactorAuth{
			UserID:      userID,
			Secret:      key.Secret(),
			BackupCodes: models.StringList(codes),
			Enabled:     false,
		}
		if errCreate := e.db.WithContext(ctx).Create(&record).Error; errCreate != nil {
			return nil, fmt.Errorf("twofactor setup: %w", errCreate)
		}
	default:
		return nil, fmt.Errorf("twofactor setup: %w", errFind)
	}

	return &Setup{
		Secret:          key.Secret(),
		ProvisioningURI: key.URL(),
		BackupCodes:     codes,
	}, nil
}

// Enable confirms a provisioned secret with a first valid code and flips
// the record to enabled. A missing record or invalid code leaves state
// unchanged and returns false.
func (e *Engine) Enable(ctx context.Context, userID uint64, code string) (bool, error) {
	var record models.TwoFactorAuth
	errFind := e.db.WithContext(ctx).
		Where("user_id = ? AND enabled = ?", userID, false).
		First(&record).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return false, ErrNotProvisioned
		}
		return false, fmt.Errorf("twofactor enable: %w", errFind)
	}

	if !validateTOTP(code, record.Secret) {
		return false, nil
	}

	if errUpdate := e.db.WithContext(ctx).Model(&models.TwoFactorAuth{}).
		Where("id = ?", record.ID).
		Updates(map[string]any{"enabled": true, "updated_at": time.Now().UTC()}).Error; errUpdate != nil {
		return false, fmt.Errorf("twofactor enable: %w", errUpdate)
	}
	return true, nil
}

// Verify checks a submitted value against an enabled record: a remaining
// backup code is consumed and flagged, otherwise the value is tried as a
// TOTP code. No enabled record means verification fails outright.
func (e *Engine) Verify(ctx context.Context, userID uint64, code string) (Verification, error) {
	var record models.TwoFactorAuth
	errFind := e.db.WithContext(ctx).
		Where("user_id = ? AND enabled = ?", userID, true).
		First(&record).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return Verification{}, nil
		}
		return Verification{}, fmt.Errorf("twofactor verify: %w", errFind)
	}

	normalized := security.NormalizeBackupCode(code)
	if models.ContainsString(record.BackupCodes, normalized) {
		remaining := models.WithoutString(record.BackupCodes, normalized)
		if errUpdate := e.db.WithContext(ctx).Model(&models.TwoFactorAuth{}).
			Where("id = ?", record.ID).
			Updates(map[string]any{"backup_codes": remaining, "updated_at": time.Now().UTC()}).Error; errUpdate != nil {
			return Verification{}, fmt.Errorf("twofactor verify: %w", errUpdate)
		}
		return Verification{Valid: true, BackupCodeUsed: true}, nil
	}

	return Verification{Valid: validateTOTP(code, record.Secret)}, nil
}

// Disable removes the user's record entirely, returning whether one
// existed. Re-enabling requires a fresh Setup, so a retired secret is never
// reused.
func (e *Engine) Disable(ctx context.Context, userID uint64) (bool, error) {
	res := e.db.WithContext(ctx).Where("user_id = ?", userID).Delete(&models.TwoFactorAuth{})
	if res.Error != nil {
		return false, fmt.Errorf("twofactor disable: %w", res.Error)
	}
	return res.RowsAffected > 0, nil
}

// Status reports the enabled flag and remaining backup-code count.
func (e *Engine) Status(ctx context.Context, userID uint64) (Status, error) {
	var record models.TwoFactorAuth
	errFind := e.db.WithContext(ctx).Where("user_id = ?", userID).First(&record).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return Status{}, nil
		}
		return Status{}, fmt.Errorf("twofactor status: %w", errFind)
	}
	return Status{
		Enabled:              record.Enabled,
		BackupCodesRemaining: len(record.BackupCodes),
	}, nil
}

// IsEnabled reports whether the user has a confirmed second factor.
func (e *Engine) IsEnabled(ctx context.Context, userID uint64) (bool, error) {
	status, err := e.Status(ctx, userID)
	if err != nil {
		return false, err
	}
	return status.Enabled, nil
}

// RegenerateBackupCodes replaces the remaining codes with a fresh set and
// returns them once. 2FA must be enabled.
func (e *Engine) RegenerateBackupCodes(ctx context.Context, userID uint64) ([]string, error) {
	var record models.TwoFactorAuth
	errFind := e.db.WithContext(ctx).Where("user_id = ?", userID).First(&record).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrNotEnabled
		}
		return nil, fmt.Errorf("twofactor regenerate: %w", errFind)
	}
	if !record.Enabled {
		return nil, ErrNotEnabled
	}

	codes, errCodes := security.GenerateBackupCodes(backupCodeCount)
	if errCodes != nil {
		return nil, fmt.Errorf("twofactor regenerate: %w", errCodes)
	}
	if errUpdate := e.db.WithContext(ctx).Model(&models.TwoFactorAuth{}).
		Where("id = ?", record.ID).
		Updates(map[string]any{"backup_codes": models.StringList(codes), "updated_at": time.Now().UTC()}).Error; errUpdate != nil {
		return nil, fmt.Errorf("twofactor regenerate: %w", errUpdate)
	}
	return codes, nil
}

// validateTOTP checks a 6-digit code against the secret with the standard
// 30-second step and a ±2 step tolerance window.
func validateTOTP(code, secret string) bool {
	valid, errValidate := totp.ValidateCustom(code, secret, time.Now().UTC(), totp.ValidateOpts{
		Period:    30,
		Skew:      totpSkew,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return errValidate == nil && valid
}
