// Package apikeys manages the lifecycle of bearer API credentials: secrets
// are generated once, stored only as SHA-256 digests, and validated by hash
// lookup.
package apikeys

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/opsboard/opsboard/internal/models"
	"github.com/opsboard/opsboard/internal/security"
	log "github.com/sirupsen/logrus"
	"gorm.io/gorm"
)

// ErrNotFound indicates the key id is unknown.
var ErrNotFound = errors.New("api key not found")

// ErrInvalidKey indicates a presented key failed validation. Unknown,
// inactive and expired keys collapse into this one error so callers cannot
// probe which condition triggered it.
var ErrInvalidKey = errors.New("invalid api key")

// Context is the restricted identity an accepted API key yields.
type Context struct {
	APIKeyID       uint64
	UserID         uint64
	OrganizationID *uint64
	Permissions    []string
}

// HasPermission checks the key's own permission list: exact match,
// `resource:*`, or the universal `*:*` grant.
func (c Context) HasPermission(resource, action string) bool {
	exact := resource + ":" + action
	wildcard := resource + ":*"
	for _, perm := range c.Permissions {
		if perm == exact || perm == wildcard || perm == "*:*" {
			return true
		}
	}
	return false
}

// CreateParams holds inputs for API key creation.
type CreateParams struct {
	Name           string
	UserID         uint64
	OrganizationID *uint64
	Permissions    []string
	ExpiresAt      *time.Time
}

// UpdateParams holds optional API key mutations; nil fields are untouched.
type UpdateParams struct {
	Name        *string
	Permissions []string
	Active      *bool
	ExpiresAt   *time.Time
}

// Manager owns API key persistence. Ownership checks are the caller's
// responsibility; once invoked, mutations are unconditional.
type Manager struct {
	db *gorm.DB
}

// NewManager constructs a Manager.
func NewManager(db *gorm.DB) *Manager {
	return &Manager{db: db}
}

// Create persists a hashed key record and returns the one-time plaintext
// alongside the stored row. The hash never leaves this package's row type
// except through the model itself; handlers must redact it.
func (m *Manager) Create(ctx context.Context, params CreateParams) (string, *models.APIKey, error) {
	plaintext, errGenerate := security.GenerateAPIKey()
	if errGenerate != nil {
		return "", nil, fmt.Errorf("create api key: %w", errGenerate)
	}

	row := models.APIKey{
		Name:           params.Name,
		HashedKey:      security.HashAPIKey(plaintext),
		UserID:         params.UserID,
		OrganizationID: params.OrganizationID,
		Permissions:    models.CleanStrings(params.Permissions),
		ExpiresAt:      params.ExpiresAt,
		Active:         true,
	}
	if errCreate := m.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
		return "", nil, fmt.Errorf("create api key: %w", errCreate)
	}
	return plaintext, &row, nil
}

// Validate resolves a presented plaintext into a key context. The prefix is
// checked before hashing; missing, inactive and expired keys all return
// ErrInvalidKey. The last-used timestamp update is best-effort and does not
// gate the authorization decision.
func (m *Manager) Validate(ctx context.Context, plaintext string) (*Context, error) {
	if !security.HasAPIKeyPrefix(plaintext) {
		return nil, ErrInvalidKey
	}

	var row models.APIKey
	errFind := m.db.WithContext(ctx).
		Where("hashed_key = ? AND active = ?", security.HashAPIKey(plaintext), true).
		First(&row).Error
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrInvalidKey
		}
		return nil, fmt.Errorf("validate api key: %w", errFind)
	}

	if row.ExpiresAt != nil && row.ExpiresAt.Before(time.Now().UTC()) {
		return nil, ErrInvalidKey
	}

	now := time.Now().UTC()
	if errTouch := m.db.WithContext(ctx).Model(&models.APIKey{}).
		Where("id = ?", row.ID).
		Update("last_used_at", &now).Error; errTouch != nil {
		log.WithError(errTouch).WithField("api_key_id", row.ID).Warn("update api key last_used_at failed")
	}

	return &Context{
		APIKeyID:       row.ID,
		UserID:         row.UserID,
		OrganizationID: row.OrganizationID,
		Permissions:    append([]string(nil), row.Permissions...),
	}, nil
}

// Rotate replaces the secret of an existing key in place. The old plaintext
// stops validating immediately; the new plaintext is returned once.
func (m *Manager) Rotate(ctx context.Context, id uint64) (string, *models.APIKey, error) {
	var row models.APIKey
	if errFind := m.db.WithContext(ctx).First(&row, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return "", nil, ErrNotFound
		}
		return "", nil, fmt.Errorf("rotate api key: %w", errFind)
	}

	plaintext, errGenerate := security.GenerateAPIKey()
	if errGenerate != nil {
		return "", nil, fmt.Errorf("rotate api key: %w", errGenerate)
	}

	row.HashedKey = security.HashAPIKey(plaintext)
	row.UpdatedAt = time.Now().UTC()
	if errSave := m.db.WithContext(ctx).Model(&models.APIKey{}).
		Where("id = ?", row.ID).
		Updates(map[string]any{
			"hashed_key": row.HashedKey,
			"updated_at": row.UpdatedAt,
		}).Error; errSave != nil {
		return "", nil, fmt.Errorf("rotate api key: %w", errSave)
	}
	return plaintext, &row, nil
}

// Update applies partial mutations to a key.
func (m *Manager) Update(ctx context.Context, id uint64, params UpdateParams) (*models.APIKey, error) {
	updates := map[string]any{"updated_at": time.Now().UTC()}
	if params.Name != nil {
		updates["name"] = *params.Name
	}
	if params.Permissions != nil {
		updates["permissions"] = models.CleanStrings(params.Permissions)
	}
	if params.Active != nil {
		updates["active"] = *params.Active
	}
	if params.ExpiresAt != nil {
		updates["expires_at"] = params.ExpiresAt
	}

	res := m.db.WithContext(ctx).Model(&models.APIKey{}).Where("id = ?", id).Updates(updates)
	if res.Error != nil {
		return nil, fmt.Errorf("update api key: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, ErrNotFound
	}
	return m.GetByID(ctx, id)
}

// Delete removes a key permanently.
func (m *Manager) Delete(ctx context.Context, id uint64) error {
	res := m.db.WithContext(ctx).Delete(&models.APIKey{}, id)
	if res.Error != nil {
		return fmt.Errorf("delete api key: %w", res.Error)
	}
	if res.RowsAffected == 0 {
		return ErrNotFound
	}
	return nil
}

// GetByID loads one key row.
func (m *Manager) GetByID(ctx context.Context, id uint64) (*models.APIKey, error) {
	var row models.APIKey
	if errFind := m.db.WithContext(ctx).First(&row, id).Error; errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("get api key: %w", errFind)
	}
	return &row, nil
}

// ListByUser returns all keys owned by a user, newest first.
func (m *Manager) ListByUser(ctx context.Context, userID uint64) ([]models.APIKey, error) {
	var rows []models.APIKey
	if errFind := m.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("list api keys: %w", errFind)
	}
	return rows, nil
}

// ListByOrganization returns all keys scoped to an organization.
func (m *Manager) ListByOrganization(ctx context.Context, organizationID uint64) ([]models.APIKey, error) {
	var rows []models.APIKey
	if errFind := m.db.WithContext(ctx).
		Where("organization_id = ?", organizationID).
		Order("created_at DESC").
		Find(&rows).Error; errFind != nil {
		return nil, fmt.Errorf("list api keys: %w", errFind)
	}
	return rows, nil
}
