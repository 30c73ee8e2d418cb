package models

import "time"

// APIKey is a long-lived bearer credential. Only a one-way hash of the
// secret is stored; the plaintext is transmitted once at create and rotate.
type APIKey struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name      string `gorm:"type:text;not null"`             // Display name.
	HashedKey string `gorm:"type:text;not null;uniqueIndex"` // SHA-256 of the secret.

	UserID uint64 `gorm:"not null;index"`    // Owning user ID.
	User   User   `gorm:"foreignKey:UserID"` // Owning user.

	OrganizationID *uint64       `gorm:"index"`                     // Optional organization scope.
	Organization   *Organization `gorm:"foreignKey:OrganizationID"` // Optional organization.

	Permissions StringList `gorm:"type:jsonb;not null;default:'[]'"` // resource:action grants.

	LastUsedAt *time.Time ``                             // Last successful validation.
	ExpiresAt  *time.Time ``                             // Optional expiry.
	Active     bool       `gorm:"not null;default:true"` // Whether the key validates.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
