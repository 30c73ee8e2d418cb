package models

import "time"

// TwoFactorAuth holds a user's TOTP secret and single-use backup codes.
// A row with Enabled=false is provisioned but not yet confirmed.
type TwoFactorAuth struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID uint64 `gorm:"not null;uniqueIndex"` // Owning user ID, one row per user.
	User   User   `gorm:"foreignKey:UserID"`    // Owning user.

	Secret      string     `gorm:"type:text;not null"`               // Base32 shared secret.
	BackupCodes StringList `gorm:"type:jsonb;not null;default:'[]'"` // Remaining single-use codes.
	Enabled     bool       `gorm:"not null;default:false"`           // Confirmed by a first valid code.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
