package models

import (
	"time"

	"github.com/opsboard/opsboard/internal/rbac"
)

// User represents an account stored in the database. The login attempt
// counter and lockout columns are owned by the rate limiter.
type User struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Email    string `gorm:"type:text;not null;uniqueIndex"` // Unique login email.
	Name     string `gorm:"type:text;not null"`             // Display name.
	Password string `gorm:"type:text;not null"`             // Hashed password.

	Role   rbac.UserRole `gorm:"type:text;not null;default:'user'"` // Global role.
	Active bool          `gorm:"not null;default:true"`             // Whether the user can sign in.

	LoginAttempts     int        `gorm:"not null;default:0"` // Failed attempts in the current window.
	LastFailedAttempt *time.Time ``                          // Timestamp of the last failure.
	LockedUntil       *time.Time ``                          // Lockout expiry, nil when unlocked.

	Memberships []OrganizationMember `gorm:"foreignKey:UserID"` // Related memberships.
	APIKeys     []APIKey             `gorm:"foreignKey:UserID"` // Related API keys.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
