package models

import (
	"time"

	"gorm.io/datatypes"
)

// AuditLog is an append-only record of a security-relevant action. Rows are
// never updated or deleted by the application.
type AuditLog struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	UserID         *uint64 `gorm:"index"` // Acting user ID, nil for system actions.
	OrganizationID *uint64 `gorm:"index"` // Organization scope, if any.

	Action     string `gorm:"type:text;not null;index"` // Action name, e.g. login_failed.
	Resource   string `gorm:"type:text;not null"`       // Resource kind, e.g. apiKey.
	ResourceID string `gorm:"type:text"`                // Affected resource identifier.

	Details datatypes.JSON `gorm:"type:jsonb"` // Free-form action detail.

	IPAddress string `gorm:"type:text"` // Caller IP.
	UserAgent string `gorm:"type:text"` // Caller user agent.

	CreatedAt time.Time `gorm:"not null;autoCreateTime;index"` // Event timestamp.
}
