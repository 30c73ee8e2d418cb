package models

import (
	"time"

	"github.com/opsboard/opsboard/internal/rbac"
)

// OrganizationInvite is a pending join request keyed by a single-use token.
// Expired invites are inert even when unaccepted.
type OrganizationInvite struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	OrganizationID uint64       `gorm:"not null;index"`            // Target organization ID.
	Organization   Organization `gorm:"foreignKey:OrganizationID"` // Target organization.

	Email string                `gorm:"type:text;not null"`                  // Invited email address.
	Role  rbac.OrganizationRole `gorm:"type:text;not null;default:'member'"` // Proposed tenant role.

	InvitedBy uint64 `gorm:"not null"`             // Inviting user ID.
	Inviter   User   `gorm:"foreignKey:InvitedBy"` // Inviting user.

	Token      string     `gorm:"type:text;not null;uniqueIndex"` // Single-use invite token.
	ExpiresAt  time.Time  `gorm:"not null"`                       // Invite expiry.
	Accepted   bool       `gorm:"not null;default:false"`         // Acceptance flag.
	AcceptedAt *time.Time ``                                      // Acceptance timestamp.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
}
