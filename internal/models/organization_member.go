package models

import (
	"time"

	"github.com/opsboard/opsboard/internal/rbac"
)

// OrganizationMember binds a user to an organization with a tenant role.
// An organization must always retain at least one owner member.
type OrganizationMember struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	OrganizationID uint64       `gorm:"not null;uniqueIndex:idx_org_members_org_user"` // Owning organization ID.
	Organization   Organization `gorm:"foreignKey:OrganizationID"`                     // Owning organization.

	UserID uint64 `gorm:"not null;uniqueIndex:idx_org_members_org_user"` // Member user ID.
	User   User   `gorm:"foreignKey:UserID"`                             // Member user.

	Role   rbac.OrganizationRole `gorm:"type:text;not null;default:'member'"` // Tenant role.
	Active bool                  `gorm:"not null;default:true"`               // Membership active flag.

	JoinedAt  time.Time `gorm:"not null;autoCreateTime"` // Join timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
