package models

import "time"

// Organization is a named tenant.
type Organization struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	Name        string `gorm:"type:text;not null"`             // Display name.
	Slug        string `gorm:"type:text;not null;uniqueIndex"` // Unique URL slug.
	Description string `gorm:"type:text"`                      // Optional description.
	Logo        string `gorm:"type:text"`                      // Optional logo URL.
	Website     string `gorm:"type:text"`                      // Optional website URL.

	Active bool `gorm:"not null;default:true"` // Whether the tenant is active.

	Members []OrganizationMember `gorm:"foreignKey:OrganizationID"` // Related memberships.
	Invites []OrganizationInvite `gorm:"foreignKey:OrganizationID"` // Related invites.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
