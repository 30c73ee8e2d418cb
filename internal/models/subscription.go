package models

import "time"

// SubscriptionStatus is the billing lifecycle state reported by the
// payments provider. Values mirror the provider's vocabulary.
type SubscriptionStatus string

// Subscription statuses.
const (
	SubscriptionStatusActive   SubscriptionStatus = "active"
	SubscriptionStatusTrialing SubscriptionStatus = "trialing"
	SubscriptionStatusPastDue  SubscriptionStatus = "past_due"
	SubscriptionStatusCanceled SubscriptionStatus = "canceled"
)

// Subscription mirrors billing state synchronized by an external provider.
// This service only reads it.
type Subscription struct {
	ID uint64 `gorm:"primaryKey;autoIncrement"` // Primary key.

	ProviderID string `gorm:"type:text;not null;uniqueIndex"` // Provider-side subscription ID.
	ProductID  string `gorm:"type:text;not null"`             // Provider-side product ID.

	Status            SubscriptionStatus `gorm:"type:text;not null"`     // Lifecycle state.
	Amount            int64              `gorm:"not null;default:0"`     // Amount in minor units.
	Currency          string             `gorm:"type:text;not null"`     // ISO currency code.
	RecurringInterval string             `gorm:"type:text;not null"`     // month or year.
	CancelAtPeriodEnd bool               `gorm:"not null;default:false"` // Pending cancellation flag.

	CurrentPeriodStart time.Time  `gorm:"not null"` // Period start.
	CurrentPeriodEnd   time.Time  `gorm:"not null"` // Period end.
	CanceledAt         *time.Time ``                // Cancellation timestamp.

	UserID         *uint64 `gorm:"index"` // Owning user, if personal.
	OrganizationID *uint64 `gorm:"index"` // Owning organization, if tenant-wide.

	CreatedAt time.Time `gorm:"not null;autoCreateTime"` // Creation timestamp.
	UpdatedAt time.Time `gorm:"not null;autoUpdateTime"` // Last update timestamp.
}
