package handlers

import (
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/opsboard/opsboard/internal/models"
)

// SubscriptionHandler exposes read-only billing state. Writes come from
// the payments provider sync, never from here.
type SubscriptionHandler struct {
	db *gorm.DB
}

// NewSubscriptionHandler constructs a SubscriptionHandler.
func NewSubscriptionHandler(db *gorm.DB) *SubscriptionHandler {
	return &SubscriptionHandler{db: db}
}

// Get returns the caller's personal subscription.
func (h *SubscriptionHandler) Get(c *gin.Context) {
	var sub models.Subscription
	errFind := h.db.WithContext(c.Request.Context()).
		Where("user_id = ?", currentUserID(c)).
		Order("created_at DESC").
		First(&sub).Error
	h.respond(c, sub, errFind)
}

// GetForOrganization returns the subscription of the organization the
// membership middleware resolved.
func (h *SubscriptionHandler) GetForOrganization(c *gin.Context) {
	var sub models.Subscription
	errFind := h.db.WithContext(c.Request.Context()).
		Where("organization_id = ?", c.GetUint64(CtxOrganizationID)).
		Order("created_at DESC").
		First(&sub).Error
	h.respond(c, sub, errFind)
}

func (h *SubscriptionHandler) respond(c *gin.Context, sub models.Subscription, errFind error) {
	if errFind != nil {
		if errors.Is(errFind, gorm.ErrRecordNotFound) {
			c.JSON(http.StatusNotFound, gin.H{"error": "no subscription"})
			return
		}
		c.JSON(http.StatusInternalServerError, gin.H{"error": "load subscription failed"})
		return
	}
	c.JSON(http.StatusOK, gin.H{"subscription": gin.H{
		"id":                   sub.ID,
		"status":               sub.Status,
		"product_id":           sub.ProductID,
		"amount":               sub.Amount,
		"currency":             sub.Currency,
		"recurring_interval":   sub.RecurringInterval,
		"cancel_at_period_end": sub.CancelAtPeriodEnd,
		"current_period_start": sub.CurrentPeriodStart,
		"current_period_end":   sub.CurrentPeriodEnd,
		"canceled_at":          sub.CanceledAt,
	}})
}
