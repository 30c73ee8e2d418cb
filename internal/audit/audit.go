// Package audit records security-relevant events to the audit_logs table.
// Recording is best effort; a failed insert is logged and swallowed so it
// never breaks the operation being audited.
package audit

import (
	"context"
	"encoding/json"
	"time"

	log "github.com/sirupsen/logrus"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/opsboard/opsboard/internal/models"
)

// Actions recorded in the audit trail.
const (
	ActionLogin          = "login"
	ActionLogout         = "logout"
	ActionLoginFailed    = "login_failed"
	ActionPasswordChange = "password_change"
	ActionPasswordReset  = "password_reset"

	ActionUserCreate     = "user_create"
	ActionUserUpdate     = "user_update"
	ActionUserDelete     = "user_delete"
	ActionUserActivate   = "user_activate"
	ActionUserDeactivate = "user_deactivate"

	ActionOrganizationCreate = "organization_create"
	ActionOrganizationUpdate = "organization_update"
	ActionOrganizationDelete = "organization_delete"
	ActionMemberAdd          = "member_add"
	ActionMemberRemove       = "member_remove"
	ActionMemberRoleChange   = "member_role_change"
	ActionInviteSend         = "invite_send"
	ActionInviteAccept       = "invite_accept"
	ActionInviteReject       = "invite_reject"

	ActionSubscriptionCreate = "subscription_create"
	ActionSubscriptionUpdate = "subscription_update"
	ActionSubscriptionCancel = "subscription_cancel"
	ActionSubscriptionRenew  = "subscription_renew"
	ActionPaymentSuccess     = "payment_success"
	ActionPaymentFailed      = "payment_failed"

	ActionAPIKeyCreate = "api_key_create"
	ActionAPIKeyUpdate = "api_key_update"
	ActionAPIKeyDelete = "api_key_delete"
	ActionAPIKeyRotate = "api_key_rotate"
	ActionAPIKeyUse    = "api_key_use"

	ActionTwoFactorEnable  = "two_fa_enable"
	ActionTwoFactorDisable = "two_fa_disable"
	ActionTwoFactorVerify  = "two_fa_verify"
	ActionTwoFactorSetup   = "two_fa_setup"
	ActionSecurityAlert    = "security_alert"
	ActionAccountLocked    = "account_locked"
	ActionAccountUnlocked  = "account_unlocked"
)

// Resources the actions apply to.
const (
	ResourceUser               = "user"
	ResourceOrganization       = "organization"
	ResourceOrganizationMember = "organization_member"
	ResourceOrganizationInvite = "organization_invite"
	ResourceSubscription       = "subscription"
	ResourceAPIKey             = "api_key"
	ResourceTwoFactor          = "two_fa"
	ResourceAuditLog           = "audit_log"
)

// Entry describes one event to record. UserID and OrganizationID are
// optional; a system event carries neither.
type Entry struct {
	UserID         *uint64
	OrganizationID *uint64
	Action         string
	Resource       string
	ResourceID     string
	Details        map[string]any
	IPAddress      string
	UserAgent      string
}

// Recorder writes audit entries.
type Recorder struct {
	db *gorm.DB
}

// NewRecorder constructs a Recorder on the given database handle.
func NewRecorder(conn *gorm.DB) *Recorder {
	return &Recorder{db: conn}
}

// Record persists one entry. It never returns an error.
func (r *Recorder) Record(ctx context.Context, entry Entry) {
	var details datatypes.JSON
	if len(entry.Details) > 0 {
		raw, errMarshal := json.Marshal(entry.Details)
		if errMarshal != nil {
			log.WithError(errMarshal).Warn("audit: marshal details failed")
		} else {
			details = datatypes.JSON(raw)
		}
	}
	row := models.AuditLog{
		UserID:         entry.UserID,
		OrganizationID: entry.OrganizationID,
		Action:         entry.Action,
		Resource:       entry.Resource,
		ResourceID:     entry.ResourceID,
		Details:        details,
		IPAddress:      entry.IPAddress,
		UserAgent:      entry.UserAgent,
	}
	if errCreate := r.db.WithContext(ctx).Create(&row).Error; errCreate != nil {
		log.WithError(errCreate).WithFields(log.Fields{
			"action":   entry.Action,
			"resource": entry.Resource,
		}).Warn("audit: record failed")
	}
}

// RecordSystem records an event with no actor, such as a scheduled job.
func (r *Recorder) RecordSystem(ctx context.Context, action, resource, resourceID string, details map[string]any) {
	r.Record(ctx, Entry{
		Action:     action,
		Resource:   resource,
		ResourceID: resourceID,
		Details:    details,
	})
}

// Filter narrows a List query. Zero values mean no constraint.
type Filter struct {
	UserID         uint64
	OrganizationID uint64
	Action         string
	Resource       string
	Since          time.Time
	Limit          int
	Offset         int
}

const defaultListLimit = 100

// List returns audit rows newest first, honoring the filter.
func (r *Recorder) List(ctx context.Context, filter Filter) ([]models.AuditLog, int64, error) {
	query := r.db.WithContext(ctx).Model(&models.AuditLog{})
	if filter.UserID != 0 {
		query = query.Where("user_id = ?", filter.UserID)
	}
	if filter.OrganizationID != 0 {
		query = query.Where("organization_id = ?", filter.OrganizationID)
	}
	if filter.Action != "" {
		query = query.Where("action = ?", filter.Action)
	}
	if filter.Resource != "" {
		query = query.Where("resource = ?", filter.Resource)
	}
	if !filter.Since.IsZero() {
		query = query.Where("created_at >= ?", filter.Since)
	}

	var total int64
	if errCount := query.Count(&total).Error; errCount != nil {
		return nil, 0, errCount
	}

	limit := filter.Limit
	if limit <= 0 || limit > defaultListLimit {
		limit = defaultListLimit
	}
	var rows []models.AuditLog
	if errFind := query.Order("created_at DESC").Limit(limit).Offset(filter.Offset).Find(&rows).Error; errFind != nil {
		return nil, 0, errFind
	}
	return rows, total, nil
}
