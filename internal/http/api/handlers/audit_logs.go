package handlers

import (
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	"gorm.io/gorm"

	"github.com/opsboard/opsboard/internal/audit"
	"github.com/opsboard/opsboard/internal/models"
)

// AuditLogHandler serves the administrative audit trail.
type AuditLogHandler struct {
	recorder *audit.Recorder
}

// NewAuditLogHandler constructs an AuditLogHandler.
func NewAuditLogHandler(db *gorm.DB) *AuditLogHandler {
	return &AuditLogHandler{recorder: audit.NewRecorder(db)}
}

// List returns audit rows newest first, filtered by query parameters.
func (h *AuditLogHandler) List(c *gin.Context) {
	filter := audit.Filter{
		Action:   c.Query("action"),
		Resource: c.Query("resource"),
	}
	if raw := c.Query("user_id"); raw != "" {
		parsed, errParse := strconv.ParseUint(raw, 10, 64)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid user_id"})
			return
		}
		filter.UserID = parsed
	}
	if raw := c.Query("organization_id"); raw != "" {
		parsed, errParse := strconv.ParseUint(raw, 10, 64)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid organization_id"})
			return
		}
		filter.OrganizationID = parsed
	}
	if raw := c.Query("since"); raw != "" {
		since, errParse := time.Parse(time.RFC3339, raw)
		if errParse != nil {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid since, want RFC3339"})
			return
		}
		filter.Since = since
	}
	if raw := c.Query("limit"); raw != "" {
		parsed, errParse := strconv.Atoi(raw)
		if errParse != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid limit"})
			return
		}
		filter.Limit = parsed
	}
	if raw := c.Query("offset"); raw != "" {
		parsed, errParse := strconv.Atoi(raw)
		if errParse != nil || parsed < 0 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "invalid offset"})
			return
		}
		filter.Offset = parsed
	}

	rows, total, errList := h.recorder.List(c.Request.Context(), filter)
	if errList != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"error": "list audit logs failed"})
		return
	}
	responses := make([]gin.H, 0, len(rows))
	for _, row := range rows {
		responses = append(responses, auditLogResponse(row))
	}
	c.JSON(http.StatusOK, gin.H{
		"audit_logs": responses,
		"total":      total,
	})
}

func auditLogResponse(row models.AuditLog) gin.H {
	return gin.H{
		"id":              row.ID,
		"user_id":         row.UserID,
		"organization_id": row.OrganizationID,
		"action":          row.Action,
		"resource":        row.Resource,
		"resource_id":     row.ResourceID,
		"details":         row.Details,
		"ip_address":      row.IPAddress,
		"user_agent":      row.UserAgent,
		"created_at":      row.CreatedAt,
	}
}
