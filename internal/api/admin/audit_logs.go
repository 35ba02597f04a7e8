// audit_logs.go implements the read-only audit log listing.
package admin

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/crm-platform/crm/internal/api/params"
	"github.com/crm-platform/crm/internal/apierror"
	"github.com/crm-platform/crm/internal/db/models"
	"github.com/crm-platform/crm/internal/db/repositories"
	"github.com/crm-platform/crm/internal/validation"
)

// AuditLogHandlers handles audit log endpoints
type AuditLogHandlers struct {
	store *repositories.TenantStore
}

// NewAuditLogHandlers creates a new AuditLogHandlers instance
func NewAuditLogHandlers(store *repositories.TenantStore) *AuditLogHandlers {
	return &AuditLogHandlers{store: store}
}

// @Summary      List audit logs
// @Tags         Audit
// @Security     Bearer
// @Produce      json
// @Param        entityType  query  string  false  "Entity type, e.g. Deal"
// @Param        entityId    query  string  false  "Entity ID"
// @Param        action      query  string  false  "CREATE, UPDATE or DELETE"
// @Param        page        query  int     false  "Page number (default 1)"
// @Param        per_page    query  int     false  "Items per page, max 100 (default 20)"
// @Success      200  {object}  map[string]interface{}  "data: []models.AuditLogWithUser, total, page, per_page"
// @Router       /api/v1/audit-logs [get]
// ListAuditLogsHandler lists audit entries, newest first
// GET /api/v1/audit-logs?entityType=&entityId=&action=&page=1&per_page=20
func (h *AuditLogHandlers) ListAuditLogsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)

		filter := models.AuditFilter{
			EntityType: strings.TrimSpace(c.Query("entityType")),
			EntityID:   strings.TrimSpace(c.Query("entityId")),
			Action:     strings.ToUpper(strings.TrimSpace(c.Query("action"))),
		}
		if filter.Action != "" {
			if err := validation.Var("action", filter.Action, "oneof=CREATE UPDATE DELETE"); err != nil {
				apierror.Respond(c, err)
				return
			}
		}
		page, perPage, window := params.Pagination(c)
		filter.Limit, filter.Offset = window.Limit, window.Offset

		logs, total, err := h.store.Scope(p.Membership).AuditLogs().List(c.Request.Context(), filter)
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, gin.H{
			"data":     logs,
			"total":    total,
			"page":     page,
			"per_page": perPage,
		})
	}
}
