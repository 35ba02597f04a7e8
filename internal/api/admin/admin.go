// Package admin implements the organization administration endpoints: the
// organization itself, its memberships and its audit log. Every route is
// restricted to OWNER except the audit log, which ADMIN may read as well.
package admin

import (
	"context"

	"github.com/gin-gonic/gin"

	"github.com/crm-platform/crm/internal/access"
	"github.com/crm-platform/crm/internal/audit"
	"github.com/crm-platform/crm/internal/db/models"
	"github.com/crm-platform/crm/internal/db/repositories"
	"github.com/crm-platform/crm/internal/middleware"
)

func principal(c *gin.Context) *access.Principal {
	p := middleware.GetPrincipal(c)
	if p == nil {
		panic("admin: handler mounted without RequireRole")
	}
	return p
}

func record(ctx context.Context, rec *audit.Recorder, s *repositories.Scope, p *access.Principal,
	action models.AuditAction, entityType, entityID string, before, after any) error {
	return rec.Record(ctx, s, audit.Entry{
		ActorID:    p.UserID(),
		Action:     action,
		EntityType: entityType,
		EntityID:   entityID,
		Before:     before,
		After:      after,
	})
}
