// Package crm implements the tenant-scoped CRM endpoints: companies, contacts,
// deals, activities, notes, files, pipelines, search, email and reports.
//
// Every handler runs behind middleware.RequireRole, so a principal is always
// present. Mutations follow one sequence inside TenantStore.WithinTx:
//
//	lock-fetch by id and organization (404) → validate (422) → check
//	referenced ids (422) → persist → audit.Recorder.Record
//
// and the response is written only after the transaction has committed.
package crm

import (
	"context"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/crm-platform/crm/internal/access"
	"github.com/crm-platform/crm/internal/apierror"
	"github.com/crm-platform/crm/internal/audit"
	"github.com/crm-platform/crm/internal/db/models"
	"github.com/crm-platform/crm/internal/db/repositories"
	"github.com/crm-platform/crm/internal/middleware"
)

// listResponse is the envelope of paginated listings.
type listResponse[T any] struct {
	Data  []T `json:"data"`
	Total int `json:"total"`
}

func principal(c *gin.Context) *access.Principal {
	p := middleware.GetPrincipal(c)
	if p == nil {
		panic("crm: handler mounted without RequireRole")
	}
	return p
}

// existsFunc is the shape of the scoped repositories' Exists methods.
type existsFunc func(ctx context.Context, id string) (bool, error)

// reference is an optional id in a request body that must name a row of the
// caller's organization.
type reference struct {
	field  string
	id     *string
	exists existsFunc
}

// checkReferences reports the first reference that does not resolve inside
// the organization as a validation issue on its field.
func checkReferences(ctx context.Context, refs ...reference) error {
	for _, ref := range refs {
		if ref.id == nil || *ref.id == "" {
			continue
		}
		ok, err := ref.exists(ctx, *ref.id)
		if err != nil {
			return err
		}
		if !ok {
			return apierror.Invalid(ref.field, "invalid_reference", "Not found in this organization")
		}
	}
	return nil
}

// record writes the audit row for a mutation performed by p.
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

// emptyToNil turns a blank optional string into nil so it is stored as NULL.
func emptyToNil(s *string) *string {
	if s == nil || strings.TrimSpace(*s) == "" {
		return nil
	}
	return s
}

// applyOptional overwrites dst when the update carried a value. An empty
// string clears the column.
func applyOptional(dst **string, v *string) {
	if v != nil {
		*dst = emptyToNil(v)
	}
}
