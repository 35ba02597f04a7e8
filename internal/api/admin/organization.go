// organization.go implements handlers for reading, renaming and deleting the
// caller's organization.
package admin

import (
	"errors"
	"log/slog"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/crm-platform/crm/internal/apierror"
	"github.com/crm-platform/crm/internal/audit"
	"github.com/crm-platform/crm/internal/db/models"
	"github.com/crm-platform/crm/internal/db/repositories"
	"github.com/crm-platform/crm/internal/validation"
)

// OrganizationHandlers handles organization management endpoints
type OrganizationHandlers struct {
	store    *repositories.TenantStore
	recorder *audit.Recorder
}

// NewOrganizationHandlers creates a new OrganizationHandlers instance
func NewOrganizationHandlers(store *repositories.TenantStore, recorder *audit.Recorder) *OrganizationHandlers {
	return &OrganizationHandlers{store: store, recorder: recorder}
}

type updateOrganizationInput struct {
	Name *string `json:"name" validate:"omitnil,min=1,max=100"`
	Slug *string `json:"slug" validate:"omitnil,min=1,max=100,slug"`
}

// @Summary      Get organization
// @Tags         Organization
// @Security     Bearer
// @Produce      json
// @Success      200  {object}  models.Organization
// @Failure      403  {object}  map[string]interface{}  "Forbidden"
// @Router       /api/v1/organization [get]
// GetOrganizationHandler returns the active organization
// GET /api/v1/organization
func (h *OrganizationHandlers) GetOrganizationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		org, err := h.store.Scope(p.Membership).Organization().Get(c.Request.Context())
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		if org == nil {
			apierror.Respond(c, apierror.ErrNotFound)
			return
		}
		c.JSON(http.StatusOK, org)
	}
}

// @Summary      Update organization
// @Tags         Organization
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Success      200  {object}  models.Organization
// @Failure      409  {object}  map[string]interface{}  "Slug already in use"
// @Failure      422  {object}  map[string]interface{}  "Validation issues"
// @Router       /api/v1/organization [put]
// UpdateOrganizationHandler renames the organization or changes its slug
// PUT /api/v1/organization
func (h *OrganizationHandlers) UpdateOrganizationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		ctx := c.Request.Context()

		var input updateOrganizationInput
		if err := validation.Bind(c, &input); err != nil {
			apierror.Respond(c, err)
			return
		}

		var updated models.Organization
		err := h.store.WithinTx(ctx, p.Membership, func(s *repositories.Scope) error {
			existing, err := s.Organization().GetForUpdate(ctx)
			if err != nil {
				return err
			}
			if existing == nil {
				return apierror.ErrNotFound
			}
			updated = *existing
			if input.Name != nil {
				updated.Name = *input.Name
			}
			if input.Slug != nil {
				updated.Slug = *input.Slug
			}
			if err := s.Organization().Update(ctx, &updated); err != nil {
				if errors.Is(err, repositories.ErrDuplicate) {
					return apierror.Conflict("Slug already in use")
				}
				return err
			}
			return record(ctx, h.recorder, s, p, models.AuditUpdate, models.EntityOrganization, updated.ID, existing, &updated)
		})
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, &updated)
	}
}

// @Summary      Delete organization
// @Description  Deletes the organization and every record it owns, audit log included.
// @Tags         Organization
// @Security     Bearer
// @Success      204
// @Router       /api/v1/organization [delete]
// DeleteOrganizationHandler deletes the organization. The audit log goes with
// it, so the deletion itself is only written to the server log.
// DELETE /api/v1/organization
func (h *OrganizationHandlers) DeleteOrganizationHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		ctx := c.Request.Context()

		var deleted bool
		err := h.store.WithinTx(ctx, p.Membership, func(s *repositories.Scope) error {
			var err error
			deleted, err = s.Organization().Delete(ctx)
			return err
		})
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		if !deleted {
			apierror.Respond(c, apierror.ErrNotFound)
			return
		}

		slog.Info("organization deleted",
			"organization_id", p.Membership.OrganizationID,
			"user_id", p.User.ID,
		)
		c.Status(http.StatusNoContent)
	}
}
