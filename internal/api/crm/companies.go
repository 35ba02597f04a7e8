package crm

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/crm-platform/crm/internal/api/params"
	"github.com/crm-platform/crm/internal/apierror"
	"github.com/crm-platform/crm/internal/audit"
	"github.com/crm-platform/crm/internal/db/models"
	"github.com/crm-platform/crm/internal/db/repositories"
	"github.com/crm-platform/crm/internal/validation"
)

// CompanyHandlers handles company endpoints
type CompanyHandlers struct {
	store    *repositories.TenantStore
	recorder *audit.Recorder
}

// NewCompanyHandlers creates a new CompanyHandlers instance
func NewCompanyHandlers(store *repositories.TenantStore, recorder *audit.Recorder) *CompanyHandlers {
	return &CompanyHandlers{store: store, recorder: recorder}
}

type createCompanyInput struct {
	Name    string  `json:"name" validate:"required,max=200"`
	Domain  *string `json:"domain" validate:"omitnil,max=255"`
	Phone   *string `json:"phone" validate:"omitnil,max=50"`
	Website *string `json:"website" validate:"omitnil,len=0|url"`
}

type updateCompanyInput struct {
	Name    *string `json:"name" validate:"omitnil,min=1,max=200"`
	Domain  *string `json:"domain" validate:"omitnil,max=255"`
	Phone   *string `json:"phone" validate:"omitnil,max=50"`
	Website *string `json:"website" validate:"omitnil,len=0|url"`
}

func (in *updateCompanyInput) apply(co *models.Company) {
	if in.Name != nil {
		co.Name = *in.Name
	}
	applyOptional(&co.Domain, in.Domain)
	applyOptional(&co.Phone, in.Phone)
	applyOptional(&co.Website, in.Website)
}

// @Summary      List companies
// @Tags         Companies
// @Produce      json
// @Param        q         query  string  false  "Name or domain contains"
// @Param        page      query  int     false  "Page number (default 1)"
// @Param        per_page  query  int     false  "Items per page, max 100 (default 20)"
// @Success      200  {object}  map[string]interface{}  "data: []models.Company, total"
// @Router       /api/v1/companies [get]
// ListCompaniesHandler lists the organization's companies
// GET /api/v1/companies?q=&page=1&per_page=20
func (h *CompanyHandlers) ListCompaniesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		_, _, window := params.Pagination(c)

		companies, total, err := h.store.Scope(p.Membership).Companies().List(c.Request.Context(),
			repositories.CompanyFilter{Query: c.Query("q"), Page: window})
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, listResponse[models.Company]{Data: companies, Total: total})
	}
}

// GetCompanyHandler returns one company
// GET /api/v1/companies/:id
func (h *CompanyHandlers) GetCompanyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		id, err := params.ID(c, "id")
		if err != nil {
			apierror.Respond(c, err)
			return
		}

		company, err := h.store.Scope(p.Membership).Companies().Get(c.Request.Context(), id)
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		if company == nil {
			apierror.Respond(c, apierror.ErrNotFound)
			return
		}
		params.SetVersion(c, company.Version)
		c.JSON(http.StatusOK, company)
	}
}

// @Summary      Create company
// @Tags         Companies
// @Accept       json
// @Produce      json
// @Success      201  {object}  models.Company
// @Failure      422  {object}  map[string]interface{}  "issues"
// @Router       /api/v1/companies [post]
// CreateCompanyHandler creates a company owned by the caller
// POST /api/v1/companies
func (h *CompanyHandlers) CreateCompanyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		ctx := c.Request.Context()

		var input createCompanyInput
		if err := validation.Bind(c, &input); err != nil {
			apierror.Respond(c, err)
			return
		}

		company := &models.Company{
			OwnerID: p.UserID(),
			Name:    input.Name,
			Domain:  emptyToNil(input.Domain),
			Phone:   emptyToNil(input.Phone),
			Website: emptyToNil(input.Website),
		}
		err := h.store.WithinTx(ctx, p.Membership, func(s *repositories.Scope) error {
			if err := s.Companies().Create(ctx, company); err != nil {
				return err
			}
			return record(ctx, h.recorder, s, p, models.AuditCreate, models.EntityCompany, company.ID, nil, company)
		})
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		params.SetVersion(c, company.Version)
		c.JSON(http.StatusCreated, company)
	}
}

// UpdateCompanyHandler applies a partial update
// PATCH /api/v1/companies/:id
func (h *CompanyHandlers) UpdateCompanyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		ctx := c.Request.Context()
		id, err := params.ID(c, "id")
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		var input updateCompanyInput
		if err := validation.DecodeJSON(c, &input); err != nil {
			apierror.Respond(c, err)
			return
		}

		var updated models.Company
		err = h.store.WithinTx(ctx, p.Membership, func(s *repositories.Scope) error {
			existing, err := s.Companies().GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if existing == nil {
				return apierror.ErrNotFound
			}
			if err := params.CheckVersion(c, existing.Version); err != nil {
				return err
			}
			if err := validation.Struct(&input); err != nil {
				return err
			}

			updated = *existing
			input.apply(&updated)
			if err := s.Companies().Update(ctx, &updated); err != nil {
				return err
			}
			return record(ctx, h.recorder, s, p, models.AuditUpdate, models.EntityCompany, id, existing, &updated)
		})
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		params.SetVersion(c, updated.Version)
		c.JSON(http.StatusOK, &updated)
	}
}

// DeleteCompanyHandler removes a company. Contacts and deals keep existing
// with their company reference cleared.
// DELETE /api/v1/companies/:id
func (h *CompanyHandlers) DeleteCompanyHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		ctx := c.Request.Context()
		id, err := params.ID(c, "id")
		if err != nil {
			apierror.Respond(c, err)
			return
		}

		err = h.store.WithinTx(ctx, p.Membership, func(s *repositories.Scope) error {
			existing, err := s.Companies().GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if existing == nil {
				return apierror.ErrNotFound
			}
			if err := params.CheckVersion(c, existing.Version); err != nil {
				return err
			}
			if _, err := s.Companies().Delete(ctx, id); err != nil {
				return err
			}
			return record(ctx, h.recorder, s, p, models.AuditDelete, models.EntityCompany, id, existing, nil)
		})
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
