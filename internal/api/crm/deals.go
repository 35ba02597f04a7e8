package crm

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/crm-platform/crm/internal/api/params"
	"github.com/crm-platform/crm/internal/apierror"
	"github.com/crm-platform/crm/internal/audit"
	"github.com/crm-platform/crm/internal/db/models"
	"github.com/crm-platform/crm/internal/db/repositories"
	"github.com/crm-platform/crm/internal/validation"
)

// DealHandlers handles deal endpoints
type DealHandlers struct {
	store    *repositories.TenantStore
	recorder *audit.Recorder
}

// NewDealHandlers creates a new DealHandlers instance
func NewDealHandlers(store *repositories.TenantStore, recorder *audit.Recorder) *DealHandlers {
	return &DealHandlers{store: store, recorder: recorder}
}

type createDealInput struct {
	CompanyID  *string          `json:"companyId" validate:"omitnil,uuid"`
	ContactID  *string          `json:"contactId" validate:"omitnil,uuid"`
	PipelineID string           `json:"pipelineId" validate:"required,uuid"`
	StageID    string           `json:"stageId" validate:"required,uuid"`
	Title      string           `json:"title" validate:"required,max=200"`
	ValueCents int64            `json:"valueCents" validate:"gte=0"`
	Currency   string           `json:"currency" validate:"omitempty,len=3,alpha"`
	Status     string           `json:"status" validate:"omitempty,oneof=OPEN WON LOST"`
	CloseDate  *validation.Time `json:"closeDate"`
}

type updateDealInput struct {
	CompanyID  *string          `json:"companyId" validate:"omitnil,len=0|uuid"`
	ContactID  *string          `json:"contactId" validate:"omitnil,len=0|uuid"`
	PipelineID *string          `json:"pipelineId" validate:"omitnil,uuid"`
	StageID    *string          `json:"stageId" validate:"omitnil,uuid"`
	Title      *string          `json:"title" validate:"omitnil,min=1,max=200"`
	ValueCents *int64           `json:"valueCents" validate:"omitnil,gte=0"`
	Currency   *string          `json:"currency" validate:"omitnil,len=3,alpha"`
	Status     *string          `json:"status" validate:"omitnil,oneof=OPEN WON LOST"`
	CloseDate  *validation.Time `json:"closeDate"`
}

func (in *updateDealInput) apply(d *models.Deal) {
	applyOptional(&d.CompanyID, in.CompanyID)
	applyOptional(&d.ContactID, in.ContactID)
	if in.PipelineID != nil {
		d.PipelineID = *in.PipelineID
	}
	if in.StageID != nil {
		d.StageID = *in.StageID
	}
	if in.Title != nil {
		d.Title = *in.Title
	}
	if in.ValueCents != nil {
		d.ValueCents = *in.ValueCents
	}
	if in.Currency != nil {
		d.Currency = strings.ToUpper(*in.Currency)
	}
	if in.Status != nil {
		d.Status = models.DealStatus(*in.Status)
	}
	if in.CloseDate != nil {
		d.CloseDate = in.CloseDate.Std()
	}
}

// checkDealReferences verifies every id a deal points at belongs to the
// organization, and that the stage is part of the deal's pipeline.
func checkDealReferences(ctx context.Context, s *repositories.Scope, d *models.Deal) error {
	pipelines := s.Pipelines()
	err := checkReferences(ctx,
		reference{"companyId", d.CompanyID, s.Companies().Exists},
		reference{"contactId", d.ContactID, s.Contacts().Exists},
		reference{"pipelineId", &d.PipelineID, pipelines.PipelineExists},
	)
	if err != nil {
		return err
	}
	ok, err := pipelines.StageInPipeline(ctx, d.StageID, d.PipelineID)
	if err != nil {
		return err
	}
	if !ok {
		return apierror.Invalid("stageId", "invalid_reference", "Stage is not part of the pipeline")
	}
	return nil
}

// ListDealsHandler lists deals, newest first
// GET /api/v1/deals?status=&stageId=&pipelineId=&page=1&per_page=20
func (h *DealHandlers) ListDealsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		filter := repositories.DealFilter{Status: strings.ToUpper(c.Query("status"))}
		if filter.Status != "" {
			if err := validation.Var("status", filter.Status, "oneof=OPEN WON LOST"); err != nil {
				apierror.Respond(c, err)
				return
			}
		}
		var err error
		if filter.StageID, err = params.FilterID(c, "stageId"); err != nil {
			apierror.Respond(c, err)
			return
		}
		if filter.PipelineID, err = params.FilterID(c, "pipelineId"); err != nil {
			apierror.Respond(c, err)
			return
		}
		_, _, filter.Page = params.Pagination(c)

		deals, total, err := h.store.Scope(p.Membership).Deals().List(c.Request.Context(), filter)
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, listResponse[models.Deal]{Data: deals, Total: total})
	}
}

// GetDealHandler returns a deal with its company, contact, owner and stage
// GET /api/v1/deals/:id
func (h *DealHandlers) GetDealHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		id, err := params.ID(c, "id")
		if err != nil {
			apierror.Respond(c, err)
			return
		}

		deal, err := h.store.Scope(p.Membership).Deals().GetDetail(c.Request.Context(), id)
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		if deal == nil {
			apierror.Respond(c, apierror.ErrNotFound)
			return
		}
		params.SetVersion(c, deal.Version)
		c.JSON(http.StatusOK, deal)
	}
}

// CreateDealHandler creates a deal owned by the caller
// POST /api/v1/deals
func (h *DealHandlers) CreateDealHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		ctx := c.Request.Context()

		var input createDealInput
		if err := validation.Bind(c, &input); err != nil {
			apierror.Respond(c, err)
			return
		}

		deal := &models.Deal{
			OwnerID:    p.UserID(),
			CompanyID:  input.CompanyID,
			ContactID:  input.ContactID,
			PipelineID: input.PipelineID,
			StageID:    input.StageID,
			Title:      input.Title,
			ValueCents: input.ValueCents,
			Currency:   models.DefaultCurrency,
			Status:     models.DealStatusOpen,
			CloseDate:  input.CloseDate.Std(),
		}
		if input.Currency != "" {
			deal.Currency = strings.ToUpper(input.Currency)
		}
		if input.Status != "" {
			deal.Status = models.DealStatus(input.Status)
		}

		err := h.store.WithinTx(ctx, p.Membership, func(s *repositories.Scope) error {
			if err := checkDealReferences(ctx, s, deal); err != nil {
				return err
			}
			if err := s.Deals().Create(ctx, deal); err != nil {
				return err
			}
			return record(ctx, h.recorder, s, p, models.AuditCreate, models.EntityDeal, deal.ID, nil, deal)
		})
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		params.SetVersion(c, deal.Version)
		c.JSON(http.StatusCreated, deal)
	}
}

// UpdateDealHandler applies a partial update. Moving a deal between stages
// is an update of stageId.
// PATCH /api/v1/deals/:id
func (h *DealHandlers) UpdateDealHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		ctx := c.Request.Context()
		id, err := params.ID(c, "id")
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		var input updateDealInput
		if err := validation.DecodeJSON(c, &input); err != nil {
			apierror.Respond(c, err)
			return
		}

		var updated models.Deal
		err = h.store.WithinTx(ctx, p.Membership, func(s *repositories.Scope) error {
			existing, err := s.Deals().GetForUpdate(ctx, id)
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
			if err := checkReferences(ctx,
				reference{"companyId", input.CompanyID, s.Companies().Exists},
				reference{"contactId", input.ContactID, s.Contacts().Exists},
				reference{"pipelineId", input.PipelineID, s.Pipelines().PipelineExists},
			); err != nil {
				return err
			}
			if input.StageID != nil || input.PipelineID != nil {
				ok, err := s.Pipelines().StageInPipeline(ctx, updated.StageID, updated.PipelineID)
				if err != nil {
					return err
				}
				if !ok {
					return apierror.Invalid("stageId", "invalid_reference", "Stage is not part of the pipeline")
				}
			}

			if err := s.Deals().Update(ctx, &updated); err != nil {
				return err
			}
			return record(ctx, h.recorder, s, p, models.AuditUpdate, models.EntityDeal, id, existing, &updated)
		})
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		params.SetVersion(c, updated.Version)
		c.JSON(http.StatusOK, &updated)
	}
}

// DeleteDealHandler removes a deal
// DELETE /api/v1/deals/:id
func (h *DealHandlers) DeleteDealHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		ctx := c.Request.Context()
		id, err := params.ID(c, "id")
		if err != nil {
			apierror.Respond(c, err)
			return
		}

		err = h.store.WithinTx(ctx, p.Membership, func(s *repositories.Scope) error {
			existing, err := s.Deals().GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if existing == nil {
				return apierror.ErrNotFound
			}
			if err := params.CheckVersion(c, existing.Version); err != nil {
				return err
			}
			if _, err := s.Deals().Delete(ctx, id); err != nil {
				return err
			}
			return record(ctx, h.recorder, s, p, models.AuditDelete, models.EntityDeal, id, existing, nil)
		})
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
