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

// PipelineHandlers handles pipeline and stage endpoints
type PipelineHandlers struct {
	store    *repositories.TenantStore
	recorder *audit.Recorder
}

// NewPipelineHandlers creates a new PipelineHandlers instance
func NewPipelineHandlers(store *repositories.TenantStore, recorder *audit.Recorder) *PipelineHandlers {
	return &PipelineHandlers{store: store, recorder: recorder}
}

type createPipelineInput struct {
	Name string `json:"name" validate:"required,max=100"`
}

type createStageInput struct {
	PipelineID string `json:"pipelineId" validate:"required,uuid"`
	Name       string `json:"name" validate:"required,max=100"`
	Order      int    `json:"order" validate:"gte=0"`
}

type updateStageInput struct {
	Name  *string `json:"name" validate:"omitnil,min=1,max=100"`
	Order *int    `json:"order" validate:"omitnil,gte=0"`
}

// GetPipelineHandler returns the organization's first pipeline with its
// stages in order, or null when it has none
// GET /api/v1/pipelines
func (h *PipelineHandlers) GetPipelineHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		pipeline, err := h.store.Scope(p.Membership).Pipelines().First(c.Request.Context())
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, pipeline)
	}
}

// CreatePipelineHandler creates an empty pipeline
// POST /api/v1/pipelines
func (h *PipelineHandlers) CreatePipelineHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		ctx := c.Request.Context()

		var input createPipelineInput
		if err := validation.Bind(c, &input); err != nil {
			apierror.Respond(c, err)
			return
		}

		pipeline := &models.Pipeline{Name: input.Name}
		err := h.store.WithinTx(ctx, p.Membership, func(s *repositories.Scope) error {
			if err := s.Pipelines().CreatePipeline(ctx, pipeline); err != nil {
				return err
			}
			return record(ctx, h.recorder, s, p, models.AuditCreate, models.EntityPipeline, pipeline.ID, nil, pipeline)
		})
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		c.JSON(http.StatusCreated, models.PipelineWithStages{Pipeline: *pipeline, Stages: []models.Stage{}})
	}
}

// CreateStageHandler adds a stage to a pipeline
// POST /api/v1/stages
func (h *PipelineHandlers) CreateStageHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		ctx := c.Request.Context()

		var input createStageInput
		if err := validation.Bind(c, &input); err != nil {
			apierror.Respond(c, err)
			return
		}

		stage := &models.Stage{PipelineID: input.PipelineID, Name: input.Name, Order: input.Order}
		err := h.store.WithinTx(ctx, p.Membership, func(s *repositories.Scope) error {
			err := checkReferences(ctx, reference{"pipelineId", &stage.PipelineID, s.Pipelines().PipelineExists})
			if err != nil {
				return err
			}
			if err := s.Pipelines().CreateStage(ctx, stage); err != nil {
				return err
			}
			return record(ctx, h.recorder, s, p, models.AuditCreate, models.EntityStage, stage.ID, nil, stage)
		})
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		params.SetVersion(c, stage.Version)
		c.JSON(http.StatusCreated, stage)
	}
}

// UpdateStageHandler renames or reorders a stage
// PATCH /api/v1/stages/:id
func (h *PipelineHandlers) UpdateStageHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		ctx := c.Request.Context()
		id, err := params.ID(c, "id")
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		var input updateStageInput
		if err := validation.DecodeJSON(c, &input); err != nil {
			apierror.Respond(c, err)
			return
		}

		var updated models.Stage
		err = h.store.WithinTx(ctx, p.Membership, func(s *repositories.Scope) error {
			existing, err := s.Pipelines().GetStageForUpdate(ctx, id)
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
			if input.Name != nil {
				updated.Name = *input.Name
			}
			if input.Order != nil {
				updated.Order = *input.Order
			}
			if err := s.Pipelines().UpdateStage(ctx, &updated); err != nil {
				return err
			}
			return record(ctx, h.recorder, s, p, models.AuditUpdate, models.EntityStage, id, existing, &updated)
		})
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		params.SetVersion(c, updated.Version)
		c.JSON(http.StatusOK, &updated)
	}
}

// DeleteStageHandler removes an empty stage. Stages still holding deals are
// kept so no deal is left without a stage.
// DELETE /api/v1/stages/:id
func (h *PipelineHandlers) DeleteStageHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		ctx := c.Request.Context()
		id, err := params.ID(c, "id")
		if err != nil {
			apierror.Respond(c, err)
			return
		}

		err = h.store.WithinTx(ctx, p.Membership, func(s *repositories.Scope) error {
			pipelines := s.Pipelines()
			existing, err := pipelines.GetStageForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if existing == nil {
				return apierror.ErrNotFound
			}
			if err := params.CheckVersion(c, existing.Version); err != nil {
				return err
			}
			n, err := pipelines.CountDealsInStage(ctx, id)
			if err != nil {
				return err
			}
			if n > 0 {
				return apierror.Conflict("Stage still has deals")
			}
			if _, err := pipelines.DeleteStage(ctx, id); err != nil {
				return err
			}
			return record(ctx, h.recorder, s, p, models.AuditDelete, models.EntityStage, id, existing, nil)
		})
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
