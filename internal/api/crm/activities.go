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

// ActivityHandlers handles activity and task endpoints
type ActivityHandlers struct {
	store    *repositories.TenantStore
	recorder *audit.Recorder
}

// NewActivityHandlers creates a new ActivityHandlers instance
func NewActivityHandlers(store *repositories.TenantStore, recorder *audit.Recorder) *ActivityHandlers {
	return &ActivityHandlers{store: store, recorder: recorder}
}

type createActivityInput struct {
	DealID      *string          `json:"dealId" validate:"omitnil,uuid"`
	ContactID   *string          `json:"contactId" validate:"omitnil,uuid"`
	Type        string           `json:"type" validate:"required,oneof=CALL EMAIL MEETING TASK"`
	Title       string           `json:"title" validate:"required,max=200"`
	Note        *string          `json:"note" validate:"omitnil,max=10000"`
	DueAt       *validation.Time `json:"dueAt"`
	CompletedAt *validation.Time `json:"completedAt"`
}

type updateActivityInput struct {
	DealID      *string          `json:"dealId" validate:"omitnil,uuid"`
	ContactID   *string          `json:"contactId" validate:"omitnil,uuid"`
	Type        *string          `json:"type" validate:"omitnil,oneof=CALL EMAIL MEETING TASK"`
	Title       *string          `json:"title" validate:"omitnil,min=1,max=200"`
	Note        *string          `json:"note" validate:"omitnil,max=10000"`
	DueAt       *validation.Time `json:"dueAt"`
	CompletedAt *validation.Time `json:"completedAt"`
}

func (in *updateActivityInput) apply(a *models.Activity) {
	if in.DealID != nil {
		a.DealID = in.DealID
	}
	if in.ContactID != nil {
		a.ContactID = in.ContactID
	}
	if in.Type != nil {
		a.Type = models.ActivityType(*in.Type)
	}
	if in.Title != nil {
		a.Title = *in.Title
	}
	applyOptional(&a.Note, in.Note)
	if in.DueAt != nil {
		a.DueAt = in.DueAt.Std()
	}
	if in.CompletedAt != nil {
		a.CompletedAt = in.CompletedAt.Std()
	}
}

// ListActivitiesHandler lists activities, newest first
// GET /api/v1/activities?type=&dealId=&contactId=
func (h *ActivityHandlers) ListActivitiesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		filter := repositories.ActivityFilter{Type: c.Query("type")}
		if filter.Type != "" {
			if err := validation.Var("type", filter.Type, "oneof=CALL EMAIL MEETING TASK"); err != nil {
				apierror.Respond(c, err)
				return
			}
		}
		var err error
		if filter.DealID, err = params.FilterID(c, "dealId"); err != nil {
			apierror.Respond(c, err)
			return
		}
		if filter.ContactID, err = params.FilterID(c, "contactId"); err != nil {
			apierror.Respond(c, err)
			return
		}

		activities, err := h.store.Scope(p.Membership).Activities().List(c.Request.Context(), filter)
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, activities)
	}
}

// GetActivityHandler returns one activity
// GET /api/v1/activities/:id
func (h *ActivityHandlers) GetActivityHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		id, err := params.ID(c, "id")
		if err != nil {
			apierror.Respond(c, err)
			return
		}

		activity, err := h.store.Scope(p.Membership).Activities().Get(c.Request.Context(), id)
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		if activity == nil {
			apierror.Respond(c, apierror.ErrNotFound)
			return
		}
		params.SetVersion(c, activity.Version)
		c.JSON(http.StatusOK, activity)
	}
}

// CreateActivityHandler logs an activity or creates a task
// POST /api/v1/activities
func (h *ActivityHandlers) CreateActivityHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		ctx := c.Request.Context()

		var input createActivityInput
		if err := validation.Bind(c, &input); err != nil {
			apierror.Respond(c, err)
			return
		}

		activity := &models.Activity{
			OwnerID:     p.UserID(),
			DealID:      input.DealID,
			ContactID:   input.ContactID,
			Type:        models.ActivityType(input.Type),
			Title:       input.Title,
			Note:        emptyToNil(input.Note),
			DueAt:       input.DueAt.Std(),
			CompletedAt: input.CompletedAt.Std(),
		}
		err := h.store.WithinTx(ctx, p.Membership, func(s *repositories.Scope) error {
			err := checkReferences(ctx,
				reference{"dealId", activity.DealID, s.Deals().Exists},
				reference{"contactId", activity.ContactID, s.Contacts().Exists},
			)
			if err != nil {
				return err
			}
			if err := s.Activities().Create(ctx, activity); err != nil {
				return err
			}
			return record(ctx, h.recorder, s, p, models.AuditCreate, models.EntityActivity, activity.ID, nil, activity)
		})
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		params.SetVersion(c, activity.Version)
		c.JSON(http.StatusCreated, activity)
	}
}

// UpdateActivityHandler applies a partial update; completing a task sets completedAt
// PATCH /api/v1/activities/:id
func (h *ActivityHandlers) UpdateActivityHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		ctx := c.Request.Context()
		id, err := params.ID(c, "id")
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		var input updateActivityInput
		if err := validation.DecodeJSON(c, &input); err != nil {
			apierror.Respond(c, err)
			return
		}

		var updated models.Activity
		err = h.store.WithinTx(ctx, p.Membership, func(s *repositories.Scope) error {
			existing, err := s.Activities().GetForUpdate(ctx, id)
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
			err = checkReferences(ctx,
				reference{"dealId", input.DealID, s.Deals().Exists},
				reference{"contactId", input.ContactID, s.Contacts().Exists},
			)
			if err != nil {
				return err
			}

			updated = *existing
			input.apply(&updated)
			if err := s.Activities().Update(ctx, &updated); err != nil {
				return err
			}
			return record(ctx, h.recorder, s, p, models.AuditUpdate, models.EntityActivity, id, existing, &updated)
		})
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		params.SetVersion(c, updated.Version)
		c.JSON(http.StatusOK, &updated)
	}
}

// DeleteActivityHandler removes an activity
// DELETE /api/v1/activities/:id
func (h *ActivityHandlers) DeleteActivityHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		ctx := c.Request.Context()
		id, err := params.ID(c, "id")
		if err != nil {
			apierror.Respond(c, err)
			return
		}

		err = h.store.WithinTx(ctx, p.Membership, func(s *repositories.Scope) error {
			existing, err := s.Activities().GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if existing == nil {
				return apierror.ErrNotFound
			}
			if err := params.CheckVersion(c, existing.Version); err != nil {
				return err
			}
			if _, err := s.Activities().Delete(ctx, id); err != nil {
				return err
			}
			return record(ctx, h.recorder, s, p, models.AuditDelete, models.EntityActivity, id, existing, nil)
		})
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
