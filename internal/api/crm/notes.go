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

// NoteHandlers handles note endpoints
type NoteHandlers struct {
	store    *repositories.TenantStore
	recorder *audit.Recorder
}

// NewNoteHandlers creates a new NoteHandlers instance
func NewNoteHandlers(store *repositories.TenantStore, recorder *audit.Recorder) *NoteHandlers {
	return &NoteHandlers{store: store, recorder: recorder}
}

type createNoteInput struct {
	DealID    *string `json:"dealId" validate:"omitnil,uuid"`
	ContactID *string `json:"contactId" validate:"omitnil,uuid"`
	Body      string  `json:"body" validate:"required,max=10000"`
}

type updateNoteInput struct {
	DealID    *string `json:"dealId" validate:"omitnil,uuid"`
	ContactID *string `json:"contactId" validate:"omitnil,uuid"`
	Body      *string `json:"body" validate:"omitnil,min=1,max=10000"`
}

// ListNotesHandler lists notes, newest first
// GET /api/v1/notes?dealId=&contactId=
func (h *NoteHandlers) ListNotesHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		var filter repositories.NoteFilter
		var err error
		if filter.DealID, err = params.FilterID(c, "dealId"); err != nil {
			apierror.Respond(c, err)
			return
		}
		if filter.ContactID, err = params.FilterID(c, "contactId"); err != nil {
			apierror.Respond(c, err)
			return
		}

		notes, err := h.store.Scope(p.Membership).Notes().List(c.Request.Context(), filter)
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, notes)
	}
}

// CreateNoteHandler adds a note authored by the caller
// POST /api/v1/notes
func (h *NoteHandlers) CreateNoteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		ctx := c.Request.Context()

		var input createNoteInput
		if err := validation.Bind(c, &input); err != nil {
			apierror.Respond(c, err)
			return
		}

		note := &models.Note{
			AuthorID:  p.UserID(),
			DealID:    input.DealID,
			ContactID: input.ContactID,
			Body:      input.Body,
		}
		err := h.store.WithinTx(ctx, p.Membership, func(s *repositories.Scope) error {
			err := checkReferences(ctx,
				reference{"dealId", note.DealID, s.Deals().Exists},
				reference{"contactId", note.ContactID, s.Contacts().Exists},
			)
			if err != nil {
				return err
			}
			if err := s.Notes().Create(ctx, note); err != nil {
				return err
			}
			return record(ctx, h.recorder, s, p, models.AuditCreate, models.EntityNote, note.ID, nil, note)
		})
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		params.SetVersion(c, note.Version)
		c.JSON(http.StatusCreated, note)
	}
}

// UpdateNoteHandler edits a note
// PATCH /api/v1/notes/:id
func (h *NoteHandlers) UpdateNoteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		ctx := c.Request.Context()
		id, err := params.ID(c, "id")
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		var input updateNoteInput
		if err := validation.DecodeJSON(c, &input); err != nil {
			apierror.Respond(c, err)
			return
		}

		var updated models.Note
		err = h.store.WithinTx(ctx, p.Membership, func(s *repositories.Scope) error {
			existing, err := s.Notes().GetForUpdate(ctx, id)
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
			if input.DealID != nil {
				updated.DealID = input.DealID
			}
			if input.ContactID != nil {
				updated.ContactID = input.ContactID
			}
			if input.Body != nil {
				updated.Body = *input.Body
			}
			if err := s.Notes().Update(ctx, &updated); err != nil {
				return err
			}
			return record(ctx, h.recorder, s, p, models.AuditUpdate, models.EntityNote, id, existing, &updated)
		})
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		params.SetVersion(c, updated.Version)
		c.JSON(http.StatusOK, &updated)
	}
}

// DeleteNoteHandler removes a note
// DELETE /api/v1/notes/:id
func (h *NoteHandlers) DeleteNoteHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		ctx := c.Request.Context()
		id, err := params.ID(c, "id")
		if err != nil {
			apierror.Respond(c, err)
			return
		}

		err = h.store.WithinTx(ctx, p.Membership, func(s *repositories.Scope) error {
			existing, err := s.Notes().GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if existing == nil {
				return apierror.ErrNotFound
			}
			if err := params.CheckVersion(c, existing.Version); err != nil {
				return err
			}
			if _, err := s.Notes().Delete(ctx, id); err != nil {
				return err
			}
			return record(ctx, h.recorder, s, p, models.AuditDelete, models.EntityNote, id, existing, nil)
		})
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
