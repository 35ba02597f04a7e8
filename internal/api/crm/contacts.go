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

// ContactHandlers handles contact endpoints
type ContactHandlers struct {
	store    *repositories.TenantStore
	recorder *audit.Recorder
}

// NewContactHandlers creates a new ContactHandlers instance
func NewContactHandlers(store *repositories.TenantStore, recorder *audit.Recorder) *ContactHandlers {
	return &ContactHandlers{store: store, recorder: recorder}
}

type createContactInput struct {
	CompanyID *string `json:"companyId" validate:"omitnil,uuid"`
	FirstName string  `json:"firstName" validate:"required,max=100"`
	LastName  string  `json:"lastName" validate:"required,max=100"`
	Email     *string `json:"email" validate:"omitnil,len=0|email"`
	Phone     *string `json:"phone" validate:"omitnil,max=50"`
}

type updateContactInput struct {
	CompanyID *string `json:"companyId" validate:"omitnil,uuid"`
	FirstName *string `json:"firstName" validate:"omitnil,min=1,max=100"`
	LastName  *string `json:"lastName" validate:"omitnil,min=1,max=100"`
	Email     *string `json:"email" validate:"omitnil,len=0|email"`
	Phone     *string `json:"phone" validate:"omitnil,max=50"`
}

func (in *updateContactInput) apply(ct *models.Contact) {
	if in.CompanyID != nil {
		ct.CompanyID = in.CompanyID
	}
	if in.FirstName != nil {
		ct.FirstName = *in.FirstName
	}
	if in.LastName != nil {
		ct.LastName = *in.LastName
	}
	applyOptional(&ct.Email, in.Email)
	applyOptional(&ct.Phone, in.Phone)
}

// ListContactsHandler lists contacts, optionally for one company
// GET /api/v1/contacts?q=&companyId=&page=1&per_page=20
func (h *ContactHandlers) ListContactsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		companyID, err := params.FilterID(c, "companyId")
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		_, _, window := params.Pagination(c)

		contacts, total, err := h.store.Scope(p.Membership).Contacts().List(c.Request.Context(),
			repositories.ContactFilter{Query: c.Query("q"), CompanyID: companyID, Page: window})
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, listResponse[models.Contact]{Data: contacts, Total: total})
	}
}

// GetContactHandler returns one contact
// GET /api/v1/contacts/:id
func (h *ContactHandlers) GetContactHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		id, err := params.ID(c, "id")
		if err != nil {
			apierror.Respond(c, err)
			return
		}

		contact, err := h.store.Scope(p.Membership).Contacts().Get(c.Request.Context(), id)
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		if contact == nil {
			apierror.Respond(c, apierror.ErrNotFound)
			return
		}
		params.SetVersion(c, contact.Version)
		c.JSON(http.StatusOK, contact)
	}
}

// CreateContactHandler creates a contact owned by the caller
// POST /api/v1/contacts
func (h *ContactHandlers) CreateContactHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		ctx := c.Request.Context()

		var input createContactInput
		if err := validation.Bind(c, &input); err != nil {
			apierror.Respond(c, err)
			return
		}

		contact := &models.Contact{
			OwnerID:   p.UserID(),
			CompanyID: input.CompanyID,
			FirstName: input.FirstName,
			LastName:  input.LastName,
			Email:     emptyToNil(input.Email),
			Phone:     emptyToNil(input.Phone),
		}
		err := h.store.WithinTx(ctx, p.Membership, func(s *repositories.Scope) error {
			if err := checkReferences(ctx, reference{"companyId", contact.CompanyID, s.Companies().Exists}); err != nil {
				return err
			}
			if err := s.Contacts().Create(ctx, contact); err != nil {
				return err
			}
			return record(ctx, h.recorder, s, p, models.AuditCreate, models.EntityContact, contact.ID, nil, contact)
		})
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		params.SetVersion(c, contact.Version)
		c.JSON(http.StatusCreated, contact)
	}
}

// UpdateContactHandler applies a partial update
// PATCH /api/v1/contacts/:id
func (h *ContactHandlers) UpdateContactHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		ctx := c.Request.Context()
		id, err := params.ID(c, "id")
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		var input updateContactInput
		if err := validation.DecodeJSON(c, &input); err != nil {
			apierror.Respond(c, err)
			return
		}

		var updated models.Contact
		err = h.store.WithinTx(ctx, p.Membership, func(s *repositories.Scope) error {
			existing, err := s.Contacts().GetForUpdate(ctx, id)
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
			if err := checkReferences(ctx, reference{"companyId", input.CompanyID, s.Companies().Exists}); err != nil {
				return err
			}

			updated = *existing
			input.apply(&updated)
			if err := s.Contacts().Update(ctx, &updated); err != nil {
				return err
			}
			return record(ctx, h.recorder, s, p, models.AuditUpdate, models.EntityContact, id, existing, &updated)
		})
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		params.SetVersion(c, updated.Version)
		c.JSON(http.StatusOK, &updated)
	}
}

// DeleteContactHandler removes a contact
// DELETE /api/v1/contacts/:id
func (h *ContactHandlers) DeleteContactHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		ctx := c.Request.Context()
		id, err := params.ID(c, "id")
		if err != nil {
			apierror.Respond(c, err)
			return
		}

		err = h.store.WithinTx(ctx, p.Membership, func(s *repositories.Scope) error {
			existing, err := s.Contacts().GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if existing == nil {
				return apierror.ErrNotFound
			}
			if err := params.CheckVersion(c, existing.Version); err != nil {
				return err
			}
			if _, err := s.Contacts().Delete(ctx, id); err != nil {
				return err
			}
			return record(ctx, h.recorder, s, p, models.AuditDelete, models.EntityContact, id, existing, nil)
		})
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
