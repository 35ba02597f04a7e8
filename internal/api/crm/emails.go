package crm

import (
	"context"
	"html"
	"log/slog"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/crm-platform/crm/internal/apierror"
	"github.com/crm-platform/crm/internal/audit"
	"github.com/crm-platform/crm/internal/db/models"
	"github.com/crm-platform/crm/internal/db/repositories"
	"github.com/crm-platform/crm/internal/email"
	"github.com/crm-platform/crm/internal/validation"
)

// activityNoteLimit caps how much of an email body is copied onto the
// activity logged for it.
const activityNoteLimit = 200

// Mailer sends one outbound message.
type Mailer interface {
	Send(ctx context.Context, msg email.Message) error
}

// EmailHandlers handles ad-hoc emails sent from a deal or contact
type EmailHandlers struct {
	store    *repositories.TenantStore
	recorder *audit.Recorder
	mailer   Mailer
}

// NewEmailHandlers creates a new EmailHandlers instance
func NewEmailHandlers(store *repositories.TenantStore, recorder *audit.Recorder, mailer Mailer) *EmailHandlers {
	return &EmailHandlers{store: store, recorder: recorder, mailer: mailer}
}

type sendEmailInput struct {
	To        string  `json:"to" validate:"required,email"`
	Subject   string  `json:"subject" validate:"required,max=200"`
	Body      string  `json:"body" validate:"required,max=50000"`
	DealID    *string `json:"dealId" validate:"omitnil,uuid"`
	ContactID *string `json:"contactId" validate:"omitnil,uuid"`
}

// SendEmailHandler sends an email and logs it as an EMAIL activity
// POST /api/v1/emails
func (h *EmailHandlers) SendEmailHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		ctx := c.Request.Context()

		var input sendEmailInput
		if err := validation.Bind(c, &input); err != nil {
			apierror.Respond(c, err)
			return
		}

		// Unknown ids are rejected before anything leaves the building.
		scope := h.store.Scope(p.Membership)
		refs := func(s *repositories.Scope) []reference {
			return []reference{
				{"dealId", input.DealID, s.Deals().Exists},
				{"contactId", input.ContactID, s.Contacts().Exists},
			}
		}
		if err := checkReferences(ctx, refs(scope)...); err != nil {
			apierror.Respond(c, err)
			return
		}

		msg := email.Message{
			To:      input.To,
			Subject: input.Subject,
			Text:    input.Body,
			HTML:    "<p>" + strings.ReplaceAll(html.EscapeString(input.Body), "\n", "<br/>") + "</p>",
		}
		if err := h.mailer.Send(ctx, msg); err != nil {
			slog.Error("failed to send email", "organization_id", scope.OrganizationID(), "error", err)
			apierror.Respond(c, err)
			return
		}

		activity := &models.Activity{
			OwnerID:   p.UserID(),
			DealID:    input.DealID,
			ContactID: input.ContactID,
			Type:      models.ActivityEmail,
			Title:     input.Subject,
			Note:      truncate(input.Body, activityNoteLimit),
		}
		err := h.store.WithinTx(ctx, p.Membership, func(s *repositories.Scope) error {
			if err := checkReferences(ctx, refs(s)...); err != nil {
				return err
			}
			if err := s.Activities().Create(ctx, activity); err != nil {
				return err
			}
			return record(ctx, h.recorder, s, p, models.AuditCreate, models.EntityActivity, activity.ID, nil, activity)
		})
		if err != nil {
			slog.Error("email sent but activity not logged", "to", input.To, "error", err)
			apierror.Respond(c, err)
			return
		}
		c.JSON(http.StatusCreated, activity)
	}
}

// truncate keeps at most n runes of s.
func truncate(s string, n int) *string {
	r := []rune(s)
	if len(r) > n {
		r = r[:n]
	}
	out := string(r)
	return &out
}
