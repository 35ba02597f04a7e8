// memberships.go implements handlers for listing, inviting, re-roling and
// removing the members of an organization.
package admin

import (
	"context"
	"errors"
	"log/slog"
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

// Inviter notifies a user they were added to an organization.
type Inviter interface {
	SendInvitation(ctx context.Context, to, orgName string) error
}

// MembershipHandlers handles membership management endpoints
type MembershipHandlers struct {
	store    *repositories.TenantStore
	recorder *audit.Recorder
	inviter  Inviter
}

// NewMembershipHandlers creates a new MembershipHandlers instance
func NewMembershipHandlers(store *repositories.TenantStore, recorder *audit.Recorder, inviter Inviter) *MembershipHandlers {
	return &MembershipHandlers{store: store, recorder: recorder, inviter: inviter}
}

type inviteInput struct {
	Email string `json:"email" validate:"required,email,max=255"`
	Role  string `json:"role" validate:"required,oneof=REP ADMIN OWNER"`
}

type updateMembershipInput struct {
	Role string `json:"role" validate:"required,oneof=REP ADMIN OWNER"`
}

// errLastOwner rejects any change that would leave the organization without
// an owner.
var errLastOwner = apierror.Conflict("Organization must keep at least one owner")

// @Summary      List members
// @Tags         Memberships
// @Security     Bearer
// @Produce      json
// @Success      200  {array}   models.MembershipWithUser
// @Router       /api/v1/memberships [get]
// ListMembershipsHandler lists members with their user
// GET /api/v1/memberships
func (h *MembershipHandlers) ListMembershipsHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		members, err := h.store.Scope(p.Membership).Memberships().List(c.Request.Context())
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, members)
	}
}

// @Summary      Invite member
// @Description  Adds the user with the given email to the organization, creating the user when unknown, and emails an invitation.
// @Tags         Memberships
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Success      201  {object}  models.Membership
// @Failure      400  {object}  map[string]interface{}  "Already a member"
// @Router       /api/v1/memberships [post]
// InviteMemberHandler adds a user to the organization
// POST /api/v1/memberships
func (h *MembershipHandlers) InviteMemberHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		ctx := c.Request.Context()

		var input inviteInput
		if err := validation.Bind(c, &input); err != nil {
			apierror.Respond(c, err)
			return
		}
		input.Email = strings.ToLower(input.Email)

		var user *models.User
		var member *models.Membership
		var orgName string
		// The invitee is created in the same transaction as the membership,
		// so a rejected invitation leaves no user behind.
		err := h.store.WithinTx(ctx, p.Membership, func(s *repositories.Scope) error {
			org, err := s.Organization().Get(ctx)
			if err != nil {
				return err
			}
			if org == nil {
				return apierror.ErrNotFound
			}
			orgName = org.Name

			members := s.Memberships()
			if user, err = members.FindOrCreateUser(ctx, input.Email); err != nil {
				return err
			}
			member, err = members.Create(ctx, user.ID, models.Role(input.Role))
			if errors.Is(err, repositories.ErrDuplicate) {
				return apierror.BadRequest("Already a member")
			}
			if err != nil {
				return err
			}
			return record(ctx, h.recorder, s, p, models.AuditCreate, models.EntityMembership, member.ID, nil, member)
		})
		if err != nil {
			apierror.Respond(c, err)
			return
		}

		// The membership stands even when the invitation cannot be delivered.
		if err := h.inviter.SendInvitation(ctx, user.Email, orgName); err != nil {
			slog.Warn("failed to send invitation",
				"organization_id", p.Membership.OrganizationID,
				"membership_id", member.ID,
				"error", err,
			)
		}
		c.JSON(http.StatusCreated, member)
	}
}

// @Summary      Change member role
// @Tags         Memberships
// @Security     Bearer
// @Accept       json
// @Produce      json
// @Success      200  {object}  models.Membership
// @Failure      409  {object}  map[string]interface{}  "Last owner"
// @Router       /api/v1/memberships/{id} [patch]
// UpdateMembershipHandler changes a member's role
// PATCH /api/v1/memberships/:id
func (h *MembershipHandlers) UpdateMembershipHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		ctx := c.Request.Context()
		id, err := params.ID(c, "id")
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		var input updateMembershipInput
		if err := validation.DecodeJSON(c, &input); err != nil {
			apierror.Respond(c, err)
			return
		}

		var updated models.Membership
		err = h.store.WithinTx(ctx, p.Membership, func(s *repositories.Scope) error {
			members := s.Memberships()
			// Owners are locked before the target row so concurrent demotions
			// serialize on the same rows in the same order.
			owners, err := members.LockOwners(ctx)
			if err != nil {
				return err
			}
			existing, err := members.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if existing == nil {
				return apierror.ErrNotFound
			}
			if err := validation.Struct(&input); err != nil {
				return err
			}

			role := models.Role(input.Role)
			if existing.Role == models.RoleOwner && role != models.RoleOwner && owners <= 1 {
				return errLastOwner
			}
			updated = *existing
			updated.Role = role
			if err := members.UpdateRole(ctx, &updated); err != nil {
				return err
			}
			return record(ctx, h.recorder, s, p, models.AuditUpdate, models.EntityMembership, id, existing, &updated)
		})
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, &updated)
	}
}

// @Summary      Remove member
// @Tags         Memberships
// @Security     Bearer
// @Success      204
// @Failure      409  {object}  map[string]interface{}  "Last owner"
// @Router       /api/v1/memberships/{id} [delete]
// DeleteMembershipHandler removes a member from the organization
// DELETE /api/v1/memberships/:id
func (h *MembershipHandlers) DeleteMembershipHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		ctx := c.Request.Context()
		id, err := params.ID(c, "id")
		if err != nil {
			apierror.Respond(c, err)
			return
		}

		err = h.store.WithinTx(ctx, p.Membership, func(s *repositories.Scope) error {
			members := s.Memberships()
			owners, err := members.LockOwners(ctx)
			if err != nil {
				return err
			}
			existing, err := members.GetForUpdate(ctx, id)
			if err != nil {
				return err
			}
			if existing == nil {
				return apierror.ErrNotFound
			}
			if existing.Role == models.RoleOwner && owners <= 1 {
				return errLastOwner
			}
			if _, err := members.Delete(ctx, id); err != nil {
				return err
			}
			return record(ctx, h.recorder, s, p, models.AuditDelete, models.EntityMembership, id, existing, nil)
		})
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		c.Status(http.StatusNoContent)
	}
}
