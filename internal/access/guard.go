// Package access implements the guard every CRM operation passes through: it
// resolves the caller to a user and to that user's membership in the active
// organization, then checks the membership's role against the roles the
// operation accepts.
//
// The active organization is explicit. It comes from the request (header or
// token claim) and the membership is looked up by (user, organization). Only
// when the caller names no organization does the guard fall back to the
// user's oldest membership.
package access

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/crm-platform/crm/internal/apierror"
	"github.com/crm-platform/crm/internal/db/models"
)

// Identity is what the authentication layer knows about the caller.
// OrganizationID is empty when the request names no organization.
type Identity struct {
	UserID         string
	OrganizationID string
}

// Principal is an authorized caller. Membership.OrganizationID is the tenant
// every subsequent query must be scoped to.
type Principal struct {
	User       *models.User
	Membership *models.Membership
}

// Role is shorthand for the membership role.
func (p *Principal) Role() models.Role { return p.Membership.Role }

// UserID returns a pointer suitable for owner and actor columns.
func (p *Principal) UserID() *string {
	id := p.User.ID
	return &id
}

// UserFinder loads users by id.
type UserFinder interface {
	GetByID(ctx context.Context, id string) (*models.User, error)
}

// MembershipFinder loads memberships by their composite key.
type MembershipFinder interface {
	FindMembership(ctx context.Context, userID, orgID string) (*models.Membership, error)
	DefaultMembership(ctx context.Context, userID string) (*models.Membership, error)
}

// Guard authorizes callers. It has no side effects.
type Guard struct {
	users       UserFinder
	memberships MembershipFinder
}

// NewGuard creates a guard.
func NewGuard(users UserFinder, memberships MembershipFinder) *Guard {
	return &Guard{users: users, memberships: memberships}
}

// Authorize returns the caller's principal when one of roles is held in the
// active organization. It fails with apierror.ErrUnauthenticated when no user
// resolves and apierror.ErrForbidden when the membership is missing or its
// role is not accepted. roles must not be empty.
func (g *Guard) Authorize(ctx context.Context, id *Identity, roles ...models.Role) (*Principal, error) {
	if len(roles) == 0 {
		panic("access: Authorize requires at least one role")
	}
	if id == nil || id.UserID == "" {
		return nil, apierror.ErrUnauthenticated
	}

	user, err := g.users.GetByID(ctx, id.UserID)
	if err != nil {
		return nil, fmt.Errorf("failed to load user: %w", err)
	}
	if user == nil {
		return nil, apierror.ErrUnauthenticated
	}

	var membership *models.Membership
	if id.OrganizationID != "" {
		if _, err := uuid.Parse(id.OrganizationID); err != nil {
			return nil, apierror.ErrForbidden
		}
		membership, err = g.memberships.FindMembership(ctx, user.ID, id.OrganizationID)
	} else {
		membership, err = g.memberships.DefaultMembership(ctx, user.ID)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load membership: %w", err)
	}
	if membership == nil || !membership.Role.In(roles) {
		return nil, apierror.ErrForbidden
	}

	return &Principal{User: user, Membership: membership}, nil
}
