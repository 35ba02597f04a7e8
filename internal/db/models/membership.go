// Package models - membership.go defines the (user, organization, role)
// membership and the ordered role set REP < ADMIN < OWNER.
package models

import (
	"fmt"
	"strings"
	"time"
)

// Role is a membership role inside one organization.
type Role string

const (
	RoleRep   Role = "REP"
	RoleAdmin Role = "ADMIN"
	RoleOwner Role = "OWNER"
)

// AllRoles lists every role from least to most privileged.
var AllRoles = []Role{RoleRep, RoleAdmin, RoleOwner}

// ParseRole accepts a role name in any case.
func ParseRole(s string) (Role, error) {
	r := Role(strings.ToUpper(strings.TrimSpace(s)))
	if !r.Valid() {
		return "", fmt.Errorf("unknown role %q", s)
	}
	return r, nil
}

// Valid reports whether r is one of the known roles.
func (r Role) Valid() bool {
	return r.Rank() > 0
}

// Rank orders roles; 0 means unknown.
func (r Role) Rank() int {
	switch r {
	case RoleRep:
		return 1
	case RoleAdmin:
		return 2
	case RoleOwner:
		return 3
	}
	return 0
}

// In reports whether r is a member of roles.
func (r Role) In(roles []Role) bool {
	for _, candidate := range roles {
		if candidate == r {
			return true
		}
	}
	return false
}

// Membership binds a user to an organization with a role. A user holds at
// most one membership per organization.
type Membership struct {
	ID             string    `db:"id" json:"id"`
	OrganizationID string    `db:"organization_id" json:"organizationId"`
	UserID         string    `db:"user_id" json:"userId"`
	Role           Role      `db:"role" json:"role"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time `db:"updated_at" json:"updatedAt"`
}

// MembershipWithUser is a membership joined with its user for member listings.
type MembershipWithUser struct {
	Membership
	User UserSummary `db:"-" json:"user"`
}

// MembershipWithOrganization is a membership joined with its organization,
// used when a user lists the tenants they belong to.
type MembershipWithOrganization struct {
	Membership
	Organization OrganizationSummary `db:"-" json:"organization"`
}

// OrganizationSummary is the organization projection embedded in memberships.
type OrganizationSummary struct {
	ID   string `db:"id" json:"id"`
	Name string `db:"name" json:"name"`
	Slug string `db:"slug" json:"slug"`
}
