// organization_repository.go implements OrganizationRepository: the unscoped
// lookups the access guard needs before any tenant is known, and organization
// provisioning for new accounts.
package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/crm-platform/crm/internal/db/models"
)

// OrganizationRepository handles organization and membership lookups by user
type OrganizationRepository struct {
	db *sqlx.DB
}

// NewOrganizationRepository creates a new organization repository
func NewOrganizationRepository(db *sqlx.DB) *OrganizationRepository {
	return &OrganizationRepository{db: db}
}

// FindMembership returns the membership for the (user, organization) pair,
// or nil when the user does not belong to the organization.
func (r *OrganizationRepository) FindMembership(ctx context.Context, userID, orgID string) (*models.Membership, error) {
	query := `SELECT * FROM memberships WHERE user_id = $1 AND organization_id = $2`
	m, err := getOne[models.Membership](ctx, r.db, query, userID, orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to find membership: %w", err)
	}
	return m, nil
}

// DefaultMembership returns the user's oldest membership, used when a request
// names no organization. Nil means the user belongs to none.
func (r *OrganizationRepository) DefaultMembership(ctx context.Context, userID string) (*models.Membership, error) {
	query := `SELECT * FROM memberships WHERE user_id = $1 ORDER BY created_at, id LIMIT 1`
	m, err := getOne[models.Membership](ctx, r.db, query, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get default membership: %w", err)
	}
	return m, nil
}

// orgMemberRow is a membership flattened with its organization's columns.
type orgMemberRow struct {
	models.Membership
	OrgName string `db:"org_name"`
	OrgSlug string `db:"org_slug"`
}

// ListForUser returns every organization the user belongs to, oldest membership first.
func (r *OrganizationRepository) ListForUser(ctx context.Context, userID string) ([]models.MembershipWithOrganization, error) {
	query := `
		SELECT m.*, o.name AS org_name, o.slug AS org_slug
		FROM memberships m
		JOIN organizations o ON o.id = m.organization_id
		WHERE m.user_id = $1
		ORDER BY m.created_at, m.id`
	var rows []orgMemberRow
	if err := r.db.SelectContext(ctx, &rows, query, userID); err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	out := make([]models.MembershipWithOrganization, 0, len(rows))
	for _, row := range rows {
		out = append(out, models.MembershipWithOrganization{
			Membership:   row.Membership,
			Organization: models.OrganizationSummary{ID: row.OrganizationID, Name: row.OrgName, Slug: row.OrgSlug},
		})
	}
	return out, nil
}

// NewAccount is the input of Register.
type NewAccount struct {
	User             *models.User
	OrganizationName string
	OrganizationSlug string
	Token            *models.VerificationToken
}

// Register creates the user, their organization with an OWNER membership,
// the default pipeline and the email verification token in one transaction.
// ErrDuplicate means the email is already registered.
func (r *OrganizationRepository) Register(ctx context.Context, acct NewAccount) (*models.Membership, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	if err := createUser(ctx, tx, acct.User); err != nil {
		return nil, err
	}
	m, err := provision(ctx, tx, acct.User.ID, acct.OrganizationName, acct.OrganizationSlug)
	if err != nil {
		return nil, err
	}
	if acct.Token != nil {
		if err := createVerificationToken(ctx, tx, acct.Token); err != nil {
			return nil, err
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit registration: %w", err)
	}
	return m, nil
}

// Provision creates an organization owned by an existing user, with the
// default pipeline.
func (r *OrganizationRepository) Provision(ctx context.Context, userID, name, slug string) (*models.Membership, error) {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck

	m, err := provision(ctx, tx, userID, name, slug)
	if err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit organization: %w", err)
	}
	return m, nil
}

func provision(ctx context.Context, tx *sqlx.Tx, userID, name, slug string) (*models.Membership, error) {
	org := &models.Organization{}
	err := tx.GetContext(ctx, org,
		`INSERT INTO organizations (id, name, slug) VALUES ($1, $2, $3) RETURNING *`,
		uuid.New().String(), name, slug)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to create organization: %w", err)
	}

	m, err := (&MembershipRepository{q: tx, orgID: org.ID}).Create(ctx, userID, models.RoleOwner)
	if err != nil {
		return nil, err
	}
	if _, err := (&PipelineRepository{q: tx, orgID: org.ID}).createDefault(ctx); err != nil {
		return nil, err
	}
	return m, nil
}
