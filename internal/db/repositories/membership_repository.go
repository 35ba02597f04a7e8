// membership_repository.go implements MembershipRepository, the
// organization-scoped view of memberships used by member administration.
package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/crm-platform/crm/internal/db/models"
)

// MembershipRepository handles membership rows of one organization
type MembershipRepository struct {
	q     dbtx
	orgID string
}

// memberRow is a membership flattened with its user's columns.
type memberRow struct {
	models.Membership
	UserEmail string  `db:"user_email"`
	UserName  *string `db:"user_name"`
}

// List returns every member with their user, oldest first.
func (r *MembershipRepository) List(ctx context.Context) ([]models.MembershipWithUser, error) {
	query := `
		SELECT m.*, u.email AS user_email, u.name AS user_name
		FROM memberships m
		JOIN users u ON u.id = m.user_id
		WHERE m.organization_id = $1
		ORDER BY m.created_at, m.id`
	var rows []memberRow
	if err := r.q.SelectContext(ctx, &rows, query, r.orgID); err != nil {
		return nil, fmt.Errorf("failed to list memberships: %w", err)
	}
	out := make([]models.MembershipWithUser, 0, len(rows))
	for _, row := range rows {
		out = append(out, models.MembershipWithUser{
			Membership: row.Membership,
			User:       models.UserSummary{ID: row.UserID, Email: row.UserEmail, Name: row.UserName},
		})
	}
	return out, nil
}

// Get retrieves a membership by ID
func (r *MembershipRepository) Get(ctx context.Context, id string) (*models.Membership, error) {
	return r.get(ctx, id, false)
}

// GetForUpdate retrieves and row-locks a membership
func (r *MembershipRepository) GetForUpdate(ctx context.Context, id string) (*models.Membership, error) {
	return r.get(ctx, id, true)
}

func (r *MembershipRepository) get(ctx context.Context, id string, forUpdate bool) (*models.Membership, error) {
	query := `SELECT * FROM memberships WHERE id = $1 AND organization_id = $2` + lockClause(forUpdate)
	m, err := getOne[models.Membership](ctx, r.q, query, id, r.orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to get membership: %w", err)
	}
	return m, nil
}

// FindByUser returns the user's membership in this organization, if any
func (r *MembershipRepository) FindByUser(ctx context.Context, userID string) (*models.Membership, error) {
	query := `SELECT * FROM memberships WHERE user_id = $1 AND organization_id = $2`
	m, err := getOne[models.Membership](ctx, r.q, query, userID, r.orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to find membership: %w", err)
	}
	return m, nil
}

// Create adds a user to the organization. ErrDuplicate means the user is
// already a member.
func (r *MembershipRepository) Create(ctx context.Context, userID string, role models.Role) (*models.Membership, error) {
	query := `
		INSERT INTO memberships (id, organization_id, user_id, role)
		VALUES ($1, $2, $3, $4)
		RETURNING *`
	m := &models.Membership{}
	if err := r.q.GetContext(ctx, m, query, uuid.New().String(), r.orgID, userID, role); err != nil {
		if isUniqueViolation(err) {
			return nil, ErrDuplicate
		}
		return nil, fmt.Errorf("failed to create membership: %w", err)
	}
	return m, nil
}

// FindOrCreateUser resolves an invitee by email on this scope's handle, so
// inside WithinTx a user created for a failed invitation is rolled back with
// it.
func (r *MembershipRepository) FindOrCreateUser(ctx context.Context, email string) (*models.User, error) {
	return findOrCreateUser(ctx, r.q, email)
}

// UpdateRole changes a member's role
func (r *MembershipRepository) UpdateRole(ctx context.Context, m *models.Membership) error {
	query := `
		UPDATE memberships SET role = $3, updated_at = NOW()
		WHERE id = $1 AND organization_id = $2
		RETURNING *`
	if err := r.q.GetContext(ctx, m, query, m.ID, r.orgID, m.Role); err != nil {
		return fmt.Errorf("failed to update membership: %w", err)
	}
	return nil
}

// Delete removes a membership
func (r *MembershipRepository) Delete(ctx context.Context, id string) (bool, error) {
	return deleteScoped(ctx, r.q, "memberships", r.orgID, id)
}

// LockOwners row-locks the organization's OWNER memberships and returns how
// many there are. Callers demoting or removing an owner hold this lock so
// two concurrent requests cannot both remove the last owner.
func (r *MembershipRepository) LockOwners(ctx context.Context) (int, error) {
	var ids []string
	query := `SELECT id FROM memberships WHERE organization_id = $1 AND role = $2 ORDER BY id FOR UPDATE`
	if err := r.q.SelectContext(ctx, &ids, query, r.orgID, models.RoleOwner); err != nil {
		return 0, fmt.Errorf("failed to lock owners: %w", err)
	}
	return len(ids), nil
}
