// tenant_organization_repository.go implements the scoped view of the
// organization row itself: the only organization a Scope can read or change
// is its own.
package repositories

import (
	"context"
	"fmt"

	"github.com/crm-platform/crm/internal/db/models"
)

// TenantOrganizationRepository reads and writes the scope's own organization
type TenantOrganizationRepository struct {
	q     dbtx
	orgID string
}

// Get retrieves the organization
func (r *TenantOrganizationRepository) Get(ctx context.Context) (*models.Organization, error) {
	return r.get(ctx, false)
}

// GetForUpdate retrieves and row-locks the organization
func (r *TenantOrganizationRepository) GetForUpdate(ctx context.Context) (*models.Organization, error) {
	return r.get(ctx, true)
}

func (r *TenantOrganizationRepository) get(ctx context.Context, forUpdate bool) (*models.Organization, error) {
	query := `SELECT * FROM organizations WHERE id = $1` + lockClause(forUpdate)
	org, err := getOne[models.Organization](ctx, r.q, query, r.orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to get organization: %w", err)
	}
	return org, nil
}

// Update writes name and slug. ErrDuplicate means the slug is taken.
func (r *TenantOrganizationRepository) Update(ctx context.Context, org *models.Organization) error {
	query := `
		UPDATE organizations SET name = $2, slug = $3, updated_at = NOW()
		WHERE id = $1
		RETURNING *`
	if err := r.q.GetContext(ctx, org, query, r.orgID, org.Name, org.Slug); err != nil {
		if isUniqueViolation(err) {
			return ErrDuplicate
		}
		return fmt.Errorf("failed to update organization: %w", err)
	}
	return nil
}

// Delete removes the organization and, by cascade, every scoped row it owns.
func (r *TenantOrganizationRepository) Delete(ctx context.Context) (bool, error) {
	res, err := r.q.ExecContext(ctx, `DELETE FROM organizations WHERE id = $1`, r.orgID)
	if err != nil {
		return false, fmt.Errorf("failed to delete organization: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("failed to delete organization: %w", err)
	}
	return n > 0, nil
}
