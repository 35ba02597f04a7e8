// company_repository.go implements CompanyRepository, the organization-scoped
// queries for companies.
package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/crm-platform/crm/internal/db/models"
)

// CompanyRepository handles database operations for companies of one organization
type CompanyRepository struct {
	q     dbtx
	orgID string
}

// CompanyFilter narrows a company listing
type CompanyFilter struct {
	Query string // case-insensitive match on name or domain
	Page
}

// List returns one page of companies ordered by name, and the total match count.
func (r *CompanyRepository) List(ctx context.Context, f CompanyFilter) ([]models.Company, int, error) {
	conds := &conditions{}
	conds.add("organization_id = $%d", r.orgID)
	if f.Query != "" {
		conds.add("(name ILIKE $%[1]d OR domain ILIKE $%[1]d)", "%"+f.Query+"%")
	}

	var total int
	if err := r.q.GetContext(ctx, &total, `SELECT COUNT(*) FROM companies`+conds.where(), conds.args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count companies: %w", err)
	}

	query := fmt.Sprintf(`SELECT * FROM companies%s ORDER BY name, id LIMIT $%d OFFSET $%d`,
		conds.where(), conds.next(), conds.next()+1)
	companies := []models.Company{}
	if err := r.q.SelectContext(ctx, &companies, query, append(conds.args, f.Limit, f.Offset)...); err != nil {
		return nil, 0, fmt.Errorf("failed to list companies: %w", err)
	}
	return companies, total, nil
}

// Get retrieves a company by ID
func (r *CompanyRepository) Get(ctx context.Context, id string) (*models.Company, error) {
	return r.get(ctx, id, false)
}

// GetForUpdate retrieves and row-locks a company; it must run inside WithinTx.
func (r *CompanyRepository) GetForUpdate(ctx context.Context, id string) (*models.Company, error) {
	return r.get(ctx, id, true)
}

func (r *CompanyRepository) get(ctx context.Context, id string, forUpdate bool) (*models.Company, error) {
	query := `SELECT * FROM companies WHERE id = $1 AND organization_id = $2` + lockClause(forUpdate)
	c, err := getOne[models.Company](ctx, r.q, query, id, r.orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to get company: %w", err)
	}
	return c, nil
}

// Exists reports whether the company belongs to the organization
func (r *CompanyRepository) Exists(ctx context.Context, id string) (bool, error) {
	return exists(ctx, r.q, "companies", r.orgID, id)
}

// Create inserts a company and fills in the server-assigned fields
func (r *CompanyRepository) Create(ctx context.Context, c *models.Company) error {
	query := `
		INSERT INTO companies (id, organization_id, owner_id, name, domain, phone, website)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING *`
	err := r.q.GetContext(ctx, c, query,
		uuid.New().String(), r.orgID, c.OwnerID, c.Name, c.Domain, c.Phone, c.Website)
	if err != nil {
		return fmt.Errorf("failed to create company: %w", err)
	}
	return nil
}

// Update writes the editable fields and bumps the version
func (r *CompanyRepository) Update(ctx context.Context, c *models.Company) error {
	query := `
		UPDATE companies
		SET name = $3, domain = $4, phone = $5, website = $6,
		    version = version + 1, updated_at = NOW()
		WHERE id = $1 AND organization_id = $2
		RETURNING *`
	err := r.q.GetContext(ctx, c, query, c.ID, r.orgID, c.Name, c.Domain, c.Phone, c.Website)
	if err != nil {
		return fmt.Errorf("failed to update company: %w", err)
	}
	return nil
}

// Delete removes a company; false means it did not exist in this organization.
func (r *CompanyRepository) Delete(ctx context.Context, id string) (bool, error) {
	return deleteScoped(ctx, r.q, "companies", r.orgID, id)
}
