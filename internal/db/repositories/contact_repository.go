// contact_repository.go implements ContactRepository, the organization-scoped
// queries for contacts.
package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/crm-platform/crm/internal/db/models"
)

// ContactRepository handles database operations for contacts of one organization
type ContactRepository struct {
	q     dbtx
	orgID string
}

// ContactFilter narrows a contact listing
type ContactFilter struct {
	Query     string
	CompanyID string
	Page
}

// List returns one page of contacts, newest first, and the total match count.
func (r *ContactRepository) List(ctx context.Context, f ContactFilter) ([]models.Contact, int, error) {
	conds := &conditions{}
	conds.add("organization_id = $%d", r.orgID)
	conds.addOptional("company_id = $%d", f.CompanyID)
	if f.Query != "" {
		conds.add("(first_name ILIKE $%[1]d OR last_name ILIKE $%[1]d OR email ILIKE $%[1]d)", "%"+f.Query+"%")
	}

	var total int
	if err := r.q.GetContext(ctx, &total, `SELECT COUNT(*) FROM contacts`+conds.where(), conds.args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count contacts: %w", err)
	}

	query := fmt.Sprintf(`SELECT * FROM contacts%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		conds.where(), conds.next(), conds.next()+1)
	contacts := []models.Contact{}
	if err := r.q.SelectContext(ctx, &contacts, query, append(conds.args, f.Limit, f.Offset)...); err != nil {
		return nil, 0, fmt.Errorf("failed to list contacts: %w", err)
	}
	return contacts, total, nil
}

// Get retrieves a contact by ID
func (r *ContactRepository) Get(ctx context.Context, id string) (*models.Contact, error) {
	return r.get(ctx, id, false)
}

// GetForUpdate retrieves and row-locks a contact
func (r *ContactRepository) GetForUpdate(ctx context.Context, id string) (*models.Contact, error) {
	return r.get(ctx, id, true)
}

func (r *ContactRepository) get(ctx context.Context, id string, forUpdate bool) (*models.Contact, error) {
	query := `SELECT * FROM contacts WHERE id = $1 AND organization_id = $2` + lockClause(forUpdate)
	c, err := getOne[models.Contact](ctx, r.q, query, id, r.orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to get contact: %w", err)
	}
	return c, nil
}

// Exists reports whether the contact belongs to the organization
func (r *ContactRepository) Exists(ctx context.Context, id string) (bool, error) {
	return exists(ctx, r.q, "contacts", r.orgID, id)
}

// Create inserts a contact
func (r *ContactRepository) Create(ctx context.Context, c *models.Contact) error {
	query := `
		INSERT INTO contacts (id, organization_id, owner_id, company_id, first_name, last_name, email, phone)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING *`
	err := r.q.GetContext(ctx, c, query,
		uuid.New().String(), r.orgID, c.OwnerID, c.CompanyID, c.FirstName, c.LastName, c.Email, c.Phone)
	if err != nil {
		return fmt.Errorf("failed to create contact: %w", err)
	}
	return nil
}

// Update writes the editable fields and bumps the version
func (r *ContactRepository) Update(ctx context.Context, c *models.Contact) error {
	query := `
		UPDATE contacts
		SET company_id = $3, first_name = $4, last_name = $5, email = $6, phone = $7,
		    version = version + 1, updated_at = NOW()
		WHERE id = $1 AND organization_id = $2
		RETURNING *`
	err := r.q.GetContext(ctx, c, query,
		c.ID, r.orgID, c.CompanyID, c.FirstName, c.LastName, c.Email, c.Phone)
	if err != nil {
		return fmt.Errorf("failed to update contact: %w", err)
	}
	return nil
}

// Delete removes a contact
func (r *ContactRepository) Delete(ctx context.Context, id string) (bool, error) {
	return deleteScoped(ctx, r.q, "contacts", r.orgID, id)
}
