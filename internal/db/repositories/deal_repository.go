// deal_repository.go implements DealRepository, the organization-scoped queries
// for deals and the deal detail view.
package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/crm-platform/crm/internal/db/models"
)

// DealRepository handles database operations for deals of one organization
type DealRepository struct {
	q     dbtx
	orgID string
}

// DealFilter narrows a deal listing
type DealFilter struct {
	Status     string
	StageID    string
	PipelineID string
	Page
}

// List returns one page of deals, newest first, and the total match count.
func (r *DealRepository) List(ctx context.Context, f DealFilter) ([]models.Deal, int, error) {
	conds := &conditions{}
	conds.add("organization_id = $%d", r.orgID)
	conds.addOptional("status = $%d", f.Status)
	conds.addOptional("stage_id = $%d", f.StageID)
	conds.addOptional("pipeline_id = $%d", f.PipelineID)

	var total int
	if err := r.q.GetContext(ctx, &total, `SELECT COUNT(*) FROM deals`+conds.where(), conds.args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count deals: %w", err)
	}

	query := fmt.Sprintf(`SELECT * FROM deals%s ORDER BY created_at DESC, id LIMIT $%d OFFSET $%d`,
		conds.where(), conds.next(), conds.next()+1)
	deals := []models.Deal{}
	if err := r.q.SelectContext(ctx, &deals, query, append(conds.args, f.Limit, f.Offset)...); err != nil {
		return nil, 0, fmt.Errorf("failed to list deals: %w", err)
	}
	return deals, total, nil
}

// Get retrieves a deal by ID
func (r *DealRepository) Get(ctx context.Context, id string) (*models.Deal, error) {
	return r.get(ctx, id, false)
}

// GetForUpdate retrieves and row-locks a deal
func (r *DealRepository) GetForUpdate(ctx context.Context, id string) (*models.Deal, error) {
	return r.get(ctx, id, true)
}

func (r *DealRepository) get(ctx context.Context, id string, forUpdate bool) (*models.Deal, error) {
	query := `SELECT * FROM deals WHERE id = $1 AND organization_id = $2` + lockClause(forUpdate)
	d, err := getOne[models.Deal](ctx, r.q, query, id, r.orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to get deal: %w", err)
	}
	return d, nil
}

// GetDetail retrieves a deal with its company, contact, owner and stage.
func (r *DealRepository) GetDetail(ctx context.Context, id string) (*models.DealDetail, error) {
	deal, err := r.Get(ctx, id)
	if err != nil || deal == nil {
		return nil, err
	}
	detail := &models.DealDetail{Deal: *deal}

	if deal.CompanyID != nil {
		if detail.Company, err = (&CompanyRepository{q: r.q, orgID: r.orgID}).Get(ctx, *deal.CompanyID); err != nil {
			return nil, err
		}
	}
	if deal.ContactID != nil {
		if detail.Contact, err = (&ContactRepository{q: r.q, orgID: r.orgID}).Get(ctx, *deal.ContactID); err != nil {
			return nil, err
		}
	}
	if deal.OwnerID != nil {
		detail.Owner, err = getOne[models.UserSummary](ctx, r.q,
			`SELECT id, email, name FROM users WHERE id = $1`, *deal.OwnerID)
		if err != nil {
			return nil, fmt.Errorf("failed to get deal owner: %w", err)
		}
	}
	if detail.Stage, err = (&PipelineRepository{q: r.q, orgID: r.orgID}).GetStage(ctx, deal.StageID); err != nil {
		return nil, err
	}
	return detail, nil
}

// Exists reports whether the deal belongs to the organization
func (r *DealRepository) Exists(ctx context.Context, id string) (bool, error) {
	return exists(ctx, r.q, "deals", r.orgID, id)
}

// Create inserts a deal
func (r *DealRepository) Create(ctx context.Context, d *models.Deal) error {
	query := `
		INSERT INTO deals (id, organization_id, owner_id, company_id, contact_id, pipeline_id,
		                   stage_id, title, value_cents, currency, status, close_date)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
		RETURNING *`
	err := r.q.GetContext(ctx, d, query,
		uuid.New().String(), r.orgID, d.OwnerID, d.CompanyID, d.ContactID, d.PipelineID,
		d.StageID, d.Title, d.ValueCents, d.Currency, d.Status, d.CloseDate)
	if err != nil {
		return fmt.Errorf("failed to create deal: %w", err)
	}
	return nil
}

// Update writes the editable fields and bumps the version
func (r *DealRepository) Update(ctx context.Context, d *models.Deal) error {
	query := `
		UPDATE deals
		SET company_id = $3, contact_id = $4, pipeline_id = $5, stage_id = $6, title = $7,
		    value_cents = $8, currency = $9, status = $10, close_date = $11,
		    version = version + 1, updated_at = NOW()
		WHERE id = $1 AND organization_id = $2
		RETURNING *`
	err := r.q.GetContext(ctx, d, query,
		d.ID, r.orgID, d.CompanyID, d.ContactID, d.PipelineID, d.StageID, d.Title,
		d.ValueCents, d.Currency, d.Status, d.CloseDate)
	if err != nil {
		return fmt.Errorf("failed to update deal: %w", err)
	}
	return nil
}

// Delete removes a deal
func (r *DealRepository) Delete(ctx context.Context, id string) (bool, error) {
	return deleteScoped(ctx, r.q, "deals", r.orgID, id)
}
