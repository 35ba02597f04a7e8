// activity_repository.go implements ActivityRepository, the organization-scoped
// queries for calls, emails, meetings and tasks.
package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/crm-platform/crm/internal/db/models"
)

// ActivityRepository handles database operations for activities of one organization
type ActivityRepository struct {
	q     dbtx
	orgID string
}

// ActivityFilter narrows an activity listing
type ActivityFilter struct {
	Type      string
	DealID    string
	ContactID string
}

// List returns matching activities, newest first.
func (r *ActivityRepository) List(ctx context.Context, f ActivityFilter) ([]models.Activity, error) {
	conds := &conditions{}
	conds.add("organization_id = $%d", r.orgID)
	conds.addOptional("type = $%d", f.Type)
	conds.addOptional("deal_id = $%d", f.DealID)
	conds.addOptional("contact_id = $%d", f.ContactID)

	activities := []models.Activity{}
	query := `SELECT * FROM activities` + conds.where() + ` ORDER BY created_at DESC, id`
	if err := r.q.SelectContext(ctx, &activities, query, conds.args...); err != nil {
		return nil, fmt.Errorf("failed to list activities: %w", err)
	}
	return activities, nil
}

// Get retrieves an activity by ID
func (r *ActivityRepository) Get(ctx context.Context, id string) (*models.Activity, error) {
	return r.get(ctx, id, false)
}

// GetForUpdate retrieves and row-locks an activity
func (r *ActivityRepository) GetForUpdate(ctx context.Context, id string) (*models.Activity, error) {
	return r.get(ctx, id, true)
}

func (r *ActivityRepository) get(ctx context.Context, id string, forUpdate bool) (*models.Activity, error) {
	query := `SELECT * FROM activities WHERE id = $1 AND organization_id = $2` + lockClause(forUpdate)
	a, err := getOne[models.Activity](ctx, r.q, query, id, r.orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to get activity: %w", err)
	}
	return a, nil
}

// Create inserts an activity
func (r *ActivityRepository) Create(ctx context.Context, a *models.Activity) error {
	query := `
		INSERT INTO activities (id, organization_id, owner_id, deal_id, contact_id, type, title,
		                        note, due_at, completed_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING *`
	err := r.q.GetContext(ctx, a, query,
		uuid.New().String(), r.orgID, a.OwnerID, a.DealID, a.ContactID, a.Type, a.Title,
		a.Note, a.DueAt, a.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to create activity: %w", err)
	}
	return nil
}

// Update writes the editable fields and bumps the version
func (r *ActivityRepository) Update(ctx context.Context, a *models.Activity) error {
	query := `
		UPDATE activities
		SET deal_id = $3, contact_id = $4, type = $5, title = $6, note = $7,
		    due_at = $8, completed_at = $9, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND organization_id = $2
		RETURNING *`
	err := r.q.GetContext(ctx, a, query,
		a.ID, r.orgID, a.DealID, a.ContactID, a.Type, a.Title, a.Note, a.DueAt, a.CompletedAt)
	if err != nil {
		return fmt.Errorf("failed to update activity: %w", err)
	}
	return nil
}

// Delete removes an activity
func (r *ActivityRepository) Delete(ctx context.Context, id string) (bool, error) {
	return deleteScoped(ctx, r.q, "activities", r.orgID, id)
}
