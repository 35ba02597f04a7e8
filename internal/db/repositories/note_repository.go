// note_repository.go implements NoteRepository
package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/crm-platform/crm/internal/db/models"
)

// NoteRepository handles database operations for notes of one organization
type NoteRepository struct {
	q     dbtx
	orgID string
}

// NoteFilter narrows a note listing
type NoteFilter struct {
	DealID    string
	ContactID string
}

// List returns matching notes, newest first.
func (r *NoteRepository) List(ctx context.Context, f NoteFilter) ([]models.Note, error) {
	conds := &conditions{}
	conds.add("organization_id = $%d", r.orgID)
	conds.addOptional("deal_id = $%d", f.DealID)
	conds.addOptional("contact_id = $%d", f.ContactID)

	notes := []models.Note{}
	query := `SELECT * FROM notes` + conds.where() + ` ORDER BY created_at DESC, id`
	if err := r.q.SelectContext(ctx, &notes, query, conds.args...); err != nil {
		return nil, fmt.Errorf("failed to list notes: %w", err)
	}
	return notes, nil
}

// Get retrieves a note by ID
func (r *NoteRepository) Get(ctx context.Context, id string) (*models.Note, error) {
	return r.get(ctx, id, false)
}

// GetForUpdate retrieves and row-locks a note
func (r *NoteRepository) GetForUpdate(ctx context.Context, id string) (*models.Note, error) {
	return r.get(ctx, id, true)
}

func (r *NoteRepository) get(ctx context.Context, id string, forUpdate bool) (*models.Note, error) {
	query := `SELECT * FROM notes WHERE id = $1 AND organization_id = $2` + lockClause(forUpdate)
	n, err := getOne[models.Note](ctx, r.q, query, id, r.orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to get note: %w", err)
	}
	return n, nil
}

// Create inserts a note
func (r *NoteRepository) Create(ctx context.Context, n *models.Note) error {
	query := `
		INSERT INTO notes (id, organization_id, author_id, deal_id, contact_id, body)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING *`
	err := r.q.GetContext(ctx, n, query,
		uuid.New().String(), r.orgID, n.AuthorID, n.DealID, n.ContactID, n.Body)
	if err != nil {
		return fmt.Errorf("failed to create note: %w", err)
	}
	return nil
}

// Update writes the editable fields and bumps the version
func (r *NoteRepository) Update(ctx context.Context, n *models.Note) error {
	query := `
		UPDATE notes
		SET deal_id = $3, contact_id = $4, body = $5, version = version + 1, updated_at = NOW()
		WHERE id = $1 AND organization_id = $2
		RETURNING *`
	if err := r.q.GetContext(ctx, n, query, n.ID, r.orgID, n.DealID, n.ContactID, n.Body); err != nil {
		return fmt.Errorf("failed to update note: %w", err)
	}
	return nil
}

// Delete removes a note
func (r *NoteRepository) Delete(ctx context.Context, id string) (bool, error) {
	return deleteScoped(ctx, r.q, "notes", r.orgID, id)
}
