// file_repository.go implements FileRepository, the organization-scoped file
// attachment metadata. The bytes themselves live in a storage backend.
package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/crm-platform/crm/internal/db/models"
)

// FileRepository handles database operations for file metadata of one organization
type FileRepository struct {
	q     dbtx
	orgID string
}

// FileFilter narrows a file listing
type FileFilter struct {
	DealID    string
	ContactID string
}

// NewID allocates a file id so the storage key can be derived before insert.
func (r *FileRepository) NewID() string {
	return uuid.New().String()
}

// List returns matching files, newest first.
func (r *FileRepository) List(ctx context.Context, f FileFilter) ([]models.File, error) {
	conds := &conditions{}
	conds.add("organization_id = $%d", r.orgID)
	conds.addOptional("deal_id = $%d", f.DealID)
	conds.addOptional("contact_id = $%d", f.ContactID)

	files := []models.File{}
	query := `SELECT * FROM files` + conds.where() + ` ORDER BY created_at DESC, id`
	if err := r.q.SelectContext(ctx, &files, query, conds.args...); err != nil {
		return nil, fmt.Errorf("failed to list files: %w", err)
	}
	return files, nil
}

// Get retrieves file metadata by ID
func (r *FileRepository) Get(ctx context.Context, id string) (*models.File, error) {
	return r.get(ctx, id, false)
}

// GetForUpdate retrieves and row-locks file metadata
func (r *FileRepository) GetForUpdate(ctx context.Context, id string) (*models.File, error) {
	return r.get(ctx, id, true)
}

func (r *FileRepository) get(ctx context.Context, id string, forUpdate bool) (*models.File, error) {
	query := `SELECT * FROM files WHERE id = $1 AND organization_id = $2` + lockClause(forUpdate)
	f, err := getOne[models.File](ctx, r.q, query, id, r.orgID)
	if err != nil {
		return nil, fmt.Errorf("failed to get file: %w", err)
	}
	return f, nil
}

// Create inserts file metadata. f.ID must be set, see NewID.
func (r *FileRepository) Create(ctx context.Context, f *models.File) error {
	query := `
		INSERT INTO files (id, organization_id, owner_id, deal_id, contact_id, filename, bucket,
		                   storage_key, mime, size, checksum_sha256)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
		RETURNING *`
	err := r.q.GetContext(ctx, f, query,
		f.ID, r.orgID, f.OwnerID, f.DealID, f.ContactID, f.Filename, f.Bucket,
		f.StorageKey, f.MIME, f.Size, f.ChecksumSHA256)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	return nil
}

// Delete removes file metadata
func (r *FileRepository) Delete(ctx context.Context, id string) (bool, error) {
	return deleteScoped(ctx, r.q, "files", r.orgID, id)
}
