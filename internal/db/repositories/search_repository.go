// search_repository.go implements SearchRepository, full-text lookup across
// companies, contacts and deals of one organization.
package repositories

import (
	"context"
	"fmt"

	"github.com/crm-platform/crm/internal/db/models"
)

// SearchLimit caps the number of hits returned by Search.
const SearchLimit = 20

// SearchRepository runs organization-scoped text search
type SearchRepository struct {
	q     dbtx
	orgID string
}

// Search matches term against company name and domain, contact name and
// email, and deal title using the 'simple' text search configuration.
func (r *SearchRepository) Search(ctx context.Context, term string) ([]models.SearchResult, error) {
	query := `
		SELECT 'company' AS type, id::text AS id, name AS label
		FROM companies
		WHERE organization_id = $1
		  AND to_tsvector('simple', coalesce(name, '') || ' ' || coalesce(domain, '')) @@ plainto_tsquery('simple', $2)
		UNION ALL
		SELECT 'contact' AS type, id::text AS id, first_name || ' ' || last_name AS label
		FROM contacts
		WHERE organization_id = $1
		  AND to_tsvector('simple', first_name || ' ' || last_name || ' ' || coalesce(email, '')) @@ plainto_tsquery('simple', $2)
		UNION ALL
		SELECT 'deal' AS type, id::text AS id, title AS label
		FROM deals
		WHERE organization_id = $1
		  AND to_tsvector('simple', title) @@ plainto_tsquery('simple', $2)
		LIMIT $3`

	results := []models.SearchResult{}
	if err := r.q.SelectContext(ctx, &results, query, r.orgID, term, SearchLimit); err != nil {
		return nil, fmt.Errorf("failed to search: %w", err)
	}
	return results, nil
}
