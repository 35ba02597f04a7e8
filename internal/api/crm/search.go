package crm

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/crm-platform/crm/internal/apierror"
	"github.com/crm-platform/crm/internal/db/models"
	"github.com/crm-platform/crm/internal/db/repositories"
)

// SearchHandlers handles the global search endpoint
type SearchHandlers struct {
	store *repositories.TenantStore
}

// NewSearchHandlers creates a new SearchHandlers instance
func NewSearchHandlers(store *repositories.TenantStore) *SearchHandlers {
	return &SearchHandlers{store: store}
}

// SearchHandler matches companies, contacts and deals of the organization.
// A missing or blank q yields an empty list without touching the database.
// GET /api/v1/search?q=
func (h *SearchHandlers) SearchHandler() gin.HandlerFunc {
	return func(c *gin.Context) {
		p := principal(c)
		q := strings.TrimSpace(c.Query("q"))
		if q == "" {
			c.JSON(http.StatusOK, []models.SearchResult{})
			return
		}

		results, err := h.store.Scope(p.Membership).Search().Search(c.Request.Context(), q)
		if err != nil {
			apierror.Respond(c, err)
			return
		}
		c.JSON(http.StatusOK, results)
	}
}
