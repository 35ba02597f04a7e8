// Package params reads the path, query and header values shared by the CRM
// handlers: resource ids, pagination windows, report date ranges and the
// If-Match version precondition.
package params

import (
	"strconv"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/crm-platform/crm/internal/apierror"
	"github.com/crm-platform/crm/internal/db/repositories"
)

const (
	DefaultPerPage = 20
	MaxPerPage     = 100
)

// ID returns the named path parameter. Ids that are not UUIDs cannot exist,
// so they are reported as not found rather than invalid.
func ID(c *gin.Context, name string) (string, error) {
	id := c.Param(name)
	if _, err := uuid.Parse(id); err != nil {
		return "", apierror.ErrNotFound
	}
	return id, nil
}

// FilterID returns an optional id query parameter. A malformed value is a
// validation issue on that parameter.
func FilterID(c *gin.Context, name string) (string, error) {
	v := strings.TrimSpace(c.Query(name))
	if v == "" {
		return "", nil
	}
	if _, err := uuid.Parse(v); err != nil {
		return "", apierror.Invalid(name, "invalid_string", "Invalid uuid")
	}
	return v, nil
}

// Pagination reads ?page and ?per_page. Out-of-range values fall back to the
// defaults instead of failing the request.
func Pagination(c *gin.Context) (page, perPage int, window repositories.Page) {
	page, _ = strconv.Atoi(c.DefaultQuery("page", "1"))
	perPage, _ = strconv.Atoi(c.DefaultQuery("per_page", strconv.Itoa(DefaultPerPage)))

	if page < 1 {
		page = 1
	}
	if perPage < 1 || perPage > MaxPerPage {
		perPage = DefaultPerPage
	}
	return page, perPage, repositories.Page{Limit: perPage, Offset: (page - 1) * perPage}
}

// DateRange reads ?from and ?to as RFC 3339 timestamps or bare dates. A bare
// "to" date includes the whole day.
func DateRange(c *gin.Context) (repositories.DateRange, error) {
	var rng repositories.DateRange
	var err error
	if rng.From, err = parseDate("from", c.Query("from"), false); err != nil {
		return rng, err
	}
	if rng.To, err = parseDate("to", c.Query("to"), true); err != nil {
		return rng, err
	}
	return rng, nil
}

func parseDate(field, raw string, endOfDay bool) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	if t, err := time.Parse(time.RFC3339, raw); err == nil {
		return t.UTC(), nil
	}
	t, err := time.Parse(time.DateOnly, raw)
	if err != nil {
		return time.Time{}, apierror.Invalid(field, "invalid_date", "Invalid date")
	}
	if endOfDay {
		t = t.Add(24*time.Hour - time.Nanosecond)
	}
	return t, nil
}

// CheckVersion enforces an If-Match precondition against the stored row
// version. Requests without If-Match always pass.
func CheckVersion(c *gin.Context, current int) error {
	header := strings.TrimSpace(c.GetHeader("If-Match"))
	if header == "" || header == "*" {
		return nil
	}
	header = strings.TrimPrefix(header, "W/")
	want, err := strconv.Atoi(strings.Trim(header, `"`))
	if err != nil {
		return apierror.BadRequest("Invalid If-Match header")
	}
	if want != current {
		return apierror.ErrConflict
	}
	return nil
}

// SetVersion exposes the row version as a strong ETag.
func SetVersion(c *gin.Context, version int) {
	c.Header("ETag", `"`+strconv.Itoa(version)+`"`)
}
