package params

import (
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crm-platform/crm/internal/apierror"
)

func testContext(target string) *gin.Context {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodGet, target, nil)
	return c
}

func TestID(t *testing.T) {
	c := testContext("/")
	c.Params = gin.Params{{Key: "id", Value: "2b1d9f7e-7c55-4b8e-9d7a-3f0c2a1e4b61"}}
	id, err := ID(c, "id")
	require.NoError(t, err)
	assert.Equal(t, "2b1d9f7e-7c55-4b8e-9d7a-3f0c2a1e4b61", id)

	c.Params = gin.Params{{Key: "id", Value: "not-a-uuid"}}
	_, err = ID(c, "id")
	assert.ErrorIs(t, err, apierror.ErrNotFound)
}

func TestFilterID(t *testing.T) {
	id, err := FilterID(testContext("/?companyId="), "companyId")
	require.NoError(t, err)
	assert.Empty(t, id)

	_, err = FilterID(testContext("/?companyId=abc"), "companyId")
	var ve *apierror.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, []string{"companyId"}, ve.Issues[0].Path)
}

func TestPagination(t *testing.T) {
	tests := []struct {
		target      string
		page, per   int
		limit, offs int
	}{
		{"/", 1, 20, 20, 0},
		{"/?page=3&per_page=10", 3, 10, 10, 20},
		{"/?page=0&per_page=500", 1, 20, 20, 0},
		{"/?page=x&per_page=y", 1, 20, 20, 0},
	}
	for _, tt := range tests {
		t.Run(tt.target, func(t *testing.T) {
			page, per, window := Pagination(testContext(tt.target))
			assert.Equal(t, tt.page, page)
			assert.Equal(t, tt.per, per)
			assert.Equal(t, tt.limit, window.Limit)
			assert.Equal(t, tt.offs, window.Offset)
		})
	}
}

func TestDateRange(t *testing.T) {
	rng, err := DateRange(testContext("/?from=2024-01-01&to=2024-01-31"))
	require.NoError(t, err)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), rng.From)
	assert.Equal(t, 31, rng.To.Day())
	assert.Equal(t, 23, rng.To.Hour())

	rng, err = DateRange(testContext("/"))
	require.NoError(t, err)
	assert.True(t, rng.From.IsZero())
	assert.True(t, rng.To.IsZero())

	_, err = DateRange(testContext("/?from=yesterday"))
	var ve *apierror.ValidationError
	require.ErrorAs(t, err, &ve)
	assert.Equal(t, []string{"from"}, ve.Issues[0].Path)
}

func TestCheckVersion(t *testing.T) {
	tests := []struct {
		name    string
		header  string
		wantErr error
		status  int
	}{
		{"absent", "", nil, 0},
		{"wildcard", "*", nil, 0},
		{"match", `"3"`, nil, 0},
		{"weak match", `W/"3"`, nil, 0},
		{"bare number", "3", nil, 0},
		{"stale", `"2"`, apierror.ErrConflict, 0},
		{"garbage", `"abc"`, nil, http.StatusBadRequest},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := testContext("/")
			if tt.header != "" {
				c.Request.Header.Set("If-Match", tt.header)
			}
			err := CheckVersion(c, 3)
			switch {
			case tt.status != 0:
				var se *apierror.StatusError
				require.True(t, errors.As(err, &se))
				assert.Equal(t, tt.status, se.Status)
			case tt.wantErr != nil:
				assert.ErrorIs(t, err, tt.wantErr)
			default:
				assert.NoError(t, err)
			}
		})
	}
}
