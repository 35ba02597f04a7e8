package crm

import (
	"net/http"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crm-platform/crm/internal/db/models"
	"github.com/crm-platform/crm/internal/middleware"
)

func newReportEnv(t *testing.T) *testEnv {
	env := newTestEnv(t, models.RoleRep)
	reports := NewReportHandlers(env.store)
	search := NewSearchHandlers(env.store)
	env.mount(http.MethodGet, "/reports/pipeline-value", middleware.AnyRole(), reports.PipelineValueHandler())
	env.mount(http.MethodGet, "/reports/win-rate", middleware.AnyRole(), reports.WinRateHandler())
	env.mount(http.MethodGet, "/reports/cycle-time", middleware.AnyRole(), reports.CycleTimeHandler())
	env.mount(http.MethodGet, "/search", middleware.AnyRole(), search.SearchHandler())
	return env
}

func TestSearch_BlankQueryIsEmptyWithoutQueries(t *testing.T) {
	env := newReportEnv(t)

	w := env.do(t, http.MethodGet, "/search?q=%20%20", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())
}

func TestSearch_ScopedToOrganization(t *testing.T) {
	env := newReportEnv(t)
	env.mock.ExpectQuery(`SELECT 'company' AS type`).
		WithArgs(orgA, "acme", 20).
		WillReturnRows(sqlmock.NewRows([]string{"type", "id", "label"}).AddRow("company", companyID, "Acme"))

	w := env.do(t, http.MethodGet, "/search?q=acme", "")

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `[{"type":"company","id":"`+companyID+`","label":"Acme"}]`, w.Body.String())
}

func TestPipelineValue_CSV(t *testing.T) {
	env := newReportEnv(t)
	env.mock.ExpectQuery(`SELECT s.name AS stage`).
		WithArgs(orgA).
		WillReturnRows(sqlmock.NewRows([]string{"stage", "value_cents"}).
			AddRow("Lead", int64(150050)).
			AddRow("Closed, Won", int64(0)))

	w := env.do(t, http.MethodGet, "/reports/pipeline-value?format=csv", "")

	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "text/csv; charset=utf-8", w.Header().Get("Content-Type"))
	assert.Equal(t, "Stage,Value\nLead,1500.5\n\"Closed, Won\",0\n", w.Body.String())
}

func TestWinRate_InvalidDate(t *testing.T) {
	env := newReportEnv(t)

	w := env.do(t, http.MethodGet, "/reports/win-rate?from=yesterday", "")

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, [][]string{{"from"}}, issuePaths(t, w.Body.Bytes()))
}

func TestCycleTime_JSON(t *testing.T) {
	env := newReportEnv(t)
	closed := created.Add(49 * time.Hour)
	env.mock.ExpectQuery(`FROM deals`).
		WillReturnRows(sqlmock.NewRows([]string{"title", "owner", "created_at", "close_date"}).
			AddRow("Big deal", "Rita Rep", created, closed))

	w := env.do(t, http.MethodGet, "/reports/cycle-time", "")

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"deals":[{"deal":"Big deal","owner":"Rita Rep","days":2}],"average":2}`, w.Body.String())
}
