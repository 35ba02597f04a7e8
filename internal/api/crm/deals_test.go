package crm

import (
	"encoding/json"
	"net/http"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crm-platform/crm/internal/apierror"
	"github.com/crm-platform/crm/internal/db/models"
	"github.com/crm-platform/crm/internal/middleware"
)

const (
	dealID     = "d0000000-0000-4000-8000-000000000001"
	pipelineID = "e0000000-0000-4000-8000-000000000001"
	stageOne   = "f0000000-0000-4000-8000-000000000001"
	stageTwo   = "f0000000-0000-4000-8000-000000000002"
)

var dealColumns = []string{"id", "organization_id", "owner_id", "company_id", "contact_id", "pipeline_id",
	"stage_id", "title", "value_cents", "currency", "status", "close_date", "version", "created_at", "updated_at"}

func dealRows(stageID string, version int) *sqlmock.Rows {
	return sqlmock.NewRows(dealColumns).AddRow(dealID, orgA, userID, nil, nil, pipelineID,
		stageID, "Big deal", int64(100000), "USD", "OPEN", nil, version, created, created)
}

func newDealEnv(t *testing.T, role models.Role) *testEnv {
	env := newTestEnv(t, role)
	h := NewDealHandlers(env.store, env.recorder)
	env.mount(http.MethodPost, "/deals", middleware.AnyRole(), h.CreateDealHandler())
	env.mount(http.MethodPatch, "/deals/:id", middleware.AnyRole(), h.UpdateDealHandler())
	env.mount(http.MethodDelete, "/deals/:id", writeRoles, h.DeleteDealHandler())
	return env
}

func (e *testEnv) expectStageInPipeline(stageID string, ok bool) {
	e.mock.ExpectQuery(`SELECT EXISTS \(SELECT 1 FROM stages WHERE id = \$1 AND pipeline_id = \$2`).
		WithArgs(stageID, pipelineID, orgA).
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(ok))
}

func issuePaths(t *testing.T, body []byte) [][]string {
	t.Helper()
	var resp struct {
		Issues []apierror.Issue `json:"issues"`
	}
	require.NoError(t, json.Unmarshal(body, &resp))
	paths := make([][]string, 0, len(resp.Issues))
	for _, issue := range resp.Issues {
		paths = append(paths, issue.Path)
	}
	return paths
}

func TestCreateDeal_DefaultsCurrencyAndStatus(t *testing.T) {
	env := newDealEnv(t, models.RoleRep)

	env.mock.ExpectBegin()
	env.expectExists("pipelines", pipelineID, true)
	env.expectStageInPipeline(stageOne, true)
	env.mock.ExpectQuery(`INSERT INTO deals`).
		WithArgs(sqlmock.AnyArg(), orgA, userID, nil, nil, pipelineID, stageOne, "Big deal", int64(100000), "USD", "OPEN", nil).
		WillReturnRows(dealRows(stageOne, 1))
	env.expectAudit(models.AuditCreate, models.EntityDeal, dealID, nil)
	env.mock.ExpectCommit()

	w := env.do(t, http.MethodPost, "/deals",
		`{"title":"Big deal","valueCents":100000,"pipelineId":"`+pipelineID+`","stageId":"`+stageOne+`"}`)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	var got models.Deal
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "USD", got.Currency)
	assert.Equal(t, models.DealStatusOpen, got.Status)
	require.NotNil(t, got.OwnerID)
	assert.Equal(t, userID, *got.OwnerID)
}

func TestCreateDeal_ForeignCompanyIsValidationIssue(t *testing.T) {
	env := newDealEnv(t, models.RoleRep)

	env.mock.ExpectBegin()
	env.expectExists("companies", companyID, false)
	env.mock.ExpectRollback()

	w := env.do(t, http.MethodPost, "/deals",
		`{"title":"Big deal","companyId":"`+companyID+`","pipelineId":"`+pipelineID+`","stageId":"`+stageOne+`"}`)

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, [][]string{{"companyId"}}, issuePaths(t, w.Body.Bytes()))
}

func TestCreateDeal_RejectsNegativeValueAndBadStatus(t *testing.T) {
	env := newDealEnv(t, models.RoleRep)

	w := env.do(t, http.MethodPost, "/deals",
		`{"title":"Big deal","valueCents":-1,"status":"PENDING","pipelineId":"`+pipelineID+`","stageId":"`+stageOne+`"}`)

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.ElementsMatch(t, [][]string{{"valueCents"}, {"status"}}, issuePaths(t, w.Body.Bytes()))
}

func TestUpdateDeal_StageMoveRecordsOnlyStageChange(t *testing.T) {
	env := newDealEnv(t, models.RoleRep)

	var changes []byte
	env.mock.ExpectBegin()
	env.mock.ExpectQuery(`SELECT \* FROM deals WHERE id = \$1 AND organization_id = \$2 FOR UPDATE`).
		WithArgs(dealID, orgA).
		WillReturnRows(dealRows(stageOne, 1))
	env.expectStageInPipeline(stageTwo, true)
	env.mock.ExpectQuery(`UPDATE deals`).
		WithArgs(dealID, orgA, nil, nil, pipelineID, stageTwo, "Big deal", int64(100000), "USD", "OPEN", nil).
		WillReturnRows(dealRows(stageTwo, 2))
	env.expectAudit(models.AuditUpdate, models.EntityDeal, dealID, jsonCapture{&changes})
	env.mock.ExpectCommit()

	w := env.do(t, http.MethodPatch, "/deals/"+dealID, `{"stageId":"`+stageTwo+`"}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"stageId":{"before":"`+stageOne+`","after":"`+stageTwo+`"}}`, string(changes))
}

func TestUpdateDeal_StageOfAnotherPipelineRejected(t *testing.T) {
	env := newDealEnv(t, models.RoleRep)

	env.mock.ExpectBegin()
	env.mock.ExpectQuery(`SELECT \* FROM deals .* FOR UPDATE`).
		WithArgs(dealID, orgA).
		WillReturnRows(dealRows(stageOne, 1))
	env.expectStageInPipeline(stageTwo, false)
	env.mock.ExpectRollback()

	w := env.do(t, http.MethodPatch, "/deals/"+dealID, `{"stageId":"`+stageTwo+`"}`)

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, [][]string{{"stageId"}}, issuePaths(t, w.Body.Bytes()))
}

func TestDeleteDeal_RepForbidden(t *testing.T) {
	env := newDealEnv(t, models.RoleRep)

	w := env.do(t, http.MethodDelete, "/deals/"+dealID, "")

	assert.Equal(t, http.StatusForbidden, w.Code)
}

func TestUpdateDeal_EmptyValuesClearOptionalFields(t *testing.T) {
	env := newDealEnv(t, models.RoleRep)

	linked := sqlmock.NewRows(dealColumns).AddRow(dealID, orgA, userID, companyID, contactID, pipelineID,
		stageOne, "Big deal", int64(100000), "USD", "WON", created, 1, created, created)

	var changes []byte
	env.mock.ExpectBegin()
	env.mock.ExpectQuery(`SELECT \* FROM deals .* FOR UPDATE`).
		WithArgs(dealID, orgA).
		WillReturnRows(linked)
	env.mock.ExpectQuery(`UPDATE deals`).
		WithArgs(dealID, orgA, nil, nil, pipelineID, stageOne, "Big deal", int64(100000), "USD", "WON", nil).
		WillReturnRows(sqlmock.NewRows(dealColumns).AddRow(dealID, orgA, userID, nil, nil, pipelineID,
			stageOne, "Big deal", int64(100000), "USD", "WON", nil, 2, created, created))
	env.expectAudit(models.AuditUpdate, models.EntityDeal, dealID, jsonCapture{&changes})
	env.mock.ExpectCommit()

	w := env.do(t, http.MethodPatch, "/deals/"+dealID, `{"companyId":"","contactId":"","closeDate":""}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	var got models.Deal
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Nil(t, got.CompanyID)
	assert.Nil(t, got.ContactID)
	assert.Nil(t, got.CloseDate)

	var diff map[string]json.RawMessage
	require.NoError(t, json.Unmarshal(changes, &diff))
	assert.Contains(t, diff, "companyId")
	assert.Contains(t, diff, "contactId")
	assert.Contains(t, diff, "closeDate")
}

func TestUpdateDeal_MalformedCompanyIDRejected(t *testing.T) {
	env := newDealEnv(t, models.RoleRep)

	env.mock.ExpectBegin()
	env.mock.ExpectQuery(`SELECT \* FROM deals .* FOR UPDATE`).
		WithArgs(dealID, orgA).
		WillReturnRows(dealRows(stageOne, 1))
	env.mock.ExpectRollback()

	w := env.do(t, http.MethodPatch, "/deals/"+dealID, `{"companyId":"acme"}`)

	require.Equal(t, http.StatusUnprocessableEntity, w.Code)
	assert.Equal(t, [][]string{{"companyId"}}, issuePaths(t, w.Body.Bytes()))
}
