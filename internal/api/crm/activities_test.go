package crm

import (
	"encoding/json"
	"net/http"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crm-platform/crm/internal/db/models"
	"github.com/crm-platform/crm/internal/middleware"
)

const activityID = "ac000000-0000-4000-8000-000000000001"

var taskDue = time.Date(2025, 3, 10, 15, 0, 0, 0, time.UTC)

func taskRows(completedAt any, version int) *sqlmock.Rows {
	return sqlmock.NewRows(activityColumns).AddRow(activityID, orgA, userID, nil, contactID, "TASK",
		"Send proposal", nil, taskDue, completedAt, version, created, created)
}

func newActivityEnv(t *testing.T, role models.Role) *testEnv {
	env := newTestEnv(t, role)
	h := NewActivityHandlers(env.store, env.recorder)
	env.mount(http.MethodGet, "/activities/:id", middleware.AnyRole(), h.GetActivityHandler())
	env.mount(http.MethodPost, "/activities", middleware.AnyRole(), h.CreateActivityHandler())
	env.mount(http.MethodPatch, "/activities/:id", middleware.AnyRole(), h.UpdateActivityHandler())
	env.mount(http.MethodDelete, "/activities/:id", middleware.AnyRole(), h.DeleteActivityHandler())
	return env
}

func TestActivity_CreateThenFetch(t *testing.T) {
	env := newActivityEnv(t, models.RoleRep)

	env.mock.ExpectBegin()
	env.expectExists("contacts", contactID, true)
	env.mock.ExpectQuery(`INSERT INTO activities`).
		WithArgs(sqlmock.AnyArg(), orgA, userID, nil, contactID, "TASK", "Send proposal", nil, taskDue, nil).
		WillReturnRows(taskRows(nil, 1))
	env.expectAudit(models.AuditCreate, models.EntityActivity, activityID, nil)
	env.mock.ExpectCommit()

	env.mock.ExpectQuery(`SELECT \* FROM activities WHERE id = \$1 AND organization_id = \$2`).
		WithArgs(activityID, orgA).
		WillReturnRows(taskRows(nil, 1))

	createResp := env.do(t, http.MethodPost, "/activities",
		`{"type":"TASK","title":"Send proposal","contactId":"`+contactID+`","dueAt":"2025-03-10T15:00:00Z"}`)
	require.Equal(t, http.StatusCreated, createResp.Code, createResp.Body.String())

	var got models.Activity
	require.NoError(t, json.Unmarshal(createResp.Body.Bytes(), &got))
	fetched := env.do(t, http.MethodGet, "/activities/"+got.ID, "")

	require.Equal(t, http.StatusOK, fetched.Code, fetched.Body.String())
	assert.Equal(t, `"1"`, fetched.Header().Get("ETag"))
	assert.JSONEq(t, createResp.Body.String(), fetched.Body.String())
	assert.Equal(t, models.ActivityTask, got.Type)
	require.NotNil(t, got.DueAt)
	assert.True(t, taskDue.Equal(*got.DueAt))
	assert.Nil(t, got.CompletedAt)
}

func TestCreateActivity_UnknownTypeAndForeignDeal(t *testing.T) {
	t.Run("unknown type", func(t *testing.T) {
		env := newActivityEnv(t, models.RoleRep)

		w := env.do(t, http.MethodPost, "/activities", `{"type":"LUNCH","title":"Catch up"}`)

		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, [][]string{{"type"}}, issuePaths(t, w.Body.Bytes()))
	})

	t.Run("deal from another organization", func(t *testing.T) {
		env := newActivityEnv(t, models.RoleRep)

		env.mock.ExpectBegin()
		env.expectExists("deals", dealID, false)
		env.mock.ExpectRollback()

		w := env.do(t, http.MethodPost, "/activities", `{"type":"CALL","title":"Intro","dealId":"`+dealID+`"}`)

		require.Equal(t, http.StatusUnprocessableEntity, w.Code)
		assert.Equal(t, [][]string{{"dealId"}}, issuePaths(t, w.Body.Bytes()))
	})
}

func TestUpdateActivity_CompletingTaskSetsCompletedAt(t *testing.T) {
	env := newActivityEnv(t, models.RoleRep)
	done := time.Date(2025, 3, 10, 16, 30, 0, 0, time.UTC)

	var changes []byte
	env.mock.ExpectBegin()
	env.mock.ExpectQuery(`SELECT \* FROM activities WHERE id = \$1 AND organization_id = \$2 FOR UPDATE`).
		WithArgs(activityID, orgA).
		WillReturnRows(taskRows(nil, 1))
	env.mock.ExpectQuery(`UPDATE activities`).
		WithArgs(activityID, orgA, nil, contactID, "TASK", "Send proposal", nil, taskDue, done).
		WillReturnRows(taskRows(done, 2))
	env.expectAudit(models.AuditUpdate, models.EntityActivity, activityID, jsonCapture{&changes})
	env.mock.ExpectCommit()

	w := env.do(t, http.MethodPatch, "/activities/"+activityID, `{"completedAt":"2025-03-10T16:30:00Z"}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.JSONEq(t, `{"completedAt":{"before":null,"after":"2025-03-10T16:30:00Z"}}`, string(changes))
}

func TestActivity_OtherOrganizationMutationsAreNotFound(t *testing.T) {
	tests := []struct {
		name   string
		method string
		body   string
	}{
		{"patch", http.MethodPatch, `{"title":"Hijacked"}`},
		{"delete", http.MethodDelete, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := newActivityEnv(t, models.RoleOwner)

			env.mock.ExpectBegin()
			env.mock.ExpectQuery(`SELECT \* FROM activities WHERE id = \$1 AND organization_id = \$2 FOR UPDATE`).
				WithArgs(activityID, orgA).
				WillReturnRows(sqlmock.NewRows(activityColumns))
			env.mock.ExpectRollback()

			w := env.do(t, tt.method, "/activities/"+activityID, tt.body)

			assert.Equal(t, http.StatusNotFound, w.Code)
		})
	}
}
