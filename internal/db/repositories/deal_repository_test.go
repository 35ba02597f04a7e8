package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/crm-platform/crm/internal/db/models"
)

var dealCols = []string{
	"id", "organization_id", "owner_id", "company_id", "contact_id", "pipeline_id", "stage_id",
	"title", "value_cents", "currency", "status", "close_date", "version", "created_at", "updated_at",
}

var stageCols = []string{"id", "organization_id", "pipeline_id", "name", "position", "version", "created_at", "updated_at"}

func TestDealList_Filters(t *testing.T) {
	scope, mock := newScope(t)
	mock.ExpectQuery(`SELECT COUNT\(\*\) FROM deals WHERE organization_id = \$1 AND status = \$2 AND stage_id = \$3`).
		WithArgs(testOrgID, "OPEN", "stage-a").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))
	mock.ExpectQuery(`SELECT \* FROM deals .* LIMIT \$4 OFFSET \$5`).
		WithArgs(testOrgID, "OPEN", "stage-a", 10, 0).
		WillReturnRows(sqlmock.NewRows(dealCols))

	_, total, err := scope.Deals().List(context.Background(),
		DealFilter{Status: "OPEN", StageID: "stage-a", Page: Page{Limit: 10}})
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if total != 0 {
		t.Errorf("total = %d, want 0", total)
	}
	assertExpectations(t, mock)
}

func TestDealGetDetail_ResolvesRelations(t *testing.T) {
	scope, mock := newScope(t)
	now := time.Now()
	mock.ExpectQuery(`SELECT \* FROM deals WHERE id = \$1 AND organization_id = \$2`).
		WithArgs("deal-1", testOrgID).
		WillReturnRows(sqlmock.NewRows(dealCols).AddRow(
			"deal-1", testOrgID, "user-1", "co-1", nil, "pipe-1", "stage-a",
			"Big deal", 150000, "USD", "OPEN", nil, 1, now, now))
	mock.ExpectQuery(`SELECT \* FROM companies WHERE id = \$1 AND organization_id = \$2`).
		WithArgs("co-1", testOrgID).
		WillReturnRows(sampleCompanyRows())
	mock.ExpectQuery(`SELECT id, email, name FROM users WHERE id = \$1`).
		WithArgs("user-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "email", "name"}).AddRow("user-1", "rep@example.com", "Rep"))
	mock.ExpectQuery(`SELECT \* FROM stages WHERE id = \$1 AND organization_id = \$2`).
		WithArgs("stage-a", testOrgID).
		WillReturnRows(sqlmock.NewRows(stageCols).AddRow("stage-a", testOrgID, "pipe-1", "Lead", 1, 1, now, now))

	detail, err := scope.Deals().GetDetail(context.Background(), "deal-1")
	if err != nil {
		t.Fatalf("GetDetail: %v", err)
	}
	if detail.Company == nil || detail.Company.Name != "Acme" {
		t.Errorf("Company = %+v, want Acme", detail.Company)
	}
	if detail.Contact != nil {
		t.Errorf("Contact = %+v, want nil", detail.Contact)
	}
	if detail.Owner == nil || detail.Owner.Email != "rep@example.com" {
		t.Errorf("Owner = %+v", detail.Owner)
	}
	if detail.Stage == nil || detail.Stage.Name != "Lead" {
		t.Errorf("Stage = %+v", detail.Stage)
	}
	assertExpectations(t, mock)
}

func TestDealGetDetail_NotFound(t *testing.T) {
	scope, mock := newScope(t)
	mock.ExpectQuery(`SELECT \* FROM deals`).WillReturnRows(sqlmock.NewRows(dealCols))

	detail, err := scope.Deals().GetDetail(context.Background(), "deal-x")
	if err != nil || detail != nil {
		t.Fatalf("GetDetail = %v, %v; want nil, nil", detail, err)
	}
}

func TestDealUpdate_WritesStage(t *testing.T) {
	scope, mock := newScope(t)
	now := time.Now()
	mock.ExpectQuery(`UPDATE deals SET .* stage_id = \$6`).
		WithArgs("deal-1", testOrgID, nil, nil, "pipe-1", "stage-b", "Big deal", 100, "USD", "OPEN", nil).
		WillReturnRows(sqlmock.NewRows(dealCols).AddRow(
			"deal-1", testOrgID, "user-1", nil, nil, "pipe-1", "stage-b",
			"Big deal", 100, "USD", "OPEN", nil, 2, now, now))

	d := &models.Deal{ID: "deal-1", PipelineID: "pipe-1", StageID: "stage-b", Title: "Big deal",
		ValueCents: 100, Currency: "USD", Status: models.DealStatusOpen}
	if err := scope.Deals().Update(context.Background(), d); err != nil {
		t.Fatalf("Update: %v", err)
	}
	if d.StageID != "stage-b" || d.Version != 2 {
		t.Errorf("after update stage=%q version=%d", d.StageID, d.Version)
	}
}
