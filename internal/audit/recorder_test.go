package audit

import (
	"context"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crm-platform/crm/internal/db/models"
	"github.com/crm-platform/crm/internal/db/repositories"
)

type captureShipper struct {
	entries chan *models.AuditLog
}

func (s *captureShipper) Ship(_ context.Context, e *models.AuditLog) error {
	s.entries <- e
	return nil
}

func (s *captureShipper) Close() error { return nil }

func newStore(t *testing.T) (*repositories.TenantStore, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return repositories.NewTenantStore(sqlx.NewDb(db, "sqlmock")), mock
}

var member = &models.Membership{ID: "m-1", OrganizationID: "org-1", UserID: "user-1", Role: models.RoleRep}

func TestRecord_WritesInsideTxAndShipsAfterCommit(t *testing.T) {
	store, mock := newStore(t)
	shipper := &captureShipper{entries: make(chan *models.AuditLog, 1)}
	rec := NewRecorder(shipper)

	var stored []byte
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO audit_logs`).
		WithArgs(sqlmock.AnyArg(), "org-1", "user-1", "UPDATE", "Deal", "deal-1", sqlmock.AnyArg()).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectCommit()

	actor := "user-1"
	err := store.WithinTx(context.Background(), member, func(s *repositories.Scope) error {
		err := rec.Record(context.Background(), s, Entry{
			ActorID:    &actor,
			Action:     models.AuditUpdate,
			EntityType: models.EntityDeal,
			EntityID:   "deal-1",
			Before:     deal("stage-A"),
			After:      deal("stage-B"),
		})
		select {
		case <-shipper.entries:
			t.Error("entry shipped before commit")
		default:
		}
		return err
	})
	require.NoError(t, err)

	select {
	case entry := <-shipper.entries:
		stored = entry.Changes
		assert.Equal(t, "org-1", entry.OrganizationID)
	case <-time.After(2 * time.Second):
		t.Fatal("entry was not shipped after commit")
	}
	assert.JSONEq(t, `{"stageId":{"before":"stage-A","after":"stage-B"}}`, string(stored))
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecord_PersistFailureRollsBack(t *testing.T) {
	store, mock := newStore(t)
	shipper := &captureShipper{entries: make(chan *models.AuditLog, 1)}
	rec := NewRecorder(shipper)

	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO audit_logs`).WillReturnError(errors.New("disk full"))
	mock.ExpectRollback()

	err := store.WithinTx(context.Background(), member, func(s *repositories.Scope) error {
		return rec.Record(context.Background(), s, Entry{
			Action:     models.AuditCreate,
			EntityType: models.EntityCompany,
			EntityID:   "co-1",
			After:      &models.Company{ID: "co-1", Name: "Acme"},
		})
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "disk full")

	select {
	case <-shipper.entries:
		t.Error("rolled back entry was shipped")
	case <-time.After(50 * time.Millisecond):
	}
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestRecord_CreateChangesHaveNoBefore(t *testing.T) {
	store, mock := newStore(t)
	rec := NewRecorder(nil)

	var captured json.RawMessage
	mock.ExpectBegin()
	mock.ExpectQuery(`INSERT INTO audit_logs`).
		WithArgs(sqlmock.AnyArg(), "org-1", nil, "CREATE", "Company", "co-1", changesArg{&captured}).
		WillReturnRows(sqlmock.NewRows([]string{"created_at"}).AddRow(time.Now()))
	mock.ExpectCommit()

	err := store.WithinTx(context.Background(), member, func(s *repositories.Scope) error {
		return rec.Record(context.Background(), s, Entry{
			Action:     models.AuditCreate,
			EntityType: models.EntityCompany,
			EntityID:   "co-1",
			After:      &models.Company{ID: "co-1", Name: "Acme"},
		})
	})
	require.NoError(t, err)

	var changes Changes
	require.NoError(t, json.Unmarshal(captured, &changes))
	require.Contains(t, changes, "name")
	assert.Nil(t, changes["name"].Before)
	assert.JSONEq(t, `"Acme"`, string(changes["name"].After))
}

// changesArg matches any changes argument and keeps a copy for inspection.
type changesArg struct {
	dst *json.RawMessage
}

func (a changesArg) Match(v driver.Value) bool {
	b, ok := v.([]byte)
	if ok {
		*a.dst = append(json.RawMessage(nil), b...)
	}
	return ok
}
