package repositories

import (
	"context"
	"errors"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"

	"github.com/crm-platform/crm/internal/db/models"
)

var membershipCols = []string{"id", "organization_id", "user_id", "role", "created_at", "updated_at"}

func TestMembershipList_IncludesUser(t *testing.T) {
	scope, mock := newScope(t)
	now := time.Now()
	mock.ExpectQuery(`SELECT m\.\*, u\.email AS user_email, u\.name AS user_name FROM memberships m JOIN users u`).
		WithArgs(testOrgID).
		WillReturnRows(sqlmock.NewRows(append(membershipCols, "user_email", "user_name")).
			AddRow("m-1", testOrgID, "user-1", "OWNER", now, now, "owner@example.com", "Owner"))

	members, err := scope.Memberships().List(context.Background())
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(members) != 1 {
		t.Fatalf("len = %d, want 1", len(members))
	}
	if members[0].User.Email != "owner@example.com" || members[0].User.ID != "user-1" {
		t.Errorf("User = %+v", members[0].User)
	}
	if members[0].Role != models.RoleOwner {
		t.Errorf("Role = %q, want OWNER", members[0].Role)
	}
}

func TestMembershipCreate_Duplicate(t *testing.T) {
	scope, mock := newScope(t)
	mock.ExpectQuery("INSERT INTO memberships").
		WithArgs(sqlmock.AnyArg(), testOrgID, "user-2", "REP").
		WillReturnError(&pq.Error{Code: "23505"})

	_, err := scope.Memberships().Create(context.Background(), "user-2", models.RoleRep)
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("err = %v, want ErrDuplicate", err)
	}
}

func TestMembershipLockOwners(t *testing.T) {
	scope, mock := newScope(t)
	mock.ExpectQuery(`SELECT id FROM memberships WHERE organization_id = \$1 AND role = \$2 ORDER BY id FOR UPDATE`).
		WithArgs(testOrgID, "OWNER").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow("m-1").AddRow("m-2"))

	n, err := scope.Memberships().LockOwners(context.Background())
	if err != nil || n != 2 {
		t.Fatalf("LockOwners = %d, %v; want 2", n, err)
	}
}

func TestMembershipFindOrCreateUser_RollsBackWithInvitation(t *testing.T) {
	db, mock := newMockDB(t)
	now := time.Now()
	mock.ExpectBegin()
	mock.ExpectQuery(`SELECT \* FROM users WHERE LOWER\(email\) = LOWER\(\$1\)`).
		WithArgs("new@example.com").
		WillReturnRows(sqlmock.NewRows(userCols))
	mock.ExpectQuery(`INSERT INTO users \(id, email\) VALUES \(\$1, \$2\) ON CONFLICT DO NOTHING RETURNING \*`).
		WithArgs(sqlmock.AnyArg(), "new@example.com").
		WillReturnRows(sqlmock.NewRows(userCols).AddRow("user-9", "new@example.com", nil, nil, nil, nil, now, now))
	mock.ExpectRollback()

	errRejected := errors.New("rejected")
	var got *models.User
	err := NewTenantStore(db).WithinTx(context.Background(), &models.Membership{OrganizationID: testOrgID},
		func(s *Scope) error {
			var err error
			if got, err = s.Memberships().FindOrCreateUser(context.Background(), "new@example.com"); err != nil {
				return err
			}
			return errRejected
		})
	if !errors.Is(err, errRejected) {
		t.Fatalf("WithinTx error = %v, want rejected", err)
	}
	if got == nil || got.ID != "user-9" {
		t.Errorf("user = %+v", got)
	}
	assertExpectations(t, mock)
}

func TestMembershipFindOrCreateUser_ConflictRereads(t *testing.T) {
	scope, mock := newScope(t)
	now := time.Now()
	lookup := `SELECT \* FROM users WHERE LOWER\(email\) = LOWER\(\$1\)`
	mock.ExpectQuery(lookup).WithArgs("new@example.com").WillReturnRows(sqlmock.NewRows(userCols))
	mock.ExpectQuery(`INSERT INTO users`).WillReturnRows(sqlmock.NewRows(userCols))
	mock.ExpectQuery(lookup).WithArgs("new@example.com").
		WillReturnRows(sqlmock.NewRows(userCols).AddRow("user-7", "new@example.com", nil, nil, nil, now, now, now))

	u, err := scope.Memberships().FindOrCreateUser(context.Background(), "new@example.com")
	if err != nil {
		t.Fatalf("FindOrCreateUser: %v", err)
	}
	if u.ID != "user-7" {
		t.Errorf("ID = %q, want the concurrently registered user-7", u.ID)
	}
	assertExpectations(t, mock)
}
