package repositories

import (
	"context"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"

	"github.com/crm-platform/crm/internal/db/models"
)

func newUserRepo(t *testing.T) (*UserRepository, sqlmock.Sqlmock) {
	t.Helper()
	db, mock := newMockDB(t)
	return NewUserRepository(db), mock
}

func TestUserGetByEmail_CaseInsensitive(t *testing.T) {
	repo, mock := newUserRepo(t)
	now := time.Now()
	mock.ExpectQuery(`SELECT \* FROM users WHERE LOWER\(email\) = LOWER\(\$1\)`).
		WithArgs("Ann@Example.com").
		WillReturnRows(sqlmock.NewRows(userCols).AddRow("user-1", "ann@example.com", nil, nil, nil, now, now, now))

	u, err := repo.GetByEmail(context.Background(), "Ann@Example.com")
	if err != nil || u == nil {
		t.Fatalf("GetByEmail = %v, %v", u, err)
	}
	if !u.IsVerified() {
		t.Error("expected verified user")
	}
}

func TestUserGetByID_NotFound(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectQuery(`SELECT \* FROM users WHERE id = \$1`).WillReturnRows(sqlmock.NewRows(userCols))

	u, err := repo.GetByID(context.Background(), "nobody")
	if err != nil || u != nil {
		t.Fatalf("GetByID = %v, %v; want nil, nil", u, err)
	}
}

func TestConsumeVerificationToken(t *testing.T) {
	repo, mock := newUserRepo(t)
	mock.ExpectBegin()
	mock.ExpectExec(`UPDATE users SET email_verified_at = NOW\(\)`).
		WithArgs("ann@example.com").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(`DELETE FROM verification_tokens WHERE token = \$1`).
		WithArgs("tok-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.ConsumeVerificationToken(context.Background(),
		&models.VerificationToken{Token: "tok-1", Identifier: "ann@example.com"})
	if err != nil {
		t.Fatalf("ConsumeVerificationToken: %v", err)
	}
	assertExpectations(t, mock)
}

func TestDeleteExpiredVerificationTokens(t *testing.T) {
	repo, mock := newUserRepo(t)
	now := time.Now()
	mock.ExpectExec(`DELETE FROM verification_tokens WHERE expires_at < \$1`).
		WithArgs(now).
		WillReturnResult(sqlmock.NewResult(0, 4))

	n, err := repo.DeleteExpiredVerificationTokens(context.Background(), now)
	if err != nil || n != 4 {
		t.Fatalf("DeleteExpiredVerificationTokens = %d, %v; want 4", n, err)
	}
}
