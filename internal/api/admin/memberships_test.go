package admin

import (
	"context"
	"net/http"
	"testing"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/crm-platform/crm/internal/db/models"
)

const (
	memberID  = "aa000000-0000-4000-8000-000000000001"
	inviteeID = "bb000000-0000-4000-8000-000000000001"
)

var membershipColumns = []string{"id", "organization_id", "user_id", "role", "created_at", "updated_at"}

var userColumns = []string{"id", "email", "name", "password_hash", "image", "email_verified_at", "created_at", "updated_at"}

type fakeInviter struct{ sent []string }

func (f *fakeInviter) SendInvitation(_ context.Context, to, orgName string) error {
	f.sent = append(f.sent, to+"|"+orgName)
	return nil
}

func newMembershipEnv(t *testing.T, role models.Role, inviter *fakeInviter) *testEnv {
	env := newTestEnv(t, role)
	h := NewMembershipHandlers(env.store, env.recorder, inviter)
	env.mount(http.MethodGet, "/memberships", ownerOnly, h.ListMembershipsHandler())
	env.mount(http.MethodPost, "/memberships", ownerOnly, h.InviteMemberHandler())
	env.mount(http.MethodPatch, "/memberships/:id", ownerOnly, h.UpdateMembershipHandler())
	env.mount(http.MethodDelete, "/memberships/:id", ownerOnly, h.DeleteMembershipHandler())
	return env
}

func (e *testEnv) expectOrganization() {
	e.mock.ExpectQuery(`SELECT \* FROM organizations WHERE id = \$1`).
		WithArgs(orgID).
		WillReturnRows(sqlmock.NewRows(orgColumns).AddRow(orgID, "Acme", "acme", createdTime, createdTime))
}

func (e *testEnv) expectUserLookup(email string, found bool) {
	rows := sqlmock.NewRows(userColumns)
	if found {
		rows.AddRow(inviteeID, email, nil, nil, nil, nil, createdTime, createdTime)
	}
	e.mock.ExpectQuery(`SELECT \* FROM users WHERE LOWER\(email\) = LOWER\(\$1\)`).
		WithArgs(email).
		WillReturnRows(rows)
}

func (e *testEnv) expectUserInsert(email string, inserted bool) {
	rows := sqlmock.NewRows(userColumns)
	if inserted {
		rows.AddRow(inviteeID, email, nil, nil, nil, nil, createdTime, createdTime)
	}
	e.mock.ExpectQuery(`INSERT INTO users \(id, email\) VALUES \(\$1, \$2\) ON CONFLICT DO NOTHING RETURNING \*`).
		WithArgs(sqlmock.AnyArg(), email).
		WillReturnRows(rows)
}

func (e *testEnv) expectOwners(n int) {
	rows := sqlmock.NewRows([]string{"id"})
	for i := 0; i < n; i++ {
		rows.AddRow("owner-" + string(rune('a'+i)))
	}
	e.mock.ExpectQuery(`SELECT id FROM memberships WHERE organization_id = \$1 AND role = \$2 ORDER BY id FOR UPDATE`).
		WithArgs(orgID, "OWNER").
		WillReturnRows(rows)
}

func (e *testEnv) expectMember(role models.Role) {
	e.mock.ExpectQuery(`SELECT \* FROM memberships WHERE id = \$1 AND organization_id = \$2 FOR UPDATE`).
		WithArgs(memberID, orgID).
		WillReturnRows(sqlmock.NewRows(membershipColumns).AddRow(memberID, orgID, inviteeID, string(role), createdTime, createdTime))
}

func TestInviteMember_CreatesUserAndSendsInvitation(t *testing.T) {
	inviter := &fakeInviter{}
	env := newMembershipEnv(t, models.RoleOwner, inviter)

	env.mock.ExpectBegin()
	env.expectOrganization()
	env.expectUserLookup("new.hire@example.com", false)
	env.expectUserInsert("new.hire@example.com", true)
	env.mock.ExpectQuery(`INSERT INTO memberships`).
		WithArgs(sqlmock.AnyArg(), orgID, inviteeID, "ADMIN").
		WillReturnRows(sqlmock.NewRows(membershipColumns).AddRow(memberID, orgID, inviteeID, "ADMIN", createdTime, createdTime))
	env.expectAudit(models.AuditCreate, models.EntityMembership)
	env.mock.ExpectCommit()

	w := env.do(t, http.MethodPost, "/memberships", `{"email":"New.Hire@Example.com","role":"ADMIN"}`)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, []string{"new.hire@example.com|Acme"}, inviter.sent)
}

func TestInviteMember_AlreadyMember(t *testing.T) {
	inviter := &fakeInviter{}
	env := newMembershipEnv(t, models.RoleOwner, inviter)

	env.mock.ExpectBegin()
	env.expectOrganization()
	env.expectUserLookup("rep@example.com", true)
	env.mock.ExpectQuery(`INSERT INTO memberships`).
		WithArgs(sqlmock.AnyArg(), orgID, inviteeID, "REP").
		WillReturnError(&pq.Error{Code: "23505"})
	env.mock.ExpectRollback()

	w := env.do(t, http.MethodPost, "/memberships", `{"email":"rep@example.com","role":"REP"}`)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"error":"Already a member"}`, w.Body.String())
	assert.Empty(t, inviter.sent)
}

// The user insert sits between BEGIN and ROLLBACK, so a failed invitation
// does not leave an orphan user.
func TestInviteMember_FailureRollsBackCreatedUser(t *testing.T) {
	inviter := &fakeInviter{}
	env := newMembershipEnv(t, models.RoleOwner, inviter)

	env.mock.ExpectBegin()
	env.expectOrganization()
	env.expectUserLookup("new.hire@example.com", false)
	env.expectUserInsert("new.hire@example.com", true)
	env.mock.ExpectQuery(`INSERT INTO memberships`).
		WillReturnRows(sqlmock.NewRows(membershipColumns).AddRow(memberID, orgID, inviteeID, "REP", createdTime, createdTime))
	env.mock.ExpectQuery(`INSERT INTO audit_logs`).WillReturnError(assert.AnError)
	env.mock.ExpectRollback()

	w := env.do(t, http.MethodPost, "/memberships", `{"email":"new.hire@example.com","role":"REP"}`)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Empty(t, inviter.sent)
}

func TestInviteMember_ConcurrentRegistrationIsReread(t *testing.T) {
	inviter := &fakeInviter{}
	env := newMembershipEnv(t, models.RoleOwner, inviter)

	env.mock.ExpectBegin()
	env.expectOrganization()
	env.expectUserLookup("new.hire@example.com", false)
	env.expectUserInsert("new.hire@example.com", false)
	env.expectUserLookup("new.hire@example.com", true)
	env.mock.ExpectQuery(`INSERT INTO memberships`).
		WithArgs(sqlmock.AnyArg(), orgID, inviteeID, "REP").
		WillReturnRows(sqlmock.NewRows(membershipColumns).AddRow(memberID, orgID, inviteeID, "REP", createdTime, createdTime))
	env.expectAudit(models.AuditCreate, models.EntityMembership)
	env.mock.ExpectCommit()

	w := env.do(t, http.MethodPost, "/memberships", `{"email":"new.hire@example.com","role":"REP"}`)

	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	assert.Equal(t, []string{"new.hire@example.com|Acme"}, inviter.sent)
}

func TestInviteMember_InvalidRole(t *testing.T) {
	env := newMembershipEnv(t, models.RoleOwner, &fakeInviter{})

	w := env.do(t, http.MethodPost, "/memberships", `{"email":"rep@example.com","role":"GOD"}`)

	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
}

func TestUpdateMembership_LastOwnerCannotBeDemoted(t *testing.T) {
	env := newMembershipEnv(t, models.RoleOwner, &fakeInviter{})

	env.mock.ExpectBegin()
	env.expectOwners(1)
	env.expectMember(models.RoleOwner)
	env.mock.ExpectRollback()

	w := env.do(t, http.MethodPatch, "/memberships/"+memberID, `{"role":"ADMIN"}`)

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestUpdateMembership_DemotesOneOfTwoOwners(t *testing.T) {
	env := newMembershipEnv(t, models.RoleOwner, &fakeInviter{})

	env.mock.ExpectBegin()
	env.expectOwners(2)
	env.expectMember(models.RoleOwner)
	env.mock.ExpectQuery(`UPDATE memberships SET role = \$3`).
		WithArgs(memberID, orgID, "ADMIN").
		WillReturnRows(sqlmock.NewRows(membershipColumns).AddRow(memberID, orgID, inviteeID, "ADMIN", createdTime, createdTime))
	env.expectAudit(models.AuditUpdate, models.EntityMembership)
	env.mock.ExpectCommit()

	w := env.do(t, http.MethodPatch, "/memberships/"+memberID, `{"role":"ADMIN"}`)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"role":"ADMIN"`)
}

func TestDeleteMembership_LastOwnerCannotBeRemoved(t *testing.T) {
	env := newMembershipEnv(t, models.RoleOwner, &fakeInviter{})

	env.mock.ExpectBegin()
	env.expectOwners(1)
	env.expectMember(models.RoleOwner)
	env.mock.ExpectRollback()

	w := env.do(t, http.MethodDelete, "/memberships/"+memberID, "")

	assert.Equal(t, http.StatusConflict, w.Code)
}

func TestDeleteMembership_Rep(t *testing.T) {
	env := newMembershipEnv(t, models.RoleOwner, &fakeInviter{})

	env.mock.ExpectBegin()
	env.expectOwners(1)
	env.expectMember(models.RoleRep)
	env.mock.ExpectExec(`DELETE FROM memberships WHERE id = \$1 AND organization_id = \$2`).
		WithArgs(memberID, orgID).
		WillReturnResult(sqlmock.NewResult(0, 1))
	env.expectAudit(models.AuditDelete, models.EntityMembership)
	env.mock.ExpectCommit()

	w := env.do(t, http.MethodDelete, "/memberships/"+memberID, "")

	assert.Equal(t, http.StatusNoContent, w.Code)
}

func TestListMemberships_AdminForbidden(t *testing.T) {
	env := newMembershipEnv(t, models.RoleAdmin, &fakeInviter{})

	w := env.do(t, http.MethodGet, "/memberships", "")

	assert.Equal(t, http.StatusForbidden, w.Code)
}
