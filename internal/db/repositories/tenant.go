// tenant.go implements the tenant-bound accessor. Scoped repositories are only
// reachable through a Scope, and a Scope is only built from a membership, so
// every statement they issue carries that membership's organization_id.
package repositories

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/crm-platform/crm/internal/db/models"
)

// TenantStore hands out organization-scoped repository sets
type TenantStore struct {
	db *sqlx.DB
}

// NewTenantStore creates a new tenant store
func NewTenantStore(db *sqlx.DB) *TenantStore {
	return &TenantStore{db: db}
}

// Scope returns repositories bound to the membership's organization that run
// outside a transaction. m must not be nil.
func (s *TenantStore) Scope(m *models.Membership) *Scope {
	if m == nil {
		panic("repositories: Scope requires a membership")
	}
	return &Scope{q: s.db, orgID: m.OrganizationID}
}

// WithinTx runs fn with a transactional Scope. The transaction commits when fn
// returns nil and rolls back otherwise; hooks registered with AfterCommit run
// only after a successful commit.
func (s *TenantStore) WithinTx(ctx context.Context, m *models.Membership, fn func(*Scope) error) error {
	if m == nil {
		panic("repositories: WithinTx requires a membership")
	}
	tx, err := s.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback() //nolint:errcheck // no-op after commit

	scope := &Scope{q: tx, orgID: m.OrganizationID, inTx: true}
	if err := fn(scope); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit transaction: %w", err)
	}
	for _, hook := range scope.afterCommit {
		hook()
	}
	return nil
}

// Scope is a set of repositories bound to one organization
type Scope struct {
	q           dbtx
	orgID       string
	inTx        bool
	afterCommit []func()
}

// OrganizationID is the tenant every query of this scope is filtered by.
func (s *Scope) OrganizationID() string { return s.orgID }

// AfterCommit defers fn until the surrounding transaction commits. Outside a
// transaction fn runs immediately.
func (s *Scope) AfterCommit(fn func()) {
	if !s.inTx {
		fn()
		return
	}
	s.afterCommit = append(s.afterCommit, fn)
}

func (s *Scope) Companies() *CompanyRepository   { return &CompanyRepository{q: s.q, orgID: s.orgID} }
func (s *Scope) Contacts() *ContactRepository    { return &ContactRepository{q: s.q, orgID: s.orgID} }
func (s *Scope) Deals() *DealRepository          { return &DealRepository{q: s.q, orgID: s.orgID} }
func (s *Scope) Activities() *ActivityRepository { return &ActivityRepository{q: s.q, orgID: s.orgID} }
func (s *Scope) Notes() *NoteRepository          { return &NoteRepository{q: s.q, orgID: s.orgID} }
func (s *Scope) Files() *FileRepository          { return &FileRepository{q: s.q, orgID: s.orgID} }
func (s *Scope) Pipelines() *PipelineRepository  { return &PipelineRepository{q: s.q, orgID: s.orgID} }
func (s *Scope) Memberships() *MembershipRepository {
	return &MembershipRepository{q: s.q, orgID: s.orgID}
}
func (s *Scope) Organization() *TenantOrganizationRepository {
	return &TenantOrganizationRepository{q: s.q, orgID: s.orgID}
}
func (s *Scope) AuditLogs() *AuditRepository { return &AuditRepository{q: s.q, orgID: s.orgID} }
func (s *Scope) Search() *SearchRepository   { return &SearchRepository{q: s.q, orgID: s.orgID} }
func (s *Scope) Reports() *ReportRepository  { return &ReportRepository{q: s.q, orgID: s.orgID} }
