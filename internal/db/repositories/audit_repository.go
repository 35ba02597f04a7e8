// audit_repository.go implements AuditRepository, the append-only audit log of
// one organization. There is no update or delete.
package repositories

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/crm-platform/crm/internal/db/models"
)

// AuditRepository handles database operations for audit logs of one organization
type AuditRepository struct {
	q     dbtx
	orgID string
}

// Create appends an audit entry
func (r *AuditRepository) Create(ctx context.Context, log *models.AuditLog) error {
	log.ID = uuid.New().String()
	log.OrganizationID = r.orgID
	changes := log.Changes
	if len(changes) == 0 {
		changes = []byte("{}")
	}

	query := `
		INSERT INTO audit_logs (id, organization_id, user_id, action, entity_type, entity_id, changes)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		RETURNING created_at`
	err := r.q.QueryRowxContext(ctx, query,
		log.ID, log.OrganizationID, log.UserID, log.Action, log.EntityType, log.EntityID, []byte(changes),
	).Scan(&log.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create audit log: %w", err)
	}
	return nil
}

// auditRow is an audit entry flattened with its actor's columns.
type auditRow struct {
	models.AuditLog
	UserEmail *string `db:"user_email"`
	UserName  *string `db:"user_name"`
}

// List returns one page of audit entries, newest first, and the total match count.
func (r *AuditRepository) List(ctx context.Context, f models.AuditFilter) ([]models.AuditLogWithUser, int, error) {
	conds := &conditions{}
	conds.add("a.organization_id = $%d", r.orgID)
	conds.addOptional("a.entity_type = $%d", f.EntityType)
	conds.addOptional("a.entity_id = $%d", f.EntityID)
	conds.addOptional("a.action = $%d", f.Action)

	var total int
	if err := r.q.GetContext(ctx, &total, `SELECT COUNT(*) FROM audit_logs a`+conds.where(), conds.args...); err != nil {
		return nil, 0, fmt.Errorf("failed to count audit logs: %w", err)
	}

	query := fmt.Sprintf(`
		SELECT a.*, u.email AS user_email, u.name AS user_name
		FROM audit_logs a
		LEFT JOIN users u ON u.id = a.user_id%s
		ORDER BY a.created_at DESC, a.id
		LIMIT $%d OFFSET $%d`, conds.where(), conds.next(), conds.next()+1)

	var rows []auditRow
	if err := r.q.SelectContext(ctx, &rows, query, append(conds.args, f.Limit, f.Offset)...); err != nil {
		return nil, 0, fmt.Errorf("failed to list audit logs: %w", err)
	}

	out := make([]models.AuditLogWithUser, 0, len(rows))
	for _, row := range rows {
		entry := models.AuditLogWithUser{AuditLog: row.AuditLog}
		if row.UserID != nil && row.UserEmail != nil {
			entry.User = &models.UserSummary{ID: *row.UserID, Email: *row.UserEmail, Name: row.UserName}
		}
		out = append(out, entry)
	}
	return out, total, nil
}
