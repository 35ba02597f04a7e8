package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/crm-platform/crm/internal/db/models"
	"github.com/crm-platform/crm/internal/db/repositories"
	"github.com/crm-platform/crm/internal/safego"
	"github.com/crm-platform/crm/internal/telemetry"
)

const shipTimeout = 10 * time.Second

// Entry describes one mutation to record. Before is nil for CREATE and After
// is nil for DELETE. ActorID is nil for system-initiated changes.
type Entry struct {
	ActorID    *string
	Action     models.AuditAction
	EntityType string
	EntityID   string
	Before     any
	After      any
}

// Recorder writes audit rows through a tenant scope.
type Recorder struct {
	shipper Shipper
}

// NewRecorder creates a recorder. shipper may be nil.
func NewRecorder(shipper Shipper) *Recorder {
	return &Recorder{shipper: shipper}
}

// Record diffs the entry's snapshots and appends the audit row through scope.
// Inside WithinTx the row commits or rolls back together with the mutation,
// and any error here aborts that transaction. Shipping and metrics happen only
// once the transaction has committed.
func (r *Recorder) Record(ctx context.Context, scope *repositories.Scope, e Entry) error {
	before, err := Capture(e.Before)
	if err != nil {
		return err
	}
	after, err := Capture(e.After)
	if err != nil {
		return err
	}

	changes, err := json.Marshal(Diff(before, after))
	if err != nil {
		return fmt.Errorf("failed to encode audit changes: %w", err)
	}

	entry := &models.AuditLog{
		UserID:     e.ActorID,
		Action:     e.Action,
		EntityType: e.EntityType,
		EntityID:   e.EntityID,
		Changes:    changes,
	}
	if err := scope.AuditLogs().Create(ctx, entry); err != nil {
		return fmt.Errorf("failed to record %s %s: %w", e.Action, e.EntityType, err)
	}

	scope.AfterCommit(func() {
		telemetry.AuditEntriesTotal.WithLabelValues(entry.EntityType, string(entry.Action)).Inc()
		slog.Debug("audit entry committed",
			"audit_id", entry.ID,
			"organization_id", entry.OrganizationID,
			"entity_type", entry.EntityType,
			"entity_id", entry.EntityID,
			"action", entry.Action,
		)
		if r.shipper == nil {
			return
		}
		safego.Go("audit-ship", func() {
			shipCtx, cancel := context.WithTimeout(context.Background(), shipTimeout)
			defer cancel()
			_ = r.shipper.Ship(shipCtx, entry)
		})
	})
	return nil
}
