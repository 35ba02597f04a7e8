// Package models - audit_log.go defines the append-only AuditLog model.
package models

import (
	"encoding/json"
	"time"
)

// AuditAction is the kind of mutation an audit entry records
type AuditAction string

const (
	AuditCreate AuditAction = "CREATE"
	AuditUpdate AuditAction = "UPDATE"
	AuditDelete AuditAction = "DELETE"
)

// Entity type tags stored in audit_logs.entity_type.
const (
	EntityCompany      = "Company"
	EntityContact      = "Contact"
	EntityDeal         = "Deal"
	EntityActivity     = "Activity"
	EntityNote         = "Note"
	EntityFile         = "File"
	EntityPipeline     = "Pipeline"
	EntityStage        = "Stage"
	EntityMembership   = "Membership"
	EntityOrganization = "Organization"
)

// AuditLog represents one recorded mutation. Changes holds the JSON-encoded
// field diff: {"field": {"before": ..., "after": ...}}.
type AuditLog struct {
	ID             string          `db:"id" json:"id"`
	OrganizationID string          `db:"organization_id" json:"organizationId"`
	UserID         *string         `db:"user_id" json:"userId"`
	Action         AuditAction     `db:"action" json:"action"`
	EntityType     string          `db:"entity_type" json:"entityType"`
	EntityID       string          `db:"entity_id" json:"entityId"`
	Changes        json.RawMessage `db:"changes" json:"changes"`
	CreatedAt      time.Time       `db:"created_at" json:"createdAt"`
}

// AuditLogWithUser is an audit entry joined with its actor for listings.
// User is nil for system-initiated entries.
type AuditLogWithUser struct {
	AuditLog
	User *UserSummary `json:"user"`
}

// AuditFilter narrows an audit listing.
type AuditFilter struct {
	EntityType string
	EntityID   string
	Action     string
	Limit      int
	Offset     int
}
