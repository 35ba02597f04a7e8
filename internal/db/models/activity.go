// Package models - activity.go defines activities: calls, emails, meetings and tasks.
package models

import "time"

// ActivityType enumerates the kinds of logged activity
type ActivityType string

const (
	ActivityCall    ActivityType = "CALL"
	ActivityEmail   ActivityType = "EMAIL"
	ActivityMeeting ActivityType = "MEETING"
	ActivityTask    ActivityType = "TASK"
)

// Activity is a logged interaction or a task tied to a deal or contact
type Activity struct {
	ID             string       `db:"id" json:"id"`
	OrganizationID string       `db:"organization_id" json:"organizationId"`
	OwnerID        *string      `db:"owner_id" json:"ownerId"`
	DealID         *string      `db:"deal_id" json:"dealId"`
	ContactID      *string      `db:"contact_id" json:"contactId"`
	Type           ActivityType `db:"type" json:"type"`
	Title          string       `db:"title" json:"title"`
	Note           *string      `db:"note" json:"note"`
	DueAt          *time.Time   `db:"due_at" json:"dueAt"`
	CompletedAt    *time.Time   `db:"completed_at" json:"completedAt"`
	Version        int          `db:"version" json:"version"`
	CreatedAt      time.Time    `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time    `db:"updated_at" json:"updatedAt"`
}
