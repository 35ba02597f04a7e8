// Package models - note.go defines free-text notes
package models

import "time"

// Note is free text attached to a deal or contact
type Note struct {
	ID             string    `db:"id" json:"id"`
	OrganizationID string    `db:"organization_id" json:"organizationId"`
	AuthorID       *string   `db:"author_id" json:"authorId"`
	DealID         *string   `db:"deal_id" json:"dealId"`
	ContactID      *string   `db:"contact_id" json:"contactId"`
	Body           string    `db:"body" json:"body"`
	Version        int       `db:"version" json:"version"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time `db:"updated_at" json:"updatedAt"`
}
