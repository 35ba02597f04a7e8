// Package models - company.go defines the Company model
package models

import "time"

// Company represents an account the organization sells to
type Company struct {
	ID             string    `db:"id" json:"id"`
	OrganizationID string    `db:"organization_id" json:"organizationId"`
	OwnerID        *string   `db:"owner_id" json:"ownerId"`
	Name           string    `db:"name" json:"name"`
	Domain         *string   `db:"domain" json:"domain"`
	Phone          *string   `db:"phone" json:"phone"`
	Website        *string   `db:"website" json:"website"`
	Version        int       `db:"version" json:"version"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time `db:"updated_at" json:"updatedAt"`
}
