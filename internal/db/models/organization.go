// Package models - organization.go defines the Organization model, the tenant
// boundary that owns every scoped CRM record.
package models

import "time"

// Organization represents a tenant
type Organization struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Slug      string    `db:"slug" json:"slug"`
	CreatedAt time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt time.Time `db:"updated_at" json:"updatedAt"`
}
