// Package models - file.go defines uploaded file attachments. Files are
// immutable once stored: they are created and deleted, never updated.
package models

import "time"

// File is the metadata of an attachment held by a storage backend
type File struct {
	ID             string    `db:"id" json:"id"`
	OrganizationID string    `db:"organization_id" json:"organizationId"`
	OwnerID        *string   `db:"owner_id" json:"ownerId"`
	DealID         *string   `db:"deal_id" json:"dealId"`
	ContactID      *string   `db:"contact_id" json:"contactId"`
	Filename       string    `db:"filename" json:"filename"`
	Bucket         string    `db:"bucket" json:"bucket"`
	StorageKey     string    `db:"storage_key" json:"key"`
	MIME           string    `db:"mime" json:"mime"`
	Size           int64     `db:"size" json:"size"`
	ChecksumSHA256 string    `db:"checksum_sha256" json:"checksumSha256"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
}
