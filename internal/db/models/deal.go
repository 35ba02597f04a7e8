// Package models - deal.go defines the Deal model and its status values.
package models

import "time"

// DealStatus is the lifecycle state of a deal
type DealStatus string

const (
	DealStatusOpen DealStatus = "OPEN"
	DealStatusWon  DealStatus = "WON"
	DealStatusLost DealStatus = "LOST"
)

// DefaultCurrency applies when a deal is created without one.
const DefaultCurrency = "USD"

// Deal represents an opportunity moving through a pipeline
type Deal struct {
	ID             string     `db:"id" json:"id"`
	OrganizationID string     `db:"organization_id" json:"organizationId"`
	OwnerID        *string    `db:"owner_id" json:"ownerId"`
	CompanyID      *string    `db:"company_id" json:"companyId"`
	ContactID      *string    `db:"contact_id" json:"contactId"`
	PipelineID     string     `db:"pipeline_id" json:"pipelineId"`
	StageID        string     `db:"stage_id" json:"stageId"`
	Title          string     `db:"title" json:"title"`
	ValueCents     int64      `db:"value_cents" json:"valueCents"`
	Currency       string     `db:"currency" json:"currency"`
	Status         DealStatus `db:"status" json:"status"`
	CloseDate      *time.Time `db:"close_date" json:"closeDate"`
	Version        int        `db:"version" json:"version"`
	CreatedAt      time.Time  `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updatedAt"`
}

// DealDetail is a deal with its related records resolved for the detail view.
type DealDetail struct {
	Deal
	Company *Company     `json:"company"`
	Contact *Contact     `json:"contact"`
	Owner   *UserSummary `json:"owner"`
	Stage   *Stage       `json:"stage"`
}
