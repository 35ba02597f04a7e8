// Package models - pipeline.go defines pipelines and their ordered stages.
package models

import "time"

// Pipeline groups the stages a deal moves through
type Pipeline struct {
	ID             string    `db:"id" json:"id"`
	OrganizationID string    `db:"organization_id" json:"organizationId"`
	Name           string    `db:"name" json:"name"`
	Version        int       `db:"version" json:"version"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time `db:"updated_at" json:"updatedAt"`
}

// Stage is one step of a pipeline. Order is the display position.
type Stage struct {
	ID             string    `db:"id" json:"id"`
	OrganizationID string    `db:"organization_id" json:"organizationId"`
	PipelineID     string    `db:"pipeline_id" json:"pipelineId"`
	Name           string    `db:"name" json:"name"`
	Order          int       `db:"position" json:"order"`
	Version        int       `db:"version" json:"version"`
	CreatedAt      time.Time `db:"created_at" json:"createdAt"`
	UpdatedAt      time.Time `db:"updated_at" json:"updatedAt"`
}

// PipelineWithStages is a pipeline and its stages sorted by Order.
type PipelineWithStages struct {
	Pipeline
	Stages []Stage `json:"stages"`
}

// DefaultStages are provisioned with every new organization's pipeline.
var DefaultStages = []string{"Lead", "Qualified", "Proposal", "Negotiation", "Closed Won", "Closed Lost"}

// DefaultPipelineName names the pipeline created at registration.
const DefaultPipelineName = "Default"
