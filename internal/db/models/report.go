// Package models - report.go defines search hits and report rows.
package models

import "time"

// SearchResult is one full-text match across companies, contacts and deals.
type SearchResult struct {
	Type  string `db:"type" json:"type"`
	ID    string `db:"id" json:"id"`
	Label string `db:"label" json:"label"`
}

// StageValue is the open pipeline value held in one stage, in currency units.
type StageValue struct {
	Stage      string  `db:"stage" json:"stage"`
	ValueCents int64   `db:"value_cents" json:"-"`
	Value      float64 `db:"-" json:"value"`
}

// OwnerWinRate counts closed deals per owner. WinRate is a percentage.
type OwnerWinRate struct {
	OwnerID *string `db:"owner_id" json:"-"`
	Owner   string  `db:"owner" json:"owner"`
	Won     int     `db:"won" json:"won"`
	Lost    int     `db:"lost" json:"lost"`
	WinRate float64 `db:"-" json:"winRate"`
}

// DealCycle is the number of whole days between creation and close of a won deal.
type DealCycle struct {
	Deal      string     `db:"title" json:"deal"`
	Owner     string     `db:"owner" json:"owner"`
	CreatedAt time.Time  `db:"created_at" json:"-"`
	CloseDate *time.Time `db:"close_date" json:"-"`
	Days      int        `db:"-" json:"days"`
}

// CycleTimeReport lists won deal cycles and their mean length in days.
type CycleTimeReport struct {
	Deals   []DealCycle `json:"deals"`
	Average float64     `json:"average"`
}
