package models

import "time"

// APIQuotaUsage tracks one day of upstream API quota consumption.
type APIQuotaUsage struct {
	ID              int64            `db:"id" json:"id"`
	Date            time.Time        `db:"date" json:"date"`
	QuotaUsed       int              `db:"quota_used" json:"quota_used"`
	QuotaLimit      int              `db:"quota_limit" json:"quota_limit"`
	OperationsCount int              `db:"operations_count" json:"operations_count"`
	Operations      map[string]int64 `db:"operations" json:"operations"`
	CreatedAt       time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt       time.Time        `db:"updated_at" json:"updated_at"`
}

// QuotaInfo is the current day's quota status.
type QuotaInfo struct {
	QuotaUsed       int `json:"quota_used"`
	QuotaLimit      int `json:"quota_limit"`
	QuotaRemaining  int `json:"quota_remaining"`
	OperationsCount int `json:"operations_count"`
}
