package models

import "time"

// Sync run statuses
const (
	SyncStatusIdle       = "idle"
	SyncStatusRunning    = "running"
	SyncStatusSuccess    = "success"
	SyncStatusWithErrors = "success_with_errors"
	SyncStatusFailed     = "failed"
	SyncStatusNeverRun   = "never_run"
)

// SyncRun records one synchronization run for a logical job. There is at
// most one document per job key; it is overwritten on every run.
type SyncRun struct {
	JobKey          string     `bson:"_id" json:"job_key"`
	Status          string     `bson:"status" json:"status"`
	StartedAt       time.Time  `bson:"started_at" json:"started_at"`
	FinishedAt      *time.Time `bson:"finished_at,omitempty" json:"finished_at,omitempty"`
	Total           int        `bson:"total" json:"total"`
	Inserted        int        `bson:"inserted" json:"inserted"`
	Updated         int        `bson:"updated" json:"updated"`
	Errors          int        `bson:"errors" json:"errors"`
	LastTradeDate   string     `bson:"last_trade_date,omitempty" json:"last_trade_date,omitempty"`
	DataSourcesUsed []string   `bson:"data_sources_used,omitempty" json:"data_sources_used,omitempty"`
	Message         string     `bson:"message,omitempty" json:"message,omitempty"`
}

// NeverRun returns the placeholder status for a job that has no history.
func NeverRun(jobKey string) *SyncRun {
	return &SyncRun{JobKey: jobKey, Status: SyncStatusNeverRun}
}
