package models

import (
	"encoding/json"
	"time"
)

// JobStatus represents the status of a refresh job
type JobStatus string

const (
	JobStatusFetching   JobStatus = "fetching"
	JobStatusUpdatingDb JobStatus = "updating_db"
	JobStatusSuccess    JobStatus = "success"
	JobStatusFailed     JobStatus = "failed"
)

// IsTerminal reports whether the status admits no further transitions.
func (s JobStatus) IsTerminal() bool {
	return s == JobStatusSuccess || s == JobStatusFailed
}

// Job tracks one attempt to refresh listings from the upstream feed.
// The row is the only synchronization point between the triggering request
// and the background reconciliation pass.
type Job struct {
	ID        string          `json:"id" db:"id"`
	Status    JobStatus       `json:"status" db:"status"`
	Payload   json.RawMessage `json:"payload,omitempty" db:"payload"`
	Result    *string         `json:"result,omitempty" db:"result"`
	Error     *string         `json:"error,omitempty" db:"error"`
	CreatedAt time.Time       `json:"created_at" db:"created_at"`
	UpdatedAt time.Time       `json:"updated_at" db:"updated_at"`
}

// TableName returns the database table name
func (Job) TableName() string {
	return "jobs"
}
